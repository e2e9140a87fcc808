package sandbox_test

import (
	"context"
	"net"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/apache/arrow/go/v10/arrow/memory"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"

	"github.com/arrowship/arrowship/internal/arrowtest"
	"github.com/arrowship/arrowship/internal/sandbox"
	"github.com/arrowship/arrowship/pkg/auth"
	"github.com/arrowship/arrowship/pkg/config"
	"github.com/arrowship/arrowship/pkg/engine"
	"github.com/arrowship/arrowship/pkg/ingesterr"
	"github.com/arrowship/arrowship/pkg/transport"
)

const (
	clientID     = "ingest-client"
	clientSecret = "s3cret"
	table        = "main.events"
)

func baseConfig(endpoint, catalog string) config.Config {
	c := config.Defaults()
	c.Endpoint = endpoint
	c.CatalogURL = catalog
	c.Table = table
	c.Credentials = config.Credentials{ClientID: clientID, ClientSecret: clientSecret}
	c.Retry.BaseDelay = time.Millisecond
	c.Retry.MaxDelay = 4 * time.Millisecond
	return *c
}

// httpEngine starts svc behind a TLS server and returns an engine sending to it.
func httpEngine(t *testing.T, svc *sandbox.Service, mutate func(*config.Config)) *engine.Engine {
	t.Helper()
	ts := httptest.NewTLSServer(svc.Handler())
	t.Cleanup(ts.Close)

	cfg := baseConfig(ts.URL, ts.URL)
	if mutate != nil {
		mutate(&cfg)
	}
	mgr, err := auth.NewManager(cfg, auth.WithHTTPClient(ts.Client()))
	require.NoError(t, err)
	tr, err := transport.NewHTTP(cfg, transport.WithHTTPClient(ts.Client()))
	require.NoError(t, err)

	e, err := engine.New(cfg, engine.WithAuth(mgr), engine.WithTransport(tr))
	require.NoError(t, err)
	t.Cleanup(func() { _ = e.Shutdown() })
	return e
}

func newService(rules ...sandbox.Rule) *sandbox.Service {
	return sandbox.New(sandbox.Options{ClientID: clientID, ClientSecret: clientSecret, Rules: rules})
}

// --- HTTP ---

func TestHTTP_PartialSuccessAndQuarantine(t *testing.T) {
	svc := newService(sandbox.Rule{Column: "name", Equals: "row-2", Kind: ingesterr.KindConversion})
	e := httpEngine(t, svc, nil)

	mem := memory.NewCheckedAllocator(memory.NewGoAllocator())
	defer mem.AssertSize(t, 0)
	rec := arrowtest.Record(mem, 5)
	defer rec.Release()

	res, err := e.Send(context.Background(), rec)
	require.NoError(t, err)
	assert.True(t, res.Success())
	assert.True(t, res.IsPartialSuccess())
	assert.Equal(t, []int{2}, res.FailedRowIndicesByKind(ingesterr.KindConversion))
	assert.Equal(t, 4, svc.Store().Count(table))
	assert.Equal(t, 1, svc.Issuer().Issued())

	failed, err := res.ExtractFailedBatchWith(mem, rec)
	require.NoError(t, err)
	defer failed.Release()
	assert.Equal(t, []string{"row-2"}, arrowtest.Names(failed))

	ok, err := res.ExtractSuccessfulBatchWith(mem, rec)
	require.NoError(t, err)
	defer ok.Release()
	assert.Equal(t, int64(4), ok.NumRows())
}

func TestHTTP_RetriesInjectedFaults(t *testing.T) {
	svc := newService()
	svc.Faults().Repeat(2, sandbox.Fault{Status: http.StatusServiceUnavailable})
	e := httpEngine(t, svc, nil)

	rec := arrowtest.Record(memory.DefaultAllocator, 3)
	defer rec.Release()

	res, err := e.Send(context.Background(), rec)
	require.NoError(t, err)
	assert.Equal(t, 3, res.Attempts())
	assert.Equal(t, 3, svc.Store().Count(table))
	assert.Zero(t, svc.Faults().Pending())
}

func TestHTTP_PermanentFaultIsNotRetried(t *testing.T) {
	svc := newService()
	svc.Faults().Push(sandbox.Fault{Status: http.StatusBadRequest, Message: "schema mismatch"})
	e := httpEngine(t, svc, nil)

	rec := arrowtest.Record(memory.DefaultAllocator, 1)
	defer rec.Release()

	res, err := e.Send(context.Background(), rec)
	require.Error(t, err)
	assert.Equal(t, ingesterr.KindTransmission, ingesterr.KindOf(err))
	assert.Contains(t, err.Error(), "schema mismatch")
	assert.Equal(t, 1, res.Attempts())
}

func TestHTTP_RevokedTokenIsRefreshed(t *testing.T) {
	svc := newService()
	e := httpEngine(t, svc, nil)

	rec := arrowtest.Record(memory.DefaultAllocator, 2)
	defer rec.Release()

	_, err := e.Send(context.Background(), rec)
	require.NoError(t, err)

	svc.Issuer().RevokeAll()
	res, err := e.Send(context.Background(), rec)
	require.NoError(t, err)
	assert.Equal(t, 2, res.Attempts())
	assert.Equal(t, 2, svc.Issuer().Issued())
}

func TestHTTP_WrongCredentials(t *testing.T) {
	svc := newService()
	e := httpEngine(t, svc, func(c *config.Config) {
		c.Credentials.ClientSecret = "wrong"
	})

	rec := arrowtest.Record(memory.DefaultAllocator, 1)
	defer rec.Release()

	res, err := e.Send(context.Background(), rec)
	require.Error(t, err)
	assert.Equal(t, ingesterr.KindAuthentication, ingesterr.KindOf(err))
	assert.Equal(t, 1, res.Attempts())
	assert.Zero(t, svc.Store().Count(table))
}

func TestHTTP_CBORWithGzip(t *testing.T) {
	svc := newService()
	e := httpEngine(t, svc, func(c *config.Config) {
		c.Transport.Encoding = config.EncodingCBOR
		c.Transport.Gzip = true
	})

	rec := arrowtest.Record(memory.DefaultAllocator, 4)
	defer rec.Release()

	res, err := e.Send(context.Background(), rec)
	require.NoError(t, err)
	assert.Equal(t, 4, res.SuccessfulCount())

	rows := svc.Store().Rows(table)
	require.Len(t, rows, 4)
	assert.Equal(t, "row-3", rows[3].Values["name"])
}

func TestHTTP_UnauthenticatedRequest(t *testing.T) {
	svc := newService()
	ts := httptest.NewTLSServer(svc.Handler())
	defer ts.Close()

	resp, err := ts.Client().Post(ts.URL+transport.RowsPath(table), transport.ContentTypeJSON, nil)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

// --- gRPC ---

func grpcEngine(t *testing.T, svc *sandbox.Service) *engine.Engine {
	t.Helper()
	tokens := httptest.NewTLSServer(svc.Handler())
	t.Cleanup(tokens.Close)

	lis, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	gs := grpc.NewServer(svc.ServerOptions()...)
	svc.RegisterGRPC(gs)
	go gs.Serve(lis) //nolint:errcheck
	t.Cleanup(gs.Stop)

	cfg := baseConfig("https://"+lis.Addr().String(), tokens.URL)
	cfg.Transport.Kind = config.TransportGRPC
	mgr, err := auth.NewManager(cfg, auth.WithHTTPClient(tokens.Client()))
	require.NoError(t, err)
	tr, err := transport.NewGRPC(cfg,
		transport.WithDialOptions(grpc.WithTransportCredentials(insecure.NewCredentials())))
	require.NoError(t, err)

	e, err := engine.New(cfg, engine.WithAuth(mgr), engine.WithTransport(tr))
	require.NoError(t, err)
	t.Cleanup(func() { _ = e.Shutdown() })
	return e
}

func TestGRPC_PartialSuccess(t *testing.T) {
	svc := newService(sandbox.Rule{Column: "id", Equals: "1"})
	e := grpcEngine(t, svc)

	rec := arrowtest.Record(memory.DefaultAllocator, 3)
	defer rec.Release()

	res, err := e.Send(context.Background(), rec)
	require.NoError(t, err)
	assert.Equal(t, []int{0, 2}, res.SuccessfulRowIndices())
	assert.Equal(t, []int{1}, res.FailedRowIndicesByKind(ingesterr.KindTransmission))
	assert.Equal(t, 2, svc.Store().Count(table))
}

func TestGRPC_RetriesUnavailable(t *testing.T) {
	svc := newService()
	svc.Faults().Push(sandbox.Fault{Status: http.StatusServiceUnavailable})
	e := grpcEngine(t, svc)

	rec := arrowtest.Record(memory.DefaultAllocator, 2)
	defer rec.Release()

	res, err := e.Send(context.Background(), rec)
	require.NoError(t, err)
	assert.Equal(t, 2, res.Attempts())
	assert.Equal(t, 2, svc.Store().Count(table))
}

func TestGRPC_RevokedTokenIsRefreshed(t *testing.T) {
	svc := newService()
	e := grpcEngine(t, svc)

	rec := arrowtest.Record(memory.DefaultAllocator, 1)
	defer rec.Release()

	_, err := e.Send(context.Background(), rec)
	require.NoError(t, err)
	svc.Issuer().RevokeAll()

	res, err := e.Send(context.Background(), rec)
	require.NoError(t, err)
	assert.Equal(t, 2, res.Attempts())
}
