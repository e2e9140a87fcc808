package transport

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/arrowship/arrowship/pkg/config"
	"github.com/arrowship/arrowship/pkg/ingesterr"
)

// --- helpers ---

func testConfig(endpoint string) config.Config {
	c := config.Defaults()
	c.Endpoint = endpoint
	c.Table = "main.events"
	return *c
}

func rows(n int) []Row {
	out := make([]Row, n)
	for i := range out {
		out[i] = Row{Index: i, Values: map[string]any{"id": int64(i), "name": "r"}}
	}
	return out
}

// ingestServer decodes requests and answers with verdict(row) per row.
type ingestServer struct {
	verdict  func(Row) WireRowResult
	status   int
	requests atomic.Int64
	lastAuth atomic.Value
	lastID   atomic.Value
	lastPath atomic.Value
	gzipped  atomic.Bool
}

func (s *ingestServer) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.requests.Add(1)
	s.lastAuth.Store(r.Header.Get("Authorization"))
	s.lastID.Store(r.Header.Get("X-Request-Id"))
	s.lastPath.Store(r.URL.Path)

	if s.status != 0 && s.status != http.StatusOK {
		http.Error(w, "nope", s.status)
		return
	}

	var body io.Reader = r.Body
	if r.Header.Get("Content-Encoding") == "gzip" {
		s.gzipped.Store(true)
		zr, err := Gunzip(r.Body)
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		defer zr.Close()
		body = zr
	}
	data, err := io.ReadAll(body)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	codec := CodecForContentType(r.Header.Get("Content-Type"))
	var req WireRequest
	if err := codec.Unmarshal(data, &req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	var resp WireResponse
	for _, row := range req.Rows {
		resp.Results = append(resp.Results, s.verdict(row))
	}
	out, _ := codec.Marshal(resp)
	w.Header().Set("Content-Type", codec.ContentType())
	_, _ = w.Write(out)
}

func acceptAll(row Row) WireRowResult { return WireRowResult{Index: row.Index, Accepted: true} }

func newHTTPPair(t *testing.T, srv *ingestServer, mutate func(*config.Config)) *HTTPTransport {
	t.Helper()
	ts := httptest.NewTLSServer(srv)
	t.Cleanup(ts.Close)

	cfg := testConfig(ts.URL)
	if mutate != nil {
		mutate(&cfg)
	}
	tr, err := NewHTTP(cfg, WithHTTPClient(ts.Client()))
	require.NoError(t, err)
	t.Cleanup(func() { _ = tr.Close() })
	return tr
}

// --- tests ---

func TestHTTP_AllAccepted(t *testing.T) {
	srv := &ingestServer{verdict: acceptAll}
	tr := newHTTPPair(t, srv, nil)

	resp, err := tr.Ingest(context.Background(), &Request{
		Table: "main.events", Token: "tok", RequestID: "req-1", Rows: rows(3),
	})
	require.NoError(t, err)
	assert.Equal(t, []int{0, 1, 2}, resp.Accepted)
	assert.Empty(t, resp.Rejected)
	assert.Equal(t, "Bearer tok", srv.lastAuth.Load())
	assert.Equal(t, "req-1", srv.lastID.Load())
	assert.Equal(t, "/v1/tables/main.events/rows", srv.lastPath.Load())
}

func TestHTTP_PartialRejection(t *testing.T) {
	srv := &ingestServer{verdict: func(row Row) WireRowResult {
		if row.Index%2 == 1 {
			return WireRowResult{Index: row.Index, Error: "ConversionError: odd row"}
		}
		return acceptAll(row)
	}}
	tr := newHTTPPair(t, srv, nil)

	resp, err := tr.Ingest(context.Background(), &Request{Table: "t", Rows: rows(4)})
	require.NoError(t, err)
	assert.Equal(t, []int{0, 2}, resp.Accepted)
	require.Len(t, resp.Rejected, 2)
	assert.Equal(t, ingesterr.KindConversion, resp.Rejected[0].Kind)
	assert.Equal(t, "odd row", resp.Rejected[0].Message)
}

func TestHTTP_MissingAcknowledgement(t *testing.T) {
	srv := &ingestServer{verdict: func(row Row) WireRowResult {
		if row.Index == 2 {
			return WireRowResult{Index: 99, Accepted: true}
		}
		return acceptAll(row)
	}}
	tr := newHTTPPair(t, srv, nil)

	resp, err := tr.Ingest(context.Background(), &Request{Table: "t", Rows: rows(3)})
	require.NoError(t, err)
	assert.Equal(t, []int{0, 1}, resp.Accepted)
	require.Len(t, resp.Rejected, 1)
	assert.Equal(t, 2, resp.Rejected[0].Index)
	assert.Equal(t, "TransmissionError: no acknowledgement", resp.Rejected[0].String())
}

func TestHTTP_CBORWithGzip(t *testing.T) {
	srv := &ingestServer{verdict: acceptAll}
	tr := newHTTPPair(t, srv, func(c *config.Config) {
		c.Transport.Encoding = config.EncodingCBOR
		c.Transport.Gzip = true
	})

	resp, err := tr.Ingest(context.Background(), &Request{Table: "t", Rows: rows(5)})
	require.NoError(t, err)
	assert.Len(t, resp.Accepted, 5)
	assert.True(t, srv.gzipped.Load())
}

func TestHTTP_StatusClassification(t *testing.T) {
	tests := []struct {
		status        int
		wantKind      ingesterr.Kind
		wantRetryable bool
	}{
		{http.StatusUnauthorized, ingesterr.KindAuthentication, true},
		{http.StatusForbidden, ingesterr.KindAuthentication, false},
		{http.StatusRequestTimeout, ingesterr.KindConnection, true},
		{http.StatusTooManyRequests, ingesterr.KindConnection, true},
		{http.StatusServiceUnavailable, ingesterr.KindConnection, true},
		{http.StatusBadRequest, ingesterr.KindTransmission, false},
		{http.StatusRequestEntityTooLarge, ingesterr.KindTransmission, false},
		{http.StatusUnprocessableEntity, ingesterr.KindTransmission, false},
	}
	for _, tc := range tests {
		t.Run(http.StatusText(tc.status), func(t *testing.T) {
			tr := newHTTPPair(t, &ingestServer{status: tc.status, verdict: acceptAll}, nil)
			_, err := tr.Ingest(context.Background(), &Request{Table: "t", Rows: rows(1)})
			require.Error(t, err)

			var e *ingesterr.Error
			require.ErrorAs(t, err, &e)
			assert.Equal(t, tc.wantKind, e.Kind)
			assert.Equal(t, tc.wantRetryable, e.Retryable())
		})
	}
}

func TestHTTP_CustomClassifier(t *testing.T) {
	srv := &ingestServer{status: http.StatusConflict, verdict: acceptAll}
	ts := httptest.NewTLSServer(srv)
	t.Cleanup(ts.Close)

	tr, err := NewHTTP(testConfig(ts.URL), WithHTTPClient(ts.Client()),
		WithStatusClassifier(func(code int, body []byte) *ingesterr.Error {
			return ingesterr.New(ingesterr.KindConnection, "conflict %d", code)
		}))
	require.NoError(t, err)

	_, err = tr.Ingest(context.Background(), &Request{Table: "t", Rows: rows(1)})
	assert.Equal(t, ingesterr.KindConnection, ingesterr.KindOf(err))
}

func TestHTTP_ConnectionRefused(t *testing.T) {
	ts := httptest.NewTLSServer(http.NotFoundHandler())
	url := ts.URL
	client := ts.Client()
	ts.Close()

	tr, err := NewHTTP(testConfig(url), WithHTTPClient(client))
	require.NoError(t, err)
	_, err = tr.Ingest(context.Background(), &Request{Table: "t", Rows: rows(1)})
	require.Error(t, err)
	assert.Equal(t, ingesterr.KindConnection, ingesterr.KindOf(err))
}

func TestHTTP_DeadlineIsConnectionError(t *testing.T) {
	block := make(chan struct{})
	ts := httptest.NewTLSServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-block:
		case <-r.Context().Done():
		}
	}))
	t.Cleanup(func() {
		close(block)
		ts.Close()
	})

	tr, err := NewHTTP(testConfig(ts.URL), WithHTTPClient(ts.Client()))
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	_, err = tr.Ingest(ctx, &Request{Table: "t", Rows: rows(1)})
	require.Error(t, err)
	assert.Equal(t, ingesterr.KindConnection, ingesterr.KindOf(err))
	assert.True(t, errors.Is(err, context.DeadlineExceeded))
}

func TestHTTP_BadTLSFiles(t *testing.T) {
	cfg := testConfig("https://ingest.example.com")
	cfg.Transport.TLS.CAFile = "/nonexistent/ca.pem"
	_, err := NewHTTP(cfg)
	require.Error(t, err)
	assert.Equal(t, ingesterr.KindConfiguration, ingesterr.KindOf(err))
}

func TestDefaultStatusClassifier_TruncatesBody(t *testing.T) {
	e := DefaultStatusClassifier(http.StatusBadRequest, []byte(strings.Repeat("x", 4096)))
	assert.Less(t, len(e.Message), 700)
}

func TestOutcomes_IgnoresUnsentRows(t *testing.T) {
	resp := Outcomes(rows(2), []WireRowResult{
		{Index: 1, Accepted: true},
		{Index: 0, Error: "plain text"},
		{Index: 7, Accepted: true},
	})
	assert.Equal(t, []int{1}, resp.Accepted)
	require.Len(t, resp.Rejected, 1)
	assert.Equal(t, ingesterr.KindUnknown, resp.Rejected[0].Kind)
}
