package transport

import (
	"context"
	"net"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/arrowship/arrowship/pkg/ingesterr"
)

// fakeIngest implements IngestServer for tests.
type fakeIngest struct {
	err      error
	delay    time.Duration
	verdict  func(Row) WireRowResult
	calls    atomic.Int64
	lastAuth atomic.Value
}

func (f *fakeIngest) IngestRows(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	f.calls.Add(1)
	if md, ok := metadata.FromIncomingContext(ctx); ok {
		if v := md.Get(MetadataAuthorization); len(v) > 0 {
			f.lastAuth.Store(v[0])
		}
	}
	if f.delay > 0 {
		select {
		case <-time.After(f.delay):
		case <-ctx.Done():
			return nil, status.FromContextError(ctx.Err()).Err()
		}
	}
	if f.err != nil {
		return nil, f.err
	}

	var req WireRequest
	if err := FromStruct(in, &req); err != nil {
		return nil, status.Error(codes.InvalidArgument, err.Error())
	}
	var resp WireResponse
	for _, row := range req.Rows {
		resp.Results = append(resp.Results, f.verdict(row))
	}
	return ToStruct(resp)
}

// startGRPC starts an in-process server and returns a transport dialled to it.
func startGRPC(t *testing.T, impl IngestServer) *GRPCTransport {
	t.Helper()
	lis, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	gs := grpc.NewServer()
	gs.RegisterService(&IngestServiceDesc, impl)
	go gs.Serve(lis) //nolint:errcheck
	t.Cleanup(gs.Stop)

	tr, err := NewGRPC(testConfig("https://"+lis.Addr().String()),
		WithDialOptions(grpc.WithTransportCredentials(insecure.NewCredentials())))
	require.NoError(t, err)
	t.Cleanup(func() { _ = tr.Close() })
	return tr
}

func TestGRPC_PartialRejection(t *testing.T) {
	impl := &fakeIngest{verdict: func(row Row) WireRowResult {
		if row.Index == 1 {
			return WireRowResult{Index: 1, Error: "TransmissionError: duplicate key"}
		}
		return WireRowResult{Index: row.Index, Accepted: true}
	}}
	tr := startGRPC(t, impl)

	resp, err := tr.Ingest(context.Background(), &Request{Table: "t", Token: "abc", RequestID: "r1", Rows: rows(3)})
	require.NoError(t, err)
	assert.Equal(t, []int{0, 2}, resp.Accepted)
	require.Len(t, resp.Rejected, 1)
	assert.Equal(t, ingesterr.KindTransmission, resp.Rejected[0].Kind)
	assert.Equal(t, "Bearer abc", impl.lastAuth.Load())
}

func TestGRPC_CodeClassification(t *testing.T) {
	tests := []struct {
		code          codes.Code
		wantKind      ingesterr.Kind
		wantRetryable bool
	}{
		{codes.Unavailable, ingesterr.KindConnection, true},
		{codes.ResourceExhausted, ingesterr.KindConnection, true},
		{codes.Aborted, ingesterr.KindConnection, true},
		{codes.Unauthenticated, ingesterr.KindAuthentication, true},
		{codes.PermissionDenied, ingesterr.KindAuthentication, false},
		{codes.InvalidArgument, ingesterr.KindTransmission, false},
	}
	for _, tc := range tests {
		t.Run(tc.code.String(), func(t *testing.T) {
			tr := startGRPC(t, &fakeIngest{err: status.Error(tc.code, "boom")})
			_, err := tr.Ingest(context.Background(), &Request{Table: "t", Rows: rows(1)})
			require.Error(t, err)

			var e *ingesterr.Error
			require.ErrorAs(t, err, &e)
			assert.Equal(t, tc.wantKind, e.Kind)
			assert.Equal(t, tc.wantRetryable, e.Retryable())
			assert.Equal(t, tc.code, status.Code(e.Err))
		})
	}
}

func TestGRPC_DeadlineIsConnectionError(t *testing.T) {
	tr := startGRPC(t, &fakeIngest{delay: 2 * time.Second, verdict: func(r Row) WireRowResult {
		return WireRowResult{Index: r.Index, Accepted: true}
	}})

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	_, err := tr.Ingest(ctx, &Request{Table: "t", Rows: rows(1)})
	require.Error(t, err)
	assert.Equal(t, ingesterr.KindConnection, ingesterr.KindOf(err))
}

func TestGRPC_CloseIsIdempotent(t *testing.T) {
	tr := startGRPC(t, &fakeIngest{})
	require.NoError(t, tr.Close())
	require.NoError(t, tr.Close())
}

func TestGRPCTarget(t *testing.T) {
	got, err := grpcTarget("https://ingest.example.com")
	require.NoError(t, err)
	assert.Equal(t, "ingest.example.com:443", got)

	got, err = grpcTarget("https://127.0.0.1:9443/ignored/path")
	require.NoError(t, err)
	assert.Equal(t, "127.0.0.1:9443", got)

	_, err = grpcTarget("https://")
	require.Error(t, err)
}

func TestStructRoundTrip(t *testing.T) {
	in := WireRequest{RequestID: "x", Table: "t", Rows: []Row{
		{Index: 3, Values: map[string]any{"a": int64(1), "b": "s", "c": nil, "d": []any{true}}},
	}}
	s, err := ToStruct(in)
	require.NoError(t, err)

	var out WireRequest
	require.NoError(t, FromStruct(s, &out))
	assert.Equal(t, "x", out.RequestID)
	require.Len(t, out.Rows, 1)
	assert.Equal(t, 3, out.Rows[0].Index)
	assert.Equal(t, float64(1), out.Rows[0].Values["a"])
	assert.Nil(t, out.Rows[0].Values["c"])
}
