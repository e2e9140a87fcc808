package sandbox

import (
	"context"
	"log/slog"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/arrowship/arrowship/pkg/transport"
)

// Receiver implements transport.IngestServer on top of a Service.
// Authentication is enforced by the server interceptor before IngestRows is
// called.
type Receiver struct {
	svc *Service
}

var _ transport.IngestServer = (*Receiver)(nil)

// IngestRows decodes the request, applies faults and rules, and answers with
// per-row results.
func (r *Receiver) IngestRows(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	fault, failed, err := r.svc.awaitFault(ctx)
	if err != nil {
		return nil, status.FromContextError(err).Err()
	}
	if failed {
		slog.Debug("sandbox: injected fault", "status", fault.Status)
		return nil, status.Error(grpcCode(fault.Status), fault.message())
	}

	var req transport.WireRequest
	if err := transport.FromStruct(in, &req); err != nil {
		return nil, status.Error(codes.InvalidArgument, err.Error())
	}
	if req.Table == "" {
		return nil, status.Error(codes.InvalidArgument, "table is required")
	}
	if err := checkRows(req.Rows); err != nil {
		return nil, status.Error(codes.InvalidArgument, err.Error())
	}

	out, err := transport.ToStruct(r.svc.ingest(req.Table, &req))
	if err != nil {
		return nil, status.Error(codes.Internal, err.Error())
	}
	return out, nil
}

// ServerOptions returns the options a gRPC server needs to serve the
// sandbox, including the bearer interceptor.
func (s *Service) ServerOptions() []grpc.ServerOption {
	return []grpc.ServerOption{
		grpc.UnaryInterceptor(BearerInterceptor(s.issuer.Enabled(), s.issuer.Valid)),
	}
}

// RegisterGRPC registers IngestRows on gs.
func (s *Service) RegisterGRPC(gs *grpc.Server) {
	gs.RegisterService(&transport.IngestServiceDesc, &Receiver{svc: s})
}
