package transport

import (
	"context"
	"fmt"
	"net"
	"net/url"
	"sync"

	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/arrowship/arrowship/pkg/config"
	"github.com/arrowship/arrowship/pkg/ingesterr"
)

// Metadata keys sent with every IngestRows call.
const (
	MetadataAuthorization = "authorization"
	MetadataRequestID     = "x-request-id"
)

// GRPCTransport calls IngestRows over one shared client connection.
type GRPCTransport struct {
	target   string
	conn     *grpc.ClientConn
	classify CodeClassifier

	closeOnce sync.Once
	closeErr  error
}

// GRPCOption configures a GRPCTransport.
type GRPCOption func(*grpcSettings)

type grpcSettings struct {
	dialOpts []grpc.DialOption
	classify CodeClassifier
}

// WithDialOptions replaces the TLS credentials built from transport.tls.
func WithDialOptions(opts ...grpc.DialOption) GRPCOption {
	return func(s *grpcSettings) { s.dialOpts = append(s.dialOpts, opts...) }
}

// WithCodeClassifier replaces DefaultCodeClassifier.
func WithCodeClassifier(f CodeClassifier) GRPCOption {
	return func(s *grpcSettings) { s.classify = f }
}

// NewGRPC builds a GRPCTransport for cfg. The connection is established
// lazily on the first call.
func NewGRPC(cfg config.Config, opts ...GRPCOption) (*GRPCTransport, error) {
	s := &grpcSettings{classify: DefaultCodeClassifier}
	for _, o := range opts {
		o(s)
	}

	target, err := grpcTarget(cfg.Endpoint)
	if err != nil {
		return nil, ingesterr.Wrap(ingesterr.KindConfiguration, err, "transport: grpc target")
	}

	dialOpts := s.dialOpts
	if len(dialOpts) == 0 {
		tlsCfg, err := TLSConfig(cfg.Transport.TLS)
		if err != nil {
			return nil, ingesterr.Wrap(ingesterr.KindConfiguration, err, "transport: build tls config")
		}
		dialOpts = []grpc.DialOption{grpc.WithTransportCredentials(credentials.NewTLS(tlsCfg))}
	}

	conn, err := grpc.Dial(target, dialOpts...) //nolint:staticcheck // grpc.NewClient needs grpc >= 1.63
	if err != nil {
		return nil, ingesterr.Wrap(ingesterr.KindConnection, err, "transport: dial %s", target)
	}
	return &GRPCTransport{target: target, conn: conn, classify: s.classify}, nil
}

// grpcTarget turns an https endpoint URL into host:port, defaulting to 443.
func grpcTarget(endpoint string) (string, error) {
	u, err := url.Parse(endpoint)
	if err != nil {
		return "", err
	}
	if u.Host == "" {
		return "", fmt.Errorf("endpoint %q has no host", endpoint)
	}
	if u.Port() != "" {
		return u.Host, nil
	}
	return net.JoinHostPort(u.Hostname(), "443"), nil
}

// Ingest calls IngestRows and interprets the per-row results.
func (t *GRPCTransport) Ingest(ctx context.Context, req *Request) (*Response, error) {
	in, err := ToStruct(wireRequest(req))
	if err != nil {
		return nil, ingesterr.Wrap(ingesterr.KindConversion, err, "encode request")
	}

	md := []string{}
	if req.Token != "" {
		md = append(md, MetadataAuthorization, "Bearer "+req.Token)
	}
	if req.RequestID != "" {
		md = append(md, MetadataRequestID, req.RequestID)
	}
	if len(md) > 0 {
		ctx = metadata.AppendToOutgoingContext(ctx, md...)
	}

	out := &structpb.Struct{}
	if err := t.conn.Invoke(ctx, IngestRowsMethod, in, out); err != nil {
		st, ok := status.FromError(err)
		if !ok {
			return nil, ingesterr.Wrap(ingesterr.KindConnection, err, "call %s", requestLabel(req))
		}
		if e := t.classify(st); e != nil {
			return nil, e
		}
		return nil, ingesterr.Wrap(ingesterr.KindTransmission, err, "call %s", requestLabel(req))
	}

	var wire WireResponse
	if err := FromStruct(out, &wire); err != nil {
		return nil, ingesterr.Wrap(ingesterr.KindConnection, err, "decode response")
	}
	return Outcomes(req.Rows, wire.Results), nil
}

// Close closes the client connection.
func (t *GRPCTransport) Close() error {
	t.closeOnce.Do(func() { t.closeErr = t.conn.Close() })
	return t.closeErr
}

func (t *GRPCTransport) String() string {
	return "grpc(" + t.target + ")"
}
