package transport

import (
	"context"
	"encoding/json"
	"fmt"

	"google.golang.org/grpc"
	"google.golang.org/protobuf/encoding/protojson"
	"google.golang.org/protobuf/types/known/structpb"
)

// gRPC service and method names.
const (
	IngestServiceName = "arrowship.ingest.v1.IngestService"
	IngestRowsMethod  = "/" + IngestServiceName + "/IngestRows"
)

// IngestServer is implemented by gRPC ingestion servers.
type IngestServer interface {
	IngestRows(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error)
}

func ingestRowsHandler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(structpb.Struct)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(IngestServer).IngestRows(ctx, in)
	}
	info := &grpc.UnaryServerInfo{
		Server:     srv,
		FullMethod: IngestRowsMethod,
	}
	handler := func(ctx context.Context, req any) (any, error) {
		return srv.(IngestServer).IngestRows(ctx, req.(*structpb.Struct))
	}
	return interceptor(ctx, in, info, handler)
}

// IngestServiceDesc describes the ingestion service for grpc.Server.RegisterService.
var IngestServiceDesc = grpc.ServiceDesc{
	ServiceName: IngestServiceName,
	HandlerType: (*IngestServer)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "IngestRows", Handler: ingestRowsHandler},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "arrowship/ingest/v1/ingest.proto",
}

// ToStruct converts a wire message (WireRequest or WireResponse) into a
// structpb.Struct via its JSON form. Numbers become float64 on the way.
func ToStruct(v any) (*structpb.Struct, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	s := &structpb.Struct{}
	if err := protojson.Unmarshal(data, s); err != nil {
		return nil, fmt.Errorf("to struct: %w", err)
	}
	return s, nil
}

// FromStruct decodes a structpb.Struct into a wire message.
func FromStruct(s *structpb.Struct, v any) error {
	data, err := protojson.Marshal(s)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("from struct: %w", err)
	}
	return nil
}
