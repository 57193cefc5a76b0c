package grpcserver

import (
	"context"

	"google.golang.org/grpc"
	"google.golang.org/protobuf/types/known/structpb"
)

// ServiceName is the fully qualified gRPC service name.
const ServiceName = "asterism.v1.Aligner"

const (
	detectMethod = "/" + ServiceName + "/Detect"
	matchMethod  = "/" + ServiceName + "/Match"
)

// AlignerServer is the server API. Requests and replies are free-form
// structs so clients need no generated code.
type AlignerServer interface {
	Detect(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error)
	Match(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error)
}

// RegisterAlignerServer registers srv with s.
func RegisterAlignerServer(s grpc.ServiceRegistrar, srv AlignerServer) {
	s.RegisterService(&alignerServiceDesc, srv)
}

var alignerServiceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*AlignerServer)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "Detect", Handler: detectHandler},
		{MethodName: "Match", Handler: matchHandler},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "asterism/v1/aligner.proto",
}

func detectHandler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(structpb.Struct)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(AlignerServer).Detect(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: detectMethod}
	handler := func(ctx context.Context, req any) (any, error) {
		return srv.(AlignerServer).Detect(ctx, req.(*structpb.Struct))
	}
	return interceptor(ctx, in, info, handler)
}

func matchHandler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(structpb.Struct)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(AlignerServer).Match(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: matchMethod}
	handler := func(ctx context.Context, req any) (any, error) {
		return srv.(AlignerServer).Match(ctx, req.(*structpb.Struct))
	}
	return interceptor(ctx, in, info, handler)
}

// AlignerClient calls a remote Aligner.
type AlignerClient struct {
	cc grpc.ClientConnInterface
}

// NewAlignerClient wraps an established connection.
func NewAlignerClient(cc grpc.ClientConnInterface) *AlignerClient {
	return &AlignerClient{cc: cc}
}

func (c *AlignerClient) Detect(ctx context.Context, req *structpb.Struct, opts ...grpc.CallOption) (*structpb.Struct, error) {
	out := new(structpb.Struct)
	if err := c.cc.Invoke(ctx, detectMethod, req, out, opts...); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *AlignerClient) Match(ctx context.Context, req *structpb.Struct, opts ...grpc.CallOption) (*structpb.Struct, error) {
	out := new(structpb.Struct)
	if err := c.cc.Invoke(ctx, matchMethod, req, out, opts...); err != nil {
		return nil, err
	}
	return out, nil
}
