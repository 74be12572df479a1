package grpcremote

import (
	"context"

	"google.golang.org/grpc"
	"google.golang.org/protobuf/types/known/emptypb"
	"google.golang.org/protobuf/types/known/wrapperspb"
)

const (
	ServiceName        = "fleetd.distributed.v1.Distributed"
	MethodGetQueries   = "/" + ServiceName + "/GetQueries"
	MethodWriteResults = "/" + ServiceName + "/WriteResults"
)

// Server is the controller side of the distributed service. GetQueries receives the node
// key and answers with the pull payload; WriteResults receives the write-back document.
type Server interface {
	GetQueries(ctx context.Context, nodeKey *wrapperspb.StringValue) (*wrapperspb.StringValue, error)
	WriteResults(ctx context.Context, payload *wrapperspb.StringValue) (*emptypb.Empty, error)
}

func RegisterServer(registrar grpc.ServiceRegistrar, srv Server) {
	registrar.RegisterService(&ServiceDesc, srv)
}

var ServiceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*Server)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "GetQueries", Handler: getQueriesHandler},
		{MethodName: "WriteResults", Handler: writeResultsHandler},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "fleetd/distributed/v1/distributed.proto",
}

func getQueriesHandler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(wrapperspb.StringValue)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(Server).GetQueries(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: MethodGetQueries}
	return interceptor(ctx, in, info, func(ctx context.Context, req any) (any, error) {
		return srv.(Server).GetQueries(ctx, req.(*wrapperspb.StringValue))
	})
}

func writeResultsHandler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(wrapperspb.StringValue)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(Server).WriteResults(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: MethodWriteResults}
	return interceptor(ctx, in, info, func(ctx context.Context, req any) (any, error) {
		return srv.(Server).WriteResults(ctx, req.(*wrapperspb.StringValue))
	})
}
