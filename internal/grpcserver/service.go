package grpcserver

import (
	"context"

	"google.golang.org/grpc"
	"google.golang.org/protobuf/types/known/emptypb"
	"google.golang.org/protobuf/types/known/structpb"
)

// ServiceName is the fully qualified gRPC service name.
const ServiceName = "astrored.v1.OrbitService"

const (
	solveMethod          = "/" + ServiceName + "/Solve"
	convertAnomalyMethod = "/" + ServiceName + "/ConvertAnomaly"
	getJobMethod         = "/" + ServiceName + "/GetJob"
	watchJobsMethod      = "/" + ServiceName + "/WatchJobs"
)

// OrbitServiceServer is the server API. Messages are google.protobuf.Struct
// documents carrying the same JSON shape as the HTTP API.
type OrbitServiceServer interface {
	Solve(context.Context, *structpb.Struct) (*structpb.Struct, error)
	ConvertAnomaly(context.Context, *structpb.Struct) (*structpb.Struct, error)
	GetJob(context.Context, *structpb.Struct) (*structpb.Struct, error)
	WatchJobs(*emptypb.Empty, OrbitService_WatchJobsServer) error
}

// OrbitService_WatchJobsServer streams job events to a client.
type OrbitService_WatchJobsServer interface {
	Send(*structpb.Struct) error
	grpc.ServerStream
}

type watchJobsServer struct {
	grpc.ServerStream
}

func (x *watchJobsServer) Send(m *structpb.Struct) error {
	return x.ServerStream.SendMsg(m)
}

func unaryHandler(method string, call func(OrbitServiceServer, context.Context, *structpb.Struct) (*structpb.Struct, error)) func(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	return func(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
		in := new(structpb.Struct)
		if err := dec(in); err != nil {
			return nil, err
		}
		if interceptor == nil {
			return call(srv.(OrbitServiceServer), ctx, in)
		}
		info := &grpc.UnaryServerInfo{Server: srv, FullMethod: method}
		handler := func(ctx context.Context, req any) (any, error) {
			return call(srv.(OrbitServiceServer), ctx, req.(*structpb.Struct))
		}
		return interceptor(ctx, in, info, handler)
	}
}

func watchJobsHandler(srv any, stream grpc.ServerStream) error {
	m := new(emptypb.Empty)
	if err := stream.RecvMsg(m); err != nil {
		return err
	}
	return srv.(OrbitServiceServer).WatchJobs(m, &watchJobsServer{stream})
}

// ServiceDesc describes OrbitService for grpc.Server.RegisterService.
var ServiceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*OrbitServiceServer)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "Solve", Handler: unaryHandler(solveMethod, OrbitServiceServer.Solve)},
		{MethodName: "ConvertAnomaly", Handler: unaryHandler(convertAnomalyMethod, OrbitServiceServer.ConvertAnomaly)},
		{MethodName: "GetJob", Handler: unaryHandler(getJobMethod, OrbitServiceServer.GetJob)},
	},
	Streams: []grpc.StreamDesc{
		{StreamName: "WatchJobs", Handler: watchJobsHandler, ServerStreams: true},
	},
	Metadata: "astrored/v1/orbit.proto",
}

// RegisterOrbitServiceServer registers srv with s.
func RegisterOrbitServiceServer(s grpc.ServiceRegistrar, srv OrbitServiceServer) {
	s.RegisterService(&ServiceDesc, srv)
}

// Client calls OrbitService over a connection.
type Client struct {
	cc grpc.ClientConnInterface
}

// NewClient wraps cc.
func NewClient(cc grpc.ClientConnInterface) *Client {
	return &Client{cc: cc}
}

// Solve submits 80 column records and waits for the job's event.
func (c *Client) Solve(ctx context.Context, target string, lines []string, opts ...grpc.CallOption) (*structpb.Struct, error) {
	values := make([]any, len(lines))
	for i, l := range lines {
		values[i] = l
	}
	in, err := structpb.NewStruct(map[string]any{"target": target, "lines": values})
	if err != nil {
		return nil, err
	}
	out := new(structpb.Struct)
	if err := c.cc.Invoke(ctx, solveMethod, in, out, opts...); err != nil {
		return nil, err
	}
	return out, nil
}

// ConvertAnomaly converts a mean anomaly in degrees.
func (c *Client) ConvertAnomaly(ctx context.Context, mean, sigma, ecc float64, opts ...grpc.CallOption) (*structpb.Struct, error) {
	in, err := structpb.NewStruct(map[string]any{"mean_anomaly": mean, "sigma": sigma, "eccentricity": ecc})
	if err != nil {
		return nil, err
	}
	out := new(structpb.Struct)
	if err := c.cc.Invoke(ctx, convertAnomalyMethod, in, out, opts...); err != nil {
		return nil, err
	}
	return out, nil
}

// GetJob fetches a stored job with its metadata and attempts.
func (c *Client) GetJob(ctx context.Context, id string, opts ...grpc.CallOption) (*structpb.Struct, error) {
	in, err := structpb.NewStruct(map[string]any{"id": id})
	if err != nil {
		return nil, err
	}
	out := new(structpb.Struct)
	if err := c.cc.Invoke(ctx, getJobMethod, in, out, opts...); err != nil {
		return nil, err
	}
	return out, nil
}

// WatchJobs opens the event stream. Call Recv on the result until it errors.
func (c *Client) WatchJobs(ctx context.Context, opts ...grpc.CallOption) (*EventStream, error) {
	stream, err := c.cc.NewStream(ctx, &ServiceDesc.Streams[0], watchJobsMethod, opts...)
	if err != nil {
		return nil, err
	}
	if err := stream.SendMsg(&emptypb.Empty{}); err != nil {
		return nil, err
	}
	if err := stream.CloseSend(); err != nil {
		return nil, err
	}
	return &EventStream{stream: stream}, nil
}

// EventStream receives job events.
type EventStream struct {
	stream grpc.ClientStream
}

func (x *EventStream) Recv() (*structpb.Struct, error) {
	m := new(structpb.Struct)
	if err := x.stream.RecvMsg(m); err != nil {
		return nil, err
	}
	return m, nil
}
