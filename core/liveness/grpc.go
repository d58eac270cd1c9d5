package liveness

import (
	"context"
	"fmt"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/wrapperspb"

	"github.com/prepolicy/prepolicy/core/policy"
	"github.com/prepolicy/prepolicy/pkg/logging"
)

// The liveness service uses protobuf well-known wrapper types so no codegen step
// is needed:
//
//	service Liveness {
//	  rpc IsAlive(google.protobuf.StringValue) returns (google.protobuf.BoolValue);
//	}
const (
	livenessServiceName = "prepolicy.liveness.v1.Liveness"
	isAliveMethod       = "/" + livenessServiceName + "/IsAlive"
)

// LivenessServer is the server API for the Liveness gRPC service.
type LivenessServer interface {
	IsAlive(context.Context, *wrapperspb.StringValue) (*wrapperspb.BoolValue, error)
}

// UnimplementedLivenessServer can be embedded to have forward compatible implementations.
type UnimplementedLivenessServer struct{}

func (UnimplementedLivenessServer) IsAlive(context.Context, *wrapperspb.StringValue) (*wrapperspb.BoolValue, error) {
	return nil, status.Error(codes.Unimplemented, "method IsAlive not implemented")
}

// RegisterLivenessServer registers the Liveness service on a gRPC server.
func RegisterLivenessServer(s grpc.ServiceRegistrar, srv LivenessServer) {
	s.RegisterService(&Liveness_ServiceDesc, srv)
}

// LivenessClient is the client API for the Liveness gRPC service.
type LivenessClient interface {
	IsAlive(ctx context.Context, in *wrapperspb.StringValue, opts ...grpc.CallOption) (*wrapperspb.BoolValue, error)
}

type livenessClient struct{ cc grpc.ClientConnInterface }

func NewLivenessClient(cc grpc.ClientConnInterface) LivenessClient { return &livenessClient{cc: cc} }

func (c *livenessClient) IsAlive(ctx context.Context, in *wrapperspb.StringValue, opts ...grpc.CallOption) (*wrapperspb.BoolValue, error) {
	out := new(wrapperspb.BoolValue)
	if err := c.cc.Invoke(ctx, isAliveMethod, in, out, opts...); err != nil {
		return nil, err
	}
	return out, nil
}

func _Liveness_IsAlive_Handler(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
	in := new(wrapperspb.StringValue)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(LivenessServer).IsAlive(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: isAliveMethod}
	handler := func(ctx context.Context, req interface{}) (interface{}, error) {
		return srv.(LivenessServer).IsAlive(ctx, req.(*wrapperspb.StringValue))
	}
	return interceptor(ctx, in, info, handler)
}

// Liveness_ServiceDesc is the grpc.ServiceDesc for the Liveness service.
var Liveness_ServiceDesc = grpc.ServiceDesc{
	ServiceName: livenessServiceName,
	HandlerType: (*LivenessServer)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "IsAlive", Handler: _Liveness_IsAlive_Handler},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "liveness.proto",
}

// GRPCOracle queries the Liveness gRPC service.
type GRPCOracle struct {
	cc      *grpc.ClientConn
	client  LivenessClient
	timeout time.Duration
	logger  logging.Logger
}

// GRPCOptions configures DialGRPCOracle.
type GRPCOptions struct {
	// Timeout applies per RPC. Defaults to 5s.
	Timeout time.Duration
	// DialOptions are appended after the default insecure credentials.
	DialOptions []grpc.DialOption
}

// DialGRPCOracle creates a client connection to target. The connection is
// established lazily on the first query.
func DialGRPCOracle(target string, opts GRPCOptions, logger logging.Logger) (*GRPCOracle, error) {
	if target == "" {
		return nil, fmt.Errorf("liveness grpc target is empty")
	}
	dialOpts := append([]grpc.DialOption{
		grpc.WithTransportCredentials(insecure.NewCredentials()),
	}, opts.DialOptions...)

	cc, err := grpc.NewClient(target, dialOpts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create grpc client for %s: %w", target, err)
	}
	o := NewGRPCOracle(cc, opts.Timeout, logger)
	o.cc = cc
	return o, nil
}

// NewGRPCOracle wraps an existing connection. Close does not close cc.
func NewGRPCOracle(cc grpc.ClientConnInterface, timeout time.Duration, logger logging.Logger) *GRPCOracle {
	if logger == nil {
		logger = logging.GetLogger()
	}
	if timeout <= 0 {
		timeout = defaultHTTPTimeout
	}
	return &GRPCOracle{
		client:  NewLivenessClient(cc),
		timeout: timeout,
		logger:  logger.With("component", "liveness", "transport", "grpc"),
	}
}

// Close releases the connection opened by DialGRPCOracle.
func (o *GRPCOracle) Close() error {
	if o == nil || o.cc == nil {
		return nil
	}
	return o.cc.Close()
}

// Check implements Oracle.
func (o *GRPCOracle) Check(ctx context.Context, id policy.ID) (Status, error) {
	ctx, cancel := context.WithTimeout(ctx, o.timeout)
	defer cancel()

	reply, err := o.client.IsAlive(ctx, wrapperspb.String(string(id)))
	if err != nil {
		return unavailable(reasonFromRPC(err), err)
	}
	if reply.GetValue() {
		return StatusAlive, nil
	}
	return StatusDead, nil
}

func reasonFromRPC(err error) Reason {
	st, ok := status.FromError(err)
	if !ok {
		return ReasonTransport
	}
	switch st.Code() {
	case codes.DeadlineExceeded:
		return ReasonTimeout
	case codes.Canceled:
		return ReasonCanceled
	case codes.Unavailable:
		return ReasonTransport
	case codes.ResourceExhausted:
		return ReasonRateLimited
	case codes.Internal, codes.DataLoss:
		return ReasonMalformed
	default:
		return ReasonStatus
	}
}
