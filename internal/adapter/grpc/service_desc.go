package grpc

import (
	"context"

	"google.golang.org/grpc"
	"google.golang.org/protobuf/types/known/structpb"
)

// ServiceName is the fully qualified gRPC service name
const ServiceName = "autoinvest.v1.AutoInvestService"

// AutoInvestServiceServer is the server API of the AutoInvestService.
// Requests and responses are google.protobuf.Struct documents.
type AutoInvestServiceServer interface {
	CreatePlan(context.Context, *structpb.Struct) (*structpb.Struct, error)
	GetPlan(context.Context, *structpb.Struct) (*structpb.Struct, error)
	ListPlans(context.Context, *structpb.Struct) (*structpb.Struct, error)
	UpdatePlan(context.Context, *structpb.Struct) (*structpb.Struct, error)
	PausePlan(context.Context, *structpb.Struct) (*structpb.Struct, error)
	ResumePlan(context.Context, *structpb.Struct) (*structpb.Struct, error)
	CancelPlan(context.Context, *structpb.Struct) (*structpb.Struct, error)
	DeletePlan(context.Context, *structpb.Struct) (*structpb.Struct, error)
	ListAllocations(context.Context, *structpb.Struct) (*structpb.Struct, error)
	ListExecutions(context.Context, *structpb.Struct) (*structpb.Struct, error)
	ListPendingExecutions(context.Context, *structpb.Struct) (*structpb.Struct, error)
	ClaimExecution(context.Context, *structpb.Struct) (*structpb.Struct, error)
	RecordExecution(context.Context, *structpb.Struct) (*structpb.Struct, error)

	GetDripSettings(context.Context, *structpb.Struct) (*structpb.Struct, error)
	UpdateDripSettings(context.Context, *structpb.Struct) (*structpb.Struct, error)
	SetDripPropertyOverride(context.Context, *structpb.Struct) (*structpb.Struct, error)
	SetDripCustomAllocations(context.Context, *structpb.Struct) (*structpb.Struct, error)
	ProcessDistribution(context.Context, *structpb.Struct) (*structpb.Struct, error)
	ListAccruals(context.Context, *structpb.Struct) (*structpb.Struct, error)

	GetPortfolioSummary(context.Context, *structpb.Struct) (*structpb.Struct, error)
	GetPortfolioWeights(context.Context, *structpb.Struct) (*structpb.Struct, error)
}

type unaryMethod func(AutoInvestServiceServer, context.Context, *structpb.Struct) (*structpb.Struct, error)

func method(name string, call unaryMethod) grpc.MethodDesc {
	return grpc.MethodDesc{
		MethodName: name,
		Handler: func(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
			in := new(structpb.Struct)
			if err := dec(in); err != nil {
				return nil, err
			}
			if interceptor == nil {
				return call(srv.(AutoInvestServiceServer), ctx, in)
			}
			info := &grpc.UnaryServerInfo{
				Server:     srv,
				FullMethod: "/" + ServiceName + "/" + name,
			}
			handler := func(ctx context.Context, req interface{}) (interface{}, error) {
				return call(srv.(AutoInvestServiceServer), ctx, req.(*structpb.Struct))
			}
			return interceptor(ctx, in, info, handler)
		},
	}
}

var serviceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*AutoInvestServiceServer)(nil),
	Methods: []grpc.MethodDesc{
		method("CreatePlan", AutoInvestServiceServer.CreatePlan),
		method("GetPlan", AutoInvestServiceServer.GetPlan),
		method("ListPlans", AutoInvestServiceServer.ListPlans),
		method("UpdatePlan", AutoInvestServiceServer.UpdatePlan),
		method("PausePlan", AutoInvestServiceServer.PausePlan),
		method("ResumePlan", AutoInvestServiceServer.ResumePlan),
		method("CancelPlan", AutoInvestServiceServer.CancelPlan),
		method("DeletePlan", AutoInvestServiceServer.DeletePlan),
		method("ListAllocations", AutoInvestServiceServer.ListAllocations),
		method("ListExecutions", AutoInvestServiceServer.ListExecutions),
		method("ListPendingExecutions", AutoInvestServiceServer.ListPendingExecutions),
		method("ClaimExecution", AutoInvestServiceServer.ClaimExecution),
		method("RecordExecution", AutoInvestServiceServer.RecordExecution),
		method("GetDripSettings", AutoInvestServiceServer.GetDripSettings),
		method("UpdateDripSettings", AutoInvestServiceServer.UpdateDripSettings),
		method("SetDripPropertyOverride", AutoInvestServiceServer.SetDripPropertyOverride),
		method("SetDripCustomAllocations", AutoInvestServiceServer.SetDripCustomAllocations),
		method("ProcessDistribution", AutoInvestServiceServer.ProcessDistribution),
		method("ListAccruals", AutoInvestServiceServer.ListAccruals),
		method("GetPortfolioSummary", AutoInvestServiceServer.GetPortfolioSummary),
		method("GetPortfolioWeights", AutoInvestServiceServer.GetPortfolioWeights),
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "autoinvest/v1/autoinvest.proto",
}

// RegisterAutoInvestServiceServer registers srv on s
func RegisterAutoInvestServiceServer(s grpc.ServiceRegistrar, srv AutoInvestServiceServer) {
	s.RegisterService(&serviceDesc, srv)
}

// Client calls AutoInvestService methods over an existing connection
type Client struct {
	cc grpc.ClientConnInterface
}

// NewClient creates a new AutoInvestService client
func NewClient(cc grpc.ClientConnInterface) *Client {
	return &Client{cc: cc}
}

// Call invokes the named method with a Struct request
func (c *Client) Call(ctx context.Context, methodName string, in *structpb.Struct, opts ...grpc.CallOption) (*structpb.Struct, error) {
	out := new(structpb.Struct)
	if err := c.cc.Invoke(ctx, "/"+ServiceName+"/"+methodName, in, out, opts...); err != nil {
		return nil, err
	}
	return out, nil
}
