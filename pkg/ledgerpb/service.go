package ledgerpb

import (
	"context"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

const (
	ServiceName                = "ledger.v1.LedgerService"
	ApplyTransactionFullMethod = "/" + ServiceName + "/ApplyTransaction"
	GetStatementFullMethod     = "/" + ServiceName + "/GetStatement"
)

// LedgerServiceServer 伺服器端需實作的介面
type LedgerServiceServer interface {
	ApplyTransaction(context.Context, *ApplyTransactionRequest) (*ApplyTransactionResponse, error)
	GetStatement(context.Context, *GetStatementRequest) (*GetStatementResponse, error)
}

// UnimplementedLedgerServiceServer 內嵌後未實作的方法回傳 Unimplemented
type UnimplementedLedgerServiceServer struct{}

func (UnimplementedLedgerServiceServer) ApplyTransaction(context.Context, *ApplyTransactionRequest) (*ApplyTransactionResponse, error) {
	return nil, status.Error(codes.Unimplemented, "method ApplyTransaction not implemented")
}

func (UnimplementedLedgerServiceServer) GetStatement(context.Context, *GetStatementRequest) (*GetStatementResponse, error) {
	return nil, status.Error(codes.Unimplemented, "method GetStatement not implemented")
}

func RegisterLedgerServiceServer(s grpc.ServiceRegistrar, srv LedgerServiceServer) {
	s.RegisterService(&LedgerServiceDesc, srv)
}

func applyTransactionHandler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(ApplyTransactionRequest)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(LedgerServiceServer).ApplyTransaction(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: ApplyTransactionFullMethod}
	handler := func(ctx context.Context, req any) (any, error) {
		return srv.(LedgerServiceServer).ApplyTransaction(ctx, req.(*ApplyTransactionRequest))
	}
	return interceptor(ctx, in, info, handler)
}

func getStatementHandler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(GetStatementRequest)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(LedgerServiceServer).GetStatement(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: GetStatementFullMethod}
	handler := func(ctx context.Context, req any) (any, error) {
		return srv.(LedgerServiceServer).GetStatement(ctx, req.(*GetStatementRequest))
	}
	return interceptor(ctx, in, info, handler)
}

// LedgerServiceDesc ledger.v1.LedgerService 的服務描述
var LedgerServiceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*LedgerServiceServer)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "ApplyTransaction", Handler: applyTransactionHandler},
		{MethodName: "GetStatement", Handler: getStatementHandler},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "ledger/v1/ledger.proto",
}

// LedgerServiceClient 客戶端介面
type LedgerServiceClient interface {
	ApplyTransaction(ctx context.Context, in *ApplyTransactionRequest, opts ...grpc.CallOption) (*ApplyTransactionResponse, error)
	GetStatement(ctx context.Context, in *GetStatementRequest, opts ...grpc.CallOption) (*GetStatementResponse, error)
}

type ledgerServiceClient struct {
	cc grpc.ClientConnInterface
}

// NewLedgerServiceClient cc 需預設帶上 grpc.CallContentSubtype(CodecName)，pkg/grpc 的 Dial 已經設定好
func NewLedgerServiceClient(cc grpc.ClientConnInterface) LedgerServiceClient {
	return &ledgerServiceClient{cc: cc}
}

func (c *ledgerServiceClient) ApplyTransaction(ctx context.Context, in *ApplyTransactionRequest, opts ...grpc.CallOption) (*ApplyTransactionResponse, error) {
	out := new(ApplyTransactionResponse)
	if err := c.cc.Invoke(ctx, ApplyTransactionFullMethod, in, out, opts...); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *ledgerServiceClient) GetStatement(ctx context.Context, in *GetStatementRequest, opts ...grpc.CallOption) (*GetStatementResponse, error) {
	out := new(GetStatementResponse)
	if err := c.cc.Invoke(ctx, GetStatementFullMethod, in, out, opts...); err != nil {
		return nil, err
	}
	return out, nil
}
