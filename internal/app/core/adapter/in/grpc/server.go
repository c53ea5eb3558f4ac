package grpc

import (
	"context"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/JoeShih716/go-limit-ledger/internal/app/core/domain"
	"github.com/JoeShih716/go-limit-ledger/internal/app/core/usecase"
	pb "github.com/JoeShih716/go-limit-ledger/pkg/ledgerpb"
)

type GrpcServer struct {
	pb.UnimplementedLedgerServiceServer
	core *usecase.CoreUseCase
}

func NewGrpcServer(core *usecase.CoreUseCase) *GrpcServer {
	return &GrpcServer{
		core: core,
	}
}

func (s *GrpcServer) ApplyTransaction(ctx context.Context, req *pb.ApplyTransactionRequest) (*pb.ApplyTransactionResponse, error) {
	tranReq := domain.TransactionRequest{
		Kind:        req.Kind,
		Value:       req.RawValue(),
		Description: req.Description,
	}
	result, err := s.core.ApplyTransaction(ctx, req.AccountId, tranReq)
	if err != nil {
		return nil, toStatus(err)
	}
	return &pb.ApplyTransactionResponse{
		Limit:   result.Limit,
		Balance: result.Balance,
	}, nil
}

func (s *GrpcServer) GetStatement(ctx context.Context, req *pb.GetStatementRequest) (*pb.GetStatementResponse, error) {
	stmt, err := s.core.GetStatement(ctx, req.AccountId)
	if err != nil {
		return nil, toStatus(err)
	}
	resp := &pb.GetStatementResponse{
		Balance: pb.Balance{
			Total: stmt.Balance.Total,
			Limit: stmt.Balance.Limit,
			AsOf:  stmt.Balance.AsOf,
		},
		LastTransactions: make([]pb.Transaction, 0, len(stmt.LastTransactions)),
	}
	for _, tran := range stmt.LastTransactions {
		resp.LastTransactions = append(resp.LastTransactions, pb.Transaction{
			Value:       tran.Value,
			Kind:        tran.Kind.String(),
			Description: tran.Description,
			PerformedAt: tran.PerformedAt,
		})
	}
	return resp, nil
}

// toStatus 將 domain 錯誤對應到 gRPC 狀態碼
func toStatus(err error) error {
	switch domain.KindOf(err) {
	case domain.KindNotFound:
		return status.Error(codes.NotFound, err.Error())
	case domain.KindInvalidInput:
		return status.Error(codes.InvalidArgument, err.Error())
	case domain.KindLimitExceeded:
		return status.Error(codes.FailedPrecondition, err.Error())
	case domain.KindStorageFailure:
		return status.Error(codes.Unavailable, err.Error())
	}
	return status.Error(codes.Internal, "internal error")
}
