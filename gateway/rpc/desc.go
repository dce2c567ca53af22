package rpc

import (
	"context"

	"google.golang.org/grpc"

	"github.com/tarancss/satp/lib/satp"
)

// gRPC service names.
const (
	Stage0ServiceName = "satp.v1.SatpStage0Service"
	Stage1ServiceName = "satp.v1.SatpStage1Service"
	Stage2ServiceName = "satp.v1.SatpStage2Service"
	Stage3ServiceName = "satp.v1.SatpStage3Service"
	CrashServiceName  = "satp.v1.SatpCrashService"
)

// Stage0Service opens sessions and exchanges the pre-transfer wraps.
type Stage0Service interface {
	NewSession(context.Context, *satp.NewSessionRequest) (*satp.NewSessionResponse, error)
	PreSATPTransfer(context.Context, *satp.PreSATPTransferRequest) (*satp.PreSATPTransferResponse, error)
}

// Stage1Service handles the transfer proposal and commence messages.
type Stage1Service interface {
	TransferProposal(context.Context, *satp.TransferProposalRequest) (*satp.TransferProposalResponse, error)
	TransferCommence(context.Context, *satp.TransferCommenceRequest) (*satp.TransferCommenceResponse, error)
}

// Stage2Service handles the lock assertion.
type Stage2Service interface {
	LockAssertion(context.Context, *satp.LockAssertionRequest) (*satp.LockAssertionReceipt, error)
}

// Stage3Service handles the commitment messages.
type Stage3Service interface {
	CommitPreparation(context.Context, *satp.CommitPreparationRequest) (*satp.CommitReadyResponse, error)
	CommitFinalAssertion(context.Context, *satp.CommitFinalAssertionRequest,
	) (*satp.CommitFinalAcknowledgementReceiptResponse, error)
	TransferComplete(context.Context, *satp.TransferCompleteRequest) (*satp.TransferCompleteResponse, error)
}

// CrashService receives rollback notices and recovery requests from the counterparty gateway.
type CrashService interface {
	Rollback(context.Context, *RollbackRequest) (*RollbackResponse, error)
	Recover(context.Context, *RecoverRequest) (*RecoverResponse, error)
	RecoverSuccess(context.Context, *RecoverSuccessRequest) (*RecoverSuccessResponse, error)
}

func unary[S, Req, Resp any](service, name string, call func(S, context.Context, *Req) (*Resp, error),
) grpc.MethodDesc {
	return grpc.MethodDesc{
		MethodName: name,
		Handler: func(srv interface{}, ctx context.Context, dec func(interface{}) error,
			interceptor grpc.UnaryServerInterceptor,
		) (interface{}, error) {
			in := new(Req)
			if err := dec(in); err != nil {
				return nil, err
			}

			if interceptor == nil {
				return call(srv.(S), ctx, in)
			}

			info := &grpc.UnaryServerInfo{Server: srv, FullMethod: "/" + service + "/" + name}

			return interceptor(ctx, in, info, func(ctx context.Context, req interface{}) (interface{}, error) {
				return call(srv.(S), ctx, req.(*Req))
			})
		},
	}
}

var (
	stage0Desc = grpc.ServiceDesc{
		ServiceName: Stage0ServiceName,
		HandlerType: (*Stage0Service)(nil),
		Methods: []grpc.MethodDesc{
			unary(Stage0ServiceName, "NewSession", Stage0Service.NewSession),
			unary(Stage0ServiceName, "PreSATPTransfer", Stage0Service.PreSATPTransfer),
		},
		Metadata: "satp/v1/stage0.proto",
	}

	stage1Desc = grpc.ServiceDesc{
		ServiceName: Stage1ServiceName,
		HandlerType: (*Stage1Service)(nil),
		Methods: []grpc.MethodDesc{
			unary(Stage1ServiceName, "TransferProposal", Stage1Service.TransferProposal),
			unary(Stage1ServiceName, "TransferCommence", Stage1Service.TransferCommence),
		},
		Metadata: "satp/v1/stage1.proto",
	}

	stage2Desc = grpc.ServiceDesc{
		ServiceName: Stage2ServiceName,
		HandlerType: (*Stage2Service)(nil),
		Methods: []grpc.MethodDesc{
			unary(Stage2ServiceName, "LockAssertion", Stage2Service.LockAssertion),
		},
		Metadata: "satp/v1/stage2.proto",
	}

	stage3Desc = grpc.ServiceDesc{
		ServiceName: Stage3ServiceName,
		HandlerType: (*Stage3Service)(nil),
		Methods: []grpc.MethodDesc{
			unary(Stage3ServiceName, "CommitPreparation", Stage3Service.CommitPreparation),
			unary(Stage3ServiceName, "CommitFinalAssertion", Stage3Service.CommitFinalAssertion),
			unary(Stage3ServiceName, "TransferComplete", Stage3Service.TransferComplete),
		},
		Metadata: "satp/v1/stage3.proto",
	}

	crashDesc = grpc.ServiceDesc{
		ServiceName: CrashServiceName,
		HandlerType: (*CrashService)(nil),
		Methods: []grpc.MethodDesc{
			unary(CrashServiceName, "Rollback", CrashService.Rollback),
			unary(CrashServiceName, "Recover", CrashService.Recover),
			unary(CrashServiceName, "RecoverSuccess", CrashService.RecoverSuccess),
		},
		Metadata: "satp/v1/crash.proto",
	}
)
