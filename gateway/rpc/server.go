package rpc

import (
	"context"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/google.golang.org/grpc/otelgrpc"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/keepalive"
	"google.golang.org/grpc/status"

	"github.com/tarancss/satp/gateway/stage"
	"github.com/tarancss/satp/lib/log"
	"github.com/tarancss/satp/lib/monitor"
	"github.com/tarancss/satp/lib/satp"
)

// MaxMessageSize bounds inbound and outbound messages.
const MaxMessageSize = 4 << 20

// Registry holds the sessions of a gateway.
type Registry interface {
	Session(id string) (*satp.Session, bool)
	Register(s *satp.Session) error
}

// CrashHandler serves the crash service: it runs the local rollback of a session and answers the recovery exchange
// on request of the counterparty.
type CrashHandler interface {
	HandleRollback(ctx context.Context, req *RollbackRequest) (*RollbackResponse, error)
	HandleRecover(ctx context.Context, req *RecoverRequest) (*RecoverResponse, error)
	HandleRecoverSuccess(ctx context.Context, req *RecoverSuccessRequest) (*RecoverSuccessResponse, error)
}

// Server routes inbound SATP messages to the stage server services. Protocol failures are answered with the signed
// error response of the stage, never with a gRPC error.
type Server struct {
	stage0   *stage.Stage0Server
	stage1   *stage.Stage1Server
	stage2   *stage.Stage2Server
	stage3   *stage.Stage3Server
	sessions Registry
	crash    CrashHandler
	log      log.Logger
}

// NewServer returns a server for the sessions in reg. ch may be nil, in which case the crash service is refused.
func NewServer(o stage.Options, reg Registry, ch CrashHandler) *Server {
	return &Server{
		stage0:   stage.NewStage0Server(o),
		stage1:   stage.NewStage1Server(o),
		stage2:   stage.NewStage2Server(o),
		stage3:   stage.NewStage3Server(o),
		sessions: reg,
		crash:    ch,
		log:      o.Log.Module("rpc"),
	}
}

// NewGRPCServer returns a gRPC server speaking the JSON codec, traced through mon.
func NewGRPCServer(mon *monitor.Service, opts ...grpc.ServerOption) *grpc.Server {
	if mon == nil {
		mon = monitor.Disabled()
	}

	base := []grpc.ServerOption{
		grpc.ForceServerCodec(codec{}),
		grpc.StatsHandler(otelgrpc.NewServerHandler(otelgrpc.WithTracerProvider(mon.TracerProvider()))),
		grpc.KeepaliveParams(keepalive.ServerParameters{
			MaxConnectionIdle: 15 * time.Minute,
			Time:              30 * time.Second,
			Timeout:           20 * time.Second,
		}),
		grpc.MaxRecvMsgSize(MaxMessageSize),
		grpc.MaxSendMsgSize(MaxMessageSize),
	}

	return grpc.NewServer(append(base, opts...)...)
}

// Register binds the stage and crash services of s to g.
func (s *Server) Register(g *grpc.Server) {
	g.RegisterService(&stage0Desc, s)
	g.RegisterService(&stage1Desc, s)
	g.RegisterService(&stage2Desc, s)
	g.RegisterService(&stage3Desc, s)
	g.RegisterService(&crashDesc, s)
}

// open returns the session of id locked, with the arrival of a message recorded, and its unlock function.
func (s *Server) open(tag, id string) (*satp.Session, func(), error) {
	session, ok := s.sessions.Session(id)
	if id == "" || !ok {
		return nil, nil, satp.Errorf(tag, satp.KindSessionNotFound, "%q", id)
	}

	session.Lock()
	touch(session)

	return session, session.Unlock, nil
}

func touch(session *satp.Session) {
	if sd, err := session.ServerSessionData(); err == nil {
		sd.LastMessageReceivedTimestamp = satp.Now()
	}
}

// handle runs one check and respond sequence on the session of id, answering failures with fail.
func handle[R any](s *Server, tag, id string, run func(*satp.Session) (R, error), fail func(error, string) R) R {
	session, unlock, err := s.open(tag, id)
	if err != nil {
		s.log.Warn().Err(err).Str("method", tag).Msg("unknown session")

		return fail(err, id)
	}

	defer unlock()

	r, err := run(session)
	if err != nil {
		s.log.Error().Err(err).Str("method", tag).Str("session_id", id).Msg("request refused")

		return fail(err, id)
	}

	return r
}

func commonSessionID(c *satp.CommonSatp) string {
	if c == nil {
		return ""
	}

	return c.SessionID
}

// NewSession accepts a new session, creating its server data.
func (s *Server) NewSession(ctx context.Context, req *satp.NewSessionRequest) (*satp.NewSessionResponse, error) {
	existing, _ := s.sessions.Session(req.SessionID)
	if existing != nil {
		existing.Lock()
		defer existing.Unlock()
	}

	session, err := s.stage0.CheckNewSessionRequest(ctx, req, existing)
	if err != nil {
		return s.stage0.NewSessionErrorResponse(err, req.SessionID), nil
	}

	touch(session)

	if session != existing {
		if err = s.sessions.Register(session); err != nil {
			return s.stage0.NewSessionErrorResponse(err, req.SessionID), nil
		}
	}

	resp, err := s.stage0.NewSessionResponse(ctx, req, session)
	if err != nil {
		return s.stage0.NewSessionErrorResponse(err, req.SessionID), nil
	}

	return resp, nil
}

// PreSATPTransfer checks the pre-transfer request, wraps the receiver asset and answers with the receiver claim.
func (s *Server) PreSATPTransfer(ctx context.Context, req *satp.PreSATPTransferRequest,
) (*satp.PreSATPTransferResponse, error) {
	return handle(s, "PreSATPTransfer", req.SessionID, func(session *satp.Session) (*satp.PreSATPTransferResponse, error) {
		if err := s.stage0.CheckPreSATPTransferRequest(ctx, req, session); err != nil {
			return nil, err
		}

		if err := s.stage0.WrapToken(ctx, session); err != nil {
			return nil, err
		}

		return s.stage0.PreSATPTransferResponse(ctx, session)
	}, s.stage0.PreSATPTransferErrorResponse), nil
}

// TransferProposal answers an INIT_PROPOSAL with an INIT_RECEIPT or INIT_REJECT.
func (s *Server) TransferProposal(ctx context.Context, req *satp.TransferProposalRequest,
) (*satp.TransferProposalResponse, error) {
	return handle(s, "TransferProposal", commonSessionID(req.Common),
		func(session *satp.Session) (*satp.TransferProposalResponse, error) {
			if err := s.stage1.CheckTransferProposalRequest(ctx, req, session); err != nil {
				return nil, err
			}

			return s.stage1.TransferProposalResponse(ctx, session)
		}, s.stage1.TransferProposalErrorResponse), nil
}

// TransferCommence answers a TRANSFER_COMMENCE_REQUEST.
func (s *Server) TransferCommence(ctx context.Context, req *satp.TransferCommenceRequest,
) (*satp.TransferCommenceResponse, error) {
	return handle(s, "TransferCommence", commonSessionID(req.Common),
		func(session *satp.Session) (*satp.TransferCommenceResponse, error) {
			if err := s.stage1.CheckTransferCommenceRequest(ctx, req, session); err != nil {
				return nil, err
			}

			return s.stage1.TransferCommenceResponse(ctx, session)
		}, s.stage1.TransferCommenceErrorResponse), nil
}

// LockAssertion acknowledges a LOCK_ASSERT.
func (s *Server) LockAssertion(ctx context.Context, req *satp.LockAssertionRequest,
) (*satp.LockAssertionReceipt, error) {
	return handle(s, "LockAssertion", commonSessionID(req.Common),
		func(session *satp.Session) (*satp.LockAssertionReceipt, error) {
			if err := s.stage2.CheckLockAssertionRequest(ctx, req, session); err != nil {
				return nil, err
			}

			return s.stage2.LockAssertionResponse(ctx, session)
		}, s.stage2.LockAssertionErrorResponse), nil
}

// CommitPreparation mints the receiver asset and answers with COMMIT_READY.
func (s *Server) CommitPreparation(ctx context.Context, req *satp.CommitPreparationRequest,
) (*satp.CommitReadyResponse, error) {
	return handle(s, "CommitPreparation", commonSessionID(req.Common),
		func(session *satp.Session) (*satp.CommitReadyResponse, error) {
			if err := s.stage3.CheckCommitPreparationRequest(ctx, req, session); err != nil {
				return nil, err
			}

			if err := s.stage3.MintAsset(ctx, session); err != nil {
				return nil, err
			}

			return s.stage3.CommitReady(ctx, session)
		}, s.stage3.CommitReadyErrorResponse), nil
}

// CommitFinalAssertion assigns the receiver asset and answers with ACK_COMMIT_FINAL.
func (s *Server) CommitFinalAssertion(ctx context.Context, req *satp.CommitFinalAssertionRequest,
) (*satp.CommitFinalAcknowledgementReceiptResponse, error) {
	return handle(s, "CommitFinalAssertion", commonSessionID(req.Common),
		func(session *satp.Session) (*satp.CommitFinalAcknowledgementReceiptResponse, error) {
			if err := s.stage3.CheckCommitFinalAssertionRequest(ctx, req, session); err != nil {
				return nil, err
			}

			if err := s.stage3.AssignAsset(ctx, session); err != nil {
				return nil, err
			}

			return s.stage3.CommitFinalAcknowledgementReceiptResponse(ctx, session)
		}, s.stage3.CommitFinalAcknowledgementErrorResponse), nil
}

// TransferComplete completes the session.
func (s *Server) TransferComplete(ctx context.Context, req *satp.TransferCompleteRequest,
) (*satp.TransferCompleteResponse, error) {
	return handle(s, "TransferComplete", commonSessionID(req.Common),
		func(session *satp.Session) (*satp.TransferCompleteResponse, error) {
			if err := s.stage3.CheckTransferCompleteRequest(ctx, req, session); err != nil {
				return nil, err
			}

			return s.stage3.TransferCompleteResponse(ctx, session)
		}, s.stage3.TransferCompleteErrorResponse), nil
}

// crashSession checks that the crash service is served and that the session of id exists.
func (s *Server) crashSession(id string) error {
	if s.crash == nil {
		return status.Error(codes.Unimplemented, "crash service not supported")
	}

	if _, ok := s.sessions.Session(id); !ok {
		return status.Errorf(codes.NotFound, "session %q not found", id)
	}

	return nil
}

// Rollback hands a rollback notice to the crash handler.
func (s *Server) Rollback(ctx context.Context, req *RollbackRequest) (*RollbackResponse, error) {
	if err := s.crashSession(req.SessionID); err != nil {
		return nil, err
	}

	s.log.Warn().Str("session_id", req.SessionID).Str("gateway", req.GatewayID).Str("stage", req.Stage.String()).
		Msg("rollback requested by counterparty")

	return s.crash.HandleRollback(ctx, req)
}

// Recover hands a recovery request to the crash handler.
func (s *Server) Recover(ctx context.Context, req *RecoverRequest) (*RecoverResponse, error) {
	if err := s.crashSession(req.SessionID); err != nil {
		return nil, err
	}

	s.log.Info().Str("session_id", req.SessionID).Str("gateway", req.GatewayID).Uint64("sequence", req.SequenceNumber).
		Msg("recovery requested by counterparty")

	return s.crash.HandleRecover(ctx, req)
}

// RecoverSuccess hands the end of a recovery exchange to the crash handler.
func (s *Server) RecoverSuccess(ctx context.Context, req *RecoverSuccessRequest) (*RecoverSuccessResponse, error) {
	if err := s.crashSession(req.SessionID); err != nil {
		return nil, err
	}

	return s.crash.HandleRecoverSuccess(ctx, req)
}
