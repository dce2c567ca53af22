package rpc

import (
	"context"

	"github.com/pkg/errors"
	"go.opentelemetry.io/contrib/instrumentation/google.golang.org/grpc/otelgrpc"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"

	"github.com/tarancss/satp/lib/monitor"
	"github.com/tarancss/satp/lib/satp"
)

// Client calls the SATP services of a counterparty gateway.
type Client struct {
	address string
	conn    *grpc.ClientConn
}

// Dial connects to the gateway at address. opts are appended to the default options.
func Dial(address string, mon *monitor.Service, opts ...grpc.DialOption) (*Client, error) {
	if mon == nil {
		mon = monitor.Disabled()
	}

	base := []grpc.DialOption{
		grpc.WithTransportCredentials(insecure.NewCredentials()),
		grpc.WithStatsHandler(otelgrpc.NewClientHandler(otelgrpc.WithTracerProvider(mon.TracerProvider()))),
		grpc.WithDefaultCallOptions(
			grpc.ForceCodec(codec{}),
			grpc.MaxCallRecvMsgSize(MaxMessageSize),
			grpc.MaxCallSendMsgSize(MaxMessageSize),
		),
	}

	conn, err := grpc.Dial(address, append(base, opts...)...)
	if err != nil {
		return nil, errors.Wrapf(err, "dialing %s", address)
	}

	return &Client{address: address, conn: conn}, nil
}

// Address returns the address of the counterparty.
func (c *Client) Address() string { return c.address }

// Close closes the connection.
func (c *Client) Close() error { return c.conn.Close() }

func invoke[Resp any](ctx context.Context, c *Client, service, method string, req interface{}) (*Resp, error) {
	resp := new(Resp)

	if err := c.conn.Invoke(ctx, "/"+service+"/"+method, req, resp); err != nil {
		return nil, errors.Wrapf(err, "calling %s on %s", method, c.address)
	}

	return resp, nil
}

// NewSession sends a NEW_SESSION_REQUEST.
func (c *Client) NewSession(ctx context.Context, req *satp.NewSessionRequest) (*satp.NewSessionResponse, error) {
	return invoke[satp.NewSessionResponse](ctx, c, Stage0ServiceName, "NewSession", req)
}

// PreSATPTransfer sends a PRE_SATP_TRANSFER_REQUEST.
func (c *Client) PreSATPTransfer(ctx context.Context, req *satp.PreSATPTransferRequest,
) (*satp.PreSATPTransferResponse, error) {
	return invoke[satp.PreSATPTransferResponse](ctx, c, Stage0ServiceName, "PreSATPTransfer", req)
}

// TransferProposal sends an INIT_PROPOSAL.
func (c *Client) TransferProposal(ctx context.Context, req *satp.TransferProposalRequest,
) (*satp.TransferProposalResponse, error) {
	return invoke[satp.TransferProposalResponse](ctx, c, Stage1ServiceName, "TransferProposal", req)
}

// TransferCommence sends a TRANSFER_COMMENCE_REQUEST.
func (c *Client) TransferCommence(ctx context.Context, req *satp.TransferCommenceRequest,
) (*satp.TransferCommenceResponse, error) {
	return invoke[satp.TransferCommenceResponse](ctx, c, Stage1ServiceName, "TransferCommence", req)
}

// LockAssertion sends a LOCK_ASSERT.
func (c *Client) LockAssertion(ctx context.Context, req *satp.LockAssertionRequest,
) (*satp.LockAssertionReceipt, error) {
	return invoke[satp.LockAssertionReceipt](ctx, c, Stage2ServiceName, "LockAssertion", req)
}

// CommitPreparation sends a COMMIT_PREPARE.
func (c *Client) CommitPreparation(ctx context.Context, req *satp.CommitPreparationRequest,
) (*satp.CommitReadyResponse, error) {
	return invoke[satp.CommitReadyResponse](ctx, c, Stage3ServiceName, "CommitPreparation", req)
}

// CommitFinalAssertion sends a COMMIT_FINAL.
func (c *Client) CommitFinalAssertion(ctx context.Context, req *satp.CommitFinalAssertionRequest,
) (*satp.CommitFinalAcknowledgementReceiptResponse, error) {
	return invoke[satp.CommitFinalAcknowledgementReceiptResponse](ctx, c, Stage3ServiceName, "CommitFinalAssertion",
		req)
}

// TransferComplete sends a COMMIT_TRANSFER_COMPLETE.
func (c *Client) TransferComplete(ctx context.Context, req *satp.TransferCompleteRequest,
) (*satp.TransferCompleteResponse, error) {
	return invoke[satp.TransferCompleteResponse](ctx, c, Stage3ServiceName, "TransferComplete", req)
}

// Rollback notifies the counterparty of a rollback.
func (c *Client) Rollback(ctx context.Context, req *RollbackRequest) (*RollbackResponse, error) {
	return invoke[RollbackResponse](ctx, c, CrashServiceName, "Rollback", req)
}

// Recover asks the counterparty for the log rows of a session.
func (c *Client) Recover(ctx context.Context, req *RecoverRequest) (*RecoverResponse, error) {
	return invoke[RecoverResponse](ctx, c, CrashServiceName, "Recover", req)
}

// RecoverSuccess closes a recovery exchange.
func (c *Client) RecoverSuccess(ctx context.Context, req *RecoverSuccessRequest) (*RecoverSuccessResponse, error) {
	return invoke[RecoverSuccessResponse](ctx, c, CrashServiceName, "RecoverSuccess", req)
}
