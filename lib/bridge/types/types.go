// Package types common bridge types shared by the manager and the ledger leaves.
package types

import (
	"context"

	"github.com/pkg/errors"

	"github.com/tarancss/satp/lib/satp"
)

// Operation is a custody primitive executed by a leaf.
type Operation string

// Custody operations.
const (
	OpWrap   Operation = "wrap"
	OpUnwrap Operation = "unwrap"
	OpLock   Operation = "lock"
	OpUnlock Operation = "unlock"
	OpMint   Operation = "mint"
	OpBurn   Operation = "burn"
	OpAssign Operation = "assign"
)

// Transaction status constants
const (
	TrxPending uint8 = 0
	TrxFailed  uint8 = 1
	TrxSuccess uint8 = 2
)

// Receipt is the ledger evidence of a custody operation.
type Receipt struct {
	Operation Operation      `json:"operation"`
	Network   satp.NetworkID `json:"network"`
	TokenID   string         `json:"tokenId"`
	Amount    string         `json:"amount,omitempty"`
	Owner     string         `json:"owner,omitempty"`
	TxID      string         `json:"txId"`
	Data      string         `json:"data,omitempty"`
	Fee       uint64         `json:"fee,omitempty"`
	Status    uint8          `json:"status"`
	Timestamp string         `json:"timestamp"`
}

// Leaf executes custody operations on one ledger. Implementations must be safe for concurrent use.
type Leaf interface {
	NetworkID() satp.NetworkID
	ClaimFormat() satp.ClaimFormat
	ApproveAddress(tokenType satp.TokenType) (string, error)
	Wrap(ctx context.Context, asset satp.Asset) (Receipt, error)
	Unwrap(ctx context.Context, asset satp.Asset) (Receipt, error)
	Lock(ctx context.Context, asset satp.Asset) (Receipt, error)
	Unlock(ctx context.Context, asset satp.Asset) (Receipt, error)
	Mint(ctx context.Context, asset satp.Asset) (Receipt, error)
	Burn(ctx context.Context, asset satp.Asset) (Receipt, error)
	Assign(ctx context.Context, asset satp.Asset) (Receipt, error)
	Close()
}

// Error codes.
var (
	ErrNoBridge          = errors.New("no bridge found for network")
	ErrLeafExists        = errors.New("bridge leaf already deployed for network")
	ErrClaimFormat       = errors.New("claim format not supported by bridge leaf")
	ErrLedgerUnsupported = errors.New("ledger type not supported")
	ErrTokenType         = errors.New("token type not supported")
	ErrNoToken           = errors.New("token not found")
	ErrWrapped           = errors.New("token already wrapped")
	ErrNotWrapped        = errors.New("token not wrapped")
	ErrBalance           = errors.New("insufficient balance")
	ErrLocked            = errors.New("insufficient locked amount")
	ErrAmount            = errors.New("invalid amount")
	ErrWrongAmt          = errors.New("amount length exceeds maximum (32)")
	ErrSendTokenData     = errors.New("cannot send token and data at same time")
	ErrNoContract        = errors.New("SATP wrapper contract address missing")
	ErrNoAccount         = errors.New("ledger account missing")
)
