// Package memory implements an in-process ledger leaf for loopback gateways and tests.
package memory

import (
	"context"
	"fmt"
	"strconv"
	"sync"

	"github.com/pkg/errors"

	"github.com/tarancss/satp/lib/bridge/types"
	"github.com/tarancss/satp/lib/satp"
)

// Token is the ledger entry of one wrapped asset.
type Token struct {
	Owner   string
	Balance uint64
	Locked  uint64
}

// Ledger is an in-memory ledger.
type Ledger struct {
	mu       sync.Mutex
	network  satp.NetworkID
	format   satp.ClaimFormat
	tokens   map[string]*Token
	failures map[types.Operation]error
	history  []types.Receipt
	tx       int
}

// New returns an empty ledger for network.
func New(network satp.NetworkID, format satp.ClaimFormat) *Ledger {
	return &Ledger{
		network:  network,
		format:   format,
		tokens:   make(map[string]*Token),
		failures: make(map[types.Operation]error),
	}
}

// NetworkID returns the network served by the ledger.
func (l *Ledger) NetworkID() satp.NetworkID { return l.network }

// ClaimFormat returns the claim format of the receipts.
func (l *Ledger) ClaimFormat() satp.ClaimFormat { return l.format }

// ApproveAddress returns the escrow address of the ledger.
func (l *Ledger) ApproveAddress(tokenType satp.TokenType) (string, error) {
	switch tokenType {
	case satp.TokenFungible, satp.TokenNonFungible, satp.TokenERC20, satp.TokenERC721:
		return "memory://" + l.network.ID + "/escrow", nil
	}

	return "", errors.Wrap(types.ErrTokenType, string(tokenType))
}

// Close is a no-op.
func (l *Ledger) Close() {}

// Fail makes every following call of op return err. A nil err clears the failure.
func (l *Ledger) Fail(op types.Operation, err error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if err == nil {
		delete(l.failures, op)

		return
	}

	l.failures[op] = err
}

// Token returns a copy of the ledger entry of tokenID.
func (l *Ledger) Token(tokenID string) (Token, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()

	t, ok := l.tokens[tokenID]
	if !ok {
		return Token{}, false
	}

	return *t, true
}

// History returns the receipts of every successful operation, oldest first.
func (l *Ledger) History() []types.Receipt {
	l.mu.Lock()
	defer l.mu.Unlock()

	return append([]types.Receipt(nil), l.history...)
}

// Wrap registers the asset with its amount as balance.
func (l *Ledger) Wrap(ctx context.Context, asset satp.Asset) (types.Receipt, error) {
	return l.apply(ctx, types.OpWrap, asset, func(t *Token, amt uint64) (*Token, error) {
		if t != nil {
			return nil, types.ErrWrapped
		}

		return &Token{Owner: asset.Owner, Balance: amt}, nil
	})
}

// Unwrap removes the asset. Locked amounts are released first.
func (l *Ledger) Unwrap(ctx context.Context, asset satp.Asset) (types.Receipt, error) {
	return l.apply(ctx, types.OpUnwrap, asset, func(t *Token, _ uint64) (*Token, error) {
		if t == nil {
			return nil, types.ErrNotWrapped
		}

		return nil, nil
	})
}

// Lock moves amount from balance to locked.
func (l *Ledger) Lock(ctx context.Context, asset satp.Asset) (types.Receipt, error) {
	return l.apply(ctx, types.OpLock, asset, func(t *Token, amt uint64) (*Token, error) {
		if t == nil {
			return nil, types.ErrNotWrapped
		}

		if t.Balance < amt {
			return nil, types.ErrBalance
		}

		t.Balance -= amt
		t.Locked += amt

		return t, nil
	})
}

// Unlock moves amount from locked back to balance.
func (l *Ledger) Unlock(ctx context.Context, asset satp.Asset) (types.Receipt, error) {
	return l.apply(ctx, types.OpUnlock, asset, func(t *Token, amt uint64) (*Token, error) {
		if t == nil {
			return nil, types.ErrNotWrapped
		}

		if t.Locked < amt {
			return nil, types.ErrLocked
		}

		t.Locked -= amt
		t.Balance += amt

		return t, nil
	})
}

// Mint adds amount to the balance, creating the entry when the asset was not wrapped.
func (l *Ledger) Mint(ctx context.Context, asset satp.Asset) (types.Receipt, error) {
	return l.apply(ctx, types.OpMint, asset, func(t *Token, amt uint64) (*Token, error) {
		if t == nil {
			t = &Token{Owner: asset.Owner}
		}

		t.Balance += amt

		return t, nil
	})
}

// Burn destroys amount of the asset, taken from the locked amount when enough is locked and from the balance
// otherwise.
func (l *Ledger) Burn(ctx context.Context, asset satp.Asset) (types.Receipt, error) {
	return l.apply(ctx, types.OpBurn, asset, func(t *Token, amt uint64) (*Token, error) {
		if t == nil {
			return nil, types.ErrNotWrapped
		}

		switch {
		case t.Locked >= amt:
			t.Locked -= amt
		case t.Balance >= amt:
			t.Balance -= amt
		default:
			return nil, types.ErrBalance
		}

		return t, nil
	})
}

// Assign hands the balance of the asset to its owner.
func (l *Ledger) Assign(ctx context.Context, asset satp.Asset) (types.Receipt, error) {
	return l.apply(ctx, types.OpAssign, asset, func(t *Token, amt uint64) (*Token, error) {
		if t == nil {
			return nil, types.ErrNotWrapped
		}

		if t.Balance < amt {
			return nil, types.ErrBalance
		}

		t.Owner = asset.Owner

		return t, nil
	})
}

func (l *Ledger) apply(ctx context.Context, op types.Operation, asset satp.Asset,
	fn func(t *Token, amt uint64) (*Token, error)) (types.Receipt, error) {
	r := types.Receipt{
		Operation: op,
		Network:   l.network,
		TokenID:   asset.TokenID,
		Amount:    asset.Amount,
		Owner:     asset.Owner,
		Status:    types.TrxFailed,
	}

	if err := ctx.Err(); err != nil {
		return r, err
	}

	amt, err := parseAmount(asset.Amount)
	if err != nil {
		return r, err
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	if err := l.failures[op]; err != nil {
		return r, errors.Wrapf(err, "%s on %s", op, l.network)
	}

	t, err := fn(l.tokens[asset.TokenID], amt)
	if err != nil {
		return r, errors.Wrapf(err, "%s %s on %s", op, asset.TokenID, l.network)
	}

	if t == nil {
		delete(l.tokens, asset.TokenID)
	} else {
		l.tokens[asset.TokenID] = t
	}

	l.tx++
	r.TxID = fmt.Sprintf("mem-%s-%d", l.network.ID, l.tx)
	r.Status = types.TrxSuccess
	r.Timestamp = satp.Now()
	l.history = append(l.history, r)

	return r, nil
}

func parseAmount(s string) (uint64, error) {
	if s == "" {
		return 0, nil
	}

	v, err := strconv.ParseUint(s, 0, 64)
	if err != nil {
		return 0, errors.Wrap(types.ErrAmount, s)
	}

	return v, nil
}
