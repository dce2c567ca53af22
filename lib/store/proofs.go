package store

import (
	"context"
	"sync"

	"github.com/pkg/errors"

	"github.com/tarancss/satp/lib/log"
	"github.com/tarancss/satp/lib/msg"
	"github.com/tarancss/satp/lib/msg/types"
	"github.com/tarancss/satp/lib/signer"
)

// Errors returned by Proofs.
var (
	ErrProofSignature = errors.New("log proof signature does not verify")
	ErrProofMismatch  = errors.New("log row does not match its published proof")
	ErrProofSigner    = errors.New("log proof was signed by another gateway")
)

// Proofs keeps the latest log proof published by counterparty gateways, by row key. It lets a gateway check the
// rows a counterparty hands over against what that counterparty published when it wrote them.
type Proofs struct {
	mu    sync.RWMutex
	byKey map[string]types.RemoteLog
	log   log.Logger
}

// NewProofs returns an empty book.
func NewProofs(l log.Logger) *Proofs {
	return &Proofs{byKey: map[string]types.RemoteLog{}, log: l.Module("proofs")}
}

// Add verifies the signature of p and stores it under its row key.
func (p *Proofs) Add(rl types.RemoteLog) error {
	ok, err := signer.Verify(rl.SignerPubkey, []byte(rl.Hash), rl.Signature)
	if err != nil {
		return errors.Wrap(ErrProofSignature, err.Error())
	}

	if !ok {
		return errors.Wrap(ErrProofSignature, rl.Key)
	}

	p.mu.Lock()
	p.byKey[rl.Key] = rl
	p.mu.Unlock()

	return nil
}

// Len returns the number of proofs held.
func (p *Proofs) Len() int {
	p.mu.RLock()
	defer p.mu.RUnlock()

	return len(p.byKey)
}

// Check compares row l with its proof. It reports false when no proof of the row is known yet. A non empty pubkey
// must match the key that signed the proof.
func (p *Proofs) Check(l LocalLog, pubkey string) (bool, error) {
	p.mu.RLock()
	rl, ok := p.byKey[l.Key]
	p.mu.RUnlock()

	if !ok {
		return false, nil
	}

	if pubkey != "" && rl.SignerPubkey != pubkey {
		return true, errors.Wrap(ErrProofSigner, l.Key)
	}

	hash, err := ProofHash(l)
	if err != nil {
		return true, errors.Wrap(err, "hashing log row")
	}

	if hash != rl.Hash {
		return true, errors.Wrap(ErrProofMismatch, l.Key)
	}

	return true, nil
}

// Follow adds the proofs gateway publishes to remote until ctx is done or the broker stops delivering.
func (p *Proofs) Follow(ctx context.Context, remote msg.RemoteLogRepository, gateway string) error {
	mut := new(sync.Mutex)
	mut.Lock()

	logs, errs, err := remote.GetLogs(ctx, gateway, mut)
	if err != nil {
		return errors.Wrapf(err, "consuming log proofs of %s", gateway)
	}

	p.log.Info().Str("gateway", gateway).Msg("following log proofs")

	for {
		select {
		case <-ctx.Done():
			return nil
		case rl, ok := <-logs:
			if !ok {
				return nil
			}

			if err := p.Add(rl); err != nil {
				p.log.Warn().Err(err).Str("gateway", gateway).Str("key", rl.Key).Msg("log proof rejected")
			}

			mut.Unlock()
		case err, ok := <-errs:
			if !ok {
				errs = nil

				continue
			}

			p.log.Error().Err(err).Str("gateway", gateway).Msg("log proof consumer")
		}
	}
}
