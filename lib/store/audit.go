package store

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"strconv"
	"time"

	"github.com/tarancss/satp/lib/log"
	"github.com/tarancss/satp/lib/msg"
	"github.com/tarancss/satp/lib/msg/types"
)

// ProofSigner signs the hash of a log row for the remote repository.
type ProofSigner interface {
	Sign(data []byte) (string, error)
	PubKey() string
}

// Entry is what a stage step records.
type Entry struct {
	SessionID      string
	Type           string
	Operation      string
	Data           []byte
	SequenceNumber uint64
}

// Auditor writes audit rows to the local repository and their signed proofs to the remote one. Failures never reach
// the caller: they are logged and the protocol step carries on with its own result.
type Auditor struct {
	gateway string
	local   LogRepository
	remote  msg.RemoteLogRepository
	signer  ProofSigner
	log     log.Logger
}

// NewAuditor returns an Auditor. remote and signer may be nil, in which case nothing is published.
func NewAuditor(gateway string, local LogRepository, remote msg.RemoteLogRepository, signer ProofSigner,
	l log.Logger,
) *Auditor {
	return &Auditor{gateway: gateway, local: local, remote: remote, signer: signer, log: l.Module("audit")}
}

// Repository returns the local repository.
func (a *Auditor) Repository() LogRepository { return a.local }

// Persist stores the entry and returns the row written.
func (a *Auditor) Persist(ctx context.Context, e Entry) LocalLog {
	l := LocalLog{
		Key:            LogKey(e.SessionID, e.Type, e.Operation),
		SessionID:      e.SessionID,
		Type:           e.Type,
		Operation:      e.Operation,
		Timestamp:      strconv.FormatInt(time.Now().UnixMilli(), 10),
		Data:           string(e.Data),
		SequenceNumber: e.SequenceNumber,
	}

	if a == nil {
		return l
	}

	if a.local != nil {
		if err := a.local.Create(ctx, l); err != nil {
			a.log.Error().Err(err).Str("key", l.Key).Msg("failed to store log")
		}
	}

	if a.remote != nil && a.signer != nil {
		if err := a.publish(l); err != nil {
			a.log.Error().Err(err).Str("key", l.Key).Msg("failed to publish log proof")
		}
	}

	return l
}

// ProofHash returns the hash a gateway publishes as the proof of row l.
func ProofHash(l LocalLog) (string, error) {
	b, err := json.Marshal(l)
	if err != nil {
		return "", err
	}

	sum := sha256.Sum256(b)

	return hex.EncodeToString(sum[:]), nil
}

func (a *Auditor) publish(l LocalLog) error {
	hash, err := ProofHash(l)
	if err != nil {
		return err
	}

	sig, err := a.signer.Sign([]byte(hash))
	if err != nil {
		return err
	}

	return a.remote.PublishLog(a.gateway, types.RemoteLog{
		Key:          l.Key,
		SessionID:    l.SessionID,
		Type:         l.Type,
		Operation:    l.Operation,
		Timestamp:    l.Timestamp,
		Hash:         hash,
		Signature:    sig,
		SignerPubkey: a.signer.PubKey(),
	})
}

// Rollback publishes a rollback notice. Failures are logged.
func (a *Auditor) Rollback(n types.RollbackNotice) {
	if a == nil || a.remote == nil {
		return
	}

	n.GatewayID = a.gateway
	if n.Timestamp == "" {
		n.Timestamp = strconv.FormatInt(time.Now().UnixMilli(), 10)
	}

	if err := a.remote.PublishRollback(a.gateway, n); err != nil {
		a.log.Error().Err(err).Str("session_id", n.SessionID).Msg("failed to publish rollback notice")
	}
}
