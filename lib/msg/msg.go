// Package msg defines the interface of the remote log repository backed by a message broker.
package msg

import (
	"context"
	"sync"

	"github.com/tarancss/satp/lib/msg/types"
)

// RemoteLogRepository publishes signed log proofs and rollback notices so the counterparty and auditors can follow
// a session without access to the local store.
type RemoteLogRepository interface {
	Setup() error
	Close() error

	PublishLog(gateway string, l types.RemoteLog) error
	PublishRollback(gateway string, n types.RollbackNotice) error

	// GetLogs consumes the log proofs published by gateway until ctx is done. A message is acknowledged once mut is
	// unlocked. Both channels are closed when consumption stops.
	GetLogs(ctx context.Context, gateway string, mut *sync.Mutex) (<-chan types.RemoteLog, <-chan error, error)
}
