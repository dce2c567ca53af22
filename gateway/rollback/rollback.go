// Package rollback undoes the custody side effects of a SATP session that crashed before completing. The crashed stage
// decides the compensation: unwrap for stage 0, nothing for stage 1, unlock for stage 2, mint back and burn for
// stage 3.
package rollback

import (
	"context"

	"github.com/pkg/errors"

	"github.com/tarancss/satp/lib/bridge"
	"github.com/tarancss/satp/lib/log"
	"github.com/tarancss/satp/lib/monitor"
	"github.com/tarancss/satp/lib/satp"
)

// Status of a rollback run.
type Status string

// Rollback statuses.
const (
	StatusInProgress Status = "IN_PROGRESS"
	StatusCompleted  Status = "COMPLETED"
	StatusFailed     Status = "FAILED"
)

// Log entry statuses.
const (
	EntrySuccess = "SUCCESS"
	EntryFailed  = "FAILED"
)

// Actions recorded in log entries.
const (
	ActionUnwrap         = "UNWRAP"
	ActionUnlock         = "UNLOCK"
	ActionMint           = "MINT"
	ActionBurn           = "BURN"
	ActionNoActionClient = "NO_ACTION_REQUIRED_CLIENT"
	ActionNoActionServer = "NO_ACTION_REQUIRED_SERVER"
)

// Errors returned by the package. They are structural: retrying the same rollback cannot fix them.
var (
	ErrAllStagesComplete = errors.New("no rollback needed as all stages are complete")
	ErrNoSessionData     = errors.New("session data is missing")
	ErrNoSession         = errors.New("session is missing")
	ErrNoNetwork         = errors.New("network id is missing")
	ErrNoBridgeManager   = errors.New("rollback strategy needs a bridge manager")
)

// LogEntry records one compensating action.
type LogEntry struct {
	SessionID string     `json:"sessionId"`
	Stage     satp.Stage `json:"stage"`
	Role      satp.Role  `json:"role"`
	Timestamp string     `json:"timestamp"`
	Action    string     `json:"action"`
	Status    string     `json:"status"`
	Details   string     `json:"details,omitempty"`
}

// State is the outcome of a rollback run.
type State struct {
	SessionID    string     `json:"sessionId"`
	CurrentStage satp.Stage `json:"currentStage"`
	Status       Status     `json:"status"`
	Entries      []LogEntry `json:"rollbackLogEntries"`
}

// Failed reports whether any entry failed.
func (s *State) Failed() bool {
	for _, e := range s.Entries {
		if e.Status == EntryFailed {
			return true
		}
	}

	return false
}

// Strategy compensates the side effects of one crashed stage.
type Strategy interface {
	// Stage returns the crashed stage handled.
	Stage() satp.Stage
	// Execute runs the compensation of role. Custody failures are recorded in the returned state; only structural
	// problems are returned as errors.
	Execute(ctx context.Context, session *satp.Session, role satp.Role) (*State, error)
	// Cleanup runs after a successful Execute. It returns state unchanged.
	Cleanup(ctx context.Context, session *satp.Session, state *State) (*State, error)
}

// Factory builds the strategy of the stage a session crashed in.
type Factory struct {
	bridges bridge.ClientInterface
	mon     *monitor.Service
	log     log.Logger
}

// NewFactory returns a factory. bridges may be nil when only stage 1 rollbacks are expected.
func NewFactory(bridges bridge.ClientInterface, mon *monitor.Service, l log.Logger) *Factory {
	if mon == nil {
		mon = monitor.Disabled()
	}

	return &Factory{bridges: bridges, mon: mon, log: l.Module("rollback")}
}

// CreateStrategy returns the strategy of the crashed stage of sd, or ErrAllStagesComplete.
func (f *Factory) CreateStrategy(sd *satp.SessionData) (Strategy, error) {
	if sd == nil {
		return nil, ErrNoSessionData
	}

	st := satp.GetCrashedStage(sd)

	f.log.Debug().Str("session_id", sd.ID).Stringer("stage", st).Msg("crashed stage")

	base := strategy{stage: st, bridges: f.bridges, mon: f.mon, log: f.log.Session(sd.ID)}

	switch st {
	case satp.Stage0:
		if f.bridges == nil {
			return nil, ErrNoBridgeManager
		}

		return &Stage0Strategy{base}, nil
	case satp.Stage1:
		base.bridges = nil

		return &Stage1Strategy{base}, nil
	case satp.Stage2:
		if f.bridges == nil {
			return nil, ErrNoBridgeManager
		}

		return &Stage2Strategy{base}, nil
	case satp.Stage3:
		if f.bridges == nil {
			return nil, ErrNoBridgeManager
		}

		return &Stage3Strategy{base}, nil
	}

	return nil, ErrAllStagesComplete
}
