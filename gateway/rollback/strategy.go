package rollback

import (
	"context"

	"github.com/pkg/errors"

	"github.com/tarancss/satp/lib/bridge"
	"github.com/tarancss/satp/lib/log"
	"github.com/tarancss/satp/lib/monitor"
	"github.com/tarancss/satp/lib/satp"
)

// handler compensates one role and returns the action taken. A returned error is recorded as a FAILED entry.
type handler func(ctx context.Context, sd *satp.SessionData) (string, error)

// strategy carries the run loop shared by the stage strategies.
type strategy struct {
	stage   satp.Stage
	bridges bridge.ClientInterface
	mon     *monitor.Service
	log     log.Logger
}

func (s *strategy) Stage() satp.Stage { return s.stage }

func (s *strategy) Cleanup(_ context.Context, _ *satp.Session, state *State) (*State, error) {
	return state, nil
}

// run builds a fresh state and appends exactly one entry per compensated role.
func (s *strategy) run(ctx context.Context, session *satp.Session, role satp.Role, client, server handler,
) (*State, error) {
	if session == nil {
		return nil, ErrNoSession
	}

	ctx, span := s.mon.StartSpan(ctx, "rollback#"+s.stage.String())
	defer span.End()

	state := &State{SessionID: session.ID(), CurrentStage: s.stage, Status: StatusInProgress}

	steps := []struct {
		role satp.Role
		has  bool
		h    handler
	}{
		{satp.RoleClient, session.HasClientSessionData(), client},
		{satp.RoleServer, session.HasServerSessionData(), server},
	}

	for _, step := range steps {
		if role != step.role || !step.has {
			continue
		}

		sd, err := session.SessionData(step.role)
		if err != nil {
			return nil, err
		}

		if sd.SenderGatewayNetworkID == "" && sd.RecipientGatewayNetworkID == "" {
			return nil, errors.Wrap(ErrNoNetwork, session.ID())
		}

		state.Entries = append(state.Entries, s.entry(ctx, sd, step.role, step.h))
	}

	state.Status = StatusCompleted
	if state.Failed() {
		state.Status = StatusFailed
		s.mon.UpdateCounter(monitor.FailedRollbacks, 1)
		s.mon.RecordError(span, errors.Errorf("rollback of %s failed", session.ID()))
	}

	s.mon.UpdateCounter(monitor.RollbacksTotal, 1)
	s.log.Info().Str("session_id", session.ID()).Str("status", string(state.Status)).Int("entries",
		len(state.Entries)).Msg("rollback executed")

	return state, nil
}

func (s *strategy) entry(ctx context.Context, sd *satp.SessionData, role satp.Role, h handler) LogEntry {
	e := LogEntry{SessionID: sd.ID, Stage: s.stage, Role: role, Status: EntrySuccess}

	action, err := h(ctx, sd)
	e.Action = action
	e.Timestamp = satp.Now()

	if err != nil {
		e.Status = EntryFailed
		e.Details = err.Error()
		s.log.Error().Err(err).Str("session_id", sd.ID).Str("action", action).Msg("compensation failed")
	}

	return e
}

// custody resolves the execution layer of network and runs op on asset.
func (s *strategy) custody(ctx context.Context, network satp.NetworkID, format satp.ClaimFormat, asset *satp.Asset,
	op func(bridge.ExecutionLayer, context.Context, satp.Asset) (*satp.AssertionClaim, error),
) error {
	if asset == nil {
		return errors.New("asset is missing")
	}

	el, err := s.bridges.GetSATPExecutionLayer(network, format)
	if err != nil {
		return err
	}

	_, err = op(el, ctx, *asset)

	return err
}

func noAction(action string) handler {
	return func(context.Context, *satp.SessionData) (string, error) { return action, nil }
}

// Stage0Strategy unwraps the asset wrapped during stage 0: the sender asset on the client, the receiver asset on the
// server.
type Stage0Strategy struct{ strategy }

// Execute unwraps the asset of role.
func (s *Stage0Strategy) Execute(ctx context.Context, session *satp.Session, role satp.Role) (*State, error) {
	return s.run(ctx, session, role,
		func(ctx context.Context, sd *satp.SessionData) (string, error) {
			return ActionUnwrap, s.custody(ctx, sd.SenderNetwork(), sd.TransferClaimsFormat, sd.SenderAsset,
				bridge.ExecutionLayer.UnwrapAsset)
		},
		func(ctx context.Context, sd *satp.SessionData) (string, error) {
			return ActionUnwrap, s.custody(ctx, sd.RecipientNetwork(), sd.TransferClaimsFormat, sd.ReceiverAsset,
				bridge.ExecutionLayer.UnwrapAsset)
		})
}

// Stage1Strategy acknowledges a stage 1 crash. Nothing is held on a ledger yet.
type Stage1Strategy struct{ strategy }

// Execute records the no-action entry of role.
func (s *Stage1Strategy) Execute(ctx context.Context, session *satp.Session, role satp.Role) (*State, error) {
	return s.run(ctx, session, role, noAction(ActionNoActionClient), noAction(ActionNoActionServer))
}

// Stage2Strategy releases the lock taken by the client. The recipient network holds nothing at this point.
type Stage2Strategy struct{ strategy }

// Execute unlocks the sender asset on the client.
func (s *Stage2Strategy) Execute(ctx context.Context, session *satp.Session, role satp.Role) (*State, error) {
	return s.run(ctx, session, role,
		func(ctx context.Context, sd *satp.SessionData) (string, error) {
			return ActionUnlock, s.custody(ctx, sd.SenderNetwork(), sd.TransferClaimsFormat, sd.SenderAsset,
				bridge.ExecutionLayer.UnlockAsset)
		},
		noAction(ActionNoActionServer))
}

// Stage3Strategy reverts the burn and mint pair: the client mints the sender asset back, the server burns what it
// minted.
type Stage3Strategy struct{ strategy }

// Execute mints back on the client and burns on the server.
func (s *Stage3Strategy) Execute(ctx context.Context, session *satp.Session, role satp.Role) (*State, error) {
	return s.run(ctx, session, role,
		func(ctx context.Context, sd *satp.SessionData) (string, error) {
			return ActionMint, s.custody(ctx, sd.SenderNetwork(), sd.TransferClaimsFormat, sd.SenderAsset,
				bridge.ExecutionLayer.MintAsset)
		},
		func(ctx context.Context, sd *satp.SessionData) (string, error) {
			return ActionBurn, s.custody(ctx, sd.RecipientNetwork(), sd.TransferClaimsFormat, sd.ReceiverAsset,
				bridge.ExecutionLayer.BurnAsset)
		})
}
