package gateway

import (
	"github.com/pkg/errors"

	"github.com/tarancss/satp/gateway/crash"
	"github.com/tarancss/satp/gateway/rpc"
	"github.com/tarancss/satp/lib/config"
)

// counterparty returns the identity and the cached connection of the gateway serving networkID, dialing it on first
// use.
func (g *Gateway) counterparty(networkID string) (config.GatewayIdentity, *rpc.Client, error) {
	id, ok := g.cfg.Counterparty(networkID)
	if !ok {
		return id, nil, errors.Wrap(ErrNoCounterparty, networkID)
	}

	g.mu.Lock()
	defer g.mu.Unlock()

	if c, ok := g.peers[id.ID]; ok {
		return id, c, nil
	}

	c, err := rpc.Dial(id.Address, g.mon, g.dialOpts...)
	if err != nil {
		return id, nil, err
	}

	g.peers[id.ID] = c
	g.log.Info().Str("peer", id.ID).Str("address", id.Address).Msg("connected to counterparty gateway")

	return id, c, nil
}

// Notifier returns the connection to the gateway serving networkID, used to send rollback notices.
func (g *Gateway) Notifier(networkID string) (crash.Notifier, error) {
	_, c, err := g.counterparty(networkID)
	if err != nil {
		return nil, err
	}

	return c, nil
}
