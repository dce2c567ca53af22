// Package bridge resolves SATP networks to ledger leaves and exposes the custody primitives used by the stage and
// rollback logic.
package bridge

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/pkg/errors"
	"go.opentelemetry.io/otel/attribute"

	"github.com/tarancss/satp/lib/bridge/ethereum"
	"github.com/tarancss/satp/lib/bridge/memory"
	"github.com/tarancss/satp/lib/bridge/types"
	"github.com/tarancss/satp/lib/config"
	"github.com/tarancss/satp/lib/log"
	"github.com/tarancss/satp/lib/monitor"
	"github.com/tarancss/satp/lib/satp"
)

// DefaultTimeout bounds every custody call.
const DefaultTimeout = 30 * time.Second

// Account pays for ledger calls.
type Account struct {
	Address string
	Key     string
}

// Signer signs assertion claims.
type Signer interface {
	Sign(data []byte) (string, error)
}

// ClientInterface is what the gateway core needs from the bridge layer.
type ClientInterface interface {
	GetBridgeEndPoint(id satp.NetworkID, format satp.ClaimFormat) (types.Leaf, error)
	GetSATPExecutionLayer(id satp.NetworkID, format satp.ClaimFormat) (ExecutionLayer, error)
	GetAvailableEndPoints() []satp.NetworkID
	GetApproveAddress(id satp.NetworkID, tokenType satp.TokenType) (string, error)
}

// Manager is the registry of deployed leaves, keyed by network.
type Manager struct {
	mu      sync.RWMutex
	leaves  map[string]types.Leaf
	log     log.Logger
	mon     *monitor.Service
	signer  Signer
	timeout time.Duration
}

// NewManager returns an empty manager. signer may be nil, in which case claims are unsigned.
func NewManager(l log.Logger, mon *monitor.Service, signer Signer, timeout time.Duration) *Manager {
	if mon == nil {
		mon = monitor.Disabled()
	}

	if timeout <= 0 {
		timeout = DefaultTimeout
	}

	return &Manager{
		leaves:  make(map[string]types.Leaf),
		log:     l.Module("bridge"),
		mon:     mon,
		signer:  signer,
		timeout: timeout,
	}
}

// Init deploys a leaf for every configured network. Unsupported ledgers are logged and ignored.
func Init(nets []config.NetworkConfig, acc Account, m *Manager) error {
	for _, n := range nets {
		var leaf types.Leaf

		switch n.LedgerType {
		case satp.LedgerEthereum, satp.LedgerBesu1, satp.LedgerBesu2:
			e, err := ethereum.Init(ethereum.Config{
				Network:     n.NetworkID(),
				Node:        n.Node,
				Secret:      n.Secret,
				Contract:    n.ContractAddress,
				ClaimFormat: n.ClaimFormat,
				Address:     acc.Address,
				Key:         acc.Key,
				GasPrice:    n.GasPrice,
				Log:         m.log.Module("ethereum"),
			})
			if err != nil {
				return errors.Wrapf(err, "connecting to %s", n.ID)
			}

			leaf = e
		case satp.LedgerMemory:
			leaf = memory.New(n.NetworkID(), n.ClaimFormat)
		default:
			m.log.Warn().Str("network", n.ID).Str("ledger", string(n.LedgerType)).
				Msg("bridge leaf not defined for ledger type, ignoring")

			continue
		}

		if err := m.DeployLeaf(leaf); err != nil {
			leaf.Close()

			return err
		}
	}

	return nil
}

// DeployLeaf registers a leaf for its network.
func (m *Manager) DeployLeaf(leaf types.Leaf) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	key := leaf.NetworkID().Key()
	if _, ok := m.leaves[key]; ok {
		return errors.Wrap(types.ErrLeafExists, key)
	}

	m.leaves[key] = leaf
	m.log.Info().Str("network", key).Msg("bridge leaf deployed")

	return nil
}

// Close closes every leaf.
func (m *Manager) Close() {
	m.mu.Lock()
	defer m.mu.Unlock()

	for k, leaf := range m.leaves {
		leaf.Close()
		delete(m.leaves, k)
	}
}

// GetBridgeEndPoint returns the leaf of a network. The leaf must produce claims in format.
func (m *Manager) GetBridgeEndPoint(id satp.NetworkID, format satp.ClaimFormat) (types.Leaf, error) {
	m.mu.RLock()
	leaf, ok := m.leaves[id.Key()]
	m.mu.RUnlock()

	if !ok {
		return nil, errors.Wrap(types.ErrNoBridge, id.Key())
	}

	if leaf.ClaimFormat() != format {
		return nil, errors.Wrapf(types.ErrClaimFormat, "%s on %s", format, id.Key())
	}

	return leaf, nil
}

// GetSATPExecutionLayer returns the custody primitives of a network.
func (m *Manager) GetSATPExecutionLayer(id satp.NetworkID, format satp.ClaimFormat) (ExecutionLayer, error) {
	leaf, err := m.GetBridgeEndPoint(id, format)
	if err != nil {
		return nil, err
	}

	return &executionLayer{leaf: leaf, m: m}, nil
}

// GetAvailableEndPoints returns the networks with a deployed leaf, sorted by key.
func (m *Manager) GetAvailableEndPoints() []satp.NetworkID {
	m.mu.RLock()
	defer m.mu.RUnlock()

	ids := make([]satp.NetworkID, 0, len(m.leaves))
	for _, leaf := range m.leaves {
		ids = append(ids, leaf.NetworkID())
	}

	sort.Slice(ids, func(i, j int) bool { return ids[i].Key() < ids[j].Key() })

	return ids
}

// GetApproveAddress returns the address owners approve on a network for a token type.
func (m *Manager) GetApproveAddress(id satp.NetworkID, tokenType satp.TokenType) (string, error) {
	m.mu.RLock()
	leaf, ok := m.leaves[id.Key()]
	m.mu.RUnlock()

	if !ok {
		return "", errors.Wrap(types.ErrNoBridge, id.Key())
	}

	return leaf.ApproveAddress(tokenType)
}

// ExecutionLayer runs custody operations on one network and returns their assertion claims.
type ExecutionLayer interface {
	WrapAsset(ctx context.Context, asset satp.Asset) (*satp.AssertionClaim, error)
	UnwrapAsset(ctx context.Context, asset satp.Asset) (*satp.AssertionClaim, error)
	LockAsset(ctx context.Context, asset satp.Asset) (*satp.AssertionClaim, error)
	UnlockAsset(ctx context.Context, asset satp.Asset) (*satp.AssertionClaim, error)
	MintAsset(ctx context.Context, asset satp.Asset) (*satp.AssertionClaim, error)
	BurnAsset(ctx context.Context, asset satp.Asset) (*satp.AssertionClaim, error)
	AssignAsset(ctx context.Context, asset satp.Asset) (*satp.AssertionClaim, error)
}

type executionLayer struct {
	leaf types.Leaf
	m    *Manager
}

func (e *executionLayer) WrapAsset(ctx context.Context, a satp.Asset) (*satp.AssertionClaim, error) {
	return e.run(ctx, types.OpWrap, a, e.leaf.Wrap)
}

func (e *executionLayer) UnwrapAsset(ctx context.Context, a satp.Asset) (*satp.AssertionClaim, error) {
	return e.run(ctx, types.OpUnwrap, a, e.leaf.Unwrap)
}

func (e *executionLayer) LockAsset(ctx context.Context, a satp.Asset) (*satp.AssertionClaim, error) {
	return e.run(ctx, types.OpLock, a, e.leaf.Lock)
}

func (e *executionLayer) UnlockAsset(ctx context.Context, a satp.Asset) (*satp.AssertionClaim, error) {
	return e.run(ctx, types.OpUnlock, a, e.leaf.Unlock)
}

func (e *executionLayer) MintAsset(ctx context.Context, a satp.Asset) (*satp.AssertionClaim, error) {
	return e.run(ctx, types.OpMint, a, e.leaf.Mint)
}

func (e *executionLayer) BurnAsset(ctx context.Context, a satp.Asset) (*satp.AssertionClaim, error) {
	return e.run(ctx, types.OpBurn, a, e.leaf.Burn)
}

func (e *executionLayer) AssignAsset(ctx context.Context, a satp.Asset) (*satp.AssertionClaim, error) {
	return e.run(ctx, types.OpAssign, a, e.leaf.Assign)
}

func (e *executionLayer) run(ctx context.Context, op types.Operation, asset satp.Asset,
	fn func(context.Context, satp.Asset) (types.Receipt, error)) (*satp.AssertionClaim, error) {
	ctx, span := e.m.mon.StartSpan(ctx, "bridge#"+string(op),
		attribute.String("network", e.leaf.NetworkID().Key()), attribute.String("token", asset.TokenID))
	defer span.End()

	ctx, cancel := context.WithTimeout(ctx, e.m.timeout)
	defer cancel()

	r, err := fn(ctx, asset)
	if err != nil {
		e.m.mon.RecordError(span, err)
		e.m.log.Error().Err(err).Str("op", string(op)).Str("token", asset.TokenID).Msg("custody operation failed")

		return nil, err
	}

	e.m.mon.UpdateCounter(monitor.CustodyOperations, 1)
	e.m.log.Debug().Str("op", string(op)).Str("token", asset.TokenID).Str("tx", r.TxID).Msg("custody operation")

	return Claim(r, e.m.signer)
}

// Claim builds the assertion claim of a receipt: the canonical receipt, its transaction id as proof and, when signer is
// set, the gateway signature of the receipt.
func Claim(r types.Receipt, signer Signer) (*satp.AssertionClaim, error) {
	b, err := satp.Canonical(r)
	if err != nil {
		return nil, errors.Wrap(err, "encoding receipt")
	}

	c := &satp.AssertionClaim{Receipt: string(b), Proof: r.TxID}

	if signer != nil {
		if c.Signature, err = signer.Sign(b); err != nil {
			return nil, errors.Wrap(err, "signing receipt")
		}
	}

	return c, nil
}
