// Package ethereum implements a bridge leaf for ethereum-type ledgers (Ethereum, Besu). Custody operations are calls to
// the SATP wrapper contract deployed at the configured address.
package ethereum

import (
	"context"
	"encoding/hex"
	"math/big"
	"sync"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/pkg/errors"
	"github.com/tarancss/ethcli"

	"github.com/tarancss/satp/lib/bridge/types"
	"github.com/tarancss/satp/lib/log"
	"github.com/tarancss/satp/lib/satp"
)

// Wrapper contract signatures. Token ids are hashed into bytes32.
const (
	SigWrap   = "wrap(bytes32,address,uint256)"
	SigUnwrap = "unwrap(bytes32)"
	SigLock   = "lock(bytes32,uint256)"
	SigUnlock = "unlock(bytes32,uint256)"
	SigMint   = "mint(bytes32,uint256)"
	SigBurn   = "burn(bytes32,uint256)"
	SigAssign = "assign(bytes32,address,uint256)"
)

// MethodID returns the keccak-256 selector of a function signature.
func MethodID(sig string) []byte {
	return crypto.Keccak256([]byte(sig))[:4]
}

// Config of an ethereum leaf. Node contains the url (ie. http://localhost:8545) and Secret is optional when Basic
// Authentication is required by the node. Address and Key are the gateway account paying for the calls.
type Config struct {
	Network     satp.NetworkID
	Node        string
	Secret      string
	Contract    string
	ClaimFormat satp.ClaimFormat
	Address     string
	Key         string
	GasPrice    uint64
	DryRun      bool
	Log         log.Logger
}

// sender is the subset of ethcli used by the leaf.
type sender interface {
	SendTrx(fromAddress, toAddress, token, amount string, data []byte, key string, priceIn uint64,
		dryRun bool) (price, gas uint64, hash []byte, err error)
	End() error
}

// Ethereum implements a connection to an ethereum-type ledger.
type Ethereum struct {
	c    sender
	conf Config
	mu   sync.Mutex // one transaction at a time keeps nonces in order
}

// Init returns a leaf connected to an ethereum node, using secret if necessary for authentication.
func Init(conf Config) (*Ethereum, error) {
	if conf.Contract == "" {
		return nil, types.ErrNoContract
	}

	if conf.Address == "" || conf.Key == "" {
		return nil, types.ErrNoAccount
	}

	c := ethcli.Init(conf.Node, conf.Secret)
	if c == nil {
		return nil, errors.New("cannot connect to ethereum node in " + conf.Node)
	}

	return &Ethereum{c: c, conf: conf}, nil
}

// NetworkID returns the network served by the leaf.
func (e *Ethereum) NetworkID() satp.NetworkID { return e.conf.Network }

// ClaimFormat returns the claim format of the receipts produced by the leaf.
func (e *Ethereum) ClaimFormat() satp.ClaimFormat { return e.conf.ClaimFormat }

// ApproveAddress returns the address owners approve so the gateway can escrow their tokens: the wrapper contract.
func (e *Ethereum) ApproveAddress(tokenType satp.TokenType) (string, error) {
	switch tokenType {
	case satp.TokenFungible, satp.TokenERC20, satp.TokenNonFungible, satp.TokenERC721:
		return e.conf.Contract, nil
	}

	return "", errors.Wrap(types.ErrTokenType, string(tokenType))
}

// Close ends the connection.
func (e *Ethereum) Close() {
	if err := e.c.End(); err != nil {
		e.conf.Log.Error().Err(err).Str("network", e.conf.Network.ID).Msg("closing ethereum client")
	}
}

// Wrap registers the asset in the wrapper contract under its owner.
func (e *Ethereum) Wrap(ctx context.Context, asset satp.Asset) (types.Receipt, error) {
	return e.call(ctx, types.OpWrap, asset, SigWrap, tokenWord(asset.TokenID), addressWord(asset.Owner),
		amountWord(asset.Amount))
}

// Unwrap removes the asset from the wrapper contract.
func (e *Ethereum) Unwrap(ctx context.Context, asset satp.Asset) (types.Receipt, error) {
	return e.call(ctx, types.OpUnwrap, asset, SigUnwrap, tokenWord(asset.TokenID))
}

// Lock escrows amount of the asset.
func (e *Ethereum) Lock(ctx context.Context, asset satp.Asset) (types.Receipt, error) {
	return e.call(ctx, types.OpLock, asset, SigLock, tokenWord(asset.TokenID), amountWord(asset.Amount))
}

// Unlock releases amount of the asset back to the owner.
func (e *Ethereum) Unlock(ctx context.Context, asset satp.Asset) (types.Receipt, error) {
	return e.call(ctx, types.OpUnlock, asset, SigUnlock, tokenWord(asset.TokenID), amountWord(asset.Amount))
}

// Mint creates amount of the asset held by the wrapper.
func (e *Ethereum) Mint(ctx context.Context, asset satp.Asset) (types.Receipt, error) {
	return e.call(ctx, types.OpMint, asset, SigMint, tokenWord(asset.TokenID), amountWord(asset.Amount))
}

// Burn destroys amount of the locked asset.
func (e *Ethereum) Burn(ctx context.Context, asset satp.Asset) (types.Receipt, error) {
	return e.call(ctx, types.OpBurn, asset, SigBurn, tokenWord(asset.TokenID), amountWord(asset.Amount))
}

// Assign transfers amount of the asset to its owner.
func (e *Ethereum) Assign(ctx context.Context, asset satp.Asset) (types.Receipt, error) {
	return e.call(ctx, types.OpAssign, asset, SigAssign, tokenWord(asset.TokenID), addressWord(asset.Owner),
		amountWord(asset.Amount))
}

// CallData returns the ABI encoded call of sig with the given 32 byte words.
func CallData(sig string, words ...[]byte) []byte {
	data := append([]byte{}, MethodID(sig)...)
	for _, w := range words {
		data = append(data, w...)
	}

	return data
}

func (e *Ethereum) call(ctx context.Context, op types.Operation, asset satp.Asset, sig string,
	words ...[]byte) (types.Receipt, error) {
	r := types.Receipt{
		Operation: op,
		Network:   e.conf.Network,
		TokenID:   asset.TokenID,
		Amount:    asset.Amount,
		Owner:     asset.Owner,
		Status:    types.TrxFailed,
	}

	for _, w := range words {
		if w == nil {
			return r, errors.Wrapf(types.ErrAmount, "%s %s", op, asset.Amount)
		}
	}

	data := CallData(sig, words...)
	r.Data = "0x" + hex.EncodeToString(data)

	type result struct {
		price, gas uint64
		hash       []byte
		err        error
	}

	done := make(chan result, 1)

	go func() {
		e.mu.Lock()
		defer e.mu.Unlock()

		var res result
		// token and data cannot go together, so the call is a plain contract call with no value
		res.price, res.gas, res.hash, res.err = e.c.SendTrx(e.conf.Address, e.conf.Contract, "", "0x0", data,
			e.conf.Key, e.conf.GasPrice, e.conf.DryRun)
		done <- res
	}()

	select {
	case <-ctx.Done():
		return r, errors.Wrapf(ctx.Err(), "%s on %s", op, e.conf.Network)
	case res := <-done:
		if res.err != nil {
			return r, errors.Wrapf(res.err, "%s on %s", op, e.conf.Network)
		}

		r.TxID = "0x" + hex.EncodeToString(res.hash)
		r.Fee = new(big.Int).Mul(new(big.Int).SetUint64(res.price), new(big.Int).SetUint64(res.gas)).Uint64()
		r.Status = types.TrxPending
		r.Timestamp = satp.Now()

		return r, nil
	}
}

func tokenWord(tokenID string) []byte {
	return crypto.Keccak256([]byte(tokenID))
}

func addressWord(addr string) []byte {
	return common.LeftPadBytes(common.HexToAddress(addr).Bytes(), 32)
}

// amountWord encodes a decimal or 0x prefixed amount, nil when it is not a valid uint256.
func amountWord(amount string) []byte {
	if amount == "" {
		amount = "0"
	}

	v, ok := new(big.Int).SetString(amount, 0)
	if !ok || v.Sign() < 0 || v.BitLen() > 256 {
		return nil
	}

	return common.LeftPadBytes(v.Bytes(), 32)
}
