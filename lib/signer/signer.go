// Package signer holds the gateway key pair and signs the canonical bytes of SATP messages with secp256k1 ECDSA.
// Public keys travel hex encoded in compressed form.
package signer

import (
	"crypto/ecdsa"
	"crypto/sha256"
	"encoding/hex"
	"strings"

	"github.com/ethereum/go-ethereum/crypto"
	"github.com/pkg/errors"
	"github.com/tarancss/hd"
)

// Errors returned by the package.
var (
	ErrBadKey       = errors.New("invalid private key")
	ErrBadPubkey    = errors.New("invalid public key")
	ErrBadSignature = errors.New("invalid signature encoding")
)

// Signer signs with one private key.
type Signer struct {
	key    *ecdsa.PrivateKey
	pubkey string
}

// New returns a signer for a hex encoded private key.
func New(hexKey string) (*Signer, error) {
	b, err := hex.DecodeString(strings.TrimPrefix(hexKey, "0x"))
	if err != nil {
		return nil, errors.Wrap(ErrBadKey, err.Error())
	}

	return fromBytes(b)
}

// Generate returns a signer with a fresh random key.
func Generate() (*Signer, error) {
	k, err := crypto.GenerateKey()
	if err != nil {
		return nil, errors.Wrap(err, "generating key")
	}

	return &Signer{key: k, pubkey: hex.EncodeToString(crypto.CompressPubkey(&k.PublicKey))}, nil
}

// FromSeed derives the key of the HD address (wallet, external chain, id) from a hex seed.
func FromSeed(hexSeed string, wallet, id uint32) (*Signer, error) {
	seed, err := hex.DecodeString(strings.TrimPrefix(hexSeed, "0x"))
	if err != nil {
		return nil, errors.Wrap(err, "decoding seed")
	}

	w, err := hd.Init(seed)
	if err != nil {
		return nil, errors.Wrap(err, "initialising HD wallet")
	}

	_, key, _, err := w.Address(wallet, hd.External, id)
	if err != nil {
		return nil, errors.Wrapf(err, "deriving key %d/%d", wallet, id)
	}

	return fromBytes(key)
}

func fromBytes(b []byte) (*Signer, error) {
	k, err := crypto.ToECDSA(b)
	if err != nil {
		return nil, errors.Wrap(ErrBadKey, err.Error())
	}

	return &Signer{key: k, pubkey: hex.EncodeToString(crypto.CompressPubkey(&k.PublicKey))}, nil
}

// PubKey returns the hex compressed public key.
func (s *Signer) PubKey() string {
	return s.pubkey
}

// Address returns the hex ethereum address of the key.
func (s *Signer) Address() string {
	return crypto.PubkeyToAddress(s.key.PublicKey).Hex()
}

// PrivateKeyHex returns the hex private key, as expected by ledger clients.
func (s *Signer) PrivateKeyHex() string {
	return hex.EncodeToString(crypto.FromECDSA(s.key))
}

// Sign returns the hex signature of the SHA-256 digest of data.
func (s *Signer) Sign(data []byte) (string, error) {
	digest := sha256.Sum256(data)

	sig, err := crypto.Sign(digest[:], s.key)
	if err != nil {
		return "", errors.Wrap(err, "signing")
	}

	return hex.EncodeToString(sig), nil
}

// Verify checks a hex signature made by Sign over data against a hex public key.
func Verify(pubkey string, data []byte, signature string) (bool, error) {
	pk, err := hex.DecodeString(strings.TrimPrefix(pubkey, "0x"))
	if err != nil || len(pk) == 0 {
		return false, ErrBadPubkey
	}

	sig, err := hex.DecodeString(signature)
	if err != nil {
		return false, ErrBadSignature
	}

	// drop the recovery id
	if len(sig) == crypto.SignatureLength {
		sig = sig[:crypto.SignatureLength-1]
	}

	if len(sig) != crypto.SignatureLength-1 {
		return false, ErrBadSignature
	}

	digest := sha256.Sum256(data)

	return crypto.VerifySignature(pk, digest[:], sig), nil
}
