package rpc

import (
	"github.com/pkg/errors"

	"github.com/tarancss/satp/gateway/stage"
	"github.com/tarancss/satp/lib/satp"
	"github.com/tarancss/satp/lib/signer"
)

// Errors returned by Seal and Open.
var (
	ErrUnsigned     = errors.New("recovery message is not signed")
	ErrBadSignature = errors.New("recovery message signature does not verify")
)

// Sealed is a crash recovery message signed by its sender.
type Sealed interface {
	SignatureField() *string
}

func encode(m Sealed) ([]byte, error) {
	f := m.SignatureField()
	sig := *f
	*f = ""

	defer func() { *f = sig }()

	return satp.Canonical(m)
}

// Seal signs the canonical encoding of m, without its signature, with s.
func Seal(s stage.Signer, m Sealed) error {
	*m.SignatureField() = ""

	b, err := encode(m)
	if err != nil {
		return errors.Wrap(err, "encoding recovery message")
	}

	sig, err := s.Sign(b)
	if err != nil {
		return errors.Wrap(err, "signing recovery message")
	}

	*m.SignatureField() = sig

	return nil
}

// Open checks the signature of m against pubkey.
func Open(pubkey string, m Sealed) error {
	sig := *m.SignatureField()
	if sig == "" {
		return ErrUnsigned
	}

	b, err := encode(m)
	if err != nil {
		return errors.Wrap(err, "encoding recovery message")
	}

	ok, err := signer.Verify(pubkey, b, sig)
	if err != nil {
		return errors.Wrap(ErrBadSignature, err.Error())
	}

	if !ok {
		return ErrBadSignature
	}

	return nil
}
