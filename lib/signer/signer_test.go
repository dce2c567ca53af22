package signer

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const seed = "642ce4e20f09c9f4d285c2b336063eaafbe4cb06dece8134f3a64bdd8f8c0c24df73e1a2e7056359b6db61e179ff45e5ada51d14f07b30becb6d92b961d35df4"

func TestSignVerify(t *testing.T) {
	s, err := Generate()
	require.NoError(t, err)
	assert.Len(t, s.PubKey(), 66)

	data := []byte(`{"common":{"messageType":"INIT_PROPOSAL"}}`)
	sig, err := s.Sign(data)
	require.NoError(t, err)

	ok, err := Verify(s.PubKey(), data, sig)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = Verify(s.PubKey(), []byte(`{"common":{"messageType":"INIT_REJECT"}}`), sig)
	require.NoError(t, err)
	assert.False(t, ok)

	other, err := Generate()
	require.NoError(t, err)

	ok, err = Verify(other.PubKey(), data, sig)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestVerifyBadInput(t *testing.T) {
	s, err := Generate()
	require.NoError(t, err)

	_, err = Verify("zz", nil, "00")
	assert.ErrorIs(t, err, ErrBadPubkey)

	_, err = Verify(s.PubKey(), nil, "abc")
	assert.ErrorIs(t, err, ErrBadSignature)

	_, err = Verify(s.PubKey(), nil, "0011")
	assert.ErrorIs(t, err, ErrBadSignature)
}

func TestFromSeedIsDeterministic(t *testing.T) {
	a, err := FromSeed(seed, 0, 0)
	require.NoError(t, err)
	b, err := FromSeed("0x"+seed, 0, 0)
	require.NoError(t, err)
	c, err := FromSeed(seed, 0, 1)
	require.NoError(t, err)

	assert.Equal(t, a.PubKey(), b.PubKey())
	assert.NotEqual(t, a.PubKey(), c.PubKey())

	again, err := New(a.PrivateKeyHex())
	require.NoError(t, err)
	assert.Equal(t, a.PubKey(), again.PubKey())
	assert.Equal(t, a.Address(), again.Address())
}

func TestNewBadKey(t *testing.T) {
	_, err := New("not-hex")
	assert.ErrorIs(t, err, ErrBadKey)

	_, err = New("00")
	assert.ErrorIs(t, err, ErrBadKey)
}
