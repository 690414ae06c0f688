package signer

import (
	"crypto/ed25519"
	"encoding/hex"
	"testing"

	"github.com/stretchr/testify/require"
)

// Reference signature vectors require a specific Ed25519 private key
// this suite does not have, so it verifies the documented encoding
// layout and the sign/verify round trip instead.

func TestEncodeShieldEvent_Layout(t *testing.T) {
	msg, err := EncodeShieldEvent(0, 1, []string{"0x1234"})
	require.NoError(t, err)

	want := []byte{byte(0x01)}
	want = append(want, 0, 0, 0, 0, 0, 0, 0, 0) // index=0
	want = append(want, 0, 0, 0, 0, 0, 0, 0, 1) // startingIndex=1
	want = append(want, 0x12, 0x34)
	require.Equal(t, want, msg)
}

func TestEncodeTransactEvent_Layout(t *testing.T) {
	proof := []byte("MOCK_SNARK_PROOF")
	msg, err := EncodeTransactEvent(0, 1, []string{"0x1234", "0x2345"}, proof)
	require.NoError(t, err)

	want := []byte{byte(0x02)}
	want = append(want, 0, 0, 0, 0, 0, 0, 0, 0)
	want = append(want, 0, 0, 0, 0, 0, 0, 0, 1)
	want = append(want, 0x12, 0x34, 0x23, 0x45)
	want = append(want, proof...)
	require.Equal(t, want, msg)
}

func TestEncodeShieldVsTransact_DomainSeparated(t *testing.T) {
	shieldMsg, err := EncodeShieldEvent(0, 0, []string{"0x1234"})
	require.NoError(t, err)
	transactMsg, err := EncodeTransactEvent(0, 0, []string{"0x1234"}, nil)
	require.NoError(t, err)
	require.NotEqual(t, shieldMsg, transactMsg)
	require.Equal(t, byte(0x01), shieldMsg[0])
	require.Equal(t, byte(0x02), transactMsg[0])
}

func TestEncodeBlockedShield_Layout(t *testing.T) {
	msg, err := EncodeBlockedShield("0x5678", "0x1234", "reason")
	require.NoError(t, err)
	want := append([]byte{0x56, 0x78}, 0x12, 0x34)
	want = append(want, []byte("reason")...)
	require.Equal(t, want, msg)
}

func TestEncodeBlockedShield_NoReason(t *testing.T) {
	msg, err := EncodeBlockedShield("0x5678", "0x1234", "")
	require.NoError(t, err)
	require.Equal(t, []byte{0x56, 0x78, 0x12, 0x34}, msg)
}

func TestSignVerify_RoundTrip(t *testing.T) {
	s, err := Generate()
	require.NoError(t, err)

	msg, err := EncodeShieldEvent(0, 1, []string{"0x1234"})
	require.NoError(t, err)
	sig := s.Sign(msg)

	require.True(t, Verify(msg, sig, s.PublicKey()))
	require.False(t, Verify(msg, []byte("1234"), s.PublicKey()), "garbage signature must not verify")
}

func TestSignVerify_TamperedMessageFailsVerification(t *testing.T) {
	s, err := Generate()
	require.NoError(t, err)

	msg, err := EncodeShieldEvent(0, 1, []string{"0x1234"})
	require.NoError(t, err)
	sig := s.Sign(msg)

	tampered, err := EncodeShieldEvent(0, 1, []string{"0x1235"})
	require.NoError(t, err)
	require.False(t, Verify(tampered, sig, s.PublicKey()))
}

func TestListKey_IsHexPublicKey(t *testing.T) {
	s, err := Generate()
	require.NoError(t, err)

	decoded, err := hex.DecodeString(s.ListKey())
	require.NoError(t, err)
	require.Equal(t, []byte(s.PublicKey()), decoded)
	require.Len(t, decoded, ed25519.PublicKeySize)
}

func TestNew_RejectsWrongKeySize(t *testing.T) {
	_, err := New(make([]byte, 10))
	require.Error(t, err)
}
