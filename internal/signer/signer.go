// Package signer implements the Ed25519 key holder that signs POI
// events and blocked-shield records, and exposes the list's public key
// (the listKey).
//
// The canonical signing encoding is:
//
//	domain byte (0x01 Shield, 0x02 Transact)
//	index                            big-endian uint64
//	blindedCommitmentStartingIndex   big-endian uint64
//	blindedCommitments[]             hex-decoded, concatenated in order
//	proof                            raw bytes, Transact only
//
// Ed25519 hashes the message with SHA-512 internally; no separate
// hashing step is applied before Sign.
package signer

import (
	"crypto/ed25519"
	"crypto/rand"
	"encoding/hex"

	"github.com/cockroachdb/errors"

	"github.com/zy0n/proof-of-innocence/internal/model"
)

// Signer holds a process-wide Ed25519 keypair. It has no persisted
// state beyond the key itself.
type Signer struct {
	priv ed25519.PrivateKey
	pub  ed25519.PublicKey
}

// New wraps an existing 64-byte Ed25519 private key (seed || public).
func New(priv ed25519.PrivateKey) (*Signer, error) {
	if len(priv) != ed25519.PrivateKeySize {
		return nil, errors.Newf("signer: private key must be %d bytes, got %d", ed25519.PrivateKeySize, len(priv))
	}
	pub := priv.Public().(ed25519.PublicKey)
	return &Signer{priv: priv, pub: pub}, nil
}

// Generate creates a fresh random keypair, used by tests and by
// first-run bootstrap when no key file exists yet.
func Generate() (*Signer, error) {
	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return nil, errors.Wrap(err, "generate ed25519 keypair")
	}
	return &Signer{priv: priv, pub: pub}, nil
}

// ListKey is the hex encoding (no 0x prefix) of the signer's public
// key, used as the list's stable identifier.
func (s *Signer) ListKey() string {
	return hex.EncodeToString(s.pub)
}

// PublicKey returns the raw 32-byte Ed25519 public key.
func (s *Signer) PublicKey() ed25519.PublicKey {
	return s.pub
}

// PrivateKeyBytes returns the raw 64-byte private key (seed || public)
// for persistence to the configured key file. Callers must treat the
// result as sensitive.
func (s *Signer) PrivateKeyBytes() ed25519.PrivateKey {
	return s.priv
}

// Sign signs an arbitrary pre-encoded message.
func (s *Signer) Sign(message []byte) []byte {
	return ed25519.Sign(s.priv, message)
}

// Verify checks sig over message under pub.
func Verify(message, sig, pub []byte) bool {
	if len(pub) != ed25519.PublicKeySize || len(sig) != ed25519.SignatureSize {
		return false
	}
	return ed25519.Verify(pub, message, sig)
}

// EncodeShieldEvent builds the canonical message for a Shield POI
// event. blindedCommitments and the absence of a proof identify it as
// a Shield, not Transact, event.
func EncodeShieldEvent(index, startingIndex uint64, blindedCommitments []string) ([]byte, error) {
	return encodeEvent(model.EventKindShield, index, startingIndex, blindedCommitments, nil)
}

// EncodeTransactEvent builds the canonical message for a Transact POI
// event, appending the SNARK proof's canonical byte encoding.
func EncodeTransactEvent(index, startingIndex uint64, blindedCommitments []string, proof []byte) ([]byte, error) {
	return encodeEvent(model.EventKindTransact, index, startingIndex, blindedCommitments, proof)
}

func encodeEvent(kind model.EventKind, index, startingIndex uint64, blindedCommitments []string, proof []byte) ([]byte, error) {
	buf := make([]byte, 0, 17+len(blindedCommitments)*32+len(proof))
	buf = append(buf, byte(kind))
	buf = appendUint64(buf, index)
	buf = appendUint64(buf, startingIndex)
	for _, bc := range blindedCommitments {
		decoded, err := decodeHex(bc)
		if err != nil {
			return nil, errors.Wrapf(err, "decode blinded commitment %q", bc)
		}
		buf = append(buf, decoded...)
	}
	if kind == model.EventKindTransact {
		buf = append(buf, proof...)
	}
	return buf, nil
}

// EncodeBlockedShield builds the canonical message for a blocked
// shield record: commitmentHash || blindedCommitment ||
// (blockReason ?? "").
func EncodeBlockedShield(commitmentHash, blindedCommitment, blockReason string) ([]byte, error) {
	hashBytes, err := decodeHex(commitmentHash)
	if err != nil {
		return nil, errors.Wrapf(err, "decode commitment hash %q", commitmentHash)
	}
	bcBytes, err := decodeHex(blindedCommitment)
	if err != nil {
		return nil, errors.Wrapf(err, "decode blinded commitment %q", blindedCommitment)
	}
	buf := make([]byte, 0, len(hashBytes)+len(bcBytes)+len(blockReason))
	buf = append(buf, hashBytes...)
	buf = append(buf, bcBytes...)
	buf = append(buf, []byte(blockReason)...)
	return buf, nil
}

func appendUint64(buf []byte, v uint64) []byte {
	return append(buf,
		byte(v>>56), byte(v>>48), byte(v>>40), byte(v>>32),
		byte(v>>24), byte(v>>16), byte(v>>8), byte(v))
}

// decodeHex accepts hex strings with or without a leading 0x prefix,
// matching the loose hex formatting shield adapters emit.
func decodeHex(s string) ([]byte, error) {
	if len(s) >= 2 && s[0] == '0' && (s[1] == 'x' || s[1] == 'X') {
		s = s[2:]
	}
	return hex.DecodeString(s)
}
