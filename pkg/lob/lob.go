// Package lob implements the large-object reference tag and session spool
// described in spec §3/§4.B/§6: blob/clob fields never carry their payload
// inline, only a (provider, id) pair plus a reference tag binding that pair
// to the transaction that minted it, "so that clients cannot forge
// references". Grounded on a secrets package's key handling: a single
// process-wide key derived once, HMAC rather than AES-GCM sealing since a
// reference tag only needs to be unforgeable, not confidential.
package lob

import (
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"encoding/binary"
	"fmt"
)

// TagSize is the truncated HMAC-SHA256 length used for a reference tag -
// long enough to be unforgeable, short enough to keep the wire encoding
// (spec §4.B blob/clob tag) compact.
const TagSize = 16

// Signer mints and verifies reference tags binding a LOB's (provider, id)
// pair to the transaction surrogate id that produced it (spec §6:
// "a cryptographic check computed from (tx_surrogate_id, object_id)").
type Signer struct {
	key []byte // 32 bytes, process-lifetime
}

// NewSigner constructs a Signer around an explicit 32-byte key.
func NewSigner(key []byte) (*Signer, error) {
	if len(key) != 32 {
		return nil, fmt.Errorf("lob: signer key must be 32 bytes, got %d", len(key))
	}
	return &Signer{key: append([]byte(nil), key...)}, nil
}

// NewRandomSigner generates a fresh random key, for a single-process demo
// binary that has no external key-management service to defer to.
func NewRandomSigner() (*Signer, error) {
	key := make([]byte, 32)
	if _, err := rand.Read(key); err != nil {
		return nil, fmt.Errorf("lob: generate signer key: %w", err)
	}
	return &Signer{key: key}, nil
}

func (s *Signer) mac(txSurrogateID, objectID uint64) []byte {
	var msg [16]byte
	binary.BigEndian.PutUint64(msg[0:8], txSurrogateID)
	binary.BigEndian.PutUint64(msg[8:16], objectID)
	h := hmac.New(sha256.New, s.key)
	h.Write(msg[:])
	return h.Sum(nil)[:TagSize]
}

// Sign produces the reference tag for a (tx_surrogate_id, object_id) pair.
func (s *Signer) Sign(txSurrogateID, objectID uint64) []byte {
	return s.mac(txSurrogateID, objectID)
}

// Verify reports whether tag was produced by Sign for the same pair,
// using a constant-time comparison so a forged tag cannot be distinguished
// from a wrong guess by timing (spec §6 "reference tag ... prevents
// forgery").
func (s *Signer) Verify(txSurrogateID, objectID uint64, tag []byte) bool {
	want := s.mac(txSurrogateID, objectID)
	return hmac.Equal(want, tag)
}
