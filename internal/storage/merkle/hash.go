package merkle

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"hash"

	"golang.org/x/crypto/blake2s"
)

// HashSize is the digest length of every supported algorithm.
const HashSize = 32

// Hash is a node digest.
type Hash [HashSize]byte

// String returns the hex encoding.
func (h Hash) String() string {
	return hex.EncodeToString(h[:])
}

// ParseHash decodes a hex string produced by Hash.String.
func ParseHash(s string) (Hash, error) {
	var h Hash
	b, err := hex.DecodeString(s)
	if err != nil {
		return h, fmt.Errorf("parse hash: %w", err)
	}
	if len(b) != HashSize {
		return h, fmt.Errorf("parse hash: got %d bytes, want %d", len(b), HashSize)
	}
	copy(h[:], b)
	return h, nil
}

// Domain separation prefixes.
const (
	leafPrefix     byte = 0x00
	internalPrefix byte = 0x01
)

// Algorithm selects the node hash function.
type Algorithm string

const (
	SHA256  Algorithm = "sha256"
	BLAKE2s Algorithm = "blake2s"
)

// ParseAlgorithm accepts "" as SHA256.
func ParseAlgorithm(s string) (Algorithm, error) {
	switch Algorithm(s) {
	case "", SHA256:
		return SHA256, nil
	case BLAKE2s:
		return BLAKE2s, nil
	default:
		return "", fmt.Errorf("unknown hash algorithm %q", s)
	}
}

func (a Algorithm) hasher() hash.Hash {
	if a == BLAKE2s {
		h, _ := blake2s.New256(nil)
		return h
	}
	return sha256.New()
}

// LeafHash returns H(0x00 || key || value).
//
// Key and value are concatenated without a length prefix, so ("ab","c")
// and ("a","bc") collide. Keys are expected to come from a namespace
// where that cannot happen.
func (a Algorithm) LeafHash(key, value []byte) Hash {
	h := a.hasher()
	h.Write([]byte{leafPrefix})
	h.Write(key)
	h.Write(value)
	var out Hash
	h.Sum(out[:0])
	return out
}

// InternalHash returns H(0x01 || left || right).
func (a Algorithm) InternalHash(left, right Hash) Hash {
	h := a.hasher()
	h.Write([]byte{internalPrefix})
	h.Write(left[:])
	h.Write(right[:])
	var out Hash
	h.Sum(out[:0])
	return out
}
