package merkle

import (
	"bytes"
	"fmt"

	"github.com/vmihailenco/msgpack/v5"
)

// Sibling is one step of an inclusion proof. IsRight reports that the
// sibling sits to the right of the running hash.
type Sibling struct {
	IsRight bool `msgpack:"r"`
	Hash    Hash `msgpack:"h"`
}

// Proof is an inclusion proof for one key. A nil Value cannot be
// verified; absence proofs are not supported.
type Proof struct {
	Key       []byte
	Value     []byte
	Siblings  []Sibling
	Algorithm Algorithm
}

// wireProof carries HasValue because msgpack decodes an empty bin as nil.
type wireProof struct {
	Key       []byte    `msgpack:"k"`
	Value     []byte    `msgpack:"v"`
	HasValue  bool      `msgpack:"p"`
	Siblings  []Sibling `msgpack:"s"`
	Algorithm Algorithm `msgpack:"a"`
}

// Verify recomputes the root from the proof and compares it to root.
// A proof naming an unknown algorithm never verifies.
func (p *Proof) Verify(root Hash) bool {
	if p == nil || p.Value == nil {
		return false
	}
	alg, err := ParseAlgorithm(string(p.Algorithm))
	if err != nil {
		return false
	}

	cur := alg.LeafHash(p.Key, p.Value)
	for _, s := range p.Siblings {
		if s.IsRight {
			cur = alg.InternalHash(cur, s.Hash)
		} else {
			cur = alg.InternalHash(s.Hash, cur)
		}
	}
	return cur == root
}

// Verify is the free-function form of Proof.Verify.
func Verify(p *Proof, root Hash) bool {
	return p.Verify(root)
}

// MarshalBinary encodes the proof with msgpack.
func (p *Proof) MarshalBinary() ([]byte, error) {
	var buf bytes.Buffer
	enc := msgpack.GetEncoder()
	defer msgpack.PutEncoder(enc)
	enc.Reset(&buf)
	w := wireProof{
		Key:       p.Key,
		Value:     p.Value,
		HasValue:  p.Value != nil,
		Siblings:  p.Siblings,
		Algorithm: p.Algorithm,
	}
	if err := enc.Encode(&w); err != nil {
		return nil, fmt.Errorf("encode proof: %w", err)
	}
	return buf.Bytes(), nil
}

// UnmarshalBinary decodes a proof produced by MarshalBinary.
func (p *Proof) UnmarshalBinary(data []byte) error {
	dec := msgpack.GetDecoder()
	defer msgpack.PutDecoder(dec)
	dec.Reset(bytes.NewReader(data))
	var w wireProof
	if err := dec.Decode(&w); err != nil {
		return fmt.Errorf("decode proof: %w", err)
	}
	if w.HasValue && w.Value == nil {
		w.Value = []byte{}
	}
	*p = Proof{
		Key:       w.Key,
		Value:     w.Value,
		Siblings:  w.Siblings,
		Algorithm: w.Algorithm,
	}
	return nil
}
