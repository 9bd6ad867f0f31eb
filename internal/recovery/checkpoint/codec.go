package checkpoint

import (
	"bytes"
	"crypto/sha256"
	"encoding/binary"
	"fmt"

	"github.com/vmihailenco/msgpack/v5"

	"github.com/yndnr/vmstate-go/internal/core/domain"
	"github.com/yndnr/vmstate-go/pkg/crypto/adaptive"
)

// Archive layout:
//
//	[magic:8 "VMSCKPT1"]
//	[HeaderLen:4][Header:HeaderLen]   msgpack archiveHeader
//	[DataLen:4][Data:DataLen]         msgpack state, optionally sealed
//	[checksum:32 SHA-256 of all bytes above]
var magicBytes = []byte("VMSCKPT1")

const (
	checksumSize  = sha256.Size
	headerVersion = 1
)

type archiveHeader struct {
	Version   int                 `msgpack:"version"`
	ID        string              `msgpack:"id"`
	Timestamp int64               `msgpack:"timestamp"`
	Keys      int                 `msgpack:"keys"`
	Cipher    adaptive.CipherType `msgpack:"cipher,omitempty"`
	Salt      []byte              `msgpack:"salt,omitempty"`
}

// ArchiveOptions controls Encode. An empty Passphrase writes plaintext.
type ArchiveOptions struct {
	Passphrase []byte
	Cipher     adaptive.CipherType
}

// Encode serializes cp for handoff to external storage.
func Encode(cp *Checkpoint, opts ArchiveOptions) ([]byte, error) {
	if cp == nil {
		return nil, domain.ErrInvalidArgument.WithDetails("nil checkpoint")
	}

	hdr := archiveHeader{
		Version:   headerVersion,
		ID:        cp.ID,
		Timestamp: cp.Timestamp,
		Keys:      len(cp.State),
	}

	var aead adaptive.Cipher
	if len(opts.Passphrase) > 0 {
		salt, err := adaptive.NewSalt()
		if err != nil {
			return nil, err
		}
		aead, err = adaptive.NewFromPassphrase(opts.Passphrase, salt, opts.Cipher)
		if err != nil {
			return nil, fmt.Errorf("checkpoint: archive cipher: %w", err)
		}
		hdr.Cipher = aead.Type()
		hdr.Salt = salt
	}

	hdrBytes, err := marshal(&hdr)
	if err != nil {
		return nil, fmt.Errorf("checkpoint: encode header: %w", err)
	}
	data, err := marshal(map[string][]byte(cp.State))
	if err != nil {
		return nil, fmt.Errorf("checkpoint: encode state: %w", err)
	}
	if aead != nil {
		if data, err = aead.Encrypt(data, aad(hdrBytes)); err != nil {
			return nil, fmt.Errorf("checkpoint: seal state: %w", err)
		}
	}

	var buf bytes.Buffer
	buf.Grow(len(magicBytes) + 8 + len(hdrBytes) + len(data) + checksumSize)
	buf.Write(magicBytes)
	writeChunk(&buf, hdrBytes)
	writeChunk(&buf, data)
	sum := sha256.Sum256(buf.Bytes())
	buf.Write(sum[:])
	return buf.Bytes(), nil
}

// Decode parses an archive produced by Encode. passphrase is required
// only for sealed archives.
func Decode(archive, passphrase []byte) (*Checkpoint, error) {
	if len(archive) < len(magicBytes)+8+checksumSize {
		return nil, domain.ErrCorruptArchive.WithDetails("archive too short")
	}
	body, trailer := archive[:len(archive)-checksumSize], archive[len(archive)-checksumSize:]
	if sum := sha256.Sum256(body); !bytes.Equal(sum[:], trailer) {
		return nil, domain.ErrCorruptArchive.WithDetails("checksum mismatch")
	}
	if !bytes.Equal(body[:len(magicBytes)], magicBytes) {
		return nil, domain.ErrCorruptArchive.WithDetails("invalid magic bytes")
	}

	rest := body[len(magicBytes):]
	hdrBytes, rest, err := readChunk(rest)
	if err != nil {
		return nil, err
	}
	data, rest, err := readChunk(rest)
	if err != nil {
		return nil, err
	}
	if len(rest) != 0 {
		return nil, domain.ErrCorruptArchive.WithDetailsf("%d trailing bytes", len(rest))
	}

	var hdr archiveHeader
	if err := unmarshal(hdrBytes, &hdr); err != nil {
		return nil, domain.ErrCorruptArchive.WithCause(err)
	}
	if hdr.Version != headerVersion {
		return nil, domain.ErrCorruptArchive.WithDetailsf("unsupported version %d", hdr.Version)
	}

	if hdr.Cipher != "" {
		if len(passphrase) == 0 {
			return nil, domain.ErrInvalidArgument.WithDetails("archive is encrypted, passphrase required")
		}
		aead, err := adaptive.NewFromPassphrase(passphrase, hdr.Salt, hdr.Cipher)
		if err != nil {
			return nil, domain.ErrCorruptArchive.WithCause(err)
		}
		if data, err = aead.Decrypt(data, aad(hdrBytes)); err != nil {
			return nil, domain.ErrCorruptArchive.WithDetails("decryption failed").WithCause(err)
		}
	}

	var state map[string][]byte
	if err := unmarshal(data, &state); err != nil {
		return nil, domain.ErrCorruptArchive.WithCause(err)
	}
	if len(state) != hdr.Keys {
		return nil, domain.ErrCorruptArchive.WithDetailsf("header declares %d keys, payload has %d", hdr.Keys, len(state))
	}
	if state == nil {
		state = make(map[string][]byte)
	}
	for k, v := range state {
		if v == nil {
			state[k] = []byte{}
		}
	}
	return &Checkpoint{ID: hdr.ID, Timestamp: hdr.Timestamp, State: domain.SystemState(state)}, nil
}

// aad binds the sealed payload to the magic and header.
func aad(hdr []byte) []byte {
	out := make([]byte, 0, len(magicBytes)+len(hdr))
	out = append(out, magicBytes...)
	return append(out, hdr...)
}

func writeChunk(buf *bytes.Buffer, b []byte) {
	var n [4]byte
	binary.BigEndian.PutUint32(n[:], uint32(len(b)))
	buf.Write(n[:])
	buf.Write(b)
}

func readChunk(b []byte) (chunk, rest []byte, err error) {
	if len(b) < 4 {
		return nil, nil, domain.ErrCorruptArchive.WithDetails("truncated length")
	}
	n := binary.BigEndian.Uint32(b[:4])
	b = b[4:]
	if uint64(n) > uint64(len(b)) {
		return nil, nil, domain.ErrCorruptArchive.WithDetails("truncated chunk")
	}
	return b[:n], b[n:], nil
}

func marshal(v any) ([]byte, error) {
	var buf bytes.Buffer
	enc := msgpack.GetEncoder()
	defer msgpack.PutEncoder(enc)
	enc.Reset(&buf)
	enc.SetSortMapKeys(true)
	if err := enc.Encode(v); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func unmarshal(b []byte, v any) error {
	dec := msgpack.GetDecoder()
	defer msgpack.PutDecoder(dec)
	dec.Reset(bytes.NewReader(b))
	return dec.Decode(v)
}
