package checkpoint

import (
	"errors"
	"testing"

	"github.com/yndnr/vmstate-go/internal/core/domain"
	"github.com/yndnr/vmstate-go/pkg/crypto/adaptive"
)

func sampleCheckpoint() *Checkpoint {
	return &Checkpoint{
		ID:        "checkpoint-42",
		Timestamp: 42,
		State: domain.SystemState{
			"balance": []byte("100"),
			"empty":   {},
			"owner":   []byte("alice"),
		},
	}
}

func TestEncodeDecode_Plain(t *testing.T) {
	cp := sampleCheckpoint()

	data, err := Encode(cp, ArchiveOptions{})
	if err != nil {
		t.Fatalf("Encode() error = %v", err)
	}
	got, err := Decode(data, nil)
	if err != nil {
		t.Fatalf("Decode() error = %v", err)
	}
	if got.ID != cp.ID || got.Timestamp != cp.Timestamp {
		t.Errorf("Decode() = %s/%d, want %s/%d", got.ID, got.Timestamp, cp.ID, cp.Timestamp)
	}
	if !got.State.Equal(cp.State) {
		t.Errorf("State = %v, want %v", got.State, cp.State)
	}
	if got.State["empty"] == nil {
		t.Error("empty value decoded as nil")
	}
}

func TestEncode_Deterministic(t *testing.T) {
	a, _ := Encode(sampleCheckpoint(), ArchiveOptions{})
	b, _ := Encode(sampleCheckpoint(), ArchiveOptions{})
	if string(a) != string(b) {
		t.Error("plain archives of equal checkpoints differ")
	}
}

func TestEncodeDecode_Sealed(t *testing.T) {
	for _, typ := range []adaptive.CipherType{adaptive.CipherAESGCM, adaptive.CipherChaCha20} {
		t.Run(string(typ), func(t *testing.T) {
			pass := []byte("archive-passphrase")
			data, err := Encode(sampleCheckpoint(), ArchiveOptions{Passphrase: pass, Cipher: typ})
			if err != nil {
				t.Fatalf("Encode() error = %v", err)
			}

			got, err := Decode(data, pass)
			if err != nil {
				t.Fatalf("Decode() error = %v", err)
			}
			if !got.State.Equal(sampleCheckpoint().State) {
				t.Errorf("State = %v", got.State)
			}

			if _, err := Decode(data, nil); !errors.Is(err, domain.ErrInvalidArgument) {
				t.Errorf("Decode(no passphrase) err = %v, want ErrInvalidArgument", err)
			}
			if _, err := Decode(data, []byte("wrong-passphrase")); !errors.Is(err, domain.ErrCorruptArchive) {
				t.Errorf("Decode(wrong passphrase) err = %v, want ErrCorruptArchive", err)
			}
		})
	}
}

func TestDecode_Corruption(t *testing.T) {
	good, _ := Encode(sampleCheckpoint(), ArchiveOptions{})

	tests := []struct {
		name   string
		mutate func([]byte) []byte
	}{
		{"too short", func(b []byte) []byte { return b[:10] }},
		{"flipped payload byte", func(b []byte) []byte { b[20] ^= 0xFF; return b }},
		{"flipped checksum", func(b []byte) []byte { b[len(b)-1] ^= 0xFF; return b }},
		{"truncated", func(b []byte) []byte { return b[:len(b)-1] }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			data := tt.mutate(append([]byte(nil), good...))
			if _, err := Decode(data, nil); !errors.Is(err, domain.ErrCorruptArchive) {
				t.Errorf("Decode() err = %v, want ErrCorruptArchive", err)
			}
		})
	}
}

func TestEncode_Nil(t *testing.T) {
	if _, err := Encode(nil, ArchiveOptions{}); !errors.Is(err, domain.ErrInvalidArgument) {
		t.Errorf("Encode(nil) err = %v, want ErrInvalidArgument", err)
	}
}

func TestEncode_WeakPassphrase(t *testing.T) {
	if _, err := Encode(sampleCheckpoint(), ArchiveOptions{Passphrase: []byte("short")}); err == nil {
		t.Error("Encode() with weak passphrase should fail")
	}
}
