// Package adaptive provides AEAD encryption for checkpoint archives.
//
// Supported algorithms:
//
//   - AES-256-GCM: preferred on platforms with hardware AES
//   - ChaCha20-Poly1305: fallback elsewhere
//
// Keys are either raw 32-byte keys or derived from a passphrase with
// Argon2id and a per-archive salt:
//
//	salt, _ := adaptive.NewSalt()
//	c, err := adaptive.NewFromPassphrase(pass, salt, "")
//	sealed, err := c.Encrypt(plaintext, aad)
package adaptive
