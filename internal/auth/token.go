package auth

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/base64"
	"fmt"
)

// Token wire layout: nonce(12) || tag(16) || ciphertext, encoded with
// unpadded URL-safe base64. The tag leads the ciphertext on the wire
// even though Go's GCM appends it, so both ends reorder.
const (
	nonceSize    = 12
	tagSize      = 16
	minTokenSize = nonceSize + tagSize
)

// Strict decoding rejects non-zero trailing padding bits, so a token
// differing from a valid one only in those bits is not accepted.
var tokenEncoding = base64.RawURLEncoding.Strict()

// TokenCodec mints and decodes gateway tokens: AES-256-GCM envelopes
// around an upstream API key. Tokens are stateless; anything sealed
// under the current secret decodes, regardless of age.
type TokenCodec struct {
	aead cipher.AEAD
}

// NewTokenCodec creates a codec sealing with the given material.
func NewTokenCodec(material SecretMaterial) (*TokenCodec, error) {
	block, err := aes.NewCipher(material.Key())
	if err != nil {
		return nil, fmt.Errorf("creating cipher: %w", err)
	}
	aead, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("creating GCM: %w", err)
	}
	return &TokenCodec{aead: aead}, nil
}

// Mint seals apiKey into a portable token. Each call draws a fresh
// nonce, so minting the same key twice yields different tokens.
func (c *TokenCodec) Mint(apiKey string) (string, error) {
	if apiKey == "" {
		return "", ErrEmptyKey
	}

	nonce := make([]byte, nonceSize)
	if _, err := rand.Read(nonce); err != nil {
		return "", fmt.Errorf("generating nonce: %w", err)
	}

	// Seal returns ciphertext||tag; the wire format wants tag first.
	sealed := c.aead.Seal(nil, nonce, []byte(apiKey), nil)
	ct := sealed[:len(sealed)-tagSize]
	tag := sealed[len(sealed)-tagSize:]

	buf := make([]byte, 0, nonceSize+len(sealed))
	buf = append(buf, nonce...)
	buf = append(buf, tag...)
	buf = append(buf, ct...)

	return tokenEncoding.EncodeToString(buf), nil
}

// Decode recovers the API key sealed in token. It is total: malformed
// input of any kind reports ok=false, never an error and never a panic.
// The token bytes are not included in any error path.
func (c *TokenCodec) Decode(token string) (string, bool) {
	if token == "" {
		return "", false
	}

	raw, err := tokenEncoding.DecodeString(token)
	if err != nil || len(raw) < minTokenSize {
		return "", false
	}

	nonce := raw[:nonceSize]
	tag := raw[nonceSize:minTokenSize]
	ct := raw[minTokenSize:]

	sealed := make([]byte, 0, len(ct)+tagSize)
	sealed = append(sealed, ct...)
	sealed = append(sealed, tag...)

	plain, err := c.aead.Open(nil, nonce, sealed, nil)
	if err != nil {
		return "", false
	}
	return string(plain), true
}
