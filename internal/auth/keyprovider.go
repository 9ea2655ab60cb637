// Package auth provides the credential core of the gateway: sealing-key
// resolution, the gateway token codec, and per-call credential resolution.
package auth

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"sync"

	"golang.org/x/crypto/hkdf"
)

// Secret provenance values.
const (
	// SecretConfigured means the sealing key came from configuration and
	// survives restarts: tokens minted before a restart keep working.
	SecretConfigured = "configured"
	// SecretEphemeral means the key was generated at startup. Tokens die
	// with the process. There is no hardcoded fallback key.
	SecretEphemeral = "ephemeral"
)

// secretKeySize is the AES-256 key size the token codec requires.
const secretKeySize = 32

// hkdfInfo domain-separates the gateway sealing key from any other use
// of the same configured secret.
var hkdfInfo = []byte("agent-gateway token sealing key v1")

// SecretMaterial is the resolved sealing key plus its provenance. The
// key bytes are never logged and never persisted when ephemeral.
type SecretMaterial struct {
	key        [secretKeySize]byte
	provenance string
}

// Key returns the raw 32-byte sealing key.
func (m SecretMaterial) Key() []byte {
	return m.key[:]
}

// Provenance reports where the key came from: SecretConfigured or
// SecretEphemeral.
func (m SecretMaterial) Provenance() string {
	return m.provenance
}

// KeyProvider resolves the process-wide sealing key exactly once.
type KeyProvider struct {
	configured string

	once     sync.Once
	material SecretMaterial
	err      error
}

// NewKeyProvider creates a key provider. configured is the raw value of
// the token secret setting; empty means no secret was configured.
func NewKeyProvider(configured string) *KeyProvider {
	return &KeyProvider{configured: configured}
}

// Secret resolves the sealing key. Resolution runs once; every later
// call returns the same material.
//
// A configured value that hex-decodes to exactly 32 bytes is used
// verbatim. Any other non-empty value is expanded to 32 bytes with
// HKDF-SHA256, deterministically, so replicas and restarts sharing the
// setting honor each other's tokens. With no configured value the key
// is drawn from crypto/rand and the material is ephemeral.
func (p *KeyProvider) Secret() (SecretMaterial, error) {
	p.once.Do(p.resolve)
	return p.material, p.err
}

func (p *KeyProvider) resolve() {
	if p.configured == "" {
		var key [secretKeySize]byte
		if _, err := rand.Read(key[:]); err != nil {
			p.err = fmt.Errorf("generating ephemeral secret: %w", err)
			return
		}
		p.material = SecretMaterial{key: key, provenance: SecretEphemeral}
		return
	}

	if raw, err := hex.DecodeString(p.configured); err == nil && len(raw) == secretKeySize {
		var key [secretKeySize]byte
		copy(key[:], raw)
		p.material = SecretMaterial{key: key, provenance: SecretConfigured}
		return
	}

	var key [secretKeySize]byte
	r := hkdf.New(sha256.New, []byte(p.configured), nil, hkdfInfo)
	if _, err := io.ReadFull(r, key[:]); err != nil {
		p.err = fmt.Errorf("deriving secret: %w", err)
		return
	}
	p.material = SecretMaterial{key: key, provenance: SecretConfigured}
}
