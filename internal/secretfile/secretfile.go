// Package secretfile loads the gateway's age-encrypted credentials
// file. The file is a small YAML document carrying the upstream API key
// and the token secret, encrypted to the gateway's age recipient so it
// can live in configuration management without exposing either value.
package secretfile

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"

	"filippo.io/age"
	"gopkg.in/yaml.v3"

	"github.com/narvanalabs/agent-gateway/pkg/config"
)

var (
	// ErrNoIdentity is returned when no age identity is configured.
	ErrNoIdentity = errors.New("no age identity configured")
	// ErrInvalidKey is returned when an age key string does not parse.
	ErrInvalidKey = errors.New("invalid key format")
	// ErrDecryptionFailed is returned when decryption fails.
	ErrDecryptionFailed = errors.New("decryption failed")
	// ErrEncryptionFailed is returned when encryption fails.
	ErrEncryptionFailed = errors.New("encryption failed")
	// ErrMalformedFile is returned when the decrypted payload is not the
	// expected YAML document.
	ErrMalformedFile = errors.New("malformed credentials file")
)

// Credentials is the decrypted payload of a credentials file.
type Credentials struct {
	AgentAPIKey        string `yaml:"agent_api_key"`
	GatewayTokenSecret string `yaml:"gateway_token_secret"`
}

// MergeInto fills empty credential settings from the file. Explicitly
// set environment values always win over file values.
func (c *Credentials) MergeInto(cfg *config.Config) {
	if cfg.AgentAPIKey == "" {
		cfg.AgentAPIKey = c.AgentAPIKey
	}
	if cfg.TokenSecret == "" {
		cfg.TokenSecret = c.GatewayTokenSecret
	}
}

// Service decrypts credentials files with the gateway's age identity.
type Service struct {
	identity *age.X25519Identity
	logger   *slog.Logger
}

// NewService creates a credentials file service. identity is the age
// secret key (AGE-SECRET-KEY-1..., Bech32 encoded).
func NewService(identity string, logger *slog.Logger) (*Service, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if identity == "" {
		return nil, ErrNoIdentity
	}

	parsed, err := age.ParseX25519Identity(identity)
	if err != nil {
		return nil, fmt.Errorf("%w: invalid identity: %v", ErrInvalidKey, err)
	}

	return &Service{identity: parsed, logger: logger}, nil
}

// Load reads, decrypts and parses the credentials file at path.
func (s *Service) Load(ctx context.Context, path string) (*Credentials, error) {
	ciphertext, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading credentials file: %w", err)
	}

	plaintext, err := s.Decrypt(ctx, ciphertext)
	if err != nil {
		return nil, err
	}

	var creds Credentials
	if err := yaml.Unmarshal(plaintext, &creds); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedFile, err)
	}

	s.logger.Debug("credentials file loaded",
		"path", path,
		"has_api_key", creds.AgentAPIKey != "",
		"has_token_secret", creds.GatewayTokenSecret != "",
	)
	return &creds, nil
}

// Decrypt decrypts age-encrypted ciphertext with the configured
// identity.
func (s *Service) Decrypt(ctx context.Context, ciphertext []byte) ([]byte, error) {
	r, err := age.Decrypt(bytes.NewReader(ciphertext), s.identity)
	if err != nil {
		s.logger.Error("failed to create age decryptor", "error", err)
		return nil, fmt.Errorf("%w: %v", ErrDecryptionFailed, err)
	}

	plaintext, err := io.ReadAll(r)
	if err != nil {
		s.logger.Error("failed to read decrypted data", "error", err)
		return nil, fmt.Errorf("%w: %v", ErrDecryptionFailed, err)
	}

	return plaintext, nil
}

// Encrypt serializes creds and encrypts them to the given age public
// key (age1..., Bech32 encoded). Used by operators to produce the file
// the gateway later loads.
func Encrypt(publicKey string, creds *Credentials) ([]byte, error) {
	recipient, err := age.ParseX25519Recipient(publicKey)
	if err != nil {
		return nil, fmt.Errorf("%w: invalid public key: %v", ErrInvalidKey, err)
	}

	payload, err := yaml.Marshal(creds)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrEncryptionFailed, err)
	}

	var buf bytes.Buffer
	w, err := age.Encrypt(&buf, recipient)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrEncryptionFailed, err)
	}
	if _, err := w.Write(payload); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrEncryptionFailed, err)
	}
	if err := w.Close(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrEncryptionFailed, err)
	}

	return buf.Bytes(), nil
}

// GenerateKeyPair generates a new age key pair. Returns the public key
// (for encrypting the file) and the private key (for the gateway).
func GenerateKeyPair() (publicKey, privateKey string, err error) {
	identity, err := age.GenerateX25519Identity()
	if err != nil {
		return "", "", fmt.Errorf("generating age key pair: %w", err)
	}
	return identity.Recipient().String(), identity.String(), nil
}
