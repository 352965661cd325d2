// Package security seals OAuth tokens and webhook secrets before they reach
// the database.
package security

import (
	"bytes"
	"context"
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/goliatone/go-integrations/core"
)

// KeyRotationWindow bounds when a retired key may still decrypt.
type KeyRotationWindow struct {
	NotBefore time.Time
	NotAfter  time.Time
}

func (w KeyRotationWindow) Allows(at time.Time) bool {
	ts := at.UTC()
	if !w.NotBefore.IsZero() && ts.Before(w.NotBefore.UTC()) {
		return false
	}
	if !w.NotAfter.IsZero() && ts.After(w.NotAfter.UTC()) {
		return false
	}
	return true
}

type appKey struct {
	id      string
	version int
	aead    cipher.AEAD
	window  KeyRotationWindow
}

type Option func(*AppKeySecretProvider) error

func WithKeyID(id string) Option {
	return func(p *AppKeySecretProvider) error {
		if trimmed := strings.TrimSpace(id); trimmed != "" {
			p.primary.id = trimmed
		}
		return nil
	}
}

func WithVersion(version int) Option {
	return func(p *AppKeySecretProvider) error {
		if version > 0 {
			p.primary.version = version
		}
		return nil
	}
}

// WithRetiredKey keeps an old key around for decryption only. Values it
// sealed can be moved to the primary key with Reseal.
func WithRetiredKey(id string, version int, material []byte, window KeyRotationWindow) Option {
	return func(p *AppKeySecretProvider) error {
		aead, err := newAEAD(material)
		if err != nil {
			return err
		}
		p.retired = append(p.retired, appKey{id: strings.TrimSpace(id), version: version, aead: aead, window: window})
		return nil
	}
}

func WithClock(now func() time.Time) Option {
	return func(p *AppKeySecretProvider) error {
		if now != nil {
			p.now = now
		}
		return nil
	}
}

// AppKeySecretProvider encrypts with AES-GCM under an application key and
// decrypts with the primary key or any retired key still inside its window.
type AppKeySecretProvider struct {
	primary appKey
	retired []appKey
	now     func() time.Time
}

func NewAppKeySecretProvider(keyMaterial []byte, opts ...Option) (*AppKeySecretProvider, error) {
	aead, err := newAEAD(keyMaterial)
	if err != nil {
		return nil, err
	}
	provider := &AppKeySecretProvider{
		primary: appKey{id: "app-key", version: 1, aead: aead},
		now:     func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		if opt == nil {
			continue
		}
		if err := opt(provider); err != nil {
			return nil, err
		}
	}
	for _, key := range provider.retired {
		if key.id == provider.primary.id && key.version == provider.primary.version {
			return nil, fmt.Errorf("security: retired key %s/v%d collides with the primary key", key.id, key.version)
		}
	}
	return provider, nil
}

func NewAppKeySecretProviderFromString(key string, opts ...Option) (*AppKeySecretProvider, error) {
	return NewAppKeySecretProvider([]byte(key), opts...)
}

func (p *AppKeySecretProvider) Encrypt(_ context.Context, plaintext []byte) ([]byte, error) {
	if p == nil {
		return nil, fmt.Errorf("security: secret provider is nil")
	}
	if len(plaintext) == 0 {
		return nil, fmt.Errorf("security: plaintext is required")
	}
	nonce := make([]byte, p.primary.aead.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return nil, fmt.Errorf("security: nonce generation failed: %w", err)
	}
	sealed := p.primary.aead.Seal(nil, nonce, plaintext, p.primary.associatedData())
	return encodeEnvelope(envelope{
		KeyID:      p.primary.id,
		Version:    p.primary.version,
		Algorithm:  envelopeAlgorithm,
		Nonce:      base64.StdEncoding.EncodeToString(nonce),
		Ciphertext: base64.StdEncoding.EncodeToString(sealed),
	})
}

func (p *AppKeySecretProvider) Decrypt(_ context.Context, ciphertext []byte) ([]byte, error) {
	if p == nil {
		return nil, fmt.Errorf("security: secret provider is nil")
	}
	env, err := decodeEnvelope(ciphertext)
	if err != nil {
		return nil, err
	}
	key, err := p.keyFor(env.KeyID, env.Version)
	if err != nil {
		return nil, err
	}
	nonce, err := decodeBase64(env.Nonce, "nonce")
	if err != nil {
		return nil, err
	}
	if len(nonce) != key.aead.NonceSize() {
		return nil, fmt.Errorf("security: invalid nonce length")
	}
	payload, err := decodeBase64(env.Ciphertext, "ciphertext payload")
	if err != nil {
		return nil, err
	}
	plaintext, err := key.aead.Open(nil, nonce, payload, key.associatedData())
	if err != nil {
		return nil, fmt.Errorf("security: decrypt payload: %w", err)
	}
	return plaintext, nil
}

// Reseal re-encrypts ciphertext under the primary key. It reports false
// when the value was already sealed by the primary key.
func (p *AppKeySecretProvider) Reseal(ctx context.Context, ciphertext []byte) ([]byte, bool, error) {
	meta, err := ParseEnvelopeMetadata(ciphertext)
	if err != nil {
		return nil, false, err
	}
	if meta.KeyID == p.primary.id && meta.Version == p.primary.version {
		return ciphertext, false, nil
	}
	plaintext, err := p.Decrypt(ctx, ciphertext)
	if err != nil {
		return nil, false, err
	}
	resealed, err := p.Encrypt(ctx, plaintext)
	if err != nil {
		return nil, false, err
	}
	return resealed, true, nil
}

func (p *AppKeySecretProvider) KeyID() string {
	if p == nil {
		return ""
	}
	return p.primary.id
}

func (p *AppKeySecretProvider) Version() int {
	if p == nil {
		return 0
	}
	return p.primary.version
}

func (p *AppKeySecretProvider) keyFor(id string, version int) (appKey, error) {
	if id == p.primary.id && version == p.primary.version {
		return p.primary, nil
	}
	for _, key := range p.retired {
		if key.id != id || key.version != version {
			continue
		}
		if !key.window.Allows(p.now()) {
			return appKey{}, fmt.Errorf("security: key %s/v%d is outside its rotation window", id, version)
		}
		return key, nil
	}
	return appKey{}, fmt.Errorf("security: unknown key %s/v%d", id, version)
}

// associatedData binds the ciphertext to the key identity so a sealed value
// cannot be replayed under a different kid/version.
func (k appKey) associatedData() []byte {
	return []byte(fmt.Sprintf("%s:%d", k.id, k.version))
}

func newAEAD(keyMaterial []byte) (cipher.AEAD, error) {
	material := bytes.TrimSpace(keyMaterial)
	if len(material) == 0 {
		return nil, fmt.Errorf("security: key material is required")
	}
	block, err := aes.NewCipher(normalizeKey(material))
	if err != nil {
		return nil, fmt.Errorf("security: create cipher: %w", err)
	}
	aead, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("security: create gcm: %w", err)
	}
	return aead, nil
}

// normalizeKey keeps raw AES key sizes and hashes anything else to 32 bytes.
func normalizeKey(value []byte) []byte {
	if len(value) == 16 || len(value) == 24 || len(value) == 32 {
		return bytes.Clone(value)
	}
	sum := sha256.Sum256(value)
	return sum[:]
}

var _ core.SecretProvider = (*AppKeySecretProvider)(nil)
