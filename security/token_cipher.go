package security

import (
	"bytes"
	"context"
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	goerrors "github.com/goliatone/go-errors"
	"github.com/goliatone/go-integrations/core"
)

const envelopePrefix = "integrations.token.v1:"

const keySize = 32 // AES-256 only; shorter keys are a config error, not a fallback

// EncryptionError wraps every failure on the encrypt/decrypt path, including
// auth-tag verification failures on tampered envelopes.
type EncryptionError struct {
	Op  string
	Err error
}

func (e *EncryptionError) Error() string {
	if e == nil {
		return ""
	}
	if e.Err == nil {
		return fmt.Sprintf("security: %s failed", e.Op)
	}
	return fmt.Sprintf("security: %s failed: %v", e.Op, e.Err)
}

func (e *EncryptionError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

func (e *EncryptionError) ToServiceError() *goerrors.Error {
	return goerrors.New(e.Error(), goerrors.CategoryInternal).
		WithCode(http.StatusInternalServerError).
		WithTextCode(core.IntegrationErrorEncryptionFailed)
}

type Option func(*AESTokenCipher)

// AESTokenCipher seals token material with AES-256-GCM. Each Encrypt call
// draws a fresh random IV; callers cannot supply one. The envelope keeps the
// IV and the GCM auth tag as distinct fields so tampering with either is
// detected on decrypt.
type AESTokenCipher struct {
	key     []byte
	keyID   string
	version int
}

type envelope struct {
	KeyID      string `json:"kid"`
	Version    int    `json:"ver"`
	Algorithm  string `json:"alg"`
	IV         string `json:"iv"`
	AuthTag    string `json:"tag"`
	Ciphertext string `json:"ciphertext"`
}

func WithKeyID(id string) Option {
	return func(c *AESTokenCipher) {
		trimmed := strings.TrimSpace(id)
		if trimmed != "" {
			c.keyID = trimmed
		}
	}
}

func WithVersion(version int) Option {
	return func(c *AESTokenCipher) {
		if version > 0 {
			c.version = version
		}
	}
}

func NewAESTokenCipher(keyMaterial []byte, opts ...Option) (*AESTokenCipher, error) {
	key := bytes.TrimSpace(keyMaterial)
	if len(key) == 0 {
		return nil, fmt.Errorf("security: key material is required")
	}
	if len(key) != keySize {
		return nil, fmt.Errorf("security: key must be %d bytes, got %d", keySize, len(key))
	}
	copied := make([]byte, keySize)
	copy(copied, key)
	tokenCipher := &AESTokenCipher{
		key:     copied,
		keyID:   "app-key",
		version: 1,
	}
	for _, opt := range opts {
		if opt == nil {
			continue
		}
		opt(tokenCipher)
	}
	return tokenCipher, nil
}

func NewAESTokenCipherFromString(key string, opts ...Option) (*AESTokenCipher, error) {
	return NewAESTokenCipher([]byte(key), opts...)
}

func (c *AESTokenCipher) Encrypt(_ context.Context, plaintext []byte) ([]byte, error) {
	if c == nil {
		return nil, &EncryptionError{Op: "encrypt", Err: fmt.Errorf("token cipher is nil")}
	}
	if len(plaintext) == 0 {
		return nil, &EncryptionError{Op: "encrypt", Err: fmt.Errorf("plaintext is required")}
	}
	gcm, err := c.newGCM()
	if err != nil {
		return nil, &EncryptionError{Op: "encrypt", Err: err}
	}

	iv := make([]byte, gcm.NonceSize())
	if _, err := io.ReadFull(rand.Reader, iv); err != nil {
		return nil, &EncryptionError{Op: "encrypt", Err: fmt.Errorf("iv generation: %w", err)}
	}

	sealed := gcm.Seal(nil, iv, plaintext, nil)
	tagSize := gcm.Overhead()
	ciphertext := sealed[:len(sealed)-tagSize]
	tag := sealed[len(sealed)-tagSize:]

	data, err := json.Marshal(envelope{
		KeyID:      c.keyID,
		Version:    c.version,
		Algorithm:  "aes-256-gcm",
		IV:         base64.StdEncoding.EncodeToString(iv),
		AuthTag:    base64.StdEncoding.EncodeToString(tag),
		Ciphertext: base64.StdEncoding.EncodeToString(ciphertext),
	})
	if err != nil {
		return nil, &EncryptionError{Op: "encrypt", Err: fmt.Errorf("encode envelope: %w", err)}
	}
	return append([]byte(envelopePrefix), data...), nil
}

func (c *AESTokenCipher) Decrypt(_ context.Context, ciphertext []byte) ([]byte, error) {
	if c == nil {
		return nil, &EncryptionError{Op: "decrypt", Err: fmt.Errorf("token cipher is nil")}
	}
	if len(ciphertext) == 0 {
		return nil, &EncryptionError{Op: "decrypt", Err: fmt.Errorf("ciphertext is required")}
	}

	payload := string(ciphertext)
	if strings.HasPrefix(payload, envelopePrefix) {
		payload = strings.TrimPrefix(payload, envelopePrefix)
	}

	var parsed envelope
	if err := json.Unmarshal([]byte(payload), &parsed); err != nil {
		return nil, &EncryptionError{Op: "decrypt", Err: fmt.Errorf("decode envelope: %w", err)}
	}
	if parsed.KeyID != "" && parsed.KeyID != c.keyID {
		return nil, &EncryptionError{Op: "decrypt", Err: fmt.Errorf("key id mismatch: got %q want %q", parsed.KeyID, c.keyID)}
	}
	if parsed.Version > 0 && parsed.Version != c.version {
		return nil, &EncryptionError{Op: "decrypt", Err: fmt.Errorf("key version mismatch: got %d want %d", parsed.Version, c.version)}
	}

	iv, err := base64.StdEncoding.DecodeString(parsed.IV)
	if err != nil {
		return nil, &EncryptionError{Op: "decrypt", Err: fmt.Errorf("decode iv: %w", err)}
	}
	tag, err := base64.StdEncoding.DecodeString(parsed.AuthTag)
	if err != nil {
		return nil, &EncryptionError{Op: "decrypt", Err: fmt.Errorf("decode auth tag: %w", err)}
	}
	sealed, err := base64.StdEncoding.DecodeString(parsed.Ciphertext)
	if err != nil {
		return nil, &EncryptionError{Op: "decrypt", Err: fmt.Errorf("decode ciphertext: %w", err)}
	}

	gcm, err := c.newGCM()
	if err != nil {
		return nil, &EncryptionError{Op: "decrypt", Err: err}
	}
	if len(iv) != gcm.NonceSize() {
		return nil, &EncryptionError{Op: "decrypt", Err: fmt.Errorf("invalid iv length %d", len(iv))}
	}
	if len(tag) != gcm.Overhead() {
		return nil, &EncryptionError{Op: "decrypt", Err: fmt.Errorf("invalid auth tag length %d", len(tag))}
	}

	plaintext, err := gcm.Open(nil, iv, append(append([]byte(nil), sealed...), tag...), nil)
	if err != nil {
		// Covers both a flipped ciphertext bit and a forged tag.
		return nil, &EncryptionError{Op: "decrypt", Err: fmt.Errorf("auth tag verification: %w", err)}
	}
	return plaintext, nil
}

func (c *AESTokenCipher) newGCM() (cipher.AEAD, error) {
	block, err := aes.NewCipher(c.key)
	if err != nil {
		return nil, fmt.Errorf("create cipher: %w", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("create gcm: %w", err)
	}
	return gcm, nil
}

func (c *AESTokenCipher) KeyID() string {
	if c == nil {
		return ""
	}
	return c.keyID
}

func (c *AESTokenCipher) Version() int {
	if c == nil {
		return 0
	}
	return c.version
}

var _ core.TokenCipher = (*AESTokenCipher)(nil)
