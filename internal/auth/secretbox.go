package auth

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"io"

	"github.com/mharlow/gatehouse/internal/models"
)

var (
	// ErrEncryptionKey indicates a malformed master key. Detected at
	// construction so a bad key never silently corrupts stored secrets.
	ErrEncryptionKey = errors.New("encryption key must be exactly 32 bytes")

	// ErrDecryption covers tampered ciphertext, wrong-key bundles, and
	// malformed encodings. Decrypt never returns partial plaintext.
	ErrDecryption = errors.New("secret decryption failed")
)

// SecretBox encrypts TOTP secrets for storage using AES-256-GCM. The GCM
// auth tag is split into its own field and each field is base64-encoded so
// the bundle survives any text-based storage medium.
type SecretBox struct {
	key []byte
}

// NewSecretBox creates a SecretBox from a 32-byte AES-256 master key
func NewSecretBox(key []byte) (*SecretBox, error) {
	if len(key) != 32 {
		return nil, fmt.Errorf("%w, got %d", ErrEncryptionKey, len(key))
	}
	return &SecretBox{key: key}, nil
}

// Encrypt seals the plaintext secret with a fresh random nonce per call
func (sb *SecretBox) Encrypt(plaintext string) (models.EncryptedSecret, error) {
	block, err := aes.NewCipher(sb.key)
	if err != nil {
		return models.EncryptedSecret{}, fmt.Errorf("failed to create AES cipher: %w", err)
	}

	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return models.EncryptedSecret{}, fmt.Errorf("failed to create GCM: %w", err)
	}

	nonce := make([]byte, gcm.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return models.EncryptedSecret{}, fmt.Errorf("failed to generate nonce: %w", err)
	}

	sealed := gcm.Seal(nil, nonce, []byte(plaintext), nil)

	// Seal appends the tag to the ciphertext; store it separately
	tagStart := len(sealed) - gcm.Overhead()
	ciphertext, tag := sealed[:tagStart], sealed[tagStart:]

	return models.EncryptedSecret{
		Ciphertext: base64.StdEncoding.EncodeToString(ciphertext),
		IV:         base64.StdEncoding.EncodeToString(nonce),
		Tag:        base64.StdEncoding.EncodeToString(tag),
	}, nil
}

// Decrypt opens a stored bundle. Any authentication or encoding failure
// yields ErrDecryption.
func (sb *SecretBox) Decrypt(sealed models.EncryptedSecret) (string, error) {
	ciphertext, err := base64.StdEncoding.DecodeString(sealed.Ciphertext)
	if err != nil {
		return "", fmt.Errorf("%w: bad ciphertext encoding", ErrDecryption)
	}

	nonce, err := base64.StdEncoding.DecodeString(sealed.IV)
	if err != nil {
		return "", fmt.Errorf("%w: bad nonce encoding", ErrDecryption)
	}

	tag, err := base64.StdEncoding.DecodeString(sealed.Tag)
	if err != nil {
		return "", fmt.Errorf("%w: bad tag encoding", ErrDecryption)
	}

	block, err := aes.NewCipher(sb.key)
	if err != nil {
		return "", fmt.Errorf("failed to create AES cipher: %w", err)
	}

	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return "", fmt.Errorf("failed to create GCM: %w", err)
	}

	if len(nonce) != gcm.NonceSize() || len(tag) != gcm.Overhead() {
		return "", fmt.Errorf("%w: malformed bundle", ErrDecryption)
	}

	plaintext, err := gcm.Open(nil, nonce, append(ciphertext, tag...), nil)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrDecryption, err)
	}

	return string(plaintext), nil
}
