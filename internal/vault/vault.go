package vault

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"
	"io"

	"golang.org/x/crypto/argon2"
)

var (
	ErrInvalidKey       = errors.New("invalid encryption key")
	ErrDecryptionFailed = errors.New("decryption failed")
)

const keyDerivationSalt = "adlaunch-token-vault"

// Vault seals third-party credentials (Meta access tokens) before they hit the database.
type Vault struct {
	aead cipher.AEAD
}

// New accepts a 32-byte hex key, or any passphrase which is stretched with Argon2id.
func New(masterKey string) (*Vault, error) {
	if masterKey == "" {
		return nil, ErrInvalidKey
	}

	key, err := hex.DecodeString(masterKey)
	if err != nil || len(key) != 32 {
		key = argon2.IDKey([]byte(masterKey), []byte(keyDerivationSalt), 3, 64*1024, 4, 32)
	}

	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("aes: %w", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("gcm: %w", err)
	}

	return &Vault{aead: gcm}, nil
}

// Seal encrypts plaintext with AES-256-GCM and returns base64(nonce || ciphertext).
func (v *Vault) Seal(plaintext string) (string, error) {
	nonce := make([]byte, v.aead.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return "", fmt.Errorf("failed to generate nonce: %w", err)
	}

	sealed := v.aead.Seal(nonce, nonce, []byte(plaintext), nil)
	return base64.StdEncoding.EncodeToString(sealed), nil
}

func (v *Vault) Open(sealed string) (string, error) {
	data, err := base64.StdEncoding.DecodeString(sealed)
	if err != nil {
		return "", ErrDecryptionFailed
	}

	n := v.aead.NonceSize()
	if len(data) < n {
		return "", ErrDecryptionFailed
	}

	plaintext, err := v.aead.Open(nil, data[:n], data[n:], nil)
	if err != nil {
		return "", ErrDecryptionFailed
	}
	return string(plaintext), nil
}
