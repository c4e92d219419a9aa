// Package crypto seals credentials that are stored in the database.
package crypto

import (
	"context"
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"database/sql"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"strings"

	"golang.org/x/crypto/pbkdf2"
)

const (
	// EncryptedPrefix marks sealed values in the database.
	EncryptedPrefix = "enc:v1:"

	pbkdf2Iterations = 100000
	keyLength        = 32 // AES-256
	saltLength       = 16

	saltSettingKey = "secrets.salt"
)

var (
	ErrInvalidCiphertext = errors.New("invalid ciphertext")
	ErrDecryptionFailed  = errors.New("decryption failed")
)

// SecretStore seals values with AES-256-GCM under a key derived from a
// passphrase.
type SecretStore struct {
	aead cipher.AEAD
}

// NewSecretStore derives the sealing key from passphrase and salt.
func NewSecretStore(passphrase string, salt []byte) (*SecretStore, error) {
	key := pbkdf2.Key([]byte(passphrase), salt, pbkdf2Iterations, keyLength, sha256.New)
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, err
	}
	aead, err := cipher.NewGCM(block)
	if err != nil {
		return nil, err
	}
	return &SecretStore{aead: aead}, nil
}

// GenerateSalt returns a random key derivation salt.
func GenerateSalt() ([]byte, error) {
	salt := make([]byte, saltLength)
	if _, err := io.ReadFull(rand.Reader, salt); err != nil {
		return nil, err
	}
	return salt, nil
}

// LoadOrCreateSalt reads the salt from the settings table, generating and
// storing one on first use.
func LoadOrCreateSalt(ctx context.Context, db *sql.DB) ([]byte, error) {
	var encoded string
	err := db.QueryRowContext(ctx, `SELECT value FROM settings WHERE key = ?`, saltSettingKey).Scan(&encoded)
	switch {
	case err == nil:
		salt, err := base64.StdEncoding.DecodeString(encoded)
		if err != nil {
			return nil, fmt.Errorf("decode secrets salt: %w", err)
		}
		return salt, nil
	case !errors.Is(err, sql.ErrNoRows):
		return nil, fmt.Errorf("load secrets salt: %w", err)
	}

	salt, err := GenerateSalt()
	if err != nil {
		return nil, err
	}
	if _, err := db.ExecContext(ctx, `INSERT INTO settings (key, value) VALUES (?, ?)`,
		saltSettingKey, base64.StdEncoding.EncodeToString(salt)); err != nil {
		return nil, fmt.Errorf("store secrets salt: %w", err)
	}
	return salt, nil
}

// Encrypt seals plaintext and returns it base64 encoded behind
// EncryptedPrefix. Empty values stay empty.
func (s *SecretStore) Encrypt(plaintext string) (string, error) {
	if plaintext == "" || IsEncrypted(plaintext) {
		return plaintext, nil
	}
	nonce := make([]byte, s.aead.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return "", err
	}
	sealed := s.aead.Seal(nonce, nonce, []byte(plaintext), nil)
	return EncryptedPrefix + base64.StdEncoding.EncodeToString(sealed), nil
}

// Decrypt opens a value produced by Encrypt. Values without the prefix were
// written before encryption was enabled and are returned unchanged.
func (s *SecretStore) Decrypt(ciphertext string) (string, error) {
	if !IsEncrypted(ciphertext) {
		return ciphertext, nil
	}
	data, err := base64.StdEncoding.DecodeString(strings.TrimPrefix(ciphertext, EncryptedPrefix))
	if err != nil {
		return "", ErrInvalidCiphertext
	}
	nonceSize := s.aead.NonceSize()
	if len(data) < nonceSize {
		return "", ErrInvalidCiphertext
	}
	plaintext, err := s.aead.Open(nil, data[:nonceSize], data[nonceSize:], nil)
	if err != nil {
		return "", ErrDecryptionFailed
	}
	return string(plaintext), nil
}

// IsEncrypted reports whether value carries the encryption prefix.
func IsEncrypted(value string) bool {
	return strings.HasPrefix(value, EncryptedPrefix)
}
