package database

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"fmt"
	"os"

	"wahagate/internal/constants"

	"golang.org/x/crypto/pbkdf2"
)

// Environment variables controlling subscriber secret encryption
const (
	EnvEncryptionSecret = "WAHAGATE_ENCRYPTION_SECRET"
	EnvEnableEncryption = "WAHAGATE_ENABLE_ENCRYPTION"
)

const encryptedPrefix = "enc:v1:"

type encryptor struct {
	gcm cipher.AEAD
}

// NewEncryptor returns a pass-through encryptor unless encryption is enabled
func NewEncryptor() (*encryptor, error) {
	if !isEncryptionEnabled() {
		return &encryptor{gcm: nil}, nil
	}

	key, err := deriveKey()
	if err != nil {
		return nil, fmt.Errorf("failed to derive encryption key: %w", err)
	}

	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("failed to create cipher: %w", err)
	}

	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("failed to create GCM: %w", err)
	}

	return &encryptor{gcm: gcm}, nil
}

// Encrypt seals plaintext with a random nonce. Values are tagged so rows
// written before encryption was enabled can still be read.
func (e *encryptor) Encrypt(plaintext string) (string, error) {
	if plaintext == "" || e.gcm == nil {
		return plaintext, nil
	}

	nonce := make([]byte, constants.NonceSize)
	if _, err := rand.Read(nonce); err != nil {
		return "", fmt.Errorf("failed to generate nonce: %w", err)
	}

	sealed := e.gcm.Seal(nil, nonce, []byte(plaintext), nil)
	return encryptedPrefix + base64.StdEncoding.EncodeToString(append(nonce, sealed...)), nil
}

func (e *encryptor) Decrypt(value string) (string, error) {
	if len(value) < len(encryptedPrefix) || value[:len(encryptedPrefix)] != encryptedPrefix {
		return value, nil
	}
	if e.gcm == nil {
		return "", fmt.Errorf("value is encrypted but %s is not enabled", EnvEnableEncryption)
	}

	data, err := base64.StdEncoding.DecodeString(value[len(encryptedPrefix):])
	if err != nil {
		return "", fmt.Errorf("failed to decode base64: %w", err)
	}

	if len(data) < constants.NonceSize {
		return "", fmt.Errorf("ciphertext too short")
	}

	nonce, sealed := data[:constants.NonceSize], data[constants.NonceSize:]
	plaintext, err := e.gcm.Open(nil, nonce, sealed, nil)
	if err != nil {
		return "", fmt.Errorf("failed to decrypt: %w", err)
	}

	return string(plaintext), nil
}

func deriveKey() ([]byte, error) {
	secret := os.Getenv(EnvEncryptionSecret)
	if secret == "" {
		return nil, fmt.Errorf("%s environment variable is required when encryption is enabled", EnvEncryptionSecret)
	}

	if len(secret) < 32 {
		return nil, fmt.Errorf("encryption secret must be at least 32 characters long")
	}

	return pbkdf2.Key([]byte(secret), []byte(constants.EncryptionSalt), constants.Iterations, constants.KeySize, sha256.New), nil
}

func isEncryptionEnabled() bool {
	return os.Getenv(EnvEnableEncryption) == "true"
}
