package wire

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"errors"
	"fmt"
	"io"
)

// ErrNoMatchingKey is returned by Decrypt when none of the configured keys
// can open the ciphertext.
var ErrNoMatchingKey = errors.New("wire: no configured key could decrypt payload")

// Encrypt seals plaintext with AES-GCM under key (used when
// symmetric_encryption_keys is configured). key must be 16, 24, or 32
// bytes. The nonce is generated randomly and prefixed to the ciphertext.
func Encrypt(key, plaintext []byte) ([]byte, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("wire: encrypt: %w", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("wire: encrypt: %w", err)
	}
	nonce := make([]byte, gcm.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return nil, fmt.Errorf("wire: encrypt: %w", err)
	}
	return gcm.Seal(nonce, nonce, plaintext, nil), nil
}

// Decrypt opens ciphertext produced by Encrypt. It tries each key in keys
// in order, so key rotation works by keeping the retiring key in the list
// until every in-flight message has been consumed.
func Decrypt(keys [][]byte, ciphertext []byte) ([]byte, error) {
	for _, key := range keys {
		plaintext, err := decryptWithKey(key, ciphertext)
		if err == nil {
			return plaintext, nil
		}
	}
	return nil, ErrNoMatchingKey
}

func decryptWithKey(key, ciphertext []byte) ([]byte, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, err
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, err
	}
	if len(ciphertext) < gcm.NonceSize() {
		return nil, errors.New("wire: ciphertext too short")
	}
	nonce, body := ciphertext[:gcm.NonceSize()], ciphertext[gcm.NonceSize():]
	return gcm.Open(nil, nonce, body, nil)
}
