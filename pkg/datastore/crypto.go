package datastore

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
)

// credentialCipher encrypts an Integration's credential map at rest with
// AES-GCM under a 32-byte master key, per spec.md §4.8. There is no
// recovery if the key is lost — plaintext is only ever held in memory and
// returned from Get*/List*.
type credentialCipher struct {
	gcm cipher.AEAD
}

// newCredentialCipher builds a cipher from MASTER_ENCRYPTION_KEY. The key
// must be exactly 32 bytes (AES-256).
func newCredentialCipher(masterKey []byte) (*credentialCipher, error) {
	if len(masterKey) != 32 {
		return nil, fmt.Errorf("MASTER_ENCRYPTION_KEY must be 32 bytes, got %d", len(masterKey))
	}
	block, err := aes.NewCipher(masterKey)
	if err != nil {
		return nil, fmt.Errorf("building AES cipher: %w", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("building GCM: %w", err)
	}
	return &credentialCipher{gcm: gcm}, nil
}

// encryptCredentials marshals creds to JSON and returns a base64-encoded
// nonce||ciphertext string safe to persist as a single column/field value.
func (c *credentialCipher) encryptCredentials(creds map[string]any) (string, error) {
	if creds == nil {
		creds = map[string]any{}
	}
	plaintext, err := json.Marshal(creds)
	if err != nil {
		return "", fmt.Errorf("marshaling credentials: %w", err)
	}

	nonce := make([]byte, c.gcm.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return "", fmt.Errorf("generating nonce: %w", err)
	}

	sealed := c.gcm.Seal(nonce, nonce, plaintext, nil)
	return base64.StdEncoding.EncodeToString(sealed), nil
}

// decryptCredentials reverses encryptCredentials.
func (c *credentialCipher) decryptCredentials(encoded string) (map[string]any, error) {
	if encoded == "" {
		return map[string]any{}, nil
	}
	sealed, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return nil, fmt.Errorf("decoding ciphertext: %w", err)
	}

	nonceSize := c.gcm.NonceSize()
	if len(sealed) < nonceSize {
		return nil, errors.New("ciphertext shorter than nonce")
	}
	nonce, rest := sealed[:nonceSize], sealed[nonceSize:]

	plaintext, err := c.gcm.Open(nil, nonce, rest, nil)
	if err != nil {
		return nil, fmt.Errorf("decrypting credentials: %w", err)
	}

	var creds map[string]any
	if err := json.Unmarshal(plaintext, &creds); err != nil {
		return nil, fmt.Errorf("unmarshaling decrypted credentials: %w", err)
	}
	return creds, nil
}
