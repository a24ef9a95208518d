package crypto

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"io"
	"strings"
)

// encPrefix marks values sealed by a Cipher so plain legacy values can be
// told apart on read.
const encPrefix = "enc:"

var ErrDecrypt = errors.New("crypto: unable to decrypt value")

// Cipher seals secrets at rest with AES-256-GCM. A nil *Cipher or one built
// from an empty secret passes values through unchanged.
type Cipher struct {
	aead cipher.AEAD
}

// NewCipher derives a 32 byte key from secret.
func NewCipher(secret string) (*Cipher, error) {
	if strings.TrimSpace(secret) == "" {
		return &Cipher{}, nil
	}
	key := sha256.Sum256([]byte(secret))
	block, err := aes.NewCipher(key[:])
	if err != nil {
		return nil, err
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, err
	}
	return &Cipher{aead: gcm}, nil
}

func (c *Cipher) Enabled() bool {
	return c != nil && c.aead != nil
}

func (c *Cipher) Encrypt(plain string) (string, error) {
	if !c.Enabled() || plain == "" || strings.HasPrefix(plain, encPrefix) {
		return plain, nil
	}
	nonce := make([]byte, c.aead.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return "", err
	}
	sealed := c.aead.Seal(nonce, nonce, []byte(plain), nil)
	return encPrefix + base64.StdEncoding.EncodeToString(sealed), nil
}

// Decrypt opens a value produced by Encrypt. Values without the prefix are
// returned as stored.
func (c *Cipher) Decrypt(value string) (string, error) {
	if !strings.HasPrefix(value, encPrefix) {
		return value, nil
	}
	if !c.Enabled() {
		return "", ErrDecrypt
	}
	data, err := base64.StdEncoding.DecodeString(strings.TrimPrefix(value, encPrefix))
	if err != nil {
		return "", ErrDecrypt
	}
	n := c.aead.NonceSize()
	if len(data) < n {
		return "", ErrDecrypt
	}
	plain, err := c.aead.Open(nil, data[:n], data[n:], nil)
	if err != nil {
		return "", ErrDecrypt
	}
	return string(plain), nil
}
