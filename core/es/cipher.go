package es

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"strings"

	"golang.org/x/crypto/chacha20poly1305"
)

var ErrDecrypt = errors.New("decrypt failed")

type CipherAlgorithm string

const (
	CipherAESGCM            CipherAlgorithm = "aes-gcm"
	CipherXChaCha20Poly1305 CipherAlgorithm = "xchacha20-poly1305"
)

// Key is the process-wide symmetric key. It is injected, never generated by the store.
type Key []byte

// ParseKey decodes a standard or URL-safe base64 key.
func ParseKey(encoded string) (Key, error) {
	encoded = strings.TrimSpace(encoded)
	if encoded == "" {
		return nil, errors.New("cipher key is empty")
	}
	for _, enc := range []*base64.Encoding{base64.StdEncoding, base64.URLEncoding, base64.RawStdEncoding, base64.RawURLEncoding} {
		if k, err := enc.DecodeString(encoded); err == nil {
			return Key(k), nil
		}
	}
	return nil, errors.New("cipher key is not valid base64")
}

func (k Key) String() string { return "Key(redacted)" }

// Cipher is authenticated encryption for record state. The associated data is
// authenticated but not encrypted; Open fails when it differs from Seal's.
type Cipher interface {
	Seal(plaintext, associatedData []byte) ([]byte, error)
	Open(ciphertext, associatedData []byte) ([]byte, error)
}

// NewCipher returns the AEAD for alg keyed with key.
func NewCipher(alg CipherAlgorithm, key Key) (Cipher, error) {
	switch alg {
	case "", CipherAESGCM:
		return NewAESGCM(key)
	case CipherXChaCha20Poly1305:
		return NewXChaCha20Poly1305(key)
	}
	return nil, fmt.Errorf("unsupported cipher %q", alg)
}

// aeadCipher stores nonce || ciphertext.
type aeadCipher struct {
	aead cipher.AEAD
}

// NewAESGCM builds an AES-GCM cipher. key must be 16, 24 or 32 bytes.
func NewAESGCM(key Key) (Cipher, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("new cipher: %w", err)
	}
	aead, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("new gcm: %w", err)
	}
	return &aeadCipher{aead: aead}, nil
}

// NewXChaCha20Poly1305 builds an XChaCha20-Poly1305 cipher. key must be 32 bytes.
func NewXChaCha20Poly1305(key Key) (Cipher, error) {
	aead, err := chacha20poly1305.NewX(key)
	if err != nil {
		return nil, fmt.Errorf("new xchacha20-poly1305: %w", err)
	}
	return &aeadCipher{aead: aead}, nil
}

func (c *aeadCipher) Seal(plaintext, associatedData []byte) ([]byte, error) {
	nonce := make([]byte, c.aead.NonceSize(), c.aead.NonceSize()+len(plaintext)+c.aead.Overhead())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return nil, fmt.Errorf("read nonce: %w", err)
	}
	return c.aead.Seal(nonce, nonce, plaintext, associatedData), nil
}

func (c *aeadCipher) Open(ciphertext, associatedData []byte) ([]byte, error) {
	nonceSize := c.aead.NonceSize()
	if len(ciphertext) < nonceSize+c.aead.Overhead() {
		return nil, fmt.Errorf("%w: ciphertext too short", ErrDecrypt)
	}
	plaintext, err := c.aead.Open(nil, ciphertext[:nonceSize], ciphertext[nonceSize:], associatedData)
	if err != nil {
		return nil, fmt.Errorf("%w: %s", ErrDecrypt, err)
	}
	return plaintext, nil
}
