package crypto

import (
	"crypto/rand"
	"crypto/sha256"
	"errors"
	"fmt"

	"golang.org/x/crypto/chacha20poly1305"
)

// ErrSealedDataInvalid is returned when a ciphertext fails authentication.
var ErrSealedDataInvalid = errors.New("sealed data invalid")

// Sealer encrypts small secrets (provider keys, OAuth tokens) at rest with
// XChaCha20-Poly1305. Output layout: nonce || ciphertext.
type Sealer struct {
	key [chacha20poly1305.KeySize]byte
}

// NewSealer derives a 256-bit key from secret with SHA-256.
func NewSealer(secret string) (*Sealer, error) {
	if secret == "" {
		return nil, errors.New("sealer secret is empty")
	}
	return &Sealer{key: sha256.Sum256([]byte("nexus-sealer:" + secret))}, nil
}

// Seal encrypts plaintext; associated binds the ciphertext to its owner row.
func (s *Sealer) Seal(plaintext, associated []byte) ([]byte, error) {
	aead, err := chacha20poly1305.NewX(s.key[:])
	if err != nil {
		return nil, fmt.Errorf("init aead: %w", err)
	}
	nonce := make([]byte, aead.NonceSize(), aead.NonceSize()+len(plaintext)+aead.Overhead())
	if _, err := rand.Read(nonce); err != nil {
		return nil, fmt.Errorf("generate nonce: %w", err)
	}
	return aead.Seal(nonce, nonce, plaintext, associated), nil
}

// Open decrypts data produced by Seal with the same associated data.
func (s *Sealer) Open(sealed, associated []byte) ([]byte, error) {
	aead, err := chacha20poly1305.NewX(s.key[:])
	if err != nil {
		return nil, fmt.Errorf("init aead: %w", err)
	}
	if len(sealed) < aead.NonceSize()+aead.Overhead() {
		return nil, ErrSealedDataInvalid
	}
	nonce, ciphertext := sealed[:aead.NonceSize()], sealed[aead.NonceSize():]
	plaintext, err := aead.Open(nil, nonce, ciphertext, associated)
	if err != nil {
		return nil, ErrSealedDataInvalid
	}
	return plaintext, nil
}

// SealString is Seal for string secrets.
func (s *Sealer) SealString(secret, associated string) ([]byte, error) {
	return s.Seal([]byte(secret), []byte(associated))
}

// OpenString is Open for string secrets.
func (s *Sealer) OpenString(sealed []byte, associated string) (string, error) {
	plaintext, err := s.Open(sealed, []byte(associated))
	if err != nil {
		return "", err
	}
	return string(plaintext), nil
}
