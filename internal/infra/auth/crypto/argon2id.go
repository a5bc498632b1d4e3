package crypto

import (
	"crypto/rand"
	"crypto/subtle"
	"encoding/base64"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"golang.org/x/crypto/argon2"
)

// Argon2idParams defines the tuning parameters for Argon2id hashing.
type Argon2idParams struct {
	Time       uint32
	Memory     uint32 // KiB
	Threads    uint8
	KeyLength  uint32
	SaltLength uint32
}

// DefaultParams are the password hashing settings.
var DefaultParams = Argon2idParams{
	Time:       2,
	Memory:     64 * 1024,
	Threads:    2,
	KeyLength:  32,
	SaltLength: 16,
}

// ErrInvalidHash is returned for hashes that are not in the encoded argon2id form.
var ErrInvalidHash = errors.New("invalid argon2id hash")

// PasswordHasher hashes and verifies passwords with fixed parameters.
type PasswordHasher struct {
	params Argon2idParams
}

// NewPasswordHasher fills zero params from DefaultParams.
func NewPasswordHasher(params Argon2idParams) *PasswordHasher {
	if params.Time == 0 {
		params.Time = DefaultParams.Time
	}
	if params.Memory == 0 {
		params.Memory = DefaultParams.Memory
	}
	if params.Threads == 0 {
		params.Threads = DefaultParams.Threads
	}
	if params.KeyLength == 0 {
		params.KeyLength = DefaultParams.KeyLength
	}
	if params.SaltLength == 0 {
		params.SaltLength = DefaultParams.SaltLength
	}
	return &PasswordHasher{params: params}
}

// Hash encodes password as argon2id$t$m$p$salt$hash.
func (h *PasswordHasher) Hash(password string) (string, error) {
	salt := make([]byte, int(h.params.SaltLength))
	if _, err := rand.Read(salt); err != nil {
		return "", fmt.Errorf("generate salt: %w", err)
	}
	key := argon2.IDKey([]byte(password), salt, h.params.Time, h.params.Memory, h.params.Threads, h.params.KeyLength)
	return fmt.Sprintf("argon2id$%d$%d$%d$%s$%s",
		h.params.Time, h.params.Memory, h.params.Threads,
		base64.RawStdEncoding.EncodeToString(salt),
		base64.RawStdEncoding.EncodeToString(key),
	), nil
}

// Verify compares password against an encoded hash using the hash's own parameters.
func (h *PasswordHasher) Verify(password, encoded string) (bool, error) {
	decoded, err := decodeHash(encoded)
	if err != nil {
		return false, err
	}
	computed := argon2.IDKey([]byte(password), decoded.salt, decoded.params.Time, decoded.params.Memory, decoded.params.Threads, uint32(len(decoded.hash)))
	return subtle.ConstantTimeCompare(computed, decoded.hash) == 1, nil
}

type decodedHash struct {
	params Argon2idParams
	salt   []byte
	hash   []byte
}

func decodeHash(encoded string) (decodedHash, error) {
	parts := strings.Split(encoded, "$")
	if len(parts) != 6 || parts[0] != "argon2id" {
		return decodedHash{}, ErrInvalidHash
	}
	timeValue, err := parseUint32(parts[1])
	if err != nil {
		return decodedHash{}, fmt.Errorf("%w: time: %v", ErrInvalidHash, err)
	}
	memoryValue, err := parseUint32(parts[2])
	if err != nil {
		return decodedHash{}, fmt.Errorf("%w: memory: %v", ErrInvalidHash, err)
	}
	threadsValue, err := parseUint32(parts[3])
	if err != nil || threadsValue == 0 || threadsValue > 255 {
		return decodedHash{}, fmt.Errorf("%w: thread count must be between 1 and 255", ErrInvalidHash)
	}
	salt, err := base64.RawStdEncoding.DecodeString(parts[4])
	if err != nil {
		return decodedHash{}, fmt.Errorf("%w: salt: %v", ErrInvalidHash, err)
	}
	hash, err := base64.RawStdEncoding.DecodeString(parts[5])
	if err != nil || len(hash) == 0 {
		return decodedHash{}, fmt.Errorf("%w: key", ErrInvalidHash)
	}
	return decodedHash{
		params: Argon2idParams{
			Time:       timeValue,
			Memory:     memoryValue,
			Threads:    uint8(threadsValue),
			KeyLength:  uint32(len(hash)),
			SaltLength: uint32(len(salt)),
		},
		salt: salt,
		hash: hash,
	}, nil
}

func parseUint32(value string) (uint32, error) {
	parsed, err := strconv.ParseUint(value, 10, 32)
	if err != nil {
		return 0, err
	}
	return uint32(parsed), nil
}
