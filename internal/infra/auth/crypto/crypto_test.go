package crypto

import (
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func fastHasher() *PasswordHasher {
	return NewPasswordHasher(Argon2idParams{Time: 1, Memory: 1024, Threads: 1})
}

func TestPasswordHasherRoundTrip(t *testing.T) {
	t.Parallel()

	hasher := fastHasher()
	encoded, err := hasher.Hash("correct horse battery")
	require.NoError(t, err)
	require.True(t, strings.HasPrefix(encoded, "argon2id$1$1024$1$"))

	ok, err := hasher.Verify("correct horse battery", encoded)
	require.NoError(t, err)
	require.True(t, ok)

	ok, err = hasher.Verify("wrong password", encoded)
	require.NoError(t, err)
	require.False(t, ok)
}

func TestPasswordHasherSaltsEachHash(t *testing.T) {
	t.Parallel()

	hasher := fastHasher()
	first, err := hasher.Hash("same")
	require.NoError(t, err)
	second, err := hasher.Hash("same")
	require.NoError(t, err)
	require.NotEqual(t, first, second)
}

func TestPasswordHasherRejectsMalformedHashes(t *testing.T) {
	t.Parallel()

	hasher := fastHasher()
	for _, encoded := range []string{
		"",
		"bcrypt$1$2$3$4$5",
		"argon2id$x$1024$1$c2FsdA$aGFzaA",
		"argon2id$1$1024$0$c2FsdA$aGFzaA",
		"argon2id$1$1024$1$!!$aGFzaA",
	} {
		_, err := hasher.Verify("pw", encoded)
		require.True(t, errors.Is(err, ErrInvalidHash), "expected ErrInvalidHash for %q, got %v", encoded, err)
	}
}

func TestSealerRoundTripBindsAssociatedData(t *testing.T) {
	t.Parallel()

	sealer, err := NewSealer("test-secret")
	require.NoError(t, err)

	sealed, err := sealer.SealString("sk-live-123", "user-1:openai")
	require.NoError(t, err)
	require.NotContains(t, string(sealed), "sk-live-123")

	plain, err := sealer.OpenString(sealed, "user-1:openai")
	require.NoError(t, err)
	require.Equal(t, "sk-live-123", plain)

	_, err = sealer.OpenString(sealed, "user-2:openai")
	require.ErrorIs(t, err, ErrSealedDataInvalid)

	other, err := NewSealer("other-secret")
	require.NoError(t, err)
	_, err = other.OpenString(sealed, "user-1:openai")
	require.ErrorIs(t, err, ErrSealedDataInvalid)

	_, err = sealer.Open([]byte("short"), nil)
	require.ErrorIs(t, err, ErrSealedDataInvalid)
}

func TestNewSealerRequiresSecret(t *testing.T) {
	t.Parallel()

	_, err := NewSealer("")
	require.Error(t, err)
}
