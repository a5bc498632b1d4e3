package domain

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestCreditsForUsageRoundsUp(t *testing.T) {
	t.Parallel()

	table := DefaultRateTable()
	tests := []struct {
		model  string
		tokens int
		want   int64
	}{
		{model: "gpt-4o", tokens: 0, want: 0},
		{model: "gpt-4o", tokens: 1, want: 1},
		{model: "gpt-4o", tokens: 1000, want: 5},
		{model: "gpt-4o", tokens: 1001, want: 6},
		{model: "gpt-4o-mini", tokens: 2500, want: 3},
		{model: "claude-3-opus-latest", tokens: 200, want: 3},
		{model: "unknown-model", tokens: 1000, want: 5},
		{model: "unknown-model", tokens: 1234, want: 7},
	}
	for _, tt := range tests {
		if got := table.CreditsForUsage(tt.model, tt.tokens); got != tt.want {
			t.Fatalf("CreditsForUsage(%q, %d) = %d, want %d", tt.model, tt.tokens, got, tt.want)
		}
	}
}

func TestLoadRateTableOverlaysDefaults(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "rates.yaml")
	require.NoError(t, os.WriteFile(path, []byte("default_rate: 7\nrates:\n  gpt-4o: 4\n  local-model: 1\n"), 0o644))

	table, err := LoadRateTable(path)
	require.NoError(t, err)
	require.Equal(t, int64(4), table.Rate("gpt-4o"))
	require.Equal(t, int64(1), table.Rate("local-model"))
	require.Equal(t, int64(15), table.Rate("o1"))
	require.Equal(t, int64(7), table.Rate("missing"))
}

func TestLoadRateTableRejectsNonPositiveRates(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "rates.yaml")
	require.NoError(t, os.WriteFile(path, []byte("rates:\n  gpt-4o: 0\n"), 0o644))
	_, err := LoadRateTable(path)
	require.Error(t, err)
}

func TestMetadataCreditsAcceptsJSONShapes(t *testing.T) {
	t.Parallel()

	for _, raw := range []any{float64(2000), 2000, int64(2000), "2000"} {
		credits, ok := MetadataCredits(map[string]any{"credits": raw})
		require.True(t, ok)
		require.Equal(t, int64(2000), credits)
	}
	_, ok := MetadataCredits(map[string]any{"credits": -1})
	require.False(t, ok)
	_, ok = MetadataCredits(map[string]any{})
	require.False(t, ok)
}
