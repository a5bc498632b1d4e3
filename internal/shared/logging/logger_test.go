package logging

import (
	"bytes"
	"context"
	"encoding/json"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	id "nexus/internal/shared/utils/id"
)

type recordingLogger struct {
	lines []string
}

func (r *recordingLogger) Debug(format string, args ...any) { r.lines = append(r.lines, "D "+format) }
func (r *recordingLogger) Info(format string, args ...any)  { r.lines = append(r.lines, "I "+format) }
func (r *recordingLogger) Warn(format string, args ...any)  { r.lines = append(r.lines, "W "+format) }
func (r *recordingLogger) Error(format string, args ...any) { r.lines = append(r.lines, "E "+format) }

func TestOrNopHandlesTypedNil(t *testing.T) {
	var typed *recordingLogger
	require.True(t, IsNil(typed))
	require.NotPanics(t, func() { OrNop(typed).Info("ignored") })
}

func TestMultiFlattensAndSkipsNil(t *testing.T) {
	a := &recordingLogger{}
	b := &recordingLogger{}
	logger := Multi(a, nil, Multi(b))
	logger.Warn("hello")
	require.Equal(t, []string{"W hello"}, a.lines)
	require.Equal(t, []string{"W hello"}, b.lines)
	require.Equal(t, Nop(), Multi())
}

func TestWithLogIDPrefixesForeignLoggers(t *testing.T) {
	rec := &recordingLogger{}
	WithField(WithLogID(rec, "log-1"), "user_id", "u-7").Error("boom")
	WithLogID(rec, "").Info("untagged")
	require.Equal(t, []string{"E log_id=log-1 user_id=u-7 boom", "I untagged"}, rec.lines)
}

func TestFromContextTagsEveryMultiTarget(t *testing.T) {
	a := &recordingLogger{}
	b := &recordingLogger{}
	ctx := id.WithUserID(id.WithLogID(context.Background(), "log-3"), "u-1")
	FromContext(ctx, Multi(a, b)).Warn("low balance")
	require.Equal(t, []string{"W log_id=log-3 user_id=u-1 low balance"}, a.lines)
	require.Equal(t, a.lines, b.lines)
}

func TestComponentLoggerWritesStructuredLines(t *testing.T) {
	var buf bytes.Buffer
	Configure(Options{Level: "debug", Format: "json", Output: &buf})
	t.Cleanup(func() { Configure(Options{}) })

	WithField(WithLogID(NewComponentLogger("Ledger"), "log-9"), "user_id", "u-2").Info("debited %d credits", 12)

	var entry map[string]any
	require.NoError(t, json.Unmarshal(bytes.TrimSpace(buf.Bytes()), &entry))
	require.Equal(t, "debited 12 credits", entry["msg"])
	require.Equal(t, "Ledger", entry["component"])
	require.Equal(t, "log-9", entry["log_id"])
	require.Equal(t, "u-2", entry["user_id"])
	require.True(t, strings.EqualFold(entry["level"].(string), "INFO"))
}
