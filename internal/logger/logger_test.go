package logger

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

func TestSanitizeRedactsSecretsAndHashesPrincipals(t *testing.T) {
	l := &Logger{redact: true, hashSalt: "salt"}

	out := l.sanitize([]any{
		"author_email", "ada@example.com",
		"principal_id", "usr_1",
		"suggestion_id", "wsg_1",
	})
	require.Len(t, out, 6)
	assert.Equal(t, "[REDACTED]", out[1])
	hashed, ok := out[3].(string)
	require.True(t, ok)
	assert.True(t, strings.HasPrefix(hashed, "hash:"))
	assert.Equal(t, "wsg_1", out[5])
}

func TestSanitizePassThroughWhenDisabled(t *testing.T) {
	l := &Logger{}
	kv := []any{"author_email", "ada@example.com"}
	assert.Equal(t, kv, l.sanitize(kv))
}

func TestSanitizeKeepsDanglingKey(t *testing.T) {
	l := &Logger{redact: true}
	out := l.sanitize([]any{"a", 1, "dangling"})
	assert.Equal(t, []any{"a", 1, "dangling"}, out)
}

func TestNopLoggerIsUsable(t *testing.T) {
	l := Nop().With("component", "test")
	l.Info("hello", "k", "v")
	l.Sync()
}

func TestFromZapRedactsThroughWrappedCore(t *testing.T) {
	core, logs := observer.New(zapcore.DebugLevel)
	l := FromZap(zap.New(core), Options{Redact: true})

	l.Info("notified", "author_email", "ada@example.com", "suggestion_id", "wsg_1")

	entries := logs.FilterMessage("notified").All()
	require.Len(t, entries, 1)
	fields := entries[0].ContextMap()
	assert.Equal(t, "[REDACTED]", fields["author_email"])
	assert.Equal(t, "wsg_1", fields["suggestion_id"])
}
