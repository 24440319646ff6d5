package audit

import (
	"bytes"
	"encoding/json"
	"os"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/SkynetNext/gateway-dataplane/internal/config"
)

func TestLoggerWritesJSONLines(t *testing.T) {
	var buf bytes.Buffer
	l := NewWriterLogger(&buf, nil)

	l.Log(Entry{Action: "blacklist_add", Target: "10.0.0.9", Source: "admin"})
	l.Log(Entry{Action: "ratelimit_reset", Source: "window", Detail: "3 sources"})
	require.NoError(t, l.Close())

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	require.Len(t, lines, 2)

	var first Entry
	require.NoError(t, json.Unmarshal([]byte(lines[0]), &first))
	assert.Equal(t, "blacklist_add", first.Action)
	assert.Equal(t, "10.0.0.9", first.Target)
	assert.Equal(t, "admin", first.Source)
	assert.False(t, first.Timestamp.IsZero())

	var second Entry
	require.NoError(t, json.Unmarshal([]byte(lines[1]), &second))
	assert.Equal(t, "ratelimit_reset", second.Action)
}

func TestNilLoggerIsNoOp(t *testing.T) {
	var l *Logger
	l.Log(Entry{Action: "ignored"})
	assert.NoError(t, l.Close())
}

func TestDisabledConfigYieldsNil(t *testing.T) {
	l := NewLogger(&config.AuditConfig{Enabled: false})
	assert.Nil(t, l)
}

func TestFileSink(t *testing.T) {
	path := t.TempDir() + "/audit/log.jsonl"
	l := NewLogger(&config.AuditConfig{Enabled: true, Sink: "file://" + path})
	require.NotNil(t, l)

	l.Log(Entry{Action: "conn_reject", Target: "192.0.2.1:4444"})
	require.NoError(t, l.Close())

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), `"action":"conn_reject"`)
}
