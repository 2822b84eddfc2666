package logger

import (
	"bytes"
	"encoding/json"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func captureOutput(t *testing.T) *bytes.Buffer {
	t.Helper()
	buf := &bytes.Buffer{}
	prev := SetOutput(buf)
	t.Cleanup(func() {
		SetOutput(prev)
		SetLevel(INFO)
		SetRedactPII(true)
	})
	return buf
}

func decodeLine(t *testing.T, buf *bytes.Buffer) map[string]string {
	t.Helper()
	var entry map[string]string
	require.NoError(t, json.Unmarshal([]byte(strings.TrimSpace(buf.String())), &entry))
	return entry
}

func TestParseLevel(t *testing.T) {
	assert.Equal(t, DEBUG, ParseLevel("debug"))
	assert.Equal(t, WARN, ParseLevel(" Warning "))
	assert.Equal(t, ERROR, ParseLevel("ERROR"))
	assert.Equal(t, INFO, ParseLevel("verbose"))
}

func TestLog_LevelFilter(t *testing.T) {
	buf := captureOutput(t)
	SetLevel(WARN)

	Info("skipped")
	assert.Empty(t, buf.String())

	Warn("kept", "audience_id", "a1")
	entry := decodeLine(t, buf)
	assert.Equal(t, "WARN", entry["level"])
	assert.Equal(t, "kept", entry["msg"])
	assert.Equal(t, "a1", entry["audience_id"])
}

func TestLog_RedactsLeadIdentifiers(t *testing.T) {
	buf := captureOutput(t)

	Info("upload", "email", "john.doe@example.com", "phone", "+55 11 98765-4321",
		"note", "contact maria@example.com", "email_hash", strings.Repeat("a", 64))
	entry := decodeLine(t, buf)

	assert.Equal(t, "jo***@example.com", entry["email"])
	assert.Equal(t, "***21", entry["phone"])
	assert.Equal(t, "contact ma***@example.com", entry["note"])
	assert.Equal(t, strings.Repeat("a", 64), entry["email_hash"])
}

func TestLog_RedactionDisabled(t *testing.T) {
	buf := captureOutput(t)
	SetRedactPII(false)

	Info("raw", "email", "john.doe@example.com")
	assert.Equal(t, "john.doe@example.com", decodeLine(t, buf)["email"])
}

func TestNew_Component(t *testing.T) {
	buf := captureOutput(t)

	New("sweeper").Info("tick", "due", 3)
	entry := decodeLine(t, buf)
	assert.Equal(t, "sweeper", entry["component"])
	assert.Equal(t, "3", entry["due"])
}

func TestRedactEmail(t *testing.T) {
	assert.Equal(t, "***@example.com", RedactEmail("ab@example.com"))
	assert.Equal(t, "***@***", RedactEmail("not-an-email"))
}
