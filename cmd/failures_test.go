package main

import (
	"bytes"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/suphelp/geo-cli/internal/model"
)

func TestFormatFailures(t *testing.T) {
	now := time.Date(2025, 6, 15, 10, 30, 0, 0, time.UTC)
	failures := []model.FailedUnit{
		{
			RunID:     "abc12345-6789-0000-0000-000000000000",
			Kind:      model.UnitKeyword,
			Key:       "condomínio clube",
			Error:     "places: status 503",
			ErrorType: "transient",
			CreatedAt: now,
		},
		{
			RunID:     "def12345-6789-0000-0000-000000000000",
			Kind:      model.UnitRecord,
			Key:       "ChIJ123",
			Error:     "registry: status 500 after 3 attempts with a message long enough to be cut short",
			ErrorType: "transient",
			CreatedAt: now,
		},
	}

	var buf bytes.Buffer
	formatFailures(&buf, failures)

	out := buf.String()
	assert.Contains(t, out, "RUN")
	assert.Contains(t, out, "KIND")
	assert.Contains(t, out, "abc12345")
	assert.NotContains(t, out, "abc12345-6789")
	assert.Contains(t, out, "keyword")
	assert.Contains(t, out, "condomínio clube")
	assert.Contains(t, out, "2025-06-15 10:30")
	assert.Contains(t, out, "...")
}

func TestTruncate(t *testing.T) {
	assert.Equal(t, "short", truncate("short", 10))
	assert.Equal(t, "abcdefg...", truncate("abcdefghijklmnop", 10))
	assert.Equal(t, "condomí...", truncate("condomínio clube", 10))
	assert.Equal(t, "abc", truncateID("abc"))
	assert.Equal(t, "12345678", truncateID("123456789"))
}
