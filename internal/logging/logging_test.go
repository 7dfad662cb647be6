package logging

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewWithJSONAndLevel(t *testing.T) {
	var buf bytes.Buffer
	l, err := NewWith(&buf, "json", "warn")
	require.NoError(t, err)

	l.Info("hidden")
	l.Warn("shown", "mission_id", "m-1")

	var rec map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &rec))
	assert.Equal(t, "shown", rec["msg"])
	assert.Equal(t, "m-1", rec["mission_id"])
}

func TestNewWithRejectsUnknown(t *testing.T) {
	_, err := NewWith(&bytes.Buffer{}, "xml", "info")
	assert.Error(t, err)
	_, err = NewWith(&bytes.Buffer{}, "text", "loud")
	assert.Error(t, err)
}

func TestContextRoundTrip(t *testing.T) {
	assert.Same(t, slog.Default(), FromContext(context.Background()))
	l := slog.New(slog.NewTextHandler(&bytes.Buffer{}, nil))
	assert.Same(t, l, FromContext(NewContext(context.Background(), l)))
}
