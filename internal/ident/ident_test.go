package ident

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewIDs_MatchGrammar(t *testing.T) {
	assert.True(t, ValidMessageID(NewMessageID()))
	assert.True(t, ValidThreadID(NewThreadID()))
	assert.True(t, ValidTransferID(NewTransferID()))
	assert.NotEqual(t, NewMessageID(), NewMessageID())
}

func TestValidOwner(t *testing.T) {
	assert.True(t, ValidOwner("stefan"))
	assert.True(t, ValidOwner("hq-west-2"))
	assert.False(t, ValidOwner("s"))
	assert.False(t, ValidOwner("Stefan"))
	assert.False(t, ValidOwner("-stefan"))
	assert.False(t, ValidOwner("stefan-"))
}

func TestValidIDs_RejectWrongPrefix(t *testing.T) {
	assert.False(t, ValidMessageID("thr-a1b2c3d4"))
	assert.False(t, ValidThreadID("msg-a1b2c3d4"))
	assert.False(t, ValidTransferID("txfr-short"))
	assert.False(t, ValidMessageID("msg-ABC"))
}

func TestParseAddress(t *testing.T) {
	addr, err := ParseAddress("alex/backend-dev")
	require.NoError(t, err)
	assert.Equal(t, "alex", addr.Owner)
	assert.Equal(t, "backend-dev", addr.Worker)
	assert.Equal(t, "alex/backend-dev", addr.String())

	_, err = ParseAddress("no-slash")
	assert.Error(t, err)
	_, err = ParseAddress("too/many/parts")
	assert.Error(t, err)
}

func TestTimestamp_RoundTrip(t *testing.T) {
	when := time.Date(2026, 8, 26, 10, 30, 0, 0, time.UTC)
	s := Timestamp(when)
	assert.Equal(t, "2026-08-26T10:30:00Z", s)

	parsed, err := ParseTimestamp(s)
	require.NoError(t, err)
	assert.True(t, parsed.Equal(when))
}
