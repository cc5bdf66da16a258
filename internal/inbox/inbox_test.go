package inbox

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hiamp/hq/internal/codec"
	"github.com/hiamp/hq/internal/workspace"
)

func newTestStore(t *testing.T) *Store {
	ws, err := workspace.New(t.TempDir())
	require.NoError(t, err)
	return NewStore(ws, "")
}

func entry(id, body string) Entry {
	return Entry{
		Message: codec.Message{
			Version: codec.Version, ID: id,
			From: "alex/backend-dev", To: "stefan/architect",
			Intent: codec.IntentInform, Body: body,
		},
		Raw: "raw text",
	}
}

func TestStore_AddAndGet(t *testing.T) {
	s := newTestStore(t)

	dup, err := s.Add("architect", entry("msg-00000001", "hello"))
	require.NoError(t, err)
	assert.False(t, dup)

	got, err := s.Get("architect", "msg-00000001")
	require.NoError(t, err)
	assert.Equal(t, "hello", got.Message.Body)
	assert.NotEmpty(t, got.ReceivedAt)
	assert.False(t, got.Read)
}

func TestStore_DuplicateIDUpdates(t *testing.T) {
	s := newTestStore(t)

	_, err := s.Add("architect", entry("msg-00000001", "first"))
	require.NoError(t, err)

	dup, err := s.Add("architect", entry("msg-00000001", "revised"))
	require.NoError(t, err)
	assert.True(t, dup)

	got, err := s.Get("architect", "msg-00000001")
	require.NoError(t, err)
	assert.Equal(t, "revised", got.Message.Body)
}

func TestStore_MarkReadFiltersList(t *testing.T) {
	s := newTestStore(t)

	_, err := s.Add("architect", entry("msg-00000001", "a"))
	require.NoError(t, err)
	_, err = s.Add("architect", entry("msg-00000002", "b"))
	require.NoError(t, err)

	require.NoError(t, s.MarkRead("architect", "msg-00000001"))

	unread, err := s.List("architect", false)
	require.NoError(t, err)
	require.Len(t, unread, 1)
	assert.Equal(t, "msg-00000002", unread[0].Message.ID)

	all, err := s.List("architect", true)
	require.NoError(t, err)
	assert.Len(t, all, 2)
}

func TestStore_ListEmptyWorker(t *testing.T) {
	s := newTestStore(t)
	entries, err := s.List("nobody", true)
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestStore_ConfiguredPath(t *testing.T) {
	ws, err := workspace.New(t.TempDir())
	require.NoError(t, err)

	s := NewStore(ws, "custom/inbox")
	_, err = s.Add("architect", entry("msg-00000001", "a"))
	require.NoError(t, err)

	assert.True(t, ws.Exists("custom/inbox", "architect", "msg-00000001"))
	assert.False(t, ws.Exists(workspace.InboxDir, "architect", "msg-00000001"))
}

func TestStore_Workers(t *testing.T) {
	s := newTestStore(t)

	_, err := s.Add("architect", entry("msg-00000001", "a"))
	require.NoError(t, err)
	_, err = s.Add("qa-tester", entry("msg-00000002", "b"))
	require.NoError(t, err)

	workers, err := s.Workers()
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"architect", "qa-tester"}, workers)
}
