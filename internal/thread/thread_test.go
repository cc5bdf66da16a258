package thread

import (
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hiamp/hq/internal/workspace"
)

func newTestManager(t *testing.T) *Manager {
	ws, err := workspace.New(t.TempDir())
	require.NoError(t, err)
	return NewManager(ws, "")
}

func TestManager_AppendCreatesThread(t *testing.T) {
	m := newTestManager(t)

	state, err := m.Append("thr-aaaa1111", Entry{
		ID: "msg-a1b2c3d4", From: "stefan/architect", To: "alex/backend-dev",
		Intent: "handoff", Body: "first",
	})
	require.NoError(t, err)

	assert.Equal(t, "thr-aaaa1111", state.ID)
	assert.Equal(t, StatusOpen, state.Status)
	assert.Len(t, state.Messages, 1)
	assert.NotEmpty(t, state.CreatedAt)
	assert.NotEmpty(t, state.Messages[0].Timestamp)
}

func TestManager_ParticipantsInsertionOrderedUnique(t *testing.T) {
	m := newTestManager(t)

	_, err := m.Append("thr-aaaa1111", Entry{ID: "msg-00000001", From: "stefan/architect", To: "alex/backend-dev"})
	require.NoError(t, err)
	state, err := m.Append("thr-aaaa1111", Entry{ID: "msg-00000002", From: "alex/backend-dev", To: "stefan/architect"})
	require.NoError(t, err)

	assert.Equal(t, []string{"stefan/architect", "alex/backend-dev"}, state.Participants)
}

func TestManager_WeakReplyTo(t *testing.T) {
	m := newTestManager(t)

	// A reply-to naming a message the log never saw is stored verbatim.
	state, err := m.Append("thr-aaaa1111", Entry{
		ID: "msg-00000001", From: "a/x", To: "b/y", ReplyTo: "msg-deadbeef",
	})
	require.NoError(t, err)
	assert.Equal(t, "msg-deadbeef", state.Messages[0].ReplyTo)
}

func TestManager_LoadMissing(t *testing.T) {
	m := newTestManager(t)
	_, err := m.Load("thr-ffffffff")
	assert.True(t, os.IsNotExist(err))
}

func TestManager_CloseAndList(t *testing.T) {
	m := newTestManager(t)

	_, err := m.Append("thr-aaaa1111", Entry{ID: "msg-00000001", From: "a/x", To: "b/y"})
	require.NoError(t, err)
	_, err = m.Append("thr-bbbb2222", Entry{ID: "msg-00000002", From: "a/x", To: "b/y"})
	require.NoError(t, err)

	require.NoError(t, m.Close("thr-aaaa1111"))
	state, err := m.Load("thr-aaaa1111")
	require.NoError(t, err)
	assert.Equal(t, StatusClosed, state.Status)

	ids, err := m.List()
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"thr-aaaa1111", "thr-bbbb2222"}, ids)
}

func TestManager_ConfiguredPath(t *testing.T) {
	dir := t.TempDir()
	ws, err := workspace.New(dir)
	require.NoError(t, err)

	m := NewManager(ws, "custom/threads")
	_, err = m.Append("thr-aaaa1111", Entry{ID: "msg-00000001", From: "a/x", To: "b/y"})
	require.NoError(t, err)

	assert.True(t, ws.Exists("custom/threads", "thr-aaaa1111"))
	assert.False(t, ws.Exists(workspace.ThreadsDir, "thr-aaaa1111"))
}

func TestManager_PersistsAcrossInstances(t *testing.T) {
	dir := t.TempDir()
	ws, err := workspace.New(dir)
	require.NoError(t, err)

	_, err = NewManager(ws, "").Append("thr-aaaa1111", Entry{ID: "msg-00000001", From: "a/x", To: "b/y", Body: "kept"})
	require.NoError(t, err)

	ws2, err := workspace.New(dir)
	require.NoError(t, err)
	state, err := NewManager(ws2, "").Load("thr-aaaa1111")
	require.NoError(t, err)
	assert.Equal(t, "kept", state.Messages[0].Body)
}
