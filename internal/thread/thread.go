// Package thread maintains the durable per-thread message log.
//
// Each thread lives in a single YAML file under workspace/threads/hiamp/.
// Appends rewrite the file atomically; a crash mid-append leaves the previous
// state intact.
package thread

import (
	"fmt"
	"os"
	"sync"

	"gopkg.in/yaml.v3"

	"github.com/hiamp/hq/internal/ident"
	"github.com/hiamp/hq/internal/workspace"
)

// Thread statuses.
const (
	StatusOpen   = "open"
	StatusClosed = "closed"
)

// Entry is one message recorded in a thread.
type Entry struct {
	ID        string `yaml:"id"`
	From      string `yaml:"from"`
	To        string `yaml:"to"`
	Intent    string `yaml:"intent"`
	Body      string `yaml:"body"`
	ReplyTo   string `yaml:"reply-to,omitempty"`
	Timestamp string `yaml:"timestamp"`
}

// State is the persistent record of a thread.
type State struct {
	ID           string   `yaml:"id"`
	Status       string   `yaml:"status"`
	Participants []string `yaml:"participants"`
	Messages     []Entry  `yaml:"messages"`
	CreatedAt    string   `yaml:"created-at"`
	UpdatedAt    string   `yaml:"updated-at"`
}

// Manager stores thread state files under the workspace.
type Manager struct {
	ws  *workspace.Workspace
	dir string
	mu  sync.Mutex
}

// NewManager creates a thread manager over the given workspace. An empty dir
// uses the default layout.
func NewManager(ws *workspace.Workspace, dir string) *Manager {
	if dir == "" {
		dir = workspace.ThreadsDir
	}
	return &Manager{ws: ws, dir: dir}
}

// Load reads a thread's state. A missing thread returns os.ErrNotExist.
func (m *Manager) Load(threadID string) (*State, error) {
	data, err := m.ws.Read(m.dir, threadID)
	if err != nil {
		return nil, err
	}
	var state State
	if err := yaml.Unmarshal(data, &state); err != nil {
		return nil, fmt.Errorf("failed to parse thread %s: %w", threadID, err)
	}
	return &state, nil
}

// Append adds a message to the thread, creating the thread if it does not yet
// exist. A reply-to referencing a message absent from the log is kept
// verbatim; reply references are weak. New participants are appended on first
// appearance, preserving insertion order.
func (m *Manager) Append(threadID string, e Entry) (*State, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	state, err := m.Load(threadID)
	if err != nil {
		if !os.IsNotExist(err) {
			return nil, err
		}
		now := ident.Now()
		state = &State{ID: threadID, Status: StatusOpen, CreatedAt: now}
	}

	if e.Timestamp == "" {
		e.Timestamp = ident.Now()
	}
	state.Messages = append(state.Messages, e)
	state.UpdatedAt = e.Timestamp
	addParticipant(state, e.From)
	addParticipant(state, e.To)

	if err := m.save(state); err != nil {
		return nil, err
	}
	return state, nil
}

// Close marks a thread closed.
func (m *Manager) Close(threadID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	state, err := m.Load(threadID)
	if err != nil {
		return err
	}
	state.Status = StatusClosed
	state.UpdatedAt = ident.Now()
	return m.save(state)
}

// List returns the ids of every stored thread.
func (m *Manager) List() ([]string, error) {
	entries, err := m.ws.List(m.dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	var ids []string
	for _, entry := range entries {
		if !entry.IsDir() {
			ids = append(ids, entry.Name())
		}
	}
	return ids, nil
}

func (m *Manager) save(state *State) error {
	data, err := yaml.Marshal(state)
	if err != nil {
		return fmt.Errorf("failed to marshal thread %s: %w", state.ID, err)
	}
	return m.ws.WriteAtomic(data, m.dir, state.ID)
}

func addParticipant(state *State, addr string) {
	for _, p := range state.Participants {
		if p == addr {
			return
		}
	}
	state.Participants = append(state.Participants, addr)
}
