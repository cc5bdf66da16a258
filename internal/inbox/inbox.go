// Package inbox persists received messages per local worker.
//
// Layout: workspace/inbox/<worker>/<msg-id>, one YAML file per message.
// Enumeration orders by file mtime descending, ties broken by id.
package inbox

import (
	"fmt"
	"os"
	"sort"
	"sync"

	"gopkg.in/yaml.v3"

	"github.com/hiamp/hq/internal/codec"
	"github.com/hiamp/hq/internal/ident"
	"github.com/hiamp/hq/internal/workspace"
)

// Entry is one received message as stored on disk.
type Entry struct {
	Message    codec.Message `yaml:"message"`
	Raw        string        `yaml:"raw"`
	ReceivedAt string        `yaml:"received-at"`
	ChannelID  string        `yaml:"channel-id,omitempty"`
	ThreadRef  string        `yaml:"thread-ref,omitempty"`
	Read       bool          `yaml:"read"`
}

// Store is the per-worker inbox.
type Store struct {
	ws  *workspace.Workspace
	dir string
	mu  sync.Mutex
}

// NewStore creates an inbox store over the workspace. An empty dir uses the
// default layout.
func NewStore(ws *workspace.Workspace, dir string) *Store {
	if dir == "" {
		dir = workspace.InboxDir
	}
	return &Store{ws: ws, dir: dir}
}

// Add persists an entry keyed by message id. A second arrival with the same
// id is treated as an update; the later timestamp wins. It reports whether
// the entry replaced an existing one so the caller can flag the duplicate.
func (s *Store) Add(worker string, e Entry) (duplicate bool, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if e.ReceivedAt == "" {
		e.ReceivedAt = ident.Now()
	}
	duplicate = s.ws.Exists(s.dir, worker, e.Message.ID)
	data, err := yaml.Marshal(&e)
	if err != nil {
		return duplicate, fmt.Errorf("failed to marshal inbox entry: %w", err)
	}
	return duplicate, s.ws.WriteAtomic(data, s.dir, worker, e.Message.ID)
}

// Get loads a single entry.
func (s *Store) Get(worker, msgID string) (*Entry, error) {
	data, err := s.ws.Read(s.dir, worker, msgID)
	if err != nil {
		return nil, err
	}
	var e Entry
	if err := yaml.Unmarshal(data, &e); err != nil {
		return nil, fmt.Errorf("failed to parse inbox entry %s: %w", msgID, err)
	}
	return &e, nil
}

// MarkRead sets the read flag on an entry.
func (s *Store) MarkRead(worker, msgID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, err := s.Get(worker, msgID)
	if err != nil {
		return err
	}
	e.Read = true
	data, err := yaml.Marshal(e)
	if err != nil {
		return err
	}
	return s.ws.WriteAtomic(data, s.dir, worker, msgID)
}

// List returns the worker's entries, newest first by file mtime, ties broken
// by id. includeRead false filters to unread entries.
func (s *Store) List(worker string, includeRead bool) ([]Entry, error) {
	dirEntries, err := s.ws.List(s.dir, worker)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}

	type keyed struct {
		entry Entry
		mtime int64
		id    string
	}
	var all []keyed
	for _, de := range dirEntries {
		if de.IsDir() {
			continue
		}
		info, err := de.Info()
		if err != nil {
			continue
		}
		e, err := s.Get(worker, de.Name())
		if err != nil {
			continue
		}
		if !includeRead && e.Read {
			continue
		}
		all = append(all, keyed{entry: *e, mtime: info.ModTime().UnixNano(), id: de.Name()})
	}

	sort.Slice(all, func(i, j int) bool {
		if all[i].mtime != all[j].mtime {
			return all[i].mtime > all[j].mtime
		}
		return all[i].id < all[j].id
	})

	entries := make([]Entry, len(all))
	for i, k := range all {
		entries[i] = k.entry
	}
	return entries, nil
}

// Workers lists the worker directories that have at least one entry.
func (s *Store) Workers() ([]string, error) {
	dirEntries, err := s.ws.List(s.dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	var workers []string
	for _, de := range dirEntries {
		if de.IsDir() {
			workers = append(workers, de.Name())
		}
	}
	return workers, nil
}
