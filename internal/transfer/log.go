package transfer

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/hiamp/hq/internal/ident"
	"github.com/hiamp/hq/internal/workspace"
)

// Log event names.
const (
	EventSent        = "sent"
	EventReceived    = "received"
	EventApproved    = "approved"
	EventRejected    = "rejected"
	EventIntegrated  = "integrated"
	EventQuarantined = "quarantined"
)

// Directions.
const (
	DirectionInbound  = "inbound"
	DirectionOutbound = "outbound"
)

// LogEntry is one append-only transfer log record.
type LogEntry struct {
	Timestamp       string `yaml:"timestamp"`
	Event           string `yaml:"event"`
	ID              string `yaml:"id"`
	Direction       string `yaml:"direction"`
	Type            string `yaml:"type"`
	Peer            string `yaml:"peer"`
	StagedTo        string `yaml:"staged-to,omitempty"`
	IntegratedTo    string `yaml:"integrated-to,omitempty"`
	IntegrationHash string `yaml:"integration-hash,omitempty"`
	ApprovedBy      string `yaml:"approved-by,omitempty"`
	ErrorCode       string `yaml:"error-code,omitempty"`
	ErrorDetail     string `yaml:"error-detail,omitempty"`
	Reason          string `yaml:"reason,omitempty"`
}

// Log is the append-only per-day transfer log under workspace/world/log/.
// Appends are serialized in-process by a mutex and across processes by an
// advisory lock file next to the day's log.
type Log struct {
	ws *workspace.Workspace
	mu sync.Mutex
}

// NewLog creates the log over a workspace.
func NewLog(ws *workspace.Workspace) *Log {
	return &Log{ws: ws}
}

func dayFile(t time.Time) string {
	return t.UTC().Format("2006-01-02") + ".yaml"
}

// Append writes one entry to today's log file.
func (l *Log) Append(e LogEntry) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if e.Timestamp == "" {
		e.Timestamp = ident.Now()
	}
	data, err := yaml.Marshal([]LogEntry{e})
	if err != nil {
		return fmt.Errorf("failed to marshal log entry: %w", err)
	}

	path, err := l.ws.Path(workspace.WorldLogDir, dayFile(time.Now()))
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return err
	}

	lock, err := workspace.AcquireLock(path, 5*time.Second)
	if err != nil {
		return fmt.Errorf("failed to lock transfer log: %w", err)
	}
	defer lock.Release()

	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		return fmt.Errorf("failed to open transfer log: %w", err)
	}
	defer f.Close()
	if _, err := f.Write(data); err != nil {
		return fmt.Errorf("failed to append transfer log: %w", err)
	}
	return f.Sync()
}

// ReadDay returns the entries logged on the given day. A partially appended
// trailing record is dropped rather than failing the whole read.
func (l *Log) ReadDay(day time.Time) ([]LogEntry, error) {
	data, err := l.ws.Read(workspace.WorldLogDir, dayFile(day))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	return parseEntries(string(data)), nil
}

// ReadAll returns every entry across all day files, oldest day first.
func (l *Log) ReadAll() ([]LogEntry, error) {
	dirEntries, err := l.ws.List(workspace.WorldLogDir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	var all []LogEntry
	for _, de := range dirEntries {
		if de.IsDir() || !strings.HasSuffix(de.Name(), ".yaml") {
			continue
		}
		data, err := l.ws.Read(workspace.WorldLogDir, de.Name())
		if err != nil {
			continue
		}
		all = append(all, parseEntries(string(data))...)
	}
	return all, nil
}

// LastIntegration returns the most recent integrated record for a local
// path, if any.
func (l *Log) LastIntegration(localPath string) (*LogEntry, bool) {
	entries, err := l.ReadAll()
	if err != nil {
		return nil, false
	}
	for i := len(entries) - 1; i >= 0; i-- {
		if entries[i].Event == EventIntegrated && entries[i].IntegratedTo == localPath {
			return &entries[i], true
		}
	}
	return nil, false
}

// parseEntries unmarshals a YAML sequence, retrying with the trailing record
// dropped when the file ends in a torn append.
func parseEntries(content string) []LogEntry {
	var entries []LogEntry
	if err := yaml.Unmarshal([]byte(content), &entries); err == nil {
		return entries
	}

	// Drop the last "- " block and retry once.
	idx := strings.LastIndex(content, "\n- ")
	if idx < 0 {
		return nil
	}
	var truncated []LogEntry
	if err := yaml.Unmarshal([]byte(content[:idx+1]), &truncated); err != nil {
		return nil
	}
	return truncated
}
