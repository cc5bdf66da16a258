// Package workspace provides rooted filesystem access for an HQ.
//
// Every persistent artifact the engine owns lives under the HQ root; this
// package confines reads and writes to that root and provides the atomic
// write discipline (write-temp-rename) the stores rely on.
package workspace

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

// Workspace is a filesystem rooted at the HQ directory.
type Workspace struct {
	root string
}

// Well-known subdirectories under the HQ root.
const (
	InboxDir      = "workspace/inbox"
	ThreadsDir    = "workspace/threads/hiamp"
	WorldInboxDir = "workspace/world/inbox"
	WorldLogDir   = "workspace/world/log"
	QuarantineDir = "workspace/world/quarantine"
	PeersDir      = "workspace/world/peers"
)

// New initializes a workspace rooted at dir, creating it if needed.
func New(dir string) (*Workspace, error) {
	abs, err := filepath.Abs(dir)
	if err != nil {
		return nil, fmt.Errorf("invalid workspace root: %w", err)
	}
	if err := os.MkdirAll(abs, 0755); err != nil {
		return nil, fmt.Errorf("failed to create workspace root: %w", err)
	}
	return &Workspace{root: abs}, nil
}

// Root returns the absolute root path.
func (ws *Workspace) Root() string {
	return ws.root
}

// Path resolves relative parts against the root, rejecting traversal.
func (ws *Workspace) Path(parts ...string) (string, error) {
	rel := filepath.Join(parts...)
	if strings.Contains(rel, "..") {
		return "", fmt.Errorf("path traversal not allowed: %s", rel)
	}
	abs := filepath.Clean(filepath.Join(ws.root, rel))
	if !strings.HasPrefix(abs, ws.root) {
		return "", fmt.Errorf("path outside workspace root: %s", rel)
	}
	return abs, nil
}

// Read reads a file's contents.
func (ws *Workspace) Read(parts ...string) ([]byte, error) {
	path, err := ws.Path(parts...)
	if err != nil {
		return nil, err
	}
	return os.ReadFile(path)
}

// Exists checks whether a path exists.
func (ws *Workspace) Exists(parts ...string) bool {
	path, err := ws.Path(parts...)
	if err != nil {
		return false
	}
	_, err = os.Stat(path)
	return err == nil
}

// Mkdir creates a directory and its parents.
func (ws *Workspace) Mkdir(parts ...string) error {
	path, err := ws.Path(parts...)
	if err != nil {
		return err
	}
	return os.MkdirAll(path, 0755)
}

// WriteAtomic writes content via write-temp-rename so a crash never leaves a
// partial file behind.
func (ws *Workspace) WriteAtomic(content []byte, parts ...string) error {
	path, err := ws.Path(parts...)
	if err != nil {
		return err
	}
	return WriteFileAtomic(path, content)
}

// List returns directory entries sorted by name.
func (ws *Workspace) List(parts ...string) ([]os.DirEntry, error) {
	path, err := ws.Path(parts...)
	if err != nil {
		return nil, err
	}
	entries, err := os.ReadDir(path)
	if err != nil {
		return nil, err
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].Name() < entries[j].Name() })
	return entries, nil
}

// WriteFileAtomic writes content to path via a temp file in the same
// directory followed by rename.
func WriteFileAtomic(path string, content []byte) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create directory: %w", err)
	}
	tmp, err := os.CreateTemp(dir, ".tmp-*")
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(content); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("failed to write temp file: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("failed to sync temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return err
	}
	if err := os.Rename(tmpName, path); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("failed to rename into place: %w", err)
	}
	return nil
}

// CopyFile copies a single regular file, creating destination directories.
func CopyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	if err := os.MkdirAll(filepath.Dir(dst), 0755); err != nil {
		return err
	}
	out, err := os.Create(dst)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		return err
	}
	return out.Close()
}

// CopyTree copies every regular file under src into dst, preserving relative
// paths. Symlinks are skipped, not followed.
func CopyTree(src, dst string) error {
	return filepath.Walk(src, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if !info.Mode().IsRegular() {
			return nil
		}
		rel, err := filepath.Rel(src, path)
		if err != nil {
			return err
		}
		return CopyFile(path, filepath.Join(dst, rel))
	})
}
