package transfer

import (
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"

	"github.com/hiamp/hq/internal/ident"
	"github.com/hiamp/hq/internal/workspace"
)

// PeerManifest is the cached capability manifest for a remote HQ, stored at
// workspace/world/peers/<peer>/manifest. It is advisory: export consults the
// trust level and accepted types when present, and proceeds without it.
type PeerManifest struct {
	Owner         string   `yaml:"owner"`
	TrustLevel    string   `yaml:"trust-level,omitempty"`
	Workers       []string `yaml:"workers,omitempty"`
	AcceptedTypes []string `yaml:"accepted-types,omitempty"`
	UpdatedAt     string   `yaml:"updated-at"`
}

// Accepts reports whether the peer declared it accepts the bundle type. An
// empty accepted-types list means everything.
func (m *PeerManifest) Accepts(bundleType string) bool {
	if len(m.AcceptedTypes) == 0 {
		return true
	}
	for _, t := range m.AcceptedTypes {
		if t == bundleType {
			return true
		}
	}
	return false
}

// PeerCache reads and writes cached peer manifests.
type PeerCache struct {
	ws *workspace.Workspace
}

// NewPeerCache creates the cache over a workspace.
func NewPeerCache(ws *workspace.Workspace) *PeerCache {
	return &PeerCache{ws: ws}
}

// Get returns the cached manifest for a peer, or (nil, nil) when none is
// cached yet.
func (c *PeerCache) Get(peer string) (*PeerManifest, error) {
	data, err := c.ws.Read(workspace.PeersDir, peer, "manifest")
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	var m PeerManifest
	if err := yaml.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("failed to parse manifest for peer %s: %w", peer, err)
	}
	return &m, nil
}

// Put stores a manifest, stamping updated-at.
func (c *PeerCache) Put(m *PeerManifest) error {
	if m.Owner == "" {
		return fmt.Errorf("peer manifest has no owner")
	}
	m.UpdatedAt = ident.Now()
	data, err := yaml.Marshal(m)
	if err != nil {
		return err
	}
	return c.ws.WriteAtomic(data, workspace.PeersDir, m.Owner, "manifest")
}

// Forget removes a cached manifest.
func (c *PeerCache) Forget(peer string) error {
	path, err := c.ws.Path(workspace.PeersDir, peer, "manifest")
	if err != nil {
		return err
	}
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return err
	}
	// Best-effort cleanup of the now-empty peer directory.
	os.Remove(filepath.Dir(path))
	return nil
}
