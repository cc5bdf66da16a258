// Package transfer implements the World Protocol bundle engine: exporting
// content-addressed knowledge and worker-pattern bundles, previewing and
// staging inbound ones, and the append-only transfer log.
//
// Bundle layout on disk:
//
//	<bundle>/envelope.yaml
//	<bundle>/VERIFY.sha256
//	<bundle>/payload/manifest.yaml
//	<bundle>/payload/<type-specific tree>
//	<bundle>/payload/metadata/provenance.yaml
//	<bundle>/payload/metadata/adaptation.yaml   (worker-pattern only)
package transfer

import (
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// Bundle types.
const (
	TypeKnowledge     = "knowledge"
	TypeWorkerPattern = "worker-pattern"
)

// EnvelopeVersion is the only bundle version this engine produces.
const EnvelopeVersion = "v1"

// Envelope is the outer metadata of every bundle.
type Envelope struct {
	ID          string `yaml:"id"`
	Type        string `yaml:"type"`
	From        string `yaml:"from"`
	To          string `yaml:"to"`
	Timestamp   string `yaml:"timestamp"`
	Version     string `yaml:"version"`
	Description string `yaml:"description,omitempty"`
	PayloadHash string  `yaml:"payload-hash"`
	PayloadSize int64   `yaml:"payload-size"`
	Supersedes  *string `yaml:"supersedes"` // transfer id, or null when first in chain
	Sequence    int     `yaml:"sequence"`
	Transport   string  `yaml:"transport"`
}

// envelopeDoc is the on-disk wrapper: fields nest under a top-level
// "envelope:" key.
type envelopeDoc struct {
	Envelope Envelope `yaml:"envelope"`
}

// ManifestItem is one payload file record; the per-file authoritative hash.
type ManifestItem struct {
	Path       string `yaml:"path"`
	Hash       string `yaml:"hash"`
	Size       int64  `yaml:"size"`
	SourcePath string `yaml:"source-path,omitempty"`
}

// Manifest lists every payload item plus the type-specific tags.
type Manifest struct {
	Type           string         `yaml:"type"`
	Domain         string         `yaml:"domain,omitempty"`          // knowledge
	PatternName    string         `yaml:"pattern-name,omitempty"`    // worker-pattern
	PatternVersion string         `yaml:"pattern-version,omitempty"` // worker-pattern
	Items          []ManifestItem `yaml:"items"`
}

// Provenance records where a bundle came from.
type Provenance struct {
	Owner       string   `yaml:"owner"`
	InstanceID  string   `yaml:"instance-id"`
	GeneratedAt string   `yaml:"generated-at"`
	SourcePaths []string `yaml:"source-paths"`
}

// CustomizationPoint is one field the receiving operator should review when
// materializing a pattern.
type CustomizationPoint struct {
	Field    string `yaml:"field"`
	Guidance string `yaml:"guidance"`
	Priority string `yaml:"priority"` // low | medium | high
}

// Adaptation ships with worker-pattern bundles: what the pattern needs and
// how to adapt it.
type Adaptation struct {
	Requires struct {
		KnowledgeDomains []string `yaml:"knowledge-domains,omitempty"`
		Tools            []string `yaml:"tools,omitempty"`
	} `yaml:"requires"`
	CustomizationPoints []CustomizationPoint `yaml:"customization-points,omitempty"`
	NotIncluded         []string             `yaml:"not-included,omitempty"`
	EvolutionNotes      string               `yaml:"evolution-notes,omitempty"`
	PatternOrigin       string               `yaml:"pattern-origin"`
}

// ReadEnvelope loads a bundle's envelope.yaml.
func ReadEnvelope(bundleDir string) (*Envelope, error) {
	data, err := os.ReadFile(filepath.Join(bundleDir, "envelope.yaml"))
	if err != nil {
		return nil, fmt.Errorf("failed to read envelope: %w", err)
	}
	var doc envelopeDoc
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("failed to parse envelope: %w", err)
	}
	return &doc.Envelope, nil
}

func writeEnvelope(bundleDir string, env *Envelope) error {
	data, err := yaml.Marshal(envelopeDoc{Envelope: *env})
	if err != nil {
		return err
	}
	return os.WriteFile(filepath.Join(bundleDir, "envelope.yaml"), data, 0644)
}

// ReadManifest loads payload/manifest.yaml.
func ReadManifest(bundleDir string) (*Manifest, error) {
	data, err := os.ReadFile(filepath.Join(bundleDir, "payload", "manifest.yaml"))
	if err != nil {
		return nil, fmt.Errorf("failed to read manifest: %w", err)
	}
	var m Manifest
	if err := yaml.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("failed to parse manifest: %w", err)
	}
	return &m, nil
}

func writeManifest(bundleDir string, m *Manifest) error {
	data, err := yaml.Marshal(m)
	if err != nil {
		return err
	}
	return os.WriteFile(filepath.Join(bundleDir, "payload", "manifest.yaml"), data, 0644)
}

// ReadAdaptation loads payload/metadata/adaptation.yaml if present.
func ReadAdaptation(bundleDir string) (*Adaptation, error) {
	data, err := os.ReadFile(filepath.Join(bundleDir, "payload", "metadata", "adaptation.yaml"))
	if err != nil {
		return nil, err
	}
	var a Adaptation
	if err := yaml.Unmarshal(data, &a); err != nil {
		return nil, fmt.Errorf("failed to parse adaptation notes: %w", err)
	}
	return &a, nil
}

func writeMetadata(bundleDir, name string, v interface{}) error {
	data, err := yaml.Marshal(v)
	if err != nil {
		return err
	}
	dir := filepath.Join(bundleDir, "payload", "metadata")
	if err := os.MkdirAll(dir, 0755); err != nil {
		return err
	}
	return os.WriteFile(filepath.Join(dir, name), data, 0644)
}
