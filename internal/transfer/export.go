package transfer

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/hiamp/hq/internal/fault"
	"github.com/hiamp/hq/internal/ident"
	"github.com/hiamp/hq/internal/integrity"
	"github.com/hiamp/hq/internal/workspace"
)

// Exporter builds outbound bundles from the local HQ tree.
type Exporter struct {
	hqRoot     string
	owner      string
	instanceID string
	transport  string
	log        *Log
}

// NewExporter creates an exporter for the local HQ.
func NewExporter(hqRoot, owner, instanceID, transportName string, log *Log) *Exporter {
	return &Exporter{hqRoot: hqRoot, owner: owner, instanceID: instanceID, transport: transportName, log: log}
}

// KnowledgeRequest describes a knowledge export.
type KnowledgeRequest struct {
	Paths       []string // files or directories, relative to the HQ root
	Domain      string
	ToPeer      string
	OutputDir   string
	Description string
	Supersedes  string
	Sequence    int // defaults to 1
}

// PatternRequest describes a worker-pattern export.
type PatternRequest struct {
	WorkerID       string // payload comes from workers/<id>/ under the HQ root
	PatternVersion string
	ToPeer         string
	OutputDir      string
	Description    string
	Supersedes     string
	Sequence       int
	Adaptation     Adaptation
}

// Summary reports a completed export.
type Summary struct {
	TransferID  string
	BundlePath  string
	Envelope    Envelope
	FileCount   int
	PayloadSize int64
}

// ExportKnowledge builds a knowledge bundle. The bundle is assembled in a
// temp directory and renamed into place only when complete.
func (e *Exporter) ExportKnowledge(req KnowledgeRequest) (*Summary, error) {
	if err := os.MkdirAll(req.OutputDir, 0755); err != nil {
		return nil, fault.Wrap(fault.CodeExportIO, "failed to create output directory", err)
	}
	transferID := e.freshTransferID(req.OutputDir)
	tmpDir, err := os.MkdirTemp(req.OutputDir, ".txfr-*")
	if err != nil {
		return nil, fault.Wrap(fault.CodeExportIO, "failed to create staging directory", err)
	}
	defer os.RemoveAll(tmpDir)

	payloadDir := filepath.Join(tmpDir, "payload")
	var items []ManifestItem
	for _, rel := range req.Paths {
		copied, err := e.copyInput(rel, payloadDir)
		if err != nil {
			return nil, err
		}
		items = append(items, copied...)
	}
	if len(items) == 0 {
		return nil, fault.New(fault.CodeExportIO, "no exportable files in the requested paths")
	}

	manifest := &Manifest{Type: TypeKnowledge, Domain: req.Domain, Items: items}
	prov := &Provenance{
		Owner:       e.owner,
		InstanceID:  e.instanceID,
		GeneratedAt: ident.Now(),
		SourcePaths: req.Paths,
	}
	return e.finish(tmpDir, transferID, req.OutputDir, req.ToPeer, TypeKnowledge,
		req.Description, req.Supersedes, req.Sequence, manifest, prov, nil)
}

// ExportPattern builds a worker-pattern bundle rooted at payload/worker/.
func (e *Exporter) ExportPattern(req PatternRequest) (*Summary, error) {
	if err := os.MkdirAll(req.OutputDir, 0755); err != nil {
		return nil, fault.Wrap(fault.CodeExportIO, "failed to create output directory", err)
	}
	transferID := e.freshTransferID(req.OutputDir)
	tmpDir, err := os.MkdirTemp(req.OutputDir, ".txfr-*")
	if err != nil {
		return nil, fault.Wrap(fault.CodeExportIO, "failed to create staging directory", err)
	}
	defer os.RemoveAll(tmpDir)

	workerSrc := filepath.Join(e.hqRoot, "workers", req.WorkerID)
	workerDst := filepath.Join(tmpDir, "payload", "worker")
	if err := workspace.CopyTree(workerSrc, workerDst); err != nil {
		return nil, fault.Wrap(fault.CodeExportIO, fmt.Sprintf("failed to copy worker %s", req.WorkerID), err)
	}

	items, err := e.manifestItems(filepath.Join(tmpDir, "payload"), "workers/"+req.WorkerID, "worker")
	if err != nil {
		return nil, err
	}
	manifest := &Manifest{
		Type:           TypeWorkerPattern,
		PatternName:    req.WorkerID,
		PatternVersion: req.PatternVersion,
		Items:          items,
	}
	prov := &Provenance{
		Owner:       e.owner,
		InstanceID:  e.instanceID,
		GeneratedAt: ident.Now(),
		SourcePaths: []string{"workers/" + req.WorkerID},
	}
	adaptation := req.Adaptation
	adaptation.PatternOrigin = e.owner

	return e.finish(tmpDir, transferID, req.OutputDir, req.ToPeer, TypeWorkerPattern,
		req.Description, req.Supersedes, req.Sequence, manifest, prov, &adaptation)
}

// copyInput copies one requested path (file or directory) into the payload,
// preserving its HQ-relative path, and returns the manifest items.
func (e *Exporter) copyInput(rel, payloadDir string) ([]ManifestItem, error) {
	src := filepath.Join(e.hqRoot, filepath.FromSlash(rel))
	info, err := os.Lstat(src)
	if err != nil {
		return nil, fault.Wrap(fault.CodeExportIO, fmt.Sprintf("cannot read %s", rel), err)
	}

	if info.IsDir() {
		if err := workspace.CopyTree(src, filepath.Join(payloadDir, filepath.FromSlash(rel))); err != nil {
			return nil, fault.Wrap(fault.CodeExportIO, fmt.Sprintf("failed to copy %s", rel), err)
		}
		return e.manifestItems(payloadDir, rel, rel)
	}
	if !info.Mode().IsRegular() {
		// Symlinks and specials are never followed.
		return nil, nil
	}
	dst := filepath.Join(payloadDir, filepath.FromSlash(rel))
	if err := workspace.CopyFile(src, dst); err != nil {
		return nil, fault.Wrap(fault.CodeExportIO, fmt.Sprintf("failed to copy %s", rel), err)
	}
	item, err := e.manifestItem(payloadDir, rel, rel)
	if err != nil {
		return nil, err
	}
	return []ManifestItem{item}, nil
}

// manifestItems walks the payload subtree that sourceRel was copied to and
// records each file. payloadRel names the subtree root inside the payload.
func (e *Exporter) manifestItems(payloadDir, sourceRel, payloadRel string) ([]ManifestItem, error) {
	subtree := filepath.Join(payloadDir, filepath.FromSlash(payloadRel))
	files, err := integrity.ListFilesRecursive(subtree)
	if err != nil {
		return nil, fault.Wrap(fault.CodeExportIO, "failed to enumerate payload", err)
	}
	var items []ManifestItem
	for _, f := range files {
		item, err := e.manifestItem(payloadDir, payloadRel+"/"+f, sourceRel+"/"+f)
		if err != nil {
			return nil, err
		}
		items = append(items, item)
	}
	return items, nil
}

func (e *Exporter) manifestItem(payloadDir, payloadRel, sourceRel string) (ManifestItem, error) {
	path := filepath.Join(payloadDir, filepath.FromSlash(payloadRel))
	hash, err := integrity.HashFile(path)
	if err != nil {
		return ManifestItem{}, fault.Wrap(fault.CodeExportIO, "failed to hash payload file", err)
	}
	info, err := os.Stat(path)
	if err != nil {
		return ManifestItem{}, fault.Wrap(fault.CodeExportIO, "failed to stat payload file", err)
	}
	return ManifestItem{Path: payloadRel, Hash: hash, Size: info.Size(), SourcePath: sourceRel}, nil
}

// finish writes the manifests, envelope and VERIFY file, renames the bundle
// into place and records the sent event.
func (e *Exporter) finish(tmpDir, transferID, outputDir, toPeer, bundleType, description, supersedes string,
	sequence int, manifest *Manifest, prov *Provenance, adaptation *Adaptation) (*Summary, error) {

	if sequence < 1 {
		sequence = 1
	}
	if err := writeManifest(tmpDir, manifest); err != nil {
		return nil, fault.Wrap(fault.CodeExportIO, "failed to write manifest", err)
	}
	if err := writeMetadata(tmpDir, "provenance.yaml", prov); err != nil {
		return nil, fault.Wrap(fault.CodeExportIO, "failed to write provenance", err)
	}
	if adaptation != nil {
		if err := writeMetadata(tmpDir, "adaptation.yaml", adaptation); err != nil {
			return nil, fault.Wrap(fault.CodeExportIO, "failed to write adaptation notes", err)
		}
	}

	payloadDir := filepath.Join(tmpDir, "payload")
	payloadHash, err := integrity.PayloadHash(payloadDir)
	if err != nil {
		return nil, fault.Wrap(fault.CodeExportIO, "failed to compute payload hash", err)
	}
	payloadSize, err := integrity.PayloadSize(payloadDir)
	if err != nil {
		return nil, fault.Wrap(fault.CodeExportIO, "failed to compute payload size", err)
	}

	var supersedesRef *string
	if supersedes != "" {
		supersedesRef = &supersedes
	}
	env := &Envelope{
		ID:          transferID,
		Type:        bundleType,
		From:        e.owner,
		To:          toPeer,
		Timestamp:   ident.Now(),
		Version:     EnvelopeVersion,
		Description: description,
		PayloadHash: payloadHash,
		PayloadSize: payloadSize,
		Supersedes:  supersedesRef,
		Sequence:    sequence,
		Transport:   e.transport,
	}
	if err := writeEnvelope(tmpDir, env); err != nil {
		return nil, fault.Wrap(fault.CodeExportIO, "failed to write envelope", err)
	}
	if err := integrity.WriteVerify(tmpDir); err != nil {
		return nil, fault.Wrap(fault.CodeExportIO, "failed to write VERIFY.sha256", err)
	}

	bundlePath := filepath.Join(outputDir, transferID)
	if err := os.Rename(tmpDir, bundlePath); err != nil {
		return nil, fault.Wrap(fault.CodeExportIO, "failed to move bundle into place", err)
	}

	if e.log != nil {
		if err := e.log.Append(LogEntry{
			Event:     EventSent,
			ID:        transferID,
			Direction: DirectionOutbound,
			Type:      bundleType,
			Peer:      toPeer,
		}); err != nil {
			return nil, fmt.Errorf("bundle exported but log append failed: %w", err)
		}
	}

	return &Summary{
		TransferID:  transferID,
		BundlePath:  bundlePath,
		Envelope:    *env,
		FileCount:   len(manifest.Items),
		PayloadSize: payloadSize,
	}, nil
}

// freshTransferID allocates an id that does not collide with an existing
// bundle in the output directory.
func (e *Exporter) freshTransferID(outputDir string) string {
	for {
		id := ident.NewTransferID()
		if _, err := os.Stat(filepath.Join(outputDir, id)); os.IsNotExist(err) {
			return id
		}
	}
}
