package transfer

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/hiamp/hq/internal/fault"
	"github.com/hiamp/hq/internal/integrity"
	"github.com/hiamp/hq/internal/workspace"
)

// Importer previews, stages and rejects inbound bundles.
type Importer struct {
	hqRoot string
	ws     *workspace.Workspace
	log    *Log
}

// NewImporter creates an importer over the local HQ.
func NewImporter(hqRoot string, ws *workspace.Workspace, log *Log) *Importer {
	return &Importer{hqRoot: hqRoot, ws: ws, log: log}
}

// Conflict flags a local path that staging-then-integrating would collide
// with.
type Conflict struct {
	LocalPath   string `yaml:"local-path"`
	Description string `yaml:"description"`
}

// Preview is the operator-facing view of an inbound bundle before approval.
type Preview struct {
	Envelope     *Envelope
	Verification integrity.VerifyResult
	Manifest     *Manifest
	Adaptation   *Adaptation
	Conflicts    []Conflict
	Summary      string
}

// PreviewBundle inspects a bundle without touching the live tree. Integrity
// checking does not short-circuit: every discrepancy is surfaced at once.
func (im *Importer) PreviewBundle(bundleDir string) (*Preview, error) {
	env, err := ReadEnvelope(bundleDir)
	if err != nil {
		return nil, fault.Wrap(fault.CodeTransferManifest, "bundle has no readable envelope", err)
	}

	p := &Preview{Envelope: env}
	p.Verification = integrity.VerifyBundle(bundleDir, env.PayloadHash, env.PayloadSize)

	manifest, err := ReadManifest(bundleDir)
	if err != nil {
		return nil, fault.Wrap(fault.CodeTransferManifest, "bundle has no readable payload manifest", err)
	}
	if err := im.crossCheckManifest(bundleDir, manifest); err != nil {
		return nil, err
	}
	p.Manifest = manifest

	if env.Type == TypeWorkerPattern {
		adaptation, err := ReadAdaptation(bundleDir)
		if err != nil && !os.IsNotExist(err) {
			return nil, fault.Wrap(fault.CodeTransferManifest, "bundle has unreadable adaptation notes", err)
		}
		p.Adaptation = adaptation
	}

	p.Conflicts = im.detectConflicts(bundleDir, manifest)
	p.Summary = im.summarize(p)
	return p, nil
}

// crossCheckManifest treats a manifest item missing from VERIFY.sha256 as a
// malformed bundle rather than a mere integrity failure.
func (im *Importer) crossCheckManifest(bundleDir string, manifest *Manifest) error {
	raw, err := os.ReadFile(filepath.Join(bundleDir, integrity.VerifyFileName))
	if err != nil {
		return nil // absence is already an integrity error
	}
	entries, err := integrity.ParseVerify(string(raw))
	if err != nil {
		return nil
	}
	listed := make(map[string]bool, len(entries))
	for _, e := range entries {
		listed[e.Path] = true
	}
	for _, item := range manifest.Items {
		if !listed["payload/"+item.Path] {
			return fault.Newf(fault.CodeTransferManifest,
				"manifest lists %s but VERIFY.sha256 does not", item.Path)
		}
	}
	return nil
}

// detectConflicts compares incoming files against the local tree and the
// integration history.
func (im *Importer) detectConflicts(bundleDir string, manifest *Manifest) []Conflict {
	var conflicts []Conflict
	for _, item := range manifest.Items {
		if item.SourcePath == "" {
			continue
		}
		localPath := filepath.Join(im.hqRoot, filepath.FromSlash(item.SourcePath))
		localHash, err := integrity.HashFile(localPath)
		if err == nil && localHash != item.Hash {
			conflicts = append(conflicts, Conflict{
				LocalPath:   item.SourcePath,
				Description: "local differs from incoming",
			})
		}

		if prior, ok := im.log.LastIntegration(item.SourcePath); ok && err == nil {
			if prior.IntegrationHash != "" && prior.IntegrationHash != localHash {
				conflicts = append(conflicts, Conflict{
					LocalPath:   item.SourcePath,
					Description: "modified since integration",
				})
			}
		}
	}
	return conflicts
}

func (im *Importer) summarize(p *Preview) string {
	status := "integrity verified"
	if !p.Verification.Valid {
		status = fmt.Sprintf("integrity FAILED (%d errors)", len(p.Verification.Errors))
	}
	var b strings.Builder
	fmt.Fprintf(&b, "%s bundle %s from %s, sequence %d", p.Envelope.Type, p.Envelope.ID, p.Envelope.From, p.Envelope.Sequence)
	if p.Envelope.Supersedes != nil {
		fmt.Fprintf(&b, " (supersedes %s)", *p.Envelope.Supersedes)
	}
	fmt.Fprintf(&b, ": %d files, %d bytes; %s; %d conflicts.",
		len(p.Manifest.Items), p.Envelope.PayloadSize, status, len(p.Conflicts))
	return b.String()
}

// Stage copies an approved bundle into the world inbox atomically and logs
// received + approved. Integration into the live tree is a separate
// operator-driven step.
func (im *Importer) Stage(bundleDir, approvedBy string) (string, error) {
	env, err := ReadEnvelope(bundleDir)
	if err != nil {
		return "", fault.Wrap(fault.CodeTransferManifest, "bundle has no readable envelope", err)
	}

	stagedRel := filepath.Join(workspace.WorldInboxDir, env.From, env.Type, env.ID)
	stagedAbs, err := im.ws.Path(stagedRel)
	if err != nil {
		return "", err
	}
	if err := os.MkdirAll(filepath.Dir(stagedAbs), 0755); err != nil {
		return "", fault.Wrap(fault.CodeTransferStageIO, "failed to create world inbox", err)
	}

	// Copy into a sibling temp dir, then rename the whole tree into place.
	tmp, err := os.MkdirTemp(filepath.Dir(stagedAbs), ".stage-*")
	if err != nil {
		return "", fault.Wrap(fault.CodeTransferStageIO, "failed to create staging directory", err)
	}
	if err := workspace.CopyTree(bundleDir, tmp); err != nil {
		os.RemoveAll(tmp)
		return "", fault.Wrap(fault.CodeTransferStageIO, "failed to copy bundle", err)
	}
	if err := os.Rename(tmp, stagedAbs); err != nil {
		os.RemoveAll(tmp)
		return "", fault.Wrap(fault.CodeTransferStageIO, "failed to move bundle into world inbox", err)
	}

	stagedTo := filepath.ToSlash(stagedRel)
	for _, event := range []string{EventReceived, EventApproved} {
		entry := LogEntry{
			Event:     event,
			ID:        env.ID,
			Direction: DirectionInbound,
			Type:      env.Type,
			Peer:      env.From,
			StagedTo:  stagedTo,
		}
		if event == EventApproved {
			entry.ApprovedBy = approvedBy
		}
		if err := im.log.Append(entry); err != nil {
			return stagedAbs, fmt.Errorf("bundle staged but log append failed: %w", err)
		}
	}
	return stagedAbs, nil
}

// Reject records a rejected entry and leaves nothing on disk.
func (im *Importer) Reject(bundleDir, reason string) error {
	env, err := ReadEnvelope(bundleDir)
	if err != nil {
		return fault.Wrap(fault.CodeTransferManifest, "bundle has no readable envelope", err)
	}
	return im.log.Append(LogEntry{
		Event:     EventRejected,
		ID:        env.ID,
		Direction: DirectionInbound,
		Type:      env.Type,
		Peer:      env.From,
		Reason:    reason,
	})
}

// Quarantine moves a failed bundle aside for later inspection and logs the
// verification errors that sent it there.
func (im *Importer) Quarantine(bundleDir string, verification integrity.VerifyResult) (string, error) {
	env, err := ReadEnvelope(bundleDir)
	if err != nil {
		return "", fault.Wrap(fault.CodeTransferManifest, "bundle has no readable envelope", err)
	}

	dst, err := im.ws.Path(workspace.QuarantineDir, env.ID)
	if err != nil {
		return "", err
	}
	if err := os.MkdirAll(filepath.Dir(dst), 0755); err != nil {
		return "", fault.Wrap(fault.CodeTransferStageIO, "failed to create quarantine directory", err)
	}
	if err := os.Rename(bundleDir, dst); err != nil {
		return "", fault.Wrap(fault.CodeTransferStageIO, "failed to move bundle to quarantine", err)
	}

	var details []string
	for _, e := range verification.Errors {
		details = append(details, e.String())
	}
	if err := im.log.Append(LogEntry{
		Event:       EventQuarantined,
		ID:          env.ID,
		Direction:   DirectionInbound,
		Type:        env.Type,
		Peer:        env.From,
		ErrorCode:   string(fault.CodeTransferIntegrity),
		ErrorDetail: strings.Join(details, "; "),
	}); err != nil {
		return dst, fmt.Errorf("bundle quarantined but log append failed: %w", err)
	}
	return dst, nil
}

// Integrate copies one staged payload file into the live tree and records
// the integration hash the conflict scanner checks against later.
func (im *Importer) Integrate(stagedBundleDir string, item ManifestItem, approvedBy string) error {
	if item.SourcePath == "" {
		return fault.Newf(fault.CodeTransferConflict, "item %s has no source path to integrate to", item.Path)
	}
	src := filepath.Join(stagedBundleDir, "payload", filepath.FromSlash(item.Path))
	dst := filepath.Join(im.hqRoot, filepath.FromSlash(item.SourcePath))

	if localHash, err := integrity.HashFile(dst); err == nil && localHash != item.Hash {
		return fault.Newf(fault.CodeTransferConflict, "local %s has diverged from the incoming file", item.SourcePath)
	}
	if err := workspace.CopyFile(src, dst); err != nil {
		return fault.Wrap(fault.CodeTransferStageIO, "failed to integrate file", err)
	}

	env, err := ReadEnvelope(stagedBundleDir)
	if err != nil {
		return err
	}
	return im.log.Append(LogEntry{
		Event:           EventIntegrated,
		ID:              env.ID,
		Direction:       DirectionInbound,
		Type:            env.Type,
		Peer:            env.From,
		IntegratedTo:    item.SourcePath,
		IntegrationHash: item.Hash,
		ApprovedBy:      approvedBy,
	})
}
