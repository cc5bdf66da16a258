package transfer

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hiamp/hq/internal/integrity"
	"github.com/hiamp/hq/internal/workspace"
)

// hqFixture is one HQ root with the transfer machinery wired up.
type hqFixture struct {
	root     string
	ws       *workspace.Workspace
	log      *Log
	exporter *Exporter
	importer *Importer
}

func newHQ(t *testing.T, owner string) *hqFixture {
	t.Helper()
	root := t.TempDir()
	ws, err := workspace.New(root)
	require.NoError(t, err)
	log := NewLog(ws)
	return &hqFixture{
		root:     root,
		ws:       ws,
		log:      log,
		exporter: NewExporter(root, owner, owner+"-hq-primary", "slack", log),
		importer: NewImporter(root, ws, log),
	}
}

func (h *hqFixture) writeFile(t *testing.T, rel, content string) {
	t.Helper()
	path := filepath.Join(h.root, filepath.FromSlash(rel))
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
}

func (h *hqFixture) exportKnowledge(t *testing.T, opts KnowledgeRequest) *Summary {
	t.Helper()
	if opts.OutputDir == "" {
		opts.OutputDir = filepath.Join(h.root, "exports")
	}
	summary, err := h.exporter.ExportKnowledge(opts)
	require.NoError(t, err)
	return summary
}

func TestExportKnowledge_BundleShape(t *testing.T) {
	hq := newHQ(t, "stefan")
	hq.writeFile(t, "knowledge/testing/e2e-patterns.md", "# E2E patterns\n")

	summary := hq.exportKnowledge(t, KnowledgeRequest{
		Paths:  []string{"knowledge/testing/e2e-patterns.md"},
		Domain: "testing",
		ToPeer: "alex",
	})

	assert.Regexp(t, `^txfr-[a-z0-9]{12}$`, summary.TransferID)
	assert.Equal(t, 1, summary.FileCount)

	for _, rel := range []string{
		"envelope.yaml",
		"VERIFY.sha256",
		"payload/manifest.yaml",
		"payload/knowledge/testing/e2e-patterns.md",
		"payload/metadata/provenance.yaml",
	} {
		_, err := os.Stat(filepath.Join(summary.BundlePath, filepath.FromSlash(rel)))
		assert.NoError(t, err, rel)
	}

	env, err := ReadEnvelope(summary.BundlePath)
	require.NoError(t, err)
	assert.Equal(t, TypeKnowledge, env.Type)
	assert.Equal(t, "stefan", env.From)
	assert.Equal(t, "alex", env.To)
	assert.Equal(t, EnvelopeVersion, env.Version)
	assert.Equal(t, 1, env.Sequence)

	result := integrity.VerifyBundle(summary.BundlePath, env.PayloadHash, env.PayloadSize)
	assert.True(t, result.Valid, "fresh bundle must verify: %v", result.Errors)
}

func TestExportKnowledge_FirstInChainHasNullSupersedes(t *testing.T) {
	hq := newHQ(t, "stefan")
	hq.writeFile(t, "knowledge/doc.md", "doc")

	summary := hq.exportKnowledge(t, KnowledgeRequest{
		Paths: []string{"knowledge/doc.md"}, Domain: "docs", ToPeer: "alex",
	})

	env, err := ReadEnvelope(summary.BundlePath)
	require.NoError(t, err)
	assert.Nil(t, env.Supersedes)

	raw, err := os.ReadFile(filepath.Join(summary.BundlePath, "envelope.yaml"))
	require.NoError(t, err)
	assert.Contains(t, string(raw), "supersedes: null")
	assert.NotContains(t, string(raw), `supersedes: ""`)
}

func TestExportKnowledge_SentLogEntry(t *testing.T) {
	hq := newHQ(t, "stefan")
	hq.writeFile(t, "knowledge/doc.md", "doc")

	summary := hq.exportKnowledge(t, KnowledgeRequest{
		Paths: []string{"knowledge/doc.md"}, Domain: "docs", ToPeer: "alex",
	})

	entries, err := hq.log.ReadAll()
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, EventSent, entries[0].Event)
	assert.Equal(t, summary.TransferID, entries[0].ID)
	assert.Equal(t, DirectionOutbound, entries[0].Direction)
	assert.Equal(t, "alex", entries[0].Peer)
}

func TestExportPattern_BundleShape(t *testing.T) {
	hq := newHQ(t, "stefan")
	hq.writeFile(t, "workers/architect/prompt.md", "You design systems.")
	hq.writeFile(t, "workers/architect/tools.yaml", "tools: []\n")

	summary, err := hq.exporter.ExportPattern(PatternRequest{
		WorkerID:       "architect",
		PatternVersion: "1.2",
		ToPeer:         "alex",
		OutputDir:      filepath.Join(hq.root, "exports"),
		Adaptation: Adaptation{
			CustomizationPoints: []CustomizationPoint{{Field: "prompt", Guidance: "adjust voice", Priority: "medium"}},
		},
	})
	require.NoError(t, err)
	assert.Equal(t, 2, summary.FileCount)

	manifest, err := ReadManifest(summary.BundlePath)
	require.NoError(t, err)
	assert.Equal(t, TypeWorkerPattern, manifest.Type)
	assert.Equal(t, "architect", manifest.PatternName)
	assert.Equal(t, "1.2", manifest.PatternVersion)

	adaptation, err := ReadAdaptation(summary.BundlePath)
	require.NoError(t, err)
	assert.Equal(t, "stefan", adaptation.PatternOrigin)
	require.Len(t, adaptation.CustomizationPoints, 1)
}

func TestRoundTrip_ExportPreviewStage(t *testing.T) {
	hqA := newHQ(t, "stefan")
	hqA.writeFile(t, "knowledge/testing/e2e-patterns.md", "# E2E patterns\n")
	summary := hqA.exportKnowledge(t, KnowledgeRequest{
		Paths: []string{"knowledge/testing/e2e-patterns.md"}, Domain: "testing", ToPeer: "alex",
	})

	originalHash, err := integrity.HashFile(filepath.Join(hqA.root, "knowledge/testing/e2e-patterns.md"))
	require.NoError(t, err)

	hqB := newHQ(t, "alex")
	preview, err := hqB.importer.PreviewBundle(summary.BundlePath)
	require.NoError(t, err)
	assert.True(t, preview.Verification.Valid)
	assert.Empty(t, preview.Conflicts)
	assert.Contains(t, preview.Summary, "integrity verified")

	staged, err := hqB.importer.Stage(summary.BundlePath, "alex")
	require.NoError(t, err)

	stagedFile := filepath.Join(staged, "payload", "knowledge", "testing", "e2e-patterns.md")
	stagedHash, err := integrity.HashFile(stagedFile)
	require.NoError(t, err)
	assert.Equal(t, originalHash, stagedHash)

	// Staged under world/inbox/<peer>/<type>/<txfr>.
	assert.Contains(t, filepath.ToSlash(staged), "workspace/world/inbox/stefan/knowledge/"+summary.TransferID)

	entries, err := hqB.log.ReadAll()
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, EventReceived, entries[0].Event)
	assert.Equal(t, EventApproved, entries[1].Event)
	assert.Equal(t, "alex", entries[1].ApprovedBy)
}

func TestPreview_TamperedBundle(t *testing.T) {
	hqA := newHQ(t, "stefan")
	hqA.writeFile(t, "knowledge/doc.md", "original")
	summary := hqA.exportKnowledge(t, KnowledgeRequest{
		Paths: []string{"knowledge/doc.md"}, Domain: "docs", ToPeer: "alex",
	})

	tampered := filepath.Join(summary.BundlePath, "payload", "knowledge", "doc.md")
	require.NoError(t, os.WriteFile(tampered, []byte("tampered!"), 0644))

	hqB := newHQ(t, "alex")
	preview, err := hqB.importer.PreviewBundle(summary.BundlePath)
	require.NoError(t, err)
	assert.False(t, preview.Verification.Valid)
	assert.Contains(t, preview.Summary, "integrity FAILED")

	var hashMismatch bool
	for _, e := range preview.Verification.Errors {
		if e.Code == integrity.ErrHashMismatch && e.Path == "payload/knowledge/doc.md" {
			hashMismatch = true
		}
	}
	assert.True(t, hashMismatch)
}

func TestPreview_ConflictDetection(t *testing.T) {
	hqA := newHQ(t, "stefan")
	hqA.writeFile(t, "knowledge/doc.md", "sender version")
	summary := hqA.exportKnowledge(t, KnowledgeRequest{
		Paths: []string{"knowledge/doc.md"}, Domain: "docs", ToPeer: "alex",
	})

	hqB := newHQ(t, "alex")
	hqB.writeFile(t, "knowledge/doc.md", "local divergent version")

	preview, err := hqB.importer.PreviewBundle(summary.BundlePath)
	require.NoError(t, err)
	require.Len(t, preview.Conflicts, 1)
	assert.Equal(t, "knowledge/doc.md", preview.Conflicts[0].LocalPath)
}

func TestPreview_SupersedesChain(t *testing.T) {
	hq := newHQ(t, "stefan")
	hq.writeFile(t, "knowledge/doc.md", "v1")
	first := hq.exportKnowledge(t, KnowledgeRequest{
		Paths: []string{"knowledge/doc.md"}, Domain: "docs", ToPeer: "alex",
	})

	hq.writeFile(t, "knowledge/doc.md", "v2")
	second := hq.exportKnowledge(t, KnowledgeRequest{
		Paths: []string{"knowledge/doc.md"}, Domain: "docs", ToPeer: "alex",
		Supersedes: first.TransferID, Sequence: 2,
	})

	receiver := newHQ(t, "alex")
	preview, err := receiver.importer.PreviewBundle(second.BundlePath)
	require.NoError(t, err)
	assert.Contains(t, preview.Summary, "sequence 2")
	assert.Contains(t, preview.Summary, "supersedes "+first.TransferID)
}

func TestReject_LogOnlyNoDisk(t *testing.T) {
	hqA := newHQ(t, "stefan")
	hqA.writeFile(t, "knowledge/doc.md", "doc")
	summary := hqA.exportKnowledge(t, KnowledgeRequest{
		Paths: []string{"knowledge/doc.md"}, Domain: "docs", ToPeer: "alex",
	})

	hqB := newHQ(t, "alex")
	require.NoError(t, hqB.importer.Reject(summary.BundlePath, "not needed"))

	entries, err := hqB.log.ReadAll()
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, EventRejected, entries[0].Event)
	assert.Equal(t, "not needed", entries[0].Reason)

	assert.False(t, hqB.ws.Exists(workspace.WorldInboxDir))
}

func TestQuarantine_MovesBundleAndLogsErrors(t *testing.T) {
	hqA := newHQ(t, "stefan")
	hqA.writeFile(t, "knowledge/doc.md", "doc")
	summary := hqA.exportKnowledge(t, KnowledgeRequest{
		Paths: []string{"knowledge/doc.md"}, Domain: "docs", ToPeer: "alex",
	})
	require.NoError(t, os.WriteFile(
		filepath.Join(summary.BundlePath, "payload", "knowledge", "doc.md"), []byte("bad"), 0644))

	hqB := newHQ(t, "alex")
	preview, err := hqB.importer.PreviewBundle(summary.BundlePath)
	require.NoError(t, err)
	require.False(t, preview.Verification.Valid)

	dst, err := hqB.importer.Quarantine(summary.BundlePath, preview.Verification)
	require.NoError(t, err)

	_, err = os.Stat(summary.BundlePath)
	assert.True(t, os.IsNotExist(err))
	assert.True(t, hqB.ws.Exists(workspace.QuarantineDir, summary.TransferID))
	assert.Contains(t, filepath.ToSlash(dst), "workspace/world/quarantine/"+summary.TransferID)

	entries, err := hqB.log.ReadAll()
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, EventQuarantined, entries[0].Event)
	assert.Equal(t, "ERR_TXFR_INTEGRITY", entries[0].ErrorCode)
	assert.Contains(t, entries[0].ErrorDetail, "HASH_MISMATCH")
}

func TestIntegrate_RecordsIntegrationHash(t *testing.T) {
	hqA := newHQ(t, "stefan")
	hqA.writeFile(t, "knowledge/doc.md", "shared doc")
	summary := hqA.exportKnowledge(t, KnowledgeRequest{
		Paths: []string{"knowledge/doc.md"}, Domain: "docs", ToPeer: "alex",
	})

	hqB := newHQ(t, "alex")
	staged, err := hqB.importer.Stage(summary.BundlePath, "alex")
	require.NoError(t, err)

	manifest, err := ReadManifest(staged)
	require.NoError(t, err)
	require.Len(t, manifest.Items, 1)
	require.NoError(t, hqB.importer.Integrate(staged, manifest.Items[0], "alex"))

	// The file landed in the live tree.
	integrated := filepath.Join(hqB.root, "knowledge", "doc.md")
	data, err := os.ReadFile(integrated)
	require.NoError(t, err)
	assert.Equal(t, "shared doc", string(data))

	prior, ok := hqB.log.LastIntegration("knowledge/doc.md")
	require.True(t, ok)
	assert.Equal(t, manifest.Items[0].Hash, prior.IntegrationHash)

	// A later local edit shows up as a conflict against a re-sent bundle.
	hqB.writeFile(t, "knowledge/doc.md", "locally edited after integration")
	hqA.writeFile(t, "knowledge/doc.md", "v2")
	second := hqA.exportKnowledge(t, KnowledgeRequest{
		Paths: []string{"knowledge/doc.md"}, Domain: "docs", ToPeer: "alex",
		Supersedes: summary.TransferID, Sequence: 2,
	})
	preview, err := hqB.importer.PreviewBundle(second.BundlePath)
	require.NoError(t, err)
	assert.NotEmpty(t, preview.Conflicts)
}

func TestLog_AppendAndReadDay(t *testing.T) {
	ws, err := workspace.New(t.TempDir())
	require.NoError(t, err)
	log := NewLog(ws)

	require.NoError(t, log.Append(LogEntry{Event: EventSent, ID: "txfr-000000000001", Direction: DirectionOutbound, Type: TypeKnowledge, Peer: "alex"}))
	require.NoError(t, log.Append(LogEntry{Event: EventReceived, ID: "txfr-000000000002", Direction: DirectionInbound, Type: TypeKnowledge, Peer: "alex"}))

	entries, err := log.ReadDay(time.Now())
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, EventSent, entries[0].Event)
	assert.NotEmpty(t, entries[0].Timestamp)
	assert.Equal(t, EventReceived, entries[1].Event)
}

func TestLog_TornTrailingRecordDropped(t *testing.T) {
	ws, err := workspace.New(t.TempDir())
	require.NoError(t, err)
	log := NewLog(ws)

	require.NoError(t, log.Append(LogEntry{Event: EventSent, ID: "txfr-000000000001", Direction: DirectionOutbound, Type: TypeKnowledge, Peer: "alex"}))

	// Simulate a crash mid-append.
	path, err := ws.Path(workspace.WorldLogDir, time.Now().UTC().Format("2006-01-02")+".yaml")
	require.NoError(t, err)
	f, err := os.OpenFile(path, os.O_APPEND|os.O_WRONLY, 0644)
	require.NoError(t, err)
	_, err = f.WriteString("- timestamp: \"2026-08-26T10:\n")
	require.NoError(t, err)
	require.NoError(t, f.Close())

	entries, err := log.ReadDay(time.Now())
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "txfr-000000000001", entries[0].ID)
}

func TestPeerCache_RoundTrip(t *testing.T) {
	ws, err := workspace.New(t.TempDir())
	require.NoError(t, err)
	cache := NewPeerCache(ws)

	missing, err := cache.Get("alex")
	require.NoError(t, err)
	assert.Nil(t, missing)

	require.NoError(t, cache.Put(&PeerManifest{
		Owner: "alex", TrustLevel: "channel-scoped",
		Workers: []string{"backend-dev"}, AcceptedTypes: []string{TypeKnowledge},
	}))

	m, err := cache.Get("alex")
	require.NoError(t, err)
	require.NotNil(t, m)
	assert.NotEmpty(t, m.UpdatedAt)
	assert.True(t, m.Accepts(TypeKnowledge))
	assert.False(t, m.Accepts(TypeWorkerPattern))

	require.NoError(t, cache.Forget("alex"))
	gone, err := cache.Get("alex")
	require.NoError(t, err)
	assert.Nil(t, gone)
}
