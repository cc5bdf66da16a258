package integrity

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

// VerifyFileName is the per-bundle checksum manifest.
const VerifyFileName = "VERIFY.sha256"

// EnvelopeFileName is excluded from the VERIFY manifest along with the
// manifest itself.
const EnvelopeFileName = "envelope.yaml"

// Verification error codes.
const (
	ErrHashMismatch   = "HASH_MISMATCH"
	ErrMissingFile    = "MISSING_FILE"
	ErrUnexpectedFile = "UNEXPECTED_FILE"
	ErrSizeMismatch   = "SIZE_MISMATCH"
)

// VerifyError is one discrepancy found while checking a bundle.
type VerifyError struct {
	Code string `yaml:"code"`
	Path string `yaml:"path,omitempty"`
	Note string `yaml:"note,omitempty"`
}

func (e VerifyError) String() string {
	if e.Path != "" {
		return fmt.Sprintf("%s: %s", e.Code, e.Path)
	}
	return e.Code
}

// VerifyResult aggregates every discrepancy; a bundle is valid only when the
// list is empty.
type VerifyResult struct {
	Valid  bool          `yaml:"valid"`
	Errors []VerifyError `yaml:"errors,omitempty"`
}

// VerifyEntry is one parsed line of VERIFY.sha256.
type VerifyEntry struct {
	Hash string // bare 64-hex digest
	Path string // relative, "/"-separated
}

// GenerateVerify computes the VERIFY.sha256 content for a bundle directory:
// one "<hex>  <path>" line per file, sorted by path, excluding the manifest
// itself and envelope.yaml, trailing newline required.
func GenerateVerify(bundleDir string) (string, error) {
	files, err := ListFilesRecursive(bundleDir)
	if err != nil {
		return "", err
	}
	var b strings.Builder
	for _, rel := range files {
		if rel == VerifyFileName || rel == EnvelopeFileName {
			continue
		}
		hash, err := HashFile(filepath.Join(bundleDir, filepath.FromSlash(rel)))
		if err != nil {
			return "", err
		}
		fmt.Fprintf(&b, "%s  %s\n", HexDigest(hash), rel)
	}
	return b.String(), nil
}

// WriteVerify emits VERIFY.sha256 into bundleDir.
func WriteVerify(bundleDir string) error {
	content, err := GenerateVerify(bundleDir)
	if err != nil {
		return err
	}
	return os.WriteFile(filepath.Join(bundleDir, VerifyFileName), []byte(content), 0644)
}

// ParseVerify parses VERIFY.sha256 content into entries.
func ParseVerify(content string) ([]VerifyEntry, error) {
	var entries []VerifyEntry
	for i, line := range strings.Split(content, "\n") {
		if line == "" {
			continue
		}
		idx := strings.Index(line, "  ")
		if idx != 64 {
			return nil, fmt.Errorf("malformed VERIFY line %d: %q", i+1, line)
		}
		entries = append(entries, VerifyEntry{Hash: line[:idx], Path: line[idx+2:]})
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].Path < entries[j].Path })
	return entries, nil
}

// VerifyBundle checks a bundle directory against its VERIFY.sha256 and the
// envelope's payload-hash and payload-size. It never short-circuits: every
// discrepancy is reported.
func VerifyBundle(bundleDir, wantPayloadHash string, wantPayloadSize int64) VerifyResult {
	var result VerifyResult

	raw, err := os.ReadFile(filepath.Join(bundleDir, VerifyFileName))
	if err != nil {
		result.Errors = append(result.Errors, VerifyError{Code: ErrMissingFile, Path: VerifyFileName, Note: err.Error()})
		return result
	}
	entries, err := ParseVerify(string(raw))
	if err != nil {
		result.Errors = append(result.Errors, VerifyError{Code: ErrHashMismatch, Path: VerifyFileName, Note: err.Error()})
		return result
	}

	listed := make(map[string]string, len(entries))
	for _, e := range entries {
		listed[e.Path] = e.Hash
	}

	// (a) every listed file exists with a matching hash
	for _, e := range entries {
		path := filepath.Join(bundleDir, filepath.FromSlash(e.Path))
		if _, statErr := os.Stat(path); statErr != nil {
			result.Errors = append(result.Errors, VerifyError{Code: ErrMissingFile, Path: e.Path})
			continue
		}
		got, hashErr := HashFile(path)
		if hashErr != nil {
			result.Errors = append(result.Errors, VerifyError{Code: ErrMissingFile, Path: e.Path, Note: hashErr.Error()})
			continue
		}
		if HexDigest(got) != e.Hash {
			result.Errors = append(result.Errors, VerifyError{Code: ErrHashMismatch, Path: e.Path})
		}
	}

	// (b) no unexpected files
	actual, err := ListFilesRecursive(bundleDir)
	if err == nil {
		for _, rel := range actual {
			if rel == VerifyFileName || rel == EnvelopeFileName {
				continue
			}
			if _, ok := listed[rel]; !ok {
				result.Errors = append(result.Errors, VerifyError{Code: ErrUnexpectedFile, Path: rel})
			}
		}
	}

	// (c) aggregate payload hash, (d) payload byte count
	payloadDir := filepath.Join(bundleDir, "payload")
	if gotHash, err := PayloadHash(payloadDir); err != nil || gotHash != wantPayloadHash {
		result.Errors = append(result.Errors, VerifyError{Code: ErrHashMismatch, Path: "payload", Note: "aggregate payload hash differs from envelope"})
	}
	if gotSize, err := PayloadSize(payloadDir); err != nil || gotSize != wantPayloadSize {
		result.Errors = append(result.Errors, VerifyError{Code: ErrSizeMismatch, Path: "payload"})
	}

	result.Valid = len(result.Errors) == 0
	return result
}
