// Package integrity implements the content-addressing layer of the World
// Protocol: per-file SHA-256 hashes, the deterministic aggregate payload hash
// and the VERIFY.sha256 manifest.
package integrity

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

// HashPrefix is prepended to every hex digest the engine records.
const HashPrefix = "sha256:"

// HashBytes returns "sha256:<64hex>" over b.
func HashBytes(b []byte) string {
	sum := sha256.Sum256(b)
	return HashPrefix + hex.EncodeToString(sum[:])
}

// HashFile streams the file at path through SHA-256.
func HashFile(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", fmt.Errorf("failed to open %s: %w", path, err)
	}
	defer f.Close()

	h := sha256.New()
	if _, err := io.Copy(h, f); err != nil {
		return "", fmt.Errorf("failed to hash %s: %w", path, err)
	}
	return HashPrefix + hex.EncodeToString(h.Sum(nil)), nil
}

// HexDigest strips the "sha256:" prefix if present.
func HexDigest(hash string) string {
	return strings.TrimPrefix(hash, HashPrefix)
}

// ListFilesRecursive returns every regular file under dir, relative to dir,
// with "/" separators, sorted lexicographically. Symlinks are not followed.
func ListFilesRecursive(dir string) ([]string, error) {
	var files []string
	err := filepath.Walk(dir, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if !info.Mode().IsRegular() {
			return nil
		}
		rel, err := filepath.Rel(dir, path)
		if err != nil {
			return err
		}
		files = append(files, filepath.ToSlash(rel))
		return nil
	})
	if err != nil {
		return nil, err
	}
	sort.Strings(files)
	return files, nil
}

// PayloadHash computes the aggregate hash over a payload tree. For each file
// in ListFilesRecursive order the running hasher absorbs
// "<relative-path>\x00<per-file-hex>\n", which collapses names, order and
// content into one digest.
func PayloadHash(payloadDir string) (string, error) {
	files, err := ListFilesRecursive(payloadDir)
	if err != nil {
		return "", err
	}
	h := sha256.New()
	for _, rel := range files {
		fileHash, err := HashFile(filepath.Join(payloadDir, filepath.FromSlash(rel)))
		if err != nil {
			return "", err
		}
		fmt.Fprintf(h, "%s\x00%s\n", rel, HexDigest(fileHash))
	}
	return HashPrefix + hex.EncodeToString(h.Sum(nil)), nil
}

// PayloadSize sums the byte sizes of every regular file under payloadDir.
func PayloadSize(payloadDir string) (int64, error) {
	var total int64
	files, err := ListFilesRecursive(payloadDir)
	if err != nil {
		return 0, err
	}
	for _, rel := range files {
		info, err := os.Stat(filepath.Join(payloadDir, filepath.FromSlash(rel)))
		if err != nil {
			return 0, err
		}
		total += info.Size()
	}
	return total, nil
}
