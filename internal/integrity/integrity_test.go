package integrity

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// writeBundle lays out a minimal bundle: payload files, VERIFY.sha256 and an
// envelope placeholder. Returns the payload hash and size.
func writeBundle(t *testing.T, files map[string]string) (dir, payloadHash string, payloadSize int64) {
	t.Helper()
	dir = t.TempDir()
	for rel, content := range files {
		path := filepath.Join(dir, "payload", filepath.FromSlash(rel))
		require.NoError(t, os.MkdirAll(filepath.Dir(path), 0755))
		require.NoError(t, os.WriteFile(path, []byte(content), 0644))
	}
	require.NoError(t, os.WriteFile(filepath.Join(dir, EnvelopeFileName), []byte("envelope: {}\n"), 0644))

	var err error
	payloadHash, err = PayloadHash(filepath.Join(dir, "payload"))
	require.NoError(t, err)
	payloadSize, err = PayloadSize(filepath.Join(dir, "payload"))
	require.NoError(t, err)
	require.NoError(t, WriteVerify(dir))
	return dir, payloadHash, payloadSize
}

func TestHashFile_Prefix(t *testing.T) {
	path := filepath.Join(t.TempDir(), "f")
	require.NoError(t, os.WriteFile(path, []byte("hello"), 0644))

	hash, err := HashFile(path)
	require.NoError(t, err)
	assert.Equal(t, "sha256:2cf24dba5fb0a30e26e83b2ac5b9e29e1b161e5c1fa7425e73043362938b9824", hash)
}

func TestPayloadHash_Deterministic(t *testing.T) {
	files := map[string]string{
		"b/two.md":   "two",
		"a/one.md":   "one",
		"a/three.md": "three",
	}
	dir1, hash1, _ := writeBundle(t, files)
	dir2, hash2, _ := writeBundle(t, files)
	require.NotEqual(t, dir1, dir2)
	assert.Equal(t, hash1, hash2)
}

func TestPayloadHash_SensitiveToPathAndContent(t *testing.T) {
	_, base, _ := writeBundle(t, map[string]string{"a.md": "x"})
	_, renamed, _ := writeBundle(t, map[string]string{"b.md": "x"})
	_, edited, _ := writeBundle(t, map[string]string{"a.md": "y"})
	assert.NotEqual(t, base, renamed)
	assert.NotEqual(t, base, edited)
}

func TestVerify_EmitParseReEmit(t *testing.T) {
	dir, _, _ := writeBundle(t, map[string]string{"doc.md": "content", "sub/x.md": "more"})

	first, err := os.ReadFile(filepath.Join(dir, VerifyFileName))
	require.NoError(t, err)

	entries, err := ParseVerify(string(first))
	require.NoError(t, err)
	require.Len(t, entries, 2)

	again, err := GenerateVerify(dir)
	require.NoError(t, err)
	assert.Equal(t, string(first), again)
}

func TestVerifyBundle_FreshBundleIsValid(t *testing.T) {
	dir, hash, size := writeBundle(t, map[string]string{"doc.md": "content"})
	result := VerifyBundle(dir, hash, size)
	assert.True(t, result.Valid)
	assert.Empty(t, result.Errors)
}

func TestVerifyBundle_TamperedContentSameLength(t *testing.T) {
	dir, hash, size := writeBundle(t, map[string]string{"doc.md": "content"})
	require.NoError(t, os.WriteFile(filepath.Join(dir, "payload", "doc.md"), []byte("CONTENT"), 0644))

	result := VerifyBundle(dir, hash, size)
	require.False(t, result.Valid)
	codes := map[string]bool{}
	for _, e := range result.Errors {
		codes[e.Code] = true
	}
	assert.True(t, codes[ErrHashMismatch])
	assert.False(t, codes[ErrSizeMismatch])
}

func TestVerifyBundle_TamperedContentDifferentLength(t *testing.T) {
	dir, hash, size := writeBundle(t, map[string]string{"doc.md": "content"})
	require.NoError(t, os.WriteFile(filepath.Join(dir, "payload", "doc.md"), []byte("tampered content"), 0644))

	result := VerifyBundle(dir, hash, size)
	require.False(t, result.Valid)
	codes := map[string]bool{}
	for _, e := range result.Errors {
		codes[e.Code] = true
	}
	assert.True(t, codes[ErrHashMismatch])
	assert.True(t, codes[ErrSizeMismatch])
}

func TestVerifyBundle_MissingAndUnexpected(t *testing.T) {
	dir, hash, size := writeBundle(t, map[string]string{"doc.md": "content"})
	require.NoError(t, os.Remove(filepath.Join(dir, "payload", "doc.md")))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "payload", "smuggled.md"), []byte("extra"), 0644))

	result := VerifyBundle(dir, hash, size)
	require.False(t, result.Valid)
	codes := map[string]bool{}
	for _, e := range result.Errors {
		codes[e.Code] = true
	}
	assert.True(t, codes[ErrMissingFile])
	assert.True(t, codes[ErrUnexpectedFile])
}

func TestParseVerify_Malformed(t *testing.T) {
	_, err := ParseVerify("deadbeef  short-hash-line\n")
	assert.Error(t, err)
}
