package corpus

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/docsift/docsift/internal/errors"
)

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
}

func newTestSource(t *testing.T) (*DirSource, string) {
	t.Helper()
	root := t.TempDir()
	writeFile(t, filepath.Join(root, "m1", "fees.md"), "# 手数料\n本文\n")
	writeFile(t, filepath.Join(root, "m1", "sub", "limits.md"), "# 限度額\n本文\n")
	writeFile(t, filepath.Join(root, "m1", "codes.json"), `{"code":"WF103"}`)
	writeFile(t, filepath.Join(root, "m1", "notes.txt"), "not indexable")
	writeFile(t, filepath.Join(root, "m2", "intro.md"), "# 概要\n")
	return NewDirSource(root), root
}

func TestDirSource_ListFiles(t *testing.T) {
	src, _ := newTestSource(t)

	files, err := src.ListFiles("m1")
	require.NoError(t, err)

	paths := make([]string, len(files))
	for i, f := range files {
		paths[i] = f.Path
	}
	assert.Equal(t, []string{"codes.json", "fees.md", "sub/limits.md"}, paths)
	assert.Equal(t, KindRecord, files[0].Kind)
	assert.Equal(t, KindSection, files[1].Kind)
}

func TestDirSource_ListFiles_ExcludesSymlinks(t *testing.T) {
	src, root := newTestSource(t)
	target := filepath.Join(root, "m1", "fees.md")
	link := filepath.Join(root, "m1", "fees_link.md")
	if err := os.Symlink(target, link); err != nil {
		t.Skip("symlinks unsupported on this filesystem")
	}

	files, err := src.ListFiles("m1")
	require.NoError(t, err)
	for _, f := range files {
		assert.NotEqual(t, "fees_link.md", f.Path)
	}
}

func TestDirSource_UnknownCorpus(t *testing.T) {
	src, _ := newTestSource(t)

	_, err := src.ListFiles("m9")
	assert.True(t, errors.IsCode(err, errors.CodeNotFound))

	_, err = src.ReadFile("m9", "fees.md")
	assert.True(t, errors.IsCode(err, errors.CodeNotFound))
}

func TestDirSource_InvalidCorpusID(t *testing.T) {
	src, _ := newTestSource(t)
	_, err := src.ListFiles("../escape")
	assert.True(t, errors.IsCode(err, errors.CodeInvalidPath))
}

func TestDirSource_ReadAndStat(t *testing.T) {
	src, _ := newTestSource(t)

	content, err := src.ReadFile("m1", "fees.md")
	require.NoError(t, err)
	assert.Contains(t, content, "手数料")

	mtime, size, err := src.Stat("m1", "fees.md")
	require.NoError(t, err)
	assert.False(t, mtime.IsZero())
	assert.Greater(t, size, int64(0))
}

func TestFingerprint_ChangesWithContent(t *testing.T) {
	src, root := newTestSource(t)

	fp1 := Fingerprint(src, []string{"m1"})
	fp2 := Fingerprint(src, []string{"m1"})
	assert.Equal(t, fp1, fp2, "fingerprint must be stable without changes")

	// Grow a file so size changes even on coarse mtime filesystems.
	path := filepath.Join(root, "m1", "fees.md")
	writeFile(t, path, "# 手数料\n本文\n追記された行\n")
	future := time.Now().Add(2 * time.Second)
	require.NoError(t, os.Chtimes(path, future, future))

	assert.NotEqual(t, fp1, Fingerprint(src, []string{"m1"}))
}

func TestFingerprint_ScopeOrderMatters(t *testing.T) {
	src, _ := newTestSource(t)
	assert.NotEqual(t,
		Fingerprint(src, []string{"m1", "m2"}),
		Fingerprint(src, []string{"m2", "m1"}))
}

func TestNeighbors(t *testing.T) {
	all := []string{"manual-a", "manual-b", "guide-x", "manual-c"}

	got := Neighbors(all, "manual-b", 2)
	// Shared-prefix length dominates: manual-a and manual-c (7 chars) beat guide-x.
	assert.Equal(t, []string{"manual-a", "manual-c"}, got)

	got = Neighbors(all, "manual-b", 0)
	assert.Len(t, got, 3)
}
