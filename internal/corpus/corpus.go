// Package corpus abstracts the file-system collaborators the engine reads
// documents through: enumeration, content reads, and metadata probes used
// for index fingerprinting.
package corpus

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/docsift/docsift/internal/errors"
)

// FileKind distinguishes the two indexable document shapes.
type FileKind string

const (
	// KindSection is a heading-structured markdown file; each heading
	// section indexes as its own document.
	KindSection FileKind = "structured-section"

	// KindRecord is a flat record file (JSON); the whole file indexes as
	// one document.
	KindRecord FileKind = "flat-record"
)

// FileInfo identifies one eligible file within a corpus.
type FileInfo struct {
	Path string // relative path, forward slashes
	Kind FileKind
}

// Enumerator lists the eligible files of a corpus in sorted path order.
type Enumerator interface {
	ListFiles(corpusID string) ([]FileInfo, error)
}

// Reader returns UTF-8 file content. A missing or unreadable file is a
// soft condition; callers count it as a warning and continue.
type Reader interface {
	ReadFile(corpusID, relPath string) (string, error)
}

// Prober returns file metadata for fingerprinting.
type Prober interface {
	Stat(corpusID, relPath string) (mtime time.Time, size int64, err error)
}

// Source combines the collaborator interfaces with corpus discovery.
type Source interface {
	Enumerator
	Reader
	Prober

	// Corpora returns all known corpus ids in stable order.
	Corpora() ([]string, error)
}

// DirSource is the filesystem Source: one subdirectory per corpus id
// under a single root. Symlinks and non-eligible extensions are excluded.
type DirSource struct {
	root string
}

// NewDirSource creates a DirSource rooted at dir.
func NewDirSource(dir string) *DirSource {
	return &DirSource{root: dir}
}

// Corpora lists the corpus subdirectories under the root, sorted.
func (s *DirSource) Corpora() ([]string, error) {
	entries, err := os.ReadDir(s.root)
	if err != nil {
		return nil, errors.Wrap(errors.CodeNotFound, err)
	}
	var ids []string
	for _, e := range entries {
		if e.IsDir() && !strings.HasPrefix(e.Name(), ".") {
			ids = append(ids, e.Name())
		}
	}
	sort.Strings(ids)
	return ids, nil
}

// kindForExt maps a file extension to its document kind.
// Files with other extensions are not indexable.
func kindForExt(path string) (FileKind, bool) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".md", ".markdown":
		return KindSection, true
	case ".json":
		return KindRecord, true
	}
	return "", false
}

// ListFiles enumerates eligible files for a corpus in sorted path order.
func (s *DirSource) ListFiles(corpusID string) ([]FileInfo, error) {
	dir, err := s.corpusDir(corpusID)
	if err != nil {
		return nil, err
	}

	var files []FileInfo
	err = filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return nil // unreadable subtree: skip, not fatal
		}
		if d.Type()&fs.ModeSymlink != 0 {
			if d.IsDir() {
				return fs.SkipDir
			}
			return nil
		}
		if d.IsDir() {
			return nil
		}
		kind, ok := kindForExt(path)
		if !ok {
			return nil
		}
		rel, relErr := filepath.Rel(dir, path)
		if relErr != nil {
			return nil
		}
		files = append(files, FileInfo{Path: filepath.ToSlash(rel), Kind: kind})
		return nil
	})
	if err != nil {
		return nil, errors.Wrap(errors.CodeConflict, err)
	}

	sort.Slice(files, func(i, j int) bool { return files[i].Path < files[j].Path })
	return files, nil
}

// ReadFile returns the content of one corpus file.
func (s *DirSource) ReadFile(corpusID, relPath string) (string, error) {
	dir, err := s.corpusDir(corpusID)
	if err != nil {
		return "", err
	}
	data, err := os.ReadFile(filepath.Join(dir, filepath.FromSlash(relPath)))
	if err != nil {
		return "", errors.Wrap(errors.CodeNotFound, err)
	}
	return string(data), nil
}

// Stat returns modification time and size for fingerprinting.
func (s *DirSource) Stat(corpusID, relPath string) (time.Time, int64, error) {
	dir, err := s.corpusDir(corpusID)
	if err != nil {
		return time.Time{}, 0, err
	}
	info, err := os.Stat(filepath.Join(dir, filepath.FromSlash(relPath)))
	if err != nil {
		return time.Time{}, 0, errors.Wrap(errors.CodeNotFound, err)
	}
	return info.ModTime(), info.Size(), nil
}

// corpusDir resolves and validates the directory for a corpus id.
func (s *DirSource) corpusDir(corpusID string) (string, error) {
	if corpusID == "" || strings.ContainsAny(corpusID, `/\`) || corpusID == ".." {
		return "", errors.Newf(errors.CodeInvalidPath, "invalid corpus id %q", corpusID)
	}
	dir := filepath.Join(s.root, corpusID)
	info, err := os.Stat(dir)
	if err != nil || !info.IsDir() {
		return "", errors.Newf(errors.CodeNotFound, "corpus %q is not registered", corpusID)
	}
	return dir, nil
}

// Fingerprint hashes every file's path, modification time, and size within
// the given scope. A stat failure contributes a "missing" sentinel rather
// than failing the fingerprint, so deleted files still change the hash.
func Fingerprint(src Source, corpusIDs []string) string {
	h := sha256.New()
	for _, id := range corpusIDs {
		fmt.Fprintf(h, "corpus:%s\n", id)
		files, err := src.ListFiles(id)
		if err != nil {
			fmt.Fprintf(h, "missing\n")
			continue
		}
		for _, f := range files {
			mtime, size, err := src.Stat(id, f.Path)
			if err != nil {
				fmt.Fprintf(h, "%s|missing\n", f.Path)
				continue
			}
			fmt.Fprintf(h, "%s|%d|%d\n", f.Path, mtime.UnixNano(), size)
		}
	}
	return hex.EncodeToString(h.Sum(nil))
}

// Neighbors ranks the other corpora by affinity to primary: longest shared
// prefix of the normalized names first, then smallest positional distance
// in the stable corpus ordering, then name.
func Neighbors(all []string, primary string, limit int) []string {
	primaryIdx := -1
	for i, id := range all {
		if id == primary {
			primaryIdx = i
			break
		}
	}
	normPrimary := strings.ToLower(primary)

	type ranked struct {
		id     string
		prefix int
		dist   int
	}
	var others []ranked
	for i, id := range all {
		if id == primary {
			continue
		}
		dist := i
		if primaryIdx >= 0 {
			dist = i - primaryIdx
			if dist < 0 {
				dist = -dist
			}
		}
		others = append(others, ranked{
			id:     id,
			prefix: sharedPrefixLen(normPrimary, strings.ToLower(id)),
			dist:   dist,
		})
	}
	sort.Slice(others, func(i, j int) bool {
		if others[i].prefix != others[j].prefix {
			return others[i].prefix > others[j].prefix
		}
		if others[i].dist != others[j].dist {
			return others[i].dist < others[j].dist
		}
		return others[i].id < others[j].id
	})

	var out []string
	for _, r := range others {
		if limit > 0 && len(out) >= limit {
			break
		}
		out = append(out, r.id)
	}
	return out
}

func sharedPrefixLen(a, b string) int {
	ra, rb := []rune(a), []rune(b)
	n := 0
	for n < len(ra) && n < len(rb) && ra[n] == rb[n] {
		n++
	}
	return n
}
