// Package index builds and caches in-memory sparse indexes over corpus
// scopes. There is no on-disk persistence: an index is rebuilt whenever the
// scope's file-metadata fingerprint changes.
package index

import (
	"log/slog"
	"strings"

	"github.com/docsift/docsift/internal/corpus"
)

// Posting records one document's frequency for a term.
type Posting struct {
	Doc  *Document
	Freq int
}

// SparseIndex owns the documents of one (ordered) corpus scope plus the
// postings needed for BM25 scoring.
//
// Invariant: DocFreq[t] == len(Postings[t]) for every term, and AvgLen >= 1.
type SparseIndex struct {
	Corpora     []string
	Fingerprint string

	Docs     []*Document
	Postings map[string][]Posting
	DocFreq  map[string]int
	AvgLen   float64
}

// BuildResult reports what happened during an index build.
type BuildResult struct {
	Warnings int // unreadable files silently skipped
}

// Build constructs a sparse index over the given ordered corpus scope.
// Unreadable files are skipped and counted as warnings, never fatal.
func Build(src corpus.Source, corpusIDs []string, fingerprint string) (*SparseIndex, BuildResult, error) {
	idx := &SparseIndex{
		Corpora:     append([]string(nil), corpusIDs...),
		Fingerprint: fingerprint,
		Postings:    make(map[string][]Posting),
		DocFreq:     make(map[string]int),
	}
	var res BuildResult

	for _, id := range corpusIDs {
		files, err := src.ListFiles(id)
		if err != nil {
			return nil, res, err
		}
		for _, f := range files {
			content, err := src.ReadFile(id, f.Path)
			if err != nil {
				res.Warnings++
				continue
			}
			switch f.Kind {
			case corpus.KindSection:
				idx.Docs = append(idx.Docs, documentsFromMarkdown(id, f.Path, content)...)
			case corpus.KindRecord:
				idx.Docs = append(idx.Docs, documentFromRecord(id, f.Path, content))
			}
		}
	}

	var totalLen int
	for _, doc := range idx.Docs {
		totalLen += doc.Length
		for term, freq := range doc.TermFreq {
			idx.Postings[term] = append(idx.Postings[term], Posting{Doc: doc, Freq: freq})
			idx.DocFreq[term]++
		}
	}

	idx.AvgLen = 1
	if len(idx.Docs) > 0 {
		if avg := float64(totalLen) / float64(len(idx.Docs)); avg > 1 {
			idx.AvgLen = avg
		}
	}

	slog.Debug("index_built",
		slog.String("scope", strings.Join(corpusIDs, ",")),
		slog.Int("docs", len(idx.Docs)),
		slog.Int("terms", len(idx.DocFreq)),
		slog.Int("warnings", res.Warnings))

	return idx, res, nil
}

// ContainsDoc reports whether any document in the index contains the given
// normalized surface form as a substring. Used to decide whether a coverage
// group has any hit at all before pseudo-relevance feedback kicks in.
func (idx *SparseIndex) ContainsDoc(normTerm string) bool {
	if normTerm == "" {
		return false
	}
	if idx.DocFreq[normTerm] > 0 {
		return true
	}
	for _, doc := range idx.Docs {
		if strings.Contains(doc.NormText, normTerm) || strings.Contains(doc.NormTitle, normTerm) {
			return true
		}
	}
	return false
}
