package index

import (
	"path"
	"regexp"
	"strconv"
	"strings"

	"github.com/docsift/docsift/internal/corpus"
	"github.com/docsift/docsift/internal/textnorm"
)

// Document is the atomic indexed unit: one heading-delimited markdown
// section, or one whole flat-record file. Documents are immutable once the
// index is built.
type Document struct {
	Corpus    string
	Path      string
	StartLine int // 1-based line of the heading (or 1 for whole-file docs)
	HeadingID string
	Title     string

	Text      string // raw section body, heading line excluded
	NormText  string
	NormTitle string

	TermFreq map[string]int
	Length   int // token count of the normalized body
	Kind     corpus.FileKind
}

var headingRe = regexp.MustCompile(`^(#{1,6})\s+(.*)$`)

// section is an intermediate parse result from the heading tree.
type section struct {
	title     string
	depth     int
	startLine int // 1-based heading line
	bodyStart int // 0-based index of first body line
	bodyEnd   int // 0-based exclusive
}

// SplitSections parses markdown heading structure. A section spans from its
// heading line to the line before the next heading of equal-or-shallower
// depth, or end-of-file. The heading line itself is not part of the body.
// A document with no headings yields one whole-document section.
func SplitSections(text string) []section {
	lines := strings.Split(text, "\n")

	type heading struct {
		line  int
		depth int
		title string
	}
	var headings []heading
	for i, line := range lines {
		if m := headingRe.FindStringSubmatch(line); m != nil {
			headings = append(headings, heading{line: i, depth: len(m[1]), title: strings.TrimSpace(m[2])})
		}
	}

	if len(headings) == 0 {
		return []section{{title: "", depth: 0, startLine: 1, bodyStart: 0, bodyEnd: len(lines)}}
	}

	sections := make([]section, 0, len(headings))
	for i, h := range headings {
		end := len(lines)
		for j := i + 1; j < len(headings); j++ {
			if headings[j].depth <= h.depth {
				end = headings[j].line
				break
			}
		}
		sections = append(sections, section{
			title:     h.title,
			depth:     h.depth,
			startLine: h.line + 1,
			bodyStart: h.line + 1,
			bodyEnd:   end,
		})
	}
	return sections
}

var slugStrip = regexp.MustCompile(`[^\p{L}\p{N}\- ]+`)

// headingSlug derives a stable heading id from a title.
func headingSlug(title string) string {
	s := textnorm.Normalize(title)
	s = slugStrip.ReplaceAllString(s, "")
	s = strings.TrimSpace(s)
	return strings.ReplaceAll(s, " ", "-")
}

// documentsFromMarkdown builds one Document per heading section.
func documentsFromMarkdown(corpusID, relPath, text string) []*Document {
	lines := strings.Split(text, "\n")
	var docs []*Document
	for _, sec := range SplitSections(text) {
		body := strings.Join(lines[sec.bodyStart:sec.bodyEnd], "\n")
		title := sec.title
		if title == "" {
			title = path.Base(relPath)
		}
		docs = append(docs, newDocument(corpusID, relPath, sec.startLine, headingSlug(sec.title), title, body, corpus.KindSection))
	}
	return docs
}

// documentFromRecord builds a single Document from a flat-record file.
func documentFromRecord(corpusID, relPath, text string) *Document {
	return newDocument(corpusID, relPath, 1, "", path.Base(relPath), text, corpus.KindRecord)
}

func newDocument(corpusID, relPath string, startLine int, headingID, title, body string, kind corpus.FileKind) *Document {
	normText := textnorm.Normalize(body)
	tokens := strings.Fields(normText)
	tf := make(map[string]int, len(tokens))
	for _, tok := range tokens {
		tf[tok]++
	}
	return &Document{
		Corpus:    corpusID,
		Path:      relPath,
		StartLine: startLine,
		HeadingID: headingID,
		Title:     title,
		Text:      body,
		NormText:  normText,
		NormTitle: textnorm.Normalize(title),
		TermFreq:  tf,
		Length:    len(tokens),
		Kind:      kind,
	}
}

// Key uniquely identifies a document within its scope.
func (d *Document) Key() string {
	return d.Corpus + "\x00" + d.Path + "\x00" + strconv.Itoa(d.StartLine)
}
