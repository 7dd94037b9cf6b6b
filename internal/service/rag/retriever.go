package rag

import (
	"context"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"unicode"

	"github.com/pkg/errors"
)

// Document is one searchable reference.
type Document struct {
	ID      string `json:"id"`
	Title   string `json:"title"`
	URI     string `json:"uri"`
	Content string `json:"content"`
}

// Retriever finds the documents most relevant to query.
type Retriever interface {
	Retrieve(ctx context.Context, query string, limit int) ([]Document, error)
}

// MemoryRetriever ranks an in-memory document set by keyword overlap. A term
// found in the title counts twice.
type MemoryRetriever struct {
	docs []Document
}

func NewMemoryRetriever(docs []Document) *MemoryRetriever {
	return &MemoryRetriever{docs: append([]Document(nil), docs...)}
}

func (m *MemoryRetriever) Len() int { return len(m.docs) }

func (m *MemoryRetriever) Retrieve(ctx context.Context, query string, limit int) ([]Document, error) {
	terms := queryTerms(query)
	if len(terms) == 0 || limit <= 0 {
		return nil, nil
	}

	type scored struct {
		doc   Document
		score int
	}
	var hits []scored
	for _, d := range m.docs {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		title := strings.ToLower(d.Title)
		content := strings.ToLower(d.Content)
		score := 0
		for _, t := range terms {
			if strings.Contains(title, t) {
				score += 2
			}
			if strings.Contains(content, t) {
				score++
			}
		}
		if score > 0 {
			hits = append(hits, scored{doc: d, score: score})
		}
	}

	sort.SliceStable(hits, func(i, j int) bool { return hits[i].score > hits[j].score })
	if len(hits) > limit {
		hits = hits[:limit]
	}
	out := make([]Document, len(hits))
	for i, h := range hits {
		out[i] = h.doc
	}
	return out, nil
}

func queryTerms(query string) []string {
	fields := strings.FieldsFunc(strings.ToLower(query), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsNumber(r)
	})
	seen := make(map[string]struct{}, len(fields))
	terms := fields[:0]
	for _, f := range fields {
		if len([]rune(f)) < 2 {
			continue
		}
		if _, dup := seen[f]; dup {
			continue
		}
		seen[f] = struct{}{}
		terms = append(terms, f)
	}
	return terms
}

// LoadDocuments reads every .md and .txt file under dir. The title is the
// first Markdown heading, or the file name when there is none.
func LoadDocuments(dir string) ([]Document, error) {
	var docs []Document
	err := filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		ext := strings.ToLower(filepath.Ext(path))
		if ext != ".md" && ext != ".txt" {
			return nil
		}

		data, err := os.ReadFile(path)
		if err != nil {
			return errors.Wrapf(err, "read %s", path)
		}
		rel, err := filepath.Rel(dir, path)
		if err != nil {
			rel = path
		}
		rel = filepath.ToSlash(rel)

		content := string(data)
		docs = append(docs, Document{
			ID:      rel,
			Title:   documentTitle(content, strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))),
			URI:     rel,
			Content: content,
		})
		return nil
	})
	if err != nil {
		return nil, errors.Wrap(err, "load documents")
	}
	return docs, nil
}

func documentTitle(content, fallback string) string {
	for _, line := range strings.Split(content, "\n") {
		line = strings.TrimSpace(line)
		if strings.HasPrefix(line, "#") {
			if title := strings.TrimSpace(strings.TrimLeft(line, "#")); title != "" {
				return title
			}
		}
	}
	return fallback
}
