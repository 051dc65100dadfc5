// Package loader reads the crawled corpus directory into documents.
package loader

import (
	"crypto/sha1"
	"encoding/hex"
	"fmt"
	"io/fs"
	"iter"
	"os"
	"path/filepath"

	"github.com/bmatcuk/doublestar/v4"

	"github.com/benkoppe/sustainabotily/internal/domain"
)

// DefaultPattern matches the crawler's markdown output in the top-level directory.
const DefaultPattern = "*.md"

// Load lists the files in dir matching pattern and returns a sequence that
// reads them one at a time. Listing happens eagerly so an empty corpus is
// reported before any work starts; file contents are read lazily.
func Load(dir, pattern string) (iter.Seq2[domain.Document, error], error) {
	files, err := List(dir, pattern)
	if err != nil {
		return nil, err
	}
	fsys := os.DirFS(dir)
	seq := func(yield func(domain.Document, error) bool) {
		for _, rel := range files {
			data, err := fs.ReadFile(fsys, rel)
			if err != nil {
				yield(domain.Document{}, fmt.Errorf("read %s: %w", rel, err))
				return
			}
			doc := domain.Document{
				ID:         hashString(rel),
				SourcePath: filepath.Join(dir, filepath.FromSlash(rel)),
				RawText:    string(data),
			}
			if !yield(doc, nil) {
				return
			}
		}
	}
	return seq, nil
}

// List returns the corpus-relative paths of eligible files in walk order.
func List(dir, pattern string) ([]string, error) {
	if pattern == "" {
		pattern = DefaultPattern
	}
	abs, err := filepath.Abs(dir)
	if err != nil {
		abs = dir
	}
	info, err := os.Stat(dir)
	if err != nil || !info.IsDir() {
		return nil, fmt.Errorf("%w: %s is not a readable directory", domain.ErrCorpusEmpty, abs)
	}
	fsys := os.DirFS(dir)
	matches, err := doublestar.Glob(fsys, pattern)
	if err != nil {
		return nil, fmt.Errorf("glob %q: %w", pattern, err)
	}
	files := make([]string, 0, len(matches))
	for _, m := range matches {
		st, err := fs.Stat(fsys, m)
		if err != nil || st.IsDir() {
			continue
		}
		files = append(files, m)
	}
	if len(files) == 0 {
		return nil, fmt.Errorf("%w: no files matching %q in %s", domain.ErrCorpusEmpty, pattern, abs)
	}
	return files, nil
}

// Collect drains a document sequence into a slice, stopping at the first error.
func Collect(seq iter.Seq2[domain.Document, error]) ([]domain.Document, error) {
	var docs []domain.Document
	for doc, err := range seq {
		if err != nil {
			return nil, err
		}
		docs = append(docs, doc)
	}
	return docs, nil
}

func hashString(s string) string {
	h := sha1.Sum([]byte(s))
	return hex.EncodeToString(h[:8])
}
