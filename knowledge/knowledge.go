// Package knowledge loads clinic documents and cuts them into embedding-sized
// chunks.
package knowledge

import (
	"bufio"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/bytedance/sonic"
	"github.com/google/uuid"
)

const (
	DefaultChunkSize    = 800
	DefaultChunkOverlap = 100
)

// Document is one knowledge base entry.
type Document struct {
	ID    string         `json:"id"`
	Title string         `json:"title"`
	Text  string         `json:"text"`
	Meta  map[string]any `json:"meta"`
}

// Chunk is a piece of a document ready to be embedded.
type Chunk struct {
	ID       string
	Text     string
	Metadata map[string]any
}

// LoadDir reads every .jsonl, .md and .txt file below dir.
func LoadDir(dir string) ([]Document, error) {
	var docs []Document
	err := filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil || d.IsDir() {
			return err
		}
		switch strings.ToLower(filepath.Ext(path)) {
		case ".jsonl":
			found, err := loadJSONL(path)
			if err != nil {
				return err
			}
			docs = append(docs, found...)
		case ".md", ".txt":
			doc, err := loadText(path)
			if err != nil {
				return err
			}
			docs = append(docs, doc)
		}
		return nil
	})
	return docs, err
}

func loadJSONL(path string) ([]Document, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var docs []Document
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 64*1024), 4*1024*1024)
	for n := 1; scanner.Scan(); n++ {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		var doc Document
		if err := sonic.UnmarshalString(line, &doc); err != nil {
			return nil, fmt.Errorf("%s:%d: %w", path, n, err)
		}
		docs = append(docs, doc)
	}
	return docs, scanner.Err()
}

func loadText(path string) (Document, error) {
	body, err := os.ReadFile(path)
	if err != nil {
		return Document{}, err
	}
	stem := strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
	return Document{
		ID:    stem,
		Title: titleCase(strings.ReplaceAll(stem, "_", " ")),
		Text:  strings.TrimSpace(string(body)),
		Meta:  map[string]any{"source": path},
	}, nil
}

func titleCase(s string) string {
	words := strings.Fields(s)
	for i, w := range words {
		words[i] = strings.ToUpper(w[:1]) + w[1:]
	}
	return strings.Join(words, " ")
}

// Split cuts text into windows of size runes that overlap by overlap runes.
func Split(text string, size, overlap int) []string {
	runes := []rune(text)
	if len(runes) <= size {
		if t := strings.TrimSpace(text); t != "" {
			return []string{t}
		}
		return nil
	}
	if overlap >= size {
		overlap = 0
	}

	var chunks []string
	for start := 0; start < len(runes); start = start + size - overlap {
		end := min(start+size, len(runes))
		if c := strings.TrimSpace(string(runes[start:end])); c != "" {
			chunks = append(chunks, c)
		}
		if end == len(runes) {
			break
		}
	}
	return chunks
}

// Prepare chunks every document and tags the chunks with the tenant.
// Chunk ids are <document id>_<index>; documents without id or title get a
// random one.
func Prepare(docs []Document, size, overlap int, tenant string) []Chunk {
	var chunks []Chunk
	for _, doc := range docs {
		base := doc.ID
		if base == "" {
			base = doc.Title
		}
		if base == "" {
			base = uuid.NewString()
		}

		for i, text := range Split(doc.Text, size, overlap) {
			meta := make(map[string]any, len(doc.Meta)+2)
			for k, v := range doc.Meta {
				meta[k] = v
			}
			meta["tenant_id"] = tenant
			meta["title"] = doc.Title
			chunks = append(chunks, Chunk{
				ID:       fmt.Sprintf("%s_%d", base, i),
				Text:     text,
				Metadata: meta,
			})
		}
	}
	return chunks
}
