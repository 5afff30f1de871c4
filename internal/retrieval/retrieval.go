// Package retrieval defines the interface for knowledge-base similarity
// search and the knowledge-base record format shared by its backends.
//
// A knowledge base is a list of standard commands: canonical utterances,
// some carrying a hand-written five-slot record. Scores are distances, so
// lower means more similar.
package retrieval

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/nadzzz/homenlu/internal/command"
)

// ErrUnavailable is returned when a backend cannot serve searches.
var ErrUnavailable = errors.New("retrieval: backend unavailable")

// KnowledgeRecord is one standard command.
type KnowledgeRecord struct {
	Text       string                 `json:"text"`
	Predefined *command.ParsedCommand `json:"predefined_nlu_output,omitempty"`
}

// Match is one search hit.
type Match struct {
	CommandText string          `json:"text"`
	Score       float64         `json:"score"`
	Record      KnowledgeRecord `json:"record"`
}

// Retriever is the interface for similarity search over standard commands.
type Retriever interface {
	// Name returns the backend identifier (e.g., "memory", "pgvector").
	Name() string

	// Search returns up to topK matches for query. Order is backend-defined;
	// callers pick the minimum score themselves.
	Search(ctx context.Context, query string, topK int) ([]Match, error)

	// Close releases any resources held by the retriever.
	Close() error
}

// maxLineSize bounds a single knowledge-base line.
const maxLineSize = 1 << 20

// LoadKnowledgeBaseFile reads a JSONL knowledge base from path.
func LoadKnowledgeBaseFile(path string) ([]KnowledgeRecord, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("opening knowledge base: %w", err)
	}
	defer f.Close()
	return LoadKnowledgeBase(f)
}

// LoadKnowledgeBase reads newline-delimited JSON records. Lines that do not
// parse, records without text and predefined outputs that are not objects
// are skipped with a warning; only read errors are returned.
func LoadKnowledgeBase(r io.Reader) ([]KnowledgeRecord, error) {
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 64*1024), maxLineSize)

	var records []KnowledgeRecord
	line := 0
	for sc.Scan() {
		line++
		raw := bytes.TrimSpace(sc.Bytes())
		if len(raw) == 0 {
			continue
		}
		rec, ok := parseRecord(raw, line)
		if ok {
			records = append(records, rec)
		}
	}
	if err := sc.Err(); err != nil {
		return records, fmt.Errorf("reading knowledge base: %w", err)
	}
	slog.Info("knowledge base loaded", "records", len(records), "lines", line)
	return records, nil
}

func parseRecord(raw []byte, line int) (KnowledgeRecord, bool) {
	var entry struct {
		Text       string          `json:"text"`
		Predefined json.RawMessage `json:"predefined_nlu_output"`
	}
	if err := json.Unmarshal(raw, &entry); err != nil {
		slog.Warn("skipping malformed knowledge base line", "line", line, "error", err)
		return KnowledgeRecord{}, false
	}
	if entry.Text == "" {
		slog.Warn("skipping knowledge base record without text", "line", line)
		return KnowledgeRecord{}, false
	}

	rec := KnowledgeRecord{Text: entry.Text}
	predefined := bytes.TrimSpace(entry.Predefined)
	if len(predefined) == 0 || bytes.Equal(predefined, []byte("null")) {
		return rec, true
	}
	if predefined[0] != '{' {
		slog.Warn("ignoring non-object predefined output", "line", line)
		return rec, true
	}
	var cmd command.ParsedCommand
	if err := json.Unmarshal(predefined, &cmd); err != nil {
		slog.Warn("ignoring unreadable predefined output", "line", line, "error", err)
		return rec, true
	}
	rec.Predefined = &cmd
	return rec, true
}

// Texts returns the standard-command texts of records, in order.
func Texts(records []KnowledgeRecord) []string {
	out := make([]string, len(records))
	for i, r := range records {
		out[i] = r.Text
	}
	return out
}
