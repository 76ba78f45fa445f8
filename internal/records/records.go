package records

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"regexp"
	"strings"

	json "github.com/goccy/go-json"
)

// Record is one answer row. Rows are kept as loose maps so fields the
// pipeline does not know about pass through to the output untouched.
type Record map[string]any

// Well-known field names.
const (
	FieldProblemID   = "problem_id"
	FieldProblem     = "problem"
	FieldModel       = "model"
	FieldAttempt     = "attempt"
	FieldAnswer      = "answer"
	FieldLang        = "lang"
	FieldKeywords    = "keywords"
	FieldKeywordsRaw = "keywords_raw"

	// Written by the dependency-parse extractor alongside keywords.
	FieldNouns            = "nouns"
	FieldAdjectives       = "adjectives"
	FieldNominalizedVerbs = "nominalized_verbs"
)

// Answer returns the trimmed answer text, or "" when absent.
func (r Record) Answer() string {
	s, _ := r[FieldAnswer].(string)
	return strings.TrimSpace(s)
}

// Problem returns the problem text, or "" when absent.
func (r Record) Problem() string {
	s, _ := r[FieldProblem].(string)
	return s
}

// Lang returns the lowercase language tag, defaulting to "zh" like the
// extraction prompts do.
func (r Record) Lang() string {
	s, _ := r[FieldLang].(string)
	s = strings.ToLower(strings.TrimSpace(s))
	if s == "" {
		return "zh"
	}
	return s
}

// SetKeywords stores the extracted keywords on the record.
func (r Record) SetKeywords(kws []string) { r[FieldKeywords] = kws }

// SetRaw stores the raw engine output alongside the parsed keywords.
func (r Record) SetRaw(raw string) { r[FieldKeywordsRaw] = raw }

// Keywords returns the stored keywords, tolerating both []string and the
// []any shape produced by JSON decoding.
func (r Record) Keywords() []string {
	switch v := r[FieldKeywords].(type) {
	case []string:
		return v
	case []any:
		out := make([]string, 0, len(v))
		for _, x := range v {
			if s, ok := x.(string); ok {
				out = append(out, s)
			}
		}
		return out
	}
	return nil
}

// Read decodes JSONL records from r, skipping blank lines.
func Read(r io.Reader) ([]Record, error) {
	var rows []Record
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)
	lineNo := 0
	for sc.Scan() {
		lineNo++
		line := strings.TrimSpace(sc.Text())
		if line == "" {
			continue
		}
		var rec Record
		if err := json.Unmarshal([]byte(line), &rec); err != nil {
			return nil, fmt.Errorf("line %d: %w", lineNo, err)
		}
		rows = append(rows, rec)
	}
	if err := sc.Err(); err != nil {
		return nil, err
	}
	return rows, nil
}

// Write encodes rows as JSONL to w, one object per line.
func Write(w io.Writer, rows []Record) error {
	bw := bufio.NewWriter(w)
	for _, rec := range rows {
		b, err := json.Marshal(rec)
		if err != nil {
			return err
		}
		if _, err := bw.Write(b); err != nil {
			return err
		}
		if err := bw.WriteByte('\n'); err != nil {
			return err
		}
	}
	return bw.Flush()
}

// ReadFile reads a JSONL record file.
func ReadFile(path string) ([]Record, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return Read(f)
}

// WriteFile writes rows to a JSONL file, replacing any existing content.
func WriteFile(path string, rows []Record) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	if err := Write(f, rows); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}

var cjkRe = regexp.MustCompile(`\p{Han}`)

// DetectLang classifies text as "zh" when it contains any CJK character,
// "en" otherwise, "unknown" for empty input.
func DetectLang(text string) string {
	if text == "" {
		return "unknown"
	}
	if cjkRe.MatchString(text) {
		return "zh"
	}
	return "en"
}
