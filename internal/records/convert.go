package records

import (
	"fmt"
	"io"
	"os"
	"sort"
	"strings"

	json "github.com/goccy/go-json"
)

// rawProblem mirrors one entry of the nested results.json layout:
// a problem with per-model attempt lists.
type rawProblem struct {
	Problem string                  `json:"problem"`
	Models  map[string][]rawAttempt `json:"models"`
}

type rawAttempt struct {
	Answer  string `json:"answer"`
	Attempt int    `json:"attempt"`
}

// ConvertOptions controls nested-to-flat conversion.
type ConvertOptions struct {
	// KeepEmpty keeps rows whose answer is blank.
	KeepEmpty bool
}

// ConvertStats reports what Convert did.
type ConvertStats struct {
	Written int
	Skipped int
}

// Convert flattens a nested results.json document into answer-per-line JSONL.
// Problems are numbered p000001, p000002, ... in input order, counting skipped
// items; the language is detected from the problem text. Malformed elements
// are skipped and counted rather than failing the whole conversion.
func Convert(in io.Reader, out io.Writer, opt ConvertOptions) (ConvertStats, error) {
	var stats ConvertStats
	b, err := io.ReadAll(in)
	if err != nil {
		return stats, err
	}
	var items []json.RawMessage
	if err := json.Unmarshal(b, &items); err != nil {
		return stats, fmt.Errorf("expected top-level JSON array: %w", err)
	}

	rows := make([]Record, 0, len(items))
	for idx, raw := range items {
		problemID := fmt.Sprintf("p%06d", idx+1)
		var item rawProblem
		if err := json.Unmarshal(raw, &item); err != nil {
			stats.Skipped++
			continue
		}
		modelNames := make([]string, 0, len(item.Models))
		for name := range item.Models {
			modelNames = append(modelNames, name)
		}
		sort.Strings(modelNames)
		for _, modelName := range modelNames {
			for _, a := range item.Models[modelName] {
				if strings.TrimSpace(a.Answer) == "" && !opt.KeepEmpty {
					continue
				}
				rows = append(rows, Record{
					FieldProblemID: problemID,
					FieldProblem:   item.Problem,
					FieldModel:     modelName,
					FieldAttempt:   a.Attempt,
					FieldAnswer:    a.Answer,
					FieldLang:      DetectLang(item.Problem),
				})
				stats.Written++
			}
		}
	}
	if err := Write(out, rows); err != nil {
		return stats, err
	}
	return stats, nil
}

// ConvertFile is Convert over file paths.
func ConvertFile(inPath, outPath string, opt ConvertOptions) (ConvertStats, error) {
	in, err := os.Open(inPath)
	if err != nil {
		return ConvertStats{}, err
	}
	defer in.Close()
	out, err := os.Create(outPath)
	if err != nil {
		return ConvertStats{}, err
	}
	stats, err := Convert(in, out, opt)
	if cerr := out.Close(); err == nil {
		err = cerr
	}
	return stats, err
}
