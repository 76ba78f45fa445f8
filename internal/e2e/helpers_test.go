package e2e

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"kwextract/internal/records"
)

// newFakeEngine starts an OpenAI-compatible completions server that answers
// every prompt with the given keyword list as a streamed JSON array.
func newFakeEngine(t *testing.T, keywords ...string) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/completions" {
			http.NotFound(w, r)
			return
		}
		arr, _ := json.Marshal(keywords)
		w.Header().Set("Content-Type", "text/event-stream")
		fmt.Fprintf(w, "data: {\"object\":\"text_completion\",\"choices\":[{\"text\":%s}]}\n\n", mustQuote(t, string(arr)))
		fmt.Fprint(w, "data: [DONE]\n\n")
	}))
	t.Cleanup(srv.Close)
	return srv
}

func mustQuote(t *testing.T, s string) string {
	t.Helper()
	b, err := json.Marshal(s)
	if err != nil {
		t.Fatalf("quote: %v", err)
	}
	return string(b)
}

// writeInputFile writes a JSONL input with one record per answer.
func writeInputFile(t *testing.T, answers ...string) string {
	t.Helper()
	rows := make([]records.Record, 0, len(answers))
	for i, a := range answers {
		rows = append(rows, records.Record{
			records.FieldProblemID: fmt.Sprintf("p%06d", i),
			records.FieldAnswer:    a,
		})
	}
	path := filepath.Join(t.TempDir(), "input.jsonl")
	if err := records.WriteFile(path, rows); err != nil {
		t.Fatalf("write input: %v", err)
	}
	return path
}

func readOutputFile(t *testing.T, path string) []records.Record {
	t.Helper()
	if _, err := os.Stat(path); err != nil {
		t.Fatalf("stat output: %v", err)
	}
	rows, err := records.ReadFile(path)
	if err != nil {
		t.Fatalf("read output: %v", err)
	}
	return rows
}
