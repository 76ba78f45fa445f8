package extract

import (
	"regexp"
	"strings"

	json "github.com/goccy/go-json"
)

// maxFallbackItems caps delimiter-split fallback output.
const maxFallbackItems = 30

var (
	arrayRe = regexp.MustCompile(`\[[\s\S]*\]`)
	fenceRe = regexp.MustCompile("^```(?:json)?|```$")
	splitRe = regexp.MustCompile(`[，,；;、\n]`)
)

// ParseKeywordArray parses model output that should be a JSON string array.
// The engine does not always comply, so parsing degrades gracefully: first
// the widest [...] span is tried as JSON; failing that, code fences and
// brackets are stripped and the text is split on common delimiters. Items
// are trimmed and deduplicated preserving order.
func ParseKeywordArray(text string) []string {
	kws, _ := parseKeywords(text)
	return kws
}

// parseKeywords additionally reports whether the delimiter fallback was taken.
func parseKeywords(text string) ([]string, bool) {
	s := strings.TrimSpace(text)

	if m := arrayRe.FindString(s); m != "" {
		var arr []any
		if err := json.Unmarshal([]byte(m), &arr); err == nil {
			out := make([]string, 0, len(arr))
			seen := make(map[string]struct{}, len(arr))
			for _, x := range arr {
				v, ok := x.(string)
				if !ok {
					continue
				}
				v = strings.TrimSpace(v)
				if v == "" {
					continue
				}
				if _, dup := seen[v]; dup {
					continue
				}
				seen[v] = struct{}{}
				out = append(out, v)
			}
			return out, false
		}
	}

	// Fallback: split on delimiters rather than aborting the run.
	s = strings.TrimSpace(fenceRe.ReplaceAllString(s, ""))
	s = strings.Trim(s, "[](){}")
	parts := splitRe.Split(s, -1)
	out := make([]string, 0, len(parts))
	seen := make(map[string]struct{}, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		p = strings.Trim(p, `"'`)
		if p == "" {
			continue
		}
		if _, dup := seen[p]; dup {
			continue
		}
		seen[p] = struct{}{}
		out = append(out, p)
		if len(out) >= maxFallbackItems {
			break
		}
	}
	return out, true
}
