package records

import (
	"io"
	"os"
)

// ProjectKeywords copies only the keywords field of each record to out,
// producing a keywords-per-line JSONL view.
func ProjectKeywords(in io.Reader, out io.Writer) (int, error) {
	rows, err := Read(in)
	if err != nil {
		return 0, err
	}
	slim := make([]Record, 0, len(rows))
	for _, r := range rows {
		kws := r.Keywords()
		if kws == nil {
			kws = []string{}
		}
		slim = append(slim, Record{FieldKeywords: kws})
	}
	if err := Write(out, slim); err != nil {
		return 0, err
	}
	return len(slim), nil
}

// ProjectKeywordsFile is ProjectKeywords over file paths.
func ProjectKeywordsFile(inPath, outPath string) (int, error) {
	in, err := os.Open(inPath)
	if err != nil {
		return 0, err
	}
	defer in.Close()
	out, err := os.Create(outPath)
	if err != nil {
		return 0, err
	}
	n, err := ProjectKeywords(in, out)
	if cerr := out.Close(); err == nil {
		err = cerr
	}
	return n, err
}
