package corpus

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"

	"github.com/cognicore/sigmalens/pkg/sigmalens/internalerr"
	"github.com/cognicore/sigmalens/pkg/sigmalens/token"
)

// Sample is one JSONL record: a token-representation sequence plus
// optional human-readable labels.
//
// Format, one JSON object per line:
//
//	{"words": ["the", "cat"], "vectors": [[0.1, -0.2], [0.3, 0.0]]}
//
// "words" may be omitted for reference-corpus records.
type Sample struct {
	Words   []string    `json:"words,omitempty"`
	Vectors [][]float64 `json:"vectors"`
}

const maxLineBytes = 16 * 1024 * 1024

// LoadJSONL reads a reference corpus: one sequence per line. All sequences
// must share the same token dimension (token counts may differ).
func LoadJSONL(path string) ([]token.Sequence, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var out []token.Sequence
	dim := 0

	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 64*1024), maxLineBytes)
	lineNo := 0
	for scanner.Scan() {
		lineNo++
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		var s Sample
		if err := json.Unmarshal(line, &s); err != nil {
			return nil, fmt.Errorf("%w: line %d: %v", internalerr.ErrInvalidInput, lineNo, err)
		}
		seq := token.Sequence(s.Vectors)
		if err := seq.Validate(); err != nil {
			return nil, fmt.Errorf("line %d: %w", lineNo, err)
		}
		if dim == 0 {
			dim = seq.Dim()
		} else if seq.Dim() != dim {
			return nil, fmt.Errorf("%w: line %d has dimension %d, corpus uses %d",
				internalerr.ErrInvalidInput, lineNo, seq.Dim(), dim)
		}
		out = append(out, seq)
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("%w: no samples in %s", internalerr.ErrInvalidInput, path)
	}
	return out, nil
}

// LoadSample reads a single sequence (the first non-empty line of the
// file) together with its word labels, for use as the interpretation
// input.
func LoadSample(path string) (token.Sequence, []string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, nil, err
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 64*1024), maxLineBytes)
	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		var s Sample
		if err := json.Unmarshal(line, &s); err != nil {
			return nil, nil, fmt.Errorf("%w: %v", internalerr.ErrInvalidInput, err)
		}
		seq := token.Sequence(s.Vectors)
		if err := seq.Validate(); err != nil {
			return nil, nil, err
		}
		if s.Words != nil && len(s.Words) != seq.Len() {
			return nil, nil, fmt.Errorf("%w: %d words for %d tokens",
				internalerr.ErrInvalidInput, len(s.Words), seq.Len())
		}
		return seq, s.Words, nil
	}
	if err := scanner.Err(); err != nil {
		return nil, nil, err
	}
	return nil, nil, fmt.Errorf("%w: no sample in %s", internalerr.ErrInvalidInput, path)
}
