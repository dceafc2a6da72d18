// Package dataset loads labeled text examples from JSONL split files laid
// out as <dir>/<task>/<split>.jsonl.
package dataset

import (
	"bufio"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	json "github.com/goccy/go-json"
)

// Example is one labeled row of a split: one or two raw text fields plus a
// label. Classification labels are integral-valued; the regression task
// carries a float score. Examples are never mutated after loading.
type Example struct {
	Fields map[string]string
	Label  float64
}

// Split is an ordered collection of examples for one task and split name.
type Split struct {
	Task     string
	Name     string
	Examples []Example
}

var ErrNoLabel = errors.New("dataset: example has no label")

// Path returns the JSONL file backing a split.
func Path(dir, taskName, split string) string {
	return filepath.Join(dir, taskName, split+".jsonl")
}

// Load reads an entire split into memory. Row order is preserved; it is the
// iteration order for every downstream stage.
func Load(dir, taskName, split string) (*Split, error) {
	path := Path(dir, taskName, split)
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("dataset: open split: %w", err)
	}
	defer func() { _ = f.Close() }()

	s := &Split{Task: taskName, Name: split}
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)

	lineNo := 0
	for scanner.Scan() {
		lineNo++
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		ex, err := parseRow(line)
		if err != nil {
			return nil, fmt.Errorf("dataset: %s line %d: %w", path, lineNo, err)
		}
		s.Examples = append(s.Examples, ex)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("dataset: read split: %w", err)
	}
	return s, nil
}

func parseRow(line []byte) (Example, error) {
	var row map[string]any
	if err := json.Unmarshal(line, &row); err != nil {
		return Example{}, err
	}

	ex := Example{Fields: make(map[string]string, len(row))}
	haveLabel := false
	for key, val := range row {
		switch v := val.(type) {
		case string:
			ex.Fields[key] = v
		case float64:
			if key == "label" {
				ex.Label = v
				haveLabel = true
			}
			// other numeric columns (eg row index) carry no model input
		}
	}
	if !haveLabel {
		return Example{}, ErrNoLabel
	}
	return ex, nil
}

// Head returns the first n examples of the split (or all of them when the
// split is shorter). Used to draw calibration subsets deterministically.
func (s *Split) Head(n int) []Example {
	if n < 0 {
		n = 0
	}
	if n > len(s.Examples) {
		n = len(s.Examples)
	}
	return s.Examples[:n]
}
