// Package encode turns raw dataset examples into fixed-length token
// sequences ready for model input. Every encoded example has exactly
// MaxLength positions regardless of task or text length.
package encode

import (
	"errors"
	"fmt"

	"github.com/kilnml/kiln/internal/dataset"
	"github.com/kilnml/kiln/internal/task"
	"github.com/kilnml/kiln/internal/tokenizer"
)

// DefaultMaxLength is the sequence length used when none is configured.
const DefaultMaxLength = 128

var (
	ErrMissingField    = errors.New("encode: example is missing a required field")
	ErrMissingSpecials = errors.New("encode: tokenizer does not define CLS/SEP/PAD tokens")
	ErrLengthTooShort  = errors.New("encode: max length cannot fit the special tokens")
)

// Encoded is a single fixed-length model input. IDs and Mask always
// have the same length; Mask is 1 for real tokens and 0 for padding.
type Encoded struct {
	IDs  []int
	Mask []int
}

// Encoder binds a tokenizer to a sequence length.
type Encoder struct {
	Tok       tokenizer.Tokenizer
	MaxLength int
}

// New returns an encoder with the default sequence length.
func New(tok tokenizer.Tokenizer) *Encoder {
	return &Encoder{Tok: tok, MaxLength: DefaultMaxLength}
}

func (e *Encoder) maxLen() int {
	if e.MaxLength > 0 {
		return e.MaxLength
	}
	return DefaultMaxLength
}

// Encode assembles the token sequence for one example under the given
// task. Single-field tasks produce [CLS] a [SEP]; pair tasks produce
// [CLS] a [SEP] b [SEP] as one sequence. Sequences longer than the
// limit are truncated before padding, trimming the longer of the two
// segments first for pair tasks.
func (e *Encoder) Encode(ex dataset.Example, tk task.Task) (Encoded, error) {
	sp := e.Tok.Specials()
	if sp.CLS < 0 || sp.SEP < 0 || sp.PAD < 0 {
		return Encoded{}, ErrMissingSpecials
	}

	pair := tk.SecondaryField != ""
	specials := 2 // CLS + trailing SEP
	if pair {
		specials = 3
	}
	max := e.maxLen()
	if max < specials {
		return Encoded{}, fmt.Errorf("%w: %d positions for %d control tokens (task %s)", ErrLengthTooShort, max, specials, tk.Name)
	}

	primary, ok := ex.Fields[tk.PrimaryField]
	if !ok {
		return Encoded{}, fmt.Errorf("%w: %q (task %s)", ErrMissingField, tk.PrimaryField, tk.Name)
	}
	a, err := e.Tok.Encode(primary)
	if err != nil {
		return Encoded{}, fmt.Errorf("encode %q: %w", tk.PrimaryField, err)
	}

	var b []int
	if pair {
		secondary, ok := ex.Fields[tk.SecondaryField]
		if !ok {
			return Encoded{}, fmt.Errorf("%w: %q (task %s)", ErrMissingField, tk.SecondaryField, tk.Name)
		}
		b, err = e.Tok.Encode(secondary)
		if err != nil {
			return Encoded{}, fmt.Errorf("encode %q: %w", tk.SecondaryField, err)
		}
	}

	a, b = truncatePair(a, b, max-specials)

	ids := make([]int, 0, max)
	ids = append(ids, sp.CLS)
	ids = append(ids, a...)
	ids = append(ids, sp.SEP)
	if pair {
		ids = append(ids, b...)
		ids = append(ids, sp.SEP)
	}

	used := len(ids)
	mask := make([]int, max)
	for i := 0; i < used; i++ {
		mask[i] = 1
	}
	for len(ids) < max {
		ids = append(ids, sp.PAD)
	}
	return Encoded{IDs: ids, Mask: mask}, nil
}

// truncatePair shrinks the token segments until they fit the content
// budget. The longer segment loses tokens first; equal lengths trim
// from the first.
func truncatePair(a, b []int, budget int) ([]int, []int) {
	for len(a)+len(b) > budget {
		if len(b) > len(a) {
			b = b[:len(b)-1]
		} else {
			a = a[:len(a)-1]
		}
	}
	return a, b
}
