package encode

import (
	"errors"
	"strings"
	"testing"

	"github.com/kilnml/kiln/internal/dataset"
	"github.com/kilnml/kiln/internal/task"
	"github.com/kilnml/kiln/internal/tokenizer"
)

func testTokenizer(t *testing.T) tokenizer.Tokenizer {
	t.Helper()
	words := []string{
		"a", "great", "movie", "the", "plot", "was", "thin",
		"cats", "chase", "mice", "dogs", "sleep", "word",
	}
	tok, err := tokenizer.NewWordLevel(words)
	if err != nil {
		t.Fatalf("tokenizer: %v", err)
	}
	return tok
}

func mustTask(t *testing.T, name string) task.Task {
	t.Helper()
	tk, err := task.Lookup(name)
	if err != nil {
		t.Fatalf("lookup %s: %v", name, err)
	}
	return tk
}

func TestEncodeFixedLengthAcrossTasks(t *testing.T) {
	t.Parallel()

	enc := &Encoder{Tok: testTokenizer(t), MaxLength: 16}
	ex := dataset.Example{Fields: map[string]string{
		"sentence":   "a great movie",
		"sentence1":  "cats chase mice",
		"sentence2":  "dogs sleep",
		"question":   "the plot was thin",
		"premise":    "cats chase mice",
		"hypothesis": "dogs sleep",
		"question1":  "a great movie",
		"question2":  "the plot was thin",
	}}

	for _, name := range task.Names() {
		tk := mustTask(t, name)
		out, err := enc.Encode(ex, tk)
		if err != nil {
			t.Fatalf("%s: %v", name, err)
		}
		if len(out.IDs) != 16 || len(out.Mask) != 16 {
			t.Fatalf("%s: got lengths %d/%d want 16", name, len(out.IDs), len(out.Mask))
		}
	}
}

func TestEncodeSingleSentenceLayout(t *testing.T) {
	t.Parallel()

	tok := testTokenizer(t)
	enc := &Encoder{Tok: tok, MaxLength: 8}
	ex := dataset.Example{Fields: map[string]string{"sentence": "a great movie"}}

	out, err := enc.Encode(ex, mustTask(t, "sst2"))
	if err != nil {
		t.Fatalf("encode: %v", err)
	}

	sp := tok.Specials()
	if out.IDs[0] != sp.CLS {
		t.Fatalf("expected CLS first, got %d", out.IDs[0])
	}
	if out.IDs[4] != sp.SEP {
		t.Fatalf("expected SEP after 3 tokens, got %v", out.IDs)
	}
	for i := 5; i < 8; i++ {
		if out.IDs[i] != sp.PAD {
			t.Fatalf("expected PAD at %d, got %d", i, out.IDs[i])
		}
		if out.Mask[i] != 0 {
			t.Fatalf("expected mask 0 at %d", i)
		}
	}
	for i := 0; i < 5; i++ {
		if out.Mask[i] != 1 {
			t.Fatalf("expected mask 1 at %d", i)
		}
	}
}

func TestEncodePairIsSingleSequence(t *testing.T) {
	t.Parallel()

	tok := testTokenizer(t)
	enc := &Encoder{Tok: tok, MaxLength: 12}
	ex := dataset.Example{Fields: map[string]string{
		"sentence1": "cats chase mice",
		"sentence2": "dogs sleep",
	}}

	out, err := enc.Encode(ex, mustTask(t, "mrpc"))
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	if len(out.IDs) != 12 {
		t.Fatalf("got length %d want 12", len(out.IDs))
	}

	sp := tok.Specials()
	seps := 0
	for _, id := range out.IDs {
		if id == sp.SEP {
			seps++
		}
	}
	if seps != 2 {
		t.Fatalf("pair input should carry two separators, got %d", seps)
	}
}

func TestEncodeIgnoresSecondaryForSingleTask(t *testing.T) {
	t.Parallel()

	enc := &Encoder{Tok: testTokenizer(t), MaxLength: 10}
	with := dataset.Example{Fields: map[string]string{
		"sentence":  "a great movie",
		"sentence2": "dogs sleep",
	}}
	without := dataset.Example{Fields: map[string]string{"sentence": "a great movie"}}

	a, err := enc.Encode(with, mustTask(t, "sst2"))
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	b, err := enc.Encode(without, mustTask(t, "sst2"))
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	for i := range a.IDs {
		if a.IDs[i] != b.IDs[i] {
			t.Fatalf("extra field changed encoding at %d", i)
		}
	}
}

func TestEncodeTruncatesLongerSegmentFirst(t *testing.T) {
	t.Parallel()

	tok := testTokenizer(t)
	enc := &Encoder{Tok: tok, MaxLength: 10}
	long := strings.TrimSpace(strings.Repeat("word ", 20))
	ex := dataset.Example{Fields: map[string]string{
		"sentence1": long,
		"sentence2": "dogs sleep",
	}}

	out, err := enc.Encode(ex, mustTask(t, "mrpc"))
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	if len(out.IDs) != 10 {
		t.Fatalf("got length %d want 10", len(out.IDs))
	}

	// The short second segment survives intact: its two tokens must
	// still be present between the separators.
	sp := tok.Specials()
	for _, id := range out.IDs {
		if id == sp.PAD {
			t.Fatal("truncated sequence should not contain padding")
		}
	}
	ids, _ := tok.Encode("dogs sleep")
	found := 0
	for _, want := range ids {
		for _, got := range out.IDs {
			if got == want {
				found++
				break
			}
		}
	}
	if found != len(ids) {
		t.Fatalf("short segment lost tokens during truncation: %v", out.IDs)
	}
}

func TestEncodeRejectsLengthBelowControlTokens(t *testing.T) {
	t.Parallel()

	enc := &Encoder{Tok: testTokenizer(t), MaxLength: 2}
	pairEx := dataset.Example{Fields: map[string]string{
		"sentence1": "cats chase mice",
		"sentence2": "dogs sleep",
	}}

	// A pair task needs three control positions; two cannot hold them.
	_, err := enc.Encode(pairEx, mustTask(t, "mrpc"))
	if !errors.Is(err, ErrLengthTooShort) {
		t.Fatalf("expected ErrLengthTooShort, got %v", err)
	}

	enc.MaxLength = 1
	single := dataset.Example{Fields: map[string]string{"sentence": "a great movie"}}
	_, err = enc.Encode(single, mustTask(t, "sst2"))
	if !errors.Is(err, ErrLengthTooShort) {
		t.Fatalf("expected ErrLengthTooShort, got %v", err)
	}

	// The exact overhead is still a valid, if degenerate, length.
	enc.MaxLength = 3
	out, err := enc.Encode(pairEx, mustTask(t, "mrpc"))
	if err != nil {
		t.Fatalf("encode at exact overhead: %v", err)
	}
	if len(out.IDs) != 3 || len(out.Mask) != 3 {
		t.Fatalf("got lengths %d/%d want 3", len(out.IDs), len(out.Mask))
	}
}

func TestEncodeMissingFieldFails(t *testing.T) {
	t.Parallel()

	enc := &Encoder{Tok: testTokenizer(t), MaxLength: 8}
	ex := dataset.Example{Fields: map[string]string{"sentence1": "cats chase mice"}}

	_, err := enc.Encode(ex, mustTask(t, "mrpc"))
	if !errors.Is(err, ErrMissingField) {
		t.Fatalf("expected ErrMissingField, got %v", err)
	}
}

func TestEncodeDeterministic(t *testing.T) {
	t.Parallel()

	enc := &Encoder{Tok: testTokenizer(t), MaxLength: 16}
	ex := dataset.Example{Fields: map[string]string{"sentence": "the plot was thin"}}
	tk := mustTask(t, "sst2")

	a, err := enc.Encode(ex, tk)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	b, err := enc.Encode(ex, tk)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	for i := range a.IDs {
		if a.IDs[i] != b.IDs[i] || a.Mask[i] != b.Mask[i] {
			t.Fatalf("encoding not deterministic at %d", i)
		}
	}
}
