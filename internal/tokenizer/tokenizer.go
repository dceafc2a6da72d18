// Package tokenizer converts raw text to token IDs. Two implementations are
// provided: a HuggingFace tokenizer.json BPE loader and a simple word-level
// vocabulary tokenizer.
package tokenizer

import "fmt"

// Tokenizer is the minimal interface used by the preprocessor.
type Tokenizer interface {
	Encode(text string) ([]int, error)
	Decode(ids []int) (string, error)

	// Specials returns the classifier control token IDs.
	Specials() Specials
	// VocabSize returns the number of distinct token IDs.
	VocabSize() int
}

// Specials holds the control token IDs the preprocessor assembles sequences
// with. All IDs are valid vocabulary entries.
type Specials struct {
	CLS int
	SEP int
	PAD int
	UNK int
}

// Kind names an embeddable tokenizer payload format.
const (
	KindWordLevel = "wordlevel"
	KindHFBPE     = "hf-bpe"
)

// FromPayload reconstructs a tokenizer from an artifact's embedded payload.
func FromPayload(kind string, payload []byte) (Tokenizer, error) {
	switch kind {
	case KindWordLevel:
		return LoadWordLevel(payload)
	case KindHFBPE:
		return LoadHFBPE(payload)
	default:
		return nil, fmt.Errorf("tokenizer: unknown kind %q", kind)
	}
}
