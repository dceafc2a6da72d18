package tokenizer

import (
	"fmt"
	"strings"
	"unicode"

	json "github.com/goccy/go-json"
)

// Reserved word-level control tokens, always occupying the first four IDs.
const (
	padToken = "[PAD]"
	unkToken = "[UNK]"
	clsToken = "[CLS]"
	sepToken = "[SEP]"
)

// WordLevel is a lowercasing word tokenizer over a fixed vocabulary.
// Unknown words map to [UNK]. It has no merge rules, which makes encodings
// easy to reason about in tests and demos.
type WordLevel struct {
	encoder map[string]int
	decoder []string
}

type wordLevelJSON struct {
	Vocab []string `json:"vocab"`
}

// NewWordLevel builds a tokenizer from a word list. Control tokens are
// prepended automatically; duplicates in the list are rejected.
func NewWordLevel(words []string) (*WordLevel, error) {
	decoder := []string{padToken, unkToken, clsToken, sepToken}
	encoder := make(map[string]int, len(words)+4)
	for i, tok := range decoder {
		encoder[tok] = i
	}
	for _, w := range words {
		norm := strings.ToLower(strings.TrimSpace(w))
		if norm == "" {
			continue
		}
		if _, ok := encoder[norm]; ok {
			return nil, fmt.Errorf("tokenizer: duplicate vocab entry %q", norm)
		}
		encoder[norm] = len(decoder)
		decoder = append(decoder, norm)
	}
	return &WordLevel{encoder: encoder, decoder: decoder}, nil
}

// LoadWordLevel parses a word-level payload: either {"vocab": [...]} or a
// bare JSON array of words.
func LoadWordLevel(payload []byte) (*WordLevel, error) {
	var wrapped wordLevelJSON
	if err := json.Unmarshal(payload, &wrapped); err == nil && len(wrapped.Vocab) > 0 {
		return NewWordLevel(wrapped.Vocab)
	}
	var words []string
	if err := json.Unmarshal(payload, &words); err != nil {
		return nil, fmt.Errorf("tokenizer: parse word-level vocab: %w", err)
	}
	return NewWordLevel(words)
}

// Payload serialises the vocabulary (without control tokens) for embedding
// in an artifact.
func (t *WordLevel) Payload() ([]byte, error) {
	return json.Marshal(wordLevelJSON{Vocab: t.decoder[4:]})
}

func (t *WordLevel) Encode(text string) ([]int, error) {
	words := splitWords(text)
	ids := make([]int, 0, len(words))
	for _, w := range words {
		id, ok := t.encoder[w]
		if !ok {
			id = t.encoder[unkToken]
		}
		ids = append(ids, id)
	}
	return ids, nil
}

func (t *WordLevel) Decode(ids []int) (string, error) {
	var b strings.Builder
	for i, id := range ids {
		if id < 0 || id >= len(t.decoder) {
			return "", fmt.Errorf("tokenizer: token id out of range: %d", id)
		}
		if i > 0 {
			b.WriteByte(' ')
		}
		b.WriteString(t.decoder[id])
	}
	return b.String(), nil
}

func (t *WordLevel) Specials() Specials {
	return Specials{
		PAD: t.encoder[padToken],
		UNK: t.encoder[unkToken],
		CLS: t.encoder[clsToken],
		SEP: t.encoder[sepToken],
	}
}

func (t *WordLevel) VocabSize() int {
	return len(t.decoder)
}

// splitWords lowercases and splits text into letter/digit runs and single
// punctuation tokens.
func splitWords(text string) []string {
	var (
		out []string
		buf strings.Builder
	)
	flush := func() {
		if buf.Len() > 0 {
			out = append(out, buf.String())
			buf.Reset()
		}
	}
	for _, r := range strings.ToLower(text) {
		switch {
		case unicode.IsLetter(r) || unicode.IsDigit(r):
			buf.WriteRune(r)
		case unicode.IsSpace(r):
			flush()
		default:
			flush()
			out = append(out, string(r))
		}
	}
	flush()
	return out
}
