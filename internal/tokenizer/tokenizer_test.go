package tokenizer

import (
	"testing"
)

func TestWordLevelEncodeDecode(t *testing.T) {
	t.Parallel()

	tok, err := NewWordLevel([]string{"a", "gripping", "movie", "!"})
	if err != nil {
		t.Fatalf("new: %v", err)
	}

	ids, err := tok.Encode("A gripping MOVIE!")
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	if len(ids) != 4 {
		t.Fatalf("token count: got %d want 4, ids=%v", len(ids), ids)
	}

	text, err := tok.Decode(ids)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if text != "a gripping movie !" {
		t.Fatalf("decode mismatch: %q", text)
	}
}

func TestWordLevelUnknownWordsMapToUnk(t *testing.T) {
	t.Parallel()

	tok, err := NewWordLevel([]string{"known"})
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	ids, err := tok.Encode("known mystery")
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	if len(ids) != 2 {
		t.Fatalf("token count: got %d", len(ids))
	}
	if ids[1] != tok.Specials().UNK {
		t.Fatalf("expected UNK for unknown word, got %d", ids[1])
	}
}

func TestWordLevelSpecialsAreDistinct(t *testing.T) {
	t.Parallel()

	tok, err := NewWordLevel([]string{"x"})
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	sp := tok.Specials()
	seen := map[int]bool{}
	for _, id := range []int{sp.PAD, sp.UNK, sp.CLS, sp.SEP} {
		if id < 0 || id >= tok.VocabSize() {
			t.Fatalf("special id %d out of range", id)
		}
		if seen[id] {
			t.Fatalf("duplicate special id %d", id)
		}
		seen[id] = true
	}
}

func TestWordLevelRejectsDuplicates(t *testing.T) {
	t.Parallel()

	if _, err := NewWordLevel([]string{"dup", "dup"}); err == nil {
		t.Fatal("expected duplicate vocab error")
	}
}

func TestWordLevelPayloadRoundTrip(t *testing.T) {
	t.Parallel()

	tok, err := NewWordLevel([]string{"alpha", "beta"})
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	payload, err := tok.Payload()
	if err != nil {
		t.Fatalf("payload: %v", err)
	}
	got, err := FromPayload(KindWordLevel, payload)
	if err != nil {
		t.Fatalf("from payload: %v", err)
	}
	if got.VocabSize() != tok.VocabSize() {
		t.Fatalf("vocab size mismatch: got %d want %d", got.VocabSize(), tok.VocabSize())
	}
	a, _ := tok.Encode("alpha beta")
	b, _ := got.Encode("alpha beta")
	if len(a) != len(b) {
		t.Fatalf("encoding length mismatch")
	}
	for i := range a {
		if a[i] != b[i] {
			t.Fatalf("encoding mismatch at %d: %d vs %d", i, a[i], b[i])
		}
	}
}

func TestFromPayloadUnknownKind(t *testing.T) {
	t.Parallel()

	if _, err := FromPayload("sentencepiece", nil); err == nil {
		t.Fatal("expected error for unknown kind")
	}
}

const miniTokenizerJSON = `{
  "model": {
    "type": "BPE",
    "vocab": {
      "h": 0, "e": 1, "l": 2, "o": 3, "he": 4, "ll": 5, "hell": 6, "hello": 7,
      "Ġ": 8, "Ġhello": 9
    },
    "merges": ["h e", "l l", "he ll", "hell o", "Ġ hello"],
    "unk_token": "h"
  },
  "added_tokens": [
    {"id": 10, "content": "[CLS]", "special": true},
    {"id": 11, "content": "[SEP]", "special": true},
    {"id": 12, "content": "[PAD]", "special": true}
  ]
}`

func TestHFBPEEncode(t *testing.T) {
	t.Parallel()

	tok, err := LoadHFBPE([]byte(miniTokenizerJSON))
	if err != nil {
		t.Fatalf("load: %v", err)
	}

	ids, err := tok.Encode("hello")
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	if len(ids) != 1 || ids[0] != 7 {
		t.Fatalf("expected merged token 7, got %v", ids)
	}

	text, err := tok.Decode(ids)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if text != "hello" {
		t.Fatalf("decode mismatch: %q", text)
	}
}

func TestHFBPESpecialTokens(t *testing.T) {
	t.Parallel()

	tok, err := LoadHFBPE([]byte(miniTokenizerJSON))
	if err != nil {
		t.Fatalf("load: %v", err)
	}

	sp := tok.Specials()
	if sp.CLS != 10 || sp.SEP != 11 || sp.PAD != 12 {
		t.Fatalf("specials mismatch: %+v", sp)
	}

	ids, err := tok.Encode("[CLS]hello[SEP]")
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	if len(ids) != 3 || ids[0] != 10 || ids[2] != 11 {
		t.Fatalf("special-aware encoding mismatch: %v", ids)
	}
}

func TestHFBPERejectsNonBPE(t *testing.T) {
	t.Parallel()

	if _, err := LoadHFBPE([]byte(`{"model": {"type": "WordPiece"}}`)); err == nil {
		t.Fatal("expected error for non-BPE model")
	}
}

func TestHFBPERejectsBadSplitPattern(t *testing.T) {
	t.Parallel()

	const payload = `{
  "model": {"type": "BPE", "vocab": {"h": 0}, "merges": []},
  "pre_tokenizer": {
    "type": "Sequence",
    "pretokenizers": [
      {"type": "Split", "pattern": {"Regex": "[unclosed"}}
    ]
  }
}`
	if _, err := LoadHFBPE([]byte(payload)); err == nil {
		t.Fatal("expected error for an invalid split pattern")
	}
}

func TestEncodeIdempotent(t *testing.T) {
	t.Parallel()

	tok, err := NewWordLevel([]string{"same", "thing", "twice"})
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	a, _ := tok.Encode("same thing twice")
	b, _ := tok.Encode("same thing twice")
	if len(a) != len(b) {
		t.Fatal("length mismatch")
	}
	for i := range a {
		if a[i] != b[i] {
			t.Fatalf("mismatch at %d", i)
		}
	}
}
