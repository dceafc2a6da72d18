package tokenizer

import (
	"fmt"
	"regexp"
	"strings"

	json "github.com/goccy/go-json"
)

// HFBPE is a byte-level BPE tokenizer loaded from a HuggingFace
// tokenizer.json payload.
type HFBPE struct {
	encoder     map[string]int
	decoder     []string
	bpeRanks    map[Pair]int
	cache       map[string][]string
	byteEncoder map[byte]string
	byteDecoder map[string]byte
	pattern     *regexp.Regexp
	specials    []string // longest-match first
	specialSet  map[string]struct{}
	unkID       int
}

type hfTokenizerJSON struct {
	Model struct {
		Type     string         `json:"type"`
		Vocab    map[string]int `json:"vocab"`
		Merges   []any          `json:"merges"`
		UnkToken string         `json:"unk_token"`
	} `json:"model"`
	PreTokenizer struct {
		Type          string `json:"type"`
		Pretokenizers []struct {
			Type    string `json:"type"`
			Pattern struct {
				Regex string `json:"Regex"`
			} `json:"pattern"`
		} `json:"pretokenizers"`
	} `json:"pre_tokenizer"`
	AddedTokens []struct {
		ID      int    `json:"id"`
		Content string `json:"content"`
		Special bool   `json:"special"`
	} `json:"added_tokens"`
}

// LoadHFBPE parses a tokenizer.json payload. Only BPE models are supported.
func LoadHFBPE(payload []byte) (*HFBPE, error) {
	var tj hfTokenizerJSON
	if err := json.Unmarshal(payload, &tj); err != nil {
		return nil, fmt.Errorf("tokenizer: parse tokenizer.json: %w", err)
	}
	if strings.ToUpper(tj.Model.Type) != "BPE" {
		return nil, fmt.Errorf("tokenizer: unsupported tokenizer model: %s", tj.Model.Type)
	}

	encoder := make(map[string]int, len(tj.Model.Vocab))
	maxID := -1
	for tok, id := range tj.Model.Vocab {
		encoder[tok] = id
		if id > maxID {
			maxID = id
		}
	}
	for _, at := range tj.AddedTokens {
		if at.ID > maxID {
			maxID = at.ID
		}
	}
	decoder := make([]string, maxID+1)
	for tok, id := range tj.Model.Vocab {
		decoder[id] = tok
	}

	var specials []string
	for _, at := range tj.AddedTokens {
		decoder[at.ID] = at.Content
		if _, ok := encoder[at.Content]; !ok {
			encoder[at.Content] = at.ID
		}
		if at.Special {
			specials = append(specials, at.Content)
		}
	}
	specials = sortLongestFirst(specials)
	specialSet := make(map[string]struct{}, len(specials))
	for _, sp := range specials {
		specialSet[sp] = struct{}{}
	}

	bpeRanks := make(map[Pair]int, len(tj.Model.Merges))
	rank := 0
	for _, raw := range tj.Model.Merges {
		line := ""
		switch v := raw.(type) {
		case string:
			line = v
		case []any:
			if len(v) == 2 {
				a, aok := v[0].(string)
				b, bok := v[1].(string)
				if aok && bok {
					line = a + " " + b
				}
			}
		}
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		parts := strings.Split(line, " ")
		if len(parts) != 2 {
			continue
		}
		p := Pair{A: parts[0], B: parts[1]}
		if _, ok := bpeRanks[p]; !ok {
			bpeRanks[p] = rank
			rank++
		}
	}

	unkID := -1
	if tj.Model.UnkToken != "" {
		if id, ok := encoder[tj.Model.UnkToken]; ok {
			unkID = id
		}
	}

	byteEncoder, byteDecoder := bytesToUnicode()

	pattern, err := buildPattern(tj.PreTokenizer)
	if err != nil {
		return nil, err
	}

	return &HFBPE{
		encoder:     encoder,
		decoder:     decoder,
		bpeRanks:    bpeRanks,
		cache:       make(map[string][]string),
		byteEncoder: byteEncoder,
		byteDecoder: byteDecoder,
		pattern:     pattern,
		specials:    specials,
		specialSet:  specialSet,
		unkID:       unkID,
	}, nil
}

func (t *HFBPE) Encode(text string) ([]int, error) {
	var ids []int
	for _, part := range splitSpecials(text, t.specials) {
		if part.isSpecial {
			id, ok := t.encoder[part.text]
			if !ok {
				return nil, fmt.Errorf("tokenizer: unknown special token: %q", part.text)
			}
			ids = append(ids, id)
			continue
		}
		for _, token := range t.pattern.FindAllString(part.text, -1) {
			encoded := t.byteEncode(token)
			for _, bpeTok := range t.bpe(encoded) {
				id, ok := t.encoder[bpeTok]
				if !ok {
					if t.unkID >= 0 {
						ids = append(ids, t.unkID)
						continue
					}
					return nil, fmt.Errorf("tokenizer: unknown token: %q", bpeTok)
				}
				ids = append(ids, id)
			}
		}
	}
	return ids, nil
}

func (t *HFBPE) Decode(ids []int) (string, error) {
	var b []byte
	for _, id := range ids {
		if id < 0 || id >= len(t.decoder) {
			return "", fmt.Errorf("tokenizer: token id out of range: %d", id)
		}
		token := t.decoder[id]
		if _, ok := t.specialSet[token]; ok {
			b = append(b, token...)
			continue
		}
		for _, r := range token {
			if by, ok := t.byteDecoder[string(r)]; ok {
				b = append(b, by)
			} else {
				b = append(b, string(r)...)
			}
		}
	}
	return string(b), nil
}

// Specials resolves classifier control tokens from common spellings.
// Missing tokens are reported as -1; the preprocessor rejects such
// tokenizers.
func (t *HFBPE) Specials() Specials {
	find := func(names ...string) int {
		for _, name := range names {
			if id, ok := t.encoder[name]; ok {
				return id
			}
		}
		return -1
	}
	return Specials{
		CLS: find("[CLS]", "<s>"),
		SEP: find("[SEP]", "</s>"),
		PAD: find("[PAD]", "<pad>"),
		UNK: t.unkID,
	}
}

func (t *HFBPE) VocabSize() int {
	return len(t.decoder)
}

func (t *HFBPE) byteEncode(s string) string {
	var b strings.Builder
	for _, by := range []byte(s) {
		b.WriteString(t.byteEncoder[by])
	}
	return b.String()
}

func (t *HFBPE) bpe(token string) []string {
	if v, ok := t.cache[token]; ok {
		return v
	}
	word := splitRunes(token)
	pairs := getPairs(word)
	for len(pairs) > 0 {
		bestRank := int(^uint(0) >> 1)
		bestPair := Pair{}
		found := false
		for p := range pairs {
			if rank, ok := t.bpeRanks[p]; ok && rank < bestRank {
				bestRank = rank
				bestPair = p
				found = true
			}
		}
		if !found {
			break
		}
		word = mergePair(word, bestPair)
		if len(word) == 1 {
			break
		}
		pairs = getPairs(word)
	}
	t.cache[token] = word
	return word
}

func buildPattern(pre struct {
	Type          string `json:"type"`
	Pretokenizers []struct {
		Type    string `json:"type"`
		Pattern struct {
			Regex string `json:"Regex"`
		} `json:"pattern"`
	} `json:"pretokenizers"`
}) (*regexp.Regexp, error) {
	// Default to the GPT2-ish split regex.
	pat := `'s|'t|'re|'ve|'m|'ll|'d| ?\p{L}+| ?\p{N}+| ?[^\s\p{L}\p{N}]+|\s+`
	if pre.Type == "Sequence" {
		for _, p := range pre.Pretokenizers {
			if p.Type == "Split" && p.Pattern.Regex != "" {
				pat = p.Pattern.Regex
				break
			}
		}
	}
	// Llama3-style regexes use lookahead that Go's regexp cannot express.
	// Substitute the llama.cpp variant.
	if strings.Contains(pat, "(?!\\S)") || strings.Contains(pat, "(?i:") {
		pat = `(?:'[sS]|'[tT]|'[rR][eE]|'[vV][eE]|'[mM]|'[lL][lL]|'[dD])|[^\r\n\p{L}\p{N}]?\p{L}+|\p{N}{1,3}| ?[^\s\p{L}\p{N}]+[\r\n]*|\s*[\r\n]+|\s+`
	}
	re, err := regexp.Compile(pat)
	if err != nil {
		return nil, fmt.Errorf("tokenizer: pre-tokenizer pattern: %w", err)
	}
	return re, nil
}
