package kcf

import (
	"fmt"

	json "github.com/goccy/go-json"
)

// ModelInfoVersion is the on-disk version of the model info section payload.
const ModelInfoVersion uint32 = 1

// ModelInfo describes the classifier stored in an artifact. It is encoded
// as JSON inside the ModelInfo section; the format is small enough that a
// binary KV table buys nothing here.
type ModelInfo struct {
	BuildID   string `json:"build_id"`
	CreatedAt string `json:"created_at"` // RFC 3339
	Task      string `json:"task"`

	VocabSize  int `json:"vocab_size"`
	HiddenSize int `json:"hidden_size"`
	FFNSize    int `json:"ffn_size"`
	Layers     int `json:"layers"`
	MaxLength  int `json:"max_length"`
	NumLabels  int `json:"num_labels"`

	// Approach is "none" for full-precision artifacts, else "static" or "dynamic".
	Approach string `json:"approach"`

	// TokenizerKind names the embedded tokenizer payload format
	// ("wordlevel" or "hf-bpe"); empty when no tokenizer section is present.
	TokenizerKind string `json:"tokenizer_kind,omitempty"`
}

// EncodeModelInfoSection serialises the model info payload.
func EncodeModelInfoSection(mi ModelInfo) ([]byte, error) {
	data, err := json.Marshal(mi)
	if err != nil {
		return nil, fmt.Errorf("kcf: encode model info: %w", err)
	}
	return data, nil
}

// ParseModelInfoSection decodes a model info section payload.
func ParseModelInfoSection(sec []byte) (ModelInfo, error) {
	var mi ModelInfo
	if err := json.Unmarshal(sec, &mi); err != nil {
		return ModelInfo{}, fmt.Errorf("%w: model info: %v", ErrCorruptFile, err)
	}
	if mi.VocabSize <= 0 || mi.HiddenSize <= 0 || mi.Layers <= 0 || mi.MaxLength <= 0 || mi.NumLabels <= 0 {
		return ModelInfo{}, fmt.Errorf("%w: model info has non-positive dimensions", ErrCorruptFile)
	}
	return mi, nil
}
