package kcf

import (
	"testing"
)

func TestTensorIndexRoundTrip(t *testing.T) {
	t.Parallel()

	records := []TensorRecord{
		{Name: "enc.0.ffn.expand.weight", DType: DTypeF32, Shape: []uint64{128, 64}, DataOff: 0, DataSize: 128 * 64 * 4},
		{Name: "embed.tokens.weight", DType: DTypeI8, Shape: []uint64{1000, 64}, DataOff: 32768, DataSize: 64000},
		{Name: "classifier.weight", DType: DTypeF32, Shape: []uint64{2, 64}, DataOff: 96768, DataSize: 512},
	}

	sec, err := EncodeTensorIndexSection(records)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	ti, err := ParseTensorIndexSection(sec)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if ti.Count() != len(records) {
		t.Fatalf("count mismatch: got %d want %d", ti.Count(), len(records))
	}

	for _, r := range records {
		i, ok := ti.Find(r.Name)
		if !ok {
			t.Fatalf("tensor %q not found", r.Name)
		}
		name, err := ti.Name(i)
		if err != nil || name != r.Name {
			t.Fatalf("name mismatch: got %q err %v", name, err)
		}
		e, err := ti.Entry(i)
		if err != nil {
			t.Fatalf("entry: %v", err)
		}
		if e.DType != r.DType || e.DataOff != r.DataOff || e.DataSize != r.DataSize {
			t.Fatalf("entry mismatch for %q: %+v", r.Name, e)
		}
		shape, err := ti.Shape(i)
		if err != nil {
			t.Fatalf("shape: %v", err)
		}
		if len(shape) != len(r.Shape) {
			t.Fatalf("rank mismatch for %q", r.Name)
		}
		for d := range shape {
			if shape[d] != r.Shape[d] {
				t.Fatalf("dim %d mismatch for %q: got %d want %d", d, r.Name, shape[d], r.Shape[d])
			}
		}
	}

	if _, ok := ti.Find("missing.weight"); ok {
		t.Fatalf("found tensor that was never written")
	}
}

func TestTensorIndexRejectsEmpty(t *testing.T) {
	t.Parallel()

	if _, err := EncodeTensorIndexSection(nil); err == nil {
		t.Fatalf("expected error for empty record list")
	}
}

func TestTensorIndexRejectsTruncatedSection(t *testing.T) {
	t.Parallel()

	sec, err := EncodeTensorIndexSection([]TensorRecord{
		{Name: "w", DType: DTypeF32, Shape: []uint64{4}, DataSize: 16},
	})
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	if _, err := ParseTensorIndexSection(sec[:len(sec)-1]); err == nil {
		t.Fatalf("expected parse failure on truncated section")
	}
}

func TestTensorDataView(t *testing.T) {
	t.Parallel()

	sec, err := EncodeTensorIndexSection([]TensorRecord{
		{Name: "a", DType: DTypeI8, Shape: []uint64{4}, DataOff: 0, DataSize: 4},
		{Name: "b", DType: DTypeI8, Shape: []uint64{4}, DataOff: 4, DataSize: 4},
	})
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	ti, err := ParseTensorIndexSection(sec)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}

	data := []byte{0, 1, 2, 3, 4, 5, 6, 7}
	i, ok := ti.Find("b")
	if !ok {
		t.Fatalf("tensor b not found")
	}
	view, err := ti.TensorData(data, i)
	if err != nil {
		t.Fatalf("tensor data: %v", err)
	}
	if len(view) != 4 || view[0] != 4 {
		t.Fatalf("wrong view: %v", view)
	}

	if _, err := ti.TensorData(data[:6], i); err == nil {
		t.Fatalf("expected out-of-bounds error")
	}
}

func TestQuantInfoRoundTrip(t *testing.T) {
	t.Parallel()

	records := []QuantRecord{
		{Name: "embed.tokens.weight", Scheme: SchemePerTensor, Format: FormatInt8, Scales: []float32{0.021}},
		{Name: "enc.0.attn.query.weight", Scheme: SchemePerChannel, Format: FormatInt8, Scales: []float32{0.5, 0.25, 0.125}},
	}
	sec, err := EncodeQuantInfoSection(records)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	qi, err := ParseQuantInfoSection(sec)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	got, err := qi.Records()
	if err != nil {
		t.Fatalf("records: %v", err)
	}
	if len(got) != len(records) {
		t.Fatalf("record count mismatch: got %d want %d", len(got), len(records))
	}
	for _, want := range records {
		r, ok := got[want.Name]
		if !ok {
			t.Fatalf("missing record %q", want.Name)
		}
		if r.Scheme != want.Scheme || r.Format != want.Format {
			t.Fatalf("record mismatch for %q: %+v", want.Name, r)
		}
		if len(r.Scales) != len(want.Scales) {
			t.Fatalf("scale count mismatch for %q", want.Name)
		}
		for i := range r.Scales {
			if r.Scales[i] != want.Scales[i] {
				t.Fatalf("scale %d mismatch for %q: got %v want %v", i, want.Name, r.Scales[i], want.Scales[i])
			}
		}
	}
}

func TestQuantInfoRejectsBadRecords(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name string
		rec  QuantRecord
	}{
		{"empty name", QuantRecord{Scheme: SchemePerTensor, Format: FormatInt8, Scales: []float32{1}}},
		{"no scales", QuantRecord{Name: "w", Scheme: SchemePerTensor, Format: FormatInt8}},
		{"bad scheme", QuantRecord{Name: "w", Scheme: 9, Format: FormatInt8, Scales: []float32{1}}},
		{"bad format", QuantRecord{Name: "w", Scheme: SchemePerTensor, Format: 9, Scales: []float32{1}}},
	}
	for _, tc := range cases {
		if _, err := EncodeQuantInfoSection([]QuantRecord{tc.rec}); err == nil {
			t.Fatalf("%s: expected encode error", tc.name)
		}
	}
}

func TestCalibRangesRoundTrip(t *testing.T) {
	t.Parallel()

	in := map[string]CalibRange{
		"embed.tokens":     {Node: "embed.tokens", Min: -3.5, Max: 2.25},
		"enc.0.attn.query": {Node: "enc.0.attn.query", Min: -1, Max: 1},
	}
	sec, err := EncodeCalibRangesSection(in)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	out, err := ParseCalibRangesSection(sec)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if len(out) != len(in) {
		t.Fatalf("count mismatch: got %d want %d", len(out), len(in))
	}
	for name, want := range in {
		got, ok := out[name]
		if !ok {
			t.Fatalf("missing range for %q", name)
		}
		if got.Min != want.Min || got.Max != want.Max {
			t.Fatalf("range mismatch for %q: got %+v want %+v", name, got, want)
		}
	}
}

func TestModelInfoRoundTrip(t *testing.T) {
	t.Parallel()

	mi := ModelInfo{
		BuildID:       "0b8482ab-0000-0000-0000-000000000000",
		CreatedAt:     "2026-01-02T03:04:05Z",
		Task:          "sst2",
		VocabSize:     1000,
		HiddenSize:    64,
		FFNSize:       128,
		Layers:        2,
		MaxLength:     128,
		NumLabels:     2,
		Approach:      "static",
		TokenizerKind: "wordlevel",
	}
	sec, err := EncodeModelInfoSection(mi)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	got, err := ParseModelInfoSection(sec)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if got != mi {
		t.Fatalf("model info mismatch: got %+v want %+v", got, mi)
	}

	if _, err := ParseModelInfoSection([]byte(`{"task":"sst2"}`)); err == nil {
		t.Fatalf("expected rejection of zero-dimension model info")
	}
}
