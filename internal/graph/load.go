package graph

import (
	"encoding/binary"
	"errors"
	"fmt"
	"math"

	"github.com/kilnml/kiln/internal/tokenizer"
	"github.com/kilnml/kiln/pkg/kcf"
)

var ErrMissingSection = errors.New("graph: artifact is missing a required section")

// Loaded bundles everything read back from an artifact. TokPayload is
// the raw tokenizer blob so it can be re-embedded when the model is
// written out again.
type Loaded struct {
	Model      *Model
	Info       kcf.ModelInfo
	Tok        tokenizer.Tokenizer
	TokPayload []byte
}

// Load opens an artifact, reconstructs the model in float32 (dequantising
// int8 tensors through their stored scales), and rebuilds the embedded
// tokenizer. Calibrated ranges, when present, are attached to the model so
// inference reproduces the quantised activation grid.
func Load(path string) (*Loaded, error) {
	f, err := kcf.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return read(f)
}

func read(f *kcf.File) (*Loaded, error) {
	infoSec := f.Section(kcf.SectionModelInfo)
	if infoSec == nil {
		return nil, fmt.Errorf("%w: model info", ErrMissingSection)
	}
	info, err := kcf.ParseModelInfoSection(f.SectionData(infoSec))
	if err != nil {
		return nil, err
	}

	cfg := Config{
		VocabSize: info.VocabSize,
		Hidden:    info.HiddenSize,
		FFN:       info.FFNSize,
		Layers:    info.Layers,
		MaxLen:    info.MaxLength,
		Labels:    info.NumLabels,
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}

	idxSec := f.Section(kcf.SectionTensorIndex)
	dataSec := f.Section(kcf.SectionTensorData)
	if idxSec == nil || dataSec == nil {
		return nil, fmt.Errorf("%w: tensor index or data", ErrMissingSection)
	}
	idx, err := kcf.ParseTensorIndexSection(f.SectionData(idxSec))
	if err != nil {
		return nil, err
	}

	var quant map[string]kcf.QuantRecord
	if qSec := f.Section(kcf.SectionQuantInfo); qSec != nil {
		qi, err := kcf.ParseQuantInfoSection(f.SectionData(qSec))
		if err != nil {
			return nil, err
		}
		quant, err = qi.Records()
		if err != nil {
			return nil, err
		}
	}

	m := &Model{Cfg: cfg, Weights: make(map[string]*Mat, idx.Count())}
	raw := f.SectionData(dataSec)
	for i := 0; i < idx.Count(); i++ {
		name, err := idx.Name(i)
		if err != nil {
			return nil, err
		}
		entry, err := idx.Entry(i)
		if err != nil {
			return nil, err
		}
		shape, err := idx.Shape(i)
		if err != nil {
			return nil, err
		}
		r, c, err := matShape(shape)
		if err != nil {
			return nil, fmt.Errorf("graph: tensor %s: %w", name, err)
		}
		payload, err := idx.TensorData(raw, i)
		if err != nil {
			return nil, err
		}
		w, err := decodeTensor(name, entry.DType, r, c, payload, quant)
		if err != nil {
			return nil, err
		}
		m.Weights[name] = w
	}

	if rSec := f.Section(kcf.SectionCalibRanges); rSec != nil {
		cr, err := kcf.ParseCalibRangesSection(f.SectionData(rSec))
		if err != nil {
			return nil, err
		}
		m.Ranges = make(map[string]Range, len(cr))
		for node, r := range cr {
			m.Ranges[node] = Range{Min: r.Min, Max: r.Max}
		}
	}

	out := &Loaded{Model: m, Info: info}
	if info.TokenizerKind != "" {
		tSec := f.Section(kcf.SectionTokenizer)
		if tSec == nil {
			return nil, fmt.Errorf("%w: tokenizer", ErrMissingSection)
		}
		// SectionData views the mmap; copy so the tokenizer survives Close.
		payload := append([]byte(nil), f.SectionData(tSec)...)
		tok, err := tokenizer.FromPayload(info.TokenizerKind, payload)
		if err != nil {
			return nil, err
		}
		out.Tok = tok
		out.TokPayload = payload
	}
	return out, nil
}

func matShape(shape []uint64) (int, int, error) {
	switch len(shape) {
	case 1:
		return 1, int(shape[0]), nil
	case 2:
		return int(shape[0]), int(shape[1]), nil
	default:
		return 0, 0, fmt.Errorf("unsupported rank %d", len(shape))
	}
}

func decodeTensor(name string, dt kcf.DType, r, c int, payload []byte, quant map[string]kcf.QuantRecord) (*Mat, error) {
	n := r * c
	switch dt {
	case kcf.DTypeF32:
		if len(payload) != n*4 {
			return nil, fmt.Errorf("%w: tensor %s size", kcf.ErrCorruptFile, name)
		}
		data := make([]float32, n)
		for i := range data {
			data[i] = math.Float32frombits(binary.LittleEndian.Uint32(payload[i*4:]))
		}
		w := NewMatFromData(r, c, data)
		return &w, nil

	case kcf.DTypeI8:
		if len(payload) != n {
			return nil, fmt.Errorf("%w: tensor %s size", kcf.ErrCorruptFile, name)
		}
		rec, ok := quant[name]
		if !ok {
			return nil, fmt.Errorf("%w: int8 tensor %s has no quant record", kcf.ErrCorruptFile, name)
		}
		data := make([]float32, n)
		switch rec.Scheme {
		case kcf.SchemePerTensor:
			if len(rec.Scales) != 1 {
				return nil, fmt.Errorf("%w: tensor %s scale count", kcf.ErrCorruptFile, name)
			}
			s := rec.Scales[0]
			for i := range data {
				data[i] = float32(int8(payload[i])) * s
			}
		case kcf.SchemePerChannel:
			if len(rec.Scales) != r {
				return nil, fmt.Errorf("%w: tensor %s has %d scales for %d rows", kcf.ErrCorruptFile, name, len(rec.Scales), r)
			}
			for i := 0; i < r; i++ {
				s := rec.Scales[i]
				for j := 0; j < c; j++ {
					data[i*c+j] = float32(int8(payload[i*c+j])) * s
				}
			}
		default:
			return nil, fmt.Errorf("%w: tensor %s quant scheme %d", kcf.ErrCorruptFile, name, rec.Scheme)
		}
		w := NewMatFromData(r, c, data)
		return &w, nil

	default:
		return nil, fmt.Errorf("%w: tensor %s dtype %d", kcf.ErrCorruptFile, name, dt)
	}
}
