package quantize

import (
	"encoding/binary"
	"fmt"
	"math"
	"os"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/kilnml/kiln/internal/graph"
	"github.com/kilnml/kiln/pkg/kcf"
)

// Artifact carries the metadata written alongside the tensors.
type Artifact struct {
	Task             string
	TokenizerKind    string
	TokenizerPayload []byte
}

// export writes the model to path as a KCF artifact. quantised names
// the tensors stored as int8; everything else stays float32. ranges,
// when non-empty, produce a calibration section. Returns the build id
// stamped into the model info.
func export(m *graph.Model, meta Artifact, approach string, quantised map[string]quantTensor, ranges map[string]graph.Range, path string) (string, error) {
	f, err := os.Create(path)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrExport, err)
	}
	defer f.Close()

	w, err := kcf.NewWriter(f)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrExport, err)
	}

	buildID := uuid.NewString()
	info := kcf.ModelInfo{
		BuildID:       buildID,
		CreatedAt:     time.Now().UTC().Format(time.RFC3339),
		Task:          meta.Task,
		VocabSize:     m.Cfg.VocabSize,
		HiddenSize:    m.Cfg.Hidden,
		FFNSize:       m.Cfg.FFN,
		Layers:        m.Cfg.Layers,
		MaxLength:     m.Cfg.MaxLen,
		NumLabels:     m.Cfg.Labels,
		Approach:      approach,
		TokenizerKind: meta.TokenizerKind,
	}
	infoData, err := kcf.EncodeModelInfoSection(info)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrExport, err)
	}
	if err := w.WriteSection(kcf.SectionModelInfo, kcf.ModelInfoVersion, infoData); err != nil {
		return "", fmt.Errorf("%w: %v", ErrExport, err)
	}

	records, data := packTensors(m, quantised)
	idxData, err := kcf.EncodeTensorIndexSection(records)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrExport, err)
	}
	if err := w.WriteSection(kcf.SectionTensorIndex, kcf.TensorIndexVersion, idxData); err != nil {
		return "", fmt.Errorf("%w: %v", ErrExport, err)
	}
	if err := w.WriteSection(kcf.SectionTensorData, 1, data); err != nil {
		return "", fmt.Errorf("%w: %v", ErrExport, err)
	}

	if len(quantised) > 0 {
		qrecs := make([]kcf.QuantRecord, 0, len(quantised))
		for name, qt := range quantised {
			qrecs = append(qrecs, kcf.QuantRecord{
				Name:   name,
				Scheme: qt.Scheme,
				Format: kcf.FormatInt8,
				Scales: qt.Scales,
			})
		}
		qData, err := kcf.EncodeQuantInfoSection(qrecs)
		if err != nil {
			return "", fmt.Errorf("%w: %v", ErrExport, err)
		}
		if err := w.WriteSection(kcf.SectionQuantInfo, kcf.QuantInfoVersion, qData); err != nil {
			return "", fmt.Errorf("%w: %v", ErrExport, err)
		}
	}

	if len(ranges) > 0 {
		cr := make(map[string]kcf.CalibRange, len(ranges))
		for node, r := range ranges {
			cr[node] = kcf.CalibRange{Node: node, Min: r.Min, Max: r.Max}
		}
		rData, err := kcf.EncodeCalibRangesSection(cr)
		if err != nil {
			return "", fmt.Errorf("%w: %v", ErrExport, err)
		}
		if err := w.WriteSection(kcf.SectionCalibRanges, kcf.CalibRangesVersion, rData); err != nil {
			return "", fmt.Errorf("%w: %v", ErrExport, err)
		}
	}

	if len(meta.TokenizerPayload) > 0 {
		if err := w.WriteSection(kcf.SectionTokenizer, 1, meta.TokenizerPayload); err != nil {
			return "", fmt.Errorf("%w: %v", ErrExport, err)
		}
	}

	if err := w.Finalise(); err != nil {
		return "", fmt.Errorf("%w: %v", ErrExport, err)
	}
	if err := f.Close(); err != nil {
		return "", fmt.Errorf("%w: %v", ErrExport, err)
	}
	return buildID, nil
}

// packTensors serialises every weight into one data blob and builds
// the matching index records. Tensors are packed in name order so the
// artifact layout is reproducible.
func packTensors(m *graph.Model, quantised map[string]quantTensor) ([]kcf.TensorRecord, []byte) {
	names := make([]string, 0, len(m.Weights))
	for name := range m.Weights {
		names = append(names, name)
	}
	sort.Strings(names)

	var data []byte
	records := make([]kcf.TensorRecord, 0, len(names))
	for _, name := range names {
		w := m.Weights[name]
		shape := []uint64{uint64(w.R), uint64(w.C)}
		if w.R == 1 {
			shape = []uint64{uint64(w.C)}
		}

		var payload []byte
		dtype := kcf.DTypeF32
		if qt, ok := quantised[name]; ok {
			dtype = kcf.DTypeI8
			payload = qt.Data
		} else {
			payload = make([]byte, len(w.Data)*4)
			for i, v := range w.Data {
				binary.LittleEndian.PutUint32(payload[i*4:], math.Float32bits(v))
			}
		}

		records = append(records, kcf.TensorRecord{
			Name:     name,
			DType:    dtype,
			Shape:    shape,
			DataOff:  uint64(len(data)),
			DataSize: uint64(len(payload)),
		})
		data = append(data, payload...)
	}
	return records, data
}
