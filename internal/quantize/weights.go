package quantize

import (
	"math"

	"github.com/kilnml/kiln/internal/graph"
	"github.com/kilnml/kiln/pkg/kcf"
)

// quantTensor is one weight converted to int8 plus the scales needed
// to reconstruct it.
type quantTensor struct {
	Scheme kcf.QuantScheme
	Scales []float32
	Data   []byte
}

// quantizeWeights converts every weighted node in the quantisation set
// to int8, returning the converted tensors keyed by tensor name.
// perChannel uses one scale per output row; vectors always collapse to
// a single scale.
func quantizeWeights(m *graph.Model, nodes []graph.Node, perChannel bool) map[string]quantTensor {
	out := make(map[string]quantTensor)
	for _, n := range nodes {
		if !n.HasWeight {
			continue
		}
		name := n.Name + ".weight"
		w, ok := m.Weights[name]
		if !ok {
			continue
		}
		if perChannel && w.R > 1 {
			out[name] = quantizePerChannel(w)
		} else {
			out[name] = quantizePerTensor(w)
		}
	}
	return out
}

func quantizePerTensor(w *graph.Mat) quantTensor {
	scale := rowScale(w.Data)
	data := make([]byte, len(w.Data))
	quantizeRow(data, w.Data, scale)
	return quantTensor{
		Scheme: kcf.SchemePerTensor,
		Scales: []float32{scale},
		Data:   data,
	}
}

func quantizePerChannel(w *graph.Mat) quantTensor {
	scales := make([]float32, w.R)
	data := make([]byte, w.R*w.C)
	for i := 0; i < w.R; i++ {
		row := w.Row(i)
		scales[i] = rowScale(row)
		quantizeRow(data[i*w.C:(i+1)*w.C], row, scales[i])
	}
	return quantTensor{
		Scheme: kcf.SchemePerChannel,
		Scales: scales,
		Data:   data,
	}
}

// rowScale returns the symmetric int8 step for the values. A zero
// tensor keeps a unit scale so dequantisation stays exact.
func rowScale(vals []float32) float32 {
	var bound float32
	for _, v := range vals {
		a := v
		if a < 0 {
			a = -a
		}
		if a > bound {
			bound = a
		}
	}
	if bound == 0 {
		return 1
	}
	return bound / 127
}

func quantizeRow(dst []byte, src []float32, scale float32) {
	for i, v := range src {
		q := math.RoundToEven(float64(v / scale))
		if q > 127 {
			q = 127
		} else if q < -127 {
			q = -127
		}
		dst[i] = byte(int8(q))
	}
}
