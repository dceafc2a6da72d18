package quantize

import (
	"context"
	"fmt"

	"github.com/kilnml/kiln/internal/dataset"
	"github.com/kilnml/kiln/internal/encode"
	"github.com/kilnml/kiln/internal/graph"
	"github.com/kilnml/kiln/internal/task"
)

// Calibrate runs one forward pass per example and records the min and
// max activation seen at every node in the quantisation set. The model
// must be full precision; calibrating an already-ranged model would
// fold the quantisation error into the observed intervals.
func Calibrate(ctx context.Context, m *graph.Model, enc *encode.Encoder, tk task.Task, examples []dataset.Example, nodes []graph.Node) (map[string]graph.Range, error) {
	if len(examples) == 0 {
		return nil, ErrEmptyCalibration
	}

	watched := make(map[string]bool, len(nodes))
	for _, n := range nodes {
		watched[n.Name] = true
	}

	ranges := make(map[string]graph.Range, len(nodes))
	observe := func(node string, out []float32) {
		if !watched[node] {
			return
		}
		r, ok := ranges[node]
		if !ok {
			r = graph.EmptyRange()
		}
		ranges[node] = r.ObserveAll(out)
	}

	for i, ex := range examples {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		in, err := enc.Encode(ex, tk)
		if err != nil {
			return nil, fmt.Errorf("quantize: calibration example %d: %w", i, err)
		}
		if _, err := m.Forward(in, observe); err != nil {
			return nil, fmt.Errorf("quantize: calibration example %d: %w", i, err)
		}
	}

	for node, r := range ranges {
		if r.Empty() {
			delete(ranges, node)
		}
	}
	return ranges, nil
}
