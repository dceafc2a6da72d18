package quantize

import (
	"context"
	"sort"

	"github.com/kilnml/kiln/internal/dataset"
	"github.com/kilnml/kiln/internal/encode"
	"github.com/kilnml/kiln/internal/graph"
	"github.com/kilnml/kiln/internal/logger"
	"github.com/kilnml/kiln/internal/task"
)

// Driver runs the quantisation pipeline end to end: select nodes,
// calibrate when static, convert weights, export the artifact.
type Driver struct {
	Log logger.Logger
}

// Result summarises one completed run.
type Result struct {
	Path      string
	BuildID   string
	Approach  Approach
	Quantised []string
	Ranges    map[string]graph.Range
}

// Run quantises m and writes the artifact to outPath. Static runs
// consume calib through enc for the calibration pass; dynamic runs
// ignore it. The model itself is left untouched.
func (d *Driver) Run(ctx context.Context, m *graph.Model, enc *encode.Encoder, tk task.Task, cfg Config, meta Artifact, calib []dataset.Example, outPath string) (*Result, error) {
	log := d.Log
	if log == nil {
		log = logger.FromContext(ctx)
	}

	nodes := Eligible(m.Nodes(), cfg)
	log.Debug("selected quantisation set", "nodes", len(nodes), "approach", cfg.Approach.String())

	var ranges map[string]graph.Range
	if cfg.Approach == Static {
		samples := calib
		if cfg.CalibrationSamples > 0 && cfg.CalibrationSamples < len(samples) {
			samples = samples[:cfg.CalibrationSamples]
		}
		var err error
		ranges, err = Calibrate(ctx, m, enc, tk, samples, nodes)
		if err != nil {
			return nil, err
		}
		log.Info("calibration complete", "samples", len(samples), "ranges", len(ranges))
	}

	quantised := quantizeWeights(m, nodes, cfg.PerChannel)

	buildID, err := export(m, meta, cfg.Approach.String(), quantised, ranges, outPath)
	if err != nil {
		return nil, err
	}

	names := make([]string, 0, len(quantised))
	for name := range quantised {
		names = append(names, name)
	}
	sort.Strings(names)
	log.Info("artifact written", "path", outPath, "build_id", buildID, "tensors", len(names))

	return &Result{
		Path:      outPath,
		BuildID:   buildID,
		Approach:  cfg.Approach,
		Quantised: names,
		Ranges:    ranges,
	}, nil
}

// ExportFull writes m to outPath as a full-precision artifact with no
// quantisation metadata. Used to produce the baseline a quantised run
// is compared against.
func ExportFull(m *graph.Model, meta Artifact, outPath string) (string, error) {
	return export(m, meta, "none", nil, nil, outPath)
}
