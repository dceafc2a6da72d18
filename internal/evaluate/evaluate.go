// Package evaluate scores a model over a labelled dataset split and
// reports the task's standard metrics. The same runner serves both
// full-precision and quantised sessions so their reports are directly
// comparable.
package evaluate

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"github.com/kilnml/kiln/internal/dataset"
	"github.com/kilnml/kiln/internal/encode"
	"github.com/kilnml/kiln/internal/task"
)

var (
	ErrOutputMismatch = errors.New("evaluate: model output does not match the task")
	ErrNoExamples     = errors.New("evaluate: dataset split is empty")
)

// Session is anything that can score one encoded example. graph.Model
// satisfies it; tests substitute canned outputs.
type Session interface {
	Infer(ctx context.Context, in encode.Encoded) ([]float32, error)
}

// Report is the outcome of one evaluation run.
type Report struct {
	ID      string
	Task    string
	Samples int
	Metrics map[string]float64
}

// Run scores every example and computes the metric set the task
// prescribes. Classification tasks reduce model output by argmax;
// similarity and regression tasks read the first output column and
// never argmax, whatever the output width.
func Run(ctx context.Context, sess Session, enc *encode.Encoder, tk task.Task, examples []dataset.Example) (Report, error) {
	if len(examples) == 0 {
		return Report{}, ErrNoExamples
	}

	preds := make([]float64, 0, len(examples))
	labels := make([]float64, 0, len(examples))
	for i, ex := range examples {
		if err := ctx.Err(); err != nil {
			return Report{}, err
		}
		in, err := enc.Encode(ex, tk)
		if err != nil {
			return Report{}, fmt.Errorf("evaluate: example %d: %w", i, err)
		}
		out, err := sess.Infer(ctx, in)
		if err != nil {
			return Report{}, fmt.Errorf("evaluate: example %d: %w", i, err)
		}
		pred, err := reduce(out, tk)
		if err != nil {
			return Report{}, fmt.Errorf("example %d: %w", i, err)
		}
		preds = append(preds, pred)
		labels = append(labels, ex.Label)
	}

	return Report{
		ID:      uuid.NewString(),
		Task:    tk.Name,
		Samples: len(examples),
		Metrics: compute(tk.Metric, preds, labels),
	}, nil
}

func reduce(out []float32, tk task.Task) (float64, error) {
	if len(out) == 0 {
		return 0, fmt.Errorf("%w: empty output", ErrOutputMismatch)
	}
	if tk.Regression() {
		return float64(out[0]), nil
	}
	if len(out) != tk.NumLabels {
		return 0, fmt.Errorf("%w: %d outputs for %d labels", ErrOutputMismatch, len(out), tk.NumLabels)
	}
	best := 0
	for i := 1; i < len(out); i++ {
		if out[i] > out[best] {
			best = i
		}
	}
	return float64(best), nil
}

// compute returns the fixed metric set for the kind. The key set
// depends only on the task, never on the session being scored.
func compute(kind task.MetricKind, preds, labels []float64) map[string]float64 {
	switch kind {
	case task.MetricF1:
		return map[string]float64{
			"accuracy": accuracy(preds, labels),
			"f1":       f1Binary(preds, labels),
		}
	case task.MetricMatthews:
		return map[string]float64{
			"matthews_correlation": matthews(preds, labels),
		}
	case task.MetricPearsonSpearman:
		return map[string]float64{
			"pearson":   pearson(preds, labels),
			"spearmanr": spearman(preds, labels),
		}
	default:
		return map[string]float64{
			"accuracy": accuracy(preds, labels),
		}
	}
}
