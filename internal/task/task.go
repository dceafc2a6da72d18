// Package task defines the closed set of text-classification tasks the
// pipeline understands: which dataset fields feed the model and which
// metric judges it.
package task

import (
	"errors"
	"fmt"
)

// MetricKind selects the evaluation metric family for a task.
type MetricKind uint8

const (
	MetricAccuracy MetricKind = iota
	MetricF1
	MetricMatthews
	MetricPearsonSpearman
)

func (mk MetricKind) String() string {
	switch mk {
	case MetricAccuracy:
		return "accuracy"
	case MetricF1:
		return "f1"
	case MetricMatthews:
		return "matthews_corr"
	case MetricPearsonSpearman:
		return "pearson_spearman"
	default:
		return "unknown"
	}
}

// Task describes one entry of the registry. SecondaryField is empty for
// single-sentence tasks. NumLabels is 1 for the regression-style task.
type Task struct {
	Name           string
	PrimaryField   string
	SecondaryField string
	Metric         MetricKind
	NumLabels      int
}

// Regression reports whether the task produces a scalar similarity score
// rather than class logits.
func (t Task) Regression() bool {
	return t.Metric == MetricPearsonSpearman
}

var ErrUnknownTask = errors.New("task: unknown task")

// Lookup resolves a task name. The set is closed; unknown names fail with
// an error wrapping ErrUnknownTask.
func Lookup(name string) (Task, error) {
	switch name {
	case "cola":
		return Task{Name: "cola", PrimaryField: "sentence", Metric: MetricMatthews, NumLabels: 2}, nil
	case "sst2":
		return Task{Name: "sst2", PrimaryField: "sentence", Metric: MetricAccuracy, NumLabels: 2}, nil
	case "mrpc":
		return Task{Name: "mrpc", PrimaryField: "sentence1", SecondaryField: "sentence2", Metric: MetricF1, NumLabels: 2}, nil
	case "stsb":
		return Task{Name: "stsb", PrimaryField: "sentence1", SecondaryField: "sentence2", Metric: MetricPearsonSpearman, NumLabels: 1}, nil
	case "qqp":
		return Task{Name: "qqp", PrimaryField: "question1", SecondaryField: "question2", Metric: MetricF1, NumLabels: 2}, nil
	case "mnli":
		return Task{Name: "mnli", PrimaryField: "premise", SecondaryField: "hypothesis", Metric: MetricAccuracy, NumLabels: 3}, nil
	case "qnli":
		return Task{Name: "qnli", PrimaryField: "question", SecondaryField: "sentence", Metric: MetricAccuracy, NumLabels: 2}, nil
	case "rte":
		return Task{Name: "rte", PrimaryField: "sentence1", SecondaryField: "sentence2", Metric: MetricAccuracy, NumLabels: 2}, nil
	case "wnli":
		return Task{Name: "wnli", PrimaryField: "sentence1", SecondaryField: "sentence2", Metric: MetricAccuracy, NumLabels: 2}, nil
	default:
		return Task{}, fmt.Errorf("%w: %q", ErrUnknownTask, name)
	}
}

// Names returns the registry's task names in stable order.
func Names() []string {
	return []string{"cola", "sst2", "mrpc", "stsb", "qqp", "mnli", "qnli", "rte", "wnli"}
}
