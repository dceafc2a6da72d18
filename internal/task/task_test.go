package task

import (
	"errors"
	"testing"
)

func TestLookupFieldPairs(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name      string
		primary   string
		secondary string
		metric    MetricKind
		labels    int
	}{
		{"sst2", "sentence", "", MetricAccuracy, 2},
		{"mrpc", "sentence1", "sentence2", MetricF1, 2},
		{"cola", "sentence", "", MetricMatthews, 2},
		{"stsb", "sentence1", "sentence2", MetricPearsonSpearman, 1},
		{"mnli", "premise", "hypothesis", MetricAccuracy, 3},
		{"qnli", "question", "sentence", MetricAccuracy, 2},
	}
	for _, tc := range cases {
		got, err := Lookup(tc.name)
		if err != nil {
			t.Fatalf("Lookup(%q): %v", tc.name, err)
		}
		if got.PrimaryField != tc.primary || got.SecondaryField != tc.secondary {
			t.Fatalf("%s: field pair (%q, %q), want (%q, %q)",
				tc.name, got.PrimaryField, got.SecondaryField, tc.primary, tc.secondary)
		}
		if got.Metric != tc.metric {
			t.Fatalf("%s: metric %v, want %v", tc.name, got.Metric, tc.metric)
		}
		if got.NumLabels != tc.labels {
			t.Fatalf("%s: labels %d, want %d", tc.name, got.NumLabels, tc.labels)
		}
	}
}

func TestLookupUnknown(t *testing.T) {
	t.Parallel()

	_, err := Lookup("squad")
	if !errors.Is(err, ErrUnknownTask) {
		t.Fatalf("expected ErrUnknownTask, got %v", err)
	}
}

func TestNamesAllResolve(t *testing.T) {
	t.Parallel()

	names := Names()
	if len(names) == 0 {
		t.Fatal("empty registry")
	}
	for _, name := range names {
		task, err := Lookup(name)
		if err != nil {
			t.Fatalf("Lookup(%q): %v", name, err)
		}
		if task.Name != name {
			t.Fatalf("task name mismatch: got %q want %q", task.Name, name)
		}
		if task.PrimaryField == "" {
			t.Fatalf("%s: missing primary field", name)
		}
	}
}

func TestRegression(t *testing.T) {
	t.Parallel()

	stsb, _ := Lookup("stsb")
	if !stsb.Regression() {
		t.Fatal("stsb should be a regression task")
	}
	sst2, _ := Lookup("sst2")
	if sst2.Regression() {
		t.Fatal("sst2 should not be a regression task")
	}
}
