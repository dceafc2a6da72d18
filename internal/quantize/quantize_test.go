package quantize

import (
	"context"
	"errors"
	"fmt"
	"math"
	"path/filepath"
	"testing"

	"github.com/kilnml/kiln/internal/dataset"
	"github.com/kilnml/kiln/internal/encode"
	"github.com/kilnml/kiln/internal/graph"
	"github.com/kilnml/kiln/internal/task"
	"github.com/kilnml/kiln/internal/tokenizer"
	"github.com/kilnml/kiln/pkg/kcf"
)

func testModel(t *testing.T) *graph.Model {
	t.Helper()
	m, err := graph.New(graph.Config{
		VocabSize: 32, Hidden: 8, FFN: 16, Layers: 2, MaxLen: 16, Labels: 2,
	}, 42)
	if err != nil {
		t.Fatalf("model: %v", err)
	}
	return m
}

func testEncoder(t *testing.T) (*encode.Encoder, tokenizer.Tokenizer) {
	t.Helper()
	words := []string{
		"the", "film", "was", "good", "bad", "slow", "sharp", "long",
		"a", "story", "plot", "acting", "score", "dull", "bright", "flat",
	}
	tok, err := tokenizer.NewWordLevel(words)
	if err != nil {
		t.Fatalf("tokenizer: %v", err)
	}
	return &encode.Encoder{Tok: tok, MaxLength: 16}, tok
}

func calibExamples(n int) []dataset.Example {
	words := []string{"good", "bad", "slow", "sharp", "dull", "bright", "flat", "long"}
	out := make([]dataset.Example, n)
	for i := range out {
		out[i] = dataset.Example{
			Fields: map[string]string{
				"sentence": fmt.Sprintf("the %s film was %s", words[i%len(words)], words[(i+3)%len(words)]),
			},
			Label: float64(i % 2),
		}
	}
	return out
}

func TestEligibleFollowsAllowListAndExclusions(t *testing.T) {
	t.Parallel()

	m := testModel(t)
	nodes := Eligible(m.Nodes(), Config{})

	byName := make(map[string]graph.Node, len(nodes))
	for _, n := range nodes {
		byName[n.Name] = n
		switch n.Kind {
		case graph.OpMatMul, graph.OpGather, graph.OpAdd:
		default:
			t.Errorf("node %s has disallowed kind %s", n.Name, n.Kind)
		}
	}

	for _, excluded := range []string{
		"embed.sum",          // add fed by the embedding gathers
		"enc.0.attn.bias",    // add feeding a softmax
		"enc.0.ffn.residual", // add stacked on another add
		"enc.0.norm1",        // not on the allow-list at all
		"enc.1.ffn.gelu",
	} {
		if _, ok := byName[excluded]; ok {
			t.Errorf("node %s should be excluded", excluded)
		}
	}
	for _, kept := range []string{
		"embed.tokens",
		"enc.0.attn.query",
		"enc.0.attn.residual",
		"enc.1.ffn.bias",
		"classifier",
	} {
		if _, ok := byName[kept]; !ok {
			t.Errorf("node %s should survive exclusion", kept)
		}
	}
}

func TestEligibleRespectsCustomAllowList(t *testing.T) {
	t.Parallel()

	m := testModel(t)
	nodes := Eligible(m.Nodes(), Config{Operators: []graph.OpKind{graph.OpMatMul}})
	for _, n := range nodes {
		if n.Kind != graph.OpMatMul {
			t.Fatalf("node %s leaked through matmul-only allow-list", n.Name)
		}
	}
	if len(nodes) == 0 {
		t.Fatal("matmul-only allow-list should keep the projection nodes")
	}
}

func TestCalibrateRecordsEligibleNodesOnly(t *testing.T) {
	t.Parallel()

	m := testModel(t)
	enc, _ := testEncoder(t)
	tk, err := task.Lookup("sst2")
	if err != nil {
		t.Fatalf("task: %v", err)
	}

	nodes := Eligible(m.Nodes(), Config{})
	ranges, err := Calibrate(context.Background(), m, enc, tk, calibExamples(8), nodes)
	if err != nil {
		t.Fatalf("calibrate: %v", err)
	}
	if len(ranges) == 0 {
		t.Fatal("calibration produced no ranges")
	}

	eligible := make(map[string]bool, len(nodes))
	for _, n := range nodes {
		eligible[n.Name] = true
	}
	for node, r := range ranges {
		if !eligible[node] {
			t.Errorf("range recorded for excluded node %s", node)
		}
		if r.Min > r.Max {
			t.Errorf("node %s has inverted range %+v", node, r)
		}
	}
}

func TestCalibrateEmptySetFails(t *testing.T) {
	t.Parallel()

	m := testModel(t)
	enc, _ := testEncoder(t)
	tk, _ := task.Lookup("sst2")

	_, err := Calibrate(context.Background(), m, enc, tk, nil, Eligible(m.Nodes(), Config{}))
	if !errors.Is(err, ErrEmptyCalibration) {
		t.Fatalf("expected ErrEmptyCalibration, got %v", err)
	}
}

func TestQuantizeWeightsRoundTripError(t *testing.T) {
	t.Parallel()

	m := testModel(t)
	nodes := Eligible(m.Nodes(), Config{})
	quantised := quantizeWeights(m, nodes, true)
	if len(quantised) == 0 {
		t.Fatal("no weights quantised")
	}

	for name, qt := range quantised {
		w := m.Weights[name]
		if qt.Scheme == kcf.SchemePerChannel && len(qt.Scales) != w.R {
			t.Fatalf("%s: per-channel scale count %d for %d rows", name, len(qt.Scales), w.R)
		}
		for i, v := range w.Data {
			var scale float32
			if len(qt.Scales) == 1 {
				scale = qt.Scales[0]
			} else {
				scale = qt.Scales[i/w.C]
			}
			got := float32(int8(qt.Data[i])) * scale
			if diff := math.Abs(float64(got - v)); diff > float64(scale)*0.51 {
				t.Fatalf("%s[%d]: round trip error %v exceeds half a step %v", name, i, diff, scale)
			}
		}
	}
}

func TestDriverStaticRunRoundTrip(t *testing.T) {
	t.Parallel()

	m := testModel(t)
	enc, tok := testEncoder(t)
	tk, _ := task.Lookup("sst2")

	payload, err := tok.(*tokenizer.WordLevel).Payload()
	if err != nil {
		t.Fatalf("payload: %v", err)
	}
	meta := Artifact{Task: "sst2", TokenizerKind: tokenizer.KindWordLevel, TokenizerPayload: payload}
	out := filepath.Join(t.TempDir(), "model.kcf")

	d := &Driver{}
	res, err := d.Run(context.Background(), m, enc, tk, Config{Approach: Static, CalibrationSamples: 40}, meta, calibExamples(40), out)
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if res.BuildID == "" || len(res.Quantised) == 0 || len(res.Ranges) == 0 {
		t.Fatalf("incomplete result: %+v", res)
	}

	loaded, err := graph.Load(out)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if loaded.Info.Approach != "static" || loaded.Info.Task != "sst2" {
		t.Fatalf("model info mismatch: %+v", loaded.Info)
	}
	if len(loaded.Model.Ranges) != len(res.Ranges) {
		t.Fatalf("range count: stored %d, loaded %d", len(res.Ranges), len(loaded.Model.Ranges))
	}
	if loaded.Tok == nil {
		t.Fatal("tokenizer not restored")
	}

	in, err := enc.Encode(calibExamples(1)[0], tk)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	logits, err := loaded.Model.Infer(context.Background(), in)
	if err != nil {
		t.Fatalf("infer: %v", err)
	}
	if len(logits) != 2 {
		t.Fatalf("logit count: got %d want 2", len(logits))
	}
}

func TestDriverDynamicSkipsCalibration(t *testing.T) {
	t.Parallel()

	m := testModel(t)
	enc, _ := testEncoder(t)
	tk, _ := task.Lookup("sst2")
	out := filepath.Join(t.TempDir(), "model.kcf")

	d := &Driver{}
	res, err := d.Run(context.Background(), m, enc, tk, Config{Approach: Dynamic}, Artifact{Task: "sst2"}, nil, out)
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if len(res.Ranges) != 0 {
		t.Fatalf("dynamic run recorded %d ranges", len(res.Ranges))
	}

	loaded, err := graph.Load(out)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if loaded.Info.Approach != "dynamic" {
		t.Fatalf("approach: got %q", loaded.Info.Approach)
	}
	if len(loaded.Model.Ranges) != 0 {
		t.Fatal("dynamic artifact should carry no calibration section")
	}
}

func TestExportFullPreservesWeights(t *testing.T) {
	t.Parallel()

	m := testModel(t)
	out := filepath.Join(t.TempDir(), "full.kcf")
	if _, err := ExportFull(m, Artifact{Task: "sst2"}, out); err != nil {
		t.Fatalf("export: %v", err)
	}

	loaded, err := graph.Load(out)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if loaded.Info.Approach != "none" {
		t.Fatalf("approach: got %q", loaded.Info.Approach)
	}
	for name, w := range m.Weights {
		got, ok := loaded.Model.Weights[name]
		if !ok {
			t.Fatalf("missing tensor %s", name)
		}
		for i := range w.Data {
			if got.Data[i] != w.Data[i] {
				t.Fatalf("%s[%d]: %v != %v", name, i, got.Data[i], w.Data[i])
			}
		}
	}
}

func TestParseApproach(t *testing.T) {
	t.Parallel()

	if a, err := ParseApproach("static"); err != nil || a != Static {
		t.Fatalf("static: %v %v", a, err)
	}
	if a, err := ParseApproach("dynamic"); err != nil || a != Dynamic {
		t.Fatalf("dynamic: %v %v", a, err)
	}
	if _, err := ParseApproach("qat"); !errors.Is(err, ErrBadApproach) {
		t.Fatalf("expected ErrBadApproach, got %v", err)
	}
}
