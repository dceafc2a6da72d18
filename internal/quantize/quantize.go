// Package quantize converts a full-precision classifier into an int8
// artifact. Static quantisation runs one calibration pass over sample
// inputs to record activation ranges; dynamic quantisation converts
// weights only and leaves activations to be scaled at inference time.
package quantize

import (
	"errors"
	"fmt"

	"github.com/kilnml/kiln/internal/graph"
)

var (
	ErrEmptyCalibration = errors.New("quantize: calibration set is empty")
	ErrExport           = errors.New("quantize: artifact export failed")
	ErrBadApproach      = errors.New("quantize: unknown approach")
)

// Approach selects how activation scales are obtained.
type Approach uint8

const (
	Static Approach = iota
	Dynamic
)

func (a Approach) String() string {
	switch a {
	case Static:
		return "static"
	case Dynamic:
		return "dynamic"
	default:
		return fmt.Sprintf("approach(%d)", uint8(a))
	}
}

// ParseApproach resolves an approach name as written on the command line.
func ParseApproach(s string) (Approach, error) {
	switch s {
	case "static":
		return Static, nil
	case "dynamic":
		return Dynamic, nil
	default:
		return 0, fmt.Errorf("%w: %q", ErrBadApproach, s)
	}
}

// Config controls one quantisation run.
type Config struct {
	Approach   Approach
	PerChannel bool

	// Operators is the quantisation allow-list. Nil means DefaultOperators.
	Operators []graph.OpKind

	// CalibrationSamples caps how many examples the calibration pass
	// consumes. Zero means all provided examples.
	CalibrationSamples int
}

// DefaultOperators is the allow-list applied when none is configured.
func DefaultOperators() []graph.OpKind {
	return []graph.OpKind{graph.OpMatMul, graph.OpGather, graph.OpAdd}
}

func (c Config) operators() map[graph.OpKind]bool {
	ops := c.Operators
	if len(ops) == 0 {
		ops = DefaultOperators()
	}
	set := make(map[graph.OpKind]bool, len(ops))
	for _, k := range ops {
		set[k] = true
	}
	return set
}

// Rule removes nodes from the quantisation set. Rules run in a fixed
// order so two runs over the same graph always exclude the same nodes.
type Rule struct {
	Name    string
	Matches func(graph.Node) bool
}

// ExclusionPasses returns the rules applied after the operator
// allow-list, in application order. Normalisation and activation nodes
// go first, then the additions whose placement makes int8 rounding
// destructive.
func ExclusionPasses() []Rule {
	return []Rule{
		{Name: "norms", Matches: func(n graph.Node) bool {
			return n.Kind == graph.OpLayerNorm
		}},
		{Name: "activations", Matches: func(n graph.Node) bool {
			return n.Kind == graph.OpGELU
		}},
		{Name: "residual-add-after-add", Matches: func(n graph.Node) bool {
			return n.Kind == graph.OpAdd && n.Prev == graph.OpAdd
		}},
		{Name: "add-after-gather", Matches: func(n graph.Node) bool {
			return n.Kind == graph.OpAdd && n.Prev == graph.OpGather
		}},
		{Name: "add-before-softmax", Matches: func(n graph.Node) bool {
			return n.Kind == graph.OpAdd && n.Next == graph.OpSoftmax
		}},
	}
}

// Eligible filters the node list down to the quantisation set: nodes
// whose operator is allowed, minus every node an exclusion pass matches.
func Eligible(nodes []graph.Node, cfg Config) []graph.Node {
	allowed := cfg.operators()
	kept := make([]graph.Node, 0, len(nodes))
	for _, n := range nodes {
		if allowed[n.Kind] {
			kept = append(kept, n)
		}
	}
	for _, rule := range ExclusionPasses() {
		next := kept[:0]
		for _, n := range kept {
			if !rule.Matches(n) {
				next = append(next, n)
			}
		}
		kept = next
	}
	return kept
}
