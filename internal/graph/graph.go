// Package graph implements the small transformer encoder that kiln
// quantises and evaluates. The model is expressed as a flat list of
// named nodes so that calibration and exclusion rules can address
// individual operations by name and by operator kind.
package graph

import (
	"errors"
	"fmt"
)

const normEps = 1e-5

var (
	ErrBadConfig    = errors.New("graph: invalid model configuration")
	ErrShapeClash   = errors.New("graph: tensor shape does not match configuration")
	ErrInputTooLong = errors.New("graph: input exceeds configured sequence length")
)

// OpKind identifies the operator a node executes.
type OpKind uint8

const (
	OpNone OpKind = iota
	OpGather
	OpAdd
	OpMatMul
	OpSoftmax
	OpLayerNorm
	OpGELU
	OpPool
)

var opKindNames = map[OpKind]string{
	OpNone:      "none",
	OpGather:    "gather",
	OpAdd:       "add",
	OpMatMul:    "matmul",
	OpSoftmax:   "softmax",
	OpLayerNorm: "layernorm",
	OpGELU:      "gelu",
	OpPool:      "pool",
}

func (k OpKind) String() string {
	if s, ok := opKindNames[k]; ok {
		return s
	}
	return fmt.Sprintf("opkind(%d)", uint8(k))
}

// ParseOpKind resolves an operator name as written in configuration.
func ParseOpKind(s string) (OpKind, error) {
	for k, name := range opKindNames {
		if name == s && k != OpNone {
			return k, nil
		}
	}
	return OpNone, fmt.Errorf("graph: unknown operator %q", s)
}

// Node describes one operation in the forward pass. Prev and Next are
// the operator kinds of the semantic predecessor and successor, OpNone
// at the graph boundary. HasWeight reports whether the node owns a
// parameter tensor named Name + ".weight".
type Node struct {
	Name      string
	Kind      OpKind
	Prev      OpKind
	Next      OpKind
	HasWeight bool
}

// Config fixes the model architecture. All dimensions must be positive.
type Config struct {
	VocabSize int
	Hidden    int
	FFN       int
	Layers    int
	MaxLen    int
	Labels    int
}

func (c Config) validate() error {
	if c.VocabSize <= 0 || c.Hidden <= 0 || c.FFN <= 0 || c.Layers <= 0 || c.MaxLen <= 0 || c.Labels <= 0 {
		return fmt.Errorf("%w: %+v", ErrBadConfig, c)
	}
	return nil
}

// Model holds the parameters for a configured graph. Weights maps a
// node name plus ".weight" to its tensor. Ranges, when non-empty,
// holds calibrated activation intervals that the forward pass uses to
// round activations through the int8 grid.
type Model struct {
	Cfg     Config
	Weights map[string]*Mat
	Ranges  map[string]Range
}

// New builds a model with reproducible random parameters. Norm weights
// start at one so an uncalibrated model still produces sane
// activations.
func New(cfg Config, seed int64) (*Model, error) {
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	m := &Model{Cfg: cfg, Weights: make(map[string]*Mat)}
	add := func(name string, r, c int) *Mat {
		w := NewMat(r, c)
		FillRand(&w, seed)
		seed += 7
		m.Weights[name+".weight"] = &w
		return &w
	}
	ones := func(name string, n int) {
		w := NewMat(1, n)
		for i := range w.Data {
			w.Data[i] = 1
		}
		m.Weights[name+".weight"] = &w
	}

	add("embed.tokens", cfg.VocabSize, cfg.Hidden)
	add("embed.positions", cfg.MaxLen, cfg.Hidden)
	for l := 0; l < cfg.Layers; l++ {
		add(nodeName(l, "attn.query"), cfg.Hidden, cfg.Hidden)
		add(nodeName(l, "attn.bias"), 1, cfg.MaxLen)
		ones(nodeName(l, "norm1"), cfg.Hidden)
		add(nodeName(l, "ffn.expand"), cfg.Hidden, cfg.FFN)
		add(nodeName(l, "ffn.contract"), cfg.FFN, cfg.Hidden)
		add(nodeName(l, "ffn.bias"), 1, cfg.Hidden)
		ones(nodeName(l, "norm2"), cfg.Hidden)
	}
	add("classifier", cfg.Hidden, cfg.Labels)
	return m, nil
}

func nodeName(layer int, suffix string) string {
	return fmt.Sprintf("enc.%d.%s", layer, suffix)
}

// Nodes returns the operations of the forward pass in execution order.
// The list is derived from the configuration alone; Forward emits
// observations for exactly these names in exactly this order.
func (m *Model) Nodes() []Node {
	nodes := []Node{
		{Name: "embed.tokens", Kind: OpGather, Next: OpAdd, HasWeight: true},
		{Name: "embed.positions", Kind: OpGather, Next: OpAdd, HasWeight: true},
		{Name: "embed.sum", Kind: OpAdd, Prev: OpGather, Next: OpMatMul},
	}
	for l := 0; l < m.Cfg.Layers; l++ {
		nodes = append(nodes,
			Node{Name: nodeName(l, "attn.query"), Kind: OpMatMul, Prev: OpAdd, Next: OpMatMul, HasWeight: true},
			Node{Name: nodeName(l, "attn.scores"), Kind: OpMatMul, Prev: OpMatMul, Next: OpAdd},
			Node{Name: nodeName(l, "attn.bias"), Kind: OpAdd, Prev: OpMatMul, Next: OpSoftmax, HasWeight: true},
			Node{Name: nodeName(l, "attn.softmax"), Kind: OpSoftmax, Prev: OpAdd, Next: OpMatMul},
			Node{Name: nodeName(l, "attn.context"), Kind: OpMatMul, Prev: OpSoftmax, Next: OpAdd},
			Node{Name: nodeName(l, "attn.residual"), Kind: OpAdd, Prev: OpMatMul, Next: OpLayerNorm},
			Node{Name: nodeName(l, "norm1"), Kind: OpLayerNorm, Prev: OpAdd, Next: OpMatMul, HasWeight: true},
			Node{Name: nodeName(l, "ffn.expand"), Kind: OpMatMul, Prev: OpLayerNorm, Next: OpGELU, HasWeight: true},
			Node{Name: nodeName(l, "ffn.gelu"), Kind: OpGELU, Prev: OpMatMul, Next: OpMatMul},
			Node{Name: nodeName(l, "ffn.contract"), Kind: OpMatMul, Prev: OpGELU, Next: OpAdd, HasWeight: true},
			Node{Name: nodeName(l, "ffn.bias"), Kind: OpAdd, Prev: OpMatMul, Next: OpAdd, HasWeight: true},
			Node{Name: nodeName(l, "ffn.residual"), Kind: OpAdd, Prev: OpAdd, Next: OpLayerNorm},
			Node{Name: nodeName(l, "norm2"), Kind: OpLayerNorm, Prev: OpAdd, Next: OpMatMul, HasWeight: true},
		)
	}
	nodes = append(nodes,
		Node{Name: "pool.mean", Kind: OpPool, Prev: OpLayerNorm, Next: OpMatMul},
		Node{Name: "classifier", Kind: OpMatMul, Prev: OpPool, HasWeight: true},
	)
	return nodes
}

// weight fetches a node's parameter tensor and checks its shape.
func (m *Model) weight(node string, r, c int) (*Mat, error) {
	w, ok := m.Weights[node+".weight"]
	if !ok {
		return nil, fmt.Errorf("graph: missing tensor %s.weight", node)
	}
	if w.R != r || w.C != c {
		return nil, fmt.Errorf("%w: %s.weight is %dx%d, want %dx%d", ErrShapeClash, node, w.R, w.C, r, c)
	}
	return w, nil
}
