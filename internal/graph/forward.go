package graph

import (
	"context"
	"fmt"
	"math"

	"github.com/kilnml/kiln/internal/encode"
)

// Observer receives the flattened output of each node as it executes.
// The slice is only valid for the duration of the call.
type Observer func(node string, out []float32)

// Forward runs the full graph over one encoded example and returns the
// label logits. Observations fire for every node in Nodes() order.
// When the model carries calibrated ranges, each observed node's
// output is rounded through the int8 grid before the next node
// consumes it.
func (m *Model) Forward(in encode.Encoded, observe Observer) ([]float32, error) {
	cfg := m.Cfg
	n := 0
	for _, v := range in.Mask {
		if v == 1 {
			n++
		}
	}
	if n == 0 {
		return nil, fmt.Errorf("graph: encoded input has no active positions")
	}
	if n > cfg.MaxLen {
		return nil, fmt.Errorf("%w: %d > %d", ErrInputTooLong, n, cfg.MaxLen)
	}

	emit := func(name string, out []float32) {
		if observe != nil {
			observe(name, out)
		}
		if r, ok := m.Ranges[name]; ok {
			fakeQuant(out, r)
		}
	}

	emb, err := m.weight("embed.tokens", cfg.VocabSize, cfg.Hidden)
	if err != nil {
		return nil, err
	}
	pos, err := m.weight("embed.positions", cfg.MaxLen, cfg.Hidden)
	if err != nil {
		return nil, err
	}

	h := cfg.Hidden
	tok := make([]float32, n*h)
	for i := 0; i < n; i++ {
		id := in.IDs[i]
		if id < 0 || id >= cfg.VocabSize {
			return nil, fmt.Errorf("graph: token id %d outside vocabulary of %d", id, cfg.VocabSize)
		}
		copy(tok[i*h:(i+1)*h], emb.Row(id))
	}
	emit("embed.tokens", tok)

	posOut := make([]float32, n*h)
	for i := 0; i < n; i++ {
		copy(posOut[i*h:(i+1)*h], pos.Row(i))
	}
	emit("embed.positions", posOut)

	x := make([]float32, n*h)
	copy(x, tok)
	addInto(x, posOut)
	emit("embed.sum", x)

	q := make([]float32, n*h)
	scores := make([]float32, n*n)
	ffn := make([]float32, n*cfg.FFN)
	y := make([]float32, n*h)
	invSqrt := float32(1.0 / math.Sqrt(float64(h)))

	for l := 0; l < cfg.Layers; l++ {
		wq, err := m.weight(nodeName(l, "attn.query"), h, h)
		if err != nil {
			return nil, err
		}
		attnBias, err := m.weight(nodeName(l, "attn.bias"), 1, cfg.MaxLen)
		if err != nil {
			return nil, err
		}
		norm1, err := m.weight(nodeName(l, "norm1"), 1, h)
		if err != nil {
			return nil, err
		}
		expand, err := m.weight(nodeName(l, "ffn.expand"), h, cfg.FFN)
		if err != nil {
			return nil, err
		}
		contract, err := m.weight(nodeName(l, "ffn.contract"), cfg.FFN, h)
		if err != nil {
			return nil, err
		}
		ffnBias, err := m.weight(nodeName(l, "ffn.bias"), 1, h)
		if err != nil {
			return nil, err
		}
		norm2, err := m.weight(nodeName(l, "norm2"), 1, h)
		if err != nil {
			return nil, err
		}

		for i := 0; i < n; i++ {
			MatVec(q[i*h:(i+1)*h], x[i*h:(i+1)*h], wq)
		}
		emit(nodeName(l, "attn.query"), q)

		for i := 0; i < n; i++ {
			qi := q[i*h : (i+1)*h]
			for j := 0; j < n; j++ {
				var sum float32
				xj := x[j*h : (j+1)*h]
				for k := 0; k < h; k++ {
					sum += qi[k] * xj[k]
				}
				scores[i*n+j] = sum * invSqrt
			}
		}
		emit(nodeName(l, "attn.scores"), scores[:n*n])

		bias := attnBias.Row(0)
		for i := 0; i < n; i++ {
			for j := 0; j < n; j++ {
				scores[i*n+j] += bias[j]
			}
		}
		emit(nodeName(l, "attn.bias"), scores[:n*n])

		for i := 0; i < n; i++ {
			softmax(scores[i*n : (i+1)*n])
		}
		emit(nodeName(l, "attn.softmax"), scores[:n*n])

		for i := 0; i < n; i++ {
			yi := y[i*h : (i+1)*h]
			for k := range yi {
				yi[k] = 0
			}
			for j := 0; j < n; j++ {
				p := scores[i*n+j]
				xj := x[j*h : (j+1)*h]
				for k := 0; k < h; k++ {
					yi[k] += p * xj[k]
				}
			}
		}
		emit(nodeName(l, "attn.context"), y)

		addInto(x, y)
		emit(nodeName(l, "attn.residual"), x)

		for i := 0; i < n; i++ {
			layerNorm(x[i*h:(i+1)*h], x[i*h:(i+1)*h], norm1.Row(0), normEps)
		}
		emit(nodeName(l, "norm1"), x)

		for i := 0; i < n; i++ {
			MatVec(ffn[i*cfg.FFN:(i+1)*cfg.FFN], x[i*h:(i+1)*h], expand)
		}
		emit(nodeName(l, "ffn.expand"), ffn)

		geluInPlace(ffn)
		emit(nodeName(l, "ffn.gelu"), ffn)

		for i := 0; i < n; i++ {
			MatVec(y[i*h:(i+1)*h], ffn[i*cfg.FFN:(i+1)*cfg.FFN], contract)
		}
		emit(nodeName(l, "ffn.contract"), y)

		fb := ffnBias.Row(0)
		for i := 0; i < n; i++ {
			addInto(y[i*h:(i+1)*h], fb)
		}
		emit(nodeName(l, "ffn.bias"), y)

		addInto(x, y)
		emit(nodeName(l, "ffn.residual"), x)

		for i := 0; i < n; i++ {
			layerNorm(x[i*h:(i+1)*h], x[i*h:(i+1)*h], norm2.Row(0), normEps)
		}
		emit(nodeName(l, "norm2"), x)
	}

	pooled := make([]float32, h)
	for i := 0; i < n; i++ {
		addInto(pooled, x[i*h:(i+1)*h])
	}
	inv := float32(1.0 / float64(n))
	for k := range pooled {
		pooled[k] *= inv
	}
	emit("pool.mean", pooled)

	wc, err := m.weight("classifier", h, cfg.Labels)
	if err != nil {
		return nil, err
	}
	logits := make([]float32, cfg.Labels)
	MatVec(logits, pooled, wc)
	emit("classifier", logits)

	return logits, nil
}

// Infer runs the graph without observation, honouring cancellation
// before the pass starts.
func (m *Model) Infer(ctx context.Context, in encode.Encoded) ([]float32, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return m.Forward(in, nil)
}
