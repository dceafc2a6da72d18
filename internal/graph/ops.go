package graph

import "math"

// Range is an observed activation interval for one node.
type Range struct {
	Min float32
	Max float32
}

// Observe widens the range to cover v.
func (r Range) Observe(v float32) Range {
	if v < r.Min {
		r.Min = v
	}
	if v > r.Max {
		r.Max = v
	}
	return r
}

// ObserveAll widens the range to cover every value in xs.
func (r Range) ObserveAll(xs []float32) Range {
	for _, v := range xs {
		r = r.Observe(v)
	}
	return r
}

// EmptyRange is the identity element for Observe.
func EmptyRange() Range {
	return Range{Min: float32(math.Inf(1)), Max: float32(math.Inf(-1))}
}

// Empty reports whether the range has never observed a value.
func (r Range) Empty() bool {
	return r.Min > r.Max
}

// Scale returns the symmetric int8 step size for the range.
func (r Range) Scale() float32 {
	bound := r.Max
	if -r.Min > bound {
		bound = -r.Min
	}
	if bound == 0 {
		return 1
	}
	return bound / 127
}

func addInto(dst, src []float32) {
	for i := range dst {
		dst[i] += src[i]
	}
}

// layerNorm normalises src to zero mean and unit variance, scaled by
// weight, writing into dst. dst and src may alias.
func layerNorm(dst, src, weight []float32, eps float32) {
	var mean float32
	for _, v := range src {
		mean += v
	}
	mean /= float32(len(src))
	var variance float32
	for _, v := range src {
		d := v - mean
		variance += d * d
	}
	variance /= float32(len(src))
	inv := float32(1.0 / math.Sqrt(float64(variance+eps)))
	for i := range src {
		dst[i] = (src[i] - mean) * inv * weight[i]
	}
}

// softmax applies the softmax function to x in place.
func softmax(x []float32) {
	if len(x) == 0 {
		return
	}
	maxv := x[0]
	for i := 1; i < len(x); i++ {
		if x[i] > maxv {
			maxv = x[i]
		}
	}
	var sum float64
	for i := range x {
		v := math.Exp(float64(x[i] - maxv))
		x[i] = float32(v)
		sum += v
	}
	if sum == 0 {
		return
	}
	inv := float32(1.0 / sum)
	for i := range x {
		x[i] *= inv
	}
}

// gelu computes the tanh approximation of the Gaussian Error Linear Unit.
func gelu(x float32) float32 {
	const c = 0.7978845608028654 // sqrt(2/pi)
	v := float64(x)
	return float32(0.5 * v * (1 + math.Tanh(c*(v+0.044715*v*v*v))))
}

func geluInPlace(x []float32) {
	for i := range x {
		x[i] = gelu(x[i])
	}
}

// fakeQuant rounds x through the int8 grid implied by r, in place.
// Values outside the calibrated range clamp to the grid edges.
func fakeQuant(x []float32, r Range) {
	scale := r.Scale()
	for i := range x {
		q := math.RoundToEven(float64(x[i] / scale))
		if q > 127 {
			q = 127
		} else if q < -127 {
			q = -127
		}
		x[i] = float32(q) * scale
	}
}
