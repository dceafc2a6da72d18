package graph

import "math/rand"

// Mat is a dense row-major matrix of float32 values. Stride is the
// number of elements between the starts of two consecutive rows; for
// freshly allocated matrices it equals C. Vectors are stored as 1xN
// matrices so every weight in the model shares one representation.
//
// Mat relies on Go's slice bounds checks; out-of-range indices panic.
type Mat struct {
	R, C   int
	Stride int
	Data   []float32
}

// NewMat allocates a zero-initialised matrix.
func NewMat(r, c int) Mat {
	if r < 0 || c < 0 {
		panic("negative dimension for matrix")
	}
	return Mat{R: r, C: c, Stride: c, Data: make([]float32, r*c)}
}

// NewMatFromData wraps existing data. The data length must match r*c.
func NewMatFromData(r, c int, data []float32) Mat {
	if r*c != len(data) {
		panic("data length mismatch")
	}
	return Mat{R: r, C: c, Stride: c, Data: data}
}

// Row returns a view of the i-th row. Modifications to the returned
// slice update the underlying matrix.
func (m *Mat) Row(i int) []float32 {
	if i < 0 || i >= m.R {
		panic("row index out of range")
	}
	start := i * m.Stride
	return m.Data[start : start+m.C]
}

// FillRand fills the matrix with reproducible pseudo-random values in
// a small range around zero. The same seed always produces the same
// matrix.
func FillRand(m *Mat, seed int64) {
	rng := rand.New(rand.NewSource(seed))
	for i := range m.Data {
		m.Data[i] = (rng.Float32() - 0.5) * 0.08
	}
}

// MatVec computes dst = x * W for a row vector x of length W.R,
// writing W.C outputs into dst.
func MatVec(dst []float32, x []float32, w *Mat) {
	if len(x) != w.R {
		panic("matvec dimension mismatch")
	}
	if len(dst) < w.C {
		panic("matvec dst too small")
	}
	for j := 0; j < w.C; j++ {
		dst[j] = 0
	}
	for i := 0; i < w.R; i++ {
		xi := x[i]
		if xi == 0 {
			continue
		}
		row := w.Row(i)
		for j := 0; j < w.C; j++ {
			dst[j] += xi * row[j]
		}
	}
}
