package evaluate

import (
	"math"
	"sort"
)

func accuracy(preds, labels []float64) float64 {
	if len(preds) == 0 {
		return 0
	}
	correct := 0
	for i := range preds {
		if preds[i] == labels[i] {
			correct++
		}
	}
	return float64(correct) / float64(len(preds))
}

// f1Binary computes the F1 score treating label 1 as the positive class.
func f1Binary(preds, labels []float64) float64 {
	var tp, fp, fn float64
	for i := range preds {
		switch {
		case preds[i] == 1 && labels[i] == 1:
			tp++
		case preds[i] == 1 && labels[i] != 1:
			fp++
		case preds[i] != 1 && labels[i] == 1:
			fn++
		}
	}
	denom := 2*tp + fp + fn
	if denom == 0 {
		return 0
	}
	return 2 * tp / denom
}

// matthews computes the Matthews correlation coefficient for binary
// labels. A degenerate confusion matrix yields 0.
func matthews(preds, labels []float64) float64 {
	var tp, tn, fp, fn float64
	for i := range preds {
		switch {
		case preds[i] == 1 && labels[i] == 1:
			tp++
		case preds[i] == 0 && labels[i] == 0:
			tn++
		case preds[i] == 1 && labels[i] == 0:
			fp++
		case preds[i] == 0 && labels[i] == 1:
			fn++
		}
	}
	denom := math.Sqrt((tp + fp) * (tp + fn) * (tn + fp) * (tn + fn))
	if denom == 0 {
		return 0
	}
	return (tp*tn - fp*fn) / denom
}

func pearson(x, y []float64) float64 {
	n := float64(len(x))
	if n == 0 {
		return 0
	}
	var mx, my float64
	for i := range x {
		mx += x[i]
		my += y[i]
	}
	mx /= n
	my /= n
	var sxy, sxx, syy float64
	for i := range x {
		dx := x[i] - mx
		dy := y[i] - my
		sxy += dx * dy
		sxx += dx * dx
		syy += dy * dy
	}
	denom := math.Sqrt(sxx * syy)
	if denom == 0 {
		return 0
	}
	return sxy / denom
}

// spearman is the Pearson correlation of the rank transforms, with
// ties assigned the average of the ranks they span.
func spearman(x, y []float64) float64 {
	return pearson(ranks(x), ranks(y))
}

func ranks(vals []float64) []float64 {
	n := len(vals)
	idx := make([]int, n)
	for i := range idx {
		idx[i] = i
	}
	sort.Slice(idx, func(a, b int) bool { return vals[idx[a]] < vals[idx[b]] })

	out := make([]float64, n)
	for i := 0; i < n; {
		j := i
		for j+1 < n && vals[idx[j+1]] == vals[idx[i]] {
			j++
		}
		// ranks are 1-based; tied values share the mean rank
		avg := float64(i+j)/2 + 1
		for k := i; k <= j; k++ {
			out[idx[k]] = avg
		}
		i = j + 1
	}
	return out
}
