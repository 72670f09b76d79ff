// Package rank turns class probability vectors into ordered predictions.
package rank

import (
	"math"
	"sort"
	"strconv"
)

// DefaultTopK is the number of entries shown in the ranked list.
const DefaultTopK = 3

// Softmax converts raw scores into a probability distribution. The row max is
// subtracted before exponentiating, and sums accumulate in float64.
func Softmax(logits []float32) []float32 {
	if len(logits) == 0 {
		return nil
	}
	maxVal := logits[0]
	for _, v := range logits[1:] {
		if v > maxVal {
			maxVal = v
		}
	}

	exps := make([]float64, len(logits))
	var sum float64
	for i, v := range logits {
		exps[i] = math.Exp(float64(v - maxVal))
		sum += exps[i]
	}

	probs := make([]float32, len(logits))
	for i, e := range exps {
		probs[i] = float32(e / sum)
	}
	return probs
}

// Argmax returns the index of the first maximum, or -1 for an empty slice.
func Argmax(p []float32) int {
	if len(p) == 0 {
		return -1
	}
	best := 0
	for i := 1; i < len(p); i++ {
		if p[i] > p[best] {
			best = i
		}
	}
	return best
}

// TopK returns up to k indices ordered by descending probability. Equal
// probabilities keep ascending index order.
func TopK(p []float32, k int) []int {
	if k > len(p) {
		k = len(p)
	}
	if k <= 0 {
		return []int{}
	}
	idx := make([]int, len(p))
	for i := range idx {
		idx[i] = i
	}
	sort.SliceStable(idx, func(a, b int) bool {
		return p[idx[a]] > p[idx[b]]
	})
	return idx[:k]
}

// Percent is the probability expressed as a percentage.
func Percent(p float32) float64 {
	return float64(p) * 100
}

// FormatPercent renders a probability as "12.34" (no % sign).
func FormatPercent(p float32) string {
	return strconv.FormatFloat(Percent(p), 'f', 2, 64)
}
