package tensor

import (
	"math"
)

// Add adds src to dst element-wise.
func Add(dst, src []float32) {
	for i := range dst {
		dst[i] += src[i]
	}
}

// AddScaled adds a*src to dst element-wise.
func AddScaled(dst, src []float32, a float32) {
	for i := range dst {
		dst[i] += a * src[i]
	}
}

// Dot computes the dot product of a and b.
func Dot(a, b []float32) float32 {
	var sum float32
	for i := range a {
		sum += a[i] * b[i]
	}
	return sum
}

// LayerNorm normalizes src to zero mean and unit variance, then applies
// the learned gain and bias. dst and src may alias.
func LayerNorm(dst, src, gamma, beta []float32, eps float32) {
	n := len(src)
	if n == 0 {
		return
	}
	var mean float32
	for _, v := range src {
		mean += v
	}
	mean /= float32(n)

	var variance float32
	for _, v := range src {
		d := v - mean
		variance += d * d
	}
	variance /= float32(n)

	inv := float32(1.0) / float32(math.Sqrt(float64(variance+eps)))
	for i := range src {
		dst[i] = (src[i]-mean)*inv*gamma[i] + beta[i]
	}
}

// Softmax applies the softmax function to x in place.
func Softmax(x []float32) {
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

// LogSumExp computes log(sum(exp(x))) with the usual max shift.
func LogSumExp(x []float32) float32 {
	if len(x) == 0 {
		return float32(math.Inf(-1))
	}
	maxv := x[0]
	for i := 1; i < len(x); i++ {
		if x[i] > maxv {
			maxv = x[i]
		}
	}
	var sum float64
	for _, v := range x {
		sum += math.Exp(float64(v - maxv))
	}
	return maxv + float32(math.Log(sum))
}

// Gelu computes the Gaussian Error Linear Unit using the tanh
// approximation.
func Gelu(x float32) float32 {
	const c = 0.7978845608028654 // sqrt(2/pi)
	x3 := x * x * x
	return 0.5 * x * (1 + float32(math.Tanh(float64(c*(x+0.044715*x3)))))
}

// GeluSlice applies Gelu to x in place.
func GeluSlice(x []float32) {
	for i, v := range x {
		x[i] = Gelu(v)
	}
}

// TanhSlice applies tanh to x in place.
func TanhSlice(x []float32) {
	for i, v := range x {
		x[i] = float32(math.Tanh(float64(v)))
	}
}

// Argmax returns the index of the largest value in x, or -1 for an empty
// slice. Ties resolve to the lowest index.
func Argmax(x []float32) int {
	if len(x) == 0 {
		return -1
	}
	best := 0
	for i := 1; i < len(x); i++ {
		if x[i] > x[best] {
			best = i
		}
	}
	return best
}
