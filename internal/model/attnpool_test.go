package model

import (
	"math"
	"testing"
)

func TestRunAttnHeadsMatchesReference(t *testing.T) {
	t.Parallel()
	const (
		nHeads  = 4
		headDim = 8
		seqLen  = 6
	)
	dim := nHeads * headDim
	ctx := &attnContext{
		q:       make([]float32, seqLen*dim),
		k:       make([]float32, seqLen*dim),
		v:       make([]float32, seqLen*dim),
		out:     make([]float32, seqLen*dim),
		seqLen:  seqLen,
		headDim: headDim,
		nHeads:  nHeads,
		scale:   float32(1.0 / math.Sqrt(float64(headDim))),
	}
	fillTestData(ctx.q, 0.1)
	fillTestData(ctx.k, 0.2)
	fillTestData(ctx.v, 0.3)

	runAttnHeads(ctx, make([]float32, seqLen), 0, nHeads)

	want := referenceAttention(ctx)
	compareSlices(t, ctx.out, want, 1e-5)
}

func TestAttendAllMatchesSerial(t *testing.T) {
	t.Parallel()
	const (
		nHeads  = 6
		headDim = 16
		seqLen  = 9
	)
	dim := nHeads * headDim
	ctx := &attnContext{
		q:       make([]float32, seqLen*dim),
		k:       make([]float32, seqLen*dim),
		v:       make([]float32, seqLen*dim),
		out:     make([]float32, seqLen*dim),
		seqLen:  seqLen,
		headDim: headDim,
		nHeads:  nHeads,
		scale:   float32(1.0 / math.Sqrt(float64(headDim))),
	}
	fillTestData(ctx.q, 0.05)
	fillTestData(ctx.k, 0.07)
	fillTestData(ctx.v, 0.09)

	attendAll(ctx)

	serial := &attnContext{
		q: ctx.q, k: ctx.k, v: ctx.v,
		out:     make([]float32, seqLen*dim),
		seqLen:  seqLen,
		headDim: headDim,
		nHeads:  nHeads,
		scale:   ctx.scale,
	}
	runAttnHeads(serial, make([]float32, seqLen), 0, nHeads)

	// Head math is independent of how heads are split across workers,
	// so the pooled result must match the serial one exactly.
	for i := range ctx.out {
		if ctx.out[i] != serial.out[i] {
			t.Fatalf("out[%d] = %v, serial %v", i, ctx.out[i], serial.out[i])
		}
	}
}

func BenchmarkRunAttnHeads(b *testing.B) {
	const (
		nHeads  = 12
		headDim = 64
		seqLen  = 128
	)
	dim := nHeads * headDim
	ctx := &attnContext{
		q:       make([]float32, seqLen*dim),
		k:       make([]float32, seqLen*dim),
		v:       make([]float32, seqLen*dim),
		out:     make([]float32, seqLen*dim),
		seqLen:  seqLen,
		headDim: headDim,
		nHeads:  nHeads,
		scale:   float32(1.0 / math.Sqrt(float64(headDim))),
	}
	fillTestData(ctx.q, 0.01)
	fillTestData(ctx.k, 0.02)
	fillTestData(ctx.v, 0.03)
	scores := make([]float32, seqLen)

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		runAttnHeads(ctx, scores, 0, nHeads)
	}
}

func referenceAttention(ctx *attnContext) []float32 {
	out := make([]float32, len(ctx.out))
	dim := ctx.nHeads * ctx.headDim
	scores := make([]float32, ctx.seqLen)

	for h := 0; h < ctx.nHeads; h++ {
		base := h * ctx.headDim
		for t := 0; t < ctx.seqLen; t++ {
			qt := ctx.q[t*dim+base : t*dim+base+ctx.headDim]
			for u := 0; u < ctx.seqLen; u++ {
				ku := ctx.k[u*dim+base : u*dim+base+ctx.headDim]
				scores[u] = dotRef(qt, ku) * ctx.scale
			}
			softmaxRef(scores)
			oh := out[t*dim+base : t*dim+base+ctx.headDim]
			for d := 0; d < ctx.headDim; d++ {
				var sum float32
				for u := 0; u < ctx.seqLen; u++ {
					sum += scores[u] * ctx.v[u*dim+base+d]
				}
				oh[d] = sum
			}
		}
	}
	return out
}

func dotRef(a, b []float32) float32 {
	var sum float32
	for i := range a {
		sum += a[i] * b[i]
	}
	return sum
}

func softmaxRef(x []float32) {
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

func fillTestData(x []float32, scale float32) {
	for i := range x {
		x[i] = scale * float32((i%29)-14)
	}
}

func compareSlices(t *testing.T, got, want []float32, tol float32) {
	t.Helper()
	if len(got) != len(want) {
		t.Fatalf("length mismatch: got %d want %d", len(got), len(want))
	}
	for i := range got {
		g := got[i]
		w := want[i]
		if g < w-tol || g > w+tol {
			t.Fatalf("mismatch at %d: got %v want %v±%v", i, g, w, tol)
		}
	}
}
