package tensor

import (
	"runtime"
	"sync"
	"testing"

	"github.com/samcharles93/qsweep/pkg/qblock"
)

func matVecNaive(dst []float32, w *Mat, x []float32) {
	for i := 0; i < w.R; i++ {
		row := w.Data[i*w.Stride : i*w.Stride+w.C]
		var sum float32
		for j := 0; j < w.C; j++ {
			sum += row[j] * x[j]
		}
		dst[i] = sum
	}
}

func matVecParWaitGroup(dst []float32, w *Mat, x []float32) {
	workers := min(runtime.GOMAXPROCS(0), w.R)
	var wg sync.WaitGroup
	chunk := (w.R + workers - 1) / workers
	for i := range workers {
		rs := i * chunk
		re := min(rs+chunk, w.R)
		if rs >= re {
			break
		}
		wg.Add(1)
		go matVecParWorker(&wg, dst, w, x, rs, re)
	}
	wg.Wait()
}

func matVecParWorker(wg *sync.WaitGroup, dst []float32, w *Mat, x []float32, rs, re int) {
	defer wg.Done()
	for r := rs; r < re; r++ {
		row := w.Data[r*w.Stride : r*w.Stride+w.C]
		var sum float32
		for j := 0; j < w.C; j++ {
			sum += row[j] * x[j]
		}
		dst[r] = sum
	}
}

func TestMatVecMatchesNaive(t *testing.T) {
	const (
		rows = 131
		cols = 257
	)
	w := NewMat(rows, cols)
	FillRand(&w, 7)
	x := make([]float32, cols)
	for i := range x {
		x[i] = float32((i%17)-8) * 0.001
	}

	got := make([]float32, rows)
	want := make([]float32, rows)
	MatVec(got, &w, x)
	matVecNaive(want, &w, x)

	assertCloseSlice(t, got, want, 1e-6)
}

func TestMatVecF16(t *testing.T) {
	const (
		rows = 11
		cols = 48
	)
	dense := NewMat(rows, cols)
	FillRand(&dense, 3)

	raw := make([]byte, rows*cols*2)
	f16 := make([]uint16, rows*cols)
	qblock.Float32ToFloat16Slice(dense.Data, f16)
	for i, h := range f16 {
		raw[i*2] = byte(h)
		raw[i*2+1] = byte(h >> 8)
	}
	w, err := NewMatFromRaw(rows, cols, qblock.DTypeF16, raw)
	if err != nil {
		t.Fatalf("mat from raw: %v", err)
	}

	// Reference: the same rounded values through the dense path.
	rounded := NewMat(rows, cols)
	qblock.Float16ToFloat32Slice(f16, rounded.Data)

	x := make([]float32, cols)
	for i := range x {
		x[i] = float32((i%7)-3) * 0.05
	}
	got := make([]float32, rows)
	want := make([]float32, rows)
	MatVec(got, &w, x)
	matVecNaive(want, &rounded, x)

	assertCloseSlice(t, got, want, 1e-6)
}

func TestMatVecEmpty(t *testing.T) {
	w := NewMat(0, 16)
	dst := make([]float32, 1)
	dst[0] = 42
	MatVec(dst, &w, make([]float32, 16))
	if dst[0] != 42 {
		t.Fatal("MatVec on empty matrix touched dst")
	}
}

func TestMatVecT(t *testing.T) {
	const (
		rows = 23
		cols = 41
	)
	w := NewMat(rows, cols)
	FillRand(&w, 11)
	x := make([]float32, rows)
	for i := range x {
		x[i] = float32((i%5)-2) * 0.01
	}

	got := make([]float32, cols)
	MatVecT(got, &w, x)

	want := make([]float32, cols)
	for j := 0; j < cols; j++ {
		var sum float32
		for i := 0; i < rows; i++ {
			sum += w.Data[i*w.Stride+j] * x[i]
		}
		want[j] = sum
	}

	assertCloseSlice(t, got, want, 1e-6)
}

func TestAddOuter(t *testing.T) {
	const (
		rows = 9
		cols = 14
	)
	m := NewMat(rows, cols)
	FillRand(&m, 5)
	orig := make([]float32, len(m.Data))
	copy(orig, m.Data)

	a := make([]float32, rows)
	b := make([]float32, cols)
	for i := range a {
		a[i] = float32(i) * 0.1
	}
	for j := range b {
		b[j] = float32(j%4) * 0.25
	}

	const scale = -0.5
	AddOuter(&m, a, b, scale)

	for i := 0; i < rows; i++ {
		for j := 0; j < cols; j++ {
			want := orig[i*cols+j] + scale*a[i]*b[j]
			got := m.Data[i*m.Stride+j]
			if diff := got - want; diff < -1e-6 || diff > 1e-6 {
				t.Fatalf("(%d,%d): got %v want %v", i, j, got, want)
			}
		}
	}
}

func BenchmarkMatVecNaive(b *testing.B) {
	r, c := 2048, 2048
	w := NewMat(r, c)
	x := make([]float32, c)
	dst := make([]float32, r)
	FillRand(&w, 1)

	for b.Loop() {
		matVecNaive(dst, &w, x)
	}
}

func BenchmarkMatVecParWG(b *testing.B) {
	r, c := 2048, 2048
	w := NewMat(r, c)
	x := make([]float32, c)
	dst := make([]float32, r)
	FillRand(&w, 1)

	for b.Loop() {
		matVecParWaitGroup(dst, &w, x)
	}
}

func BenchmarkMatVecPool(b *testing.B) {
	r, c := 2048, 2048
	w := NewMat(r, c)
	x := make([]float32, c)
	dst := make([]float32, r)
	FillRand(&w, 1)

	for b.Loop() {
		MatVec(dst, &w, x)
	}
}
