package tensor

import (
	"runtime"
	"sync"

	"github.com/samcharles93/qsweep/pkg/qblock"
)

type matVecTask struct {
	dst    []float32
	w      *Mat
	x      []float32
	qx     *QuantVec
	rs, re int
	done   chan struct{}
}

type matVecPool struct {
	size      int
	tasks     chan matVecTask
	doneSlots chan chan struct{}
}

var matVecWorkPool *matVecPool

var matVecPoolOnce sync.Once

func getMatVecPool() *matVecPool {
	matVecPoolOnce.Do(func() {
		matVecWorkPool = newMatVecPool()
	})
	return matVecWorkPool
}

func newMatVecPool() *matVecPool {
	size := runtime.GOMAXPROCS(0)
	if size < 1 {
		size = 1
	}
	p := &matVecPool{
		size:      size,
		tasks:     make(chan matVecTask, size*2),
		doneSlots: make(chan chan struct{}, size),
	}
	for i := 0; i < size; i++ {
		p.doneSlots <- make(chan struct{}, 1)
	}
	for i := 0; i < size; i++ {
		go func() {
			for task := range p.tasks {
				matVecRange(task.dst, task.w, task.x, task.rs, task.re, task.qx)
				task.done <- struct{}{}
			}
		}()
	}
	return p
}

// MatVec computes dst = w * x where w is a matrix and x is a vector.
// It runs in parallel using a worker pool.
func MatVec(dst []float32, w *Mat, x []float32) {
	MatVecWithQuant(dst, w, x, nil)
}

// MatVecWithQuant is MatVec with an optional pre-quantized input vector,
// letting callers amortise activation quantization across several
// quantized matrices that share the same input.
func MatVecWithQuant(dst []float32, w *Mat, x []float32, qx *QuantVec) {
	if w.R == 0 || w.C == 0 {
		return
	}
	if len(dst) < w.R || len(x) < w.C {
		panic("matvec shape mismatch")
	}

	pool := getMatVecPool()
	workers := pool.size
	if workers > w.R {
		workers = w.R
	}

	if workers <= 1 {
		matVecRange(dst, w, x, 0, w.R, qx)
		return
	}

	chunk := (w.R + workers - 1) / workers
	done := <-pool.doneSlots

	activeWorkers := 0
	for i := 0; i < workers; i++ {
		rs := i * chunk
		re := rs + chunk
		if re > w.R {
			re = w.R
		}
		if rs >= re {
			break
		}
		activeWorkers++
		pool.tasks <- matVecTask{
			dst:  dst,
			w:    w,
			x:    x,
			qx:   qx,
			rs:   rs,
			re:   re,
			done: done,
		}
	}

	for i := 0; i < activeWorkers; i++ {
		<-done
	}
	pool.doneSlots <- done
}

func matVecRange(dst []float32, w *Mat, x []float32, rs, re int, qx *QuantVec) {
	if w.Raw != nil && w.DType != qblock.DTypeF32 {
		if w.DType.IsQuantized() {
			if w.Quant.validFor(w) {
				matVecRangeCached(dst, w, x, rs, re, qx)
				return
			}
			if matVecRangeQuant(dst, w, x, rs, re, qx) {
				return
			}
		}
		if w.DType == qblock.DTypeF16 {
			matVecRangeF16(dst, w, x, rs, re)
			return
		}
		panic("unsupported dtype for matvec")
	}
	matVecRangeF32(dst, w, x, rs, re)
}

func matVecRangeF32(dst []float32, w *Mat, x []float32, rs, re int) {
	for i := rs; i < re; i++ {
		row := w.Data[i*w.Stride : i*w.Stride+w.C]
		var sum float32
		j := 0
		for ; j+3 < w.C; j += 4 {
			sum += row[j]*x[j] + row[j+1]*x[j+1] + row[j+2]*x[j+2] + row[j+3]*x[j+3]
		}
		for ; j < w.C; j++ {
			sum += row[j] * x[j]
		}
		dst[i] = sum
	}
}

func matVecRangeF16(dst []float32, w *Mat, x []float32, rs, re int) {
	for i := rs; i < re; i++ {
		off := i * w.Stride * 2
		var sum float32
		for j := 0; j < w.C; j++ {
			sum += qblock.Float16ToFloat32(u16le(w.Raw, off+j*2)) * x[j]
		}
		dst[i] = sum
	}
}

// MatVecT computes dst = wᵀ * x for a dense f32 matrix, accumulating
// row by row for cache-friendly access.
func MatVecT(dst []float32, w *Mat, x []float32) {
	if w.Raw != nil && w.DType != qblock.DTypeF32 {
		panic("MatVecT requires an f32 matrix")
	}
	if len(dst) < w.C || len(x) < w.R {
		panic("matvec shape mismatch")
	}
	clear(dst[:w.C])
	for i := 0; i < w.R; i++ {
		xi := x[i]
		if xi == 0 {
			continue
		}
		row := w.Data[i*w.Stride : i*w.Stride+w.C]
		for j, v := range row {
			dst[j] += xi * v
		}
	}
}

// AddOuter accumulates m += scale * a ⊗ b into a dense f32 matrix.
// a must have length >= m.R and b length >= m.C.
func AddOuter(m *Mat, a, b []float32, scale float32) {
	if m.Raw != nil && m.DType != qblock.DTypeF32 {
		panic("AddOuter requires an f32 matrix")
	}
	if len(a) < m.R || len(b) < m.C {
		panic("outer product shape mismatch")
	}
	for i := 0; i < m.R; i++ {
		ai := a[i] * scale
		if ai == 0 {
			continue
		}
		row := m.Data[i*m.Stride : i*m.Stride+m.C]
		for j := 0; j < m.C; j++ {
			row[j] += ai * b[j]
		}
	}
}
