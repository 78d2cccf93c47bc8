package tensor

import (
	"sync"

	"github.com/samcharles93/qsweep/pkg/qblock"
)

// QuantVec holds an input vector quantized to int8 blocks, reusable
// across several quantized matvec calls with the same input.
type QuantVec struct {
	q      []int8
	q16    []int16
	scales []float32
	blocks int
}

var quantVecPool sync.Pool

func getQuantVec(blocks int) *QuantVec {
	if v, ok := quantVecPool.Get().(*QuantVec); ok && cap(v.scales) >= blocks {
		v.q = v.q[:blocks*qblock.BlockSize]
		v.q16 = v.q16[:blocks*qblock.BlockSize]
		v.scales = v.scales[:blocks]
		v.blocks = blocks
		return v
	}
	return &QuantVec{
		q:      make([]int8, blocks*qblock.BlockSize),
		q16:    make([]int16, blocks*qblock.BlockSize),
		scales: make([]float32, blocks),
		blocks: blocks,
	}
}

func putQuantVec(qx *QuantVec) {
	if qx == nil {
		return
	}
	qx.q = qx.q[:cap(qx.q)]
	qx.q16 = qx.q16[:cap(qx.q16)]
	qx.scales = qx.scales[:cap(qx.scales)]
	quantVecPool.Put(qx)
}

// PrepareQuantVec quantizes x into an int8/block representation suitable
// for reuse across multiple quantized matvec calls with the same input.
func PrepareQuantVec(x []float32) *QuantVec {
	if len(x) == 0 {
		return nil
	}
	blocks := (len(x) + qblock.BlockSize - 1) / qblock.BlockSize
	qx := getQuantVec(blocks)
	quantizeVecBlocksInto(x, blocks, qx.q, qx.q16, qx.scales)
	return qx
}

// ReleaseQuantVec returns a QuantVec to the pool.
func ReleaseQuantVec(qx *QuantVec) {
	putQuantVec(qx)
}

// CanUseQuantVec reports whether a matrix benefits from a pre-quantized
// input vector.
func CanUseQuantVec(w *Mat) bool {
	return w != nil && w.Raw != nil && w.DType.IsQuantized()
}
