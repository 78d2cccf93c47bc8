package tensor

import (
	"errors"

	"github.com/samcharles93/qsweep/pkg/qblock"
)

// QuantCache stores pre-unpacked quantized weights for faster matvec.
// Q holds int8 mantissas for every block (32 values per block) and
// Scales the resolved float32 scale per block.
type QuantCache struct {
	Q            []int8
	Scales       []float32
	BlocksPerRow int
}

func (qc *QuantCache) validFor(m *Mat) bool {
	if qc == nil || m == nil {
		return false
	}
	if qc.BlocksPerRow <= 0 || m.R <= 0 {
		return false
	}
	blocksPerRow := (m.C + qblock.BlockSize - 1) / qblock.BlockSize
	if blocksPerRow != qc.BlocksPerRow {
		return false
	}
	totalBlocks, ok := mulInt(m.R, blocksPerRow)
	if !ok {
		return false
	}
	qLen, ok := mulInt(totalBlocks, qblock.BlockSize)
	if !ok {
		return false
	}
	if len(qc.Q) < qLen || len(qc.Scales) < totalBlocks {
		return false
	}
	return true
}

// BuildQuantCache pre-unpacks a quantized matrix into int8 blocks and
// per-block scales.
func BuildQuantCache(m *Mat) (*QuantCache, error) {
	if m == nil {
		return nil, errors.New("quant cache: nil matrix")
	}
	if m.Raw == nil {
		return nil, errors.New("quant cache: missing raw payload")
	}
	if !m.DType.IsQuantized() {
		return nil, errors.New("quant cache: dtype is not quantized")
	}

	layout, err := qblock.LayoutFor(m.R, m.C, m.DType)
	if err != nil {
		return nil, err
	}
	if layout.Size() != len(m.Raw) {
		return nil, errors.New("quant cache: payload size mismatch")
	}

	totalBlocks, ok := mulInt(m.R, layout.BlocksPerRow)
	if !ok {
		return nil, errors.New("quant cache: payload too large")
	}
	qLen, ok := mulInt(totalBlocks, qblock.BlockSize)
	if !ok {
		return nil, errors.New("quant cache: payload too large")
	}

	q := make([]int8, qLen)
	scales := make([]float32, totalBlocks)
	data := m.Raw[layout.DataOff : layout.DataOff+layout.DataBytes]

	for r := 0; r < m.R; r++ {
		blockBase := r * layout.BlocksPerRow
		for b := 0; b < layout.BlocksPerRow; b++ {
			blockIdx := blockBase + b
			scale := qblock.BlockScale(layout, m.Raw, r, b)
			scales[blockIdx] = scale
			if scale == 0 {
				continue
			}
			dataOff := blockIdx * layout.BlockDataBytes
			off := blockIdx * qblock.BlockSize
			qblock.DecodeBlock((*[32]int8)(q[off:off+32]), data[dataOff:dataOff+layout.BlockDataBytes], layout.Bits)
		}
	}

	return &QuantCache{
		Q:            q,
		Scales:       scales,
		BlocksPerRow: layout.BlocksPerRow,
	}, nil
}

func mulInt(a, b int) (int, bool) {
	if a == 0 || b == 0 {
		return 0, true
	}
	if a > int(^uint(0)>>1)/b {
		return 0, false
	}
	return a * b, true
}
