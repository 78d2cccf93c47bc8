package tensor

import (
	"math"

	"github.com/samcharles93/qsweep/pkg/qblock"
)

func matVecRangeQuant(dst []float32, w *Mat, x []float32, rs, re int, qx *QuantVec) bool {
	if !w.DType.IsQuantized() {
		return false
	}
	layout, err := qblock.LayoutFor(w.R, w.C, w.DType)
	if err != nil {
		panic(err)
	}
	if layout.Size() != len(w.Raw) {
		panic("quant payload size mismatch")
	}

	useInt8 := qx != nil && qx.blocks >= layout.BlocksPerRow
	data := w.Raw[layout.DataOff : layout.DataOff+layout.DataBytes]

	// Decode in small row batches so the unpacked mantissas stay hot.
	const batchSize = 4
	qbuf := make([]int8, batchSize*layout.BlocksPerRow*qblock.BlockSize)
	scales := make([]float32, batchSize*layout.BlocksPerRow)

	for batchStart := rs; batchStart < re; batchStart += batchSize {
		batchEnd := batchStart + batchSize
		if batchEnd > re {
			batchEnd = re
		}

		for r := batchStart; r < batchEnd; r++ {
			rowIdx := r - batchStart
			blockBase := r * layout.BlocksPerRow
			for b := 0; b < layout.BlocksPerRow; b++ {
				scale := qblock.BlockScale(layout, w.Raw, r, b)
				scales[rowIdx*layout.BlocksPerRow+b] = scale
				if scale == 0 {
					continue
				}
				dataOff := (blockBase + b) * layout.BlockDataBytes
				off := (rowIdx*layout.BlocksPerRow + b) * qblock.BlockSize
				qblock.DecodeBlock((*[32]int8)(qbuf[off:off+32]), data[dataOff:dataOff+layout.BlockDataBytes], layout.Bits)
			}
		}

		for r := batchStart; r < batchEnd; r++ {
			rowIdx := r - batchStart
			var sum float32
			for b := 0; b < layout.BlocksPerRow; b++ {
				col := b * qblock.BlockSize
				n := w.C - col
				if n <= 0 {
					break
				}
				if n > qblock.BlockSize {
					n = qblock.BlockSize
				}
				scale := scales[rowIdx*layout.BlocksPerRow+b]
				if scale == 0 {
					continue
				}
				off := (rowIdx*layout.BlocksPerRow + b) * qblock.BlockSize
				if useInt8 {
					xScale := qx.scales[b]
					if xScale == 0 {
						continue
					}
					dot := dotInt8Int16(qbuf[off:off+32], qx.q16[col:col+32], 32)
					sum += float32(dot) * (scale * xScale)
				} else {
					sum += scale * dotInt8Float32(qbuf[off:off+32], x[col:], n)
				}
			}
			dst[r] = sum
		}
	}
	return true
}

func matVecRangeCached(dst []float32, w *Mat, x []float32, rs, re int, qx *QuantVec) {
	qc := w.Quant
	useInt8 := qx != nil && qx.blocks >= qc.BlocksPerRow
	for r := rs; r < re; r++ {
		var sum float32
		blockBase := r * qc.BlocksPerRow
		for b := 0; b < qc.BlocksPerRow; b++ {
			col := b * qblock.BlockSize
			n := w.C - col
			if n <= 0 {
				break
			}
			if n > qblock.BlockSize {
				n = qblock.BlockSize
			}
			scale := qc.Scales[blockBase+b]
			if scale == 0 {
				continue
			}
			off := (blockBase + b) * qblock.BlockSize
			if useInt8 {
				xScale := qx.scales[b]
				if xScale == 0 {
					continue
				}
				dot := dotInt8Int16(qc.Q[off:off+32], qx.q16[col:col+32], 32)
				sum += float32(dot) * (scale * xScale)
			} else {
				sum += scale * dotInt8Float32(qc.Q[off:off+32], x[col:], n)
			}
		}
		dst[r] = sum
	}
}

func rowToQuant(dst []float32, m *Mat, row int) error {
	if qc := m.Quant; qc.validFor(m) {
		blockBase := row * qc.BlocksPerRow
		for b := 0; b < qc.BlocksPerRow; b++ {
			col := b * qblock.BlockSize
			n := m.C - col
			if n <= 0 {
				break
			}
			if n > qblock.BlockSize {
				n = qblock.BlockSize
			}
			scale := qc.Scales[blockBase+b]
			off := (blockBase + b) * qblock.BlockSize
			for i := 0; i < n; i++ {
				dst[col+i] = float32(qc.Q[off+i]) * scale
			}
		}
		return nil
	}
	return qblock.DequantizeRow(dst, m.Raw, m.R, m.C, m.DType, row)
}

func dotInt8Float32(q []int8, x []float32, n int) float32 {
	var sum float32
	for i := 0; i < n; i++ {
		sum += float32(q[i]) * x[i]
	}
	return sum
}

func dotInt8Int16(q []int8, x []int16, n int) int32 {
	var sum int32
	for i := 0; i < n; i++ {
		sum += int32(q[i]) * int32(x[i])
	}
	return sum
}

func quantizeVecBlocksInto(x []float32, blocks int, qx []int8, qx16 []int16, scales []float32) {
	for b := 0; b < blocks; b++ {
		base := b * qblock.BlockSize
		maxAbs := float32(0)
		for i := 0; i < qblock.BlockSize; i++ {
			idx := base + i
			if idx >= len(x) {
				break
			}
			v := x[idx]
			if v < 0 {
				v = -v
			}
			if v > maxAbs {
				maxAbs = v
			}
		}
		if maxAbs == 0 {
			scales[b] = 0
			for i := 0; i < qblock.BlockSize; i++ {
				qx[base+i] = 0
				qx16[base+i] = 0
			}
			continue
		}
		scale := maxAbs / 127.0
		scales[b] = scale
		inv := float32(1.0) / scale
		for i := 0; i < qblock.BlockSize; i++ {
			idx := base + i
			var q int32
			if idx < len(x) {
				q = int32(math.Round(float64(x[idx] * inv)))
				if q > 127 {
					q = 127
				} else if q < -127 {
					q = -127
				}
			}
			qx[base+i] = int8(q)
			qx16[base+i] = int16(q)
		}
	}
}
