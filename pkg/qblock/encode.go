package qblock

import "math"

// Quantize encodes a rank-2 float32 tensor into a block-quantized payload.
// src is row-major rows*cols. Trailing partial blocks are zero-padded.
// Scales are chosen symmetrically per block (max-abs over the block), and
// quantization happens against the float16-rounded scale so that encode
// and decode agree exactly on the multiplier.
func Quantize(src []float32, rows, cols int, dt DType) ([]byte, error) {
	layout, err := LayoutFor(rows, cols, dt)
	if err != nil {
		return nil, err
	}
	if len(src) != rows*cols {
		return nil, ErrBadShape
	}

	payload := make([]byte, layout.Size())
	if layout.Family == 'q' {
		encodeQ(payload, src, rows, cols, layout, dt)
	} else {
		encodeK(payload, src, rows, cols, layout, dt)
	}
	return payload, nil
}

func encodeQ(payload []byte, src []float32, rows, cols int, layout Layout, dt DType) {
	maxQ := float32(dt.MaxQ())
	scales := payload[layout.ScaleOff:]
	data := payload[layout.DataOff:]
	var block [BlockSize]float32
	var q [BlockSize]int8

	for r := 0; r < rows; r++ {
		rowBase := r * cols
		blockBase := r * layout.BlocksPerRow
		for b := 0; b < layout.BlocksPerRow; b++ {
			n := gatherBlock(&block, src[rowBase:rowBase+cols], b)
			maxAbs := maxAbsBlock(&block, n)

			blockIdx := blockBase + b
			if maxAbs == 0 {
				continue
			}
			h := Float32ToFloat16(maxAbs / maxQ)
			scale := Float16ToFloat32(h)
			if scale == 0 {
				continue
			}
			scales[blockIdx*2] = byte(h)
			scales[blockIdx*2+1] = byte(h >> 8)

			quantizeBlock(&q, &block, n, scale, maxQ)
			off := blockIdx * layout.BlockDataBytes
			packBlock(data[off:off+layout.BlockDataBytes], layout.Bits, &q)
		}
	}
}

func encodeK(payload []byte, src []float32, rows, cols int, layout Layout, dt DType) {
	maxQ := float32(dt.MaxQ())
	supers := payload[layout.ScaleOff:]
	subs := payload[layout.SubScaleOff:]
	data := payload[layout.DataOff:]
	var block [BlockSize]float32
	var q [BlockSize]int8
	var blockMax [SuperBlocks]float32

	for r := 0; r < rows; r++ {
		rowBase := r * cols
		blockBase := r * layout.BlocksPerRow
		superBase := r * layout.SuperBlocksPerRow
		for s := 0; s < layout.SuperBlocksPerRow; s++ {
			bStart := s * SuperBlocks
			bEnd := bStart + SuperBlocks
			if bEnd > layout.BlocksPerRow {
				bEnd = layout.BlocksPerRow
			}

			// First pass: per-block max-abs and the superblock scale.
			var rawSuper float32
			for b := bStart; b < bEnd; b++ {
				n := gatherBlock(&block, src[rowBase:rowBase+cols], b)
				m := maxAbsBlock(&block, n)
				blockMax[b-bStart] = m
				if bs := m / maxQ; bs > rawSuper {
					rawSuper = bs
				}
			}
			if rawSuper == 0 {
				continue
			}
			h := Float32ToFloat16(rawSuper)
			super := Float16ToFloat32(h)
			if super == 0 {
				continue
			}
			superIdx := superBase + s
			supers[superIdx*2] = byte(h)
			supers[superIdx*2+1] = byte(h >> 8)

			// Second pass: 6-bit sub-scales and mantissas against the
			// rounded super scale.
			for b := bStart; b < bEnd; b++ {
				m := blockMax[b-bStart]
				if m == 0 {
					continue
				}
				sub := int(math.Round(float64(32 * (m / maxQ) / super)))
				if sub < 1 {
					sub = 1
				}
				if sub > 63 {
					sub = 63
				}
				blockIdx := blockBase + b
				subs[blockIdx] = byte(sub)

				scale := super * (float32(sub) / 32.0)
				n := gatherBlock(&block, src[rowBase:rowBase+cols], b)
				quantizeBlock(&q, &block, n, scale, maxQ)
				off := blockIdx * layout.BlockDataBytes
				packBlock(data[off:off+layout.BlockDataBytes], layout.Bits, &q)
			}
		}
	}
}

// gatherBlock copies block b of a row into dst, zero-padding the tail, and
// returns the number of live values.
func gatherBlock(dst *[BlockSize]float32, row []float32, b int) int {
	col := b * BlockSize
	n := len(row) - col
	if n > BlockSize {
		n = BlockSize
	}
	for i := 0; i < n; i++ {
		dst[i] = row[col+i]
	}
	for i := n; i < BlockSize; i++ {
		dst[i] = 0
	}
	return n
}

func maxAbsBlock(block *[BlockSize]float32, n int) float32 {
	var maxAbs float32
	for i := 0; i < n; i++ {
		v := block[i]
		if v < 0 {
			v = -v
		}
		if v > maxAbs {
			maxAbs = v
		}
	}
	return maxAbs
}

func quantizeBlock(q *[BlockSize]int8, block *[BlockSize]float32, n int, scale, maxQ float32) {
	inv := 1.0 / scale
	for i := 0; i < n; i++ {
		v := int32(math.Round(float64(block[i] * inv)))
		if v > int32(maxQ) {
			v = int32(maxQ)
		} else if v < -int32(maxQ) {
			v = -int32(maxQ)
		}
		q[i] = int8(v)
	}
	for i := n; i < BlockSize; i++ {
		q[i] = 0
	}
}

// packBlock packs 32 mantissas LSB-first into dst.
func packBlock(dst []byte, bits int, values *[BlockSize]int8) {
	mask := uint64((1 << bits) - 1)
	var bitBuf uint64
	var bitCount uint
	dstIdx := 0
	for i := 0; i < BlockSize; i++ {
		val := uint64(uint8(values[i])) & mask
		bitBuf |= val << bitCount
		bitCount += uint(bits)
		for bitCount >= 8 && dstIdx < len(dst) {
			dst[dstIdx] = byte(bitBuf)
			dstIdx++
			bitBuf >>= 8
			bitCount -= 8
		}
	}
	if bitCount > 0 && dstIdx < len(dst) {
		dst[dstIdx] = byte(bitBuf)
	}
}
