package qblock

var q4SignTable = [16]int8{
	0, 1, 2, 3, 4, 5, 6, 7,
	-8, -7, -6, -5, -4, -3, -2, -1,
}

// DecodeBlock unpacks one 32-value block of bit-packed mantissas into dst.
// src must hold (32*bits)/8 bytes. Values are packed LSB-first.
func DecodeBlock(dst *[32]int8, src []byte, bits int) {
	switch bits {
	case 8:
		for i := 0; i < BlockSize; i++ {
			dst[i] = int8(src[i])
		}
	case 4:
		decodeBlock4(dst, src)
	default:
		decodeBlockBits(dst, src, bits)
	}
}

func decodeBlock4(dst *[32]int8, src []byte) {
	for i := 0; i < 16; i += 4 {
		b0 := src[i]
		b1 := src[i+1]
		b2 := src[i+2]
		b3 := src[i+3]

		base := i * 2
		dst[base] = q4SignTable[b0&0x0F]
		dst[base+1] = q4SignTable[b0>>4&0x0F]
		dst[base+2] = q4SignTable[b1&0x0F]
		dst[base+3] = q4SignTable[b1>>4&0x0F]
		dst[base+4] = q4SignTable[b2&0x0F]
		dst[base+5] = q4SignTable[b2>>4&0x0F]
		dst[base+6] = q4SignTable[b3&0x0F]
		dst[base+7] = q4SignTable[b3>>4&0x0F]
	}
}

func decodeBlockBits(dst *[32]int8, src []byte, bits int) {
	bitPos := 0
	for i := 0; i < BlockSize; i++ {
		var v uint8
		for b := 0; b < bits; b++ {
			byteIdx := bitPos >> 3
			bitIdx := uint(bitPos & 7)
			if (src[byteIdx]>>bitIdx)&1 == 1 {
				v |= 1 << uint(b)
			}
			bitPos++
		}
		dst[i] = signExtend(v, bits)
	}
}

func signExtend(v uint8, bits int) int8 {
	shift := uint(8 - bits)
	return int8(v<<shift) >> shift
}

// ScaleAt reads the idx-th float16 scale from a little-endian scale region.
func ScaleAt(raw []byte, idx int) float32 {
	off := idx * 2
	u := uint16(raw[off]) | uint16(raw[off+1])<<8
	return Float16ToFloat32(u)
}

// BlockScale returns the effective scale of block b in row r, resolving
// sub-scales for the k family.
func BlockScale(layout Layout, payload []byte, r, b int) float32 {
	if layout.Family == 'q' {
		return ScaleAt(payload[layout.ScaleOff:], r*layout.BlocksPerRow+b)
	}
	superIdx := r*layout.SuperBlocksPerRow + b/SuperBlocks
	super := ScaleAt(payload[layout.ScaleOff:], superIdx)
	if super == 0 {
		return 0
	}
	u6 := payload[layout.SubScaleOff+r*layout.BlocksPerRow+b] & 0x3F
	if u6 == 0 {
		return 0
	}
	return super * (float32(u6) / 32.0)
}

// DequantizeRow decodes row r of a quantized payload into dst, which must
// hold at least cols values.
func DequantizeRow(dst []float32, payload []byte, rows, cols int, dt DType, row int) error {
	layout, err := LayoutFor(rows, cols, dt)
	if err != nil {
		return err
	}
	if layout.Size() != len(payload) {
		return ErrPayloadSize
	}
	if row < 0 || row >= rows {
		return ErrBadShape
	}
	dequantRow(dst, payload, layout, cols, row)
	return nil
}

// Dequantize decodes the full payload into dst, which must hold rows*cols
// values.
func Dequantize(dst []float32, payload []byte, rows, cols int, dt DType) error {
	layout, err := LayoutFor(rows, cols, dt)
	if err != nil {
		return err
	}
	if layout.Size() != len(payload) {
		return ErrPayloadSize
	}
	for r := 0; r < rows; r++ {
		dequantRow(dst[r*cols:], payload, layout, cols, r)
	}
	return nil
}

func dequantRow(dst []float32, payload []byte, layout Layout, cols, row int) {
	data := payload[layout.DataOff : layout.DataOff+layout.DataBytes]
	var qbuf [BlockSize]int8

	blockBase := row * layout.BlocksPerRow
	for b := 0; b < layout.BlocksPerRow; b++ {
		col := b * BlockSize
		n := cols - col
		if n <= 0 {
			break
		}
		if n > BlockSize {
			n = BlockSize
		}
		scale := BlockScale(layout, payload, row, b)
		if scale == 0 {
			for i := 0; i < n; i++ {
				dst[col+i] = 0
			}
			continue
		}
		dataOff := (blockBase + b) * layout.BlockDataBytes
		DecodeBlock(&qbuf, data[dataOff:dataOff+layout.BlockDataBytes], layout.Bits)
		for i := 0; i < n; i++ {
			dst[col+i] = float32(qbuf[i]) * scale
		}
	}
}
