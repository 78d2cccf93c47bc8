package qblock

// Layout describes where the scale and mantissa regions of a quantized
// payload live. All offsets are byte offsets from the start of the
// payload. Sub-regions are 64-byte aligned; the final payload is not
// padded past the data region.
type Layout struct {
	Family            byte
	Bits              int
	BlocksPerRow      int
	SuperBlocksPerRow int
	BlockDataBytes    int

	ScaleOff   int
	ScaleCount int

	SubScaleOff   int
	SubScaleCount int

	DataOff   int
	DataBytes int
}

// Size returns the total payload size in bytes.
func (l Layout) Size() int {
	return l.DataOff + l.DataBytes
}

// LayoutFor computes the payload layout for a rank-2 tensor of the given
// quantized dtype. Columns need not be a multiple of BlockSize; the final
// block of each row is zero-padded by the encoder.
func LayoutFor(rows, cols int, dt DType) (Layout, error) {
	if !dt.IsQuantized() {
		return Layout{}, ErrNotQuantized
	}
	if rows <= 0 || cols <= 0 {
		return Layout{}, ErrBadShape
	}

	blocksPerRow := (cols + BlockSize - 1) / BlockSize
	totalBlocks, ok := mulInt(rows, blocksPerRow)
	if !ok {
		return Layout{}, ErrTooLarge
	}
	blockDataBytes := (BlockSize * dt.Bits()) / 8
	dataBytes, ok := mulInt(totalBlocks, blockDataBytes)
	if !ok {
		return Layout{}, ErrTooLarge
	}
	scaleBytes, ok := mulInt(totalBlocks, 2)
	if !ok {
		return Layout{}, ErrTooLarge
	}

	layout := Layout{
		Family:         dt.Family(),
		Bits:           dt.Bits(),
		BlocksPerRow:   blocksPerRow,
		BlockDataBytes: blockDataBytes,
		ScaleOff:       0,
	}

	if layout.Family == 'q' {
		layout.ScaleCount = totalBlocks
		off, ok := align64(scaleBytes)
		if !ok {
			return Layout{}, ErrTooLarge
		}
		layout.DataOff = off
		layout.DataBytes = dataBytes
		return layout, nil
	}

	superBlocksPerRow := (blocksPerRow + SuperBlocks - 1) / SuperBlocks
	superCount, ok := mulInt(rows, superBlocksPerRow)
	if !ok {
		return Layout{}, ErrTooLarge
	}
	superBytes, ok := mulInt(superCount, 2)
	if !ok {
		return Layout{}, ErrTooLarge
	}

	layout.ScaleCount = superCount
	layout.SuperBlocksPerRow = superBlocksPerRow

	off, ok := align64(superBytes)
	if !ok {
		return Layout{}, ErrTooLarge
	}
	layout.SubScaleOff = off
	layout.SubScaleCount = totalBlocks

	off, ok = addInt(off, totalBlocks)
	if !ok {
		return Layout{}, ErrTooLarge
	}
	off, ok = align64(off)
	if !ok {
		return Layout{}, ErrTooLarge
	}
	layout.DataOff = off
	layout.DataBytes = dataBytes
	return layout, nil
}

// PayloadSize returns the exact payload size in bytes for a rank-2
// quantized tensor.
func PayloadSize(rows, cols int, dt DType) (int, error) {
	layout, err := LayoutFor(rows, cols, dt)
	if err != nil {
		return 0, err
	}
	return layout.Size(), nil
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

func addInt(a, b int) (int, bool) {
	if a > int(^uint(0)>>1)-b {
		return 0, false
	}
	return a + b, true
}

func align64(n int) (int, bool) {
	if n > int(^uint(0)>>1)-63 {
		return 0, false
	}
	return (n + 63) &^ 63, true
}
