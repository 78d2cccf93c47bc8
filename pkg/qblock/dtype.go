// Package qblock implements the block-quantized weight formats used by
// qsweep: 32-element blocks with float16 scales ("q" family) and
// superblock formats with 6-bit sub-scales ("k" family).
package qblock

import "fmt"

// DType identifies a tensor element encoding.
type DType uint8

const (
	DTypeF32 DType = iota
	DTypeF16
	DTypeQ8
	DTypeQ4
	DTypeK6
	DTypeK4
	DTypeK3
	DTypeK2
)

const (
	// BlockSize is the number of weights per quantization block.
	BlockSize = 32
	// SuperBlocks is the number of blocks per k-family superblock.
	SuperBlocks = 8
	// SuperSize is the number of weights per k-family superblock.
	SuperSize = BlockSize * SuperBlocks
)

var dtypeNames = map[DType]string{
	DTypeF32: "f32",
	DTypeF16: "f16",
	DTypeQ8:  "q8",
	DTypeQ4:  "q4",
	DTypeK6:  "k6",
	DTypeK4:  "k4",
	DTypeK3:  "k3",
	DTypeK2:  "k2",
}

func (dt DType) String() string {
	if s, ok := dtypeNames[dt]; ok {
		return s
	}
	return fmt.Sprintf("dtype(%d)", uint8(dt))
}

// ParseDType parses the textual form produced by String.
func ParseDType(s string) (DType, error) {
	for dt, name := range dtypeNames {
		if name == s {
			return dt, nil
		}
	}
	return 0, fmt.Errorf("qblock: unknown dtype %q", s)
}

// IsQuantized reports whether dt is a block-quantized encoding.
func (dt DType) IsQuantized() bool {
	switch dt {
	case DTypeQ8, DTypeQ4, DTypeK6, DTypeK4, DTypeK3, DTypeK2:
		return true
	}
	return false
}

// Bits returns the mantissa width per weight. Zero for non-quantized dtypes.
func (dt DType) Bits() int {
	switch dt {
	case DTypeQ8:
		return 8
	case DTypeK6:
		return 6
	case DTypeQ4, DTypeK4:
		return 4
	case DTypeK3:
		return 3
	case DTypeK2:
		return 2
	}
	return 0
}

// Family returns 'q' or 'k' for quantized dtypes and 0 otherwise.
func (dt DType) Family() byte {
	switch dt {
	case DTypeQ8, DTypeQ4:
		return 'q'
	case DTypeK6, DTypeK4, DTypeK3, DTypeK2:
		return 'k'
	}
	return 0
}

// BitsPerWeight returns the effective storage cost per weight including
// scale overhead: 16 scale bits per block for the q family, plus one
// sub-scale byte per block and a 16-bit super scale per superblock for
// the k family.
func (dt DType) BitsPerWeight() float64 {
	switch dt {
	case DTypeF32:
		return 32
	case DTypeF16:
		return 16
	}
	bits := float64(dt.Bits())
	if bits == 0 {
		return 0
	}
	if dt.Family() == 'q' {
		return bits + 16.0/BlockSize
	}
	return bits + 8.0/BlockSize + 16.0/SuperSize
}

// DTypeForBits maps a searched weight bit-width onto a concrete format.
// 8 keeps the simple q layout; narrower widths use the k family for its
// finer-grained scales.
func DTypeForBits(bits int) (DType, error) {
	switch bits {
	case 8:
		return DTypeQ8, nil
	case 6:
		return DTypeK6, nil
	case 4:
		return DTypeK4, nil
	case 3:
		return DTypeK3, nil
	case 2:
		return DTypeK2, nil
	}
	return 0, fmt.Errorf("qblock: no format for %d-bit weights", bits)
}

// MaxQ returns the largest representable mantissa magnitude for dt.
func (dt DType) MaxQ() int {
	bits := dt.Bits()
	if bits == 0 {
		return 0
	}
	return (1 << (bits - 1)) - 1
}
