package tensor

import (
	"math/rand"

	"github.com/samcharles93/qsweep/pkg/qblock"
)

// Mat represents a row-major matrix of float32 values.
//
// R and C are the number of rows and columns. Stride is the number of
// elements between the starts of two consecutive rows; for row-major
// matrices this equals C. For f32 weights Data holds the values. For f16
// and block-quantized weights Raw holds the encoded bytes and rows are
// decoded inline in MatVec/RowTo to keep memory bandwidth low.
//
// Mat performs no memory safety beyond Go's slice checks; out-of-range
// indices panic.
type Mat struct {
	R, C   int
	Stride int

	DType qblock.DType
	Data  []float32
	Raw   []byte

	// Quant optionally holds pre-unpacked mantissas for quantized
	// weights. Built lazily via BuildQuantCache.
	Quant *QuantCache
}

// NewMat allocates a zero-initialised f32 matrix.
func NewMat(r, c int) Mat {
	if r < 0 || c < 0 {
		panic("negative dimension for matrix")
	}
	return Mat{
		R:      r,
		C:      c,
		Stride: c,
		DType:  qblock.DTypeF32,
		Data:   make([]float32, r*c),
	}
}

// NewMatFromData creates an f32 matrix backed by existing data.
// It checks that the data length matches r*c.
func NewMatFromData(r, c int, data []float32) Mat {
	if r*c != len(data) {
		panic("data length mismatch")
	}
	return Mat{
		R:      r,
		C:      c,
		Stride: c,
		DType:  qblock.DTypeF32,
		Data:   data,
	}
}

// NewMatFromRaw creates a matrix backed by encoded bytes in the given
// dtype. For f16 the raw slice must hold exactly r*c little-endian
// values; for quantized dtypes it must be a full qblock payload.
func NewMatFromRaw(r, c int, dtype qblock.DType, raw []byte) (Mat, error) {
	if r < 0 || c < 0 {
		return Mat{}, errNegativeDim
	}
	switch {
	case dtype == qblock.DTypeF16:
		want := r * c
		if r != 0 && want/r != c {
			return Mat{}, errMatTooLarge
		}
		if len(raw) != want*2 {
			return Mat{}, errRawSizeMismatch
		}
	case dtype.IsQuantized():
		want, err := qblock.PayloadSize(r, c, dtype)
		if err != nil {
			return Mat{}, err
		}
		if len(raw) != want {
			return Mat{}, errRawSizeMismatch
		}
	default:
		return Mat{}, errUnsupportedDType
	}
	return Mat{
		R:      r,
		C:      c,
		Stride: c,
		DType:  dtype,
		Raw:    raw,
	}, nil
}

// Row returns the i-th row. For f32 matrices the returned slice aliases
// the matrix; for encoded matrices it is a decoded copy.
func (m *Mat) Row(i int) []float32 {
	if i < 0 || i >= m.R {
		panic("row index out of range")
	}
	if m.Raw == nil || m.DType == qblock.DTypeF32 {
		start := i * m.Stride
		return m.Data[start : start+m.C]
	}
	row := make([]float32, m.C)
	m.RowTo(row, i)
	return row
}

// RowTo decodes the i-th row into dst. dst must have length >= C.
func (m *Mat) RowTo(dst []float32, i int) {
	if i < 0 || i >= m.R {
		panic("row index out of range")
	}
	if len(dst) < m.C {
		panic("row buffer too small")
	}
	if m.Raw == nil || m.DType == qblock.DTypeF32 {
		start := i * m.Stride
		copy(dst[:m.C], m.Data[start:start+m.C])
		return
	}

	switch {
	case m.DType == qblock.DTypeF16:
		off := i * m.Stride * 2
		for j := 0; j < m.C; j++ {
			dst[j] = qblock.Float16ToFloat32(u16le(m.Raw, off+j*2))
		}
	case m.DType.IsQuantized():
		if err := rowToQuant(dst, m, i); err != nil {
			panic(err)
		}
	default:
		panic("unsupported dtype for row decode")
	}
}

// FillRand fills an f32 matrix with reproducible pseudo-random values in
// a small range around zero. The same seed produces identical matrices.
func FillRand(m *Mat, seed int64) {
	if m.Raw != nil && m.DType != qblock.DTypeF32 {
		panic("FillRand only supports f32 mats")
	}
	rng := rand.New(rand.NewSource(seed))
	for i := range m.Data {
		m.Data[i] = (rng.Float32() - 0.5) * 0.02
	}
}

func u16le(raw []byte, off int) uint16 {
	return uint16(raw[off]) | uint16(raw[off+1])<<8
}

var (
	errNegativeDim      = fmtError("negative dimension for matrix")
	errUnsupportedDType = fmtError("unsupported dtype for raw matrix")
	errMatTooLarge      = fmtError("matrix too large")
	errRawSizeMismatch  = fmtError("raw data length mismatch")
)

type fmtError string

func (e fmtError) Error() string { return string(e) }
