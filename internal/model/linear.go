package model

import (
	"fmt"

	"github.com/samcharles93/qsweep/internal/tensor"
	"github.com/samcharles93/qsweep/pkg/qblock"
)

// Linear is one learned affine projection inside the classifier. The two
// implementations differ only in how the weight matrix is stored; biases
// are always float32.
type Linear interface {
	// Forward computes dst = W*x + b. dst must hold at least OutFeatures
	// values and must not alias x.
	Forward(dst, x []float32)
	InFeatures() int
	OutFeatures() int
	// Bits is the nominal weight width: 32 for dense layers, the qblock
	// mantissa width for quantized ones.
	Bits() int
	// Bytes is the weight footprint in memory, scales and bias included.
	Bytes() int64
}

// Dense stores the weight as float32.
type Dense struct {
	W *tensor.Mat
	B []float32
}

// NewDense wraps a weight matrix and optional bias as a layer.
func NewDense(w *tensor.Mat, b []float32) *Dense {
	return &Dense{W: w, B: b}
}

func (l *Dense) Forward(dst, x []float32) {
	tensor.MatVec(dst, l.W, x)
	if l.B != nil {
		tensor.Add(dst[:l.W.R], l.B)
	}
}

func (l *Dense) InFeatures() int  { return l.W.C }
func (l *Dense) OutFeatures() int { return l.W.R }
func (l *Dense) Bits() int        { return 32 }

func (l *Dense) Bytes() int64 {
	return 4 * (int64(l.W.R)*int64(l.W.C) + int64(len(l.B)))
}

// Quant stores the weight as a block-quantized payload. Quantized layers
// are frozen: they run forward but cannot be trained or re-quantized.
// ActBits selects the activation path: 32 keeps the input in float32 and
// dots it against dequantized rows, anything else takes the int8 block
// path.
type Quant struct {
	W       *tensor.Mat
	B       []float32
	ActBits int
}

func (l *Quant) Forward(dst, x []float32) {
	if l.ActBits == 32 {
		tensor.MatVec(dst, l.W, x)
	} else {
		qx := tensor.PrepareQuantVec(x)
		tensor.MatVecWithQuant(dst, l.W, x, qx)
		tensor.ReleaseQuantVec(qx)
	}
	if l.B != nil {
		tensor.Add(dst[:l.W.R], l.B)
	}
}

func (l *Quant) InFeatures() int  { return l.W.C }
func (l *Quant) OutFeatures() int { return l.W.R }
func (l *Quant) Bits() int        { return l.W.DType.Bits() }

func (l *Quant) Bytes() int64 {
	return int64(len(l.W.Raw)) + 4*int64(len(l.B))
}

// DType is the payload format of the quantized weight.
func (l *Quant) DType() qblock.DType { return l.W.DType }

// QuantizeLinear encodes a dense layer into the given block format. The
// bias is shared by reference and the dense weights are left untouched.
func QuantizeLinear(d *Dense, dt qblock.DType) (*Quant, error) {
	if d == nil || d.W == nil {
		return nil, fmt.Errorf("quantize: nil layer")
	}
	payload, err := qblock.Quantize(d.W.Data, d.W.R, d.W.C, dt)
	if err != nil {
		return nil, err
	}
	m, err := tensor.NewMatFromRaw(d.W.R, d.W.C, dt, payload)
	if err != nil {
		return nil, err
	}
	qc, err := tensor.BuildQuantCache(&m)
	if err != nil {
		return nil, err
	}
	m.Quant = qc
	return &Quant{W: &m, B: d.B, ActBits: 8}, nil
}
