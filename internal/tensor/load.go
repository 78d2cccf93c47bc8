package tensor

import (
	"fmt"

	"github.com/samcharles93/qsweep/internal/safetensors"
)

// LoadMat loads a 2D matrix from a safetensors file. Quantized payloads
// (U8 tensors with quant metadata) come back as encoded mats; everything
// else is decoded to f32.
func LoadMat(st *safetensors.File, name string) (*Mat, error) {
	if dt, rows, cols, ok := st.QuantInfo(name); ok {
		payload, _, err := st.ReadTensor(name)
		if err != nil {
			return nil, err
		}
		m, err := NewMatFromRaw(rows, cols, dt, payload)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", name, err)
		}
		return &m, nil
	}

	data, info, err := st.ReadTensorF32(name)
	if err != nil {
		return nil, err
	}
	if len(info.Shape) != 2 {
		return nil, fmt.Errorf("%s: expected 2D tensor", name)
	}
	r := info.Shape[0]
	c := info.Shape[1]
	if r*c != len(data) {
		return nil, fmt.Errorf("%s: size mismatch", name)
	}
	m := NewMatFromData(r, c, data)
	return &m, nil
}

// LoadVec loads a 1D vector from a safetensors file.
func LoadVec(st *safetensors.File, name string) ([]float32, error) {
	data, info, err := st.ReadTensorF32(name)
	if err != nil {
		return nil, err
	}
	if len(info.Shape) != 1 {
		return nil, fmt.Errorf("%s: expected 1D tensor", name)
	}
	return data, nil
}
