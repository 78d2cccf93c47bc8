package model

import (
	"fmt"

	"github.com/samcharles93/qsweep/internal/safetensors"
	"github.com/samcharles93/qsweep/internal/tensor"
)

// Export adds every model tensor to w under the bare checkpoint names.
// Dense weights are written as F32 tensors, quantized weights as qblock
// payloads with quant metadata, so LoadClassifier reconstructs the exact
// same layers.
func (c *Classifier) Export(w *safetensors.Writer) error {
	addMat := func(name string, m *tensor.Mat) error {
		if m.DType.IsQuantized() {
			return w.AddQuant(name, m.DType, m.R, m.C, m.Raw)
		}
		if m.Data == nil {
			return fmt.Errorf("%s: cannot export non-f32 dense tensor", name)
		}
		return w.AddF32(name, []int{m.R, m.C}, m.Data)
	}
	addVec := func(name string, v []float32) error {
		return w.AddF32(name, []int{len(v)}, v)
	}
	addNorm := func(base string, n Norm) error {
		if err := addVec(base+".weight", n.Gamma); err != nil {
			return err
		}
		return addVec(base+".bias", n.Beta)
	}

	if err := addMat(wordEmbName, c.TokenEmb); err != nil {
		return err
	}
	if err := addMat(posEmbName, c.PosEmb); err != nil {
		return err
	}
	if err := addNorm(embNormName, c.EmbNorm); err != nil {
		return err
	}
	for i := range c.Blocks {
		b := &c.Blocks[i]
		if err := addNorm(layerName(i, saNormPart), b.SANorm); err != nil {
			return err
		}
		if err := addNorm(layerName(i, outNormPart), b.OutNorm); err != nil {
			return err
		}
	}
	for _, slot := range c.NamedLinears() {
		if err := addLinear(w, slot.Name, slot.Get()); err != nil {
			return err
		}
	}
	return nil
}

func addLinear(w *safetensors.Writer, slot string, l Linear) error {
	switch v := l.(type) {
	case *Dense:
		if err := w.AddF32(slotWeight(slot), []int{v.W.R, v.W.C}, v.W.Data); err != nil {
			return err
		}
		return w.AddF32(slotBias(slot), []int{len(v.B)}, v.B)
	case *Quant:
		if err := w.AddQuant(slotWeight(slot), v.W.DType, v.W.R, v.W.C, v.W.Raw); err != nil {
			return err
		}
		return w.AddF32(slotBias(slot), []int{len(v.B)}, v.B)
	default:
		return fmt.Errorf("%s: unsupported layer type %T", slot, l)
	}
}
