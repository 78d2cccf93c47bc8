package train

import (
	"fmt"
	"math"

	"github.com/samcharles93/qsweep/internal/model"
	"github.com/samcharles93/qsweep/internal/tensor"
)

// headTrainer updates the classification head with SGD + momentum and
// softmax cross-entropy. The pre_classifier layer trains only while it
// is still dense; once quantized it is frozen and folded into the
// features, leaving the final classifier as the sole trainable layer.
type headTrainer struct {
	pre *model.Dense // nil when frozen
	cls *model.Dense

	lr  float32
	mom float32

	gW1, vW1 tensor.Mat
	gB1, vB1 []float32
	gW2, vW2 tensor.Mat
	gB2, vB2 []float32

	a1     []float32
	da1    []float32
	dz1    []float32
	logits []float32
	dz2    []float32
}

func newHeadTrainer(m *model.Classifier, cfg Config) (*headTrainer, error) {
	cls, ok := m.Classifier.(*model.Dense)
	if !ok {
		return nil, fmt.Errorf("classifier head is quantized; nothing left to train")
	}
	if cls.B == nil {
		cls.B = make([]float32, cls.W.R)
	}

	h := &headTrainer{
		cls:    cls,
		lr:     float32(cfg.LearningRate),
		mom:    float32(cfg.Momentum),
		gW2:    tensor.NewMat(cls.W.R, cls.W.C),
		vW2:    tensor.NewMat(cls.W.R, cls.W.C),
		gB2:    make([]float32, cls.W.R),
		vB2:    make([]float32, cls.W.R),
		logits: make([]float32, cls.W.R),
		dz2:    make([]float32, cls.W.R),
	}

	if pre, ok := m.PreClassifier.(*model.Dense); ok {
		h.pre = pre
		if pre.B == nil {
			pre.B = make([]float32, pre.W.R)
		}
		h.gW1 = tensor.NewMat(pre.W.R, pre.W.C)
		h.vW1 = tensor.NewMat(pre.W.R, pre.W.C)
		h.gB1 = make([]float32, pre.W.R)
		h.vB1 = make([]float32, pre.W.R)
		h.a1 = make([]float32, pre.W.R)
		h.da1 = make([]float32, pre.W.R)
		h.dz1 = make([]float32, pre.W.R)
	}
	return h, nil
}

func (h *headTrainer) frozenPre() bool { return h.pre == nil }

// step accumulates gradients over one batch of feature indices, applies
// a single SGD update and returns the summed cross-entropy loss.
func (h *headTrainer) step(feats [][]float32, labels []int, batch []int) float64 {
	h.zeroGrads()

	var loss float64
	for _, i := range batch {
		loss += h.accumulate(feats[i], labels[i])
	}

	scale := float32(1) / float32(len(batch))
	if h.pre != nil {
		sgdMat(h.pre.W, &h.gW1, &h.vW1, h.lr, h.mom, scale)
		sgdVec(h.pre.B, h.gB1, h.vB1, h.lr, h.mom, scale)
	}
	sgdMat(h.cls.W, &h.gW2, &h.vW2, h.lr, h.mom, scale)
	sgdVec(h.cls.B, h.gB2, h.vB2, h.lr, h.mom, scale)
	return loss
}

// accumulate runs one forward/backward pass and adds the example's
// gradients into the batch accumulators.
func (h *headTrainer) accumulate(f []float32, label int) float64 {
	in := f
	if h.pre != nil {
		h.pre.Forward(h.a1, f)
		tensor.TanhSlice(h.a1)
		in = h.a1
	}
	h.cls.Forward(h.logits, in)

	lse := tensor.LogSumExp(h.logits)
	for i, v := range h.logits {
		h.dz2[i] = float32(math.Exp(float64(v - lse)))
	}
	h.dz2[label]--

	tensor.AddOuter(&h.gW2, h.dz2, in, 1)
	tensor.Add(h.gB2, h.dz2)

	if h.pre != nil {
		tensor.MatVecT(h.da1, h.cls.W, h.dz2)
		for i, a := range h.a1 {
			h.dz1[i] = h.da1[i] * (1 - a*a)
		}
		tensor.AddOuter(&h.gW1, h.dz1, f, 1)
		tensor.Add(h.gB1, h.dz1)
	}

	return float64(lse - h.logits[label])
}

func (h *headTrainer) predict(f []float32) int {
	in := f
	if h.pre != nil {
		h.pre.Forward(h.a1, f)
		tensor.TanhSlice(h.a1)
		in = h.a1
	}
	h.cls.Forward(h.logits, in)
	return tensor.Argmax(h.logits)
}

func (h *headTrainer) zeroGrads() {
	if h.pre != nil {
		clear(h.gW1.Data)
		clear(h.gB1)
	}
	clear(h.gW2.Data)
	clear(h.gB2)
}

// sgdMat applies v = mom*v - lr*scale*g; w += v row by row so padded
// strides stay untouched.
func sgdMat(w, g, v *tensor.Mat, lr, mom, scale float32) {
	for r := 0; r < w.R; r++ {
		wr := w.Data[r*w.Stride : r*w.Stride+w.C]
		gr := g.Data[r*g.Stride : r*g.Stride+g.C]
		vr := v.Data[r*v.Stride : r*v.Stride+v.C]
		for j := range wr {
			vr[j] = mom*vr[j] - lr*scale*gr[j]
			wr[j] += vr[j]
		}
	}
}

func sgdVec(w, g, v []float32, lr, mom, scale float32) {
	for j := range w {
		v[j] = mom*v[j] - lr*scale*g[j]
		w[j] += v[j]
	}
}
