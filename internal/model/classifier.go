package model

import (
	"fmt"

	"github.com/samcharles93/qsweep/internal/tensor"
)

// Norm holds LayerNorm gain and bias.
type Norm struct {
	Gamma []float32
	Beta  []float32
}

// Block is one encoder layer: multi-head self-attention and a GELU
// feed-forward, each followed by a residual add and LayerNorm.
type Block struct {
	QLin   Linear
	KLin   Linear
	VLin   Linear
	OutLin Linear
	SANorm Norm

	Lin1    Linear
	Lin2    Linear
	OutNorm Norm
}

// Classifier is a sequence-classification transformer: token and
// position embeddings, a stack of encoder blocks, first-token pooling
// and a two-layer head (pre_classifier + tanh, then classifier).
//
// A Classifier is not safe for concurrent use; Clone gives each
// goroutine its own forward state over shared encoder weights.
type Classifier struct {
	Config *Config

	TokenEmb *tensor.Mat
	PosEmb   *tensor.Mat
	EmbNorm  Norm

	Blocks []Block

	PreClassifier Linear
	Classifier    Linear

	scratch scratch
}

type scratch struct {
	h    []float32
	q    []float32
	k    []float32
	v    []float32
	attn []float32

	ff     []float32
	tmp    []float32
	feat   []float32
	logits []float32
}

func (c *Classifier) ensureScratch(seqLen int) *scratch {
	s := &c.scratch
	need := seqLen * c.Config.HiddenSize
	if cap(s.h) < need {
		s.h = make([]float32, need)
		s.q = make([]float32, need)
		s.k = make([]float32, need)
		s.v = make([]float32, need)
		s.attn = make([]float32, need)
	}
	s.h = s.h[:need]
	s.q = s.q[:need]
	s.k = s.k[:need]
	s.v = s.v[:need]
	s.attn = s.attn[:need]
	if s.ff == nil {
		s.ff = make([]float32, c.Config.IntermediateSize)
		s.tmp = make([]float32, c.Config.HiddenSize)
		s.feat = make([]float32, c.Config.HiddenSize)
		s.logits = make([]float32, c.Config.NumLabels)
	}
	return s
}

// NewClassifier builds a classifier with reproducible random dense
// weights. Tests and benchmarks use it to get a checkpoint-shaped model
// without touching the filesystem.
func NewClassifier(cfg *Config, seed int64) (*Classifier, error) {
	if cfg == nil {
		return nil, fmt.Errorf("nil config")
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	next := seed
	randMat := func(r, cols int) *tensor.Mat {
		m := tensor.NewMat(r, cols)
		tensor.FillRand(&m, next)
		next++
		return &m
	}
	randLinear := func(out, in int) Linear {
		return &Dense{W: randMat(out, in), B: make([]float32, out)}
	}
	identityNorm := func(n int) Norm {
		gamma := make([]float32, n)
		for i := range gamma {
			gamma[i] = 1
		}
		return Norm{Gamma: gamma, Beta: make([]float32, n)}
	}

	hidden, inner := cfg.HiddenSize, cfg.IntermediateSize
	c := &Classifier{
		Config:        cfg,
		TokenEmb:      randMat(cfg.VocabSize, hidden),
		PosEmb:        randMat(cfg.MaxPosition, hidden),
		EmbNorm:       identityNorm(hidden),
		Blocks:        make([]Block, cfg.NumLayers),
		PreClassifier: randLinear(hidden, hidden),
		Classifier:    randLinear(cfg.NumLabels, hidden),
	}
	for i := range c.Blocks {
		c.Blocks[i] = Block{
			QLin:    randLinear(hidden, hidden),
			KLin:    randLinear(hidden, hidden),
			VLin:    randLinear(hidden, hidden),
			OutLin:  randLinear(hidden, hidden),
			SANorm:  identityNorm(hidden),
			Lin1:    randLinear(inner, hidden),
			Lin2:    randLinear(hidden, inner),
			OutNorm: identityNorm(hidden),
		}
	}
	return c, nil
}

// Clone returns a classifier that shares the receiver's encoder weights
// but owns its forward scratch and deep copies of the head layers.
// Mutating or training the clone leaves the receiver untouched.
func (c *Classifier) Clone() *Classifier {
	blocks := make([]Block, len(c.Blocks))
	copy(blocks, c.Blocks)
	return &Classifier{
		Config:        c.Config,
		TokenEmb:      c.TokenEmb,
		PosEmb:        c.PosEmb,
		EmbNorm:       c.EmbNorm,
		Blocks:        blocks,
		PreClassifier: cloneLinear(c.PreClassifier),
		Classifier:    cloneLinear(c.Classifier),
	}
}

func cloneLinear(l Linear) Linear {
	d, ok := l.(*Dense)
	if !ok {
		// Quantized layers are frozen, so sharing is safe.
		return l
	}
	w := tensor.NewMatFromData(d.W.R, d.W.C, append([]float32(nil), d.W.Data...))
	var b []float32
	if d.B != nil {
		b = append([]float32(nil), d.B...)
	}
	return &Dense{W: &w, B: b}
}

// Bytes reports the model's weight footprint in memory.
func (c *Classifier) Bytes() int64 {
	vec := func(v []float32) int64 { return 4 * int64(len(v)) }
	mat := func(m *tensor.Mat) int64 {
		if m.Raw != nil {
			return int64(len(m.Raw))
		}
		return 4 * int64(m.R) * int64(m.C)
	}
	norm := func(n Norm) int64 { return vec(n.Gamma) + vec(n.Beta) }

	total := mat(c.TokenEmb) + mat(c.PosEmb) + norm(c.EmbNorm)
	for i := range c.Blocks {
		b := &c.Blocks[i]
		for _, l := range []Linear{b.QLin, b.KLin, b.VLin, b.OutLin, b.Lin1, b.Lin2} {
			total += l.Bytes()
		}
		total += norm(b.SANorm) + norm(b.OutNorm)
	}
	return total + c.PreClassifier.Bytes() + c.Classifier.Bytes()
}
