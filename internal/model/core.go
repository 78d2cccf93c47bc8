package model

import (
	"fmt"
	"math"

	"github.com/samcharles93/qsweep/internal/tensor"
)

// Encode runs the embedding and encoder stack over a token sequence and
// returns the hidden state of the first position, the pooled feature
// vector of the classification head. The returned slice is scratch owned
// by the model and is overwritten by the next call.
func (c *Classifier) Encode(ids []int) ([]float32, error) {
	seqLen := len(ids)
	if seqLen == 0 {
		return nil, fmt.Errorf("empty token sequence")
	}
	if seqLen > c.Config.MaxPosition {
		return nil, fmt.Errorf("sequence length %d exceeds max position embeddings %d", seqLen, c.Config.MaxPosition)
	}

	hidden := c.Config.HiddenSize
	s := c.ensureScratch(seqLen)

	for t, id := range ids {
		if id < 0 || id >= c.Config.VocabSize {
			return nil, fmt.Errorf("token id out of range: %d", id)
		}
		x := s.h[t*hidden : (t+1)*hidden]
		c.TokenEmb.RowTo(x, id)
		tensor.Add(x, c.PosEmb.Row(t))
		tensor.LayerNorm(x, x, c.EmbNorm.Gamma, c.EmbNorm.Beta, c.Config.LayerNormEps)
	}

	for i := range c.Blocks {
		c.encodeBlock(&c.Blocks[i], s, seqLen)
	}
	return s.h[:hidden], nil
}

// encodeBlock applies one encoder layer to all positions in place:
// self-attention, residual, LayerNorm, then the GELU feed-forward,
// residual, LayerNorm.
func (c *Classifier) encodeBlock(b *Block, s *scratch, seqLen int) {
	hidden := c.Config.HiddenSize

	for t := range seqLen {
		x := s.h[t*hidden : (t+1)*hidden]
		b.QLin.Forward(s.q[t*hidden:(t+1)*hidden], x)
		b.KLin.Forward(s.k[t*hidden:(t+1)*hidden], x)
		b.VLin.Forward(s.v[t*hidden:(t+1)*hidden], x)
	}

	headDim := c.Config.HeadDim()
	attendAll(&attnContext{
		q:       s.q,
		k:       s.k,
		v:       s.v,
		out:     s.attn,
		seqLen:  seqLen,
		headDim: headDim,
		nHeads:  c.Config.NumHeads,
		scale:   float32(1.0 / math.Sqrt(float64(headDim))),
	})

	for t := range seqLen {
		x := s.h[t*hidden : (t+1)*hidden]
		b.OutLin.Forward(s.tmp, s.attn[t*hidden:(t+1)*hidden])
		tensor.Add(x, s.tmp[:hidden])
		tensor.LayerNorm(x, x, b.SANorm.Gamma, b.SANorm.Beta, c.Config.LayerNormEps)
	}

	inner := c.Config.IntermediateSize
	for t := range seqLen {
		x := s.h[t*hidden : (t+1)*hidden]
		b.Lin1.Forward(s.ff, x)
		tensor.GeluSlice(s.ff[:inner])
		b.Lin2.Forward(s.tmp, s.ff[:inner])
		tensor.Add(x, s.tmp[:hidden])
		tensor.LayerNorm(x, x, b.OutNorm.Gamma, b.OutNorm.Beta, c.Config.LayerNormEps)
	}
}

// Forward classifies a token sequence and returns the logits, one per
// label. The slice is scratch owned by the model and is overwritten by
// the next call.
func (c *Classifier) Forward(ids []int) ([]float32, error) {
	pooled, err := c.Encode(ids)
	if err != nil {
		return nil, err
	}
	s := &c.scratch
	c.PreClassifier.Forward(s.feat, pooled)
	tensor.TanhSlice(s.feat)
	c.Classifier.Forward(s.logits, s.feat)
	return s.logits, nil
}

// Predict returns the argmax class for a token sequence.
func (c *Classifier) Predict(ids []int) (int, error) {
	logits, err := c.Forward(ids)
	if err != nil {
		return -1, err
	}
	return tensor.Argmax(logits), nil
}
