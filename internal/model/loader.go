package model

import (
	"fmt"

	"github.com/samcharles93/qsweep/internal/safetensors"
	"github.com/samcharles93/qsweep/internal/tensor"
)

// LoadClassifier assembles a classifier from an open checkpoint. Tensors
// carrying quant metadata come back as frozen Quant layers, everything
// else as Dense. Missing tensors and shape mismatches are errors naming
// the offending tensor.
func LoadClassifier(st *safetensors.File, cfg *Config) (*Classifier, error) {
	if st == nil {
		return nil, fmt.Errorf("nil checkpoint")
	}
	if cfg == nil {
		return nil, fmt.Errorf("nil config")
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	// The checkpoint knows its own FFN width; prefer it over the config
	// so files without a hidden_dim entry still load.
	cfgCopy := *cfg
	cfg = &cfgCopy
	if rows, ok := tensorRows(st, layerName(0, "ffn.lin1.weight")); ok && rows > 0 {
		cfg.IntermediateSize = rows
	}

	hidden := cfg.HiddenSize

	tokEmb, name, err := loadMatCandidates(st, candidates(wordEmbName))
	if err != nil {
		return nil, err
	}
	if tokEmb.R != cfg.VocabSize || tokEmb.C != hidden {
		return nil, fmt.Errorf("%s: shape %dx%d does not match vocab %d x hidden %d",
			name, tokEmb.R, tokEmb.C, cfg.VocabSize, hidden)
	}

	posEmb, name, err := loadMatCandidates(st, candidates(posEmbName))
	if err != nil {
		return nil, err
	}
	if posEmb.R != cfg.MaxPosition || posEmb.C != hidden {
		return nil, fmt.Errorf("%s: shape %dx%d does not match max positions %d x hidden %d",
			name, posEmb.R, posEmb.C, cfg.MaxPosition, hidden)
	}

	embNorm, err := loadNorm(st, embNormName, hidden)
	if err != nil {
		return nil, err
	}

	blocks := make([]Block, cfg.NumLayers)
	for i := range blocks {
		b := &blocks[i]
		if b.QLin, err = loadLinear(st, layerName(i, "attention.q_lin"), hidden, hidden); err != nil {
			return nil, err
		}
		if b.KLin, err = loadLinear(st, layerName(i, "attention.k_lin"), hidden, hidden); err != nil {
			return nil, err
		}
		if b.VLin, err = loadLinear(st, layerName(i, "attention.v_lin"), hidden, hidden); err != nil {
			return nil, err
		}
		if b.OutLin, err = loadLinear(st, layerName(i, "attention.out_lin"), hidden, hidden); err != nil {
			return nil, err
		}
		if b.SANorm, err = loadNorm(st, layerName(i, saNormPart), hidden); err != nil {
			return nil, err
		}
		if b.Lin1, err = loadLinear(st, layerName(i, "ffn.lin1"), cfg.IntermediateSize, hidden); err != nil {
			return nil, err
		}
		if b.Lin2, err = loadLinear(st, layerName(i, "ffn.lin2"), hidden, cfg.IntermediateSize); err != nil {
			return nil, err
		}
		if b.OutNorm, err = loadNorm(st, layerName(i, outNormPart), hidden); err != nil {
			return nil, err
		}
	}

	pre, err := loadLinear(st, preClassifierSlot, hidden, hidden)
	if err != nil {
		return nil, err
	}
	head, err := loadLinear(st, classifierSlot, cfg.NumLabels, hidden)
	if err != nil {
		return nil, err
	}

	return &Classifier{
		Config:        cfg,
		TokenEmb:      tokEmb,
		PosEmb:        posEmb,
		EmbNorm:       embNorm,
		Blocks:        blocks,
		PreClassifier: pre,
		Classifier:    head,
	}, nil
}

// loadLinear reads a slot's weight and bias, wrapping them as Dense or,
// when the weight carries quant metadata, as a frozen Quant layer with
// its decode cache pre-built.
func loadLinear(st *safetensors.File, slot string, out, in int) (Linear, error) {
	w, name, err := loadMatCandidates(st, candidates(slotWeight(slot)))
	if err != nil {
		return nil, err
	}
	if w.R != out || w.C != in {
		return nil, fmt.Errorf("%s: shape %dx%d, want %dx%d", name, w.R, w.C, out, in)
	}
	b, bname, err := loadVecCandidates(st, candidates(slotBias(slot)))
	if err != nil {
		return nil, err
	}
	if len(b) != out {
		return nil, fmt.Errorf("%s: length %d, want %d", bname, len(b), out)
	}
	if w.DType.IsQuantized() {
		qc, err := tensor.BuildQuantCache(w)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", name, err)
		}
		w.Quant = qc
		return &Quant{W: w, B: b, ActBits: 8}, nil
	}
	return &Dense{W: w, B: b}, nil
}

func loadNorm(st *safetensors.File, base string, n int) (Norm, error) {
	gamma, gname, err := loadVecCandidates(st, candidates(base+".weight"))
	if err != nil {
		return Norm{}, err
	}
	if len(gamma) != n {
		return Norm{}, fmt.Errorf("%s: length %d, want %d", gname, len(gamma), n)
	}
	beta, bname, err := loadVecCandidates(st, candidates(base+".bias"))
	if err != nil {
		return Norm{}, err
	}
	if len(beta) != n {
		return Norm{}, fmt.Errorf("%s: length %d, want %d", bname, len(beta), n)
	}
	return Norm{Gamma: gamma, Beta: beta}, nil
}

func loadMatCandidates(st *safetensors.File, names []string) (*tensor.Mat, string, error) {
	for _, name := range names {
		if _, ok := st.Tensor(name); !ok {
			continue
		}
		m, err := tensor.LoadMat(st, name)
		if err != nil {
			return nil, "", err
		}
		return m, name, nil
	}
	return nil, "", fmt.Errorf("missing tensor %q (tried %v)", names[0], names)
}

func loadVecCandidates(st *safetensors.File, names []string) ([]float32, string, error) {
	for _, name := range names {
		if _, ok := st.Tensor(name); !ok {
			continue
		}
		v, err := tensor.LoadVec(st, name)
		if err != nil {
			return nil, "", err
		}
		return v, name, nil
	}
	return nil, "", fmt.Errorf("missing tensor %q (tried %v)", names[0], names)
}

// tensorRows peeks at a 2D tensor's row count without reading its data.
func tensorRows(st *safetensors.File, name string) (int, bool) {
	for _, n := range candidates(name) {
		if _, rows, _, ok := st.QuantInfo(n); ok {
			return rows, true
		}
		if info, ok := st.Tensor(n); ok && len(info.Shape) == 2 {
			return info.Shape[0], true
		}
	}
	return 0, false
}
