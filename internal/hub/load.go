package hub

import (
	"context"
	"fmt"
	"os"

	"github.com/samcharles93/qsweep/internal/model"
	"github.com/samcharles93/qsweep/internal/safetensors"
	"github.com/samcharles93/qsweep/internal/tokenizer"
)

// Load resolves a checkpoint (fetching it when allowed), then
// assembles the classifier and its tokenizer. Tensor data is copied
// out of the checkpoint file, which is closed before returning.
func (c *Client) Load(ctx context.Context, ref string) (*model.Classifier, *tokenizer.WordPiece, Checkpoint, error) {
	cp, err := c.Ensure(ctx, ref)
	if err != nil {
		return nil, nil, Checkpoint{}, err
	}

	raw, err := os.ReadFile(cp.Config)
	if err != nil {
		return nil, nil, cp, fmt.Errorf("hub: read config: %w", err)
	}
	cfg, err := model.ParseConfig(raw)
	if err != nil {
		return nil, nil, cp, fmt.Errorf("hub: %s: %w", cp.Config, err)
	}

	st, err := safetensors.Open(cp.Model)
	if err != nil {
		return nil, nil, cp, err
	}
	m, err := model.LoadClassifier(st, cfg)
	closeErr := st.Close()
	if err != nil {
		return nil, nil, cp, fmt.Errorf("hub: load %s: %w", cp.Model, err)
	}
	if closeErr != nil {
		return nil, nil, cp, closeErr
	}

	tok, err := c.loadTokenizer(cp)
	if err != nil {
		return nil, nil, cp, err
	}

	c.log.Info("loaded checkpoint",
		"name", cp.Name,
		"layers", cfg.NumLayers,
		"hidden", cfg.HiddenSize,
		"labels", cfg.NumLabels,
		"vocab", tok.VocabSize(),
	)
	return m, tok, cp, nil
}

func (c *Client) loadTokenizer(cp Checkpoint) (*tokenizer.WordPiece, error) {
	switch {
	case cp.Tokenizer != "":
		tok, err := tokenizer.LoadHFTokenizer(cp.Tokenizer, cp.TokConfig)
		if err != nil {
			return nil, fmt.Errorf("hub: %s: %w", cp.Tokenizer, err)
		}
		return tok, nil
	case cp.Vocab != "":
		// BERT-family checkpoints shipping a bare vocab.txt are
		// uncased in practice.
		tok, err := tokenizer.LoadVocabTxt(cp.Vocab, true)
		if err != nil {
			return nil, fmt.Errorf("hub: %s: %w", cp.Vocab, err)
		}
		return tok, nil
	}
	return nil, fmt.Errorf("hub: checkpoint %q has no tokenizer.json or vocab.txt", cp.Name)
}
