package model

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/goccy/go-json"
)

// hfConfig mirrors the config.json fields this runtime consumes. Both the
// DistilBERT spellings (dim, hidden_dim, n_layers, n_heads) and the BERT
// spellings (hidden_size, intermediate_size, num_hidden_layers,
// num_attention_heads) are accepted; the DistilBERT spelling wins when a
// file carries both.
type hfConfig struct {
	ModelType  string `json:"model_type"`
	Activation string `json:"activation"`
	HiddenAct  string `json:"hidden_act"`

	VocabSize int `json:"vocab_size"`

	Dim        int `json:"dim"`
	HiddenSize int `json:"hidden_size"`

	HiddenDim        int `json:"hidden_dim"`
	IntermediateSize int `json:"intermediate_size"`

	NLayers         int `json:"n_layers"`
	NumHiddenLayers int `json:"num_hidden_layers"`

	NHeads            int `json:"n_heads"`
	NumAttentionHeads int `json:"num_attention_heads"`

	MaxPosition int `json:"max_position_embeddings"`

	LayerNormEps float64 `json:"layer_norm_eps"`

	NumLabels int               `json:"num_labels"`
	ID2Label  map[string]string `json:"id2label"`
}

// Config holds the hyperparameters of a classifier checkpoint.
type Config struct {
	ModelType        string
	VocabSize        int
	HiddenSize       int
	IntermediateSize int
	NumLayers        int
	NumHeads         int
	MaxPosition      int
	LayerNormEps     float32
	NumLabels        int
	ID2Label         map[int]string
}

// ParseConfig reads an HF-style config.json. Missing optional fields get
// the DistilBERT defaults: 512 positions, eps 1e-12, intermediate size
// 4*hidden, two labels.
func ParseConfig(raw []byte) (*Config, error) {
	var hf hfConfig
	if err := json.Unmarshal(raw, &hf); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	if act := firstNonEmpty(hf.Activation, hf.HiddenAct); act != "" {
		if strings.ToLower(strings.TrimSpace(act)) != "gelu" {
			return nil, fmt.Errorf("unsupported activation %q (this runtime only implements gelu)", act)
		}
	}

	cfg := &Config{
		ModelType:        hf.ModelType,
		VocabSize:        hf.VocabSize,
		HiddenSize:       firstPositive(hf.Dim, hf.HiddenSize),
		IntermediateSize: firstPositive(hf.HiddenDim, hf.IntermediateSize),
		NumLayers:        firstPositive(hf.NLayers, hf.NumHiddenLayers),
		NumHeads:         firstPositive(hf.NHeads, hf.NumAttentionHeads),
		MaxPosition:      hf.MaxPosition,
		LayerNormEps:     float32(hf.LayerNormEps),
		NumLabels:        hf.NumLabels,
	}
	if cfg.MaxPosition <= 0 {
		cfg.MaxPosition = 512
	}
	if cfg.LayerNormEps <= 0 {
		cfg.LayerNormEps = 1e-12
	}
	if cfg.IntermediateSize <= 0 && cfg.HiddenSize > 0 {
		cfg.IntermediateSize = 4 * cfg.HiddenSize
	}

	labels, err := parseID2Label(hf.ID2Label)
	if err != nil {
		return nil, err
	}
	cfg.ID2Label = labels
	if cfg.NumLabels <= 0 {
		cfg.NumLabels = len(labels)
	}
	if cfg.NumLabels <= 0 {
		cfg.NumLabels = 2
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func parseID2Label(raw map[string]string) (map[int]string, error) {
	if len(raw) == 0 {
		return nil, nil
	}
	labels := make(map[int]string, len(raw))
	for k, v := range raw {
		id, err := strconv.Atoi(k)
		if err != nil {
			return nil, fmt.Errorf("id2label key %q is not an integer", k)
		}
		labels[id] = v
	}
	return labels, nil
}

// Validate checks the dimensions a forward pass depends on.
func (c *Config) Validate() error {
	switch {
	case c.VocabSize <= 0:
		return fmt.Errorf("vocab_size must be positive")
	case c.HiddenSize <= 0:
		return fmt.Errorf("hidden size must be positive")
	case c.IntermediateSize <= 0:
		return fmt.Errorf("intermediate size must be positive")
	case c.NumLayers <= 0:
		return fmt.Errorf("layer count must be positive")
	case c.NumHeads <= 0:
		return fmt.Errorf("head count must be positive")
	case c.MaxPosition <= 0:
		return fmt.Errorf("max_position_embeddings must be positive")
	case c.NumLabels <= 0:
		return fmt.Errorf("label count must be positive")
	}
	if c.HiddenSize%c.NumHeads != 0 {
		return fmt.Errorf("hidden size %d is not divisible by %d heads", c.HiddenSize, c.NumHeads)
	}
	return nil
}

// HeadDim is the per-head width of the attention projections.
func (c *Config) HeadDim() int { return c.HiddenSize / c.NumHeads }

// LabelName resolves a class index to its display name, falling back to
// the HF-style LABEL_<n> placeholder.
func (c *Config) LabelName(i int) string {
	if name, ok := c.ID2Label[i]; ok {
		return name
	}
	return fmt.Sprintf("LABEL_%d", i)
}

// LabelNames lists the display names for classes 0..NumLabels-1.
func (c *Config) LabelNames() []string {
	names := make([]string, c.NumLabels)
	for i := range names {
		names[i] = c.LabelName(i)
	}
	return names
}

func firstPositive(vals ...int) int {
	for _, v := range vals {
		if v > 0 {
			return v
		}
	}
	return 0
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if v != "" {
			return v
		}
	}
	return ""
}
