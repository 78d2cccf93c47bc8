package model

import (
	"strings"
	"testing"
)

func TestParseConfigDistilBERTKeys(t *testing.T) {
	t.Parallel()
	raw := []byte(`{
		"model_type": "distilbert",
		"activation": "gelu",
		"vocab_size": 30522,
		"dim": 768,
		"hidden_dim": 3072,
		"n_layers": 6,
		"n_heads": 12,
		"max_position_embeddings": 512,
		"id2label": {"0": "NEGATIVE", "1": "POSITIVE"}
	}`)
	cfg, err := ParseConfig(raw)
	if err != nil {
		t.Fatalf("ParseConfig: %v", err)
	}
	if cfg.HiddenSize != 768 || cfg.IntermediateSize != 3072 || cfg.NumLayers != 6 || cfg.NumHeads != 12 {
		t.Fatalf("unexpected dims: %+v", cfg)
	}
	if cfg.HeadDim() != 64 {
		t.Fatalf("HeadDim = %d, want 64", cfg.HeadDim())
	}
	if cfg.NumLabels != 2 {
		t.Fatalf("NumLabels = %d, want 2", cfg.NumLabels)
	}
	if got := cfg.LabelName(1); got != "POSITIVE" {
		t.Fatalf("LabelName(1) = %q", got)
	}
	if cfg.LayerNormEps != 1e-12 {
		t.Fatalf("LayerNormEps = %v, want default 1e-12", cfg.LayerNormEps)
	}
}

func TestParseConfigBERTKeys(t *testing.T) {
	t.Parallel()
	raw := []byte(`{
		"model_type": "bert",
		"hidden_act": "gelu",
		"vocab_size": 1000,
		"hidden_size": 128,
		"intermediate_size": 512,
		"num_hidden_layers": 2,
		"num_attention_heads": 4,
		"max_position_embeddings": 64,
		"layer_norm_eps": 1e-6,
		"num_labels": 3
	}`)
	cfg, err := ParseConfig(raw)
	if err != nil {
		t.Fatalf("ParseConfig: %v", err)
	}
	if cfg.HiddenSize != 128 || cfg.IntermediateSize != 512 || cfg.NumLayers != 2 || cfg.NumHeads != 4 {
		t.Fatalf("unexpected dims: %+v", cfg)
	}
	if cfg.NumLabels != 3 {
		t.Fatalf("NumLabels = %d, want 3", cfg.NumLabels)
	}
	if cfg.LayerNormEps != 1e-6 {
		t.Fatalf("LayerNormEps = %v", cfg.LayerNormEps)
	}
}

func TestParseConfigDistilBERTSpellingWins(t *testing.T) {
	t.Parallel()
	raw := []byte(`{
		"vocab_size": 100,
		"dim": 64,
		"hidden_size": 999,
		"hidden_dim": 128,
		"intermediate_size": 777,
		"n_layers": 1,
		"n_heads": 2
	}`)
	cfg, err := ParseConfig(raw)
	if err != nil {
		t.Fatalf("ParseConfig: %v", err)
	}
	if cfg.HiddenSize != 64 || cfg.IntermediateSize != 128 {
		t.Fatalf("dim precedence broken: hidden %d intermediate %d", cfg.HiddenSize, cfg.IntermediateSize)
	}
}

func TestParseConfigDefaults(t *testing.T) {
	t.Parallel()
	raw := []byte(`{"vocab_size": 100, "dim": 64, "n_layers": 1, "n_heads": 2}`)
	cfg, err := ParseConfig(raw)
	if err != nil {
		t.Fatalf("ParseConfig: %v", err)
	}
	if cfg.MaxPosition != 512 {
		t.Fatalf("MaxPosition = %d, want default 512", cfg.MaxPosition)
	}
	if cfg.IntermediateSize != 256 {
		t.Fatalf("IntermediateSize = %d, want 4*hidden", cfg.IntermediateSize)
	}
	if cfg.NumLabels != 2 {
		t.Fatalf("NumLabels = %d, want default 2", cfg.NumLabels)
	}
	if got := cfg.LabelName(1); got != "LABEL_1" {
		t.Fatalf("LabelName fallback = %q", got)
	}
}

func TestParseConfigErrors(t *testing.T) {
	t.Parallel()
	tests := map[string]string{
		"bad json":          `{`,
		"relu activation":   `{"vocab_size": 10, "dim": 8, "n_layers": 1, "n_heads": 2, "activation": "relu"}`,
		"bad id2label key":  `{"vocab_size": 10, "dim": 8, "n_layers": 1, "n_heads": 2, "id2label": {"x": "A"}}`,
		"missing vocab":     `{"dim": 8, "n_layers": 1, "n_heads": 2}`,
		"missing layers":    `{"vocab_size": 10, "dim": 8, "n_heads": 2}`,
		"indivisible heads": `{"vocab_size": 10, "dim": 10, "n_layers": 1, "n_heads": 3}`,
	}
	for name, raw := range tests {
		if _, err := ParseConfig([]byte(raw)); err == nil {
			t.Errorf("%s: expected error", name)
		}
	}
}

func TestLabelNames(t *testing.T) {
	t.Parallel()
	cfg := &Config{NumLabels: 2, ID2Label: map[int]string{0: "negative", 1: "positive"}}
	got := cfg.LabelNames()
	if len(got) != 2 || got[0] != "negative" || got[1] != "positive" {
		t.Fatalf("LabelNames = %v", got)
	}
}

func TestParseConfigActivationCaseInsensitive(t *testing.T) {
	t.Parallel()
	raw := []byte(`{"vocab_size": 10, "dim": 8, "n_layers": 1, "n_heads": 2, "activation": " GELU "}`)
	if _, err := ParseConfig(raw); err != nil {
		t.Fatalf("ParseConfig: %v", err)
	}
	raw = []byte(`{"vocab_size": 10, "dim": 8, "n_layers": 1, "n_heads": 2, "activation": "silu"}`)
	_, err := ParseConfig(raw)
	if err == nil || !strings.Contains(err.Error(), "silu") {
		t.Fatalf("expected activation error naming silu, got %v", err)
	}
}
