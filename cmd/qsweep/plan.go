package main

import (
	"fmt"
	"os"

	"github.com/goccy/go-json"
)

// bestPlan is the JSON document `tune --out` writes: the winning layer
// configuration of a sweep, consumable by `quantize --config`.
type bestPlan struct {
	Study      string               `json:"study"`
	Trial      int                  `json:"trial"`
	Value      float64              `json:"value"`
	Direction  string               `json:"direction"`
	Checkpoint string               `json:"checkpoint"`
	Dataset    string               `json:"dataset,omitempty"`
	Layers     map[string]layerPlan `json:"layers"`
}

// layerPlan pins one swappable layer. Bits and ActBits only apply to
// quantized layers; a missing ActBits means int8 activations.
type layerPlan struct {
	Kind    string `json:"kind"`
	Bits    int    `json:"bits,omitempty"`
	ActBits int    `json:"act_bits,omitempty"`
}

func loadPlan(path string) (*bestPlan, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var plan bestPlan
	if err := json.Unmarshal(raw, &plan); err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	if len(plan.Layers) == 0 {
		return nil, fmt.Errorf("%s: plan has no layers", path)
	}
	return &plan, nil
}

func savePlan(path string, plan *bestPlan) error {
	raw, err := json.MarshalIndent(plan, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, append(raw, '\n'), 0o644)
}
