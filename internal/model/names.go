package model

import "fmt"

// Checkpoint tensor names follow the DistilBERT layout. Upstream exports
// prefix the backbone tensors with "distilbert."; our own writer emits
// the bare form, and the loader accepts both.
const (
	wordEmbName = "embeddings.word_embeddings.weight"
	posEmbName  = "embeddings.position_embeddings.weight"
	embNormName = "embeddings.LayerNorm"

	saNormPart  = "sa_layer_norm"
	outNormPart = "output_layer_norm"

	preClassifierSlot = "pre_classifier"
	classifierSlot    = "classifier"

	backbonePrefix = "distilbert."
)

func layerName(layer int, part string) string {
	return fmt.Sprintf("transformer.layer.%d.%s", layer, part)
}

// slotWeight and slotBias map a registry slot name onto tensor names.
func slotWeight(slot string) string { return slot + ".weight" }
func slotBias(slot string) string   { return slot + ".bias" }

func candidates(name string) []string {
	return []string{name, backbonePrefix + name}
}
