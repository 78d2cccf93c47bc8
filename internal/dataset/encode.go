package dataset

import "fmt"

// Encoder tokenizes one classifier input. *tokenizer.WordPiece
// satisfies it.
type Encoder interface {
	EncodeForClassification(text string, maxLen int) ([]int, error)
}

// Encoded is a tokenized example ready for the model.
type Encoded struct {
	IDs   []int
	Label int
}

// Encode tokenizes every example, truncating to maxLen tokens.
func (d *Dataset) Encode(enc Encoder, maxLen int) ([]Encoded, error) {
	out := make([]Encoded, len(d.Examples))
	for i, ex := range d.Examples {
		ids, err := enc.EncodeForClassification(ex.Text, maxLen)
		if err != nil {
			return nil, fmt.Errorf("dataset: example %d: %w", i, err)
		}
		out[i] = Encoded{IDs: ids, Label: ex.Label}
	}
	return out, nil
}
