// Package tokenizer implements the WordPiece tokenizer used by the
// encoder classifiers this tool fine-tunes, with loaders for the
// huggingface tokenizer.json and plain vocab.txt formats.
package tokenizer

// Tokenizer is the minimal interface the dataset and CLI layers use.
type Tokenizer interface {
	Encode(text string) ([]int, error)
	Decode(ids []int) (string, error)
}
