package dataset

import (
	"math/rand"
	"strings"
)

// Word banks for the synthetic review generator. Kept lowercase and
// alphabetic so a vocabulary built from Vocabulary() tokenizes every
// generated sentence without unknowns.
var (
	synOpeners  = []string{"honestly", "frankly", "overall", "truly"}
	synSubjects = []string{"film", "plot", "acting", "script", "pacing", "soundtrack"}
	synVerbs    = []string{"was", "felt", "seemed", "looked"}
	synNegative = []string{"dull", "clumsy", "tedious", "flat", "forgettable", "messy"}
	synPositive = []string{"brilliant", "delightful", "moving", "sharp", "gorgeous", "memorable"}
	synClosers  = []string{"throughout", "somehow", "entirely", "undeniably"}
)

// SyntheticLabels names the two classes produced by Synthetic.
var SyntheticLabels = []string{"negative", "positive"}

// Synthetic generates n balanced seeded movie-review-style examples.
// Even indices are negative, odd positive, so any prefix of the dataset
// stays near-balanced.
func Synthetic(n int, seed int64) Dataset {
	rng := rand.New(rand.NewSource(seed))
	examples := make([]Example, n)
	for i := range examples {
		label := i % 2
		bank := synNegative
		if label == 1 {
			bank = synPositive
		}
		parts := []string{
			synOpeners[rng.Intn(len(synOpeners))],
			"the",
			synSubjects[rng.Intn(len(synSubjects))],
			synVerbs[rng.Intn(len(synVerbs))],
			bank[rng.Intn(len(bank))],
			synClosers[rng.Intn(len(synClosers))],
		}
		examples[i] = Example{Text: strings.Join(parts, " "), Label: label}
	}
	return Dataset{Examples: examples, Labels: append([]string(nil), SyntheticLabels...)}
}

// Vocabulary returns a fixed-order vocabulary covering every word the
// synthetic generator can emit, with the usual special tokens first.
func Vocabulary() []string {
	vocab := []string{"[PAD]", "[UNK]", "[CLS]", "[SEP]", "[MASK]", "the"}
	for _, bank := range [][]string{synOpeners, synSubjects, synVerbs, synNegative, synPositive, synClosers} {
		vocab = append(vocab, bank...)
	}
	return vocab
}
