package train

import (
	"context"
	"math"
	"strings"
	"testing"

	"github.com/samcharles93/qsweep/internal/dataset"
	"github.com/samcharles93/qsweep/internal/model"
	"github.com/samcharles93/qsweep/internal/tensor"
	"github.com/samcharles93/qsweep/pkg/qblock"
)

func testCfg() *model.Config {
	return &model.Config{
		VocabSize:        40,
		HiddenSize:       64,
		IntermediateSize: 128,
		NumLayers:        2,
		NumHeads:         4,
		MaxPosition:      16,
		LayerNormEps:     1e-12,
		NumLabels:        2,
	}
}

// encodeSynthetic tokenizes the synthetic review set against the fixed
// generator vocabulary without going through a real tokenizer.
func encodeSynthetic(t *testing.T, n int) []dataset.Encoded {
	t.Helper()
	vocab := dataset.Vocabulary()
	index := make(map[string]int, len(vocab))
	for i, w := range vocab {
		index[w] = i
	}
	ds := dataset.Synthetic(n, 3)
	out := make([]dataset.Encoded, 0, n)
	for _, ex := range ds.Examples {
		ids := []int{index["[CLS]"]}
		for _, w := range strings.Fields(ex.Text) {
			id, ok := index[w]
			if !ok {
				t.Fatalf("synthetic word %q missing from vocabulary", w)
			}
			ids = append(ids, id)
		}
		ids = append(ids, index["[SEP]"])
		out = append(out, dataset.Encoded{IDs: ids, Label: ex.Label})
	}
	return out
}

func TestHeadTrainerLearnsSeparableFeatures(t *testing.T) {
	t.Parallel()

	// Freeze the pre_classifier by quantizing it so only the final
	// softmax layer trains. That objective is convex, so full-batch
	// SGD on cleanly separable one-hot features must reach perfect
	// training accuracy.
	preW := tensor.NewMat(32, 32)
	tensor.FillRand(&preW, 11)
	quantPre, err := model.QuantizeLinear(model.NewDense(&preW, make([]float32, 32)), qblock.DTypeQ8)
	if err != nil {
		t.Fatalf("QuantizeLinear: %v", err)
	}

	clsW := tensor.NewMat(3, 8)
	m := &model.Classifier{
		PreClassifier: quantPre,
		Classifier:    model.NewDense(&clsW, make([]float32, 3)),
	}

	head, err := newHeadTrainer(m, Config{LearningRate: 0.3, Momentum: 0.9}.withDefaults())
	if err != nil {
		t.Fatalf("newHeadTrainer: %v", err)
	}
	if !head.frozenPre() {
		t.Fatalf("expected quantized pre_classifier to be frozen")
	}

	const examples = 24
	feats := make([][]float32, examples)
	labels := make([]int, examples)
	batch := make([]int, examples)
	for i := range feats {
		label := i % 3
		f := make([]float32, 8)
		f[label] = 3
		feats[i] = f
		labels[i] = label
		batch[i] = i
	}

	first := head.step(feats, labels, batch)
	var last float64
	for i := 0; i < 300; i++ {
		last = head.step(feats, labels, batch)
	}
	if !(last < first) {
		t.Fatalf("loss did not decrease: first %v last %v", first, last)
	}

	for i := range feats {
		if got := head.predict(feats[i]); got != labels[i] {
			t.Fatalf("example %d predicted %d, want %d", i, got, labels[i])
		}
	}
}

func TestRunImprovesTrainingAccuracy(t *testing.T) {
	t.Parallel()
	m, err := model.NewClassifier(testCfg(), 1)
	if err != nil {
		t.Fatalf("NewClassifier: %v", err)
	}
	data := encodeSynthetic(t, 48)

	tr := New(Config{Epochs: 12, BatchSize: 8, LearningRate: 0.1, Seed: 7}, nil)
	res, err := tr.Run(context.Background(), m, data)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if res.Examples != len(data) {
		t.Fatalf("Examples = %d, want %d", res.Examples, len(data))
	}
	if res.Accuracy < 0.7 || res.Accuracy > 1 {
		t.Fatalf("training accuracy %v outside expected range", res.Accuracy)
	}
	if math.IsNaN(res.Loss) || math.IsInf(res.Loss, 0) || res.Loss < 0 {
		t.Fatalf("bad loss %v", res.Loss)
	}
	if res.Duration <= 0 || res.ExamplesPerSec <= 0 {
		t.Fatalf("bad throughput: duration %v rate %v", res.Duration, res.ExamplesPerSec)
	}
}

func TestRunParallelExtractionMatchesSerial(t *testing.T) {
	t.Parallel()
	data := encodeSynthetic(t, 32)
	cfg := Config{Epochs: 2, BatchSize: 8, Seed: 5}

	run := func(workers int) Result {
		m, err := model.NewClassifier(testCfg(), 42)
		if err != nil {
			t.Fatalf("NewClassifier: %v", err)
		}
		c := cfg
		c.Workers = workers
		res, err := New(c, nil).Run(context.Background(), m, data)
		if err != nil {
			t.Fatalf("Run(workers=%d): %v", workers, err)
		}
		return res
	}

	serial := run(1)
	parallel := run(4)
	if serial.Accuracy != parallel.Accuracy {
		t.Fatalf("accuracy diverged: serial %v parallel %v", serial.Accuracy, parallel.Accuracy)
	}
	if math.Abs(serial.Loss-parallel.Loss) > 1e-9 {
		t.Fatalf("loss diverged: serial %v parallel %v", serial.Loss, parallel.Loss)
	}
}

func TestRunWithQuantizedPreClassifier(t *testing.T) {
	t.Parallel()
	m, err := model.NewClassifier(testCfg(), 9)
	if err != nil {
		t.Fatalf("NewClassifier: %v", err)
	}
	q, err := model.QuantizeLinear(m.PreClassifier.(*model.Dense), qblock.DTypeQ8)
	if err != nil {
		t.Fatalf("QuantizeLinear: %v", err)
	}
	m.PreClassifier = q

	data := encodeSynthetic(t, 24)
	res, err := New(Config{Epochs: 2, BatchSize: 8, Seed: 1}, nil).Run(context.Background(), m, data)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if res.Accuracy < 0 || res.Accuracy > 1 {
		t.Fatalf("accuracy %v out of range", res.Accuracy)
	}
	if m.PreClassifier != q {
		t.Fatalf("frozen pre_classifier was replaced during training")
	}
}

func TestRunHonoursCancellation(t *testing.T) {
	t.Parallel()
	m, err := model.NewClassifier(testCfg(), 2)
	if err != nil {
		t.Fatalf("NewClassifier: %v", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err = New(Config{}, nil).Run(ctx, m, encodeSynthetic(t, 8))
	if err == nil {
		t.Fatalf("expected error from cancelled context")
	}
}

func TestRunCapsExamples(t *testing.T) {
	t.Parallel()
	m, err := model.NewClassifier(testCfg(), 3)
	if err != nil {
		t.Fatalf("NewClassifier: %v", err)
	}
	res, err := New(Config{MaxExamples: 10, Epochs: 1}, nil).Run(context.Background(), m, encodeSynthetic(t, 40))
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if res.Examples != 10 {
		t.Fatalf("Examples = %d, want 10", res.Examples)
	}
}

func TestEvaluateZeroModelPredictsBias(t *testing.T) {
	t.Parallel()
	cfg := testCfg()
	m := zeroModel(t, cfg)
	head := m.Classifier.(*model.Dense)
	head.B[1] = 2 // every forward pass argmaxes to class 1

	data := encodeSynthetic(t, 30)
	ones := 0
	for _, ex := range data {
		if ex.Label == 1 {
			ones++
		}
	}

	acc, err := Evaluate(context.Background(), m, data)
	if err != nil {
		t.Fatalf("Evaluate: %v", err)
	}
	want := float64(ones) / float64(len(data))
	if math.Abs(acc-want) > 1e-12 {
		t.Fatalf("accuracy = %v, want %v", acc, want)
	}
}

func TestEvaluateEmptySplit(t *testing.T) {
	t.Parallel()
	m := zeroModel(t, testCfg())
	if _, err := Evaluate(context.Background(), m, nil); err == nil {
		t.Fatalf("expected error for empty split")
	}
}

func TestEvaluateHonoursCancellation(t *testing.T) {
	t.Parallel()
	m := zeroModel(t, testCfg())
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := Evaluate(ctx, m, encodeSynthetic(t, 4)); err == nil {
		t.Fatalf("expected error from cancelled context")
	}
}

// zeroModel builds a classifier whose weights are all zero, so logits
// always equal the classifier bias.
func zeroModel(t *testing.T, cfg *model.Config) *model.Classifier {
	t.Helper()
	zeroLinear := func(out, in int) model.Linear {
		m := tensor.NewMat(out, in)
		return model.NewDense(&m, make([]float32, out))
	}
	identityNorm := func(n int) model.Norm {
		gamma := make([]float32, n)
		for i := range gamma {
			gamma[i] = 1
		}
		return model.Norm{Gamma: gamma, Beta: make([]float32, n)}
	}
	hidden, inner := cfg.HiddenSize, cfg.IntermediateSize
	tok := tensor.NewMat(cfg.VocabSize, hidden)
	pos := tensor.NewMat(cfg.MaxPosition, hidden)
	m := &model.Classifier{
		Config:        cfg,
		TokenEmb:      &tok,
		PosEmb:        &pos,
		EmbNorm:       identityNorm(hidden),
		Blocks:        make([]model.Block, cfg.NumLayers),
		PreClassifier: zeroLinear(hidden, hidden),
		Classifier:    zeroLinear(cfg.NumLabels, hidden),
	}
	for i := range m.Blocks {
		m.Blocks[i] = model.Block{
			QLin: zeroLinear(hidden, hidden), KLin: zeroLinear(hidden, hidden),
			VLin: zeroLinear(hidden, hidden), OutLin: zeroLinear(hidden, hidden),
			SANorm: identityNorm(hidden),
			Lin1:   zeroLinear(inner, hidden), Lin2: zeroLinear(hidden, inner),
			OutNorm: identityNorm(hidden),
		}
	}
	return m
}
