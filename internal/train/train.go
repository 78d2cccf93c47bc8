// Package train fine-tunes the classification head of a frozen encoder
// and scores the result. It is the objective half of a sweep trial: the
// encoder (dense or quantized) only ever runs forward, so pooled
// features are extracted once and the two small head layers are trained
// with plain SGD on top of them.
package train

import (
	"context"
	"fmt"
	"math/rand"
	"time"

	"github.com/samcharles93/qsweep/internal/dataset"
	"github.com/samcharles93/qsweep/internal/logger"
	"github.com/samcharles93/qsweep/internal/model"
)

// Config controls a head fine-tune pass.
type Config struct {
	// Epochs over the training split. Zero means one.
	Epochs int
	// BatchSize for gradient accumulation. Zero means 16.
	BatchSize int
	// LearningRate for SGD. Zero means 0.05.
	LearningRate float64
	// Momentum for the SGD velocity term. Zero means 0.9 (set a
	// negative value for none).
	Momentum float64
	// Seed drives example shuffling.
	Seed int64
	// MaxExamples caps the training split, 0 for all of it.
	MaxExamples int
	// Workers parallelises feature extraction. Zero means 1.
	Workers int
}

func (c Config) withDefaults() Config {
	if c.Epochs <= 0 {
		c.Epochs = 1
	}
	if c.BatchSize <= 0 {
		c.BatchSize = 16
	}
	if c.LearningRate <= 0 {
		c.LearningRate = 0.05
	}
	if c.Momentum == 0 {
		c.Momentum = 0.9
	} else if c.Momentum < 0 {
		c.Momentum = 0
	}
	if c.Workers <= 0 {
		c.Workers = 1
	}
	return c
}

// Result summarises one training run.
type Result struct {
	// Accuracy on the training split after the final epoch.
	Accuracy float64
	// Loss is the mean cross-entropy over the final epoch.
	Loss float64
	// Examples actually trained on.
	Examples int
	// Duration of the whole run including feature extraction.
	Duration time.Duration
	// ExamplesPerSec of head updates (examples * epochs / duration).
	ExamplesPerSec float64
}

// Trainer runs head fine-tune passes with a fixed config.
type Trainer struct {
	cfg Config
	log logger.Logger
}

func New(cfg Config, log logger.Logger) *Trainer {
	if log == nil {
		log = logger.Default()
	}
	return &Trainer{cfg: cfg.withDefaults(), log: log}
}

// Run fine-tunes m's head on data and reports the final-epoch loss and
// training accuracy. The encoder is never updated; when the
// pre_classifier layer has been quantized it is frozen too and only the
// final classifier trains. The model's head weights are updated in
// place, so callers that need the original intact should train a Clone.
func (t *Trainer) Run(ctx context.Context, m *model.Classifier, data []dataset.Encoded) (res Result, err error) {
	defer func() {
		if rec := recover(); rec != nil {
			err = fmt.Errorf("panic during training: %v", rec)
		}
	}()

	if m == nil {
		return Result{}, fmt.Errorf("nil model")
	}
	if len(data) == 0 {
		return Result{}, fmt.Errorf("empty training split")
	}
	cfg := t.cfg
	if cfg.MaxExamples > 0 && len(data) > cfg.MaxExamples {
		data = data[:cfg.MaxExamples]
	}

	start := time.Now()

	head, err := newHeadTrainer(m, cfg)
	if err != nil {
		return Result{}, err
	}

	feats, labels, err := extractFeatures(ctx, m, data, cfg.Workers, head.frozenPre())
	if err != nil {
		return Result{}, err
	}

	order := make([]int, len(feats))
	for i := range order {
		order[i] = i
	}
	rng := rand.New(rand.NewSource(cfg.Seed))

	var lastLoss float64
	for epoch := 0; epoch < cfg.Epochs; epoch++ {
		rng.Shuffle(len(order), func(i, j int) {
			order[i], order[j] = order[j], order[i]
		})

		var epochLoss float64
		for bs := 0; bs < len(order); bs += cfg.BatchSize {
			if err := ctx.Err(); err != nil {
				return Result{}, err
			}
			be := bs + cfg.BatchSize
			if be > len(order) {
				be = len(order)
			}
			epochLoss += head.step(feats, labels, order[bs:be])
		}
		lastLoss = epochLoss / float64(len(order))
		t.log.Debug("epoch complete", "epoch", epoch+1, "loss", lastLoss)
	}

	correct := 0
	for i, f := range feats {
		if head.predict(f) == labels[i] {
			correct++
		}
	}

	dur := time.Since(start)
	res = Result{
		Accuracy: float64(correct) / float64(len(feats)),
		Loss:     lastLoss,
		Examples: len(data),
		Duration: dur,
	}
	if secs := dur.Seconds(); secs > 0 {
		res.ExamplesPerSec = float64(len(data)*cfg.Epochs) / secs
	}
	return res, nil
}
