package search

import (
	"math/rand"
	"sync"
)

// Random samples every parameter uniformly from its axis. Seeded, so
// a sweep replays identically for the same seed and trial order.
type Random struct {
	mu  sync.Mutex
	rng *rand.Rand
}

func NewRandom(seed int64) *Random {
	return &Random{rng: rand.New(rand.NewSource(seed))}
}

func (r *Random) Name() string { return "random" }

func (r *Random) Sample(_ *Space, param Param, _ *Trial, _ History) (Value, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return randomValue(r.rng, param), nil
}

func randomValue(rng *rand.Rand, param Param) Value {
	switch param.Kind {
	case KindCategorical:
		return CategoricalValue(param.Choices[rng.Intn(len(param.Choices))])
	case KindInt:
		steps := (param.High-param.Low)/param.Step + 1
		return IntValue(param.Low + int64(rng.Intn(int(steps)))*param.Step)
	default:
		return FloatValue(param.FloatLow + rng.Float64()*(param.FloatHigh-param.FloatLow))
	}
}
