package search

import (
	"math"
	"math/rand"
	"sort"
	"sync"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat/distuv"
)

// TPE is a tree-structured Parzen estimator sampler. Completed trials
// are split at the γ-quantile into good and bad sets; numeric
// parameters get a kernel-density estimate over each set and the
// sampler keeps the candidate draw that maximises the density ratio
// l(x)/g(x). Categorical parameters use smoothed category counts.
// Until Startup trials have completed it falls back to random search.
type TPE struct {
	// Startup is the number of completed trials before the estimator
	// kicks in.
	Startup int
	// Candidates is how many draws compete per suggestion.
	Candidates int
	// Gamma is the good-set quantile.
	Gamma float64

	mu  sync.Mutex
	rng *rand.Rand
}

func NewTPE(seed int64) *TPE {
	return &TPE{
		Startup:    10,
		Candidates: 24,
		Gamma:      0.25,
		rng:        rand.New(rand.NewSource(seed)),
	}
}

func (t *TPE) Name() string { return "tpe" }

type observation struct {
	x Value
	y float64
}

func (t *TPE) Sample(_ *Space, param Param, _ *Trial, hist History) (Value, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	obs := make([]observation, 0, len(hist.Completed))
	for _, tr := range hist.Completed {
		if v, ok := tr.Params[param.Name]; ok {
			obs = append(obs, observation{x: v, y: tr.Value})
		}
	}
	if len(obs) < t.Startup || len(obs) < 2 {
		return randomValue(t.rng, param), nil
	}

	good, bad := t.split(obs, hist.Direction)
	if len(good) == 0 || len(bad) == 0 {
		return randomValue(t.rng, param), nil
	}

	if param.Kind == KindCategorical {
		return t.sampleCategorical(param, good, bad), nil
	}
	return t.sampleNumeric(param, good, bad), nil
}

// split orders observations best-first and cuts at the γ-quantile.
func (t *TPE) split(obs []observation, dir Direction) (good, bad []observation) {
	sorted := append([]observation(nil), obs...)
	sort.SliceStable(sorted, func(i, j int) bool {
		if dir == Minimize {
			return sorted[i].y < sorted[j].y
		}
		return sorted[i].y > sorted[j].y
	})
	n := int(math.Ceil(t.Gamma * float64(len(sorted))))
	if n < 1 {
		n = 1
	}
	if n >= len(sorted) {
		n = len(sorted) - 1
	}
	return sorted[:n], sorted[n:]
}

func (t *TPE) sampleCategorical(param Param, good, bad []observation) Value {
	k := len(param.Choices)
	wGood := make([]float64, k)
	wBad := make([]float64, k)
	for i := range param.Choices {
		wGood[i], wBad[i] = 1, 1 // add-one smoothing
	}
	pos := make(map[string]int, k)
	for i, c := range param.Choices {
		pos[c] = i
	}
	for _, o := range good {
		if i, ok := pos[o.x.Str]; ok {
			wGood[i]++
		}
	}
	for _, o := range bad {
		if i, ok := pos[o.x.Str]; ok {
			wBad[i]++
		}
	}
	sumGood := floats.Sum(wGood)
	sumBad := floats.Sum(wBad)

	// Draw candidates from the good distribution, keep the best
	// density ratio.
	bestScore := math.Inf(-1)
	best := 0
	for c := 0; c < t.Candidates; c++ {
		i := weightedDraw(t.rng, wGood, sumGood)
		score := math.Log(wGood[i]/sumGood) - math.Log(wBad[i]/sumBad)
		if score > bestScore {
			bestScore, best = score, i
		}
	}
	return CategoricalValue(param.Choices[best])
}

func weightedDraw(rng *rand.Rand, w []float64, sum float64) int {
	r := rng.Float64() * sum
	for i, wi := range w {
		r -= wi
		if r < 0 {
			return i
		}
	}
	return len(w) - 1
}

func (t *TPE) sampleNumeric(param Param, good, bad []observation) Value {
	lo, hi := param.FloatLow, param.FloatHigh
	if param.Kind == KindInt {
		lo, hi = float64(param.Low), float64(param.High)
	}
	if hi <= lo {
		return numericValue(param, lo)
	}

	gm := newParzen(values(good), lo, hi)
	bm := newParzen(values(bad), lo, hi)

	bestScore := math.Inf(-1)
	bestX := lo
	for c := 0; c < t.Candidates; c++ {
		x := gm.draw(t.rng)
		if param.Kind == KindInt {
			x = snapToStep(x, param)
		}
		score := gm.logProb(x) - bm.logProb(x)
		if score > bestScore {
			bestScore, bestX = score, x
		}
	}
	return numericValue(param, bestX)
}

func values(obs []observation) []float64 {
	xs := make([]float64, len(obs))
	for i, o := range obs {
		xs[i] = o.x.AsFloat()
	}
	return xs
}

func numericValue(param Param, x float64) Value {
	if param.Kind == KindInt {
		return IntValue(int64(math.Round(x)))
	}
	return FloatValue(x)
}

func snapToStep(x float64, param Param) float64 {
	step := float64(param.Step)
	lo, hi := float64(param.Low), float64(param.High)
	x = lo + math.Round((x-lo)/step)*step
	return math.Min(math.Max(x, lo), hi)
}

// parzen is a uniform-weight Gaussian mixture over observed points
// plus one wide prior component spanning the range. Bandwidths come
// from neighbour spacing, clamped so no kernel degenerates or swamps
// the axis.
type parzen struct {
	mus    []float64
	sigmas []float64
	lo, hi float64
}

func newParzen(xs []float64, lo, hi float64) parzen {
	sorted := append([]float64(nil), xs...)
	sort.Float64s(sorted)

	span := hi - lo
	sigmaMin := span / 100
	p := parzen{
		mus:    make([]float64, 0, len(sorted)+1),
		sigmas: make([]float64, 0, len(sorted)+1),
		lo:     lo,
		hi:     hi,
	}
	// Prior keeps the estimator from collapsing onto the observations.
	p.mus = append(p.mus, (lo+hi)/2)
	p.sigmas = append(p.sigmas, span)

	for i, x := range sorted {
		left := span
		if i > 0 {
			left = x - sorted[i-1]
		}
		right := span
		if i < len(sorted)-1 {
			right = sorted[i+1] - x
		}
		sigma := math.Max(left, right)
		sigma = math.Min(math.Max(sigma, sigmaMin), span)
		p.mus = append(p.mus, x)
		p.sigmas = append(p.sigmas, sigma)
	}
	return p
}

func (p parzen) logProb(x float64) float64 {
	terms := make([]float64, len(p.mus))
	logW := -math.Log(float64(len(p.mus)))
	for i := range p.mus {
		n := distuv.Normal{Mu: p.mus[i], Sigma: p.sigmas[i]}
		terms[i] = logW + n.LogProb(x)
	}
	return floats.LogSumExp(terms)
}

func (p parzen) draw(rng *rand.Rand) float64 {
	i := rng.Intn(len(p.mus))
	x := p.mus[i] + p.sigmas[i]*rng.NormFloat64()
	return math.Min(math.Max(x, p.lo), p.hi)
}
