package search

import (
	"testing"
)

// tpeHistory builds completed trials where values near goodX score high
// and everything else scores low.
func tpeHistory(param string, xs []float64, ys []float64) History {
	trials := make([]*Trial, len(xs))
	for i := range xs {
		trials[i] = &Trial{
			ID:     i,
			State:  StateComplete,
			Value:  ys[i],
			Params: map[string]Value{param: FloatValue(xs[i])},
		}
	}
	return History{Direction: Maximize, Completed: trials}
}

func TestTPEFallsBackToRandomBeforeStartup(t *testing.T) {
	t.Parallel()
	space := NewSpace().Float("x", 0, 10)
	p, _ := space.Lookup("x")
	tpe := NewTPE(3)

	hist := tpeHistory("x", []float64{1, 2, 3}, []float64{0.1, 0.2, 0.3})
	for i := 0; i < 20; i++ {
		v, err := tpe.Sample(space, p, &Trial{ID: i}, hist)
		if err != nil {
			t.Fatalf("Sample: %v", err)
		}
		if v.Kind != ValueFloat || v.Float < 0 || v.Float > 10 {
			t.Fatalf("draw %d out of bounds: %v", i, v)
		}
	}
}

func TestTPEConcentratesOnGoodRegion(t *testing.T) {
	t.Parallel()
	space := NewSpace().Float("x", 0, 10)
	p, _ := space.Lookup("x")
	tpe := NewTPE(5)

	// Ten strong trials clustered near 8, twenty weak ones spread
	// over the low end.
	var xs, ys []float64
	for i := 0; i < 10; i++ {
		xs = append(xs, 7.8+0.05*float64(i))
		ys = append(ys, 0.9+0.001*float64(i))
	}
	for i := 0; i < 20; i++ {
		xs = append(xs, 0.2*float64(i))
		ys = append(ys, 0.1)
	}
	hist := tpeHistory("x", xs, ys)

	high := 0
	const draws = 40
	for i := 0; i < draws; i++ {
		v, err := tpe.Sample(space, p, &Trial{ID: i}, hist)
		if err != nil {
			t.Fatalf("Sample: %v", err)
		}
		if v.Float > 5 {
			high++
		}
	}
	if high < 35 {
		t.Fatalf("only %d/%d draws landed in the good region", high, draws)
	}
}

func TestTPEPrefersGoodCategory(t *testing.T) {
	t.Parallel()
	space := NewSpace().Categorical("kind", "dense", "quant")
	p, _ := space.Lookup("kind")
	tpe := NewTPE(11)

	var trials []*Trial
	add := func(choice string, value float64, n int) {
		for i := 0; i < n; i++ {
			trials = append(trials, &Trial{
				ID:     len(trials),
				State:  StateComplete,
				Value:  value + 0.001*float64(i),
				Params: map[string]Value{"kind": CategoricalValue(choice)},
			})
		}
	}
	add("quant", 0.9, 10)
	add("dense", 0.1, 20)
	hist := History{Direction: Maximize, Completed: trials}

	quant := 0
	const draws = 20
	for i := 0; i < draws; i++ {
		v, err := tpe.Sample(space, p, &Trial{ID: i}, hist)
		if err != nil {
			t.Fatalf("Sample: %v", err)
		}
		if v.Str == "quant" {
			quant++
		}
	}
	if quant < 18 {
		t.Fatalf("only %d/%d draws picked the good category", quant, draws)
	}
}

func TestTPEIntStaysOnStepGrid(t *testing.T) {
	t.Parallel()
	space := NewSpace().Int("bits", 2, 8, 2)
	p, _ := space.Lookup("bits")
	tpe := NewTPE(17)

	var trials []*Trial
	for i := 0; i < 30; i++ {
		bits := int64(2 + 2*(i%4))
		value := float64(bits) / 8
		trials = append(trials, &Trial{
			ID:     i,
			State:  StateComplete,
			Value:  value,
			Params: map[string]Value{"bits": IntValue(bits)},
		})
	}
	hist := History{Direction: Maximize, Completed: trials}

	for i := 0; i < 30; i++ {
		v, err := tpe.Sample(space, p, &Trial{ID: i}, hist)
		if err != nil {
			t.Fatalf("Sample: %v", err)
		}
		if v.Kind != ValueInt {
			t.Fatalf("draw %d: kind %v, want int", i, v.Kind)
		}
		if v.Int < 2 || v.Int > 8 || (v.Int-2)%2 != 0 {
			t.Fatalf("draw %d off the step grid: %d", i, v.Int)
		}
	}
}

func TestTPEMinimizeFlipsGoodSet(t *testing.T) {
	t.Parallel()
	space := NewSpace().Float("x", 0, 10)
	p, _ := space.Lookup("x")
	tpe := NewTPE(23)

	// Low objective values cluster near 2; with Minimize those are
	// the good set.
	var xs, ys []float64
	for i := 0; i < 10; i++ {
		xs = append(xs, 1.8+0.05*float64(i))
		ys = append(ys, 0.05+0.001*float64(i))
	}
	for i := 0; i < 20; i++ {
		xs = append(xs, 6+0.2*float64(i))
		ys = append(ys, 0.9)
	}
	hist := tpeHistory("x", xs, ys)
	hist.Direction = Minimize

	low := 0
	const draws = 40
	for i := 0; i < draws; i++ {
		v, err := tpe.Sample(space, p, &Trial{ID: i}, hist)
		if err != nil {
			t.Fatalf("Sample: %v", err)
		}
		if v.Float < 5 {
			low++
		}
	}
	if low < 35 {
		t.Fatalf("only %d/%d draws landed in the good region", low, draws)
	}
}
