package search

import (
	"testing"
)

func TestByName(t *testing.T) {
	t.Parallel()
	for _, name := range []string{"grid", "random", "tpe"} {
		s, err := ByName(name, 1)
		if err != nil {
			t.Fatalf("ByName(%q): %v", name, err)
		}
		if s.Name() != name {
			t.Fatalf("ByName(%q).Name() = %q", name, s.Name())
		}
	}
	if _, err := ByName("simulated-annealing", 1); err == nil {
		t.Fatalf("expected error for unknown sampler")
	}
}

func TestGridEnumeratesLastAxisFastest(t *testing.T) {
	t.Parallel()
	space := NewSpace().
		Categorical("kind", "dense", "quant").
		Int("bits", 2, 8, 2)
	g := NewGrid()

	want := []struct {
		kind string
		bits int64
	}{
		{"dense", 2}, {"dense", 4}, {"dense", 6}, {"dense", 8},
		{"quant", 2}, {"quant", 4}, {"quant", 6}, {"quant", 8},
	}
	kindParam, _ := space.Lookup("kind")
	bitsParam, _ := space.Lookup("bits")

	for id, w := range want {
		trial := &Trial{ID: id}
		kv, err := g.Sample(space, kindParam, trial, History{})
		if err != nil {
			t.Fatalf("Sample(kind) trial %d: %v", id, err)
		}
		bv, err := g.Sample(space, bitsParam, trial, History{})
		if err != nil {
			t.Fatalf("Sample(bits) trial %d: %v", id, err)
		}
		if kv.Str != w.kind || bv.Int != w.bits {
			t.Fatalf("trial %d: got (%s, %d), want (%s, %d)", id, kv.Str, bv.Int, w.kind, w.bits)
		}
	}

	if got := g.TotalTrials(space); got != len(want) {
		t.Fatalf("TotalTrials = %d, want %d", got, len(want))
	}
}

func TestGridFloatTakesLowBound(t *testing.T) {
	t.Parallel()
	space := NewSpace().Float("lr", 0.01, 0.1).Int("bits", 2, 4, 2)
	g := NewGrid()
	lr, _ := space.Lookup("lr")

	for id := 0; id < 4; id++ {
		v, err := g.Sample(space, lr, &Trial{ID: id}, History{})
		if err != nil {
			t.Fatalf("Sample trial %d: %v", id, err)
		}
		if v.Float != 0.01 {
			t.Fatalf("trial %d: float axis gave %v, want low bound 0.01", id, v.Float)
		}
	}
	if got := g.TotalTrials(space); got != 2 {
		t.Fatalf("TotalTrials = %d, want 2", got)
	}
}

func TestRandomStaysInBounds(t *testing.T) {
	t.Parallel()
	space := NewSpace().
		Categorical("kind", "dense", "quant").
		Int("bits", 2, 8, 2).
		Float("lr", 0.01, 0.1)
	r := NewRandom(1)

	for i := 0; i < 200; i++ {
		for _, p := range space.Params() {
			v, err := r.Sample(space, p, &Trial{ID: i}, History{})
			if err != nil {
				t.Fatalf("Sample(%s): %v", p.Name, err)
			}
			switch p.Kind {
			case KindCategorical:
				if v.Str != "dense" && v.Str != "quant" {
					t.Fatalf("categorical out of choices: %q", v.Str)
				}
			case KindInt:
				if v.Int < 2 || v.Int > 8 || (v.Int-2)%2 != 0 {
					t.Fatalf("int off the step grid: %d", v.Int)
				}
			case KindFloat:
				if v.Float < 0.01 || v.Float > 0.1 {
					t.Fatalf("float out of range: %v", v.Float)
				}
			}
		}
	}
}

func TestRandomSeedReproducible(t *testing.T) {
	t.Parallel()
	space := NewSpace().Int("bits", 2, 8, 2).Float("lr", 0, 1)
	a, b := NewRandom(7), NewRandom(7)

	for i := 0; i < 50; i++ {
		for _, p := range space.Params() {
			va, _ := a.Sample(space, p, &Trial{ID: i}, History{})
			vb, _ := b.Sample(space, p, &Trial{ID: i}, History{})
			if va != vb {
				t.Fatalf("seeded samplers diverged at draw %d: %v vs %v", i, va, vb)
			}
		}
	}
}
