package search

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"
)

// ParamKind discriminates the three parameter definitions.
type ParamKind int

const (
	KindCategorical ParamKind = iota
	KindInt
	KindFloat
)

func (k ParamKind) String() string {
	switch k {
	case KindCategorical:
		return "categorical"
	case KindInt:
		return "int"
	case KindFloat:
		return "float"
	}
	return fmt.Sprintf("ParamKind(%d)", int(k))
}

// Param is one named axis of a search space. Only the fields for its
// kind are meaningful.
type Param struct {
	Name string
	Kind ParamKind

	Choices []string // categorical

	Low  int64 // int, inclusive
	High int64 // int, inclusive
	Step int64 // int, >= 1

	FloatLow  float64
	FloatHigh float64
}

// axisSize is the number of grid points on this axis. Float axes
// collapse to a single point (the low bound) so a grid stays finite.
func (p Param) axisSize() int {
	switch p.Kind {
	case KindCategorical:
		return len(p.Choices)
	case KindInt:
		return int((p.High-p.Low)/p.Step) + 1
	default:
		return 1
	}
}

// Space is an ordered, named set of parameters. Order matters: the
// grid sampler enumerates the cartesian product in declaration order,
// and the fingerprint is order-sensitive.
type Space struct {
	params []Param
	index  map[string]int
}

func NewSpace() *Space {
	return &Space{index: make(map[string]int)}
}

// Categorical declares a string-choice parameter. Duplicate names and
// empty choice lists panic: the space is assembled at startup from
// static code, so these are programmer errors.
func (s *Space) Categorical(name string, choices ...string) *Space {
	if len(choices) == 0 {
		panic(fmt.Sprintf("search: categorical %q needs at least one choice", name))
	}
	s.add(Param{Name: name, Kind: KindCategorical, Choices: append([]string(nil), choices...)})
	return s
}

// Int declares an integer range parameter with the given step.
func (s *Space) Int(name string, low, high, step int64) *Space {
	if step <= 0 {
		step = 1
	}
	if high < low {
		panic(fmt.Sprintf("search: int %q has high %d < low %d", name, high, low))
	}
	s.add(Param{Name: name, Kind: KindInt, Low: low, High: high, Step: step})
	return s
}

// Float declares a continuous range parameter.
func (s *Space) Float(name string, low, high float64) *Space {
	if high < low {
		panic(fmt.Sprintf("search: float %q has high %v < low %v", name, high, low))
	}
	s.add(Param{Name: name, Kind: KindFloat, FloatLow: low, FloatHigh: high})
	return s
}

func (s *Space) add(p Param) {
	if _, dup := s.index[p.Name]; dup {
		panic(fmt.Sprintf("search: duplicate parameter %q", p.Name))
	}
	s.index[p.Name] = len(s.params)
	s.params = append(s.params, p)
}

// Params returns the parameters in declaration order. The slice is
// shared; callers must not mutate it.
func (s *Space) Params() []Param { return s.params }

func (s *Space) Len() int { return len(s.params) }

// Lookup finds a parameter by name.
func (s *Space) Lookup(name string) (Param, bool) {
	i, ok := s.index[name]
	if !ok {
		return Param{}, false
	}
	return s.params[i], true
}

// GridSize is the cartesian product of all axis sizes. Float axes
// count one point each.
func (s *Space) GridSize() int {
	if len(s.params) == 0 {
		return 0
	}
	total := 1
	for _, p := range s.params {
		total *= p.axisSize()
	}
	return total
}

// Fingerprint is a stable digest of the space definition, used to
// refuse resuming a journal against a different space.
func (s *Space) Fingerprint() string {
	var b strings.Builder
	for _, p := range s.params {
		switch p.Kind {
		case KindCategorical:
			fmt.Fprintf(&b, "c:%s=%s;", p.Name, strings.Join(p.Choices, ","))
		case KindInt:
			fmt.Fprintf(&b, "i:%s=%d..%d/%d;", p.Name, p.Low, p.High, p.Step)
		case KindFloat:
			fmt.Fprintf(&b, "f:%s=%g..%g;", p.Name, p.FloatLow, p.FloatHigh)
		}
	}
	sum := sha256.Sum256([]byte(b.String()))
	return hex.EncodeToString(sum[:8])
}
