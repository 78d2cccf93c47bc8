// Package search is a small hyperparameter-search framework: a Study
// runs trials against an objective, and a Sampler proposes parameter
// values from a declared Space. Grid, random and TPE samplers are
// built in.
package search

import (
	"fmt"
	"strings"
)

// Direction says whether larger or smaller objective values win.
type Direction int

const (
	Maximize Direction = iota
	Minimize
)

func (d Direction) String() string {
	if d == Minimize {
		return "minimize"
	}
	return "maximize"
}

// ParseDirection maps the journal/config spelling back to a Direction.
func ParseDirection(s string) (Direction, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "maximize", "max", "":
		return Maximize, nil
	case "minimize", "min":
		return Minimize, nil
	}
	return Maximize, fmt.Errorf("unknown direction %q", s)
}

// History is the completed-trial view handed to samplers.
type History struct {
	Direction Direction
	Completed []*Trial
}

// Sampler proposes a value for one parameter of one running trial.
// Implementations must be safe for use from a single study goroutine;
// the built-in samplers additionally guard their RNG so a sampler
// instance can be shared.
type Sampler interface {
	Name() string
	Sample(space *Space, param Param, trial *Trial, hist History) (Value, error)
}

// ByName builds one of the built-in samplers: "grid", "random" or
// "tpe". The seed drives the random and TPE samplers; grid ignores it.
func ByName(name string, seed int64) (Sampler, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "grid":
		return NewGrid(), nil
	case "random", "":
		return NewRandom(seed), nil
	case "tpe":
		return NewTPE(seed), nil
	}
	return nil, fmt.Errorf("unknown sampler %q (want grid, random or tpe)", name)
}
