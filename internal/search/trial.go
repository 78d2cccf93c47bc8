package search

import (
	"fmt"
	"slices"
	"time"
)

// State is a trial's lifecycle position.
type State int

const (
	StateRunning State = iota
	StateComplete
	StateFailed
	StatePruned
)

func (s State) String() string {
	switch s {
	case StateRunning:
		return "running"
	case StateComplete:
		return "complete"
	case StateFailed:
		return "failed"
	case StatePruned:
		return "pruned"
	}
	return fmt.Sprintf("State(%d)", int(s))
}

// ParseState maps the journal spelling back to a State.
func ParseState(s string) (State, error) {
	switch s {
	case "running":
		return StateRunning, nil
	case "complete":
		return StateComplete, nil
	case "failed":
		return StateFailed, nil
	case "pruned":
		return StatePruned, nil
	}
	return StateFailed, fmt.Errorf("unknown trial state %q", s)
}

// Trial is one evaluation of the objective. Parameter values arrive
// lazily through the Suggest methods while the objective runs.
type Trial struct {
	ID     int
	UUID   string
	Params map[string]Value

	Value float64
	State State
	// Reason holds the failure message for failed trials.
	Reason string

	StartedAt  time.Time
	FinishedAt time.Time

	study *Study
}

// Duration is the trial's wall time; running trials measure to now.
func (t *Trial) Duration() time.Duration {
	if t.StartedAt.IsZero() {
		return 0
	}
	if t.FinishedAt.IsZero() {
		return time.Since(t.StartedAt)
	}
	return t.FinishedAt.Sub(t.StartedAt)
}

// SuggestCategorical asks the study's sampler for one of choices. The
// choices must match the space declaration; a repeated suggest in the
// same trial returns the cached value.
func (t *Trial) SuggestCategorical(name string, choices ...string) (string, error) {
	p, err := t.param(name, KindCategorical)
	if err != nil {
		return "", err
	}
	if !slices.Equal(p.Choices, choices) {
		return "", fmt.Errorf("trial %d: categorical %q choices %v do not match space %v", t.ID, name, choices, p.Choices)
	}
	v, err := t.sample(p)
	if err != nil {
		return "", err
	}
	if v.Kind != ValueString || !slices.Contains(p.Choices, v.Str) {
		return "", fmt.Errorf("trial %d: sampler returned %s for categorical %q", t.ID, v, name)
	}
	return v.Str, nil
}

// SuggestInt asks the sampler for an integer in [low, high] on the
// given step grid.
func (t *Trial) SuggestInt(name string, low, high, step int64) (int64, error) {
	p, err := t.param(name, KindInt)
	if err != nil {
		return 0, err
	}
	if step <= 0 {
		step = 1
	}
	if p.Low != low || p.High != high || p.Step != step {
		return 0, fmt.Errorf("trial %d: int %q range %d..%d/%d does not match space %d..%d/%d",
			t.ID, name, low, high, step, p.Low, p.High, p.Step)
	}
	v, err := t.sample(p)
	if err != nil {
		return 0, err
	}
	if v.Kind != ValueInt || v.Int < low || v.Int > high {
		return 0, fmt.Errorf("trial %d: sampler returned %s for int %q", t.ID, v, name)
	}
	return v.Int, nil
}

// SuggestFloat asks the sampler for a float in [low, high].
func (t *Trial) SuggestFloat(name string, low, high float64) (float64, error) {
	p, err := t.param(name, KindFloat)
	if err != nil {
		return 0, err
	}
	if p.FloatLow != low || p.FloatHigh != high {
		return 0, fmt.Errorf("trial %d: float %q range %g..%g does not match space %g..%g",
			t.ID, name, low, high, p.FloatLow, p.FloatHigh)
	}
	v, err := t.sample(p)
	if err != nil {
		return 0, err
	}
	if v.Kind != ValueFloat || v.Float < low || v.Float > high {
		return 0, fmt.Errorf("trial %d: sampler returned %s for float %q", t.ID, v, name)
	}
	return v.Float, nil
}

func (t *Trial) param(name string, kind ParamKind) (Param, error) {
	if t.study == nil {
		return Param{}, fmt.Errorf("trial %d is not attached to a study", t.ID)
	}
	p, ok := t.study.space.Lookup(name)
	if !ok {
		return Param{}, fmt.Errorf("trial %d: parameter %q is not in the search space", t.ID, name)
	}
	if p.Kind != kind {
		return Param{}, fmt.Errorf("trial %d: parameter %q is %s, suggested as %s", t.ID, name, p.Kind, kind)
	}
	return p, nil
}

func (t *Trial) sample(p Param) (Value, error) {
	if v, ok := t.Params[p.Name]; ok {
		return v, nil
	}
	v, err := t.study.sampleParam(p, t)
	if err != nil {
		return Value{}, err
	}
	t.Params[p.Name] = v
	return v, nil
}
