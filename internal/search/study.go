package search

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/samcharles93/qsweep/internal/logger"
)

// Objective evaluates one trial and returns its score. The trial's
// Suggest methods pull parameter values from the study's sampler.
type Objective func(ctx context.Context, t *Trial) (float64, error)

// Callback runs after every finished trial, complete or failed.
// Callbacks run on the optimize goroutine in registration order.
type Callback func(study *Study, t *Trial)

// exhaustible is implemented by samplers that enumerate a finite
// number of distinct trials (grid).
type exhaustible interface {
	TotalTrials(space *Space) int
}

// StudyConfig assembles a Study.
type StudyConfig struct {
	Name      string
	Space     *Space
	Sampler   Sampler
	Direction Direction
	// UUID pins the study identity when resuming from a journal.
	// Empty means mint a fresh one.
	UUID   string
	Logger logger.Logger
}

// Study owns the trial history of one sweep and drives the objective.
type Study struct {
	name      string
	uuid      string
	direction Direction
	sampler   Sampler
	space     *Space
	log       logger.Logger

	mu        sync.Mutex
	trials    []*Trial
	callbacks []Callback
	nextID    int
}

func NewStudy(cfg StudyConfig) (*Study, error) {
	if cfg.Space == nil || cfg.Space.Len() == 0 {
		return nil, fmt.Errorf("study needs a non-empty search space")
	}
	if cfg.Sampler == nil {
		return nil, fmt.Errorf("study needs a sampler")
	}
	if cfg.Name == "" {
		return nil, fmt.Errorf("study needs a name")
	}
	id := cfg.UUID
	if id == "" {
		id = uuid.NewString()
	}
	log := cfg.Logger
	if log == nil {
		log = logger.Default()
	}
	return &Study{
		name:      cfg.Name,
		uuid:      id,
		direction: cfg.Direction,
		sampler:   cfg.Sampler,
		space:     cfg.Space,
		log:       log.With("study", cfg.Name),
	}, nil
}

func (s *Study) Name() string         { return s.name }
func (s *Study) UUID() string         { return s.uuid }
func (s *Study) Direction() Direction { return s.direction }
func (s *Study) Space() *Space        { return s.space }
func (s *Study) SamplerName() string  { return s.sampler.Name() }

// AddCallback registers a per-trial hook (progress line, journal
// append, dashboard feed).
func (s *Study) AddCallback(cb Callback) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.callbacks = append(s.callbacks, cb)
}

// Seed preloads trial history, typically replayed from a journal, so
// samplers see past results and new trial IDs continue the sequence.
func (s *Study) Seed(trials []*Trial) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, t := range trials {
		s.trials = append(s.trials, t)
		if t.ID >= s.nextID {
			s.nextID = t.ID + 1
		}
	}
}

// Trials returns a snapshot of the history in start order.
func (s *Study) Trials() []*Trial {
	s.mu.Lock()
	defer s.mu.Unlock()
	return slices.Clone(s.trials)
}

// BestTrial returns the best completed trial for the study direction,
// or false when nothing has completed.
func (s *Study) BestTrial() (*Trial, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var best *Trial
	for _, t := range s.trials {
		if t.State != StateComplete {
			continue
		}
		if best == nil || s.better(t.Value, best.Value) {
			best = t
		}
	}
	return best, best != nil
}

func (s *Study) better(a, b float64) bool {
	if s.direction == Minimize {
		return a < b
	}
	return a > b
}

// Optimize runs up to maxTrials objective evaluations. A positive
// timeout bounds the whole sweep; hitting it (or exhausting a grid)
// ends the study cleanly, while cancellation of the parent context is
// returned as an error. A panicking or failing objective marks its
// trial failed and the sweep moves on.
func (s *Study) Optimize(ctx context.Context, objective Objective, maxTrials int, timeout time.Duration) error {
	if objective == nil {
		return fmt.Errorf("nil objective")
	}
	if maxTrials <= 0 {
		return fmt.Errorf("trial count must be positive, got %d", maxTrials)
	}
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	for i := 0; i < maxTrials; i++ {
		if err := ctx.Err(); err != nil {
			if errors.Is(err, context.DeadlineExceeded) {
				s.log.Info("sweep timeout reached", "started", s.started())
				return nil
			}
			return err
		}
		if ex, ok := s.sampler.(exhaustible); ok {
			if total := ex.TotalTrials(s.space); s.started() >= total {
				s.log.Info("search space exhausted", "grid_size", total)
				return nil
			}
		}

		t := s.newTrial()
		value, err := s.runObjective(ctx, objective, t)
		s.finishTrial(t, value, err)
	}
	return nil
}

func (s *Study) started() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.nextID
}

func (s *Study) newTrial() *Trial {
	s.mu.Lock()
	defer s.mu.Unlock()
	t := &Trial{
		ID:        s.nextID,
		UUID:      uuid.NewString(),
		Params:    make(map[string]Value),
		State:     StateRunning,
		StartedAt: time.Now(),
		study:     s,
	}
	s.nextID++
	s.trials = append(s.trials, t)
	return t
}

func (s *Study) runObjective(ctx context.Context, objective Objective, t *Trial) (value float64, err error) {
	defer func() {
		if rec := recover(); rec != nil {
			err = fmt.Errorf("panic in objective: %v", rec)
		}
	}()
	return objective(ctx, t)
}

func (s *Study) finishTrial(t *Trial, value float64, err error) {
	s.mu.Lock()
	t.FinishedAt = time.Now()
	if err != nil {
		t.State = StateFailed
		t.Reason = err.Error()
	} else {
		t.State = StateComplete
		t.Value = value
	}
	cbs := slices.Clone(s.callbacks)
	s.mu.Unlock()

	if err != nil {
		s.log.Warn("trial failed", "trial", t.ID, "err", err)
	} else {
		s.log.Info("trial complete", "trial", t.ID, "value", value, "duration", t.Duration().Round(time.Millisecond))
	}
	for _, cb := range cbs {
		cb(s, t)
	}
}

// sampleParam routes one suggest call through the sampler with a
// snapshot of completed history.
func (s *Study) sampleParam(p Param, t *Trial) (Value, error) {
	s.mu.Lock()
	hist := History{Direction: s.direction, Completed: s.completedLocked()}
	s.mu.Unlock()
	return s.sampler.Sample(s.space, p, t, hist)
}

func (s *Study) completedLocked() []*Trial {
	out := make([]*Trial, 0, len(s.trials))
	for _, t := range s.trials {
		if t.State == StateComplete {
			out = append(out, t)
		}
	}
	return out
}
