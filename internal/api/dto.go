package api

import (
	"maps"
	"time"

	"github.com/samcharles93/qsweep/internal/search"
)

// StudyDTO is the wire form of a sweep study. Counts cover every
// recorded trial; Best is absent until something completes.
type StudyDTO struct {
	Name      string    `json:"name"`
	UUID      string    `json:"uuid"`
	Direction string    `json:"direction"`
	Sampler   string    `json:"sampler"`
	Space     string    `json:"space"`
	Trials    int       `json:"trials"`
	Completed int       `json:"completed"`
	Failed    int       `json:"failed"`
	Best      *TrialDTO `json:"best,omitempty"`
}

// TrialDTO is the wire form of a finished trial.
type TrialDTO struct {
	ID         int                     `json:"id"`
	UUID       string                  `json:"uuid"`
	State      string                  `json:"state"`
	Value      float64                 `json:"value"`
	Reason     string                  `json:"reason,omitempty"`
	Params     map[string]search.Value `json:"params"`
	StartedAt  time.Time               `json:"started_at"`
	FinishedAt time.Time               `json:"finished_at"`
	DurationMs int64                   `json:"duration_ms"`
}

type ErrorBody struct {
	Message string `json:"message"`
	Type    string `json:"type"`
}

func trialDTO(t *search.Trial) TrialDTO {
	return TrialDTO{
		ID:         t.ID,
		UUID:       t.UUID,
		State:      t.State.String(),
		Value:      t.Value,
		Reason:     t.Reason,
		Params:     maps.Clone(t.Params),
		StartedAt:  t.StartedAt,
		FinishedAt: t.FinishedAt,
		DurationMs: t.Duration().Milliseconds(),
	}
}
