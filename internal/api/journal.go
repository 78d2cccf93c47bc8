package api

import (
	"github.com/samcharles93/qsweep/internal/journal"
	"github.com/samcharles93/qsweep/internal/search"
)

// LoadJournal registers a replayed journal as a read-only study. The
// serve command uses it to publish finished sweeps without rerunning
// them.
func (s *Store) LoadJournal(h *journal.Header, trials []*search.Trial) error {
	dir, err := search.ParseDirection(h.Direction)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.studies[h.UUID]
	if !ok {
		rec = &studyRecord{
			name:      h.Name,
			uuid:      h.UUID,
			direction: dir,
			sampler:   h.Sampler,
			space:     h.Space,
			trials:    make(map[int]TrialDTO, len(trials)),
		}
		s.studies[h.UUID] = rec
		s.order = append(s.order, h.UUID)
	}
	for _, t := range trials {
		rec.trials[t.ID] = trialDTO(t)
	}
	return nil
}
