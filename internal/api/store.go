package api

import (
	"sort"
	"sync"

	"github.com/samcharles93/qsweep/internal/search"
)

type studyRecord struct {
	name      string
	uuid      string
	direction search.Direction
	sampler   string
	space     string
	trials    map[int]TrialDTO
}

// Store keeps snapshots of tracked studies for the HTTP layer. It
// records finished trials through study callbacks, so readers never
// touch a trial the optimize loop is still writing.
type Store struct {
	mu      sync.Mutex
	studies map[string]*studyRecord
	order   []string
}

func NewStore() *Store {
	return &Store{
		studies: make(map[string]*studyRecord),
	}
}

// Track registers the study and subscribes to its trial results.
// Trials that already finished, for example after a journal resume,
// are recorded immediately.
func (s *Store) Track(st *search.Study) {
	s.mu.Lock()
	rec, ok := s.studies[st.UUID()]
	if !ok {
		rec = &studyRecord{
			name:      st.Name(),
			uuid:      st.UUID(),
			direction: st.Direction(),
			sampler:   st.SamplerName(),
			space:     st.Space().Fingerprint(),
			trials:    make(map[int]TrialDTO),
		}
		s.studies[st.UUID()] = rec
		s.order = append(s.order, st.UUID())
	}
	for _, t := range st.Trials() {
		if t.State != search.StateRunning {
			rec.trials[t.ID] = trialDTO(t)
		}
	}
	s.mu.Unlock()

	st.AddCallback(s.observe)
}

func (s *Store) observe(st *search.Study, t *search.Trial) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.studies[st.UUID()]
	if !ok {
		return
	}
	rec.trials[t.ID] = trialDTO(t)
}

// List returns study summaries in registration order.
func (s *Store) List() []StudyDTO {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]StudyDTO, 0, len(s.order))
	for _, id := range s.order {
		out = append(out, s.studies[id].summary())
	}
	return out
}

// Get looks a study up by UUID or, failing that, by name.
func (s *Store) Get(id string) (StudyDTO, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec := s.lookupLocked(id)
	if rec == nil {
		return StudyDTO{}, false
	}
	return rec.summary(), true
}

// Trials returns the study's recorded trials ordered by ID.
func (s *Store) Trials(id string) ([]TrialDTO, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec := s.lookupLocked(id)
	if rec == nil {
		return nil, false
	}
	out := make([]TrialDTO, 0, len(rec.trials))
	for _, t := range rec.trials {
		out = append(out, t)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, true
}

func (s *Store) lookupLocked(id string) *studyRecord {
	if rec, ok := s.studies[id]; ok {
		return rec
	}
	for _, uuid := range s.order {
		if s.studies[uuid].name == id {
			return s.studies[uuid]
		}
	}
	return nil
}

func (r *studyRecord) summary() StudyDTO {
	dto := StudyDTO{
		Name:      r.name,
		UUID:      r.uuid,
		Direction: r.direction.String(),
		Sampler:   r.sampler,
		Space:     r.space,
		Trials:    len(r.trials),
	}
	ids := make([]int, 0, len(r.trials))
	for id := range r.trials {
		ids = append(ids, id)
	}
	sort.Ints(ids)
	var best *TrialDTO
	for _, id := range ids {
		t := r.trials[id]
		switch t.State {
		case search.StateComplete.String():
			dto.Completed++
			if best == nil || r.better(t.Value, best.Value) {
				best = &t
			}
		case search.StateFailed.String():
			dto.Failed++
		}
	}
	dto.Best = best
	return dto
}

func (r *studyRecord) better(a, b float64) bool {
	if r.direction == search.Minimize {
		return a < b
	}
	return a > b
}
