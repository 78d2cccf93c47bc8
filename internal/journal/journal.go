// Package journal persists sweep history as append-only JSONL: one
// study header line followed by one line per finished trial. A journal
// can be replayed to resume an interrupted sweep or to inspect results
// without re-running anything.
package journal

import (
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/goccy/go-json"

	"github.com/samcharles93/qsweep/internal/search"
)

// Header is the first record of a journal file and pins the study
// identity. Resuming against a different space or sampler is refused
// by comparing these fields.
type Header struct {
	Kind       string    `json:"kind"`
	Name       string    `json:"name"`
	UUID       string    `json:"uuid"`
	Direction  string    `json:"direction"`
	Sampler    string    `json:"sampler"`
	Space      string    `json:"space_fingerprint"`
	Checkpoint string    `json:"checkpoint,omitempty"`
	SavedAt    time.Time `json:"saved_at"`
}

const (
	kindStudy = "study"
	kindTrial = "trial"
)

// TrialRecord is the wire form of one finished trial.
type TrialRecord struct {
	Kind       string                  `json:"kind"`
	ID         int                     `json:"id"`
	UUID       string                  `json:"uuid"`
	State      string                  `json:"state"`
	Value      float64                 `json:"value"`
	Reason     string                  `json:"reason,omitempty"`
	Params     map[string]search.Value `json:"params"`
	StartedAt  time.Time               `json:"started_at"`
	FinishedAt time.Time               `json:"finished_at"`
}

// Writer appends records to a journal file. Each record is written in
// a single unbuffered call so a crash loses at most the line being
// written, which Replay tolerates.
type Writer struct {
	mu sync.Mutex
	f  *os.File
}

// Create starts a fresh journal at path, truncating any previous file,
// and writes the study header.
func Create(path string, h Header) (*Writer, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		return nil, fmt.Errorf("journal: create %s: %w", path, err)
	}
	w := &Writer{f: f}
	h.Kind = kindStudy
	if h.SavedAt.IsZero() {
		h.SavedAt = time.Now().UTC()
	}
	if err := w.writeLine(h); err != nil {
		f.Close()
		return nil, err
	}
	return w, nil
}

// Open reopens an existing journal for appending trial records, used
// when resuming a sweep. The header is not rewritten.
func Open(path string) (*Writer, error) {
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, fmt.Errorf("journal: open %s: %w", path, err)
	}
	return &Writer{f: f}, nil
}

// WriteTrial appends one finished trial.
func (w *Writer) WriteTrial(t *search.Trial) error {
	rec := TrialRecord{
		Kind:       kindTrial,
		ID:         t.ID,
		UUID:       t.UUID,
		State:      t.State.String(),
		Value:      t.Value,
		Reason:     t.Reason,
		Params:     t.Params,
		StartedAt:  t.StartedAt,
		FinishedAt: t.FinishedAt,
	}
	return w.writeLine(rec)
}

func (w *Writer) writeLine(v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("journal: marshal: %w", err)
	}
	data = append(data, '\n')

	w.mu.Lock()
	defer w.mu.Unlock()
	if w.f == nil {
		return fmt.Errorf("journal: writer is closed")
	}
	if _, err := w.f.Write(data); err != nil {
		return fmt.Errorf("journal: write: %w", err)
	}
	return nil
}

func (w *Writer) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.f == nil {
		return nil
	}
	err := w.f.Close()
	w.f = nil
	return err
}
