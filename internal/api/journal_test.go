package api

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/samcharles93/qsweep/internal/journal"
	"github.com/samcharles93/qsweep/internal/search"
)

func writeSweepJournal(t *testing.T, path string) {
	t.Helper()
	w, err := journal.Create(path, journal.Header{
		Name:       "overnight",
		UUID:       "11111111-2222-3333-4444-555555555555",
		Direction:  "maximize",
		Sampler:    "tpe",
		Space:      "abcdef0123456789",
		Checkpoint: "tiny-sst2",
	})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	ok := &search.Trial{
		ID:    0,
		UUID:  "aaaaaaaa-bbbb-cccc-dddd-eeeeeeeeeeee",
		State: search.StateComplete,
		Value: 0.87,
		Params: map[string]search.Value{
			"layer.ffn.bits": search.IntValue(4),
		},
		StartedAt:  time.Date(2025, 6, 1, 10, 0, 0, 0, time.UTC),
		FinishedAt: time.Date(2025, 6, 1, 10, 2, 0, 0, time.UTC),
	}
	failed := &search.Trial{
		ID:         1,
		UUID:       "aaaaaaaa-bbbb-cccc-dddd-ffffffffffff",
		State:      search.StateFailed,
		Reason:     "training diverged",
		StartedAt:  time.Date(2025, 6, 1, 10, 2, 0, 0, time.UTC),
		FinishedAt: time.Date(2025, 6, 1, 10, 2, 30, 0, time.UTC),
	}
	for _, tr := range []*search.Trial{ok, failed} {
		if err := w.WriteTrial(tr); err != nil {
			t.Fatalf("WriteTrial: %v", err)
		}
	}
	if err := w.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
}

func TestLoadJournal(t *testing.T) {
	t.Parallel()
	path := filepath.Join(t.TempDir(), "overnight.jsonl")
	writeSweepJournal(t, path)

	header, trials, err := journal.Replay(path, quietLogger())
	if err != nil {
		t.Fatalf("Replay: %v", err)
	}
	store := NewStore()
	if err := store.LoadJournal(header, trials); err != nil {
		t.Fatalf("LoadJournal: %v", err)
	}

	dto, ok := store.Get("overnight")
	if !ok {
		t.Fatal("study not found by name")
	}
	if dto.UUID != "11111111-2222-3333-4444-555555555555" {
		t.Fatalf("uuid = %q", dto.UUID)
	}
	if dto.Sampler != "tpe" || dto.Direction != "maximize" {
		t.Fatalf("summary mismatch: %+v", dto)
	}
	if dto.Trials != 2 || dto.Completed != 1 || dto.Failed != 1 {
		t.Fatalf("counts = %d/%d/%d, want 2/1/1", dto.Trials, dto.Completed, dto.Failed)
	}
	if dto.Best == nil || dto.Best.ID != 0 || dto.Best.Value != 0.87 {
		t.Fatalf("best = %+v", dto.Best)
	}

	got, ok := store.Trials(header.UUID)
	if !ok {
		t.Fatal("trials not found by uuid")
	}
	if len(got) != 2 {
		t.Fatalf("got %d trials, want 2", len(got))
	}
	if v := got[0].Params["layer.ffn.bits"]; v.Int != 4 {
		t.Fatalf("trial 0 params = %+v", got[0].Params)
	}
	if got[1].Reason != "training diverged" {
		t.Fatalf("trial 1 reason = %q", got[1].Reason)
	}
}

func TestLoadJournalTwiceMergesTrials(t *testing.T) {
	t.Parallel()
	path := filepath.Join(t.TempDir(), "overnight.jsonl")
	writeSweepJournal(t, path)

	header, trials, err := journal.Replay(path, quietLogger())
	if err != nil {
		t.Fatalf("Replay: %v", err)
	}
	store := NewStore()
	for range 2 {
		if err := store.LoadJournal(header, trials); err != nil {
			t.Fatalf("LoadJournal: %v", err)
		}
	}
	if n := len(store.List()); n != 1 {
		t.Fatalf("registered %d studies, want 1", n)
	}
	dto, _ := store.Get(header.UUID)
	if dto.Trials != 2 {
		t.Fatalf("trials = %d, want 2", dto.Trials)
	}
}

func TestLoadJournalBadDirection(t *testing.T) {
	t.Parallel()
	h := &journal.Header{Name: "bad", UUID: "u-1", Direction: "sideways"}
	if err := NewStore().LoadJournal(h, nil); err == nil {
		t.Fatal("expected error for unknown direction")
	}
}
