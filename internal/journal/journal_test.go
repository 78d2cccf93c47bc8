package journal

import (
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/samcharles93/qsweep/internal/logger"
	"github.com/samcharles93/qsweep/internal/search"
)

func quietLogger() logger.Logger {
	return logger.New(slog.NewTextHandler(io.Discard, nil))
}

func testHeader() Header {
	return Header{
		Name:       "sweep-1",
		UUID:       "11111111-2222-3333-4444-555555555555",
		Direction:  "maximize",
		Sampler:    "random",
		Space:      "abcdef0123456789",
		Checkpoint: "distilbert-sst2",
	}
}

func testTrial(id int, state search.State, value float64) *search.Trial {
	return &search.Trial{
		ID:    id,
		UUID:  "aaaaaaaa-bbbb-cccc-dddd-eeeeeeeeeeee",
		State: state,
		Value: value,
		Params: map[string]search.Value{
			"layer.0.kind": search.CategoricalValue("quant"),
			"layer.0.bits": search.IntValue(4),
			"lr":           search.FloatValue(0.05),
		},
		StartedAt:  time.Date(2025, 6, 1, 10, 0, 0, 0, time.UTC),
		FinishedAt: time.Date(2025, 6, 1, 10, 0, 30, 0, time.UTC),
	}
}

func TestWriteAndReplay(t *testing.T) {
	t.Parallel()
	path := filepath.Join(t.TempDir(), "sweep.jsonl")

	w, err := Create(path, testHeader())
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if err := w.WriteTrial(testTrial(0, search.StateComplete, 0.81)); err != nil {
		t.Fatalf("WriteTrial: %v", err)
	}
	failed := testTrial(1, search.StateFailed, 0)
	failed.Reason = "panic in objective: boom"
	if err := w.WriteTrial(failed); err != nil {
		t.Fatalf("WriteTrial: %v", err)
	}
	if err := w.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	header, trials, err := Replay(path, quietLogger())
	if err != nil {
		t.Fatalf("Replay: %v", err)
	}
	if header.Name != "sweep-1" || header.Sampler != "random" || header.Space != "abcdef0123456789" {
		t.Fatalf("header mismatch: %+v", header)
	}
	if len(trials) != 2 {
		t.Fatalf("replayed %d trials, want 2", len(trials))
	}
	got := trials[0]
	if got.ID != 0 || got.State != search.StateComplete || got.Value != 0.81 {
		t.Fatalf("trial 0 mismatch: %+v", got)
	}
	if v, ok := got.Params["layer.0.bits"]; !ok || v.Kind != search.ValueInt || v.Int != 4 {
		t.Fatalf("int param lost in roundtrip: %+v", v)
	}
	if v := got.Params["layer.0.kind"]; v.Str != "quant" {
		t.Fatalf("categorical param lost in roundtrip: %+v", v)
	}
	if v := got.Params["lr"]; v.Kind != search.ValueFloat || v.Float != 0.05 {
		t.Fatalf("float param lost in roundtrip: %+v", v)
	}
	if trials[1].Reason != "panic in objective: boom" {
		t.Fatalf("failure reason lost: %q", trials[1].Reason)
	}
}

func TestReplayToleratesTornFinalLine(t *testing.T) {
	t.Parallel()
	path := filepath.Join(t.TempDir(), "sweep.jsonl")

	w, err := Create(path, testHeader())
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if err := w.WriteTrial(testTrial(0, search.StateComplete, 0.7)); err != nil {
		t.Fatalf("WriteTrial: %v", err)
	}
	if err := w.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	// Simulate a crash mid-write.
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		t.Fatalf("append: %v", err)
	}
	if _, err := f.WriteString(`{"kind":"trial","id":1,"state":"comp`); err != nil {
		t.Fatalf("write torn line: %v", err)
	}
	f.Close()

	_, trials, err := Replay(path, quietLogger())
	if err != nil {
		t.Fatalf("Replay with torn line: %v", err)
	}
	if len(trials) != 1 || trials[0].ID != 0 {
		t.Fatalf("torn replay returned %d trials: %+v", len(trials), trials)
	}
}

func TestReplayRejectsMidFileGarbage(t *testing.T) {
	t.Parallel()
	path := filepath.Join(t.TempDir(), "sweep.jsonl")

	w, err := Create(path, testHeader())
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	w.Close()

	content, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	body := string(content) + "not json at all\n" + `{"kind":"trial","id":0,"state":"complete","params":{}}` + "\n"
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatalf("rewrite: %v", err)
	}

	if _, _, err := Replay(path, quietLogger()); err == nil {
		t.Fatalf("expected error for garbage before the final line")
	}
}

func TestReplayRequiresHeader(t *testing.T) {
	t.Parallel()
	path := filepath.Join(t.TempDir(), "sweep.jsonl")
	line := `{"kind":"trial","id":0,"state":"complete","params":{}}` + "\n"
	if err := os.WriteFile(path, []byte(line), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	if _, _, err := Replay(path, quietLogger()); err == nil || !strings.Contains(err.Error(), "study header") {
		t.Fatalf("expected header error, got %v", err)
	}
}

func TestOpenAppendsAfterResume(t *testing.T) {
	t.Parallel()
	path := filepath.Join(t.TempDir(), "sweep.jsonl")

	w, err := Create(path, testHeader())
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if err := w.WriteTrial(testTrial(0, search.StateComplete, 0.5)); err != nil {
		t.Fatalf("WriteTrial: %v", err)
	}
	w.Close()

	w2, err := Open(path)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if err := w2.WriteTrial(testTrial(1, search.StateComplete, 0.9)); err != nil {
		t.Fatalf("WriteTrial after reopen: %v", err)
	}
	w2.Close()

	header, trials, err := Replay(path, quietLogger())
	if err != nil {
		t.Fatalf("Replay: %v", err)
	}
	if header.UUID != testHeader().UUID {
		t.Fatalf("header UUID changed across reopen: %q", header.UUID)
	}
	if len(trials) != 2 || trials[1].Value != 0.9 {
		t.Fatalf("appended trial lost: %+v", trials)
	}
}

func TestReplayLastRecordWinsPerID(t *testing.T) {
	t.Parallel()
	path := filepath.Join(t.TempDir(), "sweep.jsonl")

	w, err := Create(path, testHeader())
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	first := testTrial(0, search.StateFailed, 0)
	first.Reason = "transient"
	if err := w.WriteTrial(first); err != nil {
		t.Fatalf("WriteTrial: %v", err)
	}
	if err := w.WriteTrial(testTrial(0, search.StateComplete, 0.66)); err != nil {
		t.Fatalf("WriteTrial: %v", err)
	}
	w.Close()

	_, trials, err := Replay(path, quietLogger())
	if err != nil {
		t.Fatalf("Replay: %v", err)
	}
	if len(trials) != 1 {
		t.Fatalf("replayed %d trials, want 1", len(trials))
	}
	if trials[0].State != search.StateComplete || trials[0].Value != 0.66 {
		t.Fatalf("later record did not win: %+v", trials[0])
	}
}
