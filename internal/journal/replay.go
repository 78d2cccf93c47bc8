package journal

import (
	"bufio"
	"fmt"
	"os"

	"github.com/goccy/go-json"

	"github.com/samcharles93/qsweep/internal/logger"
	"github.com/samcharles93/qsweep/internal/search"
)

// Replay reads a journal back into a header and trial history. A
// malformed final line is treated as a torn write from a crashed run:
// it is skipped with a warning. Malformed lines anywhere else mean the
// file is not a journal and are an error.
func Replay(path string, log logger.Logger) (*Header, []*search.Trial, error) {
	if log == nil {
		log = logger.Default()
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, nil, fmt.Errorf("journal: open %s: %w", path, err)
	}
	defer f.Close()

	var lines [][]byte
	sc := bufio.NewScanner(f)
	sc.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	for sc.Scan() {
		line := append([]byte(nil), sc.Bytes()...)
		if len(line) > 0 {
			lines = append(lines, line)
		}
	}
	if err := sc.Err(); err != nil {
		return nil, nil, fmt.Errorf("journal: read %s: %w", path, err)
	}
	if len(lines) == 0 {
		return nil, nil, fmt.Errorf("journal: %s is empty", path)
	}

	var header Header
	if err := json.Unmarshal(lines[0], &header); err != nil || header.Kind != kindStudy {
		return nil, nil, fmt.Errorf("journal: %s does not start with a study header", path)
	}

	byID := make(map[int]int)
	var trials []*search.Trial
	for i, line := range lines[1:] {
		var rec TrialRecord
		if err := json.Unmarshal(line, &rec); err != nil || rec.Kind != kindTrial {
			if i == len(lines)-2 {
				log.Warn("ignoring torn final journal line", "path", path)
				break
			}
			return nil, nil, fmt.Errorf("journal: %s: bad record on line %d", path, i+2)
		}
		t, err := recordToTrial(rec)
		if err != nil {
			return nil, nil, fmt.Errorf("journal: %s line %d: %w", path, i+2, err)
		}
		// Later records for the same ID win, so a re-run trial
		// replaces its earlier attempt.
		if at, seen := byID[t.ID]; seen {
			trials[at] = t
			continue
		}
		byID[t.ID] = len(trials)
		trials = append(trials, t)
	}
	return &header, trials, nil
}

func recordToTrial(rec TrialRecord) (*search.Trial, error) {
	state, err := search.ParseState(rec.State)
	if err != nil {
		return nil, err
	}
	params := rec.Params
	if params == nil {
		params = make(map[string]search.Value)
	}
	return &search.Trial{
		ID:         rec.ID,
		UUID:       rec.UUID,
		Params:     params,
		Value:      rec.Value,
		State:      state,
		Reason:     rec.Reason,
		StartedAt:  rec.StartedAt,
		FinishedAt: rec.FinishedAt,
	}, nil
}
