// Package dataset loads labelled text classification data from JSONL
// and CSV files and prepares it for training: deterministic shuffles,
// splits, batches, and tokenization.
package dataset

import (
	"bufio"
	"encoding/csv"
	"fmt"
	"io"
	"math/rand"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"github.com/goccy/go-json"
)

// Example is one labelled text sample.
type Example struct {
	Text  string
	Label int
}

// Dataset holds examples plus optional label names. When Labels is set,
// Example.Label indexes into it.
type Dataset struct {
	Examples []Example
	Labels   []string
}

// NumClasses returns the number of distinct classes: the label-name
// count when names are known, otherwise max label + 1.
func (d *Dataset) NumClasses() int {
	if len(d.Labels) > 0 {
		return len(d.Labels)
	}
	maxLabel := -1
	for _, ex := range d.Examples {
		if ex.Label > maxLabel {
			maxLabel = ex.Label
		}
	}
	return maxLabel + 1
}

func (d *Dataset) Len() int { return len(d.Examples) }

// LabelName returns the display name for a label index.
func (d *Dataset) LabelName(label int) string {
	if label >= 0 && label < len(d.Labels) {
		return d.Labels[label]
	}
	return strconv.Itoa(label)
}

// Shuffle permutes the examples in place. The same seed always produces
// the same order.
func (d *Dataset) Shuffle(seed int64) {
	rng := rand.New(rand.NewSource(seed))
	rng.Shuffle(len(d.Examples), func(i, j int) {
		d.Examples[i], d.Examples[j] = d.Examples[j], d.Examples[i]
	})
}

// Truncate limits the dataset to its first n examples.
func (d *Dataset) Truncate(n int) {
	if n > 0 && n < len(d.Examples) {
		d.Examples = d.Examples[:n]
	}
}

// Split shuffles a copy of the dataset with the given seed and divides
// it into train and eval parts. trainFrac is clamped to [0,1].
func (d *Dataset) Split(trainFrac float64, seed int64) (train, eval Dataset) {
	if trainFrac < 0 {
		trainFrac = 0
	}
	if trainFrac > 1 {
		trainFrac = 1
	}
	shuffled := Dataset{
		Examples: append([]Example(nil), d.Examples...),
		Labels:   d.Labels,
	}
	shuffled.Shuffle(seed)
	cut := int(float64(len(shuffled.Examples)) * trainFrac)
	train = Dataset{Examples: shuffled.Examples[:cut], Labels: d.Labels}
	eval = Dataset{Examples: shuffled.Examples[cut:], Labels: d.Labels}
	return train, eval
}

// Batches slices the examples into consecutive batches of at most
// batchSize each.
func (d *Dataset) Batches(batchSize int) [][]Example {
	if batchSize <= 0 {
		batchSize = 1
	}
	numBatches := (len(d.Examples) + batchSize - 1) / batchSize
	batches := make([][]Example, 0, numBatches)
	for start := 0; start < len(d.Examples); start += batchSize {
		end := start + batchSize
		if end > len(d.Examples) {
			end = len(d.Examples)
		}
		batches = append(batches, d.Examples[start:end])
	}
	return batches
}

// Load reads a dataset, picking the format from the file extension.
func Load(path string) (Dataset, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".jsonl", ".ndjson":
		return LoadJSONL(path)
	case ".csv":
		return LoadCSV(path)
	default:
		return Dataset{}, fmt.Errorf("dataset: unsupported file type %q", filepath.Ext(path))
	}
}

type jsonlRecord struct {
	Text  string `json:"text"`
	Label any    `json:"label"`
}

// LoadJSONL reads one JSON object per line with "text" and "label"
// fields. Labels are either non-negative integers or strings; string
// labels are mapped to indices over the sorted set of distinct names.
func LoadJSONL(path string) (Dataset, error) {
	f, err := os.Open(path)
	if err != nil {
		return Dataset{}, err
	}
	defer func() { _ = f.Close() }()
	return parseJSONL(f, path)
}

func parseJSONL(r io.Reader, path string) (Dataset, error) {
	var texts []string
	var intLabels []int
	var nameLabels []string
	sawInt, sawName := false, false

	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)
	lineNo := 0
	for sc.Scan() {
		lineNo++
		line := strings.TrimSpace(sc.Text())
		if line == "" {
			continue
		}
		var rec jsonlRecord
		if err := json.Unmarshal([]byte(line), &rec); err != nil {
			return Dataset{}, fmt.Errorf("dataset: %s:%d: %w", path, lineNo, err)
		}
		if rec.Text == "" {
			return Dataset{}, fmt.Errorf("dataset: %s:%d: missing text", path, lineNo)
		}
		switch v := rec.Label.(type) {
		case float64:
			n := int(v)
			if float64(n) != v || n < 0 {
				return Dataset{}, fmt.Errorf("dataset: %s:%d: label %v is not a class index", path, lineNo, v)
			}
			sawInt = true
			intLabels = append(intLabels, n)
			nameLabels = append(nameLabels, "")
		case string:
			if v == "" {
				return Dataset{}, fmt.Errorf("dataset: %s:%d: empty label", path, lineNo)
			}
			sawName = true
			intLabels = append(intLabels, -1)
			nameLabels = append(nameLabels, v)
		default:
			return Dataset{}, fmt.Errorf("dataset: %s:%d: missing or invalid label", path, lineNo)
		}
		texts = append(texts, rec.Text)
	}
	if err := sc.Err(); err != nil {
		return Dataset{}, fmt.Errorf("dataset: %s: %w", path, err)
	}
	return assemble(path, texts, intLabels, nameLabels, sawInt, sawName)
}

// LoadCSV reads two-column CSV rows (text, label). A "text,label"
// header row is skipped.
func LoadCSV(path string) (Dataset, error) {
	f, err := os.Open(path)
	if err != nil {
		return Dataset{}, err
	}
	defer func() { _ = f.Close() }()

	var texts []string
	var intLabels []int
	var nameLabels []string
	sawInt, sawName := false, false

	cr := csv.NewReader(f)
	cr.FieldsPerRecord = 2
	rowNo := 0
	for {
		record, err := cr.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return Dataset{}, fmt.Errorf("dataset: %s: %w", path, err)
		}
		rowNo++
		if rowNo == 1 && strings.EqualFold(strings.TrimSpace(record[0]), "text") &&
			strings.EqualFold(strings.TrimSpace(record[1]), "label") {
			continue
		}
		text := record[0]
		if text == "" {
			return Dataset{}, fmt.Errorf("dataset: %s: row %d: empty text", path, rowNo)
		}
		label := strings.TrimSpace(record[1])
		if n, err := strconv.Atoi(label); err == nil {
			if n < 0 {
				return Dataset{}, fmt.Errorf("dataset: %s: row %d: negative label %d", path, rowNo, n)
			}
			sawInt = true
			intLabels = append(intLabels, n)
			nameLabels = append(nameLabels, "")
		} else {
			if label == "" {
				return Dataset{}, fmt.Errorf("dataset: %s: row %d: empty label", path, rowNo)
			}
			sawName = true
			intLabels = append(intLabels, -1)
			nameLabels = append(nameLabels, label)
		}
		texts = append(texts, text)
	}
	return assemble(path, texts, intLabels, nameLabels, sawInt, sawName)
}

func assemble(path string, texts []string, intLabels []int, nameLabels []string, sawInt, sawName bool) (Dataset, error) {
	if len(texts) == 0 {
		return Dataset{}, fmt.Errorf("dataset: %s: no examples", path)
	}
	if sawInt && sawName {
		return Dataset{}, fmt.Errorf("dataset: %s: mixes integer and string labels", path)
	}

	d := Dataset{Examples: make([]Example, len(texts))}
	if sawName {
		seen := map[string]struct{}{}
		for _, name := range nameLabels {
			seen[name] = struct{}{}
		}
		d.Labels = make([]string, 0, len(seen))
		for name := range seen {
			d.Labels = append(d.Labels, name)
		}
		sort.Strings(d.Labels)
		index := make(map[string]int, len(d.Labels))
		for i, name := range d.Labels {
			index[name] = i
		}
		for i := range texts {
			d.Examples[i] = Example{Text: texts[i], Label: index[nameLabels[i]]}
		}
		return d, nil
	}
	for i := range texts {
		d.Examples[i] = Example{Text: texts[i], Label: intLabels[i]}
	}
	return d, nil
}
