package tokenizer

import (
	"bufio"
	"fmt"
	"os"
	"strings"

	"github.com/goccy/go-json"
)

type hfTokenizerJSON struct {
	Model struct {
		Type                    string         `json:"type"`
		Vocab                   map[string]int `json:"vocab"`
		UnkToken                string         `json:"unk_token"`
		ContinuingSubwordPrefix string         `json:"continuing_subword_prefix"`
	} `json:"model"`
	Normalizer struct {
		Type      string `json:"type"`
		Lowercase *bool  `json:"lowercase"`
	} `json:"normalizer"`
	AddedTokens []struct {
		ID      int    `json:"id"`
		Content string `json:"content"`
		Special bool   `json:"special"`
	} `json:"added_tokens"`
}

type hfTokenizerConfig struct {
	DoLowerCase *bool `json:"do_lower_case"`
}

// LoadHFTokenizer reads a huggingface tokenizer.json (WordPiece model)
// plus an optional tokenizer_config.json for the casing flag.
func LoadHFTokenizer(tokJSON, tokConfig string) (*WordPiece, error) {
	data, err := os.ReadFile(tokJSON)
	if err != nil {
		return nil, err
	}
	var cfg []byte
	if tokConfig != "" {
		if raw, err := os.ReadFile(tokConfig); err == nil {
			cfg = raw
		}
	}
	return LoadHFTokenizerBytes(data, cfg)
}

// LoadHFTokenizerBytes parses tokenizer.json and tokenizer_config.json
// contents. Casing comes from the normalizer block, then the config
// file; uncased is the default for the BERT-family checkpoints this
// tool targets.
func LoadHFTokenizerBytes(tokJSON, tokConfig []byte) (*WordPiece, error) {
	var tj hfTokenizerJSON
	if err := json.Unmarshal(tokJSON, &tj); err != nil {
		return nil, err
	}
	if !strings.EqualFold(tj.Model.Type, "WordPiece") {
		return nil, fmt.Errorf("tokenizer: unsupported model %q", tj.Model.Type)
	}
	if len(tj.Model.Vocab) == 0 {
		return nil, fmt.Errorf("tokenizer: empty vocabulary")
	}

	maxID := -1
	for _, id := range tj.Model.Vocab {
		if id > maxID {
			maxID = id
		}
	}
	for _, at := range tj.AddedTokens {
		if at.ID > maxID {
			maxID = at.ID
		}
	}
	vocab := make([]string, maxID+1)
	for tok, id := range tj.Model.Vocab {
		if id < 0 {
			return nil, fmt.Errorf("tokenizer: negative id for %q", tok)
		}
		vocab[id] = tok
	}
	for _, at := range tj.AddedTokens {
		vocab[at.ID] = at.Content
	}

	lowercase := true
	if tj.Normalizer.Lowercase != nil {
		lowercase = *tj.Normalizer.Lowercase
	} else if len(tokConfig) > 0 {
		var cfg hfTokenizerConfig
		if err := json.Unmarshal(tokConfig, &cfg); err == nil && cfg.DoLowerCase != nil {
			lowercase = *cfg.DoLowerCase
		}
	}

	wp, err := NewWordPiece(vocab, lowercase)
	if err != nil {
		return nil, err
	}
	if tj.Model.ContinuingSubwordPrefix != "" {
		wp.subPrefix = tj.Model.ContinuingSubwordPrefix
	}
	if tj.Model.UnkToken != "" {
		if id, ok := wp.encoder[tj.Model.UnkToken]; ok {
			wp.unkID = id
		}
	}
	return wp, nil
}

// LoadVocabTxt reads a BERT vocab.txt (one token per line, id = line
// number).
func LoadVocabTxt(path string, lowercase bool) (*WordPiece, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer func() { _ = f.Close() }()

	var vocab []string
	sc := bufio.NewScanner(f)
	sc.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for sc.Scan() {
		vocab = append(vocab, strings.TrimRight(sc.Text(), "\r\n"))
	}
	if err := sc.Err(); err != nil {
		return nil, err
	}
	return NewWordPiece(vocab, lowercase)
}
