package tokenizer

import (
	"fmt"
	"strings"
	"unicode"
)

const (
	padToken  = "[PAD]"
	unkToken  = "[UNK]"
	clsToken  = "[CLS]"
	sepToken  = "[SEP]"
	maskToken = "[MASK]"

	// Words longer than this are mapped straight to [UNK], matching the
	// BERT reference tokenizer.
	maxCharsPerWord = 100
)

// WordPiece is a greedy longest-match-first subword tokenizer over a
// fixed vocabulary. Continuation pieces carry the "##" prefix.
type WordPiece struct {
	encoder   map[string]int
	decoder   []string
	subPrefix string
	lowercase bool

	unkID  int
	clsID  int
	sepID  int
	padID  int
	maskID int
}

// NewWordPiece builds a tokenizer from an ordered vocabulary. Token ids
// are vocabulary positions. Special token ids are resolved by their
// conventional names and may be absent (-1).
func NewWordPiece(vocab []string, lowercase bool) (*WordPiece, error) {
	if len(vocab) == 0 {
		return nil, fmt.Errorf("tokenizer: empty vocabulary")
	}
	encoder := make(map[string]int, len(vocab))
	for id, tok := range vocab {
		if tok == "" {
			continue // hole left by a sparse id space
		}
		if _, ok := encoder[tok]; ok {
			return nil, fmt.Errorf("tokenizer: duplicate vocab entry %q", tok)
		}
		encoder[tok] = id
	}
	lookup := func(name string) int {
		if id, ok := encoder[name]; ok {
			return id
		}
		return -1
	}
	return &WordPiece{
		encoder:   encoder,
		decoder:   append([]string(nil), vocab...),
		subPrefix: "##",
		lowercase: lowercase,
		unkID:     lookup(unkToken),
		clsID:     lookup(clsToken),
		sepID:     lookup(sepToken),
		padID:     lookup(padToken),
		maskID:    lookup(maskToken),
	}, nil
}

func (t *WordPiece) VocabSize() int { return len(t.decoder) }
func (t *WordPiece) UnkID() int     { return t.unkID }
func (t *WordPiece) ClsID() int     { return t.clsID }
func (t *WordPiece) SepID() int     { return t.sepID }
func (t *WordPiece) PadID() int     { return t.padID }

// TokenString returns the string for a token id when available.
func (t *WordPiece) TokenString(id int) string {
	if id < 0 || id >= len(t.decoder) {
		return ""
	}
	return t.decoder[id]
}

// Encode tokenizes text without adding special tokens.
func (t *WordPiece) Encode(text string) ([]int, error) {
	words := t.pretokenize(text)
	ids := make([]int, 0, len(words)*2)
	for _, word := range words {
		wordIDs, err := t.encodeWord(word)
		if err != nil {
			return nil, err
		}
		ids = append(ids, wordIDs...)
	}
	return ids, nil
}

// EncodeForClassification tokenizes text as a single classifier input:
// [CLS] pieces... [SEP], truncated to maxLen tokens when maxLen > 0.
// No padding is added; the engine walks positions one at a time, so
// trailing pad tokens would only burn cycles.
func (t *WordPiece) EncodeForClassification(text string, maxLen int) ([]int, error) {
	if t.clsID < 0 || t.sepID < 0 {
		return nil, fmt.Errorf("tokenizer: vocabulary lacks %s/%s", clsToken, sepToken)
	}
	ids, err := t.Encode(text)
	if err != nil {
		return nil, err
	}
	if maxLen > 0 {
		if maxLen < 2 {
			return nil, fmt.Errorf("tokenizer: max length %d cannot hold special tokens", maxLen)
		}
		if len(ids) > maxLen-2 {
			ids = ids[:maxLen-2]
		}
	}
	out := make([]int, 0, len(ids)+2)
	out = append(out, t.clsID)
	out = append(out, ids...)
	out = append(out, t.sepID)
	return out, nil
}

// Decode reassembles text from token ids. Continuation pieces join
// their predecessor; everything else is space-separated.
func (t *WordPiece) Decode(ids []int) (string, error) {
	var b strings.Builder
	for _, id := range ids {
		if id < 0 || id >= len(t.decoder) {
			return "", fmt.Errorf("tokenizer: token id out of range: %d", id)
		}
		tok := t.decoder[id]
		if rest, ok := strings.CutPrefix(tok, t.subPrefix); ok {
			b.WriteString(rest)
			continue
		}
		if b.Len() > 0 {
			b.WriteByte(' ')
		}
		b.WriteString(tok)
	}
	return b.String(), nil
}

func (t *WordPiece) encodeWord(word string) ([]int, error) {
	runes := []rune(word)
	if len(runes) > maxCharsPerWord {
		return t.unknown(word)
	}
	var ids []int
	start := 0
	for start < len(runes) {
		end := len(runes)
		match := -1
		for end > start {
			piece := string(runes[start:end])
			if start > 0 {
				piece = t.subPrefix + piece
			}
			if id, ok := t.encoder[piece]; ok {
				match = id
				break
			}
			end--
		}
		if match < 0 {
			return t.unknown(word)
		}
		ids = append(ids, match)
		start = end
	}
	return ids, nil
}

func (t *WordPiece) unknown(word string) ([]int, error) {
	if t.unkID < 0 {
		return nil, fmt.Errorf("tokenizer: unknown word %q and no %s token", word, unkToken)
	}
	return []int{t.unkID}, nil
}

// pretokenize splits text into words: whitespace-separated runs with
// punctuation and CJK characters isolated into single-rune words.
func (t *WordPiece) pretokenize(text string) []string {
	var words []string
	var cur strings.Builder
	flush := func() {
		if cur.Len() > 0 {
			words = append(words, cur.String())
			cur.Reset()
		}
	}
	for _, r := range text {
		switch {
		case unicode.IsSpace(r):
			flush()
		case isWordBreakRune(r):
			flush()
			words = append(words, string(normalizeRune(r, t.lowercase)))
		default:
			cur.WriteRune(normalizeRune(r, t.lowercase))
		}
	}
	flush()
	return words
}

func normalizeRune(r rune, lowercase bool) rune {
	if lowercase {
		return unicode.ToLower(r)
	}
	return r
}

// isWordBreakRune reports runes that form standalone tokens:
// punctuation, symbols, and CJK ideographs.
func isWordBreakRune(r rune) bool {
	if unicode.IsPunct(r) || unicode.IsSymbol(r) {
		return true
	}
	return unicode.Is(unicode.Han, r) ||
		unicode.Is(unicode.Hiragana, r) ||
		unicode.Is(unicode.Katakana, r)
}
