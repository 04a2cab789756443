// Package wordpiece implements the WordPiece subword model and its trainer.
//
// The model does greedy longest-match-first segmentation of a single
// pre-token; continuation pieces carry a prefix ("##" by default). The trainer
// learns the vocabulary by BPE-style pair merging over word counts, the way
// the HuggingFace WordPieceTrainer does, so artifacts are interchangeable.
package wordpiece

import (
	"sort"
	"strings"
	"unicode/utf8"
)

const (
	DefaultUnkToken         = "[UNK]"
	DefaultContinuingPrefix = "##"
	DefaultMaxInputChars    = 100
)

// Token is one model output with offsets into the pre-token, counted in
// characters of the pre-token string.
type Token struct {
	ID      int
	Value   string
	Offsets [2]int
}

// Model is a trained WordPiece vocabulary.
type Model struct {
	vocab  map[string]int
	tokens []string

	UnkToken                string
	ContinuingSubwordPrefix string
	MaxInputCharsPerWord    int
}

// NewModel builds a model from a token→id map. Ids must be dense from zero.
func NewModel(vocab map[string]int) *Model {
	m := &Model{
		vocab:                   make(map[string]int, len(vocab)),
		tokens:                  make([]string, len(vocab)),
		UnkToken:                DefaultUnkToken,
		ContinuingSubwordPrefix: DefaultContinuingPrefix,
		MaxInputCharsPerWord:    DefaultMaxInputChars,
	}
	for tok, id := range vocab {
		m.vocab[tok] = id
		if id >= 0 && id < len(m.tokens) {
			m.tokens[id] = tok
		}
	}
	return m
}

// VocabSize returns the number of entries.
func (m *Model) VocabSize() int { return len(m.vocab) }

// TokenToID looks up a token.
func (m *Model) TokenToID(tok string) (int, bool) {
	id, ok := m.vocab[tok]
	return id, ok
}

// IDToToken looks up an id.
func (m *Model) IDToToken(id int) (string, bool) {
	if id < 0 || id >= len(m.tokens) {
		return "", false
	}
	return m.tokens[id], true
}

// Tokens returns the vocabulary ordered by id.
func (m *Model) Tokens() []string {
	out := make([]string, len(m.tokens))
	copy(out, m.tokens)
	return out
}

// Vocab returns a copy of the token→id map.
func (m *Model) Vocab() map[string]int {
	out := make(map[string]int, len(m.vocab))
	for k, v := range m.vocab {
		out[k] = v
	}
	return out
}

// IsContinuation reports whether tok is a non-initial piece.
func (m *Model) IsContinuation(tok string) bool {
	return m.ContinuingSubwordPrefix != "" && strings.HasPrefix(tok, m.ContinuingSubwordPrefix)
}

// Tokenize segments one pre-token. A word that cannot be covered completely,
// or that is longer than MaxInputCharsPerWord, becomes a single unknown token.
func (m *Model) Tokenize(word string) []Token {
	chars := []rune(word)
	if len(chars) == 0 {
		return nil
	}

	if len(chars) > m.MaxInputCharsPerWord {
		return []Token{m.unk(len(chars))}
	}

	var out []Token
	start := 0
	for start < len(chars) {
		end := len(chars)
		found := false
		for start < end {
			sub := string(chars[start:end])
			if start > 0 {
				sub = m.ContinuingSubwordPrefix + sub
			}
			if id, ok := m.vocab[sub]; ok {
				out = append(out, Token{ID: id, Value: sub, Offsets: [2]int{start, end}})
				found = true
				break
			}
			end--
		}
		if !found {
			return []Token{m.unk(len(chars))}
		}
		start = end
	}

	return out
}

func (m *Model) unk(n int) Token {
	id, ok := m.vocab[m.UnkToken]
	if !ok {
		id = -1
	}
	return Token{ID: id, Value: m.UnkToken, Offsets: [2]int{0, n}}
}

// Stats summarises a vocabulary for reporting.
type Stats struct {
	Size          int
	Continuations int
	LongestToken  string
}

// Summarize reports the vocabulary composition.
func (m *Model) Summarize() Stats {
	s := Stats{Size: len(m.tokens)}
	for _, tok := range m.tokens {
		if m.IsContinuation(tok) {
			s.Continuations++
		}
		if utf8.RuneCountInString(tok) > utf8.RuneCountInString(s.LongestToken) {
			s.LongestToken = tok
		}
	}
	return s
}

// sortedKeys returns map keys in byte order.
func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
