// Package tokenizer assembles the text pipeline around a WordPiece model:
// normalizer, byte-level pre-tokenizer, post-processor and decoder. It trains
// the model from a record stream or from text files and persists the whole
// pipeline as a tokenizer.json artifact.
package tokenizer

import (
	"errors"
	"sort"
	"strings"
	"unicode/utf8"

	"github.com/rs/zerolog"
	xunicode "golang.org/x/text/encoding/unicode"

	"github.com/example/go-wordpiece-trainer/internal/wordpiece"
)

var (
	// ErrNoModel is returned when encoding or saving before training or loading.
	ErrNoModel = errors.New("tokenizer has no model")
	// ErrUnsupported is returned when an artifact names a component this
	// package cannot run.
	ErrUnsupported = errors.New("unsupported tokenizer component")
)

// Encoder turns text into token ids and back.
type Encoder interface {
	Encode(text string) (*Encoding, error)
	Decode(ids []int, skipSpecial bool) string
}

// Encoding is the result of encoding one text. Offsets are byte positions in
// the input text.
type Encoding struct {
	IDs     []int
	Tokens  []string
	Offsets [][2]int
	Special []bool
}

// Len returns the number of tokens.
func (e *Encoding) Len() int { return len(e.IDs) }

// AddedToken is a vocabulary entry matched before the model runs.
type AddedToken struct {
	ID int
	wordpiece.AddedToken
}

type Options struct {
	Normalizer    Normalizer
	PreTokenizer  *ByteLevel
	PostProcessor *ByteLevel
	Decoder       *ByteLevel
	Logger        zerolog.Logger
}

// DefaultOptions is the pipeline every trained artifact uses: Strip+NFC
// normalization and byte-level handling at every stage.
func DefaultOptions() Options {
	return Options{
		Normalizer:    DefaultNormalizer(),
		PreTokenizer:  NewByteLevel(),
		PostProcessor: NewByteLevel(),
		Decoder:       NewByteLevel(),
		Logger:        zerolog.Nop(),
	}
}

// Tokenizer is a text pipeline wrapped around a WordPiece model.
type Tokenizer struct {
	normalizer    Normalizer
	preTokenizer  *ByteLevel
	postProcessor *ByteLevel
	decoder       *ByteLevel

	model *wordpiece.Model
	added []AddedToken

	log zerolog.Logger
}

var _ Encoder = (*Tokenizer)(nil)

// New builds an untrained tokenizer.
func New(opts Options) *Tokenizer {
	return &Tokenizer{
		normalizer:    opts.Normalizer,
		preTokenizer:  opts.PreTokenizer,
		postProcessor: opts.PostProcessor,
		decoder:       opts.Decoder,
		log:           opts.Logger,
	}
}

// Model returns the trained model, or nil.
func (t *Tokenizer) Model() *wordpiece.Model { return t.model }

// AddedTokens returns the tokens matched ahead of the model, by id.
func (t *Tokenizer) AddedTokens() []AddedToken {
	out := make([]AddedToken, len(t.added))
	copy(out, t.added)
	return out
}

// VocabSize returns the model vocabulary size including added tokens.
func (t *Tokenizer) VocabSize() int {
	if t.model == nil {
		return len(t.added)
	}
	n := t.model.VocabSize()
	for _, a := range t.added {
		if _, ok := t.model.TokenToID(a.Content); !ok {
			n++
		}
	}
	return n
}

func (t *Tokenizer) setModel(m *wordpiece.Model, specials []wordpiece.AddedToken) {
	t.model = m
	t.added = t.added[:0]
	for _, st := range specials {
		id, ok := m.TokenToID(st.Content)
		if !ok {
			continue
		}
		t.added = append(t.added, AddedToken{ID: id, AddedToken: st})
	}
	sort.Slice(t.added, func(i, j int) bool { return t.added[i].ID < t.added[j].ID })
}

func (t *Tokenizer) normalize(text string) string {
	if t.normalizer == nil {
		return text
	}
	return t.normalizer.Normalize(text)
}

func (t *Tokenizer) preTokenize(text string) ([]PreToken, int) {
	if t.preTokenizer == nil {
		if text == "" {
			return nil, 0
		}
		return []PreToken{{Value: text, Offsets: [2]int{0, len(text)}}}, 0
	}
	return t.preTokenizer.PreTokenize(text)
}

// countWords adds the pre-tokens of one record to counts.
func (t *Tokenizer) countWords(record string, counts map[string]uint64) {
	pts, _ := t.preTokenize(t.normalize(record))
	for _, pt := range pts {
		counts[pt.Value]++
	}
}

// Encode runs the full pipeline. Added tokens are split out of the raw text
// first and never reach the normalizer or the model.
func (t *Tokenizer) Encode(text string) (*Encoding, error) {
	if t.model == nil {
		return nil, ErrNoModel
	}

	enc := &Encoding{}
	for _, frag := range t.splitAdded(text) {
		if frag.added != nil {
			enc.push(frag.added.ID, frag.added.Content, [2]int{frag.start, frag.end}, true)
			continue
		}
		t.encodeFragment(enc, text[frag.start:frag.end], frag.start)
	}
	return enc, nil
}

func (enc *Encoding) push(id int, tok string, offsets [2]int, special bool) {
	enc.IDs = append(enc.IDs, id)
	enc.Tokens = append(enc.Tokens, tok)
	enc.Offsets = append(enc.Offsets, offsets)
	enc.Special = append(enc.Special, special)
}

// encodeFragment encodes text that holds no added tokens. Offsets are counted
// in the normalized fragment; they match the input whenever normalization only
// trims the end or leaves the text unchanged.
func (t *Tokenizer) encodeFragment(enc *Encoding, frag string, base int) {
	normalized := t.normalize(frag)
	if lead := strings.Index(frag, normalized); lead > 0 {
		base += lead
	}

	pts, shift := t.preTokenize(normalized)
	for _, pt := range pts {
		// One character of a byte-mapped value is one input byte.
		for _, tok := range t.model.Tokenize(pt.Value) {
			offsets := [2]int{pt.Offsets[0] + tok.Offsets[0], pt.Offsets[0] + tok.Offsets[1]}
			if t.postProcessor != nil {
				offsets = t.postProcessor.ProcessOffsets(tok.Value, offsets)
			}
			offsets[0] = max(offsets[0]-shift, 0) + base
			offsets[1] = max(offsets[1]-shift, 0) + base
			enc.push(tok.ID, tok.Value, offsets, false)
		}
	}
}

type fragment struct {
	start, end int
	added      *AddedToken
}

// splitAdded cuts text around added-token occurrences, preferring the longest
// token at each position.
func (t *Tokenizer) splitAdded(text string) []fragment {
	if len(t.added) == 0 {
		if text == "" {
			return nil
		}
		return []fragment{{start: 0, end: len(text)}}
	}

	byLen := make([]*AddedToken, len(t.added))
	for i := range t.added {
		byLen[i] = &t.added[i]
	}
	sort.SliceStable(byLen, func(i, j int) bool { return len(byLen[i].Content) > len(byLen[j].Content) })

	var out []fragment
	last := 0
	for i := 0; i < len(text); {
		var hit *AddedToken
		for _, a := range byLen {
			if a.Content != "" && strings.HasPrefix(text[i:], a.Content) {
				hit = a
				break
			}
		}
		if hit == nil {
			i++
			continue
		}
		if i > last {
			out = append(out, fragment{start: last, end: i})
		}
		out = append(out, fragment{start: i, end: i + len(hit.Content), added: hit})
		i += len(hit.Content)
		last = i
	}
	if last < len(text) {
		out = append(out, fragment{start: last, end: len(text)})
	}
	return out
}

// Decode turns ids back into text. Unknown ids are skipped.
func (t *Tokenizer) Decode(ids []int, skipSpecial bool) string {
	if t.model == nil {
		return ""
	}

	special := make(map[int]bool, len(t.added))
	for _, a := range t.added {
		special[a.ID] = a.Special
	}

	toks := make([]string, 0, len(ids))
	for _, id := range ids {
		if skipSpecial && special[id] {
			continue
		}
		tok, ok := t.model.IDToToken(id)
		if !ok {
			continue
		}
		toks = append(toks, tok)
	}

	if t.decoder == nil {
		return strings.Join(toks, " ")
	}
	return t.decoder.Decode(toks, t.model.ContinuingSubwordPrefix)
}

// lossyString decodes UTF-8, replacing each invalid sequence with U+FFFD.
func lossyString(b []byte) string {
	if utf8.Valid(b) {
		return string(b)
	}
	out, err := xunicode.UTF8.NewDecoder().Bytes(b)
	if err != nil {
		return strings.ToValidUTF8(string(b), string(utf8.RuneError))
	}
	return string(out)
}
