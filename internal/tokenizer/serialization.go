package tokenizer

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/rs/zerolog"

	"github.com/example/go-wordpiece-trainer/internal/wordpiece"
)

// ErrEmptyPath is returned when Save or Load is called with an empty path.
var ErrEmptyPath = errors.New("tokenizer path must not be empty")

const artifactVersion = "1.0"

type addedTokenJSON struct {
	ID         int    `json:"id"`
	Content    string `json:"content"`
	SingleWord bool   `json:"single_word"`
	LStrip     bool   `json:"lstrip"`
	RStrip     bool   `json:"rstrip"`
	Normalized bool   `json:"normalized"`
	Special    bool   `json:"special"`
}

type modelJSON struct {
	Type                    string       `json:"type"`
	UnkToken                string       `json:"unk_token"`
	ContinuingSubwordPrefix string       `json:"continuing_subword_prefix"`
	MaxInputCharsPerWord    int          `json:"max_input_chars_per_word"`
	Vocab                   orderedVocab `json:"vocab"`
}

// orderedVocab marshals as a JSON object listing tokens in id order.
type orderedVocab struct {
	tokens []string
	ids    map[string]int
}

func (v orderedVocab) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('{')
	for id, tok := range v.tokens {
		if id > 0 {
			buf.WriteByte(',')
		}
		key, err := marshalRaw(tok)
		if err != nil {
			return nil, err
		}
		buf.Write(key)
		fmt.Fprintf(&buf, ":%d", id)
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

func (v *orderedVocab) UnmarshalJSON(data []byte) error {
	return json.Unmarshal(data, &v.ids)
}

type artifactJSON struct {
	Version       string           `json:"version"`
	Truncation    json.RawMessage  `json:"truncation"`
	Padding       json.RawMessage  `json:"padding"`
	AddedTokens   []addedTokenJSON `json:"added_tokens"`
	Normalizer    json.RawMessage  `json:"normalizer"`
	PreTokenizer  *ByteLevel       `json:"pre_tokenizer"`
	PostProcessor *ByteLevel       `json:"post_processor"`
	Decoder       *ByteLevel       `json:"decoder"`
	Model         modelJSON        `json:"model"`
}

var jsonNull = json.RawMessage("null")

// MarshalJSON renders the tokenizer.json layout.
func (t *Tokenizer) MarshalJSON() ([]byte, error) {
	if t.model == nil {
		return nil, ErrNoModel
	}

	normalizer := jsonNull
	if t.normalizer != nil {
		raw, err := marshalRaw(t.normalizer)
		if err != nil {
			return nil, fmt.Errorf("encode normalizer: %w", err)
		}
		normalizer = raw
	}

	added := make([]addedTokenJSON, 0, len(t.added))
	for _, a := range t.added {
		added = append(added, addedTokenJSON{
			ID:         a.ID,
			Content:    a.Content,
			SingleWord: a.SingleWord,
			LStrip:     a.LStrip,
			RStrip:     a.RStrip,
			Normalized: a.Normalized,
			Special:    a.Special,
		})
	}

	return marshalRaw(artifactJSON{
		Version:       artifactVersion,
		Truncation:    jsonNull,
		Padding:       jsonNull,
		AddedTokens:   added,
		Normalizer:    normalizer,
		PreTokenizer:  t.preTokenizer,
		PostProcessor: t.postProcessor,
		Decoder:       t.decoder,
		Model: modelJSON{
			Type:                    "WordPiece",
			UnkToken:                t.model.UnkToken,
			ContinuingSubwordPrefix: t.model.ContinuingSubwordPrefix,
			MaxInputCharsPerWord:    t.model.MaxInputCharsPerWord,
			Vocab:                   orderedVocab{tokens: t.model.Tokens()},
		},
	})
}

// marshalRaw encodes v compactly without HTML escaping, so tokens such as
// "<" survive verbatim.
func marshalRaw(v any) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(v); err != nil {
		return nil, err
	}
	return bytes.TrimRight(buf.Bytes(), "\n"), nil
}

// Save writes the artifact to path. The file is written next to its
// destination and renamed into place, so a failed save leaves no partial
// artifact behind.
func (t *Tokenizer) Save(path string, pretty bool) error {
	if path == "" {
		return ErrEmptyPath
	}

	data, err := marshalRaw(t)
	if err != nil {
		return fmt.Errorf("encode tokenizer: %w", err)
	}
	if pretty {
		var buf bytes.Buffer
		if err := json.Indent(&buf, data, "", "  "); err != nil {
			return fmt.Errorf("indent tokenizer: %w", err)
		}
		data = buf.Bytes()
	}

	tmp, err := os.CreateTemp(filepath.Dir(path), "."+filepath.Base(path)+".*.tmp")
	if err != nil {
		return fmt.Errorf("create artifact: %w", err)
	}
	tmpName := tmp.Name()
	defer func() { _ = os.Remove(tmpName) }() // no-op once renamed

	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("write artifact: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close artifact: %w", err)
	}
	if err := os.Chmod(tmpName, 0o644); err != nil {
		return fmt.Errorf("chmod artifact: %w", err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		return fmt.Errorf("rename artifact: %w", err)
	}

	t.log.Info().Str("path", path).Int("bytes", len(data)).Msg("tokenizer saved")

	return nil
}

// Load reads an artifact written by Save (or any tokenizer.json built from
// the same component types).
func Load(path string, log zerolog.Logger) (*Tokenizer, error) {
	if path == "" {
		return nil, ErrEmptyPath
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read tokenizer %q: %w", path, err)
	}

	t, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("parse tokenizer %q: %w", path, err)
	}
	t.log = log

	return t, nil
}

// Parse decodes a tokenizer.json document.
func Parse(data []byte) (*Tokenizer, error) {
	var a artifactJSON
	if err := json.Unmarshal(data, &a); err != nil {
		return nil, err
	}
	if a.Model.Type != "WordPiece" {
		return nil, fmt.Errorf("%w: model %q", ErrUnsupported, a.Model.Type)
	}

	normalizer, err := unmarshalNormalizer(a.Normalizer)
	if err != nil {
		return nil, err
	}

	ids := a.Model.Vocab.ids
	seen := make([]bool, len(ids))
	for tok, id := range ids {
		if id < 0 || id >= len(ids) || seen[id] {
			return nil, fmt.Errorf("vocab entry %q has invalid id %d", tok, id)
		}
		seen[id] = true
	}

	m := wordpiece.NewModel(ids)
	if a.Model.UnkToken != "" {
		m.UnkToken = a.Model.UnkToken
	}
	m.ContinuingSubwordPrefix = a.Model.ContinuingSubwordPrefix
	if a.Model.MaxInputCharsPerWord > 0 {
		m.MaxInputCharsPerWord = a.Model.MaxInputCharsPerWord
	}

	t := New(Options{
		Normalizer:    normalizer,
		PreTokenizer:  a.PreTokenizer,
		PostProcessor: a.PostProcessor,
		Decoder:       a.Decoder,
		Logger:        zerolog.Nop(),
	})
	t.model = m
	for _, at := range a.AddedTokens {
		t.added = append(t.added, AddedToken{
			ID: at.ID,
			AddedToken: wordpiece.AddedToken{
				Content:    at.Content,
				SingleWord: at.SingleWord,
				LStrip:     at.LStrip,
				RStrip:     at.RStrip,
				Normalized: at.Normalized,
				Special:    at.Special,
			},
		})
	}

	return t, nil
}
