package tokenizer

import (
	"encoding/json"
	"fmt"
	"strings"
	"unicode"

	"golang.org/x/text/unicode/norm"
)

// Normalizer rewrites raw text before pre-tokenization.
type Normalizer interface {
	Normalize(text string) string
}

// Strip removes surrounding whitespace.
type Strip struct {
	Left  bool
	Right bool
}

func (s Strip) Normalize(text string) string {
	if s.Left {
		text = strings.TrimLeftFunc(text, unicode.IsSpace)
	}
	if s.Right {
		text = strings.TrimRightFunc(text, unicode.IsSpace)
	}
	return text
}

func (s Strip) MarshalJSON() ([]byte, error) {
	return json.Marshal(struct {
		Type  string `json:"type"`
		Left  bool   `json:"strip_left"`
		Right bool   `json:"strip_right"`
	}{"Strip", s.Left, s.Right})
}

// UnicodeForm applies one of the four Unicode normalization forms.
type UnicodeForm struct {
	Form norm.Form
}

var (
	NFC  = UnicodeForm{Form: norm.NFC}
	NFD  = UnicodeForm{Form: norm.NFD}
	NFKC = UnicodeForm{Form: norm.NFKC}
	NFKD = UnicodeForm{Form: norm.NFKD}
)

func (u UnicodeForm) Normalize(text string) string {
	return u.Form.String(text)
}

func (u UnicodeForm) name() string {
	switch u.Form {
	case norm.NFD:
		return "NFD"
	case norm.NFKC:
		return "NFKC"
	case norm.NFKD:
		return "NFKD"
	default:
		return "NFC"
	}
}

func (u UnicodeForm) MarshalJSON() ([]byte, error) {
	return json.Marshal(struct {
		Type string `json:"type"`
	}{u.name()})
}

// Lowercase folds text to lower case.
type Lowercase struct{}

func (Lowercase) Normalize(text string) string { return strings.ToLower(text) }

func (Lowercase) MarshalJSON() ([]byte, error) {
	return []byte(`{"type":"Lowercase"}`), nil
}

// Sequence applies normalizers in order.
type Sequence []Normalizer

func (s Sequence) Normalize(text string) string {
	for _, n := range s {
		text = n.Normalize(text)
	}
	return text
}

func (s Sequence) MarshalJSON() ([]byte, error) {
	steps := []Normalizer(s)
	if steps == nil {
		steps = []Normalizer{}
	}
	return json.Marshal(struct {
		Type        string       `json:"type"`
		Normalizers []Normalizer `json:"normalizers"`
	}{"Sequence", steps})
}

// DefaultNormalizer strips both ends then composes to NFC.
func DefaultNormalizer() Normalizer {
	return Sequence{Strip{Left: true, Right: true}, NFC}
}

func unmarshalNormalizer(raw json.RawMessage) (Normalizer, error) {
	if len(raw) == 0 || string(raw) == "null" {
		return nil, nil
	}

	var head struct {
		Type        string            `json:"type"`
		Left        bool              `json:"strip_left"`
		Right       bool              `json:"strip_right"`
		Normalizers []json.RawMessage `json:"normalizers"`
	}
	if err := json.Unmarshal(raw, &head); err != nil {
		return nil, fmt.Errorf("decode normalizer: %w", err)
	}

	switch head.Type {
	case "Strip":
		return Strip{Left: head.Left, Right: head.Right}, nil
	case "NFC":
		return NFC, nil
	case "NFD":
		return NFD, nil
	case "NFKC":
		return NFKC, nil
	case "NFKD":
		return NFKD, nil
	case "Lowercase":
		return Lowercase{}, nil
	case "Sequence":
		seq := make(Sequence, 0, len(head.Normalizers))
		for _, r := range head.Normalizers {
			n, err := unmarshalNormalizer(r)
			if err != nil {
				return nil, err
			}
			if n != nil {
				seq = append(seq, n)
			}
		}
		return seq, nil
	default:
		return nil, fmt.Errorf("%w: normalizer %q", ErrUnsupported, head.Type)
	}
}
