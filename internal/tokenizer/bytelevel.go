package tokenizer

import (
	"encoding/json"
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/dlclark/regexp2"
)

// gpt2Pattern splits text into words, numbers, punctuation runs and
// whitespace, keeping one leading space attached to the following piece.
const gpt2Pattern = `'s|'t|'re|'ve|'m|'ll|'d| ?\p{L}+| ?\p{N}+| ?[^\s\p{L}\p{N}]+|\s+(?!\S)|\s+`

var (
	splitter = regexp2.MustCompile(gpt2Pattern, regexp2.RE2)

	byteToRune [256]rune
	runeToByte = make(map[rune]byte, 256)

	// spaceRune is what ' ' looks like after byte mapping ('Ġ'). Set by init.
	spaceRune rune
)

// Printable bytes map to themselves; the rest are shifted past U+0100 so every
// byte has a visible, non-whitespace character.
func init() {
	n := 0
	for b := 0; b < 256; b++ {
		switch {
		case b >= '!' && b <= '~', b >= 0xA1 && b <= 0xAC, b >= 0xAE && b <= 0xFF:
			byteToRune[b] = rune(b)
		default:
			byteToRune[b] = rune(256 + n)
			n++
		}
		runeToByte[byteToRune[b]] = byte(b)
	}
	spaceRune = byteToRune[' ']
}

// PreToken is one pre-tokenizer output. Value is the byte-mapped piece and
// Offsets are byte positions in the pre-tokenized text, which includes the
// added prefix space if there is one.
type PreToken struct {
	Value   string
	Offsets [2]int
}

// ByteLevel is the byte-level pre-tokenizer, post-processor and decoder.
type ByteLevel struct {
	AddPrefixSpace bool
	TrimOffsets    bool
	UseRegex       bool
}

func NewByteLevel() *ByteLevel {
	return &ByteLevel{AddPrefixSpace: true, TrimOffsets: true, UseRegex: true}
}

// PreTokenize splits text and maps each piece to its byte alphabet. Every
// character of a Value stands for exactly one input byte. shift is the number
// of bytes added in front of text; subtract it to get input positions.
func (b *ByteLevel) PreTokenize(text string) (tokens []PreToken, shift int) {
	if text == "" {
		return nil, 0
	}
	if b.AddPrefixSpace && !strings.HasPrefix(text, " ") {
		text = " " + text
		shift = 1
	}

	var pieces [][2]int
	if b.UseRegex {
		pieces = splitPieces(text)
	} else {
		pieces = [][2]int{{0, len(text)}}
	}

	tokens = make([]PreToken, 0, len(pieces))
	for _, p := range pieces {
		tokens = append(tokens, PreToken{
			Value:   mapBytes(text[p[0]:p[1]]),
			Offsets: p,
		})
	}
	return tokens, shift
}

// splitPieces returns byte ranges of regex matches. Unmatched gaps cannot
// occur with the trailing \s+ alternative, but are kept if they do.
func splitPieces(text string) [][2]int {
	runes := []rune(text)

	// regexp2 reports rune positions.
	byteAt := make([]int, len(runes)+1)
	pos := 0
	for i, r := range runes {
		byteAt[i] = pos
		pos += utf8.RuneLen(r)
	}
	byteAt[len(runes)] = pos

	var out [][2]int
	last := 0
	for m, _ := splitter.FindRunesMatch(runes); m != nil; m, _ = splitter.FindNextMatch(m) {
		if m.Index > last {
			out = append(out, [2]int{byteAt[last], byteAt[m.Index]})
		}
		out = append(out, [2]int{byteAt[m.Index], byteAt[m.Index+m.Length]})
		last = m.Index + m.Length
	}
	if last < len(runes) {
		out = append(out, [2]int{byteAt[last], byteAt[len(runes)]})
	}
	return out
}

func mapBytes(s string) string {
	var sb strings.Builder
	sb.Grow(len(s) * 2)
	for i := 0; i < len(s); i++ {
		sb.WriteRune(byteToRune[s[i]])
	}
	return sb.String()
}

// ProcessOffsets trims mapped spaces at either end of a token from its offsets.
func (b *ByteLevel) ProcessOffsets(value string, offsets [2]int) [2]int {
	if !b.TrimOffsets {
		return offsets
	}

	lead := 0
	for _, r := range value {
		if r != spaceRune {
			break
		}
		lead++
	}
	trail := 0
	if lead < utf8.RuneCountInString(value) {
		for i := len(value); i > 0; {
			r, size := utf8.DecodeLastRuneInString(value[:i])
			if r != spaceRune {
				break
			}
			trail++
			i -= size
		}
	}

	start, end := offsets[0]+lead, offsets[1]-trail
	if start > end {
		start = end
	}
	return [2]int{start, end}
}

// Decode joins tokens back into text and replaces bytes that do not form
// valid UTF-8 with U+FFFD.
//
// It goes further than the HuggingFace ByteLevel decoder named in the
// artifact, which only maps characters back to bytes: continuingPrefix is
// removed from every token, and with AddPrefixSpace the one leading space the
// pre-tokenizer added is dropped. Pass an empty prefix and a ByteLevel without
// AddPrefixSpace to get the HuggingFace output.
func (b *ByteLevel) Decode(tokens []string, continuingPrefix string) string {
	var raw []byte
	for _, tok := range tokens {
		if continuingPrefix != "" {
			tok = strings.TrimPrefix(tok, continuingPrefix)
		}
		for _, r := range tok {
			if c, ok := runeToByte[r]; ok {
				raw = append(raw, c)
				continue
			}
			raw = utf8.AppendRune(raw, r)
		}
	}

	text := lossyString(raw)
	if b.AddPrefixSpace {
		text = strings.TrimPrefix(text, " ")
	}
	return text
}

type byteLevelJSON struct {
	Type           string `json:"type"`
	AddPrefixSpace bool   `json:"add_prefix_space"`
	TrimOffsets    bool   `json:"trim_offsets"`
	UseRegex       bool   `json:"use_regex"`
}

func (b *ByteLevel) MarshalJSON() ([]byte, error) {
	return json.Marshal(byteLevelJSON{
		Type:           "ByteLevel",
		AddPrefixSpace: b.AddPrefixSpace,
		TrimOffsets:    b.TrimOffsets,
		UseRegex:       b.UseRegex,
	})
}

func (b *ByteLevel) UnmarshalJSON(data []byte) error {
	v := byteLevelJSON{UseRegex: true}
	if err := json.Unmarshal(data, &v); err != nil {
		return err
	}
	if v.Type != "ByteLevel" {
		return fmt.Errorf("%w: component %q", ErrUnsupported, v.Type)
	}
	b.AddPrefixSpace = v.AddPrefixSpace
	b.TrimOffsets = v.TrimOffsets
	b.UseRegex = v.UseRegex
	return nil
}
