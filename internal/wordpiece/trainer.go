package wordpiece

import (
	"errors"
	"fmt"
	"sort"
	"strings"
	"unicode/utf8"

	"github.com/emirpasic/gods/v2/trees/binaryheap"
	"github.com/rs/zerolog"

	"github.com/example/go-wordpiece-trainer/internal/progress"
)

var (
	// ErrEmptyCorpus is returned when training sees no words at all.
	ErrEmptyCorpus = errors.New("corpus contains no words")
	// ErrVocabTooSmall is returned when the target size cannot hold the
	// special tokens.
	ErrVocabTooSmall = errors.New("vocabulary size is smaller than the number of special tokens")
)

// AddedToken is a vocabulary entry that bypasses the model.
type AddedToken struct {
	Content    string
	SingleWord bool
	LStrip     bool
	RStrip     bool
	Normalized bool
	Special    bool
}

// SpecialToken returns a special token: never split, never normalized.
func SpecialToken(content string) AddedToken {
	return AddedToken{Content: content, Special: true}
}

// DefaultSpecialTokens are the five reserved control tokens in id order:
// pad, unknown, sequence start, separator, mask.
func DefaultSpecialTokens() []AddedToken {
	return []AddedToken{
		SpecialToken("[PAD]"),
		SpecialToken("[UNK]"),
		SpecialToken("[CLS]"),
		SpecialToken("[SEP]"),
		SpecialToken("[MASK]"),
	}
}

type TrainerConfig struct {
	VocabSize    int
	MinFrequency uint64
	// LimitAlphabet caps the number of initial characters kept; 0 keeps all.
	LimitAlphabet           int
	InitialAlphabet         []rune
	SpecialTokens           []AddedToken
	ContinuingSubwordPrefix string
	Progress                progress.Options
	Logger                  zerolog.Logger
}

func DefaultTrainerConfig() TrainerConfig {
	return TrainerConfig{
		VocabSize:               30000,
		SpecialTokens:           DefaultSpecialTokens(),
		ContinuingSubwordPrefix: DefaultContinuingPrefix,
		Progress:                progress.Options{Enabled: true},
		Logger:                  zerolog.Nop(),
	}
}

// Trainer accumulates word counts and learns a WordPiece vocabulary from them.
type Trainer struct {
	cfg   TrainerConfig
	words map[string]uint64
}

func NewTrainer(cfg TrainerConfig) *Trainer {
	return &Trainer{cfg: cfg, words: make(map[string]uint64)}
}

// Config returns the trainer configuration.
func (t *Trainer) Config() TrainerConfig { return t.cfg }

// Feed merges word counts into the trainer. It may be called repeatedly.
func (t *Trainer) Feed(counts map[string]uint64) {
	for w, c := range counts {
		if w == "" || c == 0 {
			continue
		}
		t.words[w] += c
	}
}

// WordCount returns the number of distinct words fed so far.
func (t *Trainer) WordCount() int { return len(t.words) }

// pair is two adjacent symbol ids.
type pair struct{ a, b int }

func (p pair) less(o pair) bool {
	if p.a != o.a {
		return p.a < o.a
	}
	return p.b < o.b
}

type mergeCandidate struct {
	p     pair
	count int64
}

// byCountThenPair orders the heap: highest count first, lowest pair on ties,
// which keeps training deterministic.
func byCountThenPair(a, b mergeCandidate) int {
	switch {
	case a.count > b.count:
		return -1
	case a.count < b.count:
		return 1
	case a.p.less(b.p):
		return -1
	case b.p.less(a.p):
		return 1
	default:
		return 0
	}
}

// vocabulary is an append-only id space.
type vocabulary struct {
	ids    map[string]int
	tokens []string
}

func (v *vocabulary) add(tok string) int {
	if id, ok := v.ids[tok]; ok {
		return id
	}
	id := len(v.tokens)
	v.ids[tok] = id
	v.tokens = append(v.tokens, tok)
	return id
}

func (v *vocabulary) len() int { return len(v.tokens) }

// word is a counted word split into symbol ids.
type word struct {
	symbols []int
	count   int64
}

type pairChange struct {
	p     pair
	delta int64
}

// merge replaces every (a, b) with repl and reports how adjacent pair counts
// change, already weighted by the word count.
func (w *word) merge(a, b, repl int) []pairChange {
	var changes []pairChange
	s := w.symbols
	for i := 0; i < len(s)-1; i++ {
		if s[i] != a || s[i+1] != b {
			continue
		}
		if i > 0 {
			changes = append(changes,
				pairChange{pair{s[i-1], a}, -w.count},
				pairChange{pair{s[i-1], repl}, w.count},
			)
		}
		if i+2 < len(s) {
			changes = append(changes,
				pairChange{pair{b, s[i+2]}, -w.count},
				pairChange{pair{repl, s[i+2]}, w.count},
			)
		}
		s[i] = repl
		s = append(s[:i+1], s[i+2:]...)
	}
	w.symbols = s
	return changes
}

// Train learns the vocabulary from the words fed so far. The result never
// holds more than VocabSize entries and always starts with the special
// tokens in order.
func (t *Trainer) Train() (*Model, error) {
	cfg := t.cfg
	log := cfg.Logger

	if cfg.VocabSize < len(cfg.SpecialTokens) {
		return nil, fmt.Errorf("%w: size %d, %d special tokens", ErrVocabTooSmall, cfg.VocabSize, len(cfg.SpecialTokens))
	}
	if len(t.words) == 0 {
		return nil, ErrEmptyCorpus
	}

	v := &vocabulary{ids: make(map[string]int)}
	for _, st := range cfg.SpecialTokens {
		v.add(st.Content)
	}

	wordList := sortedKeys(t.words)

	symbols := t.initialSymbols(wordList, cfg.VocabSize-v.len())
	for _, s := range symbols {
		v.add(s)
	}
	log.Debug().Int("symbols", len(symbols)).Int("words", len(wordList)).Msg("initial alphabet built")

	words := t.splitWords(wordList, v)

	pairCounts, where := countPairs(words, cfg.Progress)

	heap := binaryheap.NewWith(byCountThenPair)
	for _, p := range sortedPairs(pairCounts) {
		if c := pairCounts[p]; c > 0 {
			heap.Push(mergeCandidate{p: p, count: c})
		}
	}

	minFreq := int64(cfg.MinFrequency)
	if minFreq < 1 {
		minFreq = 1
	}

	bar := progress.New(cfg.Progress, int64(cfg.VocabSize-v.len()), "Compute merges")
	merges := 0
	for v.len() < cfg.VocabSize {
		cand, ok := heap.Pop()
		if !ok {
			break
		}

		if cur := pairCounts[cand.p]; cand.count != cur {
			if cur > 0 {
				cand.count = cur
				heap.Push(cand)
			}
			continue
		}
		if cand.count < minFreq {
			break
		}

		left := v.tokens[cand.p.a]
		right := v.tokens[cand.p.b]
		if cfg.ContinuingSubwordPrefix != "" {
			right = strings.TrimPrefix(right, cfg.ContinuingSubwordPrefix)
		}
		before := v.len()
		newID := v.add(left + right)
		if v.len() > before {
			bar.Add(1)
		}
		merges++

		changed := make(map[pair]struct{})
		idxs := sortedIndexes(where[cand.p])
		for _, i := range idxs {
			for _, ch := range words[i].merge(cand.p.a, cand.p.b, newID) {
				pairCounts[ch.p] += ch.delta
				if ch.delta > 0 {
					if where[ch.p] == nil {
						where[ch.p] = make(map[int]struct{})
					}
					where[ch.p][i] = struct{}{}
					changed[ch.p] = struct{}{}
				}
			}
		}
		pairCounts[cand.p] = 0
		delete(where, cand.p)

		for _, p := range sortedPairSet(changed) {
			if c := pairCounts[p]; c > 0 {
				heap.Push(mergeCandidate{p: p, count: c})
			}
		}
	}
	bar.Finish()

	log.Debug().Int("merges", merges).Int("vocab", v.len()).Msg("training finished")

	vocab := make(map[string]int, v.len())
	for id, tok := range v.tokens {
		vocab[tok] = id
	}
	m := NewModel(vocab)
	m.ContinuingSubwordPrefix = cfg.ContinuingSubwordPrefix
	return m, nil
}

// symbolFreq is a candidate initial symbol.
type symbolFreq struct {
	value string
	count uint64
	// order is the position the symbol is added in: bare characters sorted by
	// code point, then continuation symbols in first-seen order.
	order int
}

// initialSymbols picks the alphabet and its continuation forms, trimmed to
// budget by frequency.
func (t *Trainer) initialSymbols(wordList []string, budget int) []string {
	cfg := t.cfg
	prefix := cfg.ContinuingSubwordPrefix

	charCounts := make(map[rune]uint64)
	for _, w := range wordList {
		c := t.words[w]
		for _, r := range w {
			charCounts[r] += c
		}
	}
	for _, r := range cfg.InitialAlphabet {
		charCounts[r] = ^uint64(0)
	}

	alphabet := make([]rune, 0, len(charCounts))
	for r := range charCounts {
		alphabet = append(alphabet, r)
	}
	if cfg.LimitAlphabet > 0 && len(alphabet) > cfg.LimitAlphabet {
		sort.Slice(alphabet, func(i, j int) bool {
			ci, cj := charCounts[alphabet[i]], charCounts[alphabet[j]]
			if ci != cj {
				return ci > cj
			}
			return alphabet[i] < alphabet[j]
		})
		alphabet = alphabet[:cfg.LimitAlphabet]
	}
	sort.Slice(alphabet, func(i, j int) bool { return alphabet[i] < alphabet[j] })

	kept := make(map[rune]bool, len(alphabet))
	cands := make([]symbolFreq, 0, len(alphabet)*2)
	for _, r := range alphabet {
		kept[r] = true
		cands = append(cands, symbolFreq{value: string(r), count: charCounts[r], order: len(cands)})
	}

	if prefix != "" {
		seen := make(map[string]int)
		for _, w := range wordList {
			c := t.words[w]
			first := true
			for _, r := range w {
				if first {
					first = false
					continue
				}
				if !kept[r] {
					continue
				}
				s := prefix + string(r)
				if i, ok := seen[s]; ok {
					cands[i].count += c
					continue
				}
				seen[s] = len(cands)
				cands = append(cands, symbolFreq{value: s, count: c, order: len(cands)})
			}
		}
	}

	if len(cands) > budget {
		sort.SliceStable(cands, func(i, j int) bool {
			if cands[i].count != cands[j].count {
				return cands[i].count > cands[j].count
			}
			return cands[i].order < cands[j].order
		})
		t.cfg.Logger.Warn().
			Int("symbols", len(cands)).
			Int("budget", budget).
			Msg("initial alphabet exceeds vocabulary size; dropping least frequent symbols")
		cands = cands[:budget]
		sort.Slice(cands, func(i, j int) bool { return cands[i].order < cands[j].order })
	}

	out := make([]string, len(cands))
	for i, c := range cands {
		out[i] = c.value
	}
	return out
}

// splitWords maps every word onto known symbols; characters outside the kept
// alphabet are skipped.
func (t *Trainer) splitWords(wordList []string, v *vocabulary) []word {
	prefix := t.cfg.ContinuingSubwordPrefix
	words := make([]word, 0, len(wordList))
	for _, w := range wordList {
		syms := make([]int, 0, utf8.RuneCountInString(w))
		first := true
		for _, r := range w {
			s := string(r)
			if !first && prefix != "" {
				s = prefix + s
			}
			first = false
			if id, ok := v.ids[s]; ok {
				syms = append(syms, id)
			}
		}
		words = append(words, word{symbols: syms, count: int64(t.words[w])})
	}
	return words
}

func countPairs(words []word, opts progress.Options) (map[pair]int64, map[pair]map[int]struct{}) {
	counts := make(map[pair]int64)
	where := make(map[pair]map[int]struct{})

	bar := progress.New(opts, int64(len(words)), "Count pairs")
	for i, w := range words {
		for j := 0; j+1 < len(w.symbols); j++ {
			p := pair{w.symbols[j], w.symbols[j+1]}
			counts[p] += w.count
			if where[p] == nil {
				where[p] = make(map[int]struct{})
			}
			where[p][i] = struct{}{}
		}
		bar.Add(1)
	}
	bar.Finish()

	return counts, where
}

func sortedPairs(m map[pair]int64) []pair {
	out := make([]pair, 0, len(m))
	for p := range m {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].less(out[j]) })
	return out
}

func sortedPairSet(m map[pair]struct{}) []pair {
	out := make([]pair, 0, len(m))
	for p := range m {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].less(out[j]) })
	return out
}

func sortedIndexes(m map[int]struct{}) []int {
	out := make([]int, 0, len(m))
	for i := range m {
		out = append(out, i)
	}
	sort.Ints(out)
	return out
}
