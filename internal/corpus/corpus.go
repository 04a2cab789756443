// Package corpus picks the training corpus and runs a training session
// against it, from source selection to the saved artifact.
package corpus

import (
	"context"
	"errors"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/example/go-wordpiece-trainer/internal/config"
	"github.com/example/go-wordpiece-trainer/internal/kvstore"
	"github.com/example/go-wordpiece-trainer/internal/progress"
	"github.com/example/go-wordpiece-trainer/internal/tokenizer"
	"github.com/example/go-wordpiece-trainer/internal/wordpiece"
)

// ErrNoCorpus is returned when neither a store nor text files are given.
var ErrNoCorpus = errors.New("no corpus given: pass --db or --txt")

type Kind int

const (
	KindStore Kind = iota + 1
	KindFiles
)

func (k Kind) String() string {
	switch k {
	case KindStore:
		return "store"
	case KindFiles:
		return "files"
	default:
		return "unknown"
	}
}

// Source is the corpus a session trains on.
type Source struct {
	Kind  Kind
	DB    string
	Files []string
}

// Select picks the corpus. A store directory wins over text files when both
// are given.
func Select(db string, files []string) (Source, error) {
	if db != "" {
		return Source{Kind: KindStore, DB: db}, nil
	}
	if len(files) > 0 {
		return Source{Kind: KindFiles, Files: files}, nil
	}
	return Source{}, ErrNoCorpus
}

type Options struct {
	Size          int
	Out           string
	Pretty        bool
	MinFrequency  uint64
	LimitAlphabet int
	Workers       int
	CacheSize     int64
	Progress      progress.Options
	Logger        zerolog.Logger
}

// OptionsFromConfig maps loaded settings onto session options.
func OptionsFromConfig(cfg config.Config, log zerolog.Logger) Options {
	return Options{
		Size:          int(cfg.Size),
		Out:           cfg.Out,
		Pretty:        cfg.Pretty,
		MinFrequency:  cfg.Trainer.MinFrequency,
		LimitAlphabet: cfg.Trainer.LimitAlphabet,
		Workers:       cfg.Trainer.Workers,
		CacheSize:     cfg.Store.CacheSize,
		Progress:      progress.Options{Enabled: cfg.Trainer.ShowProgress},
		Logger:        log,
	}
}

// NewTrainer builds the WordPiece trainer with the five reserved tokens.
func NewTrainer(opts Options) *wordpiece.Trainer {
	cfg := wordpiece.DefaultTrainerConfig()
	cfg.VocabSize = opts.Size
	cfg.MinFrequency = opts.MinFrequency
	cfg.LimitAlphabet = opts.LimitAlphabet
	cfg.SpecialTokens = wordpiece.DefaultSpecialTokens()
	cfg.Progress = opts.Progress
	cfg.Logger = opts.Logger
	return wordpiece.NewTrainer(cfg)
}

// NewTokenizer builds the untrained pipeline: Strip+NFC normalization and
// byte-level pre-tokenizer, post-processor and decoder.
func NewTokenizer(log zerolog.Logger) *tokenizer.Tokenizer {
	topts := tokenizer.DefaultOptions()
	topts.Logger = log
	return tokenizer.New(topts)
}

// Train runs one session: it trains on src and writes the artifact to
// opts.Out. Nothing is written when any step fails.
func Train(ctx context.Context, src Source, opts Options) (*tokenizer.Tokenizer, error) {
	log := opts.Logger
	trainer := NewTrainer(opts)
	tok := NewTokenizer(log)

	var err error
	switch src.Kind {
	case KindStore:
		err = trainFromStore(ctx, tok, trainer, src.DB, opts)
	case KindFiles:
		log.Info().Int("files", len(src.Files)).Msg("training from text files")
		err = tok.TrainFromFiles(ctx, trainer, src.Files, opts.Workers)
	default:
		err = ErrNoCorpus
	}
	if err != nil {
		return nil, err
	}

	if err := tok.Save(opts.Out, opts.Pretty); err != nil {
		return nil, fmt.Errorf("save tokenizer: %w", err)
	}

	return tok, nil
}

func trainFromStore(ctx context.Context, tok *tokenizer.Tokenizer, trainer *wordpiece.Trainer, dir string, opts Options) error {
	store, err := kvstore.Open(dir, kvstore.OpenOptions{
		CacheSize: opts.CacheSize,
		Logger:    opts.Logger,
	})
	if err != nil {
		return err
	}
	defer func() { _ = store.Close() }()

	values, err := store.Values()
	if err != nil {
		return err
	}
	defer func() { _ = values.Close() }()

	opts.Logger.Info().
		Str("store", dir).
		Uint64("estimated_records", values.Estimate()).
		Msg("training from key-value store")

	trainErr := tok.Train(ctx, trainer, values.All(), int64(values.Estimate()))

	// A cursor failure ends the stream early and is the real cause of
	// whatever training reported on the truncated corpus.
	if err := values.Err(); err != nil {
		return fmt.Errorf("read store values: %w", err)
	}
	if trainErr != nil {
		return trainErr
	}

	opts.Logger.Debug().Uint64("records", values.Count()).Msg("store values consumed")

	return nil
}
