package tokenizer

import (
	"bufio"
	"context"
	"fmt"
	"iter"
	"os"
	"runtime"

	"github.com/sourcegraph/conc/pool"

	"github.com/example/go-wordpiece-trainer/internal/progress"
	"github.com/example/go-wordpiece-trainer/internal/wordpiece"
)

// maxLineBytes bounds a single corpus line read from a file.
const maxLineBytes = 64 << 20

// Train counts words over records and fits the model. sizeHint is only used
// for progress display; zero means unknown.
func (t *Tokenizer) Train(ctx context.Context, trainer *wordpiece.Trainer, records iter.Seq[string], sizeHint int64) error {
	cfg := trainer.Config()
	bar := progress.New(cfg.Progress, sizeHint, "Pre-processing sequences")

	counts := make(map[string]uint64)
	var n int64
	for rec := range records {
		if err := ctx.Err(); err != nil {
			bar.Finish()
			return fmt.Errorf("count words: %w", err)
		}
		t.countWords(rec, counts)
		n++
		bar.Add(1)
	}
	bar.Finish()

	t.log.Debug().Int64("records", n).Int("words", len(counts)).Msg("corpus counted")

	trainer.Feed(counts)
	return t.fit(ctx, trainer)
}

// TrainFromFiles reads each file line by line and fits the model. Files are
// counted concurrently with at most workers goroutines; workers <= 0 uses one
// per CPU.
func (t *Tokenizer) TrainFromFiles(ctx context.Context, trainer *wordpiece.Trainer, files []string, workers int) error {
	if len(files) == 0 {
		return fmt.Errorf("train from files: %w", wordpiece.ErrEmptyCorpus)
	}
	if workers <= 0 {
		workers = runtime.GOMAXPROCS(0)
	}

	cfg := trainer.Config()
	bar := progress.New(cfg.Progress, int64(len(files)), "Pre-processing files")

	p := pool.NewWithResults[map[string]uint64]().
		WithContext(ctx).
		WithCancelOnError().
		WithMaxGoroutines(workers)
	for _, path := range files {
		p.Go(func(ctx context.Context) (map[string]uint64, error) {
			counts, err := t.countFile(ctx, path)
			if err != nil {
				return nil, err
			}
			bar.Add(1)
			return counts, nil
		})
	}

	results, err := p.Wait()
	bar.Finish()
	if err != nil {
		return err
	}

	for _, counts := range results {
		trainer.Feed(counts)
	}

	t.log.Debug().Int("files", len(files)).Int("words", trainer.WordCount()).Msg("files counted")

	return t.fit(ctx, trainer)
}

func (t *Tokenizer) countFile(ctx context.Context, path string) (map[string]uint64, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open corpus file: %w", err)
	}
	defer func() { _ = f.Close() }()

	counts := make(map[string]uint64)
	sc := bufio.NewScanner(f)
	sc.Buffer(make([]byte, 0, 64*1024), maxLineBytes)
	for sc.Scan() {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		t.countWords(lossyString(sc.Bytes()), counts)
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("read corpus file %q: %w", path, err)
	}

	t.log.Debug().Str("file", path).Int("words", len(counts)).Msg("file counted")

	return counts, nil
}

func (t *Tokenizer) fit(ctx context.Context, trainer *wordpiece.Trainer) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("train: %w", err)
	}

	m, err := trainer.Train()
	if err != nil {
		return fmt.Errorf("train wordpiece model: %w", err)
	}

	t.setModel(m, trainer.Config().SpecialTokens)

	t.log.Info().Int("vocab_size", m.VocabSize()).Msg("model trained")

	return nil
}
