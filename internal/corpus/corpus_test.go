package corpus

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/example/go-wordpiece-trainer/internal/config"
	"github.com/example/go-wordpiece-trainer/internal/testutil"
	"github.com/example/go-wordpiece-trainer/internal/tokenizer"
	"github.com/example/go-wordpiece-trainer/internal/wordpiece"
)

func testOptions(t *testing.T, size int) Options {
	return Options{
		Size:   size,
		Out:    filepath.Join(t.TempDir(), "tokenizer.json"),
		Logger: zerolog.Nop(),
	}
}

func assertReserved(t *testing.T, tok *tokenizer.Tokenizer) {
	t.Helper()

	for id, want := range testutil.ReservedTokens {
		got, ok := tok.Model().IDToToken(id)
		assert.True(t, ok)
		assert.Equal(t, want, got)
	}
}

func TestSelect(t *testing.T) {
	src, err := Select("/data/store", []string{"a.txt"})
	require.NoError(t, err)
	assert.Equal(t, KindStore, src.Kind)
	assert.Equal(t, "/data/store", src.DB)
	assert.Empty(t, src.Files)

	src, err = Select("", []string{"a.txt", "b.txt"})
	require.NoError(t, err)
	assert.Equal(t, KindFiles, src.Kind)
	assert.Equal(t, []string{"a.txt", "b.txt"}, src.Files)

	_, err = Select("", nil)
	require.ErrorIs(t, err, ErrNoCorpus)
}

func TestKindString(t *testing.T) {
	assert.Equal(t, "store", KindStore.String())
	assert.Equal(t, "files", KindFiles.String())
	assert.Equal(t, "unknown", Kind(0).String())
}

func TestTrain_FromStore(t *testing.T) {
	dir := testutil.BuildStore(t, "the quick brown fox", "jumps over the lazy dog", "the end")
	opts := testOptions(t, 120)

	tok, err := Train(context.Background(), Source{Kind: KindStore, DB: dir}, opts)
	require.NoError(t, err)

	assertReserved(t, tok)
	assert.LessOrEqual(t, tok.Model().VocabSize(), 120)

	loaded, err := tokenizer.Load(opts.Out, zerolog.Nop())
	require.NoError(t, err)
	assert.Equal(t, tok.Model().Tokens(), loaded.Model().Tokens())
}

func TestTrain_FromFiles(t *testing.T) {
	a := testutil.WriteCorpus(t, "a.txt", "hello world", "hello there")
	b := testutil.WriteCorpus(t, "b.txt", "world peace")
	opts := testOptions(t, 60)
	opts.Workers = 2

	tok, err := Train(context.Background(), Source{Kind: KindFiles, Files: []string{a, b}}, opts)
	require.NoError(t, err)

	assertReserved(t, tok)
	assert.LessOrEqual(t, tok.Model().VocabSize(), 60)
	assert.FileExists(t, opts.Out)
}

func TestTrain_StoreTakesPrecedence(t *testing.T) {
	dir := testutil.BuildStore(t, "zebra zebra zebra")
	file := testutil.WriteCorpus(t, "apples.txt", "apple apple apple")

	src, err := Select(dir, []string{file})
	require.NoError(t, err)

	tok, err := Train(context.Background(), src, testOptions(t, 500))
	require.NoError(t, err)

	_, ok := tok.Model().TokenToID("Ġzebra")
	assert.True(t, ok)
	_, ok = tok.Model().TokenToID("Ġapple")
	assert.False(t, ok)
	_, ok = tok.Model().TokenToID("p")
	assert.False(t, ok, "file corpus must not be read")
}

func TestTrain_DecodesInvalidUTF8Values(t *testing.T) {
	dir := testutil.BuildStore(t, "caf\xe9 ok")

	tok, err := Train(context.Background(), Source{Kind: KindStore, DB: dir}, testOptions(t, 200))
	require.NoError(t, err)

	enc, err := tok.Encode("caf� ok")
	require.NoError(t, err)
	assert.NotContains(t, enc.Tokens, "[UNK]")
}

func TestTrain_Deterministic(t *testing.T) {
	dir := testutil.BuildStore(t, "alpha beta gamma", "beta gamma delta", "gamma delta epsilon")

	first := testOptions(t, 40)
	second := testOptions(t, 40)

	_, err := Train(context.Background(), Source{Kind: KindStore, DB: dir}, first)
	require.NoError(t, err)
	_, err = Train(context.Background(), Source{Kind: KindStore, DB: dir}, second)
	require.NoError(t, err)

	a, err := os.ReadFile(first.Out)
	require.NoError(t, err)
	b, err := os.ReadFile(second.Out)
	require.NoError(t, err)
	assert.Equal(t, string(a), string(b))
}

func TestTrain_FailuresWriteNothing(t *testing.T) {
	cancelled, cancel := context.WithCancel(context.Background())
	cancel()

	tests := []struct {
		name    string
		ctx     context.Context
		src     func(t *testing.T) Source
		size    int
		wantErr error
	}{
		{
			name:    "size below reserved tokens",
			ctx:     context.Background(),
			src:     func(t *testing.T) Source { return Source{Kind: KindStore, DB: testutil.BuildStore(t, "some text")} },
			size:    3,
			wantErr: wordpiece.ErrVocabTooSmall,
		},
		{
			name:    "empty store",
			ctx:     context.Background(),
			src:     func(t *testing.T) Source { return Source{Kind: KindStore, DB: testutil.BuildStore(t)} },
			size:    100,
			wantErr: wordpiece.ErrEmptyCorpus,
		},
		{
			name: "missing store",
			ctx:  context.Background(),
			src: func(t *testing.T) Source {
				return Source{Kind: KindStore, DB: filepath.Join(t.TempDir(), "absent")}
			},
			size: 100,
		},
		{
			name: "missing text file",
			ctx:  context.Background(),
			src: func(t *testing.T) Source {
				return Source{Kind: KindFiles, Files: []string{filepath.Join(t.TempDir(), "absent.txt")}}
			},
			size:    100,
			wantErr: os.ErrNotExist,
		},
		{
			name:    "cancelled",
			ctx:     cancelled,
			src:     func(t *testing.T) Source { return Source{Kind: KindStore, DB: testutil.BuildStore(t, "a b c")} },
			size:    100,
			wantErr: context.Canceled,
		},
		{
			name:    "no source",
			ctx:     context.Background(),
			src:     func(*testing.T) Source { return Source{} },
			size:    100,
			wantErr: ErrNoCorpus,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			opts := testOptions(t, tt.size)

			_, err := Train(tt.ctx, tt.src(t), opts)
			require.Error(t, err)
			if tt.wantErr != nil {
				require.ErrorIs(t, err, tt.wantErr)
			}
			assert.NoFileExists(t, opts.Out)
		})
	}
}

func TestOptionsFromConfig(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.Size = 3000
	cfg.Out = "out.json"
	cfg.Pretty = true
	cfg.Trainer.MinFrequency = 2
	cfg.Trainer.LimitAlphabet = 100
	cfg.Trainer.Workers = 3
	cfg.Trainer.ShowProgress = false
	cfg.Store.CacheSize = 1 << 20

	opts := OptionsFromConfig(cfg, zerolog.Nop())
	assert.Equal(t, 3000, opts.Size)
	assert.Equal(t, "out.json", opts.Out)
	assert.True(t, opts.Pretty)
	assert.Equal(t, uint64(2), opts.MinFrequency)
	assert.Equal(t, 100, opts.LimitAlphabet)
	assert.Equal(t, 3, opts.Workers)
	assert.False(t, opts.Progress.Enabled)
	assert.Equal(t, int64(1<<20), opts.CacheSize)

	trainer := NewTrainer(opts)
	assert.Equal(t, 3000, trainer.Config().VocabSize)
	assert.Len(t, trainer.Config().SpecialTokens, 5)
}
