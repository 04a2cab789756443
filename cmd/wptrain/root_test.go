package main

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/example/go-wordpiece-trainer/internal/config"
	"github.com/example/go-wordpiece-trainer/internal/corpus"
	"github.com/example/go-wordpiece-trainer/internal/testutil"
	"github.com/example/go-wordpiece-trainer/internal/wordpiece"
)

// execute runs the CLI with args and returns what it wrote to stdout and stderr.
func execute(t *testing.T, args ...string) (string, string, error) {
	t.Helper()

	origCfg, origLog, origLevel := activeCfg, log.Logger, zerolog.GlobalLevel()
	t.Cleanup(func() {
		activeCfg = origCfg
		log.Logger = origLog
		zerolog.SetGlobalLevel(origLevel)
	})

	var stdout, stderr bytes.Buffer

	root := NewRootCmd()
	root.SetArgs(args)
	root.SetOut(&stdout)
	root.SetErr(&stderr)
	root.SetIn(strings.NewReader(""))

	err := root.ExecuteContext(context.Background())

	return stdout.String(), stderr.String(), err
}

// --- Command tree ---

func TestNewRootCmd_HasExpectedSubcommands(t *testing.T) {
	root := NewRootCmd()

	want := []string{"encode", "ingest", "stats"}
	for _, name := range want {
		found := false

		for _, sub := range root.Commands() {
			if sub.Name() == name {
				found = true
				break
			}
		}

		if !found {
			t.Errorf("expected subcommand %q not found in root", name)
		}
	}
}

func TestNewRootCmd_HasPersistentConfigFlag(t *testing.T) {
	root := NewRootCmd()
	if root.PersistentFlags().Lookup("config") == nil {
		t.Error("expected --config persistent flag to be registered")
	}

	if root.PersistentFlags().Lookup("log-level") == nil {
		t.Error("expected --log-level persistent flag to be registered")
	}
}

func TestNewRootCmd_TrainingShorthands(t *testing.T) {
	root := NewRootCmd()

	for short, long := range map[string]string{"s": "size", "o": "out", "d": "db", "t": "txt"} {
		f := root.Flags().ShorthandLookup(short)
		if f == nil || f.Name != long {
			t.Errorf("-%s should map to --%s", short, long)
		}
	}
}

// --- Logger ---

func TestSetupLogger_DoesNotPanic(_ *testing.T) {
	var buf bytes.Buffer
	for _, level := range []string{"debug", "info", "warn", "error"} {
		setupLogger(&buf, level, "console")
	}
}

func TestSetupLogger_InvalidLevelFallsBackToInfo(t *testing.T) {
	t.Cleanup(func() { zerolog.SetGlobalLevel(zerolog.InfoLevel) })

	var buf bytes.Buffer
	setupLogger(&buf, "not-a-level", "console")

	if zerolog.GlobalLevel() != zerolog.InfoLevel {
		t.Errorf("global level = %v; want info", zerolog.GlobalLevel())
	}
}

func TestSetupLogger_JSON(t *testing.T) {
	orig := log.Logger
	t.Cleanup(func() {
		log.Logger = orig
		zerolog.SetGlobalLevel(zerolog.InfoLevel)
	})

	var buf bytes.Buffer
	setupLogger(&buf, "info", "json")
	log.Info().Str("k", "v").Msg("hello")

	if !strings.HasPrefix(buf.String(), "{") || !strings.Contains(buf.String(), `"k":"v"`) {
		t.Errorf("expected JSON log line, got %q", buf.String())
	}
}

func TestRequireConfig_FailsWhenNotInitialized(t *testing.T) {
	orig := activeCfg

	t.Cleanup(func() { activeCfg = orig })

	activeCfg = config.Config{}

	_, err := requireConfig()
	if err == nil {
		t.Fatal("expected error when config is not loaded")
	}
}

// --- Training ---

func TestTrain_FromTextFiles(t *testing.T) {
	a := testutil.WriteCorpus(t, "a.txt", "hello world", "hello there")
	b := testutil.WriteCorpus(t, "b.txt", "world peace")
	out := filepath.Join(t.TempDir(), "tokenizer.json")

	// b.txt is a trailing positional argument of -t.
	_, _, err := execute(t, "-s", "100", "-o", out, "--no-progress", "-t", a, b)
	if err != nil {
		t.Fatalf("train: %v", err)
	}

	tok := testutil.LoadArtifact(t, out)

	if n := tok.Model().VocabSize(); n > 100 {
		t.Errorf("vocab size = %d; want <= 100", n)
	}

	if _, ok := tok.Model().TokenToID("Ġpeace"); !ok {
		t.Error("positional file was not trained on")
	}
}

func TestTrain_QuotedFileList(t *testing.T) {
	a := testutil.WriteCorpus(t, "a.txt", "alpha")
	b := testutil.WriteCorpus(t, "b.txt", "omega")
	out := filepath.Join(t.TempDir(), "tokenizer.json")

	_, _, err := execute(t, "-s", "60", "-o", out, "--no-progress", "-t", a+" "+b)
	if err != nil {
		t.Fatalf("train: %v", err)
	}

	tok := testutil.LoadArtifact(t, out)

	for _, want := range []string{"Ġalpha", "Ġomega"} {
		if _, ok := tok.Model().TokenToID(want); !ok {
			t.Errorf("missing %q", want)
		}
	}
}

func TestTrain_ProgressOnStderr(t *testing.T) {
	a := testutil.WriteCorpus(t, "a.txt", "hello world")
	out := filepath.Join(t.TempDir(), "tokenizer.json")

	_, stderr, err := execute(t, "-s", "50", "-o", out, "-t", a)
	if err != nil {
		t.Fatalf("train: %v", err)
	}

	if !strings.Contains(stderr, "Compute merges") {
		t.Errorf("expected progress output on stderr, got %q", stderr)
	}
}

func TestTrain_Errors(t *testing.T) {
	corpusFile := testutil.WriteCorpus(t, "c.txt", "some text")

	tests := []struct {
		name    string
		args    func(out string) []string
		wantErr error
	}{
		{
			name:    "missing size",
			args:    func(out string) []string { return []string{"-o", out, "-t", corpusFile} },
			wantErr: config.ErrMissingSize,
		},
		{
			name:    "missing out",
			args:    func(string) []string { return []string{"-s", "100", "-t", corpusFile} },
			wantErr: config.ErrMissingOut,
		},
		{
			name:    "no corpus",
			args:    func(out string) []string { return []string{"-s", "100", "-o", out} },
			wantErr: corpus.ErrNoCorpus,
		},
		{
			name:    "size below reserved tokens",
			args:    func(out string) []string { return []string{"-s", "4", "-o", out, "--no-progress", "-t", corpusFile} },
			wantErr: wordpiece.ErrVocabTooSmall,
		},
		{
			name: "missing store",
			args: func(out string) []string {
				return []string{"-s", "100", "-o", out, "-d", filepath.Join(t.TempDir(), "absent")}
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			out := filepath.Join(t.TempDir(), "tokenizer.json")

			_, _, err := execute(t, tt.args(out)...)
			if err == nil {
				t.Fatal("expected error")
			}

			if tt.wantErr != nil && !errors.Is(err, tt.wantErr) {
				t.Errorf("err = %v; want %v", err, tt.wantErr)
			}

			if _, statErr := os.Stat(out); !errors.Is(statErr, os.ErrNotExist) {
				t.Errorf("artifact written despite failure")
			}
		})
	}
}

// --- Store round trip ---

func TestIngestStatsTrainEncode(t *testing.T) {
	input := testutil.WriteCorpus(t, "input.txt", "hello world", "", "hello there", "world peace")
	ignored := testutil.WriteCorpus(t, "ignored.txt", "zebra")
	db := filepath.Join(t.TempDir(), "store")
	out := filepath.Join(t.TempDir(), "tokenizer.json")

	stdout, _, err := execute(t, "ingest", "--db", db, input)
	if err != nil {
		t.Fatalf("ingest: %v", err)
	}
	if !strings.Contains(stdout, "ingested 3 records") {
		t.Errorf("ingest output = %q", stdout)
	}

	stdout, _, err = execute(t, "stats", "--db", db)
	if err != nil {
		t.Fatalf("stats: %v", err)
	}
	if !strings.Contains(stdout, "values:          3") {
		t.Errorf("stats output = %q", stdout)
	}

	_, _, err = execute(t, "-s", "200", "-o", out, "--no-progress", "-d", db, "-t", ignored)
	if err != nil {
		t.Fatalf("train: %v", err)
	}

	tok := testutil.LoadArtifact(t, out)
	if _, ok := tok.Model().TokenToID("Ġzebra"); ok {
		t.Error("--txt was used although --db was given")
	}

	stdout, _, err = execute(t, "encode", "--tokenizer", out, "hello", "world")
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	if !strings.Contains(stdout, "Ġhello") || !strings.Contains(stdout, "decoded: hello world") {
		t.Errorf("encode output = %q", stdout)
	}
}

func TestEncode_ReadsStdin(t *testing.T) {
	input := testutil.WriteCorpus(t, "input.txt", "good morning")
	out := filepath.Join(t.TempDir(), "tokenizer.json")

	if _, _, err := execute(t, "-s", "200", "-o", out, "--no-progress", "-t", input); err != nil {
		t.Fatalf("train: %v", err)
	}

	origCfg := activeCfg
	t.Cleanup(func() { activeCfg = origCfg })

	var stdout bytes.Buffer
	root := NewRootCmd()
	root.SetArgs([]string{"encode", "--tokenizer", out})
	root.SetIn(strings.NewReader("good\nmorning\n"))
	root.SetOut(&stdout)
	root.SetErr(&bytes.Buffer{})

	if err := root.ExecuteContext(context.Background()); err != nil {
		t.Fatalf("encode: %v", err)
	}

	if strings.Count(stdout.String(), "decoded:") != 2 {
		t.Errorf("expected one block per input line, got %q", stdout.String())
	}
}

func TestEncode_MissingArtifact(t *testing.T) {
	_, _, err := execute(t, "encode", "--tokenizer", filepath.Join(t.TempDir(), "missing.json"), "x")
	if err == nil {
		t.Fatal("expected error for missing artifact")
	}
}

func TestIngest_RequiresDB(t *testing.T) {
	input := testutil.WriteCorpus(t, "input.txt", "x")

	_, _, err := execute(t, "ingest", input)
	if err == nil {
		t.Fatal("expected error without --db")
	}
}
