package testutil_test

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/rs/zerolog"

	"github.com/example/go-wordpiece-trainer/internal/corpus"
	"github.com/example/go-wordpiece-trainer/internal/kvstore"
	"github.com/example/go-wordpiece-trainer/internal/testutil"
)

func TestWriteCorpus(t *testing.T) {
	p := testutil.WriteCorpus(t, "c.txt", "one", "two")

	data, err := os.ReadFile(p)
	if err != nil {
		t.Fatalf("ReadFile: %v", err)
	}

	if string(data) != "one\ntwo\n" {
		t.Errorf("content = %q", data)
	}

	empty := testutil.WriteCorpus(t, "empty.txt")

	info, err := os.Stat(empty)
	if err != nil || info.Size() != 0 {
		t.Errorf("empty corpus: %v size %d", err, info.Size())
	}
}

func TestBuildStore(t *testing.T) {
	dir := testutil.BuildStore(t, "a", "b", "c")

	store, err := kvstore.Open(dir, kvstore.OpenOptions{Logger: zerolog.Nop()})
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer func() { _ = store.Close() }()

	n, err := store.EstimateKeyCount()
	if err != nil {
		t.Fatalf("EstimateKeyCount: %v", err)
	}

	if n != 3 {
		t.Errorf("estimate = %d; want 3", n)
	}
}

func TestLoadArtifact(t *testing.T) {
	out := filepath.Join(t.TempDir(), "tokenizer.json")

	_, err := corpus.Train(context.Background(),
		corpus.Source{Kind: corpus.KindFiles, Files: []string{testutil.WriteCorpus(t, "c.txt", "hello world")}},
		corpus.Options{Size: 50, Out: out, Logger: zerolog.Nop()},
	)
	if err != nil {
		t.Fatalf("Train: %v", err)
	}

	tok := testutil.LoadArtifact(t, out)
	if tok.Model().VocabSize() > 50 {
		t.Errorf("vocab size = %d", tok.Model().VocabSize())
	}
}
