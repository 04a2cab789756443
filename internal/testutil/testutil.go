// Package testutil provides shared fixtures for tests that train on a real
// corpus: text files, pebble stores and trained artifacts.
//
// Typical usage:
//
//	func TestMyTraining(t *testing.T) {
//	    db := testutil.BuildStore(t, "first record", "second record")
//	    ...
//	    tok := testutil.LoadArtifact(t, out)
//	}
package testutil

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/rs/zerolog"

	"github.com/example/go-wordpiece-trainer/internal/kvstore"
	"github.com/example/go-wordpiece-trainer/internal/tokenizer"
)

// ReservedTokens are the special tokens every artifact starts with, in id order.
var ReservedTokens = []string{"[PAD]", "[UNK]", "[CLS]", "[SEP]", "[MASK]"}

// WriteCorpus writes lines as a newline-terminated text file in a fresh temp
// directory and returns its path.
func WriteCorpus(tb testing.TB, name string, lines ...string) string {
	tb.Helper()

	p := filepath.Join(tb.TempDir(), name)

	content := ""
	if len(lines) > 0 {
		content = strings.Join(lines, "\n") + "\n"
	}

	err := os.WriteFile(p, []byte(content), 0o600)
	if err != nil {
		tb.Fatalf("write corpus %q: %v", p, err)
	}

	return p
}

// BuildStore creates a pebble store holding values in order and returns its
// directory. The store is flushed, so its key-count estimate is exact.
func BuildStore(tb testing.TB, values ...string) string {
	tb.Helper()

	dir := filepath.Join(tb.TempDir(), "store")

	w, err := kvstore.Create(dir, zerolog.Nop())
	if err != nil {
		tb.Fatalf("create store: %v", err)
	}

	for _, v := range values {
		err = w.Append([]byte(v))
		if err != nil {
			_ = w.Close()
			tb.Fatalf("append %q: %v", v, err)
		}
	}

	err = w.Close()
	if err != nil {
		tb.Fatalf("close store: %v", err)
	}

	return dir
}

// LoadArtifact loads a tokenizer.json and fails the test unless it starts with
// the reserved tokens.
func LoadArtifact(tb testing.TB, path string) *tokenizer.Tokenizer {
	tb.Helper()

	tok, err := tokenizer.Load(path, zerolog.Nop())
	if err != nil {
		tb.Fatalf("load artifact: %v", err)
	}

	for id, want := range ReservedTokens {
		got, ok := tok.Model().IDToToken(id)
		if !ok || got != want {
			tb.Fatalf("artifact id %d = %q; want %q", id, got, want)
		}
	}

	return tok
}
