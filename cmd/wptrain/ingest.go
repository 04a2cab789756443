package main

import (
	"bufio"
	"fmt"
	"os"
	"strings"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/example/go-wordpiece-trainer/internal/kvstore"
)

func newIngestCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "ingest --db <dir> <files...>",
		Short: "Load text files into a key-value store, one value per non-empty line",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := requireConfig()
			if err != nil {
				return err
			}

			w, err := kvstore.Create(cfg.DB, log.Logger)
			if err != nil {
				return err
			}

			for _, path := range args {
				n, err := ingestFile(w, path)
				if err != nil {
					_ = w.Close()
					return err
				}
				log.Debug().Str("file", path).Int("records", n).Msg("file ingested")
			}

			if err := w.Close(); err != nil {
				return err
			}

			_, err = fmt.Fprintf(cmd.OutOrStdout(), "ingested %d records into %s\n", w.Added(), cfg.DB)
			return err
		},
	}

	cmd.Flags().StringP("db", "d", "", "Store directory to create or append to")

	return cmd
}

func ingestFile(w *kvstore.Writer, path string) (int, error) {
	f, err := os.Open(path)
	if err != nil {
		return 0, fmt.Errorf("open input: %w", err)
	}
	defer func() { _ = f.Close() }()

	n := 0
	sc := bufio.NewScanner(f)
	sc.Buffer(make([]byte, 0, 64*1024), 64<<20)
	for sc.Scan() {
		line := sc.Bytes()
		if strings.TrimSpace(string(line)) == "" {
			continue
		}
		if err := w.Append(line); err != nil {
			return n, err
		}
		n++
	}
	if err := sc.Err(); err != nil {
		return n, fmt.Errorf("read %q: %w", path, err)
	}

	return n, nil
}
