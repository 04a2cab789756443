package main

import (
	"fmt"
	"unicode/utf8"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/example/go-wordpiece-trainer/internal/kvstore"
)

func newStatsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "stats --db <dir>",
		Short: "Compare a store's key-count estimate with its actual value count",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := requireConfig()
			if err != nil {
				return err
			}

			store, err := kvstore.Open(cfg.DB, kvstore.OpenOptions{
				CacheSize: cfg.Store.CacheSize,
				Logger:    log.Logger,
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

			var chars uint64
			for v := range values.All() {
				chars += uint64(utf8.RuneCountInString(v))
			}
			if err := values.Err(); err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			_, _ = fmt.Fprintf(out, "store:           %s\n", store.Path())
			_, _ = fmt.Fprintf(out, "estimated keys:  %d\n", values.Estimate())
			_, _ = fmt.Fprintf(out, "values:          %d\n", values.Count())
			_, err = fmt.Fprintf(out, "characters:      %d\n", chars)
			return err
		},
	}

	cmd.Flags().StringP("db", "d", "", "Store directory")
	cmd.Flags().Int64("store-cache-size", 0, "Block cache bytes (0 keeps the store's setting)")

	return cmd
}
