package main

import (
	"errors"
	"io"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/example/go-wordpiece-trainer/internal/config"
	"github.com/example/go-wordpiece-trainer/internal/corpus"
)

var (
	cfgFile   string
	activeCfg config.Config
)

func NewRootCmd() *cobra.Command {
	defaults := config.DefaultConfig()

	cmd := &cobra.Command{
		Use:   "wptrain -s <size> -o <out> (-d <db> | -t <files...>)",
		Short: "Train a WordPiece vocabulary from text files or a key-value store",
		Long: `Train a WordPiece vocabulary and write it as a tokenizer.json artifact.

The corpus is either a list of text files (one record per line) or the values
of a key-value store opened read-only. When both are given the store is used.`,
		// Trailing arguments are more --txt files.
		Args:          cobra.ArbitraryArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			loaded, err := config.Load(config.LoadOptions{
				Cmd:        cmd,
				ConfigFile: cfgFile,
				Defaults:   defaults,
			})
			if err != nil {
				return err
			}
			activeCfg = loaded
			setupLogger(cmd.ErrOrStderr(), loaded.LogLevel, loaded.LogFormat)
			return nil
		},
		RunE: runTrain,
	}

	cmd.PersistentFlags().StringVar(&cfgFile, "config", "", "Optional config file (yaml|toml|json)")
	config.RegisterLogFlags(cmd.PersistentFlags(), defaults)
	config.RegisterFlags(cmd.Flags(), defaults)

	cmd.AddCommand(newEncodeCmd())
	cmd.AddCommand(newIngestCmd())
	cmd.AddCommand(newStatsCmd())

	return cmd
}

func runTrain(cmd *cobra.Command, args []string) error {
	cfg, err := requireConfig()
	if err != nil {
		return err
	}
	cfg.Txt = append(cfg.Txt, config.SplitFileList(args)...)

	if err := cfg.Validate(); err != nil {
		return err
	}

	src, err := corpus.Select(cfg.DB, cfg.Txt)
	if err != nil {
		return err
	}
	if src.Kind == corpus.KindStore && len(cfg.Txt) > 0 {
		log.Warn().Strs("txt", cfg.Txt).Msg("--db takes precedence; ignoring text files")
	}

	opts := corpus.OptionsFromConfig(cfg, log.Logger)
	opts.Progress.Writer = cmd.ErrOrStderr()

	start := time.Now()
	tok, err := corpus.Train(cmd.Context(), src, opts)
	if err != nil {
		return err
	}

	stats := tok.Model().Summarize()
	log.Info().
		Str("out", cfg.Out).
		Str("corpus", src.Kind.String()).
		Int("vocab_size", stats.Size).
		Int("continuations", stats.Continuations).
		Dur("elapsed", time.Since(start)).
		Msg("vocabulary written")

	return nil
}

// setupLogger configures the process-wide zerolog logger on w.
func setupLogger(w io.Writer, levelStr, formatStr string) {
	level, err := zerolog.ParseLevel(strings.ToLower(levelStr))
	if err != nil || level == zerolog.NoLevel {
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)

	format, err := config.NormalizeLogFormat(formatStr)
	if err != nil {
		format = config.LogFormatConsole
	}

	if format == config.LogFormatJSON {
		log.Logger = zerolog.New(w).With().Timestamp().Logger()
		return
	}
	log.Logger = zerolog.New(zerolog.ConsoleWriter{Out: w, TimeFormat: time.TimeOnly}).With().Timestamp().Logger()
}

func requireConfig() (config.Config, error) {
	if activeCfg.LogLevel == "" {
		return config.Config{}, errors.New("configuration not loaded")
	}
	return activeCfg, nil
}
