package config

import (
	"errors"
	"fmt"
	"strings"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

var (
	ErrMissingSize = errors.New("vocabulary size is required (--size)")
	ErrMissingOut  = errors.New("output path is required (--out)")
)

type Config struct {
	Size      uint          `mapstructure:"size"`
	Out       string        `mapstructure:"out"`
	DB        string        `mapstructure:"db"`
	Txt       []string      `mapstructure:"txt"`
	Pretty    bool          `mapstructure:"pretty"`
	LogLevel  string        `mapstructure:"log_level"`
	LogFormat string        `mapstructure:"log_format"`
	Trainer   TrainerConfig `mapstructure:"trainer"`
	Store     StoreConfig   `mapstructure:"store"`
}

type TrainerConfig struct {
	MinFrequency  uint64 `mapstructure:"min_frequency"`
	LimitAlphabet int    `mapstructure:"limit_alphabet"`
	ShowProgress  bool   `mapstructure:"show_progress"`
	Workers       int    `mapstructure:"workers"`
}

type StoreConfig struct {
	// CacheSize overrides the block cache size recorded in the store's
	// options file; zero keeps the recorded value.
	CacheSize int64 `mapstructure:"cache_size"`
}

type LoadOptions struct {
	Cmd        flagBinder
	ConfigFile string
	Defaults   Config
}

type flagBinder interface {
	Flags() *pflag.FlagSet
}

func DefaultConfig() Config {
	return Config{
		Size:      0,
		Out:       "",
		DB:        "",
		Txt:       nil,
		Pretty:    false,
		LogLevel:  "info",
		LogFormat: "console",
		Trainer: TrainerConfig{
			MinFrequency:  0,
			LimitAlphabet: 0,
			ShowProgress:  true,
			Workers:       0,
		},
		Store: StoreConfig{
			CacheSize: 0,
		},
	}
}

// flagKeys maps flag names to config keys.
var flagKeys = map[string]string{
	"size":             "size",
	"out":              "out",
	"db":               "db",
	"txt":              "txt",
	"pretty":           "pretty",
	"log-level":        "log_level",
	"log-format":       "log_format",
	"min-frequency":    "trainer.min_frequency",
	"limit-alphabet":   "trainer.limit_alphabet",
	"workers":          "trainer.workers",
	"store-cache-size": "store.cache_size",
}

// RegisterFlags adds the training flags to fs.
func RegisterFlags(fs *pflag.FlagSet, defaults Config) {
	fs.UintP("size", "s", defaults.Size, "Vocabulary size, special tokens included")
	fs.StringP("out", "o", defaults.Out, "Path of the tokenizer.json artifact to write")
	fs.StringP("db", "d", defaults.DB, "Directory of a key-value store whose values form the corpus (takes precedence over --txt)")
	fs.StringArrayP("txt", "t", defaults.Txt, "Text files to train from, one record per line (space separated; may be repeated)")
	fs.Bool("pretty", defaults.Pretty, "Pretty-print the artifact")
	fs.Uint64("min-frequency", defaults.Trainer.MinFrequency, "Minimum pair frequency for a merge")
	fs.Int("limit-alphabet", defaults.Trainer.LimitAlphabet, "Maximum number of initial characters (0 keeps all)")
	fs.Int("workers", defaults.Trainer.Workers, "Concurrent file readers for --txt (0 uses one per CPU)")
	fs.Bool("no-progress", !defaults.Trainer.ShowProgress, "Disable progress bars")
	fs.Int64("store-cache-size", defaults.Store.CacheSize, "Block cache bytes for --db (0 keeps the store's setting)")
}

// RegisterLogFlags adds the logging flags, shared by every command.
func RegisterLogFlags(fs *pflag.FlagSet, defaults Config) {
	fs.String("log-level", defaults.LogLevel, "Log level: debug|info|warn|error")
	fs.String("log-format", defaults.LogFormat, "Log format: console|json")
}

func Load(opts LoadOptions) (Config, error) {
	v := viper.New()

	setDefaults(v, opts.Defaults)

	var fs *pflag.FlagSet
	if opts.Cmd != nil {
		fs = opts.Cmd.Flags()
		if err := bindFlags(v, fs); err != nil {
			return Config{}, err
		}
	}

	v.SetEnvPrefix("WPTRAIN")
	replacer := strings.NewReplacer("-", "_", ".", "_")
	v.SetEnvKeyReplacer(replacer)
	v.AutomaticEnv()

	if opts.ConfigFile != "" {
		v.SetConfigFile(opts.ConfigFile)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config file: %w", err)
		}
	} else {
		v.SetConfigName("wptrain")
		v.AddConfigPath(".")
		if err := v.ReadInConfig(); err != nil {
			if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
				return Config{}, fmt.Errorf("read config file: %w", err)
			}
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("decode config: %w", err)
	}

	if fs != nil {
		if f := fs.Lookup("no-progress"); f != nil && f.Changed {
			off, err := fs.GetBool("no-progress")
			if err != nil {
				return Config{}, fmt.Errorf("read no-progress flag: %w", err)
			}
			cfg.Trainer.ShowProgress = !off
		}
	}

	cfg.Txt = SplitFileList(cfg.Txt)

	return cfg, nil
}

// bindFlags binds the flags present on fs; commands only carry a subset.
func bindFlags(v *viper.Viper, fs *pflag.FlagSet) error {
	for name, key := range flagKeys {
		f := fs.Lookup(name)
		if f == nil {
			continue
		}
		if err := v.BindPFlag(key, f); err != nil {
			return fmt.Errorf("bind flag %q: %w", name, err)
		}
	}
	return nil
}

func setDefaults(v *viper.Viper, c Config) {
	v.SetDefault("size", c.Size)
	v.SetDefault("out", c.Out)
	v.SetDefault("db", c.DB)
	v.SetDefault("txt", c.Txt)
	v.SetDefault("pretty", c.Pretty)
	v.SetDefault("log_level", c.LogLevel)
	v.SetDefault("log_format", c.LogFormat)
	v.SetDefault("trainer.min_frequency", c.Trainer.MinFrequency)
	v.SetDefault("trainer.limit_alphabet", c.Trainer.LimitAlphabet)
	v.SetDefault("trainer.show_progress", c.Trainer.ShowProgress)
	v.SetDefault("trainer.workers", c.Trainer.Workers)
	v.SetDefault("store.cache_size", c.Store.CacheSize)
}

// SplitFileList flattens file arguments. Each entry may hold several paths
// separated by whitespace.
func SplitFileList(entries []string) []string {
	var out []string
	for _, e := range entries {
		out = append(out, strings.Fields(e)...)
	}
	return out
}

// Validate checks the settings a training run needs.
func (c Config) Validate() error {
	if c.Size == 0 {
		return ErrMissingSize
	}
	if strings.TrimSpace(c.Out) == "" {
		return ErrMissingOut
	}
	if c.Trainer.LimitAlphabet < 0 {
		return fmt.Errorf("limit-alphabet must be >= 0, got %d", c.Trainer.LimitAlphabet)
	}
	if c.Trainer.Workers < 0 {
		return fmt.Errorf("workers must be >= 0, got %d", c.Trainer.Workers)
	}
	if c.Store.CacheSize < 0 {
		return fmt.Errorf("store-cache-size must be >= 0, got %d", c.Store.CacheSize)
	}
	if _, err := NormalizeLogFormat(c.LogFormat); err != nil {
		return err
	}
	return nil
}
