// Package kvstore exposes an existing pebble store as a training corpus.
//
// A Store is always opened read-only; its engine options are loaded from the
// OPTIONS file the store persisted itself, so callers never have to restate
// how the store was created.
package kvstore

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/cockroachdb/pebble"
	"github.com/cockroachdb/pebble/objstorage/objstorageprovider"
	"github.com/rs/zerolog"
)

// ErrEmptyPath is returned when Open is called without a store directory.
var ErrEmptyPath = errors.New("store path must not be empty")

// defaultCacheSize matches the block cache the store is opened with when its
// persisted options do not name one.
const defaultCacheSize = 8 << 20

type OpenOptions struct {
	// CacheSize overrides the block cache size. Zero keeps the persisted or
	// default size.
	CacheSize int64
	Logger    zerolog.Logger
}

// Store is a read-only handle to an on-disk pebble store.
type Store struct {
	db  *pebble.DB
	dir string
	log zerolog.Logger
}

// Open opens the store in dir in read-only mode. It fails when dir holds no
// store, the format is not understood, or another process holds the lock.
func Open(dir string, opts OpenOptions) (*Store, error) {
	if dir == "" {
		return nil, ErrEmptyPath
	}

	popts, cache, err := loadLatestOptions(dir, opts)
	if err != nil {
		return nil, err
	}
	defer cache.Unref()

	popts.ReadOnly = true
	popts.ErrorIfNotExists = true
	popts.Cache = cache
	popts.Logger = pebbleLogger{log: opts.Logger}
	popts.Local.ReadaheadConfigFn = sequentialReadahead

	db, err := pebble.Open(dir, popts)
	if err != nil {
		return nil, fmt.Errorf("open store %q: %w", dir, err)
	}

	opts.Logger.Debug().Str("path", dir).Msg("store opened read-only")

	return &Store{db: db, dir: dir, log: opts.Logger}, nil
}

// Path returns the store directory.
func (s *Store) Path() string { return s.dir }

// EstimateKeyCount returns the number of live point keys recorded in the
// sstable properties. Entries still in the WAL are not counted, so the value
// is a hint and may be lower or higher than what Values yields.
func (s *Store) EstimateKeyCount() (uint64, error) {
	levels, err := s.db.SSTables(pebble.WithProperties())
	if err != nil {
		return 0, fmt.Errorf("read table properties: %w", err)
	}

	var n uint64
	for _, tables := range levels {
		for _, t := range tables {
			if t.Properties == nil {
				continue
			}
			live := t.Properties.NumEntries
			if d := t.Properties.NumDeletions; d < live {
				live -= d
			} else {
				live = 0
			}
			n += live
		}
	}

	return n, nil
}

// Values opens a cursor over every value in key order. The stream must be
// closed before the store.
func (s *Store) Values() (*ValueStream, error) {
	estimate, err := s.EstimateKeyCount()
	if err != nil {
		return nil, err
	}

	it, err := s.db.NewIter(nil)
	if err != nil {
		return nil, fmt.Errorf("open cursor: %w", err)
	}

	return newValueStream(it, estimate), nil
}

// Close releases the store. Open streams must be closed first.
func (s *Store) Close() error {
	if s.db == nil {
		return nil
	}
	err := s.db.Close()
	s.db = nil
	if err != nil {
		return fmt.Errorf("close store %q: %w", s.dir, err)
	}
	return nil
}

// loadLatestOptions parses the newest OPTIONS-NNNNNN file in dir. A store
// without an OPTIONS file falls back to pebble defaults; Open still refuses a
// directory without a manifest.
func loadLatestOptions(dir string, opts OpenOptions) (*pebble.Options, *pebble.Cache, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, nil, fmt.Errorf("open store %q: %w", dir, err)
	}

	var latest string
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || !strings.HasPrefix(name, "OPTIONS-") {
			continue
		}
		// Zero padded file numbers sort lexically.
		if name > latest {
			latest = name
		}
	}

	size := int64(defaultCacheSize)
	popts := &pebble.Options{}

	if latest != "" {
		data, err := os.ReadFile(filepath.Join(dir, latest))
		if err != nil {
			return nil, nil, fmt.Errorf("read store options: %w", err)
		}

		hooks := &pebble.ParseHooks{
			NewCache: func(n int64) *pebble.Cache {
				size = n
				return nil
			},
			SkipUnknown: func(name, value string) bool {
				opts.Logger.Debug().Str("option", name).Str("value", value).Msg("skipping unknown store option")
				return true
			},
		}
		if err := popts.Parse(string(data), hooks); err != nil {
			return nil, nil, fmt.Errorf("parse store options %s: %w", latest, err)
		}
		opts.Logger.Debug().Str("file", latest).Msg("loaded persisted store options")
	}

	if opts.CacheSize > 0 {
		size = opts.CacheSize
	}

	return popts, pebble.NewCache(size), nil
}

func sequentialReadahead() pebble.ReadaheadConfig {
	return pebble.ReadaheadConfig{
		Informed:    objstorageprovider.FadviseSequential,
		Speculative: objstorageprovider.FadviseSequential,
	}
}

// pebbleLogger routes engine messages through zerolog.
type pebbleLogger struct {
	log zerolog.Logger
}

func (l pebbleLogger) Infof(format string, args ...interface{}) {
	l.log.Debug().Str("component", "pebble").Msgf(format, args...)
}

func (l pebbleLogger) Fatalf(format string, args ...interface{}) {
	l.log.Fatal().Str("component", "pebble").Msgf(format, args...)
}
