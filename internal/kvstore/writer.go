package kvstore

import (
	"encoding/binary"
	"fmt"

	"github.com/cockroachdb/pebble"
	"github.com/rs/zerolog"
)

// batchLimit bounds how many values a Writer buffers before committing.
const batchLimit = 4096

// Writer appends values to a pebble store under big-endian sequence keys so
// that key order equals insertion order. It is the write side used to build
// corpora; training only ever reads.
type Writer struct {
	db    *pebble.DB
	batch *pebble.Batch
	next  uint64
	added uint64
	log   zerolog.Logger
}

// Create opens dir for writing, creating the store if needed. Appends resume
// after the highest existing sequence key.
func Create(dir string, log zerolog.Logger) (*Writer, error) {
	if dir == "" {
		return nil, ErrEmptyPath
	}

	db, err := pebble.Open(dir, &pebble.Options{Logger: pebbleLogger{log: log}})
	if err != nil {
		return nil, fmt.Errorf("create store %q: %w", dir, err)
	}

	next, err := nextSequence(db)
	if err != nil {
		_ = db.Close()
		return nil, err
	}

	return &Writer{db: db, batch: db.NewBatch(), next: next, log: log}, nil
}

func nextSequence(db *pebble.DB) (uint64, error) {
	it, err := db.NewIter(nil)
	if err != nil {
		return 0, fmt.Errorf("open cursor: %w", err)
	}
	defer func() { _ = it.Close() }()

	if !it.Last() {
		return 0, it.Error()
	}
	if k := it.Key(); len(k) == 8 {
		return binary.BigEndian.Uint64(k) + 1, nil
	}
	return 0, fmt.Errorf("store holds non-sequence key %q; refusing to append", it.Key())
}

// Append stores value under the next sequence key.
func (w *Writer) Append(value []byte) error {
	var key [8]byte
	binary.BigEndian.PutUint64(key[:], w.next)
	if err := w.batch.Set(key[:], value, nil); err != nil {
		return fmt.Errorf("buffer value: %w", err)
	}
	w.next++
	w.added++

	if w.batch.Count() >= batchLimit {
		return w.commit()
	}
	return nil
}

// Added returns the number of values appended through this writer.
func (w *Writer) Added() uint64 { return w.added }

func (w *Writer) commit() error {
	if w.batch.Count() == 0 {
		return nil
	}
	if err := w.batch.Commit(pebble.Sync); err != nil {
		return fmt.Errorf("commit batch: %w", err)
	}
	if err := w.batch.Close(); err != nil {
		return fmt.Errorf("close batch: %w", err)
	}
	w.batch = w.db.NewBatch()
	return nil
}

// Close commits pending values, flushes the memtable so table properties
// (and with them EstimateKeyCount) reflect the new data, and closes the store.
func (w *Writer) Close() error {
	if w.db == nil {
		return nil
	}
	err := w.commit()
	if err == nil {
		if ferr := w.db.Flush(); ferr != nil {
			err = fmt.Errorf("flush store: %w", ferr)
		}
	}
	_ = w.batch.Close()
	if cerr := w.db.Close(); cerr != nil && err == nil {
		err = fmt.Errorf("close store: %w", cerr)
	}
	w.db = nil
	w.log.Debug().Uint64("added", w.added).Msg("store writer closed")
	return err
}
