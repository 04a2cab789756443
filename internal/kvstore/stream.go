package kvstore

import (
	"errors"
	"fmt"
	"iter"
	"math"
	"unicode/utf8"

	"github.com/cockroachdb/pebble"
	"golang.org/x/text/encoding"
	"golang.org/x/text/encoding/unicode"
)

// ErrStreamClosed is reported by Err when Next is called after Close.
var ErrStreamClosed = errors.New("value stream closed")

type streamState uint8

const (
	// stateNotStarted: the cursor sits on the first key and has not been read.
	stateNotStarted streamState = iota
	// stateIterating: at least one value was read; Next advances first.
	stateIterating
	// stateExhausted: the cursor ran off the end or was closed.
	stateExhausted
)

// ValueStream yields every value of a store once, in key order, decoded as
// UTF-8 with ill-formed sequences replaced by U+FFFD. It is not safe for
// concurrent use and cannot be restarted.
type ValueStream struct {
	it       *pebble.Iterator
	dec      *encoding.Decoder
	estimate uint64
	state    streamState
	yielded  uint64
	err      error
}

func newValueStream(it *pebble.Iterator, estimate uint64) *ValueStream {
	s := &ValueStream{
		it:       it,
		dec:      unicode.UTF8.NewDecoder(),
		estimate: estimate,
	}
	if !it.First() {
		// Either empty or the first read failed; finish keeps the cause.
		s.finish()
	}
	return s
}

// Next returns the next value. The second result is false once the store is
// exhausted; that is the normal end of the stream, not an error.
func (s *ValueStream) Next() (string, bool) {
	switch s.state {
	case stateExhausted:
		if s.it == nil && s.err == nil {
			s.err = ErrStreamClosed
		}
		return "", false
	case stateNotStarted:
		s.state = stateIterating
	case stateIterating:
		if !s.it.Next() {
			s.finish()
			return "", false
		}
	}

	if !s.it.Valid() {
		s.finish()
		return "", false
	}

	raw, err := s.it.ValueAndErr()
	if err != nil {
		s.err = fmt.Errorf("read value: %w", err)
		s.state = stateExhausted
		return "", false
	}

	s.yielded++
	return s.decode(raw), true
}

func (s *ValueStream) finish() {
	s.state = stateExhausted
	if err := s.it.Error(); err != nil {
		s.err = fmt.Errorf("iterate store: %w", err)
	}
}

func (s *ValueStream) decode(raw []byte) string {
	if utf8.Valid(raw) {
		return string(raw)
	}
	out, err := s.dec.Bytes(raw)
	if err != nil {
		// The UTF-8 decoder only substitutes; keep the stream alive regardless.
		return string(raw)
	}
	return string(out)
}

// All adapts the stream to a range-over-func sequence. Breaking out of the
// loop leaves the stream open; Close still has to be called.
func (s *ValueStream) All() iter.Seq[string] {
	return func(yield func(string) bool) {
		for {
			v, ok := s.Next()
			if !ok || !yield(v) {
				return
			}
		}
	}
}

// SizeHint mirrors an iterator size hint: nothing is promised below, the
// estimate is offered above.
func (s *ValueStream) SizeHint() (lower int, upper int) {
	if s.estimate > math.MaxInt {
		return 0, math.MaxInt
	}
	return 0, int(s.estimate)
}

// Estimate returns the store's key count estimate taken when the stream opened.
func (s *ValueStream) Estimate() uint64 { return s.estimate }

// Count returns how many values have been yielded so far.
func (s *ValueStream) Count() uint64 { return s.yielded }

// Err reports a read failure that ended the stream early.
func (s *ValueStream) Err() error { return s.err }

// Close releases the cursor. It is safe to call more than once and whether or
// not the stream was drained.
func (s *ValueStream) Close() error {
	if s.it == nil {
		return nil
	}
	err := s.it.Close()
	s.it = nil
	s.state = stateExhausted
	if err != nil {
		return fmt.Errorf("close cursor: %w", err)
	}
	return nil
}
