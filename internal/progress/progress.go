// Package progress renders training progress on a terminal.
package progress

import (
	"io"
	"os"
	"time"

	"github.com/schollz/progressbar/v3"
)

// Options controls whether and where bars render.
type Options struct {
	Enabled bool
	// Writer defaults to os.Stderr so bars never mix with command output.
	Writer io.Writer
}

// Bar is a progress bar that is safe to use when disabled (all methods are
// no-ops on a nil *Bar).
type Bar struct {
	pb *progressbar.ProgressBar
}

// New starts a bar for max steps. A max of zero or below renders a spinner,
// which is what an unknown corpus size looks like. An estimate that turns out
// too small simply saturates the bar.
func New(opts Options, max int64, description string) *Bar {
	if !opts.Enabled {
		return nil
	}

	w := opts.Writer
	if w == nil {
		w = os.Stderr
	}
	if max <= 0 {
		max = -1
	}

	pb := progressbar.NewOptions64(max,
		progressbar.OptionSetWriter(w),
		progressbar.OptionSetDescription(description),
		progressbar.OptionShowCount(),
		progressbar.OptionThrottle(100*time.Millisecond),
		progressbar.OptionOnCompletion(func() { _, _ = io.WriteString(w, "\n") }),
	)

	return &Bar{pb: pb}
}

// Add advances the bar by n steps.
func (b *Bar) Add(n int) {
	if b == nil {
		return
	}
	_ = b.pb.Add(n)
}

// Finish completes the bar.
func (b *Bar) Finish() {
	if b == nil {
		return
	}
	_ = b.pb.Finish()
}
