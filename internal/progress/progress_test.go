package progress

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNew_DisabledIsNilAndSafe(t *testing.T) {
	b := New(Options{Enabled: false}, 10, "noop")
	assert.Nil(t, b)

	b.Add(3)
	b.Finish()
}

func TestNew_RendersToWriter(t *testing.T) {
	var buf bytes.Buffer

	b := New(Options{Enabled: true, Writer: &buf}, 4, "Counting")
	for i := 0; i < 4; i++ {
		b.Add(1)
	}
	b.Finish()

	assert.Contains(t, buf.String(), "Counting")
}

func TestNew_UnknownSizeDoesNotFail(t *testing.T) {
	var buf bytes.Buffer

	b := New(Options{Enabled: true, Writer: &buf}, 0, "Streaming")
	b.Add(100)
	b.Finish()

	assert.NotEmpty(t, buf.String())
}
