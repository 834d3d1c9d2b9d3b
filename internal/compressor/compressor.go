// Package compressor wraps lz4 frames for chunks kept at rest.
package compressor

import (
	"io"

	"github.com/pierrec/lz4/v4"
)

// NewWriter returns an lz4 frame writer over w. Close flushes the frame.
func NewWriter(w io.Writer) io.WriteCloser {
	return lz4.NewWriter(w)
}

// NewReader returns an lz4 frame reader over r.
func NewReader(r io.Reader) io.Reader {
	return lz4.NewReader(r)
}
