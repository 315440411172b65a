package core

// streaming.go provides the byte-level readers in front of the CSV decoder.
//
//   - BOMSkippingReader: drops a UTF-8 BOM (0xEF 0xBB 0xBF) that some
//     spreadsheet exports prepend even to Latin-1 files
//   - CountingReader: tracks bytes consumed for progress reporting
//
// Both operate on raw file bytes, before Latin-1 decoding.

import (
	"io"
	"sync/atomic"
)

var utf8BOM = [3]byte{0xEF, 0xBB, 0xBF}

// BOMSkippingReader wraps an io.Reader and skips a leading UTF-8 BOM.
type BOMSkippingReader struct {
	reader  io.Reader
	checked bool
	pending []byte
}

// NewBOMSkippingReader creates a new BOM-skipping reader.
func NewBOMSkippingReader(r io.Reader) *BOMSkippingReader {
	return &BOMSkippingReader{reader: r}
}

// Read implements io.Reader.
func (r *BOMSkippingReader) Read(p []byte) (int, error) {
	if len(p) == 0 {
		return 0, nil
	}

	if !r.checked {
		r.checked = true

		var head [3]byte
		n, err := io.ReadFull(r.reader, head[:])
		switch {
		case n == 3 && head == utf8BOM:
			// dropped
		case n > 0:
			r.pending = append(r.pending, head[:n]...)
		}
		if err == io.ErrUnexpectedEOF {
			err = io.EOF
		}
		if err != nil && len(r.pending) == 0 {
			return 0, err
		}
	}

	if len(r.pending) > 0 {
		n := copy(p, r.pending)
		r.pending = r.pending[n:]
		return n, nil
	}

	return r.reader.Read(p)
}

// CountingReader wraps an io.Reader to track bytes read. BytesRead may be
// called from other goroutines while reads are in progress.
type CountingReader struct {
	reader io.Reader
	read   atomic.Int64
}

// NewCountingReader creates a counting reader.
func NewCountingReader(r io.Reader) *CountingReader {
	return &CountingReader{reader: r}
}

// Read implements io.Reader.
func (r *CountingReader) Read(p []byte) (int, error) {
	n, err := r.reader.Read(p)
	r.read.Add(int64(n))
	return n, err
}

// BytesRead returns the number of bytes consumed so far.
func (r *CountingReader) BytesRead() int64 { return r.read.Load() }
