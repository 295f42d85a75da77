// Package stream provides the raw byte transports a state recorder writes
// snapshots to and reads them back from. Streams carry no knowledge of what the
// bytes mean; every byte range boundary is decided by the caller.
package stream

import (
	"errors"
	"io"
)

// Writer is an append-only byte sink.
type Writer interface {
	// WriteBytes appends all of p. It fails only when the transport does.
	WriteBytes(p []byte) error
}

// Reader is a sequential byte source.
type Reader interface {
	// ReadBytes fills p with the next len(p) bytes and advances past them.
	// It returns ErrEndOfStream if fewer than len(p) bytes remain.
	ReadBytes(p []byte) error
}

// ioWriter adapts an io.Writer to Writer
type ioWriter struct {
	w   io.Writer
	off int64
}

// NewWriter returns a Writer that appends to w. Any error returned by w is
// reported as ErrTransportFault.
func NewWriter(w io.Writer) Writer {
	return &ioWriter{w: w}
}

func (s *ioWriter) WriteBytes(p []byte) error {
	n, err := s.w.Write(p)
	s.off += int64(n)
	if err == nil && n < len(p) {
		err = io.ErrShortWrite
	}
	if err != nil {
		return transportFault("write", s.off-int64(n), len(p), err)
	}
	return nil
}

// ioReader adapts an io.Reader to Reader
type ioReader struct {
	r   io.Reader
	off int64
}

// NewReader returns a Reader consuming r. A short read is reported as
// ErrEndOfStream, any other failure as ErrTransportFault.
func NewReader(r io.Reader) Reader {
	return &ioReader{r: r}
}

func (s *ioReader) ReadBytes(p []byte) error {
	start := s.off
	n, err := io.ReadFull(s.r, p)
	s.off += int64(n)
	switch {
	case err == nil:
		return nil
	case errors.Is(err, io.EOF), errors.Is(err, io.ErrUnexpectedEOF):
		return endOfStream(start, len(p), err)
	default:
		return transportFault("read", start, len(p), err)
	}
}
