package stream

import "bytes"

// Buffer is an in-memory stream that can be written and then read back.
// Writes always append at the end; reads consume from a separate cursor.
type Buffer struct {
	data []byte
	off  int
}

// NewBuffer creates a Buffer whose readable content is a copy of data.
func NewBuffer(data []byte) *Buffer {
	b := &Buffer{}
	b.data = append(b.data, data...)
	return b
}

// WriteBytes appends p to the buffer.
func (b *Buffer) WriteBytes(p []byte) error {
	b.data = append(b.data, p...)
	return nil
}

// ReadBytes copies the next len(p) bytes into p.
func (b *Buffer) ReadBytes(p []byte) error {
	if len(b.data)-b.off < len(p) {
		off := b.off
		// A failed read leaves nothing trustworthy behind it.
		b.off = len(b.data)
		return endOfStream(int64(off), len(p), nil)
	}
	copy(p, b.data[b.off:b.off+len(p)])
	b.off += len(p)
	return nil
}

// Rewind moves the read cursor back to the start of the buffer.
func (b *Buffer) Rewind() {
	b.off = 0
}

// Clear drops all content and resets the read cursor.
func (b *Buffer) Clear() {
	b.data = b.data[:0]
	b.off = 0
}

// Bytes returns the full content of the buffer, read or not.
// The slice aliases the buffer until the next write.
func (b *Buffer) Bytes() []byte {
	return b.data
}

// Len returns the number of unread bytes.
func (b *Buffer) Len() int {
	return len(b.data) - b.off
}

// Size returns the total number of bytes written.
func (b *Buffer) Size() int {
	return len(b.data)
}

// Offset returns the read cursor position.
func (b *Buffer) Offset() int {
	return b.off
}

// IsEOF reports whether every written byte has been read.
func (b *Buffer) IsEOF() bool {
	return b.off >= len(b.data)
}

// Equal reports whether both buffers hold the same bytes.
func (b *Buffer) Equal(other *Buffer) bool {
	if other == nil {
		return false
	}
	return bytes.Equal(b.data, other.data)
}
