package recorder

import (
	"encoding/binary"
	"fmt"

	"github.com/willibrandon/ChronoState/pkg/stream"
)

// Write appends the little-endian encoding of a fixed-size value.
func Write[T any](w stream.Writer, v T) error {
	buf, err := binary.Append(nil, binary.LittleEndian, v)
	if err != nil {
		return fmt.Errorf("recorder: encode %T: %w", v, err)
	}
	return w.WriteBytes(buf)
}

// Read reads a fixed-size value into v. The current value of *v is encoded
// into the read target first, so a validating recorder compares it with the
// recording before overwriting it.
func Read[T any](r stream.Reader, v *T) error {
	buf, err := binary.Append(nil, binary.LittleEndian, *v)
	if err != nil {
		return fmt.Errorf("recorder: encode %T: %w", *v, err)
	}
	if err := r.ReadBytes(buf); err != nil {
		return err
	}
	if _, err := binary.Decode(buf, binary.LittleEndian, v); err != nil {
		return fmt.Errorf("recorder: decode %T: %w", *v, err)
	}
	return nil
}

// WriteSlice writes a uint32 element count followed by the elements.
func WriteSlice[T any](w stream.Writer, s []T) error {
	if err := Write(w, uint32(len(s))); err != nil {
		return err
	}
	if len(s) == 0 {
		return nil
	}
	return Write(w, s)
}

// ReadSlice reads a slice written by WriteSlice, resizing *s to the recorded
// length. Elements past the live length are compared as zero values and
// appended one at a time, so a corrupt count ends with stream.ErrEndOfStream.
func ReadSlice[T any](r stream.Reader, s *[]T) error {
	n := uint32(len(*s))
	if err := Read(r, &n); err != nil {
		return err
	}
	live := *s
	if int(n) < len(live) {
		live = live[:n:n]
	}
	if len(live) > 0 {
		if err := Read(r, &live); err != nil {
			return err
		}
	}
	for i := len(live); i < int(n); i++ {
		var v T
		if err := Read(r, &v); err != nil {
			return err
		}
		live = append(live, v)
	}
	*s = live
	return nil
}
