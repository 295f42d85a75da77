package stream

// Counter wraps a Writer and a Reader and tallies the bytes that pass through.
// Either side may be nil; calling the missing side panics.
type Counter struct {
	W Writer
	R Reader

	written int64
	read    int64
}

// WriteBytes forwards to W and counts p on success.
func (c *Counter) WriteBytes(p []byte) error {
	if err := c.W.WriteBytes(p); err != nil {
		return err
	}
	c.written += int64(len(p))
	return nil
}

// ReadBytes forwards to R and counts p on success.
func (c *Counter) ReadBytes(p []byte) error {
	if err := c.R.ReadBytes(p); err != nil {
		return err
	}
	c.read += int64(len(p))
	return nil
}

// Written returns the number of bytes successfully written.
func (c *Counter) Written() int64 { return c.written }

// Read returns the number of bytes successfully read.
func (c *Counter) Read() int64 { return c.read }
