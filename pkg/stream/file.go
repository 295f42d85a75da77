package stream

import (
	"bufio"
	"os"
)

// FileSink writes a stream to a file through a buffered writer.
type FileSink struct {
	file      *os.File
	bufWriter *bufio.Writer
	path      string
	written   int64
}

// CreateFile creates (or truncates) the file at path and returns a sink for it
func CreateFile(path string) (*FileSink, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0644)
	if err != nil {
		return nil, transportFault("open", 0, 0, err)
	}

	return &FileSink{
		file:      f,
		bufWriter: bufio.NewWriter(f),
		path:      path,
	}, nil
}

// WriteBytes appends p to the file
func (fs *FileSink) WriteBytes(p []byte) error {
	n, err := fs.bufWriter.Write(p)
	fs.written += int64(n)
	if err != nil {
		return transportFault("write", fs.written-int64(n), len(p), err)
	}
	return nil
}

// Flush pushes buffered bytes to the file
func (fs *FileSink) Flush() error {
	if err := fs.bufWriter.Flush(); err != nil {
		return transportFault("flush", fs.written, 0, err)
	}
	return nil
}

// Path returns the path of the underlying file
func (fs *FileSink) Path() string {
	return fs.path
}

// Close flushes and closes the file
func (fs *FileSink) Close() error {
	if err := fs.Flush(); err != nil {
		fs.file.Close()
		return err
	}
	return fs.file.Close()
}

// FileSource reads a stream back from a file.
type FileSource struct {
	file *os.File
	*ioReader
}

// OpenFile opens the file at path for sequential reading
func OpenFile(path string) (*FileSource, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, transportFault("open", 0, 0, err)
	}

	return &FileSource{
		file:     f,
		ioReader: &ioReader{r: bufio.NewReader(f)},
	}, nil
}

// Close closes the file
func (fs *FileSource) Close() error {
	return fs.file.Close()
}
