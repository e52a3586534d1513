package vcodec

import (
	"bufio"
	"io"
)

// Reads are strictly sequential, so the only position we track is
// the number of bytes consumed so far.
type streamReader struct {
	reader *bufio.Reader
	offset int64
}

func newStreamReader(reader io.Reader) *streamReader {
	buffered, ok := reader.(*bufio.Reader)
	if !ok {
		buffered = bufio.NewReader(reader)
	}
	return &streamReader{reader: buffered}
}

// Returns the bytes read and io.ErrUnexpectedEOF if fewer than n
// were available.
func (self *streamReader) read(n int) ([]byte, error) {
	buf := make([]byte, n)
	read, err := io.ReadFull(self.reader, buf)
	self.offset += int64(read)
	if err == io.EOF {
		err = io.ErrUnexpectedEOF
	}
	return buf[:read], err
}

func (self *streamReader) readByte() (byte, error) {
	b, err := self.reader.ReadByte()
	if err != nil {
		return 0, err
	}
	self.offset++
	return b, nil
}

func (self *streamReader) atEOF() bool {
	_, err := self.reader.Peek(1)
	return err != nil
}

type streamWriter struct {
	writer io.Writer
	offset int64
}

func (self *streamWriter) write(buf []byte) error {
	n, err := self.writer.Write(buf)
	self.offset += int64(n)
	return err
}
