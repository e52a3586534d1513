package archive

import (
	"encoding/binary"
	"io"

	"github.com/go-restruct/restruct"
)

type rawRecord struct {
	Offset uint32
	Size   uint32
	Name   [NameSize]byte
}

const recordSize = 32

// Inspect is a quick check that r holds a directory file, looking only
// at the first records: the first entry starts the data blob, the
// second follows right after it and names are zero terminated. An
// empty directory is valid.
func Inspect(r io.Reader) error {
	buf := make([]byte, 2*recordSize)
	n, err := io.ReadFull(r, buf)
	switch err {
	case nil, io.ErrUnexpectedEOF, io.EOF:
	default:
		return err
	}
	buf = buf[:n]

	if n == 0 {
		return nil
	}
	if n < recordSize {
		return malformed("", "directory of %d bytes is too short", n)
	}

	first := &rawRecord{}
	err = restruct.Unpack(buf[:recordSize], binary.LittleEndian, first)
	if err != nil {
		return &MalformedDirectoryError{Reason: "unable to read record", Err: err}
	}

	if first.Offset != 0 {
		return malformed("", "first entry starts at block %d", first.Offset)
	}
	if first.Name[NameSize-1] != 0 {
		return malformed("", "first name is not terminated")
	}

	if n < 2*recordSize {
		return nil
	}

	second := &rawRecord{}
	err = restruct.Unpack(buf[recordSize:], binary.LittleEndian, second)
	if err != nil {
		return &MalformedDirectoryError{Reason: "unable to read record", Err: err}
	}

	blocks := (int64(first.Size) + BlockSize - 1) / BlockSize
	if int64(second.Offset) != blocks {
		return malformed("", "second entry starts at block %d, expecting %d",
			second.Offset, blocks)
	}
	return nil
}
