// Package archive reads and writes .dir/.img archive pairs: a
// directory of named entries and a data blob holding the entries'
// bytes, each padded to a whole number of blocks.
package archive

import (
	"context"
	"fmt"
	"io"
	"sort"
	"strings"
	"sync"

	"www.velocidex.com/golang/vcodec"
)

const (
	BlockSize = 2048

	// Names are zero padded to this size and always keep one
	// terminating zero.
	NameSize = 24
)

// Each record is 32 bytes. Offsets are counted in blocks.
const directorySchema = `
name: dir
extensions: [".dir"]
structs:
  - [File, [
      [offset, uint32],
      [size, uint32],
      [name, String, {length: 24}]]]
layout:
  - [files, File, {until_eof: true}]
`

var (
	model_once  sync.Once
	model       *vcodec.TypeModel
	model_error error
)

// The type model of directory files.
func Model() (*vcodec.TypeModel, error) {
	model_once.Do(func() {
		model, model_error = vcodec.LoadSchema([]byte(directorySchema))
	})
	return model, model_error
}

// An Entry is one file in the archive. Offsets are in bytes and
// always block aligned; Size is the exact size of the file.
type Entry struct {
	Name   string
	Offset int64
	Size   int64
}

// Number of blocks the entry occupies in the data blob.
func (self Entry) Blocks() int64 {
	return (self.Size + BlockSize - 1) / BlockSize
}

// Offset of the first byte after the entry's padding.
func (self Entry) End() int64 {
	return self.Offset + self.Blocks()*BlockSize
}

type MalformedDirectoryError struct {
	// The offending entry (may be empty).
	Name   string
	Reason string
	Err    error
}

func (self *MalformedDirectoryError) Error() string {
	msg := self.Reason
	if self.Name != "" {
		msg = fmt.Sprintf("entry %q: %v", self.Name, self.Reason)
	}
	if self.Err != nil {
		msg += ": " + self.Err.Error()
	}
	return "malformed directory: " + msg
}

func (self *MalformedDirectoryError) Unwrap() error {
	return self.Err
}

func (self *MalformedDirectoryError) Kind() string {
	return "MalformedDirectoryError"
}

func malformed(name, format string, args ...interface{}) error {
	return &MalformedDirectoryError{Name: name, Reason: fmt.Sprintf(format, args...)}
}

// Read all records of a directory file.
func ReadDirectory(ctx context.Context, reader io.Reader) ([]Entry, error) {
	model, err := Model()
	if err != nil {
		return nil, err
	}

	root, err := vcodec.ReadData(ctx, model, reader, nil)
	if err != nil {
		return nil, &MalformedDirectoryError{Reason: "unable to read records", Err: err}
	}

	var result []Entry
	for _, node := range root.Nodes() {
		offset, _ := node.Get("offset")
		size, _ := node.Get("size")
		name, _ := node.Get("name")

		blocks, _ := offset.(uint64)
		bytes, _ := size.(uint64)

		entry := Entry{
			Offset: int64(blocks) * BlockSize,
			Size:   int64(bytes),
		}
		entry.Name, _ = name.(string)
		result = append(result, entry)
	}
	return result, nil
}

// Write the records of entries. The data blob must have been laid
// out to match.
func WriteDirectory(ctx context.Context, writer io.Writer, entries []Entry) error {
	err := checkNames(entries)
	if err != nil {
		return err
	}

	model, err := Model()
	if err != nil {
		return err
	}

	root := vcodec.NewDataRoot(model, nil)
	for _, entry := range entries {
		if entry.Offset%BlockSize != 0 {
			return malformed(entry.Name, "offset %#x is not block aligned", entry.Offset)
		}
		if entry.Offset/BlockSize > 0xffffffff || entry.Size > 0xffffffff {
			return malformed(entry.Name, "too large for the directory format")
		}

		node, err := root.NewNode("File")
		if err != nil {
			return err
		}

		for _, field := range []struct {
			name  string
			value interface{}
		}{
			{"offset", uint64(entry.Offset / BlockSize)},
			{"size", uint64(entry.Size)},
			{"name", entry.Name},
		} {
			err = node.Set(field.name, field.value)
			if err != nil {
				return err
			}
		}

		err = root.Append("files", node)
		if err != nil {
			return err
		}
	}

	return vcodec.WriteData(ctx, root, writer)
}

// Names must be usable as plain file names.
func checkNames(entries []Entry) error {
	seen := make(map[string]bool)
	for _, entry := range entries {
		switch {
		case entry.Name == "":
			return malformed("", "empty name")

		case len(entry.Name) >= NameSize:
			return malformed(entry.Name, "name longer than %d bytes", NameSize-1)

		case entry.Name == "." || entry.Name == "..",
			strings.ContainsAny(entry.Name, "/\\:\x00"):
			return malformed(entry.Name, "not a plain file name")

		case seen[strings.ToLower(entry.Name)]:
			return malformed(entry.Name, "duplicate name")
		}
		seen[strings.ToLower(entry.Name)] = true
	}
	return nil
}

// Validate checks the directory against a data blob of data_size
// bytes: every entry must lie within the blob, start on a block and
// not overlap another entry's blocks.
func Validate(entries []Entry, data_size int64) error {
	err := checkNames(entries)
	if err != nil {
		return err
	}

	for _, entry := range entries {
		switch {
		case entry.Offset < 0 || entry.Size < 0:
			return malformed(entry.Name, "negative offset or size")

		case entry.Offset%BlockSize != 0:
			return malformed(entry.Name, "offset %#x is not block aligned", entry.Offset)

		case entry.Offset+entry.Size > data_size:
			return malformed(entry.Name,
				"%d bytes at offset %#x extend past the end of the data (%d bytes)",
				entry.Size, entry.Offset, data_size)
		}
	}

	sorted := append([]Entry{}, entries...)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].Offset < sorted[j].Offset
	})

	var last *Entry
	for i := range sorted {
		entry := &sorted[i]
		if entry.Size == 0 {
			continue
		}
		if last != nil && last.End() > entry.Offset {
			return malformed(entry.Name, "overlaps entry %q", last.Name)
		}
		if last == nil || entry.End() > last.End() {
			last = entry
		}
	}
	return nil
}
