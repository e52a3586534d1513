package vcodec

import (
	"bufio"
	"context"
	"io"
	"os"
	"path/filepath"
)

// PublishFile writes a file atomically: fn writes into a temporary
// file in the destination directory which replaces path only when fn
// succeeds. On failure the destination is left untouched.
func PublishFile(path string, fn func(w io.Writer) error) (err error) {
	dir, name := filepath.Split(path)
	if dir == "" {
		dir = "."
	}

	tmp, err := os.CreateTemp(dir, "."+name+".tmp*")
	if err != nil {
		return err
	}
	tmp_name := tmp.Name()

	defer func() {
		if err != nil {
			tmp.Close()
			os.Remove(tmp_name)
		}
	}()

	writer := bufio.NewWriter(tmp)
	err = fn(writer)
	if err != nil {
		return err
	}

	err = writer.Flush()
	if err != nil {
		return err
	}

	err = tmp.Sync()
	if err != nil {
		return err
	}

	err = tmp.Close()
	if err != nil {
		return err
	}

	return os.Rename(tmp_name, path)
}

// Write the root to path through PublishFile.
func WriteFile(ctx context.Context, root *DataRoot, path string) error {
	return PublishFile(path, func(w io.Writer) error {
		return WriteData(ctx, root, w)
	})
}

// Read a whole file of the model's format.
func ReadFile(ctx context.Context, model *TypeModel, path string,
	options *Options) (*DataRoot, error) {
	fd, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer fd.Close()

	return ReadData(ctx, model, fd, options)
}
