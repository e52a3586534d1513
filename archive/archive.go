package archive

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"www.velocidex.com/golang/vcodec"
)

// A File to pack.
type File struct {
	Name string
	Open func() (io.ReadCloser, error)
}

func FileFromBytes(name string, data []byte) File {
	return File{
		Name: name,
		Open: func() (io.ReadCloser, error) {
			return io.NopCloser(bytes.NewReader(data)), nil
		},
	}
}

func FileFromPath(name, path string) File {
	return File{
		Name: name,
		Open: func() (io.ReadCloser, error) {
			return os.Open(path)
		},
	}
}

// Unpack writes every entry into the dest directory. Nothing is
// written unless the whole directory is valid for the data.
func Unpack(ctx context.Context, entries []Entry,
	data io.ReaderAt, data_size int64, dest string) error {
	err := Validate(entries, data_size)
	if err != nil {
		return err
	}

	err = os.MkdirAll(dest, 0700)
	if err != nil {
		return err
	}

	for _, entry := range entries {
		err := ctx.Err()
		if err != nil {
			return err
		}

		// Exactly Size bytes: the block padding is dropped.
		section := io.NewSectionReader(data, entry.Offset, entry.Size)
		err = vcodec.PublishFile(filepath.Join(dest, entry.Name),
			func(w io.Writer) error {
				n, err := io.Copy(w, section)
				if err == nil && n != entry.Size {
					err = fmt.Errorf("%v: short read (%d of %d bytes)",
						entry.Name, n, entry.Size)
				}
				return err
			})
		if err != nil {
			return err
		}
	}
	return nil
}

// Pack copies files into data, each padded with zeros to the next
// block, then writes the directory describing them.
func Pack(ctx context.Context, files []File, dir io.Writer, data io.Writer) ([]Entry, error) {
	entries := make([]Entry, 0, len(files))
	for _, file := range files {
		entries = append(entries, Entry{Name: file.Name})
	}

	err := checkNames(entries)
	if err != nil {
		return nil, err
	}

	offset := int64(0)
	for idx, file := range files {
		err := ctx.Err()
		if err != nil {
			return nil, err
		}

		size, err := copyFile(data, file)
		if err != nil {
			return nil, err
		}

		entry := &entries[idx]
		entry.Offset = offset
		entry.Size = size

		padding := entry.End() - offset - size
		_, err = data.Write(make([]byte, padding))
		if err != nil {
			return nil, err
		}
		offset = entry.End()
	}

	err = WriteDirectory(ctx, dir, entries)
	if err != nil {
		return nil, err
	}
	return entries, nil
}

func copyFile(w io.Writer, file File) (int64, error) {
	fd, err := file.Open()
	if err != nil {
		return 0, err
	}
	defer fd.Close()

	return io.Copy(w, fd)
}

// PackDir packs the regular files of src_dir, sorted by name, into a
// new .dir/.img pair. Both files are published atomically.
func PackDir(ctx context.Context, src_dir, dir_path, img_path string) ([]Entry, error) {
	children, err := os.ReadDir(src_dir)
	if err != nil {
		return nil, err
	}

	var files []File
	for _, child := range children {
		if !child.Type().IsRegular() {
			continue
		}
		files = append(files, FileFromPath(
			child.Name(), filepath.Join(src_dir, child.Name())))
	}

	var entries []Entry
	dir := &bytes.Buffer{}
	err = vcodec.PublishFile(img_path, func(w io.Writer) error {
		entries, err = Pack(ctx, files, dir, w)
		return err
	})
	if err != nil {
		return nil, err
	}

	err = vcodec.PublishFile(dir_path, func(w io.Writer) error {
		_, err := w.Write(dir.Bytes())
		return err
	})
	return entries, err
}

// Name of the archive a .dir or .img path belongs to.
func ArchiveName(path string) string {
	base := filepath.Base(path)
	return strings.TrimSuffix(base, filepath.Ext(base))
}

// UnpackArchive unpacks one .dir/.img pair into
// dest_root/<archive name>/.
func UnpackArchive(ctx context.Context, dir_path, img_path, dest_root string) (
	[]Entry, error) {
	dir_data, err := os.ReadFile(dir_path)
	if err != nil {
		return nil, err
	}

	err = Inspect(bytes.NewReader(dir_data))
	if err != nil {
		return nil, err
	}

	entries, err := ReadDirectory(ctx, bytes.NewReader(dir_data))
	if err != nil {
		return nil, err
	}

	img, err := os.Open(img_path)
	if err != nil {
		return nil, err
	}
	defer img.Close()

	stat, err := img.Stat()
	if err != nil {
		return nil, err
	}

	dest := filepath.Join(dest_root, ArchiveName(dir_path))
	return entries, Unpack(ctx, entries, img, stat.Size(), dest)
}

// The outcome of one archive of UnpackAll.
type Result struct {
	Archive string
	Entries []Entry
	Err     error
}

// Find the .dir/.img pairs in a folder, sorted by name.
func FindArchives(folder string) ([][2]string, error) {
	children, err := os.ReadDir(folder)
	if err != nil {
		return nil, err
	}

	images := make(map[string]string)
	for _, child := range children {
		if child.Type().IsRegular() &&
			strings.EqualFold(filepath.Ext(child.Name()), ".img") {
			images[strings.ToLower(ArchiveName(child.Name()))] = child.Name()
		}
	}

	var result [][2]string
	for _, child := range children {
		if !child.Type().IsRegular() ||
			!strings.EqualFold(filepath.Ext(child.Name()), ".dir") {
			continue
		}

		img, pres := images[strings.ToLower(ArchiveName(child.Name()))]
		if !pres {
			continue
		}
		result = append(result, [2]string{
			filepath.Join(folder, child.Name()), filepath.Join(folder, img)})
	}

	sort.Slice(result, func(i, j int) bool {
		return result[i][0] < result[j][0]
	})
	return result, nil
}

// UnpackAll unpacks every archive in folder using jobs parallel
// workers. A failed archive does not stop the others.
func UnpackAll(ctx context.Context, folder, dest_root string, jobs int) ([]*Result, error) {
	pairs, err := FindArchives(folder)
	if err != nil {
		return nil, err
	}

	if jobs <= 0 {
		jobs = 1
	}

	results := make([]*Result, len(pairs))
	work := make(chan int)

	wg := &sync.WaitGroup{}
	for i := 0; i < jobs; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()

			for idx := range work {
				result := &Result{Archive: pairs[idx][0]}
				result.Entries, result.Err = UnpackArchive(
					ctx, pairs[idx][0], pairs[idx][1], dest_root)
				results[idx] = result
			}
		}()
	}

	for idx := range pairs {
		work <- idx
	}
	close(work)
	wg.Wait()

	return results, ctx.Err()
}
