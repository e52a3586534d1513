package archive

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"testing"

	assert "github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"www.velocidex.com/golang/vcodec"
)

func sampleFiles() map[string][]byte {
	large := make([]byte, 5000)
	for i := range large {
		large[i] = byte(i)
	}

	return map[string][]byte{
		"a.txt":   []byte("hello"),
		"b.bin":   large,
		"empty":   {},
		"block.x": bytes.Repeat([]byte{0xAA}, BlockSize),
	}
}

func TestPackUnpack(t *testing.T) {
	ctx := context.Background()
	files := sampleFiles()
	names := []string{"a.txt", "b.bin", "empty", "block.x"}

	var to_pack []File
	for _, name := range names {
		to_pack = append(to_pack, FileFromBytes(name, files[name]))
	}

	dir := &bytes.Buffer{}
	data := &bytes.Buffer{}
	entries, err := Pack(ctx, to_pack, dir, data)
	require.NoError(t, err)

	assert.Equal(t, []Entry{
		{Name: "a.txt", Offset: 0, Size: 5},
		{Name: "b.bin", Offset: BlockSize, Size: 5000},
		{Name: "empty", Offset: 4 * BlockSize, Size: 0},
		{Name: "block.x", Offset: 4 * BlockSize, Size: BlockSize},
	}, entries)

	assert.Equal(t, 4*32, dir.Len())
	assert.Equal(t, 5*BlockSize, data.Len())

	// Padding is zero filled.
	assert.Equal(t, make([]byte, BlockSize-5), data.Bytes()[5:BlockSize])

	read, err := ReadDirectory(ctx, bytes.NewReader(dir.Bytes()))
	require.NoError(t, err)
	assert.Equal(t, entries, read)
	assert.NoError(t, Inspect(bytes.NewReader(dir.Bytes())))

	dest := t.TempDir()
	err = Unpack(ctx, read, bytes.NewReader(data.Bytes()), int64(data.Len()), dest)
	require.NoError(t, err)

	for _, name := range names {
		unpacked, err := os.ReadFile(filepath.Join(dest, name))
		require.NoError(t, err)
		assert.Equal(t, len(files[name]), len(unpacked), name)
		assert.True(t, bytes.Equal(files[name], unpacked), name)
	}
}

func TestMalformedDirectory(t *testing.T) {
	entries := []Entry{
		{Name: "A", Offset: 0, Size: 5},
		{Name: "B", Offset: 2048, Size: 3000},
	}
	data := make([]byte, 2048+3000-1)

	dest := filepath.Join(t.TempDir(), "out")
	err := Unpack(context.Background(), entries, bytes.NewReader(data),
		int64(len(data)), dest)
	require.Error(t, err)

	var malformed_error *MalformedDirectoryError
	require.True(t, errors.As(err, &malformed_error))
	assert.Equal(t, "B", malformed_error.Name)
	assert.Equal(t, "MalformedDirectoryError", vcodec.Kind(err))

	// Nothing was written, not even the destination.
	_, err = os.Stat(dest)
	assert.True(t, os.IsNotExist(err))
}

func TestValidate(t *testing.T) {
	for idx, testcase := range []struct {
		entries []Entry
		size    int64
		ok      bool
	}{
		{[]Entry{{"a", 0, 10}, {"b", 2048, 10}}, 4096, true},
		{[]Entry{{"a", 0, 10}, {"b", 2048, 10}}, 2058, true},
		{[]Entry{{"a", 0, 3000}, {"b", 2048, 10}}, 4096, false},
		{[]Entry{{"a", 0, 10}, {"b", 100, 10}}, 4096, false},
		{[]Entry{{"a", 0, 10}, {"a", 2048, 10}}, 4096, false},
		{[]Entry{{"a", 0, 10}, {"A", 2048, 10}}, 4096, false},
		{[]Entry{{"", 0, 10}}, 4096, false},
		{[]Entry{{"../x", 0, 10}}, 4096, false},
		{[]Entry{{"..", 0, 10}}, 4096, false},
		{[]Entry{{"a234567890123456789012345", 0, 10}}, 4096, false},
		{[]Entry{{"a", 0, 10}, {"b", 0, 0}, {"c", 2048, 5000}}, 8192, true},
		{[]Entry{{"a", 0, 5000}, {"b", 2048, 0}, {"c", 4096, 10}}, 8192, false},
	} {
		err := Validate(testcase.entries, testcase.size)
		if testcase.ok {
			assert.NoError(t, err, fmt.Sprintf("case %d", idx))
		} else {
			assert.Error(t, err, fmt.Sprintf("case %d", idx))
		}
	}
}

func TestInspect(t *testing.T) {
	assert.NoError(t, Inspect(bytes.NewReader(nil)))
	assert.Error(t, Inspect(bytes.NewReader(make([]byte, 10))))

	// First entry must start at block 0.
	record := make([]byte, 32)
	record[0] = 1
	assert.Error(t, Inspect(bytes.NewReader(record)))

	// Unterminated name.
	record = bytes.Repeat([]byte{'x'}, 32)
	copy(record, make([]byte, 8))
	assert.Error(t, Inspect(bytes.NewReader(record)))
}

func TestArchives(t *testing.T) {
	ctx := context.Background()
	src := t.TempDir()
	files := sampleFiles()
	for name, data := range files {
		require.NoError(t, os.WriteFile(filepath.Join(src, name), data, 0600))
	}

	archives := t.TempDir()
	entries, err := PackDir(ctx, src,
		filepath.Join(archives, "Test.dir"), filepath.Join(archives, "Test.img"))
	require.NoError(t, err)
	assert.Equal(t, len(files), len(entries))

	// A broken pair does not stop the others.
	require.NoError(t, os.WriteFile(filepath.Join(archives, "Broken.dir"),
		[]byte{0, 0, 0, 0, 1}, 0600))
	require.NoError(t, os.WriteFile(filepath.Join(archives, "Broken.img"), nil, 0600))

	// No image so not an archive.
	require.NoError(t, os.WriteFile(filepath.Join(archives, "Lonely.dir"), nil, 0600))

	dest := t.TempDir()
	results, err := UnpackAll(ctx, archives, dest, 2)
	require.NoError(t, err)
	require.Equal(t, 2, len(results))

	assert.Equal(t, filepath.Join(archives, "Broken.dir"), results[0].Archive)
	assert.Error(t, results[0].Err)

	assert.Equal(t, filepath.Join(archives, "Test.dir"), results[1].Archive)
	require.NoError(t, results[1].Err)

	for name, data := range files {
		unpacked, err := os.ReadFile(filepath.Join(dest, "Test", name))
		require.NoError(t, err)
		assert.True(t, bytes.Equal(data, unpacked), name)
	}
}
