package spells

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/Velocidex/ordereddict"
	assert "github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"www.velocidex.com/golang/vcodec"
)

func writeInputs(t *testing.T) (string, *vcodec.TypeModel) {
	model, err := vcodec.LoadSchema([]byte(treeSchema))
	require.NoError(t, err)

	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "a.tree"), treeSample, 0600))

	// Truncated in the middle of the child node.
	require.NoError(t, os.WriteFile(filepath.Join(dir, "b.tree"), treeSample[:9], 0600))

	// Not a tree file so it is not picked up from the directory.
	require.NoError(t, os.WriteFile(filepath.Join(dir, "c.txt"), []byte("hello"), 0600))

	return dir, model
}

func renameSpell(t *testing.T) Spell {
	spell, err := NewSpell("set_field", ordereddict.NewDict().
		Set("type", "Node").
		Set("field", "name").
		Set("value", "upper(name)"))
	require.NoError(t, err)
	return spell
}

func TestBatch(t *testing.T) {
	dir, model := writeInputs(t)
	out_dir := filepath.Join(t.TempDir(), "out")

	batch, err := NewBatch(model, ordereddict.NewDict().
		Set("target_path", out_dir).
		Set("prefix", "new_").
		Set("jobs", 2), renameSpell(t))
	require.NoError(t, err)
	batch.Output = &bytes.Buffer{}

	results, err := batch.Run(context.Background(), []string{dir})
	require.NoError(t, err)
	require.Equal(t, 2, len(results))

	// Results are in file order whatever worker processed them.
	assert.Equal(t, filepath.Join(dir, "a.tree"), results[0].Path)
	assert.NoError(t, results[0].Err)
	assert.Equal(t, filepath.Join(out_dir, "new_a.tree"), results[0].Output)

	assert.Equal(t, filepath.Join(dir, "b.tree"), results[1].Path)
	assert.Error(t, results[1].Err)
	assert.Equal(t, "TruncatedStreamError", results[1].Kind)
	assert.Equal(t, "", results[1].Output)

	// The input is untouched.
	data, err := os.ReadFile(filepath.Join(dir, "a.tree"))
	require.NoError(t, err)
	assert.Equal(t, treeSample, data)

	root, err := vcodec.ReadFile(context.Background(), model,
		filepath.Join(out_dir, "new_a.tree"), nil)
	require.NoError(t, err)

	var names []interface{}
	for _, node := range root.Nodes() {
		name, _ := node.Get("name")
		names = append(names, name)
	}
	assert.Equal(t, []interface{}{"ROOT", "LEAF"}, names)

	// Nothing but the one changed file was written.
	entries, err := os.ReadDir(out_dir)
	require.NoError(t, err)
	assert.Equal(t, 1, len(entries))
}

// Files keep their layout under the target path.
func TestBatchTargetLayout(t *testing.T) {
	model, err := vcodec.LoadSchema([]byte(treeSchema))
	require.NoError(t, err)

	dir := t.TempDir()
	for _, sub := range []string{"a", "b"} {
		require.NoError(t, os.MkdirAll(filepath.Join(dir, sub), 0700))
		require.NoError(t, os.WriteFile(
			filepath.Join(dir, sub, "x.tree"), treeSample, 0600))
	}
	out_dir := filepath.Join(t.TempDir(), "out")

	batch, err := NewBatch(model, ordereddict.NewDict().
		Set("target_path", out_dir), renameSpell(t))
	require.NoError(t, err)

	results, err := batch.Run(context.Background(), []string{dir})
	require.NoError(t, err)
	require.Equal(t, 2, len(results))

	for idx, sub := range []string{"a", "b"} {
		expected := filepath.Join(out_dir, sub, "x.tree")
		assert.NoError(t, results[idx].Err)
		assert.Equal(t, expected, results[idx].Output)

		data, err := os.ReadFile(expected)
		require.NoError(t, err)
		assert.Equal(t, []byte("ROOT"), data[:4])
	}

	// Files named on their own would both land in the target.
	results, err = batch.Run(context.Background(), []string{
		filepath.Join(dir, "a", "x.tree"), filepath.Join(dir, "b", "x.tree")})
	assert.Error(t, err)
	assert.Equal(t, 0, len(results))

	// Naming a file twice processes it once.
	files, err := batch.Files([]string{dir, filepath.Join(dir, "a", "x.tree")})
	require.NoError(t, err)
	assert.Equal(t, []string{
		filepath.Join(dir, "a", "x.tree"), filepath.Join(dir, "b", "x.tree")}, files)
}

func TestBatchDryRun(t *testing.T) {
	dir, model := writeInputs(t)
	input := filepath.Join(dir, "a.tree")

	batch, err := NewBatch(model, ordereddict.NewDict().
		Set("dry_run", true), renameSpell(t))
	require.NoError(t, err)

	results, err := batch.Run(context.Background(), []string{input})
	require.NoError(t, err)
	require.Equal(t, 1, len(results))
	assert.NoError(t, results[0].Err)
	assert.Equal(t, "", results[0].Output)

	data, err := os.ReadFile(input)
	require.NoError(t, err)
	assert.Equal(t, treeSample, data)
}

func TestBatchInPlace(t *testing.T) {
	dir, model := writeInputs(t)
	input := filepath.Join(dir, "a.tree")

	batch, err := NewBatch(model, nil, renameSpell(t))
	require.NoError(t, err)

	results, err := batch.Run(context.Background(), []string{input})
	require.NoError(t, err)
	assert.Equal(t, input, results[0].Output)

	data, err := os.ReadFile(input)
	require.NoError(t, err)
	assert.Equal(t, []byte("ROOT"), data[:4])
	assert.Equal(t, len(treeSample), len(data))
}

// Read only spells never cause a write.
func TestBatchReadOnly(t *testing.T) {
	dir, model := writeInputs(t)

	check_read, err := NewSpell("check_read", nil)
	require.NoError(t, err)

	count, err := NewSpell("count", nil)
	require.NoError(t, err)

	batch, err := NewBatch(model, nil, check_read, count)
	require.NoError(t, err)

	results, err := batch.Run(context.Background(), []string{dir})
	require.NoError(t, err)
	for _, result := range results {
		assert.Equal(t, "", result.Output)
	}

	report := &bytes.Buffer{}
	require.NoError(t, batch.Report(report))
	assert.Contains(t, report.String(), "1 files read")
	assert.Regexp(t, `Node +3`, report.String())
}

func TestBatchStopOnError(t *testing.T) {
	dir, model := writeInputs(t)

	batch, err := NewBatch(model, ordereddict.NewDict().
		Set("stop_on_error", true), renameSpell(t))
	require.NoError(t, err)

	// b.tree fails first so a.tree is never processed.
	results, err := batch.Run(context.Background(), []string{
		filepath.Join(dir, "b.tree"), filepath.Join(dir, "a.tree")})
	require.Error(t, err)
	assert.Equal(t, "TruncatedStreamError", vcodec.Kind(err))

	require.Equal(t, 2, len(results))
	assert.Error(t, results[0].Err)
	assert.True(t, results[1].Skipped)

	data, err := os.ReadFile(filepath.Join(dir, "a.tree"))
	require.NoError(t, err)
	assert.Equal(t, treeSample, data)
}

func TestBatchOptions(t *testing.T) {
	model, err := vcodec.LoadSchema([]byte(treeSchema))
	require.NoError(t, err)

	_, err = NewBatch(model, ordereddict.NewDict().Set("include", "NoSuchType"))
	assert.Error(t, err)

	_, err = NewBatch(model, ordereddict.NewDict().Set("bogus", true))
	assert.Error(t, err)

	batch, err := NewBatch(model, ordereddict.NewDict().Set("include", "Node"))
	require.NoError(t, err)
	assert.Equal(t, []string{"Node"}, batch.Options().Include)
	assert.Equal(t, 1, batch.Options().Jobs)
}
