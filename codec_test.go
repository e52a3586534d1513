package vcodec

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"testing"

	"github.com/Velocidex/ordereddict"
	"github.com/sebdah/goldie"
	assert "github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var (
	itemsSchema = `
name: items
structs:
  - [Struct, [
      [count, uint32],
      [items, int32, {count: count}]]]
  - [LambdaStruct, [
      [count, uint32],
      [items, int32, {count: "x => x.count"}]]]
`

	itemsSample = []byte{
		0x03, 0x00, 0x00, 0x00,
		0x0A, 0x00, 0x00, 0x00,
		0x0B, 0x00, 0x00, 0x00,
		0x0C, 0x00, 0x00, 0x00,
	}

	exampleSchema = `
name: example
extensions: [".ex"]
parameters:
  version: 2
enums:
  - [Kind, uint8, {mesh: 1, light: 2}]
bitstructs:
  - [Flags, uint16be, [[visible, 1, bool], [mode, 3], [level, 12]], {bit_order: msb}]
structs:
  - [Header, [
      [magic, String, {length: 4}],
      [count, uint16],
      [flags, Flags]]]
  - [Block, "", [
      [kind, Kind],
      [lo, uint8, {bits: 3}],
      [hi, uint8, {bits: 5}],
      [extra, uint16, {cond: "version >= 2"}],
      [name, String, {length: 8}],
      [parent, Ref, {type: int8, target: Block}]]]
layout:
  - [header, Header]
  - [blocks, Block, {count: "header.count", index: true}]
`

	exampleSample = []byte{
		// Header
		'V', 'C', 'D', 'C', 0x02, 0x00, 0xD1, 0x23,

		// Block 0: name has junk after the terminator
		0x01, 0x8D, 0x02, 0x01,
		'r', 'o', 'o', 't', 0x00, 0xAA, 0xBB, 0x00,
		0xFF,

		// Block 1: unknown kind
		0x07, 0xF8, 0x04, 0x03,
		'l', 'e', 'a', 'f', 0x00, 0x00, 0x00, 0x00,
		0x00,
	}
)

func mustLoad(t *testing.T, schema string) *TypeModel {
	model, err := LoadSchema([]byte(schema))
	require.NoError(t, err)
	return model
}

func TestCountedArray(t *testing.T) {
	model := mustLoad(t, itemsSchema)
	ctx := context.Background()

	for _, type_name := range []string{"Struct", "LambdaStruct"} {
		node, err := Read(ctx, model, type_name, bytes.NewReader(itemsSample), nil)
		require.NoError(t, err)

		count, _ := node.Get("count")
		assert.Equal(t, uint64(3), count)

		items, _ := node.Get("items")
		assert.Equal(t, []interface{}{int64(10), int64(11), int64(12)}, items)
		assert.Equal(t, []string{"count", "items"}, node.Keys())

		buf := &bytes.Buffer{}
		err = Write(ctx, node, buf)
		require.NoError(t, err)
		assert.Equal(t, itemsSample, buf.Bytes())
	}
}

func TestDataRoot(t *testing.T) {
	model := mustLoad(t, exampleSchema)
	ctx := context.Background()

	assert.True(t, model.Matches("foo.EX"))
	assert.False(t, model.Matches("foo.dat"))

	root, err := ReadData(ctx, model, bytes.NewReader(exampleSample), nil)
	require.NoError(t, err)
	assert.False(t, root.Dirty())

	// Both blocks are indexed, the header is not.
	assert.Equal(t, 2, root.IndexLen())
	blocks, _ := root.Entry("blocks")
	assert.Equal(t, 1, blocks.Nodes[1].Index())

	refs := blocks.Nodes[1].Refs()
	require.Equal(t, 1, len(refs))
	assert.Equal(t, blocks.Nodes[0], refs[0].Target)

	refs = blocks.Nodes[0].Refs()
	require.Equal(t, 1, len(refs))
	assert.Nil(t, refs[0].Target)

	serialized, err := json.MarshalIndent(root, "", " ")
	assert.NoError(t, err)
	goldie.Assert(t, "TestDataRoot", serialized)

	// Unmodified trees write back byte for byte.
	buf := &bytes.Buffer{}
	err = WriteData(ctx, root, buf)
	require.NoError(t, err)
	assert.Equal(t, exampleSample, buf.Bytes())

	// Changing a string drops the bytes after its terminator.
	require.NoError(t, blocks.Nodes[0].Set("name", "ab"))
	assert.True(t, root.Dirty())

	buf = &bytes.Buffer{}
	err = WriteData(ctx, root, buf)
	require.NoError(t, err)
	assert.Equal(t, []byte{'a', 'b', 0, 0, 0, 0, 0, 0}, buf.Bytes()[12:20])

	// The rest is unchanged.
	assert.Equal(t, exampleSample[20:], buf.Bytes()[20:])
}

func TestConditionalFields(t *testing.T) {
	model := mustLoad(t, `
parameters:
  version: 1
structs:
  - [Rec, [
      [a, uint8],
      [b, uint8, {cond: "version >= 2"}],
      [c, uint8, {cond: "x => x.a = 1"}]]]
`)
	ctx := context.Background()

	node, err := Read(ctx, model, "Rec", bytes.NewReader([]byte{1, 2}), nil)
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "c"}, node.Keys())
	assert.False(t, node.Has("b"))

	c, _ := node.Get("c")
	assert.Equal(t, uint64(2), c)

	// Parameters given to the read override the schema defaults.
	node2, err := Read(ctx, model, "Rec", bytes.NewReader([]byte{1, 2, 3}),
		&Options{Parameters: ordereddict.NewDict().Set("version", 2)})
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b", "c"}, node2.Keys())

	// A value on an absent field is not written.
	require.NoError(t, node.Set("b", 9))
	buf := &bytes.Buffer{}
	require.NoError(t, Write(ctx, node, buf))
	assert.Equal(t, []byte{1, 2}, buf.Bytes())

	// When a is not 1 neither b nor c are present.
	node3, err := Read(ctx, model, "Rec", bytes.NewReader([]byte{5}), nil)
	require.NoError(t, err)
	assert.Equal(t, []string{"a"}, node3.Keys())
}

func TestBitfieldPacking(t *testing.T) {
	model := mustLoad(t, `
structs:
  - [Packed, [
      [a, uint8, {bits: 3}],
      [b, int8, {bits: 5}],
      [c, uint16, {bits: 9}],
      [tail, uint8]]]
`)
	ctx := context.Background()

	spec, _ := model.Struct("Packed")
	field, _ := spec.Field("a")
	assert.Equal(t, 4, field.group.storage.Size())

	for a := 0; a < 8; a++ {
		for b := -16; b < 16; b++ {
			for _, c := range []int{0, 1, 256, 511} {
				root := NewDataRoot(model, nil)
				node, err := root.NewNode("Packed")
				require.NoError(t, err)

				require.NoError(t, node.Set("a", a))
				require.NoError(t, node.Set("b", b))
				require.NoError(t, node.Set("c", c))
				require.NoError(t, node.Set("tail", 0xAA))

				buf := &bytes.Buffer{}
				require.NoError(t, Write(ctx, node, buf))
				require.Equal(t, 5, buf.Len())

				read, err := Read(ctx, model, "Packed", bytes.NewReader(buf.Bytes()), nil)
				require.NoError(t, err)

				value, _ := read.Get("a")
				assert.Equal(t, uint64(a), value)
				value, _ = read.Get("b")
				assert.Equal(t, int64(b), value)
				value, _ = read.Get("c")
				assert.Equal(t, uint64(c), value)
			}
		}
	}

	// First member in the lowest bits.
	root := NewDataRoot(model, nil)
	node, _ := root.NewNode("Packed")
	node.Set("a", 5)
	node.Set("b", -1)
	node.Set("c", 256)
	node.Set("tail", 0)

	buf := &bytes.Buffer{}
	require.NoError(t, Write(ctx, node, buf))
	assert.Equal(t, []byte{0xFD, 0x00, 0x01, 0x00, 0x00}, buf.Bytes())

	// Values must fit their width.
	assert.Error(t, node.Set("a", 8))
	assert.Error(t, node.Set("b", 16))
}

func TestStreamErrors(t *testing.T) {
	model := mustLoad(t, itemsSchema+`
  - [Signed, [
      [n, int32],
      [items, uint8, {count: n}]]]
`)
	ctx := context.Background()

	_, err := Read(ctx, model, "Struct", bytes.NewReader(itemsSample[:10]), nil)
	var truncated *TruncatedStreamError
	require.True(t, errors.As(err, &truncated))
	assert.Equal(t, int64(8), truncated.Offset)
	assert.Equal(t, "Struct.items[1]", truncated.Path)
	assert.Equal(t, 4, truncated.Need)
	assert.Equal(t, 2, truncated.Have)
	assert.Equal(t, "TruncatedStreamError", Kind(err))

	_, err = Read(ctx, model, "Signed",
		bytes.NewReader([]byte{0xFF, 0xFF, 0xFF, 0xFF}), nil)
	var size_error *InvalidSizeError
	require.True(t, errors.As(err, &size_error))
	assert.Equal(t, int64(-1), size_error.Size)
	assert.Equal(t, "InvalidSizeError", Kind(err))

	// An array which disagrees with its count does not write.
	node, err := Read(ctx, model, "Struct", bytes.NewReader(itemsSample), nil)
	require.NoError(t, err)
	require.NoError(t, node.Set("items", []interface{}{1, 2}))

	err = Write(ctx, node, &bytes.Buffer{})
	assert.True(t, errors.As(err, &size_error))

	// Writing does not change the node.
	items, _ := node.Get("items")
	assert.Equal(t, []interface{}{int64(1), int64(2)}, items)

	// Values which do not fit the field type.
	assert.Error(t, node.Set("count", -1))
	assert.Error(t, node.Set("items", []interface{}{"hello"}))
	assert.Error(t, node.Set("nosuchfield", 1))
}

func TestCancellation(t *testing.T) {
	model := mustLoad(t, itemsSchema)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := Read(ctx, model, "Struct", bytes.NewReader(itemsSample), nil)
	assert.True(t, errors.Is(err, context.Canceled))
}

func TestSchemaErrors(t *testing.T) {
	for name, schema := range map[string]string{
		"undefined type": `
structs:
  - [A, [[a, Missing]]]`,
		"undefined parent": `
structs:
  - [A, Missing, [[a, uint8]]]`,
		"inheritance cycle": `
structs:
  - [A, B, [[a, uint8]]]
  - [B, A, [[b, uint8]]]`,
		"duplicate through parent": `
structs:
  - [P, [[a, uint8]]]
  - [C, P, [[a, uint8]]]`,
		"duplicate field": `
structs:
  - [A, [[a, uint8], [a, uint16]]]`,
		"duplicate type": `
structs:
  - [A, [[a, uint8]]]
  - [A, [[b, uint8]]]`,
		"bits with count": `
structs:
  - [A, [[a, uint8, {bits: 3, count: 2}]]]`,
		"bits too wide": `
structs:
  - [A, [[a, uint8, {bits: 65}]]]`,
		"group too wide": `
structs:
  - [A, [[a, uint64, {bits: 40}], [b, uint64, {bits: 40}]]]`,
		"bad lambda": `
structs:
  - [A, [[a, uint8], [b, uint8, {cond: "x => ("}]]]`,
		"bad expression": `
structs:
  - [A, [[a, uint8], [b, uint8, {count: "a +"}]]]`,
		"unknown option": `
structs:
  - [A, [[a, String, {colour: red}]]]`,
		"undefined ref target": `
structs:
  - [A, [[a, Ref, {target: Missing}]]]`,
		"undefined layout type": `
structs:
  - [A, [[a, uint8]]]
layout:
  - [a, Missing]`,
		"until_eof not last": `
structs:
  - [A, [[a, uint8]]]
layout:
  - [a, A, {until_eof: true}]
  - [b, A]`,
		"bad enum default": `
enums:
  - [Kind, uint8, {mesh: 1}]
structs:
  - [A, [[a, Kind, {default: car}]]]`,
	} {
		_, err := LoadSchema([]byte(schema))
		var schema_error *SchemaError
		assert.True(t, errors.As(err, &schema_error), "%v: %v", name, err)
		assert.Equal(t, "SchemaError", Kind(err), name)
	}
}

func TestInheritance(t *testing.T) {
	model := mustLoad(t, `
structs:
  - [Derived, Base, [[size, uint16]]]
  - [Base, [[kind, uint8]]]
`)
	spec, pres := model.Struct("Derived")
	require.True(t, pres)
	assert.True(t, spec.IsA("Base"))
	assert.Equal(t, "Base", spec.Parent().Name())

	var names []string
	for _, field := range spec.Fields() {
		names = append(names, field.Name)
	}
	assert.Equal(t, []string{"kind", "size"}, names)

	node, err := Read(context.Background(), model, "Derived",
		bytes.NewReader([]byte{1, 2, 0}), nil)
	require.NoError(t, err)
	assert.Equal(t, `{"kind":1,"size":2}`, string(mustJSON(t, node)))
}

func TestStrings(t *testing.T) {
	model := mustLoad(t, `
structs:
  - [Strings, [
      [p, String, {length_type: uint8}],
      [w, String, {length: 6, encoding: utf16}],
      [z, String],
      [raw, String, {length: 2, byte_string: true}],
      [v, uleb128],
      [s, sleb128]]]
`)
	sample := []byte{
		0x03, 'a', 'b', 'c',
		'h', 0x00, 'i', 0x00, 0x00, 0x00,
		'x', 'y', 0x00,
		0x01, 0x02,
		0xE5, 0x8E, 0x26,
		0x7F,
	}
	ctx := context.Background()

	node, err := Read(ctx, model, "Strings", bytes.NewReader(sample), nil)
	require.NoError(t, err)

	for name, expected := range map[string]interface{}{
		"p":   "abc",
		"w":   "hi",
		"z":   "xy",
		"raw": []byte{1, 2},
		"v":   uint64(624485),
		"s":   int64(-1),
	} {
		value, _ := node.Get(name)
		assert.Equal(t, expected, value, name)
	}

	buf := &bytes.Buffer{}
	require.NoError(t, Write(ctx, node, buf))
	assert.Equal(t, sample, buf.Bytes())

	// Short input is an error.
	_, err = Read(ctx, model, "Strings", bytes.NewReader([]byte{0, 0, 0}), nil)
	assert.Error(t, err)
}

func TestExpressions(t *testing.T) {
	scope := MakeScope()
	ctx := &EvalContext{
		Ctx:        context.Background(),
		Scope:      scope,
		Parameters: ordereddict.NewDict().Set("version", 1),
	}
	env := ordereddict.NewDict().
		Set("count", uint64(3)).
		Set("flags", uint64(5))

	for expression, expected := range map[string]int64{
		"count * 4 + version":     13,
		"x => x.count * 4":        12,
		"bitand(flags, 3)":        1,
		"0x10":                    16,
		"count > 2 ? count : 100": 3,
	} {
		compiled, err := CompileExpression(expression)
		require.NoError(t, err, expression)

		// Expressions are pure functions of their inputs.
		first, err := EvalInt64(compiled, ctx, env)
		require.NoError(t, err, expression)
		second, err := EvalInt64(compiled, ctx, env)
		require.NoError(t, err, expression)

		assert.Equal(t, expected, first, expression)
		assert.Equal(t, first, second, expression)
	}

	// Siblings shadow parameters.
	compiled, _ := CompileExpression("version")
	value, err := EvalInt64(compiled, ctx, ordereddict.NewDict().Set("version", 7))
	require.NoError(t, err)
	assert.Equal(t, int64(7), value)

	present, err := EvalBool(mustCompile(t, "version >= 2"), ctx, env)
	require.NoError(t, err)
	assert.False(t, present)
}

func TestWriteFile(t *testing.T) {
	model := mustLoad(t, itemsSchema)
	ctx := context.Background()

	dir := t.TempDir()
	path := filepath.Join(dir, "out.bin")
	require.NoError(t, os.WriteFile(path, []byte("original"), 0644))

	node, err := Read(ctx, model, "Struct", bytes.NewReader(itemsSample), nil)
	require.NoError(t, err)
	require.NoError(t, node.Set("items", []interface{}{1}))

	// A failed write leaves the destination alone.
	assert.Error(t, WriteFile(ctx, node.Root(), path))
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "original", string(data))

	files, err := os.ReadDir(dir)
	require.NoError(t, err)
	assert.Equal(t, 1, len(files))

	require.NoError(t, node.Set("items", []interface{}{10, 11, 12}))
	require.NoError(t, WriteFile(ctx, node.Root(), path))
	data, err = os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, itemsSample, data)
}

func TestMissingFieldsUseDefaults(t *testing.T) {
	model := mustLoad(t, `
enums:
  - [Kind, uint8, {mesh: 1, light: 2}]
structs:
  - [Rec, [
      [kind, Kind, {default: light}],
      [n, uint8, {default: 2}],
      [items, uint16, {count: n}],
      [name, String, {length: 3}]]]
`)
	root := NewDataRoot(model, nil)
	node, err := root.NewNode("Rec")
	require.NoError(t, err)

	buf := &bytes.Buffer{}
	require.NoError(t, Write(context.Background(), node, buf))
	assert.Equal(t, []byte{2, 2, 0, 0, 0, 0, 0, 0, 0}, buf.Bytes())

	// Unknown enum names are rejected, unknown values are kept.
	assert.Error(t, node.Set("kind", "car"))
	require.NoError(t, node.Set("kind", 9))
	kind, _ := node.Get("kind")
	assert.Equal(t, uint64(9), kind)

	require.NoError(t, node.Set("kind", 1))
	kind, _ = node.Get("kind")
	assert.Equal(t, "mesh", kind)
}

// Counts from a division must be whole numbers.
func TestFractionalCount(t *testing.T) {
	model := mustLoad(t, `
structs:
  - [Quarters, [
      [size, uint32],
      [items, uint8, {count: "size / 4"}]]]
  - [Label, [
      [size, uint32],
      [label, String, {length: "size / 4"}]]]
`)
	ctx := context.Background()

	sample := []byte{0x0A, 0x00, 0x00, 0x00, 1, 2, 3, 4, 5, 6, 7, 8, 9, 10}
	for _, type_name := range []string{"Quarters", "Label"} {
		_, err := Read(ctx, model, type_name, bytes.NewReader(sample), nil)
		var expression_error *ExpressionError
		require.True(t, errors.As(err, &expression_error), type_name)
		assert.Equal(t, "ExpressionError", Kind(err), type_name)
	}

	sample = []byte{0x08, 0x00, 0x00, 0x00, 1, 2}
	node, err := Read(ctx, model, "Quarters", bytes.NewReader(sample), nil)
	require.NoError(t, err)
	items, _ := node.Get("items")
	assert.Equal(t, []interface{}{uint64(1), uint64(2)}, items)

	buf := &bytes.Buffer{}
	require.NoError(t, Write(ctx, node, buf))
	assert.Equal(t, sample, buf.Bytes())

	for _, value := range []interface{}{2.5, float32(0.5), math.NaN(), math.Inf(1), 1e300} {
		_, err := float_to_int64(toFloat(value))
		assert.Error(t, err, fmt.Sprintf("%v", value))
	}
}

func toFloat(value interface{}) float64 {
	f, _ := to_float64(value)
	return f
}

// Signaling NaNs keep their payload.
func TestFloatBits(t *testing.T) {
	model := mustLoad(t, `
structs:
  - [Floats, [
      [f, float32],
      [d, float64]]]
`)
	sample := []byte{
		0x01, 0x00, 0x80, 0x7F,
		0x01, 0x00, 0x00, 0x00, 0x00, 0x00, 0xF0, 0x7F,
	}
	ctx := context.Background()

	node, err := Read(ctx, model, "Floats", bytes.NewReader(sample), nil)
	require.NoError(t, err)

	f, _ := node.Get("f")
	assert.IsType(t, float32(0), f)

	buf := &bytes.Buffer{}
	require.NoError(t, Write(ctx, node, buf))
	assert.Equal(t, sample, buf.Bytes())

	require.NoError(t, node.Set("f", 1.5))
	f, _ = node.Get("f")
	assert.Equal(t, float32(1.5), f)

	buf.Reset()
	require.NoError(t, Write(ctx, node, buf))
	assert.Equal(t, []byte{0x00, 0x00, 0xC0, 0x3F}, buf.Bytes()[:4])
}

// Strings which do not decode cleanly write back their original bytes
// until they are changed.
func TestUndecodableStrings(t *testing.T) {
	model := mustLoad(t, `
structs:
  - [Wide, [
      [w, String, {length: 4, encoding: utf16}],
      [p, String, {length_type: uint8, encoding: utf16}],
      [names, String, {count: 2, length: 2, encoding: utf16be}]]]
`)
	sample := []byte{
		0x00, 0xD8, 0x41, 0x00,
		0x02, 0x00, 0xDC,
		0x00, 0x41, 0xD8, 0x00,
	}
	ctx := context.Background()

	node, err := Read(ctx, model, "Wide", bytes.NewReader(sample), nil)
	require.NoError(t, err)

	w, _ := node.Get("w")
	assert.Equal(t, "\uFFFDA", w)

	names, _ := node.Get("names")
	assert.Equal(t, []interface{}{"A", "\uFFFD"}, names)

	buf := &bytes.Buffer{}
	require.NoError(t, Write(ctx, node, buf))
	assert.Equal(t, sample, buf.Bytes())

	// A changed field is encoded from its value.
	require.NoError(t, node.Set("w", "hi"))
	buf.Reset()
	require.NoError(t, Write(ctx, node, buf))
	assert.Equal(t, []byte{'h', 0x00, 'i', 0x00}, buf.Bytes()[:4])
	assert.Equal(t, sample[4:], buf.Bytes()[4:])
}

// The codec projects every array for expressions once per read.
func TestExpressionProjections(t *testing.T) {
	model := mustLoad(t, itemsSchema)
	eval := newCodecEvalContext(context.Background(), NewDataRoot(model, nil))

	items := []interface{}{uint64(1), uint64(2), uint64(3)}
	env := ordereddict.NewDict().
		Set("count", uint64(3)).
		Set("items", items)

	compiled := mustCompile(t, "len(items) + count")
	for i := 0; i < 3; i++ {
		value, err := EvalInt64(compiled, eval, env)
		require.NoError(t, err)
		assert.Equal(t, int64(6), value)
	}
	assert.Equal(t, 1, len(eval.projections))

	// A different array is projected on its own.
	env.Set("items", []interface{}{uint64(1)})
	value, err := EvalInt64(compiled, eval, env)
	require.NoError(t, err)
	assert.Equal(t, int64(4), value)
	assert.Equal(t, 2, len(eval.projections))

	// Contexts outside the codec do not cache.
	uncached := &EvalContext{Ctx: context.Background()}
	_, err = EvalInt64(compiled, uncached, env)
	require.NoError(t, err)
	assert.Nil(t, uncached.projections)
}

func mustCompile(t *testing.T, expression string) Expression {
	result, err := CompileExpression(expression)
	require.NoError(t, err)
	return result
}

func mustJSON(t *testing.T, v interface{}) []byte {
	result, err := json.Marshal(v)
	require.NoError(t, err)
	return result
}
