package spells

import (
	"bytes"
	"context"
	"errors"
	"testing"

	"github.com/Velocidex/ordereddict"
	"github.com/sebdah/goldie"
	assert "github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"www.velocidex.com/golang/vcodec"
)

var (
	treeSchema = `
name: tree
extensions: [".tree"]
structs:
  - [Node, [
      [name, String, {length: 4}],
      [parent, Ref, {type: int8, target: Node}],
      [num_children, uint8],
      [children, Node, {count: num_children}]]]
layout:
  - [nodes, Node, {until_eof: true, index: true}]
`

	// The child of the first node refers back to its own ancestor.
	treeSample = []byte{
		'r', 'o', 'o', 't', 0xFF, 0x01,
		'k', 'i', 'd', 0x00, 0x00, 0x00,
		'l', 'e', 'a', 'f', 0x00, 0x00,
	}
)

func readTree(t *testing.T, data []byte) *vcodec.DataRoot {
	model, err := vcodec.LoadSchema([]byte(treeSchema))
	require.NoError(t, err)

	root, err := vcodec.ReadData(context.Background(), model,
		bytes.NewReader(data), nil)
	require.NoError(t, err)
	return root
}

// Records the paths it visits and fails on the named nodes.
type recordingSpell struct {
	paths   []string
	fail_on string
	mutate  bool
}

func (self *recordingSpell) Name() string   { return "record" }
func (self *recordingSpell) ReadOnly() bool { return true }

func (self *recordingSpell) VisitNode(ctx *Context, node *vcodec.ObjectNode) (Action, error) {
	self.paths = append(self.paths, ctx.Path)

	name, _ := node.Get("name")
	if name == self.fail_on {
		return Continue, errors.New("failed")
	}

	if self.mutate {
		return Continue, node.Set("name", "zzzz")
	}
	return Continue, nil
}

func TestWalkOrder(t *testing.T) {
	root := readTree(t, treeSample)

	spell := &recordingSpell{}
	err := Walk(context.Background(), root, spell)
	require.NoError(t, err)

	assert.Equal(t, []string{
		"nodes[0]", "nodes[0].children[0]", "nodes[1]"}, spell.paths)
	assert.False(t, root.Dirty())
}

func TestWalkTerminates(t *testing.T) {
	root := readTree(t, treeSample)
	nodes := root.Nodes()

	// Make the first node own itself and the second node.
	require.NoError(t, nodes[0].Set("children",
		[]interface{}{nodes[0], nodes[1], nodes[0]}))
	require.NoError(t, nodes[1].Set("parent", nodes[1]))

	spell := &recordingSpell{}
	err := Walk(context.Background(), root, spell)
	require.NoError(t, err)

	assert.Equal(t, []string{"nodes[0]", "nodes[0].children[1]"}, spell.paths)
}

func TestSpellErrorSkipsSubtree(t *testing.T) {
	root := readTree(t, treeSample)

	spell := &recordingSpell{fail_on: "root"}
	err := Walk(context.Background(), root, spell)
	require.Error(t, err)

	var spell_error *SpellError
	require.True(t, errors.As(err, &spell_error))
	assert.Equal(t, "nodes[0]", spell_error.Path)
	assert.Equal(t, "record", spell_error.Spell)
	assert.Equal(t, "SpellError", Kind(err))

	// The siblings of the failed node are still visited.
	assert.Equal(t, []string{"nodes[0]", "nodes[1]"}, spell.paths)
}

func TestReadOnlyViolation(t *testing.T) {
	root := readTree(t, treeSample)

	err := Walk(context.Background(), root, &recordingSpell{mutate: true})
	require.Error(t, err)
	assert.True(t, errors.Is(err, ReadOnlyViolation))
}

func TestWalkCancelled(t *testing.T) {
	root := readTree(t, treeSample)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	spell := &recordingSpell{}
	err := Walk(ctx, root, spell)
	assert.True(t, errors.Is(err, context.Canceled))
	assert.Empty(t, spell.paths)
}

func TestIncludeExclude(t *testing.T) {
	root := readTree(t, treeSample)

	spell, err := NewSpell("count", nil)
	require.NoError(t, err)

	ctx := NewContext(context.Background(), root)
	ctx.Exclude = []string{"Node"}
	require.NoError(t, ctx.Walk(spell))
	assert.Equal(t, 0, spell.(*countSpell).Counts().Len())

	ctx.Exclude = nil
	ctx.Include = []string{"Node"}
	require.NoError(t, ctx.Walk(spell))

	count, _ := spell.(*countSpell).Counts().Get("Node")
	assert.Equal(t, 3, count)
}

func TestCheckRefs(t *testing.T) {
	root := readTree(t, treeSample)

	spell, err := NewSpell("check_refs", nil)
	require.NoError(t, err)
	require.NoError(t, Walk(context.Background(), root, spell))

	require.NoError(t, root.Nodes()[1].Set("parent", vcodec.Ref(5)))
	err = Walk(context.Background(), root, spell)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "dangling reference 5")
}

func TestCheckReadWrite(t *testing.T) {
	root := readTree(t, treeSample)

	spell, err := NewSpell("check_readwrite", nil)
	require.NoError(t, err)

	ctx := NewContext(context.Background(), root)
	ctx.Data = treeSample
	require.NoError(t, ctx.Walk(spell))

	// Pretend the file had different bytes.
	changed := append([]byte{}, treeSample...)
	changed[len(changed)-1] = 0x01
	ctx.Data = changed

	err = ctx.Walk(spell)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "written data differs")
	assert.Contains(t, err.Error(), "+++ written")
}

func TestSetField(t *testing.T) {
	root := readTree(t, treeSample)

	spell, err := NewSpell("set_field", ordereddict.NewDict().
		Set("type", "Node").
		Set("field", "name").
		Set("value", "upper(name)").
		Set("cond", "num_children == 0"))
	require.NoError(t, err)
	assert.False(t, spell.ReadOnly())

	require.NoError(t, Walk(context.Background(), root, spell))
	assert.True(t, root.Dirty())

	var names []interface{}
	for _, node := range root.Nodes() {
		name, _ := node.Get("name")
		names = append(names, name)
	}
	assert.Equal(t, []interface{}{"root", "LEAF"}, names)

	kid := root.Nodes()[0].Children()[0].Node
	name, _ := kid.Get("name")
	assert.Equal(t, "KID", name)
}

func TestSetFieldLiteral(t *testing.T) {
	options := func(literal bool) *ordereddict.Dict {
		return ordereddict.NewDict().
			Set("type", "Node").
			Set("field", "name").
			Set("value", "tip").
			Set("literal", literal).
			Set("cond", "num_children == 0")
	}

	// Without literal the value is an expression naming no field.
	spell, err := NewSpell("set_field", options(false))
	require.NoError(t, err)
	assert.Error(t, Walk(context.Background(), readTree(t, treeSample), spell))

	spell, err = NewSpell("set_field", options(true))
	require.NoError(t, err)

	root := readTree(t, treeSample)
	require.NoError(t, Walk(context.Background(), root, spell))

	name, _ := root.Nodes()[1].Get("name")
	assert.Equal(t, "tip", name)

	kid := root.Nodes()[0].Children()[0].Node
	name, _ = kid.Get("name")
	assert.Equal(t, "tip", name)
}

func TestDump(t *testing.T) {
	root := readTree(t, treeSample)

	spell, err := NewSpell("dump", nil)
	require.NoError(t, err)

	output := &bytes.Buffer{}
	ctx := NewContext(context.Background(), root)
	ctx.Output = output
	require.NoError(t, ctx.Walk(spell))

	goldie.Assert(t, "TestDump", output.Bytes())
}

func TestRegistry(t *testing.T) {
	var names []string
	for _, info := range Spells() {
		names = append(names, info.Name)
	}
	assert.Equal(t, []string{
		"check_nop", "check_read", "check_readwrite", "check_refs",
		"count", "dump", "set_field"}, names)

	_, err := NewSpell("no_such_spell", nil)
	assert.Error(t, err)

	_, err = NewSpell("dump", ordereddict.NewDict().Set("format", "xml"))
	assert.Error(t, err)

	_, err = NewSpell("check_nop", ordereddict.NewDict().Set("bogus", 1))
	assert.Error(t, err)

	// Options are checked when the spell is made.
	_, err = NewSpell("set_field", ordereddict.NewDict().Set("type", "Node"))
	assert.Error(t, err)
}
