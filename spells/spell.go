// Package spells walks decoded data and applies spells to it: checks,
// statistics and bulk edits over many files at once.
package spells

import (
	"context"
	"errors"
	"fmt"
	"io"

	"www.velocidex.com/golang/vcodec"
)

// What the walker does after a node was visited.
type Action int

const (
	Continue Action = iota

	// Do not descend into the children of the visited node.
	SkipChildren
)

var (
	ReadOnlyViolation = errors.New("read only spell modified the data")
)

// A Spell is applied to every file of a batch. Spells implement one
// or more of the capability interfaces below.
type Spell interface {
	Name() string

	// Read only spells must not modify the data. The walker checks
	// this after every call.
	ReadOnly() bool
}

type NodeVisitor interface {
	VisitNode(ctx *Context, node *vcodec.ObjectNode) (Action, error)
}

// Return false to skip the whole file.
type DataInspector interface {
	InspectData(ctx *Context) bool
}

// Called once after all nodes of a file were visited.
type DataExiter interface {
	ExitData(ctx *Context) error
}

// Summarizes a batch.
type Reporter interface {
	Report(w io.Writer) error
}

// Context is what spells see of the file being processed.
type Context struct {
	Ctx  context.Context
	Root *vcodec.DataRoot

	// The input file. Empty for data which did not come from a file.
	Filename string

	// The bytes the root was decoded from, when known.
	Data []byte

	// Where spells print to.
	Output io.Writer

	// Path of the node being visited, e.g. blocks[2].children[0]
	Path string

	// Restrict visits to nodes of these struct types (and their
	// children types).
	Include []string
	Exclude []string

	errors Errors
}

func NewContext(ctx context.Context, root *vcodec.DataRoot) *Context {
	return &Context{
		Ctx:    ctx,
		Root:   root,
		Output: io.Discard,
	}
}

// Log through the root's scope.
func (self *Context) Log(format string, args ...interface{}) {
	self.Root.Scope().Log(format, args...)
}

func (self *Context) EvalContext() *vcodec.EvalContext {
	return &vcodec.EvalContext{
		Ctx:        self.Ctx,
		Scope:      self.Root.Scope(),
		Parameters: self.Root.Parameters(),
	}
}

// Should spells visit this node?
func (self *Context) wanted(node *vcodec.ObjectNode) bool {
	for _, name := range self.Exclude {
		if node.Spec().IsA(name) {
			return false
		}
	}

	if len(self.Include) == 0 {
		return true
	}

	for _, name := range self.Include {
		if node.Spec().IsA(name) {
			return true
		}
	}
	return false
}

// A SpellError is a failure of one spell on one node (or on the
// whole file when Path is empty).
type SpellError struct {
	Spell    string
	Filename string
	Path     string
	Err      error
}

func (self *SpellError) Error() string {
	location := self.Path
	if self.Filename != "" {
		location = self.Filename + ":" + self.Path
	}
	if location == "" {
		return fmt.Sprintf("spell %v: %v", self.Spell, self.Err)
	}
	return fmt.Sprintf("spell %v at %v: %v", self.Spell, location, self.Err)
}

func (self *SpellError) Unwrap() error {
	return self.Err
}

func (self *SpellError) Kind() string {
	return "SpellError"
}

// Name the kind of error for reports. Spell failures are reported as
// such even when they wrap a codec error.
func Kind(err error) string {
	var spell_error *SpellError
	if errors.As(err, &spell_error) {
		return spell_error.Kind()
	}
	return vcodec.Kind(err)
}
