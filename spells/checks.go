package spells

import (
	"bytes"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"sync"

	"github.com/Velocidex/ordereddict"
	"github.com/pmezard/go-difflib/difflib"
	"www.velocidex.com/golang/vcodec"
)

type nopSpell struct{}

func newNopSpell(options *ordereddict.Dict) (Spell, error) {
	return &nopSpell{}, vcodec.ParseOptions(options, &struct{}{})
}

func (self *nopSpell) Name() string   { return "check_nop" }
func (self *nopSpell) ReadOnly() bool { return true }

func (self *nopSpell) VisitNode(ctx *Context, node *vcodec.ObjectNode) (Action, error) {
	return Continue, nil
}

// Reading happens before spells are cast so reaching ExitData means
// the file decoded.
type readSpell struct {
	mu    sync.Mutex
	files int
}

func newReadSpell(options *ordereddict.Dict) (Spell, error) {
	return &readSpell{}, vcodec.ParseOptions(options, &struct{}{})
}

func (self *readSpell) Name() string   { return "check_read" }
func (self *readSpell) ReadOnly() bool { return true }

func (self *readSpell) ExitData(ctx *Context) error {
	self.mu.Lock()
	defer self.mu.Unlock()

	self.files++
	return nil
}

func (self *readSpell) Report(w io.Writer) error {
	self.mu.Lock()
	defer self.mu.Unlock()

	_, err := fmt.Fprintf(w, "%d files read\n", self.files)
	return err
}

// Encode the data again and compare with the bytes it was read from.
type readWriteSpell struct {
	options struct {
		Context int64 `vcodec:"field=context,doc=Lines of context in the hex diff"`
	}
}

func newReadWriteSpell(options *ordereddict.Dict) (Spell, error) {
	result := &readWriteSpell{}
	result.options.Context = 3
	return result, vcodec.ParseOptions(options, &result.options)
}

func (self *readWriteSpell) Name() string   { return "check_readwrite" }
func (self *readWriteSpell) ReadOnly() bool { return true }

func (self *readWriteSpell) ExitData(ctx *Context) error {
	if ctx.Data == nil {
		return errors.New("the input bytes are not available")
	}

	buf := &bytes.Buffer{}
	err := vcodec.WriteData(ctx.Ctx, ctx.Root, buf)
	if err != nil {
		return err
	}

	if bytes.Equal(buf.Bytes(), ctx.Data) {
		return nil
	}

	diff, err := difflib.GetUnifiedDiffString(difflib.UnifiedDiff{
		A:        difflib.SplitLines(hex.Dump(ctx.Data)),
		B:        difflib.SplitLines(hex.Dump(buf.Bytes())),
		FromFile: "read",
		ToFile:   "written",
		Context:  int(self.options.Context),
	})
	if err != nil {
		return err
	}

	return fmt.Errorf("written data differs from the input (%d vs %d bytes)\n%v",
		len(ctx.Data), buf.Len(), diff)
}

// Every cross reference should resolve to a node of the type the
// field declares.
type refsSpell struct{}

func newRefsSpell(options *ordereddict.Dict) (Spell, error) {
	return &refsSpell{}, vcodec.ParseOptions(options, &struct{}{})
}

func (self *refsSpell) Name() string   { return "check_refs" }
func (self *refsSpell) ReadOnly() bool { return true }

func (self *refsSpell) VisitNode(ctx *Context, node *vcodec.ObjectNode) (Action, error) {
	var errs Errors

	for _, ref := range node.Refs() {
		name := ref.Field
		if ref.Index >= 0 {
			name = fmt.Sprintf("%v[%d]", ref.Field, ref.Index)
		}

		// Negative references are null.
		if ref.Ref < 0 {
			continue
		}

		if ref.Target == nil {
			errs = append(errs, fmt.Errorf("%v: dangling reference %d (%d nodes)",
				name, ref.Ref, ctx.Root.IndexLen()))
			continue
		}

		field, _ := node.Spec().Field(ref.Field)
		parser, ok := field.Parser().(*vcodec.RefParser)
		if !ok || parser.Target() == "" {
			continue
		}

		if !ref.Target.Spec().IsA(parser.Target()) {
			errs = append(errs, fmt.Errorf("%v: reference %d is a %v not a %v",
				name, ref.Ref, ref.Target.Type(), parser.Target()))
		}
	}

	return Continue, errs.Return()
}
