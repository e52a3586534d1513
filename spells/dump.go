package spells

import (
	"fmt"
	"sync"

	"github.com/Velocidex/ordereddict"
	"github.com/davecgh/go-spew/spew"
	"www.velocidex.com/golang/vcodec"
)

// Print each file's data as JSON or as a spew dump of the nodes.
type dumpSpell struct {
	mu sync.Mutex

	options struct {
		Format string `vcodec:"field=format,doc=json (default) or spew"`
	}
}

func newDumpSpell(options *ordereddict.Dict) (Spell, error) {
	result := &dumpSpell{}
	err := vcodec.ParseOptions(options, &result.options)
	if err != nil {
		return nil, err
	}

	switch result.options.Format {
	case "":
		result.options.Format = "json"
	case "json", "spew":
	default:
		return nil, fmt.Errorf("unknown format %v", result.options.Format)
	}
	return result, nil
}

func (self *dumpSpell) Name() string   { return "dump" }
func (self *dumpSpell) ReadOnly() bool { return true }

func (self *dumpSpell) ExitData(ctx *Context) error {
	var text string
	switch self.options.Format {
	case "spew":
		config := spew.ConfigState{
			Indent:                  " ",
			DisablePointerAddresses: true,
			DisableCapacities:       true,
			SortKeys:                true,
		}
		text = config.Sdump(ctx.Root.Dict())
	default:
		text = vcodec.StringIndent(ctx.Root) + "\n"
	}

	// Workers share the output.
	self.mu.Lock()
	defer self.mu.Unlock()

	if ctx.Filename != "" {
		_, err := fmt.Fprintf(ctx.Output, "# %v\n", ctx.Filename)
		if err != nil {
			return err
		}
	}
	_, err := fmt.Fprint(ctx.Output, text)
	return err
}
