package spells

import (
	"fmt"
	"sort"

	"github.com/Velocidex/ordereddict"
)

// A Factory makes a spell from its options.
type Factory func(options *ordereddict.Dict) (Spell, error)

type SpellInfo struct {
	Name        string
	Description string
	ReadOnly    bool
	Factory     Factory
}

var registry = []SpellInfo{
	{"check_nop", "Do nothing. Tests reading.", true, newNopSpell},
	{"check_read", "Count files which read without errors.", true, newReadSpell},
	{"check_readwrite", "Check that writing a file reproduces its bytes.", true,
		newReadWriteSpell},
	{"check_refs", "Check every cross reference resolves to the right type.", true,
		newRefsSpell},
	{"count", "Count nodes by type.", true, newCountSpell},
	{"dump", "Print the decoded data.", true, newDumpSpell},
	{"set_field", "Set a field of matching nodes to a value.", false, newSetFieldSpell},
}

// All known spells sorted by name.
func Spells() []SpellInfo {
	result := append([]SpellInfo{}, registry...)
	sort.Slice(result, func(i, j int) bool {
		return result[i].Name < result[j].Name
	})
	return result
}

// Make a spell by name.
func NewSpell(name string, options *ordereddict.Dict) (Spell, error) {
	if options == nil {
		options = ordereddict.NewDict()
	}

	for _, info := range registry {
		if info.Name == name {
			spell, err := info.Factory(options)
			if err != nil {
				return nil, fmt.Errorf("%v: %w", name, err)
			}
			return spell, nil
		}
	}
	return nil, fmt.Errorf("unknown spell %v", name)
}
