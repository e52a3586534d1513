package spells

import (
	"fmt"
	"io"
	"sort"
	"sync"

	"github.com/Velocidex/ordereddict"
	"www.velocidex.com/golang/vcodec"
)

// Counts nodes by struct type over all files of a batch.
type countSpell struct {
	mu     sync.Mutex
	counts map[string]int
}

func newCountSpell(options *ordereddict.Dict) (Spell, error) {
	err := vcodec.ParseOptions(options, &struct{}{})
	if err != nil {
		return nil, err
	}
	return &countSpell{counts: make(map[string]int)}, nil
}

func (self *countSpell) Name() string   { return "count" }
func (self *countSpell) ReadOnly() bool { return true }

func (self *countSpell) VisitNode(ctx *Context, node *vcodec.ObjectNode) (Action, error) {
	self.mu.Lock()
	defer self.mu.Unlock()

	self.counts[node.Type()]++
	return Continue, nil
}

func (self *countSpell) Counts() *ordereddict.Dict {
	self.mu.Lock()
	defer self.mu.Unlock()

	var names []string
	for k := range self.counts {
		names = append(names, k)
	}
	sort.Strings(names)

	result := ordereddict.NewDict()
	for _, name := range names {
		result.Set(name, self.counts[name])
	}
	return result
}

func (self *countSpell) Report(w io.Writer) error {
	counts := self.Counts()
	for _, k := range counts.Keys() {
		v, _ := counts.Get(k)
		_, err := fmt.Fprintf(w, "%-30v %v\n", k, v)
		if err != nil {
			return err
		}
	}
	return nil
}
