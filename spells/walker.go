package spells

import (
	"context"
	"fmt"

	"www.velocidex.com/golang/vcodec"
)

// Walk applies spells to every node of root. See Context.Walk.
func Walk(ctx context.Context, root *vcodec.DataRoot, spells ...Spell) error {
	return NewContext(ctx, root).Walk(spells...)
}

// Walk visits the nodes depth first in pre-order, following only
// ownership edges: cross references are never followed and every node
// is visited at most once, so the walk always terminates.
//
// A spell failing on a node does not stop the walk. The failure is
// collected as a *SpellError and that spell skips the subtree of the
// node. Cancellation of the context stops the walk.
func (self *Context) Walk(spells ...Spell) error {
	self.errors = nil

	var active []Spell
	for _, spell := range spells {
		inspector, ok := spell.(DataInspector)
		if ok && !inspector.InspectData(self) {
			continue
		}
		active = append(active, spell)
	}

	var visitors []Spell
	for _, spell := range active {
		_, ok := spell.(NodeVisitor)
		if ok {
			visitors = append(visitors, spell)
		}
	}

	visited := make(map[*vcodec.ObjectNode]bool)
	if len(visitors) > 0 {
		for _, entry := range self.Root.Entries() {
			repeated := entry.Layout == nil || entry.Layout.Repeated()
			for idx, node := range entry.Nodes {
				path := entry.Name
				if repeated {
					path = fmt.Sprintf("%v[%d]", entry.Name, idx)
				}

				err := self.walkNode(node, path, visitors, visited)
				if err != nil {
					return self.errors.Append(err).Return()
				}
			}
		}
	}

	self.Path = ""
	for _, spell := range active {
		exiter, ok := spell.(DataExiter)
		if !ok {
			continue
		}

		generation := self.Root.Generation()
		err := exiter.ExitData(self)
		self.check(spell, generation, err)
	}

	return self.errors.Return()
}

// Only cancellation is returned. Spell errors are collected.
func (self *Context) walkNode(node *vcodec.ObjectNode, path string,
	visitors []Spell, visited map[*vcodec.ObjectNode]bool) error {
	if visited[node] {
		return nil
	}
	visited[node] = true

	if self.Ctx != nil {
		err := self.Ctx.Err()
		if err != nil {
			return err
		}
	}

	descend := visitors
	if self.wanted(node) {
		descend = nil
		for _, spell := range visitors {
			self.Path = path
			generation := self.Root.Generation()
			action, err := spell.(NodeVisitor).VisitNode(self, node)
			if !self.check(spell, generation, err) {
				continue
			}

			if action == Continue {
				descend = append(descend, spell)
			}
		}
	}

	if len(descend) == 0 {
		return nil
	}

	for _, child := range node.Children() {
		child_path := path + "." + child.Field
		if child.Index >= 0 {
			child_path = fmt.Sprintf("%v[%d]", child_path, child.Index)
		}

		err := self.walkNode(child.Node, child_path, descend, visited)
		if err != nil {
			return err
		}
	}
	return nil
}

// Record a spell failure. Returns true when the spell succeeded.
func (self *Context) check(spell Spell, generation uint64, err error) bool {
	if err == nil && spell.ReadOnly() && self.Root.Generation() != generation {
		err = ReadOnlyViolation
	}

	if err == nil {
		return true
	}

	self.errors = append(self.errors, &SpellError{
		Spell:    spell.Name(),
		Filename: self.Filename,
		Path:     self.Path,
		Err:      err,
	})
	return false
}
