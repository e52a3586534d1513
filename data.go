package vcodec

import (
	"encoding/json"
	"fmt"

	"github.com/Velocidex/ordereddict"
	"www.velocidex.com/golang/vfilter"
)

// Options control a single read or write.
type Options struct {
	// Override the schema's default parameters.
	Parameters *ordereddict.Dict

	// The scope used for lambdas and logging. A fresh scope is
	// made when nil.
	Scope vfilter.Scope
}

// A RootEntry holds the nodes of one layout entry. Single entries
// have at most one node.
type RootEntry struct {
	Name   string
	Layout *LayoutEntry
	Nodes  []*ObjectNode
}

// A DataRoot owns every node decoded from one file. It is not safe
// for concurrent use; batch workers each own their own root.
type DataRoot struct {
	model      *TypeModel
	scope      vfilter.Scope
	parameters *ordereddict.Dict

	entries []*RootEntry

	// The reference registry. Rebuilt lazily after the top level
	// changes.
	index       []*ObjectNode
	index_of    map[*ObjectNode]int
	index_valid bool

	dirty      bool
	generation uint64
}

func NewDataRoot(model *TypeModel, options *Options) *DataRoot {
	if options == nil {
		options = &Options{}
	}

	parameters := model.Parameters()
	if options.Parameters != nil {
		for _, k := range options.Parameters.Keys() {
			v, _ := options.Parameters.Get(k)
			parameters.Set(k, v)
		}
	}

	result := &DataRoot{
		model:      model,
		scope:      subScope(options.Scope, parameters),
		parameters: parameters,
	}

	for _, layout := range model.layout {
		result.entries = append(result.entries, &RootEntry{
			Name:   layout.Name,
			Layout: layout,
		})
	}
	return result
}

func (self *DataRoot) Model() *TypeModel {
	return self.model
}

func (self *DataRoot) Scope() vfilter.Scope {
	return self.scope
}

func (self *DataRoot) Parameters() *ordereddict.Dict {
	return self.parameters
}

func (self *DataRoot) Entries() []*RootEntry {
	return self.entries
}

func (self *DataRoot) Entry(name string) (*RootEntry, bool) {
	for _, entry := range self.entries {
		if entry.Name == name {
			return entry, true
		}
	}
	return nil, false
}

// All top level nodes in layout order.
func (self *DataRoot) Nodes() []*ObjectNode {
	var result []*ObjectNode
	for _, entry := range self.entries {
		result = append(result, entry.Nodes...)
	}
	return result
}

// Create a node of the named struct belonging to this root. All
// fields are missing until set.
func (self *DataRoot) NewNode(type_name string) (*ObjectNode, error) {
	spec, pres := self.model.Struct(type_name)
	if !pres {
		return nil, fmt.Errorf("%w: struct %v", NotFoundError, type_name)
	}
	return newObjectNode(spec, self), nil
}

// Add a top level node. Roots of models without a layout collect
// nodes in an implicit entry.
func (self *DataRoot) Append(entry_name string, node *ObjectNode) error {
	entry, pres := self.Entry(entry_name)
	if !pres {
		if len(self.model.layout) > 0 {
			return fmt.Errorf("%w: layout entry %v", NotFoundError, entry_name)
		}
		entry = &RootEntry{Name: entry_name}
		self.entries = append(self.entries, entry)
	}

	if entry.Layout != nil {
		if !entry.Layout.Repeated() && len(entry.Nodes) > 0 {
			return fmt.Errorf("layout entry %v holds a single node", entry_name)
		}
		if !node.spec.IsA(entry.Layout.TypeName) {
			return fmt.Errorf("layout entry %v holds %v nodes not %v",
				entry_name, entry.Layout.TypeName, node.spec.name)
		}
	}

	node.root = self
	entry.Nodes = append(entry.Nodes, node)
	self.index_valid = false
	self.MarkDirty()
	return nil
}

// Register a decoded node without layout checks.
func (self *DataRoot) addNode(entry_name string, node *ObjectNode) {
	entry, pres := self.Entry(entry_name)
	if !pres {
		entry = &RootEntry{Name: entry_name}
		self.entries = append(self.entries, entry)
	}
	node.root = self
	entry.Nodes = append(entry.Nodes, node)
	self.index_valid = false
}

// Nodes of indexed layout entries form the registry. When no entry
// is indexed every top level node is.
func (self *DataRoot) buildIndex() {
	if self.index_valid {
		return
	}

	indexed := false
	for _, entry := range self.entries {
		if entry.Layout != nil && entry.Layout.Index {
			indexed = true
		}
	}

	self.index = nil
	self.index_of = make(map[*ObjectNode]int)
	for _, entry := range self.entries {
		if indexed && (entry.Layout == nil || !entry.Layout.Index) {
			continue
		}
		for _, node := range entry.Nodes {
			self.index_of[node] = len(self.index)
			self.index = append(self.index, node)
		}
	}
	self.index_valid = true
}

// Resolve a cross reference.
func (self *DataRoot) Resolve(ref Ref) (*ObjectNode, bool) {
	self.buildIndex()
	if ref < 0 || int64(ref) >= int64(len(self.index)) {
		return nil, false
	}
	return self.index[ref], true
}

func (self *DataRoot) IndexOf(node *ObjectNode) int {
	self.buildIndex()
	idx, pres := self.index_of[node]
	if !pres {
		return -1
	}
	return idx
}

// Number of nodes cross references may point at.
func (self *DataRoot) IndexLen() int {
	self.buildIndex()
	return len(self.index)
}

// Only dirty roots need to be written.
func (self *DataRoot) Dirty() bool {
	return self.dirty
}

func (self *DataRoot) MarkDirty() {
	self.dirty = true
	self.generation++
}

func (self *DataRoot) ClearDirty() {
	self.dirty = false
}

// Incremented by every mutation.
func (self *DataRoot) Generation() uint64 {
	return self.generation
}

// The environment of layout count expressions: parameters and the
// entries decoded so far.
func (self *DataRoot) env() *ordereddict.Dict {
	result := ordereddict.NewDict()
	for _, k := range self.parameters.Keys() {
		v, _ := self.parameters.Get(k)
		result.Set(k, v)
	}

	for _, entry := range self.entries {
		if entry.Layout != nil && entry.Layout.Repeated() {
			nodes := make([]interface{}, 0, len(entry.Nodes))
			for _, node := range entry.Nodes {
				nodes = append(nodes, node)
			}
			result.Set(entry.Name, nodes)
		} else if len(entry.Nodes) > 0 {
			result.Set(entry.Name, entry.Nodes[0])
		}
	}
	return result
}

func (self *DataRoot) Dict() *ordereddict.Dict {
	result := ordereddict.NewDict()
	for _, entry := range self.entries {
		if entry.Layout != nil && !entry.Layout.Repeated() {
			if len(entry.Nodes) > 0 {
				result.Set(entry.Name, entry.Nodes[0].Dict())
			}
			continue
		}

		nodes := make([]interface{}, 0, len(entry.Nodes))
		for _, node := range entry.Nodes {
			nodes = append(nodes, node.Dict())
		}
		result.Set(entry.Name, nodes)
	}
	return result
}

func (self *DataRoot) MarshalJSON() ([]byte, error) {
	return json.Marshal(self.Dict())
}
