package vcodec

import (
	"encoding/json"
	"fmt"

	"github.com/Velocidex/ordereddict"
)

// A Ref is a cross reference: the index of another node in the
// DataRoot's registry. It is never an ownership edge.
type Ref int64

func (self Ref) MarshalJSON() ([]byte, error) {
	return json.Marshal(ordereddict.NewDict().Set("Ref", int64(self)))
}

// Identifies one stored value: a field and, for arrays, the element.
type slot struct {
	field   string
	element int
}

// An ObjectNode is one decoded instance of a struct. Values are
// primitives (uint64, int64, float32, float64, bool, string, []byte), owned
// child nodes, arrays ([]interface{}) of those, or Ref values.
type ObjectNode struct {
	spec   *StructSpec
	values map[string]interface{}

	// Bytes following the terminator of fixed length strings. They
	// are written back while the field is unchanged.
	slack map[slot][]byte

	// Original bytes of strings which do not survive decoding.
	undecoded map[slot][]byte

	root *DataRoot
}

func newObjectNode(spec *StructSpec, root *DataRoot) *ObjectNode {
	return &ObjectNode{
		spec:   spec,
		values: make(map[string]interface{}),
		root:   root,
	}
}

func (self *ObjectNode) Type() string {
	return self.spec.name
}

func (self *ObjectNode) Spec() *StructSpec {
	return self.spec
}

func (self *ObjectNode) Root() *DataRoot {
	return self.root
}

func (self *ObjectNode) Get(name string) (interface{}, bool) {
	value, pres := self.values[name]
	return value, pres
}

func (self *ObjectNode) Has(name string) bool {
	_, pres := self.values[name]
	return pres
}

// Names of the present fields in declaration order.
func (self *ObjectNode) Keys() []string {
	result := make([]string, 0, len(self.values))
	for _, field := range self.spec.fields {
		_, pres := self.values[field.Name]
		if pres {
			result = append(result, field.Name)
		}
	}
	return result
}

// Set a field value. The value is converted to the field type's
// canonical representation and the root is marked dirty.
func (self *ObjectNode) Set(name string, value interface{}) error {
	field, pres := self.spec.Field(name)
	if !pres {
		return fmt.Errorf("%v has no field %v", self.spec.name, name)
	}

	normalized, err := field.normalize(value)
	if err != nil {
		return fmt.Errorf("%v.%v: %w", self.spec.name, name, err)
	}

	self.values[name] = normalized
	self.clearSlack(name)
	self.adopt(normalized)

	if self.root != nil {
		self.root.MarkDirty()
	}
	return nil
}

// Remove a field. A removed field is written from its default.
func (self *ObjectNode) Delete(name string) {
	_, pres := self.values[name]
	if !pres {
		return
	}

	delete(self.values, name)
	self.clearSlack(name)

	if self.root != nil {
		self.root.MarkDirty()
	}
}

// Store a decoded value without normalizing or dirtying the root.
func (self *ObjectNode) setDecoded(name string, value interface{}) {
	self.values[name] = value
}

// Nodes assigned into this node become part of its root.
func (self *ObjectNode) adopt(value interface{}) {
	switch t := value.(type) {
	case *ObjectNode:
		if t.root == nil {
			t.root = self.root
		}
	case []interface{}:
		for _, item := range t {
			self.adopt(item)
		}
	}
}

func (self *ObjectNode) setSlack(field string, element int, slack []byte) {
	if len(slack) == 0 {
		return
	}
	if self.slack == nil {
		self.slack = make(map[slot][]byte)
	}
	self.slack[slot{field: field, element: element}] = slack
}

func (self *ObjectNode) getSlack(field string, element int) []byte {
	if self.slack == nil {
		return nil
	}
	return self.slack[slot{field: field, element: element}]
}

func (self *ObjectNode) clearSlack(field string) {
	for k := range self.slack {
		if k.field == field {
			delete(self.slack, k)
		}
	}
	for k := range self.undecoded {
		if k.field == field {
			delete(self.undecoded, k)
		}
	}
}

func (self *ObjectNode) setUndecoded(field string, element int, raw []byte) {
	if self.undecoded == nil {
		self.undecoded = make(map[slot][]byte)
	}
	self.undecoded[slot{field: field, element: element}] = raw
}

func (self *ObjectNode) getUndecoded(field string, element int) []byte {
	if self.undecoded == nil {
		return nil
	}
	return self.undecoded[slot{field: field, element: element}]
}

// The position of this node in the root's reference registry or -1.
func (self *ObjectNode) Index() int {
	if self.root == nil {
		return -1
	}
	return self.root.IndexOf(self)
}

// A Child is an owned node reachable through one field.
type Child struct {
	Field string

	// Array element index or -1.
	Index int
	Node  *ObjectNode
}

// Owned child nodes in field order. Cross references are not
// children.
func (self *ObjectNode) Children() []Child {
	var result []Child
	for _, name := range self.Keys() {
		switch t := self.values[name].(type) {
		case *ObjectNode:
			result = append(result, Child{Field: name, Index: -1, Node: t})
		case []interface{}:
			for idx, item := range t {
				node, ok := item.(*ObjectNode)
				if ok {
					result = append(result, Child{Field: name, Index: idx, Node: node})
				}
			}
		}
	}
	return result
}

// A RefValue is one cross reference held by a node. Target is nil
// when the index does not resolve.
type RefValue struct {
	Field  string
	Index  int
	Ref    Ref
	Target *ObjectNode
}

func (self *ObjectNode) Refs() []RefValue {
	var result []RefValue

	resolve := func(ref Ref) *ObjectNode {
		if self.root == nil {
			return nil
		}
		target, _ := self.root.Resolve(ref)
		return target
	}

	for _, name := range self.Keys() {
		switch t := self.values[name].(type) {
		case Ref:
			result = append(result, RefValue{
				Field: name, Index: -1, Ref: t, Target: resolve(t)})
		case []interface{}:
			for idx, item := range t {
				ref, ok := item.(Ref)
				if ok {
					result = append(result, RefValue{
						Field: name, Index: idx, Ref: ref, Target: resolve(ref)})
				}
			}
		}
	}
	return result
}

// Project the node into ordered dicts, e.g. for JSON output.
func (self *ObjectNode) Dict() *ordereddict.Dict {
	result := ordereddict.NewDict()
	for _, name := range self.Keys() {
		result.Set(name, to_dict_value(self.values[name]))
	}
	return result
}

func to_dict_value(value interface{}) interface{} {
	switch t := value.(type) {
	case *ObjectNode:
		return t.Dict()
	case []interface{}:
		result := make([]interface{}, 0, len(t))
		for _, item := range t {
			result = append(result, to_dict_value(item))
		}
		return result
	}
	return value
}

func (self *ObjectNode) MarshalJSON() ([]byte, error) {
	return json.Marshal(self.Dict())
}

func (self *ObjectNode) String() string {
	return fmt.Sprintf("%v%v", self.spec.name, StringIndent(self))
}
