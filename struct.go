package vcodec

import (
	"errors"
	"fmt"
	"strings"

	"github.com/Velocidex/ordereddict"
)

// A FieldSpec is one field of a struct. It is immutable once the
// schema is loaded.
type FieldSpec struct {
	Name string

	// Name of the type of parser in this field.
	TypeName string

	// When set the field is an array of this many elements.
	Count Expression

	// When set the field is only present if this evaluates true.
	Cond Expression

	// Arrays longer than this are an error (DefaultMaxCount when 0).
	MaxCount int64

	// Width of a bitfield member (0 for ordinary fields).
	Bits int

	// Written when the field is missing from a node.
	Default interface{}

	// Options given to the type.
	Options *ordereddict.Dict

	parser Parser
	owner  *StructSpec

	// Bit fields share one backing integer with their group.
	group *bitGroup
	shift uint
}

func (self *FieldSpec) Parser() Parser {
	return self.parser
}

func (self *FieldSpec) IsArray() bool {
	return self.Count != nil
}

// The struct which declared this field (may be a parent of the
// struct being decoded).
func (self *FieldSpec) Owner() *StructSpec {
	return self.owner
}

// Normalize a value assigned to this field.
func (self *FieldSpec) normalize(value interface{}) (interface{}, error) {
	if self.IsArray() {
		items, ok := value.([]interface{})
		if !ok {
			return nil, fmt.Errorf("field %v is an array: expecting a list not %T",
				self.Name, value)
		}
		result := make([]interface{}, 0, len(items))
		for _, item := range items {
			normalized, err := self.normalizeOne(item)
			if err != nil {
				return nil, err
			}
			result = append(result, normalized)
		}
		return result, nil
	}
	return self.normalizeOne(value)
}

func (self *FieldSpec) normalizeOne(value interface{}) (interface{}, error) {
	if self.group != nil {
		_, err := self.toBits(value)
		if err != nil {
			return nil, err
		}
	}

	normalizer, ok := self.parser.(Normalizer)
	if ok {
		return normalizer.Normalize(value)
	}
	return value, nil
}

type StructSpec struct {
	name        string
	parent_name string
	parent      *StructSpec
	bitstruct   bool

	// Fields declared by this struct.
	own []*FieldSpec

	// Parent fields followed by own fields.
	fields []*FieldSpec
	index  map[string]int
}

func newStructSpec(name string) *StructSpec {
	return &StructSpec{
		name:  name,
		index: make(map[string]int),
	}
}

func (self *StructSpec) Name() string {
	return self.name
}

func (self *StructSpec) Parent() *StructSpec {
	return self.parent
}

func (self *StructSpec) IsBitStruct() bool {
	return self.bitstruct
}

// The flattened field list.
func (self *StructSpec) Fields() []*FieldSpec {
	return self.fields
}

func (self *StructSpec) Field(name string) (*FieldSpec, bool) {
	idx, pres := self.index[name]
	if !pres {
		return nil, false
	}
	return self.fields[idx], true
}

// Is this struct the named type or derived from it?
func (self *StructSpec) IsA(name string) bool {
	for spec := self; spec != nil; spec = spec.parent {
		if spec.name == name {
			return true
		}
	}
	return false
}

// StructSpec does not take options
func (self *StructSpec) New(model *TypeModel, options *ordereddict.Dict) (Parser, error) {
	if options != nil && options.Len() > 0 {
		return nil, fmt.Errorf("struct %v takes no options (got %v)",
			self.name, options.Keys())
	}
	return self, nil
}

func (self *StructSpec) Read(decoder *Decoder, this *ObjectNode) (interface{}, error) {
	return decoder.DecodeStruct(self)
}

func (self *StructSpec) Write(encoder *Encoder, this *ObjectNode, value interface{}) error {
	node, ok := value.(*ObjectNode)
	if !ok {
		return encoder.valueError(fmt.Errorf("expecting a %v node not %T", self.name, value))
	}
	if !node.spec.IsA(self.name) {
		return encoder.valueError(fmt.Errorf("expecting a %v node not %v",
			self.name, node.spec.name))
	}
	return encoder.EncodeStruct(node)
}

func (self *StructSpec) Normalize(value interface{}) (interface{}, error) {
	node, ok := value.(*ObjectNode)
	if !ok || !node.spec.IsA(self.name) {
		return nil, fmt.Errorf("expecting a %v node not %T", self.name, value)
	}
	return node, nil
}

// Missing struct fields are written as a node of defaults.
func (self *StructSpec) Zero(root *DataRoot) interface{} {
	return newObjectNode(self, root)
}

func (self *TypeModel) buildStruct(spec *StructSpec, definition *StructDefinition) error {
	spec.parent_name = definition.Parent
	if spec.parent_name != "" {
		parent, pres := self.structs[spec.parent_name]
		if !pres {
			return schemaErrorf(spec.name, "",
				"parent %v is not a defined struct", spec.parent_name)
		}
		if parent.bitstruct {
			return schemaErrorf(spec.name, "",
				"can not inherit from bitstruct %v", spec.parent_name)
		}
		spec.parent = parent
	}

	bit_order := self.bit_order
	if definition.Options != nil {
		for _, k := range definition.Options.Keys() {
			v, _ := definition.Options.Get(k)
			switch k {
			case "bit_order":
				str, _ := v.(string)
				order, err := parseBitOrder(str, self.bit_order)
				if err != nil {
					return &SchemaError{Type: spec.name, Err: err}
				}
				bit_order = order
			default:
				return schemaErrorf(spec.name, "", "unknown struct option %v", k)
			}
		}
	}

	seen := make(map[string]bool)
	for _, field_def := range definition.Fields {
		if seen[field_def.Name] {
			return schemaErrorf(spec.name, field_def.Name, "duplicate field name")
		}
		seen[field_def.Name] = true

		field, err := self.buildField(spec, field_def)
		if err != nil {
			return err
		}
		spec.own = append(spec.own, field)
	}

	return self.groupBits(spec, bit_order)
}

func (self *TypeModel) buildField(spec *StructSpec, definition *FieldDefinition) (
	*FieldSpec, error) {
	if definition.Name == "" {
		return nil, schemaErrorf(spec.name, "", "field without a name")
	}

	result := &FieldSpec{
		Name:     definition.Name,
		TypeName: definition.Type,
		Options:  definition.Options,
		owner:    spec,
	}

	// Split the common field options from the type options.
	type_options := ordereddict.NewDict()
	if definition.Options != nil {
		for _, k := range definition.Options.Keys() {
			v, _ := definition.Options.Get(k)
			var err error

			switch k {
			case "count":
				result.Count, err = CompileExpression(v)
			case "cond":
				result.Cond, err = CompileExpression(v)
			case "max_count":
				max_count, ok := to_int64(v)
				if !ok || max_count <= 0 {
					err = fmt.Errorf("max_count should be a positive integer not %v", v)
				}
				result.MaxCount = max_count
			case "bits":
				bits, ok := to_int64(v)
				if !ok || bits <= 0 || bits > 64 {
					err = fmt.Errorf("bits should be between 1 and 64 not %v", v)
				}
				result.Bits = int(bits)
			case "default":
				result.Default = v
			default:
				type_options.Set(k, v)
			}

			if err != nil {
				return nil, &SchemaError{Type: spec.name, Field: definition.Name, Err: err}
			}
		}
	}

	parser, err := self.GetParser(definition.Type, type_options)
	if err != nil {
		if errors.Is(err, NotFoundError) {
			return nil, schemaErrorf(spec.name, definition.Name,
				"reference to undefined type %v", definition.Type)
		}
		return nil, &SchemaError{Type: spec.name, Field: definition.Name, Err: err}
	}
	result.parser = parser

	if result.Default != nil {
		normalize := result.normalizeOne
		_, is_list := result.Default.([]interface{})
		if result.IsArray() && is_list {
			normalize = result.normalize
		}

		normalized, err := normalize(result.Default)
		if err != nil {
			return nil, &SchemaError{Type: spec.name, Field: definition.Name,
				Err: fmt.Errorf("default: %w", err)}
		}
		result.Default = normalized
	}

	return result, nil
}

// Resolve inheritance into one flat field list. state tracks visits
// so cycles are detected.
func (self *StructSpec) flatten(state map[*StructSpec]int, chain []string) error {
	chain = append(chain, self.name)

	switch state[self] {
	case 2:
		return nil
	case 1:
		return schemaErrorf(self.name, "", "inheritance cycle: %v",
			strings.Join(chain, " -> "))
	}
	state[self] = 1

	var fields []*FieldSpec
	if self.parent != nil {
		err := self.parent.flatten(state, chain)
		if err != nil {
			return err
		}
		fields = append(fields, self.parent.fields...)
	}
	fields = append(fields, self.own...)

	index := make(map[string]int)
	for idx, field := range fields {
		_, pres := index[field.Name]
		if pres {
			return schemaErrorf(self.name, field.Name,
				"field name also defined by a parent struct")
		}
		index[field.Name] = idx
	}

	self.fields = fields
	self.index = index
	state[self] = 2

	return nil
}
