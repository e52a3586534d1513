package vcodec

import (
	"encoding/binary"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/Velocidex/ordereddict"
)

var (
	NotFoundError = errors.New("type not found")
)

type BitOrder int

const (
	// The first member of a bit group occupies the least
	// significant bits of the backing integer.
	LSBFirst BitOrder = iota

	// The first member occupies the most significant bits.
	MSBFirst
)

// A TypeModel holds all types defined by one schema. It is built once
// by LoadSchema and is read only afterwards, so it may be shared by
// any number of concurrent readers and writers.
type TypeModel struct {
	name       string
	extensions []string

	types map[string]Parser

	// Struct and bit struct specs in declaration order.
	structs     map[string]*StructSpec
	struct_list []*StructSpec

	layout     []*LayoutEntry
	parameters *ordereddict.Dict

	byte_order binary.ByteOrder
	bit_order  BitOrder
}

// A LayoutEntry describes one named part of the top level node
// sequence of a file.
type LayoutEntry struct {
	Name     string
	TypeName string

	// Number of nodes; nil means a single node unless UntilEOF
	// is set.
	Count    Expression
	UntilEOF bool

	// Nodes of indexed entries are the targets of cross
	// references.
	Index bool

	spec *StructSpec
}

// Repeated entries hold a list of nodes rather than one node.
func (self *LayoutEntry) Repeated() bool {
	return self.Count != nil || self.UntilEOF
}

func (self *LayoutEntry) Spec() *StructSpec {
	return self.spec
}

func NewTypeModel() *TypeModel {
	result := &TypeModel{
		types:      make(map[string]Parser),
		structs:    make(map[string]*StructSpec),
		parameters: ordereddict.NewDict(),
		byte_order: binary.LittleEndian,
	}
	AddModel(result)

	return result
}

func (self *TypeModel) Name() string {
	return self.name
}

func (self *TypeModel) Extensions() []string {
	return append([]string{}, self.extensions...)
}

// Does the filename look like it belongs to this format?
func (self *TypeModel) Matches(filename string) bool {
	ext := strings.ToLower(filepath.Ext(filename))
	for _, e := range self.extensions {
		if strings.ToLower(e) == ext {
			return true
		}
	}
	return false
}

func (self *TypeModel) Layout() []*LayoutEntry {
	return self.layout
}

// A copy of the default expression parameters.
func (self *TypeModel) Parameters() *ordereddict.Dict {
	result := ordereddict.NewDict()
	for _, k := range self.parameters.Keys() {
		v, _ := self.parameters.Get(k)
		result.Set(k, v)
	}
	return result
}

func (self *TypeModel) AddParser(type_name string, parser Parser) {
	self.types[type_name] = parser
}

// Get a configured parser by type name.
func (self *TypeModel) GetParser(name string, options *ordereddict.Dict) (Parser, error) {
	parser, pres := self.types[name]
	if !pres {
		return nil, fmt.Errorf("%w: %v", NotFoundError, name)
	}
	if options == nil {
		options = ordereddict.NewDict()
	}
	return parser.New(self, options)
}

func (self *TypeModel) Struct(name string) (*StructSpec, bool) {
	result, pres := self.structs[name]
	return result, pres
}

// All struct and bit struct specs in declaration order.
func (self *TypeModel) Structs() []*StructSpec {
	return append([]*StructSpec{}, self.struct_list...)
}

// Names of all known types, sorted.
func (self *TypeModel) Types() []string {
	result := make([]string, 0, len(self.types))
	for k := range self.types {
		result = append(result, k)
	}
	sort.Strings(result)
	return result
}

// Load a schema from its YAML (or JSON) text.
func LoadSchema(definition []byte) (*TypeModel, error) {
	schema, err := ParseSchemaDefinition(definition)
	if err != nil {
		return nil, err
	}

	result := NewTypeModel()
	err = result.Build(schema)
	if err != nil {
		return nil, err
	}
	return result, nil
}

func LoadSchemaFile(path string) (*TypeModel, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	result, err := LoadSchema(data)
	if err != nil {
		return nil, fmt.Errorf("%v: %w", path, err)
	}
	return result, nil
}

// Build the model from definitions. All type references are resolved
// here so a model that builds successfully never fails to find a type
// at runtime.
func (self *TypeModel) Build(schema *SchemaDefinition) error {
	self.name = schema.Name
	self.extensions = schema.Extensions

	switch strings.ToLower(schema.ByteOrder) {
	case "", "little", "le":
		self.byte_order = binary.LittleEndian
	case "big", "be":
		self.byte_order = binary.BigEndian
	default:
		return schemaErrorf("", "", "byte_order should be little or big not %v",
			schema.ByteOrder)
	}

	bit_order, err := parseBitOrder(schema.BitOrder, LSBFirst)
	if err != nil {
		return &SchemaError{Err: err}
	}
	self.bit_order = bit_order

	if schema.Parameters != nil {
		self.parameters = schema.Parameters
	}

	// Enumerations only depend on basic types.
	for _, enum_def := range schema.Enums {
		err := self.checkNewType(enum_def.Name)
		if err != nil {
			return err
		}

		enum, err := NewEnumSpec(self, enum_def)
		if err != nil {
			return &SchemaError{Type: enum_def.Name, Err: err}
		}
		self.types[enum_def.Name] = enum
	}

	// Install all struct shells first so fields may refer to
	// structs defined later in the schema.
	for _, bit_def := range schema.BitStructs {
		err := self.checkNewType(bit_def.Name)
		if err != nil {
			return err
		}
		spec := newStructSpec(bit_def.Name)
		spec.bitstruct = true
		self.addStruct(spec)
	}

	for _, struct_def := range schema.Structs {
		err := self.checkNewType(struct_def.Name)
		if err != nil {
			return err
		}
		self.addStruct(newStructSpec(struct_def.Name))
	}

	for _, bit_def := range schema.BitStructs {
		err := self.buildBitStruct(self.structs[bit_def.Name], bit_def)
		if err != nil {
			return err
		}
	}

	for _, struct_def := range schema.Structs {
		err := self.buildStruct(self.structs[struct_def.Name], struct_def)
		if err != nil {
			return err
		}
	}

	// Now that every struct knows its own fields, resolve
	// inheritance.
	state := make(map[*StructSpec]int)
	for _, spec := range self.struct_list {
		err := spec.flatten(state, nil)
		if err != nil {
			return err
		}
	}

	for _, layout_def := range schema.Layout {
		entry, err := self.buildLayoutEntry(layout_def)
		if err != nil {
			return err
		}
		self.layout = append(self.layout, entry)
	}

	for idx, entry := range self.layout {
		if entry.UntilEOF && idx != len(self.layout)-1 {
			return schemaErrorf("layout", entry.Name,
				"only the last layout entry may read until_eof")
		}
	}

	return nil
}

func (self *TypeModel) checkNewType(name string) error {
	if name == "" {
		return schemaErrorf("", "", "type definition without a name")
	}

	_, pres := self.types[name]
	if pres {
		return schemaErrorf(name, "", "type %v is defined more than once", name)
	}
	return nil
}

func (self *TypeModel) addStruct(spec *StructSpec) {
	self.types[spec.name] = spec
	self.structs[spec.name] = spec
	self.struct_list = append(self.struct_list, spec)
}

func (self *TypeModel) buildLayoutEntry(layout_def *LayoutDefinition) (*LayoutEntry, error) {
	spec, pres := self.structs[layout_def.Type]
	if !pres {
		return nil, schemaErrorf("layout", layout_def.Name,
			"reference to undefined struct %v", layout_def.Type)
	}

	for _, entry := range self.layout {
		if entry.Name == layout_def.Name {
			return nil, schemaErrorf("layout", layout_def.Name,
				"layout entry defined more than once")
		}
	}

	result := &LayoutEntry{
		Name:     layout_def.Name,
		TypeName: layout_def.Type,
		UntilEOF: layout_def.UntilEOF,
		Index:    layout_def.Index,
		spec:     spec,
	}

	if !IsNil(layout_def.Count) {
		if layout_def.UntilEOF {
			return nil, schemaErrorf("layout", layout_def.Name,
				"count and until_eof are exclusive")
		}

		count, err := CompileExpression(layout_def.Count)
		if err != nil {
			return nil, &SchemaError{Type: "layout", Field: layout_def.Name, Err: err}
		}
		result.Count = count
	}

	return result, nil
}

func parseBitOrder(value string, default_order BitOrder) (BitOrder, error) {
	switch strings.ToLower(value) {
	case "":
		return default_order, nil
	case "lsb":
		return LSBFirst, nil
	case "msb":
		return MSBFirst, nil
	}
	return default_order, fmt.Errorf("bit_order should be lsb or msb not %v", value)
}
