package vcodec

import (
	"errors"
	"fmt"
	"sort"

	"github.com/Velocidex/ordereddict"
	"github.com/Velocidex/yaml"
)

// The schema document. Structs, fields, enums and layout entries are
// positional lists, e.g.
//
//	structs:
//	  - [Header, "", [
//	      [count, uint32],
//	      [items, int32, {count: "x => x.count"}]]]
type SchemaDefinition struct {
	Name       string   `json:"name" yaml:"name"`
	Extensions []string `json:"extensions" yaml:"extensions"`
	ByteOrder  string   `json:"byte_order" yaml:"byte_order"`
	BitOrder   string   `json:"bit_order" yaml:"bit_order"`

	RawParameters map[string]interface{} `json:"parameters" yaml:"parameters"`

	Enums      []*EnumDefinition      `json:"enums" yaml:"enums"`
	BitStructs []*BitStructDefinition `json:"bitstructs" yaml:"bitstructs"`
	Structs    []*StructDefinition    `json:"structs" yaml:"structs"`
	Layout     []*LayoutDefinition    `json:"layout" yaml:"layout"`

	// Parameters in a stable (sorted) order.
	Parameters *ordereddict.Dict `json:"-" yaml:"-"`
}

type FieldDefinition struct {
	Name string

	// Name of the type of parser in this field.
	Type string

	// Options to the type, including the common field options
	// count, cond, bits and default.
	Options *ordereddict.Dict
}

type StructDefinition struct {
	Name string

	// Optional single parent whose fields come first.
	Parent  string
	Fields  []*FieldDefinition
	Options *ordereddict.Dict
}

type EnumDefinition struct {
	Name string

	// The integer type the enum is stored as.
	Type string

	// name -> value
	Choices *ordereddict.Dict
}

type BitStructDefinition struct {
	Name string

	// The backing integer type, e.g. uint16be.
	Type    string
	Members []*FieldDefinition
	Options *ordereddict.Dict
}

type LayoutDefinition struct {
	Name     string
	Type     string
	Count    interface{}
	UntilEOF bool
	Index    bool
}

func ParseSchemaDefinition(definition []byte) (*SchemaDefinition, error) {
	result := &SchemaDefinition{}
	err := yaml.Unmarshal(definition, result)
	if err != nil {
		return nil, &SchemaError{Err: err}
	}

	result.Parameters = ordereddict.NewDict()
	keys := make([]string, 0, len(result.RawParameters))
	for k := range result.RawParameters {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		result.Parameters.Set(k, result.RawParameters[k])
	}

	return result, nil
}

func (self *StructDefinition) decode(values []interface{}) error {
	if len(values) < 2 || len(values) > 4 {
		return errors.New("Struct Definition should be [name, parent, fields, options?]")
	}

	ok := false
	self.Name, ok = values[0].(string)
	if !ok {
		return errors.New("Name should be a string")
	}

	// The parent may be omitted: [name, fields]
	rest := values[1:]
	switch t := rest[0].(type) {
	case string:
		self.Parent = t
		rest = rest[1:]
	case nil:
		rest = rest[1:]
	}

	if len(rest) == 0 {
		return fmt.Errorf("%v: missing field list", self.Name)
	}

	fields, ok := rest[0].([]interface{})
	if !ok {
		return fmt.Errorf("%v: Fields should be a list of field definitions", self.Name)
	}

	for _, field_def := range fields {
		field, ok := field_def.([]interface{})
		if !ok {
			return fmt.Errorf("%v: Field Definition should be [name, type, options?]",
				self.Name)
		}

		new_field, err := decodeField(self.Name, field)
		if err != nil {
			return err
		}
		self.Fields = append(self.Fields, new_field)
	}

	if len(rest) > 1 {
		options, err := to_ordereddict(rest[1])
		if err != nil {
			return fmt.Errorf("%v: struct options %v", self.Name, err)
		}
		self.Options = options
	}

	return nil
}

func decodeField(struct_name string, field []interface{}) (*FieldDefinition, error) {
	if len(field) != 2 && len(field) != 3 {
		return nil, fmt.Errorf("%v: Field Definition should be [name, type, options?]",
			struct_name)
	}

	ok := false
	new_field := &FieldDefinition{}
	new_field.Name, ok = field[0].(string)
	if !ok {
		return nil, fmt.Errorf("%v: field name should be a string", struct_name)
	}

	new_field.Type, ok = field[1].(string)
	if !ok {
		return nil, fmt.Errorf("%v: field %v type should be a string",
			struct_name, new_field.Name)
	}

	new_field.Options = ordereddict.NewDict()
	if len(field) == 3 && field[2] != nil {
		options, err := to_ordereddict(field[2])
		if err != nil {
			return nil, fmt.Errorf("%v: field %v options %v",
				struct_name, new_field.Name, err)
		}
		new_field.Options = options
	}

	return new_field, nil
}

func (self *EnumDefinition) decode(values []interface{}) error {
	if len(values) != 3 {
		return errors.New("Enum Definition should be [name, type, choices]")
	}

	ok := false
	self.Name, ok = values[0].(string)
	if !ok {
		return errors.New("Name should be a string")
	}

	self.Type, ok = values[1].(string)
	if !ok {
		return fmt.Errorf("%v: enum type should be a string", self.Name)
	}

	choices, err := to_ordereddict(values[2])
	if err != nil {
		return fmt.Errorf("%v: enum choices %v", self.Name, err)
	}
	self.Choices = choices

	return nil
}

func (self *BitStructDefinition) decode(values []interface{}) error {
	if len(values) != 3 && len(values) != 4 {
		return errors.New("BitStruct Definition should be [name, type, members, options?]")
	}

	ok := false
	self.Name, ok = values[0].(string)
	if !ok {
		return errors.New("Name should be a string")
	}

	self.Type, ok = values[1].(string)
	if !ok {
		return fmt.Errorf("%v: bitstruct type should be a string", self.Name)
	}

	members, ok := values[2].([]interface{})
	if !ok {
		return fmt.Errorf("%v: Members should be a list of [name, bits, type?]", self.Name)
	}

	for _, member_def := range members {
		member, ok := member_def.([]interface{})
		if !ok || (len(member) != 2 && len(member) != 3) {
			return fmt.Errorf("%v: Member should be [name, bits, type?]", self.Name)
		}

		name, ok := member[0].(string)
		if !ok {
			return fmt.Errorf("%v: member name should be a string", self.Name)
		}

		bits, ok := to_int64(member[1])
		if !ok {
			return fmt.Errorf("%v: member %v bits should be an integer",
				self.Name, name)
		}

		type_name := "uint64"
		if len(member) == 3 {
			type_name, ok = member[2].(string)
			if !ok {
				return fmt.Errorf("%v: member %v type should be a string",
					self.Name, name)
			}
		}

		self.Members = append(self.Members, &FieldDefinition{
			Name:    name,
			Type:    type_name,
			Options: ordereddict.NewDict().Set("bits", bits),
		})
	}

	if len(values) == 4 {
		options, err := to_ordereddict(values[3])
		if err != nil {
			return fmt.Errorf("%v: bitstruct options %v", self.Name, err)
		}
		self.Options = options
	}

	return nil
}

func (self *LayoutDefinition) decode(values []interface{}) error {
	if len(values) != 2 && len(values) != 3 {
		return errors.New("Layout Definition should be [name, type, options?]")
	}

	ok := false
	self.Name, ok = values[0].(string)
	if !ok {
		return errors.New("Name should be a string")
	}

	self.Type, ok = values[1].(string)
	if !ok {
		return fmt.Errorf("%v: layout type should be a string", self.Name)
	}

	if len(values) == 3 {
		options, err := to_ordereddict(values[2])
		if err != nil {
			return fmt.Errorf("%v: layout options %v", self.Name, err)
		}

		for _, k := range options.Keys() {
			v, _ := options.Get(k)
			switch k {
			case "count":
				self.Count = v
			case "until_eof":
				self.UntilEOF = to_bool(v)
			case "index":
				self.Index = to_bool(v)
			default:
				return fmt.Errorf("%v: unknown layout option %v", self.Name, k)
			}
		}
	}

	return nil
}

// Convert the maps produced by the YAML or JSON decoders to ordered
// dicts with a stable key order.
func to_ordereddict(value interface{}) (*ordereddict.Dict, error) {
	result := ordereddict.NewDict()

	switch t := value.(type) {
	case *ordereddict.Dict:
		return t, nil

	case map[interface{}]interface{}:
		keys := make([]string, 0, len(t))
		values := make(map[string]interface{})
		for k, v := range t {
			opt_name, ok := k.(string)
			if !ok {
				// YAML allows integer keys (e.g. union choices).
				opt_name = fmt.Sprintf("%v", k)
			}
			keys = append(keys, opt_name)
			values[opt_name] = v
		}
		sort.Strings(keys)
		for _, k := range keys {
			v, err := to_option_value(values[k])
			if err != nil {
				return nil, err
			}
			result.Set(k, v)
		}

	case map[string]interface{}:
		keys := make([]string, 0, len(t))
		for k := range t {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			v, err := to_option_value(t[k])
			if err != nil {
				return nil, err
			}
			result.Set(k, v)
		}

	default:
		return nil, fmt.Errorf("should be a mapping not %T", value)
	}

	return result, nil
}

func to_option_value(value interface{}) (interface{}, error) {
	switch value.(type) {
	case map[interface{}]interface{}, map[string]interface{}:
		return to_ordereddict(value)
	}
	return value, nil
}
