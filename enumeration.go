package vcodec

import (
	"fmt"

	"github.com/Velocidex/ordereddict"
)

// An EnumSpec stores named integer values. Known values decode to
// their names, unknown values are kept as integers so they survive a
// round trip.
type EnumSpec struct {
	name    string
	storage *IntParser

	names  map[int64]string
	values map[string]int64

	// Names in declaration order.
	order []string
}

func NewEnumSpec(model *TypeModel, definition *EnumDefinition) (*EnumSpec, error) {
	parser, pres := model.types[definition.Type]
	storage, ok := parser.(*IntParser)
	if !pres || !ok || storage.float {
		return nil, fmt.Errorf("enum storage must be an integer type not %v",
			definition.Type)
	}

	result := &EnumSpec{
		name:    definition.Name,
		storage: storage,
		names:   make(map[int64]string),
		values:  make(map[string]int64),
	}

	if definition.Choices == nil || definition.Choices.Len() == 0 {
		return nil, fmt.Errorf("enum without choices")
	}

	for _, k := range definition.Choices.Keys() {
		v, _ := definition.Choices.Get(k)
		value, ok := to_int64(v)
		if !ok {
			return nil, fmt.Errorf("enum choice %v should be an integer not %T", k, v)
		}

		_, err := to_bits(value, storage.size, storage.signed)
		if err != nil {
			return nil, fmt.Errorf("enum choice %v: %w", k, err)
		}

		other, pres := result.names[value]
		if pres {
			return nil, fmt.Errorf("enum choices %v and %v share the value %d",
				other, k, value)
		}

		result.names[value] = k
		result.values[k] = value
		result.order = append(result.order, k)
	}

	return result, nil
}

func (self *EnumSpec) Name() string {
	return self.name
}

// Names in declaration order.
func (self *EnumSpec) Names() []string {
	return append([]string{}, self.order...)
}

func (self *EnumSpec) Value(name string) (int64, bool) {
	value, pres := self.values[name]
	return value, pres
}

// EnumSpec does not take options
func (self *EnumSpec) New(model *TypeModel, options *ordereddict.Dict) (Parser, error) {
	if options != nil && options.Len() > 0 {
		return nil, fmt.Errorf("enum %v takes no options (got %v)",
			self.name, options.Keys())
	}
	return self, nil
}

func (self *EnumSpec) Size() int {
	return self.storage.size
}

func (self *EnumSpec) Read(decoder *Decoder, this *ObjectNode) (interface{}, error) {
	value, err := self.storage.Read(decoder, this)
	if err != nil {
		return nil, err
	}
	return self.fromInt(value), nil
}

func (self *EnumSpec) fromInt(value interface{}) interface{} {
	i, _ := to_int64(value)
	name, pres := self.names[i]
	if pres {
		return name
	}
	return value
}

func (self *EnumSpec) Write(encoder *Encoder, this *ObjectNode, value interface{}) error {
	str, ok := value.(string)
	if ok {
		i, pres := self.values[str]
		if !pres {
			return encoder.valueError(fmt.Errorf("%v has no choice %v", self.name, str))
		}
		value = i
	}
	return self.storage.Write(encoder, this, value)
}

func (self *EnumSpec) Normalize(value interface{}) (interface{}, error) {
	str, ok := value.(string)
	if ok {
		_, pres := self.values[str]
		if !pres {
			return nil, fmt.Errorf("%v has no choice %v", self.name, str)
		}
		return str, nil
	}

	normalized, err := self.storage.Normalize(value)
	if err != nil {
		return nil, err
	}
	return self.fromInt(normalized), nil
}

func (self *EnumSpec) Zero(root *DataRoot) interface{} {
	return self.fromInt(self.storage.Zero(root))
}
