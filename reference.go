package vcodec

import (
	"fmt"

	"github.com/Velocidex/ordereddict"
)

type RefParserOptions struct {
	Type   string `vcodec:"field=type,doc=The integer type of the index (default int32)"`
	Target string `vcodec:"field=target,doc=The struct the referenced node must be"`
}

// A RefParser reads a cross reference: an index into the root's
// registry of nodes. Negative indexes are null references.
type RefParser struct {
	options RefParserOptions
	storage *IntParser
}

func (self *RefParser) New(model *TypeModel, options *ordereddict.Dict) (Parser, error) {
	result := &RefParser{}
	err := ParseOptions(options, &result.options)
	if err != nil {
		return nil, fmt.Errorf("Ref: %w", err)
	}

	if result.options.Type == "" {
		result.options.Type = "int32"
	}

	parser, pres := model.types[result.options.Type]
	storage, ok := parser.(*IntParser)
	if !pres || !ok || storage.float {
		return nil, fmt.Errorf("Ref: type %v is not an integer type",
			result.options.Type)
	}
	result.storage = storage

	if result.options.Target != "" {
		_, pres := model.structs[result.options.Target]
		if !pres {
			return nil, fmt.Errorf("Ref: target %v is not a defined struct",
				result.options.Target)
		}
	}

	return result, nil
}

// Name of the struct referenced nodes must derive from (may be
// empty).
func (self *RefParser) Target() string {
	return self.options.Target
}

func (self *RefParser) Size() int {
	return self.storage.size
}

func (self *RefParser) Read(decoder *Decoder, this *ObjectNode) (interface{}, error) {
	value, err := self.storage.Read(decoder, this)
	if err != nil {
		return nil, err
	}

	i, _ := to_int64(value)
	return Ref(i), nil
}

func (self *RefParser) Write(encoder *Encoder, this *ObjectNode, value interface{}) error {
	ref, err := self.Normalize(value)
	if err != nil {
		return encoder.valueError(err)
	}

	i := int64(ref.(Ref))
	if i < 0 && !self.storage.signed {
		return encoder.valueError(fmt.Errorf(
			"null reference can not be stored in %v", self.storage.type_name))
	}
	return self.storage.Write(encoder, this, i)
}

// Nodes are converted to their index in their root.
func (self *RefParser) Normalize(value interface{}) (interface{}, error) {
	switch t := value.(type) {
	case Ref:
		return t, nil

	case *ObjectNode:
		if self.options.Target != "" && !t.spec.IsA(self.options.Target) {
			return nil, fmt.Errorf("reference to %v node, expecting %v",
				t.spec.name, self.options.Target)
		}

		idx := t.Index()
		if idx < 0 {
			return nil, fmt.Errorf("%v node is not in the reference registry",
				t.spec.name)
		}
		return Ref(idx), nil
	}

	i, ok := to_int64(value)
	if !ok {
		return nil, fmt.Errorf("expecting a reference not %T", value)
	}
	return Ref(i), nil
}

func (self *RefParser) Zero(root *DataRoot) interface{} {
	return Ref(-1)
}
