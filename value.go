package vcodec

import (
	"errors"
	"fmt"

	"github.com/Velocidex/ordereddict"
)

// A ValueParser is a computed field: either a static value or an
// expression over the fields before it. It consumes no bytes and is
// never written.
type ValueParser struct {
	expression Expression
	value      interface{}
}

func (self *ValueParser) New(model *TypeModel, options *ordereddict.Dict) (Parser, error) {
	var args struct {
		Value interface{} `vcodec:"required,field=value,doc=A constant or an expression"`
	}

	err := ParseOptions(options, &args)
	if err != nil {
		return nil, fmt.Errorf("Value: %w", err)
	}

	if IsNil(args.Value) {
		return nil, errors.New("Value parser must specify a value")
	}

	result := &ValueParser{value: args.Value}

	// Strings are expressions; compile them here to trap syntax
	// errors at load time.
	_, ok := args.Value.(string)
	if ok {
		expression, err := CompileExpression(args.Value)
		if err != nil {
			return nil, fmt.Errorf("Value: %w", err)
		}
		result.expression = expression
		result.value = nil
	}

	return result, nil
}

func (self *ValueParser) Size() int {
	return 0
}

func (self *ValueParser) Read(decoder *Decoder, this *ObjectNode) (interface{}, error) {
	if self.expression == nil {
		return self.value, nil
	}

	value, err := self.expression.Eval(decoder.EvalContext(), this)
	if err != nil {
		return nil, &ExpressionError{
			Path: decoder.Path(), Expression: self.expression.String(), Err: err}
	}
	return value, nil
}

func (self *ValueParser) Write(encoder *Encoder, this *ObjectNode, value interface{}) error {
	return nil
}

func (self *ValueParser) Zero(root *DataRoot) interface{} {
	return nil
}
