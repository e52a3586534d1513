package vcodec

import (
	"fmt"

	"github.com/Velocidex/ordereddict"
)

type UnionOptions struct {
	Selector Expression        `vcodec:"required,field=selector,doc=Expression choosing the member type"`
	Choices  *ordereddict.Dict `vcodec:"required,field=choices,doc=A mapping between selector values and type names"`
}

// A Union reads one of several types chosen by its selector. The
// value "default" in choices names the type used when no other choice
// matches.
type Union struct {
	options UnionOptions

	// All choices are resolved when the schema loads.
	choices map[string]Parser
	names   map[string]string
}

func (self *Union) New(model *TypeModel, options *ordereddict.Dict) (Parser, error) {
	result := &Union{
		choices: make(map[string]Parser),
		names:   make(map[string]string),
	}

	err := ParseOptions(options, &result.options)
	if err != nil {
		return nil, fmt.Errorf("Union: %w", err)
	}

	for _, k := range result.options.Choices.Keys() {
		v, _ := result.options.Choices.Get(k)
		type_name, ok := v.(string)
		if !ok {
			return nil, fmt.Errorf("Union: choice %v should name a type not %T", k, v)
		}

		// Struct shells exist already so forward references
		// resolve.
		parser, err := model.GetParser(type_name, nil)
		if err != nil {
			return nil, fmt.Errorf("Union: choice %v: %w", k, err)
		}
		result.choices[k] = parser
		result.names[k] = type_name
	}

	return result, nil
}

func (self *Union) choose(ctx *EvalContext, env Env) (Parser, string, error) {
	value, err := self.options.Selector.Eval(ctx, env)
	if err != nil {
		return nil, "", err
	}

	key := fmt.Sprintf("%v", value)
	parser, pres := self.choices[key]
	if pres {
		return parser, key, nil
	}

	parser, pres = self.choices["default"]
	if pres {
		return parser, "default", nil
	}
	return nil, "", fmt.Errorf("no union choice for %v", key)
}

func (self *Union) Read(decoder *Decoder, this *ObjectNode) (interface{}, error) {
	parser, _, err := self.choose(decoder.EvalContext(), this)
	if err != nil {
		return nil, &ExpressionError{
			Path:       decoder.Path(),
			Expression: self.options.Selector.String(),
			Err:        err,
		}
	}
	return parser.Read(decoder, this)
}

func (self *Union) Write(encoder *Encoder, this *ObjectNode, value interface{}) error {
	parser, _, err := self.choose(encoder.EvalContext(), encoder.Env())
	if err != nil {
		return &ExpressionError{
			Path:       encoder.Path(),
			Expression: self.options.Selector.String(),
			Err:        err,
		}
	}
	return parser.Write(encoder, this, value)
}
