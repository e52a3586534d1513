package spells

import (
	"errors"

	"github.com/Velocidex/ordereddict"
	"www.velocidex.com/golang/vcodec"
)

// Set a field of every node of a type. String values are expressions
// over the node's fields, e.g. "size * 2" or "x => x.name", unless
// literal is set.
type setFieldSpell struct {
	options struct {
		Type    string            `vcodec:"required,field=type,doc=The struct whose nodes are changed"`
		Field   string            `vcodec:"required,field=field,doc=The field to set"`
		Value   interface{}       `vcodec:"required,field=value,doc=A constant or an expression (strings are expressions so quote literal text or set literal)"`
		Literal bool              `vcodec:"field=literal,doc=Use a string value as is rather than as an expression"`
		Cond    vcodec.Expression `vcodec:"field=cond,doc=Only change nodes where this is true"`
	}

	expression vcodec.Expression
}

func newSetFieldSpell(options *ordereddict.Dict) (Spell, error) {
	result := &setFieldSpell{}
	err := vcodec.ParseOptions(options, &result.options)
	if err != nil {
		return nil, err
	}

	if vcodec.IsNil(result.options.Value) {
		return nil, errors.New("value must be specified")
	}

	_, ok := result.options.Value.(string)
	if ok && !result.options.Literal {
		result.expression, err = vcodec.CompileExpression(result.options.Value)
		if err != nil {
			return nil, err
		}
	}
	return result, nil
}

func (self *setFieldSpell) Name() string   { return "set_field" }
func (self *setFieldSpell) ReadOnly() bool { return false }

func (self *setFieldSpell) VisitNode(ctx *Context, node *vcodec.ObjectNode) (Action, error) {
	if !node.Spec().IsA(self.options.Type) {
		return Continue, nil
	}

	if self.options.Cond != nil {
		ok, err := vcodec.EvalBool(self.options.Cond, ctx.EvalContext(), node)
		if err != nil || !ok {
			return Continue, err
		}
	}

	value := self.options.Value
	if self.expression != nil {
		var err error
		value, err = self.expression.Eval(ctx.EvalContext(), node)
		if err != nil {
			return Continue, err
		}
	}

	return Continue, node.Set(self.options.Field, value)
}
