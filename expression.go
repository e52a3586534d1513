package vcodec

import (
	"context"
	"errors"
	"fmt"
	"math"
	"reflect"
	"regexp"
	"strconv"
	"strings"

	"github.com/Velocidex/ordereddict"
	"github.com/expr-lang/expr"
	"github.com/expr-lang/expr/vm"
	"www.velocidex.com/golang/vfilter"
)

var (
	lambdaRegex = regexp.MustCompile("^[a-zA-Z0-9_]+ *=>")
)

// Env is the set of named values an expression is evaluated
// against. Both *ObjectNode and *ordereddict.Dict satisfy it.
type Env interface {
	Get(name string) (interface{}, bool)
	Keys() []string
}

// An Expression is a pure function of already decoded values and the
// read parameters.
type Expression interface {
	Eval(ctx *EvalContext, this Env) (interface{}, error)
	String() string
}

// EvalContext carries what an expression may see besides the
// current struct.
type EvalContext struct {
	Ctx        context.Context
	Scope      vfilter.Scope
	Parameters *ordereddict.Dict

	// Projections of arrays and nodes which do not change while the
	// context is alive, keyed by identity. Only set by the codec since
	// values are complete and unchanged for the duration of a single
	// read or write.
	projections map[projectionKey]projection
}

type projectionKey struct {
	ptr uintptr
	len int
}

// The source is held so its address is not reused while cached.
type projection struct {
	source interface{}
	value  interface{}
}

func newCodecEvalContext(ctx context.Context, root *DataRoot) *EvalContext {
	return &EvalContext{
		Ctx:         ctx,
		Scope:       root.scope,
		Parameters:  root.parameters,
		projections: make(map[projectionKey]projection),
	}
}

// Compile an expression given in a schema. Integers are constants,
// strings of the form "x => ..." are VQL lambdas, anything else is a
// C style expression such as "count * 4" or "version >= 0x14000000".
func CompileExpression(definition interface{}) (Expression, error) {
	if IsNil(definition) {
		return nil, errors.New("empty expression")
	}

	value, ok := to_int64(definition)
	if ok {
		return &constantExpression{value: value}, nil
	}

	str, ok := definition.(string)
	if !ok {
		return nil, fmt.Errorf("expression should be a string or integer, not %T",
			definition)
	}

	str = strings.TrimSpace(str)
	if str == "" {
		return nil, errors.New("empty expression")
	}

	value, err := strconv.ParseInt(str, 0, 64)
	if err == nil {
		return &constantExpression{value: value}, nil
	}

	if lambdaRegex.MatchString(str) {
		lambda, err := vfilter.ParseLambda(str)
		if err != nil {
			return nil, fmt.Errorf("lambda '%v': %w", str, err)
		}
		return &lambdaExpression{source: str, lambda: lambda}, nil
	}

	program, err := expr.Compile(str)
	if err != nil {
		return nil, fmt.Errorf("expression '%v': %w", str, err)
	}
	return &cExpression{source: str, program: program}, nil
}

type constantExpression struct {
	value int64
}

func (self *constantExpression) Eval(ctx *EvalContext, this Env) (interface{}, error) {
	return self.value, nil
}

func (self *constantExpression) String() string {
	return strconv.FormatInt(self.value, 10)
}

type lambdaExpression struct {
	source string
	lambda *vfilter.Lambda
}

func (self *lambdaExpression) Eval(ctx *EvalContext, this Env) (interface{}, error) {
	if ctx == nil || ctx.Scope == nil {
		return nil, errors.New("lambda evaluated without a scope")
	}

	go_ctx := ctx.Ctx
	if go_ctx == nil {
		go_ctx = context.Background()
	}

	result := self.lambda.Reduce(go_ctx, ctx.Scope, []vfilter.Any{this})
	switch result.(type) {
	case vfilter.Null, *vfilter.Null, nil:
		return nil, errors.New("lambda evaluated to null")
	}
	return result, nil
}

func (self *lambdaExpression) String() string {
	return self.source
}

type cExpression struct {
	source  string
	program *vm.Program
}

func (self *cExpression) Eval(ctx *EvalContext, this Env) (interface{}, error) {
	env := make(map[string]interface{})
	if ctx != nil && ctx.Parameters != nil {
		for _, k := range ctx.Parameters.Keys() {
			v, _ := ctx.Parameters.Get(k)
			env[k] = ctx.project(v)
		}
	}

	// Sibling fields shadow parameters of the same name.
	if !IsNil(this) {
		for _, k := range this.Keys() {
			v, _ := this.Get(k)
			env[k] = ctx.project(v)
		}
	}

	result, err := expr.Run(self.program, env)
	if err != nil {
		return nil, err
	}
	if result == nil {
		return nil, errors.New("expression evaluated to nil")
	}
	return result, nil
}

func (self *cExpression) String() string {
	return self.source
}

// Project decoded values into the plain types expr operates on. Arrays
// and nodes are projected once per context when it caches them.
func (self *EvalContext) project(value interface{}) interface{} {
	switch t := value.(type) {
	case uint64:
		if fits_int(t) {
			return int(t)
		}
		return t
	case int64:
		return int(t)
	case float32:
		return float64(t)
	case Ref:
		return int(t)
	case *ObjectNode:
		return self.cached(t, projectionKey{ptr: reflect.ValueOf(t).Pointer()},
			func() interface{} { return self.projectEnv(t) })
	case *ordereddict.Dict:
		return self.projectEnv(t)
	case []interface{}:
		if len(t) == 0 {
			return []interface{}{}
		}
		return self.cached(t, projectionKey{ptr: reflect.ValueOf(t).Pointer(), len: len(t)},
			func() interface{} {
				result := make([]interface{}, 0, len(t))
				for _, item := range t {
					result = append(result, self.project(item))
				}
				return result
			})
	}
	return value
}

func (self *EvalContext) projectEnv(env Env) map[string]interface{} {
	result := make(map[string]interface{})
	for _, k := range env.Keys() {
		v, _ := env.Get(k)
		result[k] = self.project(v)
	}
	return result
}

func (self *EvalContext) cached(source interface{}, key projectionKey,
	project func() interface{}) interface{} {
	if self == nil || self.projections == nil {
		return project()
	}

	result, pres := self.projections[key]
	if !pres {
		result = projection{source: source, value: project()}
		self.projections[key] = result
	}
	return result.value
}

// Evaluate an expression as a count or length.
func EvalInt64(expression Expression, ctx *EvalContext, this Env) (int64, error) {
	result, err := expression.Eval(ctx, this)
	if err != nil {
		return 0, err
	}

	// Division in C style expressions yields floats. Only whole
	// numbers are counts.
	switch t := result.(type) {
	case float32:
		return float_to_int64(float64(t))
	case float64:
		return float_to_int64(t)
	}

	value, ok := to_int64(result)
	if !ok {
		return 0, fmt.Errorf("expecting an integer not %T (%v)", result, result)
	}
	return value, nil
}

func float_to_int64(value float64) (int64, error) {
	if math.IsNaN(value) || math.IsInf(value, 0) ||
		value != math.Trunc(value) ||
		value < math.MinInt64 || value >= math.MaxInt64 {
		return 0, fmt.Errorf("expecting an integer not %v", value)
	}
	return int64(value), nil
}

// Evaluate an expression as a presence condition.
func EvalBool(expression Expression, ctx *EvalContext, this Env) (bool, error) {
	result, err := expression.Eval(ctx, this)
	if err != nil {
		return false, err
	}
	return to_bool(result), nil
}
