package vcodec

import (
	"github.com/Velocidex/ordereddict"
	"www.velocidex.com/golang/vfilter"
)

// MakeScope returns a scope which knows how to navigate decoded
// nodes from VQL lambdas.
func MakeScope() vfilter.Scope {
	result := vfilter.NewScope()
	result.AddProtocolImpl(&NodeAssociative{})

	return result
}

// Derive the scope a single read or write operates in. The
// parameters become free variables of lambda expressions.
func subScope(scope vfilter.Scope, parameters *ordereddict.Dict) vfilter.Scope {
	if scope == nil {
		scope = MakeScope()
	}

	subscope := scope.Copy()
	if parameters != nil {
		subscope.AppendVars(parameters)
	}
	return subscope
}
