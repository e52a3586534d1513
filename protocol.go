package vcodec

import (
	"www.velocidex.com/golang/vfilter"
)

// NodeAssociative allows VQL lambdas to access fields of decoded
// nodes, e.g. "x => x.Header.count".
type NodeAssociative struct{}

func (self NodeAssociative) Applicable(a vfilter.Any, b vfilter.Any) bool {
	switch a.(type) {
	case *ObjectNode:
		_, ok := b.(string)
		if ok {
			return true
		}
	}
	return false
}

func (self NodeAssociative) Associative(scope vfilter.Scope,
	a vfilter.Any, b vfilter.Any) (vfilter.Any, bool) {
	lhs, ok := a.(*ObjectNode)
	if !ok {
		return vfilter.Null{}, false
	}

	rhs, ok := b.(string)
	if !ok {
		return vfilter.Null{}, false
	}

	switch rhs {
	case "TypeOf":
		return lhs.Type(), true

	case "IndexOf":
		return int64(lhs.Index()), true
	}

	value, pres := lhs.Get(rhs)
	if !pres {
		return vfilter.Null{}, false
	}

	// Cross references are plain integers to expressions.
	ref, ok := value.(Ref)
	if ok {
		return int64(ref), true
	}
	return value, true
}

func (self NodeAssociative) GetMembers(scope vfilter.Scope, a vfilter.Any) []string {
	lhs, ok := a.(*ObjectNode)
	if !ok {
		return nil
	}

	return lhs.Keys()
}
