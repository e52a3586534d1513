package vcodec

import (
	"encoding/json"
	"fmt"

	"github.com/davecgh/go-spew/spew"
	"www.velocidex.com/golang/vfilter"
)

func Debug(arg interface{}) {
	spew.Dump(arg)
}

func JsonDump(v interface{}) {
	fmt.Println(StringIndent(v))
}

func StringIndent(v interface{}) string {
	result, err := json.MarshalIndent(v, "", " ")
	if err != nil {
		return fmt.Sprintf("<error: %v>", err)
	}
	return string(result)
}

// Log only when the DEBUG_VCODEC variable is set in the scope.
func ScopeDebug(scope vfilter.Scope, fmt string, args ...interface{}) {
	if scope == nil {
		return
	}
	value, pres := scope.Resolve("DEBUG_VCODEC")
	if pres && scope.Bool(value) {
		scope.Log("DEBUG:vcodec: "+fmt, args...)
	}
}
