package vcodec

import (
	"errors"
	"fmt"
)

// A SchemaError means the format description itself is unusable. It
// is always returned before any data is touched.
type SchemaError struct {
	// The struct or section the problem was found in (may be empty).
	Type  string
	Field string
	Err   error
}

func (self *SchemaError) Error() string {
	switch {
	case self.Type != "" && self.Field != "":
		return fmt.Sprintf("schema: %v.%v: %v", self.Type, self.Field, self.Err)
	case self.Type != "":
		return fmt.Sprintf("schema: %v: %v", self.Type, self.Err)
	}
	return fmt.Sprintf("schema: %v", self.Err)
}

func (self *SchemaError) Unwrap() error {
	return self.Err
}

func schemaErrorf(type_name, field string, format string, args ...interface{}) error {
	return &SchemaError{
		Type:  type_name,
		Field: field,
		Err:   fmt.Errorf(format, args...),
	}
}

// Returned when the stream ends before the current field is complete.
type TruncatedStreamError struct {
	// Path of the field being decoded, e.g. Header.items[2]
	Path string

	// Byte offset where the short read started.
	Offset int64
	Need   int
	Have   int
}

func (self *TruncatedStreamError) Error() string {
	return fmt.Sprintf("truncated stream at offset %#x reading %v: need %d bytes, have %d",
		self.Offset, self.Path, self.Need, self.Have)
}

// Returned when an array length or string length is not usable:
// negative, too large, or inconsistent with the value being written.
type InvalidSizeError struct {
	Path   string
	Offset int64
	Size   int64
	Reason string
}

func (self *InvalidSizeError) Error() string {
	if self.Reason != "" {
		return fmt.Sprintf("invalid size %d at offset %#x for %v: %v",
			self.Size, self.Offset, self.Path, self.Reason)
	}
	return fmt.Sprintf("invalid size %d at offset %#x for %v",
		self.Size, self.Offset, self.Path)
}

// Returned when an expression can not be evaluated or yields a value
// of the wrong kind.
type ExpressionError struct {
	Path       string
	Expression string
	Err        error
}

func (self *ExpressionError) Error() string {
	return fmt.Sprintf("%v: expression '%v': %v", self.Path, self.Expression, self.Err)
}

func (self *ExpressionError) Unwrap() error {
	return self.Err
}

// Returned when a node value can not be encoded with its field type.
type ValueError struct {
	Path   string
	Offset int64
	Err    error
}

func (self *ValueError) Error() string {
	return fmt.Sprintf("%v at offset %#x: %v", self.Path, self.Offset, self.Err)
}

func (self *ValueError) Unwrap() error {
	return self.Err
}

// Kind names the class of an error for per file reports.
func Kind(err error) string {
	var schema_error *SchemaError
	var truncated_error *TruncatedStreamError
	var size_error *InvalidSizeError
	var expression_error *ExpressionError
	var value_error *ValueError

	switch {
	case err == nil:
		return ""
	case errors.As(err, &schema_error):
		return "SchemaError"
	case errors.As(err, &truncated_error):
		return "TruncatedStreamError"
	case errors.As(err, &size_error):
		return "InvalidSizeError"
	case errors.As(err, &expression_error):
		return "ExpressionError"
	case errors.As(err, &value_error):
		return "ValueError"
	}

	// Allow other packages to name their own errors.
	var kinder interface{ Kind() string }
	if errors.As(err, &kinder) {
		return kinder.Kind()
	}
	return "Error"
}
