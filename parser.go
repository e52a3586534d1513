// Implements a schema driven binary codec.
package vcodec

import (
	"github.com/Velocidex/ordereddict"
)

// Parsers are objects which know how to read and write a particular
// type. Parsers are instantiated once when the schema is loaded and
// reused for every file of the format, so they must never hold per
// file state.
type Parser interface {
	// Given options, this returns a new configured parser
	New(model *TypeModel, options *ordereddict.Dict) (Parser, error)

	// Read one value from the decoder's stream. this is the
	// struct currently being decoded; its earlier fields are
	// already populated.
	Read(decoder *Decoder, this *ObjectNode) (interface{}, error)

	// Write value to the encoder's stream.
	Write(encoder *Encoder, this *ObjectNode, value interface{}) error
}

// Parsers of fixed width types report their size in bytes.
type Sizer interface {
	Size() int
}

// Parsers may convert values assigned by spells to the canonical
// decoded representation (e.g. int -> uint64).
type Normalizer interface {
	Normalize(value interface{}) (interface{}, error)
}

// Parsers which can produce a value when a field is missing from a
// node that is written.
type Zeroer interface {
	Zero(root *DataRoot) interface{}
}

func SizeOf(obj interface{}) int {
	sizer, ok := obj.(Sizer)
	if ok {
		return sizer.Size()
	}
	return 0
}
