//  Every model contains some basic built in types that make it easier
//  to describe common structs. The model is a mapping between the
//  generic names of types and the corresponding parsers.

package vcodec

import (
	"encoding/binary"
	"fmt"
	"math"

	"github.com/Velocidex/ordereddict"
)

// Parse various sizes of ints and floats.
type IntParser struct {
	type_name string
	size      int
	signed    bool
	float     bool
	order     binary.ByteOrder
}

// IntParser does not take options
func (self *IntParser) New(model *TypeModel, options *ordereddict.Dict) (Parser, error) {
	if options != nil && options.Len() > 0 {
		return nil, fmt.Errorf("%v takes no options (got %v)",
			self.type_name, options.Keys())
	}
	return self, nil
}

func (self *IntParser) Size() int {
	return self.size
}

func (self *IntParser) Signed() bool {
	return self.signed
}

func (self *IntParser) Order() binary.ByteOrder {
	return self.order
}

func (self *IntParser) String() string {
	return self.type_name
}

func (self *IntParser) Read(decoder *Decoder, this *ObjectNode) (interface{}, error) {
	buf, err := decoder.ReadBytes(self.size)
	if err != nil {
		return nil, err
	}
	return self.Decode(buf), nil
}

func (self *IntParser) Write(encoder *Encoder, this *ObjectNode, value interface{}) error {
	buf, err := self.Encode(value)
	if err != nil {
		return encoder.valueError(err)
	}
	return encoder.WriteBytes(buf)
}

// Decode the raw bytes into uint64, int64, float32 or float64. Single
// precision values stay float32 since widening quiets signaling NaNs.
func (self *IntParser) Decode(buf []byte) interface{} {
	raw := self.raw(buf)

	switch {
	case self.float && self.size == 4:
		return math.Float32frombits(uint32(raw))
	case self.float:
		return math.Float64frombits(raw)
	case self.signed:
		return sign_extend(raw, uint(self.size*8))
	}
	return raw
}

func (self *IntParser) raw(buf []byte) uint64 {
	switch self.size {
	case 1:
		return uint64(buf[0])
	case 2:
		return uint64(self.order.Uint16(buf))
	case 4:
		return uint64(self.order.Uint32(buf))
	}
	return self.order.Uint64(buf)
}

func (self *IntParser) Encode(value interface{}) ([]byte, error) {
	var raw uint64

	if self.float {
		f, err := self.Normalize(value)
		if err != nil {
			return nil, err
		}
		switch t := f.(type) {
		case float32:
			raw = uint64(math.Float32bits(t))
		case float64:
			raw = math.Float64bits(t)
		}

	} else {
		var err error
		raw, err = to_bits(value, self.size, self.signed)
		if err != nil {
			return nil, fmt.Errorf("%v: %w", self.type_name, err)
		}
	}

	buf := make([]byte, self.size)
	switch self.size {
	case 1:
		buf[0] = byte(raw)
	case 2:
		self.order.PutUint16(buf, uint16(raw))
	case 4:
		self.order.PutUint32(buf, uint32(raw))
	default:
		self.order.PutUint64(buf, raw)
	}
	return buf, nil
}

func (self *IntParser) Normalize(value interface{}) (interface{}, error) {
	if self.float {
		if f32, ok := value.(float32); ok && self.size == 4 {
			return f32, nil
		}

		f, ok := to_float64(value)
		if !ok {
			return nil, fmt.Errorf("%v: expecting a number not %T", self.type_name, value)
		}
		if self.size == 4 {
			return float32(f), nil
		}
		return f, nil
	}

	raw, err := to_bits(value, self.size, self.signed)
	if err != nil {
		return nil, fmt.Errorf("%v: %w", self.type_name, err)
	}

	if self.signed {
		return sign_extend(raw, uint(self.size*8)), nil
	}
	return raw, nil
}

func (self *IntParser) Zero(root *DataRoot) interface{} {
	switch {
	case self.float && self.size == 4:
		return float32(0)
	case self.float:
		return float64(0)
	case self.signed:
		return int64(0)
	}
	return uint64(0)
}

func NewIntParser(type_name string, size int, signed bool, order binary.ByteOrder) *IntParser {
	return &IntParser{
		type_name: type_name,
		size:      size,
		signed:    signed,
		order:     order,
	}
}

func NewFloatParser(type_name string, size int, order binary.ByteOrder) *IntParser {
	return &IntParser{
		type_name: type_name,
		size:      size,
		signed:    true,
		float:     true,
		order:     order,
	}
}

// A single byte boolean. Bytes other than 0 and 1 are kept as
// integers so they survive a round trip.
type BoolParser struct{}

func (self *BoolParser) New(model *TypeModel, options *ordereddict.Dict) (Parser, error) {
	return self, nil
}

func (self *BoolParser) Size() int {
	return 1
}

func (self *BoolParser) Read(decoder *Decoder, this *ObjectNode) (interface{}, error) {
	buf, err := decoder.ReadBytes(1)
	if err != nil {
		return nil, err
	}

	switch buf[0] {
	case 0:
		return false, nil
	case 1:
		return true, nil
	}
	return uint64(buf[0]), nil
}

func (self *BoolParser) Write(encoder *Encoder, this *ObjectNode, value interface{}) error {
	raw, err := to_bits(value, 1, false)
	if err != nil {
		return encoder.valueError(err)
	}
	return encoder.WriteBytes([]byte{byte(raw)})
}

func (self *BoolParser) Normalize(value interface{}) (interface{}, error) {
	switch t := value.(type) {
	case bool:
		return t, nil
	}
	raw, err := to_bits(value, 1, false)
	if err != nil {
		return nil, err
	}
	return self.fromRaw(raw), nil
}

func (self *BoolParser) fromRaw(raw uint64) interface{} {
	switch raw {
	case 0:
		return false
	case 1:
		return true
	}
	return raw
}

func (self *BoolParser) Zero(root *DataRoot) interface{} {
	return false
}

func AddModel(model *TypeModel) {
	le := binary.LittleEndian
	be := binary.BigEndian

	for _, size := range []int{1, 2, 4, 8} {
		bits := size * 8
		uname := fmt.Sprintf("uint%d", bits)
		sname := fmt.Sprintf("int%d", bits)

		model.types[uname] = NewIntParser(uname, size, false, le)
		model.types[sname] = NewIntParser(sname, size, true, le)

		// Big endian variants have two spellings.
		model.types[uname+"be"] = NewIntParser(uname+"be", size, false, be)
		model.types[sname+"be"] = NewIntParser(sname+"be", size, true, be)
		model.types[uname+"b"] = model.types[uname+"be"]
		model.types[sname+"b"] = model.types[sname+"be"]
	}

	model.types["float32"] = NewFloatParser("float32", 4, le)
	model.types["float64"] = NewFloatParser("float64", 8, le)
	model.types["float32be"] = NewFloatParser("float32be", 4, be)
	model.types["float64be"] = NewFloatParser("float64be", 8, be)

	model.types["bool"] = &BoolParser{}
	model.types["uleb128"] = &Leb128Parser{}
	model.types["sleb128"] = &Leb128Parser{signed: true}

	model.types["String"] = &StringParser{}
	model.types["Value"] = &ValueParser{}
	model.types["Union"] = &Union{}
	model.types["Ref"] = &RefParser{}
	model.types["Timestamp"] = &EpochTimestamp{}
	model.types["WinFileTime"] = &EpochTimestamp{windows: true}

	// Aliases
	model.types["int"] = model.types["int32"]
	model.types["char"] = model.types["int8"]
	model.types["byte"] = model.types["uint8"]
	model.types["short"] = model.types["int16"]
	model.types["short int"] = model.types["int16"]
	model.types["float"] = model.types["float32"]
	model.types["double"] = model.types["float64"]
	model.types["unsigned char"] = model.types["uint8"]
	model.types["unsigned int"] = model.types["uint32"]
	model.types["unsigned long"] = model.types["uint32"]
	model.types["unsigned long long"] = model.types["uint64"]
	model.types["unsigned short"] = model.types["uint16"]
}

// The smallest unsigned type of the given byte order holding bits.
func backingParser(bits int, order binary.ByteOrder) *IntParser {
	size := 8
	switch {
	case bits <= 8:
		size = 1
	case bits <= 16:
		size = 2
	case bits <= 32:
		size = 4
	}
	return NewIntParser(fmt.Sprintf("uint%d", size*8), size, false, order)
}
