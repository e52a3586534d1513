package vcodec

import (
	"fmt"

	"github.com/Velocidex/ordereddict"
)

// We only support 64 bit values - max size 64 / 7 = 10 bytes
const maxLeb128Size = 10

// LEB128 variable length integers. Values decode to uint64
// (uleb128) or int64 (sleb128) and are written in the shortest
// encoding, so a padded encoding in the input does not round trip.
type Leb128Parser struct {
	signed bool
}

func (self *Leb128Parser) New(model *TypeModel, options *ordereddict.Dict) (Parser, error) {
	if options != nil && options.Len() > 0 {
		return nil, fmt.Errorf("leb128 takes no options (got %v)", options.Keys())
	}
	return self, nil
}

func (self *Leb128Parser) Read(decoder *Decoder, this *ObjectNode) (interface{}, error) {
	var res uint64
	var shift uint

	for i := 0; i < maxLeb128Size; i++ {
		b, err := decoder.ReadByte()
		if err != nil {
			return nil, err
		}

		res |= uint64(b&0x7f) << shift
		shift += 7

		if b&0x80 == 0 {
			if self.signed {
				if shift < 64 && b&0x40 != 0 {
					res |= ^uint64(0) << shift
				}
				return int64(res), nil
			}
			return res, nil
		}
	}

	return nil, decoder.valueError(
		fmt.Errorf("leb128 longer than %d bytes", maxLeb128Size))
}

func (self *Leb128Parser) Write(encoder *Encoder, this *ObjectNode, value interface{}) error {
	buf, err := self.Encode(value)
	if err != nil {
		return encoder.valueError(err)
	}
	return encoder.WriteBytes(buf)
}

func (self *Leb128Parser) Encode(value interface{}) ([]byte, error) {
	var result []byte

	if !self.signed {
		raw, err := to_bits(value, 8, false)
		if err != nil {
			return nil, err
		}
		if _, is_uint := value.(uint64); !is_uint && int64(raw) < 0 {
			return nil, fmt.Errorf("uleb128 can not hold %d", int64(raw))
		}

		for {
			b := byte(raw & 0x7f)
			raw >>= 7
			if raw == 0 {
				return append(result, b), nil
			}
			result = append(result, b|0x80)
		}
	}

	i, ok := to_int64(value)
	if !ok {
		return nil, fmt.Errorf("expecting an integer not %T", value)
	}
	if u, ok := value.(uint64); ok && !fits_int(u) {
		return nil, fmt.Errorf("sleb128 can not hold %d", u)
	}

	for {
		b := byte(i & 0x7f)
		i >>= 7
		if (i == 0 && b&0x40 == 0) || (i == -1 && b&0x40 != 0) {
			return append(result, b), nil
		}
		result = append(result, b|0x80)
	}
}

func (self *Leb128Parser) Normalize(value interface{}) (interface{}, error) {
	_, err := self.Encode(value)
	if err != nil {
		return nil, err
	}

	if self.signed {
		i, _ := to_int64(value)
		return i, nil
	}
	return to_bits(value, 8, false)
}

func (self *Leb128Parser) Zero(root *DataRoot) interface{} {
	if self.signed {
		return int64(0)
	}
	return uint64(0)
}
