package vcodec

import (
	"bytes"
	"encoding/hex"
	"fmt"
	"strings"

	"github.com/Velocidex/ordereddict"
	"golang.org/x/text/encoding"
	"golang.org/x/text/encoding/charmap"
	"golang.org/x/text/encoding/japanese"
	"golang.org/x/text/encoding/unicode"
)

var (
	defaultTerm = "\x00"
)

const defaultMaxLength = 65536

type StringParserOptions struct {
	Length     Expression `vcodec:"field=length,doc=Length of the string in bytes (may be an expression)"`
	LengthType string     `vcodec:"field=length_type,doc=Integer type of a length prefix"`
	MaxLength  int64      `vcodec:"field=max_length,doc=Largest length accepted from the data"`
	Term       *string    `vcodec:"field=term,doc=Terminating string"`
	TermHex    *string    `vcodec:"field=term_hex,doc=A terminator in hex encoding"`
	Encoding   string     `vcodec:"field=encoding,doc=utf8, utf16, utf16be, latin1, cp1252 or shift_jis"`
	Bytes      bool       `vcodec:"field=byte_string,doc=Keep the raw bytes rather than decoding them"`
}

// A StringParser reads three kinds of strings: fixed length (length),
// length prefixed (length_type) and terminated (neither).
type StringParser struct {
	options StringParserOptions

	prefix   *IntParser
	encoding encoding.Encoding
	term     []byte

	// Terminators of multi byte encodings are aligned.
	step int
}

func (self *StringParser) New(model *TypeModel, options *ordereddict.Dict) (Parser, error) {
	result := &StringParser{step: 1}
	err := ParseOptions(options, &result.options)
	if err != nil {
		return nil, fmt.Errorf("StringParser: %w", err)
	}

	if result.options.MaxLength == 0 {
		result.options.MaxLength = defaultMaxLength
	}

	if result.options.Length != nil && result.options.LengthType != "" {
		return nil, fmt.Errorf("StringParser: length and length_type are exclusive")
	}

	if result.options.LengthType != "" {
		parser, ok := model.types[result.options.LengthType].(*IntParser)
		if !ok || parser.float {
			return nil, fmt.Errorf("StringParser: length_type %v is not an integer type",
				result.options.LengthType)
		}
		result.prefix = parser
	}

	switch strings.ToLower(result.options.Encoding) {
	case "utf8", "utf-8", "":
	case "utf16", "utf-16", "utf16le":
		result.encoding = unicode.UTF16(unicode.LittleEndian, unicode.IgnoreBOM)
		result.step = 2
	case "utf16be":
		result.encoding = unicode.UTF16(unicode.BigEndian, unicode.IgnoreBOM)
		result.step = 2
	case "latin1", "iso8859-1":
		result.encoding = charmap.ISO8859_1
	case "cp1252", "windows-1252":
		result.encoding = charmap.Windows1252
	case "shift_jis", "sjis":
		result.encoding = japanese.ShiftJIS
	default:
		return nil, fmt.Errorf("StringParser: unknown encoding %v",
			result.options.Encoding)
	}

	term := defaultTerm
	if result.options.Term != nil {
		term = *result.options.Term
	}

	if result.options.TermHex != nil {
		decoded, err := hex.DecodeString(*result.options.TermHex)
		if err != nil {
			return nil, fmt.Errorf("StringParser: term_hex: %w", err)
		}
		result.term = decoded

	} else {
		result.term, err = result.encode(term)
		if err != nil {
			return nil, fmt.Errorf("StringParser: term: %w", err)
		}
	}

	if result.options.Length == nil && result.prefix == nil && len(result.term) == 0 {
		return nil, fmt.Errorf("StringParser: a string needs a length, length_type or term")
	}

	return result, nil
}

func (self *StringParser) encode(value string) ([]byte, error) {
	if self.encoding == nil {
		return []byte(value), nil
	}
	return self.encoding.NewEncoder().Bytes([]byte(value))
}

func (self *StringParser) decode(buf []byte) (interface{}, error) {
	if self.options.Bytes {
		return buf, nil
	}

	if self.encoding == nil {
		return string(buf), nil
	}

	decoded, err := self.encoding.NewDecoder().Bytes(buf)
	if err != nil {
		return nil, err
	}
	return string(decoded), nil
}

// Decode a string read from the stream. Invalid sequences decode to
// replacement characters, so when the string does not encode back to
// the same bytes the original bytes are kept on the node.
func (self *StringParser) decodeField(decoder *Decoder, this *ObjectNode,
	buf []byte) (interface{}, error) {
	value, err := self.decode(buf)
	if err != nil || self.encoding == nil || self.options.Bytes {
		return value, err
	}

	encoded, err := self.encode(value.(string))
	if this != nil && (err != nil || !bytes.Equal(encoded, buf)) {
		this.setUndecoded(decoder.current.field, decoder.current.element,
			append([]byte{}, buf...))
	}
	return value, nil
}

// Offset of the terminator in buf or -1.
func (self *StringParser) findTerm(buf []byte) int {
	if len(self.term) == 0 {
		return -1
	}

	for i := 0; i+len(self.term) <= len(buf); i += self.step {
		if bytes.HasPrefix(buf[i:], self.term) {
			return i
		}
	}
	return -1
}

func (self *StringParser) Read(decoder *Decoder, this *ObjectNode) (interface{}, error) {
	switch {
	case self.options.Length != nil:
		length, err := self.getLength(decoder, this)
		if err != nil {
			return nil, err
		}

		buf, err := decoder.ReadBytes(int(length))
		if err != nil {
			return nil, err
		}

		// Keep everything from the terminator on so the field
		// writes back unchanged.
		idx := self.findTerm(buf)
		if idx >= 0 {
			this.setSlack(decoder.current.field, decoder.current.element,
				append([]byte{}, buf[idx:]...))
			buf = buf[:idx]
		}
		return self.decodeField(decoder, this, buf)

	case self.prefix != nil:
		raw, err := self.prefix.Read(decoder, this)
		if err != nil {
			return nil, err
		}

		length, _ := to_int64(raw)
		if length < 0 || length > self.options.MaxLength {
			return nil, &InvalidSizeError{
				Path: decoder.Path(), Offset: decoder.Offset(), Size: length,
				Reason: fmt.Sprintf("string length prefix out of range (max_length %d)",
					self.options.MaxLength)}
		}

		buf, err := decoder.ReadBytes(int(length))
		if err != nil {
			return nil, err
		}
		return self.decodeField(decoder, this, buf)
	}

	// Read up to the terminator.
	start := decoder.Offset()
	var buf []byte
	for {
		b, err := decoder.ReadByte()
		if err != nil {
			return nil, err
		}
		buf = append(buf, b)

		if len(buf) >= len(self.term) && len(buf)%self.step == 0 &&
			bytes.HasSuffix(buf, self.term) {
			return self.decodeField(decoder, this, buf[:len(buf)-len(self.term)])
		}

		if int64(len(buf)) > self.options.MaxLength {
			return nil, &InvalidSizeError{
				Path: decoder.Path(), Offset: start, Size: int64(len(buf)),
				Reason: fmt.Sprintf("no terminator within max_length %d",
					self.options.MaxLength)}
		}
	}
}

func (self *StringParser) getLength(decoder *Decoder, this *ObjectNode) (int64, error) {
	length, err := EvalInt64(self.options.Length, decoder.EvalContext(), this)
	if err != nil {
		return 0, &ExpressionError{
			Path: decoder.Path(), Expression: self.options.Length.String(), Err: err}
	}

	if length < 0 || length > self.options.MaxLength {
		return 0, &InvalidSizeError{
			Path: decoder.Path(), Offset: decoder.Offset(), Size: length,
			Reason: fmt.Sprintf("string length out of range (max_length %d)",
				self.options.MaxLength)}
	}
	return length, nil
}

func (self *StringParser) toBytes(value interface{}) ([]byte, error) {
	switch t := value.(type) {
	case []byte:
		return t, nil
	case string:
		if self.options.Bytes {
			return []byte(t), nil
		}
		return self.encode(t)
	}
	return nil, fmt.Errorf("expecting a string not %T", value)
}

// The original bytes are written while they still decode to the value.
func (self *StringParser) fieldBytes(encoder *Encoder, this *ObjectNode,
	value interface{}) ([]byte, error) {
	if this != nil {
		raw := this.getUndecoded(encoder.current.field, encoder.current.element)
		if raw != nil {
			decoded, err := self.decode(raw)
			if err == nil && decoded == value {
				return raw, nil
			}
		}
	}
	return self.toBytes(value)
}

func (self *StringParser) Write(encoder *Encoder, this *ObjectNode, value interface{}) error {
	buf, err := self.fieldBytes(encoder, this, value)
	if err != nil {
		return encoder.valueError(err)
	}

	switch {
	case self.options.Length != nil:
		length, err := EvalInt64(self.options.Length, encoder.EvalContext(), encoder.Env())
		if err != nil {
			return &ExpressionError{
				Path: encoder.Path(), Expression: self.options.Length.String(), Err: err}
		}

		if int64(len(buf)) > length {
			return encoder.valueError(fmt.Errorf(
				"string of %d bytes does not fit in %d bytes", len(buf), length))
		}

		slack := this.getSlack(encoder.current.field, encoder.current.element)
		if int64(len(buf)+len(slack)) != length {
			slack = make([]byte, length-int64(len(buf)))
			copy(slack, self.term)
		}

		err = encoder.WriteBytes(buf)
		if err != nil {
			return err
		}
		return encoder.WriteBytes(slack)

	case self.prefix != nil:
		if int64(len(buf)) > self.options.MaxLength {
			return encoder.valueError(fmt.Errorf(
				"string of %d bytes exceeds max_length %d", len(buf), self.options.MaxLength))
		}

		err := self.prefix.Write(encoder, this, uint64(len(buf)))
		if err != nil {
			return err
		}
		return encoder.WriteBytes(buf)
	}

	if self.findTerm(buf) >= 0 {
		return encoder.valueError(fmt.Errorf("string contains its terminator"))
	}

	err = encoder.WriteBytes(buf)
	if err != nil {
		return err
	}
	return encoder.WriteBytes(self.term)
}

func (self *StringParser) Normalize(value interface{}) (interface{}, error) {
	switch t := value.(type) {
	case string:
		if self.options.Bytes {
			return []byte(t), nil
		}
		return t, nil

	case []byte:
		if self.options.Bytes {
			return t, nil
		}
		return self.decode(t)
	}
	return nil, fmt.Errorf("expecting a string not %T", value)
}

func (self *StringParser) Zero(root *DataRoot) interface{} {
	if self.options.Bytes {
		return []byte{}
	}
	return ""
}
