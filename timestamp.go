package vcodec

import (
	"fmt"
	"time"

	"github.com/Velocidex/ordereddict"
)

// Seconds between the FILETIME epoch (1601) and the unix epoch.
const fileTimeEpochDelta = 11644473600

type TimestampOptions struct {
	Type   string `vcodec:"field=type,doc=The integer type holding the timestamp"`
	Factor int64  `vcodec:"field=factor,doc=Units per second (e.g. 1000 for milliseconds)"`
}

// An EpochTimestamp is an integer counting time since an epoch:
// unix time or, for windows, 100ns intervals since 1601.
type EpochTimestamp struct {
	windows bool

	options TimestampOptions
	storage *IntParser
}

func (self *EpochTimestamp) New(model *TypeModel, options *ordereddict.Dict) (Parser, error) {
	result := &EpochTimestamp{windows: self.windows}
	err := ParseOptions(options, &result.options)
	if err != nil {
		return nil, fmt.Errorf("Timestamp: %w", err)
	}

	if result.options.Type == "" {
		result.options.Type = "uint32"
		if self.windows {
			result.options.Type = "uint64"
		}
	}

	parser, pres := model.types[result.options.Type]
	storage, ok := parser.(*IntParser)
	if !pres || !ok || storage.float {
		return nil, fmt.Errorf("Timestamp: type %v is not an integer type",
			result.options.Type)
	}
	result.storage = storage

	if result.options.Factor == 0 {
		result.options.Factor = 1
	}

	// The conversion is exact only when a unit is a whole number
	// of nanoseconds.
	if self.windows && result.options.Factor != 1 {
		return nil, fmt.Errorf("WinFileTime does not take a factor")
	}
	if result.options.Factor < 0 || int64(time.Second)%result.options.Factor != 0 {
		return nil, fmt.Errorf("Timestamp: factor %v does not divide a second",
			result.options.Factor)
	}

	return result, nil
}

func (self *EpochTimestamp) Size() int {
	return self.storage.size
}

func (self *EpochTimestamp) Read(decoder *Decoder, this *ObjectNode) (interface{}, error) {
	value, err := self.storage.Read(decoder, this)
	if err != nil {
		return nil, err
	}
	return self.toTime(value), nil
}

func (self *EpochTimestamp) toTime(value interface{}) time.Time {
	if self.windows {
		raw, ok := value.(uint64)
		if !ok {
			i, _ := to_int64(value)
			raw = uint64(i)
		}
		return time.Unix(int64(raw/10000000)-fileTimeEpochDelta,
			int64(raw%10000000)*100).UTC()
	}

	i, _ := to_int64(value)
	factor := self.options.Factor
	return time.Unix(i/factor, (i%factor)*(int64(time.Second)/factor)).UTC()
}

func (self *EpochTimestamp) fromTime(t time.Time) int64 {
	if self.windows {
		return (t.Unix()+fileTimeEpochDelta)*10000000 + int64(t.Nanosecond())/100
	}

	factor := self.options.Factor
	return t.Unix()*factor + int64(t.Nanosecond())/(int64(time.Second)/factor)
}

func (self *EpochTimestamp) Write(encoder *Encoder, this *ObjectNode, value interface{}) error {
	normalized, err := self.Normalize(value)
	if err != nil {
		return encoder.valueError(err)
	}
	return self.storage.Write(encoder, this, self.fromTime(normalized.(time.Time)))
}

// Accepts times, RFC3339 strings or raw integers.
func (self *EpochTimestamp) Normalize(value interface{}) (interface{}, error) {
	switch t := value.(type) {
	case time.Time:
		return t.UTC(), nil

	case string:
		parsed, err := time.Parse(time.RFC3339Nano, t)
		if err != nil {
			return nil, err
		}
		return parsed.UTC(), nil
	}

	raw, err := self.storage.Normalize(value)
	if err != nil {
		return nil, err
	}
	return self.toTime(raw), nil
}

func (self *EpochTimestamp) Zero(root *DataRoot) interface{} {
	return self.toTime(self.storage.Zero(root))
}
