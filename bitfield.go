package vcodec

import (
	"fmt"
)

// Consecutive bitfield members share one backing integer which is
// read and written once.
type bitGroup struct {
	storage *IntParser
	members []*FieldSpec
	order   BitOrder
}

// Group runs of consecutive bit fields in the struct's own fields.
// Without an explicit storage type the backing integer is the
// smallest one holding all members.
func (self *TypeModel) groupBits(spec *StructSpec, order BitOrder) error {
	var run []*FieldSpec

	flush := func() error {
		if len(run) == 0 {
			return nil
		}

		total := 0
		for _, member := range run {
			total += member.Bits
		}
		if total > 64 {
			return schemaErrorf(spec.name, run[0].Name,
				"bit group needs %d bits, more than 64", total)
		}

		err := assignBits(&bitGroup{
			storage: backingParser(total, self.byte_order),
			members: run,
			order:   order,
		})
		if err != nil {
			return &SchemaError{Type: spec.name, Field: run[0].Name, Err: err}
		}
		run = nil
		return nil
	}

	for _, field := range spec.own {
		if field.Bits == 0 {
			err := flush()
			if err != nil {
				return err
			}
			continue
		}

		if field.Count != nil || field.Cond != nil {
			return schemaErrorf(spec.name, field.Name,
				"bit fields can not be arrays or conditional")
		}

		switch t := field.parser.(type) {
		case *BoolParser:
		case *IntParser:
			if t.float {
				return schemaErrorf(spec.name, field.Name,
					"bit fields must be integers not %v", field.TypeName)
			}
		default:
			return schemaErrorf(spec.name, field.Name,
				"bit fields must be integers not %v", field.TypeName)
		}
		run = append(run, field)
	}

	return flush()
}

// Assign each member its shift within the backing integer.
func assignBits(group *bitGroup) error {
	width := uint(group.storage.size * 8)
	used := uint(0)

	for _, member := range group.members {
		bits := uint(member.Bits)
		if used+bits > width {
			return fmt.Errorf("bit fields need more than the %d bits of %v",
				width, group.storage.type_name)
		}

		if group.order == LSBFirst {
			member.shift = used
		} else {
			member.shift = width - used - bits
		}
		member.group = group
		used += bits
	}
	return nil
}

func (self *FieldSpec) mask() uint64 {
	if self.Bits >= 64 {
		return ^uint64(0)
	}
	return uint64(1)<<uint(self.Bits) - 1
}

// Extract this member's value from the backing integer.
func (self *FieldSpec) fromBits(raw uint64) interface{} {
	value := (raw >> self.shift) & self.mask()

	switch t := self.parser.(type) {
	case *BoolParser:
		return t.fromRaw(value)
	case *IntParser:
		if t.signed {
			return sign_extend(value, uint(self.Bits))
		}
	}
	return value
}

// The member's value positioned within the backing integer.
func (self *FieldSpec) toBits(value interface{}) (uint64, error) {
	var raw uint64

	switch t := value.(type) {
	case uint64:
		raw = t
		if raw&^self.mask() != 0 {
			return 0, fmt.Errorf("value %d does not fit in %d bits", t, self.Bits)
		}

	default:
		i, ok := to_int64(value)
		if !ok {
			return 0, fmt.Errorf("expecting an integer not %T", value)
		}

		signed := false
		parser, ok := self.parser.(*IntParser)
		if ok {
			signed = parser.signed
		}

		if signed && self.Bits < 64 {
			min := -(int64(1) << uint(self.Bits-1))
			max := int64(1)<<uint(self.Bits-1) - 1
			if i < min || i > max {
				return 0, fmt.Errorf("value %d does not fit in %d signed bits",
					i, self.Bits)
			}
		} else if !signed && (i < 0 || uint64(i)&^self.mask() != 0) {
			return 0, fmt.Errorf("value %d does not fit in %d bits", i, self.Bits)
		}
		raw = uint64(i) & self.mask()
	}

	return raw << self.shift, nil
}

// Bit structs are structs whose members all live in one explicitly
// typed backing integer, e.g.
//
//	[Flags, uint16be, [[visible, 1], [mode, 3], [level, 12]], {bit_order: msb}]
func (self *TypeModel) buildBitStruct(spec *StructSpec,
	definition *BitStructDefinition) error {

	parser, pres := self.types[definition.Type]
	storage, ok := parser.(*IntParser)
	if !pres || !ok || storage.float {
		return schemaErrorf(spec.name, "",
			"bitstruct storage must be an integer type not %v", definition.Type)
	}

	order := self.bit_order
	if definition.Options != nil {
		for _, k := range definition.Options.Keys() {
			v, _ := definition.Options.Get(k)
			switch k {
			case "bit_order":
				str, _ := v.(string)
				o, err := parseBitOrder(str, self.bit_order)
				if err != nil {
					return &SchemaError{Type: spec.name, Err: err}
				}
				order = o
			default:
				return schemaErrorf(spec.name, "", "unknown bitstruct option %v", k)
			}
		}
	}

	if len(definition.Members) == 0 {
		return schemaErrorf(spec.name, "", "bitstruct without members")
	}

	seen := make(map[string]bool)
	for _, member_def := range definition.Members {
		if seen[member_def.Name] {
			return schemaErrorf(spec.name, member_def.Name, "duplicate member name")
		}
		seen[member_def.Name] = true

		field, err := self.buildField(spec, member_def)
		if err != nil {
			return err
		}

		switch t := field.parser.(type) {
		case *BoolParser:
		case *IntParser:
			if t.float {
				return schemaErrorf(spec.name, field.Name, "members must be integers")
			}
		default:
			return schemaErrorf(spec.name, field.Name, "members must be integers")
		}
		spec.own = append(spec.own, field)
	}

	err := assignBits(&bitGroup{
		storage: storage,
		members: spec.own,
		order:   order,
	})
	if err != nil {
		return &SchemaError{Type: spec.name, Err: err}
	}
	return nil
}
