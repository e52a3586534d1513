package vcodec

import (
	"fmt"

	"github.com/Velocidex/ordereddict"
)

// Arrays longer than this need an explicit max_count option. Counts
// come from the data so a corrupt file could otherwise request an
// absurd number of elements.
const DefaultMaxCount = 1 << 20

func (self *FieldSpec) maxCount() int64 {
	if self.MaxCount > 0 {
		return self.MaxCount
	}
	return DefaultMaxCount
}

func (self *Decoder) arrayCount(node *ObjectNode, field *FieldSpec) (int64, error) {
	count, err := EvalInt64(field.Count, self.eval, node)
	if err != nil {
		return 0, &ExpressionError{
			Path: self.Path(), Expression: field.Count.String(), Err: err}
	}

	switch {
	case count < 0:
		return 0, &InvalidSizeError{
			Path: self.Path(), Offset: self.reader.offset, Size: count,
			Reason: "negative array length"}

	case count > field.maxCount():
		return 0, &InvalidSizeError{
			Path: self.Path(), Offset: self.reader.offset, Size: count,
			Reason: fmt.Sprintf("array length exceeds max_count %d", field.maxCount())}
	}
	return count, nil
}

func (self *Decoder) decodeArray(node *ObjectNode, field *FieldSpec) ([]interface{}, error) {
	count, err := self.arrayCount(node, field)
	if err != nil {
		return nil, err
	}

	// Do not trust the count for the allocation.
	capacity := count
	if capacity > 1024 {
		capacity = 1024
	}
	result := make([]interface{}, 0, capacity)

	for i := int64(0); i < count; i++ {
		err := self.ctx.Err()
		if err != nil {
			return nil, err
		}

		self.push(fmt.Sprintf("[%d]", i))
		self.current = slot{field: field.Name, element: int(i)}
		element, err := field.parser.Read(self, node)
		if err != nil {
			err = self.wrap(err)
			self.pop()
			return nil, err
		}
		self.pop()

		result = append(result, element)
	}

	return result, nil
}

func (self *Encoder) arrayCount(field *FieldSpec, written *ordereddict.Dict) (int64, error) {
	count, err := EvalInt64(field.Count, self.eval, written)
	if err != nil {
		return 0, &ExpressionError{
			Path: self.Path(), Expression: field.Count.String(), Err: err}
	}

	switch {
	case count < 0:
		return 0, &InvalidSizeError{
			Path: self.Path(), Offset: self.writer.offset, Size: count,
			Reason: "negative array length"}

	case count > field.maxCount():
		return 0, &InvalidSizeError{
			Path: self.Path(), Offset: self.writer.offset, Size: count,
			Reason: fmt.Sprintf("array length exceeds max_count %d", field.maxCount())}
	}
	return count, nil
}

// The array must hold exactly as many elements as its count
// expression evaluates to, otherwise the file would not read back.
func (self *Encoder) encodeArray(node *ObjectNode, field *FieldSpec,
	value interface{}, written *ordereddict.Dict) error {
	items, ok := value.([]interface{})
	if !ok {
		return self.valueError(fmt.Errorf("expecting a list not %T", value))
	}

	count, err := self.arrayCount(field, written)
	if err != nil {
		return err
	}

	if count != int64(len(items)) {
		return &InvalidSizeError{
			Path: self.Path(), Offset: self.writer.offset,
			Size:   int64(len(items)),
			Reason: fmt.Sprintf("count evaluates to %d", count)}
	}

	for idx, item := range items {
		err := self.ctx.Err()
		if err != nil {
			return err
		}

		self.push(fmt.Sprintf("[%d]", idx))
		self.current = slot{field: field.Name, element: idx}
		err = field.parser.Write(self, node, item)
		if err != nil {
			err = self.wrap(err)
			self.pop()
			return err
		}
		self.pop()
	}
	return nil
}
