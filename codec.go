package vcodec

import (
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/Velocidex/ordereddict"
	"www.velocidex.com/golang/vfilter"
)

// A Decoder reads nodes sequentially from a stream. Parsers pull
// their bytes through it so every read is accounted for in the
// offset and errors carry the field path.
type Decoder struct {
	ctx    context.Context
	root   *DataRoot
	reader *streamReader
	eval   *EvalContext

	path []string

	// The field and element being read, used to key per value
	// state such as string slack.
	current slot
}

func NewDecoder(ctx context.Context, root *DataRoot, reader io.Reader) *Decoder {
	return &Decoder{
		ctx:    ctx,
		root:   root,
		reader: newStreamReader(reader),
		eval:   newCodecEvalContext(ctx, root),
	}
}

func (self *Decoder) Offset() int64 {
	return self.reader.offset
}

func (self *Decoder) Root() *DataRoot {
	return self.root
}

func (self *Decoder) Scope() vfilter.Scope {
	return self.root.scope
}

func (self *Decoder) EvalContext() *EvalContext {
	return self.eval
}

// The path of the field being decoded, e.g. header.items[2].name
func (self *Decoder) Path() string {
	return joinPath(self.path)
}

func (self *Decoder) push(component string) {
	self.path = append(self.path, component)
}

func (self *Decoder) pop() {
	self.path = self.path[:len(self.path)-1]
}

// Read exactly n bytes.
func (self *Decoder) ReadBytes(n int) ([]byte, error) {
	offset := self.reader.offset
	buf, err := self.reader.read(n)
	if err == io.ErrUnexpectedEOF {
		return nil, &TruncatedStreamError{
			Path:   self.Path(),
			Offset: offset,
			Need:   n,
			Have:   len(buf),
		}
	}
	return buf, err
}

func (self *Decoder) ReadByte() (byte, error) {
	offset := self.reader.offset
	b, err := self.reader.readByte()
	if err == io.EOF {
		return 0, &TruncatedStreamError{
			Path:   self.Path(),
			Offset: offset,
			Need:   1,
		}
	}
	return b, err
}

func (self *Decoder) AtEOF() bool {
	return self.reader.atEOF()
}

func (self *Decoder) valueError(err error) error {
	return &ValueError{Path: self.Path(), Offset: self.reader.offset, Err: err}
}

// Errors which are not yet one of our kinds gain the field path.
func (self *Decoder) wrap(err error) error {
	if err == nil || Kind(err) != "Error" || err == self.ctx.Err() {
		return err
	}
	return self.valueError(err)
}

// Decode one node of the named struct.
func (self *Decoder) Decode(type_name string) (*ObjectNode, error) {
	spec, pres := self.root.model.Struct(type_name)
	if !pres {
		return nil, fmt.Errorf("%w: struct %v", NotFoundError, type_name)
	}

	self.push(type_name)
	defer self.pop()

	return self.DecodeStruct(spec)
}

func (self *Decoder) DecodeStruct(spec *StructSpec) (*ObjectNode, error) {
	ScopeDebug(self.root.scope, "Decoding %v at %#x (%v)",
		spec.name, self.reader.offset, self.Path())

	node := newObjectNode(spec, self.root)
	fields := spec.fields

	for i := 0; i < len(fields); i++ {
		err := self.ctx.Err()
		if err != nil {
			return nil, err
		}

		field := fields[i]
		if field.group != nil {
			err = self.decodeGroup(node, field.group)
			if err != nil {
				return nil, err
			}
			i += len(field.group.members) - 1
			continue
		}

		err = self.decodeField(node, field)
		if err != nil {
			return nil, err
		}
	}

	return node, nil
}

func (self *Decoder) decodeField(node *ObjectNode, field *FieldSpec) error {
	self.push("." + field.Name)
	defer self.pop()

	if field.Cond != nil {
		present, err := EvalBool(field.Cond, self.eval, node)
		if err != nil {
			return &ExpressionError{
				Path: self.Path(), Expression: field.Cond.String(), Err: err}
		}
		if !present {
			return nil
		}
	}

	if field.Count != nil {
		items, err := self.decodeArray(node, field)
		if err != nil {
			return err
		}
		node.setDecoded(field.Name, items)
		return nil
	}

	self.current = slot{field: field.Name, element: -1}
	value, err := field.parser.Read(self, node)
	if err != nil {
		return self.wrap(err)
	}
	node.setDecoded(field.Name, value)
	return nil
}

// Read the backing integer once and split it into the members.
func (self *Decoder) decodeGroup(node *ObjectNode, group *bitGroup) error {
	self.push("." + group.members[0].Name)
	defer self.pop()

	buf, err := self.ReadBytes(group.storage.size)
	if err != nil {
		return err
	}

	raw := group.storage.raw(buf)
	for _, member := range group.members {
		node.setDecoded(member.Name, member.fromBits(raw))
	}
	return nil
}

// Decode the top level nodes following the model's layout.
func (self *Decoder) DecodeData() error {
	if len(self.root.entries) == 0 {
		return fmt.Errorf("%v: schema has no layout", self.root.model.name)
	}

	for _, entry := range self.root.entries {
		err := self.decodeEntry(entry)
		if err != nil {
			return err
		}
	}
	return nil
}

func (self *Decoder) decodeEntry(entry *RootEntry) error {
	layout := entry.Layout

	self.push(entry.Name)
	defer self.pop()

	add := func() error {
		node, err := self.DecodeStruct(layout.spec)
		if err != nil {
			return err
		}
		entry.Nodes = append(entry.Nodes, node)
		self.root.index_valid = false
		return nil
	}

	switch {
	case layout.Count != nil:
		count, err := self.layoutCount(layout)
		if err != nil {
			return err
		}
		for i := int64(0); i < count; i++ {
			self.push(fmt.Sprintf("[%d]", i))
			err := add()
			self.pop()
			if err != nil {
				return err
			}
		}

	case layout.UntilEOF:
		for i := 0; !self.AtEOF(); i++ {
			err := self.ctx.Err()
			if err != nil {
				return err
			}

			self.push(fmt.Sprintf("[%d]", i))
			err = add()
			self.pop()
			if err != nil {
				return err
			}
		}

	default:
		return add()
	}

	return nil
}

func (self *Decoder) layoutCount(layout *LayoutEntry) (int64, error) {
	count, err := EvalInt64(layout.Count, self.eval, self.root.env())
	if err != nil {
		return 0, &ExpressionError{
			Path: self.Path(), Expression: layout.Count.String(), Err: err}
	}
	if count < 0 {
		return 0, &InvalidSizeError{
			Path: self.Path(), Offset: self.reader.offset, Size: count,
			Reason: "negative count"}
	}
	return count, nil
}

// An Encoder writes nodes to a stream. Writing never modifies the
// nodes.
type Encoder struct {
	ctx    context.Context
	root   *DataRoot
	writer *streamWriter
	eval   *EvalContext

	path    []string
	current slot

	// The values written so far in the struct being encoded.
	env *ordereddict.Dict
}

func NewEncoder(ctx context.Context, root *DataRoot, writer io.Writer) *Encoder {
	return &Encoder{
		ctx:    ctx,
		root:   root,
		writer: &streamWriter{writer: writer},
		eval:   newCodecEvalContext(ctx, root),
	}
}

func (self *Encoder) Offset() int64 {
	return self.writer.offset
}

func (self *Encoder) Root() *DataRoot {
	return self.root
}

func (self *Encoder) EvalContext() *EvalContext {
	return self.eval
}

// What expressions of the struct being encoded see.
func (self *Encoder) Env() Env {
	if self.env == nil {
		return ordereddict.NewDict()
	}
	return self.env
}

func (self *Encoder) Path() string {
	return joinPath(self.path)
}

func (self *Encoder) push(component string) {
	self.path = append(self.path, component)
}

func (self *Encoder) pop() {
	self.path = self.path[:len(self.path)-1]
}

func (self *Encoder) WriteBytes(buf []byte) error {
	return self.writer.write(buf)
}

func (self *Encoder) valueError(err error) error {
	return &ValueError{Path: self.Path(), Offset: self.writer.offset, Err: err}
}

func (self *Encoder) wrap(err error) error {
	if err == nil || Kind(err) != "Error" || err == self.ctx.Err() {
		return err
	}
	return self.valueError(err)
}

func (self *Encoder) Encode(node *ObjectNode) error {
	self.push(node.spec.name)
	defer self.pop()

	return self.EncodeStruct(node)
}

// Write the node's fields in declaration order. Expressions see the
// values written so far, exactly as they saw the values read so far
// when decoding.
func (self *Encoder) EncodeStruct(node *ObjectNode) error {
	written := ordereddict.NewDict()
	fields := node.spec.fields

	saved := self.env
	self.env = written
	defer func() {
		self.env = saved
	}()

	for i := 0; i < len(fields); i++ {
		err := self.ctx.Err()
		if err != nil {
			return err
		}

		field := fields[i]
		if field.group != nil {
			err = self.encodeGroup(node, field.group, written)
			if err != nil {
				return err
			}
			i += len(field.group.members) - 1
			continue
		}

		err = self.encodeField(node, field, written)
		if err != nil {
			return err
		}
	}
	return nil
}

func (self *Encoder) encodeField(node *ObjectNode, field *FieldSpec,
	written *ordereddict.Dict) error {
	self.push("." + field.Name)
	defer self.pop()

	if field.Cond != nil {
		present, err := EvalBool(field.Cond, self.eval, written)
		if err != nil {
			return &ExpressionError{
				Path: self.Path(), Expression: field.Cond.String(), Err: err}
		}

		// A value set on an absent field is not written.
		if !present {
			return nil
		}
	}

	value, pres := node.Get(field.Name)
	if !pres {
		var err error
		value, err = self.defaultValue(field, written)
		if err != nil {
			return err
		}
	}

	if field.Count != nil {
		err := self.encodeArray(node, field, value, written)
		if err != nil {
			return err
		}
		written.Set(field.Name, value)
		return nil
	}

	self.current = slot{field: field.Name, element: -1}
	err := field.parser.Write(self, node, value)
	if err != nil {
		return self.wrap(err)
	}
	written.Set(field.Name, value)
	return nil
}

// Merge the members into the backing integer and write it once.
func (self *Encoder) encodeGroup(node *ObjectNode, group *bitGroup,
	written *ordereddict.Dict) error {
	raw := uint64(0)

	for _, member := range group.members {
		self.push("." + member.Name)

		value, pres := node.Get(member.Name)
		if !pres {
			var err error
			value, err = self.defaultValue(member, written)
			if err != nil {
				self.pop()
				return err
			}
		}

		bits, err := member.toBits(value)
		if err != nil {
			err = self.valueError(err)
			self.pop()
			return err
		}
		raw |= bits
		written.Set(member.Name, value)
		self.pop()
	}

	buf, err := group.storage.Encode(raw)
	if err != nil {
		return self.valueError(err)
	}
	return self.WriteBytes(buf)
}

// The value written for a field missing from the node.
func (self *Encoder) defaultValue(field *FieldSpec, written *ordereddict.Dict) (
	interface{}, error) {
	zeroer, has_zero := field.parser.(Zeroer)
	if field.Default == nil && !has_zero {
		return nil, self.valueError(fmt.Errorf(
			"field %v is missing and has no default", field.Name))
	}

	element := func() interface{} {
		if field.Default != nil {
			return field.Default
		}
		return zeroer.Zero(self.root)
	}

	if field.Count == nil {
		return element(), nil
	}

	// An array default is either the whole list or one element
	// repeated count times.
	items, ok := field.Default.([]interface{})
	if ok {
		return items, nil
	}

	count, err := self.arrayCount(field, written)
	if err != nil {
		return nil, err
	}

	items = make([]interface{}, 0, count)
	for i := int64(0); i < count; i++ {
		items = append(items, element())
	}
	return items, nil
}

// Write all top level nodes following the layout.
func (self *Encoder) EncodeData() error {
	if len(self.root.entries) == 0 {
		return fmt.Errorf("%v: schema has no layout", self.root.model.name)
	}

	for _, entry := range self.root.entries {
		err := self.encodeEntry(entry)
		if err != nil {
			return err
		}
	}
	return nil
}

func (self *Encoder) encodeEntry(entry *RootEntry) error {
	self.push(entry.Name)
	defer self.pop()

	layout := entry.Layout
	switch {
	case layout == nil || layout.UntilEOF:

	case layout.Count != nil:
		count, err := EvalInt64(layout.Count, self.eval, self.root.env())
		if err != nil {
			return &ExpressionError{
				Path: self.Path(), Expression: layout.Count.String(), Err: err}
		}
		if count != int64(len(entry.Nodes)) {
			return &InvalidSizeError{
				Path: self.Path(), Offset: self.writer.offset,
				Size:   int64(len(entry.Nodes)),
				Reason: fmt.Sprintf("count evaluates to %d", count)}
		}

	default:
		if len(entry.Nodes) != 1 {
			return self.valueError(fmt.Errorf("expecting one %v node, have %d",
				layout.TypeName, len(entry.Nodes)))
		}
	}

	for idx, node := range entry.Nodes {
		if layout == nil || layout.Repeated() {
			self.push(fmt.Sprintf("[%d]", idx))
		}

		err := self.EncodeStruct(node)

		if layout == nil || layout.Repeated() {
			self.pop()
		}
		if err != nil {
			return err
		}
	}
	return nil
}

func joinPath(components []string) string {
	return strings.Join(components, "")
}

// Read a single node of the named struct.
func Read(ctx context.Context, model *TypeModel, type_name string,
	reader io.Reader, options *Options) (*ObjectNode, error) {
	root := NewDataRoot(model, options)

	decoder := NewDecoder(ctx, root, reader)
	node, err := decoder.Decode(type_name)
	if err != nil {
		return nil, err
	}

	root.addNode(type_name, node)
	return node, nil
}

// Read a whole file following the model's layout.
func ReadData(ctx context.Context, model *TypeModel,
	reader io.Reader, options *Options) (*DataRoot, error) {
	root := NewDataRoot(model, options)

	decoder := NewDecoder(ctx, root, reader)
	err := decoder.DecodeData()
	if err != nil {
		return nil, err
	}
	return root, nil
}

// Write a single node.
func Write(ctx context.Context, node *ObjectNode, writer io.Writer) error {
	root := node.root
	if root == nil {
		return fmt.Errorf("%v node does not belong to a root", node.spec.name)
	}

	return NewEncoder(ctx, root, writer).Encode(node)
}

// Write all top level nodes of the root.
func WriteData(ctx context.Context, root *DataRoot, writer io.Writer) error {
	return NewEncoder(ctx, root, writer).EncodeData()
}
