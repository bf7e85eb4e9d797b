package classfile

import (
	"encoding/binary"
	"fmt"
	"math"

	"github.com/chazu/jclass/pkg/asm"
	"github.com/chazu/jclass/pkg/constpool"
	"github.com/chazu/jclass/pkg/vtype"
)

// Assemble resolves c into a File with a fresh constant pool. Entries are
// interned in this order: this class, super class, interfaces, fields,
// methods, class attributes, then the bootstrap method table.
func Assemble(c *Class) (*File, error) {
	if c.Name == "" {
		return nil, fmt.Errorf("class has no name")
	}
	a := &assembler{class: c, pool: constpool.New()}
	f, err := a.assemble()
	if err != nil {
		return nil, fmt.Errorf("class %s: %w", c.Name, err)
	}
	log.Debugf("%s: %d pool slots, %d fields, %d methods", c.Name, f.Pool.Len(), len(f.Fields), len(f.Methods))
	return f, nil
}

type assembler struct {
	class *Class
	pool  *constpool.Pool
}

func (a *assembler) assemble() (*File, error) {
	c := a.class
	f := &File{Version: c.Version, Pool: a.pool, Access: c.Access}
	if f.Version == (Version{}) {
		f.Version = DefaultVersion
	}

	var err error
	if f.This, err = a.pool.Class(c.Name); err != nil {
		return nil, err
	}
	if c.Super != "" {
		if f.Super, err = a.pool.Class(c.Super); err != nil {
			return nil, err
		}
	}
	if err := checkCount("interfaces", len(c.Interfaces)); err != nil {
		return nil, err
	}
	for _, name := range c.Interfaces {
		idx, err := a.pool.Class(name)
		if err != nil {
			return nil, err
		}
		f.Interfaces = append(f.Interfaces, idx)
	}

	if err := checkCount("fields", len(c.Fields)); err != nil {
		return nil, err
	}
	for _, fd := range c.Fields {
		m, err := a.field(fd)
		if err != nil {
			return nil, fmt.Errorf("field %s: %w", fd.Name, err)
		}
		f.Fields = append(f.Fields, m)
	}

	if err := checkCount("methods", len(c.Methods)); err != nil {
		return nil, err
	}
	for _, md := range c.Methods {
		m, err := a.method(md, f.Version)
		if err != nil {
			return nil, fmt.Errorf("method %s%s: %w", md.Name, md.Descriptor, err)
		}
		f.Methods = append(f.Methods, m)
	}

	if f.Attributes, err = a.attributes(c.Attributes); err != nil {
		return nil, err
	}
	if bms := a.pool.BootstrapMethods(); len(bms) > 0 {
		data := binary.BigEndian.AppendUint16(nil, uint16(len(bms)))
		for _, bm := range bms {
			data = binary.BigEndian.AppendUint16(data, bm.HandleIndex)
			data = binary.BigEndian.AppendUint16(data, uint16(len(bm.ArgIndexes)))
			for _, arg := range bm.ArgIndexes {
				data = binary.BigEndian.AppendUint16(data, arg)
			}
		}
		attr, err := a.attribute("BootstrapMethods", data)
		if err != nil {
			return nil, err
		}
		f.Attributes = append(f.Attributes, attr)
	}
	if err := checkCount("class attributes", len(f.Attributes)); err != nil {
		return nil, err
	}
	return f, nil
}

func checkCount(what string, n int) error {
	if n > 0xFFFF {
		return &asm.RangeError{Index: -1, What: what, Value: int64(n)}
	}
	return nil
}

func (a *assembler) member(access uint16, name, desc string) (Member, error) {
	m := Member{Access: access}
	var err error
	if m.Name, err = a.pool.Utf8(name); err != nil {
		return m, err
	}
	if m.Descriptor, err = a.pool.Utf8(desc); err != nil {
		return m, err
	}
	return m, nil
}

// attribute interns name and pairs it with data.
func (a *assembler) attribute(name string, data []byte) (AttributeInfo, error) {
	if uint64(len(data)) > math.MaxUint32 {
		return AttributeInfo{}, &asm.RangeError{Index: -1, What: name + " attribute length", Value: int64(len(data))}
	}
	idx, err := a.pool.Utf8(name)
	if err != nil {
		return AttributeInfo{}, err
	}
	return AttributeInfo{Name: idx, Data: data}, nil
}

func (a *assembler) attributes(attrs []Attribute) ([]AttributeInfo, error) {
	var out []AttributeInfo
	for _, at := range attrs {
		switch at.AttributeName() {
		case "Code", "ConstantValue", "Exceptions", "BootstrapMethods", "StackMapTable",
			"LineNumberTable", "LocalVariableTable":
			return nil, fmt.Errorf("attribute %s is generated and cannot be given explicitly", at.AttributeName())
		}
		nameIdx, err := a.pool.Utf8(at.AttributeName())
		if err != nil {
			return nil, err
		}
		data, err := at.appendBody(a.pool, nil)
		if err != nil {
			return nil, fmt.Errorf("attribute %s: %w", at.AttributeName(), err)
		}
		out = append(out, AttributeInfo{Name: nameIdx, Data: data})
	}
	return out, nil
}

func (a *assembler) field(fd *Field) (Member, error) {
	t, err := vtype.FromDescriptor(fd.Descriptor)
	if err != nil {
		return Member{}, err
	}
	m, err := a.member(fd.Access, fd.Name, fd.Descriptor)
	if err != nil {
		return m, err
	}
	if fd.Constant != nil {
		e, err := constantFor(fd.Descriptor, t, fd.Constant)
		if err != nil {
			return m, err
		}
		nameIdx, err := a.pool.Utf8("ConstantValue")
		if err != nil {
			return m, err
		}
		idx, err := a.pool.Intern(e)
		if err != nil {
			return m, err
		}
		m.Attributes = append(m.Attributes, AttributeInfo{Name: nameIdx, Data: binary.BigEndian.AppendUint16(nil, idx)})
	}
	extra, err := a.attributes(fd.Attributes)
	if err != nil {
		return m, err
	}
	m.Attributes = append(m.Attributes, extra...)
	return m, nil
}

// constantFor converts v to the pool entry a ConstantValue of a field with
// descriptor desc must hold.
func constantFor(desc string, t vtype.Type, v any) (constpool.Entry, error) {
	e, err := constpool.FromValue(v)
	if err != nil {
		return nil, err
	}
	var ok bool
	switch x := e.(type) {
	case constpool.Integer:
		if t == vtype.Long {
			return constpool.Long{Value: int64(x.Value)}, nil
		}
		ok = t == vtype.Int
	case constpool.Long:
		ok = t == vtype.Long
	case constpool.Float:
		ok = t == vtype.Float
	case constpool.Double:
		ok = t == vtype.Double
	case constpool.String:
		ok = desc == "Ljava/lang/String;"
	}
	if !ok {
		return nil, fmt.Errorf("constant %s does not fit field type %s", e, desc)
	}
	return e, nil
}

func (a *assembler) method(md *Method, v Version) (Member, error) {
	if _, err := vtype.ParseMethodDescriptor(md.Descriptor); err != nil {
		return Member{}, err
	}
	m, err := a.member(md.Access, md.Name, md.Descriptor)
	if err != nil {
		return m, err
	}

	bodiless := md.Access&(AccAbstract|AccNative) != 0
	switch {
	case md.Body != nil && bodiless:
		return m, fmt.Errorf("abstract or native method has a body")
	case md.Body == nil && !bodiless:
		return m, fmt.Errorf("method has no body")
	case md.Body != nil:
		attr, err := a.code(md, v)
		if err != nil {
			return m, err
		}
		m.Attributes = append(m.Attributes, attr)
	}

	if len(md.Throws) > 0 {
		if err := checkCount("thrown exceptions", len(md.Throws)); err != nil {
			return m, err
		}
		nameIdx, err := a.pool.Utf8("Exceptions")
		if err != nil {
			return m, err
		}
		data := binary.BigEndian.AppendUint16(nil, uint16(len(md.Throws)))
		for _, name := range md.Throws {
			idx, err := a.pool.Class(name)
			if err != nil {
				return m, err
			}
			data = binary.BigEndian.AppendUint16(data, idx)
		}
		m.Attributes = append(m.Attributes, AttributeInfo{Name: nameIdx, Data: data})
	}

	extra, err := a.attributes(md.Attributes)
	if err != nil {
		return m, err
	}
	m.Attributes = append(m.Attributes, extra...)
	return m, nil
}

// code assembles a method body into its Code attribute.
func (a *assembler) code(md *Method, v Version) (AttributeInfo, error) {
	nameIdx, err := a.pool.Utf8("Code")
	if err != nil {
		return AttributeInfo{}, err
	}
	code, err := asm.Assemble(&asm.Method{
		Owner:          a.class.Name,
		Name:           md.Name,
		Descriptor:     md.Descriptor,
		Static:         md.Access&AccStatic != 0,
		Body:           md.Body,
		LocalVariables: md.LocalVariables,
		Frames:         v.Major >= FramesVersion,
	}, a.pool)
	if err != nil {
		return AttributeInfo{}, err
	}

	b := binary.BigEndian.AppendUint16(nil, uint16(code.MaxStack))
	b = binary.BigEndian.AppendUint16(b, uint16(code.MaxLocals))
	b = binary.BigEndian.AppendUint32(b, uint32(len(code.Bytes)))
	b = append(b, code.Bytes...)
	if err := checkCount("exception table", len(code.Exceptions)); err != nil {
		return AttributeInfo{}, err
	}
	b = binary.BigEndian.AppendUint16(b, uint16(len(code.Exceptions)))
	for _, ex := range code.Exceptions {
		b = binary.BigEndian.AppendUint16(b, ex.StartPC)
		b = binary.BigEndian.AppendUint16(b, ex.EndPC)
		b = binary.BigEndian.AppendUint16(b, ex.HandlerPC)
		b = binary.BigEndian.AppendUint16(b, ex.CatchType)
	}

	var sub []AttributeInfo
	if len(code.LineNumbers) > 0 {
		data := binary.BigEndian.AppendUint16(nil, uint16(len(code.LineNumbers)))
		for _, ln := range code.LineNumbers {
			data = binary.BigEndian.AppendUint16(data, ln.StartPC)
			data = binary.BigEndian.AppendUint16(data, ln.Line)
		}
		attr, err := a.attribute("LineNumberTable", data)
		if err != nil {
			return AttributeInfo{}, err
		}
		sub = append(sub, attr)
	}
	if len(code.LocalVariables) > 0 {
		data := binary.BigEndian.AppendUint16(nil, uint16(len(code.LocalVariables)))
		for _, lv := range code.LocalVariables {
			data = binary.BigEndian.AppendUint16(data, lv.StartPC)
			data = binary.BigEndian.AppendUint16(data, lv.Length)
			data = binary.BigEndian.AppendUint16(data, lv.Name)
			data = binary.BigEndian.AppendUint16(data, lv.Descriptor)
			data = binary.BigEndian.AppendUint16(data, lv.Index)
		}
		attr, err := a.attribute("LocalVariableTable", data)
		if err != nil {
			return AttributeInfo{}, err
		}
		sub = append(sub, attr)
	}
	if code.StackMap != nil {
		attr, err := a.attribute("StackMapTable", code.StackMap)
		if err != nil {
			return AttributeInfo{}, err
		}
		sub = append(sub, attr)
	}
	b = appendAttributes(b, sub)
	return AttributeInfo{Name: nameIdx, Data: b}, nil
}
