package classfile

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"

	"github.com/chazu/jclass/pkg/asm"
	"github.com/chazu/jclass/pkg/constpool"
)

var (
	ErrInvalidMagic = errors.New("invalid magic number: expected 0xCAFEBABE")
	ErrTrailingData = errors.New("trailing data after class file")
)

// ---------------------------------------------------------------------------
// Parse: bytes to File
// ---------------------------------------------------------------------------

// reader is a big-endian cursor that records the first error.
type reader struct {
	data []byte
	pos  int
	err  error
}

func (r *reader) take(n int) []byte {
	if r.err != nil {
		return nil
	}
	if n < 0 || r.pos+n > len(r.data) {
		r.err = fmt.Errorf("offset %d: %w", r.pos, io.ErrUnexpectedEOF)
		return nil
	}
	b := r.data[r.pos : r.pos+n]
	r.pos += n
	return b
}

func (r *reader) u16() uint16 {
	if b := r.take(2); b != nil {
		return binary.BigEndian.Uint16(b)
	}
	return 0
}

func (r *reader) u32() uint32 {
	if b := r.take(4); b != nil {
		return binary.BigEndian.Uint32(b)
	}
	return 0
}

func (r *reader) attributes() []AttributeInfo {
	n := int(r.u16())
	var out []AttributeInfo
	for i := 0; i < n && r.err == nil; i++ {
		name := r.u16()
		length := r.u32()
		if uint64(length) > uint64(len(r.data)) {
			r.take(len(r.data) + 1)
			break
		}
		out = append(out, AttributeInfo{Name: name, Data: r.take(int(length))})
	}
	return out
}

func (r *reader) members() []Member {
	n := int(r.u16())
	var out []Member
	for i := 0; i < n && r.err == nil; i++ {
		m := Member{Access: r.u16(), Name: r.u16(), Descriptor: r.u16()}
		m.Attributes = r.attributes()
		out = append(out, m)
	}
	return out
}

// Parse reads a class file. Attribute bodies are kept as raw bytes; Decode
// interprets them.
func Parse(data []byte) (*File, error) {
	if len(data) < 10 {
		return nil, fmt.Errorf("class file of %d bytes: %w", len(data), io.ErrUnexpectedEOF)
	}
	if binary.BigEndian.Uint32(data) != Magic {
		return nil, ErrInvalidMagic
	}
	f := &File{Version: Version{
		Minor: binary.BigEndian.Uint16(data[4:]),
		Major: binary.BigEndian.Uint16(data[6:]),
	}}
	pool, n, err := constpool.Decode(data[8:])
	if err != nil {
		return nil, fmt.Errorf("constant pool: %w", err)
	}
	f.Pool = pool

	r := &reader{data: data, pos: 8 + n}
	f.Access = r.u16()
	f.This = r.u16()
	f.Super = r.u16()
	count := int(r.u16())
	for i := 0; i < count && r.err == nil; i++ {
		f.Interfaces = append(f.Interfaces, r.u16())
	}
	f.Fields = r.members()
	f.Methods = r.members()
	f.Attributes = r.attributes()
	if r.err != nil {
		return nil, r.err
	}
	if r.pos != len(data) {
		return nil, fmt.Errorf("%w: %d bytes", ErrTrailingData, len(data)-r.pos)
	}
	return f, nil
}

// ---------------------------------------------------------------------------
// Decode: File to Class
// ---------------------------------------------------------------------------

// Decode rebuilds the class model from a parsed file. Method bodies are
// decoded into instruction lists; StackMapTable attributes are dropped
// since Assemble regenerates them. Assembling the result reproduces the
// bytes of a file this package wrote.
func Decode(f *File) (*Class, error) {
	d := &decoder{file: f, pool: f.Pool}
	c, err := d.decode()
	if err != nil {
		if c != nil && c.Name != "" {
			return nil, fmt.Errorf("class %s: %w", c.Name, err)
		}
		return nil, err
	}
	return c, nil
}

type decoder struct {
	file *File
	pool *constpool.Pool
}

func (d *decoder) utf8(idx uint16) (string, error) {
	u, ok := d.pool.At(idx).(constpool.Utf8)
	if !ok {
		return "", fmt.Errorf("constant #%d is not utf8", idx)
	}
	return u.Value, nil
}

func (d *decoder) class(idx uint16) (string, error) {
	c, ok := d.pool.At(idx).(constpool.Class)
	if !ok {
		return "", fmt.Errorf("constant #%d is not a class", idx)
	}
	return c.Name, nil
}

func (d *decoder) decode() (*Class, error) {
	f := d.file
	c := &Class{Version: f.Version, Access: f.Access}
	var err error
	if c.Name, err = d.class(f.This); err != nil {
		return nil, fmt.Errorf("this_class: %w", err)
	}
	if f.Super != 0 {
		if c.Super, err = d.class(f.Super); err != nil {
			return c, fmt.Errorf("super_class: %w", err)
		}
	}
	for _, idx := range f.Interfaces {
		name, err := d.class(idx)
		if err != nil {
			return c, fmt.Errorf("interface: %w", err)
		}
		c.Interfaces = append(c.Interfaces, name)
	}

	// Bootstrap methods must be in place before any invokedynamic decodes.
	for _, a := range f.Attributes {
		name, err := d.utf8(a.Name)
		if err != nil {
			return c, err
		}
		if name == "BootstrapMethods" {
			if err := d.bootstrapMethods(a.Data); err != nil {
				return c, err
			}
			continue
		}
		attr, err := d.attribute(name, a.Data)
		if err != nil {
			return c, err
		}
		c.Attributes = append(c.Attributes, attr)
	}

	for _, m := range f.Fields {
		fd, err := d.field(m)
		if err != nil {
			return c, err
		}
		c.Fields = append(c.Fields, fd)
	}
	for _, m := range f.Methods {
		md, err := d.method(c.Name, m)
		if err != nil {
			return c, err
		}
		c.Methods = append(c.Methods, md)
	}
	return c, nil
}

func (d *decoder) bootstrapMethods(data []byte) error {
	if len(d.pool.BootstrapMethods()) > 0 {
		return nil
	}
	r := &reader{data: data}
	n := int(r.u16())
	methods := make([][]uint16, 0, n)
	for i := 0; i < n && r.err == nil; i++ {
		m := []uint16{r.u16()}
		args := int(r.u16())
		for j := 0; j < args && r.err == nil; j++ {
			m = append(m, r.u16())
		}
		methods = append(methods, m)
	}
	if r.err != nil {
		return fmt.Errorf("BootstrapMethods: %w", r.err)
	}
	return d.pool.RestoreBootstrapMethods(methods)
}

// attribute decodes a pass-through attribute.
func (d *decoder) attribute(name string, data []byte) (Attribute, error) {
	switch name {
	case "SourceFile", "Signature":
		if len(data) != 2 {
			return nil, fmt.Errorf("%s attribute of length %d", name, len(data))
		}
		s, err := d.utf8(binary.BigEndian.Uint16(data))
		if err != nil {
			return nil, fmt.Errorf("%s: %w", name, err)
		}
		if name == "SourceFile" {
			return SourceFile{File: s}, nil
		}
		return Signature{Value: s}, nil
	case "Deprecated":
		return Deprecated{}, nil
	case "Synthetic":
		return Synthetic{}, nil
	}
	return RawAttribute{Name: name, Data: data}, nil
}

func (d *decoder) memberNames(m Member) (string, string, error) {
	name, err := d.utf8(m.Name)
	if err != nil {
		return "", "", err
	}
	desc, err := d.utf8(m.Descriptor)
	if err != nil {
		return "", "", fmt.Errorf("%s: %w", name, err)
	}
	return name, desc, nil
}

func (d *decoder) field(m Member) (*Field, error) {
	name, desc, err := d.memberNames(m)
	if err != nil {
		return nil, fmt.Errorf("field: %w", err)
	}
	fd := &Field{Access: m.Access, Name: name, Descriptor: desc}
	for _, a := range m.Attributes {
		an, err := d.utf8(a.Name)
		if err != nil {
			return nil, fmt.Errorf("field %s: %w", name, err)
		}
		if an == "ConstantValue" {
			if len(a.Data) != 2 {
				return nil, fmt.Errorf("field %s: ConstantValue attribute of length %d", name, len(a.Data))
			}
			e := d.pool.At(binary.BigEndian.Uint16(a.Data))
			if e == nil {
				return nil, fmt.Errorf("field %s: invalid ConstantValue index", name)
			}
			fd.Constant = e
			continue
		}
		attr, err := d.attribute(an, a.Data)
		if err != nil {
			return nil, fmt.Errorf("field %s: %w", name, err)
		}
		fd.Attributes = append(fd.Attributes, attr)
	}
	return fd, nil
}

func (d *decoder) method(owner string, m Member) (*Method, error) {
	name, desc, err := d.memberNames(m)
	if err != nil {
		return nil, fmt.Errorf("method: %w", err)
	}
	md := &Method{Access: m.Access, Name: name, Descriptor: desc}
	for _, a := range m.Attributes {
		an, err := d.utf8(a.Name)
		if err != nil {
			return nil, fmt.Errorf("method %s%s: %w", name, desc, err)
		}
		switch an {
		case "Code":
			if md.Body, md.LocalVariables, err = d.code(a.Data); err != nil {
				return nil, fmt.Errorf("method %s%s: %w", name, desc, err)
			}
		case "Exceptions":
			r := &reader{data: a.Data}
			n := int(r.u16())
			for i := 0; i < n && r.err == nil; i++ {
				class, err := d.class(r.u16())
				if err != nil {
					return nil, fmt.Errorf("method %s%s: Exceptions: %w", name, desc, err)
				}
				md.Throws = append(md.Throws, class)
			}
			if r.err != nil {
				return nil, fmt.Errorf("method %s%s: Exceptions: %w", name, desc, r.err)
			}
		default:
			attr, err := d.attribute(an, a.Data)
			if err != nil {
				return nil, fmt.Errorf("method %s%s: %w", name, desc, err)
			}
			md.Attributes = append(md.Attributes, attr)
		}
	}
	log.Debugf("decoded %s.%s%s", owner, name, desc)
	return md, nil
}

// code decodes the body of a Code attribute. max_stack and max_locals are
// recomputed on assembly and are not kept.
func (d *decoder) code(data []byte) (*asm.List, []asm.LocalVariable, error) {
	r := &reader{data: data}
	r.u16() // max_stack
	r.u16() // max_locals
	code := r.take(int(r.u32()))
	n := int(r.u16())
	var exceptions []asm.ExceptionEntry
	for i := 0; i < n && r.err == nil; i++ {
		exceptions = append(exceptions, asm.ExceptionEntry{
			StartPC:   r.u16(),
			EndPC:     r.u16(),
			HandlerPC: r.u16(),
			CatchType: r.u16(),
		})
	}
	attrs := r.attributes()
	if r.err != nil {
		return nil, nil, fmt.Errorf("Code: %w", r.err)
	}

	var lines []asm.LineNumberEntry
	var vars []asm.LocalVariableEntry
	for _, a := range attrs {
		an, err := d.utf8(a.Name)
		if err != nil {
			return nil, nil, err
		}
		ar := &reader{data: a.Data}
		switch an {
		case "LineNumberTable":
			k := int(ar.u16())
			for i := 0; i < k && ar.err == nil; i++ {
				lines = append(lines, asm.LineNumberEntry{StartPC: ar.u16(), Line: ar.u16()})
			}
		case "LocalVariableTable":
			k := int(ar.u16())
			for i := 0; i < k && ar.err == nil; i++ {
				vars = append(vars, asm.LocalVariableEntry{
					StartPC:    ar.u16(),
					Length:     ar.u16(),
					Name:       ar.u16(),
					Descriptor: ar.u16(),
					Index:      ar.u16(),
				})
			}
		default:
			log.Debugf("dropping %s attribute of Code", an)
		}
		if ar.err != nil {
			return nil, nil, fmt.Errorf("%s: %w", an, ar.err)
		}
	}
	return asm.Decode(d.pool, code, exceptions, lines, vars)
}
