package constpool

import (
	"encoding/binary"
	"fmt"
	"math"
)

// AppendTo appends constant_pool_count followed by every entry in index
// order. Components of composite entries are resolved through the pool's
// own index, so they must already be present (Intern guarantees it).
func (p *Pool) AppendTo(buf []byte) ([]byte, error) {
	if p.Count() > 0xFFFF {
		return nil, &OverflowError{Table: "constant pool", Limit: MaxSlots, Size: p.Len()}
	}
	buf = binary.BigEndian.AppendUint16(buf, uint16(p.Count()))
	for i := 1; i < len(p.slots); i++ {
		e := p.slots[i]
		if e == nil {
			continue
		}
		var err error
		if buf, err = p.appendEntry(buf, e); err != nil {
			return nil, fmt.Errorf("constant pool entry %d: %w", i, err)
		}
	}
	return buf, nil
}

func (p *Pool) ref(e Entry) (uint16, error) {
	idx, ok := p.index[e]
	if !ok {
		return 0, fmt.Errorf("component %s not interned", e)
	}
	return idx, nil
}

func (p *Pool) appendEntry(buf []byte, e Entry) ([]byte, error) {
	buf = append(buf, byte(e.Tag()))
	switch x := e.(type) {
	case Utf8:
		enc := appendModifiedUTF8(nil, x.Value)
		buf = binary.BigEndian.AppendUint16(buf, uint16(len(enc)))
		return append(buf, enc...), nil
	case Integer:
		return binary.BigEndian.AppendUint32(buf, uint32(x.Value)), nil
	case Float:
		return binary.BigEndian.AppendUint32(buf, x.Bits), nil
	case Long:
		return binary.BigEndian.AppendUint64(buf, uint64(x.Value)), nil
	case Double:
		return binary.BigEndian.AppendUint64(buf, x.Bits), nil
	case Class:
		return p.appendRefs(buf, Utf8{x.Name})
	case String:
		return p.appendRefs(buf, Utf8{x.Value})
	case MethodType:
		return p.appendRefs(buf, Utf8{x.Descriptor})
	case NameAndType:
		return p.appendRefs(buf, Utf8{x.Name}, Utf8{x.Descriptor})
	case FieldRef:
		return p.appendRefs(buf, Class{x.Class}, NameAndType{x.Name, x.Descriptor})
	case MethodRef:
		return p.appendRefs(buf, Class{x.Class}, NameAndType{x.Name, x.Descriptor})
	case InterfaceMethodRef:
		return p.appendRefs(buf, Class{x.Class}, NameAndType{x.Name, x.Descriptor})
	case MethodHandle:
		buf = append(buf, byte(x.Kind))
		return p.appendRefs(buf, x.Reference())
	case InvokeDynamic:
		buf = binary.BigEndian.AppendUint16(buf, x.Bootstrap)
		return p.appendRefs(buf, NameAndType{x.Name, x.Descriptor})
	case Dynamic:
		buf = binary.BigEndian.AppendUint16(buf, x.Bootstrap)
		return p.appendRefs(buf, NameAndType{x.Name, x.Descriptor})
	}
	return nil, &UnsupportedConstantError{Value: e}
}

func (p *Pool) appendRefs(buf []byte, parts ...Entry) ([]byte, error) {
	for _, part := range parts {
		idx, err := p.ref(part)
		if err != nil {
			return nil, err
		}
		buf = binary.BigEndian.AppendUint16(buf, idx)
	}
	return buf, nil
}

// modifiedUTF8Len returns the encoded length of s in the class file's
// modified UTF-8: NUL takes two bytes and supplementary characters are
// written as two three-byte surrogates.
func modifiedUTF8Len(s string) int {
	n := 0
	for _, r := range s {
		switch {
		case r == 0:
			n += 2
		case r < 0x80:
			n++
		case r < 0x800:
			n += 2
		case r < 0x10000:
			n += 3
		default:
			n += 6
		}
	}
	return n
}

func appendModifiedUTF8(buf []byte, s string) []byte {
	for _, r := range s {
		switch {
		case r != 0 && r < 0x80:
			buf = append(buf, byte(r))
		case r < 0x800:
			buf = append(buf, byte(0xC0|(r>>6)), byte(0x80|(r&0x3F)))
		case r < 0x10000:
			buf = appendThreeByte(buf, r)
		default:
			r -= 0x10000
			buf = appendThreeByte(buf, 0xD800+(r>>10))
			buf = appendThreeByte(buf, 0xDC00+(r&0x3FF))
		}
	}
	return buf
}

func appendThreeByte(buf []byte, r rune) []byte {
	return append(buf, byte(0xE0|(r>>12)), byte(0x80|((r>>6)&0x3F)), byte(0x80|(r&0x3F)))
}

// decodeModifiedUTF8 is the inverse of appendModifiedUTF8.
func decodeModifiedUTF8(b []byte) (string, error) {
	runes := make([]rune, 0, len(b))
	for i := 0; i < len(b); {
		c := b[i]
		switch {
		case c < 0x80:
			runes = append(runes, rune(c))
			i++
		case c&0xE0 == 0xC0:
			if i+1 >= len(b) {
				return "", fmt.Errorf("truncated utf8 at byte %d", i)
			}
			runes = append(runes, rune(c&0x1F)<<6|rune(b[i+1]&0x3F))
			i += 2
		case c&0xF0 == 0xE0:
			if i+2 >= len(b) {
				return "", fmt.Errorf("truncated utf8 at byte %d", i)
			}
			runes = append(runes, rune(c&0x0F)<<12|rune(b[i+1]&0x3F)<<6|rune(b[i+2]&0x3F))
			i += 3
		default:
			return "", fmt.Errorf("invalid utf8 byte 0x%02X at %d", c, i)
		}
	}
	// Recombine surrogate pairs.
	out := make([]rune, 0, len(runes))
	for i := 0; i < len(runes); i++ {
		r := runes[i]
		if r >= 0xD800 && r < 0xDC00 && i+1 < len(runes) && runes[i+1] >= 0xDC00 && runes[i+1] < 0xE000 {
			out = append(out, 0x10000+(r-0xD800)<<10+(runes[i+1]-0xDC00))
			i++
			continue
		}
		out = append(out, r)
	}
	return string(out), nil
}

// rawEntry is a pool entry as read from bytes, before component indexes are
// resolved to structural values.
type rawEntry struct {
	tag    Tag
	s      string
	x      uint64
	a, b   uint16
	kind   uint8
	loaded bool
}

// Decode reads a serialized constant pool (starting at constant_pool_count)
// and returns the pool and the number of bytes consumed. The returned pool
// has exactly the indices of the input.
func Decode(data []byte) (*Pool, int, error) {
	if len(data) < 2 {
		return nil, 0, fmt.Errorf("constant pool truncated")
	}
	count := int(binary.BigEndian.Uint16(data))
	if count == 0 {
		return nil, 0, fmt.Errorf("constant_pool_count is 0")
	}
	pos := 2
	raws := make([]rawEntry, count)
	for i := 1; i < count; i++ {
		if pos >= len(data) {
			return nil, 0, fmt.Errorf("constant pool truncated at entry %d", i)
		}
		r := rawEntry{tag: Tag(data[pos]), loaded: true}
		pos++
		need := func(n int) error {
			if pos+n > len(data) {
				return fmt.Errorf("constant pool truncated in entry %d (%s)", i, r.tag)
			}
			return nil
		}
		switch r.tag {
		case TagUtf8:
			if err := need(2); err != nil {
				return nil, 0, err
			}
			n := int(binary.BigEndian.Uint16(data[pos:]))
			pos += 2
			if err := need(n); err != nil {
				return nil, 0, err
			}
			s, err := decodeModifiedUTF8(data[pos : pos+n])
			if err != nil {
				return nil, 0, fmt.Errorf("constant pool entry %d: %w", i, err)
			}
			r.s = s
			pos += n
		case TagInteger, TagFloat:
			if err := need(4); err != nil {
				return nil, 0, err
			}
			r.x = uint64(binary.BigEndian.Uint32(data[pos:]))
			pos += 4
		case TagLong, TagDouble:
			if err := need(8); err != nil {
				return nil, 0, err
			}
			r.x = binary.BigEndian.Uint64(data[pos:])
			pos += 8
		case TagClass, TagString, TagMethodType:
			if err := need(2); err != nil {
				return nil, 0, err
			}
			r.a = binary.BigEndian.Uint16(data[pos:])
			pos += 2
		case TagMethodHandle:
			if err := need(3); err != nil {
				return nil, 0, err
			}
			r.kind = data[pos]
			r.a = binary.BigEndian.Uint16(data[pos+1:])
			pos += 3
		case TagFieldRef, TagMethodRef, TagInterfaceMethodRef, TagNameAndType, TagInvokeDynamic, TagDynamic:
			if err := need(4); err != nil {
				return nil, 0, err
			}
			r.a = binary.BigEndian.Uint16(data[pos:])
			r.b = binary.BigEndian.Uint16(data[pos+2:])
			pos += 4
		default:
			return nil, 0, fmt.Errorf("constant pool entry %d: unknown tag %d", i, r.tag)
		}
		raws[i] = r
		if r.tag == TagLong || r.tag == TagDouble {
			i++
		}
	}

	p := New()
	p.slots = make([]Entry, count)
	resolved := make([]Entry, count)
	var resolve func(i uint16, depth int) (Entry, error)
	resolve = func(i uint16, depth int) (Entry, error) {
		if int(i) >= count || !raws[i].loaded {
			return nil, fmt.Errorf("invalid constant pool reference %d", i)
		}
		if resolved[i] != nil {
			return resolved[i], nil
		}
		if depth > 4 {
			return nil, fmt.Errorf("constant pool reference cycle at %d", i)
		}
		r := raws[i]
		utf := func(j uint16) (string, error) {
			e, err := resolve(j, depth+1)
			if err != nil {
				return "", err
			}
			u, ok := e.(Utf8)
			if !ok {
				return "", fmt.Errorf("entry %d: expected Utf8 at %d, got %s", i, j, e.Tag())
			}
			return u.Value, nil
		}
		nat := func(j uint16) (NameAndType, error) {
			e, err := resolve(j, depth+1)
			if err != nil {
				return NameAndType{}, err
			}
			n, ok := e.(NameAndType)
			if !ok {
				return NameAndType{}, fmt.Errorf("entry %d: expected NameAndType at %d, got %s", i, j, e.Tag())
			}
			return n, nil
		}
		class := func(j uint16) (string, error) {
			e, err := resolve(j, depth+1)
			if err != nil {
				return "", err
			}
			c, ok := e.(Class)
			if !ok {
				return "", fmt.Errorf("entry %d: expected Class at %d, got %s", i, j, e.Tag())
			}
			return c.Name, nil
		}
		var e Entry
		switch r.tag {
		case TagUtf8:
			e = Utf8{r.s}
		case TagInteger:
			e = Integer{int32(uint32(r.x))}
		case TagFloat:
			e = Float{uint32(r.x)}
		case TagLong:
			e = Long{int64(r.x)}
		case TagDouble:
			e = Double{r.x}
		case TagClass:
			s, err := utf(r.a)
			if err != nil {
				return nil, err
			}
			e = Class{s}
		case TagString:
			s, err := utf(r.a)
			if err != nil {
				return nil, err
			}
			e = String{s}
		case TagMethodType:
			s, err := utf(r.a)
			if err != nil {
				return nil, err
			}
			e = MethodType{s}
		case TagNameAndType:
			name, err := utf(r.a)
			if err != nil {
				return nil, err
			}
			desc, err := utf(r.b)
			if err != nil {
				return nil, err
			}
			e = NameAndType{name, desc}
		case TagFieldRef, TagMethodRef, TagInterfaceMethodRef:
			c, err := class(r.a)
			if err != nil {
				return nil, err
			}
			n, err := nat(r.b)
			if err != nil {
				return nil, err
			}
			switch r.tag {
			case TagFieldRef:
				e = FieldRef{c, n.Name, n.Descriptor}
			case TagMethodRef:
				e = MethodRef{c, n.Name, n.Descriptor}
			default:
				e = InterfaceMethodRef{c, n.Name, n.Descriptor}
			}
		case TagMethodHandle:
			ref, err := resolve(r.a, depth+1)
			if err != nil {
				return nil, err
			}
			h := MethodHandle{Kind: HandleKind(r.kind)}
			switch x := ref.(type) {
			case FieldRef:
				h.Owner, h.Name, h.Descriptor = x.Class, x.Name, x.Descriptor
			case MethodRef:
				h.Owner, h.Name, h.Descriptor = x.Class, x.Name, x.Descriptor
			case InterfaceMethodRef:
				h.Owner, h.Name, h.Descriptor, h.Interface = x.Class, x.Name, x.Descriptor, true
			default:
				return nil, fmt.Errorf("entry %d: method handle refers to %s", i, ref.Tag())
			}
			e = h
		case TagInvokeDynamic, TagDynamic:
			n, err := nat(r.b)
			if err != nil {
				return nil, err
			}
			if r.tag == TagInvokeDynamic {
				e = InvokeDynamic{r.a, n.Name, n.Descriptor}
			} else {
				e = Dynamic{r.a, n.Name, n.Descriptor}
			}
		}
		resolved[i] = e
		return e, nil
	}

	for i := 1; i < count; i++ {
		if !raws[i].loaded {
			continue
		}
		e, err := resolve(uint16(i), 0)
		if err != nil {
			return nil, 0, err
		}
		p.slots[i] = e
		if _, dup := p.index[e]; !dup {
			p.index[e] = uint16(i)
		}
	}
	return p, pos, nil
}

// RestoreBootstrapMethods installs a decoded bootstrap method table. Each
// method's handle and arguments are looked up from their indexes.
func (p *Pool) RestoreBootstrapMethods(methods [][]uint16) error {
	for i, m := range methods {
		if len(m) == 0 {
			return fmt.Errorf("bootstrap method %d: empty", i)
		}
		h, ok := p.At(m[0]).(MethodHandle)
		if !ok {
			return fmt.Errorf("bootstrap method %d: entry %d is not a method handle", i, m[0])
		}
		bm := BootstrapMethod{Handle: h, HandleIndex: m[0], ArgIndexes: append([]uint16(nil), m[1:]...)}
		for _, ai := range m[1:] {
			arg := p.At(ai)
			if arg == nil {
				return fmt.Errorf("bootstrap method %d: invalid argument index %d", i, ai)
			}
			bm.Args = append(bm.Args, arg)
		}
		p.bootstrapIndex[bootstrapKey(bm.Handle, bm.Args)] = uint16(i)
		p.bootstrap = append(p.bootstrap, bm)
	}
	return nil
}

// Value converts the raw bits back to a float.
func (e Float) Value() float32 { return math.Float32frombits(e.Bits) }

// Value converts the raw bits back to a double.
func (e Double) Value() float64 { return math.Float64frombits(e.Bits) }
