package asm

import (
	"encoding/binary"
	"fmt"

	"github.com/chazu/jclass/pkg/constpool"
	"github.com/chazu/jclass/pkg/vtype"
)

// Frame is the verifier state at a branch target. Locals hold one entry
// per value: a long or double covers two slots but appears once.
type Frame struct {
	Offset int
	Locals []vtype.Type
	Stack  []vtype.Type
}

// Verification type tags.
const (
	itemTop               = 0
	itemInteger           = 1
	itemFloat             = 2
	itemDouble            = 3
	itemLong              = 4
	itemNull              = 5
	itemUninitializedThis = 6
	itemObject            = 7
	itemUninitialized     = 8
)

// Frame type ranges.
const (
	sameFrameMax        = 63
	sameLocals1Base     = 64
	sameLocals1Extended = 247
	chopBase            = 251 // chop k is 251-k
	sameFrameExtended   = 251
	appendBase          = 251 // append k is 251+k
	fullFrame           = 255
)

// EncodeStackMap returns the body of a StackMapTable attribute for frames,
// which must be sorted by offset. initial is the slot-indexed locals at
// method entry; the first frame is compared against it.
func EncodeStackMap(pool *constpool.Pool, initial []vtype.Type, frames []Frame) ([]byte, error) {
	if len(frames) > 0xFFFF {
		return nil, &RangeError{Index: -1, What: "stack map frames", Value: int64(len(frames))}
	}
	b := binary.BigEndian.AppendUint16(nil, uint16(len(frames)))
	prevLocals := compactLocals(initial)
	prevOffset := -1
	var err error
	for _, f := range frames {
		delta := f.Offset - prevOffset - 1
		if delta < 0 {
			return nil, fmt.Errorf("stack map frame at offset %d is not after offset %d", f.Offset, prevOffset)
		}
		if b, err = appendFrame(b, pool, prevLocals, f, delta); err != nil {
			return nil, err
		}
		prevLocals = f.Locals
		prevOffset = f.Offset
	}
	return b, nil
}

func appendFrame(b []byte, pool *constpool.Pool, prev []vtype.Type, f Frame, delta int) ([]byte, error) {
	same := equalTypes(prev, f.Locals)
	var err error
	switch {
	case same && len(f.Stack) == 0:
		if delta <= sameFrameMax {
			return append(b, byte(delta)), nil
		}
		b = append(b, sameFrameExtended)
		return binary.BigEndian.AppendUint16(b, uint16(delta)), nil

	case same && len(f.Stack) == 1:
		if delta <= sameFrameMax {
			b = append(b, byte(sameLocals1Base+delta))
		} else {
			b = append(b, sameLocals1Extended)
			b = binary.BigEndian.AppendUint16(b, uint16(delta))
		}
		return appendVerificationType(b, pool, f.Stack[0])

	case len(f.Stack) == 0 && len(f.Locals) < len(prev) && len(prev)-len(f.Locals) <= 3 &&
		equalTypes(prev[:len(f.Locals)], f.Locals):
		b = append(b, byte(chopBase-(len(prev)-len(f.Locals))))
		return binary.BigEndian.AppendUint16(b, uint16(delta)), nil

	case len(f.Stack) == 0 && len(f.Locals) > len(prev) && len(f.Locals)-len(prev) <= 3 &&
		equalTypes(prev, f.Locals[:len(prev)]):
		b = append(b, byte(appendBase+(len(f.Locals)-len(prev))))
		b = binary.BigEndian.AppendUint16(b, uint16(delta))
		for _, t := range f.Locals[len(prev):] {
			if b, err = appendVerificationType(b, pool, t); err != nil {
				return nil, err
			}
		}
		return b, nil
	}

	b = append(b, fullFrame)
	b = binary.BigEndian.AppendUint16(b, uint16(delta))
	b = binary.BigEndian.AppendUint16(b, uint16(len(f.Locals)))
	for _, t := range f.Locals {
		if b, err = appendVerificationType(b, pool, t); err != nil {
			return nil, err
		}
	}
	b = binary.BigEndian.AppendUint16(b, uint16(len(f.Stack)))
	for _, t := range f.Stack {
		if b, err = appendVerificationType(b, pool, t); err != nil {
			return nil, err
		}
	}
	return b, nil
}

func appendVerificationType(b []byte, pool *constpool.Pool, t vtype.Type) ([]byte, error) {
	switch t.Kind {
	case vtype.KindInteger:
		return append(b, itemInteger), nil
	case vtype.KindFloat:
		return append(b, itemFloat), nil
	case vtype.KindDouble:
		return append(b, itemDouble), nil
	case vtype.KindLong:
		return append(b, itemLong), nil
	case vtype.KindNull:
		return append(b, itemNull), nil
	case vtype.KindReference:
		class := t.Class
		if class == "" {
			class = "java/lang/Object"
		}
		idx, err := pool.Class(class)
		if err != nil {
			return nil, err
		}
		return binary.BigEndian.AppendUint16(append(b, itemObject), idx), nil
	case vtype.KindUninitialized:
		switch {
		case t.Offset == vtype.ThisOffset:
			return append(b, itemUninitializedThis), nil
		case t.Offset >= 0:
			return binary.BigEndian.AppendUint16(append(b, itemUninitialized), uint16(t.Offset)), nil
		}
	}
	return append(b, itemTop), nil
}

func equalTypes(a, b []vtype.Type) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

// DecodeStackMap parses a StackMapTable attribute body. initial is the
// slot-indexed locals at method entry.
func DecodeStackMap(pool *constpool.Pool, initial []vtype.Type, data []byte) ([]Frame, error) {
	r := &reader{data: data}
	n := int(r.u16())
	frames := make([]Frame, 0, n)
	locals := compactLocals(initial)
	offset := -1
	for j := 0; j < n; j++ {
		kind := int(r.u8())
		var delta int
		var stack []vtype.Type
		switch {
		case kind <= sameFrameMax:
			delta = kind
		case kind < 128:
			delta = kind - sameLocals1Base
			stack = []vtype.Type{r.verificationType(pool)}
		case kind < sameLocals1Extended:
			return nil, fmt.Errorf("reserved stack map frame type %d", kind)
		case kind == sameLocals1Extended:
			delta = int(r.u16())
			stack = []vtype.Type{r.verificationType(pool)}
		case kind < sameFrameExtended:
			delta = int(r.u16())
			k := chopBase - kind
			if k > len(locals) {
				return nil, fmt.Errorf("chop frame removes %d of %d locals", k, len(locals))
			}
			locals = locals[:len(locals)-k]
		case kind == sameFrameExtended:
			delta = int(r.u16())
		case kind < fullFrame:
			delta = int(r.u16())
			locals = append([]vtype.Type(nil), locals...)
			for j, m := 0, kind-appendBase; j < m; j++ {
				locals = append(locals, r.verificationType(pool))
			}
		default:
			delta = int(r.u16())
			locals = make([]vtype.Type, r.u16())
			for i := range locals {
				locals[i] = r.verificationType(pool)
			}
			stack = make([]vtype.Type, r.u16())
			for i := range stack {
				stack[i] = r.verificationType(pool)
			}
		}
		if r.err != nil {
			return nil, r.err
		}
		offset += delta + 1
		frames = append(frames, Frame{Offset: offset, Locals: locals, Stack: stack})
	}
	return frames, r.err
}

func (r *reader) verificationType(pool *constpool.Pool) vtype.Type {
	switch tag := r.u8(); tag {
	case itemTop:
		return vtype.Top
	case itemInteger:
		return vtype.Int
	case itemFloat:
		return vtype.Float
	case itemDouble:
		return vtype.Double
	case itemLong:
		return vtype.Long
	case itemNull:
		return vtype.Null
	case itemUninitializedThis:
		return vtype.UninitializedThis
	case itemObject:
		idx := r.u16()
		if c, ok := pool.At(idx).(constpool.Class); ok {
			return vtype.Ref(c.Name)
		}
		r.fail(fmt.Errorf("stack map object type #%d is not a class", idx))
	case itemUninitialized:
		return vtype.Uninitialized(int(r.u16()))
	default:
		r.fail(fmt.Errorf("unknown verification type tag %d", tag))
	}
	return vtype.Top
}
