package asm

import (
	"encoding/binary"
	"fmt"
	"math"
	"sort"

	"github.com/chazu/jclass/pkg/constpool"
	"github.com/chazu/jclass/pkg/vtype"
)

// Encoded is the final form of one instruction. Markers encode to a
// zero-size Encoded with Marker set.
type Encoded struct {
	Op      Opcode
	Marker  bool
	Offset  int
	Size    int
	Padding int    // switch alignment bytes
	Index   uint16 // constant pool index, if any
	Wide    bool   // wide local form or widened branch
	Delta   int    // branch offset from Offset
	Table   []int  // switch: default offset, then case offsets
	Keys    []int32
	Bytes   []byte
}

// encode produces the bytes of instruction i. All offsets are final.
func (c *Context) encode(i int, insn Instruction) (Encoded, error) {
	c.index = i
	c.start = c.starts[i]
	e := Encoded{Offset: c.starts[i], Size: c.sizes[i], Index: c.indexes[i]}
	if IsMarker(insn) {
		e.Marker = true
		return e, nil
	}
	var b []byte

	switch x := insn.(type) {
	case Insn:
		e.Op = x.Op
		b = []byte{byte(x.Op)}
	case IntInsn:
		e.Op = x.Op
		switch x.Op {
		case OpSipush:
			b = binary.BigEndian.AppendUint16([]byte{byte(x.Op)}, uint16(int16(x.Operand)))
		default:
			b = []byte{byte(x.Op), byte(int8(x.Operand))}
		}
	case Ldc:
		e.Op = c.ldcOp(i)
		if e.Op == OpLdc {
			b = []byte{byte(OpLdc), byte(e.Index)}
		} else {
			b = binary.BigEndian.AppendUint16([]byte{byte(e.Op)}, e.Index)
		}
	case VarInsn:
		e.Op, e.Wide, b = encodeLocal(x.Op, x.Slot)
	case Iinc:
		e.Op = OpIinc
		if c.sizes[i] == 3 {
			b = []byte{byte(OpIinc), byte(x.Slot), byte(int8(x.Delta))}
		} else {
			e.Wide = true
			b = []byte{byte(OpWide), byte(OpIinc)}
			b = binary.BigEndian.AppendUint16(b, uint16(x.Slot))
			b = binary.BigEndian.AppendUint16(b, uint16(int16(x.Delta)))
		}
	case Jump:
		var err error
		e.Op = x.Op
		e.Delta = c.labels[x.Target] - e.Offset
		e.Wide = x.Op == OpGotoW || c.wide[i]
		if b, err = c.encodeJump(x, e.Delta); err != nil {
			return e, err
		}
	case TableSwitch:
		e.Op = OpTableswitch
		e.Padding = c.padding[i]
		e.Table = c.resolve(x.Default, x.Targets)
		b = c.switchHeader(OpTableswitch, e.Padding, e.Table[0])
		b = binary.BigEndian.AppendUint32(b, uint32(x.Low))
		b = binary.BigEndian.AppendUint32(b, uint32(x.High))
		for _, off := range e.Table[1:] {
			b = binary.BigEndian.AppendUint32(b, uint32(int32(off)))
		}
	case LookupSwitch:
		e.Op = OpLookupswitch
		e.Padding = c.padding[i]
		table := c.resolve(x.Default, x.Targets)
		pairs := make([]int, len(x.Keys))
		for k := range pairs {
			pairs[k] = k
		}
		sort.Slice(pairs, func(a, b int) bool { return x.Keys[pairs[a]] < x.Keys[pairs[b]] })
		// Keys and Table[1:] are both in key order.
		e.Table = append(make([]int, 0, len(table)), table[0])
		b = c.switchHeader(OpLookupswitch, e.Padding, table[0])
		b = binary.BigEndian.AppendUint32(b, uint32(len(x.Keys)))
		for _, k := range pairs {
			e.Keys = append(e.Keys, x.Keys[k])
			e.Table = append(e.Table, table[k+1])
			b = binary.BigEndian.AppendUint32(b, uint32(x.Keys[k]))
			b = binary.BigEndian.AppendUint32(b, uint32(int32(table[k+1])))
		}
	case FieldInsn:
		e.Op = x.Op
		b = binary.BigEndian.AppendUint16([]byte{byte(x.Op)}, e.Index)
	case MethodInsn:
		e.Op = x.Op
		b = binary.BigEndian.AppendUint16([]byte{byte(x.Op)}, e.Index)
		if x.Op == OpInvokeinterface {
			count, err := argCount(x.Descriptor)
			if err != nil {
				return e, c.fail(err, "method descriptor")
			}
			b = append(b, byte(count), 0)
		}
	case InvokeDynamic:
		e.Op = OpInvokedynamic
		b = binary.BigEndian.AppendUint16([]byte{byte(OpInvokedynamic)}, e.Index)
		b = append(b, 0, 0)
	case TypeInsn:
		e.Op = x.Op
		b = binary.BigEndian.AppendUint16([]byte{byte(x.Op)}, e.Index)
	case MultiANewArray:
		e.Op = OpMultianewarray
		b = binary.BigEndian.AppendUint16([]byte{byte(OpMultianewarray)}, e.Index)
		b = append(b, byte(x.Dims))
	default:
		return e, c.fail(nil, "unknown instruction %T", insn)
	}

	if len(b) != e.Size {
		return e, fmt.Errorf("instruction %d (%s): encoded %d bytes, reserved %d", i, e.Op, len(b), e.Size)
	}
	e.Bytes = b
	return e, nil
}

func (c *Context) ldcOp(i int) Opcode {
	idx := c.indexes[i]
	if e := c.pool.At(idx); e != nil {
		if t, err := constpool.NaturalType(e); err == nil && t.Width() == 2 {
			return OpLdc2W
		}
	}
	if c.sizes[i] == 2 {
		return OpLdc
	}
	return OpLdcW
}

// encodeLocal picks the shortest form of a load or store.
func encodeLocal(op Opcode, slot int) (Opcode, bool, []byte) {
	ls := localOps[op]
	switch {
	case slot <= 3:
		short := ls.short + Opcode(slot)
		return op, false, []byte{byte(short)}
	case slot <= 0xFF:
		return op, false, []byte{byte(op), byte(slot)}
	}
	b := []byte{byte(OpWide), byte(op)}
	return op, true, binary.BigEndian.AppendUint16(b, uint16(slot))
}

func (c *Context) encodeJump(x Jump, delta int) ([]byte, error) {
	switch {
	case x.Op == OpGotoW || (x.Op == OpGoto && c.wide[c.index]):
		if delta < math.MinInt32 || delta > math.MaxInt32 {
			return nil, &RangeError{Index: c.index, What: "branch offset", Value: int64(delta)}
		}
		return binary.BigEndian.AppendUint32([]byte{byte(OpGotoW)}, uint32(int32(delta))), nil
	case c.wide[c.index]:
		// Inverted condition skips the 5-byte goto_w that follows it.
		far := delta - 3
		if far < math.MinInt32 || far > math.MaxInt32 {
			return nil, &RangeError{Index: c.index, What: "branch offset", Value: int64(far)}
		}
		b := []byte{byte(x.Op.Invert()), 0, 8, byte(OpGotoW)}
		return binary.BigEndian.AppendUint32(b, uint32(int32(far))), nil
	}
	if delta < math.MinInt16 || delta > math.MaxInt16 {
		return nil, &RangeError{Index: c.index, What: "branch offset", Value: int64(delta)}
	}
	return binary.BigEndian.AppendUint16([]byte{byte(x.Op)}, uint16(int16(delta))), nil
}

// resolve returns the offsets of def and targets relative to the current
// instruction.
func (c *Context) resolve(def Label, targets []Label) []int {
	out := make([]int, 0, 1+len(targets))
	out = append(out, c.labels[def]-c.start)
	for _, l := range targets {
		out = append(out, c.labels[l]-c.start)
	}
	return out
}

func (c *Context) switchHeader(op Opcode, pad, def int) []byte {
	b := make([]byte, 1+pad, 1+pad+4)
	b[0] = byte(op)
	return binary.BigEndian.AppendUint32(b, uint32(int32(def)))
}

func argCount(desc string) (int, error) {
	md, err := vtype.ParseMethodDescriptor(desc)
	if err != nil {
		return 0, err
	}
	return 1 + md.ParamSlots(), nil
}
