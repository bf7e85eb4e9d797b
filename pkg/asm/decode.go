package asm

import (
	"encoding/binary"
	"fmt"
	"io"
	"sort"

	"github.com/chazu/jclass/pkg/constpool"
)

// reader is a big-endian cursor that records the first error.
type reader struct {
	data []byte
	pos  int
	err  error
}

func (r *reader) fail(err error) {
	if r.err == nil {
		r.err = err
	}
}

func (r *reader) need(n int) bool {
	if r.err != nil {
		return false
	}
	if r.pos+n > len(r.data) {
		r.fail(io.ErrUnexpectedEOF)
		return false
	}
	return true
}

func (r *reader) u8() uint8 {
	if !r.need(1) {
		return 0
	}
	v := r.data[r.pos]
	r.pos++
	return v
}

func (r *reader) u16() uint16 {
	if !r.need(2) {
		return 0
	}
	v := binary.BigEndian.Uint16(r.data[r.pos:])
	r.pos += 2
	return v
}

func (r *reader) u32() uint32 {
	if !r.need(4) {
		return 0
	}
	v := binary.BigEndian.Uint32(r.data[r.pos:])
	r.pos += 4
	return v
}

// decoded is an instruction whose branch targets are still offsets.
type decoded struct {
	offset  int
	insn    Instruction
	targets []int // absolute offsets: Jump target, or switch default then cases
}

// Decode rebuilds an instruction list from the contents of a Code
// attribute. Branch targets, exception ranges and local variable ranges
// become labels; line numbers become LineNumber markers. pool must be the
// class's decoded pool with its bootstrap methods restored.
func Decode(pool *constpool.Pool, code []byte, exceptions []ExceptionEntry, lines []LineNumberEntry, vars []LocalVariableEntry) (*List, []LocalVariable, error) {
	var insns []decoded
	r := &reader{data: code}
	for r.pos < len(code) {
		d, err := decodeOne(pool, r)
		if err != nil {
			return nil, nil, fmt.Errorf("offset %d: %w", d.offset, err)
		}
		insns = append(insns, d)
	}

	l := NewList()
	labels := make(map[int]Label)
	label := func(off int) (Label, error) {
		if off < 0 || off > len(code) {
			return 0, fmt.Errorf("target offset %d outside code of length %d", off, len(code))
		}
		lb, ok := labels[off]
		if !ok {
			lb = l.NewLabel()
			labels[off] = lb
		}
		return lb, nil
	}

	// Resolve branch operands to labels.
	for i := range insns {
		d := &insns[i]
		var err error
		switch x := d.insn.(type) {
		case Jump:
			x.Target, err = label(d.targets[0])
			d.insn = x
		case TableSwitch:
			if x.Default, err = label(d.targets[0]); err == nil {
				for k, off := range d.targets[1:] {
					if x.Targets[k], err = label(off); err != nil {
						break
					}
				}
			}
			d.insn = x
		case LookupSwitch:
			if x.Default, err = label(d.targets[0]); err == nil {
				for k, off := range d.targets[1:] {
					if x.Targets[k], err = label(off); err != nil {
						break
					}
				}
			}
			d.insn = x
		}
		if err != nil {
			return nil, nil, fmt.Errorf("offset %d: %w", d.offset, err)
		}
	}

	type regionAt struct {
		region Region
		entry  ExceptionEntry
	}
	var regions []regionAt
	for _, ex := range exceptions {
		if _, err := label(int(ex.HandlerPC)); err != nil {
			return nil, nil, err
		}
		regions = append(regions, regionAt{region: l.NewRegion(), entry: ex})
	}
	sort.SliceStable(regions, func(i, j int) bool {
		return regions[i].entry.StartPC < regions[j].entry.StartPC
	})

	var locals []LocalVariable
	for _, v := range vars {
		start, err := label(int(v.StartPC))
		if err != nil {
			return nil, nil, err
		}
		end, err := label(int(v.StartPC) + int(v.Length))
		if err != nil {
			return nil, nil, err
		}
		name, ok := pool.At(v.Name).(constpool.Utf8)
		if !ok {
			return nil, nil, fmt.Errorf("local variable name #%d is not utf8", v.Name)
		}
		desc, ok := pool.At(v.Descriptor).(constpool.Utf8)
		if !ok {
			return nil, nil, fmt.Errorf("local variable descriptor #%d is not utf8", v.Descriptor)
		}
		locals = append(locals, LocalVariable{
			Slot:       int(v.Index),
			Name:       name.Value,
			Descriptor: desc.Value,
			Start:      start,
			End:        end,
		})
	}

	// Emit markers before the instruction at each offset, and once more
	// for the end of the code.
	markers := func(off int) error {
		if lb, ok := labels[off]; ok {
			l.Mark(lb)
		}
		for _, reg := range regions {
			if int(reg.entry.EndPC) == off {
				l.Add(TryEnd{Region: reg.region})
			}
		}
		for _, reg := range regions {
			if int(reg.entry.StartPC) == off {
				catch := ""
				if reg.entry.CatchType != 0 {
					c, ok := pool.At(reg.entry.CatchType).(constpool.Class)
					if !ok {
						return fmt.Errorf("catch type #%d is not a class", reg.entry.CatchType)
					}
					catch = c.Name
				}
				l.Add(TryBegin{Region: reg.region, Handler: labels[int(reg.entry.HandlerPC)], CatchType: catch})
			}
		}
		for _, ln := range lines {
			if int(ln.StartPC) == off {
				l.Add(LineNumber{Line: int(ln.Line)})
			}
		}
		return nil
	}
	for _, d := range insns {
		if err := markers(d.offset); err != nil {
			return nil, nil, err
		}
		l.Add(d.insn)
	}
	if err := markers(len(code)); err != nil {
		return nil, nil, err
	}
	return l, locals, nil
}

func decodeOne(pool *constpool.Pool, r *reader) (decoded, error) {
	d := decoded{offset: r.pos}
	op := Opcode(r.u8())
	if !op.IsDefined() {
		return d, fmt.Errorf("undefined opcode 0x%02X", byte(op))
	}
	info := opcodeInfoTable[op]

	entry := func(idx uint16) constpool.Entry {
		e := pool.At(idx)
		if e == nil {
			r.fail(fmt.Errorf("%s: invalid constant pool index %d", op, idx))
		}
		return e
	}

	switch info.Form {
	case FormNone:
		if base, slot, ok := shortLocal(op); ok {
			d.insn = VarInsn{Op: base, Slot: slot}
		} else {
			d.insn = Insn{Op: op}
		}
	case FormByte:
		if op == OpNewarray {
			d.insn = IntInsn{Op: op, Operand: int(r.u8())}
		} else {
			d.insn = IntInsn{Op: op, Operand: int(int8(r.u8()))}
		}
	case FormShort:
		d.insn = IntInsn{Op: op, Operand: int(int16(r.u16()))}
	case FormConst:
		var idx uint16
		if op == OpLdc {
			idx = uint16(r.u8())
		} else {
			idx = r.u16()
		}
		d.insn = Ldc{Value: entry(idx)}
	case FormLocal:
		if op == OpRet {
			return d, fmt.Errorf("jsr/ret subroutines are not supported")
		}
		d.insn = VarInsn{Op: op, Slot: int(r.u8())}
	case FormIinc:
		d.insn = Iinc{Slot: int(r.u8()), Delta: int(int8(r.u8()))}
	case FormBranch, FormBranchWide:
		if op == OpJsr || op == OpJsrW {
			return d, fmt.Errorf("jsr/ret subroutines are not supported")
		}
		var delta int
		if info.Form == FormBranch {
			delta = int(int16(r.u16()))
		} else {
			delta = int(int32(r.u32()))
		}
		d.insn = Jump{Op: op}
		d.targets = []int{d.offset + delta}
	case FormTableSwitch:
		r.pos += switchPadding(d.offset)
		def := int(int32(r.u32()))
		low, high := int32(r.u32()), int32(r.u32())
		if r.err == nil && high < low {
			return d, fmt.Errorf("tableswitch high %d below low %d", high, low)
		}
		n := int(int64(high) - int64(low) + 1)
		if r.err == nil && n > len(r.data) {
			return d, fmt.Errorf("tableswitch with %d cases exceeds code length", n)
		}
		d.targets = []int{d.offset + def}
		for j := 0; j < n; j++ {
			d.targets = append(d.targets, d.offset+int(int32(r.u32())))
		}
		d.insn = TableSwitch{Low: low, High: high, Targets: make([]Label, n)}
	case FormLookupSwitch:
		r.pos += switchPadding(d.offset)
		def := int(int32(r.u32()))
		n := int(r.u32())
		if r.err == nil && n > len(r.data) {
			return d, fmt.Errorf("lookupswitch with %d pairs exceeds code length", n)
		}
		x := LookupSwitch{Keys: make([]int32, n), Targets: make([]Label, n)}
		d.targets = []int{d.offset + def}
		for k := 0; k < n; k++ {
			x.Keys[k] = int32(r.u32())
			d.targets = append(d.targets, d.offset+int(int32(r.u32())))
		}
		d.insn = x
	case FormField:
		e := entry(r.u16())
		f, ok := e.(constpool.FieldRef)
		if !ok && r.err == nil {
			return d, fmt.Errorf("%s operand %s is not a field reference", op, e)
		}
		d.insn = FieldInsn{Op: op, Owner: f.Class, Name: f.Name, Descriptor: f.Descriptor}
	case FormMethod, FormInterface:
		e := entry(r.u16())
		if info.Form == FormInterface {
			r.u8()
			r.u8()
		}
		switch m := e.(type) {
		case constpool.MethodRef:
			d.insn = MethodInsn{Op: op, Owner: m.Class, Name: m.Name, Descriptor: m.Descriptor}
		case constpool.InterfaceMethodRef:
			d.insn = MethodInsn{Op: op, Owner: m.Class, Name: m.Name, Descriptor: m.Descriptor, Interface: true}
		default:
			if r.err == nil {
				return d, fmt.Errorf("%s operand %s is not a method reference", op, e)
			}
		}
	case FormDynamic:
		e := entry(r.u16())
		r.u16()
		indy, ok := e.(constpool.InvokeDynamic)
		if !ok {
			if r.err == nil {
				return d, fmt.Errorf("invokedynamic operand %s is not a call site", e)
			}
			break
		}
		bms := pool.BootstrapMethods()
		if int(indy.Bootstrap) >= len(bms) {
			return d, fmt.Errorf("invokedynamic refers to bootstrap method %d of %d", indy.Bootstrap, len(bms))
		}
		bm := bms[indy.Bootstrap]
		d.insn = InvokeDynamic{Name: indy.Name, Descriptor: indy.Descriptor, Bootstrap: bm.Handle, Args: bm.Args}
	case FormType, FormMultiArray:
		e := entry(r.u16())
		c, ok := e.(constpool.Class)
		if !ok && r.err == nil {
			return d, fmt.Errorf("%s operand %s is not a class", op, e)
		}
		if info.Form == FormMultiArray {
			d.insn = MultiANewArray{Descriptor: c.Name, Dims: int(r.u8())}
		} else {
			d.insn = TypeInsn{Op: op, Class: c.Name}
		}
	case FormWide:
		inner := Opcode(r.u8())
		_, local := localOps[inner]
		switch {
		case inner == OpIinc:
			d.insn = Iinc{Slot: int(r.u16()), Delta: int(int16(r.u16()))}
		case local:
			d.insn = VarInsn{Op: inner, Slot: int(r.u16())}
		default:
			if r.err == nil {
				return d, fmt.Errorf("wide %s is not supported", inner)
			}
		}
	}
	if r.err != nil {
		return d, r.err
	}
	return d, nil
}
