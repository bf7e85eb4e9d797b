package asm

import (
	"github.com/chazu/jclass/pkg/constpool"
	"github.com/chazu/jclass/pkg/vtype"
)

// markerName returns the listing name of a marker instruction.
func markerName(insn Instruction) string {
	switch insn.(type) {
	case Mark:
		return "label"
	case TryBegin:
		return ".try"
	case TryEnd:
		return ".endtry"
	case LineNumber:
		return ".line"
	}
	return "?"
}

// opOf returns the opcode an instruction is written with, or false for
// markers and ldc (whose opcode depends on the pool).
func opOf(insn Instruction) (Opcode, bool) {
	switch x := insn.(type) {
	case Insn:
		return x.Op, true
	case IntInsn:
		return x.Op, true
	case VarInsn:
		return x.Op, true
	case Iinc:
		return OpIinc, true
	case Jump:
		return x.Op, true
	case TableSwitch:
		return OpTableswitch, true
	case LookupSwitch:
		return OpLookupswitch, true
	case FieldInsn:
		return x.Op, true
	case MethodInsn:
		return x.Op, true
	case InvokeDynamic:
		return OpInvokedynamic, true
	case TypeInsn:
		return x.Op, true
	case MultiANewArray:
		return OpMultianewarray, true
	}
	return 0, false
}

// switchPadding returns the number of zero bytes between a switch opcode
// at offset and its 4-byte aligned operands.
func switchPadding(offset int) int {
	return (4 - (offset+1)%4) % 4
}

// preprocess advances the context over one instruction: size, then pops,
// then pushes, then locals.
func (c *Context) preprocess(i int, insn Instruction) error {
	c.index = i
	c.start = c.offset
	c.starts[i] = c.offset
	if op, ok := opOf(insn); ok {
		c.op = op.String()
	} else if _, ok := insn.(Ldc); ok {
		c.op = "ldc"
	} else {
		c.op = markerName(insn)
	}
	if err := c.step(insn); err != nil {
		return err
	}
	if op, ok := opOf(insn); ok && op.EndsBlock() {
		c.reachable = false
	}
	return nil
}

func (c *Context) step(insn Instruction) error {
	switch x := insn.(type) {
	case Insn:
		return c.preInsn(x)
	case IntInsn:
		return c.preIntInsn(x)
	case Ldc:
		return c.preLdc(x)
	case VarInsn:
		return c.preVarInsn(x)
	case Iinc:
		return c.preIinc(x)
	case Jump:
		return c.preJump(x)
	case TableSwitch:
		return c.preTableSwitch(x)
	case LookupSwitch:
		return c.preLookupSwitch(x)
	case FieldInsn:
		return c.preFieldInsn(x)
	case MethodInsn:
		return c.preMethodInsn(x)
	case InvokeDynamic:
		return c.preInvokeDynamic(x)
	case TypeInsn:
		return c.preTypeInsn(x)
	case MultiANewArray:
		return c.preMultiANewArray(x)
	case Mark:
		return c.mark(x.Label)
	case TryBegin:
		return c.tryBegin(x)
	case TryEnd:
		return c.tryEnd(x)
	case LineNumber:
		if x.Line < 0 || x.Line > 0xFFFF {
			return &RangeError{Index: c.index, What: "line number", Value: int64(x.Line)}
		}
		c.lines = append(c.lines, lineRecord{offset: c.offset, line: x.Line})
		return nil
	case nil:
		return c.fail(nil, "nil instruction")
	}
	return c.fail(nil, "unknown instruction %T", insn)
}

func (c *Context) preInsn(x Insn) error {
	if !x.Op.IsDefined() {
		return c.fail(nil, "undefined opcode 0x%02X", byte(x.Op))
	}
	info := opcodeInfoTable[x.Op]
	if base, slot, ok := shortLocal(x.Op); ok {
		c.advance(1)
		return c.local(base, slot)
	}
	if info.Form != FormNone {
		return c.fail(nil, "%s takes operands", info.Name)
	}
	c.advance(1)

	switch x.Op {
	case OpPop:
		_, err := c.takeSlots(1)
		return err
	case OpPop2:
		_, err := c.takeSlots(2)
		return err
	case OpDup, OpDup2:
		n := 1
		if x.Op == OpDup2 {
			n = 2
		}
		a, err := c.takeSlots(n)
		if err != nil {
			return err
		}
		c.push(a...)
		c.push(a...)
		return nil
	case OpDupX1, OpDupX2, OpDup2X1, OpDup2X2:
		top, under := 1, 1
		switch x.Op {
		case OpDupX2:
			under = 2
		case OpDup2X1:
			top = 2
		case OpDup2X2:
			top, under = 2, 2
		}
		a, err := c.takeSlots(top)
		if err != nil {
			return err
		}
		b, err := c.takeSlots(under)
		if err != nil {
			return err
		}
		c.push(a...)
		c.push(b...)
		c.push(a...)
		return nil
	case OpSwap:
		a, err := c.takeSlots(1)
		if err != nil {
			return err
		}
		b, err := c.takeSlots(1)
		if err != nil {
			return err
		}
		c.push(a...)
		c.push(b...)
		return nil
	case OpAaload:
		if _, err := c.pop(vtype.Int); err != nil {
			return err
		}
		arr, err := c.popRef()
		if err != nil {
			return err
		}
		c.push(arr.Element())
		return nil
	case OpReturn:
		if !c.void {
			return c.fail(nil, "return in method returning %s", c.ret)
		}
		return nil
	case OpIreturn, OpLreturn, OpFreturn, OpDreturn, OpAreturn:
		if c.void {
			return c.fail(nil, "%s in void method", info.Name)
		}
		v, err := c.pop(info.Pop[0])
		if err != nil {
			return err
		}
		if err := vtype.Check(c.ret, v, c.start); err != nil {
			return c.fail(err, "return type")
		}
		return nil
	case OpAthrow:
		if _, err := c.popRef(); err != nil {
			return err
		}
		return nil
	}

	if err := c.popAll(info.Pop); err != nil {
		return err
	}
	c.push(info.Push...)
	return nil
}

// local simulates a load or store of slot by a base local opcode.
func (c *Context) local(op Opcode, slot int) error {
	ls, ok := localOps[op]
	if !ok {
		if op == OpRet {
			return c.fail(nil, "jsr/ret subroutines are not supported")
		}
		return c.fail(nil, "%s is not a local variable instruction", op)
	}
	if ls.store {
		var v vtype.Type
		var err error
		if ls.typ == vtype.AnyRef {
			v, err = c.popRef()
		} else {
			v, err = c.pop(ls.typ)
		}
		if err != nil {
			return err
		}
		c.setLocal(slot, v)
		return nil
	}
	v, err := c.load(slot, ls.typ)
	if err != nil {
		return err
	}
	c.push(v)
	return nil
}

func (c *Context) preIntInsn(x IntInsn) error {
	switch x.Op {
	case OpBipush:
		if x.Operand < -128 || x.Operand > 127 {
			return &RangeError{Index: c.index, What: "bipush operand", Value: int64(x.Operand)}
		}
		c.advance(2)
		c.push(vtype.Int)
	case OpSipush:
		if x.Operand < -32768 || x.Operand > 32767 {
			return &RangeError{Index: c.index, What: "sipush operand", Value: int64(x.Operand)}
		}
		c.advance(3)
		c.push(vtype.Int)
	case OpNewarray:
		desc, ok := newarrayTypes[x.Operand]
		if !ok {
			return c.fail(nil, "invalid newarray type code %d", x.Operand)
		}
		c.advance(2)
		if _, err := c.pop(vtype.Int); err != nil {
			return err
		}
		c.push(vtype.Ref(desc))
	default:
		return c.fail(nil, "%s does not take an integer operand", x.Op)
	}
	return nil
}

func (c *Context) preLdc(x Ldc) error {
	e, err := constpool.FromValue(x.Value)
	if err != nil {
		return c.fail(err, "ldc constant")
	}
	t, err := constpool.NaturalType(e)
	if err != nil {
		return c.fail(err, "%s is not loadable", e.Tag())
	}
	idx, err := c.pool.Intern(e)
	if err != nil {
		return err
	}
	c.indexes[c.index] = idx
	switch {
	case t.Width() == 2:
		c.op = "ldc2_w"
		c.advance(3)
	case idx <= 0xFF:
		c.advance(2)
	default:
		c.op = "ldc_w"
		c.advance(3)
	}
	c.push(t)
	return nil
}

func (c *Context) preVarInsn(x VarInsn) error {
	if x.Slot < 0 || x.Slot > 0xFFFF {
		return &RangeError{Index: c.index, What: "local variable slot", Value: int64(x.Slot)}
	}
	if _, ok := localOps[x.Op]; !ok {
		return c.local(x.Op, x.Slot)
	}
	switch {
	case x.Slot <= 3:
		c.advance(1)
	case x.Slot <= 0xFF:
		c.advance(2)
	default:
		c.advance(4)
	}
	return c.local(x.Op, x.Slot)
}

func (c *Context) preIinc(x Iinc) error {
	if x.Slot < 0 || x.Slot > 0xFFFF {
		return &RangeError{Index: c.index, What: "local variable slot", Value: int64(x.Slot)}
	}
	if x.Delta < -32768 || x.Delta > 32767 {
		return &RangeError{Index: c.index, What: "iinc delta", Value: int64(x.Delta)}
	}
	if x.Slot <= 0xFF && x.Delta >= -128 && x.Delta <= 127 {
		c.advance(3)
	} else {
		c.advance(6)
	}
	if _, err := c.load(x.Slot, vtype.Int); err != nil {
		return err
	}
	c.setLocal(x.Slot, vtype.Int)
	return nil
}

func (c *Context) preJump(x Jump) error {
	switch {
	case x.Op == OpJsr || x.Op == OpJsrW:
		return c.fail(nil, "jsr/ret subroutines are not supported")
	case x.Op == OpGotoW:
		c.advance(5)
	case x.Op == OpGoto:
		if c.wide[c.index] {
			c.advance(5)
		} else {
			c.advance(3)
		}
	case x.Op.IsConditional():
		if c.wide[c.index] {
			c.advance(8)
		} else {
			c.advance(3)
		}
	default:
		return c.fail(nil, "%s is not a branch", x.Op)
	}
	if err := c.popAll(opcodeInfoTable[x.Op].Pop); err != nil {
		return err
	}
	if x.Op != OpGotoW {
		c.jumps = append(c.jumps, labelRef{index: c.index, label: x.Target})
	}
	if err := c.branchTo(x.Target); err != nil {
		return err
	}
	if x.Op.IsConditional() && c.wide[c.index] {
		// The inverted branch targets the instruction after the goto_w.
		c.implicit[c.offset] = c.snapshot()
	}
	return nil
}

func (c *Context) preTableSwitch(x TableSwitch) error {
	if x.High < x.Low {
		return c.fail(nil, "high %d below low %d", x.High, x.Low)
	}
	n := int64(x.High) - int64(x.Low) + 1
	if int64(len(x.Targets)) != n {
		return c.fail(nil, "%d targets for %d cases", len(x.Targets), n)
	}
	pad := switchPadding(c.start)
	c.padding[c.index] = pad
	c.advance(1 + pad + 12 + 4*len(x.Targets))
	return c.switchTargets(x.Default, x.Targets)
}

func (c *Context) preLookupSwitch(x LookupSwitch) error {
	if len(x.Keys) != len(x.Targets) {
		return c.fail(nil, "%d keys for %d targets", len(x.Keys), len(x.Targets))
	}
	seen := make(map[int32]bool, len(x.Keys))
	for _, k := range x.Keys {
		if seen[k] {
			return c.fail(nil, "duplicate key %d", k)
		}
		seen[k] = true
	}
	pad := switchPadding(c.start)
	c.padding[c.index] = pad
	c.advance(1 + pad + 8 + 8*len(x.Keys))
	return c.switchTargets(x.Default, x.Targets)
}

func (c *Context) switchTargets(def Label, targets []Label) error {
	if _, err := c.pop(vtype.Int); err != nil {
		return err
	}
	if err := c.branchTo(def); err != nil {
		return err
	}
	for _, l := range targets {
		if err := c.branchTo(l); err != nil {
			return err
		}
	}
	return nil
}

func (c *Context) preFieldInsn(x FieldInsn) error {
	if x.Op.Form() != FormField {
		return c.fail(nil, "%s is not a field instruction", x.Op)
	}
	t, err := vtype.FromDescriptor(x.Descriptor)
	if err != nil {
		return c.fail(err, "field descriptor")
	}
	idx, err := c.pool.FieldRef(x.Owner, x.Name, x.Descriptor)
	if err != nil {
		return err
	}
	c.indexes[c.index] = idx
	c.advance(3)

	switch x.Op {
	case OpGetstatic:
		c.push(t)
	case OpPutstatic:
		_, err = c.pop(t)
	case OpGetfield:
		if _, err = c.popRef(); err == nil {
			c.push(t)
		}
	case OpPutfield:
		if _, err = c.pop(t); err == nil {
			_, err = c.popRef()
		}
	}
	return err
}

func (c *Context) preMethodInsn(x MethodInsn) error {
	if x.Op.Form() != FormMethod && x.Op != OpInvokeinterface {
		return c.fail(nil, "%s is not an invoke instruction", x.Op)
	}
	md, err := vtype.ParseMethodDescriptor(x.Descriptor)
	if err != nil {
		return c.fail(err, "method descriptor")
	}
	iface := x.Interface || x.Op == OpInvokeinterface
	if iface && x.Op == OpInvokevirtual {
		return c.fail(nil, "invokevirtual cannot call interface method %s.%s", x.Owner, x.Name)
	}
	init := x.Name == "<init>"
	if init && x.Op != OpInvokespecial {
		return c.fail(nil, "<init> must be called with invokespecial")
	}
	var idx uint16
	if iface {
		idx, err = c.pool.InterfaceMethodRef(x.Owner, x.Name, x.Descriptor)
	} else {
		idx, err = c.pool.MethodRef(x.Owner, x.Name, x.Descriptor)
	}
	if err != nil {
		return err
	}
	c.indexes[c.index] = idx

	if x.Op == OpInvokeinterface {
		if count := 1 + md.ParamSlots(); count > 0xFF {
			return &RangeError{Index: c.index, What: "invokeinterface argument slots", Value: int64(count)}
		}
		c.advance(5)
	} else {
		c.advance(3)
	}

	if err := c.popAll(md.Params); err != nil {
		return err
	}
	if x.Op != OpInvokestatic {
		if init {
			recv, err := c.pop(vtype.AnyUninitialized)
			if err != nil {
				return err
			}
			if recv.Kind == vtype.KindUninitialized {
				c.initialize(recv, x.Owner)
			}
		} else if _, err := c.popRef(); err != nil {
			return err
		}
	}
	if !md.Void {
		c.push(md.Return)
	}
	return nil
}

func (c *Context) preInvokeDynamic(x InvokeDynamic) error {
	md, err := vtype.ParseMethodDescriptor(x.Descriptor)
	if err != nil {
		return c.fail(err, "method descriptor")
	}
	bsm, err := c.pool.AddBootstrapMethod(x.Bootstrap, x.Args...)
	if err != nil {
		return err
	}
	idx, err := c.pool.Intern(constpool.InvokeDynamic{Bootstrap: bsm, Name: x.Name, Descriptor: x.Descriptor})
	if err != nil {
		return err
	}
	c.indexes[c.index] = idx
	c.advance(5)
	if err := c.popAll(md.Params); err != nil {
		return err
	}
	if !md.Void {
		c.push(md.Return)
	}
	return nil
}

func (c *Context) preTypeInsn(x TypeInsn) error {
	if x.Op.Form() != FormType {
		return c.fail(nil, "%s does not take a class operand", x.Op)
	}
	if x.Class == "" {
		return c.fail(nil, "missing class name")
	}
	idx, err := c.pool.Class(x.Class)
	if err != nil {
		return err
	}
	c.indexes[c.index] = idx
	c.advance(3)

	switch x.Op {
	case OpNew:
		c.news[c.start] = x.Class
		c.push(vtype.Uninitialized(c.start))
	case OpAnewarray:
		if _, err := c.pop(vtype.Int); err != nil {
			return err
		}
		c.push(vtype.Ref("[" + vtype.ClassDescriptor(x.Class)))
	case OpCheckcast:
		if _, err := c.popRef(); err != nil {
			return err
		}
		c.push(vtype.Ref(x.Class))
	case OpInstanceof:
		if _, err := c.popRef(); err != nil {
			return err
		}
		c.push(vtype.Int)
	}
	return nil
}

func (c *Context) preMultiANewArray(x MultiANewArray) error {
	dims := 0
	for dims < len(x.Descriptor) && x.Descriptor[dims] == '[' {
		dims++
	}
	if _, err := vtype.FromDescriptor(x.Descriptor); err != nil || dims == 0 {
		return c.fail(err, "invalid array descriptor %q", x.Descriptor)
	}
	if x.Dims < 1 || x.Dims > dims {
		return c.fail(nil, "%d dimensions for %s", x.Dims, x.Descriptor)
	}
	idx, err := c.pool.Class(x.Descriptor)
	if err != nil {
		return err
	}
	c.indexes[c.index] = idx
	c.advance(4)
	for j := 0; j < x.Dims; j++ {
		if _, err := c.pop(vtype.Int); err != nil {
			return err
		}
	}
	c.push(vtype.Ref(x.Descriptor))
	return nil
}

// walk runs one preprocessing pass over the whole body.
func (c *Context) walk(insns []Instruction) error {
	for i, insn := range insns {
		if err := c.preprocess(i, insn); err != nil {
			return err
		}
	}
	c.index = len(insns)
	return c.finish()
}
