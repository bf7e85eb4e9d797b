package asm

import (
	"github.com/chazu/jclass/pkg/constpool"
)

// Label marks a position in an instruction list. Labels are allocated by
// List.NewLabel and are only meaningful within that list.
type Label int

// Region identifies a protected range of code for an exception handler.
type Region int

// Instruction is one element of a method body: a JVM instruction or a
// marker that contributes no bytes. The set of implementations is closed;
// every variant is handled by preprocess and encode.
type Instruction interface {
	instruction()
}

// Insn is an instruction with no operands (iadd, dup, areturn, ...).
type Insn struct {
	Op Opcode
}

// IntInsn is bipush, sipush or newarray. For newarray, Operand is the
// primitive array type code (4 = boolean ... 11 = long).
type IntInsn struct {
	Op      Opcode
	Operand int
}

// Ldc pushes a loadable constant. Value is a constpool.Entry or a host
// value accepted by constpool.FromValue. The opcode (ldc, ldc_w, ldc2_w) is
// chosen from the constant's width and pool index.
type Ldc struct {
	Value any
}

// VarInsn loads or stores a local variable. Op is the general form
// (iload, astore, ...); the encoder picks the _n, one-byte, or wide form.
type VarInsn struct {
	Op   Opcode
	Slot int
}

// Iinc adds Delta to the int in Slot.
type Iinc struct {
	Slot  int
	Delta int
}

// Jump is a conditional branch or goto. Op goto_w always uses the wide
// form; all other branches start narrow and widen when the target is out
// of range.
type Jump struct {
	Op     Opcode
	Target Label
}

// TableSwitch jumps to Targets[key-Low], or Default when key is outside
// [Low, High].
type TableSwitch struct {
	Low     int32
	High    int32
	Default Label
	Targets []Label
}

// LookupSwitch jumps to the target paired with the matching key, or
// Default. Keys need not be sorted.
type LookupSwitch struct {
	Default Label
	Keys    []int32
	Targets []Label
}

// FieldInsn is getstatic, putstatic, getfield or putfield.
type FieldInsn struct {
	Op         Opcode
	Owner      string
	Name       string
	Descriptor string
}

// MethodInsn is invokevirtual, invokespecial, invokestatic or
// invokeinterface. Interface selects an InterfaceMethodRef for
// invokespecial and invokestatic; invokeinterface always uses one.
type MethodInsn struct {
	Op         Opcode
	Owner      string
	Name       string
	Descriptor string
	Interface  bool
}

// InvokeDynamic is an invokedynamic call site.
type InvokeDynamic struct {
	Name       string
	Descriptor string
	Bootstrap  constpool.MethodHandle
	Args       []constpool.Entry
}

// TypeInsn is new, anewarray, checkcast or instanceof. Class is an
// internal class name or an array descriptor.
type TypeInsn struct {
	Op    Opcode
	Class string
}

// MultiANewArray allocates Dims dimensions of the array type Descriptor.
type MultiANewArray struct {
	Descriptor string
	Dims       int
}

// Mark binds Label to the current position.
type Mark struct {
	Label Label
}

// TryBegin opens Region at the current position. Exceptions of CatchType
// (any Throwable when empty) raised inside the region transfer to Handler.
type TryBegin struct {
	Region    Region
	Handler   Label
	CatchType string
}

// TryEnd closes Region at the current position.
type TryEnd struct {
	Region Region
}

// LineNumber attributes the following instructions to a source line.
type LineNumber struct {
	Line int
}

func (Insn) instruction()           {}
func (IntInsn) instruction()        {}
func (Ldc) instruction()            {}
func (VarInsn) instruction()        {}
func (Iinc) instruction()           {}
func (Jump) instruction()           {}
func (TableSwitch) instruction()    {}
func (LookupSwitch) instruction()   {}
func (FieldInsn) instruction()      {}
func (MethodInsn) instruction()     {}
func (InvokeDynamic) instruction()  {}
func (TypeInsn) instruction()       {}
func (MultiANewArray) instruction() {}
func (Mark) instruction()           {}
func (TryBegin) instruction()       {}
func (TryEnd) instruction()         {}
func (LineNumber) instruction()     {}

// IsMarker reports whether insn contributes no bytes to the code.
func IsMarker(insn Instruction) bool {
	switch insn.(type) {
	case Mark, TryBegin, TryEnd, LineNumber:
		return true
	}
	return false
}
