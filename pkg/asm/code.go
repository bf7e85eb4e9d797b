// Package asm encodes method bodies into the contents of a Code attribute.
//
// A body is an ordered List of instructions and markers. Assemble runs two
// phases over it. Preprocessing walks the list once per pass, computing
// every instruction's size and offset and simulating the operand stack and
// locals with verification types. Branches start in their 3-byte form; any
// whose target ends up out of 16-bit range is widened and the walk repeats
// until no branch changes. Encoding then produces each instruction's bytes
// against the frozen offsets.
package asm

import (
	"sort"

	"github.com/tliron/commonlog"

	"github.com/chazu/jclass/pkg/constpool"
	"github.com/chazu/jclass/pkg/vtype"
)

var log = commonlog.GetLogger("jclass.asm")

// MaxCodeLength is the largest code array a method may have.
const MaxCodeLength = 65535

// LocalVariable describes a named local for the LocalVariableTable. The
// variable is live from Start up to, not including, End.
type LocalVariable struct {
	Slot       int
	Name       string
	Descriptor string
	Start      Label
	End        Label
}

// Method is the input to Assemble.
type Method struct {
	Owner      string // internal name of the declaring class
	Name       string
	Descriptor string
	Static     bool
	Body       *List

	LocalVariables []LocalVariable

	// Frames requests a StackMapTable (class files version 50 and later).
	Frames bool
}

// ExceptionEntry is one row of the exception table.
type ExceptionEntry struct {
	StartPC   uint16
	EndPC     uint16
	HandlerPC uint16
	CatchType uint16 // Class index, 0 for any
}

// LineNumberEntry maps a code offset to a source line.
type LineNumberEntry struct {
	StartPC uint16
	Line    uint16
}

// LocalVariableEntry is one row of the LocalVariableTable.
type LocalVariableEntry struct {
	StartPC    uint16
	Length     uint16
	Name       uint16
	Descriptor uint16
	Index      uint16
}

// Code is an assembled method body.
type Code struct {
	MaxStack  int
	MaxLocals int
	Bytes     []byte

	Instructions   []Encoded
	Exceptions     []ExceptionEntry
	LineNumbers    []LineNumberEntry
	LocalVariables []LocalVariableEntry

	// Frames and StackMap are set when Method.Frames is true and the body
	// has branch targets. StackMap is the StackMapTable attribute body.
	Frames   []Frame
	StackMap []byte
}

// Assemble encodes m's body against pool. Constants the body refers to are
// interned into pool; on error the pool may hold entries that no method
// uses.
func Assemble(m *Method, pool *constpool.Pool) (*Code, error) {
	if m.Body == nil {
		m.Body = NewList()
	}
	insns := m.Body.Instructions()

	wide := make(map[int]bool)
	var c *Context
	for pass := 1; ; pass++ {
		var err error
		if c, err = newContext(m, pool, wide); err != nil {
			return nil, err
		}
		if err := c.walk(insns); err != nil {
			return nil, err
		}
		n := c.widen()
		if n == 0 {
			break
		}
		log.Debugf("%s.%s%s: pass %d widened %d branches", m.Owner, m.Name, m.Descriptor, pass, n)
	}

	if c.offset == 0 || c.offset > MaxCodeLength {
		return nil, &RangeError{Index: -1, What: "code length", Value: int64(c.offset)}
	}

	code := &Code{
		MaxStack:     c.maxDepth,
		Instructions: make([]Encoded, 0, len(insns)),
		Bytes:        make([]byte, 0, c.offset),
	}
	for i, insn := range insns {
		e, err := c.encode(i, insn)
		if err != nil {
			return nil, err
		}
		code.Instructions = append(code.Instructions, e)
		code.Bytes = append(code.Bytes, e.Bytes...)
	}

	if err := c.exceptionTable(code); err != nil {
		return nil, err
	}
	for _, l := range c.lines {
		code.LineNumbers = append(code.LineNumbers, LineNumberEntry{StartPC: uint16(l.offset), Line: uint16(l.line)})
	}
	if err := c.localVariableTable(code, m.LocalVariables); err != nil {
		return nil, err
	}
	code.MaxLocals = c.maxLocals

	if code.MaxStack > 0xFFFF {
		return nil, &RangeError{Index: -1, What: "max stack", Value: int64(code.MaxStack)}
	}
	if code.MaxLocals > 0xFFFF {
		return nil, &RangeError{Index: -1, What: "max locals", Value: int64(code.MaxLocals)}
	}

	if m.Frames {
		code.Frames = c.frames()
		if len(code.Frames) > 0 {
			sm, err := EncodeStackMap(pool, c.initial, code.Frames)
			if err != nil {
				return nil, err
			}
			code.StackMap = sm
		}
	}

	log.Debugf("%s.%s%s: code %d bytes, max_stack %d, max_locals %d",
		m.Owner, m.Name, m.Descriptor, len(code.Bytes), code.MaxStack, code.MaxLocals)
	return code, nil
}

// widen marks every narrow branch whose target is out of 16-bit range and
// returns how many it marked.
func (c *Context) widen() int {
	n := 0
	for _, ref := range c.jumps {
		if c.wide[ref.index] {
			continue
		}
		delta := c.labels[ref.label] - c.starts[ref.index]
		if delta < -32768 || delta > 32767 {
			c.wide[ref.index] = true
			n++
		}
	}
	return n
}

func (c *Context) exceptionTable(code *Code) error {
	for _, r := range c.opened {
		reg := c.regions[r]
		if reg.start == reg.end {
			continue
		}
		var catch uint16
		if reg.catchType != "" {
			var err error
			if catch, err = c.pool.Class(reg.catchType); err != nil {
				return err
			}
		}
		code.Exceptions = append(code.Exceptions, ExceptionEntry{
			StartPC:   uint16(reg.start),
			EndPC:     uint16(reg.end),
			HandlerPC: uint16(c.labels[reg.handler]),
			CatchType: catch,
		})
	}
	return nil
}

func (c *Context) localVariableTable(code *Code, vars []LocalVariable) error {
	for _, v := range vars {
		for _, l := range []Label{v.Start, v.End} {
			if int(l) < 0 || int(l) >= len(c.labels) || c.labels[l] < 0 {
				return &LabelError{Index: -1, Label: l, Reason: "bounds local variable " + v.Name + " but is never placed"}
			}
		}
		t, err := vtype.FromDescriptor(v.Descriptor)
		if err != nil {
			return err
		}
		if v.Slot < 0 || v.Slot+t.Width() > 0xFFFF {
			return &RangeError{Index: -1, What: "local variable slot", Value: int64(v.Slot)}
		}
		start, end := c.labels[v.Start], c.labels[v.End]
		if end < start {
			return &RangeError{Index: -1, What: "local variable " + v.Name + " length", Value: int64(end - start)}
		}
		name, err := c.pool.Utf8(v.Name)
		if err != nil {
			return err
		}
		desc, err := c.pool.Utf8(v.Descriptor)
		if err != nil {
			return err
		}
		c.growLocals(v.Slot + t.Width())
		code.LocalVariables = append(code.LocalVariables, LocalVariableEntry{
			StartPC:    uint16(start),
			Length:     uint16(end - start),
			Name:       name,
			Descriptor: desc,
			Index:      uint16(v.Slot),
		})
	}
	return nil
}

// frames collects the state at every branch target, one frame per offset.
func (c *Context) frames() []Frame {
	byOffset := make(map[int]*frame)
	add := func(off int, f *frame) {
		if old, ok := byOffset[off]; ok {
			byOffset[off] = meetFrames(old, f)
			return
		}
		byOffset[off] = f
	}
	for l := range c.targets {
		add(c.labels[l], c.snaps[l])
	}
	for off, f := range c.implicit {
		add(off, f)
	}

	out := make([]Frame, 0, len(byOffset))
	for off, f := range byOffset {
		out = append(out, Frame{
			Offset: off,
			Locals: compactLocals(f.locals),
			Stack:  append([]vtype.Type(nil), f.stack...),
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Offset < out[j].Offset })
	return out
}

func meetFrames(a, b *frame) *frame {
	out := &frame{stack: append([]vtype.Type(nil), a.stack...)}
	if len(a.stack) == len(b.stack) {
		for i := range out.stack {
			out.stack[i] = vtype.Meet(a.stack[i], b.stack[i])
		}
	}
	n := max(len(a.locals), len(b.locals))
	out.locals = make([]vtype.Type, n)
	for i := range out.locals {
		x, y := vtype.Top, vtype.Top
		if i < len(a.locals) {
			x = a.locals[i]
		}
		if i < len(b.locals) {
			y = b.locals[i]
		}
		out.locals[i] = vtype.Meet(x, y)
	}
	return out
}

// compactLocals converts slot-indexed locals to the one-entry-per-value
// form stack map frames use, dropping trailing Tops.
func compactLocals(slots []vtype.Type) []vtype.Type {
	var out []vtype.Type
	for i := 0; i < len(slots); i++ {
		t := slots[i]
		out = append(out, t)
		if t.Width() == 2 {
			i++
		}
	}
	for len(out) > 0 && out[len(out)-1] == vtype.Top {
		out = out[:len(out)-1]
	}
	return out
}
