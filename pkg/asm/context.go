package asm

import (
	"fmt"

	"github.com/chazu/jclass/pkg/constpool"
	"github.com/chazu/jclass/pkg/vtype"
)

// frame is a snapshot of the simulated stack and locals.
type frame struct {
	stack  []vtype.Type
	locals []vtype.Type
}

func (f *frame) depth() int {
	n := 0
	for _, t := range f.stack {
		n += t.Width()
	}
	return n
}

// region is an exception range opened by TryBegin.
type region struct {
	begin     int // instruction index of the TryBegin
	handler   Label
	catchType string
	start     int
	end       int
	closed    bool
}

// labelRef is an instruction's use of a label.
type labelRef struct {
	index int
	label Label
}

type lineRecord struct {
	offset int
	line   int
}

// Context is the method-scoped state of one preprocessing pass. Each pass
// of the branch-width fixpoint starts from a fresh Context; only the set
// of widened branches carries over.
type Context struct {
	pool   *constpool.Pool
	owner  string
	ret    vtype.Type
	void   bool
	labels []int // offset per label, -1 until placed

	// Current instruction.
	index int
	op    string
	start int

	offset    int
	stack     []vtype.Type
	depth     int
	maxDepth  int
	locals    []vtype.Type
	maxLocals int
	initial   []vtype.Type
	reachable bool

	starts  []int
	sizes   []int
	padding map[int]int
	indexes map[int]uint16 // pool index per instruction
	wide    map[int]bool   // branches encoded in the wide form
	news    map[int]string // class allocated by the `new` at an offset

	jumps    []labelRef
	refs     []labelRef
	snaps    map[Label]*frame
	targets  map[Label]bool
	implicit map[int]*frame // fallthrough frames of widened conditionals
	regions  []*region
	opened   []Region
	lines    []lineRecord
}

func newContext(m *Method, pool *constpool.Pool, wide map[int]bool) (*Context, error) {
	md, err := vtype.ParseMethodDescriptor(m.Descriptor)
	if err != nil {
		return nil, err
	}
	n := m.Body.Len()
	c := &Context{
		pool:      pool,
		owner:     m.Owner,
		ret:       md.Return,
		void:      md.Void,
		labels:    make([]int, m.Body.Labels()),
		starts:    make([]int, n),
		sizes:     make([]int, n),
		padding:   make(map[int]int),
		indexes:   make(map[int]uint16),
		wide:      wide,
		news:      make(map[int]string),
		snaps:     make(map[Label]*frame),
		targets:   make(map[Label]bool),
		implicit:  make(map[int]*frame),
		regions:   make([]*region, m.Body.Regions()),
		reachable: true,
		index:     -1,
	}
	for i := range c.labels {
		c.labels[i] = -1
	}

	slot := 0
	if !m.Static {
		this := vtype.Ref(m.Owner)
		if m.Name == "<init>" {
			this = vtype.UninitializedThis
		}
		c.setLocal(0, this)
		slot = 1
	}
	for _, p := range md.Params {
		c.setLocal(slot, p)
		slot += p.Width()
	}
	c.initial = append([]vtype.Type(nil), c.locals...)
	return c, nil
}

// fail builds a *VerifyError for the current instruction.
func (c *Context) fail(err error, format string, args ...any) error {
	return &VerifyError{
		Index:  c.index,
		Offset: c.start,
		Op:     c.op,
		Reason: fmt.Sprintf(format, args...),
		Err:    err,
	}
}

func (c *Context) advance(size int) {
	c.sizes[c.index] = size
	c.offset += size
}

// --- operand stack ---

func (c *Context) push(ts ...vtype.Type) {
	for _, t := range ts {
		c.stack = append(c.stack, t)
		c.depth += t.Width()
	}
	if c.depth > c.maxDepth {
		c.maxDepth = c.depth
	}
}

// pop removes the top value and checks it against want.
func (c *Context) pop(want vtype.Type) (vtype.Type, error) {
	if len(c.stack) == 0 {
		return vtype.Top, c.fail(nil, "stack underflow: expected %s", want)
	}
	t := c.stack[len(c.stack)-1]
	if err := vtype.Check(want, t, c.start); err != nil {
		return t, c.fail(err, "type mismatch")
	}
	c.stack = c.stack[:len(c.stack)-1]
	c.depth -= t.Width()
	return t, nil
}

// popAll pops ts, given bottom of stack first.
func (c *Context) popAll(ts []vtype.Type) error {
	for i := len(ts) - 1; i >= 0; i-- {
		if _, err := c.pop(ts[i]); err != nil {
			return err
		}
	}
	return nil
}

// popRef pops any reference, including null and uninitialized objects.
func (c *Context) popRef() (vtype.Type, error) {
	if len(c.stack) == 0 {
		return vtype.Top, c.fail(nil, "stack underflow: expected reference")
	}
	t := c.stack[len(c.stack)-1]
	if !t.IsReference() {
		return t, c.fail(&vtype.MismatchError{Offset: c.start, Expected: vtype.AnyRef, Actual: t}, "type mismatch")
	}
	c.stack = c.stack[:len(c.stack)-1]
	c.depth -= t.Width()
	return t, nil
}

// takeSlots pops values covering exactly n slots and returns them bottom
// first. It is used by the untyped stack opcodes (pop2, dup2_x1, ...),
// which operate on slots rather than values.
func (c *Context) takeSlots(n int) ([]vtype.Type, error) {
	got := 0
	k := len(c.stack)
	for got < n {
		if k == 0 {
			return nil, c.fail(nil, "stack underflow: need %d slots", n)
		}
		k--
		got += c.stack[k].Width()
	}
	if got != n {
		return nil, c.fail(nil, "cannot split a two-slot value")
	}
	vals := append([]vtype.Type(nil), c.stack[k:]...)
	c.stack = c.stack[:k]
	c.depth -= n
	return vals, nil
}

// --- locals ---

func (c *Context) growLocals(limit int) {
	if limit > c.maxLocals {
		c.maxLocals = limit
	}
}

func (c *Context) setLocal(slot int, t vtype.Type) {
	w := t.Width()
	for len(c.locals) < slot+w {
		c.locals = append(c.locals, vtype.Top)
	}
	// Overwriting the upper half of a two-slot value invalidates it.
	if slot > 0 && c.locals[slot-1].Width() == 2 {
		c.locals[slot-1] = vtype.Top
	}
	c.locals[slot] = t
	if w == 2 {
		c.locals[slot+1] = vtype.Top
	}
	c.growLocals(slot + w)
}

// load reads a local for an instruction expecting want. Slots never
// written on the linear walk may have been written on another path and are
// trusted to hold want.
func (c *Context) load(slot int, want vtype.Type) (vtype.Type, error) {
	c.growLocals(slot + want.Width())
	if slot >= len(c.locals) || c.locals[slot] == vtype.Top {
		if want == vtype.AnyRef {
			return vtype.Object, nil
		}
		return want, nil
	}
	t := c.locals[slot]
	if want == vtype.AnyRef {
		if !t.IsReference() {
			return t, c.fail(&vtype.MismatchError{Offset: c.start, Expected: want, Actual: t}, "local %d", slot)
		}
		return t, nil
	}
	if err := vtype.Check(want, t, c.start); err != nil {
		return t, c.fail(err, "local %d", slot)
	}
	return t, nil
}

// initialize replaces every copy of an uninitialized receiver with the
// class it was allocated as.
func (c *Context) initialize(receiver vtype.Type, owner string) {
	class := owner
	switch {
	case receiver.Offset == vtype.ThisOffset:
		class = c.owner
	case c.news[receiver.Offset] != "":
		class = c.news[receiver.Offset]
	}
	done := vtype.Ref(class)
	for i, t := range c.stack {
		if t == receiver {
			c.stack[i] = done
		}
	}
	for i, t := range c.locals {
		if t == receiver {
			c.locals[i] = done
		}
	}
}

// --- labels and frames ---

func (c *Context) snapshot() *frame {
	return &frame{
		stack:  append([]vtype.Type(nil), c.stack...),
		locals: append([]vtype.Type(nil), c.locals...),
	}
}

func (c *Context) restore(f *frame) {
	c.stack = append(c.stack[:0], f.stack...)
	c.locals = append(c.locals[:0], f.locals...)
	c.depth = f.depth()
}

func (c *Context) checkLabel(l Label) error {
	if int(l) < 0 || int(l) >= len(c.labels) {
		return &LabelError{Index: c.index, Label: l, Reason: "not allocated by this list"}
	}
	return nil
}

// meet merges f into the snapshot recorded for label l.
func (c *Context) meet(l Label, f *frame) error {
	old, ok := c.snaps[l]
	if !ok {
		c.snaps[l] = f
		return nil
	}
	if len(old.stack) != len(f.stack) || old.depth() != f.depth() {
		return c.fail(nil, "stack depth %d at L%d does not match earlier depth %d", f.depth(), l, old.depth())
	}
	for i := range old.stack {
		old.stack[i] = vtype.Meet(old.stack[i], f.stack[i])
	}
	n := max(len(old.locals), len(f.locals))
	merged := make([]vtype.Type, n)
	for i := range merged {
		a, b := vtype.Top, vtype.Top
		if i < len(old.locals) {
			a = old.locals[i]
		}
		if i < len(f.locals) {
			b = f.locals[i]
		}
		merged[i] = vtype.Meet(a, b)
	}
	old.locals = merged
	return nil
}

// branchTo records a transfer to l with the current state.
func (c *Context) branchTo(l Label) error {
	if err := c.checkLabel(l); err != nil {
		return err
	}
	c.refs = append(c.refs, labelRef{index: c.index, label: l})
	c.targets[l] = true
	return c.meet(l, c.snapshot())
}

// mark places l at the current offset. After an unconditional transfer
// the state recorded by the label's earlier branches is restored.
func (c *Context) mark(l Label) error {
	if err := c.checkLabel(l); err != nil {
		return err
	}
	if c.labels[l] >= 0 {
		return &LabelError{Index: c.index, Label: l, Reason: "placed twice"}
	}
	c.labels[l] = c.offset

	snap, ok := c.snaps[l]
	switch {
	case ok && !c.reachable:
		c.restore(snap)
	case ok:
		if err := c.meet(l, c.snapshot()); err != nil {
			return err
		}
		c.restore(c.snaps[l])
	default:
		c.snaps[l] = c.snapshot()
	}
	c.reachable = true
	return nil
}

// --- exception regions ---

func (c *Context) region(r Region) (*region, error) {
	if int(r) < 0 || int(r) >= len(c.regions) {
		return nil, c.fail(nil, "region %d not allocated by this list", r)
	}
	return c.regions[r], nil
}

func (c *Context) tryBegin(x TryBegin) error {
	reg, err := c.region(x.Region)
	if err != nil {
		return err
	}
	if reg != nil {
		return c.fail(nil, "region %d opened twice", x.Region)
	}
	if err := c.checkLabel(x.Handler); err != nil {
		return err
	}
	catch := vtype.Throwable
	if x.CatchType != "" {
		catch = vtype.Ref(x.CatchType)
	}
	c.regions[x.Region] = &region{
		begin:     c.index,
		handler:   x.Handler,
		catchType: x.CatchType,
		start:     c.offset,
	}
	c.opened = append(c.opened, x.Region)
	c.refs = append(c.refs, labelRef{index: c.index, label: x.Handler})
	c.targets[x.Handler] = true
	return c.meet(x.Handler, &frame{
		stack:  []vtype.Type{catch},
		locals: append([]vtype.Type(nil), c.locals...),
	})
}

func (c *Context) tryEnd(x TryEnd) error {
	reg, err := c.region(x.Region)
	if err != nil {
		return err
	}
	if reg == nil {
		return c.fail(nil, "region %d closed before it was opened", x.Region)
	}
	if reg.closed {
		return c.fail(nil, "region %d closed twice", x.Region)
	}
	reg.end = c.offset
	reg.closed = true
	// Locals assigned inside the region reach the handler too.
	return c.meet(reg.handler, &frame{
		stack:  c.snaps[reg.handler].stack,
		locals: append([]vtype.Type(nil), c.locals...),
	})
}

// finish checks the pass for dangling labels and regions.
func (c *Context) finish() error {
	for _, ref := range c.refs {
		if c.labels[ref.label] < 0 {
			return &LabelError{Index: ref.index, Label: ref.label, Reason: "never placed"}
		}
	}
	for _, r := range c.opened {
		if reg := c.regions[r]; !reg.closed {
			return &VerifyError{
				Index:  reg.begin,
				Offset: reg.start,
				Op:     "try",
				Reason: fmt.Sprintf("region %d never closed", r),
			}
		}
	}
	return nil
}
