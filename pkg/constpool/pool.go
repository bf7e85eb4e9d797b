// Package constpool implements the deduplicating constant pool of a class
// file and the bootstrap-method table that sits beside it.
//
// Entries are interned by structural value. Composite entries (Class,
// FieldRef, NameAndType, ...) intern their components first, so a parent's
// index is always greater than the indices it refers to. Indices are handed
// out in first-use order and never change.
package constpool

import (
	"fmt"
	"strings"

	"github.com/chazu/jclass/pkg/vtype"
)

// MaxSlots is the largest constant_pool_count minus one.
const MaxSlots = 65534

// BootstrapMethod is one entry of the BootstrapMethods attribute.
type BootstrapMethod struct {
	Handle MethodHandle
	Args   []Entry

	HandleIndex uint16
	ArgIndexes  []uint16
}

// Pool is a class's constant pool. The zero value is not usable; call New.
// A Pool is not safe for concurrent use.
type Pool struct {
	// slots[0] is always nil; the slot after a Long or Double is nil.
	slots []Entry
	index map[Entry]uint16

	bootstrap      []BootstrapMethod
	bootstrapIndex map[string]uint16
}

// New creates an empty pool.
func New() *Pool {
	return &Pool{
		slots:          make([]Entry, 1, 64),
		index:          make(map[Entry]uint16),
		bootstrapIndex: make(map[string]uint16),
	}
}

// Len returns the number of used index slots, counting both slots of a
// Long or Double.
func (p *Pool) Len() int {
	return len(p.slots) - 1
}

// Count returns the constant_pool_count written in the class file.
func (p *Pool) Count() int {
	return len(p.slots)
}

// Lookup returns the index of e if it has already been interned.
func (p *Pool) Lookup(e Entry) (uint16, bool) {
	idx, ok := p.index[e]
	return idx, ok
}

// At returns the entry at index, or nil for index 0, the second slot of a
// double-width entry, or an out-of-range index.
func (p *Pool) At(index uint16) Entry {
	if int(index) >= len(p.slots) {
		return nil
	}
	return p.slots[index]
}

// Entries returns a 1-based snapshot of the pool.
func (p *Pool) Entries() []Entry {
	out := make([]Entry, len(p.slots))
	copy(out, p.slots)
	return out
}

// Intern returns the index of e, appending it (and its components) if it
// is not yet present. On any error except a pool overflow the pool is
// left unchanged.
func (p *Pool) Intern(e Entry) (uint16, error) {
	if e == nil {
		return 0, &UnsupportedConstantError{Value: e}
	}
	if idx, ok := p.index[e]; ok {
		return idx, nil
	}
	if err := p.check(e); err != nil {
		return 0, err
	}
	if err := p.internParts(e); err != nil {
		return 0, err
	}
	// Components never refer back to e, but interning them may have added
	// it through another path.
	if idx, ok := p.index[e]; ok {
		return idx, nil
	}
	return p.add(e)
}

// check reports the errors interning e would hit, other than running out
// of slots, without changing the pool.
func (p *Pool) check(e Entry) error {
	utf8 := func(vals ...string) error {
		for _, v := range vals {
			if n := modifiedUTF8Len(v); n > 65535 {
				return &OverflowError{Table: "utf8", Limit: 65535, Size: n}
			}
		}
		return nil
	}
	switch x := e.(type) {
	case Utf8:
		return utf8(x.Value)
	case Integer, Float, Long, Double:
		return nil
	case Class:
		return utf8(x.Name)
	case String:
		return utf8(x.Value)
	case MethodType:
		return utf8(x.Descriptor)
	case NameAndType:
		return utf8(x.Name, x.Descriptor)
	case FieldRef:
		return utf8(x.Class, x.Name, x.Descriptor)
	case MethodRef:
		return utf8(x.Class, x.Name, x.Descriptor)
	case InterfaceMethodRef:
		return utf8(x.Class, x.Name, x.Descriptor)
	case MethodHandle:
		return utf8(x.Owner, x.Name, x.Descriptor)
	case InvokeDynamic:
		return p.checkDynamic(x.Bootstrap, x.Name, x.Descriptor)
	case Dynamic:
		return p.checkDynamic(x.Bootstrap, x.Name, x.Descriptor)
	}
	return &UnsupportedConstantError{Value: e}
}

func (p *Pool) checkDynamic(bootstrap uint16, name, desc string) error {
	if int(bootstrap) >= len(p.bootstrap) {
		return fmt.Errorf("bootstrap method %d not defined (have %d)", bootstrap, len(p.bootstrap))
	}
	for _, v := range []string{name, desc} {
		if n := modifiedUTF8Len(v); n > 65535 {
			return &OverflowError{Table: "utf8", Limit: 65535, Size: n}
		}
	}
	return nil
}

// internParts interns the entries a composite entry refers to.
func (p *Pool) internParts(e Entry) error {
	var err error
	switch x := e.(type) {
	case Utf8:
		if n := modifiedUTF8Len(x.Value); n > 65535 {
			return &OverflowError{Table: "utf8", Limit: 65535, Size: n}
		}
	case Integer, Float, Long, Double:
	case Class:
		_, err = p.Utf8(x.Name)
	case String:
		_, err = p.Utf8(x.Value)
	case MethodType:
		_, err = p.Utf8(x.Descriptor)
	case NameAndType:
		if _, err = p.Utf8(x.Name); err == nil {
			_, err = p.Utf8(x.Descriptor)
		}
	case FieldRef:
		err = p.member(x.Class, x.Name, x.Descriptor)
	case MethodRef:
		err = p.member(x.Class, x.Name, x.Descriptor)
	case InterfaceMethodRef:
		err = p.member(x.Class, x.Name, x.Descriptor)
	case MethodHandle:
		_, err = p.Intern(x.Reference())
	case InvokeDynamic:
		err = p.dynamicParts(x.Bootstrap, x.Name, x.Descriptor)
	case Dynamic:
		err = p.dynamicParts(x.Bootstrap, x.Name, x.Descriptor)
	default:
		return &UnsupportedConstantError{Value: e}
	}
	return err
}

func (p *Pool) member(class, name, desc string) error {
	if _, err := p.Class(class); err != nil {
		return err
	}
	_, err := p.NameAndType(name, desc)
	return err
}

func (p *Pool) dynamicParts(bootstrap uint16, name, desc string) error {
	if int(bootstrap) >= len(p.bootstrap) {
		return fmt.Errorf("bootstrap method %d not defined (have %d)", bootstrap, len(p.bootstrap))
	}
	_, err := p.NameAndType(name, desc)
	return err
}

func (p *Pool) add(e Entry) (uint16, error) {
	w := Width(e)
	if p.Len()+w > MaxSlots {
		return 0, &OverflowError{Table: "constant pool", Limit: MaxSlots, Size: p.Len() + w}
	}
	idx := uint16(len(p.slots))
	p.slots = append(p.slots, e)
	if w == 2 {
		p.slots = append(p.slots, nil)
	}
	p.index[e] = idx
	return idx, nil
}

// Reference returns the field or method reference a handle points at.
func (h MethodHandle) Reference() Entry {
	switch {
	case h.Kind.IsField():
		return FieldRef{Class: h.Owner, Name: h.Name, Descriptor: h.Descriptor}
	case h.Interface:
		return InterfaceMethodRef{Class: h.Owner, Name: h.Name, Descriptor: h.Descriptor}
	}
	return MethodRef{Class: h.Owner, Name: h.Name, Descriptor: h.Descriptor}
}

func (p *Pool) Utf8(s string) (uint16, error) { return p.Intern(Utf8{Value: s}) }

func (p *Pool) Class(name string) (uint16, error) { return p.Intern(Class{Name: name}) }

func (p *Pool) String(s string) (uint16, error) { return p.Intern(String{Value: s}) }

func (p *Pool) Integer(v int32) (uint16, error) { return p.Intern(Integer{Value: v}) }

func (p *Pool) Float(v float32) (uint16, error) { return p.Intern(NewFloat(v)) }

func (p *Pool) Long(v int64) (uint16, error) { return p.Intern(Long{Value: v}) }

func (p *Pool) Double(v float64) (uint16, error) { return p.Intern(NewDouble(v)) }

func (p *Pool) NameAndType(name, desc string) (uint16, error) {
	return p.Intern(NameAndType{Name: name, Descriptor: desc})
}

func (p *Pool) FieldRef(class, name, desc string) (uint16, error) {
	return p.Intern(FieldRef{Class: class, Name: name, Descriptor: desc})
}

func (p *Pool) MethodRef(class, name, desc string) (uint16, error) {
	return p.Intern(MethodRef{Class: class, Name: name, Descriptor: desc})
}

func (p *Pool) InterfaceMethodRef(class, name, desc string) (uint16, error) {
	return p.Intern(InterfaceMethodRef{Class: class, Name: name, Descriptor: desc})
}

func (p *Pool) MethodType(desc string) (uint16, error) {
	return p.Intern(MethodType{Descriptor: desc})
}

func (p *Pool) MethodHandle(h MethodHandle) (uint16, error) { return p.Intern(h) }

// AddBootstrapMethod returns the index of the bootstrap method with the
// given handle and static arguments, appending it if new. The handle and
// arguments are interned. Every argument is checked before anything is
// interned; only a pool overflow part way through can leave the handle or
// earlier arguments in the pool without a bootstrap method using them.
func (p *Pool) AddBootstrapMethod(handle MethodHandle, args ...Entry) (uint16, error) {
	key := bootstrapKey(handle, args)
	if idx, ok := p.bootstrapIndex[key]; ok {
		return idx, nil
	}
	if len(p.bootstrap) >= 65535 {
		return 0, &OverflowError{Table: "bootstrap methods", Limit: 65535, Size: len(p.bootstrap) + 1}
	}
	bm := BootstrapMethod{
		Handle:     handle,
		Args:       append([]Entry(nil), args...),
		ArgIndexes: make([]uint16, len(args)),
	}
	if err := p.check(handle); err != nil {
		return 0, err
	}
	for _, arg := range args {
		if arg == nil {
			return 0, &UnsupportedConstantError{Value: arg}
		}
		if err := p.check(arg); err != nil {
			return 0, err
		}
	}
	var err error
	if bm.HandleIndex, err = p.Intern(handle); err != nil {
		return 0, err
	}
	for i, arg := range args {
		if bm.ArgIndexes[i], err = p.Intern(arg); err != nil {
			return 0, err
		}
	}
	idx := uint16(len(p.bootstrap))
	p.bootstrap = append(p.bootstrap, bm)
	p.bootstrapIndex[key] = idx
	return idx, nil
}

// BootstrapMethods returns the bootstrap method table in index order.
func (p *Pool) BootstrapMethods() []BootstrapMethod {
	out := make([]BootstrapMethod, len(p.bootstrap))
	copy(out, p.bootstrap)
	return out
}

func bootstrapKey(handle MethodHandle, args []Entry) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "%d|%s|%s|%s|%v", handle.Kind, handle.Owner, handle.Name, handle.Descriptor, handle.Interface)
	for _, a := range args {
		fmt.Fprintf(&sb, "|%d:%#v", a.Tag(), a)
	}
	return sb.String()
}

// NaturalType returns the verification type that loading e with ldc pushes.
func NaturalType(e Entry) (vtype.Type, error) {
	switch x := e.(type) {
	case Integer:
		return vtype.Int, nil
	case Float:
		return vtype.Float, nil
	case Long:
		return vtype.Long, nil
	case Double:
		return vtype.Double, nil
	case String:
		return vtype.String, nil
	case Class:
		return vtype.Class, nil
	case MethodType:
		return vtype.Ref("java/lang/invoke/MethodType"), nil
	case MethodHandle:
		return vtype.Ref("java/lang/invoke/MethodHandle"), nil
	case Dynamic:
		return vtype.FromDescriptor(x.Descriptor)
	}
	return vtype.Top, &UnsupportedConstantError{Value: e}
}

// Loadable reports whether e can be the operand of ldc, ldc_w or ldc2_w.
func Loadable(e Entry) bool {
	_, err := NaturalType(e)
	return err == nil
}
