package constpool

import (
	"fmt"
	"math"
)

// Tag is the one-byte constant pool tag written before each entry.
type Tag uint8

const (
	TagUtf8               Tag = 1
	TagInteger            Tag = 3
	TagFloat              Tag = 4
	TagLong               Tag = 5
	TagDouble             Tag = 6
	TagClass              Tag = 7
	TagString             Tag = 8
	TagFieldRef           Tag = 9
	TagMethodRef          Tag = 10
	TagInterfaceMethodRef Tag = 11
	TagNameAndType        Tag = 12
	TagMethodHandle       Tag = 15
	TagMethodType         Tag = 16
	TagDynamic            Tag = 17
	TagInvokeDynamic      Tag = 18
)

var tagNames = map[Tag]string{
	TagUtf8:               "Utf8",
	TagInteger:            "Integer",
	TagFloat:              "Float",
	TagLong:               "Long",
	TagDouble:             "Double",
	TagClass:              "Class",
	TagString:             "String",
	TagFieldRef:           "Fieldref",
	TagMethodRef:          "Methodref",
	TagInterfaceMethodRef: "InterfaceMethodref",
	TagNameAndType:        "NameAndType",
	TagMethodHandle:       "MethodHandle",
	TagMethodType:         "MethodType",
	TagDynamic:            "Dynamic",
	TagInvokeDynamic:      "InvokeDynamic",
}

func (t Tag) String() string {
	if name, ok := tagNames[t]; ok {
		return name
	}
	return fmt.Sprintf("Tag(%d)", uint8(t))
}

// Entry is a structural constant pool value. Two entries with equal fields
// are the same entry; every implementation is a comparable struct so it can
// key the pool's index map directly.
type Entry interface {
	Tag() Tag
	String() string
}

// Width returns the number of index slots an entry occupies.
func Width(e Entry) int {
	switch e.Tag() {
	case TagLong, TagDouble:
		return 2
	}
	return 1
}

type Utf8 struct{ Value string }

type Integer struct{ Value int32 }

// Float holds the raw IEEE-754 bits so that NaN payloads and signed zeros
// intern as distinct entries.
type Float struct{ Bits uint32 }

type Long struct{ Value int64 }

// Double holds the raw IEEE-754 bits.
type Double struct{ Bits uint64 }

type Class struct{ Name string }

type String struct{ Value string }

type NameAndType struct{ Name, Descriptor string }

type FieldRef struct{ Class, Name, Descriptor string }

type MethodRef struct{ Class, Name, Descriptor string }

type InterfaceMethodRef struct{ Class, Name, Descriptor string }

type MethodType struct{ Descriptor string }

// HandleKind is the reference_kind of a MethodHandle.
type HandleKind uint8

const (
	RefGetField         HandleKind = 1
	RefGetStatic        HandleKind = 2
	RefPutField         HandleKind = 3
	RefPutStatic        HandleKind = 4
	RefInvokeVirtual    HandleKind = 5
	RefInvokeStatic     HandleKind = 6
	RefInvokeSpecial    HandleKind = 7
	RefNewInvokeSpecial HandleKind = 8
	RefInvokeInterface  HandleKind = 9
)

// MethodHandle references a field or method. Interface selects an
// InterfaceMethodref for invoke kinds that allow either.
type MethodHandle struct {
	Kind       HandleKind
	Owner      string
	Name       string
	Descriptor string
	Interface  bool
}

// InvokeDynamic is a call site; Bootstrap indexes the class's bootstrap
// method table.
type InvokeDynamic struct {
	Bootstrap  uint16
	Name       string
	Descriptor string
}

// Dynamic is a dynamically computed constant.
type Dynamic struct {
	Bootstrap  uint16
	Name       string
	Descriptor string
}

func (Utf8) Tag() Tag               { return TagUtf8 }
func (Integer) Tag() Tag            { return TagInteger }
func (Float) Tag() Tag              { return TagFloat }
func (Long) Tag() Tag               { return TagLong }
func (Double) Tag() Tag             { return TagDouble }
func (Class) Tag() Tag              { return TagClass }
func (String) Tag() Tag             { return TagString }
func (NameAndType) Tag() Tag        { return TagNameAndType }
func (FieldRef) Tag() Tag           { return TagFieldRef }
func (MethodRef) Tag() Tag          { return TagMethodRef }
func (InterfaceMethodRef) Tag() Tag { return TagInterfaceMethodRef }
func (MethodType) Tag() Tag         { return TagMethodType }
func (MethodHandle) Tag() Tag       { return TagMethodHandle }
func (InvokeDynamic) Tag() Tag      { return TagInvokeDynamic }
func (Dynamic) Tag() Tag            { return TagDynamic }

func (e Utf8) String() string    { return fmt.Sprintf("Utf8 %q", e.Value) }
func (e Integer) String() string { return fmt.Sprintf("int %d", e.Value) }
func (e Float) String() string {
	return fmt.Sprintf("float %v", math.Float32frombits(e.Bits))
}
func (e Long) String() string { return fmt.Sprintf("long %d", e.Value) }
func (e Double) String() string {
	return fmt.Sprintf("double %v", math.Float64frombits(e.Bits))
}
func (e Class) String() string       { return "class " + e.Name }
func (e String) String() string      { return fmt.Sprintf("String %q", e.Value) }
func (e NameAndType) String() string { return e.Name + ":" + e.Descriptor }
func (e FieldRef) String() string {
	return fmt.Sprintf("Field %s.%s:%s", e.Class, e.Name, e.Descriptor)
}
func (e MethodRef) String() string {
	return fmt.Sprintf("Method %s.%s%s", e.Class, e.Name, e.Descriptor)
}
func (e InterfaceMethodRef) String() string {
	return fmt.Sprintf("InterfaceMethod %s.%s%s", e.Class, e.Name, e.Descriptor)
}
func (e MethodType) String() string { return "MethodType " + e.Descriptor }
func (e MethodHandle) String() string {
	return fmt.Sprintf("MethodHandle %s %s.%s:%s", e.Kind, e.Owner, e.Name, e.Descriptor)
}
func (e InvokeDynamic) String() string {
	return fmt.Sprintf("InvokeDynamic #%d:%s%s", e.Bootstrap, e.Name, e.Descriptor)
}
func (e Dynamic) String() string {
	return fmt.Sprintf("Dynamic #%d:%s:%s", e.Bootstrap, e.Name, e.Descriptor)
}

var handleKindNames = [...]string{
	RefGetField:         "getField",
	RefGetStatic:        "getStatic",
	RefPutField:         "putField",
	RefPutStatic:        "putStatic",
	RefInvokeVirtual:    "invokeVirtual",
	RefInvokeStatic:     "invokeStatic",
	RefInvokeSpecial:    "invokeSpecial",
	RefNewInvokeSpecial: "newInvokeSpecial",
	RefInvokeInterface:  "invokeInterface",
}

func (k HandleKind) String() string {
	if k >= RefGetField && k <= RefInvokeInterface {
		return handleKindNames[k]
	}
	return fmt.Sprintf("HandleKind(%d)", uint8(k))
}

// ParseHandleKind returns the kind named name ("invokeStatic", ...).
func ParseHandleKind(name string) (HandleKind, bool) {
	for k := RefGetField; k <= RefInvokeInterface; k++ {
		if handleKindNames[k] == name {
			return k, true
		}
	}
	return 0, false
}

// IsField reports whether the handle refers to a field.
func (k HandleKind) IsField() bool {
	return k >= RefGetField && k <= RefPutStatic
}

// NewFloat returns the Float entry for f.
func NewFloat(f float32) Float { return Float{Bits: math.Float32bits(f)} }

// NewDouble returns the Double entry for d.
func NewDouble(d float64) Double { return Double{Bits: math.Float64bits(d)} }

// FromValue maps a Go value to the pool entry a literal of that value
// loads from. Strings become String entries, not Utf8.
func FromValue(v any) (Entry, error) {
	switch x := v.(type) {
	case Entry:
		return x, nil
	case bool:
		if x {
			return Integer{Value: 1}, nil
		}
		return Integer{Value: 0}, nil
	case int8:
		return Integer{Value: int32(x)}, nil
	case int16:
		return Integer{Value: int32(x)}, nil
	case int32:
		return Integer{Value: x}, nil
	case uint16:
		return Integer{Value: int32(x)}, nil
	case int:
		if x >= math.MinInt32 && x <= math.MaxInt32 {
			return Integer{Value: int32(x)}, nil
		}
		return Long{Value: int64(x)}, nil
	case int64:
		return Long{Value: x}, nil
	case float32:
		return NewFloat(x), nil
	case float64:
		return NewDouble(x), nil
	case string:
		return String{Value: x}, nil
	}
	return nil, &UnsupportedConstantError{Value: v}
}
