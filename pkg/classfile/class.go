// Package classfile assembles classes into the JVM class-file layout and
// reads class files back into the same model.
//
// Assemble builds one constant pool per class and encodes every method body
// against it with asm.Assemble. The result is a File whose members refer to
// the pool by index; File.Bytes writes it out. Parse and Decode run the
// pipeline in reverse.
package classfile

import (
	"github.com/tliron/commonlog"

	"github.com/chazu/jclass/pkg/asm"
	"github.com/chazu/jclass/pkg/constpool"
)

var log = commonlog.GetLogger("jclass.classfile")

// Magic is the first word of every class file.
const Magic uint32 = 0xCAFEBABE

// Access flags. Some values mean different things on classes, fields and
// methods.
const (
	AccPublic       uint16 = 0x0001
	AccPrivate      uint16 = 0x0002
	AccProtected    uint16 = 0x0004
	AccStatic       uint16 = 0x0008
	AccFinal        uint16 = 0x0010
	AccSuper        uint16 = 0x0020 // class
	AccSynchronized uint16 = 0x0020 // method
	AccVolatile     uint16 = 0x0040 // field
	AccBridge       uint16 = 0x0040 // method
	AccTransient    uint16 = 0x0080 // field
	AccVarargs      uint16 = 0x0080 // method
	AccNative       uint16 = 0x0100
	AccInterface    uint16 = 0x0200
	AccAbstract     uint16 = 0x0400
	AccStrict       uint16 = 0x0800
	AccSynthetic    uint16 = 0x1000
	AccAnnotation   uint16 = 0x2000
	AccEnum         uint16 = 0x4000
)

// Version is a class-file format version.
type Version struct {
	Major uint16
	Minor uint16
}

// DefaultVersion is used when a Class leaves Version zero (Java 8).
var DefaultVersion = Version{Major: 52}

// FramesVersion is the first major version whose methods carry a
// StackMapTable.
const FramesVersion = 50

// Class is a class before assembly. Names are internal names
// ("java/lang/Object").
type Class struct {
	Version    Version
	Access     uint16
	Name       string
	Super      string // empty only for java/lang/Object
	Interfaces []string
	Fields     []*Field
	Methods    []*Method
	Attributes []Attribute
}

// Field is a field declaration. A non-nil Constant becomes a ConstantValue
// attribute; it may be any value constpool.FromValue accepts.
type Field struct {
	Access     uint16
	Name       string
	Descriptor string
	Constant   any
	Attributes []Attribute
}

// Method is a method declaration. Body is nil for abstract and native
// methods.
type Method struct {
	Access         uint16
	Name           string
	Descriptor     string
	Body           *asm.List
	LocalVariables []asm.LocalVariable
	Throws         []string
	Attributes     []Attribute
}

// Attribute is an attribute the assembler copies through rather than
// generates. Code, ConstantValue, Exceptions and BootstrapMethods are
// produced from the model and cannot be given here.
type Attribute interface {
	AttributeName() string
	appendBody(pool *constpool.Pool, b []byte) ([]byte, error)
}

// SourceFile names the source the class was compiled from.
type SourceFile struct {
	File string
}

// Signature carries a generic signature.
type Signature struct {
	Value string
}

// Deprecated marks a class or member as deprecated.
type Deprecated struct{}

// Synthetic marks a class or member the compiler generated.
type Synthetic struct{}

// RawAttribute is any other attribute, written as-is. Data that refers to
// the constant pool is only meaningful against the pool it was read from.
type RawAttribute struct {
	Name string
	Data []byte
}

func (SourceFile) AttributeName() string     { return "SourceFile" }
func (Signature) AttributeName() string      { return "Signature" }
func (Deprecated) AttributeName() string     { return "Deprecated" }
func (Synthetic) AttributeName() string      { return "Synthetic" }
func (a RawAttribute) AttributeName() string { return a.Name }

func (a SourceFile) appendBody(pool *constpool.Pool, b []byte) ([]byte, error) {
	return appendUtf8Ref(pool, b, a.File)
}

func (a Signature) appendBody(pool *constpool.Pool, b []byte) ([]byte, error) {
	return appendUtf8Ref(pool, b, a.Value)
}

func (Deprecated) appendBody(_ *constpool.Pool, b []byte) ([]byte, error) { return b, nil }

func (Synthetic) appendBody(_ *constpool.Pool, b []byte) ([]byte, error) { return b, nil }

func (a RawAttribute) appendBody(_ *constpool.Pool, b []byte) ([]byte, error) {
	return append(b, a.Data...), nil
}

func appendUtf8Ref(pool *constpool.Pool, b []byte, s string) ([]byte, error) {
	idx, err := pool.Utf8(s)
	if err != nil {
		return nil, err
	}
	return append(b, byte(idx>>8), byte(idx)), nil
}

// ---------------------------------------------------------------------------
// Resolved form
// ---------------------------------------------------------------------------

// File is an assembled class: every name is a constant pool index and every
// attribute is raw bytes.
type File struct {
	Version    Version
	Pool       *constpool.Pool
	Access     uint16
	This       uint16
	Super      uint16
	Interfaces []uint16
	Fields     []Member
	Methods    []Member
	Attributes []AttributeInfo
}

// Member is a field_info or method_info.
type Member struct {
	Access     uint16
	Name       uint16
	Descriptor uint16
	Attributes []AttributeInfo
}

// AttributeInfo is an attribute with its name resolved to a pool index.
type AttributeInfo struct {
	Name uint16
	Data []byte
}

// ClassName returns the internal name of the class, or "" if this_class
// does not refer to a Class entry.
func (f *File) ClassName() string {
	if c, ok := f.Pool.At(f.This).(constpool.Class); ok {
		return c.Name
	}
	return ""
}
