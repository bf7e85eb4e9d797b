// Package vtype defines the verification types used to simulate the
// operand stack and local variables while a method body is encoded.
//
// The lattice is deliberately shallow: reference types are compared by
// kind only, and no class hierarchy is consulted. Callers that emit a
// reference of the wrong class are trusted.
package vtype

import "fmt"

// Kind tags a verification type.
type Kind uint8

const (
	KindTop Kind = iota
	KindOneWord
	KindTwoWord
	KindInteger
	KindFloat
	KindLong
	KindDouble
	KindNull
	KindReference
	KindUninitialized
)

var kindNames = [...]string{
	KindTop:           "top",
	KindOneWord:       "oneword",
	KindTwoWord:       "twoword",
	KindInteger:       "int",
	KindFloat:         "float",
	KindLong:          "long",
	KindDouble:        "double",
	KindNull:          "null",
	KindReference:     "reference",
	KindUninitialized: "uninitialized",
}

// String returns the lower-case name of the kind.
func (k Kind) String() string {
	if int(k) < len(kindNames) {
		return kindNames[k]
	}
	return fmt.Sprintf("Kind(%d)", k)
}

// Type is a verification type. It is a comparable value and is never
// mutated after creation.
type Type struct {
	Kind Kind

	// Class is the internal class name ("java/lang/String") or array
	// descriptor ("[I") of a Reference. Empty means "any reference".
	Class string

	// Offset is the code offset of the `new` instruction that produced an
	// Uninitialized value. AnyOffset matches every uninitialized value.
	Offset int
}

// AnyOffset marks an Uninitialized type that accepts any allocation site.
const AnyOffset = -1

// ThisOffset marks the receiver of a constructor before the superclass
// constructor has run.
const ThisOffset = -2

// Predefined types.
var (
	Top     = Type{Kind: KindTop}
	OneWord = Type{Kind: KindOneWord}
	TwoWord = Type{Kind: KindTwoWord}
	Int     = Type{Kind: KindInteger}
	Float   = Type{Kind: KindFloat}
	Long    = Type{Kind: KindLong}
	Double  = Type{Kind: KindDouble}
	Null    = Type{Kind: KindNull}

	// AnyRef is a Reference with no class; used as an expected type.
	AnyRef = Type{Kind: KindReference}

	// AnyUninitialized is the expected type of a constructor receiver.
	AnyUninitialized = Type{Kind: KindUninitialized, Offset: AnyOffset}

	UninitializedThis = Type{Kind: KindUninitialized, Offset: ThisOffset}
)

// Well-known reference types.
var (
	Object    = Ref("java/lang/Object")
	String    = Ref("java/lang/String")
	Class     = Ref("java/lang/Class")
	Throwable = Ref("java/lang/Throwable")
)

// Ref returns a Reference to the named class or array descriptor.
func Ref(class string) Type {
	return Type{Kind: KindReference, Class: class}
}

// Uninitialized returns the type of an object allocated by the `new`
// instruction at offset but not yet passed to a constructor.
func Uninitialized(offset int) Type {
	return Type{Kind: KindUninitialized, Offset: offset}
}

// Width returns the number of stack or local slots the type occupies.
func (t Type) Width() int {
	switch t.Kind {
	case KindLong, KindDouble, KindTwoWord:
		return 2
	}
	return 1
}

// IsReference reports whether t is a reference, null or uninitialized value.
func (t Type) IsReference() bool {
	return t.Kind == KindReference || t.Kind == KindNull || t.Kind == KindUninitialized
}

// IsArray reports whether t is a reference to an array type.
func (t Type) IsArray() bool {
	return t.Kind == KindReference && len(t.Class) > 0 && t.Class[0] == '['
}

// Element returns the component type of an array reference. For a Null
// array the element is Null; for anything else it is Object.
func (t Type) Element() Type {
	if t.Kind == KindNull {
		return Null
	}
	if !t.IsArray() {
		return Object
	}
	elem, err := FromDescriptor(t.Class[1:])
	if err != nil {
		return Object
	}
	return elem
}

// String formats the type for error messages and listings.
func (t Type) String() string {
	switch t.Kind {
	case KindReference:
		if t.Class == "" {
			return "reference"
		}
		return t.Class
	case KindUninitialized:
		switch t.Offset {
		case AnyOffset:
			return "uninitialized"
		case ThisOffset:
			return "uninitializedThis"
		}
		return fmt.Sprintf("uninitialized(%d)", t.Offset)
	}
	return t.Kind.String()
}

// IsAssignable reports whether a value of type actual may be used where
// target is expected.
func IsAssignable(target, actual Type) bool {
	switch target.Kind {
	case KindTop:
		return actual.Width() == 1
	case KindOneWord:
		return actual.Width() == 1 && actual.Kind != KindTop
	case KindTwoWord:
		return actual.Width() == 2
	case KindInteger, KindFloat, KindLong, KindDouble, KindNull:
		return actual.Kind == target.Kind
	case KindReference:
		return actual.Kind == KindReference || actual.Kind == KindNull
	case KindUninitialized:
		if target.Offset == AnyOffset {
			return actual.Kind == KindUninitialized || actual.Kind == KindReference
		}
		return actual.Kind == KindUninitialized && actual.Offset == target.Offset
	}
	return false
}

// Check returns a *MismatchError if actual is not assignable to target.
// offset is the code offset of the instruction performing the check.
func Check(target, actual Type, offset int) error {
	if IsAssignable(target, actual) {
		return nil
	}
	return &MismatchError{Offset: offset, Expected: target, Actual: actual}
}

// MismatchError reports a value whose verification type does not satisfy
// what an instruction expects.
type MismatchError struct {
	Offset   int
	Expected Type
	Actual   Type
}

func (e *MismatchError) Error() string {
	return fmt.Sprintf("offset %d: expected %s, got %s", e.Offset, e.Expected, e.Actual)
}

// Meet returns the most specific type both a and b can be treated as when
// two paths reach the same point: equal types are kept, references of
// different classes widen to Object, anything else becomes Top.
func Meet(a, b Type) Type {
	if a == b {
		return a
	}
	if a.Kind == KindNull && b.Kind == KindReference {
		return b
	}
	if b.Kind == KindNull && a.Kind == KindReference {
		return a
	}
	if a.Kind == KindReference && b.Kind == KindReference {
		return Object
	}
	return Top
}
