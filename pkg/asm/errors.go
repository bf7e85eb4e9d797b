package asm

import "fmt"

// VerifyError reports an instruction whose stack or local-variable effect
// cannot be satisfied, or whose operands are malformed.
type VerifyError struct {
	Index  int    // position in the instruction list
	Offset int    // code offset of the instruction
	Op     string // mnemonic or marker name
	Reason string
	Err    error // underlying *vtype.MismatchError, if any
}

func (e *VerifyError) Error() string {
	msg := fmt.Sprintf("instruction %d (%s) at offset %d: %s", e.Index, e.Op, e.Offset, e.Reason)
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *VerifyError) Unwrap() error { return e.Err }

// LabelError reports a label that is placed twice, never placed, or not
// allocated by the list.
type LabelError struct {
	Index  int
	Label  Label
	Reason string
}

func (e *LabelError) Error() string {
	return fmt.Sprintf("instruction %d: label L%d %s", e.Index, e.Label, e.Reason)
}

// RangeError reports a value that does not fit the field the class file
// format gives it.
type RangeError struct {
	Index int // -1 when not tied to one instruction
	What  string
	Value int64
}

func (e *RangeError) Error() string {
	if e.Index < 0 {
		return fmt.Sprintf("%s out of range: %d", e.What, e.Value)
	}
	return fmt.Sprintf("instruction %d: %s out of range: %d", e.Index, e.What, e.Value)
}
