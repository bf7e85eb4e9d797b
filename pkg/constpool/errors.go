package constpool

import "fmt"

// OverflowError reports that a table indexed by 16-bit values, or a
// length-prefixed string, would exceed its limit.
type OverflowError struct {
	Table string
	Limit int
	Size  int
}

func (e *OverflowError) Error() string {
	return fmt.Sprintf("%s overflow: %d exceeds limit %d", e.Table, e.Size, e.Limit)
}

// UnsupportedConstantError reports a value with no pool representation.
type UnsupportedConstantError struct {
	Value any
}

func (e *UnsupportedConstantError) Error() string {
	return fmt.Sprintf("unsupported constant type %T", e.Value)
}
