package vtype

import (
	"fmt"
	"strings"
)

// FromDescriptor converts a field descriptor ("I", "J", "Ljava/lang/String;",
// "[[D") to the verification type a value of that descriptor has on the
// stack. boolean, byte, char and short all widen to Integer.
func FromDescriptor(desc string) (Type, error) {
	t, n, err := parseField(desc)
	if err != nil {
		return Top, err
	}
	if n != len(desc) {
		return Top, fmt.Errorf("invalid descriptor %q: trailing characters", desc)
	}
	return t, nil
}

// MethodDescriptor is a parsed method descriptor.
type MethodDescriptor struct {
	Params []Type
	Return Type
	Void   bool
}

// ParamSlots returns the number of local slots the parameters occupy.
func (m MethodDescriptor) ParamSlots() int {
	n := 0
	for _, p := range m.Params {
		n += p.Width()
	}
	return n
}

// ParseMethodDescriptor parses "(IJLjava/lang/String;)V" style descriptors.
func ParseMethodDescriptor(desc string) (MethodDescriptor, error) {
	var md MethodDescriptor
	if !strings.HasPrefix(desc, "(") {
		return md, fmt.Errorf("invalid method descriptor %q: missing '('", desc)
	}
	pos := 1
	for {
		if pos >= len(desc) {
			return md, fmt.Errorf("invalid method descriptor %q: missing ')'", desc)
		}
		if desc[pos] == ')' {
			pos++
			break
		}
		t, n, err := parseField(desc[pos:])
		if err != nil {
			return md, fmt.Errorf("invalid method descriptor %q: %w", desc, err)
		}
		md.Params = append(md.Params, t)
		pos += n
	}
	rest := desc[pos:]
	if rest == "V" {
		md.Void = true
		return md, nil
	}
	ret, err := FromDescriptor(rest)
	if err != nil {
		return md, fmt.Errorf("invalid method descriptor %q: %w", desc, err)
	}
	md.Return = ret
	return md, nil
}

// parseField parses one field descriptor at the start of s and returns the
// type and the number of bytes consumed.
func parseField(s string) (Type, int, error) {
	if s == "" {
		return Top, 0, fmt.Errorf("empty descriptor")
	}
	switch s[0] {
	case 'B', 'C', 'I', 'S', 'Z':
		return Int, 1, nil
	case 'F':
		return Float, 1, nil
	case 'J':
		return Long, 1, nil
	case 'D':
		return Double, 1, nil
	case 'L':
		end := strings.IndexByte(s, ';')
		if end < 2 {
			return Top, 0, fmt.Errorf("invalid class descriptor %q", s)
		}
		return Ref(s[1:end]), end + 1, nil
	case '[':
		dims := 0
		for dims < len(s) && s[dims] == '[' {
			dims++
		}
		if dims > 255 {
			return Top, 0, fmt.Errorf("array descriptor %q has more than 255 dimensions", s)
		}
		_, n, err := parseField(s[dims:])
		if err != nil {
			return Top, 0, err
		}
		return Ref(s[:dims+n]), dims + n, nil
	}
	return Top, 0, fmt.Errorf("invalid descriptor character %q", s[0])
}

// ClassDescriptor returns the field descriptor for an internal class name
// or array descriptor, as used by anewarray and stack map frames.
func ClassDescriptor(class string) string {
	if strings.HasPrefix(class, "[") {
		return class
	}
	return "L" + class + ";"
}
