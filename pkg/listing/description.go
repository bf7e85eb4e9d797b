package listing

import (
	"bytes"
	"encoding/hex"
	"fmt"
	"math"
	"os"
	"strings"

	"github.com/BurntSushi/toml"

	"github.com/chazu/jclass/pkg/asm"
	"github.com/chazu/jclass/pkg/classfile"
	"github.com/chazu/jclass/pkg/constpool"
)

// Description is a class description file (*.class.toml).
type Description struct {
	Name       string       `toml:"name"`
	Super      string       `toml:"super,omitempty"`
	Interfaces []string     `toml:"interfaces,omitempty"`
	Access     []string     `toml:"access,omitempty"`
	Version    *VersionDesc `toml:"version,omitempty"`
	SourceFile string       `toml:"source-file,omitempty"`
	Signature  string       `toml:"signature,omitempty"`
	Deprecated bool         `toml:"deprecated,omitempty"`
	Synthetic  bool         `toml:"synthetic,omitempty"`
	Raw        []RawDesc    `toml:"raw,omitempty"`
	Fields     []FieldDesc  `toml:"fields,omitempty"`
	Methods    []MethodDesc `toml:"methods,omitempty"`
}

// VersionDesc overrides the target version for one class.
type VersionDesc struct {
	Major uint16 `toml:"major"`
	Minor uint16 `toml:"minor"`
}

// FieldDesc describes a field. Constant is coerced to the field's type:
// integers for I, S, B, C, Z and J, floats for F and D, strings for
// java/lang/String.
type FieldDesc struct {
	Name       string    `toml:"name"`
	Descriptor string    `toml:"descriptor"`
	Access     []string  `toml:"access,omitempty"`
	Constant   any       `toml:"constant,omitempty"`
	Signature  string    `toml:"signature,omitempty"`
	Deprecated bool      `toml:"deprecated,omitempty"`
	Synthetic  bool      `toml:"synthetic,omitempty"`
	Raw        []RawDesc `toml:"raw,omitempty"`
}

// MethodDesc describes a method. Code is a listing; it is empty for
// abstract and native methods.
type MethodDesc struct {
	Name       string    `toml:"name"`
	Descriptor string    `toml:"descriptor"`
	Access     []string  `toml:"access,omitempty"`
	Throws     []string  `toml:"throws,omitempty"`
	Signature  string    `toml:"signature,omitempty"`
	Deprecated bool      `toml:"deprecated,omitempty"`
	Synthetic  bool      `toml:"synthetic,omitempty"`
	Raw        []RawDesc `toml:"raw,omitempty"`
	Code       string    `toml:"code,omitempty"`
}

// RawDesc is an attribute copied through as hex-encoded bytes.
type RawDesc struct {
	Name string `toml:"name"`
	Data string `toml:"data"`
}

// ---------------------------------------------------------------------------
// Access flags
// ---------------------------------------------------------------------------

type flagName struct {
	name string
	flag uint16
}

var (
	classFlags = []flagName{
		{"public", classfile.AccPublic},
		{"final", classfile.AccFinal},
		{"super", classfile.AccSuper},
		{"interface", classfile.AccInterface},
		{"abstract", classfile.AccAbstract},
		{"synthetic", classfile.AccSynthetic},
		{"annotation", classfile.AccAnnotation},
		{"enum", classfile.AccEnum},
	}
	fieldFlags = []flagName{
		{"public", classfile.AccPublic},
		{"private", classfile.AccPrivate},
		{"protected", classfile.AccProtected},
		{"static", classfile.AccStatic},
		{"final", classfile.AccFinal},
		{"volatile", classfile.AccVolatile},
		{"transient", classfile.AccTransient},
		{"synthetic", classfile.AccSynthetic},
		{"enum", classfile.AccEnum},
	}
	methodFlags = []flagName{
		{"public", classfile.AccPublic},
		{"private", classfile.AccPrivate},
		{"protected", classfile.AccProtected},
		{"static", classfile.AccStatic},
		{"final", classfile.AccFinal},
		{"synchronized", classfile.AccSynchronized},
		{"bridge", classfile.AccBridge},
		{"varargs", classfile.AccVarargs},
		{"native", classfile.AccNative},
		{"abstract", classfile.AccAbstract},
		{"strict", classfile.AccStrict},
		{"synthetic", classfile.AccSynthetic},
	}
)

func parseAccess(table []flagName, names []string) (uint16, error) {
	var acc uint16
next:
	for _, n := range names {
		for _, f := range table {
			if f.name == n {
				acc |= f.flag
				continue next
			}
		}
		return 0, fmt.Errorf("unknown access flag %q", n)
	}
	return acc, nil
}

func formatAccess(table []flagName, acc uint16) []string {
	var names []string
	for _, f := range table {
		if acc&f.flag != 0 {
			names = append(names, f.name)
		}
	}
	return names
}

// ---------------------------------------------------------------------------
// Loading
// ---------------------------------------------------------------------------

// LoadDescription reads a class description file and builds the class it
// describes.
func LoadDescription(path string) (*classfile.Class, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("cannot read %s: %w", path, err)
	}
	d, err := ParseDescription(data)
	if err != nil {
		return nil, fmt.Errorf("parse error in %s: %w", path, err)
	}
	c, err := d.Class()
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return c, nil
}

// ParseDescription decodes a class description. Unknown keys are errors.
func ParseDescription(data []byte) (*Description, error) {
	var d Description
	md, err := toml.Decode(string(data), &d)
	if err != nil {
		return nil, err
	}
	if undecoded := md.Undecoded(); len(undecoded) > 0 {
		keys := make([]string, len(undecoded))
		for i, k := range undecoded {
			keys[i] = k.String()
		}
		return nil, fmt.Errorf("unknown keys: %s", strings.Join(keys, ", "))
	}
	return &d, nil
}

// Class builds the class model. A nil Version leaves the class version zero
// so the caller's target applies.
func (d *Description) Class() (*classfile.Class, error) {
	if d.Name == "" {
		return nil, fmt.Errorf("class has no name")
	}
	acc, err := parseAccess(classFlags, d.Access)
	if err != nil {
		return nil, err
	}
	c := &classfile.Class{
		Access:     acc,
		Name:       d.Name,
		Super:      d.Super,
		Interfaces: d.Interfaces,
	}
	if c.Super == "" && d.Name != "java/lang/Object" {
		c.Super = "java/lang/Object"
	}
	if d.Version != nil {
		c.Version = classfile.Version{Major: d.Version.Major, Minor: d.Version.Minor}
	}
	if d.SourceFile != "" {
		c.Attributes = append(c.Attributes, classfile.SourceFile{File: d.SourceFile})
	}
	if c.Attributes, err = appendMeta(c.Attributes, d.Signature, d.Deprecated, d.Synthetic, d.Raw); err != nil {
		return nil, err
	}

	for _, fd := range d.Fields {
		f, err := fd.field()
		if err != nil {
			return nil, fmt.Errorf("field %s: %w", fd.Name, err)
		}
		c.Fields = append(c.Fields, f)
	}
	for _, md := range d.Methods {
		m, err := md.method()
		if err != nil {
			return nil, fmt.Errorf("method %s%s: %w", md.Name, md.Descriptor, err)
		}
		c.Methods = append(c.Methods, m)
	}
	return c, nil
}

func appendMeta(attrs []classfile.Attribute, sig string, deprecated, synthetic bool, raw []RawDesc) ([]classfile.Attribute, error) {
	if sig != "" {
		attrs = append(attrs, classfile.Signature{Value: sig})
	}
	if deprecated {
		attrs = append(attrs, classfile.Deprecated{})
	}
	if synthetic {
		attrs = append(attrs, classfile.Synthetic{})
	}
	for _, r := range raw {
		data, err := hex.DecodeString(r.Data)
		if err != nil {
			return nil, fmt.Errorf("attribute %s: %w", r.Name, err)
		}
		attrs = append(attrs, classfile.RawAttribute{Name: r.Name, Data: data})
	}
	return attrs, nil
}

func (fd *FieldDesc) field() (*classfile.Field, error) {
	acc, err := parseAccess(fieldFlags, fd.Access)
	if err != nil {
		return nil, err
	}
	f := &classfile.Field{Access: acc, Name: fd.Name, Descriptor: fd.Descriptor}
	if fd.Constant != nil {
		if f.Constant, err = coerceConstant(fd.Descriptor, fd.Constant); err != nil {
			return nil, err
		}
	}
	if f.Attributes, err = appendMeta(nil, fd.Signature, fd.Deprecated, fd.Synthetic, fd.Raw); err != nil {
		return nil, err
	}
	return f, nil
}

// coerceConstant maps a decoded TOML value to the Go type whose pool entry
// matches the field descriptor.
func coerceConstant(desc string, v any) (any, error) {
	switch desc {
	case "I", "S", "B", "C", "Z":
		n, ok := v.(int64)
		if !ok {
			return nil, fmt.Errorf("constant %v is not an integer", v)
		}
		if n < math.MinInt32 || n > math.MaxInt32 {
			return nil, fmt.Errorf("constant %d overflows int", n)
		}
		return int32(n), nil
	case "J":
		n, ok := v.(int64)
		if !ok {
			return nil, fmt.Errorf("constant %v is not an integer", v)
		}
		return n, nil
	case "F", "D":
		var x float64
		switch n := v.(type) {
		case float64:
			x = n
		case int64:
			x = float64(n)
		default:
			return nil, fmt.Errorf("constant %v is not a number", v)
		}
		if desc == "F" {
			return float32(x), nil
		}
		return x, nil
	case "Ljava/lang/String;":
		s, ok := v.(string)
		if !ok {
			return nil, fmt.Errorf("constant %v is not a string", v)
		}
		return s, nil
	}
	return nil, fmt.Errorf("field type %s cannot have a constant", desc)
}

func (md *MethodDesc) method() (*classfile.Method, error) {
	acc, err := parseAccess(methodFlags, md.Access)
	if err != nil {
		return nil, err
	}
	m := &classfile.Method{Access: acc, Name: md.Name, Descriptor: md.Descriptor, Throws: md.Throws}
	if strings.TrimSpace(md.Code) != "" {
		body, err := Parse(md.Code)
		if err != nil {
			return nil, err
		}
		m.Body = body.List
		m.LocalVariables = body.LocalVariables
	}
	if m.Attributes, err = appendMeta(nil, md.Signature, md.Deprecated, md.Synthetic, md.Raw); err != nil {
		return nil, err
	}
	return m, nil
}

// ---------------------------------------------------------------------------
// Describing
// ---------------------------------------------------------------------------

// Describe converts a class model back into a description. Method bodies
// become listings.
func Describe(c *classfile.Class) (*Description, error) {
	d := &Description{
		Name:       c.Name,
		Super:      c.Super,
		Interfaces: c.Interfaces,
		Access:     formatAccess(classFlags, c.Access),
	}
	if c.Version != (classfile.Version{}) {
		d.Version = &VersionDesc{Major: c.Version.Major, Minor: c.Version.Minor}
	}
	for _, a := range c.Attributes {
		if sf, ok := a.(classfile.SourceFile); ok {
			d.SourceFile = sf.File
			continue
		}
		describeMeta(a, &d.Signature, &d.Deprecated, &d.Synthetic, &d.Raw)
	}

	for _, f := range c.Fields {
		fd := FieldDesc{Name: f.Name, Descriptor: f.Descriptor, Access: formatAccess(fieldFlags, f.Access)}
		if f.Constant != nil {
			v, err := constantValue(f.Constant)
			if err != nil {
				return nil, fmt.Errorf("field %s: %w", f.Name, err)
			}
			fd.Constant = v
		}
		for _, a := range f.Attributes {
			describeMeta(a, &fd.Signature, &fd.Deprecated, &fd.Synthetic, &fd.Raw)
		}
		d.Fields = append(d.Fields, fd)
	}

	for _, m := range c.Methods {
		md := MethodDesc{
			Name:       m.Name,
			Descriptor: m.Descriptor,
			Access:     formatAccess(methodFlags, m.Access),
			Throws:     m.Throws,
		}
		if m.Body != nil {
			md.Code = asm.Disassemble(m.Body, m.LocalVariables)
		}
		for _, a := range m.Attributes {
			describeMeta(a, &md.Signature, &md.Deprecated, &md.Synthetic, &md.Raw)
		}
		d.Methods = append(d.Methods, md)
	}
	return d, nil
}

func describeMeta(a classfile.Attribute, sig *string, deprecated, synthetic *bool, raw *[]RawDesc) {
	switch x := a.(type) {
	case classfile.Signature:
		*sig = x.Value
	case classfile.Deprecated:
		*deprecated = true
	case classfile.Synthetic:
		*synthetic = true
	case classfile.RawAttribute:
		*raw = append(*raw, RawDesc{Name: x.Name, Data: hex.EncodeToString(x.Data)})
	}
}

// constantValue returns the TOML value of a field constant.
func constantValue(v any) (any, error) {
	e, err := constpool.FromValue(v)
	if err != nil {
		return nil, err
	}
	switch x := e.(type) {
	case constpool.Integer:
		return int64(x.Value), nil
	case constpool.Long:
		return x.Value, nil
	case constpool.Float:
		return float64(x.Value()), nil
	case constpool.Double:
		return x.Value(), nil
	case constpool.String:
		return x.Value, nil
	}
	return nil, fmt.Errorf("constant %s has no description form", e)
}

// FormatDescription writes c as a class description file.
func FormatDescription(c *classfile.Class) ([]byte, error) {
	d, err := Describe(c)
	if err != nil {
		return nil, err
	}
	var buf bytes.Buffer
	if err := toml.NewEncoder(&buf).Encode(d); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
