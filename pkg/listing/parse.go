// Package listing reads and writes the textual assembler notation for
// method bodies, and TOML class descriptions built on it.
//
// A listing has one instruction per line. Labels are defined by "name:"
// and referred to by name; exception regions are named the same way.
// Everything after an unquoted '#' is a comment. The notation is exactly
// what asm.Disassemble writes.
package listing

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/chazu/jclass/pkg/asm"
	"github.com/chazu/jclass/pkg/constpool"
)

// ParseError reports a listing line that could not be parsed.
type ParseError struct {
	Line int
	Text string
	Msg  string
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("line %d: %s: %q", e.Line, e.Msg, e.Text)
}

// Body is a parsed method body.
type Body struct {
	List           *asm.List
	LocalVariables []asm.LocalVariable
	Labels         map[string]asm.Label
	Regions        map[string]asm.Region
}

type parser struct {
	body *Body
	line int
	text string
}

func (p *parser) errorf(format string, args ...any) error {
	return &ParseError{Line: p.line, Text: strings.TrimSpace(p.text), Msg: fmt.Sprintf(format, args...)}
}

func (p *parser) label(name string) (asm.Label, error) {
	if !isIdent(name) {
		return 0, p.errorf("invalid label name %q", name)
	}
	if l, ok := p.body.Labels[name]; ok {
		return l, nil
	}
	l := p.body.List.NewLabel()
	p.body.Labels[name] = l
	return l, nil
}

func (p *parser) region(name string) (asm.Region, error) {
	if !isIdent(name) {
		return 0, p.errorf("invalid region name %q", name)
	}
	if r, ok := p.body.Regions[name]; ok {
		return r, nil
	}
	r := p.body.List.NewRegion()
	p.body.Regions[name] = r
	return r, nil
}

func isIdent(s string) bool {
	if s == "" {
		return false
	}
	for i, c := range s {
		switch {
		case c == '_' || c == '$' || (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z'):
		case c >= '0' && c <= '9' && i > 0:
		default:
			return false
		}
	}
	return true
}

// Parse reads a listing into an instruction list. Labels that are used but
// never defined are reported when the body is assembled.
func Parse(src string) (*Body, error) {
	p := &parser{body: &Body{
		List:    asm.NewList(),
		Labels:  make(map[string]asm.Label),
		Regions: make(map[string]asm.Region),
	}}
	defined := make(map[string]bool)
	for i, text := range strings.Split(src, "\n") {
		p.line, p.text = i+1, text
		toks, err := tokenize(text)
		if err != nil {
			return nil, p.errorf("%v", err)
		}
		for len(toks) > 0 && strings.HasSuffix(toks[0], ":") && !strings.HasPrefix(toks[0], "\"") {
			name := strings.TrimSuffix(toks[0], ":")
			if defined[name] {
				return nil, p.errorf("label %s defined twice", name)
			}
			defined[name] = true
			l, err := p.label(name)
			if err != nil {
				return nil, err
			}
			p.body.List.Mark(l)
			toks = toks[1:]
		}
		if len(toks) == 0 {
			continue
		}
		if err := p.statement(toks); err != nil {
			return nil, err
		}
	}
	return p.body, nil
}

// tokenize splits a line on whitespace. Quoted strings stay one token,
// quotes included; '#' outside quotes starts a comment.
func tokenize(line string) ([]string, error) {
	var toks []string
	i := 0
	for i < len(line) {
		c := line[i]
		switch {
		case c == ' ' || c == '\t' || c == '\r':
			i++
		case c == '#':
			return toks, nil
		case c == '"':
			j := i + 1
			for j < len(line) && line[j] != '"' {
				if line[j] == '\\' {
					j++
				}
				j++
			}
			if j >= len(line) {
				return nil, fmt.Errorf("unterminated string")
			}
			toks = append(toks, line[i:j+1])
			i = j + 1
		default:
			j := i
			for j < len(line) && line[j] != ' ' && line[j] != '\t' && line[j] != '\r' && line[j] != '#' {
				j++
			}
			toks = append(toks, line[i:j])
			i = j
		}
	}
	return toks, nil
}

func (p *parser) statement(toks []string) error {
	if strings.HasPrefix(toks[0], ".") {
		return p.directive(toks)
	}
	insn, err := p.instruction(toks)
	if err != nil {
		return err
	}
	p.body.List.Add(insn)
	return nil
}

func (p *parser) want(toks []string, n int) error {
	if len(toks) != n {
		return p.errorf("%s takes %d operands, got %d", toks[0], n-1, len(toks)-1)
	}
	return nil
}

func (p *parser) int(tok string, bits int) (int64, error) {
	v, err := strconv.ParseInt(tok, 10, bits)
	if err != nil {
		return 0, p.errorf("invalid integer %q", tok)
	}
	return v, nil
}

func (p *parser) directive(toks []string) error {
	switch toks[0] {
	case ".line":
		if err := p.want(toks, 2); err != nil {
			return err
		}
		n, err := p.int(toks[1], 32)
		if err != nil {
			return err
		}
		p.body.List.Add(asm.LineNumber{Line: int(n)})
	case ".try":
		if len(toks) != 3 && len(toks) != 4 {
			return p.errorf(".try takes a region, a handler and an optional catch type")
		}
		r, err := p.region(toks[1])
		if err != nil {
			return err
		}
		h, err := p.label(toks[2])
		if err != nil {
			return err
		}
		tb := asm.TryBegin{Region: r, Handler: h}
		if len(toks) == 4 {
			tb.CatchType = toks[3]
		}
		p.body.List.Add(tb)
	case ".endtry":
		if err := p.want(toks, 2); err != nil {
			return err
		}
		r, err := p.region(toks[1])
		if err != nil {
			return err
		}
		p.body.List.Add(asm.TryEnd{Region: r})
	case ".var":
		if err := p.want(toks, 6); err != nil {
			return err
		}
		slot, err := p.int(toks[1], 32)
		if err != nil {
			return err
		}
		start, err := p.label(toks[4])
		if err != nil {
			return err
		}
		end, err := p.label(toks[5])
		if err != nil {
			return err
		}
		p.body.LocalVariables = append(p.body.LocalVariables, asm.LocalVariable{
			Slot:       int(slot),
			Name:       toks[2],
			Descriptor: toks[3],
			Start:      start,
			End:        end,
		})
	default:
		return p.errorf("unknown directive %s", toks[0])
	}
	return nil
}

// member splits "Owner.name".
func (p *parser) member(tok string) (string, string, error) {
	i := strings.LastIndex(tok, ".")
	if i <= 0 || i == len(tok)-1 {
		return "", "", p.errorf("expected Owner.name, got %q", tok)
	}
	return tok[:i], tok[i+1:], nil
}

func (p *parser) instruction(toks []string) (asm.Instruction, error) {
	op, ok := asm.Lookup(toks[0])
	if !ok {
		return nil, p.errorf("unknown mnemonic %s", toks[0])
	}
	switch op.Form() {
	case asm.FormNone:
		if err := p.want(toks, 1); err != nil {
			return nil, err
		}
		return asm.Insn{Op: op}, nil

	case asm.FormByte, asm.FormShort:
		if err := p.want(toks, 2); err != nil {
			return nil, err
		}
		if op == asm.OpNewarray {
			if code, ok := asm.NewarrayCode(toks[1]); ok {
				return asm.IntInsn{Op: op, Operand: code}, nil
			}
		}
		v, err := p.int(toks[1], 32)
		if err != nil {
			return nil, err
		}
		return asm.IntInsn{Op: op, Operand: int(v)}, nil

	case asm.FormConst:
		e, rest, err := p.constant(toks[1:])
		if err != nil {
			return nil, err
		}
		if len(rest) > 0 {
			return nil, p.errorf("unexpected %q after constant", rest[0])
		}
		return asm.Ldc{Value: e}, nil

	case asm.FormLocal:
		if err := p.want(toks, 2); err != nil {
			return nil, err
		}
		slot, err := p.int(toks[1], 32)
		if err != nil {
			return nil, err
		}
		return asm.VarInsn{Op: op, Slot: int(slot)}, nil

	case asm.FormIinc:
		if err := p.want(toks, 3); err != nil {
			return nil, err
		}
		slot, err := p.int(toks[1], 32)
		if err != nil {
			return nil, err
		}
		delta, err := p.int(toks[2], 32)
		if err != nil {
			return nil, err
		}
		return asm.Iinc{Slot: int(slot), Delta: int(delta)}, nil

	case asm.FormBranch, asm.FormBranchWide:
		if err := p.want(toks, 2); err != nil {
			return nil, err
		}
		l, err := p.label(toks[1])
		if err != nil {
			return nil, err
		}
		return asm.Jump{Op: op, Target: l}, nil

	case asm.FormTableSwitch:
		if len(toks) < 3 {
			return nil, p.errorf("tableswitch takes a low key, a default and targets")
		}
		low, err := p.int(toks[1], 32)
		if err != nil {
			return nil, err
		}
		def, err := p.label(toks[2])
		if err != nil {
			return nil, err
		}
		x := asm.TableSwitch{Low: int32(low), Default: def}
		for _, tok := range toks[3:] {
			l, err := p.label(tok)
			if err != nil {
				return nil, err
			}
			x.Targets = append(x.Targets, l)
		}
		if len(x.Targets) == 0 {
			return nil, p.errorf("tableswitch has no targets")
		}
		high := low + int64(len(x.Targets)) - 1
		if high > 1<<31-1 {
			return nil, p.errorf("tableswitch high key overflows")
		}
		x.High = int32(high)
		return x, nil

	case asm.FormLookupSwitch:
		if len(toks) < 2 {
			return nil, p.errorf("lookupswitch takes a default and key:target pairs")
		}
		def, err := p.label(toks[1])
		if err != nil {
			return nil, err
		}
		x := asm.LookupSwitch{Default: def}
		for _, tok := range toks[2:] {
			k, target, ok := strings.Cut(tok, ":")
			if !ok {
				return nil, p.errorf("expected key:label, got %q", tok)
			}
			key, err := p.int(k, 32)
			if err != nil {
				return nil, err
			}
			l, err := p.label(target)
			if err != nil {
				return nil, err
			}
			x.Keys = append(x.Keys, int32(key))
			x.Targets = append(x.Targets, l)
		}
		return x, nil

	case asm.FormField:
		if err := p.want(toks, 3); err != nil {
			return nil, err
		}
		owner, name, err := p.member(toks[1])
		if err != nil {
			return nil, err
		}
		return asm.FieldInsn{Op: op, Owner: owner, Name: name, Descriptor: toks[2]}, nil

	case asm.FormMethod, asm.FormInterface:
		iface := op == asm.OpInvokeinterface
		rest := toks[1:]
		if len(rest) > 0 && rest[0] == "interface" {
			iface = true
			rest = rest[1:]
		}
		if len(rest) != 2 {
			return nil, p.errorf("%s takes [interface] Owner.name descriptor", toks[0])
		}
		owner, name, err := p.member(rest[0])
		if err != nil {
			return nil, err
		}
		return asm.MethodInsn{Op: op, Owner: owner, Name: name, Descriptor: rest[1], Interface: iface}, nil

	case asm.FormDynamic:
		if len(toks) < 5 {
			return nil, p.errorf("invokedynamic takes a name, a descriptor, a bootstrap handle and arguments")
		}
		h, rest, err := p.handle(toks[3:])
		if err != nil {
			return nil, err
		}
		x := asm.InvokeDynamic{Name: toks[1], Descriptor: toks[2], Bootstrap: h}
		for len(rest) > 0 {
			var e constpool.Entry
			if e, rest, err = p.constant(rest); err != nil {
				return nil, err
			}
			x.Args = append(x.Args, e)
		}
		return x, nil

	case asm.FormType:
		if err := p.want(toks, 2); err != nil {
			return nil, err
		}
		return asm.TypeInsn{Op: op, Class: toks[1]}, nil

	case asm.FormMultiArray:
		if err := p.want(toks, 3); err != nil {
			return nil, err
		}
		dims, err := p.int(toks[2], 32)
		if err != nil {
			return nil, err
		}
		return asm.MultiANewArray{Descriptor: toks[1], Dims: int(dims)}, nil
	}
	return nil, p.errorf("%s cannot be written directly", toks[0])
}

// handle parses "kind [interface] Owner.name descriptor".
func (p *parser) handle(toks []string) (constpool.MethodHandle, []string, error) {
	var h constpool.MethodHandle
	if len(toks) < 3 {
		return h, nil, p.errorf("incomplete method handle")
	}
	kind, ok := constpool.ParseHandleKind(toks[0])
	if !ok {
		return h, nil, p.errorf("unknown method handle kind %q", toks[0])
	}
	h.Kind = kind
	toks = toks[1:]
	if toks[0] == "interface" {
		h.Interface = true
		toks = toks[1:]
	}
	if len(toks) < 2 {
		return h, nil, p.errorf("incomplete method handle")
	}
	var err error
	if h.Owner, h.Name, err = p.member(toks[0]); err != nil {
		return h, nil, err
	}
	h.Descriptor = toks[1]
	return h, toks[2:], nil
}

// constant parses one loadable constant from the front of toks.
func (p *parser) constant(toks []string) (constpool.Entry, []string, error) {
	if len(toks) == 0 {
		return nil, nil, p.errorf("missing constant")
	}
	tok := toks[0]
	switch {
	case strings.HasPrefix(tok, "\""):
		s, err := strconv.Unquote(tok)
		if err != nil {
			return nil, nil, p.errorf("invalid string %s", tok)
		}
		return constpool.String{Value: s}, toks[1:], nil
	case tok == "class":
		if len(toks) < 2 {
			return nil, nil, p.errorf("class constant needs a name")
		}
		return constpool.Class{Name: toks[1]}, toks[2:], nil
	case tok == "methodtype":
		if len(toks) < 2 {
			return nil, nil, p.errorf("methodtype constant needs a descriptor")
		}
		return constpool.MethodType{Descriptor: toks[1]}, toks[2:], nil
	case tok == "methodhandle":
		h, rest, err := p.handle(toks[1:])
		if err != nil {
			return nil, nil, err
		}
		return h, rest, nil
	}
	e, err := p.number(tok)
	if err != nil {
		return nil, nil, err
	}
	return e, toks[1:], nil
}

func (p *parser) number(tok string) (constpool.Entry, error) {
	last := tok[len(tok)-1]
	body := tok[:len(tok)-1]
	switch last {
	case 'L':
		v, err := strconv.ParseInt(body, 10, 64)
		if err != nil {
			return nil, p.errorf("invalid long %q", tok)
		}
		return constpool.Long{Value: v}, nil
	case 'f':
		v, err := strconv.ParseFloat(body, 32)
		if err != nil {
			return nil, p.errorf("invalid float %q", tok)
		}
		return constpool.NewFloat(float32(v)), nil
	case 'd':
		v, err := strconv.ParseFloat(body, 64)
		if err != nil {
			return nil, p.errorf("invalid double %q", tok)
		}
		return constpool.NewDouble(v), nil
	}
	if strings.ContainsAny(tok, ".eE") {
		v, err := strconv.ParseFloat(tok, 64)
		if err != nil {
			return nil, p.errorf("invalid double %q", tok)
		}
		return constpool.NewDouble(v), nil
	}
	v, err := strconv.ParseInt(tok, 10, 32)
	if err != nil {
		return nil, p.errorf("invalid constant %q", tok)
	}
	return constpool.Integer{Value: int32(v)}, nil
}
