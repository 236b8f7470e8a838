package wat

import (
	"fmt"
	"math/bits"
	"strconv"
	"strings"
)

var header = []byte{0x00, 0x61, 0x73, 0x6D, 0x01, 0x00, 0x00, 0x00}

func (m *module) encode() ([]byte, error) {
	var out buffer
	out.write(header)

	var (
		types   []funcType
		typeIdx = map[string]uint32{}
		funcTyp = make([]uint32, len(m.funcs))
	)
	for i, f := range m.funcs {
		idx, ok := typeIdx[f.typ.key()]
		if !ok {
			idx = uint32(len(types))
			typeIdx[f.typ.key()] = idx
			types = append(types, f.typ)
		}
		funcTyp[i] = idx
	}

	if len(types) > 0 {
		var sec buffer
		sec.u32(uint32(len(types)))
		for _, t := range types {
			sec.put(typeFunc)
			sec.u32(uint32(len(t.params)))
			sec.write(t.params)
			sec.u32(uint32(len(t.results)))
			sec.write(t.results)
		}
		out.section(1, &sec)
	}

	if len(m.imports) > 0 {
		var sec buffer
		sec.u32(uint32(len(m.imports)))
		for i, f := range m.imports {
			sec.name(f.importModule)
			sec.name(f.importName)
			sec.put(externFunc)
			sec.u32(funcTyp[i])
		}
		out.section(2, &sec)
	}

	if len(m.defined) > 0 {
		var sec buffer
		sec.u32(uint32(len(m.defined)))
		for i := range m.defined {
			sec.u32(funcTyp[len(m.imports)+i])
		}
		out.section(3, &sec)
	}

	if len(m.memories) > 0 {
		var sec buffer
		sec.u32(uint32(len(m.memories)))
		for _, mem := range m.memories {
			if mem.hasMax {
				sec.put(0x01)
				sec.u32(mem.min)
				sec.u32(mem.max)
			} else {
				sec.put(0x00)
				sec.u32(mem.min)
			}
		}
		out.section(5, &sec)
	}

	if len(m.globals) > 0 {
		var sec buffer
		sec.u32(uint32(len(m.globals)))
		for _, g := range m.globals {
			sec.put(g.typ)
			if g.mutable {
				sec.put(0x01)
			} else {
				sec.put(0x00)
			}
			if g.typ == typeI64 {
				sec.put(opI64Const)
			} else {
				sec.put(opI32Const)
			}
			sec.i64(g.init)
			sec.put(opEnd)
		}
		out.section(6, &sec)
	}

	exports, err := m.resolveExports()
	if err != nil {
		return nil, err
	}
	if len(exports) > 0 {
		var sec buffer
		sec.u32(uint32(len(exports)))
		for _, e := range exports {
			sec.name(e.name)
			sec.put(e.kind)
			sec.u32(e.index)
		}
		out.section(7, &sec)
	}

	if len(m.defined) > 0 {
		var sec buffer
		sec.u32(uint32(len(m.defined)))
		for _, f := range m.defined {
			body, err := m.encodeBody(f)
			if err != nil {
				return nil, err
			}
			sec.u32(uint32(len(body)))
			sec.write(body)
		}
		out.section(10, &sec)
	}

	return out.bytes, nil
}

type resolvedExport struct {
	name  string
	index uint32
	kind  byte
}

func (m *module) resolveExports() ([]resolvedExport, error) {
	var out []resolvedExport
	seen := map[string]bool{}
	add := func(name string, kind byte, index uint32) error {
		if seen[name] {
			return fmt.Errorf("duplicate export %q", name)
		}
		seen[name] = true
		out = append(out, resolvedExport{name: name, kind: kind, index: index})
		return nil
	}

	for i, f := range m.funcs {
		for _, name := range f.exports {
			if err := add(name, externFunc, uint32(i)); err != nil {
				return nil, err
			}
		}
	}
	for i, mem := range m.memories {
		for _, name := range mem.exports {
			if err := add(name, externMemory, uint32(i)); err != nil {
				return nil, err
			}
		}
	}
	for i, g := range m.globals {
		for _, name := range g.exports {
			if err := add(name, externGlobal, uint32(i)); err != nil {
				return nil, err
			}
		}
	}

	for _, e := range m.exports {
		var (
			idx uint32
			err error
		)
		switch e.kind {
		case externFunc:
			idx, err = resolve(e.ref, m.funcNames, len(m.funcs), "func")
		case externMemory:
			idx, err = resolve(e.ref, m.memNames, len(m.memories), "memory")
		case externGlobal:
			idx, err = resolve(e.ref, m.globalNames, len(m.globals), "global")
		}
		if err != nil {
			return nil, err
		}
		if err := add(e.name, e.kind, idx); err != nil {
			return nil, err
		}
	}
	return out, nil
}

func (m *module) encodeBody(f *function) ([]byte, error) {
	e := &bodyEncoder{m: m, f: f}

	// Locals are run-length encoded by type.
	var groups [][2]uint32
	for _, t := range f.locals {
		if n := len(groups); n > 0 && groups[n-1][1] == uint32(t) {
			groups[n-1][0]++
			continue
		}
		groups = append(groups, [2]uint32{1, uint32(t)})
	}
	e.out.u32(uint32(len(groups)))
	for _, g := range groups {
		e.out.u32(g[0])
		e.out.put(byte(g[1]))
	}

	if err := e.seq(f.body); err != nil {
		return nil, err
	}
	if len(e.labels) != 0 {
		return nil, fmt.Errorf("line %d: unclosed block in func %s", f.line, f.name)
	}
	e.out.put(opEnd)
	return e.out.bytes, nil
}

type bodyEncoder struct {
	m      *module
	f      *function
	labels []string
	out    buffer
}

// seq encodes a mix of plain and folded instructions.
func (e *bodyEncoder) seq(nodes []*node) error {
	for i := 0; i < len(nodes); {
		n := nodes[i]
		if n.isList {
			if err := e.folded(n); err != nil {
				return err
			}
			i++
			continue
		}
		used, err := e.plain(nodes[i:])
		if err != nil {
			return err
		}
		i += used
	}
	return nil
}

func (e *bodyEncoder) plain(nodes []*node) (int, error) {
	op := nodes[0].tok
	if op.typ != ident {
		return 0, fmt.Errorf("line %d: expected instruction, got %s", op.line, op.typ)
	}

	switch op.value {
	case "block", "loop", "if":
		label, bt, used, err := e.blockHeader(nodes[1:])
		if err != nil {
			return 0, err
		}
		e.out.put(blockOpcode(op.value))
		e.out.put(bt)
		e.labels = append(e.labels, label)
		return 1 + used, nil
	case "else", "end":
		if len(e.labels) == 0 {
			return 0, fmt.Errorf("line %d: %s outside of a block", op.line, op.value)
		}
		used := 1
		if len(nodes) > 1 && nodes[1].isID() {
			used++
		}
		if op.value == "else" {
			e.out.put(opElse)
			return used, nil
		}
		e.labels = e.labels[:len(e.labels)-1]
		e.out.put(opEnd)
		return used, nil
	}

	used, err := e.instr(op, nodes[1:])
	return 1 + used, err
}

func (e *bodyEncoder) folded(n *node) error {
	if len(n.list) == 0 || n.list[0].isList {
		return fmt.Errorf("line %d: expected instruction", n.tok.line)
	}
	op := n.list[0].tok
	args := n.list[1:]

	switch op.value {
	case "block", "loop":
		label, bt, used, err := e.blockHeader(args)
		if err != nil {
			return err
		}
		e.out.put(blockOpcode(op.value))
		e.out.put(bt)
		e.labels = append(e.labels, label)
		if err := e.seq(args[used:]); err != nil {
			return err
		}
		e.labels = e.labels[:len(e.labels)-1]
		e.out.put(opEnd)
		return nil
	case "if":
		return e.foldedIf(n, args)
	}

	// Leading atoms are immediates, the rest are operands.
	k := 0
	for k < len(args) && !args[k].isList {
		k++
	}
	if err := e.seq(args[k:]); err != nil {
		return err
	}
	used, err := e.instr(op, args[:k])
	if err != nil {
		return err
	}
	if used != k {
		return fmt.Errorf("line %d: unexpected immediate %s for %s", op.line, args[used].tok.value, op.value)
	}
	return nil
}

func (e *bodyEncoder) foldedIf(n *node, args []*node) error {
	label, bt, used, err := e.blockHeader(args)
	if err != nil {
		return err
	}
	rest := args[used:]

	var thenArm, elseArm *node
	var cond []*node
	for _, c := range rest {
		switch c.head() {
		case "then":
			thenArm = c
		case "else":
			elseArm = c
		default:
			if thenArm != nil {
				return fmt.Errorf("line %d: unexpected expression after then", c.tok.line)
			}
			cond = append(cond, c)
		}
	}
	if thenArm == nil {
		return fmt.Errorf("line %d: if without then", n.tok.line)
	}

	if err := e.seq(cond); err != nil {
		return err
	}
	e.out.put(opIf)
	e.out.put(bt)
	e.labels = append(e.labels, label)
	if err := e.seq(thenArm.list[1:]); err != nil {
		return err
	}
	if elseArm != nil {
		e.out.put(opElse)
		if err := e.seq(elseArm.list[1:]); err != nil {
			return err
		}
	}
	e.labels = e.labels[:len(e.labels)-1]
	e.out.put(opEnd)
	return nil
}

// blockHeader reads an optional label and an optional result clause.
func (e *bodyEncoder) blockHeader(nodes []*node) (string, byte, int, error) {
	used := 0
	label := ""
	if used < len(nodes) && nodes[used].isID() {
		label = nodes[used].tok.value
		used++
	}
	bt := blockVoid
	if used < len(nodes) && nodes[used].head() == "result" {
		r := nodes[used]
		if len(r.list) != 2 {
			return "", 0, 0, fmt.Errorf("line %d: blocks support a single result", r.tok.line)
		}
		t, ok := valueType(r.list[1].tok.value)
		if !ok {
			return "", 0, 0, fmt.Errorf("line %d: unknown value type %q", r.list[1].tok.line, r.list[1].tok.value)
		}
		bt = t
		used++
	}
	return label, bt, used, nil
}

func blockOpcode(name string) byte {
	switch name {
	case "loop":
		return opLoop
	case "if":
		return opIf
	}
	return opBlock
}

// instr encodes op and the immediates it takes from args, returning how
// many args it consumed.
func (e *bodyEncoder) instr(op token, args []*node) (int, error) {
	name := op.value
	if code, ok := plainOps[name]; ok {
		e.out.put(code)
		return 0, nil
	}
	if mo, ok := memOps[name]; ok {
		return e.memarg(op, mo, args)
	}

	var code byte
	switch name {
	case "memory.size", "memory.grow":
		code = opMemorySize
		if name == "memory.grow" {
			code = opMemoryGrow
		}
		e.out.put(code)
		e.out.put(0x00)
		return 0, nil
	case "local.get", "local.set", "local.tee",
		"global.get", "global.set",
		"call", "br", "br_if",
		"i32.const", "i64.const":
	default:
		return 0, fmt.Errorf("line %d: unknown instruction %s", op.line, name)
	}

	if len(args) == 0 || args[0].isList {
		return 0, fmt.Errorf("line %d: %s expects an immediate", op.line, name)
	}
	arg := args[0].tok

	switch name {
	case "local.get", "local.set", "local.tee":
		idx, err := resolve(arg, e.f.localNames, len(e.f.typ.params)+len(e.f.locals), "local")
		if err != nil {
			return 0, err
		}
		e.out.put(localOps[name])
		e.out.u32(idx)
	case "global.get", "global.set":
		idx, err := resolve(arg, e.m.globalNames, len(e.m.globals), "global")
		if err != nil {
			return 0, err
		}
		code = opGlobalGet
		if name == "global.set" {
			code = opGlobalSet
		}
		e.out.put(code)
		e.out.u32(idx)
	case "call":
		idx, err := resolve(arg, e.m.funcNames, len(e.m.funcs), "func")
		if err != nil {
			return 0, err
		}
		e.out.put(opCall)
		e.out.u32(idx)
	case "br", "br_if":
		depth, err := e.label(arg)
		if err != nil {
			return 0, err
		}
		code = opBr
		if name == "br_if" {
			code = opBrIf
		}
		e.out.put(code)
		e.out.u32(depth)
	case "i32.const", "i64.const":
		width := 32
		code = opI32Const
		if name == "i64.const" {
			width, code = 64, opI64Const
		}
		v, err := parseInt(arg, width)
		if err != nil {
			return 0, err
		}
		e.out.put(code)
		e.out.i64(v)
	}
	return 1, nil
}

func (e *bodyEncoder) memarg(op token, mo memOp, args []*node) (int, error) {
	align, offset := mo.align, uint32(0)
	used := 0
	for ; used < len(args) && !args[used].isList; used++ {
		v := args[used].tok.value
		key, val, ok := strings.Cut(v, "=")
		if !ok || (key != "offset" && key != "align") {
			break
		}
		n, err := strconv.ParseUint(val, 0, 32)
		if err != nil {
			return 0, fmt.Errorf("line %d: invalid %s: %s", op.line, key, val)
		}
		if key == "offset" {
			offset = uint32(n)
			continue
		}
		if n == 0 || n&(n-1) != 0 {
			return 0, fmt.Errorf("line %d: alignment must be a power of two", op.line)
		}
		align = uint32(bits.TrailingZeros64(n))
	}
	e.out.put(mo.code)
	e.out.u32(align)
	e.out.u32(offset)
	return used, nil
}

// label returns the branch depth for a $label or a numeric depth.
func (e *bodyEncoder) label(t token) (uint32, error) {
	if strings.HasPrefix(t.value, "$") {
		for i := len(e.labels) - 1; i >= 0; i-- {
			if e.labels[i] == t.value {
				return uint32(len(e.labels) - 1 - i), nil
			}
		}
		return 0, fmt.Errorf("line %d: unknown label %s", t.line, t.value)
	}
	depth, err := parseUint(t)
	if err != nil {
		return 0, err
	}
	if int(depth) > len(e.labels) {
		return 0, fmt.Errorf("line %d: branch depth %d out of range", t.line, depth)
	}
	return depth, nil
}
