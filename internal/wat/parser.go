package wat

import (
	"fmt"
	"strconv"
	"strings"
)

// node is an atom or a parenthesized list.
type node struct {
	list   []*node
	tok    token
	isList bool
}

func (n *node) head() string {
	if !n.isList || len(n.list) == 0 || n.list[0].isList {
		return ""
	}
	return n.list[0].tok.value
}

func (n *node) isID() bool {
	return !n.isList && n.tok.typ == ident && strings.HasPrefix(n.tok.value, "$")
}

type reader struct {
	tokens []token
	pos    int
}

func (r *reader) node() (*node, error) {
	if r.pos >= len(r.tokens) {
		return nil, fmt.Errorf("unexpected end of input")
	}
	t := r.tokens[r.pos]
	r.pos++

	switch t.typ {
	case rparen:
		return nil, fmt.Errorf("line %d: unexpected ')'", t.line)
	case lparen:
		n := &node{tok: t, isList: true}
		for {
			if r.pos >= len(r.tokens) {
				return nil, fmt.Errorf("line %d: unexpected end of input", t.line)
			}
			if r.tokens[r.pos].typ == rparen {
				r.pos++
				return n, nil
			}
			child, err := r.node()
			if err != nil {
				return nil, err
			}
			n.list = append(n.list, child)
		}
	}
	return &node{tok: t}, nil
}

type funcType struct {
	params  []byte
	results []byte
}

func (t funcType) key() string {
	return string(t.params) + "/" + string(t.results)
}

type function struct {
	localNames   map[string]uint32
	name         string
	importModule string
	importName   string
	exports      []string
	locals       []byte
	body         []*node
	typ          funcType
	line         int
	imported     bool
}

type global struct {
	name    string
	exports []string
	init    int64
	typ     byte
	mutable bool
}

type memory struct {
	name    string
	exports []string
	min     uint32
	max     uint32
	hasMax  bool
}

type exportRef struct {
	name string
	ref  token
	kind byte
}

const (
	externFunc   byte = 0x00
	externMemory byte = 0x02
	externGlobal byte = 0x03
)

type module struct {
	funcNames   map[string]uint32
	globalNames map[string]uint32
	memNames    map[string]uint32
	imports     []*function
	defined     []*function
	funcs       []*function
	globals     []*global
	memories    []*memory
	exports     []exportRef
}

func parseModule(root *node) (*module, error) {
	if root.head() != "module" {
		return nil, fmt.Errorf("line %d: expected 'module'", root.tok.line)
	}
	m := &module{
		funcNames:   map[string]uint32{},
		globalNames: map[string]uint32{},
		memNames:    map[string]uint32{},
	}

	fields := root.list[1:]
	if len(fields) > 0 && fields[0].isID() {
		fields = fields[1:]
	}
	for _, field := range fields {
		if !field.isList {
			return nil, fmt.Errorf("line %d: expected module field, got %s", field.tok.line, field.tok.typ)
		}
		var err error
		switch field.head() {
		case "func":
			var f *function
			if f, err = parseFunc(field); err == nil {
				m.addFunc(f)
			}
		case "import":
			err = m.parseImport(field)
		case "memory":
			err = m.parseMemory(field)
		case "global":
			err = m.parseGlobal(field)
		case "export":
			err = m.parseExport(field)
		default:
			err = fmt.Errorf("line %d: unsupported module field %q", field.tok.line, field.head())
		}
		if err != nil {
			return nil, err
		}
	}

	m.funcs = append(append(m.funcs, m.imports...), m.defined...)
	for i, f := range m.funcs {
		if f.name == "" {
			continue
		}
		if _, dup := m.funcNames[f.name]; dup {
			return nil, fmt.Errorf("line %d: duplicate func %s", f.line, f.name)
		}
		m.funcNames[f.name] = uint32(i)
	}
	return m, nil
}

func (m *module) addFunc(f *function) {
	if f.imported {
		m.imports = append(m.imports, f)
		return
	}
	m.defined = append(m.defined, f)
}

func parseFunc(n *node) (*function, error) {
	f := &function{localNames: map[string]uint32{}, line: n.tok.line}
	rest := n.list[1:]
	if len(rest) > 0 && rest[0].isID() {
		f.name = rest[0].tok.value
		rest = rest[1:]
	}

header:
	for len(rest) > 0 && rest[0].isList {
		c := rest[0]
		switch c.head() {
		case "export":
			name, err := stringArg(c)
			if err != nil {
				return nil, err
			}
			f.exports = append(f.exports, name)
		case "import":
			if len(c.list) != 3 || c.list[1].tok.typ != str || c.list[2].tok.typ != str {
				return nil, fmt.Errorf("line %d: import expects module and field names", c.tok.line)
			}
			f.imported = true
			f.importModule = c.list[1].tok.value
			f.importName = c.list[2].tok.value
		case "param":
			if len(f.locals) > 0 {
				return nil, fmt.Errorf("line %d: param after local", c.tok.line)
			}
			if err := f.declare(c, &f.typ.params); err != nil {
				return nil, err
			}
		case "result":
			for _, a := range c.list[1:] {
				t, ok := valueType(a.tok.value)
				if !ok {
					return nil, fmt.Errorf("line %d: unknown value type %q", a.tok.line, a.tok.value)
				}
				f.typ.results = append(f.typ.results, t)
			}
		case "local":
			if err := f.declare(c, &f.locals); err != nil {
				return nil, err
			}
		default:
			break header
		}
		rest = rest[1:]
	}

	if f.imported && len(rest) > 0 {
		return nil, fmt.Errorf("line %d: imported func %s has a body", f.line, f.name)
	}
	f.body = rest
	return f, nil
}

// declare parses a param or local clause: either one named entry or any
// number of anonymous types.
func (f *function) declare(c *node, into *[]byte) error {
	args := c.list[1:]
	if len(args) > 0 && args[0].isID() {
		if len(args) != 2 {
			return fmt.Errorf("line %d: named %s takes exactly one type", c.tok.line, c.head())
		}
		t, ok := valueType(args[1].tok.value)
		if !ok {
			return fmt.Errorf("line %d: unknown value type %q", args[1].tok.line, args[1].tok.value)
		}
		f.localNames[args[0].tok.value] = uint32(len(f.typ.params) + len(f.locals))
		*into = append(*into, t)
		return nil
	}
	for _, a := range args {
		t, ok := valueType(a.tok.value)
		if a.isList || !ok {
			return fmt.Errorf("line %d: unknown value type %q", a.tok.line, a.tok.value)
		}
		*into = append(*into, t)
	}
	return nil
}

func (m *module) parseImport(n *node) error {
	if len(n.list) != 4 || n.list[1].tok.typ != str || n.list[2].tok.typ != str {
		return fmt.Errorf("line %d: import expects module name, field name and descriptor", n.tok.line)
	}
	desc := n.list[3]
	if desc.head() != "func" {
		return fmt.Errorf("line %d: only func imports are supported", desc.tok.line)
	}
	f, err := parseFunc(desc)
	if err != nil {
		return err
	}
	if len(f.body) > 0 {
		return fmt.Errorf("line %d: imported func %s has a body", f.line, f.name)
	}
	f.imported = true
	f.importModule = n.list[1].tok.value
	f.importName = n.list[2].tok.value
	m.addFunc(f)
	return nil
}

func (m *module) parseMemory(n *node) error {
	mem := &memory{}
	rest := n.list[1:]
	if len(rest) > 0 && rest[0].isID() {
		mem.name = rest[0].tok.value
		rest = rest[1:]
	}
	for len(rest) > 0 && rest[0].head() == "export" {
		name, err := stringArg(rest[0])
		if err != nil {
			return err
		}
		mem.exports = append(mem.exports, name)
		rest = rest[1:]
	}
	if len(rest) == 0 || len(rest) > 2 {
		return fmt.Errorf("line %d: memory expects min and optional max pages", n.tok.line)
	}
	v, err := parseUint(rest[0].tok)
	if err != nil {
		return err
	}
	mem.min = v
	if len(rest) == 2 {
		if mem.max, err = parseUint(rest[1].tok); err != nil {
			return err
		}
		mem.hasMax = true
	}

	if mem.name != "" {
		m.memNames[mem.name] = uint32(len(m.memories))
	}
	m.memories = append(m.memories, mem)
	return nil
}

func (m *module) parseGlobal(n *node) error {
	g := &global{}
	rest := n.list[1:]
	if len(rest) > 0 && rest[0].isID() {
		g.name = rest[0].tok.value
		rest = rest[1:]
	}
	for len(rest) > 0 && rest[0].head() == "export" {
		name, err := stringArg(rest[0])
		if err != nil {
			return err
		}
		g.exports = append(g.exports, name)
		rest = rest[1:]
	}
	if len(rest) != 2 {
		return fmt.Errorf("line %d: global expects a type and an initializer", n.tok.line)
	}

	typ := rest[0]
	if typ.head() == "mut" && len(typ.list) == 2 {
		g.mutable = true
		typ = typ.list[1]
	}
	t, ok := valueType(typ.tok.value)
	if typ.isList || !ok {
		return fmt.Errorf("line %d: unknown value type %q", typ.tok.line, typ.tok.value)
	}
	g.typ = t

	init := rest[1]
	want := "i32.const"
	bits := 32
	if t == typeI64 {
		want, bits = "i64.const", 64
	}
	if init.head() != want || len(init.list) != 2 {
		return fmt.Errorf("line %d: global initializer must be %s", init.tok.line, want)
	}
	v, err := parseInt(init.list[1].tok, bits)
	if err != nil {
		return err
	}
	g.init = v

	if g.name != "" {
		m.globalNames[g.name] = uint32(len(m.globals))
	}
	m.globals = append(m.globals, g)
	return nil
}

func (m *module) parseExport(n *node) error {
	if len(n.list) != 3 || n.list[1].tok.typ != str || !n.list[2].isList || len(n.list[2].list) != 2 {
		return fmt.Errorf("line %d: export expects a name and a descriptor", n.tok.line)
	}
	desc := n.list[2]
	ref := exportRef{name: n.list[1].tok.value, ref: desc.list[1].tok}
	switch desc.head() {
	case "func":
		ref.kind = externFunc
	case "memory":
		ref.kind = externMemory
	case "global":
		ref.kind = externGlobal
	default:
		return fmt.Errorf("line %d: unsupported export kind %q", desc.tok.line, desc.head())
	}
	m.exports = append(m.exports, ref)
	return nil
}

func stringArg(n *node) (string, error) {
	if len(n.list) != 2 || n.list[1].tok.typ != str {
		return "", fmt.Errorf("line %d: %s expects a string", n.tok.line, n.head())
	}
	return n.list[1].tok.value, nil
}

func parseUint(t token) (uint32, error) {
	v, err := strconv.ParseUint(strings.ReplaceAll(t.value, "_", ""), 0, 32)
	if err != nil {
		return 0, fmt.Errorf("line %d: invalid number: %s", t.line, t.value)
	}
	return uint32(v), nil
}

// parseInt accepts both signed and unsigned spellings of a bits-wide value
// and returns it sign-extended.
func parseInt(t token, bits int) (int64, error) {
	s := strings.ReplaceAll(t.value, "_", "")
	v, err := strconv.ParseInt(s, 0, bits)
	if err != nil {
		u, uerr := strconv.ParseUint(strings.TrimPrefix(s, "+"), 0, bits)
		if uerr != nil {
			return 0, fmt.Errorf("line %d: invalid number: %s", t.line, t.value)
		}
		v = int64(u)
	}
	if bits == 32 {
		v = int64(int32(uint32(v)))
	}
	return v, nil
}

// resolve maps a $name or a numeric index to an index below limit.
func resolve(t token, names map[string]uint32, limit int, kind string) (uint32, error) {
	if strings.HasPrefix(t.value, "$") {
		idx, ok := names[t.value]
		if !ok {
			return 0, fmt.Errorf("line %d: unknown %s %s", t.line, kind, t.value)
		}
		return idx, nil
	}
	idx, err := parseUint(t)
	if err != nil {
		return 0, err
	}
	if int(idx) >= limit {
		return 0, fmt.Errorf("line %d: %s index %d out of range", t.line, kind, idx)
	}
	return idx, nil
}
