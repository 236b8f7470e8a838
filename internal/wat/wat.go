// Package wat compiles a subset of the WebAssembly text format to binary
// modules, so tests and examples can build guests inline.
//
//	wasm, err := wat.Compile(`(module
//		(func (export "add") (param i32 i32) (result i32)
//			(i32.add (local.get 0) (local.get 1)))
//	)`)
//
// Supported: func imports, functions with named or indexed params and
// locals, one memory with exports, i32/i64 globals, exports, plain and
// folded instructions, block/loop/if with labels, i32/i64 integer
// arithmetic and comparisons, loads and stores with offset= and align=,
// line and block comments.
//
// Not supported: floats, tables, data and elem sections, multi-value
// blocks, SIMD.
package wat

import "fmt"

// Compile translates WAT source into a binary module.
func Compile(source string) ([]byte, error) {
	r := &reader{tokens: tokenize(source)}
	root, err := r.node()
	if err != nil {
		return nil, err
	}
	if r.pos != len(r.tokens) {
		return nil, fmt.Errorf("line %d: unexpected input after module", r.tokens[r.pos].line)
	}
	mod, err := parseModule(root)
	if err != nil {
		return nil, err
	}
	return mod.encode()
}
