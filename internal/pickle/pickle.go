// Package pickle implements a bounded decoder for the Python pickle wire
// format (protocols 0 through 5 framing), producing generic Go values.
// It exists to read serialized ML model artifacts whose originating tool,
// protocol version, and text encoding are unknown at load time.
//
// The decoder never executes anything: class references are resolved through
// a caller-supplied Resolver that maps them to reconstruction functions for
// a fixed set of known object shapes. A permissive resolver can materialize
// unknown classes as *Object values instead of failing, which is how the
// last-resort loading strategy recovers artifacts whose defining modules
// have moved or been renamed.
package pickle

import (
	"bufio"
	"fmt"
)

// StringMode controls how 8-bit string opcodes (STRING, BINSTRING,
// SHORT_BINSTRING) are decoded. Unicode opcodes are unaffected.
type StringMode int

const (
	// Latin1 maps each byte to the code point of the same value.
	Latin1 StringMode = iota
	// Bytes keeps 8-bit strings as raw byte slices.
	Bytes
	// ASCII accepts only 7-bit content and fails otherwise.
	ASCII
	// Strict mirrors the decoder default of the originating format:
	// 7-bit content only, same acceptance as ASCII.
	Strict
)

func (m StringMode) String() string {
	switch m {
	case Latin1:
		return "latin1"
	case Bytes:
		return "bytes"
	case ASCII:
		return "ascii"
	default:
		return "strict"
	}
}

// Tuple is an immutable sequence value. It is distinct from []any so that
// reconstructors can tell tuples from lists.
type Tuple []any

// Set holds the elements of a set or frozenset in insertion order.
type Set []any

// Class is a resolved class reference pushed by GLOBAL / STACK_GLOBAL.
// It may appear as an argument to other reconstructors (for example the
// array subtype passed to an array reconstruction call).
type Class struct {
	Module string
	Name   string

	recon Reconstructor
}

func (c Class) String() string { return c.Module + "." + c.Name }

// Object is the generic materialization of a class instance whose shape is
// not covered by the resolver in use. State holds whatever the BUILD opcode
// supplied; Fields is the string-keyed view of State when it is a dict.
type Object struct {
	Module string
	Name   string
	Args   Tuple
	State  any
	Fields map[string]any
}

// Attr looks up a named attribute in the object's build state.
func (o *Object) Attr(name string) (any, bool) {
	if o.Fields == nil {
		return nil, false
	}
	v, ok := o.Fields[name]
	return v, ok
}

// SetPickleState implements Buildable.
func (o *Object) SetPickleState(state any) error {
	o.State = state
	if m, ok := state.(map[any]any); ok {
		o.Fields = make(map[string]any, len(m))
		for k, v := range m {
			if s, ok := k.(string); ok {
				o.Fields[s] = v
			}
		}
	}
	return nil
}

// Reconstructor builds a value from the arguments of a REDUCE or NEWOBJ
// opcode. The returned value may additionally implement Buildable and
// PayloadReader.
type Reconstructor func(args Tuple) (any, error)

// Resolver maps a pickled class reference to its reconstructor. Returning
// an error fails the decode of any stream referencing that class.
type Resolver func(module, name string) (Reconstructor, error)

// Buildable receives the state argument of a BUILD opcode. Values that do
// not implement it keep the state attached generically (for *Object) or
// reject it.
type Buildable interface {
	SetPickleState(state any) error
}

// PayloadReader is implemented by reconstructed values whose serialized form
// is followed by an out-of-band byte payload in the same stream (the
// array-aware container format writes raw array data this way). ReadPayload
// consumes the payload and returns the value that replaces the wrapper.
type PayloadReader interface {
	ReadPayload(r *bufio.Reader) (any, error)
}

// PermissiveResolver wraps a strict resolver, materializing any class the
// inner resolver rejects as a generic *Object instead of failing.
func PermissiveResolver(inner Resolver) Resolver {
	return func(module, name string) (Reconstructor, error) {
		if inner != nil {
			if recon, err := inner(module, name); err == nil {
				return recon, nil
			}
		}
		return func(args Tuple) (any, error) {
			return &Object{Module: module, Name: name, Args: args}, nil
		}, nil
	}
}

// RejectAll is the default resolver: every class reference is an error.
func RejectAll(module, name string) (Reconstructor, error) {
	return nil, fmt.Errorf("unsupported class %s.%s", module, name)
}
