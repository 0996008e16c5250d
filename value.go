package karchive

import (
	"fmt"
	"math"
	"slices"
	"strconv"
)

type Kind uint8

const (
	KindNull Kind = iota
	KindBool
	KindInteger
	KindReal
	KindString
	KindData
	KindRef
	KindArray
	KindDict
	KindInstance
	KindClass
)

func (k Kind) String() string {
	switch k {
	case KindNull:
		return "null"
	case KindBool:
		return "bool"
	case KindInteger:
		return "integer"
	case KindReal:
		return "real"
	case KindString:
		return "string"
	case KindData:
		return "data"
	case KindRef:
		return "ref"
	case KindArray:
		return "array"
	case KindDict:
		return "dict"
	case KindInstance:
		return "instance"
	case KindClass:
		return "class"
	default:
		return "kind(" + strconv.Itoa(int(k)) + ")"
	}
}

// Ref is an index into the $objects arena. Two refs are the same object iff
// they are equal.
type Ref uint32

func (r Ref) Index() int     { return int(r) }
func (r Ref) String() string { return "@" + strconv.FormatUint(uint64(r), 10) }

// Integer is a plist integer that remembers whether it came in as a signed or
// an unsigned number, so that range checks are exact for the full uint64 range.
type Integer struct {
	raw      uint64
	unsigned bool
}

func SignedInteger(v int64) Integer    { return Integer{raw: uint64(v)} }
func UnsignedInteger(v uint64) Integer { return Integer{raw: v, unsigned: true} }

func (n Integer) Int64() (int64, bool) {
	if n.unsigned && n.raw > math.MaxInt64 {
		return 0, false
	}
	return int64(n.raw), true
}

func (n Integer) Uint64() (uint64, bool) {
	if !n.unsigned && int64(n.raw) < 0 {
		return 0, false
	}
	return n.raw, true
}

// Any returns int64 when the value fits, uint64 otherwise.
func (n Integer) Any() any {
	if v, ok := n.Int64(); ok {
		return v
	}
	return n.raw
}

func (n Integer) String() string {
	if v, ok := n.Int64(); ok {
		return strconv.FormatInt(v, 10)
	}
	return strconv.FormatUint(n.raw, 10)
}

// Value is the content of an arena slot, or of an element/field nested inside
// one. Nested positions hold either primitives or refs; only slots hold
// arrays, dicts, instances and class metadata. The zero Value is null.
//
// Values share their backing slices with the arena and must be treated as
// read-only.
type Value struct {
	kind   Kind
	b      bool
	i      Integer
	f      float64
	s      string
	data   []byte
	ref    Ref
	items  []Value
	fields map[string]Value
	class  *Class
}

func Null() Value                  { return Value{} }
func Bool(v bool) Value            { return Value{kind: KindBool, b: v} }
func Int(v int64) Value            { return Value{kind: KindInteger, i: SignedInteger(v)} }
func IntegerValue(v Integer) Value { return Value{kind: KindInteger, i: v} }
func Real(v float64) Value         { return Value{kind: KindReal, f: v} }
func String(v string) Value        { return Value{kind: KindString, s: v} }
func Data(v []byte) Value          { return Value{kind: KindData, data: v} }
func RefValue(r Ref) Value         { return Value{kind: KindRef, ref: r} }
func Array(items ...Value) Value   { return Value{kind: KindArray, items: items} }
func Dict(fields map[string]Value) Value {
	return Value{kind: KindDict, fields: fields}
}

func (v Value) Kind() Kind    { return v.kind }
func (v Value) IsNull() bool  { return v.kind == KindNull }
func (v Value) IsRef() bool   { return v.kind == KindRef }
func (v Value) IsValid() bool { return v.kind <= KindClass }

func (v Value) Bool() (bool, bool)       { return v.b, v.kind == KindBool }
func (v Value) Integer() (Integer, bool) { return v.i, v.kind == KindInteger }
func (v Value) Real() (float64, bool)    { return v.f, v.kind == KindReal }
func (v Value) Str() (string, bool)      { return v.s, v.kind == KindString }
func (v Value) Bytes() ([]byte, bool)    { return v.data, v.kind == KindData }
func (v Value) Ref() (Ref, bool)         { return v.ref, v.kind == KindRef }

// Items returns the elements of an Array value.
func (v Value) Items() ([]Value, bool) { return v.items, v.kind == KindArray }

// Field returns a keyed field of a Dict or Instance value.
func (v Value) Field(key string) (Value, bool) {
	if v.kind != KindDict && v.kind != KindInstance {
		return Value{}, false
	}
	f, ok := v.fields[key]
	return f, ok
}

// Keys returns the sorted field keys of a Dict or Instance value. The $class
// key of instances is not included.
func (v Value) Keys() []string {
	if v.kind != KindDict && v.kind != KindInstance {
		return nil
	}
	keys := make([]string, 0, len(v.fields))
	for k := range v.fields {
		keys = append(keys, k)
	}
	slices.Sort(keys)
	return keys
}

// Len returns the number of items or fields, or 0 for scalars.
func (v Value) Len() int {
	switch v.kind {
	case KindArray:
		return len(v.items)
	case KindDict, KindInstance:
		return len(v.fields)
	default:
		return 0
	}
}

// Class returns the class descriptor of an Instance value, or the descriptor
// itself for a class metadata slot.
func (v Value) Class() (*Class, bool) {
	if v.kind != KindInstance && v.kind != KindClass {
		return nil, false
	}
	return v.class, v.class != nil
}

func (v Value) String() string {
	switch v.kind {
	case KindNull:
		return "null"
	case KindBool:
		return strconv.FormatBool(v.b)
	case KindInteger:
		return v.i.String()
	case KindReal:
		return strconv.FormatFloat(v.f, 'g', -1, 64)
	case KindString:
		return strconv.Quote(v.s)
	case KindData:
		return fmt.Sprintf("<%d bytes>", len(v.data))
	case KindRef:
		return v.ref.String()
	case KindArray:
		return fmt.Sprintf("array(%d)", len(v.items))
	case KindDict:
		return fmt.Sprintf("dict(%d)", len(v.fields))
	case KindInstance:
		if v.class != nil {
			return fmt.Sprintf("%s(%d)", v.class.Name, len(v.fields))
		}
		return fmt.Sprintf("instance(%d)", len(v.fields))
	case KindClass:
		if v.class != nil {
			return "class " + v.class.Name
		}
		return "class"
	default:
		return v.kind.String()
	}
}

// Class describes the class an instance was archived with. It is metadata
// only; nothing about it triggers any behavior.
type Class struct {
	Name      string
	Ancestors []string // full $classes chain, most-derived first
	Ref       Ref
}

// Is reports whether name is the class itself or any of its ancestors.
func (c *Class) Is(name string) bool {
	if c == nil {
		return false
	}
	if c.Name == name {
		return true
	}
	return slices.Contains(c.Ancestors, name)
}

// IsAny reports whether the class chain contains any of the given names.
func (c *Class) IsAny(names ...string) bool {
	for _, n := range names {
		if c.Is(n) {
			return true
		}
	}
	return false
}

func (c *Class) String() string {
	if c == nil {
		return "<no class>"
	}
	return c.Name
}
