package karchive

import (
	"errors"
	"fmt"
	"reflect"
)

// Decodable is implemented (on a pointer receiver) by types that decode
// themselves from an archive value. v is passed unresolved; implementations
// call d.Decode or use d.Graph() to follow references.
//
// Only the exact Ref type is passed through unresolved; named types derived
// from it are decoded as integers. Embed Link to keep a reference inside a
// variant or another named type.
type Decodable interface {
	DecodeArchive(d *Decoder, v Value) error
}

// Link holds the reference a value was archived as, without following it.
// A struct embedding Link decodes from references only, which makes it a
// natural last variant for back-references in self-referential graphs.
type Link struct {
	Ref Ref
}

func (l *Link) DecodeArchive(d *Decoder, v Value) error {
	r, ok := v.Ref()
	if !ok {
		return mismatchf(reflect.TypeFor[Link](), v, "expected a reference")
	}
	l.Ref = r
	return nil
}

var (
	decodableType = reflect.TypeFor[Decodable]()
	valueType     = reflect.TypeFor[Value]()
	refType       = reflect.TypeFor[Ref]()
	anyType       = reflect.TypeFor[any]()
)

// Decoder converts archive values into Go values. A Decoder is not safe for
// concurrent use, but any number of decoders may share one archive.
type Decoder struct {
	graph    *Graph
	reg      *Registry
	maxDepth int
	stack    []frame
}

// frame is a reference currently being decoded into a given type. Reaching
// the same frame again while it is on the stack means the decode would never
// terminate.
type frame struct {
	ref Ref
	typ reflect.Type
}

func NewDecoder(g *Graph, reg *Registry) *Decoder {
	if reg == nil {
		reg = NewRegistry()
	}
	return &Decoder{
		graph:    g,
		reg:      reg,
		maxDepth: DefaultMaxDepth,
	}
}

// NewDecoder returns a decoder using the archive's registry and depth limit.
func (a *Archive) NewDecoder() *Decoder {
	d := NewDecoder(a.graph, a.registry)
	d.maxDepth = a.maxDepth
	return d
}

func (d *Decoder) Graph() *Graph       { return d.graph }
func (d *Decoder) Registry() *Registry { return d.reg }

// Depth returns the number of references currently being resolved.
func (d *Decoder) Depth() int { return len(d.stack) }

// SetMaxDepth bounds the number of nested reference resolutions.
func (d *Decoder) SetMaxDepth(n int) {
	if n <= 0 {
		n = DefaultMaxDepth
	}
	d.maxDepth = n
}

// OnPath reports whether r is being decoded by an enclosing call, into any
// type. Decodable implementations can use it to stop at back-references.
func (d *Decoder) OnPath(r Ref) bool {
	for _, f := range d.stack {
		if f.ref == r {
			return true
		}
	}
	return false
}

// Decode decodes v into the value dst points to.
func (d *Decoder) Decode(v Value, dst any) error {
	rv := reflect.ValueOf(dst)
	if rv.Kind() != reflect.Pointer || rv.IsNil() {
		panic(fmt.Errorf("karchive: Decode destination must be a non-nil pointer, got %T", dst))
	}
	return d.decodeValue(v, rv.Elem())
}

// DecodeRef decodes the object r points to into dst.
func (d *Decoder) DecodeRef(r Ref, dst any) error {
	return d.Decode(RefValue(r), dst)
}

// Decode decodes the object r points to into the value dst points to.
func (a *Archive) Decode(r Ref, dst any) error {
	return a.NewDecoder().DecodeRef(r, dst)
}

// DecodeRoot decodes the root object into the value dst points to.
func (a *Archive) DecodeRoot(dst any) error {
	r, ok := a.Root()
	if !ok {
		return decodeErrf(nil, ErrUnresolvedReference, "no %q entry in %s", a.rootKey, topKey)
	}
	return a.Decode(r, dst)
}

// DecodeAs decodes the object r points to as a T.
func DecodeAs[T any](a *Archive, r Ref) (T, error) {
	var result T
	err := a.Decode(r, &result)
	return result, err
}

// DecodeRootAs decodes the root object as a T.
func DecodeRootAs[T any](a *Archive) (T, error) {
	var result T
	err := a.DecodeRoot(&result)
	return result, err
}

// DecodeInstance decodes the instance r points to into the record type
// registered for its class (or its nearest registered ancestor), returning
// a pointer to the new value.
func DecodeInstance(a *Archive, r Ref) (any, error) {
	d := a.NewDecoder()
	v := RefValue(r)
	cls, err := d.graph.Class(v)
	if err != nil {
		return nil, err
	}
	if cls == nil {
		slot, _ := d.graph.Get(r)
		return nil, mismatchf(nil, slot, "expected an instance")
	}
	typ, ok := d.reg.dispatch(cls)
	if !ok {
		return nil, decodeErrf(nil, ErrTypeMismatch, "no record registered for class %s (%v)", cls.Name, cls.Ancestors)
	}
	ptr := reflect.New(typ)
	if err := d.decodeValue(v, ptr.Elem()); err != nil {
		return nil, err
	}
	return ptr.Interface(), nil
}

func (d *Decoder) decodeValue(v Value, rv reflect.Value) error {
	typ := rv.Type()

	switch typ {
	case valueType:
		rv.Set(reflect.ValueOf(v))
		return nil
	case refType:
		r, ok := v.Ref()
		if !ok {
			return mismatchf(typ, v, "expected a reference")
		}
		rv.Set(reflect.ValueOf(r))
		return nil
	case anyType:
		return d.decodeAny(v, rv)
	}

	if r, ok := v.Ref(); ok {
		if err := d.push(r, typ); err != nil {
			return err
		}
		defer d.pop()
	}

	if rv.CanAddr() && reflect.PointerTo(typ).Implements(decodableType) {
		return rv.Addr().Interface().(Decodable).DecodeArchive(d, v)
	}

	if typ.Kind() == reflect.Pointer {
		return d.decodePointer(v, rv)
	}
	if typ.Kind() == reflect.Interface {
		if vd := d.reg.Variants(typ); vd != nil {
			return d.decodeVariants(v, rv, vd)
		}
		return decodeErrf(typ, ErrTypeMismatch, "no variants registered")
	}

	resolved, err := d.graph.Resolve(v)
	if err != nil {
		return err
	}
	if resolved.IsNull() {
		return decodeErrf(typ, ErrUnresolvedReference, "value is null")
	}

	switch typ.Kind() {
	case reflect.Bool:
		return decodeBool(resolved, rv)
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return decodeInt(resolved, rv)
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64, reflect.Uintptr:
		return decodeUint(resolved, rv)
	case reflect.Float32, reflect.Float64:
		return decodeFloat(resolved, rv)
	case reflect.String:
		return d.decodeString(resolved, rv)
	case reflect.Slice:
		return d.decodeSlice(resolved, rv)
	case reflect.Array:
		return d.decodeArray(resolved, rv)
	case reflect.Map:
		return d.decodeMap(resolved, rv)
	case reflect.Struct:
		if typ == timeType {
			return d.decodeTime(resolved, rv)
		}
		return d.decodeRecord(resolved, rv, d.reg.Record(typ))
	default:
		return decodeErrf(typ, ErrTypeMismatch, "unsupported target type")
	}
}

func (d *Decoder) push(r Ref, typ reflect.Type) error {
	for _, f := range d.stack {
		if f.ref == r && f.typ == typ {
			return decodeErrf(typ, ErrCycle, "%v is already being decoded as %v", r, typ)
		}
	}
	if len(d.stack) >= d.maxDepth {
		return decodeErrf(typ, ErrDepthExceeded, "%d nested references", len(d.stack))
	}
	d.stack = append(d.stack, frame{r, typ})
	return nil
}

func (d *Decoder) pop() {
	d.stack = d.stack[:len(d.stack)-1]
}

func (d *Decoder) decodePointer(v Value, rv reflect.Value) error {
	resolved, err := d.graph.Resolve(v)
	if err != nil {
		return err
	}
	if resolved.IsNull() {
		rv.Set(reflect.Zero(rv.Type()))
		return nil
	}
	ptr := reflect.New(rv.Type().Elem())
	if err := d.decodeValue(v, ptr.Elem()); err != nil {
		return err
	}
	rv.Set(ptr)
	return nil
}

// decodeVariants tries each variant in declaration order. Only the depth
// limit aborts immediately; a cycle is specific to the variant type that hit
// it, so the next variant still gets a chance.
func (d *Decoder) decodeVariants(v Value, rv reflect.Value, vd *VariantDescriptor) error {
	attempts := make([]VariantAttempt, 0, len(vd.Variants))
	for _, spec := range vd.Variants {
		nv := reflect.New(spec.Type).Elem()
		err := d.decodeValue(v, nv)
		if err == nil {
			rv.Set(nv)
			return nil
		}
		if errors.Is(err, ErrDepthExceeded) {
			return err
		}
		attempts = append(attempts, VariantAttempt{Name: spec.Name, Err: err})
	}
	return &VariantError{Type: vd.Type, Attempts: attempts}
}

func (d *Decoder) decodeRecord(v Value, rv reflect.Value, rd *RecordDescriptor) error {
	typ := rv.Type()
	fields, cls, ok, err := d.recordFields(v, rd)
	if err != nil {
		return err
	}
	if !ok {
		return mismatchf(typ, v, "expected an instance or a dictionary")
	}
	if rd.Strict && cls != nil && !cls.Is(rd.Class) {
		return mismatchf(typ, v, "expected class %s", rd.Class)
	}

	rv.Set(reflect.Zero(typ))
	for _, spec := range rd.Fields {
		fv, found := fields[spec.Key]
		if found && spec.Optional {
			resolved, err := d.graph.Resolve(fv)
			if err != nil {
				return atPath(err, KeyElem(spec.Key))
			}
			if resolved.IsNull() {
				found = false
			}
		}
		if !found {
			switch {
			case spec.Default.IsValid():
				rv.FieldByIndex(spec.Index).Set(spec.Default)
			case spec.Optional:
			default:
				return atPath(decodeErrf(typ, ErrMissingField, "%s", spec.Key), KeyElem(spec.Key))
			}
			continue
		}
		if err := d.decodeValue(fv, rv.FieldByIndex(spec.Index)); err != nil {
			return atPath(err, KeyElem(spec.Key))
		}
	}

	if rd.Unhandled != nil {
		unhandled := make(map[string]Value)
		for k, fv := range fields {
			if !rd.Claims(k) {
				unhandled[k] = fv
			}
		}
		rv.FieldByIndex(rd.Unhandled.Index).Set(reflect.ValueOf(unhandled))
	}
	return nil
}

// recordFields returns the keyed fields a record is decoded from. Plain
// dictionaries and NSDictionary instances with string keys are accepted for
// records without a strict class.
func (d *Decoder) recordFields(v Value, rd *RecordDescriptor) (map[string]Value, *Class, bool, error) {
	fields, cls, ok, err := d.graph.Fields(v)
	if err != nil || !ok {
		return nil, nil, ok, err
	}
	if cls == nil || rd.Strict || !cls.IsAny(dictionaryClasses...) {
		return fields, cls, true, nil
	}
	entries, _, err := d.graph.Mapping(v)
	if err != nil {
		return nil, nil, false, err
	}
	fields = make(map[string]Value, len(entries))
	for i, e := range entries {
		var key string
		if err := d.decodeValue(e.Key, reflect.ValueOf(&key).Elem()); err != nil {
			return nil, nil, false, atPath(err, IndexElem(i))
		}
		fields[key] = e.Value
	}
	return fields, cls, true, nil
}
