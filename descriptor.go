package karchive

import (
	"fmt"
	"reflect"
	"slices"

	"github.com/vmihailenco/tagparser/v2"
)

const tagName = "archive"

// RecordDescriptor maps archive keys onto the fields of a struct type. It is
// built once per type and never modified afterwards.
type RecordDescriptor struct {
	Type reflect.Type

	// Class is the archived class name this type corresponds to: the Go type
	// name unless renamed.
	Class string

	// Strict means Class was given explicitly, and instances of other classes
	// are rejected when decoding into this type.
	Strict bool

	// Fields are the decoded fields in declaration order.
	Fields []*FieldSpec

	// Unhandled, if set, receives every key not claimed by Fields.
	Unhandled *FieldSpec

	// Skipped lists Go field names that are never read from the archive.
	Skipped []string

	claimed map[string]bool
}

type FieldSpec struct {
	Name  string // Go field name
	Key   string // archive key
	Index []int
	Type  reflect.Type

	// Optional fields may be absent (or null) and are left at their zero
	// value, or set to Default if it is valid.
	Optional bool
	Default  reflect.Value

	skip      bool
	unhandled bool
}

// Claims reports whether key is read by one of the decoded fields.
func (rd *RecordDescriptor) Claims(key string) bool {
	return rd.claimed[key]
}

// Field returns the spec of the Go field with the given name, or nil.
func (rd *RecordDescriptor) Field(name string) *FieldSpec {
	for _, f := range rd.Fields {
		if f.Name == name {
			return f
		}
	}
	return nil
}

// VariantDescriptor lists the alternatives of a sum type (a Go interface) in
// the order they are attempted.
type VariantDescriptor struct {
	Type     reflect.Type
	Variants []VariantSpec
}

type VariantSpec struct {
	Name string
	Type reflect.Type
}

// ClassNamer can be implemented by record types to set their archived class
// name. The method is called on the zero value.
type ClassNamer interface {
	ArchiveClassName() string
}

var (
	classNamerType = reflect.TypeFor[ClassNamer]()
	unhandledType  = reflect.TypeFor[map[string]Value]()
)

func reflectRecord(typ reflect.Type) *RecordDescriptor {
	rd, specs := reflectRecordSpecs(typ)
	rd.finish(specs)
	return rd
}

func reflectRecordSpecs(typ reflect.Type) (*RecordDescriptor, []*FieldSpec) {
	if typ.Kind() != reflect.Struct {
		panic(fmt.Errorf("karchive: %v is not a struct", typ))
	}
	rd := &RecordDescriptor{
		Type:  typ,
		Class: typ.Name(),
	}
	var specs []*FieldSpec
	collectFields(typ, nil, rd, &specs)

	switch {
	case typ.Implements(classNamerType):
		rd.Class = reflect.Zero(typ).Interface().(ClassNamer).ArchiveClassName()
		rd.Strict = true
	case reflect.PointerTo(typ).Implements(classNamerType):
		rd.Class = reflect.New(typ).Interface().(ClassNamer).ArchiveClassName()
		rd.Strict = true
	}
	return rd, specs
}

func collectFields(typ reflect.Type, prefix []int, rd *RecordDescriptor, specs *[]*FieldSpec) {
	for i := 0; i < typ.NumField(); i++ {
		sf := typ.Field(i)
		tag := tagparser.Parse(sf.Tag.Get(tagName))

		if sf.Name == "_" {
			if cls, ok := tag.Options["class"]; ok {
				rd.Class = cls
				rd.Strict = true
			}
			continue
		}
		if sf.Anonymous && tag.Name == "" && !tag.HasOption("unhandled") {
			ft := sf.Type
			if ft.Kind() == reflect.Struct {
				collectFields(ft, appendIndex(prefix, i), rd, specs)
				continue
			}
		}
		if !sf.IsExported() {
			continue
		}

		spec := &FieldSpec{
			Name:  sf.Name,
			Key:   sf.Name,
			Index: appendIndex(prefix, i),
			Type:  sf.Type,
		}
		switch {
		case tag.Name == "-":
			spec.skip = true
		case tag.Name != "":
			spec.Key = tag.Name
		}
		if tag.HasOption("default") {
			spec.Optional = true
		}
		if tag.HasOption("unhandled") {
			spec.unhandled = true
		}
		if sf.Type.Kind() == reflect.Pointer {
			spec.Optional = true
		}
		*specs = append(*specs, spec)
	}
}

func appendIndex(prefix []int, i int) []int {
	return append(slices.Clip(prefix), i)
}

func (rd *RecordDescriptor) finish(specs []*FieldSpec) {
	rd.Fields = nil
	rd.Unhandled = nil
	rd.Skipped = nil
	rd.claimed = make(map[string]bool)
	for _, spec := range specs {
		switch {
		case spec.skip:
			rd.Skipped = append(rd.Skipped, spec.Name)
		case spec.unhandled:
			if rd.Unhandled != nil {
				panic(fmt.Errorf("karchive: %v has two unhandled fields, %s and %s", rd.Type, rd.Unhandled.Name, spec.Name))
			}
			if spec.Type != unhandledType {
				panic(fmt.Errorf("karchive: unhandled field %v.%s must be %v, got %v", rd.Type, spec.Name, unhandledType, spec.Type))
			}
			rd.Unhandled = spec
		default:
			if rd.claimed[spec.Key] {
				panic(fmt.Errorf("karchive: %v maps key %q to more than one field", rd.Type, spec.Key))
			}
			rd.claimed[spec.Key] = true
			rd.Fields = append(rd.Fields, spec)
		}
	}
}

// RecordBuilder adjusts the descriptor of T derived from its struct tags.
type RecordBuilder[T any] struct {
	desc  *RecordDescriptor
	specs []*FieldSpec
}

// Class renames the container: only instances of (a subclass of) name will
// be decoded into T, and T is dispatched to for instances of that class.
func (b *RecordBuilder[T]) Class(name string) {
	b.desc.Class = name
	b.desc.Strict = true
}

// Field returns a builder for the Go field with the given name. It panics if
// there is no such exported field.
func (b *RecordBuilder[T]) Field(name string) *FieldBuilder {
	for _, spec := range b.specs {
		if spec.Name == name {
			return &FieldBuilder{spec: spec, owner: b.desc.Type}
		}
	}
	panic(fmt.Errorf("karchive: %v has no field %s", b.desc.Type, name))
}

type FieldBuilder struct {
	spec  *FieldSpec
	owner reflect.Type
}

// Key sets the archive key the field is read from.
func (fb *FieldBuilder) Key(key string) *FieldBuilder {
	fb.spec.Key = key
	fb.spec.skip = false
	return fb
}

// Skip excludes the field from decoding; it keeps its zero value.
func (fb *FieldBuilder) Skip() *FieldBuilder {
	fb.spec.skip = true
	fb.spec.unhandled = false
	return fb
}

// Default makes the field optional, leaving it zero when the key is absent.
func (fb *FieldBuilder) Default() *FieldBuilder {
	fb.spec.Optional = true
	return fb
}

// DefaultValue makes the field optional and sets it to v when the key is
// absent. v must be assignable to the field type.
func (fb *FieldBuilder) DefaultValue(v any) *FieldBuilder {
	rv := reflect.ValueOf(v)
	if !rv.IsValid() || !rv.Type().AssignableTo(fb.spec.Type) {
		panic(fmt.Errorf("karchive: default %v (%T) is not assignable to %v.%s of type %v", v, v, fb.owner, fb.spec.Name, fb.spec.Type))
	}
	fb.spec.Optional = true
	fb.spec.Default = rv
	return fb
}

// Unhandled makes the field capture every key not claimed by other fields.
// The field must be a map[string]Value.
func (fb *FieldBuilder) Unhandled() *FieldBuilder {
	fb.spec.unhandled = true
	fb.spec.skip = false
	return fb
}

// VariantBuilder collects the alternatives of sum type I in order.
type VariantBuilder[I any] struct {
	desc *VariantDescriptor
}

// Add appends the dynamic type of sample as the next variant, named after
// that type.
func (b *VariantBuilder[I]) Add(sample I) *VariantBuilder[I] {
	typ := reflect.TypeOf(any(sample))
	if typ == nil {
		panic(fmt.Errorf("karchive: nil variant sample for %v", b.desc.Type))
	}
	name := typ.Name()
	if name == "" {
		name = typ.String()
	}
	return b.AddNamed(name, sample)
}

// AddNamed is like Add, but sets the name reported in VariantError.
func (b *VariantBuilder[I]) AddNamed(name string, sample I) *VariantBuilder[I] {
	typ := reflect.TypeOf(any(sample))
	if typ == nil {
		panic(fmt.Errorf("karchive: nil variant sample for %v", b.desc.Type))
	}
	for _, v := range b.desc.Variants {
		if v.Type == typ {
			panic(fmt.Errorf("karchive: variant %v of %v added twice", typ, b.desc.Type))
		}
	}
	b.desc.Variants = append(b.desc.Variants, VariantSpec{Name: name, Type: typ})
	return b
}
