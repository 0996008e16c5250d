package karchive

import (
	"fmt"
	"reflect"
	"sync"
)

// Registry holds record and variant descriptors. Descriptors derived from
// struct tags are cached here on first use; explicitly defined ones take
// precedence. A Registry is safe for concurrent use, but definitions are
// expected to happen before decoding starts.
type Registry struct {
	mu         sync.RWMutex
	records    map[reflect.Type]*RecordDescriptor
	variants   map[reflect.Type]*VariantDescriptor
	classes    map[string]reflect.Type
	classOrder []string

	derived sync.Map // reflect.Type -> *RecordDescriptor
}

func NewRegistry() *Registry {
	return &Registry{
		records:  make(map[reflect.Type]*RecordDescriptor),
		variants: make(map[reflect.Type]*VariantDescriptor),
		classes:  make(map[string]reflect.Type),
	}
}

// DefineRecord registers T as a record type, starting from the descriptor
// its struct tags produce and letting f adjust it. f may be nil. T also
// becomes the dispatch target for instances of its class.
func DefineRecord[T any](reg *Registry, f func(b *RecordBuilder[T])) *RecordDescriptor {
	typ := reflect.TypeFor[T]()
	if typ.Kind() != reflect.Struct {
		panic(fmt.Sprintf("DefineRecord(%v): T must be a struct", typ))
	}

	rd, specs := reflectRecordSpecs(typ)
	if f != nil {
		b := &RecordBuilder[T]{desc: rd, specs: specs}
		f(b)
	}
	rd.finish(specs)

	reg.mu.Lock()
	defer reg.mu.Unlock()
	reg.records[typ] = rd
	if _, dup := reg.classes[rd.Class]; !dup {
		reg.classOrder = append(reg.classOrder, rd.Class)
	}
	reg.classes[rd.Class] = typ
	return rd
}

// DefineVariants registers the ordered alternatives of interface type I.
// Decoding into I tries each variant in the order added and keeps the first
// that succeeds.
func DefineVariants[I any](reg *Registry, f func(b *VariantBuilder[I])) *VariantDescriptor {
	typ := reflect.TypeFor[I]()
	if typ.Kind() != reflect.Interface {
		panic(fmt.Sprintf("DefineVariants(%v): I must be an interface", typ))
	}
	vd := &VariantDescriptor{Type: typ}
	f(&VariantBuilder[I]{desc: vd})
	if len(vd.Variants) == 0 {
		panic(fmt.Sprintf("DefineVariants(%v): no variants", typ))
	}

	reg.mu.Lock()
	defer reg.mu.Unlock()
	reg.variants[typ] = vd
	return vd
}

// Record returns the descriptor used for struct type typ.
func (reg *Registry) Record(typ reflect.Type) *RecordDescriptor {
	reg.mu.RLock()
	rd := reg.records[typ]
	reg.mu.RUnlock()
	if rd != nil {
		return rd
	}

	if v, ok := reg.derived.Load(typ); ok {
		return v.(*RecordDescriptor)
	}
	rd = reflectRecord(typ)
	actual, _ := reg.derived.LoadOrStore(typ, rd)
	return actual.(*RecordDescriptor)
}

// Variants returns the descriptor registered for interface type typ, or nil.
func (reg *Registry) Variants(typ reflect.Type) *VariantDescriptor {
	reg.mu.RLock()
	defer reg.mu.RUnlock()
	return reg.variants[typ]
}

// ClassType returns the record type registered for a class name.
func (reg *Registry) ClassType(name string) (reflect.Type, bool) {
	reg.mu.RLock()
	defer reg.mu.RUnlock()
	typ, ok := reg.classes[name]
	return typ, ok
}

// Classes returns registered class names in registration order.
func (reg *Registry) Classes() []string {
	reg.mu.RLock()
	defer reg.mu.RUnlock()
	return append([]string(nil), reg.classOrder...)
}

// dispatch picks the registered record type for an instance class, trying
// the class itself first and then its ancestors.
func (reg *Registry) dispatch(cls *Class) (reflect.Type, bool) {
	if cls == nil {
		return nil, false
	}
	reg.mu.RLock()
	defer reg.mu.RUnlock()
	if len(reg.classes) == 0 {
		return nil, false
	}
	if typ, ok := reg.classes[cls.Name]; ok {
		return typ, true
	}
	for _, name := range cls.Ancestors {
		if typ, ok := reg.classes[name]; ok {
			return typ, true
		}
	}
	return nil, false
}
