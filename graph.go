package karchive

import (
	"fmt"
	"log/slog"
)

const (
	classKey     = "$class"
	classesKey   = "$classes"
	classNameKey = "$classname"
	nullMarker   = "$null"

	// Slots never legitimately chain references, but nothing in the format
	// forbids it either; following is bounded so a loop of bare refs is an error.
	maxIndirections = 16
)

// Graph is the arena of $objects slots. It is immutable once loaded and safe
// for concurrent use.
type Graph struct {
	slots []Value
}

func newGraph(raw any, logger *slog.Logger, verbose bool) (*Graph, error) {
	objects, ok := raw.([]any)
	if !ok {
		return nil, formatErrf(objectsKey, nil, "expected an array, got %T", raw)
	}
	n := len(objects)
	g := &Graph{slots: make([]Value, n)}

	for i, obj := range objects {
		r := Ref(i)
		v, err := loadSlot(obj, n)
		if err != nil {
			return nil, slotErrf(r, "", err, "")
		}
		if v.kind == KindClass {
			v.class.Ref = r
		}
		g.slots[i] = v
		if verbose {
			logger.Debug("karchive: slot", "ref", r.String(), "value", v.String())
		}
	}

	// Instances point at class metadata slots; resolve those now so that class
	// lookup is a field access later.
	for i := range g.slots {
		slot := &g.slots[i]
		if slot.kind != KindInstance {
			continue
		}
		cr := slot.class.Ref
		cs := &g.slots[cr]
		if cs.kind != KindClass {
			return nil, slotErrf(Ref(i), classKey, nil, "%v is a %v, not class metadata", cr, cs.kind)
		}
		slot.class = cs.class
	}

	if n > 0 && g.slots[0].kind != KindNull {
		logger.Debug("karchive: slot 0 is not $null", "value", g.slots[0].String())
	}
	return g, nil
}

// loadSlot classifies one $objects entry. Children are validated for
// reference bounds but not followed.
func loadSlot(raw any, n int) (Value, error) {
	switch x := raw.(type) {
	case string:
		if x == nullMarker {
			return Null(), nil
		}
	case map[string]any:
		if cls, ok := x[classKey]; ok {
			return loadInstance(x, cls, n)
		}
		if _, ok := x[classesKey]; ok {
			return loadClass(x)
		}
	}
	return bridge(raw, n)
}

func loadInstance(x map[string]any, cls any, n int) (Value, error) {
	cv, err := bridge(cls, n)
	if err != nil {
		return Value{}, fmt.Errorf("%s: %w", classKey, err)
	}
	cr, ok := cv.Ref()
	if !ok {
		return Value{}, fmt.Errorf("%s is %v, expected a reference", classKey, cv.kind)
	}
	fields := make(map[string]Value, len(x)-1)
	for k, e := range x {
		if k == classKey {
			continue
		}
		v, err := bridge(e, n)
		if err != nil {
			return Value{}, fmt.Errorf("%q: %w", k, err)
		}
		fields[k] = v
	}
	// Placeholder class carrying the ref; replaced by the real descriptor
	// once all slots are loaded.
	return Value{kind: KindInstance, fields: fields, class: &Class{Ref: cr}}, nil
}

func loadClass(x map[string]any) (Value, error) {
	rawClasses, ok := x[classesKey].([]any)
	if !ok {
		return Value{}, fmt.Errorf("%s is %T, expected an array", classesKey, x[classesKey])
	}
	chain := make([]string, len(rawClasses))
	for i, c := range rawClasses {
		s, ok := c.(string)
		if !ok {
			return Value{}, fmt.Errorf("%s[%d] is %T, expected a string", classesKey, i, c)
		}
		chain[i] = s
	}
	cls := &Class{Ancestors: chain}
	if name, ok := x[classNameKey]; ok {
		s, ok := name.(string)
		if !ok {
			return Value{}, fmt.Errorf("%s is %T, expected a string", classNameKey, name)
		}
		cls.Name = s
	} else if len(chain) > 0 {
		cls.Name = chain[0]
	} else {
		return Value{}, fmt.Errorf("class metadata has neither %s nor a non-empty %s", classNameKey, classesKey)
	}
	return Value{kind: KindClass, class: cls}, nil
}

func (g *Graph) Len() int {
	return len(g.slots)
}

// Get returns the slot a reference points to.
func (g *Graph) Get(r Ref) (Value, error) {
	if int(r) >= len(g.slots) {
		return Value{}, slotErrf(r, "", nil, "reference out of range (%d objects)", len(g.slots))
	}
	return g.slots[r], nil
}

// Resolve follows v if it is a reference, returning the slot content.
// Non-reference values are returned as is.
func (g *Graph) Resolve(v Value) (Value, error) {
	for i := 0; v.kind == KindRef; i++ {
		if i >= maxIndirections {
			return Value{}, slotErrf(v.ref, "", ErrCycle, "too many indirections")
		}
		var err error
		v, err = g.Get(v.ref)
		if err != nil {
			return Value{}, err
		}
	}
	return v, nil
}

// Class returns the class descriptor of v (resolving it first), or nil if v
// is not an instance.
func (g *Graph) Class(v Value) (*Class, error) {
	v, err := g.Resolve(v)
	if err != nil {
		return nil, err
	}
	if v.kind != KindInstance {
		return nil, nil
	}
	return v.class, nil
}

var (
	arrayClasses      = []string{"NSArray", "NSMutableArray", "NSSet", "NSMutableSet", "NSOrderedSet", "NSMutableOrderedSet"}
	dictionaryClasses = []string{"NSDictionary", "NSMutableDictionary"}
	stringClasses     = []string{"NSString", "NSMutableString"}
	dataClasses       = []string{"NSData", "NSMutableData"}
	dateClasses       = []string{"NSDate"}
)

const (
	nsObjectsKey = "NS.objects"
	nsKeysKey    = "NS.keys"
	nsStringKey  = "NS.string"
	nsBytesKey   = "NS.bytes"
	nsDataKey    = "NS.data"
	nsTimeKey    = "NS.time"
)

// Sequence returns the elements of v viewed as an ordered sequence: a plain
// array slot or an NSArray/NSSet/NSOrderedSet family instance. ok is false
// if v has some other shape.
func (g *Graph) Sequence(v Value) (items []Value, ok bool, err error) {
	v, err = g.Resolve(v)
	if err != nil {
		return nil, false, err
	}
	switch v.kind {
	case KindArray:
		return v.items, true, nil
	case KindInstance:
		if !v.class.IsAny(arrayClasses...) {
			return nil, false, nil
		}
		objs, found := v.fields[nsObjectsKey]
		if !found {
			return nil, false, formatErrf(nsObjectsKey, nil, "%s instance without %s", v.class.Name, nsObjectsKey)
		}
		objs, err = g.Resolve(objs)
		if err != nil {
			return nil, false, err
		}
		if objs.kind != KindArray {
			return nil, false, formatErrf(nsObjectsKey, nil, "%s is %v, expected an array", v.class.Name, objs.kind)
		}
		return objs.items, true, nil
	default:
		return nil, false, nil
	}
}

// Entry is one key/value pair of a mapping view.
type Entry struct {
	Key   Value
	Value Value
}

// Mapping returns the entries of v viewed as a mapping: a plain dict slot (in
// sorted key order) or an NSDictionary family instance (in archive order).
func (g *Graph) Mapping(v Value) (entries []Entry, ok bool, err error) {
	v, err = g.Resolve(v)
	if err != nil {
		return nil, false, err
	}
	switch v.kind {
	case KindDict:
		keys := v.Keys()
		entries = make([]Entry, len(keys))
		for i, k := range keys {
			entries[i] = Entry{Key: String(k), Value: v.fields[k]}
		}
		return entries, true, nil
	case KindInstance:
		if !v.class.IsAny(dictionaryClasses...) {
			return nil, false, nil
		}
		keys, err := g.nsArrayField(v, nsKeysKey)
		if err != nil {
			return nil, false, err
		}
		objs, err := g.nsArrayField(v, nsObjectsKey)
		if err != nil {
			return nil, false, err
		}
		if len(keys) != len(objs) {
			return nil, false, formatErrf(nsKeysKey, nil, "%s has %d keys and %d objects", v.class.Name, len(keys), len(objs))
		}
		entries = make([]Entry, len(keys))
		for i := range keys {
			entries[i] = Entry{Key: keys[i], Value: objs[i]}
		}
		return entries, true, nil
	default:
		return nil, false, nil
	}
}

func (g *Graph) nsArrayField(v Value, key string) ([]Value, error) {
	f, ok := v.fields[key]
	if !ok {
		return nil, formatErrf(key, nil, "%s instance without %s", v.class.Name, key)
	}
	f, err := g.Resolve(f)
	if err != nil {
		return nil, err
	}
	if f.kind != KindArray {
		return nil, formatErrf(key, nil, "%s is %v, expected an array", v.class.Name, f.kind)
	}
	return f.items, nil
}

// Fields returns the keyed fields of an Instance or Dict value, resolving v
// first. ok is false for other shapes.
func (g *Graph) Fields(v Value) (fields map[string]Value, cls *Class, ok bool, err error) {
	v, err = g.Resolve(v)
	if err != nil {
		return nil, nil, false, err
	}
	switch v.kind {
	case KindInstance:
		return v.fields, v.class, true, nil
	case KindDict:
		return v.fields, nil, true, nil
	default:
		return nil, nil, false, nil
	}
}

// Refs appends the references directly contained in v (without resolving
// them) to buf and returns the result. Instance class references are included.
func (g *Graph) Refs(buf []Ref, v Value) []Ref {
	switch v.kind {
	case KindRef:
		buf = append(buf, v.ref)
	case KindArray:
		for _, e := range v.items {
			buf = g.Refs(buf, e)
		}
	case KindDict, KindInstance:
		for _, k := range v.Keys() {
			buf = g.Refs(buf, v.fields[k])
		}
		if v.kind == KindInstance && v.class != nil {
			buf = append(buf, v.class.Ref)
		}
	}
	return buf
}
