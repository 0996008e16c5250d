package karchive

import (
	"bytes"
	"fmt"
	"reflect"
	"time"
)

// BackRefKey is the single key of the map that stands in for a reference to
// an object that is already being converted higher up the path.
const BackRefKey = "$ref"

// Plain converts the object r points to into plain Go data: nil, bool,
// int64, uint64, float64, string, []byte, time.Time, []any and
// map[string]any. Instances become maps with a "$class" entry; Foundation
// collections, strings, data and dates collapse to their natural shapes.
func (a *Archive) Plain(r Ref) (any, error) {
	return a.NewDecoder().Plain(RefValue(r))
}

// PlainRoot converts the root object, see Plain.
func (a *Archive) PlainRoot() (any, error) {
	r, ok := a.Root()
	if !ok {
		return nil, decodeErrf(nil, ErrUnresolvedReference, "no %q entry in %s", a.rootKey, topKey)
	}
	return a.Plain(r)
}

// Plain converts v into plain Go data without consulting registered
// records. See Archive.Plain.
func (d *Decoder) Plain(v Value) (any, error) {
	return d.toAny(v, false)
}

// decodeAny fills an empty interface: instances of registered classes are
// decoded into their record types (as pointers), the rest becomes plain data.
func (d *Decoder) decodeAny(v Value, rv reflect.Value) error {
	result, err := d.toAny(v, true)
	if err != nil {
		return err
	}
	if result == nil {
		rv.Set(reflect.Zero(rv.Type()))
	} else {
		rv.Set(reflect.ValueOf(result))
	}
	return nil
}

func backRef(r Ref) map[string]any {
	return map[string]any{BackRefKey: uint64(r)}
}

func (d *Decoder) toAny(v Value, typed bool) (any, error) {
	if r, ok := v.Ref(); ok {
		if d.OnPath(r) {
			return backRef(r), nil
		}
		if typed {
			cls, err := d.graph.Class(v)
			if err != nil {
				return nil, err
			}
			if typ, ok := d.reg.dispatch(cls); ok {
				ptr := reflect.New(typ)
				if err := d.decodeValue(v, ptr.Elem()); err != nil {
					return nil, err
				}
				return ptr.Interface(), nil
			}
		}
		if err := d.push(r, anyType); err != nil {
			return nil, err
		}
		defer d.pop()

		var err error
		v, err = d.graph.Get(r)
		if err != nil {
			return nil, err
		}
	}

	switch v.kind {
	case KindNull:
		return nil, nil
	case KindBool:
		return v.b, nil
	case KindInteger:
		return v.i.Any(), nil
	case KindReal:
		return v.f, nil
	case KindString:
		return v.s, nil
	case KindData:
		return bytes.Clone(v.data), nil
	case KindRef:
		// slot holding a bare reference
		return d.toAny(v, typed)
	case KindArray:
		return d.anySlice(v.items, typed)
	case KindDict:
		out := make(map[string]any, len(v.fields))
		for k, fv := range v.fields {
			x, err := d.toAny(fv, typed)
			if err != nil {
				return nil, atPath(err, KeyElem(k))
			}
			out[k] = x
		}
		return out, nil
	case KindClass:
		chain := make([]any, len(v.class.Ancestors))
		for i, name := range v.class.Ancestors {
			chain[i] = name
		}
		return map[string]any{classNameKey: v.class.Name, classesKey: chain}, nil
	case KindInstance:
		return d.instanceToAny(v, typed)
	default:
		return nil, formatErrf("", nil, "unexpected %v", v.kind)
	}
}

func (d *Decoder) anySlice(items []Value, typed bool) ([]any, error) {
	out := make([]any, len(items))
	for i, item := range items {
		x, err := d.toAny(item, typed)
		if err != nil {
			return nil, atPath(err, IndexElem(i))
		}
		out[i] = x
	}
	return out, nil
}

func (d *Decoder) instanceToAny(v Value, typed bool) (any, error) {
	cls := v.class
	switch {
	case cls.IsAny(stringClasses...):
		return d.nsString(v)
	case cls.IsAny(dataClasses...):
		b, err := d.nsData(v)
		if err != nil {
			return nil, err
		}
		return bytes.Clone(b), nil
	case cls.IsAny(dateClasses...):
		var t time.Time
		if err := d.decodeTime(v, reflect.ValueOf(&t).Elem()); err != nil {
			return nil, err
		}
		return t, nil
	case cls.IsAny(arrayClasses...):
		items, _, err := d.graph.Sequence(v)
		if err != nil {
			return nil, err
		}
		return d.anySlice(items, typed)
	case cls.IsAny(dictionaryClasses...):
		entries, _, err := d.graph.Mapping(v)
		if err != nil {
			return nil, err
		}
		out := make(map[string]any, len(entries))
		for i, e := range entries {
			k, err := d.toAny(e.Key, typed)
			if err != nil {
				return nil, atPath(err, IndexElem(i))
			}
			ks, ok := k.(string)
			if !ok {
				ks = fmt.Sprint(k)
			}
			x, err := d.toAny(e.Value, typed)
			if err != nil {
				return nil, atPath(err, KeyElem(ks))
			}
			out[ks] = x
		}
		return out, nil
	}

	out := make(map[string]any, len(v.fields)+1)
	out[classKey] = cls.Name
	for k, fv := range v.fields {
		x, err := d.toAny(fv, typed)
		if err != nil {
			return nil, atPath(err, KeyElem(k))
		}
		out[k] = x
	}
	return out, nil
}
