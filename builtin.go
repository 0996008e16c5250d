package karchive

import (
	"bytes"
	"fmt"
	"math"
	"reflect"
	"time"
	"unicode/utf8"
)

var timeType = reflect.TypeFor[time.Time]()

func decodeBool(v Value, rv reflect.Value) error {
	b, ok := v.Bool()
	if !ok {
		return mismatchf(rv.Type(), v, "")
	}
	rv.SetBool(b)
	return nil
}

func decodeInt(v Value, rv reflect.Value) error {
	n, ok := v.Integer()
	if !ok {
		return mismatchf(rv.Type(), v, "")
	}
	i, ok := n.Int64()
	if !ok || rv.OverflowInt(i) {
		return decodeErrf(rv.Type(), ErrNumericOverflow, "%v", n)
	}
	rv.SetInt(i)
	return nil
}

func decodeUint(v Value, rv reflect.Value) error {
	n, ok := v.Integer()
	if !ok {
		return mismatchf(rv.Type(), v, "")
	}
	u, ok := n.Uint64()
	if !ok || rv.OverflowUint(u) {
		return decodeErrf(rv.Type(), ErrNumericOverflow, "%v", n)
	}
	rv.SetUint(u)
	return nil
}

func decodeFloat(v Value, rv reflect.Value) error {
	f, ok := v.Real()
	if !ok {
		return mismatchf(rv.Type(), v, "")
	}
	if rv.Kind() == reflect.Float32 && !math.IsInf(f, 0) && !math.IsNaN(f) && math.Abs(f) > math.MaxFloat32 {
		return decodeErrf(rv.Type(), ErrNumericOverflow, "%g", f)
	}
	rv.SetFloat(f)
	return nil
}

func (d *Decoder) decodeString(v Value, rv reflect.Value) error {
	if s, ok := v.Str(); ok {
		rv.SetString(s)
		return nil
	}
	if v.kind == KindInstance && v.class.IsAny(stringClasses...) {
		s, err := d.nsString(v)
		if err != nil {
			return err
		}
		rv.SetString(s)
		return nil
	}
	return mismatchf(rv.Type(), v, "")
}

// nsString extracts the text of an NSString family instance.
func (d *Decoder) nsString(v Value) (string, error) {
	if f, ok := v.fields[nsStringKey]; ok {
		f, err := d.graph.Resolve(f)
		if err != nil {
			return "", err
		}
		if s, ok := f.Str(); ok {
			return s, nil
		}
		return "", formatErrf(nsStringKey, nil, "%s is %v, expected a string", v.class.Name, f.kind)
	}
	if f, ok := v.fields[nsBytesKey]; ok {
		f, err := d.graph.Resolve(f)
		if err != nil {
			return "", err
		}
		b, ok := f.Bytes()
		if !ok {
			return "", formatErrf(nsBytesKey, nil, "%s is %v, expected data", v.class.Name, f.kind)
		}
		if !utf8.Valid(b) {
			return "", formatErrf(nsBytesKey, nil, "%s is not valid UTF-8", v.class.Name)
		}
		return string(b), nil
	}
	return "", formatErrf("", nil, "%s instance without %s or %s", v.class.Name, nsStringKey, nsBytesKey)
}

// nsData extracts the bytes of an NSData family instance.
func (d *Decoder) nsData(v Value) ([]byte, error) {
	f, ok := v.fields[nsDataKey]
	if !ok {
		return nil, formatErrf(nsDataKey, nil, "%s instance without %s", v.class.Name, nsDataKey)
	}
	f, err := d.graph.Resolve(f)
	if err != nil {
		return nil, err
	}
	b, ok := f.Bytes()
	if !ok {
		return nil, formatErrf(nsDataKey, nil, "%s is %v, expected data", v.class.Name, f.kind)
	}
	return b, nil
}

func (d *Decoder) decodeSlice(v Value, rv reflect.Value) error {
	typ := rv.Type()
	if typ.Elem().Kind() == reflect.Uint8 {
		var b []byte
		var ok bool
		if b, ok = v.Bytes(); !ok && v.kind == KindInstance && v.class.IsAny(dataClasses...) {
			var err error
			b, err = d.nsData(v)
			if err != nil {
				return err
			}
			ok = true
		}
		if ok {
			out := reflect.MakeSlice(typ, len(b), len(b))
			reflect.Copy(out, reflect.ValueOf(bytes.Clone(b)))
			rv.Set(out)
			return nil
		}
	}

	items, ok, err := d.graph.Sequence(v)
	if err != nil {
		return err
	}
	if !ok {
		return mismatchf(typ, v, "expected a sequence")
	}
	out := reflect.MakeSlice(typ, len(items), len(items))
	for i, item := range items {
		if err := d.decodeValue(item, out.Index(i)); err != nil {
			return atPath(err, IndexElem(i))
		}
	}
	rv.Set(out)
	return nil
}

func (d *Decoder) decodeArray(v Value, rv reflect.Value) error {
	typ := rv.Type()
	items, ok, err := d.graph.Sequence(v)
	if err != nil {
		return err
	}
	if !ok {
		return mismatchf(typ, v, "expected a sequence")
	}
	if len(items) != typ.Len() {
		return mismatchf(typ, v, "expected %d elements, got %d", typ.Len(), len(items))
	}
	for i, item := range items {
		if err := d.decodeValue(item, rv.Index(i)); err != nil {
			return atPath(err, IndexElem(i))
		}
	}
	return nil
}

func (d *Decoder) decodeMap(v Value, rv reflect.Value) error {
	typ := rv.Type()
	entries, ok, err := d.graph.Mapping(v)
	if err != nil {
		return err
	}
	if !ok {
		return mismatchf(typ, v, "expected a mapping")
	}
	out := reflect.MakeMapWithSize(typ, len(entries))
	for i, e := range entries {
		key := reflect.New(typ.Key()).Elem()
		if err := d.decodeValue(e.Key, key); err != nil {
			return atPath(err, IndexElem(i))
		}
		val := reflect.New(typ.Elem()).Elem()
		if err := d.decodeValue(e.Value, val); err != nil {
			return atPath(err, mapKeyElem(key, i))
		}
		out.SetMapIndex(key, val)
	}
	rv.Set(out)
	return nil
}

func mapKeyElem(key reflect.Value, i int) PathElem {
	if key.Kind() == reflect.String {
		return KeyElem(key.String())
	}
	if key.Type().Comparable() && key.Kind() != reflect.Interface {
		return KeyElem(fmt.Sprint(key.Interface()))
	}
	return IndexElem(i)
}

func (d *Decoder) decodeTime(v Value, rv reflect.Value) error {
	f, ok := v.Real()
	if !ok && v.kind == KindInstance && v.class.IsAny(dateClasses...) {
		tv, found := v.fields[nsTimeKey]
		if !found {
			return formatErrf(nsTimeKey, nil, "%s instance without %s", v.class.Name, nsTimeKey)
		}
		tv, err := d.graph.Resolve(tv)
		if err != nil {
			return err
		}
		if f, ok = tv.Real(); !ok {
			return formatErrf(nsTimeKey, nil, "%s is %v, expected a real", v.class.Name, tv.kind)
		}
	}
	if !ok {
		return mismatchf(rv.Type(), v, "expected a date")
	}
	t, ok := ReferenceTime(f)
	if !ok {
		return decodeErrf(rv.Type(), ErrNumericOverflow, "%g seconds", f)
	}
	rv.Set(reflect.ValueOf(t))
	return nil
}

// ReferenceTime converts seconds since ReferenceDate into a UTC time. ok is
// false for NaN, infinities and values outside the int64 seconds range.
func ReferenceTime(sec float64) (time.Time, bool) {
	if math.IsNaN(sec) || math.IsInf(sec, 0) || math.Abs(sec) > 1<<62 {
		return time.Time{}, false
	}
	whole := math.Floor(sec)
	nsec := int64(math.Round((sec - whole) * 1e9))
	return time.Unix(ReferenceDate.Unix()+int64(whole), nsec).UTC(), true
}
