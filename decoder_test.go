package karchive_test

import (
	"errors"
	"fmt"
	"math"
	"reflect"
	"slices"
	"sync"
	"testing"
	"time"

	"howett.net/plist"

	"github.com/andreyvit/karchive"
	"github.com/andreyvit/karchive/archivetest"
)

func fixtures() map[string]*archivetest.Builder {
	return map[string]*archivetest.Builder{
		"string":      stringArchive(),
		"data":        dataArchive(),
		"simpleArray": simpleArrayArchive(),
		"simpleDict":  simpleDictArchive(),
		"circular":    circularArchive(),
		"record":      noteArchive(),
	}
}

func dataArchive() *archivetest.Builder {
	b := archivetest.New()
	b.SetRoot(b.NSData([]byte("Some data!")))
	return b
}

func simpleArrayArchive() *archivetest.Builder {
	b := archivetest.New()
	b.SetRoot(b.NSArray(
		b.String("value1"),
		b.String("value2"),
		b.NSArray(b.String("innerValue3"), b.String("innerValue4")),
	))
	return b
}

func simpleDictArchive() *archivetest.Builder {
	b := archivetest.New()
	b.SetRoot(b.NSDictionaryOf(map[string]plist.UID{
		"First key":  b.String("First value"),
		"Second key": b.String("Second value"),
		"Array key":  b.NSArray(b.Int(1), b.Int(2), b.Int(3)),
	}))
	return b
}

// circularArchive holds a mutable array whose first element is itself.
func circularArchive() *archivetest.Builder {
	b := archivetest.New()
	arr := b.Reserve()
	tail := b.String("tail")
	b.SetInstance(arr, []string{"NSMutableArray", "NSArray", "NSObject"}, map[string]any{
		"NS.objects": []any{arr, tail},
	})
	b.SetRoot(arr)
	return b
}

const noteDate = 700000000

func noteArchive() *archivetest.Builder {
	b := archivetest.New()
	b.SetRoot(b.Instance([]string{"Note", "NSObject"}, map[string]any{
		"title":     b.NSString("Hello"),
		"author":    b.String("Jane"),
		"published": true,
		"tags":      b.NSArray(b.String("a"), b.String("b")),
		"date":      b.NSDate(noteDate),
	}))
	return b
}

type note struct {
	Title       string                    `archive:"title"`
	Author      string                    `archive:"author"`
	IsPublished bool                      `archive:"published"`
	Tags        []string                  `archive:"tags"`
	Subtitle    *string                   `archive:"subtitle"`
	Extra       map[string]karchive.Value `archive:",unhandled"`
}

type item interface{ isItem() }
type stringItem string
type arrayItem []string

func (stringItem) isItem() {}
func (arrayItem) isItem()  {}

type dictValue interface{ isDictValue() }
type textValue string
type numbersValue []int64

func (textValue) isDictValue()    {}
func (numbersValue) isDictValue() {}

func testRegistry() *karchive.Registry {
	reg := karchive.NewRegistry()
	karchive.DefineVariants(reg, func(b *karchive.VariantBuilder[item]) {
		b.Add(stringItem(""))
		b.Add(arrayItem(nil))
	})
	karchive.DefineVariants(reg, func(b *karchive.VariantBuilder[dictValue]) {
		b.AddNamed("text", textValue(""))
		b.AddNamed("numbers", numbersValue(nil))
	})
	return reg
}

func TestDecode_Data(t *testing.T) {
	a := dataArchive().Load(t, karchive.Options{})
	deepEqual(t, must(karchive.DecodeRootAs[[]byte](a)), []byte("Some data!"))

	type blob []byte
	deepEqual(t, must(karchive.DecodeRootAs[blob](a)), blob("Some data!"))
}

func TestDecode_SimpleArray(t *testing.T) {
	a := simpleArrayArchive().Load(t, karchive.Options{Registry: testRegistry()})

	items, err := karchive.DecodeRootAs[[]item](a)
	if err != nil {
		t.Fatal(err)
	}
	deepEqual(t, items, []item{
		stringItem("value1"),
		stringItem("value2"),
		arrayItem{"innerValue3", "innerValue4"},
	})

	plain := must(a.PlainRoot())
	deepEqual(t, plain, any([]any{"value1", "value2", []any{"innerValue3", "innerValue4"}}))
}

func TestDecode_SimpleDict(t *testing.T) {
	a := simpleDictArchive().Load(t, karchive.Options{Registry: testRegistry()})

	m, err := karchive.DecodeRootAs[map[string]dictValue](a)
	if err != nil {
		t.Fatal(err)
	}
	deepEqual(t, m, map[string]dictValue{
		"First key":  textValue("First value"),
		"Second key": textValue("Second value"),
		"Array key":  numbersValue{1, 2, 3},
	})

	plain := must(karchive.DecodeRootAs[map[string]any](a))
	deepEqual(t, plain, map[string]any{
		"First key":  "First value",
		"Second key": "Second value",
		"Array key":  []any{int64(1), int64(2), int64(3)},
	})
}

func TestDecode_SimpleDict_AsRecord(t *testing.T) {
	type keyed struct {
		First  string  `archive:"First key"`
		Second string  `archive:"Second key"`
		Array  []uint8 `archive:"Array key"`
	}
	a := simpleDictArchive().Load(t, karchive.Options{})
	deepEqual(t, must(karchive.DecodeRootAs[keyed](a)), keyed{"First value", "Second value", []uint8{1, 2, 3}})
}

func TestDecode_Circular(t *testing.T) {
	a := circularArchive().Load(t, karchive.Options{})
	root, _ := a.Root()

	t.Run("refs", func(t *testing.T) {
		refs := must(karchive.DecodeRootAs[[]karchive.Ref](a))
		deepEqual(t, refs, []karchive.Ref{root, root + 1})
	})
	t.Run("values", func(t *testing.T) {
		values := must(karchive.DecodeRootAs[[]karchive.Value](a))
		if len(values) != 2 || !values[0].IsRef() {
			t.Fatalf("values = %v, wanted 2 with a leading ref", values)
		}
	})
	t.Run("any", func(t *testing.T) {
		v := must(karchive.DecodeRootAs[any](a))
		deepEqual(t, v, any([]any{map[string]any{karchive.BackRefKey: uint64(root)}, "tail"}))
		deepEqual(t, must(a.Plain(root)), v)
	})
	t.Run("reference-aware type", func(t *testing.T) {
		l := must(karchive.DecodeRootAs[refAwareList](a))
		deepEqual(t, l, refAwareList{Names: []string{"tail"}, BackRefs: 1})
	})
	t.Run("recursive type", func(t *testing.T) {
		type selfList []selfList
		_, err := karchive.DecodeRootAs[selfList](a)
		isErr(t, err, karchive.ErrCycle)
		isErr(t, err, karchive.ErrMalformedArchive)
		var de *karchive.DecodeError
		if !errors.As(err, &de) || de.PathString() != "[0]" {
			t.Fatalf("err = %v, wanted DecodeError at [0]", err)
		}
	})
}

// refAwareList skips elements that point back to a list being decoded.
type refAwareList struct {
	Names    []string
	BackRefs int
}

func (l *refAwareList) DecodeArchive(d *karchive.Decoder, v karchive.Value) error {
	items, ok, err := d.Graph().Sequence(v)
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("not a sequence: %v", v)
	}
	for _, item := range items {
		if r, ok := item.Ref(); ok && d.OnPath(r) {
			l.BackRefs++
			continue
		}
		var s string
		if err := d.Decode(item, &s); err != nil {
			return err
		}
		l.Names = append(l.Names, s)
	}
	return nil
}

type node interface{ isNode() }
type nodeList []node
type nodeText string
type nodeLink struct{ karchive.Link }

func (nodeList) isNode() {}
func (nodeText) isNode() {}
func (nodeLink) isNode() {}

func TestDecode_CircularVariants(t *testing.T) {
	reg := karchive.NewRegistry()
	karchive.DefineVariants(reg, func(b *karchive.VariantBuilder[node]) {
		b.AddNamed("list", nodeList(nil)).AddNamed("text", nodeText("")).AddNamed("link", nodeLink{})
	})
	a := circularArchive().Load(t, karchive.Options{Registry: reg})
	root, _ := a.Root()

	l := must(karchive.DecodeRootAs[nodeList](a))
	deepEqual(t, l, nodeList{nodeLink{karchive.Link{Ref: root}}, nodeText("tail")})

	reg = karchive.NewRegistry()
	karchive.DefineVariants(reg, func(b *karchive.VariantBuilder[node]) {
		b.AddNamed("list", nodeList(nil)).AddNamed("text", nodeText(""))
	})
	a = circularArchive().Load(t, karchive.Options{Registry: reg})
	_, err := karchive.DecodeRootAs[nodeList](a)
	var ve *karchive.VariantError
	if !errors.As(err, &ve) || len(ve.Attempts) != 2 {
		t.Fatalf("err = %v, wanted VariantError with 2 attempts", err)
	}
	isErr(t, ve.Attempts[0].Err, karchive.ErrCycle)
	isErr(t, ve.Attempts[1].Err, karchive.ErrTypeMismatch)
}

func TestLink(t *testing.T) {
	a := circularArchive().Load(t, karchive.Options{})
	root, _ := a.Root()
	deepEqual(t, must(karchive.DecodeRootAs[karchive.Link](a)), karchive.Link{Ref: root})

	var l karchive.Link
	err := a.NewDecoder().Decode(karchive.Int(1), &l)
	isErr(t, err, karchive.ErrTypeMismatch)
}

func TestDecode_Record(t *testing.T) {
	a := noteArchive().Load(t, karchive.Options{})

	n, err := karchive.DecodeRootAs[note](a)
	if err != nil {
		t.Fatal(err)
	}
	if n.Title != "Hello" || n.Author != "Jane" || !n.IsPublished {
		t.Fatalf("note = %+v", n)
	}
	deepEqual(t, n.Tags, []string{"a", "b"})
	if n.Subtitle != nil {
		t.Fatalf("Subtitle = %q, wanted nil", *n.Subtitle)
	}

	if len(n.Extra) != 1 {
		t.Fatalf("Extra = %v, wanted only date", n.Extra)
	}
	date, ok := n.Extra["date"]
	if !ok || !date.IsRef() {
		t.Fatalf("Extra[date] = %v, wanted an unresolved reference", date)
	}
	r, _ := date.Ref()
	tm := must(karchive.DecodeAs[time.Time](a, r))
	if e := karchive.ReferenceDate.Add(noteDate * time.Second); !tm.Equal(e) {
		t.Fatalf("date = %v, wanted %v", tm, e)
	}
}

func TestDecode_Record_Twice(t *testing.T) {
	a := noteArchive().Load(t, karchive.Options{})
	root, _ := a.Root()
	n1 := must(karchive.DecodeAs[note](a, root))
	n2 := must(karchive.DecodeAs[note](a, root))
	deepEqual(t, n1, n2)
}

// Decoding the same reference twice must give equal results for every fixture.
func TestDecode_Deterministic(t *testing.T) {
	for name, b := range fixtures() {
		t.Run(name, func(t *testing.T) {
			a := b.Load(t, karchive.Options{Registry: testRegistry()})
			v1 := must(a.PlainRoot())
			v2 := must(a.PlainRoot())
			if !reflect.DeepEqual(v1, v2) {
				t.Fatalf("PlainRoot differs: %v vs %v", v1, v2)
			}
		})
	}
}

func TestDecode_Unhandled_CapturesExtraKeys(t *testing.T) {
	type small struct {
		A    int64                     `archive:"a"`
		B    int64                     `archive:"b"`
		Rest map[string]karchive.Value `archive:",unhandled"`
	}
	for m := 2; m <= 6; m++ {
		b := archivetest.New()
		fields := make(map[string]any)
		for i := range m {
			fields[string(rune('a'+i))] = int64(i)
		}
		b.SetRoot(b.Dict(fields))
		a := b.Load(t, karchive.Options{})

		v := must(karchive.DecodeRootAs[small](a))
		if len(v.Rest) != m-2 {
			t.Fatalf("m=%d: len(Rest) = %d, wanted %d", m, len(v.Rest), m-2)
		}
		for k, fv := range v.Rest {
			if k == "a" || k == "b" {
				t.Fatalf("m=%d: Rest contains claimed key %q", m, k)
			}
			if n, ok := fv.Integer(); !ok || n.String() != fmt.Sprint(k[0]-'a') {
				t.Fatalf("m=%d: Rest[%q] = %v", m, k, fv)
			}
		}
	}
}

func TestDecode_NoMatchingVariant(t *testing.T) {
	a := dataArchive().Load(t, karchive.Options{Registry: testRegistry()})

	_, err := karchive.DecodeRootAs[item](a)
	isErr(t, err, karchive.ErrNoMatchingVariant)
	var ve *karchive.VariantError
	if !errors.As(err, &ve) {
		t.Fatalf("err = %T, wanted *VariantError", err)
	}
	var names []string
	for _, at := range ve.Attempts {
		names = append(names, at.Name)
		isErr(t, at.Err, karchive.ErrTypeMismatch)
	}
	deepEqual(t, names, []string{"stringItem", "arrayItem"})
}

func TestDecode_VariantAbortsOnStructuralError(t *testing.T) {
	a := simpleArrayArchive().Load(t, karchive.Options{Registry: testRegistry()})
	root, _ := a.Root()

	d := a.NewDecoder()
	d.SetMaxDepth(1)
	var it item
	err := d.DecodeRef(root, &it)
	isErr(t, err, karchive.ErrDepthExceeded)
	var ve *karchive.VariantError
	if errors.As(err, &ve) {
		t.Fatalf("err = %v, wanted the depth error itself", err)
	}
}

func TestDecode_DepthLimit(t *testing.T) {
	type nested []nested

	b := archivetest.New()
	inner := b.NSArray()
	for range 19 {
		inner = b.NSArray(inner)
	}
	b.SetRoot(inner)

	a := b.Load(t, karchive.Options{MaxDepth: 10})
	_, err := karchive.DecodeRootAs[nested](a)
	isErr(t, err, karchive.ErrDepthExceeded)
	isErr(t, err, karchive.ErrMalformedArchive)

	a = b.Load(t, karchive.Options{})
	v := must(karchive.DecodeRootAs[nested](a))
	depth := 0
	for len(v) == 1 {
		v = v[0]
		depth++
	}
	if depth != 19 {
		t.Fatalf("depth = %d, wanted 19", depth)
	}
}

func numbersArchive() *archivetest.Builder {
	b := archivetest.New()
	b.SetRoot(b.Dict(map[string]any{
		"small": int64(300),
		"neg":   int64(-1),
		"big":   uint64(math.MaxUint64),
		"real":  1.5,
		"huge":  1e300,
	}))
	return b
}

func decodeField[T any](t *testing.T, a *karchive.Archive, key string) (T, error) {
	t.Helper()
	root, _ := a.Root()
	slot := must(a.Graph().Get(root))
	fv, ok := slot.Field(key)
	if !ok {
		t.Fatalf("no field %q", key)
	}
	var result T
	err := a.NewDecoder().Decode(fv, &result)
	return result, err
}

func TestDecode_Numbers(t *testing.T) {
	a := numbersArchive().Load(t, karchive.Options{})

	if v := must(decodeField[int64](t, a, "small")); v != 300 {
		t.Fatalf("small = %d, wanted 300", v)
	}
	if v := must(decodeField[uint16](t, a, "small")); v != 300 {
		t.Fatalf("small = %d, wanted 300", v)
	}
	if v := must(decodeField[int](t, a, "neg")); v != -1 {
		t.Fatalf("neg = %d, wanted -1", v)
	}
	if v := must(decodeField[uint64](t, a, "big")); v != math.MaxUint64 {
		t.Fatalf("big = %d, wanted MaxUint64", v)
	}
	if v := must(decodeField[float32](t, a, "real")); v != 1.5 {
		t.Fatalf("real = %v, wanted 1.5", v)
	}

	_, err := decodeField[int8](t, a, "small")
	isErr(t, err, karchive.ErrNumericOverflow)
	_, err = decodeField[uint](t, a, "neg")
	isErr(t, err, karchive.ErrNumericOverflow)
	_, err = decodeField[int64](t, a, "big")
	isErr(t, err, karchive.ErrNumericOverflow)
	_, err = decodeField[float32](t, a, "huge")
	isErr(t, err, karchive.ErrNumericOverflow)

	_, err = decodeField[int](t, a, "real")
	isErr(t, err, karchive.ErrTypeMismatch)
	_, err = decodeField[float64](t, a, "small")
	isErr(t, err, karchive.ErrTypeMismatch)
	_, err = decodeField[string](t, a, "small")
	isErr(t, err, karchive.ErrTypeMismatch)
	_, err = decodeField[bool](t, a, "small")
	isErr(t, err, karchive.ErrTypeMismatch)
	_, err = decodeField[karchive.Ref](t, a, "small")
	isErr(t, err, karchive.ErrTypeMismatch)

	v := must(decodeField[karchive.Value](t, a, "real"))
	if f, ok := v.Real(); !ok || f != 1.5 {
		t.Fatalf("Value passthrough = %v, wanted 1.5", v)
	}
}

func TestDecode_MissingField(t *testing.T) {
	type member struct {
		Name string `archive:"name"`
		Age  int    `archive:"age"`
	}
	b := archivetest.New()
	b.SetRoot(b.Instance([]string{"Person", "NSObject"}, map[string]any{
		"name": b.String("Ann"),
	}))
	a := b.Load(t, karchive.Options{})

	_, err := karchive.DecodeRootAs[member](a)
	isErr(t, err, karchive.ErrMissingField)
	var de *karchive.DecodeError
	if !errors.As(err, &de) || de.PathString() != `"age"` {
		t.Fatalf("err = %v, wanted DecodeError at \"age\"", err)
	}
}

func TestDecode_NestedErrorPath(t *testing.T) {
	type holder struct {
		Tags []int `archive:"tags"`
	}
	b := archivetest.New()
	b.SetRoot(b.Dict(map[string]any{
		"tags": b.NSArray(b.Int(1), b.String("two")),
	}))
	a := b.Load(t, karchive.Options{})

	_, err := karchive.DecodeRootAs[holder](a)
	isErr(t, err, karchive.ErrTypeMismatch)
	var de *karchive.DecodeError
	if !errors.As(err, &de) {
		t.Fatalf("err = %T, wanted *DecodeError", err)
	}
	if s := de.PathString(); s != `"tags"[1]` {
		t.Fatalf("path = %s, wanted \"tags\"[1]", s)
	}
}

func TestDecode_NullAndPointers(t *testing.T) {
	type holder struct {
		Name  *string `archive:"name"`
		Count *int    `archive:"count"`
		Other string  `archive:"other"`
	}
	b := archivetest.New()
	b.SetRoot(b.Dict(map[string]any{
		"name":  archivetest.Null,
		"count": int64(3),
		"other": archivetest.Null,
	}))
	a := b.Load(t, karchive.Options{})

	_, err := karchive.DecodeRootAs[holder](a)
	isErr(t, err, karchive.ErrUnresolvedReference)

	type lenient struct {
		Name  *string `archive:"name"`
		Count *int    `archive:"count"`
	}
	v := must(karchive.DecodeRootAs[lenient](a))
	if v.Name != nil || v.Count == nil || *v.Count != 3 {
		t.Fatalf("v = %+v", v)
	}
}

type person struct {
	_    struct{} `archive:",class:Person"`
	Name string   `archive:"name"`
}

func TestDecode_StrictClass(t *testing.T) {
	b := archivetest.New()
	emp := b.Instance([]string{"Employee", "Person", "NSObject"}, map[string]any{"name": b.String("Ann")})
	nt := b.Instance([]string{"Note", "NSObject"}, map[string]any{"name": b.String("x")})
	dict := b.Dict(map[string]any{"name": b.String("Bob")})
	b.SetRoot(emp)
	a := b.Load(t, karchive.Options{})

	if p := must(karchive.DecodeAs[person](a, karchive.Ref(emp))); p.Name != "Ann" {
		t.Fatalf("Name = %q, wanted Ann", p.Name)
	}
	_, err := karchive.DecodeAs[person](a, karchive.Ref(nt))
	isErr(t, err, karchive.ErrTypeMismatch)
	if p := must(karchive.DecodeAs[person](a, karchive.Ref(dict))); p.Name != "Bob" {
		t.Fatalf("Name = %q, wanted Bob", p.Name)
	}
}

func TestDecodeInstance(t *testing.T) {
	reg := karchive.NewRegistry()
	karchive.DefineRecord[person](reg, nil)
	karchive.DefineRecord(reg, func(b *karchive.RecordBuilder[note]) {
		b.Class("Note")
	})

	b := archivetest.New()
	emp := b.Instance([]string{"Employee", "Person", "NSObject"}, map[string]any{"name": b.String("Ann")})
	other := b.Instance([]string{"Color", "NSObject"}, map[string]any{"r": 1.0})
	b.SetRoot(b.Dict(map[string]any{"owner": emp, "other": other}))
	a := b.Load(t, karchive.Options{Registry: reg})

	v := must(karchive.DecodeInstance(a, karchive.Ref(emp)))
	p, ok := v.(*person)
	if !ok || p.Name != "Ann" {
		t.Fatalf("DecodeInstance = %#v, wanted *person Ann", v)
	}

	_, err := karchive.DecodeInstance(a, karchive.Ref(other))
	isErr(t, err, karchive.ErrTypeMismatch)

	root := must(karchive.DecodeRootAs[map[string]any](a))
	if p, ok := root["owner"].(*person); !ok || p.Name != "Ann" {
		t.Fatalf("owner = %#v, wanted *person", root["owner"])
	}
	deepEqual(t, root["other"], any(map[string]any{"$class": "Color", "r": 1.0}))

	deepEqual(t, reg.Classes(), []string{"Person", "Note"})
	if typ, ok := reg.ClassType("Note"); !ok || typ != reflect.TypeFor[note]() {
		t.Fatalf("ClassType(Note) = %v, %v", typ, ok)
	}
}

func TestDecode_Foundation(t *testing.T) {
	type holder struct {
		Text    string    `archive:"text"`
		Mutable string    `archive:"mutable"`
		Blob    []byte    `archive:"blob"`
		When    time.Time `archive:"when"`
		Plain   time.Time `archive:"plain"`
		Set     []string  `archive:"set"`
		Pair    [2]string `archive:"pair"`
	}
	b := archivetest.New()
	b.SetRoot(b.Dict(map[string]any{
		"text":    b.NSString("hi"),
		"mutable": b.NSMutableString("there"),
		"blob":    b.NSData([]byte{1, 2}),
		"when":    b.NSDate(60.5),
		"plain":   b.Real(-60),
		"set":     b.NSSet(b.String("x")),
		"pair":    b.NSMutableArray(b.String("l"), b.String("r")),
	}))
	a := b.Load(t, karchive.Options{})

	v := must(karchive.DecodeRootAs[holder](a))
	if v.Text != "hi" || v.Mutable != "there" {
		t.Fatalf("strings = %q, %q", v.Text, v.Mutable)
	}
	deepEqual(t, v.Blob, []byte{1, 2})
	if e := karchive.ReferenceDate.Add(60500 * time.Millisecond); !v.When.Equal(e) {
		t.Fatalf("When = %v, wanted %v", v.When, e)
	}
	if e := karchive.ReferenceDate.Add(-time.Minute); !v.Plain.Equal(e) {
		t.Fatalf("Plain = %v, wanted %v", v.Plain, e)
	}
	deepEqual(t, v.Set, []string{"x"})
	deepEqual(t, v.Pair, [2]string{"l", "r"})

	type triple struct {
		Pair [3]string `archive:"pair"`
	}
	_, err := karchive.DecodeRootAs[triple](a)
	isErr(t, err, karchive.ErrTypeMismatch)
}

func TestDecode_Defaults(t *testing.T) {
	type settings struct {
		Name    string `archive:"name"`
		Count   int    `archive:"count"`
		Flag    bool   `archive:"flag,default"`
		Ignored string `archive:"-"`
	}
	reg := karchive.NewRegistry()
	karchive.DefineRecord(reg, func(b *karchive.RecordBuilder[settings]) {
		b.Field("Count").DefaultValue(7)
		b.Field("Name").Key("title")
	})

	b := archivetest.New()
	b.SetRoot(b.Dict(map[string]any{"title": b.String("t"), "-": b.String("nope"), "Ignored": b.String("nope")}))
	a := b.Load(t, karchive.Options{Registry: reg})

	v := must(karchive.DecodeRootAs[settings](a))
	deepEqual(t, v, settings{Name: "t", Count: 7})
}

type point struct{ X, Y int }

func (p *point) DecodeArchive(d *karchive.Decoder, v karchive.Value) error {
	var s string
	if err := d.Decode(v, &s); err != nil {
		return err
	}
	_, err := fmt.Sscanf(s, "{%d, %d}", &p.X, &p.Y)
	return err
}

func TestDecode_Decodable(t *testing.T) {
	b := archivetest.New()
	b.SetRoot(b.NSArray(b.String("{1, 2}"), b.String("{-3, 4}")))
	a := b.Load(t, karchive.Options{})
	deepEqual(t, must(karchive.DecodeRootAs[[]point](a)), []point{{1, 2}, {-3, 4}})
}

func TestDecode_Concurrent(t *testing.T) {
	a := noteArchive().Load(t, karchive.Options{})
	expected := must(karchive.DecodeRootAs[note](a))

	var wg sync.WaitGroup
	errs := make(chan error, 8)
	for range 8 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for range 50 {
				n, err := karchive.DecodeRootAs[note](a)
				if err != nil {
					errs <- err
					return
				}
				if n.Title != expected.Title || !slices.Equal(n.Tags, expected.Tags) {
					errs <- fmt.Errorf("got %+v", n)
					return
				}
			}
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		t.Fatal(err)
	}
}

func TestDecode_PanicsOnNonPointer(t *testing.T) {
	a := stringArchive().Load(t, karchive.Options{})
	d := a.NewDecoder()
	assertPanics(t, func() {
		var s string
		_ = d.Decode(karchive.String("x"), s)
	})
}
