package karchive

import (
	"errors"
	"log/slog"
	"testing"
	"time"

	"howett.net/plist"
)

func mustGraph(t *testing.T, objects ...any) *Graph {
	t.Helper()
	g, err := newGraph(objects, slog.Default(), false)
	if err != nil {
		t.Fatalf("newGraph: %v", err)
	}
	return g
}

func nsClass(chain ...any) map[string]any {
	return map[string]any{"$classname": chain[0], "$classes": chain}
}

func TestGraph_Classification(t *testing.T) {
	g := mustGraph(t,
		"$null",
		map[string]any{"$class": plist.UID(2), "NS.objects": []any{plist.UID(3), plist.UID(4)}},
		nsClass("NSMutableArray", "NSArray", "NSObject"),
		"x",
		map[string]any{"k": int64(1)},
	)

	if g.Len() != 5 {
		t.Fatalf("Len() = %d, wanted 5", g.Len())
	}
	kinds := []Kind{KindNull, KindInstance, KindClass, KindString, KindDict}
	for i, e := range kinds {
		v, err := g.Get(Ref(i))
		if err != nil {
			t.Fatal(err)
		}
		if v.Kind() != e {
			t.Fatalf("slot %d kind = %v, wanted %v", i, v.Kind(), e)
		}
	}

	cls, err := g.Class(RefValue(1))
	if err != nil || cls == nil || cls.Name != "NSMutableArray" || cls.Ref != 2 {
		t.Fatalf("Class(@1) = %v, %v", cls, err)
	}
	if cls, _ := g.Class(RefValue(3)); cls != nil {
		t.Fatalf("Class(@3) = %v, wanted nil", cls)
	}

	items, ok, err := g.Sequence(RefValue(1))
	if err != nil || !ok || len(items) != 2 {
		t.Fatalf("Sequence(@1) = %v, %v, %v", items, ok, err)
	}
	if _, ok, _ := g.Sequence(RefValue(4)); ok {
		t.Fatalf("Sequence(@4) ok, wanted not a sequence")
	}

	if _, err := g.Get(Ref(5)); !errors.Is(err, ErrMalformedArchive) {
		t.Fatalf("Get(@5) err = %v, wanted malformed", err)
	}
}

func TestGraph_ClassNameFallsBackToChain(t *testing.T) {
	g := mustGraph(t, "$null", map[string]any{"$classes": []any{"Foo", "NSObject"}})
	v, _ := g.Get(1)
	cls, ok := v.Class()
	if !ok || cls.Name != "Foo" {
		t.Fatalf("class = %v, wanted Foo", cls)
	}
}

func TestGraph_Mapping(t *testing.T) {
	g := mustGraph(t,
		"$null",
		map[string]any{"$class": plist.UID(2), "NS.keys": []any{plist.UID(3)}, "NS.objects": []any{plist.UID(4)}},
		nsClass("NSDictionary", "NSObject"),
		"key",
		"value",
		map[string]any{"$class": plist.UID(2), "NS.keys": []any{plist.UID(3)}, "NS.objects": []any{}},
	)
	entries, ok, err := g.Mapping(RefValue(1))
	if err != nil || !ok || len(entries) != 1 {
		t.Fatalf("Mapping(@1) = %v, %v, %v", entries, ok, err)
	}
	if k, _ := entries[0].Key.Ref(); k != 3 {
		t.Fatalf("key = %v, wanted @3", entries[0].Key)
	}
	_, _, err = g.Mapping(RefValue(5))
	if !errors.Is(err, ErrMalformedArchive) {
		t.Fatalf("Mapping(@5) err = %v, wanted malformed", err)
	}
}

func TestGraph_Refs(t *testing.T) {
	g := mustGraph(t,
		"$null",
		map[string]any{"$class": plist.UID(2), "a": plist.UID(3), "b": []any{plist.UID(3), int64(1)}},
		nsClass("Thing"),
		"x",
	)
	v, _ := g.Get(1)
	refs := g.Refs(nil, v)
	if len(refs) != 3 || refs[0] != 3 || refs[1] != 3 || refs[2] != 2 {
		t.Fatalf("Refs = %v, wanted [@3 @3 @2]", refs)
	}
}

func TestGraph_Resolve_Chain(t *testing.T) {
	g := mustGraph(t, "$null", plist.UID(2), plist.UID(1))
	_, err := g.Resolve(RefValue(1))
	if !errors.Is(err, ErrCycle) {
		t.Fatalf("Resolve(loop) err = %v, wanted ErrCycle", err)
	}
}

func TestBridge(t *testing.T) {
	v, err := bridge(ReferenceDate.Add(90*time.Second), 0)
	if f, ok := v.Real(); err != nil || !ok || f != 90 {
		t.Fatalf("bridge(date) = %v, %v", v, err)
	}
	if _, err := bridge(plist.UID(1), 1); err == nil {
		t.Fatalf("bridge(UID out of range) succeeded")
	}
	if _, err := bridge(struct{}{}, 0); err == nil {
		t.Fatalf("bridge(struct) succeeded")
	}
	v, _ = bridge(float32(0.5), 0)
	if f, _ := v.Real(); f != 0.5 {
		t.Fatalf("bridge(float32) = %v", v)
	}
}

func TestReferenceTime(t *testing.T) {
	tm, ok := ReferenceTime(-0.25)
	if !ok || !tm.Equal(ReferenceDate.Add(-250*time.Millisecond)) {
		t.Fatalf("ReferenceTime(-0.25) = %v, %v", tm, ok)
	}
	if _, ok := ReferenceTime(1e300); ok {
		t.Fatalf("ReferenceTime(1e300) ok")
	}
}
