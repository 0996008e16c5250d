package karchive

import (
	"fmt"
	"slices"
	"strings"
)

type DumpFlags uint64

const (
	DumpHeader = DumpFlags(1 << iota)
	DumpTop
	DumpSlots
	DumpClasses

	DumpAll = DumpFlags(0xFFFFFFFFFFFFFFFF)

	indentStep = "  "
)

var (
	dumpSep1 = strings.Repeat("=", 80)
	dumpSep2 = strings.Repeat("-", 60)
)

func (f DumpFlags) Contains(v DumpFlags) bool {
	return (f & v) == v
}

// Dump renders the archive header and arena in a line-oriented form meant
// for debugging and test failure output.
func (a *Archive) Dump(f DumpFlags) string {
	var buf strings.Builder
	if f.Contains(DumpHeader) {
		fmt.Fprintln(&buf, dumpSep1)
		fmt.Fprintf(&buf, "%s v%s (%s, %d objects)\n", a.archiver, a.version.String(), a.format, a.graph.Len())
	}
	if f.Contains(DumpTop) {
		for _, name := range a.Names() {
			fmt.Fprintf(&buf, "$top.%s = %v\n", name, a.top[name])
		}
	}
	if f.Contains(DumpSlots) {
		fmt.Fprintln(&buf, dumpSep2)
		for i, slot := range a.graph.slots {
			dumpSlot(&buf, Ref(i), slot)
		}
	}
	if f.Contains(DumpClasses) {
		fmt.Fprintln(&buf, dumpSep2)
		counts := a.ClassCounts()
		names := make([]string, 0, len(counts))
		for name := range counts {
			names = append(names, name)
		}
		slices.Sort(names)
		for _, name := range names {
			fmt.Fprintf(&buf, "%s %d\n", rpad(name, 40, '.'), counts[name])
		}
	}
	return buf.String()
}

func dumpSlot(w *strings.Builder, r Ref, v Value) {
	fmt.Fprintf(w, "%s = ", r)
	switch v.kind {
	case KindArray:
		w.WriteString("[")
		for i, e := range v.items {
			if i > 0 {
				w.WriteString(", ")
			}
			w.WriteString(dumpScalar(e))
		}
		w.WriteString("]\n")
	case KindDict, KindInstance:
		if v.kind == KindInstance {
			fmt.Fprintf(w, "%s(%s) ", v.class.Name, v.class.Ref)
		}
		w.WriteString("{\n")
		for _, k := range v.Keys() {
			fmt.Fprintf(w, "%s%s: %s\n", indentStep, k, dumpScalar(v.fields[k]))
		}
		w.WriteString("}\n")
	case KindClass:
		fmt.Fprintf(w, "class %s %v\n", v.class.Name, v.class.Ancestors)
	default:
		w.WriteString(dumpScalar(v))
		w.WriteString("\n")
	}
}

func dumpScalar(v Value) string {
	if b, ok := v.Bytes(); ok {
		return "<" + hexstr(b) + ">"
	}
	return v.String()
}

// ClassCounts returns the number of instances of each class in the arena.
func (a *Archive) ClassCounts() map[string]int {
	counts := make(map[string]int)
	for _, slot := range a.graph.slots {
		if slot.kind == KindInstance {
			counts[slot.class.Name]++
		}
	}
	return counts
}
