// Package archivetest builds keyed archives in memory for tests.
package archivetest

import (
	"log/slog"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"testing"

	"howett.net/plist"

	"github.com/andreyvit/karchive"
)

// Builder accumulates $objects slots. Slot 0 is always "$null". Methods
// return the UID of the slot they add, to be used as field values of
// later slots.
type Builder struct {
	Archiver string
	Version  any

	objects []any
	top     map[string]any
	classes map[string]plist.UID
}

func New() *Builder {
	return &Builder{
		Archiver: karchive.DefaultArchiver,
		Version:  int64(karchive.DefaultVersion),
		objects:  []any{"$null"},
		top:      make(map[string]any),
		classes:  make(map[string]plist.UID),
	}
}

// Null is the UID of the $null slot.
const Null = plist.UID(0)

// Add appends obj as a raw slot.
func (b *Builder) Add(obj any) plist.UID {
	b.objects = append(b.objects, obj)
	return plist.UID(len(b.objects) - 1)
}

// Reserve adds a placeholder slot to be filled with Set, for objects that
// refer to themselves or to objects added after them.
func (b *Builder) Reserve() plist.UID {
	return b.Add("$placeholder")
}

func (b *Builder) Set(uid plist.UID, obj any) {
	b.objects[uid] = obj
}

func (b *Builder) Len() int {
	return len(b.objects)
}

func (b *Builder) String(s string) plist.UID { return b.Add(s) }
func (b *Builder) Data(d []byte) plist.UID   { return b.Add(d) }
func (b *Builder) Int(v int64) plist.UID     { return b.Add(v) }
func (b *Builder) Real(v float64) plist.UID  { return b.Add(v) }
func (b *Builder) Bool(v bool) plist.UID     { return b.Add(v) }

// Array adds a plain array slot.
func (b *Builder) Array(items ...any) plist.UID {
	return b.Add(items)
}

// Dict adds a plain dictionary slot (one without $class).
func (b *Builder) Dict(fields map[string]any) plist.UID {
	return b.Add(fields)
}

// Class returns the UID of the class metadata slot for chain (most-derived
// first), adding it on first use.
func (b *Builder) Class(chain ...string) plist.UID {
	key := strings.Join(chain, ",")
	if uid, ok := b.classes[key]; ok {
		return uid
	}
	classes := make([]any, len(chain))
	for i, name := range chain {
		classes[i] = name
	}
	uid := b.Add(map[string]any{
		"$classname": chain[0],
		"$classes":   classes,
	})
	b.classes[key] = uid
	return uid
}

// Instance adds an instance of the class chain with the given fields.
func (b *Builder) Instance(chain []string, fields map[string]any) plist.UID {
	uid := b.Reserve()
	b.SetInstance(uid, chain, fields)
	return uid
}

// SetInstance fills a reserved slot with an instance.
func (b *Builder) SetInstance(uid plist.UID, chain []string, fields map[string]any) {
	obj := make(map[string]any, len(fields)+1)
	for k, v := range fields {
		obj[k] = v
	}
	obj["$class"] = b.Class(chain...)
	b.Set(uid, obj)
}

func (b *Builder) NSString(s string) plist.UID {
	return b.Instance([]string{"NSString", "NSObject"}, map[string]any{"NS.string": s})
}

func (b *Builder) NSMutableString(s string) plist.UID {
	return b.Instance([]string{"NSMutableString", "NSString", "NSObject"}, map[string]any{"NS.string": s})
}

func (b *Builder) NSData(d []byte) plist.UID {
	return b.Instance([]string{"NSData", "NSObject"}, map[string]any{"NS.data": d})
}

// NSDate adds a date, sec seconds after 2001-01-01 UTC.
func (b *Builder) NSDate(sec float64) plist.UID {
	return b.Instance([]string{"NSDate", "NSObject"}, map[string]any{"NS.time": sec})
}

func (b *Builder) NSArray(items ...plist.UID) plist.UID {
	return b.Instance([]string{"NSArray", "NSObject"}, map[string]any{"NS.objects": uids(items)})
}

func (b *Builder) NSMutableArray(items ...plist.UID) plist.UID {
	return b.Instance([]string{"NSMutableArray", "NSArray", "NSObject"}, map[string]any{"NS.objects": uids(items)})
}

func (b *Builder) NSSet(items ...plist.UID) plist.UID {
	return b.Instance([]string{"NSSet", "NSObject"}, map[string]any{"NS.objects": uids(items)})
}

// NSDictionary adds a dictionary with parallel keys and values.
func (b *Builder) NSDictionary(keys, values []plist.UID) plist.UID {
	return b.Instance([]string{"NSDictionary", "NSObject"}, map[string]any{
		"NS.keys":    uids(keys),
		"NS.objects": uids(values),
	})
}

// NSDictionaryOf adds an NSDictionary with string keys, in sorted key order.
func (b *Builder) NSDictionaryOf(m map[string]plist.UID) plist.UID {
	names := make([]string, 0, len(m))
	for k := range m {
		names = append(names, k)
	}
	slices.Sort(names)
	keys := make([]plist.UID, len(names))
	values := make([]plist.UID, len(names))
	for i, k := range names {
		keys[i] = b.String(k)
		values[i] = m[k]
	}
	return b.NSDictionary(keys, values)
}

func uids(items []plist.UID) []any {
	out := make([]any, len(items))
	for i, u := range items {
		out[i] = u
	}
	return out
}

// SetRoot sets the "root" $top entry.
func (b *Builder) SetRoot(uid plist.UID) *Builder {
	return b.SetTop(karchive.DefaultRootKey, uid)
}

func (b *Builder) SetTop(name string, uid plist.UID) *Builder {
	b.top[name] = uid
	return b
}

// Tree returns the top-level archive dictionary.
func (b *Builder) Tree() map[string]any {
	tree := map[string]any{
		"$top":     b.top,
		"$objects": slices.Clone(b.objects),
	}
	if b.Archiver != "" {
		tree["$archiver"] = b.Archiver
	}
	if b.Version != nil {
		tree["$version"] = b.Version
	}
	return tree
}

func (b *Builder) Binary() []byte {
	return Encode(b.Tree(), plist.BinaryFormat)
}

func (b *Builder) XML() []byte {
	return Encode(b.Tree(), plist.XMLFormat)
}

// Encode serializes any property list value; it panics on failure.
func Encode(tree any, format int) []byte {
	return must(plist.Marshal(tree, format))
}

// WriteFile writes data into a fresh temporary directory and returns the path.
func WriteFile(t testing.TB, name string, data []byte) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	ensure(os.WriteFile(path, data, 0o644))
	return path
}

// Load parses the binary form of b, logging through t.
func (b *Builder) Load(t testing.TB, opt karchive.Options) *karchive.Archive {
	t.Helper()
	if opt.Logger == nil {
		opt.Logger = Logger(t)
	}
	a, err := karchive.FromBytes(b.Binary(), opt)
	if err != nil {
		t.Fatalf("FromBytes: %v", err)
	}
	return a
}

// Logger returns a debug-level logger that writes through t.Log.
func Logger(t testing.TB) *slog.Logger {
	return slog.New(slog.NewTextHandler(&logWriter{t}, &slog.HandlerOptions{
		AddSource: false,
		Level:     slog.LevelDebug,
	}))
}

type logWriter struct{ t testing.TB }

func (c *logWriter) Write(buf []byte) (int, error) {
	msg := string(buf)
	origLen := len(msg)
	msg = strings.TrimSuffix(msg, "\n")
	c.t.Log(msg)
	return origLen, nil
}

func must[T any](v T, err error) T {
	if err != nil {
		panic(err)
	}
	return v
}

func ensure(err error) {
	if err != nil {
		panic(err)
	}
}
