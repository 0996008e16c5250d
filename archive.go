package karchive

import (
	"bytes"
	"fmt"
	"io"
	"log/slog"
	"os"
	"slices"

	"github.com/klauspost/compress/zstd"

	"github.com/andreyvit/karchive/mmap"
)

const (
	archiverKey = "$archiver"
	versionKey  = "$version"
	topKey      = "$top"
	objectsKey  = "$objects"

	DefaultArchiver = "NSKeyedArchiver"
	DefaultVersion  = 100000
	DefaultRootKey  = "root"
	DefaultMaxDepth = 1000
)

var zstdMagic = []byte{0x28, 0xB5, 0x2F, 0xFD}

type Options struct {
	// Logger receives debug diagnostics. Defaults to slog.Default().
	Logger *slog.Logger

	// Verbose logs every slot as it is loaded.
	Verbose bool

	// RootKey is the $top entry returned by Root. Defaults to "root".
	RootKey string

	// Registry supplies record and variant descriptors for Decode. A fresh
	// empty registry is used if nil.
	Registry *Registry

	// MaxDepth bounds reference resolution during Decode.
	MaxDepth int
}

// Archive is a loaded keyed archive. It is immutable and safe for concurrent
// use, including concurrent decoding.
type Archive struct {
	graph    *Graph
	top      map[string]Ref
	archiver string
	version  Integer
	format   string

	rootKey  string
	registry *Registry
	maxDepth int
	logger   *slog.Logger
}

// FromBytes loads an archive from binary, XML or OpenStep property list
// bytes, optionally zstd-compressed.
func FromBytes(data []byte, opt Options) (*Archive, error) {
	if bytes.HasPrefix(data, zstdMagic) {
		dec, err := zstd.NewReader(nil)
		if err != nil {
			return nil, err
		}
		defer dec.Close()
		data, err = dec.DecodeAll(data, nil)
		if err != nil {
			return nil, formatErrf("", err, "cannot decompress zstd frame")
		}
	}
	return load(data, opt)
}

// FromReader reads r to the end and loads the archive.
func FromReader(r io.Reader, opt Options) (*Archive, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, &IOError{Err: err}
	}
	return FromBytes(data, opt)
}

// FromFile maps the file into memory and loads the archive from it. Nothing
// in the returned archive refers to the mapping.
func FromFile(path string, opt Options) (*Archive, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, &IOError{Path: path, Err: err}
	}
	defer f.Close()

	st, err := f.Stat()
	if err != nil {
		return nil, &IOError{Path: path, Err: err}
	}
	size := st.Size()
	if size == 0 {
		return nil, formatErrf("", nil, "%s is empty", path)
	}
	if size > mmap.MaxSize {
		return nil, &IOError{Path: path, Err: fmt.Errorf("file too large to map (%d bytes)", size)}
	}

	data, err := mmap.Map(f, int(size), mmap.SequentialAccess)
	if err != nil {
		return nil, &IOError{Path: path, Err: err}
	}
	defer mmap.Unmap(data)

	a, err := FromBytes(data, opt)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return a, nil
}

func load(data []byte, opt Options) (*Archive, error) {
	logger := opt.Logger
	if logger == nil {
		logger = slog.Default()
	}

	raw, format, err := parsePlist(data)
	if err != nil {
		return nil, err
	}
	dict, ok := raw.(map[string]any)
	if !ok {
		return nil, formatErrf("", nil, "top-level value is %T, expected a dictionary", raw)
	}

	a := &Archive{
		format:   formatName(format),
		rootKey:  opt.RootKey,
		registry: opt.Registry,
		maxDepth: opt.MaxDepth,
		logger:   logger,
	}
	if a.rootKey == "" {
		a.rootKey = DefaultRootKey
	}
	if a.registry == nil {
		a.registry = NewRegistry()
	}
	if a.maxDepth <= 0 {
		a.maxDepth = DefaultMaxDepth
	}

	switch v := dict[archiverKey].(type) {
	case string:
		a.archiver = v
		if v != DefaultArchiver {
			logger.Debug("karchive: unexpected archiver", "archiver", v)
		}
	case nil:
		logger.Debug("karchive: no archiver")
	default:
		logger.Debug("karchive: archiver is not a string", "type", fmt.Sprintf("%T", v))
	}

	switch v := dict[versionKey].(type) {
	case int64:
		a.version = SignedInteger(v)
	case uint64:
		a.version = UnsignedInteger(v)
	case nil:
		logger.Debug("karchive: no version")
	default:
		return nil, formatErrf(versionKey, nil, "expected an integer, got %T", v)
	}

	rawObjects, ok := dict[objectsKey]
	if !ok {
		return nil, formatErrf(objectsKey, nil, "missing")
	}
	rawTop, ok := dict[topKey]
	if !ok {
		return nil, formatErrf(topKey, nil, "missing")
	}

	a.graph, err = newGraph(rawObjects, logger, opt.Verbose)
	if err != nil {
		return nil, err
	}

	topDict, ok := rawTop.(map[string]any)
	if !ok {
		return nil, formatErrf(topKey, nil, "expected a dictionary, got %T", rawTop)
	}
	a.top = make(map[string]Ref, len(topDict))
	for name, e := range topDict {
		v, err := bridge(e, a.graph.Len())
		if err != nil {
			return nil, formatErrf(topKey+"."+name, err, "")
		}
		r, ok := v.Ref()
		if !ok {
			return nil, formatErrf(topKey+"."+name, nil, "expected a reference, got %v", v.kind)
		}
		a.top[name] = r
	}

	logger.Debug("karchive: loaded", "format", a.format, "archiver", a.archiver, "version", a.version.String(), "objects", a.graph.Len(), "roots", len(a.top))
	return a, nil
}

func (a *Archive) Graph() *Graph       { return a.graph }
func (a *Archive) Archiver() string    { return a.archiver }
func (a *Archive) Version() Integer    { return a.version }
func (a *Archive) Format() string      { return a.format }
func (a *Archive) Registry() *Registry { return a.registry }

// Root returns the conventional top-level object: the $top entry named by
// Options.RootKey, or the only entry if $top has exactly one.
func (a *Archive) Root() (Ref, bool) {
	if r, ok := a.top[a.rootKey]; ok {
		return r, true
	}
	if len(a.top) == 1 {
		for _, r := range a.top {
			return r, true
		}
	}
	return 0, false
}

// Get returns a named $top entry.
func (a *Archive) Get(name string) (Ref, bool) {
	r, ok := a.top[name]
	return r, ok
}

// Names returns the sorted names of all $top entries.
func (a *Archive) Names() []string {
	names := make([]string, 0, len(a.top))
	for k := range a.top {
		names = append(names, k)
	}
	slices.Sort(names)
	return names
}
