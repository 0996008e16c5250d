// Package catalog indexes keyed archives into a Bolt database: a summary
// Entry per archive, a compressed plain tree, and a content hash index.
package catalog

import (
	"bytes"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/cespare/xxhash/v2"
	"github.com/klauspost/compress/zstd"
	"go.etcd.io/bbolt"

	"github.com/andreyvit/karchive"
	"github.com/andreyvit/karchive/export"
)

const (
	entriesBucket = "entries"
	treesBucket   = "trees"
	hashesBucket  = "hashes"
)

var allBuckets = []string{entriesBucket, treesBucket, hashesBucket}

var (
	ErrNotFound  = errors.New("archive not in catalog")
	ErrEmptyName = errors.New("empty archive name")
)

type Options struct {
	// Logger defaults to slog.Default().
	Logger *slog.Logger

	// Verbose logs every indexed and deleted archive.
	Verbose bool

	IsTesting bool
	MmapSize  int

	// Now defaults to time.Now.
	Now func() time.Time
}

// Catalog is safe for concurrent use.
type Catalog struct {
	st      storage
	logger  *slog.Logger
	verbose bool
	now     func() time.Time
	zenc    *zstd.Encoder
	zdec    *zstd.Decoder
}

// Stats summarizes catalog contents.
type Stats struct {
	Entries   int
	Hashes    int
	TreeBytes int64
	Allocated int64
	Size      int64
}

// Open opens (creating if needed) a catalog stored in a Bolt file.
func Open(path string, opt Options) (*Catalog, error) {
	bopt := &bbolt.Options{}
	*bopt = *bbolt.DefaultOptions
	bopt.Timeout = 10 * time.Second
	if opt.IsTesting {
		bopt.NoSync = true
		bopt.NoFreelistSync = true
		bopt.InitialMmapSize = 1024 * 1024 * 5
	} else {
		bopt.InitialMmapSize = 1024 * 1024 * 64
		bopt.FreelistType = bbolt.FreelistMapType
	}
	if opt.MmapSize != 0 {
		bopt.InitialMmapSize = opt.MmapSize
	}

	bdb, err := bbolt.Open(path, 0666, bopt)
	if err != nil {
		return nil, fmt.Errorf("catalog: %w", err)
	}
	c, err := newCatalog(newBoltStorage(bdb), opt)
	if err != nil {
		bdb.Close()
		return nil, err
	}
	return c, nil
}

// OpenMemory returns a catalog that lives in memory until closed.
func OpenMemory(opt Options) *Catalog {
	c, err := newCatalog(newMemStorage(), opt)
	if err != nil {
		panic(err) // memory storage cannot fail to initialize
	}
	return c
}

func newCatalog(st storage, opt Options) (*Catalog, error) {
	if opt.Logger == nil {
		opt.Logger = slog.Default()
	}
	if opt.Now == nil {
		opt.Now = time.Now
	}
	zenc, err := zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedDefault))
	if err != nil {
		return nil, fmt.Errorf("catalog: zstd: %w", err)
	}
	zdec, err := zstd.NewReader(nil)
	if err != nil {
		zenc.Close()
		return nil, fmt.Errorf("catalog: zstd: %w", err)
	}
	c := &Catalog{
		st:      st,
		logger:  opt.Logger,
		verbose: opt.Verbose,
		now:     opt.Now,
		zenc:    zenc,
		zdec:    zdec,
	}
	err = c.tx(true, func(tx storageTx) error {
		for _, name := range allBuckets {
			if _, err := tx.CreateBucket(name); err != nil {
				return fmt.Errorf("catalog: bucket %s: %w", name, err)
			}
		}
		return nil
	})
	if err != nil {
		c.zenc.Close()
		c.zdec.Close()
		return nil, err
	}
	return c, nil
}

func (c *Catalog) Close() error {
	c.zenc.Close()
	c.zdec.Close()
	return c.st.Close()
}

func (c *Catalog) tx(writable bool, f func(tx storageTx) error) error {
	stx, err := c.st.BeginTx(writable)
	if err != nil {
		return fmt.Errorf("catalog: %w", err)
	}
	defer stx.Rollback()
	err = f(stx)
	if err != nil {
		return err
	}
	if writable {
		return stx.Commit()
	}
	return nil
}

// IndexFile loads the archive at path and stores it under its path.
func (c *Catalog) IndexFile(path string, opt karchive.Options) (*Entry, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, &karchive.IOError{Path: path, Err: err}
	}
	a, err := karchive.FromBytes(raw, opt)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return c.Put(path, a, raw)
}

// Put stores or replaces the archive called name. raw are the bytes a was
// loaded from; they feed the content hash and are not stored. A nil raw
// leaves the entry out of the hash index.
func (c *Catalog) Put(name string, a *karchive.Archive, raw []byte) (*Entry, error) {
	if name == "" {
		return nil, ErrEmptyName
	}
	tree, err := export.Tree(a, export.AllRoots)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", name, err)
	}
	packed, err := export.MsgPack.Marshal(tree)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", name, err)
	}
	compressed := c.zenc.EncodeAll(packed, nil)

	e := &Entry{
		Name:      name,
		Archiver:  a.Archiver(),
		Version:   a.Version().String(),
		Format:    a.Format(),
		Top:       a.Names(),
		Objects:   a.Graph().Len(),
		Classes:   a.ClassCounts(),
		Size:      len(raw),
		TreeSize:  len(compressed),
		IndexedAt: c.now().UTC(),
	}
	if raw != nil {
		e.Hash = xxhash.Sum64(raw)
	}
	if r, ok := a.Root(); ok {
		if cls, _ := a.Graph().Class(karchive.RefValue(r)); cls != nil {
			e.RootClass = cls.Name
		}
	}
	data, err := encodeEntry(e)
	if err != nil {
		return nil, err
	}

	key := []byte(name)
	err = c.tx(true, func(tx storageTx) error {
		entries := tx.Bucket(entriesBucket)
		hashes := tx.Bucket(hashesBucket)
		if old := entries.Get(key); old != nil {
			prev, err := decodeEntry(name, old)
			if err != nil {
				return err
			}
			if err := hashes.Delete(hashKey(prev.Hash, name)); err != nil {
				return err
			}
		}
		if err := entries.Put(key, data); err != nil {
			return err
		}
		if err := tx.Bucket(treesBucket).Put(key, compressed); err != nil {
			return err
		}
		if raw != nil {
			return hashes.Put(hashKey(e.Hash, name), []byte{})
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("catalog: put %q: %w", name, err)
	}
	if c.verbose {
		c.logger.Debug("catalog: indexed", "name", name, "objects", e.Objects, "root", e.RootClass, "hash", fmt.Sprintf("%016x", e.Hash))
	}
	return e, nil
}

func (c *Catalog) Get(name string) (*Entry, error) {
	var e *Entry
	err := c.tx(false, func(tx storageTx) error {
		data := tx.Bucket(entriesBucket).Get([]byte(name))
		if data == nil {
			return ErrNotFound
		}
		var err error
		e, err = decodeEntry(name, data)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("%s: %w", name, err)
	}
	return e, nil
}

// Tree returns the stored plain tree of every $top entry of the archive,
// keyed by entry name.
func (c *Catalog) Tree(name string) (any, error) {
	var packed []byte
	err := c.tx(false, func(tx storageTx) error {
		compressed := tx.Bucket(treesBucket).Get([]byte(name))
		if compressed == nil {
			return ErrNotFound
		}
		var err error
		packed, err = c.zdec.DecodeAll(compressed, nil)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("%s: %w", name, err)
	}
	var tree any
	if err := export.MsgPack.Unmarshal(packed, &tree); err != nil {
		return nil, fmt.Errorf("%s: corrupted tree: %w", name, err)
	}
	return tree, nil
}

// Delete removes the archive called name and reports whether it existed.
func (c *Catalog) Delete(name string) (bool, error) {
	var found bool
	key := []byte(name)
	err := c.tx(true, func(tx storageTx) error {
		entries := tx.Bucket(entriesBucket)
		data := entries.Get(key)
		if data == nil {
			return nil
		}
		found = true
		e, err := decodeEntry(name, data)
		if err != nil {
			return err
		}
		if err := tx.Bucket(hashesBucket).Delete(hashKey(e.Hash, name)); err != nil {
			return err
		}
		if err := tx.Bucket(treesBucket).Delete(key); err != nil {
			return err
		}
		return entries.Delete(key)
	})
	if err != nil {
		return false, fmt.Errorf("catalog: delete %q: %w", name, err)
	}
	if found && c.verbose {
		c.logger.Debug("catalog: deleted", "name", name)
	}
	return found, nil
}

// Scan calls fn for every entry whose name starts with prefix, in name
// order, until fn returns false.
func (c *Catalog) Scan(prefix string, fn func(e *Entry) bool) error {
	p := []byte(prefix)
	return c.tx(false, func(tx storageTx) error {
		cur := tx.Bucket(entriesBucket).Cursor()
		for k, v := cur.Seek(p); k != nil && bytes.HasPrefix(k, p); k, v = cur.Next() {
			e, err := decodeEntry(string(k), v)
			if err != nil {
				return err
			}
			if !fn(e) {
				break
			}
		}
		return nil
	})
}

// ByHash returns the names of archives whose raw bytes hash to sum.
func (c *Catalog) ByHash(sum uint64) ([]string, error) {
	var names []string
	p := hashPrefix(sum)
	err := c.tx(false, func(tx storageTx) error {
		cur := tx.Bucket(hashesBucket).Cursor()
		for k, _ := cur.Seek(p); k != nil && bytes.HasPrefix(k, p); k, _ = cur.Next() {
			names = append(names, string(k[len(p):]))
		}
		return nil
	})
	return names, err
}

// Lookup returns the names of archives with the same bytes as raw.
func (c *Catalog) Lookup(raw []byte) ([]string, error) {
	return c.ByHash(xxhash.Sum64(raw))
}

func (c *Catalog) Stats() (Stats, error) {
	var s Stats
	err := c.tx(false, func(tx storageTx) error {
		for _, name := range allBuckets {
			bs := tx.Bucket(name).Stats()
			s.Allocated += bs.TotalAlloc()
			switch name {
			case entriesBucket:
				s.Entries = bs.KeyN
			case hashesBucket:
				s.Hashes = bs.KeyN
			case treesBucket:
				s.TreeBytes = bs.LeafInuse
			}
		}
		s.Size = tx.Size()
		return nil
	})
	return s, err
}
