package catalog

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"time"

	"github.com/vmihailenco/msgpack/v5"
)

// Entry describes one indexed archive.
type Entry struct {
	Name      string         `msgpack:"n"`
	Archiver  string         `msgpack:"a"`
	Version   string         `msgpack:"v"`
	Format    string         `msgpack:"f"`
	RootClass string         `msgpack:"rc,omitempty"`
	Top       []string       `msgpack:"top"`
	Objects   int            `msgpack:"o"`
	Classes   map[string]int `msgpack:"cls,omitempty"`
	Hash      uint64         `msgpack:"h"`
	Size      int            `msgpack:"sz"`
	TreeSize  int            `msgpack:"tsz"`
	IndexedAt time.Time      `msgpack:"t"`
}

func (e *Entry) String() string {
	return fmt.Sprintf("%s: %s v%s %s root=%s objects=%d hash=%016x", e.Name, e.Archiver, e.Version, e.Format, e.RootClass, e.Objects, e.Hash)
}

func encodeEntry(e *Entry) ([]byte, error) {
	var buf bytes.Buffer
	enc := msgpack.GetEncoder()
	enc.Reset(&buf)
	enc.SetSortMapKeys(true)
	err := enc.Encode(e)
	msgpack.PutEncoder(enc)
	if err != nil {
		return nil, fmt.Errorf("failed to encode entry %q: %w", e.Name, err)
	}
	return buf.Bytes(), nil
}

func decodeEntry(name string, data []byte) (*Entry, error) {
	var r bytes.Reader
	r.Reset(data)
	dec := msgpack.GetDecoder()
	dec.Reset(&r)
	e := new(Entry)
	err := dec.Decode(e)
	msgpack.PutDecoder(dec)
	if err != nil {
		return nil, fmt.Errorf("corrupted entry %q: %w", name, err)
	}
	return e, nil
}

// hashKey is the 8-byte big-endian hash followed by the entry name, so that
// a prefix scan on the hash finds every archive with identical bytes.
func hashKey(sum uint64, name string) []byte {
	k := make([]byte, 8, 8+len(name))
	binary.BigEndian.PutUint64(k, sum)
	return append(k, name...)
}

func hashPrefix(sum uint64) []byte {
	return binary.BigEndian.AppendUint64(nil, sum)
}
