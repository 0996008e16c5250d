// Package export renders keyed archives as JSON, YAML, MessagePack or CBOR
// via their plain tree form.
package export

import (
	"fmt"

	"github.com/andreyvit/karchive"
)

// AllRoots selects every $top entry, rendered as a map keyed by entry name.
const AllRoots = "*"

// Tree returns the plain tree of the $top entry called name. An empty name
// selects the archive root, AllRoots selects every entry.
func Tree(a *karchive.Archive, name string) (any, error) {
	switch name {
	case "":
		return a.PlainRoot()
	case AllRoots:
		all := make(map[string]any)
		for _, n := range a.Names() {
			r, _ := a.Get(n)
			v, err := a.Plain(r)
			if err != nil {
				return nil, fmt.Errorf("%s: %w", n, err)
			}
			all[n] = v
		}
		return all, nil
	default:
		r, ok := a.Get(name)
		if !ok {
			return nil, fmt.Errorf("no $top entry %q (have %v)", name, a.Names())
		}
		return a.Plain(r)
	}
}

// Archive renders the selected $top entry (see Tree) with c.
func Archive(a *karchive.Archive, name string, c Codec) ([]byte, error) {
	v, err := Tree(a, name)
	if err != nil {
		return nil, err
	}
	data, err := c.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", c.Name(), err)
	}
	return data, nil
}
