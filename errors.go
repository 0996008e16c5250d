package karchive

import (
	"errors"
	"fmt"
	"reflect"
	"strconv"
	"strings"
)

var (
	ErrMalformedArchive    = errors.New("malformed archive")
	ErrTypeMismatch        = errors.New("type mismatch")
	ErrMissingField        = errors.New("missing field")
	ErrNumericOverflow     = errors.New("numeric overflow")
	ErrNoMatchingVariant   = errors.New("no matching variant")
	ErrUnresolvedReference = errors.New("unresolved reference")

	// ErrDepthExceeded and ErrCycle also match ErrMalformedArchive.
	ErrDepthExceeded = fmt.Errorf("%w: maximum resolution depth exceeded", ErrMalformedArchive)
	ErrCycle         = fmt.Errorf("%w: reference cycle", ErrMalformedArchive)
)

// IOError is returned when an archive file or stream cannot be read.
type IOError struct {
	Path string
	Err  error
}

func (e *IOError) Unwrap() error { return e.Err }

func (e *IOError) Error() string {
	if e.Path == "" {
		return "karchive: read: " + e.Err.Error()
	}
	return "karchive: " + e.Path + ": " + e.Err.Error()
}

// FormatError describes a structural problem found while loading an archive.
// It always matches ErrMalformedArchive.
type FormatError struct {
	Key string // top-level key or field key, if relevant
	Ref Ref
	Msg string
	Err error

	hasRef bool
}

func formatErrf(key string, err error, format string, args ...any) error {
	return &FormatError{Key: key, Err: err, Msg: fmt.Sprintf(format, args...)}
}

func slotErrf(r Ref, key string, err error, format string, args ...any) error {
	return &FormatError{Key: key, Ref: r, Err: err, Msg: fmt.Sprintf(format, args...), hasRef: true}
}

func (e *FormatError) Is(target error) bool {
	return target == ErrMalformedArchive
}

func (e *FormatError) Unwrap() error {
	return e.Err
}

func (e *FormatError) Error() string {
	var buf strings.Builder
	buf.WriteString("malformed archive")
	if e.hasRef {
		buf.WriteString(": ")
		buf.WriteString(e.Ref.String())
	}
	if e.Key != "" {
		if e.hasRef {
			buf.WriteByte('.')
		} else {
			buf.WriteString(": ")
		}
		buf.WriteString(e.Key)
	}
	if e.Msg != "" {
		buf.WriteString(": ")
		buf.WriteString(e.Msg)
	}
	if e.Err != nil {
		buf.WriteString(": ")
		buf.WriteString(e.Err.Error())
	}
	return buf.String()
}

// DecodeError is a decode failure together with the location it happened at,
// expressed as a path of field keys and element indices from the value the
// decode started with.
type DecodeError struct {
	Path []PathElem
	Type reflect.Type
	Msg  string
	Err  error
}

// PathElem is a single step of a DecodeError path: either a key or an index.
type PathElem struct {
	Key   string
	Index int
	IsKey bool
}

func KeyElem(key string) PathElem { return PathElem{Key: key, IsKey: true} }
func IndexElem(i int) PathElem    { return PathElem{Index: i} }

func (p PathElem) String() string {
	if p.IsKey {
		return strconv.Quote(p.Key)
	}
	return strconv.Itoa(p.Index)
}

func decodeErrf(typ reflect.Type, err error, format string, args ...any) error {
	return &DecodeError{Type: typ, Err: err, Msg: fmt.Sprintf(format, args...)}
}

func mismatchf(typ reflect.Type, v Value, format string, args ...any) error {
	msg := fmt.Sprintf(format, args...)
	if msg != "" {
		msg = "got " + v.String() + ", " + msg
	} else {
		msg = "got " + v.String()
	}
	return &DecodeError{Type: typ, Err: ErrTypeMismatch, Msg: msg}
}

func (e *DecodeError) Unwrap() error { return e.Err }

// PathString renders the path like `"items"[2]."title"`.
func (e *DecodeError) PathString() string {
	var buf strings.Builder
	for i, p := range e.Path {
		if p.IsKey {
			if i > 0 {
				buf.WriteByte('.')
			}
			buf.WriteString(strconv.Quote(p.Key))
		} else {
			buf.WriteByte('[')
			buf.WriteString(strconv.Itoa(p.Index))
			buf.WriteByte(']')
		}
	}
	return buf.String()
}

func (e *DecodeError) Error() string {
	var buf strings.Builder
	if len(e.Path) > 0 {
		buf.WriteString(e.PathString())
		buf.WriteString(": ")
	}
	if e.Type != nil {
		buf.WriteString("decoding ")
		buf.WriteString(e.Type.String())
		buf.WriteString(": ")
	}
	if e.Err != nil {
		buf.WriteString(e.Err.Error())
		if e.Msg != "" {
			buf.WriteString(": ")
		}
	}
	buf.WriteString(e.Msg)
	return buf.String()
}

// atPath prefixes err's location with elem. Errors that already carry a path
// are updated in place, so a deep failure is wrapped only once.
func atPath(err error, elem PathElem) error {
	if err == nil {
		return nil
	}
	var de *DecodeError
	if errors.As(err, &de) {
		de.Path = append([]PathElem{elem}, de.Path...)
		return err
	}
	return &DecodeError{Path: []PathElem{elem}, Err: err}
}

// VariantError reports that none of the variants of a sum type could decode
// a value. Attempts are listed in declaration order.
type VariantError struct {
	Type     reflect.Type
	Attempts []VariantAttempt
}

type VariantAttempt struct {
	Name string
	Err  error
}

func (e *VariantError) Is(target error) bool {
	return target == ErrNoMatchingVariant
}

func (e *VariantError) Error() string {
	var buf strings.Builder
	buf.WriteString(ErrNoMatchingVariant.Error())
	buf.WriteString(" for ")
	buf.WriteString(e.Type.String())
	for i, a := range e.Attempts {
		if i == 0 {
			buf.WriteString(": ")
		} else {
			buf.WriteString("; ")
		}
		buf.WriteString(a.Name)
		buf.WriteString(": ")
		buf.WriteString(a.Err.Error())
	}
	return buf.String()
}
