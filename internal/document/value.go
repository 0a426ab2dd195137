// Package document provides a format-agnostic tree of named fields used for
// every piece of persisted world state.
//
// A Document wraps a root Compound and remembers which concrete encoding it
// serializes to. Two encodings exist: FormatTagged, a big-endian
// tag/name/payload binary layout, and FormatCompact, a MessagePack based
// sequential encoding. Both round-trip every value the tree can hold.
//
// Lookups never fail: Get<Kind> returns a zero default when a field is
// absent or holds another kind, so readers keep working when the format
// evolves. Opt<Kind> reports presence explicitly for callers that must tell
// "missing" apart from "zero".
package document

import (
	"bytes"
	"fmt"
	"math"
)

// Kind identifies the type of a Value. The numeric values are the tag bytes
// of the tagged encoding and must never change.
type Kind byte

const (
	KindEnd Kind = iota
	KindByte
	KindShort
	KindInt
	KindLong
	KindFloat
	KindDouble
	KindByteArray
	KindString
	KindList
	KindCompound
	KindIntArray
	KindBool
	KindChar
)

// String returns the string representation of the kind
func (k Kind) String() string {
	switch k {
	case KindEnd:
		return "end"
	case KindByte:
		return "byte"
	case KindShort:
		return "short"
	case KindInt:
		return "int"
	case KindLong:
		return "long"
	case KindFloat:
		return "float"
	case KindDouble:
		return "double"
	case KindByteArray:
		return "byte[]"
	case KindString:
		return "string"
	case KindList:
		return "list"
	case KindCompound:
		return "compound"
	case KindIntArray:
		return "int[]"
	case KindBool:
		return "bool"
	case KindChar:
		return "char"
	default:
		return fmt.Sprintf("kind(%d)", byte(k))
	}
}

func (k Kind) valid() bool {
	return k > KindEnd && k <= KindChar
}

// Value is any node of a document tree.
type Value interface {
	Kind() Kind
}

type (
	Bool      bool
	Byte      int8
	Char      uint16
	Short     int16
	Int       int32
	Long      int64
	Float     float32
	Double    float64
	String    string
	ByteArray []byte
	IntArray  []int32
)

func (Bool) Kind() Kind      { return KindBool }
func (Byte) Kind() Kind      { return KindByte }
func (Char) Kind() Kind      { return KindChar }
func (Short) Kind() Kind     { return KindShort }
func (Int) Kind() Kind       { return KindInt }
func (Long) Kind() Kind      { return KindLong }
func (Float) Kind() Kind     { return KindFloat }
func (Double) Kind() Kind    { return KindDouble }
func (String) Kind() Kind    { return KindString }
func (ByteArray) Kind() Kind { return KindByteArray }
func (IntArray) Kind() Kind  { return KindIntArray }

// Equal reports whether two values are structurally equal. Arrays compare
// by content, so a nil array equals an empty one. Floating point values
// compare by bit pattern so NaN payloads survive a round trip check.
func Equal(a, b Value) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	if a.Kind() != b.Kind() {
		return false
	}

	switch av := a.(type) {
	case Float:
		return math.Float32bits(float32(av)) == math.Float32bits(float32(b.(Float)))
	case Double:
		return math.Float64bits(float64(av)) == math.Float64bits(float64(b.(Double)))
	case ByteArray:
		return bytes.Equal(av, b.(ByteArray))
	case IntArray:
		bv := b.(IntArray)
		if len(av) != len(bv) {
			return false
		}
		for i := range av {
			if av[i] != bv[i] {
				return false
			}
		}
		return true
	case *Compound:
		return av.Equal(b.(*Compound))
	case *List:
		return av.Equal(b.(*List))
	default:
		return a == b
	}
}

// Clone returns a deep copy of v.
func Clone(v Value) Value {
	switch tv := v.(type) {
	case ByteArray:
		out := make(ByteArray, len(tv))
		copy(out, tv)
		return out
	case IntArray:
		out := make(IntArray, len(tv))
		copy(out, tv)
		return out
	case *Compound:
		return tv.Clone()
	case *List:
		return tv.Clone()
	default:
		return v
	}
}
