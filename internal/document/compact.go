package document

import (
	"bufio"
	"fmt"
	"io"
	"math"

	"github.com/vmihailenco/msgpack/v5"
)

// compactCodec writes the tree as a flat MessagePack stream. Integers use
// the shortest MessagePack representation; the leading kind byte of every
// entry keeps the exact document kind so decoding is lossless.
//
//	compound := arraylen(n) { uint8(kind) string(name) value }*n
//	list     := uint8(elem) arraylen(n) value*n
type compactCodec struct{}

func (compactCodec) encode(w io.Writer, root *Compound) error {
	bw := bufio.NewWriter(w)
	enc := msgpack.NewEncoder(bw)
	if err := encodeCompactCompound(enc, root, 0); err != nil {
		return err
	}
	return bw.Flush()
}

func (compactCodec) decode(r io.Reader) (*Compound, error) {
	src := &sourceReader{r: r}
	dec := msgpack.NewDecoder(bufio.NewReader(src))
	root, err := decodeCompactCompound(dec, 0)
	if err != nil {
		return nil, src.corrupt(truncated(err))
	}
	return root, nil
}

func encodeCompactCompound(enc *msgpack.Encoder, c *Compound, depth int) error {
	if depth > maxDepth {
		return fmt.Errorf("document: nesting deeper than %d", maxDepth)
	}
	names := c.Names()
	if err := enc.EncodeArrayLen(len(names)); err != nil {
		return err
	}
	for _, name := range names {
		v := c.fields[name]
		if err := enc.EncodeUint8(uint8(v.Kind())); err != nil {
			return err
		}
		if err := enc.EncodeString(name); err != nil {
			return err
		}
		if err := encodeCompactValue(enc, v, depth+1); err != nil {
			return err
		}
	}
	return nil
}

func encodeCompactValue(enc *msgpack.Encoder, v Value, depth int) error {
	switch tv := v.(type) {
	case Bool:
		return enc.EncodeBool(bool(tv))
	case Byte:
		return enc.EncodeInt(int64(tv))
	case Char:
		return enc.EncodeUint(uint64(tv))
	case Short:
		return enc.EncodeInt(int64(tv))
	case Int:
		return enc.EncodeInt(int64(tv))
	case Long:
		return enc.EncodeInt(int64(tv))
	case Float:
		return enc.EncodeFloat32(float32(tv))
	case Double:
		return enc.EncodeFloat64(float64(tv))
	case String:
		return enc.EncodeString(string(tv))
	case ByteArray:
		if tv == nil {
			tv = ByteArray{}
		}
		return enc.EncodeBytes(tv)
	case IntArray:
		if err := enc.EncodeArrayLen(len(tv)); err != nil {
			return err
		}
		for _, n := range tv {
			if err := enc.EncodeInt(int64(n)); err != nil {
				return err
			}
		}
		return nil
	case *Compound:
		return encodeCompactCompound(enc, tv, depth)
	case *List:
		if depth > maxDepth {
			return fmt.Errorf("document: nesting deeper than %d", maxDepth)
		}
		if err := enc.EncodeUint8(uint8(tv.ElemKind())); err != nil {
			return err
		}
		if err := enc.EncodeArrayLen(len(tv.items)); err != nil {
			return err
		}
		for _, item := range tv.items {
			if err := encodeCompactValue(enc, item, depth+1); err != nil {
				return err
			}
		}
		return nil
	default:
		return fmt.Errorf("document: cannot encode %T", v)
	}
}

func decodeCompactLen(dec *msgpack.Decoder) (int, error) {
	n, err := dec.DecodeArrayLen()
	if err != nil {
		return 0, err
	}
	if n < 0 || n > maxElements {
		return 0, malformed("length %d out of range", n)
	}
	return n, nil
}

func decodeCompactCompound(dec *msgpack.Decoder, depth int) (*Compound, error) {
	if depth > maxDepth {
		return nil, malformed("nesting deeper than %d", maxDepth)
	}
	n, err := decodeCompactLen(dec)
	if err != nil {
		return nil, err
	}
	c := NewCompound()
	for i := 0; i < n; i++ {
		tag, err := dec.DecodeUint8()
		if err != nil {
			return nil, err
		}
		kind := Kind(tag)
		if !kind.valid() {
			return nil, malformed("unknown kind %d", tag)
		}
		name, err := dec.DecodeString()
		if err != nil {
			return nil, err
		}
		v, err := decodeCompactValue(dec, kind, depth+1)
		if err != nil {
			return nil, err
		}
		c.fields[name] = v
	}
	return c, nil
}

func decodeCompactInt(dec *msgpack.Decoder, lo, hi int64) (int64, error) {
	n, err := dec.DecodeInt64()
	if err != nil {
		return 0, err
	}
	if n < lo || n > hi {
		return 0, malformed("integer %d outside [%d, %d]", n, lo, hi)
	}
	return n, nil
}

func decodeCompactValue(dec *msgpack.Decoder, kind Kind, depth int) (Value, error) {
	switch kind {
	case KindBool:
		b, err := dec.DecodeBool()
		return Bool(b), err
	case KindByte:
		n, err := decodeCompactInt(dec, math.MinInt8, math.MaxInt8)
		return Byte(n), err
	case KindChar:
		n, err := dec.DecodeUint64()
		if err != nil {
			return nil, err
		}
		if n > math.MaxUint16 {
			return nil, malformed("char %d out of range", n)
		}
		return Char(n), nil
	case KindShort:
		n, err := decodeCompactInt(dec, math.MinInt16, math.MaxInt16)
		return Short(n), err
	case KindInt:
		n, err := decodeCompactInt(dec, math.MinInt32, math.MaxInt32)
		return Int(n), err
	case KindLong:
		n, err := dec.DecodeInt64()
		return Long(n), err
	case KindFloat:
		f, err := dec.DecodeFloat32()
		return Float(f), err
	case KindDouble:
		f, err := dec.DecodeFloat64()
		return Double(f), err
	case KindString:
		s, err := dec.DecodeString()
		return String(s), err
	case KindByteArray:
		b, err := dec.DecodeBytes()
		if err != nil {
			return nil, err
		}
		if len(b) > maxElements {
			return nil, malformed("byte array of %d bytes", len(b))
		}
		if b == nil {
			b = []byte{}
		}
		return ByteArray(b), nil
	case KindIntArray:
		n, err := decodeCompactLen(dec)
		if err != nil {
			return nil, err
		}
		out := make([]int32, n)
		for i := range out {
			v, err := decodeCompactInt(dec, math.MinInt32, math.MaxInt32)
			if err != nil {
				return nil, err
			}
			out[i] = int32(v)
		}
		return IntArray(out), nil
	case KindCompound:
		return decodeCompactCompound(dec, depth)
	case KindList:
		return decodeCompactList(dec, depth)
	default:
		return nil, malformed("unknown kind %d", byte(kind))
	}
}

func decodeCompactList(dec *msgpack.Decoder, depth int) (*List, error) {
	if depth > maxDepth {
		return nil, malformed("nesting deeper than %d", maxDepth)
	}
	tag, err := dec.DecodeUint8()
	if err != nil {
		return nil, err
	}
	elem := Kind(tag)
	n, err := decodeCompactLen(dec)
	if err != nil {
		return nil, err
	}
	l := NewList()
	if n == 0 {
		return l, nil
	}
	if !elem.valid() {
		return nil, malformed("list of %d elements with kind %d", n, tag)
	}
	l.elem = elem
	l.items = make([]Value, 0, min(n, 1024))
	for i := 0; i < n; i++ {
		v, err := decodeCompactValue(dec, elem, depth+1)
		if err != nil {
			return nil, err
		}
		l.items = append(l.items, v)
	}
	return l, nil
}
