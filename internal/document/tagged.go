package document

import (
	"bufio"
	"encoding/binary"
	"fmt"
	"io"
	"math"
)

// taggedCodec is the big-endian tag/name/payload encoding. A compound is a
// run of (tag, name, payload) entries closed by KindEnd; a list is an
// element tag, an int32 length and the bare payloads.
type taggedCodec struct{}

func (taggedCodec) encode(w io.Writer, root *Compound) error {
	bw := bufio.NewWriter(w)
	e := &taggedEncoder{w: bw}
	e.writeByte(byte(KindCompound))
	e.writeString("")
	e.writeCompound(root, 0)
	if e.err != nil {
		return e.err
	}
	return bw.Flush()
}

func (taggedCodec) decode(r io.Reader) (*Compound, error) {
	d := &taggedDecoder{r: bufio.NewReader(r)}

	tag, err := d.readByte()
	if err != nil {
		return nil, truncated(err)
	}
	if Kind(tag) != KindCompound {
		return nil, malformed("root tag is %s, want compound", Kind(tag))
	}
	if _, err := d.readString(); err != nil {
		return nil, truncated(err)
	}
	root, err := d.readCompound(0)
	if err != nil {
		return nil, truncated(err)
	}
	return root, nil
}

type taggedEncoder struct {
	w       *bufio.Writer
	scratch [8]byte
	err     error
}

func (e *taggedEncoder) writeByte(b byte) {
	if e.err != nil {
		return
	}
	e.err = e.w.WriteByte(b)
}

func (e *taggedEncoder) write(p []byte) {
	if e.err != nil {
		return
	}
	_, e.err = e.w.Write(p)
}

func (e *taggedEncoder) writeUint16(v uint16) {
	binary.BigEndian.PutUint16(e.scratch[:2], v)
	e.write(e.scratch[:2])
}

func (e *taggedEncoder) writeUint32(v uint32) {
	binary.BigEndian.PutUint32(e.scratch[:4], v)
	e.write(e.scratch[:4])
}

func (e *taggedEncoder) writeUint64(v uint64) {
	binary.BigEndian.PutUint64(e.scratch[:8], v)
	e.write(e.scratch[:8])
}

func (e *taggedEncoder) writeString(s string) {
	if len(s) > math.MaxUint16 {
		if e.err == nil {
			e.err = fmt.Errorf("document: string of %d bytes exceeds tagged limit", len(s))
		}
		return
	}
	e.writeUint16(uint16(len(s)))
	e.write([]byte(s))
}

func (e *taggedEncoder) writeCompound(c *Compound, depth int) {
	if depth > maxDepth {
		if e.err == nil {
			e.err = fmt.Errorf("document: nesting deeper than %d", maxDepth)
		}
		return
	}
	for _, name := range c.Names() {
		v := c.fields[name]
		e.writeByte(byte(v.Kind()))
		e.writeString(name)
		e.writeValue(v, depth+1)
	}
	e.writeByte(byte(KindEnd))
}

func (e *taggedEncoder) writeValue(v Value, depth int) {
	switch tv := v.(type) {
	case Bool:
		if tv {
			e.writeByte(1)
		} else {
			e.writeByte(0)
		}
	case Byte:
		e.writeByte(byte(tv))
	case Char:
		e.writeUint16(uint16(tv))
	case Short:
		e.writeUint16(uint16(tv))
	case Int:
		e.writeUint32(uint32(tv))
	case Long:
		e.writeUint64(uint64(tv))
	case Float:
		e.writeUint32(math.Float32bits(float32(tv)))
	case Double:
		e.writeUint64(math.Float64bits(float64(tv)))
	case String:
		e.writeString(string(tv))
	case ByteArray:
		e.writeUint32(uint32(len(tv)))
		e.write(tv)
	case IntArray:
		e.writeUint32(uint32(len(tv)))
		for _, n := range tv {
			e.writeUint32(uint32(n))
		}
	case *Compound:
		e.writeCompound(tv, depth)
	case *List:
		e.writeByte(byte(tv.ElemKind()))
		e.writeUint32(uint32(len(tv.items)))
		for _, item := range tv.items {
			e.writeValue(item, depth+1)
		}
	default:
		if e.err == nil {
			e.err = fmt.Errorf("document: cannot encode %T", v)
		}
	}
}

type taggedDecoder struct {
	r       *bufio.Reader
	scratch [8]byte
}

func (d *taggedDecoder) readByte() (byte, error) {
	return d.r.ReadByte()
}

func (d *taggedDecoder) readUint16() (uint16, error) {
	if _, err := io.ReadFull(d.r, d.scratch[:2]); err != nil {
		return 0, err
	}
	return binary.BigEndian.Uint16(d.scratch[:2]), nil
}

func (d *taggedDecoder) readUint32() (uint32, error) {
	if _, err := io.ReadFull(d.r, d.scratch[:4]); err != nil {
		return 0, err
	}
	return binary.BigEndian.Uint32(d.scratch[:4]), nil
}

func (d *taggedDecoder) readUint64() (uint64, error) {
	if _, err := io.ReadFull(d.r, d.scratch[:8]); err != nil {
		return 0, err
	}
	return binary.BigEndian.Uint64(d.scratch[:8]), nil
}

func (d *taggedDecoder) readString() (string, error) {
	n, err := d.readUint16()
	if err != nil {
		return "", err
	}
	buf := make([]byte, n)
	if _, err := io.ReadFull(d.r, buf); err != nil {
		return "", err
	}
	return string(buf), nil
}

func (d *taggedDecoder) readLength() (int, error) {
	n, err := d.readUint32()
	if err != nil {
		return 0, err
	}
	if int32(n) < 0 || n > maxElements {
		return 0, malformed("length %d out of range", int32(n))
	}
	return int(n), nil
}

func (d *taggedDecoder) readCompound(depth int) (*Compound, error) {
	if depth > maxDepth {
		return nil, malformed("nesting deeper than %d", maxDepth)
	}
	c := NewCompound()
	for {
		tag, err := d.readByte()
		if err != nil {
			return nil, err
		}
		kind := Kind(tag)
		if kind == KindEnd {
			return c, nil
		}
		if !kind.valid() {
			return nil, malformed("unknown tag %d", tag)
		}
		name, err := d.readString()
		if err != nil {
			return nil, err
		}
		v, err := d.readValue(kind, depth+1)
		if err != nil {
			return nil, err
		}
		c.fields[name] = v
	}
}

func (d *taggedDecoder) readValue(kind Kind, depth int) (Value, error) {
	switch kind {
	case KindBool:
		b, err := d.readByte()
		if err != nil {
			return nil, err
		}
		if b > 1 {
			return nil, malformed("bool byte %d", b)
		}
		return Bool(b == 1), nil
	case KindByte:
		b, err := d.readByte()
		return Byte(int8(b)), err
	case KindChar:
		v, err := d.readUint16()
		return Char(v), err
	case KindShort:
		v, err := d.readUint16()
		return Short(int16(v)), err
	case KindInt:
		v, err := d.readUint32()
		return Int(int32(v)), err
	case KindLong:
		v, err := d.readUint64()
		return Long(int64(v)), err
	case KindFloat:
		v, err := d.readUint32()
		return Float(math.Float32frombits(v)), err
	case KindDouble:
		v, err := d.readUint64()
		return Double(math.Float64frombits(v)), err
	case KindString:
		s, err := d.readString()
		return String(s), err
	case KindByteArray:
		n, err := d.readLength()
		if err != nil {
			return nil, err
		}
		buf := make([]byte, n)
		if _, err := io.ReadFull(d.r, buf); err != nil {
			return nil, err
		}
		return ByteArray(buf), nil
	case KindIntArray:
		n, err := d.readLength()
		if err != nil {
			return nil, err
		}
		out := make([]int32, n)
		for i := range out {
			v, err := d.readUint32()
			if err != nil {
				return nil, err
			}
			out[i] = int32(v)
		}
		return IntArray(out), nil
	case KindCompound:
		return d.readCompound(depth)
	case KindList:
		return d.readList(depth)
	default:
		return nil, malformed("unknown tag %d", byte(kind))
	}
}

func (d *taggedDecoder) readList(depth int) (*List, error) {
	if depth > maxDepth {
		return nil, malformed("nesting deeper than %d", maxDepth)
	}
	tag, err := d.readByte()
	if err != nil {
		return nil, err
	}
	elem := Kind(tag)
	n, err := d.readLength()
	if err != nil {
		return nil, err
	}
	l := NewList()
	if n == 0 {
		return l, nil
	}
	if !elem.valid() {
		return nil, malformed("list of %d elements with tag %d", n, tag)
	}
	l.elem = elem
	l.items = make([]Value, 0, min(n, 1024))
	for i := 0; i < n; i++ {
		v, err := d.readValue(elem, depth+1)
		if err != nil {
			return nil, err
		}
		l.items = append(l.items, v)
	}
	return l, nil
}
