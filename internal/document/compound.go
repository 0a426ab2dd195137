package document

import (
	"sort"
)

// Compound is a set of uniquely named values. Putting a value under an
// existing name replaces it, whatever its previous kind.
type Compound struct {
	fields map[string]Value
}

// NewCompound creates an empty compound
func NewCompound() *Compound {
	return &Compound{fields: make(map[string]Value)}
}

func (c *Compound) Kind() Kind { return KindCompound }

// Len returns the number of fields
func (c *Compound) Len() int { return len(c.fields) }

// Names returns the field names in sorted order
func (c *Compound) Names() []string {
	names := make([]string, 0, len(c.fields))
	for name := range c.fields {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Has reports whether a field with the given name exists
func (c *Compound) Has(name string) bool {
	_, ok := c.fields[name]
	return ok
}

// Get returns the raw value stored under name
func (c *Compound) Get(name string) (Value, bool) {
	v, ok := c.fields[name]
	return v, ok
}

// Put stores v under name. A nil value removes the field.
func (c *Compound) Put(name string, v Value) {
	if v == nil {
		delete(c.fields, name)
		return
	}
	if c.fields == nil {
		c.fields = make(map[string]Value)
	}
	c.fields[name] = v
}

// Remove deletes the named field
func (c *Compound) Remove(name string) {
	delete(c.fields, name)
}

// CreateCompound inserts (or replaces) an empty compound and returns it.
func (c *Compound) CreateCompound(name string) *Compound {
	child := NewCompound()
	c.Put(name, child)
	return child
}

// CreateList inserts (or replaces) an empty list and returns it.
func (c *Compound) CreateList(name string) *List {
	child := NewList()
	c.Put(name, child)
	return child
}

func (c *Compound) PutBool(name string, v bool)          { c.Put(name, Bool(v)) }
func (c *Compound) PutByte(name string, v int8)          { c.Put(name, Byte(v)) }
func (c *Compound) PutChar(name string, v uint16)        { c.Put(name, Char(v)) }
func (c *Compound) PutShort(name string, v int16)        { c.Put(name, Short(v)) }
func (c *Compound) PutInt(name string, v int32)          { c.Put(name, Int(v)) }
func (c *Compound) PutLong(name string, v int64)         { c.Put(name, Long(v)) }
func (c *Compound) PutFloat(name string, v float32)      { c.Put(name, Float(v)) }
func (c *Compound) PutDouble(name string, v float64)     { c.Put(name, Double(v)) }
func (c *Compound) PutString(name string, v string)      { c.Put(name, String(v)) }
func (c *Compound) PutByteArray(name string, v []byte)   { c.Put(name, ByteArray(v)) }
func (c *Compound) PutIntArray(name string, v []int32)   { c.Put(name, IntArray(v)) }
func (c *Compound) PutCompound(name string, v *Compound) { c.Put(name, v) }
func (c *Compound) PutList(name string, v *List)         { c.Put(name, v) }

// Opt accessors report whether the field exists with the requested kind.

func (c *Compound) OptBool(name string) (bool, bool) {
	v, ok := c.fields[name].(Bool)
	return bool(v), ok
}

func (c *Compound) OptByte(name string) (int8, bool) {
	v, ok := c.fields[name].(Byte)
	return int8(v), ok
}

func (c *Compound) OptChar(name string) (uint16, bool) {
	v, ok := c.fields[name].(Char)
	return uint16(v), ok
}

func (c *Compound) OptShort(name string) (int16, bool) {
	v, ok := c.fields[name].(Short)
	return int16(v), ok
}

func (c *Compound) OptInt(name string) (int32, bool) {
	v, ok := c.fields[name].(Int)
	return int32(v), ok
}

func (c *Compound) OptLong(name string) (int64, bool) {
	v, ok := c.fields[name].(Long)
	return int64(v), ok
}

func (c *Compound) OptFloat(name string) (float32, bool) {
	v, ok := c.fields[name].(Float)
	return float32(v), ok
}

func (c *Compound) OptDouble(name string) (float64, bool) {
	v, ok := c.fields[name].(Double)
	return float64(v), ok
}

func (c *Compound) OptString(name string) (string, bool) {
	v, ok := c.fields[name].(String)
	return string(v), ok
}

func (c *Compound) OptByteArray(name string) ([]byte, bool) {
	v, ok := c.fields[name].(ByteArray)
	return []byte(v), ok
}

func (c *Compound) OptIntArray(name string) ([]int32, bool) {
	v, ok := c.fields[name].(IntArray)
	return []int32(v), ok
}

func (c *Compound) OptCompound(name string) (*Compound, bool) {
	v, ok := c.fields[name].(*Compound)
	return v, ok
}

func (c *Compound) OptList(name string) (*List, bool) {
	v, ok := c.fields[name].(*List)
	return v, ok
}

// Get accessors return the zero value when the field is missing or holds
// another kind. They never panic.

func (c *Compound) GetBool(name string) bool {
	v, _ := c.OptBool(name)
	return v
}

func (c *Compound) GetByte(name string) int8 {
	v, _ := c.OptByte(name)
	return v
}

func (c *Compound) GetChar(name string) uint16 {
	v, _ := c.OptChar(name)
	return v
}

func (c *Compound) GetShort(name string) int16 {
	v, _ := c.OptShort(name)
	return v
}

func (c *Compound) GetInt(name string) int32 {
	v, _ := c.OptInt(name)
	return v
}

func (c *Compound) GetLong(name string) int64 {
	v, _ := c.OptLong(name)
	return v
}

func (c *Compound) GetFloat(name string) float32 {
	v, _ := c.OptFloat(name)
	return v
}

func (c *Compound) GetDouble(name string) float64 {
	v, _ := c.OptDouble(name)
	return v
}

func (c *Compound) GetString(name string) string {
	v, _ := c.OptString(name)
	return v
}

// GetByteArray returns the stored array or an empty one
func (c *Compound) GetByteArray(name string) []byte {
	if v, ok := c.OptByteArray(name); ok {
		return v
	}
	return []byte{}
}

// GetIntArray returns the stored array or an empty one
func (c *Compound) GetIntArray(name string) []int32 {
	if v, ok := c.OptIntArray(name); ok {
		return v
	}
	return []int32{}
}

// GetCompound returns the named compound, or a detached empty compound so
// chained lookups stay safe.
func (c *Compound) GetCompound(name string) *Compound {
	if v, ok := c.OptCompound(name); ok {
		return v
	}
	return NewCompound()
}

// GetList returns the named list, or a detached empty list.
func (c *Compound) GetList(name string) *List {
	if v, ok := c.OptList(name); ok {
		return v
	}
	return NewList()
}

// Equal reports structural equality
func (c *Compound) Equal(other *Compound) bool {
	if c == nil || other == nil {
		return c == other
	}
	if len(c.fields) != len(other.fields) {
		return false
	}
	for name, v := range c.fields {
		ov, ok := other.fields[name]
		if !ok || !Equal(v, ov) {
			return false
		}
	}
	return true
}

// Clone returns a deep copy
func (c *Compound) Clone() *Compound {
	out := &Compound{fields: make(map[string]Value, len(c.fields))}
	for name, v := range c.fields {
		out.fields[name] = Clone(v)
	}
	return out
}
