package document

import (
	"errors"
	"fmt"
)

// ErrListKind is returned when a value of a different kind is appended to a
// non-empty list.
var ErrListKind = errors.New("document: list element kind mismatch")

// List is an ordered sequence of values of a single kind. The element kind
// is fixed by the first append and reset when the list is cleared.
type List struct {
	elem  Kind
	items []Value
}

// NewList creates an empty list
func NewList() *List {
	return &List{}
}

func (l *List) Kind() Kind { return KindList }

// ElemKind returns the kind of the elements, or KindEnd for an empty list
func (l *List) ElemKind() Kind {
	if len(l.items) == 0 {
		return KindEnd
	}
	return l.elem
}

// Len returns the number of elements
func (l *List) Len() int { return len(l.items) }

// At returns the i-th element
func (l *List) At(i int) Value { return l.items[i] }

// Add appends v to the list.
func (l *List) Add(v Value) error {
	if v == nil {
		return fmt.Errorf("%w: nil value", ErrListKind)
	}
	if len(l.items) > 0 && v.Kind() != l.elem {
		return fmt.Errorf("%w: list holds %s, got %s", ErrListKind, l.elem, v.Kind())
	}
	l.elem = v.Kind()
	l.items = append(l.items, v)
	return nil
}

// AddCompound appends a new empty compound and returns it. Calling it on a
// list of another kind is a programming error and panics.
func (l *List) AddCompound() *Compound {
	c := NewCompound()
	if err := l.Add(c); err != nil {
		panic(err)
	}
	return c
}

// CompoundAt returns the i-th element as a compound, or a detached empty
// compound when the element is of another kind or out of range.
func (l *List) CompoundAt(i int) *Compound {
	if i < 0 || i >= len(l.items) {
		return NewCompound()
	}
	if c, ok := l.items[i].(*Compound); ok {
		return c
	}
	return NewCompound()
}

// Compounds returns every compound element
func (l *List) Compounds() []*Compound {
	out := make([]*Compound, 0, len(l.items))
	for _, v := range l.items {
		if c, ok := v.(*Compound); ok {
			out = append(out, c)
		}
	}
	return out
}

// Clear removes all elements
func (l *List) Clear() {
	l.items = nil
	l.elem = KindEnd
}

// Equal reports structural equality
func (l *List) Equal(other *List) bool {
	if l == nil || other == nil {
		return l == other
	}
	if len(l.items) != len(other.items) {
		return false
	}
	for i := range l.items {
		if !Equal(l.items[i], other.items[i]) {
			return false
		}
	}
	return true
}

// Clone returns a deep copy
func (l *List) Clone() *List {
	out := &List{elem: l.elem, items: make([]Value, len(l.items))}
	for i, v := range l.items {
		out.items[i] = Clone(v)
	}
	return out
}
