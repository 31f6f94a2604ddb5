package payload

import (
	"slices"
	"sort"

	"github.com/c360/countertop/errors"
)

// Array is an ordered buffer of payloads kept sorted ascending by
// position. Payloads with equal positions keep their insertion order.
//
// Filters return a new Array and never share storage with the receiver.
// Array is not safe for concurrent use; it is owned by one appliance.
type Array struct {
	items []Payload
}

// NewArray builds an Array from payloads in any order.
func NewArray(payloads ...Payload) (*Array, error) {
	a := &Array{items: make([]Payload, 0, len(payloads))}
	for _, p := range payloads {
		if err := a.Insert(p); err != nil {
			return nil, err
		}
	}
	return a, nil
}

// Len returns the number of buffered payloads.
func (a *Array) Len() int {
	return len(a.items)
}

// Insert places p after every payload whose position is <= p's.
func (a *Array) Insert(p Payload) error {
	if !p.Valid() {
		return errors.NewValidationError("payload", "Insert", "only payloads built by New may be inserted")
	}
	i := a.IndexOfPosition(p.position, true)
	a.items = slices.Insert(a.items, i, p)
	return nil
}

// Empty removes every payload.
func (a *Array) Empty() {
	a.items = nil
}

// IndexOfPosition returns the lowest index at which a payload with
// position pos could be inserted keeping order, or the highest such index
// when returnHighest is set.
func (a *Array) IndexOfPosition(pos int64, returnHighest bool) int {
	if returnHighest {
		return sort.Search(len(a.items), func(i int) bool { return a.items[i].position > pos })
	}
	return sort.Search(len(a.items), func(i int) bool { return a.items[i].position >= pos })
}

// At returns the payload at index i.
func (a *Array) At(i int) Payload {
	return a.items[i]
}

// ToSlice returns a copy of the buffered payloads in position order.
func (a *Array) ToSlice() []Payload {
	return slices.Clone(a.items)
}

// FilterByType returns the payloads of type t.
func (a *Array) FilterByType(t string) *Array {
	return a.FilterByTypes(t)
}

// FilterByTypes returns the payloads whose type is one of types.
func (a *Array) FilterByTypes(types ...string) *Array {
	out := &Array{}
	for _, p := range a.items {
		if slices.Contains(types, p.typ) {
			out.items = append(out.items, p)
		}
	}
	return out
}

// FilterByPosition returns the payloads with start <= position < end.
func (a *Array) FilterByPosition(start, end int64) *Array {
	left := a.IndexOfPosition(start, false)
	right := a.IndexOfPosition(end, false)
	if right < left {
		right = left
	}
	return &Array{items: slices.Clone(a.items[left:right])}
}

// FilterFromPosition returns the payloads with position >= start.
func (a *Array) FilterFromPosition(start int64) *Array {
	left := a.IndexOfPosition(start, false)
	return &Array{items: slices.Clone(a.items[left:])}
}

// Position is the position of the first payload.
func (a *Array) Position() (int64, error) {
	if len(a.items) == 0 {
		return 0, errors.ErrEmptyArray
	}
	return a.items[0].position, nil
}

// Origin is the origin of the first payload.
func (a *Array) Origin() (string, error) {
	if len(a.items) == 0 {
		return "", errors.ErrEmptyArray
	}
	return a.items[0].origin, nil
}

// Duration spans from the first payload's position to the end of the
// last payload.
func (a *Array) Duration() (int64, error) {
	if len(a.items) == 0 {
		return 0, errors.ErrEmptyArray
	}
	first, last := a.items[0], a.items[len(a.items)-1]
	return last.position - first.position + last.duration, nil
}
