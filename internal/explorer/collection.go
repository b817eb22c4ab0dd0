package explorer

import (
	orderedmap "github.com/wk8/go-ordered-map/v2"
)

// Collection is an ordered set of nodes, unique by identity.
//
// Two elements match when they are the same pointer or when they wrap the same
// identity string; the same physical entity may be represented by two wrapper
// instances while a state transition is in flight. Collection is not safe for
// concurrent use; callers hold the Central lock.
type Collection[T comparable] struct {
	key   func(T) string
	items *orderedmap.OrderedMap[string, T]
}

func newCollection[T comparable](key func(T) string) *Collection[T] {
	return &Collection[T]{
		key:   key,
		items: orderedmap.New[string, T](),
	}
}

func (c *Collection[T]) matches(a, b T) bool {
	return a == b || c.key(a) == c.key(b)
}

// Len returns the number of elements.
func (c *Collection[T]) Len() int {
	return c.items.Len()
}

// Items returns a snapshot of the elements in insertion order.
func (c *Collection[T]) Items() []T {
	out := make([]T, 0, c.items.Len())
	for pair := c.items.Oldest(); pair != nil; pair = pair.Next() {
		out = append(out, pair.Value)
	}
	return out
}

// Get looks an element up by identity.
func (c *Collection[T]) Get(identity string) (T, bool) {
	return c.items.Get(identity)
}

// Contains reports whether an element matching v is present.
func (c *Collection[T]) Contains(v T) bool {
	existing, ok := c.items.Get(c.key(v))
	return ok && c.matches(existing, v)
}

// Append adds v at the end. Returns false, leaving the collection unchanged,
// when an element with the same identity is already present.
func (c *Collection[T]) Append(v T) bool {
	k := c.key(v)
	if _, ok := c.items.Get(k); ok {
		return false
	}
	c.items.Set(k, v)
	return true
}

// Remove deletes the element matching v and returns it.
func (c *Collection[T]) Remove(v T) (T, bool) {
	k := c.key(v)
	existing, ok := c.items.Get(k)
	if !ok || !c.matches(existing, v) {
		var zero T
		return zero, false
	}
	c.items.Delete(k)
	return existing, true
}

// IndexOf returns the position of the element matching v, or -1.
func (c *Collection[T]) IndexOf(v T) int {
	i := 0
	for pair := c.items.Oldest(); pair != nil; pair = pair.Next() {
		if c.matches(pair.Value, v) {
			return i
		}
		i++
	}
	return -1
}

// Clear removes every element.
func (c *Collection[T]) Clear() {
	c.items = orderedmap.New[string, T]()
}
