package cache

// Element is a node of a List. It records its key so owners can find the map
// entry for the oldest element in O(1).
type Element[K comparable] struct {
	key  K
	prev *Element[K]
	next *Element[K]
	list *List[K]
}

// Key returns the key stored in the element.
func (e *Element[K]) Key() K { return e.key }

// Newer returns the next more recently used element, or nil.
func (e *Element[K]) Newer() *Element[K] { return e.prev }

// List is an intrusive doubly-linked recency list. The front is the most
// recently used key, the back the least recently used.
//
// List is not thread-safe; callers must handle synchronization.
type List[K comparable] struct {
	front *Element[K]
	back  *Element[K]
	len   int
}

// NewList creates an empty recency list.
func NewList[K comparable]() *List[K] {
	return &List[K]{}
}

// Len returns the number of elements in the list.
func (l *List[K]) Len() int { return l.len }

// PushFront inserts key as the most recently used element.
func (l *List[K]) PushFront(key K) *Element[K] {
	e := &Element[K]{key: key, list: l}
	l.linkFront(e)
	return e
}

// MoveToFront marks e as most recently used.
func (l *List[K]) MoveToFront(e *Element[K]) {
	if e == nil || e.list != l || e == l.front {
		return
	}
	l.unlink(e)
	l.linkFront(e)
}

// Remove detaches e from the list. Removing a detached element is a no-op.
func (l *List[K]) Remove(e *Element[K]) {
	if e == nil || e.list != l {
		return
	}
	l.unlink(e)
	e.list = nil
}

// Back returns the least recently used element, or nil if the list is empty.
func (l *List[K]) Back() *Element[K] { return l.back }

// RemoveOldest removes and returns the key of the least recently used element.
func (l *List[K]) RemoveOldest() (K, bool) {
	if l.back == nil {
		var zero K
		return zero, false
	}
	e := l.back
	l.Remove(e)
	return e.key, true
}

// Clear drops every element.
func (l *List[K]) Clear() {
	for e := l.front; e != nil; {
		next := e.next
		e.prev, e.next, e.list = nil, nil, nil
		e = next
	}
	l.front, l.back, l.len = nil, nil, 0
}

func (l *List[K]) linkFront(e *Element[K]) {
	e.prev = nil
	e.next = l.front
	if l.front != nil {
		l.front.prev = e
	}
	l.front = e
	if l.back == nil {
		l.back = e
	}
	l.len++
}

func (l *List[K]) unlink(e *Element[K]) {
	if e.prev != nil {
		e.prev.next = e.next
	} else {
		l.front = e.next
	}
	if e.next != nil {
		e.next.prev = e.prev
	} else {
		l.back = e.prev
	}
	e.prev, e.next = nil, nil
	l.len--
}
