// Package klist implements an intrusive doubly linked list in the style
// of a kernel's list_head: the link lives inside the object being
// threaded, so one object can belong to several independent lists at
// once (a TCB sits in a run-queue list and, separately, in at most one
// wait-queue list) without the list owning the object.
//
// This replaces the teacher's nexti-index free lists (mem/mem.go) and
// the list_t used by the original scheduler (default_sched.c) with a
// generic, type-safe Go equivalent: a Node[T] embeds into the owner
// struct and carries a back-pointer to it, so callers never juggle
// void* casts to recover the owner.
package klist

// Node is an intrusive link. Zero value is an unlinked, empty node.
type Node[T any] struct {
	next, prev *Node[T]
	owner      *T
}

// List is a circular, sentinel-headed doubly linked list of Node[T].
// The zero value is not ready to use; call Init first (or use New).
type List[T any] struct {
	root Node[T]
	n    int
}

// New returns an initialized, empty list.
func New[T any]() *List[T] {
	l := &List[T]{}
	l.Init()
	return l
}

// Init resets l to the empty list. Safe to call on a zero List.
func (l *List[T]) Init() *List[T] {
	l.root.next = &l.root
	l.root.prev = &l.root
	l.n = 0
	return l
}

// Len reports the number of linked nodes.
func (l *List[T]) Len() int { return l.n }

// Empty reports whether the list has no nodes.
func (l *List[T]) Empty() bool { return l.n == 0 }

// Bind associates owner with n without linking it into any list; the
// caller supplies a stable pointer to the struct embedding n. Bind
// must be called once, before the node's first insertion.
func (n *Node[T]) Bind(owner *T) { n.owner = owner }

// Owner returns the struct this node is embedded in.
func (n *Node[T]) Owner() *T { return n.owner }

// Linked reports whether n currently belongs to some list.
func (n *Node[T]) Linked() bool { return n.next != nil }

func (l *List[T]) insertAfter(at, n *Node[T]) {
	n.prev = at
	n.next = at.next
	at.next.prev = n
	at.next = n
	l.n++
}

// PushFront links n at the head of l.
func (l *List[T]) PushFront(n *Node[T]) { l.insertAfter(&l.root, n) }

// PushBack links n at the tail of l.
func (l *List[T]) PushBack(n *Node[T]) { l.insertAfter(l.root.prev, n) }

// Remove unlinks n from whichever list it is part of. It is a no-op on
// an already-unlinked node.
func (l *List[T]) Remove(n *Node[T]) {
	if n.next == nil {
		return
	}
	n.prev.next = n.next
	n.next.prev = n.prev
	n.next, n.prev = nil, nil
	l.n--
}

// Front returns the first node, or nil if l is empty.
func (l *List[T]) Front() *Node[T] {
	if l.Empty() {
		return nil
	}
	return l.root.next
}

// PopFront unlinks and returns the first node's owner, or nil if empty.
func (l *List[T]) PopFront() *T {
	n := l.Front()
	if n == nil {
		return nil
	}
	l.Remove(n)
	return n.owner
}

// Next returns the node following n within l, or nil at the tail.
func (l *List[T]) Next(n *Node[T]) *Node[T] {
	if n.next == &l.root {
		return nil
	}
	return n.next
}

// Each calls f with every owner in list order. f must not mutate l.
func (l *List[T]) Each(f func(*T)) {
	for n := l.Front(); n != nil; n = l.Next(n) {
		f(n.owner)
	}
}
