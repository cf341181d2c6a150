// Package skewheap implements a skew heap: a self-adjusting, mergeable
// binary heap. The stride scheduler (sched package) uses it as the
// run-queue's priority structure, keyed by each thread's stride counter,
// in place of the teacher's linear run-queue scan — grounded on
// default_sched.c's skew_heap_insert/skew_heap_remove, which key the
// heap on proc_stride_comp_f (a signed-subtraction comparator tolerant
// of stride wrap-around).
package skewheap

// Node is one heap element. The zero value is a detached singleton.
type Node[T any] struct {
	left, right *Node[T]
	owner       *T
}

// Bind associates owner with n. Call once before the node is ever
// inserted.
func (n *Node[T]) Bind(owner *T) { n.owner = owner }

// Owner returns the struct this node is embedded in.
func (n *Node[T]) Owner() *T { return n.owner }

// Heap is a skew heap ordered by a caller-supplied Less. The zero value
// has no ordering function and cannot hold more than one node; use New.
type Heap[T any] struct {
	root *Node[T]
	less func(a, b *T) bool
	n    int
}

// New returns an empty heap ordered by less(a,b): true iff a sorts
// before b (i.e. a would be picked first).
func New[T any](less func(a, b *T) bool) *Heap[T] {
	return &Heap[T]{less: less}
}

// Len reports the number of nodes in the heap.
func (h *Heap[T]) Len() int { return h.n }

// merge combines two heap-ordered trees into one, preserving the heap
// property via the classic skew-heap swap-children-on-descent rule.
func (h *Heap[T]) merge(a, b *Node[T]) *Node[T] {
	if a == nil {
		return b
	}
	if b == nil {
		return a
	}
	if h.less(b.owner, a.owner) {
		a, b = b, a
	}
	a.right = h.merge(a.right, b)
	a.left, a.right = a.right, a.left
	return a
}

// Insert adds n to the heap.
func (h *Heap[T]) Insert(n *Node[T]) {
	n.left, n.right = nil, nil
	h.root = h.merge(h.root, n)
	h.n++
}

// Peek returns the minimal node without removing it, or nil if empty.
func (h *Heap[T]) Peek() *Node[T] { return h.root }

// ExtractMin removes and returns the minimal node, or nil if empty.
func (h *Heap[T]) ExtractMin() *Node[T] {
	if h.root == nil {
		return nil
	}
	min := h.root
	h.root = h.merge(min.left, min.right)
	min.left, min.right = nil, nil
	h.n--
	return min
}

// Remove detaches an arbitrary node n from the heap, wherever it sits
// in the tree. Needed because a blocked or killed thread must leave
// the run-queue even when it is not currently the minimum-stride node.
func (h *Heap[T]) Remove(n *Node[T]) {
	found := false
	h.root = h.remove(h.root, n, &found)
	if found {
		h.n--
	}
	n.left, n.right = nil, nil
}

func (h *Heap[T]) remove(root, target *Node[T], found *bool) *Node[T] {
	if root == nil {
		return nil
	}
	if root == target {
		*found = true
		return h.merge(root.left, root.right)
	}
	root.left = h.remove(root.left, target, found)
	root.right = h.remove(root.right, target, found)
	return root
}

// Each calls f with every owner currently in the heap, in no
// particular order. f must not mutate h.
func (h *Heap[T]) Each(f func(*T)) {
	var walk func(n *Node[T])
	walk = func(n *Node[T]) {
		if n == nil {
			return
		}
		f(n.owner)
		walk(n.left)
		walk(n.right)
	}
	walk(h.root)
}
