package klist

import "testing"

type item struct {
	id   int
	link Node[item]
}

func TestPushPopOrder(t *testing.T) {
	l := New[item]()
	var items [3]item
	for i := range items {
		items[i].id = i
		items[i].link.Bind(&items[i])
		l.PushBack(&items[i].link)
	}
	if l.Len() != 3 {
		t.Fatalf("len = %d, want 3", l.Len())
	}
	var got []int
	l.Each(func(it *item) { got = append(got, it.id) })
	want := []int{0, 1, 2}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("order = %v, want %v", got, want)
		}
	}

	first := l.PopFront()
	if first.id != 0 {
		t.Fatalf("PopFront = %d, want 0", first.id)
	}
	if l.Len() != 2 {
		t.Fatalf("len after pop = %d", l.Len())
	}
}

func TestRemoveMiddle(t *testing.T) {
	l := New[item]()
	var items [3]item
	for i := range items {
		items[i].id = i
		items[i].link.Bind(&items[i])
		l.PushBack(&items[i].link)
	}
	l.Remove(&items[1].link)
	var got []int
	l.Each(func(it *item) { got = append(got, it.id) })
	if len(got) != 2 || got[0] != 0 || got[1] != 2 {
		t.Fatalf("got %v", got)
	}
	// removing again is a no-op
	l.Remove(&items[1].link)
	if l.Len() != 2 {
		t.Fatalf("double remove changed length: %d", l.Len())
	}
}

func TestDualMembership(t *testing.T) {
	type dual struct {
		a, b Node[dual]
	}
	la, lb := New[dual](), New[dual]()
	var d dual
	d.a.Bind(&d)
	d.b.Bind(&d)
	la.PushBack(&d.a)
	lb.PushBack(&d.b)
	if la.Len() != 1 || lb.Len() != 1 {
		t.Fatal("expected membership in both lists")
	}
	la.Remove(&d.a)
	if la.Len() != 0 || lb.Len() != 1 {
		t.Fatal("removing from one list must not affect the other")
	}
}
