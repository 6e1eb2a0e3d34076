package util

import "testing"

func TestRingOverwritesOldest(t *testing.T) {
	r := NewRing[int](3)
	if _, ok := r.Last(); ok {
		t.Fatal("empty ring should have no last item")
	}
	for i := 1; i <= 5; i++ {
		r.Append(i)
	}
	got := r.Items()
	want := []int{3, 4, 5}
	if len(got) != len(want) {
		t.Fatalf("len: got %d want %d", len(got), len(want))
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("items[%d]: got %d want %d", i, got[i], want[i])
		}
	}
	if last, _ := r.Last(); last != 5 {
		t.Errorf("last: got %d", last)
	}
	if r.Len() != 3 {
		t.Errorf("len: got %d", r.Len())
	}
}

func TestRingPartial(t *testing.T) {
	r := NewRing[string](0)
	r.Append("a")
	r.Append("b")
	got := r.Items()
	if len(got) != 2 || got[0] != "a" || got[1] != "b" {
		t.Errorf("got %v", got)
	}
}
