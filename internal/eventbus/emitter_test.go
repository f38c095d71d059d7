package eventbus

import (
	"sync"
	"testing"
)

func TestEmitter_DeliversInRegistrationOrder(t *testing.T) {
	e := NewEmitter("s1", nil)

	var order []int
	var mu sync.Mutex

	e.Add(func(ev Event) {
		mu.Lock()
		order = append(order, 1)
		mu.Unlock()
	})
	e.Add(func(ev Event) {
		mu.Lock()
		order = append(order, 2)
		mu.Unlock()
	})
	e.Add(func(ev Event) {
		mu.Lock()
		order = append(order, 3)
		mu.Unlock()
	})

	e.TurnStart(1)

	if len(order) != 3 || order[0] != 1 || order[1] != 2 || order[2] != 3 {
		t.Errorf("order = %v, want [1 2 3]", order)
	}
}

func TestEmitter_PanicIsolation(t *testing.T) {
	e := NewEmitter("s1", nil)

	var secondCalled bool
	e.Add(func(ev Event) {
		panic("boom")
	})
	e.Add(func(ev Event) {
		secondCalled = true
	})

	e.TurnStart(1)

	if !secondCalled {
		t.Error("second listener was not invoked after first listener panicked")
	}
}

func TestEmitter_SequenceIsMonotonic(t *testing.T) {
	e := NewEmitter("s1", nil)

	var seqs []uint64
	e.Add(func(ev Event) { seqs = append(seqs, ev.Sequence) })

	e.TurnStart(1)
	e.MessageUpdate("a")
	e.TurnEnd(1, 5)

	for i := 1; i < len(seqs); i++ {
		if seqs[i] <= seqs[i-1] {
			t.Errorf("sequence not monotonic: %v", seqs)
		}
	}
}

func TestEmitter_RemoveStopsDelivery(t *testing.T) {
	e := NewEmitter("s1", nil)

	var calls int
	id := e.Add(func(ev Event) { calls++ })
	e.TurnStart(1)
	e.Remove(id)
	e.TurnStart(2)

	if calls != 1 {
		t.Errorf("calls = %d, want 1", calls)
	}
}

func TestEmitter_CountAndClear(t *testing.T) {
	e := NewEmitter("s1", nil)
	e.Add(func(ev Event) {})
	e.Add(func(ev Event) {})

	if e.Count() != 2 {
		t.Errorf("Count() = %d, want 2", e.Count())
	}

	e.Clear()
	if e.Count() != 0 {
		t.Errorf("Count() after Clear() = %d, want 0", e.Count())
	}
}

func TestEmitter_TurnAndIterStamping(t *testing.T) {
	e := NewEmitter("s1", nil)
	e.SetTurn(4)
	e.SetIter(2)

	var got Event
	e.Add(func(ev Event) { got = ev })
	e.MessageUpdate("x")

	if got.Turn != 4 || got.Iter != 2 {
		t.Errorf("Turn/Iter = %d/%d, want 4/2", got.Turn, got.Iter)
	}
}
