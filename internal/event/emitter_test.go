package event

import "testing"

func TestEmitterOnAndOff(t *testing.T) {
	var e Emitter[int]
	var got []int

	off := e.On(func(v int) { got = append(got, v) })
	e.Emit(1)
	e.Emit(2)
	off()
	off() // second call is a no-op
	e.Emit(3)

	if len(got) != 2 || got[0] != 1 || got[1] != 2 {
		t.Fatalf("got %v, want [1 2]", got)
	}
	if e.Len() != 0 {
		t.Fatalf("Len = %d after unsubscribe", e.Len())
	}
}

func TestEmitterOnce(t *testing.T) {
	var e Emitter[string]
	calls := 0
	e.Once(func(string) { calls++ })

	e.Emit("a")
	e.Emit("b")

	if calls != 1 {
		t.Fatalf("once listener called %d times", calls)
	}
	if e.Len() != 0 {
		t.Fatalf("Len = %d, once listener not removed", e.Len())
	}
}

func TestEmitterOrderAndUnsubscribeDuringEmit(t *testing.T) {
	var e Emitter[int]
	var order []string

	var offB func()
	e.On(func(int) {
		order = append(order, "a")
		offB()
	})
	offB = e.On(func(int) { order = append(order, "b") })

	e.Emit(0) // b is still in the snapshot
	e.Emit(0)

	want := []string{"a", "b", "a"}
	if len(order) != len(want) {
		t.Fatalf("order = %v, want %v", order, want)
	}
	for i := range want {
		if order[i] != want[i] {
			t.Fatalf("order = %v, want %v", order, want)
		}
	}
}

func TestEmitterClear(t *testing.T) {
	var e Emitter[int]
	e.On(func(int) { t.Fatal("listener called after Clear") })
	e.Clear()
	e.Emit(1)
}
