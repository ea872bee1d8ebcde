package interrupt

import "testing"

func TestPeekReadyBeforeEndingTime(t *testing.T) {
	q := &Queue{}
	q.Add(0, "input", "hard drive", 10.0)

	if q.PeekReady(5.0) {
		t.Fatal("PeekReady(5.0) = true before ending time 10.0")
	}
	if !q.PeekReady(10.0) {
		t.Fatal("PeekReady(10.0) = false at exact ending time")
	}
	if !q.PeekReady(12.0) {
		t.Fatal("PeekReady(12.0) = false after ending time")
	}
}

func TestPopOrdersByEndingTimeAscending(t *testing.T) {
	q := &Queue{}
	q.Add(0, "input", "printer", 5.0)
	q.Add(1, "input", "keyboard", 1.0)
	q.Add(2, "input", "monitor", 3.0)

	var order []int
	for q.Len() > 0 {
		order = append(order, q.Pop().PID)
	}
	want := []int{1, 2, 0}
	for i, pid := range want {
		if order[i] != pid {
			t.Fatalf("pop order = %v, want %v", order, want)
		}
	}
}

func TestEqualEndingTimesBreakTiesByInsertionOrder(t *testing.T) {
	q := &Queue{}
	q.Add(3, "input", "hard drive", 2.0)
	q.Add(1, "input", "hard drive", 2.0)
	q.Add(2, "input", "hard drive", 2.0)

	if got := q.Pop().PID; got != 3 {
		t.Fatalf("first pop pid = %d, want 3", got)
	}
	if got := q.Pop().PID; got != 1 {
		t.Fatalf("second pop pid = %d, want 1", got)
	}
	if got := q.Pop().PID; got != 2 {
		t.Fatalf("third pop pid = %d, want 2", got)
	}
}

func TestNextEndingTimeReportsHead(t *testing.T) {
	q := &Queue{}
	if _, ok := q.NextEndingTime(); ok {
		t.Fatal("NextEndingTime() on empty queue reported ok")
	}
	q.Add(0, "input", "printer", 7.5)
	q.Add(1, "input", "keyboard", 2.5)
	got, ok := q.NextEndingTime()
	if !ok || got != 2.5 {
		t.Fatalf("NextEndingTime() = (%v, %v), want (2.5, true)", got, ok)
	}
}

func TestClearDropsEveryPendingInterrupt(t *testing.T) {
	q := &Queue{}
	q.Add(0, "input", "printer", 1.0)
	q.Add(1, "input", "keyboard", 2.0)
	q.Clear()
	if q.Len() != 0 {
		t.Fatalf("Len() after Clear() = %d, want 0", q.Len())
	}
}
