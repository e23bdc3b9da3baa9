package interval

import (
	"testing"
	"time"
)

func TestCheckAndResetFiresOnceThenResyncs(t *testing.T) {
	start := time.Unix(0, 0)
	iv := NewSeconds(start, 1.0)

	if iv.CheckAndReset(start.Add(500 * time.Millisecond)) {
		t.Fatal("should not fire before period elapses")
	}

	later := start.Add(3 * time.Second)
	if !iv.CheckAndReset(later) {
		t.Fatal("should fire once backlog has accumulated")
	}
	if iv.CheckAndReset(later) {
		t.Fatal("should not fire again immediately: target resynced to now+period")
	}
}

func TestCheckAndDecrementCatchesUp(t *testing.T) {
	start := time.Unix(0, 0)
	iv := NewSeconds(start, 1.0)

	later := start.Add(3500 * time.Millisecond)
	fires := iv.DecrementAll(later)
	if fires != 3 {
		t.Fatalf("DecrementAll fires = %d, want 3", fires)
	}
	if iv.CheckAndDecrement(later) {
		t.Fatal("should be drained after DecrementAll")
	}
}
