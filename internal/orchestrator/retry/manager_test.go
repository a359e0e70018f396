package retry

import (
	"sync"
	"testing"
)

func TestMarkScheduledOncePerAttempt(t *testing.T) {
	m := NewManager()

	if !m.MarkScheduled("s1", 1) {
		t.Fatal("first claim for attempt 1 should succeed")
	}
	if m.MarkScheduled("s1", 1) {
		t.Error("second claim for attempt 1 should fail")
	}
	if !m.MarkScheduled("s1", 2) {
		t.Error("claim for attempt 2 should succeed")
	}
	if m.MarkScheduled("s1", 1) {
		t.Error("stale attempt claim should fail")
	}
}

func TestMarkScheduledAfterSuccess(t *testing.T) {
	m := NewManager()
	m.RecordAttempt("s1", true, "")

	if m.MarkScheduled("s1", 1) {
		t.Error("succeeded session must not get retries scheduled")
	}
}

func TestRecordAttempt(t *testing.T) {
	m := NewManager()

	m.RecordAttempt("s1", false, "boom")
	m.RecordAttempt("s1", true, "")

	st := m.State("s1")
	if st == nil {
		t.Fatal("State returned nil")
	}
	if st.Attempts != 2 {
		t.Errorf("Attempts = %d, want 2", st.Attempts)
	}
	if !st.Succeeded {
		t.Error("Succeeded = false")
	}
	if st.LastError != "boom" {
		t.Errorf("LastError = %q", st.LastError)
	}

	if m.State("unknown") != nil {
		t.Error("State for untracked session should be nil")
	}
}

func TestMarkScheduledConcurrent(t *testing.T) {
	m := NewManager()

	const goroutines = 32
	var wg sync.WaitGroup
	wins := make(chan struct{}, goroutines)
	for i := 0; i < goroutines; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if m.MarkScheduled("s1", 1) {
				wins <- struct{}{}
			}
		}()
	}
	wg.Wait()
	close(wins)

	n := 0
	for range wins {
		n++
	}
	if n != 1 {
		t.Errorf("attempt claimed %d times, want exactly 1", n)
	}
}
