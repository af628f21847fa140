package store

import (
	"sync"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
)

func snapshotOf(results ...ProbeResult) Snapshot {
	m := make(map[string]ProbeResult, len(results))
	for _, r := range results {
		m[r.Name] = r
	}
	return Snapshot{Results: m, TakenAt: time.Now()}
}

func TestNewMemoryStore(t *testing.T) {
	store := NewMemoryStore()
	if store == nil {
		t.Fatal("NewMemoryStore() = nil")
	}

	// should start empty
	snap, ok := store.Latest()
	if ok {
		t.Error("Latest() ok = true on a new store")
	}
	if !snap.Empty() {
		t.Errorf("Latest() = %v results, want 0", len(snap.Results))
	}
}

func TestMemoryStore_Replace(t *testing.T) {
	store := NewMemoryStore()

	snap := snapshotOf(
		ProbeResult{Name: "api", Success: true, StatusCode: 200},
		ProbeResult{Name: "grafana", Error: "grafana is not accessible"},
	)
	if !store.Replace(snap) {
		t.Fatal("Replace() = false for a non-empty snapshot")
	}

	got, ok := store.Latest()
	if !ok {
		t.Fatal("Latest() ok = false after Replace")
	}
	if diff := cmp.Diff(snap, got); diff != "" {
		t.Errorf("Latest() mismatch (-want +got):\n%s", diff)
	}
}

// TestMemoryStore_ReplaceIsWholesale verifies that a new snapshot is never
// merged with the previous one.
func TestMemoryStore_ReplaceIsWholesale(t *testing.T) {
	store := NewMemoryStore()

	store.Replace(snapshotOf(ProbeResult{Name: "a", Success: true}, ProbeResult{Name: "b", Success: true}))
	store.Replace(snapshotOf(ProbeResult{Name: "a"}))

	got, _ := store.Latest()
	if diff := cmp.Diff([]string{"a"}, got.Names()); diff != "" {
		t.Errorf("Names() mismatch (-want +got):\n%s", diff)
	}
	if got.Results["a"].Success {
		t.Error("Results[a].Success = true, want the newer failed result")
	}
}

func TestMemoryStore_RejectsEmpty(t *testing.T) {
	store := NewMemoryStore()

	if store.Replace(Snapshot{TakenAt: time.Now()}) {
		t.Error("Replace() = true for an empty snapshot on an empty store")
	}
	if _, ok := store.Latest(); ok {
		t.Error("store populated by an empty snapshot")
	}

	store.Replace(snapshotOf(ProbeResult{Name: "a", Success: true}))
	if store.Replace(Snapshot{Results: map[string]ProbeResult{}}) {
		t.Error("Replace() = true for an empty snapshot on a populated store")
	}

	got, ok := store.Latest()
	if !ok || got.Empty() {
		t.Fatal("store regressed to empty")
	}
}

func TestSnapshot_NamesAndCounts(t *testing.T) {
	snap := snapshotOf(
		ProbeResult{Name: "prometheus", Success: true},
		ProbeResult{Name: "api-gateway"},
		ProbeResult{Name: "grafana", Success: true},
	)

	if diff := cmp.Diff([]string{"api-gateway", "grafana", "prometheus"}, snap.Names()); diff != "" {
		t.Errorf("Names() mismatch (-want +got):\n%s", diff)
	}
	up, down := snap.Counts()
	if up != 2 || down != 1 {
		t.Errorf("Counts() = %d, %d, want 2, 1", up, down)
	}
}

func TestMemoryStore_Subscribe(t *testing.T) {
	store := NewMemoryStore()

	ch := store.Subscribe()
	if ch == nil {
		t.Fatal("Subscribe() = nil")
	}

	go store.Replace(snapshotOf(ProbeResult{Name: "Test", Success: true}))

	select {
	case snap := <-ch:
		if _, ok := snap.Results["Test"]; !ok {
			t.Errorf("received %v, want result for Test", snap.Names())
		}
	case <-time.After(1 * time.Second):
		t.Error("Subscribe() channel did not receive update")
	}
}

func TestMemoryStore_MultipleSubscribers(t *testing.T) {
	store := NewMemoryStore()

	ch1 := store.Subscribe()
	ch2 := store.Subscribe()
	ch3 := store.Subscribe()

	go store.Replace(snapshotOf(ProbeResult{Name: "Test", Success: true}))

	for i, ch := range []<-chan Snapshot{ch1, ch2, ch3} {
		select {
		case <-ch:
		case <-time.After(1 * time.Second):
			t.Errorf("subscriber %d did not receive update", i+1)
		}
	}
}

func TestMemoryStore_EmptySnapshotNotPublished(t *testing.T) {
	store := NewMemoryStore()
	ch := store.Subscribe()

	store.Replace(Snapshot{})

	select {
	case <-ch:
		t.Error("empty snapshot published to subscriber")
	default:
	}
}

func TestMemoryStore_Unsubscribe(t *testing.T) {
	store := NewMemoryStore()

	ch := store.Subscribe()
	store.Unsubscribe(ch)

	// channel should be closed
	select {
	case _, ok := <-ch:
		if ok {
			t.Error("Unsubscribe() should close channel")
		}
	case <-time.After(100 * time.Millisecond):
		t.Error("channel not closed after Unsubscribe()")
	}

	if store.Subscribers() != 0 {
		t.Errorf("Subscribers() = %d, want 0", store.Subscribers())
	}

	// second unsubscribe must not panic
	store.Unsubscribe(ch)
}

// TestMemoryStore_SlowSubscriberDoesNotBlock verifies that a subscriber that
// never reads cannot stall Replace.
func TestMemoryStore_SlowSubscriberDoesNotBlock(t *testing.T) {
	store := NewMemoryStore()
	_ = store.Subscribe()

	done := make(chan struct{})
	go func() {
		for i := 0; i < subscriberBuffer*3; i++ {
			store.Replace(snapshotOf(ProbeResult{Name: "a", Success: true}))
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Replace blocked on a slow subscriber")
	}
}

func TestMemoryStore_ConcurrentAccess(t *testing.T) {
	store := NewMemoryStore()
	var wg sync.WaitGroup

	for i := 0; i < 10; i++ {
		wg.Add(2)
		go func() {
			defer wg.Done()
			store.Replace(snapshotOf(ProbeResult{Name: "a", Success: true}, ProbeResult{Name: "b"}))
		}()
		go func() {
			defer wg.Done()
			if snap, ok := store.Latest(); ok && len(snap.Results) != 2 {
				t.Errorf("read a partial snapshot: %v", snap.Names())
			}
		}()
	}

	wg.Wait()
}
