package ids

import (
	"sync"
	"testing"

	"github.com/oklog/ulid/v2"
)

func TestNewRunIDSequentialOrdering(t *testing.T) {
	const total = 100
	ids := make([]string, total)
	for i := 0; i < total; i++ {
		ids[i] = NewRunID()
	}

	for i := 0; i < total; i++ {
		if len(ids[i]) != 26 {
			t.Fatalf("expected ULID length 26, got %d", len(ids[i]))
		}
		if _, err := ulid.Parse(ids[i]); err != nil {
			t.Fatalf("expected valid ULID, got %v", err)
		}
	}

	for i := 1; i < total; i++ {
		if ids[i-1] >= ids[i] {
			t.Fatalf("expected ULIDs to be strictly increasing, %s >= %s", ids[i-1], ids[i])
		}
	}
}

func TestNewRunIDConcurrentUniqueness(t *testing.T) {
	const goroutines = 10
	const perGoroutine = 20

	var (
		wg   sync.WaitGroup
		mu   sync.Mutex
		seen = make(map[string]struct{})
	)

	for g := 0; g < goroutines; g++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < perGoroutine; i++ {
				id := NewRunID()
				mu.Lock()
				seen[id] = struct{}{}
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	if len(seen) != goroutines*perGoroutine {
		t.Fatalf("expected %d unique ids, got %d", goroutines*perGoroutine, len(seen))
	}
}

func TestSequenceIsDeterministic(t *testing.T) {
	var a, b Sequence
	for i := 0; i < 3; i++ {
		if a.OperationID() != b.OperationID() {
			t.Fatal("expected two fresh sequences to produce the same ids")
		}
	}

	var seq Sequence
	if got := seq.OperationID(); got != "op1" {
		t.Fatalf("expected op1, got %s", got)
	}
	if got := seq.TemporaryBlipID("test.com!conv+root"); got != "TBD_test.com!conv+root_0x2" {
		t.Fatalf("unexpected temporary blip id %s", got)
	}
	if got := seq.OperationID(); got != "op3" {
		t.Fatalf("expected op3, got %s", got)
	}
}
