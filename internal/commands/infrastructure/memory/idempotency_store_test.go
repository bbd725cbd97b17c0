package memory

import (
	"context"
	"sync"
	"testing"
	"time"
)

func TestIdempotencyStore_FirstThenDuplicate(t *testing.T) {
	store := NewIdempotencyStore(0)
	now := time.Now()

	first, err := store.CheckAndRecord(context.Background(), "cmd-1", now)
	if err != nil {
		t.Fatalf("CheckAndRecord: %v", err)
	}
	if !first {
		t.Fatal("first execution should report true")
	}

	again, err := store.CheckAndRecord(context.Background(), "cmd-1", now.Add(time.Minute))
	if err != nil {
		t.Fatalf("CheckAndRecord: %v", err)
	}
	if again {
		t.Fatal("duplicate should report false")
	}
}

func TestIdempotencyStore_EmptyCommandID(t *testing.T) {
	store := NewIdempotencyStore(0)
	if _, err := store.CheckAndRecord(context.Background(), "", time.Now()); err == nil {
		t.Fatal("expected error for empty command id")
	}
}

func TestIdempotencyStore_RetentionExpiry(t *testing.T) {
	store := NewIdempotencyStore(time.Hour)
	now := time.Now()

	if first, _ := store.CheckAndRecord(context.Background(), "cmd-1", now); !first {
		t.Fatal("first execution should report true")
	}
	if dup, _ := store.CheckAndRecord(context.Background(), "cmd-1", now.Add(59*time.Minute)); dup {
		t.Fatal("inside the retention horizon the record is still authoritative")
	}
	if first, _ := store.CheckAndRecord(context.Background(), "cmd-1", now.Add(61*time.Minute)); !first {
		t.Fatal("beyond the retention horizon the command may execute again")
	}
}

func TestIdempotencyStore_ConcurrentSingleWinner(t *testing.T) {
	store := NewIdempotencyStore(0)
	now := time.Now()

	const goroutines = 32
	var wg sync.WaitGroup
	results := make(chan bool, goroutines)
	for i := 0; i < goroutines; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			first, err := store.CheckAndRecord(context.Background(), "cmd-racy", now)
			if err != nil {
				t.Errorf("CheckAndRecord: %v", err)
				return
			}
			results <- first
		}()
	}
	wg.Wait()
	close(results)

	winners := 0
	for first := range results {
		if first {
			winners++
		}
	}
	if winners != 1 {
		t.Fatalf("expected exactly one first execution, got %d", winners)
	}
}
