package dedup

import (
	"fmt"
	"sync"
	"testing"
)

func TestSeenRecordsKey(t *testing.T) {
	c := NewMemoryCache(0)

	if c.Seen("k1") {
		t.Error("first sighting must report unseen")
	}
	if !c.Seen("k1") {
		t.Error("second sighting must report seen")
	}
	if c.Seen("k2") {
		t.Error("distinct key must report unseen")
	}
	if c.Len() != 2 {
		t.Errorf("expected 2 recorded keys, got %d", c.Len())
	}
}

func TestClearStartsFreshEpoch(t *testing.T) {
	c := NewMemoryCache(0)

	c.Seen("k1")
	c.Seen("k2")
	c.Clear()

	if c.Len() != 0 {
		t.Errorf("expected empty cache after clear, got %d keys", c.Len())
	}
	if c.Seen("k1") {
		t.Error("key seen before clear must report unseen after clear")
	}
}

func TestBoundedEviction(t *testing.T) {
	c := NewMemoryCache(8)

	for i := 0; i < 20; i++ {
		c.Seen(fmt.Sprintf("k%d", i))
	}
	if c.Len() != 8 {
		t.Errorf("expected cache bounded at 8 keys, got %d", c.Len())
	}

	// The oldest keys have been evicted and count as unseen again.
	if c.Seen("k0") {
		t.Error("evicted key must report unseen")
	}
	// The newest keys are still recorded.
	if !c.Seen("k19") {
		t.Error("recent key must still report seen")
	}
}

func TestDefaultSize(t *testing.T) {
	c := NewMemoryCache(-1)

	for i := 0; i < DefaultSize; i++ {
		c.Seen(fmt.Sprintf("k%d", i))
	}
	if c.Len() != DefaultSize {
		t.Errorf("expected %d keys, got %d", DefaultSize, c.Len())
	}
}

func TestConcurrentSeen(t *testing.T) {
	c := NewMemoryCache(0)
	goroutines := 50

	var firsts int64
	var mu sync.Mutex
	var wg sync.WaitGroup
	wg.Add(goroutines)
	for g := 0; g < goroutines; g++ {
		go func() {
			defer wg.Done()
			if !c.Seen("shared-key") {
				mu.Lock()
				firsts++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	if firsts < 1 {
		t.Error("at least one goroutine must observe the key as unseen")
	}
}
