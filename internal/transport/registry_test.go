package transport

import (
	"fmt"
	"sync"
	"testing"
)

func TestAddAndDispatch(t *testing.T) {
	r := NewHandlerRegistry()

	var got []string
	r.Add("message", func(data []byte) { got = append(got, string(data)) })

	r.Dispatch("message", []byte("one"))
	r.Dispatch("message", []byte("two"))

	if len(got) != 2 || got[0] != "one" || got[1] != "two" {
		t.Fatalf("unexpected deliveries: %v", got)
	}
}

func TestMultipleHandlersPerChannel(t *testing.T) {
	r := NewHandlerRegistry()

	first, second := 0, 0
	r.Add("voice_call", func([]byte) { first++ })
	r.Add("voice_call", func([]byte) { second++ })

	r.Dispatch("voice_call", []byte("{}"))

	if first != 1 || second != 1 {
		t.Errorf("both handlers must receive the event, got %d and %d", first, second)
	}
}

func TestRemove(t *testing.T) {
	r := NewHandlerRegistry()

	calls := 0
	id := r.Add("message", func([]byte) { calls++ })

	r.Dispatch("message", []byte("{}"))
	r.Remove("message", id)
	r.Dispatch("message", []byte("{}"))

	if calls != 1 {
		t.Errorf("expected 1 call after removal, got %d", calls)
	}
}

func TestRemoveIdempotent(t *testing.T) {
	r := NewHandlerRegistry()

	id := r.Add("message", func([]byte) {})

	// Removing twice, and removing unknown IDs/channels, must not panic.
	r.Remove("message", id)
	r.Remove("message", id)
	r.Remove("message", "never-registered")
	r.Remove("no-such-channel", id)

	if r.Count("message") != 0 {
		t.Errorf("expected 0 handlers, got %d", r.Count("message"))
	}
}

func TestRemoveLeavesOthers(t *testing.T) {
	r := NewHandlerRegistry()

	kept := 0
	id := r.Add("voice_call", func([]byte) { t.Error("removed handler must not fire") })
	r.Add("voice_call", func([]byte) { kept++ })

	r.Remove("voice_call", id)
	r.Dispatch("voice_call", []byte("{}"))

	if kept != 1 {
		t.Errorf("expected surviving handler to fire once, got %d", kept)
	}
}

func TestDispatchUnknownChannel(t *testing.T) {
	r := NewHandlerRegistry()

	// Should not panic.
	r.Dispatch("nobody-listens", []byte("{}"))
}

func TestHandlerMayRemoveItself(t *testing.T) {
	r := NewHandlerRegistry()

	calls := 0
	var id string
	id = r.Add("voice_call", func([]byte) {
		calls++
		r.Remove("voice_call", id)
	})

	r.Dispatch("voice_call", []byte("{}"))
	r.Dispatch("voice_call", []byte("{}"))

	if calls != 1 {
		t.Errorf("self-removing handler should fire once, got %d", calls)
	}
}

func TestConcurrentAccess(t *testing.T) {
	r := NewHandlerRegistry()
	goroutines := 50

	var wg sync.WaitGroup
	wg.Add(goroutines)
	for g := 0; g < goroutines; g++ {
		go func(id int) {
			defer wg.Done()
			channel := fmt.Sprintf("ch-%d", id%5)
			for i := 0; i < 20; i++ {
				hid := r.Add(channel, func([]byte) {})
				r.Dispatch(channel, []byte("{}"))
				r.Remove(channel, hid)
			}
		}(g)
	}
	wg.Wait()

	for i := 0; i < 5; i++ {
		ch := fmt.Sprintf("ch-%d", i)
		if n := r.Count(ch); n != 0 {
			t.Errorf("channel %s: expected 0 handlers after cleanup, got %d", ch, n)
		}
	}
}
