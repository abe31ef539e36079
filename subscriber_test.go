package subcache

import (
	"sync"
	"sync/atomic"
	"testing"

	"github.com/google/go-cmp/cmp"
)

func intDelivery(to notifier, entry, seq uint64, n int) delivery {
	return delivery{to: to, entry: entry, seq: seq, value: NewValue[any](n)}
}

// TestSubscriberDropsOlderDeliveries verifies a subscriber never goes back to an
// older broadcast of the same entry and that entries are tracked separately.
func TestSubscriberDropsOlderDeliveries(t *testing.T) {
	var got []int
	s := NewSubscriber(func(v Value[int]) {
		n, _ := v.Data()
		got = append(got, n)
	})
	s.deliver(intDelivery(s, 1, 2, 2))
	s.deliver(intDelivery(s, 1, 1, 1))  // older
	s.deliver(intDelivery(s, 1, 2, 2))  // duplicate
	s.deliver(intDelivery(s, 2, 1, 10)) // other entry
	s.deliver(intDelivery(s, 1, 5, 5))

	if diff := cmp.Diff([]int{2, 10, 5}, got); diff != "" {
		t.Fatalf("delivered (-want +got):\n%s", diff)
	}
}

// TestSubscriberCoalescesWhileBusy verifies deliveries arriving during a
// callback are coalesced to the newest one per entry.
func TestSubscriberCoalescesWhileBusy(t *testing.T) {
	var (
		got []int
		s   *Subscriber[int]
	)
	s = NewSubscriber(func(v Value[int]) {
		n, _ := v.Data()
		got = append(got, n)
		if n == 1 {
			s.deliver(intDelivery(s, 1, 3, 3))
			s.deliver(intDelivery(s, 1, 2, 2))
		}
	})
	s.deliver(intDelivery(s, 1, 1, 1))

	if diff := cmp.Diff([]int{1, 3}, got); diff != "" {
		t.Fatalf("delivered (-want +got):\n%s", diff)
	}
}

// TestSubscriberSerializesCallbacks verifies notify never runs concurrently and
// sees sequence numbers in increasing order under concurrent deliveries.
func TestSubscriberSerializesCallbacks(t *testing.T) {
	var (
		active atomic.Int32
		bad    atomic.Bool
		last   int
	)
	s := NewSubscriber(func(v Value[int]) {
		if active.Add(1) != 1 {
			bad.Store(true)
		}
		n, _ := v.Data()
		if n <= last {
			bad.Store(true)
		}
		last = n
		active.Add(-1)
	})

	const workers, per = 8, 200
	var wg sync.WaitGroup
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			for i := 0; i < per; i++ {
				seq := i*workers + w + 1
				s.deliver(intDelivery(s, 1, uint64(seq), seq))
			}
		}(w)
	}
	wg.Wait()

	if bad.Load() {
		t.Fatalf("callbacks overlapped or went backwards")
	}
	if last != workers*per {
		t.Fatalf("last delivered: got %d want %d", last, workers*per)
	}
}

// TestSubscriberDiffers verifies the comparison behind immediate notification.
func TestSubscriberDiffers(t *testing.T) {
	type row struct {
		id   int
		tags []string
	}
	s := NewSubscriber(func(Value[row]) {})

	if s.differs(1, Value[any]{}) {
		t.Fatalf("fresh subscriber differs from the empty value")
	}
	v := NewValue[any](row{id: 1, tags: []string{"a"}})
	if !s.differs(1, v) {
		t.Fatalf("fresh subscriber does not differ from a value")
	}
	s.deliver(delivery{to: s, entry: 1, seq: 1, value: v})

	same := NewValue[any](row{id: 1, tags: []string{"a"}})
	if s.differs(1, same) {
		t.Fatalf("equal payload reported as different")
	}
	stale := same
	stale.Invalidate()
	if !s.differs(1, stale) {
		t.Fatalf("validity change not detected")
	}
	if !s.differs(1, NewValue[any](row{id: 1, tags: []string{"b"}})) {
		t.Fatalf("payload change not detected")
	}
	if !s.differs(2, same) {
		t.Fatalf("entries are not tracked separately")
	}
}

// TestSubscriberTypeMismatchPanics verifies a subscriber fed the wrong payload
// type fails loudly.
func TestSubscriberTypeMismatchPanics(t *testing.T) {
	s := NewSubscriber(func(Value[int]) {})
	mustPanic(t, func() {
		s.deliver(delivery{to: s, entry: 1, seq: 1, value: NewValue[any]("nope")})
	})
}

func TestSubscriberHandles(t *testing.T) {
	h := NewHandle()
	a := NewSubscriberWithHandle(h, func(Value[int]) {})
	b := NewSubscriber(func(Value[int]) {})
	if a.Handle() != h || a.Handle() == b.Handle() {
		t.Fatalf("handles: a=%s b=%s want a=%s", a.Handle(), b.Handle(), h)
	}
	if h.String() == "" {
		t.Fatalf("empty handle string")
	}
}

// TestSubscriberForget verifies forgetting an entry drops its state so a later
// subscription starts fresh.
func TestSubscriberForget(t *testing.T) {
	s := NewSubscriber(func(Value[int]) {})
	s.deliver(delivery{to: s, entry: 1, seq: 4, value: NewValue[any](7)})
	s.deliver(delivery{to: s, entry: 2, seq: 1, value: NewValue[any](8)})

	s.forget(1)
	s.mu.Lock()
	_, kept1 := s.slots[1]
	_, kept2 := s.slots[2]
	s.mu.Unlock()
	if kept1 || !kept2 {
		t.Fatalf("slots after forget: entry1=%v entry2=%v", kept1, kept2)
	}
	if !s.differs(1, NewValue[any](7)) {
		t.Fatalf("forgotten entry still remembered")
	}
}
