package subcache

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"
)

// ==============================
// Fakes shared by the package tests
// ==============================

var errBoom = errors.New("boom")

type mut struct{ table string }

// fakeAPI backs the test requests. Every call is counted; a call can be made to
// fail per id or held until the gate is released.
type fakeAPI struct {
	mu    sync.Mutex
	calls map[string]int
	errs  map[string]error
	gate  chan struct{}
}

func newFakeAPI() *fakeAPI {
	return &fakeAPI{calls: make(map[string]int), errs: make(map[string]error)}
}

func (a *fakeAPI) enter(ctx context.Context, id string) (int, error) {
	a.mu.Lock()
	a.calls[id]++
	n := a.calls[id]
	err := a.errs[id]
	gate := a.gate
	a.mu.Unlock()

	if gate != nil {
		select {
		case <-gate:
		case <-ctx.Done():
			return n, ctx.Err()
		}
	}
	return n, err
}

func (a *fakeAPI) setErr(id string, err error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if err == nil {
		delete(a.errs, id)
		return
	}
	a.errs[id] = err
}

// hold makes every following call block until the returned func is called.
func (a *fakeAPI) hold() (release func()) {
	g := make(chan struct{})
	a.mu.Lock()
	a.gate = g
	a.mu.Unlock()
	var once sync.Once
	return func() {
		once.Do(func() {
			a.mu.Lock()
			a.gate = nil
			a.mu.Unlock()
			close(g)
		})
	}
}

func (a *fakeAPI) count(id string) int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.calls[id]
}

// userReq fetches a user name; invalidated by writes to "users".
type userReq struct {
	ID  int
	api *fakeAPI
}

func (r userReq) Compare(o userReq) int    { return cmp.Compare(r.ID, o.ID) }
func (r userReq) InvalidatedBy(m mut) bool { return m.table == "users" }
func (r userReq) String() string           { return fmt.Sprintf("user/%d", r.ID) }
func (r userReq) id() string               { return r.String() }
func (r userReq) Send(ctx context.Context) (string, error) {
	n, err := r.api.enter(ctx, r.id())
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("user-%d#%d", r.ID, n), nil
}

// teamReq fetches team members; invalidated by writes to "teams".
type teamReq struct {
	Name string
	api  *fakeAPI
}

func (r teamReq) Compare(o teamReq) int    { return cmp.Compare(r.Name, o.Name) }
func (r teamReq) InvalidatedBy(m mut) bool { return m.table == "teams" }
func (r teamReq) String() string           { return "team/" + r.Name }
func (r teamReq) Send(ctx context.Context) ([]string, error) {
	if _, err := r.api.enter(ctx, r.String()); err != nil {
		return nil, err
	}
	return []string{r.Name + "-lead", r.Name + "-dev"}, nil
}

// rangeReq lists the ids in [Lo, Hi). Narrower ranges are derived from the
// cached full range when there is one.
type rangeReq struct {
	Lo, Hi int
	api    *fakeAPI
}

const fullRange = 100

func (r rangeReq) Compare(o rangeReq) int {
	if c := cmp.Compare(r.Lo, o.Lo); c != 0 {
		return c
	}
	return cmp.Compare(r.Hi, o.Hi)
}
func (r rangeReq) InvalidatedBy(m mut) bool { return m.table == "ids" }
func (r rangeReq) String() string           { return fmt.Sprintf("range/%d-%d", r.Lo, r.Hi) }
func (r rangeReq) Send(ctx context.Context) ([]int, error) {
	if _, err := r.api.enter(ctx, r.String()); err != nil {
		return nil, err
	}
	out := make([]int, 0, r.Hi-r.Lo)
	for i := r.Lo; i < r.Hi; i++ {
		out = append(out, i)
	}
	return out, nil
}

func (r rangeReq) Superset() []rangeReq {
	if r.Lo == 0 && r.Hi == fullRange {
		return nil
	}
	return []rangeReq{{Lo: 0, Hi: fullRange, api: r.api}}
}

func (r rangeReq) Narrow(s rangeReq, v []int) ([]int, bool) {
	if r.Lo < s.Lo || r.Hi > s.Hi || r.Hi-s.Lo > len(v) {
		return nil, false
	}
	return v[r.Lo-s.Lo : r.Hi-s.Lo], true
}

// pageReq is one page of ten ids; Page -1 is the whole listing. Narrow runs
// onNarrow first, which may use the cache.
type pageReq struct {
	Page     int
	api      *fakeAPI
	onNarrow func()
}

const pageSize = 10

func (r pageReq) Compare(o pageReq) int    { return cmp.Compare(r.Page, o.Page) }
func (r pageReq) InvalidatedBy(m mut) bool { return m.table == "pages" }
func (r pageReq) String() string           { return fmt.Sprintf("page/%d", r.Page) }
func (r pageReq) Send(ctx context.Context) ([]int, error) {
	if _, err := r.api.enter(ctx, r.String()); err != nil {
		return nil, err
	}
	lo, n := r.Page*pageSize, pageSize
	if r.Page < 0 {
		lo, n = 0, 3*pageSize
	}
	out := make([]int, n)
	for i := range out {
		out[i] = lo + i
	}
	return out, nil
}

func (r pageReq) Superset() []pageReq {
	if r.Page < 0 {
		return nil
	}
	return []pageReq{{Page: -1, api: r.api, onNarrow: r.onNarrow}}
}

func (r pageReq) Narrow(_ pageReq, all []int) ([]int, bool) {
	if r.onNarrow != nil {
		r.onNarrow()
	}
	lo := r.Page * pageSize
	if lo+pageSize > len(all) {
		return nil, false
	}
	return all[lo : lo+pageSize], true
}

// recorder collects every value delivered to its subscriber.
type recorder[V any] struct {
	sub *Subscriber[V]

	mu  sync.Mutex
	got []Value[V]
}

func newRecorder[V any]() *recorder[V] {
	r := &recorder[V]{}
	r.sub = NewSubscriber(r.add)
	return r
}

func (r *recorder[V]) add(v Value[V]) {
	r.mu.Lock()
	r.got = append(r.got, v)
	r.mu.Unlock()
}

func (r *recorder[V]) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.got)
}

func (r *recorder[V]) last() Value[V] {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.got) == 0 {
		return Value[V]{}
	}
	return r.got[len(r.got)-1]
}

func (r *recorder[V]) values() []Value[V] {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Value[V](nil), r.got...)
}

// recordingHooks keeps every hook call.
type recordingHooks struct {
	mu        sync.Mutex
	started   []time.Duration
	succeeded []string
	failed    []error
	attempts  []int
	matched   []int
	superset  []string
}

func (h *recordingHooks) FetchStarted(_ string, d time.Duration) {
	h.mu.Lock()
	h.started = append(h.started, d)
	h.mu.Unlock()
}

func (h *recordingHooks) FetchSucceeded(k string, _ time.Duration) {
	h.mu.Lock()
	h.succeeded = append(h.succeeded, k)
	h.mu.Unlock()
}

func (h *recordingHooks) FetchFailed(_ string, attempt int, _ time.Duration, err error) {
	h.mu.Lock()
	h.attempts = append(h.attempts, attempt)
	h.failed = append(h.failed, err)
	h.mu.Unlock()
}

func (h *recordingHooks) Invalidated(n int) {
	h.mu.Lock()
	h.matched = append(h.matched, n)
	h.mu.Unlock()
}

func (h *recordingHooks) SupersetHit(k, s string) {
	h.mu.Lock()
	h.superset = append(h.superset, k+"<"+s)
	h.mu.Unlock()
}

func (h *recordingHooks) delays() []time.Duration {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]time.Duration(nil), h.started...)
}

func (h *recordingHooks) failures() []error {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]error(nil), h.failed...)
}

func newTestCache(t *testing.T, optsOpt func(*Options)) *Cache[mut] {
	t.Helper()
	var opts Options
	if optsOpt != nil {
		optsOpt(&opts)
	}
	c, err := New[mut](opts)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		if err := c.Close(ctx); err != nil {
			t.Errorf("Close: %v", err)
		}
	})
	return c
}

func eventually(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %s", what)
		}
		time.Sleep(time.Millisecond)
	}
}

func mustPanic(t *testing.T, fn func()) (v any) {
	t.Helper()
	defer func() {
		v = recover()
		if v == nil {
			t.Fatalf("expected panic")
		}
	}()
	fn()
	return nil
}

func snapshotOf[V any, K Keyable[K, mut]](t *testing.T, c *Cache[mut], k K) Snapshot[V] {
	t.Helper()
	s, ok := Get[V](c, k)
	if !ok {
		t.Fatalf("no entry for %v", k)
	}
	return s
}
