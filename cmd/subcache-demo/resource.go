package main

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"sync"
	"time"
)

// change is the demo mutation: a write to one row of a table. ID 0 means the
// whole table.
type change struct {
	Table string `json:"table"`
	ID    int    `json:"id,omitempty"`
}

type user struct {
	ID      int
	Name    string
	Version int
}

var errUnavailable = errors.New("backend unavailable")

// backend is a slow, flaky store that the cache sits in front of.
type backend struct {
	latency  time.Duration
	failRate float64

	mu       sync.Mutex
	versions map[int]int
	calls    int
}

func newBackend(latency time.Duration, failRate float64) *backend {
	return &backend{latency: latency, failRate: failRate, versions: make(map[int]int)}
}

func (b *backend) wait(ctx context.Context) error {
	t := time.NewTimer(b.latency)
	defer t.Stop()
	select {
	case <-t.C:
	case <-ctx.Done():
		return ctx.Err()
	}
	if rand.Float64() < b.failRate {
		return errUnavailable
	}
	return nil
}

func (b *backend) user(ctx context.Context, id int) (user, error) {
	b.mu.Lock()
	b.calls++
	b.mu.Unlock()
	if err := b.wait(ctx); err != nil {
		return user{}, err
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	return user{ID: id, Name: fmt.Sprintf("user-%d", id), Version: b.versions[id]}, nil
}

func (b *backend) users(ctx context.Context, lo, hi int) ([]user, error) {
	b.mu.Lock()
	b.calls++
	b.mu.Unlock()
	if err := b.wait(ctx); err != nil {
		return nil, err
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]user, 0, hi-lo)
	for id := lo; id < hi; id++ {
		out = append(out, user{ID: id, Name: fmt.Sprintf("user-%d", id), Version: b.versions[id]})
	}
	return out, nil
}

// write bumps a user's version and returns the mutation describing it.
func (b *backend) write(id int) change {
	b.mu.Lock()
	b.versions[id]++
	b.mu.Unlock()
	return change{Table: "users", ID: id}
}

func (b *backend) callCount() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.calls
}

// userByID fetches one user.
type userByID struct {
	ID int
	db *backend
}

func (r userByID) Compare(o userByID) int { return cmp.Compare(r.ID, o.ID) }
func (r userByID) String() string         { return fmt.Sprintf("user/%d", r.ID) }

func (r userByID) InvalidatedBy(c change) bool {
	return c.Table == "users" && (c.ID == 0 || c.ID == r.ID)
}

func (r userByID) Send(ctx context.Context) (user, error) { return r.db.user(ctx, r.ID) }

// userRange lists users with Lo <= ID < Hi. Ranges inside a cached wider range
// are cut from it instead of fetched.
type userRange struct {
	Lo, Hi int
	db     *backend
}

func (r userRange) Compare(o userRange) int {
	if c := cmp.Compare(r.Lo, o.Lo); c != 0 {
		return c
	}
	return cmp.Compare(r.Hi, o.Hi)
}

func (r userRange) String() string { return fmt.Sprintf("users/%d-%d", r.Lo, r.Hi) }

func (r userRange) InvalidatedBy(c change) bool {
	return c.Table == "users" && (c.ID == 0 || (c.ID >= r.Lo && c.ID < r.Hi))
}

func (r userRange) Send(ctx context.Context) ([]user, error) { return r.db.users(ctx, r.Lo, r.Hi) }

func (r userRange) Superset() []userRange {
	if r.Lo == 0 && r.Hi == userCount {
		return nil
	}
	return []userRange{{Lo: 0, Hi: userCount, db: r.db}}
}

func (r userRange) Narrow(s userRange, all []user) ([]user, bool) {
	if r.Lo < s.Lo || r.Hi > s.Hi || r.Hi-s.Lo > len(all) {
		return nil, false
	}
	return all[r.Lo-s.Lo : r.Hi-s.Lo], true
}
