// Package redisfeed fans mutation events out to every process sharing a Redis
// Pub/Sub channel, so a write in one replica invalidates matching entries in
// all of them. Only mutations travel; cached values stay local.
//
//	rdb := redis.NewClient(&redis.Options{Addr: "localhost:6379"})
//	feed, _ := redisfeed.New(redisfeed.Config[Mutation]{
//	    Client: rdb,
//	    Cache:  cache,
//	    Codec:  codec.JSON[Mutation]{},
//	})
//	go feed.Run(ctx)
//	_ = feed.Publish(ctx, Mutation{Table: "users", ID: 7})
package redisfeed

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/unkn0wn-root/subcache"
	"github.com/unkn0wn-root/subcache/codec"
	"github.com/unkn0wn-root/subcache/internal/wire"
)

// DefaultChannel is the Pub/Sub channel used when Config.Channel is empty.
const DefaultChannel = "subcache:mutations"

type Config[M any] struct {
	Client  redis.UniversalClient
	Channel string // "" => DefaultChannel
	Cache   *subcache.Cache[M]
	Codec   codec.Codec[M]
	Logger  subcache.Logger // nil => subcache.NopLogger
}

// Stats counts feed messages received by Run.
type Stats struct {
	Received uint64
	Applied  uint64 // mutations applied to the cache
	Own      uint64 // messages published by this feed, skipped
	Corrupt  uint64 // undecodable envelopes or payloads
}

type Feed[M any] struct {
	rdb     redis.UniversalClient
	channel string
	cache   *subcache.Cache[M]
	codec   codec.Codec[M]
	log     subcache.Logger
	origin  uuid.UUID

	received atomic.Uint64
	applied  atomic.Uint64
	own      atomic.Uint64
	corrupt  atomic.Uint64
}

func New[M any](cfg Config[M]) (*Feed[M], error) {
	if cfg.Client == nil {
		return nil, errors.New("redisfeed: Client is required")
	}
	if cfg.Cache == nil {
		return nil, errors.New("redisfeed: Cache is required")
	}
	if cfg.Codec == nil {
		return nil, errors.New("redisfeed: Codec is required")
	}
	f := &Feed[M]{
		rdb:     cfg.Client,
		channel: cfg.Channel,
		cache:   cfg.Cache,
		codec:   cfg.Codec,
		log:     cfg.Logger,
		origin:  uuid.New(),
	}
	if f.channel == "" {
		f.channel = DefaultChannel
	}
	if f.log == nil {
		f.log = subcache.NopLogger{}
	}
	return f, nil
}

// Origin identifies messages published by this feed.
func (f *Feed[M]) Origin() uuid.UUID { return f.origin }

func (f *Feed[M]) Channel() string { return f.channel }

func (f *Feed[M]) Stats() Stats {
	return Stats{
		Received: f.received.Load(),
		Applied:  f.applied.Load(),
		Own:      f.own.Load(),
		Corrupt:  f.corrupt.Load(),
	}
}

// Publish applies m to the local cache, then announces it to the other replicas.
// The local cache is invalidated even when publishing fails.
func (f *Feed[M]) Publish(ctx context.Context, m M) error {
	f.cache.Invalidate(m)
	b, err := f.codec.Encode(m)
	if err != nil {
		return fmt.Errorf("redisfeed: encode mutation: %w", err)
	}
	msg, err := wire.EncodeMutation(f.origin, b)
	if err != nil {
		return err
	}
	return f.publish(ctx, msg)
}

// PublishAll invalidates every entry here and in every replica.
func (f *Feed[M]) PublishAll(ctx context.Context) error {
	f.cache.InvalidateAll()
	return f.publish(ctx, wire.EncodeAll(f.origin))
}

// PublishFrom applies and announces every mutation src reports, in one message.
// Nothing is applied when a mutation fails to encode.
func (f *Feed[M]) PublishFrom(ctx context.Context, src subcache.Invalidator[M]) error {
	ms := src.Mutations()
	if len(ms) == 0 {
		return nil
	}
	payloads := make([][]byte, 0, len(ms))
	for _, m := range ms {
		b, err := f.codec.Encode(m)
		if err != nil {
			return fmt.Errorf("redisfeed: encode mutation: %w", err)
		}
		payloads = append(payloads, b)
	}
	msg, err := wire.EncodeBatch(f.origin, payloads)
	if err != nil {
		return err
	}
	for _, m := range ms {
		f.cache.Invalidate(m)
	}
	return f.publish(ctx, msg)
}

func (f *Feed[M]) publish(ctx context.Context, msg []byte) error {
	if err := f.rdb.Publish(ctx, f.channel, msg).Err(); err != nil {
		return fmt.Errorf("redisfeed: publish to %s: %w", f.channel, err)
	}
	return nil
}

// Run subscribes to the channel and applies incoming mutations until ctx is
// done. Messages this feed published itself are skipped: Publish already
// applied them.
func (f *Feed[M]) Run(ctx context.Context) error {
	ps := f.rdb.Subscribe(ctx, f.channel)
	defer ps.Close()

	// Wait for the subscription to be confirmed so errors surface here.
	if _, err := ps.Receive(ctx); err != nil {
		return fmt.Errorf("redisfeed: subscribe %s: %w", f.channel, err)
	}
	f.log.Info("feed subscribed", subcache.Fields{"channel": f.channel, "origin": f.origin.String()})

	ch := ps.Channel()
	for {
		select {
		case <-ctx.Done():
			return nil
		case msg, ok := <-ch:
			if !ok {
				return nil
			}
			if _, err := f.dispatch([]byte(msg.Payload)); err != nil {
				f.log.Warn("feed message dropped", subcache.Fields{"channel": msg.Channel, "err": err})
			}
		}
	}
}

// dispatch applies one raw message and returns the number of matched entries.
func (f *Feed[M]) dispatch(raw []byte) (int, error) {
	f.received.Add(1)
	msg, err := wire.Decode(raw)
	if err != nil {
		f.corrupt.Add(1)
		return 0, err
	}
	if msg.Origin == f.origin {
		f.own.Add(1)
		return 0, nil
	}

	if msg.Kind == wire.KindAll {
		f.applied.Add(1)
		return f.cache.InvalidateAll(), nil
	}
	// Decode everything first so a corrupt batch is not half applied.
	ms := make([]M, 0, len(msg.Payloads))
	for _, p := range msg.Payloads {
		m, err := f.codec.Decode(p)
		if err != nil {
			f.corrupt.Add(1)
			return 0, fmt.Errorf("redisfeed: decode %s payload: %w", msg.Kind, err)
		}
		ms = append(ms, m)
	}
	n := 0
	for _, m := range ms {
		n += f.cache.Invalidate(m)
		f.applied.Add(1)
	}
	f.log.Debug("feed applied", subcache.Fields{"kind": msg.Kind.String(), "mutations": len(ms), "matched": n})
	return n, nil
}
