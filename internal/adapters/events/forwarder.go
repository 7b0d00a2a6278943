// Package events ships ledger events to external consumers. Delivery is
// at-least-once: a sink that fails is retried and consumers dedupe by
// Event.Key.
package events

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/alejandrodnm/blitzrace/internal/domain"
	"github.com/alejandrodnm/blitzrace/internal/ports"
)

// Dedup remembers the last N event keys.
type Dedup struct {
	seen map[string]struct{}
	ring []string
	next int
}

// NewDedup creates a Dedup holding up to size keys.
func NewDedup(size int) *Dedup {
	if size <= 0 {
		size = 1
	}
	return &Dedup{seen: make(map[string]struct{}, size), ring: make([]string, size)}
}

// Has reports whether key is recorded.
func (d *Dedup) Has(key string) bool {
	_, ok := d.seen[key]
	return ok
}

// Mark records key, forgetting the oldest key when full.
func (d *Dedup) Mark(key string) {
	if d.Has(key) {
		return
	}
	if old := d.ring[d.next]; old != "" {
		delete(d.seen, old)
	}
	d.ring[d.next] = key
	d.next = (d.next + 1) % len(d.ring)
	d.seen[key] = struct{}{}
}

// Seen records key and reports whether it was already recorded.
func (d *Dedup) Seen(key string) bool {
	if d.Has(key) {
		return true
	}
	d.Mark(key)
	return false
}

// Forwarder subscribes to an event source and publishes each event to every
// sink. A key is only marked delivered for a sink once that sink accepted it;
// events a sink rejected are kept and retried, and after a resubscribe the
// events committed while the stream was down are read back from the log.
type Forwarder struct {
	source     ports.EventSource
	sinks      []ports.EventSink
	log        ports.EventLog // optional
	dedup      *Dedup
	retries    int
	retryWait  time.Duration
	resubEvery time.Duration
	retryEvery time.Duration

	lastSeq    uint64 // highest seq handed to the sinks
	pending    []domain.Event
	maxPending int
}

// NewForwarder creates a Forwarder.
func NewForwarder(source ports.EventSource, sinks ...ports.EventSink) *Forwarder {
	return &Forwarder{
		source:     source,
		sinks:      sinks,
		dedup:      NewDedup(4096),
		retries:    3,
		retryWait:  200 * time.Millisecond,
		resubEvery: time.Second,
		retryEvery: 5 * time.Second,
		maxPending: 4096,
	}
}

// WithLog enables backfill from log for every event after seq after.
func (f *Forwarder) WithLog(log ports.EventLog, after uint64) *Forwarder {
	f.log = log
	f.lastSeq = after
	return f
}

// Run forwards events until ctx is done, resubscribing when the stream drops.
func (f *Forwarder) Run(ctx context.Context) error {
	for {
		ch, err := f.source.Subscribe(ctx)
		if err != nil {
			slog.Warn("event subscribe failed", "err", err)
		} else {
			f.backfill(ctx)
			f.drain(ctx, ch)
		}
		select {
		case <-ctx.Done():
			return nil
		case <-time.After(f.resubEvery):
		}
	}
}

// backfill forwards what the log holds after lastSeq. It runs right after
// subscribing, so anything committed in between arrives twice and is deduped.
func (f *Forwarder) backfill(ctx context.Context) {
	if f.log == nil {
		return
	}
	evs, err := f.log.EventsSince(ctx, f.lastSeq)
	if err != nil {
		slog.Warn("event backfill failed", "after", f.lastSeq, "err", err)
		return
	}
	if len(evs) > 0 {
		slog.Info("event backfill", "after", f.lastSeq, "events", len(evs))
	}
	for _, ev := range evs {
		f.handle(ctx, ev)
	}
}

func (f *Forwarder) drain(ctx context.Context, ch <-chan domain.Event) {
	retry := time.NewTicker(f.retryEvery)
	defer retry.Stop()
	for {
		select {
		case ev, ok := <-ch:
			if !ok {
				return
			}
			f.handle(ctx, ev)
		case <-retry.C:
			f.retryPending(ctx)
		case <-ctx.Done():
			return
		}
	}
}

// handle forwards ev and keeps it for a later retry if a sink rejected it.
func (f *Forwarder) handle(ctx context.Context, ev domain.Event) {
	if ev.Seq > f.lastSeq {
		f.lastSeq = ev.Seq
	}
	if err := f.Forward(ctx, ev); err != nil {
		slog.Error("event forward failed", "event", ev.Key(), "type", ev.Type, "err", err)
		if len(f.pending) >= f.maxPending {
			slog.Error("event retry queue full, dropping oldest", "event", f.pending[0].Key())
			f.pending = f.pending[1:]
		}
		f.pending = append(f.pending, ev)
	}
}

func (f *Forwarder) retryPending(ctx context.Context) {
	if len(f.pending) == 0 {
		return
	}
	pending := f.pending
	f.pending = nil
	for _, ev := range pending {
		f.handle(ctx, ev)
	}
}

// Pending returns how many events wait for a retry.
func (f *Forwarder) Pending() int { return len(f.pending) }

// Forward publishes ev to every sink that has not accepted it yet.
func (f *Forwarder) Forward(ctx context.Context, ev domain.Event) error {
	var failed []string
	for _, s := range f.sinks {
		key := s.Name() + "/" + ev.Key()
		if f.dedup.Has(key) {
			continue
		}
		if err := f.publish(ctx, s, ev); err != nil {
			slog.Warn("sink publish failed", "sink", s.Name(), "event", ev.Key(), "err", err)
			failed = append(failed, s.Name())
			continue
		}
		f.dedup.Mark(key)
	}
	if len(failed) > 0 {
		return fmt.Errorf("events.Forward: %s: sinks failed: %v", ev.Key(), failed)
	}
	return nil
}

func (f *Forwarder) publish(ctx context.Context, s ports.EventSink, ev domain.Event) error {
	var err error
	for attempt := 0; attempt <= f.retries; attempt++ {
		if err = s.Publish(ctx, ev); err == nil {
			return nil
		}
		if attempt == f.retries {
			break
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(f.retryWait << attempt):
		}
	}
	return err
}

// Close closes every sink.
func (f *Forwarder) Close() error {
	var first error
	for _, s := range f.sinks {
		if err := s.Close(); err != nil && first == nil {
			first = err
		}
	}
	return first
}
