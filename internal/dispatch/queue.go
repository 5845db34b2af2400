// Package dispatch hands verified interactions from the HTTP endpoint to the
// worker pool.
package dispatch

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/tjfontaine/interactions-gateway/internal/discord"
)

var (
	ErrQueueFull   = errors.New("dispatch queue full")
	ErrQueueClosed = errors.New("dispatch queue closed")
)

// Overflow selects what Enqueue does when the queue is at capacity.
type Overflow string

const (
	// OverflowReject fails immediately with ErrQueueFull.
	OverflowReject Overflow = "reject"
	// OverflowBlock waits for space up to the enqueue timeout.
	OverflowBlock Overflow = "block"
)

const DefaultCapacity = 1024

// Options configures a Queue.
type Options struct {
	Capacity       int
	Overflow       Overflow
	EnqueueTimeout time.Duration
}

// Queue is a bounded FIFO shared by many producers and a fixed set of
// consumers. Each enqueued interaction is received by exactly one consumer.
type Queue struct {
	items    chan discord.Interaction
	done     chan struct{}
	overflow Overflow
	timeout  time.Duration

	mu        sync.RWMutex
	closed    bool
	closeOnce sync.Once
}

// New creates a queue. Zero options select a capacity of 1024 and the
// reject overflow policy.
func New(opts Options) (*Queue, error) {
	if opts.Capacity < 0 {
		return nil, fmt.Errorf("capacity must not be negative, got %d", opts.Capacity)
	}
	if opts.Capacity == 0 {
		opts.Capacity = DefaultCapacity
	}
	switch opts.Overflow {
	case "":
		opts.Overflow = OverflowReject
	case OverflowReject, OverflowBlock:
	default:
		return nil, fmt.Errorf("unknown overflow policy %q", opts.Overflow)
	}
	return &Queue{
		items:    make(chan discord.Interaction, opts.Capacity),
		done:     make(chan struct{}),
		overflow: opts.Overflow,
		timeout:  opts.EnqueueTimeout,
	}, nil
}

// Enqueue hands in to a consumer. It returns ErrQueueClosed once Close has
// been called and ErrQueueFull when the queue is at capacity and the
// overflow policy gives up.
func (q *Queue) Enqueue(ctx context.Context, in discord.Interaction) error {
	// Holding the read lock keeps Close from closing items mid-send.
	q.mu.RLock()
	defer q.mu.RUnlock()
	if q.closed {
		return ErrQueueClosed
	}

	select {
	case q.items <- in:
		return nil
	default:
	}

	if q.overflow == OverflowReject {
		return ErrQueueFull
	}

	var timeout <-chan time.Time
	if q.timeout > 0 {
		t := time.NewTimer(q.timeout)
		defer t.Stop()
		timeout = t.C
	}
	select {
	case q.items <- in:
		return nil
	case <-q.done:
		return ErrQueueClosed
	case <-timeout:
		return ErrQueueFull
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Dequeue blocks until an interaction is available. After Close it keeps
// returning queued interactions until the queue is drained, then returns
// ErrQueueClosed.
func (q *Queue) Dequeue(ctx context.Context) (discord.Interaction, error) {
	select {
	case in, ok := <-q.items:
		if !ok {
			return discord.Interaction{}, ErrQueueClosed
		}
		return in, nil
	case <-ctx.Done():
		return discord.Interaction{}, ctx.Err()
	}
}

// Close stops accepting new interactions. Safe to call more than once.
func (q *Queue) Close() {
	q.closeOnce.Do(func() {
		// Wake blocked producers first so they release the read lock.
		close(q.done)
		q.mu.Lock()
		q.closed = true
		close(q.items)
		q.mu.Unlock()
	})
}

// Len reports the number of interactions waiting.
func (q *Queue) Len() int {
	return len(q.items)
}

// Cap reports the queue capacity.
func (q *Queue) Cap() int {
	return cap(q.items)
}
