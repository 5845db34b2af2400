// Package worker runs the fixed set of goroutines that complete deferred
// interactions: each one resolves the command against the response table and
// edits the original response through the Discord webhook API.
package worker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime/debug"
	"sync"
	"sync/atomic"
	"time"

	"github.com/tjfontaine/interactions-gateway/internal/apperr"
	"github.com/tjfontaine/interactions-gateway/internal/discord"
	"github.com/tjfontaine/interactions-gateway/internal/dispatch"
	"github.com/tjfontaine/interactions-gateway/internal/responses"
	"github.com/tjfontaine/interactions-gateway/internal/storage"
	"github.com/tjfontaine/interactions-gateway/internal/telemetry"
)

const (
	DefaultSize            = 5
	DefaultDeliveryTimeout = 10 * time.Second
	DefaultFallbackMessage = "Sorry, I don't know that command."

	recordTimeout = 5 * time.Second
)

// UnknownCommandPolicy selects what a worker sends when no entry matches.
type UnknownCommandPolicy string

const (
	// UnknownCommandFallback edits the deferred response with the fallback message.
	UnknownCommandFallback UnknownCommandPolicy = "fallback"
	// UnknownCommandSilent leaves the deferred response untouched.
	UnknownCommandSilent UnknownCommandPolicy = "silent"
)

// Deliverer sends the follow-up for an interaction.
type Deliverer interface {
	EditOriginalResponse(ctx context.Context, applicationID, token string, msg discord.Message) error
}

// Source yields interactions to process. Dequeue returns dispatch.ErrQueueClosed
// once no more work will arrive.
type Source interface {
	Dequeue(ctx context.Context) (discord.Interaction, error)
}

// Config controls pool size and delivery behaviour.
type Config struct {
	Size            int
	MaxRetries      int
	RetryBackoff    time.Duration
	MaxBackoff      time.Duration
	DeliveryTimeout time.Duration
	UnknownCommand  UnknownCommandPolicy
	FallbackMessage string
}

// ExponentialRetryPolicy doubles the delay on every attempt up to Max.
type ExponentialRetryPolicy struct {
	Initial time.Duration
	Max     time.Duration
}

// NextDelay returns the wait before retrying after the given attempt (1-based).
func (p ExponentialRetryPolicy) NextDelay(attempt int) time.Duration {
	initial := p.Initial
	if initial <= 0 {
		initial = 500 * time.Millisecond
	}
	maximum := p.Max
	if maximum <= 0 {
		maximum = 30 * time.Second
	}
	delay := initial
	for i := 1; i < attempt; i++ {
		delay *= 2
		if delay >= maximum {
			return maximum
		}
	}
	if delay > maximum {
		return maximum
	}
	return delay
}

// Option configures a Pool.
type Option func(*Pool)

func WithLogger(logger *slog.Logger) Option {
	return func(p *Pool) {
		if logger != nil {
			p.logger = logger
		}
	}
}

// WithStore records one delivery record per processed interaction.
func WithStore(store storage.DeliveryStore) Option {
	return func(p *Pool) {
		p.store = store
	}
}

func WithMetrics(m *telemetry.Metrics) Option {
	return func(p *Pool) {
		p.metrics = m
	}
}

// Pool is a fixed-size set of workers sharing one Source.
type Pool struct {
	cfg       Config
	source    Source
	lookup    responses.Lookup
	deliverer Deliverer
	retry     ExponentialRetryPolicy

	logger  *slog.Logger
	store   storage.DeliveryStore
	metrics *telemetry.Metrics
	now     func() time.Time
	sleep   func(ctx context.Context, d time.Duration) error

	started atomic.Bool
	wg      sync.WaitGroup
}

// New validates cfg and builds a pool. Workers do not run until Start.
func New(cfg Config, source Source, lookup responses.Lookup, deliverer Deliverer, opts ...Option) (*Pool, error) {
	if source == nil {
		return nil, errors.New("worker pool requires a source")
	}
	if lookup == nil {
		return nil, errors.New("worker pool requires a response lookup")
	}
	if deliverer == nil {
		return nil, errors.New("worker pool requires a deliverer")
	}
	if cfg.Size < 0 {
		return nil, fmt.Errorf("worker count must not be negative, got %d", cfg.Size)
	}
	if cfg.MaxRetries < 0 {
		return nil, fmt.Errorf("max retries must not be negative, got %d", cfg.MaxRetries)
	}
	if cfg.Size == 0 {
		cfg.Size = DefaultSize
	}
	if cfg.DeliveryTimeout <= 0 {
		cfg.DeliveryTimeout = DefaultDeliveryTimeout
	}
	switch cfg.UnknownCommand {
	case "":
		cfg.UnknownCommand = UnknownCommandFallback
	case UnknownCommandFallback, UnknownCommandSilent:
	default:
		return nil, fmt.Errorf("unknown command policy %q: must be %q or %q", cfg.UnknownCommand, UnknownCommandFallback, UnknownCommandSilent)
	}
	if cfg.FallbackMessage == "" {
		cfg.FallbackMessage = DefaultFallbackMessage
	}

	p := &Pool{
		cfg:       cfg,
		source:    source,
		lookup:    lookup,
		deliverer: deliverer,
		retry:     ExponentialRetryPolicy{Initial: cfg.RetryBackoff, Max: cfg.MaxBackoff},
		logger:    slog.Default(),
		now:       time.Now,
		sleep:     sleepContext,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p, nil
}

// Size returns the number of workers.
func (p *Pool) Size() int {
	return p.cfg.Size
}

// Start launches the workers. Cancelling ctx aborts in-flight deliveries and
// stops the workers without draining; closing the source drains it first.
func (p *Pool) Start(ctx context.Context) error {
	if !p.started.CompareAndSwap(false, true) {
		return errors.New("worker pool already started")
	}
	for i := 0; i < p.cfg.Size; i++ {
		p.wg.Add(1)
		go p.run(ctx, i)
	}
	p.logger.Info("worker pool started", slog.Int("workers", p.cfg.Size))
	return nil
}

// Wait blocks until every worker has exited or ctx is done.
func (p *Pool) Wait(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (p *Pool) run(ctx context.Context, id int) {
	defer p.wg.Done()
	logger := p.logger.With(slog.Int("worker", id))
	for {
		in, err := p.source.Dequeue(ctx)
		if err != nil {
			if errors.Is(err, dispatch.ErrQueueClosed) || ctx.Err() != nil {
				logger.Debug("worker exiting", slog.String("reason", err.Error()))
				return
			}
			logger.Error("dequeue failed", slog.String("error", err.Error()))
			if p.sleep(ctx, 100*time.Millisecond) != nil {
				return
			}
			continue
		}
		p.process(ctx, logger, in)
	}
}

// process completes one interaction. It never panics and never returns an
// error: every failure ends up in the log, the delivery record and metrics.
func (p *Pool) process(ctx context.Context, logger *slog.Logger, in discord.Interaction) {
	start := p.now()
	rec := &storage.DeliveryRecord{
		InteractionID: in.ID,
		ApplicationID: in.ApplicationID,
		Command:       in.CommandName(),
		CreatedAt:     start.UTC(),
	}
	finished := false
	finish := func() {
		finished = true
		p.finish(ctx, logger, rec, start)
	}

	defer func() {
		if r := recover(); r != nil {
			logger.Error("panic while processing interaction",
				slog.Any("interaction", in),
				slog.Any("panic", r),
				slog.String("stack", string(debug.Stack())),
			)
			if !finished {
				rec.Outcome = storage.OutcomeFailed
				rec.Error = fmt.Sprintf("panic: %v", r)
				finish()
			}
		}
	}()

	if in.Data == nil || in.Data.Name == "" || in.Token == "" || in.ApplicationID == "" {
		err := apperr.MalformedInteraction(nil, "missing command data, token or application id")
		logger.Error("cannot process interaction",
			slog.Any("interaction", in),
			slog.String("text_code", apperr.TextCode(err)),
		)
		rec.Outcome = storage.OutcomeMalformed
		rec.Error = err.Error()
		finish()
		return
	}

	msg, outcome, send := p.resolve(logger, in)
	rec.Outcome = outcome
	if !send {
		finish()
		return
	}

	attempts, err := p.deliver(ctx, logger, in, msg)
	rec.Attempts = attempts
	if err != nil {
		status := discord.StatusCode(err)
		failure := apperr.DeliveryFailed(err, status, attempts)
		logger.Error("follow-up delivery failed",
			slog.Any("interaction", in),
			slog.String("text_code", apperr.TextCode(failure)),
			slog.Int("status", status),
			slog.Int("attempts", attempts),
			slog.String("error", err.Error()),
		)
		rec.Outcome = storage.OutcomeFailed
		rec.StatusCode = status
		rec.Error = err.Error()
		finish()
		return
	}

	rec.StatusCode = 200
	logger.Debug("follow-up delivered",
		slog.Any("interaction", in),
		slog.Int("attempts", attempts),
	)
	finish()
}

// resolve picks the follow-up message. send is false when nothing should be
// delivered.
func (p *Pool) resolve(logger *slog.Logger, in discord.Interaction) (msg discord.Message, outcome storage.Outcome, send bool) {
	name := in.CommandName()
	if entry, ok := p.lookup.Lookup(name); ok {
		return entry.Message, storage.OutcomeDelivered, true
	}

	err := apperr.UnknownCommand(name)
	logger.Warn("no response configured for command",
		slog.Any("interaction", in),
		slog.String("text_code", apperr.TextCode(err)),
		slog.String("policy", string(p.cfg.UnknownCommand)),
	)
	if p.cfg.UnknownCommand == UnknownCommandSilent {
		return discord.Message{}, storage.OutcomeUnknownCommand, false
	}
	return discord.Message{Content: p.cfg.FallbackMessage}, storage.OutcomeUnknownCommand, true
}

// deliver performs the PATCH, retrying transport errors, 429 and 5xx up to
// MaxRetries times. It returns the number of attempts made.
func (p *Pool) deliver(ctx context.Context, logger *slog.Logger, in discord.Interaction, msg discord.Message) (int, error) {
	for attempt := 1; ; attempt++ {
		callCtx, cancel := context.WithTimeout(ctx, p.cfg.DeliveryTimeout)
		err := p.deliverer.EditOriginalResponse(callCtx, in.ApplicationID, in.Token, msg)
		cancel()
		if err == nil {
			return attempt, nil
		}
		if attempt > p.cfg.MaxRetries || !discord.IsRetryable(err) {
			return attempt, err
		}

		delay := discord.RetryAfter(err)
		if delay <= 0 {
			delay = p.retry.NextDelay(attempt)
		}
		logger.Warn("retrying follow-up delivery",
			slog.Any("interaction", in),
			slog.Int("attempt", attempt),
			slog.Duration("delay", delay),
			slog.Int("status", discord.StatusCode(err)),
		)
		if p.sleep(ctx, delay) != nil {
			return attempt, err
		}
	}
}

func (p *Pool) finish(ctx context.Context, logger *slog.Logger, rec *storage.DeliveryRecord, start time.Time) {
	completed := p.now()
	rec.CompletedAt = completed.UTC()
	p.metrics.DeliveryCompleted(string(rec.Outcome), completed.Sub(start))

	if p.store == nil {
		return
	}
	// The record outlives a cancelled run context so shutdown still leaves an audit trail.
	recordCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), recordTimeout)
	defer cancel()
	if err := p.store.RecordDelivery(recordCtx, rec); err != nil {
		logger.Error("failed to record delivery",
			slog.String("interaction_id", rec.InteractionID),
			slog.String("error", err.Error()),
		)
	}
}

func sleepContext(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
