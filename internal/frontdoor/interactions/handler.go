// Package interactions is the inbound webhook endpoint Discord posts
// interactions to. It authenticates each request, answers pings inline and
// acknowledges commands with a deferred response before handing them to the
// worker pool.
package interactions

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/tjfontaine/interactions-gateway/internal/apperr"
	"github.com/tjfontaine/interactions-gateway/internal/discord"
	"github.com/tjfontaine/interactions-gateway/internal/dispatch"
	"github.com/tjfontaine/interactions-gateway/internal/server"
	"github.com/tjfontaine/interactions-gateway/internal/telemetry"
)

// DefaultMaxBodyBytes bounds the request body read before verification.
const DefaultMaxBodyBytes int64 = 64 << 10

// Paths the handler is mounted on. Discord is configured with one of them.
var Paths = []string{"/", "/interactions"}

// Verifier authenticates a request from its headers and raw body.
type Verifier interface {
	VerifyHeaders(h http.Header, body []byte) error
}

// Enqueuer accepts interactions for asynchronous processing.
type Enqueuer interface {
	Enqueue(ctx context.Context, in discord.Interaction) error
}

// Option configures a Handler.
type Option func(*Handler)

func WithLogger(logger *slog.Logger) Option {
	return func(h *Handler) {
		if logger != nil {
			h.logger = logger
		}
	}
}

func WithMetrics(m *telemetry.Metrics) Option {
	return func(h *Handler) {
		h.metrics = m
	}
}

// WithReplayGuard suppresses re-enqueueing an interaction id seen recently.
func WithReplayGuard(g *ReplayGuard) Option {
	return func(h *Handler) {
		h.replay = g
	}
}

// WithMaxBodyBytes overrides DefaultMaxBodyBytes.
func WithMaxBodyBytes(n int64) Option {
	return func(h *Handler) {
		if n > 0 {
			h.maxBody = n
		}
	}
}

// Handler serves the interactions endpoint.
type Handler struct {
	verifier Verifier
	queue    Enqueuer
	replay   *ReplayGuard
	maxBody  int64
	logger   *slog.Logger
	metrics  *telemetry.Metrics
}

// NewHandler creates the endpoint handler.
func NewHandler(verifier Verifier, queue Enqueuer, opts ...Option) (*Handler, error) {
	if verifier == nil {
		return nil, errors.New("interactions handler requires a verifier")
	}
	if queue == nil {
		return nil, errors.New("interactions handler requires a queue")
	}
	h := &Handler{
		verifier: verifier,
		queue:    queue,
		maxBody:  DefaultMaxBodyBytes,
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(h)
	}
	return h, nil
}

// Mount registers the handler on every path in Paths.
func (h *Handler) Mount(r chi.Router) {
	for _, p := range Paths {
		r.Post(p, h.HandleInteraction)
	}
}

// HandleInteraction verifies, decodes and routes one interaction.
func (h *Handler) HandleInteraction(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, h.maxBody))
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			h.reject(w, r, apperr.PayloadTooLarge(h.maxBody), "payload_too_large")
			return
		}
		h.reject(w, r, apperr.MalformedInteraction(err, "unreadable body"), "malformed")
		return
	}

	// Nothing about the body is trusted, or even parsed, before this point.
	if err := h.verifier.VerifyHeaders(r.Header, body); err != nil {
		h.reject(w, r, apperr.InvalidSignature(err), "invalid_signature")
		return
	}

	var in discord.Interaction
	if err := json.Unmarshal(body, &in); err != nil {
		h.reject(w, r, apperr.MalformedInteraction(err, "invalid JSON"), "malformed")
		return
	}

	h.metrics.InteractionReceived(in.Type.String())
	server.AddLogField(ctx, "interaction_id", in.ID)
	server.AddLogField(ctx, "interaction_type", in.Type.String())

	switch in.Type {
	case discord.InteractionTypePing:
		writeJSON(w, discord.InteractionResponse{Type: discord.ResponseTypePong})

	case discord.InteractionTypeApplicationCommand:
		if in.Data == nil || in.Data.Name == "" || in.Token == "" || in.ApplicationID == "" {
			h.reject(w, r, apperr.MalformedInteraction(nil, "command interaction without data, token or application id"), "malformed")
			return
		}
		server.AddLogField(ctx, "command", in.Data.Name)
		h.enqueue(ctx, in)
		writeJSON(w, discord.InteractionResponse{Type: discord.ResponseTypeDeferredChannelMessageWithSource})

	default:
		h.reject(w, r, apperr.UnsupportedInteraction(in.Type.String()), "unsupported")
	}
}

// enqueue hands in to the worker pool. Failures are logged and counted but
// never change the acknowledgement already promised to Discord.
func (h *Handler) enqueue(ctx context.Context, in discord.Interaction) {
	if !h.replay.Admit(in.ID) {
		server.AddLogField(ctx, "duplicate", "true")
		h.logger.Info("duplicate interaction acknowledged without dispatch", slog.Any("interaction", in))
		return
	}

	err := h.queue.Enqueue(ctx, in)
	if err == nil {
		return
	}

	h.replay.Forget(in.ID)
	kind, reason := classifyEnqueueError(err)
	classified := apperr.EnqueueFailed(err, kind)
	h.metrics.EnqueueFailed(reason)
	server.AddError(ctx, classified)
	h.logger.Error("failed to enqueue interaction",
		slog.Any("interaction", in),
		slog.String("text_code", apperr.TextCode(classified)),
		slog.String("error", err.Error()),
	)
}

// classifyEnqueueError maps a queue error to its failure kind and metric label.
func classifyEnqueueError(err error) (apperr.EnqueueFailure, string) {
	switch {
	case errors.Is(err, dispatch.ErrQueueFull):
		return apperr.EnqueueQueueFull, "queue_full"
	case errors.Is(err, dispatch.ErrQueueClosed):
		return apperr.EnqueueQueueClosed, "queue_closed"
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return apperr.EnqueueAborted, "request_cancelled"
	default:
		return apperr.EnqueueUnexpected, "unexpected"
	}
}

func (h *Handler) reject(w http.ResponseWriter, r *http.Request, err error, reason string) {
	h.metrics.RequestRejected(reason)
	server.AddError(r.Context(), err)
	server.AddLogField(r.Context(), "text_code", apperr.TextCode(err))
	h.logger.Debug("interaction rejected",
		slog.String("reason", reason),
		slog.String("error", err.Error()),
	)
	http.Error(w, apperr.Message(err), apperr.HTTPStatus(err))
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_ = json.NewEncoder(w).Encode(v)
}
