// Package controlplane serves a read-only admin API over the running gateway:
// process stats, the loaded command catalog and the delivery log.
package controlplane

import (
	"encoding/json"
	"errors"
	"net/http"
	"runtime"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/tjfontaine/interactions-gateway/internal/discord"
	"github.com/tjfontaine/interactions-gateway/internal/responses"
	"github.com/tjfontaine/interactions-gateway/internal/storage"
)

const (
	defaultListLimit = 50
	maxListLimit     = 200
)

// Catalog exposes the command table currently in use.
type Catalog interface {
	Load() *responses.Table
}

// Options wires the server to the gateway's components. Store may be nil when
// the delivery log is disabled.
type Options struct {
	Store      storage.DeliveryStore
	Catalog    Catalog
	QueueDepth func() int
	Workers    int
}

type Server struct {
	router    *chi.Mux
	startTime time.Time
	opts      Options
}

func NewServer(opts Options) *Server {
	s := &Server{
		router:    chi.NewRouter(),
		startTime: time.Now(),
		opts:      opts,
	}
	s.routes()
	return s
}

func (s *Server) routes() {
	s.router.Get("/api/stats", s.handleStats)
	s.router.Get("/api/commands", s.handleListCommands)
	s.router.Get("/api/deliveries", s.handleListDeliveries)
	s.router.Get("/api/deliveries/{delivery_id}", s.handleDeliveryDetail)
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

type StatsResponse struct {
	Uptime       string      `json:"uptime"`
	GoVersion    string      `json:"go_version"`
	NumGoroutine int         `json:"num_goroutine"`
	Workers      int         `json:"workers"`
	QueueDepth   int         `json:"queue_depth"`
	Commands     int         `json:"commands"`
	Memory       MemoryStats `json:"memory"`
}

type MemoryStats struct {
	Alloc      uint64 `json:"alloc"`
	TotalAlloc uint64 `json:"total_alloc"`
	Sys        uint64 `json:"sys"`
	NumGC      uint32 `json:"num_gc"`
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	var m runtime.MemStats
	runtime.ReadMemStats(&m)

	stats := StatsResponse{
		Uptime:       time.Since(s.startTime).Round(time.Second).String(),
		GoVersion:    runtime.Version(),
		NumGoroutine: runtime.NumGoroutine(),
		Workers:      s.opts.Workers,
		Memory: MemoryStats{
			Alloc:      m.Alloc,
			TotalAlloc: m.TotalAlloc,
			Sys:        m.Sys,
			NumGC:      m.NumGC,
		},
	}
	if s.opts.QueueDepth != nil {
		stats.QueueDepth = s.opts.QueueDepth()
	}
	if s.opts.Catalog != nil {
		stats.Commands = s.opts.Catalog.Load().Len()
	}
	writeJSON(w, http.StatusOK, stats)
}

// CommandSummary describes one catalog entry.
type CommandSummary struct {
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
	Content     string `json:"content,omitempty"`
	Embeds      int    `json:"embeds"`
	Buttons     int    `json:"buttons"`
}

type CommandListResponse struct {
	Commands []CommandSummary `json:"commands"`
}

func (s *Server) handleListCommands(w http.ResponseWriter, r *http.Request) {
	resp := CommandListResponse{Commands: []CommandSummary{}}
	if s.opts.Catalog != nil {
		for _, e := range s.opts.Catalog.Load().Entries() {
			resp.Commands = append(resp.Commands, CommandSummary{
				Name:        e.Name,
				Description: e.Description,
				Content:     e.Message.Content,
				Embeds:      len(e.Message.Embeds),
				Buttons:     countButtons(e.Message.Components),
			})
		}
	}
	writeJSON(w, http.StatusOK, resp)
}

func countButtons(rows []discord.ActionRow) int {
	n := 0
	for _, row := range rows {
		n += len(row.Components)
	}
	return n
}

type DeliveryListResponse struct {
	Deliveries []*storage.DeliveryRecord `json:"deliveries"`
	Limit      int                       `json:"limit"`
	Offset     int                       `json:"offset"`
}

func (s *Server) handleListDeliveries(w http.ResponseWriter, r *http.Request) {
	if s.opts.Store == nil {
		http.Error(w, "delivery log not configured", http.StatusServiceUnavailable)
		return
	}

	q := r.URL.Query()
	limit := defaultListLimit
	offset := 0
	if v, err := strconv.Atoi(q.Get("limit")); err == nil && v > 0 && v <= maxListLimit {
		limit = v
	}
	if v, err := strconv.Atoi(q.Get("offset")); err == nil && v >= 0 {
		offset = v
	}

	records, err := s.opts.Store.ListDeliveries(r.Context(), storage.ListOptions{
		Command: q.Get("command"),
		Outcome: storage.Outcome(q.Get("outcome")),
		Limit:   limit,
		Offset:  offset,
	})
	if err != nil {
		http.Error(w, "failed to list deliveries", http.StatusInternalServerError)
		return
	}
	if records == nil {
		records = []*storage.DeliveryRecord{}
	}
	writeJSON(w, http.StatusOK, DeliveryListResponse{Deliveries: records, Limit: limit, Offset: offset})
}

func (s *Server) handleDeliveryDetail(w http.ResponseWriter, r *http.Request) {
	if s.opts.Store == nil {
		http.Error(w, "delivery log not configured", http.StatusServiceUnavailable)
		return
	}
	rec, err := s.opts.Store.GetDelivery(r.Context(), chi.URLParam(r, "delivery_id"))
	if errors.Is(err, storage.ErrNotFound) {
		http.Error(w, "delivery not found", http.StatusNotFound)
		return
	}
	if err != nil {
		http.Error(w, "failed to load delivery", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}
