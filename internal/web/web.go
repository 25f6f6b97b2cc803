// Package web exposes the local HTTP surface: the stored schedule, scrape
// triggering, ICS download and a progress event stream. It is the
// stand-alone replacement for a browser-extension popup.
package web

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"fptucal/internal/config"
	"fptucal/internal/ics"
	appLog "fptucal/internal/log"
	"fptucal/internal/model"
	"fptucal/internal/scrape"
	"fptucal/internal/store"
)

// Server wires the store and the orchestrator into HTTP handlers.
type Server struct {
	cfg   *config.Config
	store *store.Store
	orch  *scrape.Orchestrator
}

func NewServer(cfg *config.Config, st *store.Store, orch *scrape.Orchestrator) *Server {
	return &Server{cfg: cfg, store: st, orch: orch}
}

// Router builds the chi handler tree.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)

	r.Get("/health", s.handleHealth)
	r.Route("/api", func(r chi.Router) {
		r.Get("/classes", s.handleListClasses)
		r.Delete("/classes/{activityID}", s.handleDeleteClass)
		r.Put("/classes/{activityID}", s.handleEditClass)
		r.Post("/scrape", s.handleScrape)
		r.Get("/export.ics", s.handleExport)
		r.Get("/events", s.handleEvents)
	})
	return r
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("OK"))
}

func (s *Server) handleListClasses(w http.ResponseWriter, r *http.Request) {
	classes, err := s.store.Classes(r.Context())
	if err != nil {
		appLog.Error("list classes failed", err)
		writeError(w, http.StatusInternalServerError, "failed to load schedule")
		return
	}
	if classes == nil {
		classes = []model.ClassRecord{}
	}
	writeJSON(w, http.StatusOK, classes)
}

func (s *Server) handleDeleteClass(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "activityID")
	if err := s.store.Delete(r.Context(), id); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			writeError(w, http.StatusNotFound, "class not found")
			return
		}
		appLog.Error("delete class failed", err, "activity_id", id)
		writeError(w, http.StatusInternalServerError, "failed to delete class")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleEditClass(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "activityID")

	var patch store.EditPatch
	if err := json.NewDecoder(r.Body).Decode(&patch); err != nil {
		writeError(w, http.StatusBadRequest, "invalid edit payload")
		return
	}

	updated, err := s.store.Edit(r.Context(), id, patch)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			writeError(w, http.StatusNotFound, "class not found")
			return
		}
		appLog.Error("edit class failed", err, "activity_id", id)
		writeError(w, http.StatusInternalServerError, "failed to edit class")
		return
	}
	writeJSON(w, http.StatusOK, updated)
}

// scrapeRequest is the POST /api/scrape payload. Omitted dates fall back to
// the configured default window around today.
type scrapeRequest struct {
	Start  string `json:"start"`
	End    string `json:"end"`
	WaitMs int    `json:"waitMs"`
	Mode   string `json:"mode"` // "merge" (default) or "replace"
}

func (s *Server) handleScrape(w http.ResponseWriter, r *http.Request) {
	var req scrapeRequest
	// An empty body means "use defaults".
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
		writeError(w, http.StatusBadRequest, "invalid scrape payload")
		return
	}

	start, end, err := s.resolveRange(req.Start, req.End)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if req.WaitMs <= 0 {
		req.WaitMs = s.cfg.WaitMs
	}
	if req.Mode == "" {
		req.Mode = "merge"
	}
	if req.Mode != "merge" && req.Mode != "replace" {
		writeError(w, http.StatusBadRequest, "mode must be merge or replace")
		return
	}

	// The run is bound to the request: a client that disconnects cancels
	// its own scrape.
	result := s.orch.Run(r.Context(), scrape.Options{Start: start, End: end, WaitMs: req.WaitMs})
	if !result.Success {
		status := http.StatusBadGateway
		if result.Error == scrape.ErrBusy.Error() {
			status = http.StatusConflict
		}
		writeJSON(w, status, result)
		return
	}

	incoming := flattenClasses(result)
	switch req.Mode {
	case "replace":
		_, err = s.store.Replace(r.Context(), incoming)
	default:
		_, err = s.store.MergeSave(r.Context(), incoming)
	}
	if err != nil {
		appLog.Error("persisting scraped classes failed", err)
		writeError(w, http.StatusInternalServerError, "scrape succeeded but persistence failed")
		return
	}

	writeJSON(w, http.StatusOK, result)
}

func (s *Server) handleExport(w http.ResponseWriter, r *http.Request) {
	classes, err := s.store.Classes(r.Context())
	if err != nil {
		appLog.Error("export: loading schedule failed", err)
		writeError(w, http.StatusInternalServerError, "failed to load schedule")
		return
	}

	q := r.URL.Query()
	if from, to := q.Get("start"), q.Get("end"); from != "" || to != "" {
		classes = filterByDate(classes, from, to)
	}
	if len(classes) == 0 {
		writeError(w, http.StatusBadRequest, "no classes to export")
		return
	}

	body, err := ics.Encode(classes, time.Now())
	if err != nil {
		if errors.Is(err, ics.ErrNoClasses) {
			writeError(w, http.StatusBadRequest, "no classes to export")
			return
		}
		appLog.Error("export: encoding failed", err)
		writeError(w, http.StatusInternalServerError, "failed to encode calendar")
		return
	}

	w.Header().Set("Content-Type", "text/calendar; charset=utf-8")
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", ics.Filename(classes)))
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte(body))
}

// handleEvents streams scrape progress as server-sent events. Delivery is
// best-effort: a client that never connects misses nothing critical, and a
// closed connection just drops the subscription.
func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")

	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming unsupported", http.StatusInternalServerError)
		return
	}

	events, cancel := s.orch.Bus().Subscribe()
	defer cancel()

	heartbeat := time.NewTicker(15 * time.Second)
	defer heartbeat.Stop()

	fmt.Fprintf(w, "event: hello\ndata: {}\n\n")
	flusher.Flush()

	for {
		select {
		case <-r.Context().Done():
			return
		case <-heartbeat.C:
			fmt.Fprintf(w, "event: ping\ndata: {}\n\n")
			flusher.Flush()
		case evt, open := <-events:
			if !open {
				return
			}
			payload, err := json.Marshal(evt.Payload)
			if err != nil {
				continue
			}
			fmt.Fprintf(w, "event: %s\ndata: %s\n\n", evt.Topic, payload)
			flusher.Flush()
		}
	}
}

func (s *Server) resolveRange(startStr, endStr string) (time.Time, time.Time, error) {
	now := time.Now()
	start := now.AddDate(0, 0, -s.cfg.RangePastDays)
	end := now.AddDate(0, 0, s.cfg.RangeFutureDays)

	var err error
	if startStr != "" {
		if start, err = time.Parse(model.DateLayout, startStr); err != nil {
			return time.Time{}, time.Time{}, fmt.Errorf("invalid start date %q", startStr)
		}
	}
	if endStr != "" {
		if end, err = time.Parse(model.DateLayout, endStr); err != nil {
			return time.Time{}, time.Time{}, fmt.Errorf("invalid end date %q", endStr)
		}
	}
	if end.Before(start) {
		return time.Time{}, time.Time{}, errors.New("end date before start date")
	}
	return start, end, nil
}

func flattenClasses(result model.ScrapeResult) []model.ClassRecord {
	if result.Data == nil {
		return nil
	}
	var out []model.ClassRecord
	for _, wk := range result.Data.Weeks {
		out = append(out, wk.Classes...)
	}
	return out
}

func filterByDate(classes []model.ClassRecord, from, to string) []model.ClassRecord {
	out := make([]model.ClassRecord, 0, len(classes))
	for _, c := range classes {
		if from != "" && c.Date < from {
			continue
		}
		if to != "" && c.Date > to {
			continue
		}
		out = append(out, c)
	}
	return out
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		appLog.Error("failed to write JSON response", err)
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	type errResp struct {
		Error string `json:"error"`
	}
	writeJSON(w, status, errResp{Error: msg})
}
