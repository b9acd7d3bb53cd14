// Package server exposes the read API over HTTP: ranked keywords,
// topics, keyword details and history, bookmarks, status and the
// WebSocket push endpoint. Every JSON response uses one envelope shape.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/rs/zerolog"

	"trendwatch/internal/core"
	"trendwatch/internal/insight"
	"trendwatch/internal/query"
	"trendwatch/internal/stream"
)

// envelope is the uniform response shape.
type envelope struct {
	Success    bool   `json:"success"`
	Data       any    `json:"data,omitempty"`
	Error      string `json:"error,omitempty"`
	LastUpdate string `json:"last_update,omitempty"`
	Total      *int   `json:"total,omitempty"`
}

// Server hosts the HTTP surface.
type Server struct {
	svc       *query.Service
	bookmarks *query.Bookmarks
	hub       *stream.Hub
	clusterer insight.Clusterer
	http      *http.Server
	log       zerolog.Logger
}

// New wires the router. hub and clusterer may be nil; the corresponding
// endpoints degrade gracefully.
func New(addr string, svc *query.Service, bookmarks *query.Bookmarks, hub *stream.Hub, clusterer insight.Clusterer, log zerolog.Logger) *Server {
	s := &Server{
		svc:       svc,
		bookmarks: bookmarks,
		hub:       hub,
		clusterer: clusterer,
		log:       log.With().Str("component", "server").Logger(),
	}
	s.http = &http.Server{
		Addr:         addr,
		Handler:      s.routes(),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  120 * time.Second,
	}
	return s
}

func (s *Server) routes() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{"GET", "POST", "DELETE", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Content-Type"},
		MaxAge:         300,
	}))

	r.Route("/api", func(r chi.Router) {
		r.Get("/keywords/hot", s.handleHotKeywords)
		r.Get("/keywords/details/{keyword}", s.handleKeywordDetails)
		r.Get("/keywords/history/{keyword}", s.handleKeywordHistory)
		r.Get("/topics", s.handleTopics)
		r.Get("/topics/{id}/hooks", s.handleTopicHooks)
		r.Get("/status", s.handleStatus)
		r.Post("/refresh", s.handleRefresh)
		r.Get("/bookmarks", s.handleListBookmarks)
		r.Post("/bookmarks", s.handleAddBookmark)
		r.Delete("/bookmarks/{id}", s.handleRemoveBookmark)
	})

	if s.hub != nil {
		r.Get("/ws", stream.Handler(s.hub, s.currentUpdate, s.log))
	}
	return r
}

// currentUpdate answers a client's request_update from the published
// snapshot; no refresh is triggered.
func (s *Server) currentUpdate() *stream.Update {
	hot, ts := s.svc.HotKeywords(10)
	if ts.IsZero() {
		return nil
	}
	topics, _ := s.svc.Topics(5)
	return &stream.Update{
		Event: "trends_update",
		Data: map[string]any{
			"hot_keywords": hot,
			"topics":       topics,
			"timestamp":    ts,
		},
	}
}

// Handler returns the router, mainly for tests.
func (s *Server) Handler() http.Handler { return s.http.Handler }

// Start serves until the listener fails or Shutdown is called.
func (s *Server) Start() error {
	s.log.Info().Str("addr", s.http.Addr).Msg("http server listening")
	if err := s.http.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown drains in-flight requests.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.http.Shutdown(ctx)
}

// Before the first successful refresh the list endpoints serve empty
// data with no last_update rather than an error; upstream trouble never
// fails a read.
func (s *Server) handleHotKeywords(w http.ResponseWriter, r *http.Request) {
	n := queryInt(r, "n", 30)
	hot, ts := s.svc.HotKeywords(n)
	if hot == nil {
		hot = []core.FusedKeyword{}
	}
	total := len(hot)
	env := envelope{Success: true, Data: hot, Total: &total}
	if !ts.IsZero() {
		env.LastUpdate = ts.Format(time.RFC3339)
	}
	s.writeJSON(w, http.StatusOK, env)
}

func (s *Server) handleTopics(w http.ResponseWriter, r *http.Request) {
	n := queryInt(r, "n", 0)
	topics, ts := s.svc.Topics(n)
	if topics == nil {
		topics = []core.Topic{}
	}
	total := len(topics)
	env := envelope{Success: true, Data: topics, Total: &total}
	if !ts.IsZero() {
		env.LastUpdate = ts.Format(time.RFC3339)
	}
	s.writeJSON(w, http.StatusOK, env)
}

func (s *Server) handleTopicHooks(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	topic, ok := s.svc.Topic(id)
	if !ok {
		s.writeError(w, http.StatusNotFound, fmt.Sprintf("topic %q not found", id))
		return
	}

	hooks := topic.Hooks
	if len(hooks) == 0 && s.clusterer != nil {
		generated, err := s.clusterer.GenerateHooks(r.Context(), topic.Topic, topic.Keywords)
		if err != nil {
			s.log.Warn().Str("topic", id).Err(err).Msg("hook generation failed")
		} else {
			hooks = generated
		}
	}

	s.writeJSON(w, http.StatusOK, envelope{
		Success: true,
		Data: map[string]any{
			"topic":       topic.Topic,
			"hook_copies": hooks,
		},
	})
}

func (s *Server) handleKeywordDetails(w http.ResponseWriter, r *http.Request) {
	keyword := chi.URLParam(r, "keyword")
	details, ok := s.svc.KeywordDetails(keyword)
	if !ok {
		s.writeError(w, http.StatusNotFound, fmt.Sprintf("keyword %q not found", keyword))
		return
	}
	s.writeJSON(w, http.StatusOK, envelope{Success: true, Data: details})
}

func (s *Server) handleKeywordHistory(w http.ResponseWriter, r *http.Request) {
	keyword := chi.URLParam(r, "keyword")
	days := queryInt(r, "days", 7)
	if days < 1 || days > 30 {
		s.writeError(w, http.StatusBadRequest, "days must be between 1 and 30")
		return
	}
	s.writeJSON(w, http.StatusOK, envelope{
		Success: true,
		Data: map[string]any{
			"keyword": keyword,
			"history": s.svc.History(keyword, days),
		},
	})
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, envelope{Success: true, Data: s.svc.Status()})
}

func (s *Server) handleRefresh(w http.ResponseWriter, r *http.Request) {
	// The refresh runs (or joins the in-flight pass) in the background;
	// clients observe the result via polling or the push stream.
	go func() {
		if _, err := s.svc.RefreshNow(context.Background()); err != nil {
			s.log.Error().Err(err).Msg("requested refresh failed")
		}
	}()
	s.writeJSON(w, http.StatusAccepted, envelope{Success: true, Data: map[string]string{"status": "refresh started"}})
}

func (s *Server) handleListBookmarks(w http.ResponseWriter, r *http.Request) {
	list := s.bookmarks.List()
	total := len(list)
	s.writeJSON(w, http.StatusOK, envelope{Success: true, Data: list, Total: &total})
}

func (s *Server) handleAddBookmark(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Keyword string `json:"keyword"`
		Memo    string `json:"memo"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Keyword == "" {
		s.writeError(w, http.StatusBadRequest, "keyword is required")
		return
	}
	bm := s.bookmarks.Add(req.Keyword, req.Memo)
	s.writeJSON(w, http.StatusCreated, envelope{Success: true, Data: bm})
}

func (s *Server) handleRemoveBookmark(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if !s.bookmarks.Remove(id) {
		s.writeError(w, http.StatusNotFound, fmt.Sprintf("bookmark %q not found", id))
		return
	}
	s.writeJSON(w, http.StatusOK, envelope{Success: true})
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, env envelope) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(env); err != nil {
		s.log.Error().Err(err).Msg("failed to write response")
	}
}

func (s *Server) writeError(w http.ResponseWriter, status int, msg string) {
	s.writeJSON(w, status, envelope{Success: false, Error: msg})
}

func queryInt(r *http.Request, name string, fallback int) int {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return fallback
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return fallback
	}
	return n
}
