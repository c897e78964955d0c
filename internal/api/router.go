package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/gorilla/websocket"

	"chatsave/internal/chat"
	"chatsave/internal/observability"
	"chatsave/internal/sessions"
	"chatsave/internal/store"
)

// Router serves the session list and per-session timelines over HTTP.
type Router struct {
	http.Handler

	sessions *sessions.Store
	db       chat.Persistence
	chatOpts []chat.Option
	upgrader websocket.Upgrader

	mu        sync.Mutex
	timelines map[string]*chat.Timeline
}

// NewRouter wires HTTP routes to the stores. chatOpts apply to every
// timeline the router opens.
func NewRouter(sessionStore *sessions.Store, db chat.Persistence, chatOpts ...chat.Option) *Router {
	rt := &Router{
		sessions:  sessionStore,
		db:        db,
		chatOpts:  chatOpts,
		timelines: make(map[string]*chat.Timeline),
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool { return true },
		},
	}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(withLogging)

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		respondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	r.Route("/api/sessions", func(api chi.Router) {
		api.Get("/", rt.handleListSessions)
		api.Post("/", rt.handleCreateSession)
		api.Route("/{sessionID}", func(sr chi.Router) {
			sr.Delete("/", rt.handleDeleteSession)
			sr.Get("/messages", rt.handleListMessages)
			sr.Post("/messages", rt.handleSendMessage)
			sr.Get("/ws", rt.handleStream)
		})
	})

	rt.Handler = r
	return rt
}

// Close cancels every pending reply of every open timeline.
func (rt *Router) Close() {
	rt.mu.Lock()
	open := rt.timelines
	rt.timelines = make(map[string]*chat.Timeline)
	rt.mu.Unlock()

	for _, tl := range open {
		tl.Close()
	}
}

// timeline returns the open timeline for sessionID, opening it on first use.
// It reports false once the session is gone from the list.
func (rt *Router) timeline(ctx context.Context, sessionID string) (*chat.Timeline, bool) {
	rt.mu.Lock()
	defer rt.mu.Unlock()

	if _, ok := rt.sessions.Find(sessionID); !ok {
		return nil, false
	}
	if tl, ok := rt.timelines[sessionID]; ok {
		return tl, true
	}
	tl := chat.Open(ctx, rt.db, sessionID, rt.chatOpts...)
	rt.timelines[sessionID] = tl
	return tl, true
}

func (rt *Router) closeTimeline(sessionID string) {
	rt.mu.Lock()
	tl, ok := rt.timelines[sessionID]
	delete(rt.timelines, sessionID)
	rt.mu.Unlock()

	if ok {
		tl.Close()
	}
}

func (rt *Router) handleListSessions(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, rt.sessions.Groups())
}

func (rt *Router) handleCreateSession(w http.ResponseWriter, r *http.Request) {
	var payload struct {
		Title    string `json:"title"`
		Category string `json:"category"`
		Summary  string `json:"summary"`
	}
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if strings.TrimSpace(payload.Title) == "" {
		respondError(w, http.StatusBadRequest, "title is required")
		return
	}

	sess, err := rt.sessions.Add(r.Context(), store.Session{
		Title:    payload.Title,
		Summary:  payload.Summary,
		Category: store.ParseCategory(payload.Category),
	})
	if err != nil {
		respondError(w, http.StatusInternalServerError, "failed to save session")
		return
	}
	respondJSON(w, http.StatusCreated, sess)
}

func (rt *Router) handleDeleteSession(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "sessionID")
	if _, ok := rt.sessions.Find(id); !ok {
		respondError(w, http.StatusNotFound, "session not found")
		return
	}

	if err := rt.sessions.Delete(r.Context(), id); err != nil {
		respondError(w, http.StatusInternalServerError, "failed to delete session")
		return
	}
	// The session is gone from the list, so no new timeline can be opened
	// for it after this.
	rt.closeTimeline(id)
	w.WriteHeader(http.StatusNoContent)
}

func (rt *Router) handleListMessages(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "sessionID")
	tl, ok := rt.timeline(r.Context(), id)
	if !ok {
		respondError(w, http.StatusNotFound, "session not found")
		return
	}
	msgs := tl.Messages()
	if msgs == nil {
		msgs = []store.Message{}
	}
	respondJSON(w, http.StatusOK, msgs)
}

func (rt *Router) handleSendMessage(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "sessionID")
	if _, ok := rt.sessions.Find(id); !ok {
		respondError(w, http.StatusNotFound, "session not found")
		return
	}

	var payload struct {
		Content string `json:"content"`
	}
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	tl, ok := rt.timeline(r.Context(), id)
	if !ok {
		respondError(w, http.StatusNotFound, "session not found")
		return
	}
	msg, err := tl.Send(r.Context(), payload.Content)
	switch {
	case errors.Is(err, chat.ErrEmptyContent):
		respondError(w, http.StatusBadRequest, err.Error())
		return
	case errors.Is(err, chat.ErrClosed):
		respondError(w, http.StatusGone, err.Error())
		return
	case err != nil:
		respondError(w, http.StatusInternalServerError, "failed to save message")
		return
	}
	respondJSON(w, http.StatusAccepted, msg)
}

const writeTimeout = 5 * time.Second

// handleStream pushes the full timeline to the client on connect and after
// every change.
func (rt *Router) handleStream(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "sessionID")
	if _, ok := rt.sessions.Find(id); !ok {
		respondError(w, http.StatusNotFound, "session not found")
		return
	}

	conn, err := rt.upgrader.Upgrade(w, r, nil)
	if err != nil {
		observability.LoggerFromContext(r.Context()).Warn("websocket upgrade failed", "error", err)
		return
	}
	defer conn.Close()

	tl, ok := rt.timeline(r.Context(), id)
	if !ok {
		return
	}
	updates := newLatestSnapshot()
	unsubscribe := tl.Subscribe(updates.offer)
	defer unsubscribe()

	// Reader goroutine notices the client going away.
	gone := make(chan struct{})
	go func() {
		defer close(gone)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	send := func(msgs []store.Message) error {
		if msgs == nil {
			msgs = []store.Message{}
		}
		conn.SetWriteDeadline(time.Now().Add(writeTimeout))
		return conn.WriteJSON(msgs)
	}

	if err := send(tl.Messages()); err != nil {
		return
	}
	for {
		select {
		case <-gone:
			return
		case <-r.Context().Done():
			return
		case <-updates.ready:
			msgs := updates.take()
			if msgs == nil {
				continue
			}
			if err := send(msgs); err != nil {
				return
			}
		}
	}
}

// latestSnapshot holds the newest timeline snapshot for a slow websocket
// writer. Older snapshots are replaced, never queued.
type latestSnapshot struct {
	mu    sync.Mutex
	msgs  []store.Message
	seen  int
	ready chan struct{}
}

func newLatestSnapshot() *latestSnapshot {
	return &latestSnapshot{ready: make(chan struct{}, 1)}
}

// offer keeps msgs unless a longer snapshot already arrived; listeners may
// run concurrently and timelines only grow.
func (l *latestSnapshot) offer(msgs []store.Message) {
	l.mu.Lock()
	if len(msgs) < l.seen {
		l.mu.Unlock()
		return
	}
	l.msgs = msgs
	l.seen = len(msgs)
	l.mu.Unlock()

	select {
	case l.ready <- struct{}{}:
	default:
	}
}

// take returns the pending snapshot, or nil when it was already sent.
func (l *latestSnapshot) take() []store.Message {
	l.mu.Lock()
	defer l.mu.Unlock()
	msgs := l.msgs
	l.msgs = nil
	return msgs
}
