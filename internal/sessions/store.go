// Package sessions keeps the day-grouped list of chat sessions in memory and
// mirrors every change to the persisted store.
package sessions

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"chatsave/internal/config"
	"chatsave/internal/dataset"
	"chatsave/internal/store"
)

// Persistence is the part of the local store the session list needs.
type Persistence interface {
	ListSessions(ctx context.Context) ([]store.Session, error)
	ReplaceSessions(ctx context.Context, sessions []store.Session) error
	UpsertSession(ctx context.Context, sess store.Session) error
	DeleteSession(ctx context.Context, id string) error
}

type Option func(*Store)

func WithLogger(l *slog.Logger) Option {
	return func(s *Store) { s.log = l }
}

// WithLocation sets the calendar used to bucket sessions by day.
func WithLocation(loc *time.Location) Option {
	return func(s *Store) { s.loc = loc }
}

func WithWriteMode(m config.WriteMode) Option {
	return func(s *Store) { s.mode = m }
}

func WithDatasetName(name string) Option {
	return func(s *Store) { s.datasetName = name }
}

func WithClock(now func() time.Time) Option {
	return func(s *Store) { s.now = now }
}

type Store struct {
	db          Persistence
	seed        dataset.Reader
	datasetName string
	log         *slog.Logger
	loc         *time.Location
	mode        config.WriteMode
	now         func() time.Time

	// mu serializes Load, Add and Delete.
	mu sync.Mutex

	stateMu   sync.RWMutex
	groups    []DayGroup
	loading   bool
	listeners map[int]func([]DayGroup)
	nextID    int
}

func New(db Persistence, seed dataset.Reader, opts ...Option) *Store {
	s := &Store{
		db:          db,
		seed:        seed,
		datasetName: dataset.DefaultName,
		log:         slog.Default(),
		loc:         time.Local,
		mode:        config.WriteIncremental,
		now:         time.Now,
		listeners:   make(map[int]func([]DayGroup)),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Load publishes the persisted sessions. When nothing is persisted yet the
// bundled dataset is decoded, saved and published instead. Failures are
// logged and leave the list empty; a store that cannot be read is never
// overwritten with the dataset.
func (s *Store) Load(ctx context.Context) []DayGroup {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.setLoading(true)
	defer s.setLoading(false)

	cached, err := s.db.ListSessions(ctx)
	if err != nil {
		s.log.Error("fetch persisted sessions", "error", err)
		return s.publish(nil)
	}
	if len(cached) > 0 {
		s.log.Debug("loaded sessions from store", "count", len(cached))
		return s.publish(cached)
	}

	if s.seed == nil {
		return s.publish(nil)
	}

	seeded, err := dataset.LoadSessions(ctx, s.seed, s.datasetName)
	if err != nil {
		s.log.Error("load seed sessions", "dataset", s.datasetName, "error", err)
		return s.publish(nil)
	}

	if err := s.db.ReplaceSessions(ctx, seeded); err != nil {
		s.log.Error("persist seed sessions", "error", err)
	}
	s.log.Info("seeded sessions from dataset", "dataset", s.datasetName, "count", len(seeded))
	return s.publish(seeded)
}

// LoadAsync runs Load on its own goroutine and delivers the result once.
func (s *Store) LoadAsync(ctx context.Context) <-chan []DayGroup {
	out := make(chan []DayGroup, 1)
	go func() {
		out <- s.Load(ctx)
		close(out)
	}()
	return out
}

// Add inserts sess. A missing ID or Date is filled in and the category is
// normalized; the stored value is returned.
func (s *Store) Add(ctx context.Context, sess store.Session) (store.Session, error) {
	if sess.ID == "" {
		sess.ID = uuid.NewString()
	}
	if sess.Date.IsZero() {
		sess.Date = s.now()
	}
	sess.Category = store.ParseCategory(string(sess.Category))

	s.mu.Lock()
	defer s.mu.Unlock()

	all := Flatten(s.Groups())
	replaced := false
	for i := range all {
		if all[i].ID == sess.ID {
			all[i] = sess
			replaced = true
		}
	}
	if !replaced {
		all = append(all, sess)
	}

	log := s.log.With("session_id", sess.ID, "write_mode", s.mode)
	if s.mode == config.WriteRewrite {
		s.publish(all)
		if err := s.db.ReplaceSessions(ctx, all); err != nil {
			log.Error("rewrite sessions after add", "error", err)
			return sess, err
		}
		return sess, nil
	}

	if err := s.db.UpsertSession(ctx, sess); err != nil {
		log.Error("persist added session", "error", err)
		return sess, err
	}
	s.publish(all)
	return sess, nil
}

// Delete removes the session with id. Unknown ids are ignored.
func (s *Store) Delete(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	current := Flatten(s.Groups())
	kept := make([]store.Session, 0, len(current))
	for _, sess := range current {
		if sess.ID != id {
			kept = append(kept, sess)
		}
	}

	log := s.log.With("session_id", id, "write_mode", s.mode)
	if s.mode == config.WriteRewrite {
		s.publish(kept)
		if err := s.db.ReplaceSessions(ctx, kept); err != nil {
			log.Error("rewrite sessions after delete", "error", err)
			return err
		}
		return nil
	}

	if err := s.db.DeleteSession(ctx, id); err != nil {
		log.Error("delete persisted session", "error", err)
		return err
	}
	s.publish(kept)
	return nil
}

// Groups returns a copy of the current day groups.
func (s *Store) Groups() []DayGroup {
	s.stateMu.RLock()
	defer s.stateMu.RUnlock()
	return cloneGroups(s.groups)
}

func (s *Store) Sessions() []store.Session {
	return Flatten(s.Groups())
}

// Find returns the in-memory session with id.
func (s *Store) Find(id string) (store.Session, bool) {
	for _, sess := range s.Sessions() {
		if sess.ID == id {
			return sess, true
		}
	}
	return store.Session{}, false
}

func (s *Store) Loading() bool {
	s.stateMu.RLock()
	defer s.stateMu.RUnlock()
	return s.loading
}

// Subscribe registers fn to receive every published grouping. The returned
// func removes it.
func (s *Store) Subscribe(fn func([]DayGroup)) (unsubscribe func()) {
	s.stateMu.Lock()
	id := s.nextID
	s.nextID++
	s.listeners[id] = fn
	s.stateMu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			s.stateMu.Lock()
			delete(s.listeners, id)
			s.stateMu.Unlock()
		})
	}
}

func (s *Store) setLoading(v bool) {
	s.stateMu.Lock()
	s.loading = v
	s.stateMu.Unlock()
}

func (s *Store) publish(sessions []store.Session) []DayGroup {
	groups := Group(sessions, s.loc)

	s.stateMu.Lock()
	s.groups = groups
	listeners := make([]func([]DayGroup), 0, len(s.listeners))
	for _, fn := range s.listeners {
		listeners = append(listeners, fn)
	}
	s.stateMu.Unlock()

	for _, fn := range listeners {
		fn(cloneGroups(groups))
	}
	return cloneGroups(groups)
}
