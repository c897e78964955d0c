// Package chat owns the message timeline of a single session: it loads the
// stored history, appends user messages and schedules the bot reply.
package chat

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"chatsave/internal/store"
)

// DefaultReplyDelay is how long the bot waits before answering.
const DefaultReplyDelay = time.Second

var (
	ErrEmptyContent = errors.New("message content is empty")
	ErrClosed       = errors.New("timeline closed")
)

// Persistence is the part of the local store a timeline needs.
type Persistence interface {
	InsertMessage(ctx context.Context, msg store.Message) error
	ListMessages(ctx context.Context, sessionID string) ([]store.Message, error)
}

// Replier produces the bot's answer to a user message.
type Replier interface {
	Reply(content string) string
}

// EchoReplier answers with Prefix followed by the user's text.
type EchoReplier struct {
	Prefix string
}

func (r EchoReplier) Reply(content string) string {
	return r.Prefix + content
}

type Option func(*Timeline)

func WithReplyDelay(d time.Duration) Option {
	return func(t *Timeline) { t.delay = d }
}

func WithReplier(r Replier) Option {
	return func(t *Timeline) { t.replier = r }
}

func WithLogger(l *slog.Logger) Option {
	return func(t *Timeline) { t.log = l }
}

func WithClock(now func() time.Time) Option {
	return func(t *Timeline) { t.now = now }
}

// Timeline is the message list of one session for as long as it is open.
// Close cancels any reply that has not been delivered yet.
type Timeline struct {
	sessionID string
	db        Persistence
	replier   Replier
	delay     time.Duration
	log       *slog.Logger
	now       func() time.Time

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu        sync.RWMutex
	messages  []store.Message
	pending   int
	closed    bool
	listeners map[int]func([]store.Message)
	nextID    int
}

// Open binds a timeline to sessionID and loads its stored messages, oldest
// first. A failed load is logged and leaves the timeline empty.
func Open(ctx context.Context, db Persistence, sessionID string, opts ...Option) *Timeline {
	t := &Timeline{
		sessionID: sessionID,
		db:        db,
		replier:   EchoReplier{Prefix: "AI says: "},
		delay:     DefaultReplyDelay,
		log:       slog.Default(),
		now:       time.Now,
		listeners: make(map[int]func([]store.Message)),
	}
	for _, opt := range opts {
		opt(t)
	}
	t.log = t.log.With("session_id", sessionID)
	t.ctx, t.cancel = context.WithCancel(context.Background())

	msgs, err := db.ListMessages(ctx, sessionID)
	if err != nil {
		t.log.Error("load messages", "error", err)
	}
	t.messages = msgs
	return t
}

func (t *Timeline) SessionID() string {
	return t.sessionID
}

// Send appends a user message and schedules the bot reply. It returns as
// soon as the user message is stored; the reply arrives after the delay.
func (t *Timeline) Send(ctx context.Context, content string) (store.Message, error) {
	if strings.TrimSpace(content) == "" {
		return store.Message{}, ErrEmptyContent
	}

	msg := store.Message{
		ID:         uuid.NewString(),
		SessionID:  t.sessionID,
		Content:    content,
		Timestamp:  t.now(),
		IsFromUser: true,
	}

	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return store.Message{}, ErrClosed
	}
	t.pending++
	t.wg.Add(1)
	t.mu.Unlock()

	t.appendAndNotify(msg)
	err := t.db.InsertMessage(ctx, msg)
	if err != nil {
		t.log.Error("persist user message", "message_id", msg.ID, "error", err)
	}

	go t.reply(content)
	return msg, err
}

func (t *Timeline) reply(content string) {
	defer t.wg.Done()
	defer func() {
		t.mu.Lock()
		t.pending--
		t.mu.Unlock()
	}()

	timer := time.NewTimer(t.delay)
	defer timer.Stop()

	select {
	case <-t.ctx.Done():
		t.log.Debug("pending reply canceled")
		return
	case <-timer.C:
	}
	if t.ctx.Err() != nil {
		return
	}

	msg := store.Message{
		ID:         uuid.NewString(),
		SessionID:  t.sessionID,
		Content:    t.replier.Reply(content),
		Timestamp:  t.now(),
		IsFromUser: false,
	}
	t.appendAndNotify(msg)
	if err := t.db.InsertMessage(context.Background(), msg); err != nil {
		t.log.Error("persist bot message", "message_id", msg.ID, "error", err)
	}
}

// Messages returns a copy of the timeline.
func (t *Timeline) Messages() []store.Message {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return append([]store.Message(nil), t.messages...)
}

// Pending reports replies that are scheduled but not delivered.
func (t *Timeline) Pending() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.pending
}

// Subscribe registers fn to receive the timeline after every append.
func (t *Timeline) Subscribe(fn func([]store.Message)) (unsubscribe func()) {
	t.mu.Lock()
	id := t.nextID
	t.nextID++
	t.listeners[id] = fn
	t.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			t.mu.Lock()
			delete(t.listeners, id)
			t.mu.Unlock()
		})
	}
}

// Wait blocks until every scheduled reply has been delivered or canceled.
func (t *Timeline) Wait() {
	t.wg.Wait()
}

// Close cancels pending replies and waits for them to stop. Sending on a
// closed timeline fails with ErrClosed.
func (t *Timeline) Close() {
	t.mu.Lock()
	t.closed = true
	t.mu.Unlock()

	t.cancel()
	t.wg.Wait()
}

func (t *Timeline) appendAndNotify(msg store.Message) {
	t.mu.Lock()
	t.messages = append(t.messages, msg)
	snapshot := append([]store.Message(nil), t.messages...)
	listeners := make([]func([]store.Message), 0, len(t.listeners))
	for _, fn := range t.listeners {
		listeners = append(listeners, fn)
	}
	t.mu.Unlock()

	for _, fn := range listeners {
		fn(snapshot)
	}
}
