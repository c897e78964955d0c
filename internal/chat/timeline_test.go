package chat

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"chatsave/internal/store"
)

var ctx = context.Background()

var quiet = slog.New(slog.NewTextHandler(io.Discard, nil))

func openDB(t *testing.T) *store.Store {
	t.Helper()
	st, err := store.OpenMemory()
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { st.Close() })
	return st
}

func openTimeline(t *testing.T, db Persistence, sessionID string, opts ...Option) *Timeline {
	t.Helper()
	base := []Option{WithLogger(quiet), WithReplyDelay(20 * time.Millisecond)}
	tl := Open(ctx, db, sessionID, append(base, opts...)...)
	t.Cleanup(tl.Close)
	return tl
}

type failingDB struct {
	Persistence
	failInsert bool
}

var errBoom = errors.New("boom")

func (f *failingDB) InsertMessage(ctx context.Context, m store.Message) error {
	if f.failInsert {
		return errBoom
	}
	return f.Persistence.InsertMessage(ctx, m)
}

func (f *failingDB) ListMessages(ctx context.Context, id string) ([]store.Message, error) {
	return nil, errBoom
}

func TestSendAddsUserThenBotMessage(t *testing.T) {
	db := openDB(t)
	tl := openTimeline(t, db, "s1")

	sent, err := tl.Send(ctx, "Hello")
	if err != nil {
		t.Fatal(err)
	}
	if !sent.IsFromUser || sent.Content != "Hello" || sent.SessionID != "s1" {
		t.Errorf("sent = %+v", sent)
	}

	msgs := tl.Messages()
	if len(msgs) != 1 || msgs[0].Content != "Hello" || !msgs[0].IsFromUser {
		t.Fatalf("immediately after send = %+v", msgs)
	}
	if tl.Pending() != 1 {
		t.Errorf("Pending = %d, want 1", tl.Pending())
	}

	tl.Wait()

	msgs = tl.Messages()
	if len(msgs) != 2 {
		t.Fatalf("after reply got %d messages, want 2", len(msgs))
	}
	if msgs[1].Content != "AI says: Hello" || msgs[1].IsFromUser {
		t.Errorf("bot message = %+v", msgs[1])
	}
	if msgs[1].Timestamp.Before(msgs[0].Timestamp) {
		t.Error("bot reply timestamped before user message")
	}
	if tl.Pending() != 0 {
		t.Errorf("Pending = %d, want 0", tl.Pending())
	}

	stored, err := db.ListMessages(ctx, "s1")
	if err != nil {
		t.Fatal(err)
	}
	if len(stored) != 2 || stored[0].ID != msgs[0].ID || stored[1].ID != msgs[1].ID {
		t.Errorf("stored = %+v", stored)
	}
}

func TestReplyHonorsDelay(t *testing.T) {
	tl := openTimeline(t, openDB(t), "s1", WithReplyDelay(80*time.Millisecond))

	start := time.Now()
	tl.Send(ctx, "ping")
	tl.Wait()
	if elapsed := time.Since(start); elapsed < 80*time.Millisecond {
		t.Errorf("reply arrived after %s, want >= 80ms", elapsed)
	}
}

func TestOpenLoadsExistingMessagesInOrder(t *testing.T) {
	db := openDB(t)
	base := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	db.InsertMessage(ctx, store.Message{ID: "2", SessionID: "s1", Content: "later", Timestamp: base.Add(time.Minute)})
	db.InsertMessage(ctx, store.Message{ID: "1", SessionID: "s1", Content: "earlier", Timestamp: base, IsFromUser: true})
	db.InsertMessage(ctx, store.Message{ID: "x", SessionID: "s2", Content: "other", Timestamp: base})

	tl := openTimeline(t, db, "s1")
	msgs := tl.Messages()
	if len(msgs) != 2 || msgs[0].ID != "1" || msgs[1].ID != "2" {
		t.Fatalf("loaded %+v", msgs)
	}
}

func TestSendRejectsBlankContent(t *testing.T) {
	tl := openTimeline(t, openDB(t), "s1")

	for _, content := range []string{"", "   ", "\n\t"} {
		if _, err := tl.Send(ctx, content); !errors.Is(err, ErrEmptyContent) {
			t.Errorf("Send(%q) err = %v, want ErrEmptyContent", content, err)
		}
	}
	if n := len(tl.Messages()); n != 0 {
		t.Errorf("got %d messages, want 0", n)
	}
}

func TestContentIsNotTrimmed(t *testing.T) {
	tl := openTimeline(t, openDB(t), "s1")
	tl.Send(ctx, "  spaced  ")
	tl.Wait()

	msgs := tl.Messages()
	if msgs[0].Content != "  spaced  " || msgs[1].Content != "AI says:   spaced  " {
		t.Errorf("messages = %q, %q", msgs[0].Content, msgs[1].Content)
	}
}

func TestCloseCancelsPendingReply(t *testing.T) {
	db := openDB(t)
	tl := Open(ctx, db, "s1", WithLogger(quiet), WithReplyDelay(time.Hour))

	tl.Send(ctx, "never answered")
	done := make(chan struct{})
	go func() {
		tl.Close()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("Close did not cancel the pending reply")
	}

	if n := len(tl.Messages()); n != 1 {
		t.Errorf("got %d messages, want only the user message", n)
	}
	stored, _ := db.ListMessages(ctx, "s1")
	if len(stored) != 1 {
		t.Errorf("stored %d messages, want 1", len(stored))
	}
	if _, err := tl.Send(ctx, "after close"); !errors.Is(err, ErrClosed) {
		t.Errorf("Send after Close err = %v, want ErrClosed", err)
	}
	tl.Close()
}

func TestRepliesKeepSendOrder(t *testing.T) {
	tl := openTimeline(t, openDB(t), "s1")

	tl.Send(ctx, "one")
	tl.Send(ctx, "two")
	tl.Wait()

	msgs := tl.Messages()
	if len(msgs) != 4 {
		t.Fatalf("got %d messages, want 4", len(msgs))
	}
	userIdx := map[string]int{}
	for i, m := range msgs {
		if m.IsFromUser {
			userIdx[m.Content] = i
		}
	}
	for i, m := range msgs {
		if m.IsFromUser {
			continue
		}
		prompt := m.Content[len("AI says: "):]
		if userIdx[prompt] > i {
			t.Errorf("reply %q precedes its user message", m.Content)
		}
	}
}

func TestCustomReplierAndClock(t *testing.T) {
	fixed := time.Date(2025, 5, 5, 5, 5, 5, 0, time.UTC)
	tl := openTimeline(t, openDB(t), "s1",
		WithReplier(EchoReplier{Prefix: "Bot: "}),
		WithClock(func() time.Time { return fixed }),
	)

	tl.Send(ctx, "hi")
	tl.Wait()

	msgs := tl.Messages()
	if msgs[1].Content != "Bot: hi" {
		t.Errorf("reply = %q", msgs[1].Content)
	}
	if !msgs[0].Timestamp.Equal(fixed) || !msgs[1].Timestamp.Equal(fixed) {
		t.Error("clock not used")
	}
}

func TestPersistFailureKeepsTimeline(t *testing.T) {
	db := &failingDB{Persistence: openDB(t), failInsert: true}
	tl := openTimeline(t, db, "s1")

	if n := len(tl.Messages()); n != 0 {
		t.Fatalf("failed load should leave timeline empty, got %d", n)
	}

	_, err := tl.Send(ctx, "Hello")
	if !errors.Is(err, errBoom) {
		t.Fatalf("err = %v, want errBoom", err)
	}
	tl.Wait()
	if n := len(tl.Messages()); n != 2 {
		t.Errorf("got %d messages, want 2 even though persistence failed", n)
	}
}

func TestSubscribeReceivesEachAppend(t *testing.T) {
	tl := openTimeline(t, openDB(t), "s1")

	var (
		mu     sync.Mutex
		counts []int
	)
	unsubscribe := tl.Subscribe(func(msgs []store.Message) {
		mu.Lock()
		counts = append(counts, len(msgs))
		mu.Unlock()
	})

	tl.Send(ctx, "Hello")
	tl.Wait()
	unsubscribe()
	tl.Send(ctx, "unseen")
	tl.Wait()

	mu.Lock()
	defer mu.Unlock()
	if len(counts) != 2 || counts[0] != 1 || counts[1] != 2 {
		t.Errorf("counts = %v, want [1 2]", counts)
	}
}
