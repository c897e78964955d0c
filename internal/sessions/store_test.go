package sessions

import (
	"context"
	"database/sql"
	"errors"
	"io"
	"log/slog"
	"path/filepath"
	"sync"
	"testing"
	"testing/fstest"
	"time"

	_ "modernc.org/sqlite"

	"chatsave/internal/config"
	"chatsave/internal/dataset"
	"chatsave/internal/store"
)

var ctx = context.Background()

var quiet = slog.New(slog.NewTextHandler(io.Discard, nil))

const seedJSON = `[
	{"id":"seed-1","title":"Seed one","summary":"s1","category":"career","date":"2025-06-12T09:00:00Z"},
	{"id":"seed-2","title":"Seed two","summary":"s2","category":"emotions","date":"2025-06-12T18:00:00Z"},
	{"id":"seed-3","title":"Seed three","summary":"s3","category":"productivity","date":"2025-06-10T07:00:00Z"}
]`

func seedReader() dataset.Reader {
	return dataset.FS(fstest.MapFS{dataset.DefaultName: {Data: []byte(seedJSON)}})
}

func openDB(t *testing.T) *store.Store {
	t.Helper()
	st, err := store.OpenMemory()
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { st.Close() })
	return st
}

func newStore(db Persistence, seed dataset.Reader, opts ...Option) *Store {
	base := []Option{WithLogger(quiet), WithLocation(time.UTC)}
	return New(db, seed, append(base, opts...)...)
}

// failingDB wraps a real store and fails selected operations.
type failingDB struct {
	Persistence
	failList, failWrite bool
}

var errBoom = errors.New("boom")

func (f *failingDB) ListSessions(ctx context.Context) ([]store.Session, error) {
	if f.failList {
		return nil, errBoom
	}
	return f.Persistence.ListSessions(ctx)
}

func (f *failingDB) ReplaceSessions(ctx context.Context, s []store.Session) error {
	if f.failWrite {
		return errBoom
	}
	return f.Persistence.ReplaceSessions(ctx, s)
}

func (f *failingDB) UpsertSession(ctx context.Context, s store.Session) error {
	if f.failWrite {
		return errBoom
	}
	return f.Persistence.UpsertSession(ctx, s)
}

func (f *failingDB) DeleteSession(ctx context.Context, id string) error {
	if f.failWrite {
		return errBoom
	}
	return f.Persistence.DeleteSession(ctx, id)
}

func TestLoadSeedsEmptyStore(t *testing.T) {
	db := openDB(t)
	s := newStore(db, seedReader())

	groups := s.Load(ctx)
	flat := Flatten(groups)
	if len(flat) != 3 {
		t.Fatalf("got %d sessions, want 3", len(flat))
	}
	if len(groups) != 2 {
		t.Errorf("got %d day groups, want 2", len(groups))
	}
	if flat[0].ID != "seed-2" {
		t.Errorf("first session = %s, want most recent seed-2", flat[0].ID)
	}

	persisted, err := db.ListSessions(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(persisted) != 3 {
		t.Errorf("persisted %d sessions, want 3", len(persisted))
	}
}

func TestLoadPrefersPersistedSessions(t *testing.T) {
	db := openDB(t)
	retro := store.Session{ID: "r", Title: "Retro 2024", Category: store.CategoryOther, Date: time.Now()}
	if err := db.InsertSession(ctx, retro); err != nil {
		t.Fatal(err)
	}

	// Dataset is unreadable: consulting it would leave the list empty.
	s := newStore(db, dataset.FS(fstest.MapFS{}))
	flat := Flatten(s.Load(ctx))
	if len(flat) != 1 || flat[0].Title != "Retro 2024" {
		t.Fatalf("got %+v, want only Retro 2024", flat)
	}
}

func TestLoadMissingDatasetLeavesEmpty(t *testing.T) {
	s := newStore(openDB(t), dataset.FS(fstest.MapFS{}))
	if groups := s.Load(ctx); len(groups) != 0 {
		t.Errorf("got %d groups, want none", len(groups))
	}
}

func TestLoadMalformedDatasetLeavesEmpty(t *testing.T) {
	bad := dataset.FS(fstest.MapFS{dataset.DefaultName: {Data: []byte("[{")}})
	s := newStore(openDB(t), bad)
	if groups := s.Load(ctx); len(groups) != 0 {
		t.Errorf("got %d groups, want none", len(groups))
	}
}

func TestLoadFetchErrorKeepsStoreUntouched(t *testing.T) {
	inner := openDB(t)
	retro := store.Session{ID: "r", Title: "Retro 2024", Category: store.CategoryOther, Date: time.Now()}
	if err := inner.InsertSession(ctx, retro); err != nil {
		t.Fatal(err)
	}

	db := &failingDB{Persistence: inner, failList: true}
	s := newStore(db, seedReader())
	if groups := s.Load(ctx); len(groups) != 0 {
		t.Errorf("got %d groups, want none after a failed read", len(groups))
	}

	if _, err := inner.GetSession(ctx, "r"); err != nil {
		t.Fatalf("persisted session lost: %v", err)
	}
	if _, err := inner.GetSession(ctx, "seed-1"); !errors.Is(err, store.ErrNotFound) {
		t.Errorf("dataset was written over an unreadable store: err = %v", err)
	}
}

func TestLoadKeepsReadableSessionsNextToCorruptRow(t *testing.T) {
	path := filepath.Join(t.TempDir(), "chatsave.db")
	db, err := store.Open(path)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { db.Close() })
	db.SetLogger(quiet)

	retro := store.Session{ID: "r", Title: "Retro 2024", Category: store.CategoryOther, Date: time.Now()}
	if err := db.InsertSession(ctx, retro); err != nil {
		t.Fatal(err)
	}

	raw, err := sql.Open("sqlite", path)
	if err != nil {
		t.Fatal(err)
	}
	_, err = raw.Exec("INSERT INTO sessions (id, title, summary, category, date) VALUES ('bad', 'Broken', NULL, 'career', 'not-a-date')")
	raw.Close()
	if err != nil {
		t.Fatal(err)
	}

	s := newStore(db, seedReader())
	flat := Flatten(s.Load(ctx))
	if len(flat) != 1 || flat[0].ID != "r" {
		t.Fatalf("got %+v, want only Retro 2024", flat)
	}
	if _, err := db.GetSession(ctx, "r"); err != nil {
		t.Fatalf("persisted session lost: %v", err)
	}
}

func TestLoadAsync(t *testing.T) {
	s := newStore(openDB(t), seedReader())

	select {
	case groups := <-s.LoadAsync(ctx):
		if len(Flatten(groups)) != 3 {
			t.Errorf("got %d sessions, want 3", len(Flatten(groups)))
		}
	case <-time.After(5 * time.Second):
		t.Fatal("LoadAsync did not deliver")
	}
	if s.Loading() {
		t.Error("Loading() still true after load finished")
	}
}

func TestAddAndDeleteBothModes(t *testing.T) {
	for _, mode := range []config.WriteMode{config.WriteIncremental, config.WriteRewrite} {
		t.Run(string(mode), func(t *testing.T) {
			db := openDB(t)
			s := newStore(db, seedReader(), WithWriteMode(mode))
			s.Load(ctx)

			added, err := s.Add(ctx, store.Session{
				Title:    "Test Session",
				Summary:  "Summary",
				Category: store.Category("bogus"),
				Date:     time.Date(2025, 6, 13, 10, 0, 0, 0, time.UTC),
			})
			if err != nil {
				t.Fatal(err)
			}
			if added.ID == "" {
				t.Fatal("expected generated id")
			}
			if added.Category != store.CategoryOther {
				t.Errorf("Category = %q, want other", added.Category)
			}
			if _, ok := s.Find(added.ID); !ok {
				t.Error("added session missing from groups")
			}

			got, err := db.GetSession(ctx, added.ID)
			if err != nil {
				t.Fatalf("added session not persisted: %v", err)
			}
			if got.Title != added.Title || got.Category != added.Category || !got.Date.Equal(added.Date) {
				t.Errorf("persisted %+v, want %+v", got, added)
			}
			if all, _ := db.ListSessions(ctx); len(all) != 4 {
				t.Errorf("persisted %d sessions, want 4", len(all))
			}

			if err := s.Delete(ctx, added.ID); err != nil {
				t.Fatal(err)
			}
			if _, ok := s.Find(added.ID); ok {
				t.Error("deleted session still grouped")
			}
			if _, err := db.GetSession(ctx, added.ID); !errors.Is(err, store.ErrNotFound) {
				t.Errorf("deleted session still persisted: %v", err)
			}
			if all, _ := db.ListSessions(ctx); len(all) != 3 {
				t.Errorf("persisted %d sessions, want 3", len(all))
			}
		})
	}
}

func TestAddExistingIDReplaces(t *testing.T) {
	s := newStore(openDB(t), seedReader())
	s.Load(ctx)

	if _, err := s.Add(ctx, store.Session{ID: "seed-1", Title: "Renamed", Date: time.Now()}); err != nil {
		t.Fatal(err)
	}
	if n := len(s.Sessions()); n != 3 {
		t.Errorf("got %d sessions, want 3", n)
	}
	if got, _ := s.Find("seed-1"); got.Title != "Renamed" {
		t.Errorf("Title = %q", got.Title)
	}
}

func TestDeleteUnknownIsNoop(t *testing.T) {
	s := newStore(openDB(t), seedReader())
	s.Load(ctx)
	if err := s.Delete(ctx, "nope"); err != nil {
		t.Fatal(err)
	}
	if n := len(s.Sessions()); n != 3 {
		t.Errorf("got %d sessions, want 3", n)
	}
}

func TestRewriteModeUpdatesMemoryOnWriteFailure(t *testing.T) {
	db := &failingDB{Persistence: openDB(t)}
	s := newStore(db, seedReader(), WithWriteMode(config.WriteRewrite))
	s.Load(ctx)

	db.failWrite = true
	added, err := s.Add(ctx, store.Session{Title: "unsaved"})
	if !errors.Is(err, errBoom) {
		t.Fatalf("err = %v, want errBoom", err)
	}
	if _, ok := s.Find(added.ID); !ok {
		t.Error("rewrite mode should publish even when the write fails")
	}
}

func TestIncrementalModeKeepsMemoryOnWriteFailure(t *testing.T) {
	db := &failingDB{Persistence: openDB(t)}
	s := newStore(db, seedReader())
	s.Load(ctx)

	db.failWrite = true
	added, err := s.Add(ctx, store.Session{Title: "unsaved"})
	if !errors.Is(err, errBoom) {
		t.Fatalf("err = %v, want errBoom", err)
	}
	if _, ok := s.Find(added.ID); ok {
		t.Error("incremental mode should not publish a session that was not saved")
	}

	if err := s.Delete(ctx, "seed-1"); !errors.Is(err, errBoom) {
		t.Fatalf("err = %v, want errBoom", err)
	}
	if _, ok := s.Find("seed-1"); !ok {
		t.Error("incremental mode should keep a session whose delete failed")
	}
}

func TestSubscribe(t *testing.T) {
	s := newStore(openDB(t), seedReader())

	var (
		mu    sync.Mutex
		calls []int
	)
	unsubscribe := s.Subscribe(func(groups []DayGroup) {
		mu.Lock()
		calls = append(calls, len(Flatten(groups)))
		mu.Unlock()
	})

	s.Load(ctx)
	added, _ := s.Add(ctx, store.Session{Title: "new"})
	s.Delete(ctx, added.ID)

	unsubscribe()
	unsubscribe()
	s.Add(ctx, store.Session{Title: "unseen"})

	mu.Lock()
	defer mu.Unlock()
	want := []int{3, 4, 3}
	if len(calls) != len(want) {
		t.Fatalf("calls = %v, want %v", calls, want)
	}
	for i := range want {
		if calls[i] != want[i] {
			t.Errorf("calls = %v, want %v", calls, want)
			break
		}
	}
}

func TestGroupsReturnsCopy(t *testing.T) {
	s := newStore(openDB(t), seedReader())
	s.Load(ctx)

	groups := s.Groups()
	groups[0].Sessions[0].Title = "mutated"
	if s.Groups()[0].Sessions[0].Title == "mutated" {
		t.Error("Groups exposed internal state")
	}
}

func TestConcurrentAddsAreSerialized(t *testing.T) {
	db := openDB(t)
	s := newStore(db, seedReader(), WithWriteMode(config.WriteRewrite))
	s.Load(ctx)

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			s.Add(ctx, store.Session{Title: "concurrent"})
		}()
	}
	wg.Wait()

	if n := len(s.Sessions()); n != 13 {
		t.Errorf("in memory %d sessions, want 13", n)
	}
	if all, _ := db.ListSessions(ctx); len(all) != 13 {
		t.Errorf("persisted %d sessions, want 13", len(all))
	}
}
