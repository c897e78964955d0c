package cmd

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"chatsave/internal/chat"
	"chatsave/internal/dataset"
	"chatsave/internal/observability"
	"chatsave/internal/sessions"
	"chatsave/internal/store"
)

func openStore() (*store.Store, error) {
	if cfg.DBPath != "" {
		return withStoreLogger(store.Open(cfg.DBPath))
	}

	dir, err := os.Getwd()
	if err != nil {
		return nil, err
	}
	if _, err := os.Stat(filepath.Join(dir, ".chatsave")); os.IsNotExist(err) {
		return nil, fmt.Errorf("not initialized — run 'chatsave init' first")
	}
	return withStoreLogger(store.New(dir))
}

func withStoreLogger(st *store.Store, err error) (*store.Store, error) {
	if err != nil {
		return nil, err
	}
	st.SetLogger(observability.WithFields("component", "store"))
	return st, nil
}

func seedReader() dataset.Reader {
	if cfg.DatasetDir != "" {
		return dataset.Dir(cfg.DatasetDir)
	}
	return dataset.Embedded()
}

func newSessionStore(st *store.Store) (*sessions.Store, error) {
	loc, err := cfg.Location()
	if err != nil {
		return nil, err
	}
	return sessions.New(st, seedReader(),
		sessions.WithLogger(observability.WithFields("component", "sessions")),
		sessions.WithLocation(loc),
		sessions.WithWriteMode(cfg.WriteMode),
		sessions.WithDatasetName(cfg.DatasetName),
	), nil
}

func chatOptions() []chat.Option {
	return []chat.Option{
		chat.WithLogger(observability.WithFields("component", "chat")),
		chat.WithReplyDelay(cfg.Reply.Delay),
		chat.WithReplier(chat.EchoReplier{Prefix: cfg.Reply.Prefix}),
	}
}

// loadSession loads the session list and looks up id in it.
func loadSession(ctx context.Context, st *store.Store, id string) (*sessions.Store, store.Session, error) {
	ss, err := newSessionStore(st)
	if err != nil {
		return nil, store.Session{}, err
	}
	ss.Load(ctx)
	sess, ok := ss.Find(id)
	if !ok {
		return nil, store.Session{}, fmt.Errorf("session %q not found", id)
	}
	return ss, sess, nil
}
