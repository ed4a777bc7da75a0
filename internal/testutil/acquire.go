package testutil

import (
	"context"
	"os"
	"path/filepath"
	"time"

	"github.com/andrebq/doorman/credstore"
	"github.com/andrebq/doorman/session"
)

type (
	TestLog interface {
		Fatal(...interface{})
		Log(...interface{})
	}
)

// AcquireCredentialStore opens a fresh store inside a temporary directory,
// the returned function closes the store and removes the directory.
func AcquireCredentialStore(ctx context.Context, t TestLog, name string) (*credstore.Store, func()) {
	dir, err := os.MkdirTemp("", "doorman-tests")
	if err != nil {
		t.Fatal(err)
	}
	store, err := credstore.Open(ctx, filepath.Join(dir, name))
	if err != nil {
		os.RemoveAll(dir)
		t.Fatal(err)
	}
	return store, func() {
		err := store.Close()
		if err != nil {
			t.Log("unable to close credential store", err)
		}
		err = os.RemoveAll(dir)
		if err != nil {
			t.Log("unable to cleanup temp dir", dir)
		}
	}
}

// AcquireGate returns a session gate backed by an in-memory store
func AcquireGate(ctx context.Context, t TestLog, ttl time.Duration) (*session.Gate, func()) {
	store, err := session.NewMemoryStore(ctx, ttl)
	if err != nil {
		t.Fatal(err)
	}
	return session.NewGate(store, ttl), func() {
		err := store.Close()
		if err != nil {
			t.Log("unable to close session store", err)
		}
	}
}
