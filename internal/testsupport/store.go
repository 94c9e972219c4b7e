package testsupport

import (
	"context"
	"testing"

	"reelsmith/internal/artifacts"
	"reelsmith/internal/config"
	"reelsmith/internal/queue"
)

// MustOpenStore opens a queue.Store for tests and registers cleanup.
func MustOpenStore(t testing.TB, cfg *config.Config) *queue.Store {
	t.Helper()

	store, err := queue.Open(cfg)
	if err != nil {
		t.Fatalf("queue.Open: %v", err)
	}
	t.Cleanup(func() {
		store.Close()
	})
	return store
}

// MustOpenArtifacts opens an artifacts.Store for tests and registers cleanup.
func MustOpenArtifacts(t testing.TB, cfg *config.Config) *artifacts.Store {
	t.Helper()

	store, err := artifacts.Open(cfg)
	if err != nil {
		t.Fatalf("artifacts.Open: %v", err)
	}
	t.Cleanup(func() {
		store.Close()
	})
	return store
}

// NewJob creates a queued job for tests using the provided store.
func NewJob(t testing.TB, store *queue.Store, sourcePath string, opts queue.Options) *queue.Job {
	t.Helper()

	job, err := store.NewJob(context.Background(), sourcePath, opts)
	if err != nil {
		t.Fatalf("store.NewJob: %v", err)
	}
	return job
}
