package watcher

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func startWatcher(t *testing.T, paths ...string) *Watcher {
	t.Helper()
	w, err := New(nil, Options{SettleDelay: 30 * time.Millisecond})
	require.NoError(t, err)
	t.Cleanup(func() { _ = w.Stop() })

	for _, p := range paths {
		require.NoError(t, w.Watch(p))
	}

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	go w.Start(ctx) //nolint:errcheck // Test goroutine
	return w
}

func nextEvent(t *testing.T, w *Watcher) Event {
	t.Helper()
	select {
	case event := <-w.Events():
		return event
	case err := <-w.Errors():
		t.Fatalf("unexpected error: %v", err)
	case <-time.After(2 * time.Second):
		t.Fatal("timeout waiting for event")
	}
	return Event{}
}

func TestWatcher_Modified(t *testing.T) {
	dir := t.TempDir()
	file := filepath.Join(dir, "targets.yaml")
	require.NoError(t, os.WriteFile(file, []byte("targets: []\n"), 0o644))

	w := startWatcher(t, file)
	require.NoError(t, os.WriteFile(file, []byte("targets:\n  - id: a\n"), 0o644))

	event := nextEvent(t, w)
	assert.Equal(t, EventModified, event.Type)
	assert.Equal(t, file, event.Path)
	assert.Equal(t, int64(len("targets:\n  - id: a\n")), event.Size)
}

func TestWatcher_AddedAndRemoved(t *testing.T) {
	dir := t.TempDir()
	file := filepath.Join(dir, "targets.yaml")

	w := startWatcher(t, file)
	require.NoError(t, os.WriteFile(file, []byte("x"), 0o644))
	assert.Equal(t, EventAdded, nextEvent(t, w).Type)

	require.NoError(t, os.Remove(file))
	event := nextEvent(t, w)
	assert.Equal(t, EventRemoved, event.Type)
	assert.Equal(t, file, event.Path)
}

func TestWatcher_RenameOver(t *testing.T) {
	dir := t.TempDir()
	file := filepath.Join(dir, "targets.yaml")
	require.NoError(t, os.WriteFile(file, []byte("old"), 0o644))

	w := startWatcher(t, file)

	tmp := filepath.Join(dir, ".targets.yaml.swp")
	require.NoError(t, os.WriteFile(tmp, []byte("new contents"), 0o644))
	require.NoError(t, os.Rename(tmp, file))

	deadline := time.After(2 * time.Second)
	for {
		select {
		case event := <-w.Events():
			assert.Equal(t, file, event.Path)
			if event.Type != EventRemoved {
				assert.Equal(t, int64(len("new contents")), event.Size)
				return
			}
		case <-deadline:
			t.Fatal("timeout waiting for settled change")
		}
	}
}

func TestWatcher_IgnoresOtherFiles(t *testing.T) {
	dir := t.TempDir()
	file := filepath.Join(dir, "targets.yaml")
	require.NoError(t, os.WriteFile(file, []byte("x"), 0o644))

	w := startWatcher(t, file)
	require.NoError(t, os.WriteFile(filepath.Join(dir, "other.yaml"), []byte("y"), 0o644))

	select {
	case event := <-w.Events():
		t.Fatalf("unexpected event: %+v", event)
	case <-time.After(200 * time.Millisecond):
	}
}

func TestWatcher_MissingDirectory(t *testing.T) {
	w, err := New(nil, Options{})
	require.NoError(t, err)
	defer w.Stop() //nolint:errcheck // Test cleanup

	assert.Error(t, w.Watch(filepath.Join(t.TempDir(), "nope", "targets.yaml")))
}

func TestWatcher_StopTwice(t *testing.T) {
	w, err := New(nil, Options{})
	require.NoError(t, err)
	assert.NoError(t, w.Stop())
	assert.NoError(t, w.Stop())
}
