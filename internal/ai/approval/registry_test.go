package approval

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAddAndGet(t *testing.T) {
	r := New(Config{DataDir: t.TempDir(), DefaultTimeout: time.Minute})
	r.Add("rem-1", "protected namespace")

	entry, ok := r.Get("rem-1")
	require.True(t, ok)
	assert.Equal(t, "protected namespace", entry.Reason)
	assert.True(t, entry.ExpiresAt.After(entry.RequestedAt))
}

func TestResolveRemovesEntry(t *testing.T) {
	r := New(Config{DataDir: t.TempDir()})
	r.Add("rem-1", "reason")
	r.Resolve("rem-1")

	_, ok := r.Get("rem-1")
	assert.False(t, ok)
}

func TestRunExpiryLoopExpiresPastDeadline(t *testing.T) {
	r := New(Config{DataDir: t.TempDir(), DefaultTimeout: time.Millisecond})
	r.Add("rem-1", "reason")

	ctx, cancel := context.WithCancel(context.Background())
	expired := make(chan string, 1)
	go r.RunExpiryLoop(ctx, 5*time.Millisecond, func(id string) { expired <- id })

	select {
	case id := <-expired:
		assert.Equal(t, "rem-1", id)
	case <-time.After(time.Second):
		t.Fatal("expected expiry callback")
	}
	cancel()

	_, ok := r.Get("rem-1")
	assert.False(t, ok)
}

func TestFlushAndReload(t *testing.T) {
	dir := t.TempDir()
	r1 := New(Config{DataDir: dir, DefaultTimeout: time.Hour})
	r1.Add("rem-1", "reason")
	require.NoError(t, r1.Flush())

	r2 := New(Config{DataDir: dir, DefaultTimeout: time.Hour})
	_, ok := r2.Get("rem-1")
	assert.True(t, ok)
}

func TestListReturnsAllPending(t *testing.T) {
	r := New(Config{DataDir: t.TempDir()})
	r.Add("rem-1", "a")
	r.Add("rem-2", "b")
	assert.Len(t, r.List(), 2)
}
