package artifact

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/shortsforge/shortsforge/pkg/config"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := NewStore(t.TempDir(), NewItemLocks())
	require.NoError(t, err)
	return s
}

func TestFinalizeRenamesIntoPlace(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	p, err := s.Begin("I1", KindScript, "txt")
	require.NoError(t, err)
	_, err = p.Write([]byte("a 160 word script"))
	require.NoError(t, err)

	a, err := p.Finalize(ctx, "scripting")
	require.NoError(t, err)

	assert.FileExists(t, a.Path)
	assert.Equal(t, int64(len("a 160 word script")), a.Size)

	want := sha256.Sum256([]byte("a 160 word script"))
	assert.Equal(t, hex.EncodeToString(want[:]), a.SHA256)
	assert.True(t, strings.HasPrefix(a.Path, s.Root()))
	assert.Contains(t, filepath.Base(a.Path), a.SHA256[:8])
	assert.Equal(t, 0, s.TempFileCount())
}

func TestAbortLeavesNoTrace(t *testing.T) {
	s := newTestStore(t)

	p, err := s.Begin("I1", KindNarration, "mp3")
	require.NoError(t, err)
	_, err = p.Write([]byte("partial audio"))
	require.NoError(t, err)
	p.Abort()

	assert.Equal(t, 0, s.TempFileCount())
	list, err := s.List(context.Background(), "I1", KindNarration)
	require.NoError(t, err)
	assert.Empty(t, list)
}

func TestFinalizeEmptyArtifactRejected(t *testing.T) {
	s := newTestStore(t)
	p, err := s.Begin("I1", KindScript, "txt")
	require.NoError(t, err)
	_, err = p.Finalize(context.Background(), "scripting")
	assert.Error(t, err)
	assert.Equal(t, 0, s.TempFileCount())
}

func TestFinalizeIdenticalContentIsIdempotent(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	write := func() Artifact {
		p, err := s.Begin("I1", KindScript, "txt")
		require.NoError(t, err)
		_, err = p.Write([]byte("same content"))
		require.NoError(t, err)
		a, err := p.Finalize(ctx, "scripting")
		require.NoError(t, err)
		return a
	}

	first := write()
	second := write()

	assert.Equal(t, first.Path, second.Path, "identical content re-run must not create a new file")
	list, err := s.List(ctx, "I1", KindScript)
	require.NoError(t, err)
	assert.Len(t, list, 1)
}

func TestPartialFilesNeverUnderFinalName(t *testing.T) {
	s := newTestStore(t)

	p, err := s.Begin("I1", KindAssembledVideo, "mp4")
	require.NoError(t, err)
	_, err = p.Write([]byte("partial"))
	require.NoError(t, err)

	// Before Finalize, nothing in the directory matches a final name.
	list, err := s.List(context.Background(), "I1", KindAssembledVideo)
	require.NoError(t, err)
	assert.Empty(t, list)
	p.Abort()
}

func TestVerify(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	p, err := s.Begin("I1", KindMetadataJSON, "json")
	require.NoError(t, err)
	_, err = p.Write([]byte(`{"title":"x"}`))
	require.NoError(t, err)
	a, err := p.Finalize(ctx, "metadata")
	require.NoError(t, err)

	require.NoError(t, s.Verify(a))

	// Tamper: content change must fail verification.
	require.NoError(t, os.WriteFile(a.Path, []byte(`{"title":"y"}`), 0o644))
	assert.Error(t, s.Verify(a))

	// Path outside the root must be rejected.
	outside := a
	outside.Path = "/etc/passwd"
	assert.Error(t, s.Verify(outside))
}

func TestBeginRejectsBadInput(t *testing.T) {
	s := newTestStore(t)
	_, err := s.Begin("../evil", KindScript, "txt")
	assert.Error(t, err)
	_, err = s.Begin("I1", Kind("weird"), "txt")
	assert.Error(t, err)
}

func TestRemoveKindKeepsWinner(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	mk := func(content string) Artifact {
		p, err := s.Begin("I1", KindStockClip, "mp4")
		require.NoError(t, err)
		_, err = p.Write([]byte(content))
		require.NoError(t, err)
		a, err := p.Finalize(ctx, "sourcing_clips")
		require.NoError(t, err)
		return a
	}
	old := mk("old clip")
	kept := mk("new clip")

	require.NoError(t, s.RemoveKind(ctx, "I1", KindStockClip, kept.Path))
	assert.NoFileExists(t, old.Path)
	assert.FileExists(t, kept.Path)
}

func TestItemLockMutualExclusion(t *testing.T) {
	locks := NewItemLocks()
	ctx := context.Background()

	var mu sync.Mutex
	active := map[string]int{}
	violations := 0

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = locks.With(ctx, "I1", func() error {
				mu.Lock()
				active["I1"]++
				if active["I1"] > 1 {
					violations++
				}
				mu.Unlock()
				time.Sleep(time.Millisecond)
				mu.Lock()
				active["I1"]--
				mu.Unlock()
				return nil
			})
		}()
	}
	wg.Wait()
	assert.Zero(t, violations, "two workers held the same item lock")
}

func TestItemLockHonorsCancellation(t *testing.T) {
	locks := NewItemLocks()
	release, err := locks.Acquire(context.Background(), "I1")
	require.NoError(t, err)
	defer release()

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err = locks.Acquire(ctx, "I1")
	assert.Error(t, err)
}

func TestTryAcquire(t *testing.T) {
	locks := NewItemLocks()
	release, ok := locks.TryAcquire("I1")
	require.True(t, ok)
	_, ok = locks.TryAcquire("I1")
	assert.False(t, ok)
	release()
	release2, ok := locks.TryAcquire("I1")
	assert.True(t, ok)
	release2()
}

type fakeLister struct {
	items []TerminalItem
}

func (f *fakeLister) TerminalItems(context.Context) ([]TerminalItem, error) {
	return f.items, nil
}

func TestCollectorRemovesExpiredOnly(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	for _, id := range []string{"old", "fresh"} {
		p, err := s.Begin(id, KindScript, "txt")
		require.NoError(t, err)
		_, err = p.Write([]byte("content " + id))
		require.NoError(t, err)
		_, err = p.Finalize(ctx, "scripting")
		require.NoError(t, err)
	}

	lister := &fakeLister{items: []TerminalItem{
		{ID: "old", FinishedAt: time.Now().Add(-48 * time.Hour)},
		{ID: "fresh", FinishedAt: time.Now().Add(-time.Hour)},
	}}
	c := NewCollector(config.RetentionConfig{GracePeriod: 24 * time.Hour, Interval: time.Hour}, s, lister)

	removed, err := c.RunOnce(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, removed)

	oldList, err := s.List(ctx, "old", KindScript)
	require.NoError(t, err)
	assert.Empty(t, oldList)

	freshList, err := s.List(ctx, "fresh", KindScript)
	require.NoError(t, err)
	assert.Len(t, freshList, 1)
}
