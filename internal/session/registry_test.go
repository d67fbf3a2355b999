package session

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"komikbot/internal/fetch"
)

func TestCreateReplacesAndCancelsOldSession(t *testing.T) {
	reg := NewRegistry(t.TempDir(), nopLog{})

	first := reg.Create(7, fetch.ModeNormal)
	second := reg.Create(7, fetch.ModeBig)

	assert.True(t, first.Token.Cancelled(), "a replaced session's run must stop")
	assert.False(t, second.Token.Cancelled())

	got, ok := reg.Get(7)
	require.True(t, ok)
	assert.Same(t, second, got)
	assert.Equal(t, fetch.ModeBig, got.FetchMode)
}

func TestDeleteCleansChapterFolders(t *testing.T) {
	dir := t.TempDir()
	reg := NewRegistry(dir, nopLog{})

	s := reg.Create(7, fetch.ModeNormal)
	s.Range = []string{"1", "2"}

	for _, id := range s.Range {
		require.NoError(t, os.MkdirAll(filepath.Join(dir, fetch.FolderName(id, fetch.ModeNormal)), 0755))
	}

	reg.Delete(7)

	_, ok := reg.Get(7)
	assert.False(t, ok)

	for _, id := range s.Range {
		_, err := os.Stat(filepath.Join(dir, fetch.FolderName(id, fetch.ModeNormal)))
		assert.True(t, os.IsNotExist(err))
	}
}

func TestCancelFlagsTokenAndKeepsSession(t *testing.T) {
	reg := NewRegistry(t.TempDir(), nopLog{})
	s := reg.Create(7, fetch.ModeNormal)

	assert.True(t, reg.Cancel(7))
	assert.True(t, s.Token.Cancelled())

	_, ok := reg.Get(7)
	assert.True(t, ok, "cancel stops the run, delete is a separate step")

	assert.False(t, reg.Cancel(99))
}

func TestSweepEvictsIdleSessions(t *testing.T) {
	reg := NewRegistry(t.TempDir(), nopLog{})

	idle := reg.Create(7, fetch.ModeNormal)
	idle.LastSeen = time.Now().Add(-2 * time.Hour)

	reg.Create(8, fetch.ModeNormal)

	evicted := reg.Sweep(time.Hour)
	assert.Equal(t, 1, evicted)

	_, ok := reg.Get(7)
	assert.False(t, ok)
	_, ok = reg.Get(8)
	assert.True(t, ok)
}
