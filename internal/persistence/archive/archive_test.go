package archive

import (
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"stellarcolony.ai/internal/persistence/journal"
	"stellarcolony.ai/internal/sim/catalogs"
	"stellarcolony.ai/internal/sim/clock"
	"stellarcolony.ai/internal/sim/engine"
)

type recordingMirror struct {
	mu    sync.Mutex
	paths []string
}

func (m *recordingMirror) Enqueue(p string) {
	m.mu.Lock()
	m.paths = append(m.paths, p)
	m.mu.Unlock()
}

func writeSession(t *testing.T, dataDir, id string, ticks int) *engine.Engine {
	t.Helper()
	cat, err := catalogs.Builtin("farm")
	require.NoError(t, err)
	e, err := engine.New(engine.Config{Catalog: cat, Seed: 9})
	require.NoError(t, err)
	j := journal.NewTickJournal(journal.SessionDir(dataDir, id), journal.CodecZstd, nil)
	require.NoError(t, e.SetJournal(j, id))
	for i := 0; i < ticks; i++ {
		_ = e.ManualGenerate("money")
		e.Tick()
	}
	require.NoError(t, j.Close())
	return e
}

func TestArchiveSession(t *testing.T) {
	dir := t.TempDir()
	e := writeSession(t, dir, "s1", 12)

	mirror := &recordingMirror{}
	clk := clock.NewManual(time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC), time.Second)
	a := New(dir, clk, mirror, nil)

	dst, err := a.ArchiveSession("s1")
	require.NoError(t, err)
	assert.Equal(t, Dir(dir, "s1"), dst)

	m, err := ReadManifest(dir, "s1")
	require.NoError(t, err)
	assert.Equal(t, "s1", m.SessionID)
	assert.Equal(t, "farm", m.Variant)
	assert.Equal(t, int64(9), m.Seed)
	assert.Equal(t, uint64(12), m.EndTick)
	assert.Equal(t, e.Digest(), m.EndDigest)
	assert.Equal(t, 12, m.Intents)
	assert.Equal(t, "2026-01-02T03:04:05.000Z", m.ArchivedAt)
	require.NotEmpty(t, m.Segments)
	assert.Len(t, m.Segments[0].Blake3, 64)

	_, err = os.Stat(filepath.Join(dir, "sessions", "s1"))
	assert.True(t, os.IsNotExist(err), "live dir should be gone")
	assert.Len(t, mirror.paths, len(m.Segments)+1)
	assert.Equal(t, filepath.Join(dst, ManifestName), mirror.paths[len(mirror.paths)-1])

	require.NoError(t, Verify(dir, "s1"))

	// The archived journal still replays.
	n := 0
	require.NoError(t, journal.ReadDir(dst, func(engine.TickLogEntry) error { n++; return nil }))
	assert.Equal(t, 13, n)
}

func TestVerifyDetectsTampering(t *testing.T) {
	dir := t.TempDir()
	writeSession(t, dir, "s2", 3)
	_, err := New(dir, nil, nil, nil).ArchiveSession("s2")
	require.NoError(t, err)

	m, err := ReadManifest(dir, "s2")
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(filepath.Join(Dir(dir, "s2"), m.Segments[0].Name), []byte("garbage"), 0o644))
	assert.Error(t, Verify(dir, "s2"))
}

func TestArchiveRejects(t *testing.T) {
	dir := t.TempDir()
	a := New(dir, nil, nil, nil)
	_, err := a.ArchiveSession("../x")
	assert.Error(t, err)
	_, err = a.ArchiveSession("nope")
	assert.Error(t, err)
}
