package store

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vk/distforge/internal/recipe"
)

func testRecord(name, version string, revision int) *Record {
	return &Record{
		Name:     name,
		Version:  version,
		Revision: revision,
		BuildID:  "test-build",
		BuiltAt:  time.Now().UTC(),
		Packaged: true,
		Files:    []string{"usr/bin/" + name, "usr/share/doc/" + name},
	}
}

func TestRecordAndLatest(t *testing.T) {
	s, err := Open(context.Background(), t.TempDir())
	require.NoError(t, err)
	defer s.Close()

	_, ok := s.Latest("bash")
	assert.False(t, ok)

	require.NoError(t, s.Record(testRecord("bash", "5.2.15", 1)))

	rec, ok := s.Latest("bash")
	require.True(t, ok)
	assert.Equal(t, "5.2.15", rec.Version)
	assert.Equal(t, []string{"usr/bin/bash", "usr/share/doc/bash"}, rec.Files)
}

func TestRecord_Supersedes(t *testing.T) {
	s, err := Open(context.Background(), t.TempDir())
	require.NoError(t, err)
	defer s.Close()

	require.NoError(t, s.Record(testRecord("bash", "5.2.15", 1)))
	require.NoError(t, s.Record(testRecord("bash", "5.2.15", 2)))

	rec, ok := s.Latest("bash")
	require.True(t, ok)
	assert.Equal(t, 2, rec.Revision)
}

func TestUpToDate(t *testing.T) {
	s, err := Open(context.Background(), t.TempDir())
	require.NoError(t, err)
	defer s.Close()

	rcp := &recipe.Recipe{Name: "bash", Version: "5.2.15", Revision: 1}
	assert.False(t, s.UpToDate(rcp))

	require.NoError(t, s.Record(testRecord("bash", "5.2.15", 1)))
	assert.True(t, s.UpToDate(rcp))

	t.Run("revision bump forces rebuild", func(t *testing.T) {
		bumped := &recipe.Recipe{Name: "bash", Version: "5.2.15", Revision: 2}
		assert.False(t, s.UpToDate(bumped))
	})

	t.Run("version bump forces rebuild", func(t *testing.T) {
		newer := &recipe.Recipe{Name: "bash", Version: "5.3", Revision: 1}
		assert.False(t, s.UpToDate(newer))
	})

	t.Run("unpackaged record is not up to date", func(t *testing.T) {
		rec := testRecord("readline", "8.2", 1)
		rec.Packaged = false
		rec.Regenerated = true
		require.NoError(t, s.Record(rec))
		assert.False(t, s.UpToDate(&recipe.Recipe{Name: "readline", Version: "8.2", Revision: 1}))
	})
}

func TestNeedsRegenerate(t *testing.T) {
	s, err := Open(context.Background(), t.TempDir())
	require.NoError(t, err)
	defer s.Close()

	rcp := &recipe.Recipe{Name: "bash", Version: "5.2.15", Revision: 1}
	assert.True(t, s.NeedsRegenerate(rcp), "no record means stale")

	rec := testRecord("bash", "5.2.15", 1)
	rec.Regenerated = true
	require.NoError(t, s.Record(rec))
	assert.False(t, s.NeedsRegenerate(rcp))

	bumped := &recipe.Recipe{Name: "bash", Version: "5.2.15", Revision: 2}
	assert.True(t, s.NeedsRegenerate(bumped), "identity change means stale")
}

func TestOpen_PersistsAcrossReopen(t *testing.T) {
	dir := t.TempDir()

	s, err := Open(context.Background(), dir)
	require.NoError(t, err)
	require.NoError(t, s.Record(testRecord("bash", "5.2.15", 1)))
	require.NoError(t, s.Close())

	s2, err := Open(context.Background(), dir)
	require.NoError(t, err)
	defer s2.Close()

	rec, ok := s2.Latest("bash")
	require.True(t, ok)
	assert.Equal(t, "5.2.15", rec.Version)
	assert.True(t, rec.Packaged)
}

func TestOpen_SecondOpenFailsWhileLocked(t *testing.T) {
	dir := t.TempDir()

	s, err := Open(context.Background(), dir)
	require.NoError(t, err)
	defer s.Close()

	_, err = Open(context.Background(), dir)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "locked by another process")
}
