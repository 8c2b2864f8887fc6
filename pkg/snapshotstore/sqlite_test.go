package snapshotstore

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/shrtyk/rsm-core/api"
)

func openTestSQLite(t *testing.T) *SQLite {
	t.Helper()
	path := filepath.Join(t.TempDir(), "snapshots.db")
	s, err := OpenSQLite(path, true)
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestSQLiteGetSnapshotEmptyOnFreshDB(t *testing.T) {
	s := openTestSQLite(t)
	status, blob, _, err := s.GetSnapshot(context.Background(), api.LSNOldest)
	require.NoError(t, err)
	require.Equal(t, api.EMPTY, status)
	require.Nil(t, blob)
}

func TestSQLiteWriteThenGetSnapshotRoundTrips(t *testing.T) {
	s := openTestSQLite(t)
	ctx := context.Background()

	status, _, err := s.WriteSnapshot(ctx, 10, []byte("state"))
	require.NoError(t, err)
	require.Equal(t, api.OK, status)

	status, blob, attrs, err := s.GetSnapshot(ctx, 10)
	require.NoError(t, err)
	require.Equal(t, api.OK, status)
	require.Equal(t, []byte("state"), blob)
	require.Equal(t, api.LSN(10), attrs.BaseVersion)
}

func TestSQLiteWriteSnapshotOlderVersionIsUptodate(t *testing.T) {
	s := openTestSQLite(t)
	ctx := context.Background()
	_, _, err := s.WriteSnapshot(ctx, 10, []byte("state"))
	require.NoError(t, err)

	status, _, err := s.WriteSnapshot(ctx, 5, []byte("older"))
	require.NoError(t, err)
	require.Equal(t, api.UPTODATE, status)

	_, blob, _, err := s.GetSnapshot(ctx, 0)
	require.NoError(t, err)
	require.Equal(t, []byte("state"), blob)
}

func TestSQLiteGetSnapshotStaleWhenBelowMinVersion(t *testing.T) {
	s := openTestSQLite(t)
	ctx := context.Background()
	_, _, err := s.WriteSnapshot(ctx, 10, []byte("state"))
	require.NoError(t, err)

	status, _, _, err := s.GetSnapshot(ctx, 20)
	require.NoError(t, err)
	require.Equal(t, api.STALE, status)
}

func TestSQLiteGetDurableVersion(t *testing.T) {
	s := openTestSQLite(t)
	ctx := context.Background()

	v, err := s.GetDurableVersion(ctx)
	require.NoError(t, err)
	require.Equal(t, api.LSNInvalid, v)

	_, _, err = s.WriteSnapshot(ctx, 7, []byte("x"))
	require.NoError(t, err)

	v, err = s.GetDurableVersion(ctx)
	require.NoError(t, err)
	require.Equal(t, api.LSN(7), v)
}

func TestSQLitePersistsAcrossReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "snapshots.db")
	s1, err := OpenSQLite(path, true)
	require.NoError(t, err)

	_, _, err = s1.WriteSnapshot(context.Background(), 42, []byte("persisted"))
	require.NoError(t, err)
	require.NoError(t, s1.Close())

	s2, err := OpenSQLite(path, true)
	require.NoError(t, err)
	defer s2.Close()

	status, blob, _, err := s2.GetSnapshot(context.Background(), 0)
	require.NoError(t, err)
	require.Equal(t, api.OK, status)
	require.Equal(t, []byte("persisted"), blob)
}
