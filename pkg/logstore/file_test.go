package logstore

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/shrtyk/rsm-core/api"
)

func TestFileAppendPersistsAcrossReopen(t *testing.T) {
	dir := t.TempDir()
	ctx := context.Background()

	f1, err := NewFile(dir)
	require.NoError(t, err)
	lsn1, err := f1.Append(ctx, "deltas", []byte("a"), false)
	require.NoError(t, err)
	lsn2, err := f1.Append(ctx, "deltas", []byte("b"), false)
	require.NoError(t, err)
	require.NoError(t, f1.Close())

	f2, err := NewFile(dir)
	require.NoError(t, err)
	defer f2.Close()

	tail, err := f2.QueryTailLSN(ctx, "deltas")
	require.NoError(t, err)
	require.Equal(t, lsn2, tail)

	var got []api.LSN
	received := make(chan struct{}, 2)
	_, err = f2.OpenReadStream(ctx, "deltas", api.LSNOldest+1, lsn2,
		func(rec api.DeltaRecord) bool {
			got = append(got, rec.LSN)
			received <- struct{}{}
			return true
		},
		func(gap api.Gap) bool { return true },
		func(healthy bool) {},
	)
	require.NoError(t, err)

	for range 2 {
		<-received
	}
	require.Equal(t, []api.LSN{lsn1, lsn2}, got)
}

func TestFileQueryTailLSNOnFreshLog(t *testing.T) {
	f, err := NewFile(t.TempDir())
	require.NoError(t, err)
	defer f.Close()

	tail, err := f.QueryTailLSN(context.Background(), "deltas")
	require.NoError(t, err)
	require.Equal(t, api.LSNOldest, tail)
}

func TestFileTrimIsVisibleAfterReopen(t *testing.T) {
	dir := t.TempDir()
	ctx := context.Background()

	f1, err := NewFile(dir)
	require.NoError(t, err)
	lsn1, err := f1.Append(ctx, "deltas", []byte("a"), false)
	require.NoError(t, err)
	require.NoError(t, f1.Trim(ctx, "deltas", lsn1))
	require.NoError(t, f1.Close())

	f2, err := NewFile(dir)
	require.NoError(t, err)
	defer f2.Close()

	gapCh := make(chan api.Gap, 1)
	_, err = f2.OpenReadStream(ctx, "deltas", api.LSNOldest+1, api.LSNMax,
		func(rec api.DeltaRecord) bool { return true },
		func(gap api.Gap) bool {
			gapCh <- gap
			return true
		},
		func(healthy bool) {},
	)
	require.NoError(t, err)

	select {
	case gap := <-gapCh:
		require.Equal(t, api.GapTrim, gap.Type)
	case <-time.After(2 * time.Second):
		t.Fatal("trim was not visible after reopen; trim point is not persisted across restarts")
	}
}
