package clusterstate

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestStaticReportsConfiguredIndices(t *testing.T) {
	s := NewStatic(2, 0)
	require.Equal(t, 2, s.MyNodeIndex())

	idx, ok, err := s.FirstAliveNodeIndex(context.Background())
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, 0, idx)
}

func TestStaticSingleNodeIsItsOwnFirstAlive(t *testing.T) {
	s := NewStatic(0, 0)
	idx, ok, err := s.FirstAliveNodeIndex(context.Background())
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, s.MyNodeIndex(), idx)
}
