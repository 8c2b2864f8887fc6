package api

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestStatusErrorIsMatchesOnStatusOnly(t *testing.T) {
	cause := errors.New("underlying")
	err := NewStatusError(STALE, "base version behind", cause)

	require.True(t, Is(err, STALE))
	require.False(t, Is(err, FAILED))
	require.True(t, errors.Is(err, cause))
}

func TestStatusErrorUnwrap(t *testing.T) {
	cause := errors.New("boom")
	err := NewStatusError(FAILED, "", cause)
	require.Equal(t, cause, errors.Unwrap(err))
}

func TestStatusErrorMessage(t *testing.T) {
	err := NewStatusError(NOBUFS, "too many pending", nil)
	require.Equal(t, "NOBUFS: too many pending", err.Error())

	bare := NewStatusError(UPTODATE, "", nil)
	require.Equal(t, "UPTODATE", bare.Error())
}

func TestStatusStringUnknown(t *testing.T) {
	var s Status = 250
	require.Equal(t, "UNKNOWN", s.String())
	_ = fmt.Sprintf("%s", s) // Stringer is exercised by fmt too
}
