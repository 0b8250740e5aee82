package apperr

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestKindOf(t *testing.T) {
	require.Equal(t, NotFound, KindOf(E(NotFound, "user not found")))
	require.Equal(t, Internal, KindOf(errors.New("boom")))

	wrapped := fmt.Errorf("outer: %w", E(Unauthorized, "no session"))
	require.Equal(t, Unauthorized, KindOf(wrapped))
}

func TestIsMatchesByKind(t *testing.T) {
	err := Wrap(Conflict, "concurrent write", errors.New("digest mismatch"))
	require.ErrorIs(t, err, E(Conflict, ""))
	require.NotErrorIs(t, err, E(NotFound, ""))
}

func TestMessageOfHidesUnclassifiedErrors(t *testing.T) {
	require.Equal(t, "internal error", MessageOf(errors.New("dial tcp: refused")))
	require.Equal(t, "text is required", MessageOf(E(Validation, "text is required")))
}

func TestUnwrapReachesCause(t *testing.T) {
	cause := errors.New("disk full")
	err := Wrap(Internal, "write failed", cause)
	require.ErrorIs(t, err, cause)
}
