package chaterr

import (
	"fmt"
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/require"
)

func TestError_Is(t *testing.T) {
	tests := []struct {
		name   string
		err    error
		target error
		want   bool
	}{
		{"same sentinel", ErrNotAMember, ErrNotAMember, true},
		{"wrapped copy", ErrRoomExists.Wrap(fmt.Errorf("duplicate key")), ErrRoomExists, true},
		{"fmt wrapped", fmt.Errorf("join: %w", ErrNotAMember), ErrNotAMember, true},
		{"kind only target", ErrAlreadyMember, &Error{Kind: KindConflict}, true},
		{"other reason", ErrNotAllowed, ErrNotAMember, false},
		{"other kind", ErrRoomMissing, ErrRoomExists, false},
		{"plain error", errors.New("boom"), ErrStorage, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			require.Equal(t, tt.want, errors.Is(tt.err, tt.target))
		})
	}
}

func TestStorage(t *testing.T) {
	cause := errors.New("connection refused")
	err := Storage(cause, "create message")

	require.ErrorIs(t, err, ErrStorage)
	require.ErrorIs(t, err, cause)
	require.Equal(t, "StorageError:Unavailable", err.Code())
	require.Contains(t, err.Error(), "create message: connection refused")
	require.Equal(t, KindStorage, KindOf(fmt.Errorf("handler: %w", err)))
	require.Equal(t, Kind(""), KindOf(cause))
}
