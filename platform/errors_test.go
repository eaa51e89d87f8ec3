package platform

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestRejectedError(t *testing.T) {
	err := fmt.Errorf("submit: %w", &RejectedError{Reason: RejectNotTransferable, Message: "type Tasks"})
	require.ErrorIs(t, err, ErrRejected)
	require.EqualError(t, err, "submit: state transition rejected [not_transferable]: type Tasks")

	reason, ok := RejectionReason(err)
	require.True(t, ok)
	require.Equal(t, RejectNotTransferable, reason)

	_, ok = RejectionReason(errors.New("any"))
	require.False(t, ok)
}

func TestNetworkError(t *testing.T) {
	cause := errors.New("connection refused")
	err := fmt.Errorf("submit: %w", &NetworkError{Op: "broadcast", Err: cause})

	require.True(t, IsNetworkError(err))
	require.ErrorIs(t, err, cause)
	require.False(t, IsNetworkError(cause))
	require.False(t, IsNetworkError(&RejectedError{Reason: RejectValidation}))
}

func TestParseRejectReason(t *testing.T) {
	for _, r := range []RejectReason{
		RejectValidation, RejectInsufficientBalance, RejectStaleRevision,
		RejectUnauthorizedKey, RejectNotFound, RejectNotTransferable,
	} {
		require.Equal(t, r, ParseRejectReason(string(r)))
	}

	require.Equal(t, RejectUnknown, ParseRejectReason("gas"))
}
