package session

import (
	"errors"
	"fmt"
)

var (
	// ErrInvalidRole rejects a Begin with a role outside the two enumerated values.
	ErrInvalidRole = errors.New("invalid participant role")

	// ErrNoCounterpartAssigned signals that a patient has no caregiver assigned
	// yet. It is an expected steady state, not a failure: the session stays
	// usable and the snapshot carries the unassigned flag.
	ErrNoCounterpartAssigned = errors.New("no caregiver assigned")

	// ErrBackendUnavailable wraps any store failure during Begin or Select.
	// Local state is left as it was before the failed call.
	ErrBackendUnavailable = errors.New("backend unavailable")

	// ErrEmptyMessage rejects a Send whose text is empty after trimming.
	ErrEmptyMessage = errors.New("empty message")

	// ErrNoActiveConversation rejects a Send with no conversation selected.
	ErrNoActiveConversation = errors.New("no active conversation")

	// ErrSendFailed reports a failed message write. There is no automatic
	// retry; the caller resubmits explicitly.
	ErrSendFailed = errors.New("send failed")
)

func backendErr(err error) error {
	return fmt.Errorf("%w: %v", ErrBackendUnavailable, err)
}

func sendErr(err error) error {
	return fmt.Errorf("%w: %v", ErrSendFailed, err)
}
