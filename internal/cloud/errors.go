package cloud

import (
	"errors"
	"fmt"
)

var (
	ErrNotFound          = errors.New("remote resource not found")
	ErrUnauthorized      = errors.New("remote rejected credentials")
	ErrRemoteUnavailable = errors.New("remote unavailable")

	// ErrVersionConflict matches any *ConflictError via errors.Is.
	ErrVersionConflict = errors.New("remote version conflict")
)

// ConflictError reports an optimistic-concurrency failure: the remote
// document moved past the version the update was computed against.
type ConflictError struct {
	DocumentID      string
	ExpectedVersion int64
	RemoteVersion   int64
}

func (e *ConflictError) Error() string {
	return fmt.Sprintf("version conflict on document %s: expected %d, remote has %d",
		e.DocumentID, e.ExpectedVersion, e.RemoteVersion)
}

func (e *ConflictError) Is(target error) bool {
	return target == ErrVersionConflict
}
