package attendance

import (
	"errors"
	"fmt"
)

// Every sign-in failure is an expected, user-facing outcome. Handlers map
// these to structured responses; anything else coming out of the store is
// treated as transient and retryable.
var (
	ErrTokenInvalid         = errors.New("invalid code: scan the one currently on screen")
	ErrTokenExpired         = errors.New("code expired: scan the new one on screen")
	ErrWindowClosed         = errors.New("sign-in window is closed, lecture has ended")
	ErrWindowStillOpen      = errors.New("sign-in window is still open")
	ErrNotEnrolled          = errors.New("not enrolled in this subject")
	ErrAlreadySignedIn      = errors.New("already signed in for this lecture")
	ErrUnknownAssignment    = errors.New("assignment not found")
	ErrNotAssignmentTeacher = errors.New("assignment belongs to another teacher")
	ErrBadFingerprint       = errors.New("device verification failed")
	ErrInvalidStatus        = errors.New("invalid attendance status")
)

// DeviceConflictError is returned when a device fingerprint is already bound
// to a different student in the same session. It names that student so a
// teacher can resolve the dispute on the spot.
type DeviceConflictError struct {
	StudentID   string
	StudentName string
}

func (e *DeviceConflictError) Error() string {
	return fmt.Sprintf("this device already marked attendance for %s (%s) in this lecture", e.StudentName, e.StudentID)
}
