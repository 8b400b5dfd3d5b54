package shared

import "errors"

var (
	// ErrNotFound indicates resource not found.
	ErrNotFound = errors.New("not found")
	// ErrPermissionDenied indicates the actor's rank is insufficient for a role mutation.
	ErrPermissionDenied = errors.New("permission denied")
	// ErrNotAuthorized indicates the actor lacks uber admin or master-site context.
	ErrNotAuthorized = errors.New("not authorized")
	// ErrInvalidTransition indicates a status transition guard was violated.
	ErrInvalidTransition = errors.New("invalid status transition")
	// ErrValidation indicates malformed input.
	ErrValidation = errors.New("validation failed")
	// ErrUnauthenticated occurs when no valid identity accompanies the request.
	ErrUnauthenticated = errors.New("unauthenticated")
	// ErrLockHeld occurs when another operator currently holds the resource lock.
	ErrLockHeld = errors.New("resource locked")
)
