package shared

import "errors"

var (
	// ErrNotFound indicates resource not found.
	ErrNotFound = errors.New("not found")
	// ErrStorageUnavailable indicates a transient storage failure; callers may retry.
	ErrStorageUnavailable = errors.New("storage unavailable")
	// ErrPermissionDenied indicates the actor does not hold a required permission.
	ErrPermissionDenied = errors.New("permission denied")
)
