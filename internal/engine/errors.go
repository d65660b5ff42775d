package engine

import "errors"

// Sentinel errors for sync operations. Check with errors.Is().

// ErrEngineBusy is returned when a backup or restore is attempted while
// another operation is in flight on the same profile.
var ErrEngineBusy = errors.New("another operation is in progress")

// ErrDirtyWorkingTree is returned when a restore would overwrite local edits
// that have not been backed up.
var ErrDirtyWorkingTree = errors.New("uncommitted local changes")
