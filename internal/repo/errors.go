package repo

import "errors"

// Sentinel errors for backend operations. Check with errors.Is().

// ErrPushRejected is returned when the remote refuses an update (diverged
// history or unreachable remote). The local record stays intact.
var ErrPushRejected = errors.New("push rejected by remote")

// ErrNoRemote is returned when a remote operation is requested but the
// profile has no remote configured.
var ErrNoRemote = errors.New("no remote configured")

// ErrRecordNotFound is returned when a backup record id (or prefix) matches
// no record.
var ErrRecordNotFound = errors.New("backup record not found")
