package registry

import "errors"

// Sentinel errors for registry operations. Check with errors.Is().

// ErrPathNotFound is returned when a registered path does not exist on disk.
var ErrPathNotFound = errors.New("path does not exist")

// ErrAliasCollision is returned when an alias is already taken by another entry.
var ErrAliasCollision = errors.New("alias already in use")

// ErrDuplicatePath is returned when a path is already tracked.
var ErrDuplicatePath = errors.New("path already tracked")

// ErrNotFound is returned when a token resolves to no tracked entry.
var ErrNotFound = errors.New("no tracked entry matches")
