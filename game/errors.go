package game

import "errors"

// Error taxonomy shared by the caches, the lock manager and the store.
// Callers test with errors.Is; wrapped errors carry the detail.
var (
	// ErrNotFound means the entity is missing from both cache and store.
	ErrNotFound = errors.New("not found")

	// ErrConflict means a business invariant rejected the operation, such
	// as attacking a user who is already in a battle.
	ErrConflict = errors.New("conflict")

	// ErrStorage wraps any persistent-store failure.
	ErrStorage = errors.New("storage error")

	// ErrCancelled means the task was cancelled while suspended.
	ErrCancelled = errors.New("cancelled")

	// ErrLockOrder means a task tried to acquire a lock at or below a level
	// it already holds. This is a programming error.
	ErrLockOrder = errors.New("lock order violation")

	// ErrReentrant means a task tried to acquire a lock it already holds.
	ErrReentrant = errors.New("reentrant lock acquisition")
)
