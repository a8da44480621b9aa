package ports

import (
	"context"
	"errors"

	"opulence/internal/domain"
)

var (
	// ErrRoomNotFound is returned when no record exists for the room code.
	ErrRoomNotFound = errors.New("room not found")
	// ErrVersionConflict is returned when a save lost a compare-and-swap
	// race; the caller is expected to retry, not block.
	ErrVersionConflict = errors.New("room was modified concurrently")
)

// RoomStore persists one durable record per room, keyed by room code. The
// record is read fully, mutated in memory and written back wholesale; the
// version read at load time guards the write so stale updates are
// rejected instead of clobbering.
type RoomStore interface {
	// Get loads the room and its current storage version.
	Get(ctx context.Context, code string) (*domain.Room, string, error)

	// Save writes the room conditionally on the given version and returns
	// the new version. An empty version requires that no record exists yet.
	Save(ctx context.Context, room *domain.Room, version string) (string, error)

	// Delete removes the record; deleting a missing room is not an error.
	Delete(ctx context.Context, code string) error
}
