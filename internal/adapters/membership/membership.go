// Package membership answers whether a user may count in a room and keeps
// the room member lists that the counter rows hang off.
package membership

import (
	"context"
	"time"

	"github.com/okian/zikir/internal/domain/model"
)

// Sentinel errors, aliased so callers only need the model package.
var (
	ErrNotFound   = model.ErrNotFound
	ErrRoomExists = model.ErrConflict
)

// Room is a counting room.
type Room struct {
	ID        string    `json:"roomId"`
	Private   bool      `json:"private"`
	CreatedAt time.Time `json:"createdAt"`
}

// Access is what the count path needs to know about a caller.
type Access struct {
	RoomExists bool
	Private    bool
	Member     bool
}

// Registry is the membership collaborator.
type Registry interface {
	// CreateRoom registers a room with its initial active members.
	// Returns ErrRoomExists if the id is taken.
	CreateRoom(ctx context.Context, roomID string, private bool, members ...string) (Room, error)

	// Room returns a room, or ErrNotFound.
	Room(ctx context.Context, roomID string) (Room, error)

	// Access never fails for a missing room; it reports RoomExists=false.
	Access(ctx context.Context, roomID, userID string) (Access, error)

	// Join activates a membership. It reports whether the user was not
	// active before. Returns ErrNotFound for a missing room.
	Join(ctx context.Context, roomID, userID string) (bool, error)

	// Leave deactivates a membership and reports whether it was active.
	Leave(ctx context.Context, roomID, userID string) (bool, error)

	// Members lists active members in ascending order.
	Members(ctx context.Context, roomID string) ([]string, error)

	Close() error
}
