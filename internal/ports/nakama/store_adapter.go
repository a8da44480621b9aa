package nakama

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"opulence/internal/domain"
	"opulence/internal/ports"

	"github.com/heroiclabs/nakama-common/runtime"
)

// RoomStoreAdapter implements ports.RoomStore on Nakama's storage engine.
// The engine's conditional writes supply the compare-and-swap: a save
// carrying a stale version is rejected instead of clobbering a concurrent
// update.
type RoomStoreAdapter struct {
	nk runtime.NakamaModule
}

// NewRoomStoreAdapter creates a storage-backed room store.
func NewRoomStoreAdapter(nk runtime.NakamaModule) *RoomStoreAdapter {
	return &RoomStoreAdapter{nk: nk}
}

var _ ports.RoomStore = (*RoomStoreAdapter)(nil)

// Get loads the room record and its storage version.
func (a *RoomStoreAdapter) Get(ctx context.Context, code string) (*domain.Room, string, error) {
	objects, err := a.nk.StorageRead(ctx, []*runtime.StorageRead{{
		Collection: storageCollectionRooms,
		Key:        code,
	}})
	if err != nil {
		return nil, "", fmt.Errorf("failed to read room %s: %w", code, err)
	}
	if len(objects) == 0 {
		return nil, "", ports.ErrRoomNotFound
	}

	var room domain.Room
	if err := json.Unmarshal([]byte(objects[0].Value), &room); err != nil {
		return nil, "", fmt.Errorf("failed to unmarshal room %s: %w", code, err)
	}
	return &room, objects[0].Version, nil
}

// Save writes the room wholesale, conditional on the version read at load
// time. An empty version means the record must not exist yet.
func (a *RoomStoreAdapter) Save(ctx context.Context, room *domain.Room, version string) (string, error) {
	value, err := json.Marshal(room)
	if err != nil {
		return "", fmt.Errorf("failed to marshal room %s: %w", room.Code, err)
	}

	if version == "" {
		version = "*" // storage engine: write only if absent
	}

	acks, err := a.nk.StorageWrite(ctx, []*runtime.StorageWrite{{
		Collection:      storageCollectionRooms,
		Key:             room.Code,
		Value:           string(value),
		Version:         version,
		PermissionRead:  0, // server-authoritative record, never client-readable
		PermissionWrite: 0,
	}})
	if err != nil {
		if isVersionConflict(err) {
			return "", ports.ErrVersionConflict
		}
		return "", fmt.Errorf("failed to write room %s: %w", room.Code, err)
	}
	if len(acks) == 0 {
		return "", fmt.Errorf("no ack writing room %s", room.Code)
	}
	return acks[0].Version, nil
}

// Delete removes the room record unconditionally.
func (a *RoomStoreAdapter) Delete(ctx context.Context, code string) error {
	err := a.nk.StorageDelete(ctx, []*runtime.StorageDelete{{
		Collection: storageCollectionRooms,
		Key:        code,
	}})
	if err != nil {
		return fmt.Errorf("failed to delete room %s: %w", code, err)
	}
	return nil
}

// isVersionConflict detects the storage engine's rejection of a stale
// conditional write.
func isVersionConflict(err error) bool {
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "version") || strings.Contains(msg, "rejected")
}
