package internal

import (
	"errors"
	"sort"
	"sync"
)

// ErrUnknownConnection is returned when an identity update targets a connection
// that was never registered or has already been removed.
var ErrUnknownConnection = errors.New("unknown connection")

// Connection is a copy of one registry record. Room is empty while the
// connection has not joined any room.
type Connection struct {
	ID   string
	Name string
	Room string
}

func (c Connection) InRoom() bool {
	return c.Room != ""
}

type registryEntry struct {
	Connection
	joinedSeq uint64
}

// Registry owns every live connection record together with the room index
// derived from them. Both maps are only touched under the same lock, so a
// reader never sees a connection listed in a room it has already left.
type Registry struct {
	mutex sync.RWMutex
	conns map[string]*registryEntry
	rooms map[string]map[string]struct{}
	seq   uint64
}

func NewRegistry() *Registry {
	return &Registry{
		conns: make(map[string]*registryEntry),
		rooms: make(map[string]map[string]struct{}),
	}
}

// Register adds a connection with no name and no room. Registering an id twice
// keeps the existing record.
func (registry *Registry) Register(id string) {
	registry.mutex.Lock()
	defer registry.mutex.Unlock()
	if _, exists := registry.conns[id]; exists {
		return
	}
	registry.conns[id] = &registryEntry{Connection: Connection{ID: id}}
}

// SetIdentity updates name and room in one step and returns the record as it
// was before the update. Moving to a different room removes the connection
// from the old room's index and adds it to the new one under the same lock.
func (registry *Registry) SetIdentity(id, name, room string) (Connection, error) {
	registry.mutex.Lock()
	defer registry.mutex.Unlock()
	entry, exists := registry.conns[id]
	if !exists {
		return Connection{}, ErrUnknownConnection
	}
	previous := entry.Connection
	if previous.Room != room {
		registry.unindex(previous.Room, id)
		if room != "" {
			registry.seq++
			entry.joinedSeq = registry.seq
			members, ok := registry.rooms[room]
			if !ok {
				members = make(map[string]struct{})
				registry.rooms[room] = members
			}
			members[id] = struct{}{}
		}
	}
	entry.Name = name
	entry.Room = room
	return previous, nil
}

// Remove deletes the connection and returns its last state. Removing an
// unknown id is a no-op that reports false.
func (registry *Registry) Remove(id string) (Connection, bool) {
	registry.mutex.Lock()
	defer registry.mutex.Unlock()
	entry, exists := registry.conns[id]
	if !exists {
		return Connection{}, false
	}
	registry.unindex(entry.Room, id)
	delete(registry.conns, id)
	return entry.Connection, true
}

func (registry *Registry) Get(id string) (Connection, bool) {
	registry.mutex.RLock()
	defer registry.mutex.RUnlock()
	entry, exists := registry.conns[id]
	if !exists {
		return Connection{}, false
	}
	return entry.Connection, true
}

// Len returns the number of registered connections, in a room or not.
func (registry *Registry) Len() int {
	registry.mutex.RLock()
	defer registry.mutex.RUnlock()
	return len(registry.conns)
}

// MembersOf lists the connections currently in room, oldest join first.
// Unknown rooms yield an empty slice.
func (registry *Registry) MembersOf(room string) []Connection {
	registry.mutex.RLock()
	defer registry.mutex.RUnlock()
	members := registry.rooms[room]
	entries := make([]*registryEntry, 0, len(members))
	for id := range members {
		entries = append(entries, registry.conns[id])
	}
	sort.Slice(entries, func(i, j int) bool {
		return entries[i].joinedSeq < entries[j].joinedSeq
	})
	result := make([]Connection, 0, len(entries))
	for _, entry := range entries {
		result = append(result, entry.Connection)
	}
	return result
}

// ActiveRooms returns every room with at least one member, sorted by name.
func (registry *Registry) ActiveRooms() []string {
	registry.mutex.RLock()
	defer registry.mutex.RUnlock()
	rooms := make([]string, 0, len(registry.rooms))
	for room := range registry.rooms {
		rooms = append(rooms, room)
	}
	sort.Strings(rooms)
	return rooms
}

// RoomSizes maps each active room to its member count.
func (registry *Registry) RoomSizes() map[string]int {
	registry.mutex.RLock()
	defer registry.mutex.RUnlock()
	sizes := make(map[string]int, len(registry.rooms))
	for room, members := range registry.rooms {
		sizes[room] = len(members)
	}
	return sizes
}

// IDs returns the ids of every registered connection.
func (registry *Registry) IDs() []string {
	registry.mutex.RLock()
	defer registry.mutex.RUnlock()
	ids := make([]string, 0, len(registry.conns))
	for id := range registry.conns {
		ids = append(ids, id)
	}
	return ids
}

// unindex drops id from room and deletes the room once it is empty. Caller
// must hold the write lock.
func (registry *Registry) unindex(room, id string) {
	if room == "" {
		return
	}
	members, ok := registry.rooms[room]
	if !ok {
		return
	}
	delete(members, id)
	if len(members) == 0 {
		delete(registry.rooms, room)
	}
}
