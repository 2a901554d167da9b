package rako

import (
	"sync"
	"time"
)

// Registry capacity. Hub indices outside these bounds are rejected.
const (
	MaxRooms    = 32
	MaxChannels = 16
	MaxScenes   = 6
)

// Sentinels for values the hub has not reported yet.
const (
	SceneUnknown = -1
	LevelUnknown = -1
)

// ExpectedProductType is the product type a RAKO hub reports in status.
const ExpectedProductType = "Hub"

// Channel is one dimmable output of a room.
type Channel struct {
	Index   int    `json:"index"`
	Enabled bool   `json:"enabled"`
	Name    string `json:"name"`
	Type    string `json:"type"`
	// Level is the last level published for the channel, LevelUnknown if none.
	Level int `json:"level"`
}

// Room is one hub room and its channel slots.
type Room struct {
	Index        int    `json:"index"`
	Enabled      bool   `json:"enabled"`
	Name         string `json:"name"`
	DeviceType   string `json:"device_type"`
	CurrentScene int    `json:"current_scene"`

	Channels [MaxChannels]Channel `json:"-"`
}

// EnabledChannels returns the channels the hub has reported for the room.
func (r Room) EnabledChannels() []Channel {
	out := make([]Channel, 0, MaxChannels)
	for _, ch := range r.Channels {
		if ch.Enabled {
			out = append(out, ch)
		}
	}
	return out
}

// HubIdentity is what the hub reports about itself in status documents.
type HubIdentity struct {
	ProductType string    `json:"product_type"`
	HubID       string    `json:"hub_id"`
	MAC         string    `json:"mac"`
	Version     string    `json:"version"`
	SeenAt      time.Time `json:"seen_at"`
}

// DeviceRegistry is the in-memory model of the hub's rooms and channels.
//
// Every index coming from the hub is bounds checked; an out of range index
// makes the mutator a no-op that returns false. The registry is rebuilt
// from each room listing and is kept across reconnects.
//
// Thread Safety: All methods are safe for concurrent use.
type DeviceRegistry struct {
	mu    sync.RWMutex
	rooms [MaxRooms]Room
	hub   HubIdentity
}

// NewDeviceRegistry creates an empty registry.
func NewDeviceRegistry() *DeviceRegistry {
	r := &DeviceRegistry{}
	r.resetLocked()
	return r
}

func validRoom(idx int) bool {
	return idx >= 0 && idx < MaxRooms
}

func validChannel(idx int) bool {
	return idx >= 0 && idx < MaxChannels
}

func validLevel(level int) bool {
	return level >= LevelOff && level <= LevelMax
}

// validScene accepts a hub scene number or SceneUnknown.
func validScene(scene int) bool {
	return scene >= SceneUnknown && scene < MaxScenes
}

// ResetRooms clears every room and channel. Hub identity is kept.
func (r *DeviceRegistry) ResetRooms() {
	r.mu.Lock()
	r.resetLocked()
	r.mu.Unlock()
}

func (r *DeviceRegistry) resetLocked() {
	for i := range r.rooms {
		room := Room{Index: i, CurrentScene: SceneUnknown}
		for c := range room.Channels {
			room.Channels[c] = Channel{Index: c, Level: LevelUnknown}
		}
		r.rooms[i] = room
	}
}

// SetRoom enables room idx with the given name and device type.
func (r *DeviceRegistry) SetRoom(idx int, name, deviceType string) bool {
	if !validRoom(idx) {
		return false
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	room := &r.rooms[idx]
	room.Enabled = true
	room.Name = name
	room.DeviceType = deviceType
	return true
}

// SetChannel enables channel ch of room. The room must already be enabled.
func (r *DeviceRegistry) SetChannel(room, ch int, name, channelType string) bool {
	if !validRoom(room) || !validChannel(ch) {
		return false
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if !r.rooms[room].Enabled {
		return false
	}
	c := &r.rooms[room].Channels[ch]
	c.Enabled = true
	c.Name = name
	c.Type = channelType
	return true
}

// SetLevel records the last level published for an enabled channel.
// Levels outside 0..255 are rejected.
func (r *DeviceRegistry) SetLevel(room, ch, level int) bool {
	if !validRoom(room) || !validChannel(ch) || !validLevel(level) {
		return false
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	c := &r.rooms[room].Channels[ch]
	if !c.Enabled {
		return false
	}
	c.Level = level
	return true
}

// SetScene records the active scene of a room: 0..5, or SceneUnknown.
func (r *DeviceRegistry) SetScene(room, scene int) bool {
	if !validRoom(room) || !validScene(scene) {
		return false
	}

	r.mu.Lock()
	r.rooms[room].CurrentScene = scene
	r.mu.Unlock()
	return true
}

// Room returns a copy of room idx.
func (r *DeviceRegistry) Room(idx int) (Room, bool) {
	if !validRoom(idx) {
		return Room{}, false
	}

	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.rooms[idx], true
}

// Channel returns a copy of channel ch of room.
func (r *DeviceRegistry) Channel(room, ch int) (Channel, bool) {
	if !validRoom(room) || !validChannel(ch) {
		return Channel{}, false
	}

	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.rooms[room].Channels[ch], true
}

// RoomName returns the name of room idx, or "" when out of range.
func (r *DeviceRegistry) RoomName(idx int) string {
	room, _ := r.Room(idx)
	return room.Name
}

// SetHubIdentity replaces the recorded hub identity.
func (r *DeviceRegistry) SetHubIdentity(id HubIdentity) {
	r.mu.Lock()
	r.hub = id
	r.mu.Unlock()
}

// HubIdentity returns the last identity reported by the hub.
func (r *DeviceRegistry) HubIdentity() HubIdentity {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.hub
}

// Snapshot returns copies of every enabled room, ordered by index.
func (r *DeviceRegistry) Snapshot() []Room {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]Room, 0, MaxRooms)
	for _, room := range r.rooms {
		if room.Enabled {
			out = append(out, room)
		}
	}
	return out
}

// EnabledRoomCount returns the number of enabled rooms.
func (r *DeviceRegistry) EnabledRoomCount() int {
	r.mu.RLock()
	defer r.mu.RUnlock()

	n := 0
	for _, room := range r.rooms {
		if room.Enabled {
			n++
		}
	}
	return n
}

// EnabledChannelCount returns the number of enabled channels across all
// enabled rooms.
func (r *DeviceRegistry) EnabledChannelCount() int {
	r.mu.RLock()
	defer r.mu.RUnlock()

	n := 0
	for _, room := range r.rooms {
		if !room.Enabled {
			continue
		}
		for _, ch := range room.Channels {
			if ch.Enabled {
				n++
			}
		}
	}
	return n
}
