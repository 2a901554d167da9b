package api

import (
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/nerrad567/rako-bridge/internal/bridges/rako"
)

// roomResponse is a room with its enabled channels.
type roomResponse struct {
	rako.Room
	Channels []rako.Channel `json:"channels"`
}

// HubResponse describes the hub link and what the hub reported about itself.
type HubResponse struct {
	Address             string               `json:"address"`
	Connected           bool                 `json:"connected"`
	State               string               `json:"state"`
	Phase               string               `json:"phase"`
	Identity            rako.HubIdentity     `json:"identity"`
	Rooms               int                  `json:"rooms"`
	Channels            int                  `json:"channels"`
	Connection          rako.ConnectionStats `json:"connection"`
	UnknownDocuments    uint64               `json:"unknown_documents"`
	WatchdogExpirations uint64               `json:"watchdog_expirations"`
}

// handleHub returns the hub identity, connection state and counters.
func (s *Server) handleHub(w http.ResponseWriter, _ *http.Request) {
	m := s.bridge.GetMetrics()
	writeJSON(w, http.StatusOK, HubResponse{
		Address:             m.Address,
		Connected:           m.Connected,
		State:               m.State,
		Phase:               m.Phase,
		Identity:            m.Hub,
		Rooms:               m.Rooms,
		Channels:            m.Channels,
		Connection:          m.Connection,
		UnknownDocuments:    m.UnknownDocuments,
		WatchdogExpirations: m.WatchdogExpirations,
	})
}

// handleListRooms returns every enabled room with its channels.
func (s *Server) handleListRooms(w http.ResponseWriter, _ *http.Request) {
	out := s.roomSnapshot()
	writeJSON(w, http.StatusOK, map[string]any{"rooms": out, "count": len(out)})
}

// roomSnapshot returns the enabled rooms as served by /rooms.
func (s *Server) roomSnapshot() []roomResponse {
	rooms := s.bridge.Registry().Snapshot()

	out := make([]roomResponse, 0, len(rooms))
	for _, room := range rooms {
		out = append(out, newRoomResponse(room))
	}
	return out
}

// handleGetRoom returns a single room by hub index.
func (s *Server) handleGetRoom(w http.ResponseWriter, r *http.Request) {
	idx, err := strconv.Atoi(chi.URLParam(r, "id"))
	if err != nil {
		writeBadRequest(w, "room id must be an integer")
		return
	}

	room, ok := s.bridge.Registry().Room(idx)
	if !ok {
		writeBadRequest(w, "room id out of range")
		return
	}
	if !room.Enabled {
		writeNotFound(w, "room not found")
		return
	}
	writeJSON(w, http.StatusOK, newRoomResponse(room))
}

func newRoomResponse(room rako.Room) roomResponse {
	return roomResponse{Room: room, Channels: room.EnabledChannels()}
}
