package api

import (
	"net/http"
	"runtime"
	"time"
)

// SystemMetrics represents the complete system metrics response.
type SystemMetrics struct {
	Timestamp     string         `json:"timestamp"`
	Version       string         `json:"version"`
	UptimeSeconds int64          `json:"uptime_seconds"`
	Runtime       RuntimeMetrics `json:"runtime"`
	WebSocket     WSMetrics      `json:"websocket"`
	MQTT          MQTTMetrics    `json:"mqtt"`
	Bridge        BridgeMetrics  `json:"bridge"`
}

// RuntimeMetrics contains Go runtime statistics.
type RuntimeMetrics struct {
	Goroutines    int     `json:"goroutines"`
	MemoryAllocMB float64 `json:"memory_alloc_mb"`
	MemoryTotalMB float64 `json:"memory_total_mb"`
	NumGC         uint32  `json:"num_gc"`
}

// WSMetrics contains event stream statistics.
type WSMetrics struct {
	ConnectedClients int    `json:"connected_clients"`
	DroppedMessages  uint64 `json:"dropped_messages"`
}

// MQTTMetrics contains MQTT client statistics.
type MQTTMetrics struct {
	Connected bool `json:"connected"`
}

// BridgeMetrics contains RAKO bridge statistics.
type BridgeMetrics struct {
	Connected        bool   `json:"connected"`
	Phase            string `json:"phase"`
	DocumentsRx      uint64 `json:"documents_rx"`
	FramesTx         uint64 `json:"frames_tx"`
	FramesDiscarded  uint64 `json:"frames_discarded"`
	Reconnects       uint64 `json:"reconnects"`
	CommandsAccepted uint64 `json:"commands_accepted"`
	CommandsRejected uint64 `json:"commands_rejected"`
	CommandsDropped  uint64 `json:"commands_dropped"`
	QueueDepth       int    `json:"queue_depth"`
	RoomsManaged     int    `json:"rooms_managed"`
	ChannelsManaged  int    `json:"channels_managed"`
}

// handleMetrics returns a JSON summary of runtime and bridge statistics.
// Prometheus collectors are served separately on /metrics.
func (s *Server) handleMetrics(w http.ResponseWriter, _ *http.Request) {
	var memStats runtime.MemStats
	runtime.ReadMemStats(&memStats)

	bm := s.bridge.GetMetrics()

	metrics := SystemMetrics{
		Timestamp:     time.Now().UTC().Format(time.RFC3339),
		Version:       s.version,
		UptimeSeconds: int64(time.Since(s.startTime).Seconds()),
		Runtime: RuntimeMetrics{
			Goroutines:    runtime.NumGoroutine(),
			MemoryAllocMB: float64(memStats.Alloc) / 1024 / 1024,
			MemoryTotalMB: float64(memStats.TotalAlloc) / 1024 / 1024,
			NumGC:         memStats.NumGC,
		},
		Bridge: BridgeMetrics{
			Connected:        bm.Connected,
			Phase:            bm.Phase,
			DocumentsRx:      bm.Connection.DocumentsRx,
			FramesTx:         bm.Connection.FramesTx,
			FramesDiscarded:  bm.Connection.FramesDiscarded,
			Reconnects:       bm.Connection.ReconnectsTotal,
			CommandsAccepted: bm.CommandsAccepted,
			CommandsRejected: bm.CommandsRejected,
			CommandsDropped:  bm.CommandsDropped,
			QueueDepth:       bm.QueueDepth,
			RoomsManaged:     bm.Rooms,
			ChannelsManaged:  bm.Channels,
		},
	}

	if s.stream != nil {
		metrics.WebSocket.ConnectedClients = s.stream.Subscribers()
		metrics.WebSocket.DroppedMessages = s.stream.Dropped()
	}
	if s.mqtt != nil {
		metrics.MQTT.Connected = s.mqtt.IsConnected()
	}

	writeJSON(w, http.StatusOK, metrics)
}
