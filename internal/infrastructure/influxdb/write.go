package influxdb

import (
	"strconv"
	"time"

	"github.com/influxdata/influxdb-client-go/v2/api/write"
)

// Measurement names.
const (
	MeasurementLevel      = "rako_level"
	MeasurementScene      = "rako_scene"
	MeasurementConnection = "rako_connection"
)

// maxLevel is the top of the hub's 0..255 level range.
const maxLevel = 255

// levelPoint builds a channel level sample. brightness_pct is the level
// scaled to 0..100 for dashboards.
func levelPoint(room, channel, level int, ts time.Time) *write.Point {
	return write.NewPoint(
		MeasurementLevel,
		map[string]string{
			"room":    strconv.Itoa(room),
			"channel": strconv.Itoa(channel),
		},
		map[string]any{
			"level":          level,
			"brightness_pct": float64(level) * 100 / maxLevel,
			"on":             level > 0,
		},
		ts,
	)
}

// scenePoint builds a room scene sample.
func scenePoint(room, scene int, ts time.Time) *write.Point {
	return write.NewPoint(
		MeasurementScene,
		map[string]string{
			"room": strconv.Itoa(room),
		},
		map[string]any{
			"scene": scene,
		},
		ts,
	)
}

// connectionPoint builds a hub connection state change sample.
func connectionPoint(state string, reconnects uint64, ts time.Time) *write.Point {
	return write.NewPoint(
		MeasurementConnection,
		map[string]string{
			"state": state,
		},
		map[string]any{
			"reconnects": reconnects,
		},
		ts,
	)
}

// WriteLevel records a channel level published to the bus.
func (c *Client) WriteLevel(room, channel, level int) {
	c.write(levelPoint(room, channel, level, time.Now()))
}

// WriteScene records a room scene change.
func (c *Client) WriteScene(room, scene int) {
	c.write(scenePoint(room, scene, time.Now()))
}

// WriteConnection records a hub connection state transition.
func (c *Client) WriteConnection(state string, reconnects uint64) {
	c.write(connectionPoint(state, reconnects, time.Now()))
}

func (c *Client) write(p *write.Point) {
	if !c.IsConnected() {
		return
	}
	c.writeAPI.WritePoint(p)
}
