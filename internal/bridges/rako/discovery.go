package rako

import (
	"strconv"

	"github.com/nerrad567/rako-bridge/internal/infrastructure/mqtt"
)

// Light state payload values.
const (
	StateOn  = "ON"
	StateOff = "OFF"
)

// manufacturer is reported in the discovery device block.
const manufacturer = "RAKO Controls"

// LightDiscovery is a Home Assistant MQTT light discovery config using the
// JSON schema. Topics use the "~" base abbreviation.
type LightDiscovery struct {
	Base              string           `json:"~"`
	Name              string           `json:"name"`
	UniqueID          string           `json:"unique_id"`
	CommandTopic      string           `json:"cmd_t"`
	StateTopic        string           `json:"stat_t"`
	Schema            string           `json:"schema"`
	Brightness        bool             `json:"brightness"`
	AvailabilityTopic string           `json:"availability_topic,omitempty"`
	Device            *DiscoveryDevice `json:"device,omitempty"`
}

// DiscoveryDevice groups all entities of one hub into a single Home
// Assistant device.
type DiscoveryDevice struct {
	Identifiers  []string `json:"identifiers"`
	Name         string   `json:"name"`
	Manufacturer string   `json:"manufacturer"`
	Model        string   `json:"model,omitempty"`
	SWVersion    string   `json:"sw_version,omitempty"`
}

// LevelState is the state payload of a channel light.
type LevelState struct {
	State      string `json:"state"`
	Brightness int    `json:"brightness"`
}

// SceneState is the state payload of a scene light.
type SceneState struct {
	State string `json:"state"`
}

// NewLevelState maps a hub level to a light state. Level 0 is OFF.
func NewLevelState(level int) LevelState {
	state := StateOn
	if level == LevelOff {
		state = StateOff
	}
	return LevelState{State: state, Brightness: level}
}

// discoveryBuilder builds discovery configs for one bus topic layout.
type discoveryBuilder struct {
	topics mqtt.Topics
}

// device returns the device block for hub, or nil before the hub has
// identified itself.
func (d discoveryBuilder) device(hub HubIdentity) *DiscoveryDevice {
	if hub.HubID == "" && hub.MAC == "" {
		return nil
	}
	ids := make([]string, 0, 2)
	if hub.HubID != "" {
		ids = append(ids, "rako_"+hub.HubID)
	}
	if hub.MAC != "" {
		ids = append(ids, "rako_mac_"+hub.MAC)
	}
	return &DiscoveryDevice{
		Identifiers:  ids,
		Name:         "RAKO Hub",
		Manufacturer: manufacturer,
		Model:        hub.ProductType,
		SWVersion:    hub.Version,
	}
}

// channel builds the discovery config of a dimmable channel light.
// The entity is named "<room>_ch<channel>".
func (d discoveryBuilder) channel(room, channel int, roomName string, hub HubIdentity) LightDiscovery {
	id := ChannelObjectID(room, channel)
	return LightDiscovery{
		Base:              d.topics.LightBase(id),
		Name:              roomName + "_ch" + strconv.Itoa(channel),
		UniqueID:          id,
		CommandTopic:      "~/set",
		StateTopic:        "~/state",
		Schema:            "json",
		Brightness:        true,
		AvailabilityTopic: d.topics.Availability(),
		Device:            d.device(hub),
	}
}

// scene builds the discovery config of one room scene, exposed as an
// on/off light named "<room>_scene_<scene>".
func (d discoveryBuilder) scene(room, scene int, roomName string, hub HubIdentity) LightDiscovery {
	id := SceneObjectID(room, scene)
	return LightDiscovery{
		Base:              d.topics.LightBase(id),
		Name:              roomName + "_scene_" + strconv.Itoa(scene),
		UniqueID:          id,
		CommandTopic:      "~/set",
		StateTopic:        "~/state",
		Schema:            "json",
		Brightness:        false,
		AvailabilityTopic: d.topics.Availability(),
		Device:            d.device(hub),
	}
}
