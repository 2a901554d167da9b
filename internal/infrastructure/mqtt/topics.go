package mqtt

import (
	"fmt"
	"strings"
)

// DefaultDiscoveryPrefix is the Home Assistant discovery prefix used when
// none is configured.
const DefaultDiscoveryPrefix = "homeassistant"

// Bridge-owned topics that live outside the discovery tree.
const (
	// TopicPrefixBridge is the base for bridge housekeeping topics.
	TopicPrefixBridge = "rakobridge"
)

// Availability payloads understood by Home Assistant's default
// payload_available / payload_not_available settings.
const (
	PayloadOnline  = "online"
	PayloadOffline = "offline"
)

// Topics builds the bridge's MQTT topics under a discovery prefix.
//
// Using these helpers keeps topic naming consistent between the publisher
// side (discovery, state, availability) and the subscription side:
//
//	topics := mqtt.Topics{Prefix: "homeassistant"}
//	topics.LightState("rako_3_2")
//	// Returns: "homeassistant/light/rako_3_2/state"
type Topics struct {
	// Prefix is the discovery prefix. Empty means DefaultDiscoveryPrefix.
	Prefix string
}

// prefix returns the configured prefix without surrounding slashes.
func (t Topics) prefix() string {
	p := strings.Trim(t.Prefix, "/")
	if p == "" {
		return DefaultDiscoveryPrefix
	}
	return p
}

// LightBase returns the base topic of a light entity. Discovery payloads use
// it as the "~" abbreviation.
//
// Example: homeassistant/light/rako_3_2
func (t Topics) LightBase(objectID string) string {
	return fmt.Sprintf("%s/light/%s", t.prefix(), objectID)
}

// LightConfig returns the retained discovery config topic of a light.
//
// Example: homeassistant/light/rako_3_2/config
func (t Topics) LightConfig(objectID string) string {
	return t.LightBase(objectID) + "/config"
}

// LightState returns the state topic of a light.
//
// Example: homeassistant/light/rako_3_2/state
func (t Topics) LightState(objectID string) string {
	return t.LightBase(objectID) + "/state"
}

// LightCommand returns the command topic of a light.
//
// Example: homeassistant/light/rako_3_2/set
func (t Topics) LightCommand(objectID string) string {
	return t.LightBase(objectID) + "/set"
}

// AllLightCommands returns a pattern matching every light command topic.
//
// Pattern: homeassistant/light/+/set
func (t Topics) AllLightCommands() string {
	return t.LightCommand("+")
}

// Availability returns the bridge availability topic carried by the LWT.
//
// Example: homeassistant/rakobridge/availability
func (t Topics) Availability() string {
	return fmt.Sprintf("%s/%s/availability", t.prefix(), TopicPrefixBridge)
}

// BridgeHealth returns the retained bridge health topic.
//
// Example: rakobridge/health
func (Topics) BridgeHealth() string {
	return TopicPrefixBridge + "/health"
}

// TrimPrefix strips the discovery prefix from topic. The boolean reports
// whether the topic was under the prefix at all.
//
// Example: "homeassistant/light/rako_3_2/set" -> "light/rako_3_2/set", true
func (t Topics) TrimPrefix(topic string) (string, bool) {
	rest, ok := strings.CutPrefix(topic, t.prefix()+"/")
	return rest, ok
}
