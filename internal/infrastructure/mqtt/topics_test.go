package mqtt

import "testing"

func TestTopics(t *testing.T) {
	topics := Topics{Prefix: "homeassistant"}

	tests := []struct {
		name string
		got  string
		want string
	}{
		{"LightBase", topics.LightBase("rako_3_2"), "homeassistant/light/rako_3_2"},
		{"LightConfig", topics.LightConfig("rako_3_2"), "homeassistant/light/rako_3_2/config"},
		{"LightState", topics.LightState("rako_3_0_4"), "homeassistant/light/rako_3_0_4/state"},
		{"LightCommand", topics.LightCommand("rako_3_2"), "homeassistant/light/rako_3_2/set"},
		{"AllLightCommands", topics.AllLightCommands(), "homeassistant/light/+/set"},
		{"Availability", topics.Availability(), "homeassistant/rakobridge/availability"},
		{"BridgeHealth", topics.BridgeHealth(), "rakobridge/health"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if tt.got != tt.want {
				t.Errorf("%s = %q, want %q", tt.name, tt.got, tt.want)
			}
		})
	}
}

func TestTopics_PrefixNormalisation(t *testing.T) {
	if got := (Topics{}).LightState("x"); got != "homeassistant/light/x/state" {
		t.Errorf("empty prefix LightState = %q", got)
	}
	if got := (Topics{Prefix: "/ha/"}).LightState("x"); got != "ha/light/x/state" {
		t.Errorf("slashed prefix LightState = %q", got)
	}
}

func TestTopics_TrimPrefix(t *testing.T) {
	topics := Topics{Prefix: "homeassistant"}

	rest, ok := topics.TrimPrefix("homeassistant/light/rako_1_2/set")
	if !ok || rest != "light/rako_1_2/set" {
		t.Errorf("TrimPrefix() = %q, %v", rest, ok)
	}

	if _, ok := topics.TrimPrefix("zigbee2mqtt/light/x/set"); ok {
		t.Error("TrimPrefix() accepted a foreign prefix")
	}
}
