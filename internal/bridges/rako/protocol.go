package rako

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
)

// Document names sent by the hub.
const (
	DocStatus       = "status"
	DocQueryRoom    = "query_ROOM"
	DocQueryChannel = "query_CHANNEL"
	DocQueryLevel   = "query_LEVEL"
	DocTracker      = "tracker"
	DocFeedback     = "feedback"
)

// Query types accepted by the hub's query request.
const (
	QueryRoom    = "ROOM"
	QueryChannel = "CHANNEL"
	QueryLevel   = "LEVEL"
)

// protocolVersion is the hub JSON protocol version the bridge speaks.
const protocolVersion = 2

// DefaultClientName identifies the bridge in the subscribe line.
const DefaultClientName = "HA_CLIENT"

// Level bounds of the hub's levelrate command.
const (
	LevelOff = 0
	LevelMax = 255
)

// Hub subscription topics requested on connect.
var hubSubscriptions = []string{"TRACKER", "FEEDBACK"}

// lineEnd terminates every request on the wire.
var lineEnd = []byte("\r\n")

type subscribeRequest struct {
	Version       int      `json:"version"`
	ClientName    string   `json:"client_name"`
	Subscriptions []string `json:"subscriptions"`
}

type request struct {
	Name    string `json:"name"`
	Payload any    `json:"payload"`
}

type queryPayload struct {
	QueryType string `json:"queryType"`
	RoomID    int    `json:"roomId"`
}

type sendPayload struct {
	Room    int        `json:"room"`
	Channel int        `json:"channel"`
	Action  sendAction `json:"action"`
}

type sendAction struct {
	Command string `json:"command"`
	Level   *int   `json:"level,omitempty"`
	Scene   *int   `json:"scene,omitempty"`
}

// SubscribeLine builds the line that opens a JSON session with the hub:
//
//	SUB,JSON,{"version":2,"client_name":"HA_CLIENT","subscriptions":["TRACKER","FEEDBACK"]}\r\n
func SubscribeLine(clientName string) []byte {
	if clientName == "" {
		clientName = DefaultClientName
	}
	body := mustMarshal(subscribeRequest{
		Version:       protocolVersion,
		ClientName:    clientName,
		Subscriptions: hubSubscriptions,
	})

	var buf bytes.Buffer
	buf.WriteString("SUB,JSON,")
	buf.Write(body)
	buf.Write(lineEnd)
	return buf.Bytes()
}

// StatusRequest builds the status request used both at handshake start and
// as the keepalive.
func StatusRequest() []byte {
	return frameRequest(request{Name: "status", Payload: struct{}{}})
}

// QueryRequest builds a query for all rooms of the given type
// (QueryRoom, QueryChannel or QueryLevel).
func QueryRequest(queryType string) []byte {
	return frameRequest(request{
		Name:    "query",
		Payload: queryPayload{QueryType: queryType, RoomID: 0},
	})
}

// LevelRequest builds a levelrate command for one channel.
func LevelRequest(room, channel, level int) []byte {
	return frameRequest(request{
		Name: "send",
		Payload: sendPayload{
			Room:    room,
			Channel: channel,
			Action:  sendAction{Command: "levelrate", Level: &level},
		},
	})
}

// SceneRequest builds a scene command for a room. Scenes always address
// channel 0.
func SceneRequest(room, scene int) []byte {
	return frameRequest(request{
		Name: "send",
		Payload: sendPayload{
			Room:    room,
			Channel: 0,
			Action:  sendAction{Command: "scene", Scene: &scene},
		},
	})
}

// frameRequest wraps a request as \r\n<json>\r\n. The leading line end
// flushes anything the hub may have half-buffered.
func frameRequest(r request) []byte {
	body := mustMarshal(r)

	out := make([]byte, 0, len(body)+2*len(lineEnd))
	out = append(out, lineEnd...)
	out = append(out, body...)
	out = append(out, lineEnd...)
	return out
}

// mustMarshal encodes request types that are known to be encodable.
func mustMarshal(v any) []byte {
	data, err := json.Marshal(v)
	if err != nil {
		panic(fmt.Sprintf("rako: marshalling %T: %v", v, err))
	}
	return data
}

// flexString decodes a JSON string, number or null into a string.
// Hub firmware is not consistent about the type of identifier fields.
type flexString string

func (s *flexString) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	switch {
	case len(data) == 0, bytes.Equal(data, []byte("null")):
		*s = ""
		return nil
	case data[0] == '"':
		var v string
		if err := json.Unmarshal(data, &v); err != nil {
			return err
		}
		*s = flexString(v)
		return nil
	default:
		var n json.Number
		if err := json.Unmarshal(data, &n); err != nil {
			return err
		}
		*s = flexString(n.String())
		return nil
	}
}

// statusPayload is the payload of a status document.
//
// Older firmware spells the MAC key "mac;".
type statusPayload struct {
	ProductType flexString `json:"productType"`
	HubID       flexString `json:"hubId"`
	MAC         flexString `json:"mac"`
	LegacyMAC   flexString `json:"mac;"`
	HubVersion  flexString `json:"hubVersion"`
}

func (p statusPayload) mac() string {
	if p.MAC != "" {
		return string(p.MAC)
	}
	return string(p.LegacyMAC)
}

// roomEntry is one element of a query_ROOM payload.
type roomEntry struct {
	RoomID int        `json:"roomId"`
	Title  flexString `json:"title"`
	Type   flexString `json:"type"`
}

// channelRoomEntry is one element of a query_CHANNEL payload.
type channelRoomEntry struct {
	RoomID   int            `json:"roomId"`
	Channels []channelEntry `json:"channel"`
}

type channelEntry struct {
	ChannelID int        `json:"channelId"`
	Title     flexString `json:"title"`
	Type      flexString `json:"type"`
}

// levelRoomEntry is one element of a query_LEVEL payload.
type levelRoomEntry struct {
	RoomID       int          `json:"roomId"`
	CurrentScene *int         `json:"currentScene"`
	Channels     []levelEntry `json:"channel"`
}

type levelEntry struct {
	ChannelID    int  `json:"channelId"`
	CurrentLevel *int `json:"currentLevel"`
	TargetLevel  *int `json:"targetLevel"`
}

// trackerPayload is the payload of a tracker document, sent while a
// channel fades.
type trackerPayload struct {
	RoomID       int  `json:"roomId"`
	ChannelID    int  `json:"channelId"`
	CurrentLevel *int `json:"currentLevel"`
	TargetLevel  *int `json:"targetLevel"`
}

// level returns the level to publish: the fade target, or the current
// level when the hub reports no target.
func (p trackerPayload) level() (int, bool) {
	if p.TargetLevel != nil {
		return *p.TargetLevel, true
	}
	if p.CurrentLevel != nil {
		return *p.CurrentLevel, true
	}
	return 0, false
}

// feedbackPayload is the payload of a feedback document.
type feedbackPayload struct {
	Room    int             `json:"room"`
	Channel int             `json:"channel"`
	Action  *feedbackAction `json:"action"`
}

type feedbackAction struct {
	Scene   *int            `json:"scene"`
	Command json.RawMessage `json:"command"`
}

// decodePayload unmarshals a document payload into v.
func decodePayload(doc Document, v any) error {
	if len(doc.Payload) == 0 {
		return fmt.Errorf("%s: missing payload", doc.Name)
	}
	if err := json.Unmarshal(doc.Payload, v); err != nil {
		return fmt.Errorf("%s: decoding payload: %w", doc.Name, err)
	}
	return nil
}

// ChannelObjectID returns the Home Assistant object id of a channel light.
func ChannelObjectID(room, channel int) string {
	return "rako_" + strconv.Itoa(room) + "_" + strconv.Itoa(channel)
}

// SceneObjectID returns the Home Assistant object id of a room scene.
// Scenes sit on channel 0.
func SceneObjectID(room, scene int) string {
	return ChannelObjectID(room, 0) + "_" + strconv.Itoa(scene)
}
