package rako

import (
	"encoding/json"
	"fmt"
	"slices"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/nerrad567/rako-bridge/internal/infrastructure/mqtt"
)

// DefaultScenePause is the pause between the messages of a scene fan-out.
const DefaultScenePause = time.Millisecond

// minCommandTokens is the minimum number of "_" separated tokens in a
// command object id: rako, room, channel.
const minCommandTokens = 3

// Publisher publishes bus messages.
// This is typically implemented by an MQTT client.
type Publisher interface {
	Publish(topic string, payload []byte, qos byte, retained bool) error
}

// EventSink receives bridge events. Implementations must not block.
type EventSink interface {
	HandleEvent(Event)
}

// CommandKind distinguishes level commands from scene commands.
type CommandKind string

const (
	CommandLevel CommandKind = "level"
	CommandScene CommandKind = "scene"
)

// Command is a decoded bus command, ready to be sent to the hub.
type Command struct {
	Kind    CommandKind
	Room    int
	Channel int

	// Value is the level (0..255) for CommandLevel or the scene (0..5)
	// for CommandScene.
	Value int
}

// Request returns the hub request for the command.
func (c Command) Request() []byte {
	if c.Kind == CommandScene {
		return SceneRequest(c.Room, c.Value)
	}
	return LevelRequest(c.Room, c.Channel, c.Value)
}

// commandPayload is the JSON schema light command Home Assistant sends.
type commandPayload struct {
	State      *string `json:"state"`
	Brightness *int    `json:"brightness"`
}

// TranslatorOptions holds the dependencies of a Translator.
type TranslatorOptions struct {
	// Registry is the device registry to update. Required.
	Registry *DeviceRegistry

	// Publisher receives discovery and state messages. Required.
	Publisher Publisher

	// Topics builds bus topics under the discovery prefix.
	Topics mqtt.Topics

	// QoS is used for every publish.
	QoS byte

	// ScenePause is the pause between scene fan-out messages. Zero means
	// no pause.
	ScenePause time.Duration

	// Logger is optional.
	Logger Logger

	// Metrics is optional.
	Metrics *Metrics

	// Events is optional.
	Events EventSink
}

// Translator converts hub documents into registry updates and bus
// messages, and bus commands into hub requests.
//
// Thread Safety: All methods are safe for concurrent use. Multi-message
// publications (scene fan-out, discovery sets) are serialised by pubMu so
// they reach the bus contiguously.
type Translator struct {
	registry   *DeviceRegistry
	publisher  Publisher
	topics     mqtt.Topics
	discovery  discoveryBuilder
	qos        byte
	scenePause time.Duration
	metrics    *Metrics
	events     EventSink

	pubMu sync.Mutex

	unknownDocs atomic.Uint64

	logger   Logger
	loggerMu sync.RWMutex
}

// NewTranslator creates a translator.
func NewTranslator(opts TranslatorOptions) *Translator {
	return &Translator{
		registry:   opts.Registry,
		publisher:  opts.Publisher,
		topics:     opts.Topics,
		discovery:  discoveryBuilder{topics: opts.Topics},
		qos:        opts.QoS,
		scenePause: opts.ScenePause,
		metrics:    opts.Metrics,
		events:     opts.Events,
		logger:     opts.Logger,
	}
}

// SetLogger sets the logger for this translator.
func (t *Translator) SetLogger(logger Logger) {
	t.loggerMu.Lock()
	t.logger = logger
	t.loggerMu.Unlock()
}

// UnknownDocuments returns how many documents with an unrecognised name
// were ignored.
func (t *Translator) UnknownDocuments() uint64 {
	return t.unknownDocs.Load()
}

// HandleDocument interprets one hub document.
//
// Unknown document names are ignored. A document whose payload does not
// decode is dropped and reported as an error; nothing else is affected.
func (t *Translator) HandleDocument(doc Document) error {
	switch doc.Name {
	case DocStatus:
		return t.handleStatus(doc)
	case DocQueryRoom:
		return t.handleRooms(doc)
	case DocQueryChannel:
		return t.handleChannels(doc)
	case DocQueryLevel:
		return t.handleLevels(doc)
	case DocTracker:
		return t.handleTracker(doc)
	case DocFeedback:
		return t.handleFeedback(doc)
	default:
		t.unknownDocs.Add(1)
		t.logDebug("ignoring hub document", "name", doc.Name)
		return nil
	}
}

func (t *Translator) handleStatus(doc Document) error {
	var p statusPayload
	if err := decodePayload(doc, &p); err != nil {
		return err
	}

	id := HubIdentity{
		ProductType: string(p.ProductType),
		HubID:       string(p.HubID),
		MAC:         p.mac(),
		Version:     string(p.HubVersion),
		SeenAt:      time.Now().UTC(),
	}
	prev := t.registry.HubIdentity()
	t.registry.SetHubIdentity(id)

	if id.ProductType != ExpectedProductType {
		t.logWarn("unexpected hub product type",
			"product_type", id.ProductType,
			"expected", ExpectedProductType,
		)
	}
	if prev.HubID != id.HubID || prev.Version != id.Version {
		t.logInfo("hub identified",
			"hub_id", id.HubID,
			"mac", id.MAC,
			"version", id.Version,
		)
	}

	t.emit(Event{Type: EventHubStatus, Detail: id.HubID})
	return nil
}

// handleRooms rebuilds the registry from a full room listing.
func (t *Translator) handleRooms(doc Document) error {
	var rooms []roomEntry
	if err := decodePayload(doc, &rooms); err != nil {
		return err
	}

	t.registry.ResetRooms()
	for _, r := range rooms {
		if !t.registry.SetRoom(r.RoomID, string(r.Title), string(r.Type)) {
			t.logWarn("room index out of range", "room", r.RoomID, "title", string(r.Title))
		}
	}

	t.updateRegistrySize()
	t.logInfo("room listing received", "rooms", t.registry.EnabledRoomCount())
	return nil
}

// handleChannels enables channels and publishes discovery for each room's
// scenes and channels.
func (t *Translator) handleChannels(doc Document) error {
	var rooms []channelRoomEntry
	if err := decodePayload(doc, &rooms); err != nil {
		return err
	}

	hub := t.registry.HubIdentity()
	for _, r := range rooms {
		room, ok := t.registry.Room(r.RoomID)
		if !ok {
			t.logWarn("room index out of range", "room", r.RoomID)
			continue
		}
		if !room.Enabled {
			t.logDebug("channel listing for unknown room", "room", r.RoomID)
			continue
		}

		t.publishSceneDiscovery(r.RoomID, room.Name, hub)

		for _, ch := range r.Channels {
			if !t.registry.SetChannel(r.RoomID, ch.ChannelID, string(ch.Title), string(ch.Type)) {
				t.logWarn("channel index out of range", "room", r.RoomID, "channel", ch.ChannelID)
				continue
			}
			t.publishJSON(
				t.topics.LightConfig(ChannelObjectID(r.RoomID, ch.ChannelID)),
				t.discovery.channel(r.RoomID, ch.ChannelID, room.Name, hub),
			)
		}
	}

	t.updateRegistrySize()
	t.emit(Event{Type: EventRegistry})
	return nil
}

// handleLevels publishes the scene and channel levels of every room.
func (t *Translator) handleLevels(doc Document) error {
	var rooms []levelRoomEntry
	if err := decodePayload(doc, &rooms); err != nil {
		return err
	}

	for _, r := range rooms {
		if !validRoom(r.RoomID) {
			t.logWarn("room index out of range", "room", r.RoomID)
			continue
		}

		if r.CurrentScene != nil {
			if t.registry.SetScene(r.RoomID, *r.CurrentScene) {
				t.PublishScene(r.RoomID, *r.CurrentScene)
			} else {
				t.logWarn("scene out of range", "room", r.RoomID, "scene", *r.CurrentScene)
			}
		}

		room, _ := t.registry.Room(r.RoomID)
		if !room.Enabled {
			continue
		}
		for _, ch := range r.Channels {
			if !validChannel(ch.ChannelID) {
				t.logWarn("channel index out of range", "room", r.RoomID, "channel", ch.ChannelID)
				continue
			}
			if !room.Channels[ch.ChannelID].Enabled || ch.CurrentLevel == nil {
				continue
			}
			t.PublishLevel(r.RoomID, ch.ChannelID, *ch.CurrentLevel)
		}
	}
	return nil
}

// handleTracker publishes the level a fading channel is heading to.
func (t *Translator) handleTracker(doc Document) error {
	var p trackerPayload
	if err := decodePayload(doc, &p); err != nil {
		return err
	}
	if !validRoom(p.RoomID) || !validChannel(p.ChannelID) {
		t.logWarn("tracker index out of range", "room", p.RoomID, "channel", p.ChannelID)
		return nil
	}

	level, ok := p.level()
	if !ok {
		return nil
	}
	t.PublishLevel(p.RoomID, p.ChannelID, level)
	return nil
}

// handleFeedback records a scene change reported by the hub.
func (t *Translator) handleFeedback(doc Document) error {
	var p feedbackPayload
	if err := decodePayload(doc, &p); err != nil {
		return err
	}
	if p.Action == nil || p.Action.Scene == nil {
		return nil
	}
	if !t.registry.SetScene(p.Room, *p.Action.Scene) {
		t.logWarn("feedback scene out of range", "room", p.Room, "scene", *p.Action.Scene)
		return nil
	}

	t.logDebug("scene feedback",
		"room", p.Room,
		"scene", *p.Action.Scene,
		"command", string(p.Action.Command),
	)
	t.PublishScene(p.Room, *p.Action.Scene)
	return nil
}

// PublishLevel publishes the state of a channel light and records the
// level in the registry. Channels the hub never listed are published but
// not recorded.
func (t *Translator) PublishLevel(room, channel, level int) {
	if !validRoom(room) || !validChannel(channel) || !validLevel(level) {
		t.logWarn("level out of range", "room", room, "channel", channel, "level", level)
		return
	}
	t.registry.SetLevel(room, channel, level)

	t.pubMu.Lock()
	t.publishJSON(t.topics.LightState(ChannelObjectID(room, channel)), NewLevelState(level))
	t.pubMu.Unlock()

	t.emit(Event{Type: EventLevel, Room: room, Channel: channel, Level: level})
}

// PublishScene publishes the scene lights of a room one-hot: the light of
// the active scene ON, the other five OFF. All six messages go out under
// the publish lock with ScenePause between them.
func (t *Translator) PublishScene(room, scene int) {
	if !validRoom(room) {
		return
	}

	t.pubMu.Lock()
	for s := 0; s < MaxScenes; s++ {
		state := StateOff
		if s == scene {
			state = StateOn
		}
		t.publishJSON(t.topics.LightState(SceneObjectID(room, s)), SceneState{State: state})
		if t.scenePause > 0 {
			time.Sleep(t.scenePause)
		}
	}
	t.pubMu.Unlock()

	t.emit(Event{Type: EventScene, Room: room, Scene: scene})
}

// publishSceneDiscovery publishes the six scene light configs of a room.
func (t *Translator) publishSceneDiscovery(room int, roomName string, hub HubIdentity) {
	t.pubMu.Lock()
	defer t.pubMu.Unlock()

	for s := 0; s < MaxScenes; s++ {
		t.publishJSON(t.topics.LightConfig(SceneObjectID(room, s)), t.discovery.scene(room, s, roomName, hub))
	}
}

// ParseCommand decodes a bus command into a hub command.
//
// The topic must be <prefix>/light/rako_<room>_<channel>[_<scene>]/set.
// Channel 0 addresses the room's scenes: OFF selects scene 0, anything
// else the scene token. Other channels take a level: OFF is 0, ON without
// a brightness (or brightness 0) is full, otherwise brightness clamped to
// 0..255.
//
// Parameters:
//   - topic: MQTT topic the command arrived on
//   - payload: JSON schema light command
//
// Returns:
//   - Command: decoded command
//   - error: wraps ErrInvalidCommand when the command is malformed
func (t *Translator) ParseCommand(topic string, payload []byte) (Command, error) {
	objectID, err := t.commandObjectID(topic)
	if err != nil {
		return Command{}, err
	}

	tokens := strings.Split(objectID, "_")
	if len(tokens) < minCommandTokens || tokens[0] != "rako" || slices.Contains(tokens, "") {
		return Command{}, fmt.Errorf("%w: object id %q", ErrInvalidCommand, objectID)
	}

	room, err := strconv.Atoi(tokens[1])
	if err != nil {
		return Command{}, fmt.Errorf("%w: room %q: %w", ErrInvalidCommand, tokens[1], err)
	}
	if !validRoom(room) {
		return Command{}, fmt.Errorf("%w: %w: %d", ErrInvalidCommand, ErrRoomOutOfRange, room)
	}

	channel, err := strconv.Atoi(tokens[2])
	if err != nil {
		return Command{}, fmt.Errorf("%w: channel %q: %w", ErrInvalidCommand, tokens[2], err)
	}
	if !validChannel(channel) {
		return Command{}, fmt.Errorf("%w: %w: %d", ErrInvalidCommand, ErrChannelOutOfRange, channel)
	}

	var p commandPayload
	if err := json.Unmarshal(payload, &p); err != nil {
		return Command{}, fmt.Errorf("%w: payload: %w", ErrInvalidCommand, err)
	}
	if p.State == nil {
		return Command{}, fmt.Errorf("%w: missing state", ErrInvalidCommand)
	}
	off := strings.EqualFold(*p.State, StateOff)

	if channel == 0 {
		return sceneCommand(room, tokens, off)
	}

	level := LevelOff
	if !off {
		level = LevelMax
		if p.Brightness != nil && *p.Brightness != 0 {
			level = clampLevel(*p.Brightness)
		}
	}
	return Command{Kind: CommandLevel, Room: room, Channel: channel, Value: level}, nil
}

// commandObjectID extracts the object id from light/<id>/set under the
// discovery prefix.
func (t *Translator) commandObjectID(topic string) (string, error) {
	rest, ok := t.topics.TrimPrefix(topic)
	if !ok {
		return "", fmt.Errorf("%w: topic %q outside prefix", ErrInvalidCommand, topic)
	}
	parts := strings.Split(rest, "/")
	if len(parts) != 3 || parts[0] != "light" || parts[2] != "set" || parts[1] == "" {
		return "", fmt.Errorf("%w: topic %q", ErrInvalidCommand, topic)
	}
	return parts[1], nil
}

func sceneCommand(room int, tokens []string, off bool) (Command, error) {
	scene := 0
	if !off {
		if len(tokens) < minCommandTokens+1 {
			return Command{}, fmt.Errorf("%w: scene command without scene number", ErrInvalidCommand)
		}
		s, err := strconv.Atoi(tokens[3])
		if err != nil {
			return Command{}, fmt.Errorf("%w: scene %q: %w", ErrInvalidCommand, tokens[3], err)
		}
		if s < 0 || s >= MaxScenes {
			return Command{}, fmt.Errorf("%w: scene %d out of range", ErrInvalidCommand, s)
		}
		scene = s
	}
	return Command{Kind: CommandScene, Room: room, Channel: 0, Value: scene}, nil
}

func clampLevel(level int) int {
	if level < LevelOff {
		return LevelOff
	}
	if level > LevelMax {
		return LevelMax
	}
	return level
}

// publishJSON marshals v and publishes it retained. Failures are logged
// and counted; the periodic resync republishes every state.
func (t *Translator) publishJSON(topic string, v any) {
	payload, err := json.Marshal(v)
	if err != nil {
		t.logError("failed to marshal bus message", err)
		return
	}
	if err := t.publisher.Publish(topic, payload, t.qos, true); err != nil {
		t.metrics.incPublishErrors()
		t.logWarn("failed to publish", "topic", topic, "error", err)
	}
}

func (t *Translator) updateRegistrySize() {
	t.metrics.setRegistrySize(t.registry.EnabledRoomCount(), t.registry.EnabledChannelCount())
}

func (t *Translator) emit(ev Event) {
	if t.events == nil {
		return
	}
	if ev.Timestamp.IsZero() {
		ev.Timestamp = time.Now().UTC()
	}
	t.events.HandleEvent(ev)
}

func (t *Translator) getLogger() Logger {
	t.loggerMu.RLock()
	defer t.loggerMu.RUnlock()
	return t.logger
}

func (t *Translator) logDebug(msg string, keysAndValues ...any) {
	if logger := t.getLogger(); logger != nil {
		logger.Debug(msg, keysAndValues...)
	}
}

func (t *Translator) logInfo(msg string, keysAndValues ...any) {
	if logger := t.getLogger(); logger != nil {
		logger.Info(msg, keysAndValues...)
	}
}

func (t *Translator) logWarn(msg string, keysAndValues ...any) {
	if logger := t.getLogger(); logger != nil {
		logger.Warn(msg, keysAndValues...)
	}
}

func (t *Translator) logError(msg string, err error) {
	if logger := t.getLogger(); logger != nil {
		logger.Error(msg, "error", err)
	}
}
