package rako

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/nerrad567/rako-bridge/internal/infrastructure/mqtt"
)

// Bridge operation constants.
const (
	// commandTimeout bounds the hub write of one command.
	commandTimeout = 5 * time.Second

	// journalTimeout bounds one command journal write.
	journalTimeout = 2 * time.Second
)

// Command outcomes recorded in the journal and metrics.
const (
	OutcomeAccepted = "accepted"
	OutcomeRejected = "rejected"
	OutcomeDropped  = "dropped"
)

// MQTTClient is the interface for MQTT operations.
// This allows mocking in tests and flexibility in implementation.
type MQTTClient interface {
	// Publish sends a message to a topic.
	Publish(topic string, payload []byte, qos byte, retained bool) error

	// Subscribe registers a handler for a topic pattern.
	Subscribe(topic string, qos byte, handler mqtt.MessageHandler) error

	// IsConnected returns true if connected to the broker.
	IsConnected() bool
}

// CommandRecord describes one processed bus command.
type CommandRecord struct {
	Topic   string
	Payload []byte
	Kind    CommandKind
	Room    int
	Channel int
	Value   int
	Outcome string
	Reason  string
}

// CommandJournal records processed commands.
// This interface is satisfied by the audit journal (via adapter in main.go).
// It is optional - if nil, commands are not journalled.
type CommandJournal interface {
	RecordCommand(ctx context.Context, rec CommandRecord) error
}

// BridgeOptions holds configuration for creating a bridge.
type BridgeOptions struct {
	// Config is the bridge configuration. Address is required.
	Config Config

	// MQTTClient is the MQTT client implementation.
	MQTTClient MQTTClient

	// Version is reported in health messages.
	Version string

	// Logger is optional structured logger.
	Logger Logger

	// Metrics is optional; nil records nothing.
	Metrics *Metrics

	// Journal is optional command journal.
	Journal CommandJournal

	// Events is optional event sink (websocket hub, telemetry).
	Events EventSink

	// Dial overrides the hub dialer, for tests.
	Dial DialFunc
}

// queuedCommand is a bus command waiting for the command worker.
type queuedCommand struct {
	topic   string
	payload []byte
}

// BridgeMetrics is a point-in-time view of the bridge.
type BridgeMetrics struct {
	Connected           bool            `json:"connected"`
	State               string          `json:"state"`
	Phase               string          `json:"phase"`
	Address             string          `json:"address"`
	Hub                 HubIdentity     `json:"hub"`
	Rooms               int             `json:"rooms"`
	Channels            int             `json:"channels"`
	Connection          ConnectionStats `json:"connection"`
	CommandsAccepted    uint64          `json:"commands_accepted"`
	CommandsRejected    uint64          `json:"commands_rejected"`
	CommandsDropped     uint64          `json:"commands_dropped"`
	QueueDepth          int             `json:"queue_depth"`
	UnknownDocuments    uint64          `json:"unknown_documents"`
	WatchdogExpirations uint64          `json:"watchdog_expirations"`
}

// Bridge orchestrates bidirectional translation between the RAKO hub and
// MQTT. It handles:
//   - The hub session: handshake, periodic resync, keepalive and watchdog
//   - Hub documents, translated into registry updates and bus messages
//   - Bus commands, queued to a single worker and sent to the hub
//   - Health reporting and graceful shutdown
//
// Thread Safety: All methods are safe for concurrent use.
type Bridge struct {
	cfg        Config
	mqtt       MQTTClient
	topics     mqtt.Topics
	registry   *DeviceRegistry
	translator *Translator
	handshake  *HandshakeSequencer
	watchdog   *Watchdog
	conn       *ConnectionManager
	health     *HealthReporter
	metrics    *Metrics
	journal    CommandJournal // Optional
	events     EventSink      // Optional

	commands chan queuedCommand

	commandsAccepted atomic.Uint64
	commandsRejected atomic.Uint64
	commandsDropped  atomic.Uint64

	// Shutdown coordination
	stopMu    sync.RWMutex // guards stopped against HandleCommand
	stopped   bool
	done      chan struct{}
	wg        sync.WaitGroup
	stopOnce  sync.Once
	ctx       context.Context    // Bridge-level context, cancelled on Stop()
	ctxCancel context.CancelFunc // Cancel function for ctx

	// Logger
	logger   Logger
	loggerMu sync.RWMutex
}

// NewBridge creates a new bridge instance.
// Call Start() to begin operation.
func NewBridge(opts BridgeOptions) (*Bridge, error) {
	if opts.Config.Address == "" {
		return nil, fmt.Errorf("hub address is required")
	}
	if opts.MQTTClient == nil {
		return nil, fmt.Errorf("MQTT client is required")
	}

	cfg := opts.Config
	cfg.applyDefaults()
	if cfg.StatusTimeoutTicks >= cfg.KeepaliveTicks {
		return nil, fmt.Errorf("status timeout (%d ticks) must be shorter than the keepalive interval (%d ticks)",
			cfg.StatusTimeoutTicks, cfg.KeepaliveTicks)
	}

	ctx, ctxCancel := context.WithCancel(context.Background())

	b := &Bridge{
		cfg:       cfg,
		mqtt:      opts.MQTTClient,
		topics:    mqtt.Topics{Prefix: cfg.DiscoveryPrefix},
		registry:  NewDeviceRegistry(),
		handshake: NewHandshakeSequencer(cfg.KeepaliveTicks, cfg.ResyncTicks),
		watchdog:  NewWatchdog(cfg.StatusTimeoutTicks),
		metrics:   opts.Metrics,
		journal:   opts.Journal,
		events:    opts.Events,
		commands:  make(chan queuedCommand, cfg.CommandQueueSize),
		done:      make(chan struct{}),
		ctx:       ctx,
		ctxCancel: ctxCancel,
		logger:    opts.Logger,
	}

	b.translator = NewTranslator(TranslatorOptions{
		Registry:   b.registry,
		Publisher:  opts.MQTTClient,
		Topics:     b.topics,
		QoS:        cfg.QoS,
		ScenePause: cfg.ScenePause,
		Logger:     opts.Logger,
		Metrics:    opts.Metrics,
		Events:     opts.Events,
	})

	b.conn = NewConnectionManager(ConnectionConfig{
		Address:           cfg.Address,
		TickInterval:      cfg.TickInterval,
		ReconnectInterval: cfg.ReconnectInterval,
		ConnectTimeout:    cfg.ConnectTimeout,
		Dial:              opts.Dial,
	}, bridgeHooks{b: b})
	b.conn.SetMetrics(opts.Metrics)

	b.health = NewHealthReporter(HealthReporterConfig{
		BridgeID:  cfg.BridgeID,
		Version:   opts.Version,
		Topic:     b.topics.BridgeHealth(),
		Interval:  cfg.HealthInterval,
		Publisher: opts.MQTTClient,
		Source:    b,
	})

	if opts.Logger != nil {
		b.conn.SetLogger(opts.Logger)
		b.health.SetLogger(opts.Logger)
	}

	return b, nil
}

// Start begins bridge operation.
// It subscribes to light commands, starts the command worker, the hub
// connection and health reporting.
//
// Parameters:
//   - ctx: Context for cancellation
//
// Returns:
//   - error: If the command subscription fails
func (b *Bridge) Start(ctx context.Context) error {
	if err := b.health.PublishStarting(); err != nil {
		b.logError("failed to publish starting status", err)
	}

	if err := b.mqtt.Subscribe(b.topics.AllLightCommands(), b.cfg.QoS, b.HandleCommand); err != nil {
		return fmt.Errorf("subscribing to light commands: %w", err)
	}

	b.wg.Add(1)
	go b.commandWorker()

	b.conn.Start(b.ctx)
	b.health.Start(ctx)

	b.logInfo("bridge started",
		"hub", b.cfg.Address,
		"command_topic", b.topics.AllLightCommands(),
	)
	return nil
}

// Stop gracefully shuts down the bridge.
// Safe to call multiple times.
func (b *Bridge) Stop() {
	b.stopOnce.Do(func() {
		b.stopMu.Lock()
		b.stopped = true
		close(b.done)
		b.stopMu.Unlock()
		b.ctxCancel()

		if err := b.conn.Close(); err != nil {
			b.logError("closing hub connection", err)
		}
		b.health.Stop()
		b.wg.Wait()
		b.drainCommands()

		b.logInfo("bridge stopped")
	})
}

// SetLogger sets the logger for the bridge and its components.
func (b *Bridge) SetLogger(logger Logger) {
	b.loggerMu.Lock()
	b.logger = logger
	b.loggerMu.Unlock()

	b.translator.SetLogger(logger)
	b.conn.SetLogger(logger)
	b.health.SetLogger(logger)
}

// Registry returns the device registry.
func (b *Bridge) Registry() *DeviceRegistry {
	return b.registry
}

// HandleCommand queues a bus command for the command worker. It is the
// MQTT handler for light command topics and never blocks: a full queue
// drops the command.
func (b *Bridge) HandleCommand(topic string, payload []byte) error {
	msg := queuedCommand{topic: topic, payload: append([]byte(nil), payload...)}

	b.stopMu.RLock()
	if b.stopped {
		b.stopMu.RUnlock()
		return ErrStopped
	}
	select {
	case b.commands <- msg:
		b.stopMu.RUnlock()
		return nil
	default:
	}
	b.stopMu.RUnlock()

	b.commandsDropped.Add(1)
	b.metrics.incCommand("", OutcomeDropped)
	b.logWarn("command queue full, dropping command", "topic", topic)
	b.record(CommandRecord{
		Topic:   topic,
		Payload: msg.payload,
		Outcome: OutcomeDropped,
		Reason:  ErrQueueFull.Error(),
	})
	return ErrQueueFull
}

// drainCommands journals commands the worker never picked up as dropped.
func (b *Bridge) drainCommands() {
	for {
		select {
		case msg := <-b.commands:
			b.commandsDropped.Add(1)
			b.metrics.incCommand("", OutcomeDropped)
			b.record(CommandRecord{
				Topic:   msg.topic,
				Payload: msg.payload,
				Outcome: OutcomeDropped,
				Reason:  ErrStopped.Error(),
			})
		default:
			return
		}
	}
}

// commandWorker sends queued commands to the hub one at a time.
func (b *Bridge) commandWorker() {
	defer b.wg.Done()

	for {
		select {
		case <-b.done:
			return
		case msg := <-b.commands:
			b.processCommand(msg)
		}
	}
}

// processCommand decodes and sends one bus command.
func (b *Bridge) processCommand(msg queuedCommand) {
	rec := CommandRecord{Topic: msg.topic, Payload: msg.payload}

	cmd, err := b.translator.ParseCommand(msg.topic, msg.payload)
	if err != nil {
		b.commandsRejected.Add(1)
		b.metrics.incCommand("", OutcomeRejected)
		b.logWarn("rejected command", "topic", msg.topic, "error", err)

		rec.Outcome = OutcomeRejected
		rec.Reason = err.Error()
		b.record(rec)
		return
	}

	rec.Kind = cmd.Kind
	rec.Room = cmd.Room
	rec.Channel = cmd.Channel
	rec.Value = cmd.Value

	if cmd.Kind == CommandScene {
		b.registry.SetScene(cmd.Room, cmd.Value)
	}

	frames := make([][]byte, b.cfg.CommandRepeat)
	request := cmd.Request()
	for i := range frames {
		frames[i] = request
	}

	ctx, cancel := context.WithTimeout(b.ctx, commandTimeout)
	err = b.conn.Send(ctx, frames...)
	cancel()

	if err != nil {
		b.commandsDropped.Add(1)
		b.metrics.incCommand(string(cmd.Kind), OutcomeDropped)
		b.logError("failed to send command to hub", err)

		rec.Outcome = OutcomeDropped
		rec.Reason = err.Error()
		b.record(rec)
		return
	}

	b.commandsAccepted.Add(1)
	b.metrics.incCommand(string(cmd.Kind), OutcomeAccepted)
	b.logDebug("command sent",
		"kind", cmd.Kind,
		"room", cmd.Room,
		"channel", cmd.Channel,
		"value", cmd.Value,
	)

	rec.Outcome = OutcomeAccepted
	b.record(rec)
}

// record journals a command and emits it as an event.
func (b *Bridge) record(rec CommandRecord) {
	b.emit(Event{
		Type:    EventCommand,
		Room:    rec.Room,
		Channel: rec.Channel,
		Level:   rec.Value,
		State:   rec.Outcome,
		Detail:  rec.Topic,
	})

	if b.journal == nil {
		return
	}
	// Not b.ctx: commands drained during Stop are journalled after it is cancelled.
	ctx, cancel := context.WithTimeout(context.Background(), journalTimeout)
	defer cancel()
	if err := b.journal.RecordCommand(ctx, rec); err != nil {
		b.logError("failed to journal command", err)
	}
}

// bridgeHooks adapts Bridge to ConnectionHooks without exporting the hook
// methods on Bridge.
type bridgeHooks struct {
	b *Bridge
}

// OnConnected opens the JSON session and restarts the handshake.
func (h bridgeHooks) OnConnected(ctx context.Context) error {
	b := h.b
	b.handshake.Reset()
	b.watchdog.Reset()

	if err := b.conn.Send(ctx, SubscribeLine(b.cfg.ClientName)); err != nil {
		return err
	}

	b.emitConnection(StateConnected, "")
	if err := b.health.PublishNow(); err != nil {
		b.logError("failed to publish health", err)
	}
	return nil
}

// OnTick runs the watchdog and the handshake.
func (h bridgeHooks) OnTick(ctx context.Context) error {
	b := h.b

	if b.watchdog.Tick() {
		b.metrics.incWatchdogExpirations()
		return ErrStatusTimeout
	}

	act := b.handshake.Tick()
	if act.Request != nil {
		if err := b.conn.Send(ctx, act.Request); err != nil {
			return err
		}
	}
	if act.Keepalive {
		b.watchdog.Arm()
	}
	if act.Resync {
		b.logDebug("scheduling level resync")
	}
	if act.Synced {
		b.logRegistry()
	}
	return nil
}

// OnDocument hands a hub document to the translator.
func (h bridgeHooks) OnDocument(_ context.Context, doc Document) {
	b := h.b
	b.metrics.incDocument(doc.Name)

	if doc.Name == DocStatus {
		b.watchdog.Disarm()
	}
	if err := b.translator.HandleDocument(doc); err != nil {
		b.logWarn("failed to handle hub document", "name", doc.Name, "error", err)
	}
}

// OnDisconnected reports the lost session.
func (h bridgeHooks) OnDisconnected(reason error) {
	b := h.b
	detail := ""
	if reason != nil && !errors.Is(reason, context.Canceled) {
		detail = reason.Error()
	}
	b.emitConnection(StateDisconnected, detail)

	select {
	case <-b.done:
		return // Stop publishes the final status
	default:
	}
	if err := b.health.PublishNow(); err != nil {
		b.logError("failed to publish health", err)
	}
}

// logRegistry logs the registry once the bootstrap completes.
func (b *Bridge) logRegistry() {
	rooms := b.registry.Snapshot()
	hub := b.registry.HubIdentity()

	b.logInfo("hub synchronised",
		"hub_id", hub.HubID,
		"version", hub.Version,
		"rooms", len(rooms),
		"channels", b.registry.EnabledChannelCount(),
	)
	for _, room := range rooms {
		channels := room.EnabledChannels()
		names := make([]string, 0, len(channels))
		for _, ch := range channels {
			names = append(names, fmt.Sprintf("%d:%s", ch.Index, ch.Name))
		}
		b.logDebug("room",
			"room", room.Index,
			"name", room.Name,
			"type", room.DeviceType,
			"scene", room.CurrentScene,
			"channels", names,
		)
	}
}

func (b *Bridge) emitConnection(state, detail string) {
	b.emit(Event{
		Type:       EventConnection,
		State:      state,
		Reconnects: b.conn.Stats().ReconnectsTotal,
		Detail:     detail,
	})
}

func (b *Bridge) emit(ev Event) {
	if b.events == nil {
		return
	}
	if ev.Timestamp.IsZero() {
		ev.Timestamp = time.Now().UTC()
	}
	b.events.HandleEvent(ev)
}

// HubConnected reports whether a hub session is established.
func (b *Bridge) HubConnected() bool {
	return b.conn.IsConnected()
}

// HubStatus describes the hub link for health messages.
func (b *Bridge) HubStatus() HubStatus {
	stats := b.conn.Stats()
	hub := b.registry.HubIdentity()

	status := HubStatus{
		State:   stats.State,
		Address: stats.Address,
		Phase:   b.handshake.Phase().String(),
		HubID:   hub.HubID,
		Version: hub.Version,
	}
	if !stats.ConnectedSince.IsZero() {
		since := stats.ConnectedSince.UTC()
		status.ConnectedSince = &since
	}
	return status
}

// Statistics returns the bridge counters for health messages.
func (b *Bridge) Statistics() BridgeStatistics {
	stats := b.conn.Stats()
	return BridgeStatistics{
		DocumentsReceived: stats.DocumentsRx,
		FramesDiscarded:   stats.FramesDiscarded,
		BytesReceived:     stats.BytesRx,
		BytesSent:         stats.BytesTx,
		Reconnects:        stats.ReconnectsTotal,
		CommandsAccepted:  b.commandsAccepted.Load(),
		CommandsRejected:  b.commandsRejected.Load(),
		CommandsDropped:   b.commandsDropped.Load(),
	}
}

// RegistrySize returns the enabled room and channel counts.
func (b *Bridge) RegistrySize() (rooms, channels int) {
	return b.registry.EnabledRoomCount(), b.registry.EnabledChannelCount()
}

// GetMetrics returns a point-in-time view of the bridge.
func (b *Bridge) GetMetrics() BridgeMetrics {
	stats := b.conn.Stats()
	rooms, channels := b.RegistrySize()

	return BridgeMetrics{
		Connected:           stats.Connected,
		State:               stats.State,
		Phase:               b.handshake.Phase().String(),
		Address:             stats.Address,
		Hub:                 b.registry.HubIdentity(),
		Rooms:               rooms,
		Channels:            channels,
		Connection:          stats,
		CommandsAccepted:    b.commandsAccepted.Load(),
		CommandsRejected:    b.commandsRejected.Load(),
		CommandsDropped:     b.commandsDropped.Load(),
		QueueDepth:          len(b.commands),
		UnknownDocuments:    b.translator.UnknownDocuments(),
		WatchdogExpirations: b.watchdog.Expirations(),
	}
}

func (b *Bridge) getLogger() Logger {
	b.loggerMu.RLock()
	defer b.loggerMu.RUnlock()
	return b.logger
}

func (b *Bridge) logDebug(msg string, keysAndValues ...any) {
	if logger := b.getLogger(); logger != nil {
		logger.Debug(msg, keysAndValues...)
	}
}

func (b *Bridge) logInfo(msg string, keysAndValues ...any) {
	if logger := b.getLogger(); logger != nil {
		logger.Info(msg, keysAndValues...)
	}
}

func (b *Bridge) logWarn(msg string, keysAndValues ...any) {
	if logger := b.getLogger(); logger != nil {
		logger.Warn(msg, keysAndValues...)
	}
}

func (b *Bridge) logError(msg string, err error) {
	if logger := b.getLogger(); logger != nil {
		logger.Error(msg, "error", err)
	}
}
