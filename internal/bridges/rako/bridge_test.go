package rako

import (
	"bytes"
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nerrad567/rako-bridge/internal/infrastructure/mqtt"
)

// memoryJournal implements CommandJournal in memory.
type memoryJournal struct {
	mu      sync.Mutex
	records []CommandRecord
}

func (j *memoryJournal) RecordCommand(_ context.Context, rec CommandRecord) error {
	j.mu.Lock()
	j.records = append(j.records, rec)
	j.mu.Unlock()
	return nil
}

func (j *memoryJournal) all() []CommandRecord {
	j.mu.Lock()
	defer j.mu.Unlock()
	return append([]CommandRecord(nil), j.records...)
}

type bridgeFixture struct {
	bridge  *Bridge
	mqtt    *MockMQTTClient
	hub     *fakeHub
	journal *memoryJournal
	events  *recordingSink
	topics  mqtt.Topics
}

func testBridgeConfig(addr string) Config {
	return Config{
		Address:            addr,
		TickInterval:       5 * time.Millisecond,
		ReconnectInterval:  20 * time.Millisecond,
		KeepaliveTicks:     1000,
		ResyncTicks:        30000,
		StatusTimeoutTicks: 500,
		HealthInterval:     time.Hour,
	}
}

func newBridgeFixture(t *testing.T, mutate func(*Config)) *bridgeFixture {
	t.Helper()
	hub := newFakeHub(t)
	cfg := testBridgeConfig(hub.addr())
	if mutate != nil {
		mutate(&cfg)
	}

	f := &bridgeFixture{
		mqtt:    NewMockMQTTClient(),
		hub:     hub,
		journal: &memoryJournal{},
		events:  &recordingSink{},
		topics:  mqtt.Topics{Prefix: cfg.DiscoveryPrefix},
	}

	b, err := NewBridge(BridgeOptions{
		Config:     cfg,
		MQTTClient: f.mqtt,
		Version:    "test",
		Logger:     &testLogger{},
		Journal:    f.journal,
		Events:     f.events,
	})
	require.NoError(t, err)
	f.bridge = b
	t.Cleanup(b.Stop)
	return f
}

// connect starts the bridge and returns the first hub session once the
// subscription line has arrived.
func (f *bridgeFixture) connect(t *testing.T) *hubConn {
	t.Helper()
	require.NoError(t, f.bridge.Start(context.Background()))
	session := f.hub.accept(t)
	session.waitFor(t, SubscribeLine(""), 1)
	return session
}

func (f *bridgeFixture) command(t *testing.T, objectID, payload string) {
	t.Helper()
	err := f.mqtt.SimulateMessage(f.topics.AllLightCommands(), f.topics.LightCommand(objectID), []byte(payload))
	require.NoError(t, err)
}

func TestNewBridge_Validation(t *testing.T) {
	_, err := NewBridge(BridgeOptions{MQTTClient: NewMockMQTTClient()})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "hub address")

	_, err = NewBridge(BridgeOptions{Config: Config{Address: "127.0.0.1:9762"}})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "MQTT client")

	b, err := NewBridge(BridgeOptions{Config: Config{Address: "127.0.0.1:9762"}, MQTTClient: NewMockMQTTClient()})
	require.NoError(t, err)
	assert.Equal(t, DefaultCommandRepeat, b.cfg.CommandRepeat)
	assert.Equal(t, DefaultClientName, b.cfg.ClientName)
	assert.Equal(t, DefaultCommandQueueSize, cap(b.commands))

	_, err = NewBridge(BridgeOptions{
		Config:     Config{Address: "127.0.0.1:9762", KeepaliveTicks: 3, StatusTimeoutTicks: 3},
		MQTTClient: NewMockMQTTClient(),
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "status timeout")
}

func TestBridge_StartSubscribesAndPublishesHealth(t *testing.T) {
	f := newBridgeFixture(t, nil)
	f.connect(t)

	subs := f.mqtt.GetSubscriptions()
	require.Len(t, subs, 1)
	assert.Equal(t, "homeassistant/light/+/set", subs[0].Topic)

	health := f.mqtt.PublishedTo("rakobridge/health")
	require.NotEmpty(t, health)
	assert.True(t, health[0].Retained)
	assert.Equal(t, byte(1), health[0].QoS)

	var msg HealthMessage
	require.NoError(t, json.Unmarshal(health[0].Payload, &msg))
	assert.Equal(t, HealthStarting, msg.Status)
	assert.Equal(t, "test", msg.Version)
}

func TestBridge_Bootstrap(t *testing.T) {
	f := newBridgeFixture(t, nil)
	session := f.connect(t)

	session.waitFor(t, StatusRequest(), 1)
	session.send(t, `{"name":"status","payload":{"productType":"Hub","hubId":"1234","mac":"00:11:22:33:44:55","hubVersion":"2.4.0"}}`)

	session.waitFor(t, QueryRequest(QueryRoom), 1)
	session.send(t, roomListing)

	session.waitFor(t, QueryRequest(QueryChannel), 1)
	session.send(t, channelListing)

	session.waitFor(t, QueryRequest(QueryLevel), 1)
	session.send(t, `{"name":"query_LEVEL","payload":[{"roomId":3,"currentScene":1,"channel":[{"channelId":1,"currentLevel":200}]}]}`)

	require.Eventually(t, func() bool {
		ch, _ := f.bridge.Registry().Channel(3, 1)
		return ch.Level == 200 && f.bridge.GetMetrics().Phase == PhaseSteady.String()
	}, 2*time.Second, 5*time.Millisecond)

	m := f.bridge.GetMetrics()
	assert.True(t, m.Connected)
	assert.Equal(t, "1234", m.Hub.HubID)
	assert.Positive(t, m.Rooms)

	got := session.received()
	want := bytes.Join([][]byte{
		SubscribeLine(""),
		StatusRequest(),
		QueryRequest(QueryRoom),
		QueryRequest(QueryChannel),
		QueryRequest(QueryLevel),
	}, nil)
	assert.True(t, bytes.HasPrefix(got, want), "bootstrap order: %q", got)
}

func TestBridge_HandshakeRestartsAfterPeerClose(t *testing.T) {
	f := newBridgeFixture(t, nil)
	first := f.connect(t)
	first.waitFor(t, StatusRequest(), 1)
	first.close()

	second := f.hub.accept(t)
	second.waitFor(t, QueryRequest(QueryRoom), 1)

	prefix := append(append([]byte(nil), SubscribeLine("")...), StatusRequest()...)
	assert.True(t, bytes.HasPrefix(second.received(), prefix))

	require.Eventually(t, func() bool {
		return f.bridge.GetMetrics().Connection.ReconnectsTotal == 1
	}, time.Second, 5*time.Millisecond)

	conns := f.events.ofType(EventConnection)
	require.GreaterOrEqual(t, len(conns), 3)
	assert.Equal(t, StateConnected, conns[0].State)
	assert.Equal(t, StateDisconnected, conns[1].State)
	assert.NotEmpty(t, conns[1].Detail)
}

func TestBridge_LevelCommandRepeated(t *testing.T) {
	f := newBridgeFixture(t, nil)
	session := f.connect(t)

	f.command(t, "rako_5_2", `{"state":"ON","brightness":80}`)

	req := LevelRequest(5, 2, 80)
	session.waitFor(t, req, DefaultCommandRepeat)
	assert.True(t, bytes.Contains(session.received(), append(append([]byte(nil), req...), req...)),
		"repeats are written back to back")

	require.Eventually(t, func() bool { return len(f.journal.all()) == 1 }, time.Second, 5*time.Millisecond)
	rec := f.journal.all()[0]
	assert.Equal(t, OutcomeAccepted, rec.Outcome)
	assert.Equal(t, CommandLevel, rec.Kind)
	assert.Equal(t, 5, rec.Room)
	assert.Equal(t, 2, rec.Channel)
	assert.Equal(t, 80, rec.Value)
	assert.Equal(t, uint64(1), f.bridge.GetMetrics().CommandsAccepted)
}

func TestBridge_SceneCommandUpdatesRegistry(t *testing.T) {
	f := newBridgeFixture(t, func(c *Config) { c.CommandRepeat = 1 })
	session := f.connect(t)

	f.command(t, "rako_3_0_4", `{"state":"ON"}`)

	session.waitFor(t, SceneRequest(3, 4), 1)
	room, ok := f.bridge.Registry().Room(3)
	require.True(t, ok)
	assert.Equal(t, 4, room.CurrentScene)
}

func TestBridge_RejectedCommand(t *testing.T) {
	f := newBridgeFixture(t, nil)
	f.connect(t)

	f.command(t, "rako_99_1", `{"state":"ON"}`)
	f.command(t, "rako_1_1", `not json`)

	require.Eventually(t, func() bool { return len(f.journal.all()) == 2 }, time.Second, 5*time.Millisecond)
	for _, rec := range f.journal.all() {
		assert.Equal(t, OutcomeRejected, rec.Outcome)
		assert.NotEmpty(t, rec.Reason)
	}
	assert.Equal(t, uint64(2), f.bridge.GetMetrics().CommandsRejected)

	events := f.events.ofType(EventCommand)
	require.Len(t, events, 2)
	assert.Equal(t, OutcomeRejected, events[0].State)
}

func TestBridge_CommandWithoutHubIsDropped(t *testing.T) {
	mock := NewMockMQTTClient()
	journal := &memoryJournal{}
	b, err := NewBridge(BridgeOptions{
		Config:     Config{Address: "127.0.0.1:1", CommandRepeat: 1},
		MQTTClient: mock,
		Journal:    journal,
	})
	require.NoError(t, err)

	b.wg.Add(1)
	go b.commandWorker()
	t.Cleanup(b.Stop)

	require.NoError(t, b.HandleCommand("homeassistant/light/rako_1_1/set", []byte(`{"state":"OFF"}`)))

	require.Eventually(t, func() bool { return len(journal.all()) == 1 }, time.Second, 5*time.Millisecond)
	rec := journal.all()[0]
	assert.Equal(t, OutcomeDropped, rec.Outcome)
	assert.Contains(t, rec.Reason, ErrNotConnected.Error())
}

func TestBridge_QueueFullDrops(t *testing.T) {
	journal := &memoryJournal{}
	b, err := NewBridge(BridgeOptions{
		Config:     Config{Address: "127.0.0.1:1", CommandQueueSize: 1},
		MQTTClient: NewMockMQTTClient(),
		Journal:    journal,
	})
	require.NoError(t, err)
	t.Cleanup(b.Stop)

	// No worker is running, so the second command finds the queue full.
	topic := "homeassistant/light/rako_1_1/set"
	require.NoError(t, b.HandleCommand(topic, []byte(`{"state":"ON"}`)))
	assert.ErrorIs(t, b.HandleCommand(topic, []byte(`{"state":"ON"}`)), ErrQueueFull)

	assert.Equal(t, uint64(1), b.GetMetrics().CommandsDropped)
	assert.Equal(t, 1, b.GetMetrics().QueueDepth)
	require.Len(t, journal.all(), 1)
	assert.Equal(t, OutcomeDropped, journal.all()[0].Outcome)
}

func TestBridge_HandleCommandAfterStop(t *testing.T) {
	b, err := NewBridge(BridgeOptions{
		Config:     Config{Address: "127.0.0.1:1"},
		MQTTClient: NewMockMQTTClient(),
	})
	require.NoError(t, err)
	b.Stop()

	for i := 0; i < 100; i++ {
		require.ErrorIs(t, b.HandleCommand("homeassistant/light/rako_1_1/set", []byte(`{"state":"ON"}`)), ErrStopped)
	}
	assert.Empty(t, b.commands)
}

func TestBridge_StopJournalsQueuedCommands(t *testing.T) {
	journal := &memoryJournal{}
	b, err := NewBridge(BridgeOptions{
		Config:     Config{Address: "127.0.0.1:1"},
		MQTTClient: NewMockMQTTClient(),
		Logger:     &testLogger{},
		Journal:    journal,
	})
	require.NoError(t, err)

	// Never started, so nothing consumes the queue.
	require.NoError(t, b.HandleCommand("homeassistant/light/rako_1_1/set", []byte(`{"state":"ON"}`)))
	b.Stop()

	recs := journal.all()
	require.Len(t, recs, 1)
	assert.Equal(t, OutcomeDropped, recs[0].Outcome)
	assert.Equal(t, ErrStopped.Error(), recs[0].Reason)
	assert.Equal(t, uint64(1), b.GetMetrics().CommandsDropped)
}

func TestBridge_WatchdogForcesReconnect(t *testing.T) {
	f := newBridgeFixture(t, func(c *Config) {
		c.KeepaliveTicks = 5
		c.StatusTimeoutTicks = 3
	})
	first := f.connect(t)

	// Walk the bootstrap without ever answering a keepalive.
	first.waitFor(t, StatusRequest(), 1)
	first.send(t, `{"name":"status","payload":{"productType":"Hub"}}`)
	first.waitFor(t, QueryRequest(QueryLevel), 1)

	second := f.hub.accept(t)
	second.waitFor(t, SubscribeLine(""), 1)

	assert.Positive(t, f.bridge.GetMetrics().WatchdogExpirations)

	conns := f.events.ofType(EventConnection)
	require.GreaterOrEqual(t, len(conns), 2)
	assert.Contains(t, conns[1].Detail, ErrStatusTimeout.Error())
}

func TestBridge_HubDocumentsPublishState(t *testing.T) {
	f := newBridgeFixture(t, nil)
	session := f.connect(t)
	session.send(t, roomListing)
	session.send(t, channelListing)
	session.send(t, `{"name":"tracker","payload":{"roomId":3,"channelId":1,"targetLevel":128}}`)

	require.Eventually(t, func() bool {
		return len(f.mqtt.PublishedTo("rako_3_1/state")) > 0
	}, time.Second, 5*time.Millisecond)

	states := f.mqtt.PublishedTo("rako_3_1/state")
	state := decodeState(t, states[len(states)-1].Payload)
	assert.Equal(t, StateOn, state["state"])
	assert.InDelta(t, 128, state["brightness"], 0)
}

func TestBridge_StopPublishesStopping(t *testing.T) {
	f := newBridgeFixture(t, nil)
	f.connect(t)
	f.bridge.Stop()
	f.bridge.Stop()

	health := f.mqtt.PublishedTo("rakobridge/health")
	require.NotEmpty(t, health)

	var msg HealthMessage
	require.NoError(t, json.Unmarshal(health[len(health)-1].Payload, &msg))
	assert.Equal(t, HealthStopping, msg.Status)
	assert.False(t, f.bridge.HubConnected())
}
