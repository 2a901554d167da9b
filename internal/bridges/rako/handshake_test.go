package rako

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHandshakeSequencer_Bootstrap(t *testing.T) {
	h := NewHandshakeSequencer(1000, 30000)
	require.Equal(t, PhaseInit, h.Phase())

	want := [][]byte{
		StatusRequest(),
		QueryRequest(QueryRoom),
		QueryRequest(QueryChannel),
		QueryRequest(QueryLevel),
	}
	for i, req := range want {
		act := h.Tick()
		assert.Equal(t, req, act.Request, "tick %d", i)
		assert.False(t, act.Synced)
	}
	assert.Equal(t, PhaseLevelsRequested, h.Phase())

	act := h.Tick()
	assert.Nil(t, act.Request)
	assert.True(t, act.Synced)
	assert.Equal(t, PhaseSteady, h.Phase())
}

func steady(t *testing.T, h *HandshakeSequencer) {
	t.Helper()
	for h.Phase() != PhaseSteady {
		h.Tick()
	}
}

func TestHandshakeSequencer_Keepalive(t *testing.T) {
	h := NewHandshakeSequencer(3, 30000)
	steady(t, h)

	assert.Nil(t, h.Tick().Request)
	assert.Nil(t, h.Tick().Request)

	act := h.Tick()
	assert.Equal(t, StatusRequest(), act.Request)
	assert.True(t, act.Keepalive)
	assert.Equal(t, PhaseSteady, h.Phase())

	assert.Nil(t, h.Tick().Request, "counter restarts after a keepalive")
}

func TestHandshakeSequencer_PeriodicResync(t *testing.T) {
	h := NewHandshakeSequencer(1000, 4)
	steady(t, h)

	for i := 0; i < 3; i++ {
		assert.False(t, h.Tick().Resync)
	}
	act := h.Tick()
	assert.True(t, act.Resync)
	assert.Equal(t, PhaseChannelsRequested, h.Phase())

	assert.Equal(t, QueryRequest(QueryLevel), h.Tick().Request)
	assert.True(t, h.Tick().Synced)
	assert.Equal(t, PhaseSteady, h.Phase())
}

func TestHandshakeSequencer_Reset(t *testing.T) {
	h := NewHandshakeSequencer(0, 0)
	steady(t, h)

	h.Reset()

	assert.Equal(t, PhaseInit, h.Phase())
	assert.Equal(t, StatusRequest(), h.Tick().Request)
}

func TestPhase_String(t *testing.T) {
	assert.Equal(t, "init", PhaseInit.String())
	assert.Equal(t, "steady", PhaseSteady.String())
	assert.Equal(t, "unknown", Phase(42).String())
}

func TestWatchdog(t *testing.T) {
	w := NewWatchdog(3)

	assert.False(t, w.Tick(), "disarmed watchdog never fires")

	w.Arm()
	assert.True(t, w.Armed())
	assert.False(t, w.Tick())
	assert.False(t, w.Tick())
	assert.True(t, w.Tick())
	assert.False(t, w.Armed())
	assert.Equal(t, uint64(1), w.Expirations())

	w.Arm()
	w.Tick()
	w.Disarm()
	for i := 0; i < 5; i++ {
		assert.False(t, w.Tick())
	}

	w.Arm()
	w.Reset()
	assert.False(t, w.Armed())
}
