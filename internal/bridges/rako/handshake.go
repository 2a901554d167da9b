package rako

import "sync"

// Phase is a step of the hub session bootstrap.
type Phase int

// Handshake phases, in the order a fresh session walks through them.
const (
	PhaseInit Phase = iota
	PhaseSubscribed
	PhaseRoomsRequested
	PhaseChannelsRequested
	PhaseLevelsRequested
	PhaseSteady
)

// Default tick budgets.
const (
	DefaultKeepaliveTicks = 1000
	DefaultResyncTicks    = 30000
)

func (p Phase) String() string {
	switch p {
	case PhaseInit:
		return "init"
	case PhaseSubscribed:
		return "subscribed"
	case PhaseRoomsRequested:
		return "rooms_requested"
	case PhaseChannelsRequested:
		return "channels_requested"
	case PhaseLevelsRequested:
		return "levels_requested"
	case PhaseSteady:
		return "steady"
	default:
		return "unknown"
	}
}

// TickAction is what the sequencer wants done on one tick.
type TickAction struct {
	// Request is the frame to send, nil when there is nothing to send.
	Request []byte

	// Keepalive is set when Request is a keepalive status and the
	// watchdog should be armed.
	Keepalive bool

	// Synced is set on the tick the bootstrap reaches PhaseSteady.
	Synced bool

	// Resync is set on the tick the periodic LEVEL resync is scheduled.
	Resync bool
}

// HandshakeSequencer drives the ordered bootstrap of a hub session
// (status, rooms, channels, levels) and, once steady, the periodic LEVEL
// resync and status keepalive.
//
// Thread Safety: All methods are safe for concurrent use. Tick is called
// from the hub loop only; Phase may be read from anywhere.
type HandshakeSequencer struct {
	mu               sync.Mutex
	phase            Phase
	tickCounter      int
	keepaliveCounter int

	keepaliveTicks int
	resyncTicks    int
}

// NewHandshakeSequencer creates a sequencer. Zero budgets select the
// defaults.
func NewHandshakeSequencer(keepaliveTicks, resyncTicks int) *HandshakeSequencer {
	if keepaliveTicks <= 0 {
		keepaliveTicks = DefaultKeepaliveTicks
	}
	if resyncTicks <= 0 {
		resyncTicks = DefaultResyncTicks
	}
	return &HandshakeSequencer{
		keepaliveTicks: keepaliveTicks,
		resyncTicks:    resyncTicks,
	}
}

// Reset restarts the bootstrap. A new TCP session carries no hub-side
// memory of earlier subscriptions or queries.
func (h *HandshakeSequencer) Reset() {
	h.mu.Lock()
	h.phase = PhaseInit
	h.tickCounter = 0
	h.keepaliveCounter = 0
	h.mu.Unlock()
}

// Phase returns the current phase.
func (h *HandshakeSequencer) Phase() Phase {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.phase
}

// Tick advances the sequencer by one tick.
//
// During bootstrap each tick sends the next request and moves one phase
// forward. In PhaseSteady the resync counter regresses the phase to
// PhaseChannelsRequested so LEVEL is queried again on the next tick, and
// the keepalive counter emits a status request.
func (h *HandshakeSequencer) Tick() TickAction {
	h.mu.Lock()
	defer h.mu.Unlock()

	var act TickAction

	switch h.phase {
	case PhaseInit:
		act.Request = StatusRequest()
		h.phase = PhaseSubscribed
		return act
	case PhaseSubscribed:
		act.Request = QueryRequest(QueryRoom)
		h.phase = PhaseRoomsRequested
		return act
	case PhaseRoomsRequested:
		act.Request = QueryRequest(QueryChannel)
		h.phase = PhaseChannelsRequested
		return act
	case PhaseChannelsRequested:
		act.Request = QueryRequest(QueryLevel)
		h.phase = PhaseLevelsRequested
		return act
	case PhaseLevelsRequested:
		h.phase = PhaseSteady
		act.Synced = true
		return act
	}

	h.tickCounter++
	if h.tickCounter >= h.resyncTicks {
		h.tickCounter = 0
		h.phase = PhaseChannelsRequested
		act.Resync = true
	}

	h.keepaliveCounter++
	if h.keepaliveCounter >= h.keepaliveTicks {
		h.keepaliveCounter = 0
		act.Request = StatusRequest()
		act.Keepalive = true
	}

	return act
}
