package rako

import "sync"

// DefaultStatusTimeoutTicks is how many ticks a keepalive status may go
// unanswered before the connection is abandoned.
const DefaultStatusTimeoutTicks = 500

// Watchdog counts down ticks while a keepalive status is outstanding.
//
// Thread Safety: All methods are safe for concurrent use.
type Watchdog struct {
	mu        sync.Mutex
	timeout   int
	remaining int
	armed     bool
	expired   uint64
}

// NewWatchdog creates a disarmed watchdog. A timeout <= 0 selects
// DefaultStatusTimeoutTicks.
func NewWatchdog(timeoutTicks int) *Watchdog {
	if timeoutTicks <= 0 {
		timeoutTicks = DefaultStatusTimeoutTicks
	}
	return &Watchdog{timeout: timeoutTicks}
}

// Arm starts the countdown. Arming an armed watchdog restarts it.
func (w *Watchdog) Arm() {
	w.mu.Lock()
	w.armed = true
	w.remaining = w.timeout
	w.mu.Unlock()
}

// Disarm stops the countdown. Called for every status document.
func (w *Watchdog) Disarm() {
	w.mu.Lock()
	w.armed = false
	w.remaining = 0
	w.mu.Unlock()
}

// Reset disarms the watchdog for a new connection.
func (w *Watchdog) Reset() {
	w.Disarm()
}

// Tick decrements an armed countdown and reports whether it reached zero.
// An expired watchdog disarms itself.
func (w *Watchdog) Tick() bool {
	w.mu.Lock()
	defer w.mu.Unlock()

	if !w.armed {
		return false
	}
	w.remaining--
	if w.remaining > 0 {
		return false
	}
	w.armed = false
	w.expired++
	return true
}

// Armed reports whether a status reply is outstanding.
func (w *Watchdog) Armed() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.armed
}

// Expirations returns how many times the watchdog has fired.
func (w *Watchdog) Expirations() uint64 {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.expired
}
