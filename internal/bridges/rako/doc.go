// Package rako implements the bridge between a RAKO lighting hub and MQTT
// for Home Assistant.
//
// The hub speaks line-delimited JSON over TCP port 9762. After a
// subscription line the bridge bootstraps the session (status, rooms,
// channels, levels), then follows tracker and feedback events, resyncs
// every level periodically and sends a status keepalive watched by a
// watchdog.
//
// # Architecture
//
//	┌─────────────────┐          ┌─────────────────┐
//	│ Home Assistant  │   MQTT   │   RAKO Bridge   │  TCP/JSON
//	│                 │◄────────►│   (this pkg)    │◄──────────► RAKO Hub
//	└─────────────────┘          └─────────────────┘
//
// Inside the package:
//
//   - ConnectionManager owns the socket, reconnects, and runs the hub loop
//   - FrameAssembler splits the byte stream into Documents
//   - Translator turns Documents into registry updates and bus messages,
//     and bus commands into hub requests
//   - DeviceRegistry holds rooms, channels and scenes (32 x 16, bounds checked)
//   - HandshakeSequencer and Watchdog run on every tick
//   - Bridge wires them together with a command queue and health reporting
//
// # Bus Surface
//
// Every room channel is exposed as a dimmable JSON schema light with object
// id rako_<room>_<channel>, and every room scene (0..5) as an on/off light
// rako_<room>_0_<scene>:
//
//	homeassistant/light/rako_3_2/config   discovery (retained)
//	homeassistant/light/rako_3_2/state    {"state":"ON","brightness":128}
//	homeassistant/light/rako_3_2/set      command
//	homeassistant/light/rako_3_0_1/state  {"state":"ON"}
//
// # Thread Safety
//
// All exported types are safe for concurrent use from multiple goroutines,
// except FrameAssembler which belongs to the hub loop.
package rako
