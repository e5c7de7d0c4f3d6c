// Package server implements the voicerelay WebSocket server: the Hub that owns
// the shared client and voice-room state, the message router, per-connection
// read/write pumps, and the HTTP surface that upgrades connections or serves
// static files.
//
// All shared state lives in the Hub and is guarded by a single mutex. The Hub
// event loop consumes registrations, inbound frames and disconnects in order,
// and every broadcast is queued inside the same critical section as the state
// change that caused it.
package server
