// Package session drives the automation service's WhatsApp session to the
// WORKING state.
//
// The state machine is split in two:
//
//   - Machine.Next is a pure transition function (state, event) -> (state, action).
//   - Coordinator executes actions against the remote service: it polls,
//     fetches QR challenges, surfaces them through a QRHook and enforces the
//     wall-clock windows, feeding the results back as events.
//
// Every status check is a fresh remote query; nothing is cached locally.
package session
