// Package waha is a small client for a WAHA-style WhatsApp HTTP API.
//
// The automation service owns the WhatsApp connection; this package only
// speaks its HTTP contract: session status/start, QR challenge retrieval and
// the three send endpoints (file, link preview, text).
//
// A Session value is the explicit handle for one named session. It is cheap
// to copy and carries no mutable state: the remote service is the source of
// truth, so every call is a fresh request.
package waha
