// Package storage persists the per-chat delivery audit log and notice dedup
// state so both survive restarts.
//
// Drivers: "file" (JSON Lines plus a dedup snapshot) and "sqlite" (built
// with -tags sqlite). An empty driver or "none" disables storage.
package storage
