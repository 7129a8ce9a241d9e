// Package operator reaches the human running the relay: QR challenges are
// written to disk, sent as a Telegram photo and logged; warnings forwarded
// by the log sink arrive as Telegram text messages.
package operator
