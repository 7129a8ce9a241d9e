// Package commands implements the noticebot CLI: the long-running relay
// (serve) and one-shot operator tools for the session and for sending.
package commands
