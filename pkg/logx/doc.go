// Package logx configures noticebot's structured logging.
//
// It wraps zerolog (logx.Logger) to keep:
//   - Console output readable (short timestamp + short caller)
//   - File output JSON-structured
//   - An optional operator sink (min-level + rate limiting) that forwards
//     warnings to the operator chat
package logx
