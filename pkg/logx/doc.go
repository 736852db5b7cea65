// Package logx configures opsbot's structured logging.
//
// It wraps zerolog with a small Logger type to keep:
//   - Console output readable (short timestamp + short caller)
//   - File output JSON-structured
//   - Optional Telegram sink (min-level + rate limiting)
package logx
