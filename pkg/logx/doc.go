// Package logx configures remindbot's structured logging.
//
// It wraps zerolog with a small value-type Logger so components can carry
// fixed fields (comp=scheduler, entry=...) and keep working while the
// underlying sinks are swapped by config hot-reload:
//   - console output with a short timestamp and file:line caller
//   - JSON lines to a file
//   - an optional Telegram operator chat for warnings and errors (rate limited)
package logx
