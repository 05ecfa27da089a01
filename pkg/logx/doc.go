// Package logx is postbot's structured logging layer on top of zerolog.
//
// A Logger is a cheap value; loggers derived from a Service follow runtime
// reconfiguration (level, sinks) without being rebuilt. Sinks:
//   - console (human readable, short caller)
//   - file (JSON lines)
//   - Telegram log group (min level + rate limit, never blocks the caller)
package logx
