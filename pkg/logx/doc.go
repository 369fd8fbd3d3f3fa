// Package logx is reglament's structured logging layer.
//
// logx.Logger wraps zerolog so call sites pass typed Field funcs instead of
// building events by hand:
//   - console output is human readable (short timestamp, file:line caller)
//   - the optional file sink keeps raw JSON lines
//   - the optional Telegram sink forwards warnings and errors to an ops chat,
//     filtered by level and rate limited
package logx
