// Package log provides the structured, leveled logger used by all roster
// components. Loggers are constructed explicitly and passed by dependency
// injection; there is no process-global logger.
//
// Typical usage:
//
//	logger := log.NewLogger(log.WithLevel(log.InfoLevel))
//	wl := logger.With(log.Component("worker"))
//	wl.Info("item reserved", log.Str("tube", tube), log.Uint64("seq", seq))
package log
