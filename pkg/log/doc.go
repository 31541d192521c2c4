// Package log provides structured logging for ibrain services.
//
// Components receive a Logger by injection and tag it:
//
//	logger := log.NewLogger(
//	    log.WithLevel(log.InfoLevel),
//	    log.WithFormatter(&log.TextFormatter{}),
//	    log.WithOutput(log.NewConsoleOutput()),
//	).WithComponent("worker")
//
//	logger.Info("job completed", log.F("queue", name), log.F("seq", seq))
//
// Standard library logs (Pebble uses them) can be routed through a Logger via
// RedirectStdLog. Records flow through a slog.Handler bridge so handler
// wrappers can be layered for cross-cutting concerns.
package log
