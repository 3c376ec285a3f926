package core

// Logger is any leveled logging service.
//
// Implementations accept trailing args of arbitrary types (errors, context
// maps) and are expected to never panic on them.
type Logger interface {
	Enable(enabled bool)
	Debug(msg string, args ...interface{})
	Info(msg string, args ...interface{})
	Warn(msg string, args ...interface{})
	Error(msg string, args ...interface{})
	Fatal(msg string, args ...interface{})
}
