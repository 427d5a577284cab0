// Package logger is the structured logging surface shared by the evaluation
// pipeline, the training harness and the CLI.
package logger

// Logger provides structured logging keyed by the emitting component.
type Logger interface {
	Info(component, message string, fields map[string]interface{})
	Error(component string, err error, fields map[string]interface{})
	Warning(component, message string, fields map[string]interface{})
	Debug(component, message string, fields map[string]interface{})
}

type nopLogger struct{}

// NewNop returns a Logger that discards everything.
func NewNop() Logger { return nopLogger{} }

func (nopLogger) Info(string, string, map[string]interface{})    {}
func (nopLogger) Error(string, error, map[string]interface{})    {}
func (nopLogger) Warning(string, string, map[string]interface{}) {}
func (nopLogger) Debug(string, string, map[string]interface{})   {}
