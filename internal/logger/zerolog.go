package logger

import (
	"io"
	"os"
	"strings"

	"github.com/rs/zerolog"
)

// LevelEnv selects the log level when set to debug, info, warn or error.
const LevelEnv = "XRSEG_LOG_LEVEL"

type ZerologAdapter struct {
	logger zerolog.Logger
}

func NewZerolog(writer io.Writer, level zerolog.Level) *ZerologAdapter {
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	zerolog.DurationFieldInteger = true

	logger := zerolog.New(writer).
		Level(level).
		With().
		Timestamp().
		Logger()

	return &ZerologAdapter{logger: logger}
}

func NewConsoleLogger(level zerolog.Level) *ZerologAdapter {
	consoleWriter := zerolog.ConsoleWriter{
		Out:        os.Stderr,
		TimeFormat: "15:04:05",
	}
	return NewZerolog(consoleWriter, level)
}

// LookupLevel maps the names accepted in LevelEnv and experiment files to a
// zerolog level. An empty name means info.
func LookupLevel(name string) (zerolog.Level, bool) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "debug":
		return zerolog.DebugLevel, true
	case "", "info":
		return zerolog.InfoLevel, true
	case "warn", "warning":
		return zerolog.WarnLevel, true
	case "error":
		return zerolog.ErrorLevel, true
	default:
		return zerolog.InfoLevel, false
	}
}

// ParseLevel is LookupLevel with unknown names read as info.
func ParseLevel(name string) zerolog.Level {
	level, _ := LookupLevel(name)
	return level
}

func LevelFromEnv() zerolog.Level {
	return ParseLevel(os.Getenv(LevelEnv))
}

// ResolveLevel prefers LevelEnv when it is set and falls back to the level
// configured in an experiment file.
func ResolveLevel(configured string) zerolog.Level {
	if env, ok := os.LookupEnv(LevelEnv); ok && strings.TrimSpace(env) != "" {
		return ParseLevel(env)
	}
	return ParseLevel(configured)
}

func (z *ZerologAdapter) Info(component, message string, fields map[string]interface{}) {
	z.emit(z.logger.Info(), component, fields).Msg(message)
}

func (z *ZerologAdapter) Error(component string, err error, fields map[string]interface{}) {
	z.emit(z.logger.Error().Err(err), component, fields).Msg("operation failed")
}

func (z *ZerologAdapter) Warning(component, message string, fields map[string]interface{}) {
	z.emit(z.logger.Warn(), component, fields).Msg(message)
}

func (z *ZerologAdapter) Debug(component, message string, fields map[string]interface{}) {
	z.emit(z.logger.Debug(), component, fields).Msg(message)
}

// emit attaches the component and fields; a disabled level yields a nil event
// on which every call is a no-op.
func (z *ZerologAdapter) emit(event *zerolog.Event, component string, fields map[string]interface{}) *zerolog.Event {
	if event == nil {
		return nil
	}
	event = event.Str("component", component)
	for k, v := range fields {
		switch val := v.(type) {
		case float64:
			event = event.Float64(k, val)
		case int:
			event = event.Int(k, val)
		case string:
			event = event.Str(k, val)
		default:
			event = event.Interface(k, v)
		}
	}
	return event
}
