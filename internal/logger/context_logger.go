package logger

import (
	"fmt"
	"sync/atomic"

	"github.com/rs/zerolog"
)

// ContextLogger is a named logger. The underlying zerolog logger is swapped
// atomically when the global configuration changes, so loggers can be created
// in the var phase of a package and configured later.
type ContextLogger struct {
	name string
	zl   atomic.Pointer[zerolog.Logger]
}

func (c *ContextLogger) Trace(format string, args ...interface{}) {
	logMessage(c.zl.Load().Trace(), format, args)
}

func (c *ContextLogger) Debug(format string, args ...interface{}) {
	logMessage(c.zl.Load().Debug(), format, args)
}

func (c *ContextLogger) Info(format string, args ...interface{}) {
	logMessage(c.zl.Load().Info(), format, args)
}

func (c *ContextLogger) Warning(format string, args ...interface{}) {
	logMessage(c.zl.Load().Warn(), format, args)
}

func (c *ContextLogger) Error(format string, args ...interface{}) {
	logMessage(c.zl.Load().Error(), format, args)
}

// ChangeLevel changes the level of this logger only. The change is lost when
// the global configuration is updated.
func (c *ContextLogger) ChangeLevel(newLevel LogLevel) {
	zl := c.zl.Load().Level(toZeroLevel(newLevel))
	c.zl.Store(&zl)
}

func logMessage(event *zerolog.Event, format string, args []interface{}) {
	if len(args) == 0 {
		event.Msg(format)
	} else {
		event.Msgf(format, args...)
	}
}

type goRoutineIDHook struct{}

func (h goRoutineIDHook) Run(e *zerolog.Event, level zerolog.Level, msg string) {
	e.Uint64("GoID", goroutineID())
}

func toZeroLevel(lvl LogLevel) zerolog.Level {
	switch lvl {
	case NONE:
		return zerolog.Disabled
	case TRACE:
		return zerolog.TraceLevel
	case DEBUG:
		return zerolog.DebugLevel
	case INFO:
		return zerolog.InfoLevel
	case WARNING:
		return zerolog.WarnLevel
	case ERROR:
		return zerolog.ErrorLevel
	default:
		panic(fmt.Sprintf("unknown level: %d", lvl))
	}
}
