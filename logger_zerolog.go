package crosswire

import (
	"fmt"
	"io"

	"github.com/rs/zerolog"
)

// ZerologLogger adapts a zerolog.Logger to the Logger interface.
type ZerologLogger struct {
	log zerolog.Logger
}

// NewZerologLogger returns a Logger writing structured output to w.
func NewZerologLogger(w io.Writer) *ZerologLogger {
	return &ZerologLogger{log: zerolog.New(w).With().Timestamp().Logger()}
}

// NewZerologLoggerFrom wraps an existing zerolog.Logger.
func NewZerologLoggerFrom(log zerolog.Logger) *ZerologLogger {
	return &ZerologLogger{log: log}
}

func (l *ZerologLogger) Info(msg string, args ...any)  { emit(l.log.Info(), msg, args) }
func (l *ZerologLogger) Debug(msg string, args ...any) { emit(l.log.Debug(), msg, args) }
func (l *ZerologLogger) Warn(msg string, args ...any)  { emit(l.log.Warn(), msg, args) }
func (l *ZerologLogger) Error(msg string, args ...any) { emit(l.log.Error(), msg, args) }

func emit(ev *zerolog.Event, msg string, args []any) {
	for i := 0; i+1 < len(args); i += 2 {
		key, ok := args[i].(string)
		if !ok {
			key = fmt.Sprint(args[i])
		}
		ev = ev.Interface(key, args[i+1])
	}
	ev.Msg(msg)
}
