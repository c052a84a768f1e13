// File: control/eventsink.go
// Author: momentics <momentics@gmail.com>
//
// Structured event sink for the control plane: program attach/detach,
// socket state transitions, interface detach. Grounded on
// penguintechinc-marchproxy's logrus usage across its acceleration
// managers (structured fields per log line, leveled Info/Warn/Error).

package control

import "github.com/sirupsen/logrus"

// Event is one control-plane occurrence worth surfacing to an operator:
// a socket transitioning to DETACHED_INTERFACE, a program attach/detach,
// an offload install/revert.
type Event struct {
	Level   string
	Message string
	Fields  map[string]any
}

// EventSink accepts Events for delivery somewhere (log, metrics, both).
type EventSink interface {
	Emit(Event)
}

// LogrusEventSink renders Events through a logrus.Logger, one structured
// log line per event.
type LogrusEventSink struct {
	logger *logrus.Logger
}

// NewLogrusEventSink wraps logger, or logrus's standard logger if nil.
func NewLogrusEventSink(logger *logrus.Logger) *LogrusEventSink {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &LogrusEventSink{logger: logger}
}

// Emit renders ev at the level it carries, defaulting to Info for an
// unrecognized or empty level.
func (s *LogrusEventSink) Emit(ev Event) {
	entry := s.logger.WithFields(logrus.Fields(ev.Fields))
	switch ev.Level {
	case "error":
		entry.Error(ev.Message)
	case "warn":
		entry.Warn(ev.Message)
	case "debug":
		entry.Debug(ev.Message)
	default:
		entry.Info(ev.Message)
	}
}

var _ EventSink = (*LogrusEventSink)(nil)
