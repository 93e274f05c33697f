package eventlog

import "github.com/sirupsen/logrus"

// Hook mirrors every logrus entry into a Log, so anything a component logs
// becomes part of the observable event history.
type Hook struct {
	log *Log
}

func NewHook(log *Log) *Hook {
	return &Hook{log: log}
}

func (h *Hook) Levels() []logrus.Level {
	return logrus.AllLevels
}

func (h *Hook) Fire(entry *logrus.Entry) error {
	h.log.Append(Event{
		Time:    entry.Time,
		Level:   entry.Level,
		Message: entry.Message,
	})
	return nil
}
