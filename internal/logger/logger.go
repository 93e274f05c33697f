// Package logger builds the application logger. Every logger carries an
// eventlog hook so recent entries stay queryable from the UI layer.
package logger

import (
	"github.com/sirupsen/logrus"

	"webdrop/internal/eventlog"
)

// New returns a logger mirrored into the given event log. A nil log
// yields a plain logger.
func New(events *eventlog.Log) *logrus.Logger {
	l := logrus.New()
	l.SetFormatter(&logrus.TextFormatter{
		FullTimestamp:   true,
		TimestampFormat: "15:04:05",
	})
	if events != nil {
		l.AddHook(eventlog.NewHook(events))
	}
	return l
}
