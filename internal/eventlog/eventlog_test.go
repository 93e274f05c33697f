package eventlog

import (
	"testing"

	"github.com/sirupsen/logrus"
)

func TestLogAppendAndEvents(t *testing.T) {
	log := New(8)

	log.Append(Event{Level: logrus.InfoLevel, Message: "first"})
	log.Append(Event{Level: logrus.InfoLevel, Message: "second"})

	events := log.Events()
	if len(events) != 2 {
		t.Fatalf("expected 2 events, got %d", len(events))
	}
	if events[0].Message != "first" {
		t.Errorf("expected oldest event first, got %q", events[0].Message)
	}
	if events[0].Time.IsZero() {
		t.Error("expected timestamp to be filled in")
	}
}

func TestLogRingWraps(t *testing.T) {
	log := New(3)

	for _, msg := range []string{"a", "b", "c", "d", "e"} {
		log.Append(Event{Level: logrus.InfoLevel, Message: msg})
	}

	events := log.Events()
	if len(events) != 3 {
		t.Fatalf("expected capacity 3, got %d", len(events))
	}
	if events[0].Message != "c" || events[2].Message != "e" {
		t.Errorf("expected [c d e], got [%s %s %s]", events[0].Message, events[1].Message, events[2].Message)
	}
}

func TestLogNotifierOnlyForErrorClass(t *testing.T) {
	log := New(8)

	var notified []string
	log.SetNotifier(func(ev Event) {
		notified = append(notified, ev.Message)
	})

	log.Append(Event{Level: logrus.InfoLevel, Message: "quiet"})
	log.Append(Event{Level: logrus.WarnLevel, Message: "loud"})
	log.Append(Event{Level: logrus.ErrorLevel, Message: "louder"})

	if len(notified) != 2 {
		t.Fatalf("expected 2 notifications, got %d", len(notified))
	}
	if notified[0] != "loud" || notified[1] != "louder" {
		t.Errorf("unexpected notifications: %v", notified)
	}
}

func TestHookMirrorsLogrusEntries(t *testing.T) {
	log := New(8)

	logger := logrus.New()
	logger.SetLevel(logrus.DebugLevel)
	logger.SetOutput(discard{})
	logger.AddHook(NewHook(log))

	logger.Info("hello")
	logger.Errorf("boom %d", 42)

	events := log.Events()
	if len(events) != 2 {
		t.Fatalf("expected 2 events, got %d", len(events))
	}
	if events[1].Message != "boom 42" {
		t.Errorf("expected formatted message, got %q", events[1].Message)
	}
	if events[1].Level != logrus.ErrorLevel {
		t.Errorf("expected error level, got %v", events[1].Level)
	}
}

type discard struct{}

func (discard) Write(p []byte) (int, error) { return len(p), nil }
