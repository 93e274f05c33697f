package cli

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/sirupsen/logrus"

	"webdrop/internal/config"
	"webdrop/internal/engine"
	"webdrop/internal/eventlog"
	"webdrop/internal/history"
	"webdrop/internal/logger"
	"webdrop/internal/peer"
	"webdrop/internal/signaling"
)

// newEngine assembles a fully wired engine for a CLI command.
func newEngine(cfg *config.Config) (*engine.Engine, *logrus.Logger, error) {
	events := eventlog.New(eventlog.DefaultCapacity)
	log := logger.New(events)

	signaler := signaling.NewPollClient(signaling.Config{
		BaseURL:  flagServer,
		Interval: cfg.PollInterval,
		Logger:   log,
	})

	if err := os.MkdirAll(filepath.Dir(cfg.HistoryPath), 0o755); err != nil {
		return nil, nil, fmt.Errorf("create history dir: %w", err)
	}
	hist, err := history.Open(cfg.HistoryPath)
	if err != nil {
		return nil, nil, fmt.Errorf("open history: %w", err)
	}

	eng, err := engine.New(engine.Config{
		Signaler:       signaler,
		SessionFactory: peer.NewSessionFactory(peer.DefaultSTUNConfig(), log),
		DownloadDir:    cfg.DownloadDir,
		History:        hist,
		Logger:         log,
	})
	if err != nil {
		return nil, nil, err
	}
	return eng, log, nil
}

// waitState polls the engine store until cond holds or the timeout runs
// out.
func waitState(eng *engine.Engine, timeout time.Duration, cond func(engine.State) bool) bool {
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond(eng.Store().Get()) {
			return true
		}
		time.Sleep(100 * time.Millisecond)
	}
	return false
}
