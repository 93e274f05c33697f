package main

import (
	"log"

	"webdrop/internal/config"
	"webdrop/internal/eventlog"
	"webdrop/internal/logger"
	"webdrop/internal/signaling/server"
)

func main() {
	cfg := config.Load()
	logg := logger.New(eventlog.New(eventlog.DefaultCapacity))

	srv := server.New(server.Config{
		PresenceTTL: cfg.PresenceTTL,
		Logger:      logg,
	})

	logg.Infof("Signaling server listening on :%s", cfg.ListenPort)
	if err := srv.Router().Run(":" + cfg.ListenPort); err != nil {
		log.Fatal(err)
	}
}
