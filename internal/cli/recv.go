package cli

import (
	"context"
	"fmt"
	"time"

	"github.com/schollz/progressbar/v3"
	"github.com/spf13/cobra"

	"webdrop/internal/config"
	"webdrop/internal/engine"
	"webdrop/internal/transfer"
)

var flagTimeout time.Duration

var recvCmd = &cobra.Command{
	Use:   "recv",
	Short: "receive a file from a peer in the room",
	Long:  `recv joins the room, waits for an inbound connection, and saves the received file`,
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		if flagRoom == "" {
			return fmt.Errorf("--room is required")
		}

		cfg := config.Load()
		eng, log, err := newEngine(cfg)
		if err != nil {
			return err
		}
		defer eng.Close()

		ctx := context.Background()
		if err := eng.Join(ctx, flagRoom); err != nil {
			return err
		}
		st := eng.Store().Get()
		log.Infof("Joined room %s as %s, waiting for a sender", st.RoomID, st.SelfID)

		var bar *progressbar.ProgressBar
		unsub := eng.Store().Subscribe(func(st engine.State) {
			if st.Receiving == nil {
				return
			}
			if bar == nil {
				bar = progressbar.DefaultBytes(progressSize(st.Receiving), "receiving")
			}
			done := int64(st.Receiving.Completed) * transfer.ChunkSize
			if max := progressSize(st.Receiving); done > max || st.Receiving.Done {
				done = max
			}
			bar.Set64(done)
		})
		defer unsub()

		if !waitState(eng, flagTimeout, func(st engine.State) bool { return st.Artifact != nil }) {
			return fmt.Errorf("no file received within %s", flagTimeout)
		}
		if bar != nil {
			bar.Finish()
		}
		fmt.Println()

		art := eng.Store().Get().Artifact
		log.Infof("Received %s (%d bytes) -> %s", art.Name, art.Size, art.Path)
		return eng.Leave(ctx)
	},
}

// progressSize estimates total bytes from a chunk-based progress report.
func progressSize(p *transfer.Progress) int64 {
	if p.Total == 0 {
		return 1
	}
	return int64(p.Total) * transfer.ChunkSize
}

func init() {
	recvCmd.Flags().DurationVar(&flagTimeout, "timeout", 30*time.Minute, "how long to wait for a transfer")
}
