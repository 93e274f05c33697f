package cli

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/schollz/progressbar/v3"
	"github.com/spf13/cobra"

	"webdrop/internal/config"
	"webdrop/internal/engine"
	"webdrop/internal/transfer"
)

var flagPeer string

var sendCmd = &cobra.Command{
	Use:   "send file-path",
	Short: "send a file to a peer in the room",
	Long:  `send joins the room, connects to a peer, and streams the file to it`,
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if flagRoom == "" {
			return fmt.Errorf("--room is required")
		}
		path := args[0]
		info, err := os.Stat(path)
		if err != nil {
			return err
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

		target := flagPeer
		if target == "" {
			log.Info("Waiting for a peer to join the room")
			if !waitState(eng, 5*time.Minute, func(st engine.State) bool { return len(st.Peers) > 0 }) {
				return fmt.Errorf("no peer joined room %s", flagRoom)
			}
			target = eng.Store().Get().Peers[0]
		}

		if err := eng.SetTarget(target); err != nil {
			return err
		}
		if err := eng.Call(ctx); err != nil {
			return err
		}
		if !waitState(eng, time.Minute, func(st engine.State) bool { return st.Connected }) {
			return fmt.Errorf("could not connect to %s", target)
		}

		bar := progressbar.DefaultBytes(info.Size(), "sending")
		unsub := eng.Store().Subscribe(func(st engine.State) {
			if st.Sending == nil {
				return
			}
			done := int64(st.Sending.Completed) * transfer.ChunkSize
			if done > info.Size() || st.Sending.Done {
				done = info.Size()
			}
			bar.Set64(done)
		})
		defer unsub()

		if err := eng.SendFile(ctx, path); err != nil {
			return err
		}
		if !waitState(eng, 30*time.Minute, func(st engine.State) bool {
			return st.Sending != nil && (st.Sending.Done || st.Sending.Err != nil)
		}) {
			return fmt.Errorf("transfer timed out")
		}
		if st := eng.Store().Get(); st.Sending.Err != nil {
			return st.Sending.Err
		}
		bar.Finish()
		fmt.Println()
		log.Infof("Sent %s to %s", path, target)
		return eng.Leave(ctx)
	},
}

func init() {
	sendCmd.Flags().StringVar(&flagPeer, "peer", "", "target peer ID, defaults to the first peer in the room")
}
