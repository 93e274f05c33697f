package cli

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"webdrop/internal/config"
	"webdrop/internal/history"
)

var flagLimit int

var historyCmd = &cobra.Command{
	Use:   "history",
	Short: "list past transfers",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg := config.Load()
		store, err := history.Open(cfg.HistoryPath)
		if err != nil {
			return err
		}
		transfers, err := store.List(flagLimit)
		if err != nil {
			return err
		}
		if len(transfers) == 0 {
			fmt.Println("no transfers recorded")
			return nil
		}
		for _, t := range transfers {
			status := "ok"
			if !t.Succeeded {
				status = "failed: " + t.Error
			}
			when := time.Unix(t.CreatedAt, 0).Format("2006-01-02 15:04:05")
			fmt.Printf("%s  %-8s  %-30s  %8d bytes  peer=%s  %s\n",
				when, t.Direction, t.Name, t.Size, t.PeerID, status)
		}
		return nil
	},
}

func init() {
	historyCmd.Flags().IntVar(&flagLimit, "limit", 20, "maximum entries to show, 0 for all")
}
