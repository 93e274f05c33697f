// Package cli implements the webdrop command line client.
package cli

import (
	"log"
	"os"

	"github.com/spf13/cobra"

	"webdrop/internal/config"
)

var (
	flagServer string
	flagRoom   string
)

var rootCmd = &cobra.Command{
	Use:  `webdrop`,
	Long: `webdrop sends files directly between two machines over WebRTC`,
	Run: func(cmd *cobra.Command, args []string) {
		cmd.Help()
	},
}

func Execute() {
	if err := rootCmd.Execute(); err != nil {
		log.Fatal(err)
		os.Exit(1)
	}
}

func init() {
	cfg := config.Load()
	rootCmd.PersistentFlags().StringVar(&flagServer, "server", cfg.ServerURL, "signaling server URL")
	rootCmd.PersistentFlags().StringVar(&flagRoom, "room", "", "room to join")

	rootCmd.AddCommand(sendCmd)
	rootCmd.AddCommand(recvCmd)
	rootCmd.AddCommand(historyCmd)
}
