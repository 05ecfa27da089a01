package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"postbot/cmd/postbot/commands"
)

var rootCmd = &cobra.Command{
	Use:   "postbot",
	Short: "Scheduled posting for Telegram channels",
	Long: `postbot publishes one-shot and recurring posts to Telegram channels.

Commands:
  serve  - Run the scheduler and the mini app API
  jobs   - Inspect the persisted job table
  cron   - Convert between recurrence patterns and cron strings

Examples:
  postbot serve --config ./config.json
  postbot jobs ls --owner 42
  postbot cron encode --type weekly --time 09:30 --days 0,2,4`,
	SilenceUsage: true,
}

func init() {
	rootCmd.PersistentFlags().StringP("config", "c", "./config.json", "path to config (.json, .yaml)")

	rootCmd.AddCommand(commands.ServeCmd)
	rootCmd.AddCommand(commands.JobsCmd)
	rootCmd.AddCommand(commands.CronCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "fatal:", err)
		os.Exit(1)
	}
}
