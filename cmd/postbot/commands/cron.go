package commands

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"postbot/internal/recurrence"
	"postbot/internal/task/scheduler"
)

// CronCmd converts between recurrence patterns and stored cron strings.
var CronCmd = &cobra.Command{
	Use:   "cron",
	Short: "Convert recurrence patterns and cron strings",
	Long: `Cron strings use five fields with day-of-week 0 = Monday .. 6 = Sunday.

Examples:
  postbot cron encode --type daily --time 08:30
  postbot cron encode --type custom --time 18:00 --days 0,2,4
  postbot cron decode "30 8 * * 1"
  postbot cron next "0 9 * * *" --tz Asia/Yerevan --count 3`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return cmd.Help()
	},
}

var cronEncodeCmd = &cobra.Command{
	Use:   "encode",
	Short: "Print the cron string for a recurrence",
	RunE: func(cmd *cobra.Command, args []string) error {
		typ, _ := cmd.Flags().GetString("type")
		at, _ := cmd.Flags().GetString("time")
		days, _ := cmd.Flags().GetStringSlice("days")

		r := recurrence.Recurrence{Type: recurrence.Type(strings.ToLower(typ)), Time: at, Days: days}
		if !r.Type.Known() {
			fmt.Fprintf(cmd.ErrOrStderr(), "warning: unknown type %q, using daily\n", typ)
		}
		expr, err := recurrence.Encode(r)
		if err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), expr)
		return nil
	},
}

var cronDecodeCmd = &cobra.Command{
	Use:   "decode <expr>",
	Short: "Print the recurrence a cron string describes",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		b, err := json.Marshal(recurrence.Decode(args[0]))
		if err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), string(b))
		return nil
	},
}

var cronNextCmd = &cobra.Command{
	Use:   "next <expr>",
	Short: "Print the next fire times of a cron string",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		tz, _ := cmd.Flags().GetString("tz")
		count, _ := cmd.Flags().GetInt("count")
		loc, err := scheduler.LoadLocation(tz)
		if err != nil {
			return err
		}
		times, err := scheduler.NextRuns(args[0], loc, time.Now(), count)
		if err != nil {
			return err
		}
		for _, t := range times {
			fmt.Fprintln(cmd.OutOrStdout(), t.Format("Mon 2006-01-02 15:04 MST"))
		}
		return nil
	},
}

func init() {
	cronEncodeCmd.Flags().String("type", "daily", "daily, weekly, monthly or custom")
	cronEncodeCmd.Flags().String("time", "12:00", "time of day, HH:MM")
	cronEncodeCmd.Flags().StringSlice("days", nil, "custom days, 0 = Monday .. 6 = Sunday")
	cronNextCmd.Flags().String("tz", "", "IANA timezone (default local)")
	cronNextCmd.Flags().Int("count", 5, "number of fire times to print")

	CronCmd.AddCommand(cronEncodeCmd, cronDecodeCmd, cronNextCmd)
}
