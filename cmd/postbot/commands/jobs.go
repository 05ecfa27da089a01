package commands

import (
	"context"
	"fmt"
	"io"
	"sort"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"postbot/internal/app"
	"postbot/internal/config"
	"postbot/internal/jobs"
	"postbot/internal/recurrence"
	"postbot/internal/storage"
	logx "postbot/pkg/logx"
)

// JobsCmd inspects the persisted job table without starting the bot.
var JobsCmd = &cobra.Command{
	Use:   "jobs",
	Short: "Inspect the persisted job table",
	Long: `Read-only views of the job table and the delivery log.

Examples:
  postbot jobs ls                 # every owner
  postbot jobs ls --owner 42      # one owner
  postbot jobs deliveries --limit 20`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return cmd.Help()
	},
}

var jobsLsCmd = &cobra.Command{
	Use:   "ls",
	Short: "List one-shot and recurring jobs",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfgPath, _ := cmd.Flags().GetString("config")
		owner, _ := cmd.Flags().GetString("owner")
		return withStore(cfgPath, func(st storage.Store, loc *time.Location) error {
			tab, err := st.Load(context.Background())
			if err != nil {
				return err
			}
			return printJobs(cmd.OutOrStdout(), tab, strings.TrimSpace(owner), loc, time.Now())
		})
	},
}

var jobsDeliveriesCmd = &cobra.Command{
	Use:   "deliveries",
	Short: "Show the most recent delivery attempts",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfgPath, _ := cmd.Flags().GetString("config")
		limit, _ := cmd.Flags().GetInt("limit")
		return withStore(cfgPath, func(st storage.Store, _ *time.Location) error {
			ds, err := st.RecentDeliveries(context.Background(), limit)
			if err != nil {
				return err
			}
			return printDeliveries(cmd.OutOrStdout(), ds)
		})
	},
}

func withStore(cfgPath string, fn func(st storage.Store, loc *time.Location) error) error {
	cfg, err := config.NewManager(cfgPath).Load()
	if err != nil {
		return err
	}
	r, err := cfg.Resolve()
	if err != nil {
		return err
	}
	st, _, err := app.OpenStore(cfg, logx.Nop())
	if err != nil {
		return err
	}
	defer st.Close()
	return fn(st, r.Location)
}

func printJobs(w io.Writer, tab jobs.Table, owner string, loc *time.Location, now time.Time) error {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tOWNER\tCHANNEL\tWHEN\tSTATE\tCONTENT")

	once := make([]jobs.OneShot, 0, len(tab.OneShot))
	for _, j := range tab.OneShot {
		if owner == "" || j.OwnerID == owner {
			once = append(once, j)
		}
	}
	sort.Slice(once, func(i, k int) bool { return once[i].FireAt.Before(once[k].FireAt) })
	for _, j := range once {
		state := "pending"
		if !j.FireAt.After(now) {
			state = "missed"
		}
		when := j.FireAt.In(loc).Format("2006-01-02 15:04") + " (" + humanize.RelTime(j.FireAt, now, "ago", "from now") + ")"
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%s\n", j.ID, j.OwnerID, j.Destination, when, state, preview(j.Content))
	}

	rec := make([]jobs.Recurring, 0, len(tab.Recurring))
	for _, j := range tab.Recurring {
		if owner == "" || j.OwnerID == owner {
			rec = append(rec, j)
		}
	}
	sort.Slice(rec, func(i, k int) bool { return rec[i].ID < rec[k].ID })
	for _, j := range rec {
		state := "active"
		if !j.Active {
			state = "paused"
		}
		r := recurrence.Decode(j.Schedule)
		when := fmt.Sprintf("%s %s [%s]", r.Type, r.Time, j.Schedule)
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%s\n", j.ID, j.OwnerID, j.Destination, when, state, preview(j.Content))
	}
	if err := tw.Flush(); err != nil {
		return err
	}

	var total int
	for o, n := range tab.Sent {
		if owner == "" || o == owner {
			total += n
		}
	}
	_, err := fmt.Fprintf(w, "\n%d one-shot, %d recurring, %s posts sent\n", len(once), len(rec), humanize.Comma(int64(total)))
	return err
}

func printDeliveries(w io.Writer, ds []storage.Delivery) error {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "AT\tJOB\tCHANNEL\tATTEMPT\tRESULT\tTOOK")
	for _, d := range ds {
		result := "ok"
		if !d.OK {
			result = "failed: " + preview(d.Error)
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%d\t%s\t%s\n",
			humanize.Time(d.At), d.JobID, d.Destination, d.Attempt, result,
			(time.Duration(d.TookMS) * time.Millisecond).String())
	}
	return tw.Flush()
}

func preview(s string) string {
	s = strings.Join(strings.Fields(s), " ")
	if r := []rune(s); len(r) > 40 {
		return string(r[:39]) + "…"
	}
	return s
}

func init() {
	jobsLsCmd.Flags().String("owner", "", "only jobs of this Telegram user id")
	jobsDeliveriesCmd.Flags().Int("limit", 20, "number of records")

	JobsCmd.AddCommand(jobsLsCmd, jobsDeliveriesCmd)
}
