package main

import (
	"errors"
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"agendawatch/internal/app"
)

func newHistoryCmd(c *cli) *cobra.Command {
	var (
		limit   int
		jobName string
	)
	cmd := &cobra.Command{
		Use:   "history",
		Short: "Print recent run records, newest first",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := app.NewApp(c.cfgPath, app.WithLookup(c.lookup))
			if err != nil {
				return err
			}
			defer a.Close()
			if a.Store() == nil {
				return errors.New("storage is disabled; set storage.driver to file or sqlite")
			}
			runs, err := a.Store().RecentRuns(cmd.Context(), jobName, limit)
			if err != nil {
				return err
			}

			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "STARTED\tJOB\tTRIGGER\tSTATUS\tTOOK\tFAILED STEP\tERROR")
			for _, r := range runs {
				fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%s\t%s\n",
					r.Started.Local().Format(time.DateTime),
					r.Job,
					r.Trigger,
					r.Status,
					r.Duration().Round(time.Millisecond),
					dash(r.FailedStep),
					dash(r.Error),
				)
			}
			return tw.Flush()
		},
	}
	cmd.Flags().IntVarP(&limit, "limit", "n", 20, "number of records")
	cmd.Flags().StringVar(&jobName, "job", "", "only this job")
	return cmd
}

func dash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}
