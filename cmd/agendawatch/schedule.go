package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"agendawatch/internal/config"
	"agendawatch/internal/task/scheduler"
)

func newScheduleCmd(c *cli) *cobra.Command {
	var count int
	cmd := &cobra.Command{
		Use:   "schedule",
		Short: "Print the next fire times of each job",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.NewManager(c.cfgPath).Load()
			if err != nil {
				return err
			}
			loc, err := scheduler.LoadLocation(cfg.Scheduler.Timezone)
			if err != nil {
				return err
			}
			now := c.now().In(loc)
			out := cmd.OutOrStdout()
			if !cfg.Scheduler.Enabled {
				fmt.Fprintln(out, "scheduler disabled; jobs run only when dispatched")
			}
			for _, j := range cfg.Jobs {
				next, err := scheduler.NextRuns(j.Schedule, now, count)
				if err != nil {
					return fmt.Errorf("job %s: %w", j.Name, err)
				}
				parts := make([]string, 0, len(next))
				for _, t := range next {
					parts = append(parts, t.Format("2006-01-02 15:04 MST"))
				}
				fmt.Fprintf(out, "%s\t%s\t%s\n", j.Name, j.Schedule, strings.Join(parts, ", "))
			}
			return nil
		},
	}
	cmd.Flags().IntVarP(&count, "count", "n", 3, "number of fire times per job")
	return cmd
}
