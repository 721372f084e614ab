package main

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"agendawatch/internal/app"
	"agendawatch/internal/job"
)

func newRunCmd(c *cli) *cobra.Command {
	return &cobra.Command{
		Use:   "run [job]",
		Short: "Run a job once in the foreground",
		Long: "Run a job once in the foreground with the manual trigger.\n" +
			"Without an argument the first configured job runs. The exit code is 1\n" +
			"when any step fails.",
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := app.NewApp(c.cfgPath, app.WithLookup(c.lookup))
			if err != nil {
				return err
			}
			defer a.Close()

			name := ""
			if len(args) == 1 {
				name = args[0]
			} else if jobs := a.Runner().Jobs(); len(jobs) > 0 {
				name = jobs[0].Name
			}

			ctx, cancel := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer cancel()
			res, err := a.RunJob(ctx, name)
			if res.ID != "" {
				printResult(cmd, res)
			}
			return err
		},
	}
}

func printResult(cmd *cobra.Command, res job.Result) {
	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "%s %s (%s) %s in %s\n", res.Job, res.ID, res.Trigger, res.Status, res.Duration().Round(time.Millisecond))
	for _, st := range res.Steps {
		line := fmt.Sprintf("  %-10s %-20s %s", st.Status, st.Name, st.Duration.Round(time.Millisecond))
		if st.Err != nil {
			line += "  " + st.Err.Error()
		}
		fmt.Fprintln(out, line)
	}
}
