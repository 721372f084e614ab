package main

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"agendawatch/internal/config"
	"agendawatch/internal/env"
	"agendawatch/internal/job"
)

var errContract = errors.New("environment contract not satisfied")

func newCheckEnvCmd(c *cli) *cobra.Command {
	return &cobra.Command{
		Use:   "check-env [job]",
		Short: "Verify the environment contract and print the redacted values",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			jobs, err := loadJobs(c.cfgPath)
			if err != nil {
				return err
			}
			if len(args) == 1 {
				jobs, err = selectJob(jobs, args[0])
				if err != nil {
					return err
				}
			}

			out := cmd.OutOrStdout()
			failed := false
			for _, j := range jobs {
				secrets, err := env.Contract{Required: j.Env}.Resolve(c.lookup)
				if err != nil {
					failed = true
					fmt.Fprintf(out, "%s: %v\n", j.Name, err)
					continue
				}
				fmt.Fprintf(out, "%s: ok\n", j.Name)
				for _, line := range secrets.With(c.lookup, env.DBTeam, env.SlackToken).RedactedLines() {
					fmt.Fprintf(out, "  %s\n", line)
				}
			}
			if failed {
				return errContract
			}
			return nil
		},
	}
}

func loadJobs(path string) ([]job.Job, error) {
	cfg, err := config.NewManager(path).Load()
	if err != nil {
		return nil, err
	}
	return job.FromConfig(cfg.Jobs)
}

func selectJob(jobs []job.Job, name string) ([]job.Job, error) {
	for _, j := range jobs {
		if j.Name == name {
			return []job.Job{j}, nil
		}
	}
	return nil, fmt.Errorf("%w: %q", job.ErrUnknownJob, name)
}
