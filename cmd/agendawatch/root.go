package main

import (
	"os"
	"time"

	"github.com/spf13/cobra"

	"agendawatch/internal/env"
)

const defaultConfigPath = "./agendawatch.yaml"

// version is set with -ldflags "-X main.version=...".
var version = "dev"

type cli struct {
	cfgPath string
	lookup  env.LookupFunc
	now     func() time.Time
}

func newCLI() *cli {
	return &cli{lookup: os.LookupEnv, now: time.Now}
}

func newRootCmd(c *cli) *cobra.Command {
	root := &cobra.Command{
		Use:   "agendawatch",
		Short: "Scheduled Notion calendar conflict checks",
		Long: "agendawatch runs the Notion calendar checks on a schedule: the database\n" +
			"inventory, the editorial absence check and the meeting-room check.",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVarP(&c.cfgPath, "config", "c", defaultConfigPath, "path to the YAML or JSON config file")

	root.AddCommand(
		newServeCmd(c),
		newRunCmd(c),
		newCheckEnvCmd(c),
		newHistoryCmd(c),
		newScheduleCmd(c),
		&cobra.Command{
			Use:   "version",
			Short: "Print the version",
			Run: func(cmd *cobra.Command, args []string) {
				cmd.Println(version)
			},
		},
	)
	return root
}
