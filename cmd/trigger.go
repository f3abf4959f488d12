package cmd

import (
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"

	"estate-harvester/services"
)

func newTriggerCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "trigger",
		Short: "Inspect and fire the configured triggers",
	}
	cmd.AddCommand(newTriggerListCommand())
	cmd.AddCommand(newTriggerRunCommand())
	return cmd
}

func newTriggerListCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List triggers and their next firing time",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, logger, err := loadConfig()
			if err != nil {
				return err
			}
			sched, err := services.NewScheduler(nil, cfg.Triggers, logger)
			if err != nil {
				return err
			}

			t := table.NewWriter()
			t.SetOutputMirror(cmd.OutOrStdout())
			t.SetStyle(table.StyleLight)
			t.AppendHeader(table.Row{"Name", "Schedule", "Sources", "Full rescan", "Next run"})
			for _, info := range sched.Triggers() {
				t.AppendRow(table.Row{
					info.Name, info.Schedule, strings.Join(info.Sources, ","), info.FullRescan,
					info.NextRun.Local().Format("2006-01-02 15:04:05"),
				})
			}
			t.Render()
			return nil
		},
	}
}

func newTriggerRunCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "run NAME",
		Short: "Fire a trigger now and wait for its job",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			a, err := newApp(ctx, false)
			if err != nil {
				return err
			}
			defer a.Close()

			sched, err := services.NewScheduler(a.orch, a.cfg.Triggers, a.logger)
			if err != nil {
				return err
			}
			id, err := sched.TriggerNow(ctx, args[0])
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Started job %s\n", id)

			snap, err := waitForJob(ctx, a.orch, id, a.logger)
			if err != nil {
				return err
			}
			printJob(cmd.OutOrStdout(), snap)
			return nil
		},
	}
}
