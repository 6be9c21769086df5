package main

import (
	"context"
	"fmt"
	"io"
	"strconv"
	"text/tabwriter"

	"github.com/spf13/cobra"
	"github.com/zulandar/jobscout/internal/batch"
	"github.com/zulandar/jobscout/internal/config"
	"github.com/zulandar/jobscout/internal/models"
)

func newBatchCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "batch",
		Short: "Run and inspect unattended job searches",
	}

	cmd.AddCommand(newBatchRunCmd())
	cmd.AddCommand(newBatchListCmd())
	cmd.AddCommand(newBatchShowCmd())
	return cmd
}

func newBatchRunCmd() *cobra.Command {
	var configPath, owner string

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Search now for one owner, or for every owner with a profile",
		Long: `Runs Quick-Match searches without asking for approval.

With --owner only that owner is searched; otherwise every owner with a stored
profile is, batch.concurrency at a time. Configured notifiers receive a digest
for each completed run.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runBatch(cmd, configPath, owner)
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", config.DefaultPath, "path to Jobscout config file")
	cmd.Flags().StringVar(&owner, "owner", "", "only search for this owner id")
	return cmd
}

func runBatch(cmd *cobra.Command, configPath, owner string) error {
	a, err := newApp(configPath)
	if err != nil {
		return err
	}
	runner, err := a.requireRunner()
	if err != nil {
		return err
	}
	out := cmd.OutOrStdout()
	ctx := context.Background()

	if owner != "" {
		run, err := runner.RunOwner(ctx, owner, batch.TriggerManual)
		if run != nil {
			printRun(out, run)
		}
		return err
	}

	ok, failed, err := runner.RunAll(ctx, batch.TriggerManual)
	fmt.Fprintf(out, "Batch finished: %d completed, %d failed\n", ok, failed)
	return err
}

func newBatchListCmd() *cobra.Command {
	var (
		configPath string
		owner      string
		limit      int
	)

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List recent search runs",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(configPath)
			if err != nil {
				return err
			}
			runner, err := a.requireRunner()
			if err != nil {
				return err
			}
			runs, err := runner.List(context.Background(), owner, limit)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if len(runs) == 0 {
				fmt.Fprintln(out, "No search runs.")
				return nil
			}
			w := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "ID\tOWNER\tTRIGGER\tSTATUS\tRESULTS\tCREATED")
			for _, r := range runs {
				fmt.Fprintf(w, "%d\t%s\t%s\t%s\t%d\t%s\n", r.ID, r.OwnerID, r.Trigger, r.Status, r.ResultCount,
					r.CreatedAt.Local().Format("2006-01-02 15:04"))
			}
			return w.Flush()
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", config.DefaultPath, "path to Jobscout config file")
	cmd.Flags().StringVar(&owner, "owner", "", "only list runs for this owner id")
	cmd.Flags().IntVarP(&limit, "limit", "n", 20, "maximum runs to list")
	return cmd
}

func newBatchShowCmd() *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:   "show <run-id>",
		Short: "Show a search run and its results",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := strconv.ParseUint(args[0], 10, 64)
			if err != nil {
				return fmt.Errorf("invalid run id %q", args[0])
			}
			a, err := newApp(configPath)
			if err != nil {
				return err
			}
			runner, err := a.requireRunner()
			if err != nil {
				return err
			}
			run, err := runner.Get(context.Background(), uint(id))
			if err != nil {
				return err
			}
			printRun(cmd.OutOrStdout(), run)
			return nil
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", config.DefaultPath, "path to Jobscout config file")
	return cmd
}

// printRun writes a run summary followed by its results, if loaded.
func printRun(out io.Writer, r *models.SearchRun) {
	fmt.Fprintf(out, "Run %d for %s: %s (%s), %d results\n", r.ID, r.OwnerID, r.Status, r.Trigger, r.ResultCount)
	if r.Error != "" {
		fmt.Fprintf(out, "Error: %s\n", r.Error)
	}
	for i, res := range r.Results {
		fmt.Fprintf(out, "%2d. [%d] %s", i+1, res.Score, res.Title)
		if res.Org != "" {
			fmt.Fprintf(out, " at %s", res.Org)
		}
		fmt.Fprintf(out, "\n    %s\n", res.Locator)
	}
}
