package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"github.com/zulandar/jobscout/internal/api"
	"github.com/zulandar/jobscout/internal/batch"
	"github.com/zulandar/jobscout/internal/config"
)

// housekeepingInterval is how often expired cache entries and stale
// approvals are swept.
const housekeepingInterval = time.Minute

func newServeCmd() *cobra.Command {
	var (
		configPath string
		port       int
	)

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the chat API server",
		Long: `Starts the HTTP API with streaming chat endpoints.

When batch.enabled is set, the batch scheduler runs in the same process and
searches for every owner with a profile on the configured cron schedule.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd, configPath, port)
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", config.DefaultPath, "path to Jobscout config file")
	cmd.Flags().IntVarP(&port, "port", "p", 0, "port to listen on (overrides server.port)")
	return cmd
}

func runServe(cmd *cobra.Command, configPath string, port int) error {
	a, err := newApp(configPath)
	if err != nil {
		return err
	}
	if port <= 0 {
		port = a.cfg.Server.Port
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		fmt.Fprintf(cmd.OutOrStdout(), "\nReceived %s, shutting down...\n", sig)
		cancel()
	}()

	go a.housekeeping(ctx, housekeepingInterval)

	if a.cfg.Batch.Enabled {
		runner, err := a.requireRunner()
		if err != nil {
			return err
		}
		sched, err := batch.NewScheduler(runner, a.cfg.Batch.Cron)
		if err != nil {
			return err
		}
		go sched.Run(ctx)
		fmt.Fprintf(cmd.OutOrStdout(), "Batch search scheduled (%s)\n", a.cfg.Batch.Cron)
	}

	err = api.Start(ctx, api.StartOpts{
		Opts: api.Opts{
			Engine:          a.engine,
			Runner:          a.runner,
			ChatPerMinute:   a.cfg.Server.ChatPerMinute,
			UploadPerMinute: a.cfg.Server.UploadPerMinute,
			MaxUploadBytes:  a.cfg.Server.MaxUploadBytes,
		},
		Port: port,
		Out:  cmd.OutOrStdout(),
	})
	// Runs in flight finish before the process exits.
	a.engine.Wait()
	return err
}

// housekeeping sweeps expired cache entries and stale approvals until ctx
// is cancelled.
func (a *app) housekeeping(ctx context.Context, every time.Duration) {
	ticker := time.NewTicker(every)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if n := a.engine.Cache().Sweep(); n > 0 {
				log.Printf("scout: swept %d expired contexts", n)
			}
			n, err := a.broker.ExpireStale(ctx)
			if err != nil {
				log.Printf("scout: expire approvals: %v", err)
			} else if n > 0 {
				log.Printf("scout: expired %d stale approvals", n)
			}
		}
	}
}
