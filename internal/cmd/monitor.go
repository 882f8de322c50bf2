package cmd

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/nikitaKurtin/dbnd/internal/logger"
	"github.com/nikitaKurtin/dbnd/internal/logger/tag"
	"github.com/nikitaKurtin/dbnd/internal/metrics"
	"github.com/nikitaKurtin/dbnd/internal/monitor"
	"github.com/nikitaKurtin/dbnd/internal/tracking"
)

// CmdMonitor returns the command that runs the sync core.
func CmdMonitor() *cobra.Command {
	return &cobra.Command{
		Use:   "monitor [flags]",
		Short: "Start the monitor process",
		Long: `Launch the monitor process that continuously polls the configured Airflow
deployments for dag-run and task-instance changes and forwards deltas to the
tracking backend.

Example:
  dbnd-airflow-monitor monitor --config=/etc/dbnd/monitor.yaml

The active-integration list is refreshed from the tracking backend while the
process runs; integrations can be added and removed without a restart.
`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, err := NewContext(cmd)
			if err != nil {
				return err
			}
			return runMonitor(ctx)
		},
	}
}

func runMonitor(ctx *Context) error {
	cfg := ctx.Config
	if cfg.Tracking.BaseURL == "" {
		return fmt.Errorf("tracking.baseUrl must be configured")
	}

	clientCfg := tracking.ClientConfig{
		BaseURL:  cfg.Tracking.BaseURL,
		APIToken: cfg.Tracking.APIToken,
		Timeout:  cfg.Tracking.Timeout,
	}
	trackingClient := tracking.NewClient(clientCfg)
	managementClient := tracking.NewManagementClient(clientCfg)

	collector := metrics.NewCollector()
	healthServer := metrics.NewServer(cfg.Health.Port, metrics.NewRegistry(collector))
	if err := healthServer.Start(ctx); err != nil {
		return fmt.Errorf("failed to start health server: %w", err)
	}

	runner := monitor.NewRunner(monitor.Options{
		Tracking:           trackingClient,
		Management:         managementClient,
		Collector:          collector,
		TickInterval:       cfg.Runner.TickInterval,
		HeartbeatInterval:  cfg.Runner.HeartbeatInterval,
		RefreshInterval:    cfg.Runner.RefreshInterval,
		StopTimeout:        cfg.Runner.StopTimeout,
		UnhealthyThreshold: cfg.Runner.UnhealthyThreshold,
	})

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		received := <-sig
		logger.Info(ctx, "Received signal, shutting down", tag.Signal(received.String()))
		runner.Stop(ctx)
	}()

	logger.Info(ctx, "Monitor starting", tag.URL(cfg.Tracking.BaseURL))
	runner.Start(ctx)

	if err := healthServer.Stop(ctx); err != nil {
		logger.Error(ctx, "Failed to stop health server", tag.Error(err))
	}
	return nil
}
