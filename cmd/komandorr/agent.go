package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/cyb3rgh05t/komandorr/internal/agent"
	"github.com/cyb3rgh05t/komandorr/internal/config"
	"github.com/cyb3rgh05t/komandorr/internal/logger"
)

// agentRunner is satisfied by every agent.Agent instantiation.
type agentRunner interface {
	Once(ctx context.Context) error
	Run(ctx context.Context, interval time.Duration) error
}

func newAgentCmd() *cobra.Command {
	cfg := config.LoadAgent()
	var once bool

	cmd := &cobra.Command{
		Use:   "agent",
		Short: "Collect host figures and push them to a komandorr server",
		Long: `Run a collector agent on a monitored host. Flags override the
KOMANDORR_AGENT_* environment variables.

Examples:
  komandorr agent traffic --server http://komandorr:8080 --service-id plex --interface eth0
  komandorr agent storage --server http://komandorr:8080 --service-id nas --paths /,/mnt/data`,
	}

	pf := cmd.PersistentFlags()
	pf.StringVar(&cfg.ServerURL, "server", cfg.ServerURL, "komandorr server url")
	pf.StringVar(&cfg.ServiceID, "service-id", cfg.ServiceID, "id of the service this host reports for")
	pf.StringVar(&cfg.Token, "token", cfg.Token, "agent bearer token")
	pf.DurationVar(&cfg.Interval, "interval", cfg.Interval, "time between pushes")
	pf.BoolVar(&once, "once", false, "push a single update and exit")

	traffic := &cobra.Command{
		Use:   "traffic",
		Short: "Push network bandwidth and totals",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runAgent(cmd.Context(), cfg, once, func(p *agent.Pusher, log logger.Logger) agentRunner {
				return agent.NewTrafficAgent(agent.NewTrafficCollector(cfg.ServiceID, cfg.Interface), p, log)
			})
		},
	}
	traffic.Flags().StringVar(&cfg.Interface, "interface", cfg.Interface, "network interface to count (default: all)")

	storage := &cobra.Command{
		Use:   "storage",
		Short: "Push disk usage, RAID health and block devices",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runAgent(cmd.Context(), cfg, once, func(p *agent.Pusher, log logger.Logger) agentRunner {
				return agent.NewStorageAgent(agent.NewStorageCollector(cfg.ServiceID, cfg.StoragePaths, cfg.MdstatPath, log), p, log)
			})
		},
	}
	storage.Flags().StringSliceVar(&cfg.StoragePaths, "paths", cfg.StoragePaths, "mount points to report (default: all partitions)")
	storage.Flags().StringVar(&cfg.MdstatPath, "mdstat", cfg.MdstatPath, "mdstat file to read, empty to skip RAID")

	cmd.AddCommand(traffic, storage)
	return cmd
}

func runAgent(parent context.Context, cfg *config.AgentConfig, once bool, build func(*agent.Pusher, logger.Logger) agentRunner) error {
	if err := cfg.Validate(); err != nil {
		return err
	}
	if parent == nil {
		parent = context.Background()
	}
	log := logger.New(cfg.LogLevel, cfg.PrettyLog)
	defer func() { _ = log.Sync() }()

	a := build(agent.NewPusher(cfg.ServerURL, cfg.Token), log)
	if once {
		return a.Once(parent)
	}

	ctx, stop := signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
	defer stop()
	return a.Run(ctx, cfg.Interval)
}
