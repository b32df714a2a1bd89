// Command director is the fleetd control-plane binary: it contests
// leadership and, while leading, runs the monitor-and-dispatch loop that
// scales worker hosts across the configured cloud providers.
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/cuemby/fleetd/internal/config"
	"github.com/cuemby/fleetd/internal/coordination"
	"github.com/cuemby/fleetd/internal/director"
	"github.com/cuemby/fleetd/internal/fleet"
	"github.com/cuemby/fleetd/internal/nodemanager"
	"github.com/cuemby/fleetd/internal/obslog"
	"github.com/cuemby/fleetd/internal/obsmetrics"
	"github.com/cuemby/fleetd/internal/policy"
	"github.com/cuemby/fleetd/internal/provider"
	"github.com/cuemby/fleetd/internal/provider/aws"
	"github.com/cuemby/fleetd/internal/provider/azure"
	"github.com/cuemby/fleetd/internal/provider/gcp"
	"github.com/cuemby/fleetd/internal/provider/nebius"
	"github.com/cuemby/fleetd/internal/provider/paperspace"
	"github.com/cuemby/fleetd/internal/registry"
	"github.com/cuemby/fleetd/internal/telemetry"
	"github.com/cuemby/fleetd/internal/telemetry/rpc"
	"github.com/spf13/cobra"
)

var (
	Version   = "dev"
	Commit    = "unknown"
	BuildTime = "unknown"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "director",
	Short: "fleetd - multi-cloud node-fleet controller",
	Long: `director is the control-plane binary for fleetd, a multi-cloud
node-fleet controller: it watches worker host telemetry, decides when to
scale workloads up or down, and dispatches the result to the right cloud
provider.`,
	Version: Version,
}

func init() {
	rootCmd.SetVersionTemplate(fmt.Sprintf(
		"director version %s\nCommit: %s\nBuilt: %s\n",
		Version, Commit, BuildTime,
	))

	rootCmd.PersistentFlags().String("log-level", "info", "Log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().Bool("log-json", false, "Output logs in JSON format")
	rootCmd.PersistentFlags().String("config", "", "Path to fleetd.yaml (defaults apply if omitted)")

	cobra.OnInitialize(initLogging)

	rootCmd.AddCommand(startCmd)
	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(configCmd)
}

func initLogging() {
	logLevel, _ := rootCmd.PersistentFlags().GetString("log-level")
	logJSON, _ := rootCmd.PersistentFlags().GetBool("log-json")

	obslog.Init(obslog.Config{
		Level:      obslog.Level(logLevel),
		JSONOutput: logJSON,
	})
}

var startCmd = &cobra.Command{
	Use:   "start",
	Short: "Start the director: contest leadership and run the monitor loop while leading",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfgPath, _ := cmd.Flags().GetString("config")
		cfg, err := config.Load(cfgPath)
		if err != nil {
			return fmt.Errorf("load config: %w", err)
		}

		selfAddress := os.Getenv("FLEETD_SELF_ADDRESS")
		if selfAddress == "" {
			return fmt.Errorf("FLEETD_SELF_ADDRESS must be set")
		}

		reg := registry.New(cfg.Registry.ShardCount, obslog.WithComponent("registry"))

		coord, err := coordination.New(coordination.Config{
			Endpoints:      cfg.Coordination.Endpoints,
			LeaderPath:     cfg.Leader.Path,
			SessionTimeout: 2 * time.Second,
			SelfAddress:    selfAddress,
		})
		if err != nil {
			return fmt.Errorf("connect coordination service: %w", err)
		}
		defer coord.Close()

		peers := strings.Split(os.Getenv("FLEETD_PEER_ADDRESSES"), ",")
		telemetryClient := telemetry.Client(&rpc.Fanout{Peers: nonEmpty(peers)})

		providers, err := buildProviderRegistry(cmd.Context())
		if err != nil {
			return fmt.Errorf("build provider adapters: %w", err)
		}
		if len(providers) == 0 {
			obslog.Logger.Warn().Msg("no provider credentials found in environment; scale-up/down dispatch will fail until one is configured")
		}

		pol := policy.New(cfg.Thresholds)

		nm := nodemanager.New(nodemanager.Config{
			MonitorInterval: time.Duration(cfg.Monitor.Interval),
			ProviderTimeout: time.Duration(cfg.Provider.Timeout),
		}, reg, telemetryClient, pol, providers, nil)

		dir := director.New(director.Config{
			SelfAddress: selfAddress,
			DataDir:     cfg.Registry.DataDir,
		}, coord, nm, reg)

		metricsAddr := os.Getenv("FLEETD_METRICS_ADDRESS")
		if metricsAddr == "" {
			metricsAddr = ":9090"
		}
		metricsSrv := &http.Server{Addr: metricsAddr, Handler: obsmetrics.Handler()}
		go func() {
			if err := metricsSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				obslog.Logger.Error().Err(err).Msg("metrics server stopped unexpectedly")
			}
		}()
		defer metricsSrv.Close()

		ctx, cancel := context.WithCancel(context.Background())
		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
		go func() {
			<-sigCh
			fmt.Println("\nShutting down...")
			cancel()
		}()

		fmt.Printf("director starting (self=%s, leader path=%s)\n", selfAddress, cfg.Leader.Path)
		if err := dir.Run(ctx); err != nil {
			return fmt.Errorf("director run: %w", err)
		}
		fmt.Println("✓ shutdown complete")
		return nil
	},
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Explain where a running director reports its leadership state",
	RunE: func(cmd *cobra.Command, args []string) error {
		fmt.Println("status: use the metrics endpoint (fleetd_coordination_is_leader) for a running process's leadership state")
		return nil
	},
}

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Configuration utilities",
}

var configValidateCmd = &cobra.Command{
	Use:   "validate [path]",
	Short: "Parse and validate a fleetd.yaml file, reporting the effective configuration",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		path := ""
		if len(args) == 1 {
			path = args[0]
		}
		cfg, err := config.Load(path)
		if err != nil {
			return fmt.Errorf("invalid configuration: %w", err)
		}
		fmt.Printf("monitor.interval = %s\n", time.Duration(cfg.Monitor.Interval))
		fmt.Printf("telemetry.timeout = %s\n", time.Duration(cfg.Telemetry.Timeout))
		fmt.Printf("provider.timeout = %s\n", time.Duration(cfg.Provider.Timeout))
		fmt.Printf("leader.path = %s\n", cfg.Leader.Path)
		fmt.Printf("coordination.endpoints = %v\n", cfg.Coordination.Endpoints)
		fmt.Printf("registry.shardCount = %d\n", cfg.Registry.ShardCount)
		fmt.Println("configuration OK")
		return nil
	},
}

func init() {
	configCmd.AddCommand(configValidateCmd)
}

// buildProviderRegistry wires one ProviderAdapter per cloud whose
// credentials are present in the environment. A provider absent from the
// environment is simply omitted: the core does not mandate that every
// provider be configured, only that scale-up against an unconfigured
// provider fails with a clear error ("no adapter registered for provider").
func buildProviderRegistry(ctx context.Context) (provider.Registry, error) {
	reg := provider.Registry{}

	if hasAWSCredentials() {
		client, err := aws.New(ctx)
		if err != nil {
			return nil, fmt.Errorf("aws: %w", err)
		}
		reg[fleet.ProviderAWS] = client
	}

	if project, zone := os.Getenv("GCP_PROJECT"), os.Getenv("GCP_ZONE"); project != "" && zone != "" {
		client, err := gcp.New(ctx, project, zone)
		if err != nil {
			return nil, fmt.Errorf("gcp: %w", err)
		}
		reg[fleet.ProviderGCP] = client
	}

	if sub, rg, loc := os.Getenv("AZURE_SUBSCRIPTION_ID"), os.Getenv("AZURE_RESOURCE_GROUP"), os.Getenv("AZURE_LOCATION"); sub != "" && rg != "" {
		client, err := azure.New(sub, rg, loc)
		if err != nil {
			return nil, fmt.Errorf("azure: %w", err)
		}
		reg[fleet.ProviderAzure] = client
	}

	if token := os.Getenv("PAPERSPACE_API_KEY"); token != "" {
		reg[fleet.ProviderPaperspace] = paperspace.New(token)
	}

	if token, folder := os.Getenv("NEBIUS_TOKEN"), os.Getenv("NEBIUS_FOLDER_ID"); token != "" && folder != "" {
		reg[fleet.ProviderNebius] = nebius.New(token, folder)
	}

	return reg, nil
}

func hasAWSCredentials() bool {
	if os.Getenv("AWS_ACCESS_KEY_ID") != "" || os.Getenv("AWS_PROFILE") != "" {
		return true
	}
	if _, err := os.Stat(os.ExpandEnv("$HOME/.aws/credentials")); err == nil {
		return true
	}
	return false
}

func nonEmpty(ss []string) []string {
	out := ss[:0]
	for _, s := range ss {
		if s != "" {
			out = append(out, s)
		}
	}
	return out
}
