package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"sort"
	"syscall"
	"time"

	"github.com/cuemby/ydb-harness/pkg/cluster"
	"github.com/cuemby/ydb-harness/pkg/config"
	"github.com/cuemby/ydb-harness/pkg/log"
	"github.com/cuemby/ydb-harness/pkg/metrics"
	"github.com/cuemby/ydb-harness/pkg/node"
	"github.com/cuemby/ydb-harness/pkg/ports"
	"github.com/spf13/cobra"
)

var (
	// Version information (set via ldflags during build)
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
	Use:   "ydb-harness",
	Short: "Ephemeral YDB test clusters",
	Long: `ydb-harness brings up a throwaway multi-node YDB cluster on the local
host, registers its storage topology and tears everything down again.

It can also stage binaries and configs on remote hosts that run the
server as a system service.`,
	Version: Version,
}

func init() {
	rootCmd.SetVersionTemplate(fmt.Sprintf(
		"ydb-harness version %s\nCommit: %s\nBuilt: %s\n",
		Version, Commit, BuildTime,
	))

	rootCmd.PersistentFlags().String("log-level", "", "Log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().Bool("log-json", false, "Emit logs as JSON")

	rootCmd.AddCommand(upCmd)
	rootCmd.AddCommand(configCmd)
	rootCmd.AddCommand(remoteCmd)
	rootCmd.AddCommand(versionCmd)

	upCmd.Flags().StringP("file", "f", "", "Cluster configuration file")
	upCmd.Flags().Int("slots", 0, "Dynamic nodes to start after bring-up")
	upCmd.Flags().String("tenant", "", "Tenant served by the dynamic nodes")
	upCmd.Flags().String("metrics-addr", "", "Serve Prometheus metrics and health checks on this address")
	upCmd.Flags().Duration("timeout", 10*time.Minute, "Bring-up timeout")

	configCmd.AddCommand(configRenderCmd)
	configRenderCmd.Flags().StringP("file", "f", "", "Cluster configuration file")
	configRenderCmd.Flags().StringP("output", "o", ".", "Directory the node config is written to")
}

func initLogging(cmd *cobra.Command, cfg *config.ClusterConfig) {
	level, _ := cmd.Flags().GetString("log-level")
	jsonOutput, _ := cmd.Flags().GetBool("log-json")
	if level == "" && cfg != nil {
		level = cfg.LogLevel
	}
	log.Init(log.Config{
		Level:      log.Level(level),
		JSONOutput: jsonOutput,
	})
}

func loadConfig(cmd *cobra.Command) (*config.ClusterConfig, error) {
	file, _ := cmd.Flags().GetString("file")
	if file == "" {
		return config.DefaultClusterConfig(), nil
	}
	return config.Load(file)
}

var upCmd = &cobra.Command{
	Use:   "up",
	Short: "Start a local cluster and keep it running until interrupted",
	Long: `Start a local cluster from a configuration file (or the defaults),
print the endpoints of every node and wait for SIGINT or SIGTERM.
The cluster is torn down on exit and all leased ports are released.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig(cmd)
		if err != nil {
			return err
		}
		initLogging(cmd, cfg)

		slots, _ := cmd.Flags().GetInt("slots")
		tenant, _ := cmd.Flags().GetString("tenant")
		metricsAddr, _ := cmd.Flags().GetString("metrics-addr")
		timeout, _ := cmd.Flags().GetDuration("timeout")

		fmt.Println("Starting cluster...")
		fmt.Printf("  Name: %s\n", cfg.ClusterName)
		fmt.Printf("  Binary: %s\n", cfg.BinaryPath)
		fmt.Printf("  Nodes: %d\n", cfg.NodeCount)
		fmt.Println()

		c, err := cluster.New(cfg)
		if err != nil {
			return fmt.Errorf("failed to create cluster: %w", err)
		}

		metrics.SetVersion(Version)
		collector := metrics.NewCollector(c, 15*time.Second)
		collector.Start()
		defer collector.Stop()

		var server *http.Server
		if metricsAddr != "" {
			server = serveMetrics(metricsAddr)
		}
		defer shutdownServer(server)

		// Interrupts during bring-up cancel it; Start cleans up on failure
		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		if err := bringUp(ctx, c, timeout, slots, tenant); err != nil {
			return err
		}
		collector.Collect()

		fmt.Println()
		printMembers("Nodes", c.Nodes())
		printMembers("Slots", c.Slots())
		fmt.Printf("Config: %s\n", c.ConfigPath())
		fmt.Println()
		fmt.Println("Press Ctrl+C to stop")

		<-ctx.Done()

		fmt.Println("\nShutting down...")
		if err := stopCluster(c); err != nil {
			return err
		}
		fmt.Println("✓ Shutdown complete")
		return nil
	},
}

// bringUp starts the cluster and its slots. Every failure leaves the cluster
// stopped.
func bringUp(ctx context.Context, c *cluster.Cluster, timeout time.Duration, slots int, tenant string) error {
	startCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	if err := c.Start(startCtx); err != nil {
		return fmt.Errorf("failed to start cluster: %w", err)
	}
	fmt.Println("✓ Cluster started")

	if slots > 0 {
		if _, err := c.RegisterAndStartSlots(startCtx, cluster.SlotOptions{Tenant: tenant}, slots); err != nil {
			fmt.Fprintf(os.Stderr, "Failed to start slots: %v\n", err)
			stopCluster(c)
			return err
		}
		fmt.Printf("✓ %d slots started\n", slots)
	}
	return nil
}

func stopCluster(c *cluster.Cluster) error {
	if err := c.Stop(context.Background()); err != nil {
		fmt.Fprintf(os.Stderr, "Teardown finished with errors: %v\n", err)
		return err
	}
	return nil
}

func serveMetrics(addr string) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", metrics.Handler())
	mux.HandleFunc("/health", metrics.HealthHandler())
	mux.HandleFunc("/ready", metrics.ReadyHandler())
	mux.HandleFunc("/live", metrics.LivenessHandler())

	server := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			fmt.Fprintf(os.Stderr, "Metrics server error: %v\n", err)
		}
	}()
	fmt.Printf("✓ Metrics available at http://%s/metrics\n", addr)
	return server
}

func shutdownServer(server *http.Server) {
	if server == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_ = server.Shutdown(ctx)
}

func printMembers(title string, members map[int]node.Node) {
	if len(members) == 0 {
		return
	}
	indexes := make([]int, 0, len(members))
	for index := range members {
		indexes = append(indexes, index)
	}
	sort.Ints(indexes)

	fmt.Printf("%s:\n", title)
	fmt.Printf("  %-8s %-20s %-8s %-8s %-8s %-8s\n", "INDEX", "HOST", "GRPC", "MON", "IC", "GRPCSSL")
	for _, index := range indexes {
		n := members[index]
		p := n.Ports()
		fmt.Printf("  %-8d %-20s %-8d %-8d %-8d %-8d\n", index, n.Host(), p.GRPC, p.Mon, p.IC, p.GRPCSSL)
	}
	fmt.Println()
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("ydb-harness version %s\nCommit: %s\nBuilt: %s\n", Version, Commit, BuildTime)
	},
}

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Inspect cluster configuration",
}

var configRenderCmd = &cobra.Command{
	Use:   "render",
	Short: "Write the node configuration without starting anything",
	Long: `Render the node configuration of a cluster file into a directory.
Ports are leased for the duration of the command only, so the written
file is meant for inspection rather than for running nodes.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig(cmd)
		if err != nil {
			return err
		}
		initLogging(cmd, cfg)
		output, _ := cmd.Flags().GetString("output")

		allocator := ports.NewLeaseAllocator(cfg.ClusterName, ports.ProcessLeaseStore(), ports.WithSQS(cfg.SQSServiceEnabled))
		defer allocator.ReleasePorts()

		path, err := cfg.WriteConfigs(output, allocator.NodePorts)
		if err != nil {
			return err
		}
		fmt.Printf("✓ Config written to %s\n", path)
		return nil
	},
}
