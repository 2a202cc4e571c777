package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/cuemby/ydb-harness/pkg/remote"
	"github.com/cuemby/ydb-harness/pkg/types"
	"github.com/spf13/cobra"
)

var remoteCmd = &cobra.Command{
	Use:   "remote",
	Short: "Manage nodes running as services on remote hosts",
	Long: `Manage a fleet of hosts that run the server through the system
service manager. Commands reach every host over SSH and use sudo.`,
}

var remotePrepareCmd = &cobra.Command{
	Use:   "prepare",
	Short: "Copy binaries and generate configs on every host",
	RunE: func(cmd *cobra.Command, args []string) error {
		configure, _ := cmd.Flags().GetString("configure-binary")
		drivers, _ := cmd.Flags().GetStringSlice("driver")
		clusterYAML, _ := cmd.Flags().GetString("cluster-yaml")
		if len(drivers) > 2 {
			return fmt.Errorf("at most two driver binaries can be staged, got %d", len(drivers))
		}

		artifacts := remote.Artifacts{
			ConfigureBinary: configure,
			ClusterYAML:     clusterYAML,
		}
		copy(artifacts.Drivers[:], drivers)

		return withFleet(cmd, "Preparing", func(ctx context.Context, fleet *remote.Fleet) error {
			return fleet.PrepareAll(ctx, artifacts)
		})
	},
}

var remoteSwitchCmd = &cobra.Command{
	Use:   "switch",
	Short: "Point the service binary at the other staged version",
	RunE: func(cmd *cobra.Command, args []string) error {
		return withFleet(cmd, "Switching version on", func(ctx context.Context, fleet *remote.Fleet) error {
			return fleet.SwitchAll(ctx)
		})
	},
}

var remoteCleanupCmd = &cobra.Command{
	Use:   "cleanup",
	Short: "Wipe the data disks of every host",
	RunE: func(cmd *cobra.Command, args []string) error {
		return withFleet(cmd, "Cleaning disks on", func(ctx context.Context, fleet *remote.Fleet) error {
			return fleet.CleanupAll(ctx)
		})
	},
}

var remoteStartCmd = &cobra.Command{
	Use:   "start",
	Short: "Start static nodes, then slots",
	RunE: func(cmd *cobra.Command, args []string) error {
		return withFleet(cmd, "Starting", func(ctx context.Context, fleet *remote.Fleet) error {
			return fleet.StartAll(ctx)
		})
	},
}

var remoteStopCmd = &cobra.Command{
	Use:   "stop",
	Short: "Stop slots, then static nodes",
	RunE: func(cmd *cobra.Command, args []string) error {
		return withFleet(cmd, "Stopping", func(ctx context.Context, fleet *remote.Fleet) error {
			return fleet.StopAll(ctx)
		})
	},
}

func init() {
	remoteCmd.PersistentFlags().StringSlice("hosts", nil, "Hosts of the fleet (required)")
	remoteCmd.PersistentFlags().String("ssh-user", "", "SSH user (default: $USER)")
	remoteCmd.PersistentFlags().Int("ssh-port", 22, "SSH port")
	remoteCmd.PersistentFlags().String("ssh-key", "", "Private key file used for authentication")
	remoteCmd.PersistentFlags().String("known-hosts", "", "Known hosts file; host keys are not verified when empty")
	remoteCmd.PersistentFlags().Int("parallelism", remote.DefaultParallelism, "Hosts handled concurrently")
	remoteCmd.PersistentFlags().StringSlice("slot", nil, "Slot run on every host as grpc:mon:ic:mbus ports (repeatable)")
	remoteCmd.PersistentFlags().Duration("timeout", 30*time.Minute, "Overall command timeout")
	_ = remoteCmd.MarkPersistentFlagRequired("hosts")

	remotePrepareCmd.Flags().String("configure-binary", "", "Config generator binary (required)")
	remotePrepareCmd.Flags().StringSlice("driver", nil, "Server binaries staged as the last and next versions")
	remotePrepareCmd.Flags().String("cluster-yaml", "", "Cluster description passed to the config generator (required)")
	_ = remotePrepareCmd.MarkFlagRequired("configure-binary")
	_ = remotePrepareCmd.MarkFlagRequired("cluster-yaml")

	remoteCmd.AddCommand(remotePrepareCmd)
	remoteCmd.AddCommand(remoteSwitchCmd)
	remoteCmd.AddCommand(remoteCleanupCmd)
	remoteCmd.AddCommand(remoteStartCmd)
	remoteCmd.AddCommand(remoteStopCmd)
}

// withFleet dials nothing up front; executors connect on first command and
// are closed when fn returns
func withFleet(cmd *cobra.Command, action string, fn func(context.Context, *remote.Fleet) error) error {
	initLogging(cmd, nil)

	hosts, _ := cmd.Flags().GetStringSlice("hosts")
	user, _ := cmd.Flags().GetString("ssh-user")
	port, _ := cmd.Flags().GetInt("ssh-port")
	keyFile, _ := cmd.Flags().GetString("ssh-key")
	knownHosts, _ := cmd.Flags().GetString("known-hosts")
	parallelism, _ := cmd.Flags().GetInt("parallelism")
	slotSpecs, _ := cmd.Flags().GetStringSlice("slot")
	timeout, _ := cmd.Flags().GetDuration("timeout")

	sshConfig := remote.SSHConfig{
		User:           user,
		Port:           port,
		KeyFile:        keyFile,
		KnownHostsFile: knownHosts,
	}

	slots := make([]remote.Options, 0, len(slotSpecs))
	for _, spec := range slotSpecs {
		opts, err := parseSlot(spec)
		if err != nil {
			return err
		}
		slots = append(slots, opts)
	}

	var nodes []*remote.RemoteNode
	var executors []*remote.SSHExecutor
	defer func() {
		for _, exec := range executors {
			exec.Close()
		}
	}()

	for i, host := range hosts {
		exec, err := remote.NewSSHExecutor(host, sshConfig)
		if err != nil {
			return fmt.Errorf("failed to set up SSH for %s: %w", host, err)
		}
		executors = append(executors, exec)

		nodes = append(nodes, remote.NewRemoteNode(exec, remote.Options{
			Index: i + 1,
			Host:  host,
		}))
		for j, slot := range slots {
			slot.Index = i*len(slots) + j + 1
			slot.Host = host
			nodes = append(nodes, remote.NewRemoteNode(exec, slot))
		}
	}

	fleet := remote.NewFleet(nodes...)
	fleet.SetParallelism(parallelism)

	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	fmt.Printf("%s %d hosts...\n", action, len(hosts))
	if err := fn(ctx, fleet); err != nil {
		return err
	}
	fmt.Println("✓ Done")
	return nil
}

func parseSlot(spec string) (remote.Options, error) {
	parts := strings.Split(spec, ":")
	if len(parts) != 4 {
		return remote.Options{}, fmt.Errorf("invalid slot %q: expected grpc:mon:ic:mbus", spec)
	}
	values := make([]int, len(parts))
	for i, part := range parts {
		v, err := strconv.Atoi(part)
		if err != nil || v <= 0 || v > 65535 {
			return remote.Options{}, fmt.Errorf("invalid slot %q: bad port %q", spec, part)
		}
		values[i] = v
	}
	return remote.Options{
		Slot: true,
		Ports: types.Ports{
			GRPC: values[0],
			Mon:  values[1],
			IC:   values[2],
		},
		MbusPort: values[3],
	}, nil
}
