package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/cuemby/raftcore/pkg/log"
	"github.com/cuemby/raftcore/pkg/memlog"
	"github.com/cuemby/raftcore/pkg/raft"
	"github.com/cuemby/raftcore/pkg/raftadmin"
	"github.com/cuemby/raftcore/pkg/raftmetrics"
)

var (
	// Version is set via ldflags during build.
	Version = "dev"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:     "raftd",
	Short:   "raftd runs one server's participation in a Raft consensus group",
	Version: Version,
}

func init() {
	rootCmd.PersistentFlags().String("log-level", "info", "Log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().Bool("log-json", false, "Output logs in JSON format")
	cobra.OnInitialize(initLogging)
	rootCmd.AddCommand(serveCmd)
}

func initLogging() {
	level, _ := rootCmd.PersistentFlags().GetString("log-level")
	jsonOutput, _ := rootCmd.PersistentFlags().GetBool("log-json")
	log.Init(log.Config{Level: log.Level(level), JSONOutput: jsonOutput})
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start this server's Raft event loop, control socket, and health/metrics endpoints",
	RunE:  runServe,
}

func init() {
	serveCmd.Flags().String("cluster-id", "", "Cluster identifier shared by every server in the group (required)")
	serveCmd.Flags().String("server-id", "", "This server's unique id within the cluster (required)")
	serveCmd.Flags().String("local-address", "tcp:127.0.0.1:6643", "Dial address this server accepts peer connections on")
	serveCmd.Flags().String("data-dir", "./data", "Directory holding this server's record log")
	serveCmd.Flags().String("health-addr", "127.0.0.1:9090", "Address for /health, /ready, and /metrics")
	serveCmd.Flags().String("control-socket", "", "Unix socket for the raftctl admin API (default <data-dir>/raftd.sock)")
	serveCmd.Flags().Bool("bootstrap", false, "Create a brand-new single-server cluster rooted here instead of joining one")
	_ = serveCmd.MarkFlagRequired("cluster-id")
	_ = serveCmd.MarkFlagRequired("server-id")
}

func runServe(cmd *cobra.Command, args []string) error {
	clusterID, _ := cmd.Flags().GetString("cluster-id")
	serverID, _ := cmd.Flags().GetString("server-id")
	localAddress, _ := cmd.Flags().GetString("local-address")
	dataDir, _ := cmd.Flags().GetString("data-dir")
	healthAddr, _ := cmd.Flags().GetString("health-addr")
	controlSocket, _ := cmd.Flags().GetString("control-socket")
	bootstrap, _ := cmd.Flags().GetBool("bootstrap")

	if controlSocket == "" {
		controlSocket = filepath.Join(dataDir, "raftd.sock")
	}
	if err := os.MkdirAll(dataDir, 0o755); err != nil {
		return fmt.Errorf("create data dir: %w", err)
	}

	fsm := memlog.New()
	cfg := raft.Config{LocalAddress: localAddress, DataDir: dataDir}

	r, err := openServer(clusterID, serverID, fsm, cfg, bootstrap)
	if err != nil {
		return fmt.Errorf("initialize raft server: %w", err)
	}

	r.OnElection(func() { raftmetrics.ElectionsTotal.Inc() })

	ln, err := r.Listen()
	if err != nil {
		return fmt.Errorf("listen on %s: %w", localAddress, err)
	}
	defer ln.Close()

	ctx, cancel := context.WithCancel(context.Background())
	runErrCh := make(chan error, 1)
	go func() { runErrCh <- r.Run(ctx) }()

	admin := raftadmin.NewServer(r)
	go func() {
		if err := admin.Serve(controlSocket); err != nil {
			log.Logger.Error().Err(err).Msg("admin control socket stopped")
		}
	}()

	health := raftmetrics.NewHealthServer(r)
	go func() {
		if err := health.Start(healthAddr); err != nil {
			log.Logger.Error().Err(err).Msg("health server stopped")
		}
	}()
	go pollMetrics(ctx, r)

	fmt.Printf("raftd serving cluster=%s server=%s local=%s\n", clusterID, serverID, localAddress)
	fmt.Printf("control socket: %s\n", controlSocket)
	fmt.Printf("health/metrics: http://%s/health http://%s/ready http://%s/metrics\n", healthAddr, healthAddr, healthAddr)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	select {
	case <-sigCh:
		cancel()
	case err := <-runErrCh:
		if err != nil && err != context.Canceled {
			log.Logger.Error().Err(err).Msg("run loop exited")
		}
		return nil
	}
	r.Close()
	r.Wait()
	return nil
}

func openServer(clusterID, serverID string, fsm raft.StateMachine, cfg raft.Config, bootstrap bool) (*raft.Raft, error) {
	logPath := filepath.Join(cfg.DataDir, "raft.log")
	if _, err := os.Stat(logPath); err == nil {
		return raft.Open(clusterID, serverID, fsm, cfg)
	}
	if bootstrap {
		return raft.Create(clusterID, serverID, fsm, cfg)
	}
	return raft.Join(clusterID, serverID, fsm, cfg)
}
