// Command blockfs-node runs a blockfs storage node.
//
// A node keeps block data in memory, serves it to clients and peers over
// HTTP, and heartbeats its manifest to the coordinator. The coordinator
// answers each heartbeat with blocks to delete and blocks to copy from
// peers.
//
// Endpoints:
//
//	GET    /blocks?id=<block>   read a block (no id lists the manifest)
//	PUT    /blocks?id=<block>   store a block
//	DELETE /blocks?id=<block>   drop a block
//	GET    /health              liveness probe
//	GET    /info                node id and store usage
package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/dreamware/blockfs/internal/cluster"
	"github.com/dreamware/blockfs/internal/config"
	"github.com/dreamware/blockfs/internal/logging"
	"github.com/dreamware/blockfs/internal/storage"
)

// Build-time variables injected via ldflags.
var (
	version = "dev"
	commit  = "none"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

type rootOptions struct {
	configFile string
	logLevel   string
}

func newRootCmd() *cobra.Command {
	opts := &rootOptions{}

	root := &cobra.Command{
		Use:   "blockfs-node",
		Short: "blockfs storage node",
		Long: `A blockfs storage node stores block data and follows the coordinator's
delete and replicate instructions.

All configuration options can be overridden using environment variables,
e.g. BLOCKFS_COORDINATOR=http://10.0.0.1:8080 or BLOCKFS_CAPACITY=4GiB`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVar(&opts.configFile, "config", "", "path to config file (YAML)")
	root.PersistentFlags().StringVar(&opts.logLevel, "log-level", "", "override logging.level (debug, info, warn, error)")

	root.AddCommand(newRunCmd(opts), newInitCmd(opts), newVersionCmd())
	return root
}

func newRunCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "run",
		Short: "Run the storage node",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.LoadNode(opts.configFile)
			if err != nil {
				return err
			}
			if opts.logLevel != "" {
				cfg.Logging.Level = opts.logLevel
			}
			return run(cmd.Context(), cfg)
		},
	}
}

func newInitCmd(opts *rootOptions) *cobra.Command {
	var force bool

	cmd := &cobra.Command{
		Use:   "init",
		Short: "Write a default configuration file",
		RunE: func(cmd *cobra.Command, args []string) error {
			path := opts.configFile
			if path == "" {
				path = "node.yaml"
			}
			if _, err := os.Stat(path); err == nil && !force {
				return fmt.Errorf("config file already exists: %s (use --force to overwrite)", path)
			}
			if err := config.SaveConfig(config.DefaultNodeConfig(), path); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Configuration file created at: %s\n", path)
			return nil
		},
	}
	cmd.Flags().BoolVar(&force, "force", false, "overwrite an existing config file")
	return cmd
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Show version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "blockfs-node %s (commit: %s)\n", version, commit)
		},
	}
}

// advertiseAddr returns the address peers should use. A listen address
// without a host advertises loopback.
func advertiseAddr(cfg *config.NodeConfig) string {
	if cfg.Advertise != "" {
		return cfg.Advertise
	}
	host, port, err := net.SplitHostPort(cfg.Listen)
	if err != nil {
		return cfg.Listen
	}
	if host == "" || host == "0.0.0.0" || host == "::" {
		host = "127.0.0.1"
	}
	return net.JoinHostPort(host, port)
}

// run starts the node and blocks until ctx is canceled or a signal arrives.
func run(ctx context.Context, cfg *config.NodeConfig) error {
	logger, err := logging.Setup(cfg.Logging.Level, cfg.Logging.Format)
	if err != nil {
		return err
	}
	if ctx == nil {
		ctx = context.Background()
	}
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	addr := advertiseAddr(cfg)
	store := storage.NewMemoryStore(int64(cfg.Capacity))
	node := NewNode(store, cluster.NewClient(cfg.Coordinator), addr, logger.With().Str("component", "node").Logger())

	ln, err := net.Listen("tcp", cfg.Listen)
	if err != nil {
		return fmt.Errorf("listen: %w", err)
	}
	httpSrv := &http.Server{
		Handler:           node.router(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info().
			Str("listen", cfg.Listen).
			Str("advertise", addr).
			Str("capacity", cfg.Capacity.String()).
			Msg("Node listening")
		if err := httpSrv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	// Peers and clients can reach the node before it registers.
	if err := node.Register(ctx); err != nil {
		_ = shutdown(httpSrv, cfg.ShutdownTimeout)
		return err
	}

	done := make(chan struct{})
	go func() {
		defer close(done)
		node.Run(ctx, cfg.HeartbeatInterval)
	}()

	select {
	case err := <-errCh:
		stop()
		<-done
		if err != nil {
			return fmt.Errorf("serve: %w", err)
		}
		return nil
	case <-ctx.Done():
		log.Info().Msg("Shutdown signal received")
	}
	<-done

	if err := shutdown(httpSrv, cfg.ShutdownTimeout); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	log.Info().Str("node_id", node.ID()).Msg("Node stopped")
	return nil
}

func shutdown(srv *http.Server, timeout time.Duration) error {
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	return srv.Shutdown(ctx)
}
