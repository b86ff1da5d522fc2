package main

import (
	"context"
	"fmt"
	"net/netip"
	"os"
	"os/signal"
	"syscall"

	"github.com/jonboulle/clockwork"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"

	"github.com/coredge-io/bgpd/internal/bgp"
	"github.com/coredge-io/bgpd/internal/config"
	"github.com/coredge-io/bgpd/internal/logging"
	"github.com/coredge-io/bgpd/internal/metrics"
)

var (
	configPath  string
	listenAddr  string
	metricsAddr string
	verbose     bool

	version = "dev"
	commit  = "none"
)

var rootCmd = &cobra.Command{
	Use:   "bgpd",
	Short: "BGP-4 per-peer session engine",
	Long:  `bgpd runs the BGP-4 finite state machine for a set of configured neighbors, independent of any particular RIB or wire codec implementation.`,
}

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Start the daemon and hold peer sessions open",
	RunE: func(cmd *cobra.Command, args []string) error {
		log := logging.New(os.Stdout, verbose)

		file, err := config.Load(configPath)
		if err != nil {
			return fmt.Errorf("load config: %w", err)
		}
		peerCfgs, err := file.PeerConfigs()
		if err != nil {
			return fmt.Errorf("build peer configs: %w", err)
		}

		reg := prometheus.NewRegistry()
		vecs := bgp.NewMetricsVecs(reg)

		listener := bgp.NewListener(listenAddr)
		locks := bgp.NewObjectLockManager()
		neighbor := bgp.NewNetlinkNeighborCache()
		clock := clockwork.NewRealClock()
		rand := bgp.NewDefaultRand()

		mgr := bgp.NewManager(func(cfg bgp.PeerConfig) *bgp.Peer {
			rib := &bgp.CounterRIB{}
			codec := bgp.NewDefaultCodec(rib)
			metrics := vecs.ForPeer(cfg.RemoteIP.String())
			return bgp.NewPeer(cfg, codec, rib, neighbor, listener, locks, clock, rand, log, metrics, noopHandle{})
		})
		defer mgr.Close()

		mgr.Configure(peerCfgs)
		log.Info("bgpd started", "peers", len(peerCfgs))

		ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer cancel()

		errCh := make(chan error, 1)
		go func() { errCh <- metrics.Serve(ctx, metricsAddr, reg) }()

		<-ctx.Done()
		log.Info("bgpd shutting down")
		if err := <-errCh; err != nil {
			return fmt.Errorf("metrics server: %w", err)
		}
		return nil
	},
}

var statusCmd = &cobra.Command{
	Use:   "status <remote-ip>",
	Short: "Validate a peer address; prints no status, as it cannot reach a running daemon",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if _, err := netip.ParseAddr(args[0]); err != nil {
			return fmt.Errorf("invalid remote address: %w", err)
		}
		return fmt.Errorf("status requires a running daemon instance; use the metrics endpoint or wire in an RPC transport")
	},
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("bgpd %s (%s)\n", version, commit)
	},
}

// noopHandle is the default ProtocolHandle used when bgpd runs
// standalone (no surrounding routing core wired in); it does nothing.
type noopHandle struct{}

func (noopHandle) SessionUp(localID, remoteID netip.Addr) {}
func (noopHandle) SessionDown(reason string)              {}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "/etc/bgpd/peers.yaml", "Path to the peer configuration YAML file")
	rootCmd.PersistentFlags().StringVar(&listenAddr, "listen", "0.0.0.0", "Local address to bind the passive BGP listener to")
	rootCmd.PersistentFlags().StringVar(&metricsAddr, "metrics-addr", "127.0.0.1:9179", "Address to bind the prometheus metrics server to")
	rootCmd.PersistentFlags().BoolVar(&verbose, "verbose", false, "Enable debug logging")

	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(versionCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
