// Package cmd wires the daemon together: configuration, shared state, the
// DNS frontend, the control channel, and shutdown handling.
package cmd

import (
	"context"
	"fmt"
	"net"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"blockandfocus/internal/config"
	"blockandfocus/internal/dns"
	"blockandfocus/internal/ipc"
	"blockandfocus/internal/logging"
	"blockandfocus/internal/metrics"
	"blockandfocus/internal/state"
)

// Options are the launch parameters. Development mode alone selects the
// default port, socket path, and config path; the other fields override.
type Options struct {
	Dev         bool
	ConfigFile  string
	Port        int
	LogLevel    string
	MetricsAddr string
}

const (
	prodConfigPath = "/Library/Application Support/BlockAndFocus/config.toml"
	devConfigPath  = "./config.toml"
	prodSocketPath = "/var/run/blockandfocus.sock"
	devSocketPath  = "/tmp/blockandfocus-dev.sock"

	upstreamTimeout = 5 * time.Second
)

// Run starts the resolver and blocks until an interrupt. It returns an error
// on startup failure so the process exits non-zero.
func Run(opts *Options) error {
	dev := opts.Dev || os.Getenv("BLOCKANDFOCUS_DEV") != ""

	logging.Setup(opts.LogLevel)
	logrus.WithField("dev", dev).Info("Starting BlockAndFocus daemon")

	configPath := opts.ConfigFile
	if configPath == "" {
		configPath = prodConfigPath
		if dev {
			configPath = devConfigPath
		}
	}
	socketPath := prodSocketPath
	if dev {
		socketPath = devSocketPath
	}

	store, err := config.Open(configPath, config.Default(dev))
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	cfg := store.Snapshot()
	logrus.WithFields(logrus.Fields{
		"path":    configPath,
		"domains": len(cfg.Blocking.Domains),
	}).Info("Configuration loaded")

	st := state.New(store)

	listenPort := cfg.DNS.ListenPort
	if opts.Port > 0 {
		listenPort = opts.Port
	}
	listenAddr := net.JoinHostPort(cfg.DNS.ListenAddress, strconv.Itoa(listenPort))

	upstream := dns.NewUpstream(cfg.DNS.Upstream, upstreamTimeout)
	server := dns.NewServer(dns.NewHandler(st, upstream), listenAddr)
	control := ipc.NewServer(st, socketPath)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error { return server.Run(ctx) })
	g.Go(func() error { return control.Run(ctx) })
	g.Go(func() error {
		// Listener and upstream settings take effect on restart; blocklist
		// and schedule edits apply immediately.
		return config.Watch(ctx, store, st.RefreshMatcher)
	})
	if opts.MetricsAddr != "" {
		g.Go(func() error { return metrics.Serve(ctx, opts.MetricsAddr) })
	}

	logrus.WithFields(logrus.Fields{
		"dns":    listenAddr,
		"socket": socketPath,
	}).Info("BlockAndFocus daemon is running")

	if err := g.Wait(); err != nil {
		return err
	}
	logrus.Info("Shutdown complete")
	return nil
}
