package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"go.uber.org/zap"

	"github.com/vango-dev/tengi/internal/config"
	"github.com/vango-dev/tengi/internal/errors"
	"github.com/vango-dev/tengi/internal/logging"
	"github.com/vango-dev/tengi/pkg/connection"
	"github.com/vango-dev/tengi/pkg/middleware"
	"github.com/vango-dev/tengi/pkg/protocol"
	"github.com/vango-dev/tengi/pkg/server"
)

type serveFlags struct {
	configPath  string
	host        string
	tcpPort     int
	httpPort    int
	logLevel    string
	development bool
}

func serveCmd() *cobra.Command {
	var f serveFlags

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run an echo server",
		Long: `Run a server that answers every message with its own body.

Settings come from --config, or tengi.toml / tengi.yaml in the
working directory; flags override the file.

Examples:
  tengi serve
  tengi serve --config deploy/tengi.yaml
  tengi serve --tcp-port=9000 --http-port=9001 --log-level=debug`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadServeConfig(f, cmd.Flags())
			if err != nil {
				return err
			}
			return runServe(cmd, cfg)
		},
	}

	cmd.Flags().StringVarP(&f.configPath, "config", "c", "", "Config file (default: tengi.toml or tengi.yaml if present)")
	cmd.Flags().StringVarP(&f.host, "host", "H", "", "Interface to bind")
	cmd.Flags().IntVar(&f.tcpPort, "tcp-port", 0, "TCP listener port")
	cmd.Flags().IntVar(&f.httpPort, "http-port", 0, "HTTP listener port (WebSocket and polling)")
	cmd.Flags().StringVarP(&f.logLevel, "log-level", "l", "", "Log level (debug, info, warn, error)")
	cmd.Flags().BoolVar(&f.development, "dev", false, "Human-readable development logs")

	return cmd
}

// loadServeConfig reads the config file, if any, and applies the flags
// that were set explicitly.
func loadServeConfig(f serveFlags, flags *pflag.FlagSet) (*config.Config, error) {
	path := f.configPath
	if path == "" {
		path = config.Find(".")
	}

	cfg := config.New()
	if path != "" {
		var err error
		if cfg, err = config.Load(path); err != nil {
			return nil, err
		}
	}

	if flags.Changed("host") {
		cfg.Server.Host = f.host
	}
	if flags.Changed("tcp-port") {
		cfg.Server.TCPPort = f.tcpPort
	}
	if flags.Changed("http-port") {
		cfg.Server.HTTPPort = f.httpPort
	}
	if flags.Changed("log-level") {
		cfg.Log.Level = f.logLevel
	}
	if flags.Changed("dev") {
		cfg.Log.Development = f.development
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func runServe(cmd *cobra.Command, cfg *config.Config) error {
	logger, err := logging.New(cfg.Log.Level, cfg.Log.Development)
	if err != nil {
		return errors.New("T108").Wrap(err)
	}
	defer func() { _ = logger.Sync() }()

	srv, err := newEchoServer(cfg, logger, prometheus.NewRegistry())
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if _, err := srv.Start(ctx).Get(ctx); err != nil {
		return errors.FromError(err, "T301")
	}

	w := cmd.OutOrStdout()
	printBanner(w)
	if path := cfg.Path(); path != "" {
		info(w, "config  %s", path)
	}
	for _, tr := range srv.Config().Transports {
		success(w, "%-9s %s", tr, srv.Addr(tr))
	}
	fmt.Fprintln(w)

	<-ctx.Done()
	info(w, "Shutting down...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), srv.Config().ShutdownTimeout)
	defer cancel()
	_, err = srv.Stop(shutdownCtx).Get(shutdownCtx)
	return err
}

// newEchoServer builds a server whose connections echo every message.
func newEchoServer(cfg *config.Config, logger *zap.Logger, reg *prometheus.Registry) (*server.Server, error) {
	opts, err := cfg.ServerOptions()
	if err != nil {
		return nil, err
	}

	var metrics *middleware.Metrics
	if cfg.Metrics.Listener {
		metrics = middleware.NewMetrics(middleware.WithRegistry(reg))
		opts = append(opts, server.WithConnectionListener(metrics))
	}
	opts = append(opts,
		server.WithLogger(logger),
		server.WithRegisterer(reg),
		server.WithConnectionListener(echoListener(logger, metrics)),
	)

	srv, err := server.New(opts...)
	if err != nil {
		return nil, errors.Classify(err)
	}
	return srv, nil
}

// echoListener attaches the echo message listener, wrapped in logging,
// tracing and optional metrics, to every new connection.
func echoListener(logger *zap.Logger, metrics *middleware.Metrics) connection.ConnectionListener {
	mws := []middleware.Middleware{
		middleware.Logging(logger),
		middleware.OpenTelemetry(),
	}
	if metrics != nil {
		mws = append(mws, metrics.Middleware())
	}
	echo := middleware.Chain(connection.MessageListenerFunc(echo), mws...)

	return connection.ConnectionListenerFuncs{
		Connect: func(c *connection.Connection) {
			if _, err := c.AddMessageListener(echo); err != nil {
				logger.Warn("attach echo listener", zap.Stringer("connection", c.ID()), zap.Error(err))
			}
		},
	}
}

// echo writes msg's body back to c. Empty bodies are not answered.
func echo(c *connection.Connection, msg *protocol.Message) {
	if msg.Body == nil {
		return
	}
	if _, err := c.WriteObject(context.Background(), msg.Body); err != nil {
		c.ReportException(err)
	}
}
