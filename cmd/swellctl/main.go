// Command swellctl talks JSON-RPC to a swell endpoint from the terminal.
package main

import (
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"

	"github.com/lightforgemedia/go-swell/pkg/client"
	"github.com/lightforgemedia/go-swell/pkg/config"
)

var (
	configPath  string
	urlFlag     string
	logLevel    string
	timeout     time.Duration
	metricsAddr string
)

var rootCmd = &cobra.Command{
	Use:   "swellctl",
	Short: "Reconnecting JSON-RPC over WebSocket client",
	Long: `swellctl opens a reconnecting WebSocket connection to a JSON-RPC endpoint,
dispatches correlated requests and prints the messages that come back.

The endpoint comes from --url, or from the config file (env, host and path).`,
	SilenceUsage: true,
}

func init() {
	pf := rootCmd.PersistentFlags()
	pf.StringVar(&configPath, "config", "", "Path to a YAML config file")
	pf.StringVar(&urlFlag, "url", "", "Endpoint URL, overrides the config file")
	pf.StringVar(&logLevel, "log-level", "", "Log level: debug, info, warn, error")
	pf.DurationVar(&timeout, "timeout", 10*time.Second, "How long to wait for a response")
	pf.StringVar(&metricsAddr, "metrics-addr", "", "Serve Prometheus metrics on this address")
}

// session is what every subcommand needs.
type session struct {
	cfg    *config.Config
	logger *slog.Logger
	conn   *client.Connection
	server *http.Server
}

func newSession() (*session, error) {
	cfg, err := config.LoadAndValidate(configPath)
	if err != nil {
		return nil, err
	}
	if urlFlag != "" {
		cfg.URL = urlFlag
	}
	if logLevel != "" {
		cfg.LogLevel = logLevel
	}
	if metricsAddr != "" {
		cfg.Metrics.Addr = metricsAddr
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validate flags: %w", err)
	}

	level, _ := cfg.SlogLevel()
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))

	s := &session{cfg: cfg, logger: logger}
	opts := cfg.ClientOptions()
	opts.Logger = logger
	if cfg.Metrics.Addr != "" {
		reg := prometheus.NewRegistry()
		opts.Metrics = client.NewMetrics(reg)
		s.serveMetrics(reg)
	}
	s.conn = client.ConnectWithOptions(cfg.WebSocketURL(), opts)
	return s, nil
}

func (s *session) serveMetrics(reg *prometheus.Registry) {
	mux := http.NewServeMux()
	mux.Handle(s.cfg.Metrics.Path, promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
	s.server = &http.Server{Addr: s.cfg.Metrics.Addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	go func() {
		if err := s.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("metrics server failed", "addr", s.cfg.Metrics.Addr, "error", err)
		}
	}()
	s.logger.Info("serving metrics", "addr", s.cfg.Metrics.Addr, "path", s.cfg.Metrics.Path)
}

func (s *session) Close() {
	s.conn.Shutdown()
	if s.server != nil {
		s.server.Close()
	}
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
