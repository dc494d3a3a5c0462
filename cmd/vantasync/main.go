// ABOUTME: Entry point for vantasync, which reconciles Vanta vulnerabilities with the Faros graph.
// ABOUTME: Provides the one-shot convert command and the periodic serve command with its HTTP server.

package main

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/DaYuM/airbyte-connectors/internal/cache"
	"github.com/DaYuM/airbyte-connectors/internal/engine"
	"github.com/DaYuM/airbyte-connectors/internal/graph"
	"github.com/DaYuM/airbyte-connectors/internal/metrics"
	"github.com/DaYuM/airbyte-connectors/internal/providers"
	"github.com/DaYuM/airbyte-connectors/internal/server"
)

func main() {
	if err := newRootCmd(&flagValues{}, os.Getenv).Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd(fv *flagValues, getenv func(string) string) *cobra.Command {
	root := &cobra.Command{
		Use:   "vantasync",
		Short: "Sync Vanta vulnerabilities into the Faros graph",
		Long: `vantasync reads Vanta vulnerability records (git, AWS and AWS v2 origins),
links them to repositories and artifacts already in the Faros graph and writes
the resulting graph records as JSON lines.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	bindFlags(root, fv)

	convert := &cobra.Command{
		Use:   "convert",
		Short: "Run one sync and write destination records",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := resolveConfig(cmd, fv, getenv)
			if err != nil {
				return err
			}
			return runConvert(cmd.Context(), cfg, newLogger(cfg.LogLevel), cmd.OutOrStdout())
		},
	}

	serve := &cobra.Command{
		Use:   "serve",
		Short: "Sync periodically and serve metrics and the latest records over HTTP",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := resolveConfig(cmd, fv, getenv)
			if err != nil {
				return err
			}
			logger := newLogger(cfg.LogLevel)

			ctx, cancel := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer cancel()

			exporter, err := NewExporter(ctx, cfg, logger)
			if err != nil {
				logger.WithError(err).Error("Failed to create exporter")
				return err
			}
			defer exporter.Close()
			return exporter.Start(ctx)
		},
	}
	bindServeFlags(serve, fv)

	root.AddCommand(convert, serve)
	return root
}

// newLogger sets up structured JSON logging at the given level, info when unparseable
func newLogger(level string) *logrus.Logger {
	logger := logrus.New()
	logger.SetFormatter(&logrus.JSONFormatter{})
	logger.SetLevel(logrus.InfoLevel)

	if parsed, err := logrus.ParseLevel(level); err == nil {
		logger.SetLevel(parsed)
	}
	return logger
}

func runConvert(ctx context.Context, cfg *Config, logger *logrus.Logger, stdout io.Writer) error {
	sink := stdout
	if cfg.OutputFile != "" {
		f, err := os.Create(cfg.OutputFile)
		if err != nil {
			return fmt.Errorf("failed to create output file '%s': %w", cfg.OutputFile, err)
		}
		defer f.Close()
		sink = f
	}

	source, client, err := buildPipeline(ctx, cfg, logger)
	if err != nil {
		return err
	}
	if closer, ok := client.(*cache.CachedClient); ok {
		defer closer.Close()
	}

	if _, err := engine.NewEngine(source, client, cfg.engineConfig(), sink, logger).RunOnce(ctx); err != nil {
		logger.WithError(err).Error("Sync failed")
		return err
	}
	return nil
}

func buildPipeline(ctx context.Context, cfg *Config, logger *logrus.Logger) (providers.RecordSource, graph.Client, error) {
	providerConfig := cfg.providerConfig()

	source, err := providers.CreateRecordSource(ctx, providerConfig, logger)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create record source: %w", err)
	}

	client, err := providers.CreateGraphClient(providerConfig, logger)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create graph client: %w", err)
	}
	return source, client, nil
}

type Exporter struct {
	config *Config
	logger *logrus.Logger
	engine *engine.Engine
	client graph.Client
}

func NewExporter(ctx context.Context, config *Config, logger *logrus.Logger) (*Exporter, error) {
	logger.WithFields(logrus.Fields{
		"source":   config.Source,
		"port":     config.Port,
		"interval": config.Interval,
		"mock":     config.MockMode,
		"graph":    config.Graph,
	}).Info("Initializing vantasync")

	source, client, err := buildPipeline(ctx, config, logger)
	if err != nil {
		return nil, err
	}

	return &Exporter{
		config: config,
		logger: logger,
		engine: engine.NewEngine(source, client, config.engineConfig(), nil, logger),
		client: client,
	}, nil
}

// Close releases the query cache sweeper when one is running
func (e *Exporter) Close() {
	if cached, ok := e.client.(*cache.CachedClient); ok {
		cached.Close()
	}
}

func (e *Exporter) routes() *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("/metrics", e.securityMiddleware(metrics.CreateMetricsHandler(e.engine, e.logger)))
	mux.HandleFunc("/records", e.securityMiddleware(server.CreateRecordsHandler(e.engine, e.logger)))
	mux.HandleFunc("/health", e.securityMiddleware(e.healthHandler))
	return mux
}

func (e *Exporter) Start(ctx context.Context) error {
	go e.engine.Start(ctx)

	server := &http.Server{
		Addr:              fmt.Sprintf(":%d", e.config.Port),
		Handler:           e.routes(),
		ReadTimeout:       10 * time.Second,
		ReadHeaderTimeout: 5 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
		MaxHeaderBytes:    1 << 20, // 1 MB
	}

	go func() {
		<-ctx.Done()
		e.logger.Info("Shutting down HTTP server")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			e.logger.WithError(err).Warn("HTTP server shutdown did not complete")
		}
	}()

	e.logger.WithFields(logrus.Fields{
		"port":   e.config.Port,
		"source": e.config.Source,
	}).Info("Starting HTTP server")

	if err := server.ListenAndServe(); err != http.ErrServerClosed {
		return err
	}

	return nil
}

func (e *Exporter) securityMiddleware(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-Content-Type-Options", "nosniff")
		w.Header().Set("X-Frame-Options", "DENY")
		w.Header().Set("X-XSS-Protection", "1; mode=block")
		w.Header().Set("Referrer-Policy", "strict-origin-when-cross-origin")
		w.Header().Set("Content-Security-Policy", "default-src 'none'; script-src 'none'; object-src 'none'; frame-ancestors 'none'")

		if r.Method != http.MethodGet && r.Method != http.MethodHead {
			http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
			return
		}

		e.logger.WithFields(logrus.Fields{
			"method":     r.Method,
			"path":       r.URL.Path,
			"remote_ip":  r.RemoteAddr,
			"user_agent": r.UserAgent(),
		}).Debug("HTTP request received")

		next(w, r)
	}
}

// healthHandler reports degraded while the latest run has failed
func (e *Exporter) healthHandler(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	status := "ok"
	if e.engine.LastError() != nil {
		status = "degraded"
	}
	fmt.Fprintf(w, `{"status":%q,"runs":%d}`, status, e.engine.Runs())
}
