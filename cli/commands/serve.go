package commands

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"

	awssns "github.com/aws/aws-sdk-go-v2/service/sns"
	"github.com/spf13/cobra"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"

	ledgerkit "github.com/ledgerkit/ledgerkit"
	"github.com/ledgerkit/ledgerkit/api"
	"github.com/ledgerkit/ledgerkit/cli/config"
	"github.com/ledgerkit/ledgerkit/cli/styles"
	"github.com/ledgerkit/ledgerkit/middleware/metrics"
	"github.com/ledgerkit/ledgerkit/middleware/tracing"
	"github.com/ledgerkit/ledgerkit/publish/kafka"
	"github.com/ledgerkit/ledgerkit/publish/sns"
	"github.com/ledgerkit/ledgerkit/publish/webhook"
	"github.com/ledgerkit/ledgerkit/zaplog"
)

// NewServeCommand creates the serve command
func NewServeCommand() *cobra.Command {
	var (
		configPath string
		address    string
		dev        bool
	)

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the ledger HTTP server",
		Long: `Start the account ledger HTTP server.

The server exposes account commands and queries under /api, projection
management under /api/projections, Prometheus metrics on /metrics, and a
health check on /healthz.

Examples:
  ledgerd serve                      # Use ledgerd.yaml from the working directory
  ledgerd serve --config ./ledgerd.yaml
  ledgerd serve --address :9090      # Override the listen address`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := resolveConfig(configPath)
			if err != nil {
				return err
			}

			if problems := cfg.Validate(); len(problems) > 0 {
				for _, p := range problems {
					fmt.Println(styles.FormatError(p))
				}
				return fmt.Errorf("invalid configuration")
			}

			if address != "" {
				cfg.Server.Address = address
			}

			return runServer(cmd.Context(), cfg, dev)
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", "", "Path to the configuration file")
	cmd.Flags().StringVarP(&address, "address", "a", "", "Listen address (overrides config)")
	cmd.Flags().BoolVar(&dev, "dev", false, "Use development logging")

	return cmd
}

func resolveConfig(path string) (*config.Config, error) {
	if path != "" {
		cfg, err := config.LoadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to load config: %w", err)
		}
		return cfg, nil
	}

	cfg, _, err := loadConfigOrDefault()
	return cfg, err
}

func runServer(ctx context.Context, cfg *config.Config, dev bool) error {
	logger, err := newLogger(dev)
	if err != nil {
		return err
	}
	defer func() { _ = logger.Sync() }()

	backend, err := NewBackend(ctx, cfg)
	if err != nil {
		return err
	}
	defer backend.Close()

	// Metrics wrap the event log before tracing so spans cover the
	// instrumented adapter.
	m := metrics.New(metrics.WithMetricsServiceName(cfg.Tracing.ServiceName))
	m.MustRegister()

	eventLog := m.WrapEventLog(backend.Adapter)

	tracer := tracing.NewTracer(tracing.WithServiceName(cfg.Tracing.ServiceName))
	var shutdownTracing func(context.Context) error
	if cfg.Tracing.Enabled {
		exporter, err := stdouttrace.New(stdouttrace.WithPrettyPrint())
		if err != nil {
			return fmt.Errorf("failed to create trace exporter: %w", err)
		}
		tp := sdktrace.NewTracerProvider(sdktrace.WithBatcher(exporter))
		tracer = tracing.NewTracer(
			tracing.WithTracerProvider(tp),
			tracing.WithServiceName(cfg.Tracing.ServiceName),
		)
		shutdownTracing = tp.Shutdown
	}
	tracedLog := tracing.NewEventLogMiddleware(eventLog, tracer)

	summaries := ledgerkit.NewSummaryProjection(backend.ReadModels)
	history := ledgerkit.NewHistoryProjection(backend.ReadModels)
	projections := []ledgerkit.Projection{
		tracing.NewProjectionMiddleware(summaries, tracer),
		tracing.NewProjectionMiddleware(history, tracer),
	}

	projector := ledgerkit.NewProjector(tracedLog, backend.Adapter, projections,
		ledgerkit.WithProjectorLogger(logger),
		ledgerkit.WithProjectionMetrics(m),
	)

	// External destinations ride behind the best-effort relay; the
	// projector is wired separately so a projection failure fails the
	// command instead of being logged away.
	publishers := []ledgerkit.Publisher{}
	if cfg.Relay.Kafka.Enabled {
		publishers = append(publishers, kafka.New(
			kafka.WithBrokers(cfg.Relay.Kafka.Brokers...),
			kafka.WithTopic(cfg.Relay.Kafka.Topic),
		))
	}
	if cfg.Relay.SNS.Enabled {
		client := awssns.New(awssns.Options{Region: regionFromARN(cfg.Relay.SNS.TopicARN)})
		publishers = append(publishers, sns.New(
			sns.WithSNSClient(client),
			sns.WithTopicARN(cfg.Relay.SNS.TopicARN),
		))
	}
	if cfg.Relay.Webhook.Enabled {
		publishers = append(publishers, webhook.New(cfg.Relay.Webhook.URL))
	}
	options := []ledgerkit.Option{
		ledgerkit.WithLogger(logger),
		ledgerkit.WithProjector(projector),
		ledgerkit.WithRetryAttempts(cfg.Commands.RetryAttempts),
	}
	if len(publishers) > 0 {
		options = append(options, ledgerkit.WithPublisher(ledgerkit.NewRelay(publishers, logger)))
	}
	if cfg.Snapshots.Enabled {
		options = append(options,
			ledgerkit.WithSnapshots(backend.Adapter),
			ledgerkit.WithSnapshotInterval(cfg.Snapshots.Interval),
		)
	}

	ledger := ledgerkit.New(tracedLog, options...)
	service := ledgerkit.NewAccountService(ledger, ledgerkit.WithServiceLogger(logger))
	rebuilder := ledgerkit.NewRebuilder(tracedLog, backend.Adapter, projector, ledger.Serializer(),
		ledgerkit.WithRebuilderLogger(logger),
	)

	server := api.NewServer(service, ledger, backend.ReadModels, projector, rebuilder,
		api.WithLogger(logger),
		api.WithHealthChecker(backend.Adapter),
	)

	httpServer := &http.Server{
		Addr:         cfg.Server.Address,
		Handler:      server.Handler(),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("server listening", "address", cfg.Server.Address, "driver", cfg.Database.Driver)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	fmt.Println(styles.FormatSuccess(fmt.Sprintf("Serving on %s (driver: %s)", cfg.Server.Address, cfg.Database.Driver)))

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)

	select {
	case err := <-errCh:
		return err
	case <-stop:
	case <-ctx.Done():
	}

	logger.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()

	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown failed: %w", err)
	}
	if shutdownTracing != nil {
		if err := shutdownTracing(shutdownCtx); err != nil {
			logger.Warn("trace exporter shutdown failed", "error", err)
		}
	}

	fmt.Println(styles.FormatSuccess("Server stopped"))
	return nil
}

func newLogger(dev bool) (*zaplog.Logger, error) {
	if dev {
		return zaplog.NewDevelopment()
	}
	return zaplog.NewProduction()
}

// regionFromARN extracts the region segment of an SNS topic ARN
// (arn:aws:sns:region:account:topic).
func regionFromARN(arn string) string {
	parts := strings.Split(arn, ":")
	if len(parts) >= 4 {
		return parts[3]
	}
	return ""
}
