// Command connector runs one host's supervisor behind an HTTP server:
// it creates and starts chains, hosts their local nodes, and answers the
// setup/run/notify/enqueue-status routes another connector's broadcaster
// calls.
package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	sentry "github.com/getsentry/sentry-go"
	"go.uber.org/zap"

	"github.com/relaymesh/relay/internal/nats"
	"github.com/relaymesh/relay/internal/tracing"
	"github.com/relaymesh/relay/pkg/callback"
	"github.com/relaymesh/relay/pkg/client"
	"github.com/relaymesh/relay/pkg/concurrency"
	"github.com/relaymesh/relay/pkg/connectorhttp"
	"github.com/relaymesh/relay/pkg/monitor"
	"github.com/relaymesh/relay/pkg/script"
	"github.com/relaymesh/relay/pkg/storage"
	"github.com/relaymesh/relay/pkg/supervisor"
	"github.com/relaymesh/relay/pkg/transport"
)

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func main() {
	undoMaxProcs := concurrency.InitializeForKubernetes()
	defer undoMaxProcs()

	logger, err := zap.NewProduction()
	if err != nil {
		panic(err)
	}
	defer logger.Sync()

	uid := envOr("CONNECTOR_UID", "connector-1")
	port := envOr("PORT", "8080")

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	var shutdownTracing func(context.Context) error
	if endpoint := os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT"); endpoint != "" {
		cfg := tracing.DefaultConfig(uid)
		cfg.OTLPEndpoint = endpoint
		shutdownTracing, err = tracing.SetupTracing(ctx, cfg, logger)
		if err != nil {
			logger.Warn("tracing setup failed, proceeding without it", zap.Error(err))
		}
	}
	if shutdownTracing != nil {
		defer shutdownTracing(context.Background())
	}

	if dsn := os.Getenv("SENTRY_DSN"); dsn != "" {
		if err := sentry.Init(sentry.ClientOptions{Dsn: dsn}); err != nil {
			logger.Warn("sentry init failed, node failures will not be captured", zap.Error(err))
		}
		defer sentry.Flush(2 * time.Second)
	}

	var natsSink monitor.GlobalSink
	if natsURL := os.Getenv("NATS_URL"); natsURL != "" {
		natsClient := client.NewClientWithConfig(nats.DefaultConnectionConfig(natsURL))
		natsClient.SetLogger(logger)
		if err := natsClient.Connect(ctx); err != nil {
			logger.Warn("NATS connect failed, additive reporting sink disabled", zap.Error(err))
		} else {
			defer natsClient.Close()
			cfg := callback.DefaultConfig()
			cfg.Logger = logger
			natsSink = callback.NewHandlerWithConfig(natsClient, cfg)
		}
	}

	var blobClient storage.BlobStorageClient
	if conn := os.Getenv("AZURE_STORAGE_CONNECTION_STRING"); conn != "" {
		container := envOr("AZURE_STORAGE_CONTAINER", "chain-payloads")
		azClient, err := storage.NewAzureBlobClient(conn, container, logger)
		if err != nil {
			logger.Warn("Azure blob client init failed, blob offload disabled", zap.Error(err))
		} else {
			blobClient = azClient
		}
	}

	broadcaster := transport.NewHTTPBroadcaster(transport.DefaultHostResolver{}, logger)

	onFailure := func(err error, tags map[string]string) {
		if sentry.CurrentHub().Client() == nil {
			return
		}
		sentry.WithScope(func(scope *sentry.Scope) {
			for k, v := range tags {
				scope.SetTag(k, v)
			}
			sentry.CaptureException(err)
		})
	}

	sup := supervisor.New(supervisor.Config{
		UID:         uid,
		Callback:    script.NewCallback(),
		Broadcaster: broadcaster,
		NATSSink:    natsSink,
		OnFailure:   onFailure,
		BlobClient:  blobClient,
		Logger:      logger,
	})

	mux := http.NewServeMux()
	connectorhttp.New(sup, logger).Routes(mux)

	srv := &http.Server{
		Addr:              ":" + port,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		logger.Info("connector listening", zap.String("uid", uid), zap.String("port", port))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("connector server failed", zap.Error(err))
		}
	}()

	<-ctx.Done()
	logger.Info("shutdown signal received, draining")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Warn("graceful shutdown timed out", zap.Error(err))
	}
}
