package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	restate "github.com/restatedev/sdk-go"
	"github.com/restatedev/sdk-go/server"
	"github.com/surrealdb/surrealdb.go"
	"go.uber.org/zap"

	"github.com/spectra-red/sentinel/internal/api/middleware"
	"github.com/spectra-red/sentinel/internal/connector/aws"
	"github.com/spectra-red/sentinel/internal/connector/azure"
	"github.com/spectra-red/sentinel/internal/connector/entraid"
	"github.com/spectra-red/sentinel/internal/connector/gcp"
	"github.com/spectra-red/sentinel/internal/connector/okta"
	"github.com/spectra-red/sentinel/internal/domain"
	"github.com/spectra-red/sentinel/internal/engram"
	"github.com/spectra-red/sentinel/internal/enrichment"
	"github.com/spectra-red/sentinel/internal/graphstore"
	"github.com/spectra-red/sentinel/internal/orchestrator"
	"github.com/spectra-red/sentinel/internal/secrets"
)

// cmd/sentineld is the long-running process: it serves the Restate
// workflow handlers the scan scheduler invokes (ConnectorRunWorkflow,
// EnrichmentSweepWorkflow) and a minimal ops HTTP surface
// (/healthz, /readyz) — merged from the teacher's cmd/api and
// cmd/workflows entrypoints, retargeted from its ingest/query gateway
// to the discovery-and-correlation engine's own durable workflows.
func main() {
	logger, err := zap.NewProduction()
	if err != nil {
		panic("failed to initialize logger: " + err.Error())
	}
	defer logger.Sync()

	surrealURL := getEnv("SURREALDB_URL", "ws://localhost:8000/rpc")
	surrealUser := getEnv("SURREALDB_USER", "root")
	surrealPass := getEnv("SURREALDB_PASS", "root")
	surrealNS := getEnv("SURREALDB_NAMESPACE", "sentinel")
	surrealDB := getEnv("SURREALDB_DATABASE", "sentinel")
	scanDSN := getEnv("SCAN_DB_DSN", "sentinel.db")
	objectDir := getEnv("ENGRAM_OBJECT_DIR", "./engram-objects")
	opsPort := getEnv("OPS_PORT", "8080")
	workflowPort := getEnv("WORKFLOW_PORT", "9080")

	logger.Info("initializing sentineld",
		zap.String("ops_port", opsPort),
		zap.String("workflow_port", workflowPort),
		zap.String("surrealdb_url", surrealURL))

	ctx := context.Background()

	db, err := surrealdb.New(surrealURL)
	if err != nil {
		logger.Fatal("failed to connect to graph store", zap.Error(err), zap.String("url", surrealURL))
	}
	defer db.Close(ctx)

	if _, err := db.SignIn(ctx, surrealdb.Auth{Username: surrealUser, Password: surrealPass}); err != nil {
		logger.Fatal("failed to authenticate with graph store", zap.Error(err))
	}
	if err := db.Use(ctx, surrealNS, surrealDB); err != nil {
		logger.Fatal("failed to select graph namespace/database", zap.Error(err),
			zap.String("namespace", surrealNS), zap.String("database", surrealDB))
	}
	logger.Info("connected to graph store", zap.String("namespace", surrealNS), zap.String("database", surrealDB))

	bus := graphstore.NopEventBus{}
	graph := graphstore.NewSurrealStore(db, logger, bus)

	objectStore, err := engram.NewFileObjectStore(objectDir)
	if err != nil {
		logger.Fatal("failed to initialize engram object store", zap.Error(err), zap.String("dir", objectDir))
	}
	indexStore := engram.NewSurrealIndexStore(db)
	engrams := engram.NewManager(objectStore, indexStore, nil)

	scanStore, err := orchestrator.Open(scanDSN)
	if err != nil {
		logger.Fatal("failed to open scan history store", zap.Error(err), zap.String("dsn", scanDSN))
	}
	defer scanStore.Close()

	resolver, err := secrets.Open(secrets.Config{ServiceName: getEnv("SECRETS_SERVICE_NAME", "sentinel")})
	if err != nil {
		logger.Fatal("failed to open secret store", zap.Error(err))
	}

	registry := orchestrator.Registry{
		domain.ConnectorAWS:     aws.New("aws"),
		domain.ConnectorAzure:   azure.New("azure", getEnv("AZURE_SUBSCRIPTION_ID", "")),
		domain.ConnectorGCP:     gcp.New("gcp", getEnv("GCP_PROJECT_ID", "")),
		domain.ConnectorEntraID: entraid.New("entra_id"),
		domain.ConnectorOkta:    okta.New("okta", getEnv("OKTA_ORG_URL", "")),
	}

	nvdAPIKey := getEnv("NVD_API_KEY", "")
	if nvdAPIKey == "" {
		logger.Warn("NVD_API_KEY not set, using public rate limit")
	}
	enrich := &enrichment.Orchestrator{
		Store:   graph,
		Engrams: engrams,
		Bus:     bus,
		KEV:     enrichment.NewKEVClient(enrichment.DefaultKEVRefreshInterval),
		NVD:     enrichment.NewNVDClient(nvdAPIKey),
		EPSS:    enrichment.NewEPSSClient(),
	}

	orch := orchestrator.New(registry, scanStore, graph, engrams, bus, resolver, enrich)

	connectorWorkflow := orchestrator.NewConnectorRunWorkflow(orch)
	enrichmentWorkflow := orchestrator.NewEnrichmentSweepWorkflow(orch)

	restateServer := server.NewRestate().
		Bind(restate.Reflect(connectorWorkflow)).
		Bind(restate.Reflect(enrichmentWorkflow))

	workflowHandler, err := restateServer.Handler()
	if err != nil {
		logger.Fatal("failed to create Restate handler", zap.Error(err))
	}
	workflowHTTP := &http.Server{
		Addr:         ":" + workflowPort,
		Handler:      workflowHandler,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	opsHTTP := &http.Server{
		Addr:         ":" + opsPort,
		Handler:      opsRouter(logger),
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 5 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	serverErrors := make(chan error, 2)
	go func() {
		logger.Info("workflow server starting", zap.String("addr", workflowHTTP.Addr))
		if err := workflowHTTP.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			serverErrors <- err
		}
	}()
	go func() {
		logger.Info("ops server starting", zap.String("addr", opsHTTP.Addr))
		if err := opsHTTP.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			serverErrors <- err
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM, syscall.SIGINT)

	select {
	case err := <-serverErrors:
		logger.Fatal("server failed", zap.Error(err))
	case sig := <-stop:
		logger.Info("shutdown signal received", zap.String("signal", sig.String()))
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		if err := workflowHTTP.Shutdown(shutdownCtx); err != nil {
			logger.Error("workflow server shutdown failed", zap.Error(err))
		}
		if err := opsHTTP.Shutdown(shutdownCtx); err != nil {
			logger.Error("ops server shutdown failed", zap.Error(err))
		}
		logger.Info("sentineld stopped")
	}
}

func opsRouter(logger *zap.Logger) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID())
	r.Use(middleware.Logger(logger))
	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte(`{"status":"ok"}`))
	})
	r.Get("/readyz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte(`{"status":"ready"}`))
	})
	return r
}

func getEnv(key, defaultValue string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultValue
}
