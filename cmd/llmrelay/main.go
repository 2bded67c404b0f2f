package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/gorilla/mux"
	"github.com/rs/cors"
	"github.com/valkey-io/valkey-go"
	"go.uber.org/zap"

	"github.com/llmrelay/llmrelay/config"
	"github.com/llmrelay/llmrelay/health"
	"github.com/llmrelay/llmrelay/monitoring"
	"github.com/llmrelay/llmrelay/selection"
	"github.com/llmrelay/llmrelay/utils"
)

func handleAuthentication(apiKey string, handler http.Handler) http.Handler {
	return http.HandlerFunc(func(httpResponse http.ResponseWriter, httpRequest *http.Request) {
		headerSplit := strings.Split(httpRequest.Header.Get("Authorization"), " ")
		if len(headerSplit) != 2 ||
			strings.ToLower(headerSplit[0]) != "bearer" ||
			(headerSplit[1] != "" && headerSplit[1] != apiKey) {
			http.Error(httpResponse, "Unauthorized", http.StatusUnauthorized)
			return
		}

		handler.ServeHTTP(httpResponse, httpRequest)
	})
}

// newTracker picks the Valkey-backed tracker when an endpoint is configured,
// so multiple replicas share health state, and falls back to the in-process
// tracker otherwise. The returned closer is a no-op for the memory tracker.
func newTracker(cfg *config.Config, logger *zap.SugaredLogger) (health.Tracker, func(), error) {
	trackerConfig, err := cfg.TrackerConfig()
	if err != nil {
		return nil, nil, err
	}

	if cfg.ValkeyEndpoint == "" {
		logger.Info("No Valkey endpoint configured, tracking health in memory")
		return health.NewMemoryTracker(trackerConfig), func() {}, nil
	}

	valkeyClient, err := valkey.NewClient(valkey.ClientOption{
		InitAddress: []string{cfg.ValkeyEndpoint},
	})
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create Valkey client: %v", err)
	}
	return health.NewValkeyTracker(valkeyClient, trackerConfig), valkeyClient.Close, nil
}

func main() {
	logger := utils.Must(zap.NewProduction())
	defer logger.Sync()
	sugar := logger.Sugar()

	configPath := flag.String("config", "config.yaml", "path to config file")
	flag.Parse()
	cfg, err := config.LoadConfig(*configPath, sugar)
	if err != nil {
		sugar.Fatalw("Failed to load config", "error", err)
	}
	sugar.Infow("Loaded config", "providers", len(cfg.Providers), "port", cfg.Port)

	tracker, closeTracker, err := newTracker(cfg, sugar)
	if err != nil {
		sugar.Fatalw("Failed to create health tracker", "error", err)
	}
	defer closeTracker()

	metrics, err := monitoring.NewMetrics(cfg.MetricsNamespace)
	if err != nil {
		sugar.Fatalw("Failed to create metrics", "error", err)
	}

	selector := selection.NewSelector(tracker, metrics, sugar)
	apiHandler := selection.NewAPIHandler(selector, tracker, cfg.Providers, metrics, sugar)

	router := mux.NewRouter()
	apiHandler.RegisterRoutes(router)
	router.Handle("/metrics", metrics.Handler()).Methods("GET")

	corsMiddleware := cors.New(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders: []string{"*"},
		Debug:          false,
	})

	address := fmt.Sprintf(":%d", cfg.Port)
	httpServer := &http.Server{
		Addr:    address,
		Handler: corsMiddleware.Handler(handleAuthentication(cfg.AdminApiKey, router)),
	}

	shutdownSignal := make(chan os.Signal, 1)
	signal.Notify(shutdownSignal, os.Interrupt, syscall.SIGTERM)

	go func() {
		<-shutdownSignal
		sugar.Infow("Shutting down server...")

		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()

		if err := httpServer.Shutdown(ctx); err != nil {
			sugar.Fatalw("Server forced to shutdown", "error", err)
		}
	}()

	sugar.Infow("Starting server", "address", address)
	if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		sugar.Fatalw("Failed to start server", "error", err)
	}

	sugar.Infow("Server exited gracefully")
}
