package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"fraud-serving/internal/api"
	"fraud-serving/internal/cfg"
	"fraud-serving/internal/common"
	"fraud-serving/internal/features"
	"fraud-serving/internal/metrics"
	"fraud-serving/internal/ml"
	"fraud-serving/internal/service"
	"fraud-serving/internal/storage"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

func newServeCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the prediction HTTP API",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			c, err := loadSettings()
			if err != nil {
				return fmt.Errorf("config load failed: %w", err)
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			if err := runServe(ctx, c); err != nil {
				log.Error().Err(err).Msg("Error during startup")
				return err
			}
			return nil
		},
	}
}

// instruments holds the metrics sinks of every component. All fields stay
// nil when metrics are disabled.
type instruments struct {
	ml      ml.MetricsInterface
	store   storage.MetricsInterface
	service service.MetricsInterface
	http    api.MetricsInterface
	handler http.Handler
}

func newInstruments(enabled bool) instruments {
	if !enabled {
		return instruments{}
	}
	m := metrics.New()
	return instruments{ml: m, store: m, service: m, http: m, handler: promhttp.Handler()}
}

func runServe(ctx context.Context, c cfg.Settings) error {
	inst := newInstruments(c.MetricsEnabled)

	projector, err := features.NewProjector(c.FeatureCols)
	if err != nil {
		return fmt.Errorf("feature columns: %w", err)
	}

	log.Info().Str("backend", c.ModelBackend).Str("path", c.ModelWeightPath).Msg("Loading model")
	classifier, closeModel, err := newClassifier(c, inst.ml)
	if err != nil {
		return fmt.Errorf("load model: %w", err)
	}
	defer closeModel()

	store, err := openStore(ctx, c)
	if err != nil {
		return err
	}
	defer store.Close()

	svc := service.New(projector, classifier, storage.Instrument(store, inst.store), inst.service)
	server := api.NewServer(svc, api.Config{
		Port:           c.Port,
		CORSEnabled:    c.CORSEnabled,
		MetricsHandler: inst.handler,
	}, inst.http)

	log.Info().
		Strs("features", projector.Order()).
		Str("store", c.StoreBackend).
		Msg("Service initialized")

	errCh := make(chan error, 1)
	go func() {
		if err := server.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		log.Info().Msg("shutdown signal received")
	case err := <-errCh:
		return fmt.Errorf("http server: %w", err)
	}

	log.Info().Msg("shutting down gracefully...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), common.ShutdownTimeout)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Warn().Err(err).Msg("shutdown timeout, forcing exit")
	}
	log.Info().Msg("Application shutdown complete")
	return nil
}

func newClassifier(c cfg.Settings, m ml.MetricsInterface) (ml.Classifier, func(), error) {
	switch c.ModelBackend {
	case common.ModelBackendRemote:
		clf, err := ml.NewRemoteClassifier(c.ModelURL, c.InferenceTimeout, m)
		if err != nil {
			return nil, nil, err
		}
		return clf, func() {}, nil
	default:
		clf, err := ml.NewScriptClassifier(ml.ScriptConfig{
			ModelPath:      c.ModelWeightPath,
			PythonPath:     c.PythonPath,
			Timeout:        c.InferenceTimeout,
			StartupTimeout: c.ModelStartupTimeout,
		}, m)
		if err != nil {
			return nil, nil, err
		}
		return clf, func() {
			if err := clf.Close(); err != nil {
				log.Warn().Err(err).Msg("model worker did not stop cleanly")
			}
		}, nil
	}
}

func openStore(ctx context.Context, c cfg.Settings) (storage.Store, error) {
	sc := storage.Config{
		Backend:  c.StoreBackend,
		DataPath: c.DataPath,
		Migrate:  c.DB.Migrate,
	}
	if c.StoreBackend == storage.BackendPostgres {
		sc.DSN = c.PostgresDSN()
	} else if err := os.MkdirAll(c.DataPath, 0o755); err != nil {
		return nil, fmt.Errorf("create data path: %w", err)
	}

	store, err := storage.Open(ctx, sc)
	if err != nil {
		return nil, fmt.Errorf("open store: %w", err)
	}
	return store, nil
}
