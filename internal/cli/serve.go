package cli

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/spf13/cobra"

	"github.com/Brownie44l1/car-classifier/internal/handlers"
	"github.com/Brownie44l1/car-classifier/internal/metrics"
)

func newServeCmd(a *app) *cobra.Command {
	var (
		port, backend, modelURL string
		cacheSize               int
	)

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the web upload page and prediction API",
		Long: `Loads the trained weights and class list (downloading the weights
from the configured URL when missing) and serves the upload page and
JSON prediction endpoints.`,
		Example: `  # Start server on default port 8080
  carclassifier serve

  # Serve an exported ONNX graph instead
  carclassifier serve --backend onnx --port 3000`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			flags := cmd.Flags()
			cfg := &a.cfg
			if flags.Changed("port") {
				cfg.Server.Port = port
			}
			if flags.Changed("backend") {
				cfg.Model.Backend = backend
			}
			if flags.Changed("model-url") {
				cfg.Model.URL = modelURL
			}
			if flags.Changed("cache-size") {
				cfg.Server.CacheSize = cacheSize
			}
			if err := cfg.Validate(); err != nil {
				return err
			}

			serverMetrics := metrics.NewServerMetrics(service)
			predictor, err := a.loadPredictor(cmd.Context(), serverMetrics.ObserveModelLoad)
			if err != nil {
				return err
			}
			defer predictor.Close()

			handler, err := handlers.NewHandler(predictor, handlers.Options{
				CacheSize:      cfg.Server.CacheSize,
				MaxUploadBytes: int64(cfg.Server.MaxUploadMB) << 20,
				Metrics:        serverMetrics,
				Logger:         a.logger,
				Backend:        cfg.Model.Backend,
			})
			if err != nil {
				return err
			}

			addr := ":" + cfg.Server.Port
			server := &http.Server{
				Addr:              addr,
				Handler:           handlers.NewRouter(handler),
				ReadHeaderTimeout: 10 * time.Second,
			}

			serverErr := make(chan error, 1)
			go func() {
				a.logger.Info("Server starting", "addr", addr, "url", "http://localhost"+addr,
					"backend", cfg.Model.Backend, "classes", predictor.Classes().Len())
				if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
					serverErr <- err
				}
			}()

			select {
			case <-cmd.Context().Done():
				a.logger.Info("Shutting down server...")
				shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
				defer cancel()
				if err := server.Shutdown(shutdownCtx); err != nil {
					a.logger.Error("Server shutdown failed", "error", err)
					return err
				}
				a.logger.Info("Server stopped")
				return nil
			case err := <-serverErr:
				return err
			}
		},
	}

	flags := cmd.Flags()
	flags.StringVar(&port, "port", "8080", "Port to listen on")
	flags.StringVar(&backend, "backend", "born", "Inference backend: born or onnx")
	flags.StringVar(&modelURL, "model-url", "", "Download URL used when the weights file is missing")
	flags.IntVar(&cacheSize, "cache-size", 128, "Prediction cache entries (0 disables)")

	return cmd
}
