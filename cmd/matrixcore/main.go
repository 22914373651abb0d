// Command matrixcore runs the scoring engine's service endpoints and
// operational utilities. Configuration is environment-driven; see the
// MATRIXCORE_* variables read by the storage and blob factories.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"expvar"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"matrixcore/internal/blob"
	"matrixcore/internal/core"
	"matrixcore/internal/presence"
	"matrixcore/pkg/domain"
)

func main() {
	if err := newRootCommand().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	root := &cobra.Command{
		Use:           "matrixcore",
		Short:         "collaborative matrix cell-scoring engine",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.AddCommand(newServeCommand())
	root.AddCommand(newExportCommand())
	return root
}

func newServeCommand() *cobra.Command {
	var addr string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "serve the presence channel and operational endpoints",
		RunE: func(cmd *cobra.Command, args []string) error {
			logger, err := zap.NewProduction()
			if err != nil {
				return err
			}
			defer func() { _ = logger.Sync() }()

			store, err := core.OpenPersistentStore(core.NewDefaultRulesEngine())
			if err != nil {
				return fmt.Errorf("open store: %w", err)
			}

			registry := presence.NewMemoryRegistry()
			promRegistry := prometheus.NewRegistry()
			promRegistry.MustRegister(collectors.NewGoCollector())
			promRegistry.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

			recorder, err := core.NewPrometheusMetricsRecorder(promRegistry)
			if err != nil {
				return fmt.Errorf("register metrics: %w", err)
			}
			opts := []core.Option{
				core.WithLogger(logger),
				core.WithRegistry(registry),
				core.WithMetrics(recorder),
			}
			if blobs, err := blob.Open(cmd.Context()); err == nil {
				opts = append(opts, core.WithBlobStore(blobs))
			} else {
				logger.Warn("blob store unavailable, exports disabled", zap.Error(err))
			}
			service := core.NewService(store, opts...)

			mux := http.NewServeMux()
			mux.Handle("/presence", presence.NewHub(registry, logger))
			mux.HandleFunc("/sessions", openSessionHandler(service))
			mux.HandleFunc("/changes", fetchChangesHandler(service))
			mux.Handle("/metrics", promhttp.HandlerFor(promRegistry, promhttp.HandlerOpts{}))
			mux.Handle("/debug/vars", expvar.Handler())
			mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(http.StatusOK)
				_, _ = w.Write([]byte("ok"))
			})

			server := &http.Server{
				Addr:              addr,
				Handler:           mux,
				ReadHeaderTimeout: 10 * time.Second,
			}
			errCh := make(chan error, 1)
			go func() {
				logger.Info("listening", zap.String("addr", addr))
				errCh <- server.ListenAndServe()
			}()

			stop := make(chan os.Signal, 1)
			signal.Notify(stop, os.Interrupt, syscall.SIGTERM)
			select {
			case err := <-errCh:
				if errors.Is(err, http.ErrServerClosed) {
					return nil
				}
				return err
			case sig := <-stop:
				logger.Info("shutting down", zap.String("signal", sig.String()))
				ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
				defer cancel()
				return server.Shutdown(ctx)
			}
		},
	}
	cmd.Flags().StringVar(&addr, "addr", envDefault("MATRIXCORE_ADDR", ":8080"), "listen address")
	return cmd
}

func newExportCommand() *cobra.Command {
	var projectID, matrixID, userID int64
	cmd := &cobra.Command{
		Use:   "export",
		Short: "store a JSON snapshot of a matrix in the artifact store",
		RunE: func(cmd *cobra.Command, args []string) error {
			logger, err := zap.NewProduction()
			if err != nil {
				return err
			}
			defer func() { _ = logger.Sync() }()

			store, err := core.OpenPersistentStore(core.NewDefaultRulesEngine())
			if err != nil {
				return fmt.Errorf("open store: %w", err)
			}
			blobs, err := blob.Open(cmd.Context())
			if err != nil {
				return fmt.Errorf("open blob store: %w", err)
			}
			service := core.NewService(store,
				core.WithLogger(logger),
				core.WithBlobStore(blobs),
			)
			session, err := service.OpenSession(cmd.Context(), projectID, matrixID, userID, true)
			if err != nil {
				return err
			}
			defer service.CloseSession(session)
			info, err := service.ExportMatrix(cmd.Context(), session)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "exported %s (%d bytes)\n", info.Key, info.Size)
			if info.URL != "" {
				fmt.Fprintln(cmd.OutOrStdout(), info.URL)
			}
			return nil
		},
	}
	cmd.Flags().Int64Var(&projectID, "project", 0, "project id")
	cmd.Flags().Int64Var(&matrixID, "matrix", 0, "matrix id")
	cmd.Flags().Int64Var(&userID, "user", 0, "acting user id")
	_ = cmd.MarkFlagRequired("project")
	_ = cmd.MarkFlagRequired("matrix")
	_ = cmd.MarkFlagRequired("user")
	return cmd
}

// openSessionHandler issues a session token for a project member. Callers are
// expected to arrive pre-authenticated; identity verification lives outside
// the engine.
func openSessionHandler(service *core.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}
		projectID := queryInt64(r, "project_id")
		matrixID := queryInt64(r, "matrix_id")
		userID := queryInt64(r, "user_id")
		readonly := r.URL.Query().Get("readonly") == "1"
		session, err := service.OpenSession(r.Context(), projectID, matrixID, userID, readonly)
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, session)
	}
}

func fetchChangesHandler(service *core.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		matrixID := queryInt64(r, "matrix_id")
		token := r.URL.Query().Get("token")
		session, ok := service.Registry().Lookup(matrixID, token)
		if !ok {
			http.Error(w, "unknown session", http.StatusNotFound)
			return
		}
		changes, err := service.FetchChanges(r.Context(), session)
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, changes)
	}
}

func queryInt64(r *http.Request, key string) int64 {
	v, _ := strconv.ParseInt(r.URL.Query().Get(key), 10, 64)
	return v
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.As(err, new(domain.PermissionError)):
		status = http.StatusForbidden
	case errors.As(err, new(domain.ErrNotFound)):
		status = http.StatusNotFound
	case domain.IsUserFacing(err):
		status = http.StatusBadRequest
	}
	http.Error(w, err.Error(), status)
}

func envDefault(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
