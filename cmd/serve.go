package cmd

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"strconv"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/JakeFAU/adaptive-frontier/internal/api"
	"github.com/JakeFAU/adaptive-frontier/internal/frontier"
)

const (
	readHeaderTimeout = 5 * time.Second
	shutdownTimeout   = 10 * time.Second
)

// newServeCmd creates the 'serve' subcommand.
func newServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Serve the frontier over HTTP",
		Long: `Exposes the frontier to an external crawler: submit candidates, lease
the next URI, report it finished and read statistics. The frontier is
terminated when the server shuts down.`,
		RunE: withRuntime(runServe),
	}
}

func runServe(cmd *cobra.Command, _ []string, rt *runtime) error {
	ctx := cmd.Context()
	err := serveHTTP(ctx, newHTTPServer(rt), rt.logger)

	if terr := rt.app.Scheduler().Terminate(context.WithoutCancel(ctx)); terr != nil && !errors.Is(terr, frontier.ErrTerminated) {
		rt.logger.Warn("terminate frontier failed", zap.Error(terr))
	}
	return err
}

// newHTTPServer builds the API server. PORT, when set, overrides the
// configured port.
func newHTTPServer(rt *runtime) *http.Server {
	port := rt.cfg.Server.Port
	if raw := os.Getenv("PORT"); raw != "" {
		if p, err := strconv.Atoi(raw); err == nil && p > 0 {
			port = p
		}
	}
	deps := api.Deps{
		Scheduler: rt.app.Scheduler(),
		Preparer:  rt.app.Preparer(),
		Ready:     rt.app.Ready,
	}
	if recent := rt.app.Recent(); recent != nil {
		deps.Events = recent
	}
	handler := api.NewServer(deps, rt.cfg, rt.logger)
	return &http.Server{
		Addr:              fmt.Sprintf(":%d", port),
		Handler:           handler.Handler(),
		ReadHeaderTimeout: readHeaderTimeout,
	}
}

// serveHTTP runs srv until ctx is done, then shuts it down gracefully.
func serveHTTP(ctx context.Context, srv *http.Server, logger *zap.Logger) error {
	errCh := make(chan error, 1)
	go func() {
		logger.Info("http server started", zap.String("addr", srv.Addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err, ok := <-errCh:
		if ok {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	logger.Info("shutdown initiated")
	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown http server: %w", err)
	}
	logger.Info("shutdown complete")
	return nil
}
