package app

import (
	"context"
	"errors"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"pricewatch/internal/api"
	"pricewatch/internal/version"
)

const shutdownTimeout = 10 * time.Second

// Serve exposes the HTTP cycle trigger until interrupted.
func (a *App) Serve(ctx context.Context) error {
	ctx, cancel := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	svc, closeStore, err := a.newService(ctx, nil)
	if err != nil {
		return err
	}
	defer closeStore()

	handler := api.NewHandler(svc, version.Version, a.Config.Server.CycleTimeout, a.Logger)
	server := &http.Server{
		Addr:              a.Config.Server.Addr,
		Handler:           handler.SetupRoutes(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		a.Logger.Info().Str("addr", server.Addr).Msg("http trigger listening")
		errCh <- server.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancelShutdown()
	if err := server.Shutdown(shutdownCtx); err != nil {
		a.Logger.Warn().Err(err).Msg("http server shutdown incomplete")
		return err
	}
	a.Logger.Info().Msg("http trigger stopped")
	return nil
}
