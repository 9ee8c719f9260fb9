package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/ruteri/attested-randomness/httpserver"
	"github.com/ruteri/attested-randomness/kms"
	"github.com/urfave/cli/v2"
)

// waitForShares serves the admin API until enough shares arrive to
// reconstruct the master seed, then stops serving it.
func waitForShares(cCtx *cli.Context, shamirKMS *kms.ShamirKMS, logger *slog.Logger) (*kms.SimpleKMS, error) {
	handler := httpserver.NewAdminHandler(shamirKMS, logger)
	adminAddr := cCtx.String("admin-addr")
	srv := &http.Server{
		Addr:              adminAddr,
		Handler:           handler.AdminRouter(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		logger.Info("Waiting for master seed shares", "adminAddress", adminAddr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("Admin server failed", "err", err)
		}
	}()
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(ctx)
	}()

	ctx, cancel := context.WithTimeout(cCtx.Context, cCtx.Duration("unlock-timeout"))
	defer cancel()
	if err := handler.WaitForUnlock(ctx); err != nil {
		return nil, err
	}

	logger.Info("Master seed reconstructed")
	return shamirKMS.SimpleKMS()
}
