// Command orderstub serves a minimal order-creation API for trying out load
// tests locally.
package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

func newCommand() *cobra.Command {
	var (
		addr  string
		opts  stubOptions
		debug bool
	)
	cmd := &cobra.Command{
		Use:           "orderstub",
		Short:         "Serve POST /api/orders returning 201 with an orderId",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			if opts.errorRate < 0 || opts.errorRate > 1 {
				return fmt.Errorf("--error-rate must be between 0 and 1")
			}
			logger, err := zap.NewProduction()
			if debug {
				logger, err = zap.NewDevelopment()
			}
			if err != nil {
				return err
			}
			defer func() { _ = logger.Sync() }()

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return serve(ctx, addr, newOrderService(opts, logger), logger)
		},
	}
	f := cmd.Flags()
	f.StringVar(&addr, "addr", ":8080", "listen address")
	f.DurationVar(&opts.delay, "delay", 0, "fixed response delay")
	f.DurationVar(&opts.jitter, "jitter", 0, "random extra delay, up to this much")
	f.Float64Var(&opts.errorRate, "error-rate", 0, "fraction of orders answered with 503")
	f.Int64Var(&opts.seed, "seed", 0, "random seed for jitter and failures")
	f.BoolVar(&debug, "debug", false, "log every order")
	return cmd
}

func serve(ctx context.Context, addr string, svc *orderService, logger *zap.Logger) error {
	srv := &http.Server{Addr: addr, Handler: svc.routes(), ReadHeaderTimeout: 5 * time.Second}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("listening", zap.String("addr", addr))
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	if err := <-errCh; !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	logger.Info("stopped", zap.Int64("created", svc.created.Load()), zap.Int64("failed", svc.failed.Load()))
	return nil
}

func main() {
	if err := newCommand().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}
