package main

import (
	"context"
	"errors"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/lb-conn/wssecurity/application/usecases"
	"github.com/lb-conn/wssecurity/infrastructure/transport"
)

var listenAddress string

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve the sayHello SOAP operation behind signature verification",
	RunE: func(cmd *cobra.Command, args []string) error {
		app, logger, reg, cfg, err := buildApp(cmd)
		if err != nil {
			return err
		}
		defer func() { _ = logger.Sync() }()

		if cmd.Flags().Changed("listen") {
			cfg.Listen = listenAddress
		}

		e := newServer(app, reg, logger, cfg.MaxBodyBytes)

		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		errCh := make(chan error, 1)
		go func() {
			logger.Info("SOAP service running", zap.String("listen", cfg.Listen))
			if err := e.Start(cfg.Listen); err != nil && !errors.Is(err, http.ErrServerClosed) {
				errCh <- err
			}
			close(errCh)
		}()

		select {
		case err := <-errCh:
			return err
		case <-ctx.Done():
		}

		logger.Warn("shutting down server")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := e.Shutdown(shutdownCtx); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	},
}

func init() {
	serveCmd.Flags().StringVar(&listenAddress, "listen", "", "listen address (overrides the configuration)")
}

// newServer builds the echo router: the verified SOAP endpoint, metrics and
// a health check. reg may be nil.
func newServer(app *usecases.Application, reg *prometheus.Registry, logger *zap.Logger, maxBodyBytes int64) *echo.Echo {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	e.GET("/healthz", func(c echo.Context) error {
		return c.String(http.StatusOK, "ok")
	})
	if reg != nil {
		e.GET("/metrics", echo.WrapHandler(promhttp.HandlerFor(reg, promhttp.HandlerOpts{})))
	}

	soap := e.Group("/wsdl", transport.EchoMiddleware(app, transport.WithMaxBodyBytes(maxBodyBytes)))
	soap.POST("", sayHello(app, logger))
	return e
}
