// Package api exposes the HTTP surface: REST endpoints over the log store,
// the SSE event stream for dashboards and the Prometheus metrics endpoint.
package api

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"

	"github.com/parkwatch/parkwatch-go/internal/conf"
	"github.com/parkwatch/parkwatch-go/internal/datastore"
	"github.com/parkwatch/parkwatch-go/internal/entry"
	"github.com/parkwatch/parkwatch-go/internal/events"
	"github.com/parkwatch/parkwatch-go/internal/observability"
	"github.com/parkwatch/parkwatch-go/internal/payment"
	"github.com/parkwatch/parkwatch-go/internal/security"
)

// shutdownTimeout bounds how long in-flight requests may run during shutdown.
const shutdownTimeout = 5 * time.Second

// Controller manages the HTTP server and its routes.
type Controller struct {
	Echo        *echo.Echo
	store       *datastore.Store
	broadcaster *events.Broadcaster
	registrar   *entry.Registrar
	evaluator   *security.Evaluator
	escalator   *security.Escalator
	payments    *payment.Service
	settings    *conf.Settings
	logger      *slog.Logger
	metrics     *observability.Metrics
}

// New creates the API controller and registers all routes.
func New(settings *conf.Settings, store *datastore.Store, broadcaster *events.Broadcaster,
	registrar *entry.Registrar, evaluator *security.Evaluator, escalator *security.Escalator,
	payments *payment.Service, logger *slog.Logger, metrics *observability.Metrics) *Controller {

	if logger == nil {
		logger = slog.Default()
	}

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.Use(middleware.Recover())

	c := &Controller{
		Echo:        e,
		store:       store,
		broadcaster: broadcaster,
		registrar:   registrar,
		evaluator:   evaluator,
		escalator:   escalator,
		payments:    payments,
		settings:    settings,
		logger:      logger.With("service", "api"),
		metrics:     metrics,
	}
	c.initRoutes()
	return c
}

// initRoutes registers all API endpoints.
func (c *Controller) initRoutes() {
	v1 := c.Echo.Group("/api/v1")

	v1.GET("/stats", c.GetStats)
	v1.GET("/sessions", c.GetSessions)
	v1.GET("/exits", c.GetExits)
	v1.GET("/alerts", c.GetAlerts)
	v1.GET("/transactions", c.GetTransactions)
	v1.GET("/activity", c.GetActivity)
	v1.GET("/incidents", c.GetIncidents)
	v1.GET("/stream", c.StreamEvents)

	v1.POST("/entries", c.PostEntry)
	v1.POST("/exits", c.PostExit)
	v1.POST("/payments", c.PostPayment)

	if c.metrics != nil {
		c.Echo.GET("/metrics", echo.WrapHandler(c.metrics.Handler()))
	}
}

// Start runs the HTTP server until the context is cancelled.
func (c *Controller) Start(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		addr := ":" + c.settings.WebServer.Port
		c.logger.Info("web server started", "address", addr)
		if err := c.Echo.Start(addr); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
			return
		}
		errCh <- nil
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := c.Echo.Shutdown(shutdownCtx); err != nil {
			return err
		}
		return <-errCh
	}
}
