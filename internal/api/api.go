// Package api serves the HTTP management surface: alert config CRUD,
// firing history, channel tests, and Prometheus metrics. It is the sole
// writer of alert config data; the engine only reads it through its
// snapshot refresh.
package api

import (
	"context"
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"github.com/tokenwatch/tokenwatch/internal/alerting"
	"github.com/tokenwatch/tokenwatch/internal/datastore/repository"
)

// AlertEngine is the slice of the alerting engine the API drives.
type AlertEngine interface {
	Refresh(ctx context.Context) error
	TestChannel(ctx context.Context, channelType, destination, sampleMessage string) error
	TestFireConfig(ctx context.Context, configID uint) (alerting.FireResult, error)
}

// Controller holds the API handlers and their dependencies.
type Controller struct {
	configRepo repository.AlertConfigRepository
	store      repository.AlertEventStore
	engine     AlertEngine
	log        zerolog.Logger
}

// New creates a Controller.
func New(configRepo repository.AlertConfigRepository, store repository.AlertEventStore, engine AlertEngine, log zerolog.Logger) *Controller {
	return &Controller{
		configRepo: configRepo,
		store:      store,
		engine:     engine,
		log:        log.With().Str("component", "api").Logger(),
	}
}

// NewServer builds an echo instance with the controller's routes and
// standard middleware attached.
func (c *Controller) NewServer() *echo.Echo {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.Use(middleware.Recover())
	c.RegisterRoutes(e)
	return e
}

// RegisterRoutes attaches all handlers to e.
func (c *Controller) RegisterRoutes(e *echo.Echo) {
	e.GET("/healthz", c.Healthz)
	e.GET("/metrics", echo.WrapHandler(promhttp.Handler()))

	alerts := e.Group("/api/v1/alerts")
	alerts.GET("/catalog", c.GetCatalog)
	alerts.GET("/configs", c.ListConfigs)
	alerts.POST("/configs", c.CreateConfig)
	alerts.GET("/configs/:id", c.GetConfig)
	alerts.PUT("/configs/:id", c.UpdateConfig)
	alerts.PATCH("/configs/:id/toggle", c.ToggleConfig)
	alerts.DELETE("/configs/:id", c.DeleteConfig)
	alerts.POST("/configs/:id/test", c.TestFireConfig)
	alerts.POST("/test-channel", c.TestChannel)
	alerts.GET("/history", c.ListHistory)
	alerts.GET("/history/:fire_id/deliveries", c.ListDeliveries)
}

// Healthz reports liveness.
func (c *Controller) Healthz(ctx echo.Context) error {
	return ctx.JSON(http.StatusOK, map[string]string{"status": "ok"})
}

// refreshEngine reloads the engine's config snapshot after a write so
// changes take effect without waiting for the next poll.
func (c *Controller) refreshEngine(ctx echo.Context) {
	if c.engine == nil {
		return
	}
	if err := c.engine.Refresh(ctx.Request().Context()); err != nil {
		c.log.Error().Err(err).Msg("failed to refresh engine config snapshot")
	}
}
