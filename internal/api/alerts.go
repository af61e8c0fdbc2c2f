package api

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/tokenwatch/tokenwatch/internal/alerting"
	"github.com/tokenwatch/tokenwatch/internal/datastore/entities"
	"github.com/tokenwatch/tokenwatch/internal/datastore/repository"
)

const (
	defaultHistoryLimit = 50
	maxHistoryLimit     = 200
)

// GetCatalog returns the alert types, operators, metrics, and channels
// available for config building.
func (c *Controller) GetCatalog(ctx echo.Context) error {
	return ctx.JSON(http.StatusOK, alerting.GetCatalog())
}

// ListConfigs returns alert configs, optionally filtered by query params.
func (c *Controller) ListConfigs(ctx echo.Context) error {
	filter := repository.AlertConfigFilter{
		AlertType: ctx.QueryParam("alert_type"),
		Severity:  ctx.QueryParam("severity"),
	}
	if enabled := ctx.QueryParam("enabled"); enabled != "" {
		v := enabled == "true"
		filter.Enabled = &v
	}
	if builtIn := ctx.QueryParam("built_in"); builtIn != "" {
		v := builtIn == "true"
		filter.BuiltIn = &v
	}

	configs, err := c.configRepo.ListConfigs(ctx.Request().Context(), filter)
	if err != nil {
		c.log.Error().Err(err).Msg("failed to list alert configs")
		return echo.NewHTTPError(http.StatusInternalServerError, "failed to list alert configs")
	}
	return ctx.JSON(http.StatusOK, map[string]any{
		"configs": configs,
		"count":   len(configs),
	})
}

// GetConfig returns one alert config by ID.
func (c *Controller) GetConfig(ctx echo.Context) error {
	id, err := parseUintParam(ctx, "id")
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid config ID")
	}

	config, err := c.configRepo.GetConfig(ctx.Request().Context(), id)
	if err != nil {
		if errors.Is(err, repository.ErrAlertConfigNotFound) {
			return echo.NewHTTPError(http.StatusNotFound, "alert config not found")
		}
		c.log.Error().Err(err).Uint("config_id", id).Msg("failed to get alert config")
		return echo.NewHTTPError(http.StatusInternalServerError, "failed to get alert config")
	}
	return ctx.JSON(http.StatusOK, config)
}

// CreateConfig creates a new alert config with its child rows.
func (c *Controller) CreateConfig(ctx echo.Context) error {
	var config entities.AlertConfig
	if err := ctx.Bind(&config); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	if err := validateConfig(&config); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	config.ID = 0
	config.BuiltIn = false

	if err := c.configRepo.CreateConfig(ctx.Request().Context(), &config); err != nil {
		c.log.Error().Err(err).Str("name", config.Name).Msg("failed to create alert config")
		return echo.NewHTTPError(http.StatusInternalServerError, "failed to create alert config")
	}

	c.refreshEngine(ctx)
	c.log.Info().Uint("config_id", config.ID).Str("name", config.Name).Msg("alert config created")
	return ctx.JSON(http.StatusCreated, config)
}

// UpdateConfig replaces an existing alert config.
func (c *Controller) UpdateConfig(ctx echo.Context) error {
	id, err := parseUintParam(ctx, "id")
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid config ID")
	}

	existing, err := c.configRepo.GetConfig(ctx.Request().Context(), id)
	if err != nil {
		if errors.Is(err, repository.ErrAlertConfigNotFound) {
			return echo.NewHTTPError(http.StatusNotFound, "alert config not found")
		}
		return echo.NewHTTPError(http.StatusInternalServerError, "failed to get alert config")
	}

	var config entities.AlertConfig
	if err := ctx.Bind(&config); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	if err := validateConfig(&config); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	config.ID = existing.ID
	config.BuiltIn = existing.BuiltIn

	if err := c.configRepo.UpdateConfig(ctx.Request().Context(), &config); err != nil {
		c.log.Error().Err(err).Uint("config_id", id).Msg("failed to update alert config")
		return echo.NewHTTPError(http.StatusInternalServerError, "failed to update alert config")
	}

	c.refreshEngine(ctx)
	return ctx.JSON(http.StatusOK, config)
}

// ToggleConfig enables or disables one alert config.
func (c *Controller) ToggleConfig(ctx echo.Context) error {
	id, err := parseUintParam(ctx, "id")
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid config ID")
	}

	var body struct {
		Enabled bool `json:"enabled"`
	}
	if err := ctx.Bind(&body); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}

	if err := c.configRepo.ToggleConfig(ctx.Request().Context(), id, body.Enabled); err != nil {
		if errors.Is(err, repository.ErrAlertConfigNotFound) {
			return echo.NewHTTPError(http.StatusNotFound, "alert config not found")
		}
		c.log.Error().Err(err).Uint("config_id", id).Msg("failed to toggle alert config")
		return echo.NewHTTPError(http.StatusInternalServerError, "failed to toggle alert config")
	}

	c.refreshEngine(ctx)
	return ctx.JSON(http.StatusOK, map[string]any{"id": id, "enabled": body.Enabled})
}

// DeleteConfig removes one alert config and its child rows.
func (c *Controller) DeleteConfig(ctx echo.Context) error {
	id, err := parseUintParam(ctx, "id")
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid config ID")
	}

	if err := c.configRepo.DeleteConfig(ctx.Request().Context(), id); err != nil {
		if errors.Is(err, repository.ErrAlertConfigNotFound) {
			return echo.NewHTTPError(http.StatusNotFound, "alert config not found")
		}
		c.log.Error().Err(err).Uint("config_id", id).Msg("failed to delete alert config")
		return echo.NewHTTPError(http.StatusInternalServerError, "failed to delete alert config")
	}

	c.refreshEngine(ctx)
	return ctx.NoContent(http.StatusNoContent)
}

// TestFireConfig fires a config's channels with a synthetic event,
// bypassing matching and throttling.
func (c *Controller) TestFireConfig(ctx echo.Context) error {
	id, err := parseUintParam(ctx, "id")
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid config ID")
	}

	result, err := c.engine.TestFireConfig(ctx.Request().Context(), id)
	if err != nil {
		if errors.Is(err, repository.ErrAlertConfigNotFound) {
			return echo.NewHTTPError(http.StatusNotFound, "alert config not found")
		}
		c.log.Error().Err(err).Uint("config_id", id).Msg("test fire failed")
		return echo.NewHTTPError(http.StatusInternalServerError, "test fire failed")
	}
	return ctx.JSON(http.StatusOK, result)
}

// TestChannel sends a sample message through one channel sender.
func (c *Controller) TestChannel(ctx echo.Context) error {
	var body struct {
		Channel     string `json:"channel"`
		Destination string `json:"destination"`
		Message     string `json:"message"`
	}
	if err := ctx.Bind(&body); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	if body.Channel == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "channel is required")
	}
	if body.Message == "" {
		body.Message = "This is a test notification."
	}

	if err := c.engine.TestChannel(ctx.Request().Context(), body.Channel, body.Destination, body.Message); err != nil {
		return ctx.JSON(http.StatusBadGateway, map[string]string{
			"status": "failed",
			"error":  err.Error(),
		})
	}
	return ctx.JSON(http.StatusOK, map[string]string{"status": "sent"})
}

// ListHistory returns paginated alert firing history, newest first.
func (c *Controller) ListHistory(ctx echo.Context) error {
	filter := repository.AlertFireFilter{Limit: defaultHistoryLimit}

	if configID := ctx.QueryParam("config_id"); configID != "" {
		v, err := strconv.ParseUint(configID, 10, 64)
		if err != nil {
			return echo.NewHTTPError(http.StatusBadRequest, "invalid config_id")
		}
		filter.ConfigID = uint(v)
	}
	if since := ctx.QueryParam("since"); since != "" {
		v, err := time.Parse(time.RFC3339, since)
		if err != nil {
			return echo.NewHTTPError(http.StatusBadRequest, "invalid since timestamp, want RFC3339")
		}
		filter.Since = v
	}
	if limit := ctx.QueryParam("limit"); limit != "" {
		if v, err := strconv.Atoi(limit); err == nil && v > 0 {
			filter.Limit = min(v, maxHistoryLimit)
		}
	}
	if offset := ctx.QueryParam("offset"); offset != "" {
		if v, err := strconv.Atoi(offset); err == nil && v >= 0 {
			filter.Offset = v
		}
	}

	fires, total, err := c.store.ListFires(ctx.Request().Context(), filter)
	if err != nil {
		c.log.Error().Err(err).Msg("failed to list alert history")
		return echo.NewHTTPError(http.StatusInternalServerError, "failed to list alert history")
	}
	return ctx.JSON(http.StatusOK, map[string]any{
		"fires":  fires,
		"total":  total,
		"limit":  filter.Limit,
		"offset": filter.Offset,
	})
}

// ListDeliveries returns the delivery records for one firing.
func (c *Controller) ListDeliveries(ctx echo.Context) error {
	fireID := ctx.Param("fire_id")
	records, err := c.store.ListDeliveries(ctx.Request().Context(), fireID)
	if err != nil {
		c.log.Error().Err(err).Str("fire_id", fireID).Msg("failed to list delivery records")
		return echo.NewHTTPError(http.StatusInternalServerError, "failed to list delivery records")
	}
	return ctx.JSON(http.StatusOK, map[string]any{
		"deliveries": records,
		"count":      len(records),
	})
}

// validateConfig rejects config payloads the engine cannot evaluate.
func validateConfig(config *entities.AlertConfig) error {
	if config.Name == "" {
		return errors.New("config name is required")
	}
	if config.AlertType == "" {
		return errors.New("alert type is required")
	}
	if len(config.Thresholds) == 0 {
		return errors.New("at least one threshold is required")
	}
	catalog := alerting.GetCatalog()
	for i := range config.Thresholds {
		th := &config.Thresholds[i]
		if th.Metric == "" {
			return errors.New("threshold metric is required")
		}
		if !catalogHas(catalog.Operators, th.Operator) {
			return errors.New("threshold operator " + strconv.Quote(th.Operator) + " is not supported")
		}
		if th.DurationMin < 0 {
			return errors.New("threshold duration must not be negative")
		}
	}
	for i := range config.Channels {
		if !catalogHas(catalog.Channels, config.Channels[i].Type) {
			return errors.New("channel type " + strconv.Quote(config.Channels[i].Type) + " is not supported")
		}
	}
	return nil
}

func catalogHas(values []alerting.LabeledValue, value string) bool {
	for _, v := range values {
		if v.Value == value {
			return true
		}
	}
	return false
}

// parseUintParam parses a uint route parameter.
func parseUintParam(ctx echo.Context, name string) (uint, error) {
	v, err := strconv.ParseUint(ctx.Param(name), 10, 64)
	if err != nil {
		return 0, err
	}
	return uint(v), nil
}
