package api

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/parkwatch/parkwatch-go/internal/events"
)

// heartbeatInterval keeps idle SSE connections from being reaped by proxies.
const heartbeatInterval = 30 * time.Second

// StreamEvents streams facility events to the client as Server-Sent Events.
// On connect the client receives the last known stats snapshot and the
// buffered activity feed, then live events as they are broadcast. Delivery is
// at-most-once: a client that cannot keep up loses events rather than
// stalling the broadcaster.
func (c *Controller) StreamEvents(ctx echo.Context) error {
	ctx.Response().Header().Set(echo.HeaderContentType, "text/event-stream")
	ctx.Response().Header().Set("Cache-Control", "no-cache")
	ctx.Response().Header().Set("Connection", "keep-alive")
	ctx.Response().WriteHeader(http.StatusOK)

	if c.metrics != nil {
		c.metrics.HTTP.SSEConnectionsTotal.Inc()
		c.metrics.HTTP.SSEConnectionsActive.Inc()
		defer c.metrics.HTTP.SSEConnectionsActive.Dec()
	}

	eventCh, busCtx := c.broadcaster.Subscribe()
	defer c.broadcaster.Unsubscribe(eventCh)

	c.logger.Debug("SSE client connected", "remote", ctx.RealIP())
	defer c.logger.Debug("SSE client disconnected", "remote", ctx.RealIP())

	// Initial state: stats snapshot first, then the buffered activity feed.
	if stats := c.broadcaster.LastStats(); stats != nil {
		if err := writeSSE(ctx, &events.Event{Type: events.EventStats, Stats: stats}); err != nil {
			return nil
		}
	}
	for _, activity := range c.broadcaster.Activities() {
		if err := writeSSE(ctx, &events.Event{Type: events.EventActivity, Activity: activity}); err != nil {
			return nil
		}
	}

	heartbeat := time.NewTicker(heartbeatInterval)
	defer heartbeat.Stop()

	for {
		select {
		case event, ok := <-eventCh:
			if !ok {
				return nil
			}
			if err := writeSSE(ctx, event); err != nil {
				return nil
			}

		case <-heartbeat.C:
			if _, err := fmt.Fprintf(ctx.Response(), ": heartbeat\n\n"); err != nil {
				return nil
			}
			ctx.Response().Flush()

		case <-ctx.Request().Context().Done():
			return nil

		case <-busCtx.Done():
			return nil
		}
	}
}

// writeSSE serializes one event envelope as an SSE message and flushes it.
func writeSSE(ctx echo.Context, event *events.Event) error {
	data, err := json.Marshal(event)
	if err != nil {
		return err
	}
	if _, err := fmt.Fprintf(ctx.Response(), "event: %s\ndata: %s\n\n", event.Type, data); err != nil {
		return err
	}
	ctx.Response().Flush()
	return nil
}
