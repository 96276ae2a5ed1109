package api

import (
	"errors"
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/parkwatch/parkwatch-go/internal/datastore"
	"github.com/parkwatch/parkwatch-go/internal/entry"
	"github.com/parkwatch/parkwatch-go/internal/payment"
	"github.com/parkwatch/parkwatch-go/internal/reconcile"
	"github.com/parkwatch/parkwatch-go/internal/security"
)

// plateRequest is the body for entry and exit requests.
type plateRequest struct {
	Plate string `json:"plate"`
}

// paymentRequest is the body for payment authorization requests.
type paymentRequest struct {
	Plate   string `json:"plate"`
	Balance int    `json:"balance"`
}

// errorResponse is the common error body.
type errorResponse struct {
	Error string `json:"error"`
}

// GetStats recomputes and returns the aggregate facility statistics. Stats
// are always derived from a full rescan of the logs, never from cached
// increments.
func (c *Controller) GetStats(ctx echo.Context) error {
	sessions, err := c.store.ReadSessions()
	if err != nil {
		return c.serverError(ctx, "failed to read sessions", err)
	}
	exits, err := c.store.ReadExits()
	if err != nil {
		return c.serverError(ctx, "failed to read exits", err)
	}
	stats := reconcile.Compute(sessions, exits, c.settings.Pricing.HourlyRate)
	return ctx.JSON(http.StatusOK, stats)
}

// GetSessions returns all session rows.
func (c *Controller) GetSessions(ctx echo.Context) error {
	sessions, err := c.store.ReadSessions()
	if err != nil {
		return c.serverError(ctx, "failed to read sessions", err)
	}
	return ctx.JSON(http.StatusOK, sessions)
}

// GetExits returns all exit records.
func (c *Controller) GetExits(ctx echo.Context) error {
	exits, err := c.store.ReadExits()
	if err != nil {
		return c.serverError(ctx, "failed to read exits", err)
	}
	return ctx.JSON(http.StatusOK, exits)
}

// GetAlerts returns all security alert rows.
func (c *Controller) GetAlerts(ctx echo.Context) error {
	alerts, err := c.store.ReadAlerts()
	if err != nil {
		return c.serverError(ctx, "failed to read alerts", err)
	}
	return ctx.JSON(http.StatusOK, alerts)
}

// GetTransactions returns the raw payment transaction log lines.
func (c *Controller) GetTransactions(ctx echo.Context) error {
	lines, err := c.store.ReadTransactions()
	if err != nil {
		return c.serverError(ctx, "failed to read transactions", err)
	}
	return ctx.JSON(http.StatusOK, lines)
}

// GetActivity returns the buffered recent activity feed, oldest first.
func (c *Controller) GetActivity(ctx echo.Context) error {
	return ctx.JSON(http.StatusOK, c.broadcaster.Activities())
}

// GetIncidents returns the incident reports generated this process lifetime.
func (c *Controller) GetIncidents(ctx echo.Context) error {
	return ctx.JSON(http.StatusOK, c.escalator.IncidentReports())
}

// PostEntry registers a vehicle entry. A duplicate inside the cooldown
// window returns 200 with suppressed set; an invalid plate returns 400.
func (c *Controller) PostEntry(ctx echo.Context) error {
	var req plateRequest
	if err := ctx.Bind(&req); err != nil {
		return ctx.JSON(http.StatusBadRequest, errorResponse{Error: "invalid request body"})
	}

	session, err := c.registrar.Register(req.Plate)
	if err != nil {
		if errors.Is(err, entry.ErrInvalidPlate) {
			return ctx.JSON(http.StatusBadRequest, errorResponse{Error: "invalid plate format"})
		}
		return c.serverError(ctx, "entry registration failed", err)
	}

	if session == nil {
		return ctx.JSON(http.StatusOK, map[string]any{
			"plate":      req.Plate,
			"suppressed": true,
		})
	}
	return ctx.JSON(http.StatusCreated, map[string]any{
		"plate":      session.Plate,
		"entry_time": session.EntryTime.Format(datastore.TimestampFormat),
		"status":     "PENDING",
	})
}

// PostExit runs an exit evaluation for a plate.
func (c *Controller) PostExit(ctx echo.Context) error {
	var req plateRequest
	if err := ctx.Bind(&req); err != nil {
		return ctx.JSON(http.StatusBadRequest, errorResponse{Error: "invalid request body"})
	}

	decision, err := c.evaluator.EvaluateExit(req.Plate)
	if err != nil {
		if !datastore.ValidPlate(req.Plate) {
			return ctx.JSON(http.StatusBadRequest, errorResponse{Error: "invalid plate format"})
		}
		return c.serverError(ctx, "exit evaluation failed", err)
	}

	body := map[string]any{
		"plate":    decision.Plate,
		"decision": decision.Outcome.String(),
	}
	if decision.Outcome == security.OutcomeDenied {
		body["attempts"] = decision.Attempts
		body["state"] = decision.State.String()
		body["alert_type"] = string(decision.Alert.AlertType)
	}
	return ctx.JSON(http.StatusOK, body)
}

// PostPayment authorizes a payment, the same operation the terminal protocol
// performs over TCP.
func (c *Controller) PostPayment(ctx echo.Context) error {
	var req paymentRequest
	if err := ctx.Bind(&req); err != nil {
		return ctx.JSON(http.StatusBadRequest, errorResponse{Error: "invalid request body"})
	}
	if req.Balance < 0 {
		return ctx.JSON(http.StatusBadRequest, errorResponse{Error: "invalid balance"})
	}

	result, err := c.payments.Authorize(req.Plate, req.Balance)
	if err != nil {
		return c.serverError(ctx, "payment authorization failed", err)
	}

	body := map[string]any{
		"plate": result.Plate,
	}
	switch result.Kind {
	case payment.ResultSuccess:
		body["outcome"] = "success"
		body["charged"] = result.Charged
		body["new_balance"] = result.NewBalance
		body["duration"] = result.Duration
	case payment.ResultInsufficientFunds:
		body["outcome"] = "insufficient_funds"
		body["owed"] = result.Owed
		body["balance"] = result.Balance
	case payment.ResultNoSessions:
		body["outcome"] = "no_sessions"
	}
	return ctx.JSON(http.StatusOK, body)
}

// serverError logs the error and returns a 500 with a generic body.
func (c *Controller) serverError(ctx echo.Context, msg string, err error) error {
	c.logger.Error(msg, "path", ctx.Path(), "error", err)
	return ctx.JSON(http.StatusInternalServerError, errorResponse{Error: msg})
}
