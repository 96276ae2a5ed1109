package security

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/patrickmn/go-cache"

	"github.com/parkwatch/parkwatch-go/internal/conf"
	"github.com/parkwatch/parkwatch-go/internal/datastore"
	"github.com/parkwatch/parkwatch-go/internal/errors"
	"github.com/parkwatch/parkwatch-go/internal/gate"
	"github.com/parkwatch/parkwatch-go/internal/observability"
)

// Outcome classifies an exit evaluation.
type Outcome int

const (
	// OutcomeAuthorized means payment was verified and the gate opened.
	OutcomeAuthorized Outcome = iota
	// OutcomeDenied means payment was not verified; the escalation machine
	// advanced and an alert was raised.
	OutcomeDenied
	// OutcomeSuppressed means the plate was seen again inside the exit
	// cooldown window and the evaluation was skipped entirely.
	OutcomeSuppressed
)

// String returns the decision label used in logs and metrics.
func (o Outcome) String() string {
	switch o {
	case OutcomeAuthorized:
		return "authorized"
	case OutcomeDenied:
		return "denied"
	case OutcomeSuppressed:
		return "suppressed"
	}
	return "unknown"
}

// Decision is the result of one exit evaluation.
type Decision struct {
	Plate    string
	Outcome  Outcome
	State    State
	Attempts int
	Alert    *datastore.SecurityAlert // set on denial only
}

// Evaluator performs exit checks: payment verification against the session
// log, per-plate cooldown suppression, exit record keeping and gate control.
// Verification fails closed: if the session log cannot be read the exit is
// treated as unpaid.
type Evaluator struct {
	store     *datastore.Store
	escalator *Escalator
	gates     *gate.Controller
	cooldown  *cache.Cache
	settings  conf.ExitSettings
	logger    *slog.Logger
	metrics   *observability.SecurityMetrics
	now       func() time.Time
}

// NewEvaluator creates an exit evaluator. metrics may be nil.
func NewEvaluator(store *datastore.Store, escalator *Escalator, gates *gate.Controller, settings conf.ExitSettings, logger *slog.Logger, metrics *observability.SecurityMetrics) *Evaluator {
	if logger == nil {
		logger = slog.Default()
	}
	window := time.Duration(settings.Cooldown) * time.Second
	return &Evaluator{
		store:     store,
		escalator: escalator,
		gates:     gates,
		cooldown:  cache.New(window, 2*window),
		settings:  settings,
		logger:    logger.With("service", "exit"),
		metrics:   metrics,
		now:       time.Now,
	}
}

// SetClock overrides the time source. Tests only. The cooldown cache keeps
// its own wall clock.
func (ev *Evaluator) SetClock(now func() time.Time) {
	ev.now = now
}

// EvaluateExit runs the full exit check for a plate. Every non-suppressed
// evaluation appends an exit record, authorized or not; suppressed duplicates
// inside the cooldown window leave no trace beyond a debug log.
func (ev *Evaluator) EvaluateExit(plate string) (Decision, error) {
	decision := Decision{Plate: plate}

	if !datastore.ValidPlate(plate) {
		return decision, errors.Newf("invalid plate %q", plate).
			Component("security").
			Category(errors.CategoryValidation).
			Context("plate", plate).
			Build()
	}

	if _, seen := ev.cooldown.Get(plate); seen {
		decision.Outcome = OutcomeSuppressed
		ev.logger.Debug("exit evaluation suppressed by cooldown", "plate", plate)
		ev.countDecision(decision.Outcome)
		return decision, nil
	}
	ev.cooldown.SetDefault(plate, struct{}{})

	now := ev.now()
	paid, entryTime := ev.paymentVerified(plate)

	if paid {
		ev.escalator.Reset(plate)
		decision.Outcome = OutcomeAuthorized
		decision.State = StateClean

		if err := ev.appendExitRecord(plate, entryTime, now, datastore.ExitAuthorized, "PAYMENT_VERIFIED"); err != nil {
			return decision, err
		}

		ev.logger.Info("exit authorized", "plate", plate)
		if ev.gates != nil {
			ev.gates.Pulse(gate.SignalOpen, time.Duration(ev.settings.GateOpenDuration)*time.Second)
		}
		ev.countDecision(decision.Outcome)
		return decision, nil
	}

	// Denied path: escalate first so the exit record carries the tier.
	alert, err := ev.escalator.RecordDenied(plate)
	if err != nil {
		return decision, err
	}
	decision.Outcome = OutcomeDenied
	decision.Attempts = ev.escalator.Attempts(plate)
	decision.State = stateForAttempts(decision.Attempts, ev.settings.LockdownThreshold)
	decision.Alert = &alert

	if err := ev.appendExitRecord(plate, entryTime, now, datastore.ExitUnauthorized, string(alert.AlertType)); err != nil {
		return decision, err
	}

	ev.countDecision(decision.Outcome)
	return decision, nil
}

// paymentVerified reports whether the plate's most recent session is paid.
// A missing session, a pending latest session or any read failure all deny
// the exit. Returns the entry time of the latest session, or the zero time
// when the plate has none.
func (ev *Evaluator) paymentVerified(plate string) (bool, time.Time) {
	sessions, err := ev.store.ReadSessions()
	if err != nil {
		ev.logger.Error("session log read failed, denying exit", "plate", plate, "error", err)
		return false, time.Time{}
	}

	var latest *datastore.Session
	for i := range sessions {
		if sessions[i].Plate != plate {
			continue
		}
		if latest == nil || !sessions[i].EntryTime.Before(latest.EntryTime) {
			latest = &sessions[i]
		}
	}
	if latest == nil {
		return false, time.Time{}
	}
	return latest.Status == datastore.StatusPaid, latest.EntryTime
}

// appendExitRecord writes the exit log row for one evaluation.
func (ev *Evaluator) appendExitRecord(plate string, entryTime, exitTime time.Time, exitType datastore.ExitType, status string) error {
	if entryTime.IsZero() {
		entryTime = exitTime
	}
	record := datastore.ExitRecord{
		Plate:          plate,
		EntryTime:      entryTime,
		ExitTime:       exitTime,
		Duration:       formatElapsed(exitTime.Sub(entryTime)),
		ExitType:       exitType,
		SecurityStatus: status,
	}
	if err := ev.store.AppendExit(&record); err != nil {
		ev.logger.Error("failed to append exit record", "plate", plate, "error", err)
		return err
	}
	return nil
}

// countDecision updates the exit decision counter.
func (ev *Evaluator) countDecision(outcome Outcome) {
	if ev.metrics != nil {
		ev.metrics.ExitsTotal.WithLabelValues(outcome.String()).Inc()
	}
}

// formatElapsed renders an elapsed duration as H:MM:SS.
func formatElapsed(d time.Duration) string {
	if d < 0 {
		d = 0
	}
	total := int(d.Seconds())
	return fmt.Sprintf("%d:%02d:%02d", total/3600, (total%3600)/60, total%60)
}
