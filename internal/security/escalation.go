// Package security implements exit verification and the tiered escalation
// state machine for unauthorized exit attempts. Counter state lives only in
// process memory; a restart returns every plate to Clean. This is a known
// limitation of the deployment, not an accident.
package security

import (
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/parkwatch/parkwatch-go/internal/conf"
	"github.com/parkwatch/parkwatch-go/internal/datastore"
	"github.com/parkwatch/parkwatch-go/internal/gate"
	"github.com/parkwatch/parkwatch-go/internal/observability"
)

// State is the escalation tier of a plate.
//
// Transition table, driven only by denied exit evaluations and verified
// payments:
//
//	state      attempts  on denial      on verified payment
//	Clean      0         -> Warned      Clean
//	Warned     1         -> Elevated    -> Clean
//	Elevated   2         -> Lockdown    -> Clean
//	Lockdown   >=3       Lockdown       -> Clean
//
// Lockdown is absorbing under denials; only a verified payment releases it.
type State int

const (
	StateClean State = iota
	StateWarned
	StateElevated
	StateLockdown
)

// String returns the display name of a state.
func (s State) String() string {
	switch s {
	case StateClean:
		return "clean"
	case StateWarned:
		return "warned"
	case StateElevated:
		return "elevated"
	case StateLockdown:
		return "lockdown"
	}
	return "unknown"
}

// stateForAttempts maps a cumulative attempt count to its tier. threshold is
// the lockdown threshold (default 3): the attempt just below it is Elevated,
// anything at or above it is Lockdown.
func stateForAttempts(attempts, threshold int) State {
	if threshold < 2 {
		threshold = 2
	}
	switch {
	case attempts <= 0:
		return StateClean
	case attempts >= threshold:
		return StateLockdown
	case attempts == threshold-1:
		return StateElevated
	default:
		return StateWarned
	}
}

// Alert actions per tier. All tiers share the same fixed alarm duration;
// the tier changes the severity and signal only, never the duration.
const (
	actionStandard = "alarm activated, gate blocked"
	actionElevated = "high priority alarm, personnel notified"
	actionLockdown = "lockdown initiated"
)

// IncidentReport is the structured record generated when a plate reaches
// lockdown.
type IncidentReport struct {
	ID        string    `json:"id"`
	Timestamp time.Time `json:"timestamp"`
	Plate     string    `json:"plate"`
	Attempts  int       `json:"attempts"`
	AlertType string    `json:"alert_type"`
	Action    string    `json:"action"`
	Details   string    `json:"details"`
}

// Escalator tracks unauthorized exit attempts per plate and drives the
// tiered alert protocol. All counter access is serialized through one mutex;
// state never leaks between plates.
type Escalator struct {
	mu       sync.Mutex
	attempts map[string]int
	reports  []IncidentReport

	store    *datastore.Store
	gates    *gate.Controller
	settings conf.ExitSettings
	logger   *slog.Logger
	metrics  *observability.SecurityMetrics
	now      func() time.Time
}

// NewEscalator creates the escalation state machine. metrics may be nil.
func NewEscalator(store *datastore.Store, gates *gate.Controller, settings conf.ExitSettings, logger *slog.Logger, metrics *observability.SecurityMetrics) *Escalator {
	if logger == nil {
		logger = slog.Default()
	}
	return &Escalator{
		attempts: make(map[string]int),
		store:    store,
		gates:    gates,
		settings: settings,
		logger:   logger.With("service", "security"),
		metrics:  metrics,
		now:      time.Now,
	}
}

// SetClock overrides the time source. Tests only.
func (e *Escalator) SetClock(now func() time.Time) {
	e.now = now
}

// Attempts returns the current attempt count for a plate.
func (e *Escalator) Attempts(plate string) int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.attempts[plate]
}

// StateOf returns the current escalation state of a plate.
func (e *Escalator) StateOf(plate string) State {
	return stateForAttempts(e.Attempts(plate), e.settings.LockdownThreshold)
}

// Reset deletes the attempt counter for a plate, returning it to Clean.
// Invoked only on a verified payment or authorized exit for that plate.
func (e *Escalator) Reset(plate string) {
	e.mu.Lock()
	had := e.attempts[plate] > 0
	delete(e.attempts, plate)
	e.mu.Unlock()

	if had {
		e.logger.Info("escalation counter reset", "plate", plate)
	}
}

// RecordDenied advances the state machine for a denied exit evaluation:
// increments the plate's counter, classifies the tier, appends the security
// alert row, raises the alarm signal and, on lockdown, generates an incident
// report. The alert row feeds the normal detect/reconcile/broadcast path; it
// is not broadcast directly to avoid double delivery.
func (e *Escalator) RecordDenied(plate string) (datastore.SecurityAlert, error) {
	e.mu.Lock()
	e.attempts[plate]++
	attempts := e.attempts[plate]
	e.mu.Unlock()

	state := stateForAttempts(attempts, e.settings.LockdownThreshold)
	alert := datastore.SecurityAlert{
		Timestamp: e.now(),
		Plate:     plate,
		Status:    "DENIED",
	}

	var signal gate.Signal
	switch state {
	case StateWarned:
		alert.AlertType = datastore.AlertStandard
		alert.ActionTaken = actionStandard
		alert.PersonnelNotified = false
		signal = gate.SignalStandardAlert
	case StateElevated:
		alert.AlertType = datastore.AlertHighPriority
		alert.ActionTaken = actionElevated
		alert.PersonnelNotified = true
		signal = gate.SignalHighAlert
	default:
		alert.AlertType = datastore.AlertCriticalBreach
		alert.ActionTaken = actionLockdown
		alert.PersonnelNotified = true
		signal = gate.SignalCriticalAlert
	}

	e.logger.Warn("unauthorized exit attempt",
		"plate", plate,
		"attempts", attempts,
		"state", state.String(),
		"alert_type", alert.AlertType)

	if state == StateLockdown {
		e.generateIncidentReport(plate, attempts, &alert)
	}

	if err := e.store.AppendAlert(&alert); err != nil {
		return alert, err
	}

	if e.metrics != nil {
		e.metrics.AlertsTotal.WithLabelValues(string(alert.AlertType)).Inc()
	}

	// Identical fixed duration for every tier.
	if e.gates != nil {
		e.gates.Pulse(signal, time.Duration(e.settings.AlarmDuration)*time.Second)
	}

	return alert, nil
}

// generateIncidentReport records a lockdown incident.
func (e *Escalator) generateIncidentReport(plate string, attempts int, alert *datastore.SecurityAlert) {
	report := IncidentReport{
		ID:        uuid.New().String(),
		Timestamp: alert.Timestamp,
		Plate:     plate,
		Attempts:  attempts,
		AlertType: string(alert.AlertType),
		Action:    alert.ActionTaken,
		Details:   fmt.Sprintf("plate %s reached lockdown after %d unauthorized exit attempts", plate, attempts),
	}

	e.mu.Lock()
	e.reports = append(e.reports, report)
	e.mu.Unlock()

	e.logger.Error("lockdown incident",
		"report_id", report.ID,
		"plate", plate,
		"attempts", attempts)

	if e.metrics != nil {
		e.metrics.IncidentReports.Inc()
	}
}

// IncidentReports returns a copy of all incident reports generated during
// this process lifetime.
func (e *Escalator) IncidentReports() []IncidentReport {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]IncidentReport, len(e.reports))
	copy(out, e.reports)
	return out
}
