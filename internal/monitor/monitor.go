// Package monitor implements the change detector: a polling loop that
// watches the append-only logs by size and modification time, classifies
// what changed and drives
// the reconcile/broadcast cycle. The logs remain the single source of truth;
// the monitor only projects them outward.
package monitor

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/parkwatch/parkwatch-go/internal/conf"
	"github.com/parkwatch/parkwatch-go/internal/datastore"
	"github.com/parkwatch/parkwatch-go/internal/events"
	"github.com/parkwatch/parkwatch-go/internal/observability"
	"github.com/parkwatch/parkwatch-go/internal/reconcile"
)

// errorBackoff is the extra pause after a failed poll cycle. Transient file
// errors must never terminate the loop.
const errorBackoff = 2 * time.Second

// watchedTables are polled in a fixed order so one cycle classifies related
// changes deterministically (a payment rewrites sessions and appends a
// transaction line in the same instant).
var watchedTables = []datastore.Table{
	datastore.TableSessions,
	datastore.TableExits,
	datastore.TableAlerts,
	datastore.TableTransactions,
}

// Monitor polls the log files and publishes events when they change.
type Monitor struct {
	store       *datastore.Store
	broadcaster *events.Broadcaster
	pricing     conf.PricingSettings
	interval    time.Duration
	logger      *slog.Logger
	metrics     *observability.MonitorMetrics

	// prints holds the last observed fingerprint per table. Appends grow the
	// file; a payment status rewrite can leave the byte size unchanged (the
	// status digit flips in place), so the modification time is part of the
	// fingerprint too.
	prints map[datastore.Table]fingerprint
}

// fingerprint identifies one observed state of a log file.
type fingerprint struct {
	size    int64
	modTime time.Time
}

// New creates a change detector over the given store. metrics may be nil.
func New(store *datastore.Store, broadcaster *events.Broadcaster, pricing conf.PricingSettings, settings conf.MonitorSettings, logger *slog.Logger, metrics *observability.MonitorMetrics) *Monitor {
	if logger == nil {
		logger = slog.Default()
	}
	interval := time.Duration(settings.PollInterval) * time.Second
	if interval <= 0 {
		interval = time.Second
	}
	return &Monitor{
		store:       store,
		broadcaster: broadcaster,
		pricing:     pricing,
		interval:    interval,
		logger:      logger.With("service", "monitor"),
		metrics:     metrics,
		prints:      make(map[datastore.Table]fingerprint),
	}
}

// stat fingerprints a table file. A missing file has the zero fingerprint.
func (m *Monitor) stat(table datastore.Table) (fingerprint, error) {
	size, modTime, err := m.store.Stat(table)
	if err != nil {
		return fingerprint{}, err
	}
	return fingerprint{size: size, modTime: modTime}, nil
}

// Run polls until the context is cancelled. The first cycle publishes a
// baseline stats snapshot without emitting per-row activities for rows that
// existed before startup.
func (m *Monitor) Run(ctx context.Context) error {
	if err := m.store.EnsureFiles(); err != nil {
		return fmt.Errorf("log store initialization failed: %w", err)
	}

	// Prime fingerprints so pre-existing rows are not replayed as fresh
	// activity.
	for _, table := range watchedTables {
		fp, err := m.stat(table)
		if err != nil {
			m.logger.Warn("initial stat failed", "table", string(table), "error", err)
			continue
		}
		m.prints[table] = fp
	}

	if err := m.publishStats(); err != nil {
		m.logger.Error("initial reconciliation failed", "error", err)
	}

	m.logger.Info("change detector started", "interval", m.interval.String())

	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			m.logger.Info("change detector stopped")
			return nil
		case <-ticker.C:
			if err := m.poll(); err != nil {
				m.logger.Error("poll cycle failed", "error", err)
				if m.metrics != nil {
					m.metrics.ReconciliationErrors.Inc()
				}
				select {
				case <-ctx.Done():
					return nil
				case <-time.After(errorBackoff):
				}
			}
		}
	}
}

// poll runs one detection cycle: compare sizes, classify changed tables,
// then recompute and publish stats if anything moved.
func (m *Monitor) poll() error {
	changed := false
	var firstErr error

	for _, table := range watchedTables {
		fp, err := m.stat(table)
		if err != nil {
			if firstErr == nil {
				firstErr = err
			}
			continue
		}
		if m.metrics != nil {
			m.metrics.LogSizeBytes.WithLabelValues(string(table)).Set(float64(fp.size))
		}
		if fp == m.prints[table] {
			continue
		}
		m.prints[table] = fp
		changed = true

		if err := m.classify(table); err != nil {
			m.logger.Warn("change classification failed",
				"table", string(table), "error", err)
			if firstErr == nil {
				firstErr = err
			}
		}
	}

	if changed {
		if err := m.publishStats(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// classify reads the newest row of a changed table and publishes the
// matching event.
func (m *Monitor) classify(table datastore.Table) error {
	switch table {
	case datastore.TableSessions:
		return m.classifySession()
	case datastore.TableExits:
		return m.classifyExit()
	case datastore.TableAlerts:
		return m.classifyAlert()
	case datastore.TableTransactions:
		return m.classifyTransaction()
	}
	return nil
}

// classifySession distinguishes a fresh entry from a payment status rewrite
// by the status of the newest row: new rows always start pending, while a
// rewrite flips rows to paid.
func (m *Monitor) classifySession() error {
	session, err := m.store.LastSession()
	if err != nil {
		return err
	}
	if session == nil {
		return nil
	}

	if session.Status == datastore.StatusPaid {
		m.publishActivity(events.ActivityPayment, session.Plate,
			"Payment recorded", events.StatusSuccess)
	} else {
		m.publishActivity(events.ActivityEntry, session.Plate,
			"Vehicle entered the facility", events.StatusInfo)
	}
	return nil
}

func (m *Monitor) classifyExit() error {
	exit, err := m.store.LastExit()
	if err != nil {
		return err
	}
	if exit == nil {
		return nil
	}

	if exit.ExitType == datastore.ExitAuthorized {
		m.publishActivity(events.ActivityExit, exit.Plate,
			"Vehicle exited, duration "+exit.Duration, events.StatusSuccess)
	} else {
		m.publishActivity(events.ActivityExit, exit.Plate,
			"Unauthorized exit attempt blocked", events.StatusError)
	}
	return nil
}

func (m *Monitor) classifyAlert() error {
	alert, err := m.store.LastAlert()
	if err != nil {
		return err
	}
	if alert == nil {
		return nil
	}

	m.broadcaster.PublishSecurityAlert(&events.SecurityAlertEvent{
		Timestamp: alert.Timestamp,
		Plate:     alert.Plate,
		Details:   alert.ActionTaken,
		Status:    alert.Status,
		AlertType: string(alert.AlertType),
	})
	m.publishActivity(events.ActivitySecurityAlert, alert.Plate,
		string(alert.AlertType)+": "+alert.ActionTaken, events.StatusWarning)
	m.countEvent("security_alert")
	return nil
}

func (m *Monitor) classifyTransaction() error {
	line, err := m.store.LastTransaction()
	if err != nil {
		return err
	}
	if line == "" {
		return nil
	}

	stats, err := m.computeStats()
	if err != nil {
		return err
	}
	m.broadcaster.PublishTransaction(&events.Transaction{
		LogLine: line,
		Type:    "payment",
		Stats:   stats,
	})
	m.countEvent("transaction")
	return nil
}

// publishActivity broadcasts one activity feed entry.
func (m *Monitor) publishActivity(activityType events.ActivityType, plate, details string, status events.ActivityStatus) {
	m.broadcaster.PublishActivity(events.NewActivity(activityType, plate, details, status))
	m.countEvent("activity")
}

// computeStats performs a full rescan of the session and exit logs.
func (m *Monitor) computeStats() (*reconcile.SystemStats, error) {
	sessions, err := m.store.ReadSessions()
	if err != nil {
		return nil, err
	}
	exits, err := m.store.ReadExits()
	if err != nil {
		return nil, err
	}
	stats := reconcile.Compute(sessions, exits, m.pricing.HourlyRate)
	if m.metrics != nil {
		m.metrics.ReconciliationsTotal.Inc()
	}
	return &stats, nil
}

// publishStats recomputes the materialized view and broadcasts it.
func (m *Monitor) publishStats() error {
	stats, err := m.computeStats()
	if err != nil {
		return err
	}
	m.broadcaster.PublishStats(stats)
	m.countEvent("stats")
	return nil
}

func (m *Monitor) countEvent(eventType string) {
	if m.metrics != nil {
		m.metrics.EventsBroadcast.WithLabelValues(eventType).Inc()
	}
}
