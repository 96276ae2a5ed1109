// Package entry registers vehicle entries: plate validation, per-plate
// cooldown suppression, session row append and gate control. A registered
// entry always starts as a pending session; payment is a separate concern.
package entry

import (
	"log/slog"
	"time"

	"github.com/patrickmn/go-cache"

	"github.com/parkwatch/parkwatch-go/internal/conf"
	"github.com/parkwatch/parkwatch-go/internal/datastore"
	"github.com/parkwatch/parkwatch-go/internal/errors"
	"github.com/parkwatch/parkwatch-go/internal/gate"
)

// ErrInvalidPlate rejects plates that do not match the ABC123D format.
var ErrInvalidPlate = errors.Newf("invalid plate format").
	Component("entry").
	Category(errors.CategoryValidation).
	Build()

// Registrar logs vehicle entries into the session table.
type Registrar struct {
	store    *datastore.Store
	gates    *gate.Controller
	cooldown *cache.Cache
	gateOpen time.Duration
	logger   *slog.Logger
	now      func() time.Time
}

// NewRegistrar creates an entry registrar. gateOpen controls how long the
// gate stays open after a registered entry.
func NewRegistrar(store *datastore.Store, gates *gate.Controller, settings conf.EntrySettings, gateOpen time.Duration, logger *slog.Logger) *Registrar {
	if logger == nil {
		logger = slog.Default()
	}
	window := time.Duration(settings.Cooldown) * time.Second
	return &Registrar{
		store:    store,
		gates:    gates,
		cooldown: cache.New(window, 2*window),
		gateOpen: gateOpen,
		logger:   logger.With("service", "entry"),
		now:      time.Now,
	}
}

// SetClock overrides the time source. Tests only.
func (r *Registrar) SetClock(now func() time.Time) {
	r.now = now
}

// Register validates the plate and appends a pending session row, unless the
// plate was already registered inside the cooldown window. Returns the
// created session, or nil when the entry was suppressed.
func (r *Registrar) Register(plate string) (*datastore.Session, error) {
	if !datastore.ValidPlate(plate) {
		return nil, ErrInvalidPlate
	}

	if _, seen := r.cooldown.Get(plate); seen {
		r.logger.Debug("entry suppressed by cooldown", "plate", plate)
		return nil, nil
	}
	r.cooldown.SetDefault(plate, struct{}{})

	session := &datastore.Session{
		Plate:     plate,
		Status:    datastore.StatusPending,
		EntryTime: r.now(),
	}
	if err := r.store.AppendSession(session); err != nil {
		r.logger.Error("failed to append session", "plate", plate, "error", err)
		return nil, err
	}

	r.logger.Info("vehicle entry registered", "plate", plate)
	if r.gates != nil {
		r.gates.Pulse(gate.SignalOpen, r.gateOpen)
	}
	return session, nil
}
