// Package payment implements the payment authorization service: computing
// the amount owed for a plate, validating the presented balance and
// atomically flipping pending sessions to paid. Every outcome is appended to
// the transaction log, which feeds back into the normal detect, reconcile
// and broadcast path.
package payment

import (
	"fmt"
	"log/slog"
	"math"
	"time"

	"github.com/parkwatch/parkwatch-go/internal/conf"
	"github.com/parkwatch/parkwatch-go/internal/datastore"
	"github.com/parkwatch/parkwatch-go/internal/observability"
)

// ResultKind classifies the outcome of an authorization attempt.
type ResultKind int

const (
	// ResultSuccess means all pending sessions were flipped to paid.
	ResultSuccess ResultKind = iota
	// ResultInsufficientFunds means the balance did not cover the amount
	// owed. A business outcome, not a system failure; nothing is mutated.
	ResultInsufficientFunds
	// ResultNoSessions means the plate has no pending sessions.
	// Informational, not an error; the balance is unchanged.
	ResultNoSessions
)

// Result is the outcome of a payment authorization or quote.
type Result struct {
	Kind       ResultKind
	Plate      string
	Sessions   int    // number of pending sessions covered
	Owed       int    // total amount owed
	Balance    int    // balance presented with the request
	NewBalance int    // balance after deduction, success only
	Charged    int    // amount actually charged, success only
	Duration   string // total parking duration, H:MM:SS
}

// Quote is the per-plate charge computation before any mutation.
type Quote struct {
	Sessions     int
	Owed         int
	TotalMinutes float64
	Duration     string
}

// Service computes charges and authorizes payments against the session log.
type Service struct {
	store   *datastore.Store
	pricing conf.PricingSettings
	logger  *slog.Logger
	metrics *observability.PaymentMetrics
	now     func() time.Time

	// onPaid is invoked after a successful authorization, once per plate.
	// Used to reset the security escalation counter and open the gate.
	onPaid func(plate string)
}

// NewService creates a payment service over the given store and pricing
// policy. metrics and onPaid may be nil.
func NewService(store *datastore.Store, pricing conf.PricingSettings, logger *slog.Logger, metrics *observability.PaymentMetrics) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		store:   store,
		pricing: pricing,
		logger:  logger.With("service", "payment"),
		metrics: metrics,
		now:     time.Now,
	}
}

// SetClock overrides the time source. Tests only.
func (s *Service) SetClock(now func() time.Time) {
	s.now = now
}

// OnPaid registers a callback invoked after every successful authorization.
func (s *Service) OnPaid(fn func(plate string)) {
	s.onPaid = fn
}

// sessionCharge computes the charge for a single pending session: elapsed
// time rounded up to the next full hour at the hourly rate, never below the
// minimum charge. Sessions are never pro-rated downward and there is no free
// grace period: a session with zero eligible minutes still owes the minimum.
func (s *Service) sessionCharge(entryTime, now time.Time) (charge int, minutes float64) {
	minutes = now.Sub(entryTime).Minutes()
	if minutes < 0 {
		minutes = 0
	}
	hours := int(math.Ceil(minutes / 60))
	charge = hours * s.pricing.HourlyRate
	if charge < s.pricing.MinimumCharge {
		charge = s.pricing.MinimumCharge
	}
	return charge, minutes
}

// quoteSessions computes the total owed over the given sessions for a plate.
func (s *Service) quoteSessions(sessions []datastore.Session, plate string, now time.Time) Quote {
	var quote Quote
	for i := range sessions {
		session := &sessions[i]
		if session.Plate != plate || session.Status != datastore.StatusPending {
			continue
		}
		charge, minutes := s.sessionCharge(session.EntryTime, now)
		quote.Owed += charge
		quote.TotalMinutes += minutes
		quote.Sessions++
	}
	quote.Duration = formatDuration(quote.TotalMinutes)
	return quote
}

// Calculate returns the amount currently owed for a plate without mutating
// anything.
func (s *Service) Calculate(plate string) (Quote, error) {
	sessions, err := s.store.ReadSessions()
	if err != nil {
		return Quote{}, err
	}
	return s.quoteSessions(sessions, plate, s.now()), nil
}

// Authorize validates the presented balance against the amount owed and, if
// sufficient, flips every pending session for the plate to paid in a single
// all-or-nothing table update. The read and the write-back happen under one
// store transaction so a concurrent exit check can never observe a partial
// flip or cause a lost update.
func (s *Service) Authorize(plate string, balance int) (Result, error) {
	result := Result{Plate: plate, Balance: balance}
	now := s.now()

	err := s.store.UpdateSessions(func(sessions []datastore.Session) ([]datastore.Session, bool, error) {
		quote := s.quoteSessions(sessions, plate, now)
		result.Sessions = quote.Sessions
		result.Owed = quote.Owed
		result.Duration = quote.Duration

		if quote.Sessions == 0 {
			result.Kind = ResultNoSessions
			return nil, false, nil
		}
		if balance < quote.Owed {
			result.Kind = ResultInsufficientFunds
			return nil, false, nil
		}

		for i := range sessions {
			if sessions[i].Plate == plate && sessions[i].Status == datastore.StatusPending {
				sessions[i].Status = datastore.StatusPaid
			}
		}
		result.Kind = ResultSuccess
		result.Charged = quote.Owed
		result.NewBalance = balance - quote.Owed
		return sessions, true, nil
	})
	if err != nil {
		return result, err
	}

	s.recordOutcome(&result)

	if result.Kind == ResultSuccess && s.onPaid != nil {
		s.onPaid(plate)
	}
	return result, nil
}

// recordOutcome appends the transaction log line and updates metrics.
func (s *Service) recordOutcome(result *Result) {
	line := s.transactionLine(result)
	if err := s.store.AppendTransaction(line); err != nil {
		s.logger.Error("failed to append transaction log", "plate", result.Plate, "error", err)
	}

	switch result.Kind {
	case ResultSuccess:
		s.logger.Info("payment authorized",
			"plate", result.Plate,
			"charged", result.Charged,
			"sessions", result.Sessions,
			"new_balance", result.NewBalance)
		if s.metrics != nil {
			s.metrics.PaymentsTotal.WithLabelValues("success").Inc()
			s.metrics.AmountChargedTotal.Add(float64(result.Charged))
		}
	case ResultInsufficientFunds:
		s.logger.Warn("payment declined, insufficient funds",
			"plate", result.Plate,
			"owed", result.Owed,
			"balance", result.Balance)
		if s.metrics != nil {
			s.metrics.PaymentsTotal.WithLabelValues("insufficient_funds").Inc()
		}
	case ResultNoSessions:
		s.logger.Info("no pending sessions", "plate", result.Plate)
		if s.metrics != nil {
			s.metrics.PaymentsTotal.WithLabelValues("no_sessions").Inc()
		}
	}
}

// transactionLine renders the human-readable transaction log line in the
// format the dashboard and external tooling already parse.
func (s *Service) transactionLine(result *Result) string {
	timestamp := s.now().Format(datastore.TimestampFormat)
	switch result.Kind {
	case ResultSuccess:
		return fmt.Sprintf("%s - %s - SUCCESS: Charged %d RWF for %s parking, Balance: %d → %d RWF",
			timestamp, result.Plate, result.Charged, result.Duration, result.Balance, result.NewBalance)
	case ResultInsufficientFunds:
		return fmt.Sprintf("%s - %s - INSUFFICIENT_FUNDS: Required %d RWF, Available %d RWF",
			timestamp, result.Plate, result.Owed, result.Balance)
	default:
		return fmt.Sprintf("%s - %s - NO_PARKING_SESSIONS: No unpaid sessions found",
			timestamp, result.Plate)
	}
}

// formatDuration renders total minutes as H:MM:SS with zero seconds,
// matching the existing transaction log format.
func formatDuration(totalMinutes float64) string {
	if totalMinutes < 0 {
		totalMinutes = 0
	}
	hours := int(totalMinutes) / 60
	minutes := int(totalMinutes) % 60
	return fmt.Sprintf("%d:%02d:00", hours, minutes)
}
