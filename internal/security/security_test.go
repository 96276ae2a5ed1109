package security

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/parkwatch/parkwatch-go/internal/conf"
	"github.com/parkwatch/parkwatch-go/internal/datastore"
)

var testExitSettings = conf.ExitSettings{
	Cooldown:          60,
	AlarmDuration:     5,
	GateOpenDuration:  10,
	LockdownThreshold: 3,
}

func newTestStore(t *testing.T) *datastore.Store {
	t.Helper()
	store := datastore.New(conf.StoreSettings{
		Path:           t.TempDir(),
		SessionLog:     "plates_log.csv",
		ExitLog:        "exit_log.csv",
		SecurityLog:    "security_log.csv",
		TransactionLog: "payment_log.txt",
	}, nil)
	require.NoError(t, store.EnsureFiles())
	return store
}

func TestStateForAttempts(t *testing.T) {
	tests := []struct {
		attempts int
		want     State
	}{
		{0, StateClean},
		{1, StateWarned},
		{2, StateElevated},
		{3, StateLockdown},
		{7, StateLockdown},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, stateForAttempts(tt.attempts, 3), "attempts=%d", tt.attempts)
	}
}

func TestEscalationSequence(t *testing.T) {
	store := newTestStore(t)
	escalator := NewEscalator(store, nil, testExitSettings, nil, nil)

	// First attempt: standard tier, no personnel notification.
	alert, err := escalator.RecordDenied("RAH972U")
	require.NoError(t, err)
	assert.Equal(t, datastore.AlertStandard, alert.AlertType)
	assert.Equal(t, "alarm activated, gate blocked", alert.ActionTaken)
	assert.False(t, alert.PersonnelNotified)
	assert.Equal(t, StateWarned, escalator.StateOf("RAH972U"))
	assert.Empty(t, escalator.IncidentReports())

	// Second attempt escalates.
	alert, err = escalator.RecordDenied("RAH972U")
	require.NoError(t, err)
	assert.Equal(t, datastore.AlertHighPriority, alert.AlertType)
	assert.True(t, alert.PersonnelNotified)
	assert.Equal(t, StateElevated, escalator.StateOf("RAH972U"))
	assert.Empty(t, escalator.IncidentReports())

	// Third attempt reaches lockdown and generates exactly one report.
	alert, err = escalator.RecordDenied("RAH972U")
	require.NoError(t, err)
	assert.Equal(t, datastore.AlertCriticalBreach, alert.AlertType)
	assert.Equal(t, "lockdown initiated", alert.ActionTaken)
	assert.Equal(t, StateLockdown, escalator.StateOf("RAH972U"))

	reports := escalator.IncidentReports()
	require.Len(t, reports, 1)
	assert.Equal(t, "RAH972U", reports[0].Plate)
	assert.Equal(t, 3, reports[0].Attempts)
	assert.NotEmpty(t, reports[0].ID)

	// Lockdown is absorbing: further attempts stay critical.
	alert, err = escalator.RecordDenied("RAH972U")
	require.NoError(t, err)
	assert.Equal(t, datastore.AlertCriticalBreach, alert.AlertType)

	// Every attempt left an alert row.
	alerts, err := store.ReadAlerts()
	require.NoError(t, err)
	assert.Len(t, alerts, 4)
}

func TestEscalationIsPerPlate(t *testing.T) {
	store := newTestStore(t)
	escalator := NewEscalator(store, nil, testExitSettings, nil, nil)

	_, err := escalator.RecordDenied("RAH972U")
	require.NoError(t, err)
	_, err = escalator.RecordDenied("RAH972U")
	require.NoError(t, err)

	alert, err := escalator.RecordDenied("RAB123C")
	require.NoError(t, err)
	assert.Equal(t, datastore.AlertStandard, alert.AlertType)
	assert.Equal(t, StateElevated, escalator.StateOf("RAH972U"))
	assert.Equal(t, StateWarned, escalator.StateOf("RAB123C"))
}

func TestResetReturnsPlateToClean(t *testing.T) {
	store := newTestStore(t)
	escalator := NewEscalator(store, nil, testExitSettings, nil, nil)

	for i := 0; i < 3; i++ {
		_, err := escalator.RecordDenied("RAH972U")
		require.NoError(t, err)
	}
	assert.Equal(t, StateLockdown, escalator.StateOf("RAH972U"))

	escalator.Reset("RAH972U")
	assert.Equal(t, StateClean, escalator.StateOf("RAH972U"))

	// The tier sequence starts over after a reset.
	alert, err := escalator.RecordDenied("RAH972U")
	require.NoError(t, err)
	assert.Equal(t, datastore.AlertStandard, alert.AlertType)
}

func newTestEvaluator(t *testing.T) (*Evaluator, *Escalator, *datastore.Store) {
	t.Helper()
	store := newTestStore(t)
	escalator := NewEscalator(store, nil, testExitSettings, nil, nil)
	evaluator := NewEvaluator(store, escalator, nil, testExitSettings, nil, nil)
	return evaluator, escalator, store
}

func addSession(t *testing.T, store *datastore.Store, plate string, status datastore.PaymentStatus, entryTime time.Time) {
	t.Helper()
	require.NoError(t, store.AppendSession(&datastore.Session{
		Plate:     plate,
		Status:    status,
		EntryTime: entryTime,
	}))
}

func TestEvaluateExitAuthorized(t *testing.T) {
	evaluator, _, store := newTestEvaluator(t)
	now := time.Date(2026, 8, 28, 12, 0, 0, 0, time.Local)
	evaluator.SetClock(func() time.Time { return now })

	addSession(t, store, "RAH972U", datastore.StatusPaid, now.Add(-150*time.Minute))

	decision, err := evaluator.EvaluateExit("RAH972U")
	require.NoError(t, err)
	assert.Equal(t, OutcomeAuthorized, decision.Outcome)

	exits, err := store.ReadExits()
	require.NoError(t, err)
	require.Len(t, exits, 1)
	assert.Equal(t, datastore.ExitAuthorized, exits[0].ExitType)
	assert.Equal(t, "2:30:00", exits[0].Duration)
	assert.Equal(t, "PAYMENT_VERIFIED", exits[0].SecurityStatus)

	// No alert raised on a verified exit.
	alerts, err := store.ReadAlerts()
	require.NoError(t, err)
	assert.Empty(t, alerts)
}

func TestEvaluateExitDeniedForPendingSession(t *testing.T) {
	evaluator, escalator, store := newTestEvaluator(t)
	now := time.Date(2026, 8, 28, 12, 0, 0, 0, time.Local)
	evaluator.SetClock(func() time.Time { return now })

	addSession(t, store, "RAH972U", datastore.StatusPending, now.Add(-time.Hour))

	decision, err := evaluator.EvaluateExit("RAH972U")
	require.NoError(t, err)
	assert.Equal(t, OutcomeDenied, decision.Outcome)
	assert.Equal(t, StateWarned, decision.State)
	assert.Equal(t, 1, decision.Attempts)
	require.NotNil(t, decision.Alert)
	assert.Equal(t, datastore.AlertStandard, decision.Alert.AlertType)
	assert.Equal(t, 1, escalator.Attempts("RAH972U"))

	// Denied evaluations still append an exit record.
	exits, err := store.ReadExits()
	require.NoError(t, err)
	require.Len(t, exits, 1)
	assert.Equal(t, datastore.ExitUnauthorized, exits[0].ExitType)
	assert.Equal(t, string(datastore.AlertStandard), exits[0].SecurityStatus)
}

func TestEvaluateExitDeniedForUnknownPlate(t *testing.T) {
	evaluator, _, store := newTestEvaluator(t)

	decision, err := evaluator.EvaluateExit("RAB123C")
	require.NoError(t, err)
	assert.Equal(t, OutcomeDenied, decision.Outcome)

	exits, err := store.ReadExits()
	require.NoError(t, err)
	require.Len(t, exits, 1)
	assert.Equal(t, datastore.ExitUnauthorized, exits[0].ExitType)
}

func TestEvaluateExitUsesLatestSession(t *testing.T) {
	evaluator, _, store := newTestEvaluator(t)
	now := time.Date(2026, 8, 28, 12, 0, 0, 0, time.Local)
	evaluator.SetClock(func() time.Time { return now })

	// An old paid session must not authorize an exit while the current
	// session is still pending.
	addSession(t, store, "RAH972U", datastore.StatusPaid, now.Add(-48*time.Hour))
	addSession(t, store, "RAH972U", datastore.StatusPending, now.Add(-time.Hour))

	decision, err := evaluator.EvaluateExit("RAH972U")
	require.NoError(t, err)
	assert.Equal(t, OutcomeDenied, decision.Outcome)
}

func TestEvaluateExitCooldownSuppression(t *testing.T) {
	evaluator, escalator, store := newTestEvaluator(t)
	now := time.Date(2026, 8, 28, 12, 0, 0, 0, time.Local)
	evaluator.SetClock(func() time.Time { return now })

	addSession(t, store, "RAH972U", datastore.StatusPending, now.Add(-time.Hour))

	first, err := evaluator.EvaluateExit("RAH972U")
	require.NoError(t, err)
	assert.Equal(t, OutcomeDenied, first.Outcome)

	// Same plate inside the window: no second evaluation, no second alert.
	second, err := evaluator.EvaluateExit("RAH972U")
	require.NoError(t, err)
	assert.Equal(t, OutcomeSuppressed, second.Outcome)
	assert.Equal(t, 1, escalator.Attempts("RAH972U"))

	exits, err := store.ReadExits()
	require.NoError(t, err)
	assert.Len(t, exits, 1)
}

func TestEvaluateExitRejectsInvalidPlate(t *testing.T) {
	evaluator, _, store := newTestEvaluator(t)

	_, err := evaluator.EvaluateExit("bogus")
	require.Error(t, err)

	exits, err := store.ReadExits()
	require.NoError(t, err)
	assert.Empty(t, exits)
}

func TestPaymentVerificationFailsClosed(t *testing.T) {
	// A store over an unreadable directory must deny, not authorize.
	store := datastore.New(conf.StoreSettings{
		Path:           "/nonexistent/path/that/cannot/be/created",
		SessionLog:     "plates_log.csv",
		ExitLog:        "exit_log.csv",
		SecurityLog:    "security_log.csv",
		TransactionLog: "payment_log.txt",
	}, nil)
	escalator := NewEscalator(store, nil, testExitSettings, nil, nil)
	evaluator := NewEvaluator(store, escalator, nil, testExitSettings, nil, nil)

	paid, _ := evaluator.paymentVerified("RAH972U")
	assert.False(t, paid)
}
