package payment

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/parkwatch/parkwatch-go/internal/conf"
	"github.com/parkwatch/parkwatch-go/internal/datastore"
)

var testPricing = conf.PricingSettings{HourlyRate: 500, MinimumCharge: 500}

func newTestService(t *testing.T) (*Service, *datastore.Store) {
	t.Helper()
	store := datastore.New(conf.StoreSettings{
		Path:           t.TempDir(),
		SessionLog:     "plates_log.csv",
		ExitLog:        "exit_log.csv",
		SecurityLog:    "security_log.csv",
		TransactionLog: "payment_log.txt",
	}, nil)
	require.NoError(t, store.EnsureFiles())

	service := NewService(store, testPricing, nil, nil)
	return service, store
}

func addSession(t *testing.T, store *datastore.Store, plate string, status datastore.PaymentStatus, entryTime time.Time) {
	t.Helper()
	require.NoError(t, store.AppendSession(&datastore.Session{
		Plate:     plate,
		Status:    status,
		EntryTime: entryTime,
	}))
}

func TestAuthorizeChargesPerStartedHour(t *testing.T) {
	service, store := newTestService(t)
	now := time.Date(2026, 8, 28, 12, 0, 0, 0, time.Local)
	service.SetClock(func() time.Time { return now })

	// Two pending sessions: 30 and 90 minutes. Each rounds up to a full
	// hour: 500 + 1000 = 1500.
	addSession(t, store, "RAH972U", datastore.StatusPending, now.Add(-30*time.Minute))
	addSession(t, store, "RAH972U", datastore.StatusPending, now.Add(-90*time.Minute))

	result, err := service.Authorize("RAH972U", 2000)
	require.NoError(t, err)
	assert.Equal(t, ResultSuccess, result.Kind)
	assert.Equal(t, 2, result.Sessions)
	assert.Equal(t, 1500, result.Charged)
	assert.Equal(t, 500, result.NewBalance)
	assert.Equal(t, "2:00:00", result.Duration)

	// Every pending row for the plate flipped to paid.
	sessions, err := store.ReadSessions()
	require.NoError(t, err)
	require.Len(t, sessions, 2)
	for _, session := range sessions {
		assert.Equal(t, datastore.StatusPaid, session.Status)
	}
}

func TestAuthorizeAppliesMinimumCharge(t *testing.T) {
	service, store := newTestService(t)
	now := time.Date(2026, 8, 28, 12, 0, 0, 0, time.Local)
	service.SetClock(func() time.Time { return now })

	// One minute of parking still owes the minimum, no grace period.
	addSession(t, store, "RAH972U", datastore.StatusPending, now.Add(-time.Minute))

	result, err := service.Authorize("RAH972U", 500)
	require.NoError(t, err)
	assert.Equal(t, ResultSuccess, result.Kind)
	assert.Equal(t, 500, result.Charged)
	assert.Equal(t, 0, result.NewBalance)
}

func TestAuthorizeInsufficientFundsMutatesNothing(t *testing.T) {
	service, store := newTestService(t)
	now := time.Date(2026, 8, 28, 12, 0, 0, 0, time.Local)
	service.SetClock(func() time.Time { return now })

	addSession(t, store, "RAH972U", datastore.StatusPending, now.Add(-30*time.Minute))

	result, err := service.Authorize("RAH972U", 400)
	require.NoError(t, err)
	assert.Equal(t, ResultInsufficientFunds, result.Kind)
	assert.Equal(t, 500, result.Owed)
	assert.Equal(t, 400, result.Balance)

	// Session still pending; declining is a business outcome, not a mutation.
	sessions, err := store.ReadSessions()
	require.NoError(t, err)
	require.Len(t, sessions, 1)
	assert.Equal(t, datastore.StatusPending, sessions[0].Status)

	// The declined attempt is still recorded in the transaction log.
	last, err := store.LastTransaction()
	require.NoError(t, err)
	assert.Contains(t, last, "INSUFFICIENT_FUNDS: Required 500 RWF, Available 400 RWF")
}

func TestAuthorizeNoSessions(t *testing.T) {
	service, store := newTestService(t)

	result, err := service.Authorize("RAH972U", 1000)
	require.NoError(t, err)
	assert.Equal(t, ResultNoSessions, result.Kind)

	last, err := store.LastTransaction()
	require.NoError(t, err)
	assert.Contains(t, last, "NO_PARKING_SESSIONS")
}

func TestAuthorizeTwiceReportsNoSessions(t *testing.T) {
	service, store := newTestService(t)
	now := time.Date(2026, 8, 28, 12, 0, 0, 0, time.Local)
	service.SetClock(func() time.Time { return now })

	addSession(t, store, "RAH972U", datastore.StatusPending, now.Add(-time.Hour))

	first, err := service.Authorize("RAH972U", 1000)
	require.NoError(t, err)
	assert.Equal(t, ResultSuccess, first.Kind)

	second, err := service.Authorize("RAH972U", 1000)
	require.NoError(t, err)
	assert.Equal(t, ResultNoSessions, second.Kind)
}

func TestAuthorizeLeavesOtherPlatesUntouched(t *testing.T) {
	service, store := newTestService(t)
	now := time.Date(2026, 8, 28, 12, 0, 0, 0, time.Local)
	service.SetClock(func() time.Time { return now })

	addSession(t, store, "RAH972U", datastore.StatusPending, now.Add(-time.Hour))
	addSession(t, store, "RAB123C", datastore.StatusPending, now.Add(-time.Hour))

	_, err := service.Authorize("RAH972U", 1000)
	require.NoError(t, err)

	sessions, err := store.ReadSessions()
	require.NoError(t, err)
	require.Len(t, sessions, 2)
	assert.Equal(t, datastore.StatusPaid, sessions[0].Status)
	assert.Equal(t, datastore.StatusPending, sessions[1].Status)
}

func TestAuthorizeInvokesOnPaid(t *testing.T) {
	service, store := newTestService(t)
	now := time.Date(2026, 8, 28, 12, 0, 0, 0, time.Local)
	service.SetClock(func() time.Time { return now })

	addSession(t, store, "RAH972U", datastore.StatusPending, now.Add(-time.Hour))

	var paidPlate string
	service.OnPaid(func(plate string) { paidPlate = plate })

	_, err := service.Authorize("RAH972U", 400)
	require.NoError(t, err)
	assert.Empty(t, paidPlate, "declined payment must not trigger the callback")

	_, err = service.Authorize("RAH972U", 1000)
	require.NoError(t, err)
	assert.Equal(t, "RAH972U", paidPlate)
}

func TestSuccessTransactionLineFormat(t *testing.T) {
	service, store := newTestService(t)
	now := time.Date(2026, 8, 28, 12, 0, 0, 0, time.Local)
	service.SetClock(func() time.Time { return now })

	addSession(t, store, "RAH972U", datastore.StatusPending, now.Add(-150*time.Minute))

	_, err := service.Authorize("RAH972U", 2000)
	require.NoError(t, err)

	last, err := store.LastTransaction()
	require.NoError(t, err)
	assert.Equal(t,
		"2026-08-28 12:00:00 - RAH972U - SUCCESS: Charged 1500 RWF for 2:30:00 parking, Balance: 2000 → 500 RWF",
		last)
}

func TestCalculateDoesNotMutate(t *testing.T) {
	service, store := newTestService(t)
	now := time.Date(2026, 8, 28, 12, 0, 0, 0, time.Local)
	service.SetClock(func() time.Time { return now })

	addSession(t, store, "RAH972U", datastore.StatusPending, now.Add(-30*time.Minute))

	quote, err := service.Calculate("RAH972U")
	require.NoError(t, err)
	assert.Equal(t, 1, quote.Sessions)
	assert.Equal(t, 500, quote.Owed)
	assert.Equal(t, "0:30:00", quote.Duration)

	sessions, err := store.ReadSessions()
	require.NoError(t, err)
	assert.Equal(t, datastore.StatusPending, sessions[0].Status)

	last, err := store.LastTransaction()
	require.NoError(t, err)
	assert.Empty(t, last, "a quote must not append to the transaction log")
}

func TestSessionChargeBoundaries(t *testing.T) {
	service, _ := newTestService(t)
	now := time.Date(2026, 8, 28, 12, 0, 0, 0, time.Local)

	tests := []struct {
		name    string
		elapsed time.Duration
		want    int
	}{
		{"zero minutes owes minimum", 0, 500},
		{"exactly one hour", time.Hour, 500},
		{"one hour and one minute", 61 * time.Minute, 1000},
		{"future entry clamps to minimum", -time.Hour, 500},
		{"ten hours", 10 * time.Hour, 5000},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			charge, _ := service.sessionCharge(now.Add(-tt.elapsed), now)
			assert.Equal(t, tt.want, charge)
		})
	}
}
