package monitor

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/parkwatch/parkwatch-go/internal/conf"
	"github.com/parkwatch/parkwatch-go/internal/datastore"
	"github.com/parkwatch/parkwatch-go/internal/events"
)

func newTestMonitor(t *testing.T) (*Monitor, *datastore.Store, *events.Broadcaster) {
	t.Helper()
	store := datastore.New(conf.StoreSettings{
		Path:           t.TempDir(),
		SessionLog:     "plates_log.csv",
		ExitLog:        "exit_log.csv",
		SecurityLog:    "security_log.csv",
		TransactionLog: "payment_log.txt",
	}, nil)
	require.NoError(t, store.EnsureFiles())

	broadcaster := events.NewBroadcaster(10, nil)
	t.Cleanup(broadcaster.Stop)

	m := New(store, broadcaster,
		conf.PricingSettings{HourlyRate: 500, MinimumCharge: 500},
		conf.MonitorSettings{PollInterval: 1}, nil, nil)

	// Settle the baseline so pre-existing files do not count as changes.
	require.NoError(t, m.poll())
	return m, store, broadcaster
}

// drain collects everything currently buffered on the event channel.
func drain(ch <-chan *events.Event) []*events.Event {
	var out []*events.Event
	for {
		select {
		case event := <-ch:
			out = append(out, event)
		default:
			return out
		}
	}
}

func eventTypes(evts []*events.Event) []events.EventType {
	types := make([]events.EventType, 0, len(evts))
	for _, event := range evts {
		types = append(types, event.Type)
	}
	return types
}

func TestPollClassifiesEntry(t *testing.T) {
	m, store, broadcaster := newTestMonitor(t)
	ch, _ := broadcaster.Subscribe()

	require.NoError(t, store.AppendSession(&datastore.Session{
		Plate:     "RAH972U",
		Status:    datastore.StatusPending,
		EntryTime: time.Now(),
	}))

	require.NoError(t, m.poll())

	evts := drain(ch)
	require.Equal(t, []events.EventType{events.EventActivity, events.EventStats}, eventTypes(evts))

	activity := evts[0].Activity
	assert.Equal(t, events.ActivityEntry, activity.Type)
	assert.Equal(t, "RAH972U", activity.Plate)

	stats := evts[1].Stats
	assert.Equal(t, 1, stats.PendingPayments)
	assert.Equal(t, 1, stats.VehiclesInside)
}

func TestPollClassifiesPaymentRewrite(t *testing.T) {
	m, store, broadcaster := newTestMonitor(t)

	require.NoError(t, store.AppendSession(&datastore.Session{
		Plate:     "RAH972U",
		Status:    datastore.StatusPending,
		EntryTime: time.Now(),
	}))
	require.NoError(t, m.poll())

	ch, _ := broadcaster.Subscribe()

	// The all-or-nothing status flip rewrites the table in place without
	// changing its size; the detector must still notice.
	err := store.UpdateSessions(func(sessions []datastore.Session) ([]datastore.Session, bool, error) {
		for i := range sessions {
			sessions[i].Status = datastore.StatusPaid
		}
		return sessions, true, nil
	})
	require.NoError(t, err)

	require.NoError(t, m.poll())

	evts := drain(ch)
	require.NotEmpty(t, evts)
	assert.Equal(t, events.EventActivity, evts[0].Type)
	assert.Equal(t, events.ActivityPayment, evts[0].Activity.Type)
	assert.Equal(t, events.StatusSuccess, evts[0].Activity.Status)
}

func TestPollClassifiesExit(t *testing.T) {
	m, store, broadcaster := newTestMonitor(t)
	ch, _ := broadcaster.Subscribe()

	now := time.Now().Truncate(time.Second)
	require.NoError(t, store.AppendExit(&datastore.ExitRecord{
		Plate:     "RAH972U",
		EntryTime: now.Add(-time.Hour),
		ExitTime:  now,
		Duration:  "1:00:00",
		ExitType:  datastore.ExitAuthorized,
	}))

	require.NoError(t, m.poll())

	evts := drain(ch)
	require.NotEmpty(t, evts)
	assert.Equal(t, events.ActivityExit, evts[0].Activity.Type)
	assert.Contains(t, evts[0].Activity.Details, "1:00:00")
}

func TestPollClassifiesSecurityAlert(t *testing.T) {
	m, store, broadcaster := newTestMonitor(t)
	ch, _ := broadcaster.Subscribe()

	require.NoError(t, store.AppendAlert(&datastore.SecurityAlert{
		Timestamp:         time.Now().Truncate(time.Second),
		Plate:             "RAH972U",
		AlertType:         datastore.AlertStandard,
		Status:            "DENIED",
		ActionTaken:       "alarm activated, gate blocked",
		PersonnelNotified: false,
	}))

	require.NoError(t, m.poll())

	evts := drain(ch)
	require.Equal(t, []events.EventType{events.EventSecurityAlert, events.EventActivity, events.EventStats}, eventTypes(evts))

	alert := evts[0].Alert
	assert.Equal(t, "RAH972U", alert.Plate)
	assert.Equal(t, string(datastore.AlertStandard), alert.AlertType)
}

func TestPollClassifiesTransaction(t *testing.T) {
	m, store, broadcaster := newTestMonitor(t)
	ch, _ := broadcaster.Subscribe()

	line := "2026-08-28 12:00:00 - RAH972U - SUCCESS: Charged 500 RWF for 0:30:00 parking, Balance: 2000 → 1500 RWF"
	require.NoError(t, store.AppendTransaction(line))

	require.NoError(t, m.poll())

	evts := drain(ch)
	require.Equal(t, []events.EventType{events.EventTransaction, events.EventStats}, eventTypes(evts))
	assert.Equal(t, line, evts[0].Transaction.LogLine)
	require.NotNil(t, evts[0].Transaction.Stats)
}

func TestPollWithoutChangesPublishesNothing(t *testing.T) {
	m, _, broadcaster := newTestMonitor(t)
	ch, _ := broadcaster.Subscribe()

	require.NoError(t, m.poll())
	assert.Empty(t, drain(ch))
}

func TestPollPopulatesActivityRing(t *testing.T) {
	m, store, broadcaster := newTestMonitor(t)

	require.NoError(t, store.AppendSession(&datastore.Session{
		Plate:     "RAH972U",
		Status:    datastore.StatusPending,
		EntryTime: time.Now(),
	}))
	require.NoError(t, m.poll())

	activities := broadcaster.Activities()
	require.Len(t, activities, 1)
	assert.Equal(t, "RAH972U", activities[0].Plate)
}
