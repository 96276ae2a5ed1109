package datastore

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/parkwatch/parkwatch-go/internal/conf"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	return New(conf.StoreSettings{
		Path:           t.TempDir(),
		SessionLog:     "plates_log.csv",
		ExitLog:        "exit_log.csv",
		SecurityLog:    "security_log.csv",
		TransactionLog: "payment_log.txt",
	}, nil)
}

func mustParse(t *testing.T, value string) time.Time {
	t.Helper()
	ts, err := time.ParseInLocation(TimestampFormat, value, time.Local)
	require.NoError(t, err)
	return ts
}

func TestEnsureFilesWritesHeaders(t *testing.T) {
	store := newTestStore(t)
	require.NoError(t, store.EnsureFiles())

	data, err := os.ReadFile(store.Path(TableSessions))
	require.NoError(t, err)
	assert.Equal(t, "Plate Number,Payment Status,Timestamp\n", string(data))

	// Transaction log has no header.
	data, err = os.ReadFile(store.Path(TableTransactions))
	require.NoError(t, err)
	assert.Empty(t, data)
}

func TestSessionRoundTrip(t *testing.T) {
	store := newTestStore(t)

	entryTime := mustParse(t, "2026-08-28 10:15:00")
	require.NoError(t, store.AppendSession(&Session{
		Plate:     "RAH972U",
		Status:    StatusPending,
		EntryTime: entryTime,
	}))

	sessions, err := store.ReadSessions()
	require.NoError(t, err)
	require.Len(t, sessions, 1)
	assert.Equal(t, "RAH972U", sessions[0].Plate)
	assert.Equal(t, StatusPending, sessions[0].Status)
	assert.True(t, entryTime.Equal(sessions[0].EntryTime))
}

func TestReadSessionsSkipsMalformedRows(t *testing.T) {
	store := newTestStore(t)
	require.NoError(t, store.EnsureFiles())

	path := store.Path(TableSessions)
	f, err := os.OpenFile(path, os.O_APPEND|os.O_WRONLY, 0o644)
	require.NoError(t, err)
	_, err = f.WriteString("RAH972U,0,2026-08-28 10:15:00\nBROKEN\nRAB123C,1,not-a-time\nRAB123C,1,2026-08-28 11:00:00\n")
	require.NoError(t, err)
	require.NoError(t, f.Close())

	sessions, err := store.ReadSessions()
	require.NoError(t, err)
	require.Len(t, sessions, 2)
	assert.Equal(t, "RAH972U", sessions[0].Plate)
	assert.Equal(t, "RAB123C", sessions[1].Plate)
	assert.Equal(t, StatusPaid, sessions[1].Status)
}

func TestReadSessionsSurvivesBareQuoteRow(t *testing.T) {
	store := newTestStore(t)
	require.NoError(t, store.EnsureFiles())

	// A stray quote makes encoding/csv fail that row outright; rows after it
	// must still be read.
	path := store.Path(TableSessions)
	f, err := os.OpenFile(path, os.O_APPEND|os.O_WRONLY, 0o644)
	require.NoError(t, err)
	_, err = f.WriteString("RAH972U,0,2026-08-28 10:15:00\nRAB1\"23C,0,2026-08-28 10:30:00\nRAC456B,1,2026-08-28 11:00:00\n")
	require.NoError(t, err)
	require.NoError(t, f.Close())

	sessions, err := store.ReadSessions()
	require.NoError(t, err)
	require.Len(t, sessions, 2)
	assert.Equal(t, "RAH972U", sessions[0].Plate)
	assert.Equal(t, "RAC456B", sessions[1].Plate)

	// A rewrite through UpdateSessions must not lose the rows that follow
	// the bad one.
	err = store.UpdateSessions(func(sessions []Session) ([]Session, bool, error) {
		for i := range sessions {
			sessions[i].Status = StatusPaid
		}
		return sessions, true, nil
	})
	require.NoError(t, err)

	sessions, err = store.ReadSessions()
	require.NoError(t, err)
	require.Len(t, sessions, 2)
	assert.Equal(t, "RAH972U", sessions[0].Plate)
	assert.Equal(t, StatusPaid, sessions[0].Status)
	assert.Equal(t, "RAC456B", sessions[1].Plate)
}

func TestReadSessionsIgnoresPartialFinalLine(t *testing.T) {
	store := newTestStore(t)
	require.NoError(t, store.AppendSession(&Session{
		Plate:     "RAH972U",
		Status:    StatusPending,
		EntryTime: mustParse(t, "2026-08-28 10:15:00"),
	}))

	// Simulate a concurrent appender caught mid-write: no trailing newline.
	path := store.Path(TableSessions)
	f, err := os.OpenFile(path, os.O_APPEND|os.O_WRONLY, 0o644)
	require.NoError(t, err)
	_, err = f.WriteString("RAB123C,0,2026-08-28 11:")
	require.NoError(t, err)
	require.NoError(t, f.Close())

	sessions, err := store.ReadSessions()
	require.NoError(t, err)
	require.Len(t, sessions, 1)
	assert.Equal(t, "RAH972U", sessions[0].Plate)
}

func TestUpdateSessionsFlipsStatusAtomically(t *testing.T) {
	store := newTestStore(t)
	entryTime := mustParse(t, "2026-08-28 10:15:00")

	require.NoError(t, store.AppendSession(&Session{Plate: "RAH972U", Status: StatusPending, EntryTime: entryTime}))
	require.NoError(t, store.AppendSession(&Session{Plate: "RAB123C", Status: StatusPending, EntryTime: entryTime}))
	require.NoError(t, store.AppendSession(&Session{Plate: "RAH972U", Status: StatusPending, EntryTime: entryTime.Add(time.Hour)}))

	err := store.UpdateSessions(func(sessions []Session) ([]Session, bool, error) {
		for i := range sessions {
			if sessions[i].Plate == "RAH972U" {
				sessions[i].Status = StatusPaid
			}
		}
		return sessions, true, nil
	})
	require.NoError(t, err)

	sessions, err := store.ReadSessions()
	require.NoError(t, err)
	require.Len(t, sessions, 3)
	assert.Equal(t, StatusPaid, sessions[0].Status)
	assert.Equal(t, StatusPending, sessions[1].Status)
	assert.Equal(t, StatusPaid, sessions[2].Status)

	// The rewrite keeps the header intact.
	data, err := os.ReadFile(store.Path(TableSessions))
	require.NoError(t, err)
	assert.Contains(t, string(data), "Plate Number,Payment Status,Timestamp\n")

	// No temp files left behind.
	entries, err := os.ReadDir(filepath.Dir(store.Path(TableSessions)))
	require.NoError(t, err)
	for _, entry := range entries {
		assert.NotContains(t, entry.Name(), ".plates-")
	}
}

func TestUpdateSessionsNoWriteLeavesTableUntouched(t *testing.T) {
	store := newTestStore(t)
	require.NoError(t, store.AppendSession(&Session{
		Plate:     "RAH972U",
		Status:    StatusPending,
		EntryTime: mustParse(t, "2026-08-28 10:15:00"),
	}))

	before, err := os.ReadFile(store.Path(TableSessions))
	require.NoError(t, err)

	err = store.UpdateSessions(func(sessions []Session) ([]Session, bool, error) {
		return nil, false, nil
	})
	require.NoError(t, err)

	after, err := os.ReadFile(store.Path(TableSessions))
	require.NoError(t, err)
	assert.Equal(t, before, after)
}

func TestExitRoundTrip(t *testing.T) {
	store := newTestStore(t)

	exit := &ExitRecord{
		Plate:          "RAH972U",
		EntryTime:      mustParse(t, "2026-08-28 10:15:00"),
		ExitTime:       mustParse(t, "2026-08-28 12:45:00"),
		Duration:       "2:30:00",
		AmountPaid:     1500,
		ExitType:       ExitAuthorized,
		SecurityStatus: "PAYMENT_VERIFIED",
	}
	require.NoError(t, store.AppendExit(exit))

	exits, err := store.ReadExits()
	require.NoError(t, err)
	require.Len(t, exits, 1)
	assert.Equal(t, *exit, exits[0])
}

func TestAlertRoundTrip(t *testing.T) {
	store := newTestStore(t)

	alert := &SecurityAlert{
		Timestamp:         mustParse(t, "2026-08-28 13:00:00"),
		Plate:             "RAH972U",
		AlertType:         AlertHighPriority,
		Status:            "DENIED",
		ActionTaken:       "high priority alarm, personnel notified",
		PersonnelNotified: true,
	}
	require.NoError(t, store.AppendAlert(alert))

	alerts, err := store.ReadAlerts()
	require.NoError(t, err)
	require.Len(t, alerts, 1)
	assert.Equal(t, *alert, alerts[0])

	last, err := store.LastAlert()
	require.NoError(t, err)
	require.NotNil(t, last)
	assert.Equal(t, AlertHighPriority, last.AlertType)
}

func TestTransactionLog(t *testing.T) {
	store := newTestStore(t)
	require.NoError(t, store.EnsureFiles())

	require.NoError(t, store.AppendTransaction("2026-08-28 13:00:00 - RAH972U - SUCCESS: Charged 1500 RWF"))
	require.NoError(t, store.AppendTransaction("2026-08-28 13:05:00 - RAB123C - NO_PARKING_SESSIONS: No unpaid sessions found"))

	lines, err := store.ReadTransactions()
	require.NoError(t, err)
	require.Len(t, lines, 2)

	last, err := store.LastTransaction()
	require.NoError(t, err)
	assert.Contains(t, last, "RAB123C")
}

func TestStatOfMissingTableIsZero(t *testing.T) {
	store := newTestStore(t)
	size, modTime, err := store.Stat(TableSessions)
	require.NoError(t, err)
	assert.Zero(t, size)
	assert.True(t, modTime.IsZero())

	require.NoError(t, store.EnsureFiles())
	size, modTime, err = store.Stat(TableSessions)
	require.NoError(t, err)
	assert.Positive(t, size)
	assert.False(t, modTime.IsZero())
}

func TestValidPlate(t *testing.T) {
	tests := []struct {
		plate string
		want  bool
	}{
		{"RAH972U", true},
		{"RAB123C", true},
		{"rah972u", false},
		{"RAH972", false},
		{"RAH9722U", false},
		{"1AH972U", false},
		{"", false},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, ValidPlate(tt.plate), "plate %q", tt.plate)
	}
}
