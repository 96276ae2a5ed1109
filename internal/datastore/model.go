// Package datastore implements the append-only log files that are the source
// of truth for the parking facility: session log, exit log, security log and
// the payment transaction log. All derived state is recomputed from these.
package datastore

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"
)

// TimestampFormat is the wire format for all timestamps in the log files.
// Column order and this format are part of the compatibility surface shared
// with the recognition and payment collaborators.
const TimestampFormat = "2006-01-02 15:04:05"

// plateRegexp matches the fixed national plate pattern, e.g. RAH972U.
var plateRegexp = regexp.MustCompile(`^[A-Z]{3}\d{3}[A-Z]$`)

// ValidPlate reports whether s matches the fixed plate pattern.
func ValidPlate(s string) bool {
	return plateRegexp.MatchString(s)
}

// PaymentStatus is the payment state of a parking session.
type PaymentStatus int

const (
	// StatusPending marks a session that has not been paid for.
	StatusPending PaymentStatus = 0
	// StatusPaid marks a session whose charge has been settled.
	StatusPaid PaymentStatus = 1
)

// String returns the single-digit wire form used in the session log.
func (p PaymentStatus) String() string {
	return strconv.Itoa(int(p))
}

// Session is one parking-entry record for a plate. A plate may have many
// session rows over time; rows are never deleted, only the status field is
// ever rewritten (pending to paid).
type Session struct {
	Plate     string
	Status    PaymentStatus
	EntryTime time.Time
}

// ExitType classifies the outcome of an exit evaluation.
type ExitType string

const (
	ExitAuthorized   ExitType = "AUTHORIZED"
	ExitUnauthorized ExitType = "UNAUTHORIZED"
)

// ExitRecord is appended on every exit evaluation, successful or denied.
type ExitRecord struct {
	Plate          string
	EntryTime      time.Time
	ExitTime       time.Time
	Duration       string // formatted as H:MM:SS
	AmountPaid     int
	ExitType       ExitType
	SecurityStatus string
}

// AlertType is the severity tier of a security alert.
type AlertType string

const (
	AlertStandard       AlertType = "STANDARD"
	AlertHighPriority   AlertType = "HIGH_PRIORITY"
	AlertCriticalBreach AlertType = "CRITICAL_BREACH"
)

// SecurityAlert is appended by the escalation state machine. Rows are
// immutable once written.
type SecurityAlert struct {
	Timestamp         time.Time
	Plate             string
	AlertType         AlertType
	Status            string
	ActionTaken       string
	PersonnelNotified bool
}

// Table identifies one of the append-only log files.
type Table string

const (
	TableSessions     Table = "sessions"
	TableExits        Table = "exits"
	TableAlerts       Table = "alerts"
	TableTransactions Table = "transactions"
)

// Fixed header rows written when a log file is created. The session log
// header matches the format the recognition collaborator appends to.
var tableHeaders = map[Table][]string{
	TableSessions: {"Plate Number", "Payment Status", "Timestamp"},
	TableExits:    {"Plate Number", "Entry Time", "Exit Time", "Duration", "Amount Paid", "Exit Type", "Security Status"},
	TableAlerts:   {"Timestamp", "Plate Number", "Alert Type", "Status", "Action Taken", "Personnel Notified"},
}

// sessionRecord converts a session to its CSV row.
func sessionRecord(s *Session) []string {
	return []string{s.Plate, s.Status.String(), s.EntryTime.Format(TimestampFormat)}
}

// parseSession parses a session CSV row. Returns an error for malformed rows,
// which callers skip.
func parseSession(record []string) (Session, error) {
	if len(record) < 3 {
		return Session{}, fmt.Errorf("session row has %d fields, want 3", len(record))
	}
	status, err := strconv.Atoi(strings.TrimSpace(record[1]))
	if err != nil || (status != 0 && status != 1) {
		return Session{}, fmt.Errorf("invalid payment status %q", record[1])
	}
	entryTime, err := time.ParseInLocation(TimestampFormat, strings.TrimSpace(record[2]), time.Local)
	if err != nil {
		return Session{}, fmt.Errorf("invalid entry timestamp %q: %w", record[2], err)
	}
	return Session{
		Plate:     strings.TrimSpace(record[0]),
		Status:    PaymentStatus(status),
		EntryTime: entryTime,
	}, nil
}

// exitRecord converts an exit record to its CSV row.
func exitRecord(e *ExitRecord) []string {
	return []string{
		e.Plate,
		e.EntryTime.Format(TimestampFormat),
		e.ExitTime.Format(TimestampFormat),
		e.Duration,
		strconv.Itoa(e.AmountPaid),
		string(e.ExitType),
		e.SecurityStatus,
	}
}

// parseExit parses an exit CSV row. The trailing exit_type and
// security_status columns are optional for rows written by older
// collaborators.
func parseExit(record []string) (ExitRecord, error) {
	if len(record) < 5 {
		return ExitRecord{}, fmt.Errorf("exit row has %d fields, want at least 5", len(record))
	}
	entryTime, err := time.ParseInLocation(TimestampFormat, strings.TrimSpace(record[1]), time.Local)
	if err != nil {
		return ExitRecord{}, fmt.Errorf("invalid entry timestamp %q: %w", record[1], err)
	}
	exitTime, err := time.ParseInLocation(TimestampFormat, strings.TrimSpace(record[2]), time.Local)
	if err != nil {
		return ExitRecord{}, fmt.Errorf("invalid exit timestamp %q: %w", record[2], err)
	}
	amount, err := strconv.Atoi(strings.TrimSpace(record[4]))
	if err != nil {
		return ExitRecord{}, fmt.Errorf("invalid amount %q", record[4])
	}
	exit := ExitRecord{
		Plate:      strings.TrimSpace(record[0]),
		EntryTime:  entryTime,
		ExitTime:   exitTime,
		Duration:   strings.TrimSpace(record[3]),
		AmountPaid: amount,
		ExitType:   ExitAuthorized,
	}
	if len(record) > 5 {
		exit.ExitType = ExitType(strings.TrimSpace(record[5]))
	}
	if len(record) > 6 {
		exit.SecurityStatus = strings.TrimSpace(record[6])
	}
	return exit, nil
}

// alertRecord converts a security alert to its CSV row.
func alertRecord(a *SecurityAlert) []string {
	notified := "NO"
	if a.PersonnelNotified {
		notified = "YES"
	}
	return []string{
		a.Timestamp.Format(TimestampFormat),
		a.Plate,
		string(a.AlertType),
		a.Status,
		a.ActionTaken,
		notified,
	}
}

// parseAlert parses a security alert CSV row.
func parseAlert(record []string) (SecurityAlert, error) {
	if len(record) < 6 {
		return SecurityAlert{}, fmt.Errorf("alert row has %d fields, want 6", len(record))
	}
	ts, err := time.ParseInLocation(TimestampFormat, strings.TrimSpace(record[0]), time.Local)
	if err != nil {
		return SecurityAlert{}, fmt.Errorf("invalid timestamp %q: %w", record[0], err)
	}
	return SecurityAlert{
		Timestamp:         ts,
		Plate:             strings.TrimSpace(record[1]),
		AlertType:         AlertType(strings.TrimSpace(record[2])),
		Status:            strings.TrimSpace(record[3]),
		ActionTaken:       strings.TrimSpace(record[4]),
		PersonnelNotified: strings.EqualFold(strings.TrimSpace(record[5]), "YES"),
	}, nil
}
