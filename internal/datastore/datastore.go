package datastore

import (
	"bytes"
	"encoding/csv"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/parkwatch/parkwatch-go/internal/conf"
	"github.com/parkwatch/parkwatch-go/internal/errors"
)

// Store provides serialized access to the facility log files. It is the
// single logical owner of all writes: every mutating operation goes through
// one mutex, which closes the read-modify-write race between payment
// authorization and concurrent exit checks.
//
// Reads tolerate another process appending concurrently by only ever
// surfacing whole, newline-terminated rows.
type Store struct {
	mu       sync.Mutex
	settings conf.StoreSettings
	logger   *slog.Logger
}

// New creates a Store over the configured log directory. Log files are
// created lazily with their fixed header on first access.
func New(settings conf.StoreSettings, logger *slog.Logger) *Store {
	if logger == nil {
		logger = slog.Default()
	}
	return &Store{settings: settings, logger: logger.With("service", "datastore")}
}

// Path returns the on-disk path of a table.
func (s *Store) Path(table Table) string {
	var name string
	switch table {
	case TableSessions:
		name = s.settings.SessionLog
	case TableExits:
		name = s.settings.ExitLog
	case TableAlerts:
		name = s.settings.SecurityLog
	case TableTransactions:
		name = s.settings.TransactionLog
	}
	return filepath.Join(s.settings.Path, name)
}

// Stat returns the current byte size and modification time of a table file.
// A missing file reports zero size and the zero time.
func (s *Store) Stat(table Table) (int64, time.Time, error) {
	info, err := os.Stat(s.Path(table))
	if err != nil {
		if os.IsNotExist(err) {
			return 0, time.Time{}, nil
		}
		return 0, time.Time{}, errors.New(err).
			Component("datastore").
			Category(errors.CategoryFileIO).
			Context("table", string(table)).
			Build()
	}
	return info.Size(), info.ModTime(), nil
}

// EnsureFiles creates any missing log files with their header rows.
func (s *Store) EnsureFiles() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, table := range []Table{TableSessions, TableExits, TableAlerts, TableTransactions} {
		if err := s.ensureFileLocked(table); err != nil {
			return err
		}
	}
	return nil
}

// ensureFileLocked creates the file for a table if it is missing. Callers
// must hold s.mu.
func (s *Store) ensureFileLocked(table Table) error {
	path := s.Path(table)
	if _, err := os.Stat(path); err == nil {
		return nil
	} else if !os.IsNotExist(err) {
		return errors.New(err).
			Component("datastore").
			Category(errors.CategoryFileIO).
			Context("table", string(table)).
			Build()
	}

	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return errors.New(err).
				Component("datastore").
				Category(errors.CategoryFileIO).
				Context("operation", "create_log_directory").
				Build()
		}
	}

	var content []byte
	if header, ok := tableHeaders[table]; ok {
		var buf bytes.Buffer
		w := csv.NewWriter(&buf)
		_ = w.Write(header)
		w.Flush()
		content = buf.Bytes()
	}

	if err := writeFileSynced(path, content); err != nil {
		return errors.New(err).
			Component("datastore").
			Category(errors.CategoryFileIO).
			Context("operation", "create_log_file").
			Context("table", string(table)).
			Build()
	}

	s.logger.Info("created log file", "table", table, "path", path)
	return nil
}

// appendRecord appends a single CSV record to a table, synced to disk before
// returning.
func (s *Store) appendRecord(table Table, record []string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.ensureFileLocked(table); err != nil {
		return err
	}

	file, err := os.OpenFile(s.Path(table), os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return errors.New(err).
			Component("datastore").
			Category(errors.CategoryFileIO).
			Context("operation", "append").
			Context("table", string(table)).
			Build()
	}
	defer file.Close()

	w := csv.NewWriter(file)
	if err := w.Write(record); err != nil {
		return errors.New(err).
			Component("datastore").
			Category(errors.CategoryFileIO).
			Context("operation", "append").
			Context("table", string(table)).
			Build()
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return errors.New(err).
			Component("datastore").
			Category(errors.CategoryFileIO).
			Context("operation", "append").
			Context("table", string(table)).
			Build()
	}

	// Durable before returning, not merely buffered.
	if err := file.Sync(); err != nil {
		return errors.New(err).
			Component("datastore").
			Category(errors.CategoryFileIO).
			Context("operation", "sync").
			Context("table", string(table)).
			Build()
	}
	return nil
}

// readRecords returns all whole CSV records of a table, header excluded.
// A partially written final line is not surfaced.
func (s *Store) readRecords(table Table) ([][]string, error) {
	data, err := os.ReadFile(s.Path(table))
	if err != nil {
		if os.IsNotExist(err) {
			// Missing table: lazily create it and report no rows.
			s.mu.Lock()
			createErr := s.ensureFileLocked(table)
			s.mu.Unlock()
			return nil, createErr
		}
		return nil, errors.New(err).
			Component("datastore").
			Category(errors.CategoryFileIO).
			Context("operation", "read").
			Context("table", string(table)).
			Build()
	}

	// Only parse up to the last newline: a concurrent appender may have
	// written a partial final row.
	if idx := bytes.LastIndexByte(data, '\n'); idx >= 0 {
		data = data[:idx+1]
	} else {
		data = nil
	}

	reader := csv.NewReader(bytes.NewReader(data))
	reader.FieldsPerRecord = -1

	var records [][]string
	for {
		record, err := reader.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			// A CSV-level error (stray quote, bad syntax) poisons only the
			// offending row; the reader resumes at the next line.
			var parseErr *csv.ParseError
			if errors.As(err, &parseErr) {
				s.logger.Debug("skipping unparseable row",
					"table", string(table), "error", err)
				continue
			}
			return nil, errors.New(err).
				Component("datastore").
				Category(errors.CategoryFileIO).
				Context("operation", "read").
				Context("table", string(table)).
				Build()
		}
		records = append(records, record)
	}

	// Drop the header row if present.
	if header, ok := tableHeaders[table]; ok && len(records) > 0 {
		if len(records[0]) > 0 && records[0][0] == header[0] {
			records = records[1:]
		}
	}
	return records, nil
}

// AppendSession appends a new session row.
func (s *Store) AppendSession(session *Session) error {
	return s.appendRecord(TableSessions, sessionRecord(session))
}

// ReadSessions returns all parseable session rows in append order.
// Malformed rows are skipped.
func (s *Store) ReadSessions() ([]Session, error) {
	records, err := s.readRecords(TableSessions)
	if err != nil {
		return nil, err
	}
	sessions := make([]Session, 0, len(records))
	for _, record := range records {
		session, err := parseSession(record)
		if err != nil {
			s.logger.Debug("skipping malformed session row", "error", err)
			continue
		}
		sessions = append(sessions, session)
	}
	return sessions, nil
}

// UpdateSessions runs a transactional read-modify-write over the session
// table. The store lock is held for the whole cycle, so no other mutation can
// interleave between the read and the write-back. The apply function returns
// the new table contents and whether to write; returning false leaves the
// table untouched.
func (s *Store) UpdateSessions(apply func(sessions []Session) ([]Session, bool, error)) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.ensureFileLocked(TableSessions); err != nil {
		return err
	}
	records, err := s.readRecords(TableSessions)
	if err != nil {
		return err
	}
	sessions := make([]Session, 0, len(records))
	for _, record := range records {
		session, parseErr := parseSession(record)
		if parseErr != nil {
			s.logger.Debug("skipping malformed session row", "error", parseErr)
			continue
		}
		sessions = append(sessions, session)
	}

	updated, write, err := apply(sessions)
	if err != nil {
		return err
	}
	if !write {
		return nil
	}
	return s.replaceSessionsLocked(updated)
}

// replaceSessionsLocked rewrites the whole session table in one atomic step
// via a temp file and rename. Callers must hold s.mu.
func (s *Store) replaceSessionsLocked(sessions []Session) error {
	var buf bytes.Buffer
	w := csv.NewWriter(&buf)
	_ = w.Write(tableHeaders[TableSessions])
	for i := range sessions {
		_ = w.Write(sessionRecord(&sessions[i]))
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return errors.New(err).
			Component("datastore").
			Category(errors.CategoryFileIO).
			Context("operation", "replace_sessions").
			Build()
	}

	path := s.Path(TableSessions)
	tempFile, err := os.CreateTemp(filepath.Dir(path), ".plates-*.csv")
	if err != nil {
		return errors.New(err).
			Component("datastore").
			Category(errors.CategoryFileIO).
			Context("operation", "replace_sessions").
			Build()
	}
	tempName := tempFile.Name()

	if _, err := tempFile.Write(buf.Bytes()); err != nil {
		tempFile.Close()
		os.Remove(tempName)
		return errors.New(err).
			Component("datastore").
			Category(errors.CategoryFileIO).
			Context("operation", "replace_sessions").
			Build()
	}
	if err := tempFile.Sync(); err != nil {
		tempFile.Close()
		os.Remove(tempName)
		return errors.New(err).
			Component("datastore").
			Category(errors.CategoryFileIO).
			Context("operation", "replace_sessions").
			Build()
	}
	if err := tempFile.Close(); err != nil {
		os.Remove(tempName)
		return errors.New(err).
			Component("datastore").
			Category(errors.CategoryFileIO).
			Context("operation", "replace_sessions").
			Build()
	}

	if err := os.Rename(tempName, path); err != nil {
		os.Remove(tempName)
		return errors.New(err).
			Component("datastore").
			Category(errors.CategoryFileIO).
			Context("operation", "replace_sessions").
			Build()
	}
	return nil
}

// AppendExit appends an exit evaluation record.
func (s *Store) AppendExit(exit *ExitRecord) error {
	return s.appendRecord(TableExits, exitRecord(exit))
}

// ReadExits returns all parseable exit rows in append order.
func (s *Store) ReadExits() ([]ExitRecord, error) {
	records, err := s.readRecords(TableExits)
	if err != nil {
		return nil, err
	}
	exits := make([]ExitRecord, 0, len(records))
	for _, record := range records {
		exit, err := parseExit(record)
		if err != nil {
			s.logger.Debug("skipping malformed exit row", "error", err)
			continue
		}
		exits = append(exits, exit)
	}
	return exits, nil
}

// AppendAlert appends a security alert record.
func (s *Store) AppendAlert(alert *SecurityAlert) error {
	return s.appendRecord(TableAlerts, alertRecord(alert))
}

// ReadAlerts returns all parseable security alert rows in append order.
func (s *Store) ReadAlerts() ([]SecurityAlert, error) {
	records, err := s.readRecords(TableAlerts)
	if err != nil {
		return nil, err
	}
	alerts := make([]SecurityAlert, 0, len(records))
	for _, record := range records {
		alert, err := parseAlert(record)
		if err != nil {
			s.logger.Debug("skipping malformed alert row", "error", err)
			continue
		}
		alerts = append(alerts, alert)
	}
	return alerts, nil
}

// AppendTransaction appends a single human-readable line to the payment
// transaction log.
func (s *Store) AppendTransaction(line string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	file, err := os.OpenFile(s.Path(TableTransactions), os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return errors.New(err).
			Component("datastore").
			Category(errors.CategoryFileIO).
			Context("operation", "append_transaction").
			Build()
	}
	defer file.Close()

	if _, err := file.WriteString(line + "\n"); err != nil {
		return errors.New(err).
			Component("datastore").
			Category(errors.CategoryFileIO).
			Context("operation", "append_transaction").
			Build()
	}
	return file.Sync()
}

// ReadTransactions returns all whole transaction log lines.
func (s *Store) ReadTransactions() ([]string, error) {
	data, err := os.ReadFile(s.Path(TableTransactions))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, errors.New(err).
			Component("datastore").
			Category(errors.CategoryFileIO).
			Context("operation", "read_transactions").
			Build()
	}

	if idx := bytes.LastIndexByte(data, '\n'); idx >= 0 {
		data = data[:idx+1]
	} else {
		data = nil
	}

	var lines []string
	for _, line := range strings.Split(string(data), "\n") {
		if strings.TrimSpace(line) != "" {
			lines = append(lines, line)
		}
	}
	return lines, nil
}

// LastSession returns the most recent whole session row, if any.
func (s *Store) LastSession() (*Session, error) {
	sessions, err := s.ReadSessions()
	if err != nil || len(sessions) == 0 {
		return nil, err
	}
	return &sessions[len(sessions)-1], nil
}

// LastExit returns the most recent whole exit row, if any.
func (s *Store) LastExit() (*ExitRecord, error) {
	exits, err := s.ReadExits()
	if err != nil || len(exits) == 0 {
		return nil, err
	}
	return &exits[len(exits)-1], nil
}

// LastAlert returns the most recent whole alert row, if any.
func (s *Store) LastAlert() (*SecurityAlert, error) {
	alerts, err := s.ReadAlerts()
	if err != nil || len(alerts) == 0 {
		return nil, err
	}
	return &alerts[len(alerts)-1], nil
}

// LastTransaction returns the most recent whole transaction line, if any.
func (s *Store) LastTransaction() (string, error) {
	lines, err := s.ReadTransactions()
	if err != nil || len(lines) == 0 {
		return "", err
	}
	return lines[len(lines)-1], nil
}

// writeFileSynced writes data to path and fsyncs before returning.
func writeFileSynced(path string, data []byte) error {
	file, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		return err
	}
	if _, err := file.Write(data); err != nil {
		file.Close()
		return err
	}
	if err := file.Sync(); err != nil {
		file.Close()
		return err
	}
	return file.Close()
}
