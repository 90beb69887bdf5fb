// Package store provides storage backends for CallPipe.
//
// This file implements the SQLite-backed store.
package store

import (
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	_ "embed"

	"github.com/BTreeMap/CallPipe/internal/models"
	_ "github.com/mattn/go-sqlite3"
)

// Constants for SQLite store configuration
const (
	// DefaultDirPermissions defines the default permissions for database directories
	DefaultDirPermissions = 0755
)

//go:embed migrations_sqlite.sql
var sqliteMigrations string

type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore creates a new SQLite store with the given DSN.
// The DSN should be a file path to the SQLite database file.
// If the directory doesn't exist, it will be created.
func NewSQLiteStore(opts ...Option) (*SQLiteStore, error) {
	var cfg Opts
	for _, opt := range opts {
		opt(&cfg)
	}
	slog.Debug("NewSQLiteStore invoked", "DSN_set", cfg.DSN != "")

	dsn := cfg.DSN
	if dsn == "" {
		slog.Error("SQLiteStore DSN not set")
		return nil, fmt.Errorf("database DSN not set")
	}

	dir := filepath.Dir(dsn)
	if err := os.MkdirAll(dir, DefaultDirPermissions); err != nil {
		slog.Error("Failed to create database directory", "error", err, "dir", dir)
		return nil, fmt.Errorf("failed to create database directory: %w", err)
	}

	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		slog.Error("Failed to open SQLite connection", "error", err)
		return nil, err
	}
	if err := db.Ping(); err != nil {
		slog.Error("SQLite ping failed", "error", err)
		return nil, err
	}

	slog.Debug("Running SQLite migrations")
	if _, err := db.Exec(sqliteMigrations); err != nil {
		slog.Error("Failed to run migrations", "error", err)
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}
	slog.Debug("SQLite migrations applied successfully")

	return &SQLiteStore{db: db}, nil
}

func (s *SQLiteStore) SaveScenario(scn models.Scenario) error {
	data, err := marshalScenarioData(scn)
	if err != nil {
		slog.Error("SQLiteStore SaveScenario marshal failed", "error", err, "scenarioID", scn.ID)
		return err
	}
	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("failed to begin scenario save: %w", err)
	}
	defer tx.Rollback()

	if scn.IsActive {
		// A single scenario is active at a time.
		if _, err := tx.Exec(`UPDATE scenarios SET is_active = 0 WHERE id != ?`, scn.ID); err != nil {
			slog.Error("SQLiteStore SaveScenario deactivate failed", "error", err, "scenarioID", scn.ID)
			return fmt.Errorf("failed to deactivate other scenarios: %w", err)
		}
	}
	_, err = tx.Exec(`
		INSERT OR REPLACE INTO scenarios (id, name, description, scenario_data, is_active, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		scn.ID, scn.Name, nilIfEmpty(scn.Description), data, scn.IsActive, scn.CreatedAt, scn.UpdatedAt)
	if err != nil {
		slog.Error("SQLiteStore SaveScenario failed", "error", err, "scenarioID", scn.ID)
		return fmt.Errorf("failed to save scenario %s: %w", scn.ID, err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit scenario save: %w", err)
	}
	slog.Debug("SQLiteStore SaveScenario succeeded", "scenarioID", scn.ID, "active", scn.IsActive)
	return nil
}

func (s *SQLiteStore) scanScenario(row *sql.Row) (*models.Scenario, error) {
	var scn models.Scenario
	var description sql.NullString
	var data string
	err := row.Scan(&scn.ID, &scn.Name, &description, &data, &scn.IsActive, &scn.CreatedAt, &scn.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to scan scenario row: %w", err)
	}
	scn.Description = description.String
	if err := unmarshalScenarioData(data, &scn); err != nil {
		return nil, err
	}
	return &scn, nil
}

func (s *SQLiteStore) GetScenario(id string) (*models.Scenario, error) {
	row := s.db.QueryRow(`SELECT id, name, description, scenario_data, is_active, created_at, updated_at FROM scenarios WHERE id = ?`, id)
	scn, err := s.scanScenario(row)
	if err != nil {
		slog.Error("SQLiteStore GetScenario failed", "error", err, "scenarioID", id)
		return nil, err
	}
	return scn, nil
}

func (s *SQLiteStore) GetActiveScenario() (*models.Scenario, error) {
	row := s.db.QueryRow(`SELECT id, name, description, scenario_data, is_active, created_at, updated_at FROM scenarios WHERE is_active = 1 LIMIT 1`)
	scn, err := s.scanScenario(row)
	if err != nil {
		slog.Error("SQLiteStore GetActiveScenario failed", "error", err)
		return nil, err
	}
	return scn, nil
}

func (s *SQLiteStore) ListScenarios() ([]models.Scenario, error) {
	rows, err := s.db.Query(`SELECT id, name, description, scenario_data, is_active, created_at, updated_at FROM scenarios ORDER BY created_at`)
	if err != nil {
		slog.Error("SQLiteStore ListScenarios query failed", "error", err)
		return nil, fmt.Errorf("failed to query scenarios: %w", err)
	}
	defer rows.Close()

	var out []models.Scenario
	for rows.Next() {
		var scn models.Scenario
		var description sql.NullString
		var data string
		if err := rows.Scan(&scn.ID, &scn.Name, &description, &data, &scn.IsActive, &scn.CreatedAt, &scn.UpdatedAt); err != nil {
			slog.Error("SQLiteStore ListScenarios scan failed", "error", err)
			return nil, fmt.Errorf("failed to scan scenario row: %w", err)
		}
		scn.Description = description.String
		if err := unmarshalScenarioData(data, &scn); err != nil {
			return nil, err
		}
		out = append(out, scn)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate scenario rows: %w", err)
	}
	slog.Debug("SQLiteStore ListScenarios succeeded", "count", len(out))
	return out, nil
}

func (s *SQLiteStore) AddPhoneNumber(p models.PhoneNumber) error {
	_, err := s.db.Exec(`
		INSERT OR REPLACE INTO phone_numbers (id, phone_number, status, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?)`,
		p.ID, p.PhoneNumber, p.Status, p.CreatedAt, p.UpdatedAt)
	if err != nil {
		slog.Error("SQLiteStore AddPhoneNumber failed", "error", err, "phoneNumberID", p.ID)
		return fmt.Errorf("failed to insert phone number %s: %w", p.ID, err)
	}
	slog.Debug("SQLiteStore AddPhoneNumber succeeded", "phoneNumberID", p.ID)
	return nil
}

func (s *SQLiteStore) ClaimPendingPhoneNumbers(limit int) ([]models.PhoneNumber, error) {
	tx, err := s.db.Begin()
	if err != nil {
		return nil, fmt.Errorf("failed to begin claim: %w", err)
	}
	defer tx.Rollback()

	rows, err := tx.Query(`SELECT id, phone_number, status, created_at, updated_at FROM phone_numbers WHERE status = 'pending' ORDER BY created_at LIMIT ?`, limit)
	if err != nil {
		slog.Error("SQLiteStore ClaimPendingPhoneNumbers query failed", "error", err)
		return nil, fmt.Errorf("failed to query pending phone numbers: %w", err)
	}
	var claimed []models.PhoneNumber
	for rows.Next() {
		var p models.PhoneNumber
		if err := rows.Scan(&p.ID, &p.PhoneNumber, &p.Status, &p.CreatedAt, &p.UpdatedAt); err != nil {
			rows.Close()
			return nil, fmt.Errorf("failed to scan phone number row: %w", err)
		}
		claimed = append(claimed, p)
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return nil, fmt.Errorf("failed to iterate phone number rows: %w", err)
	}
	rows.Close()

	for i := range claimed {
		if _, err := tx.Exec(`UPDATE phone_numbers SET status = 'calling', updated_at = CURRENT_TIMESTAMP WHERE id = ?`, claimed[i].ID); err != nil {
			return nil, fmt.Errorf("failed to claim phone number %s: %w", claimed[i].ID, err)
		}
		claimed[i].Status = models.PhoneNumberStatusCalling
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit claim: %w", err)
	}
	slog.Debug("SQLiteStore ClaimPendingPhoneNumbers succeeded", "claimed", len(claimed))
	return claimed, nil
}

func (s *SQLiteStore) UpdatePhoneNumberStatus(id string, status models.PhoneNumberStatus) error {
	_, err := s.db.Exec(`UPDATE phone_numbers SET status = ?, updated_at = CURRENT_TIMESTAMP WHERE id = ?`, status, id)
	if err != nil {
		slog.Error("SQLiteStore UpdatePhoneNumberStatus failed", "error", err, "phoneNumberID", id, "status", status)
		return fmt.Errorf("failed to update phone number %s: %w", id, err)
	}
	slog.Debug("SQLiteStore UpdatePhoneNumberStatus succeeded", "phoneNumberID", id, "status", status)
	return nil
}

func (s *SQLiteStore) UpdatePhoneNumberStatusByNumber(phone string, status models.PhoneNumberStatus) error {
	_, err := s.db.Exec(`UPDATE phone_numbers SET status = ?, updated_at = CURRENT_TIMESTAMP WHERE phone_number = ?`, status, phone)
	if err != nil {
		slog.Error("SQLiteStore UpdatePhoneNumberStatusByNumber failed", "error", err, "phone", phone, "status", status)
		return fmt.Errorf("failed to update phone number %s: %w", phone, err)
	}
	return nil
}

func (s *SQLiteStore) SaveCallSession(sess models.CallSession) error {
	answers, err := marshalAnswers(sess.Answers)
	if err != nil {
		slog.Error("SQLiteStore SaveCallSession marshal failed", "error", err, "sessionID", sess.ID)
		return err
	}
	_, err = s.db.Exec(`
		INSERT OR REPLACE INTO call_sessions (id, scenario_id, phone_number, provider_call_sid, current_question_id, answers, status, retries, started_at, completed_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		sess.ID, sess.ScenarioID, sess.PhoneNumber, nilIfEmpty(sess.ProviderCallSID),
		nilIfEmpty(sess.CurrentQuestionID), nilIfEmpty(answers), sess.Status, sess.Retries,
		sess.StartedAt, sess.CompletedAt)
	if err != nil {
		slog.Error("SQLiteStore SaveCallSession failed", "error", err, "sessionID", sess.ID)
		return fmt.Errorf("failed to save call session %s: %w", sess.ID, err)
	}
	slog.Debug("SQLiteStore SaveCallSession succeeded", "sessionID", sess.ID, "status", sess.Status)
	return nil
}

func (s *SQLiteStore) scanCallSession(row *sql.Row) (*models.CallSession, error) {
	var sess models.CallSession
	var providerSID, currentQuestion, answers sql.NullString
	var completedAt sql.NullTime
	err := row.Scan(&sess.ID, &sess.ScenarioID, &sess.PhoneNumber, &providerSID,
		&currentQuestion, &answers, &sess.Status, &sess.Retries, &sess.StartedAt, &completedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to scan call session row: %w", err)
	}
	sess.ProviderCallSID = providerSID.String
	sess.CurrentQuestionID = currentQuestion.String
	if completedAt.Valid {
		sess.CompletedAt = &completedAt.Time
	}
	sess.Answers, err = unmarshalAnswers(answers.String)
	if err != nil {
		return nil, err
	}
	return &sess, nil
}

func (s *SQLiteStore) GetCallSession(id string) (*models.CallSession, error) {
	row := s.db.QueryRow(`SELECT id, scenario_id, phone_number, provider_call_sid, current_question_id, answers, status, retries, started_at, completed_at FROM call_sessions WHERE id = ?`, id)
	sess, err := s.scanCallSession(row)
	if err != nil {
		slog.Error("SQLiteStore GetCallSession failed", "error", err, "sessionID", id)
		return nil, err
	}
	return sess, nil
}

func (s *SQLiteStore) GetCallSessionByProviderSID(sid string) (*models.CallSession, error) {
	row := s.db.QueryRow(`SELECT id, scenario_id, phone_number, provider_call_sid, current_question_id, answers, status, retries, started_at, completed_at FROM call_sessions WHERE provider_call_sid = ?`, sid)
	sess, err := s.scanCallSession(row)
	if err != nil {
		slog.Error("SQLiteStore GetCallSessionByProviderSID failed", "error", err, "providerSID", sid)
		return nil, err
	}
	return sess, nil
}

func (s *SQLiteStore) ListCallSessions(scenarioID string, status models.CallStatus) ([]models.CallSession, error) {
	query := `SELECT id, scenario_id, phone_number, provider_call_sid, current_question_id, answers, status, retries, started_at, completed_at FROM call_sessions WHERE 1=1`
	var args []interface{}
	if scenarioID != "" {
		query += ` AND scenario_id = ?`
		args = append(args, scenarioID)
	}
	if status != "" {
		query += ` AND status = ?`
		args = append(args, status)
	}
	query += ` ORDER BY started_at`

	rows, err := s.db.Query(query, args...)
	if err != nil {
		slog.Error("SQLiteStore ListCallSessions query failed", "error", err)
		return nil, fmt.Errorf("failed to query call sessions: %w", err)
	}
	defer rows.Close()

	var out []models.CallSession
	for rows.Next() {
		var sess models.CallSession
		var providerSID, currentQuestion, answers sql.NullString
		var completedAt sql.NullTime
		if err := rows.Scan(&sess.ID, &sess.ScenarioID, &sess.PhoneNumber, &providerSID,
			&currentQuestion, &answers, &sess.Status, &sess.Retries, &sess.StartedAt, &completedAt); err != nil {
			slog.Error("SQLiteStore ListCallSessions scan failed", "error", err)
			return nil, fmt.Errorf("failed to scan call session row: %w", err)
		}
		sess.ProviderCallSID = providerSID.String
		sess.CurrentQuestionID = currentQuestion.String
		if completedAt.Valid {
			sess.CompletedAt = &completedAt.Time
		}
		if sess.Answers, err = unmarshalAnswers(answers.String); err != nil {
			return nil, err
		}
		out = append(out, sess)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate call session rows: %w", err)
	}
	slog.Debug("SQLiteStore ListCallSessions succeeded", "count", len(out))
	return out, nil
}

func (s *SQLiteStore) SaveSMSNotification(n models.SMSNotification) error {
	_, err := s.db.Exec(`
		INSERT OR REPLACE INTO sms_notifications (id, call_session_id, recipient_phone, body, provider_sid, status, retry_count, sent_at, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		n.ID, n.CallSessionID, n.RecipientPhone, n.Body, nilIfEmpty(n.ProviderSID),
		n.Status, n.RetryCount, n.SentAt, n.CreatedAt)
	if err != nil {
		slog.Error("SQLiteStore SaveSMSNotification failed", "error", err, "notificationID", n.ID)
		return fmt.Errorf("failed to save sms notification %s: %w", n.ID, err)
	}
	slog.Debug("SQLiteStore SaveSMSNotification succeeded", "notificationID", n.ID, "status", n.Status)
	return nil
}

func (s *SQLiteStore) ListSMSNotifications(callSessionID string) ([]models.SMSNotification, error) {
	rows, err := s.db.Query(`SELECT id, call_session_id, recipient_phone, body, provider_sid, status, retry_count, sent_at, created_at FROM sms_notifications WHERE call_session_id = ? ORDER BY created_at`, callSessionID)
	if err != nil {
		slog.Error("SQLiteStore ListSMSNotifications query failed", "error", err)
		return nil, fmt.Errorf("failed to query sms notifications: %w", err)
	}
	defer rows.Close()

	var out []models.SMSNotification
	for rows.Next() {
		var n models.SMSNotification
		var providerSID sql.NullString
		var sentAt sql.NullTime
		if err := rows.Scan(&n.ID, &n.CallSessionID, &n.RecipientPhone, &n.Body, &providerSID,
			&n.Status, &n.RetryCount, &sentAt, &n.CreatedAt); err != nil {
			slog.Error("SQLiteStore ListSMSNotifications scan failed", "error", err)
			return nil, fmt.Errorf("failed to scan sms notification row: %w", err)
		}
		n.ProviderSID = providerSID.String
		if sentAt.Valid {
			n.SentAt = &sentAt.Time
		}
		out = append(out, n)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate sms notification rows: %w", err)
	}
	return out, nil
}

// Close closes the SQLite database connection.
func (s *SQLiteStore) Close() error {
	slog.Debug("Closing SQLite database connection")
	err := s.db.Close()
	if err != nil {
		slog.Error("Failed to close SQLite database", "error", err)
	}
	return err
}
