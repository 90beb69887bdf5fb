// Package store provides storage backends for CallPipe.
//
// This file implements the PostgreSQL-backed store.
package store

import (
	"database/sql"
	"fmt"
	"log/slog"
	"time"

	_ "embed"

	"github.com/BTreeMap/CallPipe/internal/models"
	_ "github.com/lib/pq"
)

// Database connection pool configuration constants
const (
	// DefaultMaxOpenConns is the default maximum number of open connections to the database
	DefaultMaxOpenConns = 25
	// DefaultMaxIdleConns is the default maximum number of idle connections in the pool
	DefaultMaxIdleConns = 25
	// DefaultConnMaxLifetime is the default maximum amount of time a connection may be reused
	DefaultConnMaxLifetime = 5 * time.Minute
)

//go:embed migrations_postgres.sql
var postgresMigrations string

type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore creates a new Postgres store based on provided options.
func NewPostgresStore(opts ...Option) (*PostgresStore, error) {
	var cfg Opts
	for _, opt := range opts {
		opt(&cfg)
	}
	slog.Debug("PostgresStore.NewPostgresStore: creating Postgres store", "DSN_set", cfg.DSN != "")

	dsn := cfg.DSN
	if dsn == "" {
		slog.Error("PostgresStore DSN not set")
		return nil, fmt.Errorf("database DSN not set")
	}

	db, err := sql.Open("postgres", dsn)
	if err != nil {
		slog.Error("Failed to open Postgres connection", "error", err)
		return nil, err
	}

	db.SetMaxOpenConns(DefaultMaxOpenConns)
	db.SetMaxIdleConns(DefaultMaxIdleConns)
	db.SetConnMaxLifetime(DefaultConnMaxLifetime)

	if err := db.Ping(); err != nil {
		slog.Error("Postgres ping failed", "error", err)
		return nil, err
	}

	slog.Debug("Running Postgres migrations")
	if _, err := db.Exec(postgresMigrations); err != nil {
		slog.Error("Failed to run migrations", "error", err)
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}
	slog.Debug("Postgres migrations applied successfully")
	return &PostgresStore{db: db}, nil
}

func (s *PostgresStore) SaveScenario(scn models.Scenario) error {
	data, err := marshalScenarioData(scn)
	if err != nil {
		slog.Error("PostgresStore SaveScenario marshal failed", "error", err, "scenarioID", scn.ID)
		return err
	}
	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("failed to begin scenario save: %w", err)
	}
	defer tx.Rollback()

	if scn.IsActive {
		// A single scenario is active at a time.
		if _, err := tx.Exec(`UPDATE scenarios SET is_active = FALSE WHERE id != $1`, scn.ID); err != nil {
			slog.Error("PostgresStore SaveScenario deactivate failed", "error", err, "scenarioID", scn.ID)
			return fmt.Errorf("failed to deactivate other scenarios: %w", err)
		}
	}
	_, err = tx.Exec(`
		INSERT INTO scenarios (id, name, description, scenario_data, is_active, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (id) DO UPDATE SET
			name = EXCLUDED.name, description = EXCLUDED.description,
			scenario_data = EXCLUDED.scenario_data, is_active = EXCLUDED.is_active,
			updated_at = EXCLUDED.updated_at`,
		scn.ID, scn.Name, nilIfEmpty(scn.Description), data, scn.IsActive, scn.CreatedAt, scn.UpdatedAt)
	if err != nil {
		slog.Error("PostgresStore SaveScenario failed", "error", err, "scenarioID", scn.ID)
		return fmt.Errorf("failed to save scenario %s: %w", scn.ID, err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit scenario save: %w", err)
	}
	slog.Debug("PostgresStore SaveScenario succeeded", "scenarioID", scn.ID, "active", scn.IsActive)
	return nil
}

func scanScenarioRow(row *sql.Row) (*models.Scenario, error) {
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

func (s *PostgresStore) GetScenario(id string) (*models.Scenario, error) {
	row := s.db.QueryRow(`SELECT id, name, description, scenario_data, is_active, created_at, updated_at FROM scenarios WHERE id = $1`, id)
	scn, err := scanScenarioRow(row)
	if err != nil {
		slog.Error("PostgresStore GetScenario failed", "error", err, "scenarioID", id)
		return nil, err
	}
	return scn, nil
}

func (s *PostgresStore) GetActiveScenario() (*models.Scenario, error) {
	row := s.db.QueryRow(`SELECT id, name, description, scenario_data, is_active, created_at, updated_at FROM scenarios WHERE is_active = TRUE LIMIT 1`)
	scn, err := scanScenarioRow(row)
	if err != nil {
		slog.Error("PostgresStore GetActiveScenario failed", "error", err)
		return nil, err
	}
	return scn, nil
}

func (s *PostgresStore) ListScenarios() ([]models.Scenario, error) {
	rows, err := s.db.Query(`SELECT id, name, description, scenario_data, is_active, created_at, updated_at FROM scenarios ORDER BY created_at`)
	if err != nil {
		slog.Error("PostgresStore ListScenarios query failed", "error", err)
		return nil, fmt.Errorf("failed to query scenarios: %w", err)
	}
	defer rows.Close()

	var out []models.Scenario
	for rows.Next() {
		var scn models.Scenario
		var description sql.NullString
		var data string
		if err := rows.Scan(&scn.ID, &scn.Name, &description, &data, &scn.IsActive, &scn.CreatedAt, &scn.UpdatedAt); err != nil {
			slog.Error("PostgresStore ListScenarios scan failed", "error", err)
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
	return out, nil
}

func (s *PostgresStore) AddPhoneNumber(p models.PhoneNumber) error {
	_, err := s.db.Exec(`
		INSERT INTO phone_numbers (id, phone_number, status, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (id) DO UPDATE SET
			phone_number = EXCLUDED.phone_number, status = EXCLUDED.status, updated_at = EXCLUDED.updated_at`,
		p.ID, p.PhoneNumber, p.Status, p.CreatedAt, p.UpdatedAt)
	if err != nil {
		slog.Error("PostgresStore AddPhoneNumber failed", "error", err, "phoneNumberID", p.ID)
		return fmt.Errorf("failed to insert phone number %s: %w", p.ID, err)
	}
	return nil
}

func (s *PostgresStore) ClaimPendingPhoneNumbers(limit int) ([]models.PhoneNumber, error) {
	// FOR UPDATE SKIP LOCKED lets concurrent dialers claim disjoint batches.
	rows, err := s.db.Query(`
		UPDATE phone_numbers SET status = 'calling', updated_at = NOW()
		WHERE id IN (
			SELECT id FROM phone_numbers WHERE status = 'pending'
			ORDER BY created_at LIMIT $1 FOR UPDATE SKIP LOCKED
		)
		RETURNING id, phone_number, status, created_at, updated_at`, limit)
	if err != nil {
		slog.Error("PostgresStore ClaimPendingPhoneNumbers failed", "error", err)
		return nil, fmt.Errorf("failed to claim pending phone numbers: %w", err)
	}
	defer rows.Close()

	var claimed []models.PhoneNumber
	for rows.Next() {
		var p models.PhoneNumber
		if err := rows.Scan(&p.ID, &p.PhoneNumber, &p.Status, &p.CreatedAt, &p.UpdatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan phone number row: %w", err)
		}
		claimed = append(claimed, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate phone number rows: %w", err)
	}
	slog.Debug("PostgresStore ClaimPendingPhoneNumbers succeeded", "claimed", len(claimed))
	return claimed, nil
}

func (s *PostgresStore) UpdatePhoneNumberStatus(id string, status models.PhoneNumberStatus) error {
	_, err := s.db.Exec(`UPDATE phone_numbers SET status = $1, updated_at = NOW() WHERE id = $2`, status, id)
	if err != nil {
		slog.Error("PostgresStore UpdatePhoneNumberStatus failed", "error", err, "phoneNumberID", id, "status", status)
		return fmt.Errorf("failed to update phone number %s: %w", id, err)
	}
	return nil
}

func (s *PostgresStore) UpdatePhoneNumberStatusByNumber(phone string, status models.PhoneNumberStatus) error {
	_, err := s.db.Exec(`UPDATE phone_numbers SET status = $1, updated_at = NOW() WHERE phone_number = $2`, status, phone)
	if err != nil {
		slog.Error("PostgresStore UpdatePhoneNumberStatusByNumber failed", "error", err, "phone", phone, "status", status)
		return fmt.Errorf("failed to update phone number %s: %w", phone, err)
	}
	return nil
}

func (s *PostgresStore) SaveCallSession(sess models.CallSession) error {
	answers, err := marshalAnswers(sess.Answers)
	if err != nil {
		slog.Error("PostgresStore SaveCallSession marshal failed", "error", err, "sessionID", sess.ID)
		return err
	}
	_, err = s.db.Exec(`
		INSERT INTO call_sessions (id, scenario_id, phone_number, provider_call_sid, current_question_id, answers, status, retries, started_at, completed_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		ON CONFLICT (id) DO UPDATE SET
			provider_call_sid = EXCLUDED.provider_call_sid,
			current_question_id = EXCLUDED.current_question_id,
			answers = EXCLUDED.answers, status = EXCLUDED.status,
			retries = EXCLUDED.retries, completed_at = EXCLUDED.completed_at`,
		sess.ID, sess.ScenarioID, sess.PhoneNumber, nilIfEmpty(sess.ProviderCallSID),
		nilIfEmpty(sess.CurrentQuestionID), nilIfEmpty(answers), sess.Status, sess.Retries,
		sess.StartedAt, sess.CompletedAt)
	if err != nil {
		slog.Error("PostgresStore SaveCallSession failed", "error", err, "sessionID", sess.ID)
		return fmt.Errorf("failed to save call session %s: %w", sess.ID, err)
	}
	slog.Debug("PostgresStore SaveCallSession succeeded", "sessionID", sess.ID, "status", sess.Status)
	return nil
}

func scanCallSessionRow(row *sql.Row) (*models.CallSession, error) {
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

func (s *PostgresStore) GetCallSession(id string) (*models.CallSession, error) {
	row := s.db.QueryRow(`SELECT id, scenario_id, phone_number, provider_call_sid, current_question_id, answers, status, retries, started_at, completed_at FROM call_sessions WHERE id = $1`, id)
	sess, err := scanCallSessionRow(row)
	if err != nil {
		slog.Error("PostgresStore GetCallSession failed", "error", err, "sessionID", id)
		return nil, err
	}
	return sess, nil
}

func (s *PostgresStore) GetCallSessionByProviderSID(sid string) (*models.CallSession, error) {
	row := s.db.QueryRow(`SELECT id, scenario_id, phone_number, provider_call_sid, current_question_id, answers, status, retries, started_at, completed_at FROM call_sessions WHERE provider_call_sid = $1`, sid)
	sess, err := scanCallSessionRow(row)
	if err != nil {
		slog.Error("PostgresStore GetCallSessionByProviderSID failed", "error", err, "providerSID", sid)
		return nil, err
	}
	return sess, nil
}

func (s *PostgresStore) ListCallSessions(scenarioID string, status models.CallStatus) ([]models.CallSession, error) {
	query := `SELECT id, scenario_id, phone_number, provider_call_sid, current_question_id, answers, status, retries, started_at, completed_at FROM call_sessions WHERE 1=1`
	var args []interface{}
	if scenarioID != "" {
		args = append(args, scenarioID)
		query += fmt.Sprintf(` AND scenario_id = $%d`, len(args))
	}
	if status != "" {
		args = append(args, status)
		query += fmt.Sprintf(` AND status = $%d`, len(args))
	}
	query += ` ORDER BY started_at`

	rows, err := s.db.Query(query, args...)
	if err != nil {
		slog.Error("PostgresStore ListCallSessions query failed", "error", err)
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
			slog.Error("PostgresStore ListCallSessions scan failed", "error", err)
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
	return out, nil
}

func (s *PostgresStore) SaveSMSNotification(n models.SMSNotification) error {
	_, err := s.db.Exec(`
		INSERT INTO sms_notifications (id, call_session_id, recipient_phone, body, provider_sid, status, retry_count, sent_at, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		ON CONFLICT (id) DO UPDATE SET
			provider_sid = EXCLUDED.provider_sid, status = EXCLUDED.status,
			retry_count = EXCLUDED.retry_count, sent_at = EXCLUDED.sent_at`,
		n.ID, n.CallSessionID, n.RecipientPhone, n.Body, nilIfEmpty(n.ProviderSID),
		n.Status, n.RetryCount, n.SentAt, n.CreatedAt)
	if err != nil {
		slog.Error("PostgresStore SaveSMSNotification failed", "error", err, "notificationID", n.ID)
		return fmt.Errorf("failed to save sms notification %s: %w", n.ID, err)
	}
	return nil
}

func (s *PostgresStore) ListSMSNotifications(callSessionID string) ([]models.SMSNotification, error) {
	rows, err := s.db.Query(`SELECT id, call_session_id, recipient_phone, body, provider_sid, status, retry_count, sent_at, created_at FROM sms_notifications WHERE call_session_id = $1 ORDER BY created_at`, callSessionID)
	if err != nil {
		slog.Error("PostgresStore ListSMSNotifications query failed", "error", err)
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
			slog.Error("PostgresStore ListSMSNotifications scan failed", "error", err)
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

// Close closes the Postgres database connection.
func (s *PostgresStore) Close() error {
	slog.Debug("Closing Postgres database connection")
	return s.db.Close()
}
