package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	_ "modernc.org/sqlite"

	"github.com/sells-group/carrier-scraper/internal/model"
)

// SQLiteStore implements Store using modernc.org/sqlite.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLite opens a SQLite database at the given path and configures WAL mode.
func NewSQLite(dsn string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: open")
	}
	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA synchronous=NORMAL",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, eris.Wrapf(err, "sqlite: exec %s", pragma)
		}
	}
	return &SQLiteStore{db: db}, nil
}

const sqliteMigration = `
CREATE TABLE IF NOT EXISTS scraper_jobs (
	id              TEXT PRIMARY KEY,
	carrier         TEXT NOT NULL,
	name            TEXT NOT NULL,
	status          TEXT NOT NULL DEFAULT 'pending',
	total_records   INTEGER NOT NULL DEFAULT 0,
	scraped_records INTEGER NOT NULL DEFAULT 0,
	error_message   TEXT NOT NULL DEFAULT '',
	config          TEXT NOT NULL,
	requested_by    TEXT NOT NULL DEFAULT '',
	created_at      DATETIME NOT NULL,
	started_at      DATETIME,
	completed_at    DATETIME,
	updated_at      DATETIME NOT NULL
);

CREATE TABLE IF NOT EXISTS scraper_sessions (
	id               TEXT PRIMARY KEY,
	job_id           TEXT NOT NULL,
	status           TEXT NOT NULL DEFAULT 'initializing',
	browser_endpoint TEXT NOT NULL DEFAULT '',
	current_page     INTEGER NOT NULL DEFAULT 0,
	total_pages      INTEGER NOT NULL DEFAULT 0,
	scraped_count    INTEGER NOT NULL DEFAULT 0,
	error_message    TEXT NOT NULL DEFAULT '',
	login_deadline   DATETIME,
	created_at       DATETIME NOT NULL,
	updated_at       DATETIME NOT NULL
);

CREATE TABLE IF NOT EXISTS policy_records (
	id               INTEGER PRIMARY KEY AUTOINCREMENT,
	job_id           TEXT NOT NULL,
	policy_number    TEXT NOT NULL,
	applicant_name   TEXT NOT NULL DEFAULT '',
	plan_name        TEXT NOT NULL DEFAULT '',
	coverage_amount  TEXT NOT NULL DEFAULT '',
	status           TEXT NOT NULL DEFAULT '',
	issue_date       TEXT NOT NULL DEFAULT '',
	application_date TEXT NOT NULL DEFAULT '',
	premium          TEXT NOT NULL DEFAULT '',
	state            TEXT NOT NULL DEFAULT '',
	agent_name       TEXT NOT NULL DEFAULT '',
	agent_number     TEXT NOT NULL DEFAULT '',
	plan_code        TEXT NOT NULL DEFAULT '',
	date_of_birth    TEXT NOT NULL DEFAULT '',
	gender           TEXT NOT NULL DEFAULT '',
	age              INTEGER,
	notes            TEXT NOT NULL DEFAULT '',
	last_updated     TEXT NOT NULL DEFAULT '',
	raw_data         TEXT NOT NULL DEFAULT '{}',
	scraped_at       DATETIME NOT NULL,
	UNIQUE (job_id, policy_number)
);

CREATE INDEX IF NOT EXISTS idx_scraper_jobs_status ON scraper_jobs(status);
CREATE INDEX IF NOT EXISTS idx_scraper_sessions_job_id ON scraper_sessions(job_id);
CREATE INDEX IF NOT EXISTS idx_scraper_sessions_status ON scraper_sessions(status, updated_at);
CREATE INDEX IF NOT EXISTS idx_policy_records_job_id ON policy_records(job_id);
`

func (s *SQLiteStore) Migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, sqliteMigration)
	return eris.Wrap(err, "sqlite: migrate")
}

func (s *SQLiteStore) Ping(ctx context.Context) error {
	return persistErr(s.db.PingContext(ctx), "sqlite: ping")
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func sqlitePlaceholder(int) string { return "?" }

func (s *SQLiteStore) CreateJob(ctx context.Context, name, requestedBy string, cfg model.ScraperConfig) (*model.Job, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	stored := redactedConfig(cfg)
	cfgJSON, err := json.Marshal(stored)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: marshal config")
	}

	now := time.Now().UTC()
	job := &model.Job{
		ID:          uuid.New().String(),
		Carrier:     cfg.Carrier,
		Name:        name,
		Status:      model.JobStatusPending,
		Config:      stored,
		RequestedBy: requestedBy,
		CreatedAt:   now,
		UpdatedAt:   now,
	}

	_, err = s.db.ExecContext(ctx,
		`INSERT INTO scraper_jobs (id, carrier, name, status, config, requested_by, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		job.ID, job.Carrier, job.Name, string(job.Status), string(cfgJSON), job.RequestedBy, now, now,
	)
	if err != nil {
		return nil, persistErr(eris.Wrap(err, "sqlite: insert job"), "create job")
	}
	return job, nil
}

func (s *SQLiteStore) GetJob(ctx context.Context, jobID string) (*model.Job, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, carrier, name, status, total_records, scraped_records, error_message, config,
		        requested_by, created_at, started_at, completed_at, updated_at
		 FROM scraper_jobs WHERE id = ?`, jobID)

	var (
		j         model.Job
		cfgJSON   string
		started   sql.NullTime
		completed sql.NullTime
	)
	err := row.Scan(&j.ID, &j.Carrier, &j.Name, &j.Status, &j.TotalRecords, &j.ScrapedRecords,
		&j.ErrorMessage, &cfgJSON, &j.RequestedBy, &j.CreatedAt, &started, &completed, &j.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, notFound("job", jobID)
	}
	if err != nil {
		return nil, persistErr(eris.Wrapf(err, "sqlite: get job %s", jobID), "get job")
	}
	if err := json.Unmarshal([]byte(cfgJSON), &j.Config); err != nil {
		return nil, eris.Wrap(err, "sqlite: unmarshal config")
	}
	if started.Valid {
		j.StartedAt = &started.Time
	}
	if completed.Valid {
		j.CompletedAt = &completed.Time
	}
	return &j, nil
}

// UpdateJob applies a partial update. A missing job is a no-op: jobs can be
// deleted externally while a session is still running.
func (s *SQLiteStore) UpdateJob(ctx context.Context, jobID string, u model.JobUpdate) error {
	b := newSetBuilder(sqlitePlaceholder)
	jobSets(b, u, time.Now().UTC())
	b.args = append(b.args, jobID)

	res, err := s.db.ExecContext(ctx, fmt.Sprintf(`UPDATE scraper_jobs SET %s WHERE id = ?`, b.sql()), b.args...)
	if err != nil {
		return persistErr(eris.Wrapf(err, "sqlite: update job %s", jobID), "update job")
	}
	if n, _ := res.RowsAffected(); n == 0 {
		zap.L().Debug("sqlite: update of missing job ignored", zap.String("job_id", jobID))
	}
	return nil
}

func (s *SQLiteStore) CreateSession(ctx context.Context, jobID string) (*model.Session, error) {
	if _, err := s.GetJob(ctx, jobID); err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	sess := &model.Session{
		ID:        uuid.New().String(),
		JobID:     jobID,
		Status:    model.SessionInitializing,
		CreatedAt: now,
		UpdatedAt: now,
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO scraper_sessions (id, job_id, status, created_at, updated_at) VALUES (?, ?, ?, ?, ?)`,
		sess.ID, sess.JobID, string(sess.Status), now, now,
	)
	if err != nil {
		return nil, persistErr(eris.Wrapf(err, "sqlite: insert session for job %s", jobID), "create session")
	}
	return sess, nil
}

const sqliteSessionCols = `id, job_id, status, browser_endpoint, current_page, total_pages, scraped_count,
	error_message, login_deadline, created_at, updated_at`

func (s *SQLiteStore) GetSession(ctx context.Context, sessionID string) (*model.SessionWithJob, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+sqliteSessionCols+` FROM scraper_sessions WHERE id = ?`, sessionID)
	sess, err := scanSQLiteSession(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, notFound("session", sessionID)
	}
	if err != nil {
		return nil, persistErr(eris.Wrapf(err, "sqlite: get session %s", sessionID), "get session")
	}

	out := &model.SessionWithJob{Session: *sess}
	job, err := s.GetJob(ctx, sess.JobID)
	switch {
	case err == nil:
		out.Job = job
	case isNotFound(err):
	default:
		return nil, err
	}
	return out, nil
}

// UpdateSession applies a partial update. It fails with NotFound when the
// session does not exist and is a no-op when its job has been deleted.
func (s *SQLiteStore) UpdateSession(ctx context.Context, sessionID string, u model.SessionUpdate) error {
	b := newSetBuilder(sqlitePlaceholder)
	sessionSets(b, u, time.Now().UTC())
	b.args = append(b.args, sessionID)

	res, err := s.db.ExecContext(ctx, fmt.Sprintf(
		`UPDATE scraper_sessions SET %s WHERE id = ?
		 AND EXISTS (SELECT 1 FROM scraper_jobs j WHERE j.id = scraper_sessions.job_id)`, b.sql()), b.args...)
	if err != nil {
		return persistErr(eris.Wrapf(err, "sqlite: update session %s", sessionID), "update session")
	}
	n, err := res.RowsAffected()
	if err != nil {
		return persistErr(eris.Wrap(err, "sqlite: rows affected"), "update session")
	}
	if n > 0 {
		return nil
	}

	var one int
	err = s.db.QueryRowContext(ctx, `SELECT 1 FROM scraper_sessions WHERE id = ?`, sessionID).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return notFound("session", sessionID)
	}
	if err != nil {
		return persistErr(eris.Wrapf(err, "sqlite: check session %s", sessionID), "update session")
	}
	zap.L().Debug("sqlite: session update ignored, job deleted", zap.String("session_id", sessionID))
	return nil
}

func (s *SQLiteStore) ListSessions(ctx context.Context, filter SessionFilter) ([]model.Session, error) {
	query := `SELECT ` + sqliteSessionCols + ` FROM scraper_sessions WHERE 1=1`
	var args []any

	if filter.Status != "" {
		query += ` AND status = ?`
		args = append(args, string(filter.Status))
	}
	if !filter.UpdatedBefore.IsZero() {
		query += ` AND updated_at < ?`
		args = append(args, filter.UpdatedBefore.UTC())
	}
	query += ` ORDER BY created_at DESC`

	limit := filter.Limit
	if limit <= 0 {
		limit = 100
	}
	query += ` LIMIT ?`
	args = append(args, limit)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, persistErr(eris.Wrap(err, "sqlite: list sessions"), "list sessions")
	}
	defer rows.Close()

	var out []model.Session
	for rows.Next() {
		sess, err := scanSQLiteSession(rows)
		if err != nil {
			return nil, persistErr(eris.Wrap(err, "sqlite: scan session"), "list sessions")
		}
		out = append(out, *sess)
	}
	return out, persistErr(eris.Wrap(rows.Err(), "sqlite: list sessions iterate"), "list sessions")
}

func (s *SQLiteStore) UpsertPolicies(ctx context.Context, jobID string, records []model.PolicyRecord) (int, error) {
	records = dedupePolicies(records)
	if len(records) == 0 {
		return 0, nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, persistErr(eris.Wrap(err, "sqlite: begin tx"), "upsert policies")
	}
	defer tx.Rollback() //nolint:errcheck

	stmt, err := tx.PrepareContext(ctx, `INSERT INTO policy_records (
		job_id, policy_number, applicant_name, plan_name, coverage_amount, status, issue_date,
		application_date, premium, state, agent_name, agent_number, plan_code, date_of_birth,
		gender, age, notes, last_updated, raw_data, scraped_at
	) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	ON CONFLICT (job_id, policy_number) DO UPDATE SET
		applicant_name = excluded.applicant_name, plan_name = excluded.plan_name,
		coverage_amount = excluded.coverage_amount, status = excluded.status,
		issue_date = excluded.issue_date, application_date = excluded.application_date,
		premium = excluded.premium, state = excluded.state, agent_name = excluded.agent_name,
		agent_number = excluded.agent_number, plan_code = excluded.plan_code,
		date_of_birth = excluded.date_of_birth, gender = excluded.gender, age = excluded.age,
		notes = excluded.notes, last_updated = excluded.last_updated,
		raw_data = excluded.raw_data, scraped_at = excluded.scraped_at`)
	if err != nil {
		return 0, persistErr(eris.Wrap(err, "sqlite: prepare upsert"), "upsert policies")
	}
	defer stmt.Close()

	for _, r := range records {
		raw, err := json.Marshal(r.RawData)
		if err != nil {
			return 0, eris.Wrap(err, "sqlite: marshal raw data")
		}
		if _, err := stmt.ExecContext(ctx, policyValues(jobID, r, string(raw))...); err != nil {
			return 0, persistErr(eris.Wrapf(err, "sqlite: upsert policy %s", r.PolicyNumber), "upsert policies")
		}
	}
	if err := tx.Commit(); err != nil {
		return 0, persistErr(eris.Wrap(err, "sqlite: commit"), "upsert policies")
	}
	return len(records), nil
}

func (s *SQLiteStore) ListPolicies(ctx context.Context, jobID string) ([]model.PolicyRecord, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT
		job_id, policy_number, applicant_name, plan_name, coverage_amount, status, issue_date,
		application_date, premium, state, agent_name, agent_number, plan_code, date_of_birth,
		gender, age, notes, last_updated, raw_data, scraped_at
		FROM policy_records WHERE job_id = ? ORDER BY id`, jobID)
	if err != nil {
		return nil, persistErr(eris.Wrap(err, "sqlite: list policies"), "list policies")
	}
	defer rows.Close()

	var out []model.PolicyRecord
	for rows.Next() {
		var (
			r   model.PolicyRecord
			age sql.NullInt64
			raw string
		)
		if err := rows.Scan(&r.JobID, &r.PolicyNumber, &r.ApplicantName, &r.PlanName, &r.CoverageAmount,
			&r.Status, &r.IssueDate, &r.ApplicationDate, &r.Premium, &r.State, &r.AgentName,
			&r.AgentNumber, &r.PlanCode, &r.DateOfBirth, &r.Gender, &age, &r.Notes, &r.LastUpdated,
			&raw, &r.ScrapedAt); err != nil {
			return nil, persistErr(eris.Wrap(err, "sqlite: scan policy"), "list policies")
		}
		if age.Valid {
			a := int(age.Int64)
			r.Age = &a
		}
		if err := json.Unmarshal([]byte(raw), &r.RawData); err != nil {
			return nil, eris.Wrap(err, "sqlite: unmarshal raw data")
		}
		out = append(out, r)
	}
	return out, persistErr(eris.Wrap(rows.Err(), "sqlite: list policies iterate"), "list policies")
}

// helpers

type scannable interface {
	Scan(dest ...any) error
}

func scanSQLiteSession(row scannable) (*model.Session, error) {
	var (
		sess     model.Session
		deadline sql.NullTime
	)
	err := row.Scan(&sess.ID, &sess.JobID, &sess.Status, &sess.BrowserEndpoint, &sess.CurrentPage,
		&sess.TotalPages, &sess.ScrapedCount, &sess.ErrorMessage, &deadline, &sess.CreatedAt, &sess.UpdatedAt)
	if err != nil {
		return nil, err
	}
	if deadline.Valid {
		sess.LoginDeadline = &deadline.Time
	}
	return &sess, nil
}
