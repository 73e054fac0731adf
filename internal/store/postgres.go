package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/carrier-scraper/internal/db"
	"github.com/sells-group/carrier-scraper/internal/model"
)

// PostgresStore implements Store using pgxpool.
type PostgresStore struct {
	pool    db.Pool
	closeFn func()
}

// PoolConfig holds optional connection pool tuning parameters.
type PoolConfig struct {
	MaxConns int32 `yaml:"max_conns" mapstructure:"max_conns"`
	MinConns int32 `yaml:"min_conns" mapstructure:"min_conns"`
}

// NewPostgres creates a PostgresStore with a connection pool.
func NewPostgres(ctx context.Context, connString string, poolCfg *PoolConfig) (*PostgresStore, error) {
	pgxCfg, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: parse config")
	}

	maxConns := int32(10)
	minConns := int32(2)
	if poolCfg != nil {
		if poolCfg.MaxConns > 0 {
			maxConns = poolCfg.MaxConns
		}
		if poolCfg.MinConns > 0 {
			minConns = poolCfg.MinConns
		}
	}
	pgxCfg.MaxConns = maxConns
	pgxCfg.MinConns = minConns
	pgxCfg.MaxConnLifetime = 30 * time.Minute
	pgxCfg.MaxConnIdleTime = 5 * time.Minute

	pool, err := pgxpool.NewWithConfig(ctx, pgxCfg)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: create pool")
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, eris.Wrap(err, "postgres: ping")
	}
	return &PostgresStore{pool: pool, closeFn: pool.Close}, nil
}

const postgresMigration = `
CREATE TABLE IF NOT EXISTS scraper_jobs (
	id              TEXT PRIMARY KEY DEFAULT gen_random_uuid()::text,
	carrier         TEXT NOT NULL,
	name            TEXT NOT NULL,
	status          TEXT NOT NULL DEFAULT 'pending',
	total_records   INTEGER NOT NULL DEFAULT 0,
	scraped_records INTEGER NOT NULL DEFAULT 0,
	error_message   TEXT NOT NULL DEFAULT '',
	config          JSONB NOT NULL,
	requested_by    TEXT NOT NULL DEFAULT '',
	created_at      TIMESTAMPTZ NOT NULL DEFAULT now(),
	started_at      TIMESTAMPTZ,
	completed_at    TIMESTAMPTZ,
	updated_at      TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS scraper_sessions (
	id               TEXT PRIMARY KEY DEFAULT gen_random_uuid()::text,
	job_id           TEXT NOT NULL,
	status           TEXT NOT NULL DEFAULT 'initializing',
	browser_endpoint TEXT NOT NULL DEFAULT '',
	current_page     INTEGER NOT NULL DEFAULT 0,
	total_pages      INTEGER NOT NULL DEFAULT 0,
	scraped_count    INTEGER NOT NULL DEFAULT 0,
	error_message    TEXT NOT NULL DEFAULT '',
	login_deadline   TIMESTAMPTZ,
	created_at       TIMESTAMPTZ NOT NULL DEFAULT now(),
	updated_at       TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS policy_records (
	id               BIGSERIAL PRIMARY KEY,
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
	raw_data         JSONB NOT NULL DEFAULT '{}',
	scraped_at       TIMESTAMPTZ NOT NULL DEFAULT now(),
	UNIQUE (job_id, policy_number)
);

CREATE INDEX IF NOT EXISTS idx_scraper_jobs_status ON scraper_jobs(status);
CREATE INDEX IF NOT EXISTS idx_scraper_sessions_job_id ON scraper_sessions(job_id);
CREATE INDEX IF NOT EXISTS idx_scraper_sessions_status ON scraper_sessions(status, updated_at);
CREATE INDEX IF NOT EXISTS idx_policy_records_job_id ON policy_records(job_id);
`

func (s *PostgresStore) Ping(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, "SELECT 1")
	return persistErr(eris.Wrap(err, "postgres: ping"), "ping")
}

func (s *PostgresStore) Migrate(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, postgresMigration)
	return eris.Wrap(err, "postgres: migrate")
}

func (s *PostgresStore) Close() error {
	if s.closeFn != nil {
		s.closeFn()
	}
	return nil
}

func pgPlaceholder(n int) string { return "$" + strconv.Itoa(n) }

const pgJobCols = `id, carrier, name, status, total_records, scraped_records, error_message, config,
	requested_by, created_at, started_at, completed_at, updated_at`

const pgSessionCols = `id, job_id, status, browser_endpoint, current_page, total_pages, scraped_count,
	error_message, login_deadline, created_at, updated_at`

func (s *PostgresStore) CreateJob(ctx context.Context, name, requestedBy string, cfg model.ScraperConfig) (*model.Job, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	stored := redactedConfig(cfg)
	cfgJSON, err := json.Marshal(stored)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: marshal config")
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

	_, err = s.pool.Exec(ctx,
		`INSERT INTO scraper_jobs (id, carrier, name, status, config, requested_by, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		job.ID, job.Carrier, job.Name, string(job.Status), cfgJSON, job.RequestedBy, now, now,
	)
	if err != nil {
		return nil, persistErr(eris.Wrap(err, "postgres: insert job"), "create job")
	}
	return job, nil
}

func (s *PostgresStore) GetJob(ctx context.Context, jobID string) (*model.Job, error) {
	var (
		j       model.Job
		status  string
		cfgJSON []byte
	)
	err := s.pool.QueryRow(ctx, `SELECT `+pgJobCols+` FROM scraper_jobs WHERE id = $1`, jobID).Scan(
		&j.ID, &j.Carrier, &j.Name, &status, &j.TotalRecords, &j.ScrapedRecords, &j.ErrorMessage,
		&cfgJSON, &j.RequestedBy, &j.CreatedAt, &j.StartedAt, &j.CompletedAt, &j.UpdatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, notFound("job", jobID)
	}
	if err != nil {
		return nil, persistErr(eris.Wrapf(err, "postgres: get job %s", jobID), "get job")
	}
	j.Status = model.JobStatus(status)
	if err := json.Unmarshal(cfgJSON, &j.Config); err != nil {
		return nil, eris.Wrap(err, "postgres: unmarshal config")
	}
	return &j, nil
}

// UpdateJob applies a partial update; a missing job is a no-op.
func (s *PostgresStore) UpdateJob(ctx context.Context, jobID string, u model.JobUpdate) error {
	b := newSetBuilder(pgPlaceholder)
	jobSets(b, u, time.Now().UTC())
	where := b.next()
	b.args = append(b.args, jobID)

	tag, err := s.pool.Exec(ctx, fmt.Sprintf(`UPDATE scraper_jobs SET %s WHERE id = %s`, b.sql(), where), b.args...)
	if err != nil {
		return persistErr(eris.Wrapf(err, "postgres: update job %s", jobID), "update job")
	}
	if tag.RowsAffected() == 0 {
		zap.L().Debug("postgres: update of missing job ignored", zap.String("job_id", jobID))
	}
	return nil
}

func (s *PostgresStore) CreateSession(ctx context.Context, jobID string) (*model.Session, error) {
	now := time.Now().UTC()
	sess := &model.Session{
		ID:        uuid.New().String(),
		JobID:     jobID,
		Status:    model.SessionInitializing,
		CreatedAt: now,
		UpdatedAt: now,
	}
	tag, err := s.pool.Exec(ctx,
		`INSERT INTO scraper_sessions (id, job_id, status, created_at, updated_at)
		 SELECT $1, $2, $3, $4, $5 WHERE EXISTS (SELECT 1 FROM scraper_jobs WHERE id = $2)`,
		sess.ID, sess.JobID, string(sess.Status), now, now,
	)
	if err != nil {
		return nil, persistErr(eris.Wrapf(err, "postgres: insert session for job %s", jobID), "create session")
	}
	if tag.RowsAffected() == 0 {
		return nil, notFound("job", jobID)
	}
	return sess, nil
}

func (s *PostgresStore) GetSession(ctx context.Context, sessionID string) (*model.SessionWithJob, error) {
	sess, err := scanPgSession(s.pool.QueryRow(ctx, `SELECT `+pgSessionCols+` FROM scraper_sessions WHERE id = $1`, sessionID))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, notFound("session", sessionID)
	}
	if err != nil {
		return nil, persistErr(eris.Wrapf(err, "postgres: get session %s", sessionID), "get session")
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
func (s *PostgresStore) UpdateSession(ctx context.Context, sessionID string, u model.SessionUpdate) error {
	b := newSetBuilder(pgPlaceholder)
	sessionSets(b, u, time.Now().UTC())
	where := b.next()
	b.args = append(b.args, sessionID)

	tag, err := s.pool.Exec(ctx, fmt.Sprintf(
		`UPDATE scraper_sessions SET %s WHERE id = %s
		 AND EXISTS (SELECT 1 FROM scraper_jobs j WHERE j.id = scraper_sessions.job_id)`, b.sql(), where), b.args...)
	if err != nil {
		return persistErr(eris.Wrapf(err, "postgres: update session %s", sessionID), "update session")
	}
	if tag.RowsAffected() > 0 {
		return nil
	}

	var one int
	err = s.pool.QueryRow(ctx, `SELECT 1 FROM scraper_sessions WHERE id = $1`, sessionID).Scan(&one)
	if errors.Is(err, pgx.ErrNoRows) {
		return notFound("session", sessionID)
	}
	if err != nil {
		return persistErr(eris.Wrapf(err, "postgres: check session %s", sessionID), "update session")
	}
	zap.L().Debug("postgres: session update ignored, job deleted", zap.String("session_id", sessionID))
	return nil
}

func (s *PostgresStore) ListSessions(ctx context.Context, filter SessionFilter) ([]model.Session, error) {
	query := `SELECT ` + pgSessionCols + ` FROM scraper_sessions WHERE 1=1`
	var args []any

	if filter.Status != "" {
		args = append(args, string(filter.Status))
		query += ` AND status = ` + pgPlaceholder(len(args))
	}
	if !filter.UpdatedBefore.IsZero() {
		args = append(args, filter.UpdatedBefore.UTC())
		query += ` AND updated_at < ` + pgPlaceholder(len(args))
	}
	limit := filter.Limit
	if limit <= 0 {
		limit = 100
	}
	args = append(args, limit)
	query += ` ORDER BY created_at DESC LIMIT ` + pgPlaceholder(len(args))

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, persistErr(eris.Wrap(err, "postgres: list sessions"), "list sessions")
	}
	defer rows.Close()

	var out []model.Session
	for rows.Next() {
		sess, err := scanPgSession(rows)
		if err != nil {
			return nil, persistErr(eris.Wrap(err, "postgres: scan session"), "list sessions")
		}
		out = append(out, *sess)
	}
	return out, persistErr(eris.Wrap(rows.Err(), "postgres: list sessions iterate"), "list sessions")
}

// UpsertPolicies writes records through a COPY-backed bulk upsert keyed on
// (job_id, policy_number).
func (s *PostgresStore) UpsertPolicies(ctx context.Context, jobID string, records []model.PolicyRecord) (int, error) {
	records = dedupePolicies(records)
	if len(records) == 0 {
		return 0, nil
	}

	rows := make([][]any, 0, len(records))
	for _, r := range records {
		raw, err := json.Marshal(r.RawData)
		if err != nil {
			return 0, eris.Wrap(err, "postgres: marshal raw data")
		}
		rows = append(rows, policyValues(jobID, r, raw))
	}

	if _, err := db.BulkUpsert(ctx, s.pool, db.UpsertConfig{
		Table:        "policy_records",
		Columns:      policyColumns,
		ConflictKeys: []string{"job_id", "policy_number"},
	}, rows); err != nil {
		return 0, persistErr(err, "upsert policies")
	}
	return len(records), nil
}

func (s *PostgresStore) ListPolicies(ctx context.Context, jobID string) ([]model.PolicyRecord, error) {
	rows, err := s.pool.Query(ctx, `SELECT
		job_id, policy_number, applicant_name, plan_name, coverage_amount, status, issue_date,
		application_date, premium, state, agent_name, agent_number, plan_code, date_of_birth,
		gender, age, notes, last_updated, raw_data, scraped_at
		FROM policy_records WHERE job_id = $1 ORDER BY id`, jobID)
	if err != nil {
		return nil, persistErr(eris.Wrap(err, "postgres: list policies"), "list policies")
	}
	defer rows.Close()

	var out []model.PolicyRecord
	for rows.Next() {
		var (
			r   model.PolicyRecord
			raw []byte
		)
		if err := rows.Scan(&r.JobID, &r.PolicyNumber, &r.ApplicantName, &r.PlanName, &r.CoverageAmount,
			&r.Status, &r.IssueDate, &r.ApplicationDate, &r.Premium, &r.State, &r.AgentName,
			&r.AgentNumber, &r.PlanCode, &r.DateOfBirth, &r.Gender, &r.Age, &r.Notes, &r.LastUpdated,
			&raw, &r.ScrapedAt); err != nil {
			return nil, persistErr(eris.Wrap(err, "postgres: scan policy"), "list policies")
		}
		if len(raw) > 0 {
			if err := json.Unmarshal(raw, &r.RawData); err != nil {
				return nil, eris.Wrap(err, "postgres: unmarshal raw data")
			}
		}
		out = append(out, r)
	}
	return out, persistErr(eris.Wrap(rows.Err(), "postgres: list policies iterate"), "list policies")
}

func scanPgSession(row pgx.Row) (*model.Session, error) {
	var (
		sess   model.Session
		status string
	)
	err := row.Scan(&sess.ID, &sess.JobID, &status, &sess.BrowserEndpoint, &sess.CurrentPage,
		&sess.TotalPages, &sess.ScrapedCount, &sess.ErrorMessage, &sess.LoginDeadline,
		&sess.CreatedAt, &sess.UpdatedAt)
	if err != nil {
		return nil, err
	}
	sess.Status = model.SessionStatus(status)
	return &sess, nil
}
