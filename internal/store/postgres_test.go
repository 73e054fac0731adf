package store

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/carrier-scraper/internal/apperr"
	"github.com/sells-group/carrier-scraper/internal/model"
)

// newMockPostgresStore creates a PostgresStore backed by pgxmock for unit testing.
func newMockPostgresStore(t *testing.T) (*PostgresStore, pgxmock.PgxPoolIface) {
	t.Helper()
	mock, err := pgxmock.NewPool(pgxmock.QueryMatcherOption(pgxmock.QueryMatcherRegexp))
	require.NoError(t, err)
	t.Cleanup(func() { mock.Close() })

	s := &PostgresStore{pool: mock}
	return s, mock
}

var sessionColumns = []string{
	"id", "job_id", "status", "browser_endpoint", "current_page", "total_pages", "scraped_count",
	"error_message", "login_deadline", "created_at", "updated_at",
}

var jobColumns = []string{
	"id", "carrier", "name", "status", "total_records", "scraped_records", "error_message", "config",
	"requested_by", "created_at", "started_at", "completed_at", "updated_at",
}

func TestPostgresStore_CreateJob(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectExec(`INSERT INTO scraper_jobs`).
		WithArgs(pgxmock.AnyArg(), "GTL", "nightly", "pending", pgxmock.AnyArg(), "ops", pgxmock.AnyArg(), pgxmock.AnyArg()).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	job, err := s.CreateJob(context.Background(), "nightly", "ops", testConfig())
	require.NoError(t, err)
	assert.Equal(t, model.JobStatusPending, job.Status)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_CreateJob_ValidationBeforeInsert(t *testing.T) {
	s, mock := newMockPostgresStore(t)
	cfg := testConfig()
	cfg.LoginURL = ""

	_, err := s.CreateJob(context.Background(), "nightly", "ops", cfg)
	require.Error(t, err)
	assert.True(t, apperr.Is(err, apperr.Validation))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_GetJob_NotFound(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectQuery(`SELECT .* FROM scraper_jobs WHERE id = \$1`).
		WithArgs("nope").
		WillReturnError(pgx.ErrNoRows)

	_, err := s.GetJob(context.Background(), "nope")
	require.Error(t, err)
	assert.True(t, apperr.Is(err, apperr.NotFound))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_GetSession_Joined(t *testing.T) {
	s, mock := newMockPostgresStore(t)
	now := time.Now().UTC()

	mock.ExpectQuery(`SELECT .* FROM scraper_sessions WHERE id = \$1`).
		WithArgs("sess-1").
		WillReturnRows(pgxmock.NewRows(sessionColumns).
			AddRow("sess-1", "job-1", "scraping", "ws://x", 3, 10, 60, "", (*time.Time)(nil), now, now))
	mock.ExpectQuery(`SELECT .* FROM scraper_jobs WHERE id = \$1`).
		WithArgs("job-1").
		WillReturnRows(pgxmock.NewRows(jobColumns).
			AddRow("job-1", "GTL", "nightly", "in_progress", 0, 60, "", []byte(`{"carrier":"GTL"}`),
				"ops", now, &now, (*time.Time)(nil), now))

	got, err := s.GetSession(context.Background(), "sess-1")
	require.NoError(t, err)
	assert.Equal(t, model.SessionScraping, got.Status)
	assert.Equal(t, 3, got.CurrentPage)
	require.NotNil(t, got.Job)
	assert.Equal(t, model.JobStatusInProgress, got.Job.Status)
	assert.Equal(t, "GTL", got.Job.Config.Carrier)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_UpdateSession_NotFound(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectExec(`UPDATE scraper_sessions SET current_page = \$1, updated_at = \$2 WHERE id = \$3`).
		WithArgs(4, pgxmock.AnyArg(), "sess-x").
		WillReturnResult(pgxmock.NewResult("UPDATE", 0))
	mock.ExpectQuery(`SELECT 1 FROM scraper_sessions WHERE id = \$1`).
		WithArgs("sess-x").
		WillReturnError(pgx.ErrNoRows)

	err := s.UpdateSession(context.Background(), "sess-x", model.SessionUpdate{CurrentPage: model.Ptr(4)})
	require.Error(t, err)
	assert.True(t, apperr.Is(err, apperr.NotFound))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_UpdateSession_JobDeletedIsNoop(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectExec(`UPDATE scraper_sessions SET status = \$1`).
		WithArgs("failed", pgxmock.AnyArg(), "sess-1").
		WillReturnResult(pgxmock.NewResult("UPDATE", 0))
	mock.ExpectQuery(`SELECT 1 FROM scraper_sessions WHERE id = \$1`).
		WithArgs("sess-1").
		WillReturnRows(pgxmock.NewRows([]string{"?column?"}).AddRow(1))

	err := s.UpdateSession(context.Background(), "sess-1", model.SessionUpdate{Status: model.Ptr(model.SessionFailed)})
	assert.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_UpdateJob_Persistence(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectExec(`UPDATE scraper_jobs SET status = \$1, updated_at = \$2 WHERE id = \$3`).
		WithArgs("failed", pgxmock.AnyArg(), "job-1").
		WillReturnError(errors.New("connection refused"))

	err := s.UpdateJob(context.Background(), "job-1", model.JobUpdate{Status: model.Ptr(model.JobStatusFailed)})
	require.Error(t, err)
	assert.True(t, apperr.Is(err, apperr.Persistence))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_CreateSession_UnknownJob(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectExec(`INSERT INTO scraper_sessions`).
		WithArgs(pgxmock.AnyArg(), "job-x", "initializing", pgxmock.AnyArg(), pgxmock.AnyArg()).
		WillReturnResult(pgxmock.NewResult("INSERT", 0))

	_, err := s.CreateSession(context.Background(), "job-x")
	require.Error(t, err)
	assert.True(t, apperr.Is(err, apperr.NotFound))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_UpsertPolicies(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectBegin()
	mock.ExpectExec(`CREATE TEMP TABLE`).WillReturnResult(pgxmock.NewResult("CREATE", 0))
	mock.ExpectCopyFrom(pgx.Identifier{"_tmp_upsert_policy_records"}, policyColumns).WillReturnResult(2)
	mock.ExpectExec(`ON CONFLICT \("job_id", "policy_number"\) DO UPDATE`).
		WillReturnResult(pgxmock.NewResult("INSERT", 2))
	mock.ExpectCommit()

	n, err := s.UpsertPolicies(context.Background(), "job-1", []model.PolicyRecord{
		{PolicyNumber: "P1"}, {PolicyNumber: "P2"}, {PolicyNumber: "P1", Status: "Issued"},
	})
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_ListSessions_Filter(t *testing.T) {
	s, mock := newMockPostgresStore(t)
	now := time.Now().UTC()

	mock.ExpectQuery(`FROM scraper_sessions WHERE 1=1 AND status = \$1 AND updated_at < \$2 ORDER BY created_at DESC LIMIT \$3`).
		WithArgs("waiting_for_login", pgxmock.AnyArg(), 100).
		WillReturnRows(pgxmock.NewRows(sessionColumns).
			AddRow("sess-1", "job-1", "waiting_for_login", "", 0, 0, 0, "", &now, now, now))

	got, err := s.ListSessions(context.Background(), SessionFilter{
		Status:        model.SessionWaitingForLogin,
		UpdatedBefore: now,
	})
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, model.SessionWaitingForLogin, got[0].Status)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestDedupePolicies(t *testing.T) {
	out := dedupePolicies([]model.PolicyRecord{
		{PolicyNumber: "A", Status: "1"},
		{PolicyNumber: "B"},
		{PolicyNumber: ""},
		{PolicyNumber: "A", Status: "2"},
	})
	require.Len(t, out, 2)
	assert.Equal(t, "A", out[0].PolicyNumber)
	assert.Equal(t, "2", out[0].Status)
	assert.Equal(t, "B", out[1].PolicyNumber)
}
