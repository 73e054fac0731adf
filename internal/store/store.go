package store

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/sells-group/carrier-scraper/internal/apperr"
	"github.com/sells-group/carrier-scraper/internal/model"
)

// SessionFilter specifies criteria for listing sessions.
type SessionFilter struct {
	Status        model.SessionStatus `json:"status,omitempty"`
	UpdatedBefore time.Time           `json:"updated_before,omitempty"`
	Limit         int                 `json:"limit,omitempty"`
}

// Store persists scraper jobs, sessions and policy records. It performs no
// network calls beyond its own database.
type Store interface {
	// Jobs
	CreateJob(ctx context.Context, name, requestedBy string, cfg model.ScraperConfig) (*model.Job, error)
	GetJob(ctx context.Context, jobID string) (*model.Job, error)
	UpdateJob(ctx context.Context, jobID string, u model.JobUpdate) error

	// Sessions
	CreateSession(ctx context.Context, jobID string) (*model.Session, error)
	GetSession(ctx context.Context, sessionID string) (*model.SessionWithJob, error)
	UpdateSession(ctx context.Context, sessionID string, u model.SessionUpdate) error
	ListSessions(ctx context.Context, filter SessionFilter) ([]model.Session, error)

	// Policies
	UpsertPolicies(ctx context.Context, jobID string, records []model.PolicyRecord) (int, error)
	ListPolicies(ctx context.Context, jobID string) ([]model.PolicyRecord, error)

	// Lifecycle
	Migrate(ctx context.Context) error
	Ping(ctx context.Context) error
	Close() error
}

func persistErr(err error, msg string) error {
	return apperr.Wrap(apperr.Persistence, err, msg)
}

func notFound(entity, id string) error {
	return apperr.New(apperr.NotFound, fmt.Sprintf("%s not found: %s", entity, id))
}

// setBuilder accumulates "col = $n" clauses for partial updates.
type setBuilder struct {
	placeholder func(n int) string
	clauses     []string
	args        []any
}

func newSetBuilder(placeholder func(n int) string) *setBuilder {
	return &setBuilder{placeholder: placeholder}
}

func (b *setBuilder) add(col string, v any) {
	b.args = append(b.args, v)
	b.clauses = append(b.clauses, col+" = "+b.placeholder(len(b.args)))
}

func (b *setBuilder) next() string {
	return b.placeholder(len(b.args) + 1)
}

func (b *setBuilder) sql() string {
	return strings.Join(b.clauses, ", ")
}

func sessionSets(b *setBuilder, u model.SessionUpdate, now time.Time) {
	if u.Status != nil {
		b.add("status", string(*u.Status))
	}
	if u.BrowserEndpoint != nil {
		b.add("browser_endpoint", *u.BrowserEndpoint)
	}
	if u.CurrentPage != nil {
		b.add("current_page", *u.CurrentPage)
	}
	if u.TotalPages != nil {
		b.add("total_pages", *u.TotalPages)
	}
	if u.ScrapedCount != nil {
		b.add("scraped_count", *u.ScrapedCount)
	}
	if u.ErrorMessage != nil {
		b.add("error_message", *u.ErrorMessage)
	}
	if u.LoginDeadline != nil {
		b.add("login_deadline", u.LoginDeadline.UTC())
	}
	b.add("updated_at", now)
}

func jobSets(b *setBuilder, u model.JobUpdate, now time.Time) {
	if u.Status != nil {
		b.add("status", string(*u.Status))
	}
	if u.TotalRecords != nil {
		b.add("total_records", *u.TotalRecords)
	}
	if u.ScrapedRecords != nil {
		b.add("scraped_records", *u.ScrapedRecords)
	}
	if u.ErrorMessage != nil {
		b.add("error_message", *u.ErrorMessage)
	}
	if u.StartedAt != nil {
		b.add("started_at", u.StartedAt.UTC())
	}
	if u.CompletedAt != nil {
		b.add("completed_at", u.CompletedAt.UTC())
	}
	b.add("updated_at", now)
}

// dedupePolicies keeps the last record per policy number, preserving first-seen order.
func dedupePolicies(records []model.PolicyRecord) []model.PolicyRecord {
	idx := make(map[string]int, len(records))
	out := make([]model.PolicyRecord, 0, len(records))
	for _, r := range records {
		if r.PolicyNumber == "" {
			continue
		}
		if i, ok := idx[r.PolicyNumber]; ok {
			out[i] = r
			continue
		}
		idx[r.PolicyNumber] = len(out)
		out = append(out, r)
	}
	return out
}

// policyColumns is the column order shared by both backends.
var policyColumns = []string{
	"job_id", "policy_number", "applicant_name", "plan_name", "coverage_amount",
	"status", "issue_date", "application_date", "premium", "state", "agent_name",
	"agent_number", "plan_code", "date_of_birth", "gender", "age", "notes",
	"last_updated", "raw_data", "scraped_at",
}

func policyValues(jobID string, r model.PolicyRecord, rawData any) []any {
	var age any
	if r.Age != nil {
		age = *r.Age
	}
	scrapedAt := r.ScrapedAt
	if scrapedAt.IsZero() {
		scrapedAt = time.Now()
	}
	return []any{
		jobID, r.PolicyNumber, r.ApplicantName, r.PlanName, r.CoverageAmount,
		r.Status, r.IssueDate, r.ApplicationDate, r.Premium, r.State, r.AgentName,
		r.AgentNumber, r.PlanCode, r.DateOfBirth, r.Gender, age, r.Notes,
		r.LastUpdated, rawData, scrapedAt.UTC(),
	}
}

func redactedConfig(cfg model.ScraperConfig) model.ScraperConfig {
	out := cfg
	out.Password = ""
	return out
}

func isNotFound(err error) bool {
	return apperr.Is(err, apperr.NotFound)
}
