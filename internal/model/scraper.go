package model

import (
	"strings"
	"time"

	"github.com/sells-group/carrier-scraper/internal/apperr"
)

// JobStatus represents the lifecycle of a scraper job.
type JobStatus string

const (
	JobStatusPending    JobStatus = "pending"
	JobStatusInProgress JobStatus = "in_progress"
	JobStatusCompleted  JobStatus = "completed"
	JobStatusFailed     JobStatus = "failed"
)

// SessionStatus represents the state of one scraping session.
type SessionStatus string

const (
	SessionInitializing    SessionStatus = "initializing"
	SessionWaitingForLogin SessionStatus = "waiting_for_login"
	SessionReady           SessionStatus = "ready"
	SessionScraping        SessionStatus = "scraping"
	SessionCompleted       SessionStatus = "completed"
	SessionFailed          SessionStatus = "failed"
)

// Terminal reports whether no further transitions are possible.
func (s SessionStatus) Terminal() bool {
	return s == SessionCompleted || s == SessionFailed
}

// LoginMode selects who submits portal credentials.
type LoginMode string

const (
	LoginManual    LoginMode = "manual"    // an operator logs in out-of-band
	LoginAutomatic LoginMode = "automatic" // the driver submits credentials
)

// StoppedByUser is recorded on sessions and jobs halted through Stop.
const StoppedByUser = "Stopped by user"

// ScraperConfig holds the per-carrier portal settings embedded in a job.
type ScraperConfig struct {
	Carrier             string            `json:"carrier" yaml:"carrier"`
	LoginURL            string            `json:"login_url" yaml:"login_url"`
	PortalURL           string            `json:"portal_url" yaml:"portal_url"`
	Username            string            `json:"username" yaml:"username"`
	Password            string            `json:"password,omitempty" yaml:"password"`
	UsernameSelector    string            `json:"username_selector" yaml:"username_selector"`
	PasswordSelector    string            `json:"password_selector" yaml:"password_selector"`
	LoginButtonSelector string            `json:"login_button_selector" yaml:"login_button_selector"`
	PolicyTableSelector string            `json:"policy_table_selector" yaml:"policy_table_selector"`
	PolicyRowSelector   string            `json:"policy_row_selector" yaml:"policy_row_selector"`
	HeaderSelector      string            `json:"header_selector,omitempty" yaml:"header_selector"`
	NextPageSelector    string            `json:"next_page_selector,omitempty" yaml:"next_page_selector"`
	Headers             map[string]string `json:"headers,omitempty" yaml:"headers"`
	MaxPages            int               `json:"max_pages,omitempty" yaml:"max_pages"`
	RateLimitMs         int               `json:"rate_limit_ms,omitempty" yaml:"rate_limit_ms"`
	LoginMode           LoginMode         `json:"login_mode,omitempty" yaml:"login_mode"`
	ProfileID           string            `json:"profile_id,omitempty" yaml:"profile_id"`
}

// Validate checks that every required field is set. The returned error is an
// apperr.Validation listing all missing fields.
func (c ScraperConfig) Validate() error {
	required := []struct {
		name  string
		value string
	}{
		{"carrier", c.Carrier},
		{"login_url", c.LoginURL},
		{"portal_url", c.PortalURL},
		{"username", c.Username},
		{"password", c.Password},
		{"username_selector", c.UsernameSelector},
		{"password_selector", c.PasswordSelector},
		{"login_button_selector", c.LoginButtonSelector},
		{"policy_table_selector", c.PolicyTableSelector},
		{"policy_row_selector", c.PolicyRowSelector},
	}

	var missing []string
	for _, f := range required {
		if strings.TrimSpace(f.value) == "" {
			missing = append(missing, f.name)
		}
	}
	if len(missing) > 0 {
		return apperr.New(apperr.Validation, "scraper config missing required fields: "+strings.Join(missing, ", "))
	}

	switch c.LoginMode {
	case "", LoginManual, LoginAutomatic:
	default:
		return apperr.New(apperr.Validation, "scraper config: unknown login_mode "+string(c.LoginMode))
	}
	if c.MaxPages < 0 {
		return apperr.New(apperr.Validation, "scraper config: max_pages must not be negative")
	}
	if c.RateLimitMs < 0 {
		return apperr.New(apperr.Validation, "scraper config: rate_limit_ms must not be negative")
	}
	return nil
}

// Mode returns the effective login mode; manual unless set otherwise.
func (c ScraperConfig) Mode() LoginMode {
	if c.LoginMode == "" {
		return LoginManual
	}
	return c.LoginMode
}

// Redacted returns a copy safe to log or return over the API.
func (c ScraperConfig) Redacted() ScraperConfig {
	out := c
	if out.Password != "" {
		out.Password = "********"
	}
	return out
}

// Job is the logical unit of work: one scraping task for one carrier.
type Job struct {
	ID             string        `json:"id"`
	Carrier        string        `json:"carrier"`
	Name           string        `json:"name"`
	Status         JobStatus     `json:"status"`
	TotalRecords   int           `json:"total_records"`
	ScrapedRecords int           `json:"scraped_records"`
	ErrorMessage   string        `json:"error_message,omitempty"`
	Config         ScraperConfig `json:"config"`
	RequestedBy    string        `json:"requested_by,omitempty"`
	CreatedAt      time.Time     `json:"created_at"`
	StartedAt      *time.Time    `json:"started_at,omitempty"`
	CompletedAt    *time.Time    `json:"completed_at,omitempty"`
	UpdatedAt      time.Time     `json:"updated_at"`
}

// Session is one run of the scraping state machine for a single job.
type Session struct {
	ID              string        `json:"id"`
	JobID           string        `json:"job_id"`
	Status          SessionStatus `json:"status"`
	BrowserEndpoint string        `json:"browser_endpoint,omitempty"`
	CurrentPage     int           `json:"current_page"`
	TotalPages      int           `json:"total_pages"`
	ScrapedCount    int           `json:"scraped_count"`
	ErrorMessage    string        `json:"error_message,omitempty"`
	LoginDeadline   *time.Time    `json:"login_deadline,omitempty"`
	CreatedAt       time.Time     `json:"created_at"`
	UpdatedAt       time.Time     `json:"updated_at"`
}

// SessionWithJob is a session joined with its parent job, as returned by
// status polling.
type SessionWithJob struct {
	Session
	Job *Job `json:"job,omitempty"`
}

// SessionUpdate carries a partial session update. Nil fields are left as is.
type SessionUpdate struct {
	Status          *SessionStatus
	BrowserEndpoint *string
	CurrentPage     *int
	TotalPages      *int
	ScrapedCount    *int
	ErrorMessage    *string
	LoginDeadline   *time.Time
}

// JobUpdate carries a partial job update. Nil fields are left as is.
type JobUpdate struct {
	Status         *JobStatus
	TotalRecords   *int
	ScrapedRecords *int
	ErrorMessage   *string
	StartedAt      *time.Time
	CompletedAt    *time.Time
}

// Ptr returns a pointer to v; used to build partial updates.
func Ptr[T any](v T) *T { return &v }
