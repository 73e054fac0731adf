package model

import "time"

// RawRow is one scraped table row keyed by normalized column name.
type RawRow map[string]string

// PolicyRecord is a canonical policy row extracted from a carrier portal.
// PolicyNumber is unique within a job.
type PolicyRecord struct {
	JobID           string            `json:"job_id" csv:"job_id"`
	PolicyNumber    string            `json:"policy_number" csv:"policy_number"`
	ApplicantName   string            `json:"applicant_name,omitempty" csv:"applicant_name"`
	PlanName        string            `json:"plan_name,omitempty" csv:"plan_name"`
	CoverageAmount  string            `json:"coverage_amount,omitempty" csv:"coverage_amount"`
	Status          string            `json:"status,omitempty" csv:"status"`
	IssueDate       string            `json:"issue_date,omitempty" csv:"issue_date"`
	ApplicationDate string            `json:"application_date,omitempty" csv:"application_date"`
	Premium         string            `json:"premium,omitempty" csv:"premium"`
	State           string            `json:"state,omitempty" csv:"state"`
	AgentName       string            `json:"agent_name,omitempty" csv:"agent_name"`
	AgentNumber     string            `json:"agent_number,omitempty" csv:"agent_number"`
	PlanCode        string            `json:"plan_code,omitempty" csv:"plan_code"`
	DateOfBirth     string            `json:"date_of_birth,omitempty" csv:"date_of_birth"`
	Gender          string            `json:"gender,omitempty" csv:"gender"`
	Age             *int              `json:"age,omitempty" csv:"age,omitempty"`
	Notes           string            `json:"notes,omitempty" csv:"notes"`
	LastUpdated     string            `json:"last_updated,omitempty" csv:"last_updated"`
	RawData         map[string]string `json:"raw_data" csv:"-"`
	ScrapedAt       time.Time         `json:"scraped_at" csv:"scraped_at"`
}
