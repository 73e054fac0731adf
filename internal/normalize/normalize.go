// Package normalize turns heterogeneous scraped policy rows into canonical
// PolicyRecords. Every function here is pure.
package normalize

import (
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/sells-group/carrier-scraper/internal/model"
)

// Field aliases, in lookup order. The portal driver snake_cases headers and
// data-field attributes; camelCase variants cover rows built elsewhere.
var (
	aliasPolicyNumber   = []string{"policy_number", "policyNumber", "policy_no", "policy_num", "policy", "certificate_number"}
	aliasApplicantName  = []string{"applicant_name", "applicantName", "insured_name", "insured", "name", "client_name"}
	aliasPlanName       = []string{"plan_name", "planName", "plan", "product", "product_name"}
	aliasCoverageAmount = []string{"coverage_amount", "coverageAmount", "face_amount", "coverage", "benefit_amount"}
	aliasStatus         = []string{"status", "policy_status", "policyStatus"}
	aliasIssueDate      = []string{"issue_date", "issueDate", "effective_date", "issued"}
	aliasAppDate        = []string{"application_date", "applicationDate", "app_date", "submitted", "submit_date"}
	aliasPremium        = []string{"premium", "modal_premium", "annual_premium", "monthly_premium"}
	aliasState          = []string{"state", "issue_state", "st"}
	aliasAgentName      = []string{"agent_name", "agentName", "agent", "writing_agent"}
	aliasAgentNumber    = []string{"agent_number", "agentNumber", "agent_no", "agent_id", "writing_number"}
	aliasPlanCode       = []string{"plan_code", "planCode", "product_code"}
	aliasDOB            = []string{"date_of_birth", "dateOfBirth", "dob", "birth_date", "birthdate"}
	aliasGender         = []string{"gender", "sex"}
	aliasAge            = []string{"age", "issue_age", "issueAge"}
	aliasNotes          = []string{"notes", "note", "comments", "remarks"}
	aliasLastUpdated    = []string{"last_updated", "lastUpdated", "updated", "last_activity", "status_date"}
)

// Policy maps a raw row onto a PolicyRecord. It returns false when the row has
// no policy number, which is the record's business key.
func Policy(jobID string, raw model.RawRow, scrapedAt time.Time) (model.PolicyRecord, bool) {
	rec := model.PolicyRecord{
		JobID:           jobID,
		PolicyNumber:    Pick(raw, aliasPolicyNumber...),
		ApplicantName:   Pick(raw, aliasApplicantName...),
		PlanName:        Pick(raw, aliasPlanName...),
		CoverageAmount:  Currency(Pick(raw, aliasCoverageAmount...)),
		Status:          Pick(raw, aliasStatus...),
		IssueDate:       Date(Pick(raw, aliasIssueDate...)),
		ApplicationDate: Date(Pick(raw, aliasAppDate...)),
		Premium:         Currency(Pick(raw, aliasPremium...)),
		State:           State(Pick(raw, aliasState...)),
		AgentName:       Pick(raw, aliasAgentName...),
		AgentNumber:     Pick(raw, aliasAgentNumber...),
		PlanCode:        Pick(raw, aliasPlanCode...),
		DateOfBirth:     Date(Pick(raw, aliasDOB...)),
		Gender:          Gender(Pick(raw, aliasGender...)),
		Age:             Age(Pick(raw, aliasAge...)),
		Notes:           Pick(raw, aliasNotes...),
		LastUpdated:     Timestamp(Pick(raw, aliasLastUpdated...)),
		RawData:         copyRow(raw),
		ScrapedAt:       scrapedAt.UTC(),
	}
	return rec, rec.PolicyNumber != ""
}

// Pick returns the first present, non-empty (after trimming) value among keys.
func Pick(raw model.RawRow, keys ...string) string {
	for _, k := range keys {
		if v, ok := raw[k]; ok {
			if v = strings.TrimSpace(v); v != "" {
				return v
			}
		}
	}
	return ""
}

// Currency strips "$" and "," and trims whitespace. Empty input yields "".
func Currency(s string) string {
	s = strings.NewReplacer("$", "", ",", "").Replace(s)
	return strings.TrimSpace(s)
}

// dateLayouts are tried in order. Slash dates are read as US month/day.
var dateLayouts = []string{
	time.DateOnly,
	"01/02/2006",
	"1/2/2006",
	"01/02/06",
	"1/2/06",
	"01-02-2006",
	"2006/01/02",
	"Jan 2, 2006",
	"January 2, 2006",
	"2 Jan 2006",
	"02-Jan-2006",
	time.RFC3339,
	"2006-01-02 15:04:05",
	"2006-01-02T15:04:05",
	"01/02/2006 15:04",
	"01/02/2006 3:04 PM",
}

// Date converts a recognizable date into YYYY-MM-DD. Unparseable input is
// returned unchanged.
func Date(s string) string {
	s = strings.TrimSpace(s)
	if s == "" {
		return ""
	}
	for _, layout := range dateLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t.Format(time.DateOnly)
		}
	}
	zap.L().Debug("normalize: unparseable date kept as is", zap.String("value", s))
	return s
}

// timestampLayouts carry a time of day. Slash dates are read as US month/day.
var timestampLayouts = []string{
	time.RFC3339,
	"2006-01-02 15:04:05",
	"2006-01-02T15:04:05",
	"2006-01-02 15:04",
	"01/02/2006 15:04:05",
	"01/02/2006 15:04",
	"1/2/2006 15:04",
	"01/02/2006 03:04:05 PM",
	"01/02/2006 3:04 PM",
	"1/2/2006 3:04 PM",
}

// Timestamp converts a date-time into RFC3339, keeping its zone when one is
// given (UTC otherwise). Date-only input is handled by Date; unparseable input
// is returned unchanged.
func Timestamp(s string) string {
	s = strings.TrimSpace(s)
	if s == "" {
		return ""
	}
	for _, layout := range timestampLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t.Format(time.RFC3339)
		}
	}
	return Date(s)
}

// State uppercases a state code.
func State(s string) string {
	return strings.ToUpper(strings.TrimSpace(s))
}

// Gender keeps the first character, uppercased.
func Gender(s string) string {
	s = strings.TrimSpace(s)
	if s == "" {
		return ""
	}
	r := []rune(s)
	return strings.ToUpper(string(r[0]))
}

// Age parses an integer age; non-numeric input yields nil.
func Age(s string) *int {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil
	}
	n, err := strconv.Atoi(s)
	if err != nil {
		return nil
	}
	return &n
}

func copyRow(raw model.RawRow) map[string]string {
	out := make(map[string]string, len(raw))
	for k, v := range raw {
		out[k] = v
	}
	return out
}
