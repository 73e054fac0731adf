package normalize

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/carrier-scraper/internal/model"
)

func TestPick(t *testing.T) {
	raw := model.RawRow{"policy_number": "  ", "policyNumber": "P-9", "policy": "ignored"}
	assert.Equal(t, "P-9", Pick(raw, "policy_number", "policyNumber", "policy"))
	assert.Equal(t, "", Pick(raw, "missing"))
}

func TestCurrency(t *testing.T) {
	tests := []struct{ in, want string }{
		{"$1,250.00", "1250.00"},
		{"  $ 99 ", "99"},
		{"", ""},
		{"1000", "1000"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, Currency(tt.in), tt.in)
	}
}

func TestDate(t *testing.T) {
	tests := []struct{ in, want string }{
		{"01/02/1990", "1990-01-02"},
		{"1/2/1990", "1990-01-02"},
		{"1990-01-02", "1990-01-02"},
		{"Jan 2, 1990", "1990-01-02"},
		{"January 2, 1990", "1990-01-02"},
		{"1990/01/02", "1990-01-02"},
		{"1990-01-02T10:00:00Z", "1990-01-02"},
		{"12/31/99", "1999-12-31"},
		{"not a date", "not a date"},
		{"", ""},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, Date(tt.in), tt.in)
	}
}

func TestTimestamp(t *testing.T) {
	tests := []struct{ in, want string }{
		{"2024-03-05T14:30:00-05:00", "2024-03-05T14:30:00-05:00"},
		{"2024-03-05 14:30:00", "2024-03-05T14:30:00Z"},
		{"03/05/2024 2:30 PM", "2024-03-05T14:30:00Z"},
		{"3/5/2024 14:30", "2024-03-05T14:30:00Z"},
		{"03/05/2024", "2024-03-05"},
		{"yesterday", "yesterday"},
		{"", ""},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, Timestamp(tt.in), tt.in)
	}
}

func TestStateGenderAge(t *testing.T) {
	assert.Equal(t, "TX", State(" tx"))
	assert.Equal(t, "F", Gender("female"))
	assert.Equal(t, "M", Gender(" m"))
	assert.Equal(t, "", Gender(""))

	age := Age("42")
	require.NotNil(t, age)
	assert.Equal(t, 42, *age)
	assert.Nil(t, Age("forty"))
	assert.Nil(t, Age(""))
}

func TestPolicy_FullRow(t *testing.T) {
	raw := model.RawRow{
		"policyNumber":    "GTL-1001",
		"insured_name":    "Jane Doe",
		"coverage_amount": "$1,250.00",
		"dob":             "01/02/1990",
		"gender":          "female",
		"state":           "tx",
		"age":             "34",
		"issue_date":      "March 5, 2024",
		"premium":         "$45.10",
		"last_updated":    "03/06/2024 9:15 AM",
	}
	now := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)

	rec, ok := Policy("job-1", raw, now)
	require.True(t, ok)
	assert.Equal(t, "job-1", rec.JobID)
	assert.Equal(t, "GTL-1001", rec.PolicyNumber)
	assert.Equal(t, "Jane Doe", rec.ApplicantName)
	assert.Equal(t, "1250.00", rec.CoverageAmount)
	assert.Equal(t, "1990-01-02", rec.DateOfBirth)
	assert.Equal(t, "F", rec.Gender)
	assert.Equal(t, "TX", rec.State)
	require.NotNil(t, rec.Age)
	assert.Equal(t, 34, *rec.Age)
	assert.Equal(t, "2024-03-05", rec.IssueDate)
	assert.Equal(t, "45.10", rec.Premium)
	assert.Equal(t, "2024-03-06T09:15:00Z", rec.LastUpdated)
	assert.Equal(t, now, rec.ScrapedAt)
	assert.Equal(t, map[string]string(raw), rec.RawData)
}

func TestPolicy_RawDataKeptOnBadValues(t *testing.T) {
	raw := model.RawRow{"policy_number": "X1", "dob": "unknown", "age": "n/a"}
	rec, ok := Policy("job-1", raw, time.Now())
	require.True(t, ok)
	assert.Equal(t, "unknown", rec.DateOfBirth)
	assert.Nil(t, rec.Age)
	assert.Equal(t, "n/a", rec.RawData["age"])

	raw["dob"] = "changed"
	assert.Equal(t, "unknown", rec.RawData["dob"])
}

func TestPolicy_NoPolicyNumber(t *testing.T) {
	_, ok := Policy("job-1", model.RawRow{"name": "No Key"}, time.Now())
	assert.False(t, ok)
}
