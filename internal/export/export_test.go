package export

import (
	"bytes"
	"encoding/csv"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tealeg/xlsx/v2"

	"github.com/sells-group/carrier-scraper/internal/apperr"
	"github.com/sells-group/carrier-scraper/internal/model"
)

func sampleRecords() []model.PolicyRecord {
	age := 54
	at := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	return []model.PolicyRecord{
		{
			JobID:          "job-1",
			PolicyNumber:   "GTL-001",
			ApplicantName:  "Jane Doe",
			CoverageAmount: "25000.00",
			Status:         "Issued",
			Age:            &age,
			RawData:        map[string]string{"policy_number": "GTL-001"},
			ScrapedAt:      at,
		},
		{
			JobID:        "job-1",
			PolicyNumber: "GTL-002",
			Notes:        "Pending, needs \"APS\"",
			ScrapedAt:    at,
		},
	}
}

func TestParseFormat(t *testing.T) {
	f, err := ParseFormat("")
	require.NoError(t, err)
	assert.Equal(t, CSV, f)

	f, err = ParseFormat(" XLSX ")
	require.NoError(t, err)
	assert.Equal(t, XLSX, f)

	_, err = ParseFormat("pdf")
	assert.True(t, apperr.Is(err, apperr.Validation))
}

func TestWrite_CSV(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, Write(&buf, CSV, sampleRecords()))

	rows, err := csv.NewReader(&buf).ReadAll()
	require.NoError(t, err)
	require.Len(t, rows, 3)

	header := rows[0]
	assert.Equal(t, "job_id", header[0])
	assert.Equal(t, "policy_number", header[1])
	assert.NotContains(t, header, "raw_data")

	col := func(name string) int {
		for i, h := range header {
			if h == name {
				return i
			}
		}
		t.Fatalf("column %s missing", name)
		return -1
	}
	assert.Equal(t, "GTL-001", rows[1][col("policy_number")])
	assert.Equal(t, "54", rows[1][col("age")])
	assert.Equal(t, "", rows[2][col("age")])
	assert.Equal(t, `Pending, needs "APS"`, rows[2][col("notes")])
}

func TestWrite_CSVEmpty(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, Write(&buf, CSV, nil))

	rows, err := csv.NewReader(&buf).ReadAll()
	require.NoError(t, err)
	assert.Len(t, rows, 1, "header only")
}

func TestWrite_JSON(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, Write(&buf, JSON, sampleRecords()))
	assert.Contains(t, buf.String(), "\n  {")

	var got []model.PolicyRecord
	require.NoError(t, json.Unmarshal(buf.Bytes(), &got))
	require.Len(t, got, 2)
	assert.Equal(t, "GTL-002", got[1].PolicyNumber)

	buf.Reset()
	require.NoError(t, Write(&buf, JSON, nil))
	assert.Equal(t, "[]\n", buf.String())
}

func TestWrite_XLSX(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, Write(&buf, XLSX, sampleRecords()))

	f, err := xlsx.OpenBinary(buf.Bytes())
	require.NoError(t, err)
	sheet, ok := f.Sheet[sheetName]
	require.True(t, ok)
	require.Len(t, sheet.Rows, 3)
	assert.Equal(t, "job_id", sheet.Rows[0].Cells[0].String())
	assert.Equal(t, "GTL-001", sheet.Rows[1].Cells[1].String())
}

func TestWrite_UnknownFormat(t *testing.T) {
	err := Write(&bytes.Buffer{}, Format("pdf"), nil)
	assert.True(t, apperr.Is(err, apperr.Validation))
}

func TestContentTypeAndFileName(t *testing.T) {
	assert.Equal(t, "application/json", ContentType(JSON))
	assert.Contains(t, ContentType(CSV), "text/csv")
	assert.Contains(t, ContentType(XLSX), "spreadsheetml")
	assert.Equal(t, "policies_job-1.xlsx", FileName("job-1", XLSX))
}
