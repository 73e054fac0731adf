// Package export renders scraped policy records as downloadable files.
package export

import (
	"bytes"
	"encoding/csv"
	"encoding/json"
	"io"
	"strings"

	"github.com/jszwec/csvutil"
	"github.com/rotisserie/eris"
	"github.com/tealeg/xlsx/v2"

	"github.com/sells-group/carrier-scraper/internal/apperr"
	"github.com/sells-group/carrier-scraper/internal/model"
)

// Format is an export file format.
type Format string

const (
	CSV  Format = "csv"
	JSON Format = "json"
	XLSX Format = "xlsx"
)

const sheetName = "Policies"

// ParseFormat resolves a format name. Empty means CSV.
func ParseFormat(s string) (Format, error) {
	switch f := Format(strings.ToLower(strings.TrimSpace(s))); f {
	case "":
		return CSV, nil
	case CSV, JSON, XLSX:
		return f, nil
	default:
		return "", apperr.New(apperr.Validation, "unsupported export format "+s+" (want csv, json or xlsx)")
	}
}

// ContentType returns the MIME type served for f.
func ContentType(f Format) string {
	switch f {
	case JSON:
		return "application/json"
	case XLSX:
		return "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"
	default:
		return "text/csv; charset=utf-8"
	}
}

// FileName returns the download name for a job's export.
func FileName(jobID string, f Format) string {
	return "policies_" + jobID + "." + string(f)
}

// Write renders records to w in format f.
func Write(w io.Writer, f Format, records []model.PolicyRecord) error {
	switch f {
	case CSV:
		return writeCSV(w, records)
	case JSON:
		return writeJSON(w, records)
	case XLSX:
		return writeXLSX(w, records)
	default:
		return apperr.New(apperr.Validation, "unsupported export format "+string(f))
	}
}

func writeCSV(w io.Writer, records []model.PolicyRecord) error {
	cw := csv.NewWriter(w)
	enc := csvutil.NewEncoder(cw)
	if err := enc.EncodeHeader(model.PolicyRecord{}); err != nil {
		return eris.Wrap(err, "export: csv header")
	}
	enc.AutoHeader = false
	for i := range records {
		if err := enc.Encode(records[i]); err != nil {
			return eris.Wrapf(err, "export: csv row %s", records[i].PolicyNumber)
		}
	}
	cw.Flush()
	return eris.Wrap(cw.Error(), "export: flush csv")
}

func writeJSON(w io.Writer, records []model.PolicyRecord) error {
	if records == nil {
		records = []model.PolicyRecord{}
	}
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return eris.Wrap(enc.Encode(records), "export: encode json")
}

// writeXLSX lays the sheet out exactly like the CSV export.
func writeXLSX(w io.Writer, records []model.PolicyRecord) error {
	var buf bytes.Buffer
	if err := writeCSV(&buf, records); err != nil {
		return err
	}
	rows, err := csv.NewReader(&buf).ReadAll()
	if err != nil {
		return eris.Wrap(err, "export: reread csv")
	}

	f := xlsx.NewFile()
	sheet, err := f.AddSheet(sheetName)
	if err != nil {
		return eris.Wrap(err, "export: add sheet")
	}
	for _, values := range rows {
		row := sheet.AddRow()
		for _, v := range values {
			row.AddCell().SetString(v)
		}
	}
	return eris.Wrap(f.Write(w), "export: write xlsx")
}
