package portal

import (
	"strconv"
	"strings"
	"unicode"

	"github.com/PuerkitoBio/goquery"
	"github.com/rotisserie/eris"
	"golang.org/x/text/unicode/norm"

	"github.com/sells-group/carrier-scraper/internal/model"
)

const defaultHeaderSelector = "thead th"

// parseTable maps each row matched by rowSelector to a RawRow keyed by the
// snake_cased header text. A cell's data-field attribute takes precedence
// over its positional header.
func parseTable(tableHTML, headerSelector, rowSelector string) ([]model.RawRow, error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(tableHTML))
	if err != nil {
		return nil, eris.Wrap(err, "portal: parse table html")
	}

	if headerSelector == "" {
		headerSelector = defaultHeaderSelector
	}
	var headers []string
	doc.Find(headerSelector).Each(func(_ int, s *goquery.Selection) {
		headers = append(headers, ColumnKey(s.Text()))
	})
	if len(headers) == 0 {
		doc.Find("tr").First().Find("th").Each(func(_ int, s *goquery.Selection) {
			headers = append(headers, ColumnKey(s.Text()))
		})
	}

	var rows []model.RawRow
	doc.Find(rowSelector).Each(func(_ int, tr *goquery.Selection) {
		cells := tr.Find("td")
		if cells.Length() == 0 {
			return
		}
		row := make(model.RawRow, cells.Length())
		cells.Each(func(i int, td *goquery.Selection) {
			key := ""
			if field, ok := td.Attr("data-field"); ok && strings.TrimSpace(field) != "" {
				key = ColumnKey(field)
			} else if i < len(headers) && headers[i] != "" {
				key = headers[i]
			} else {
				key = "column_" + strconv.Itoa(i+1)
			}
			row[key] = CleanText(td.Text())
		})
		rows = append(rows, row)
	})
	return rows, nil
}

// CleanText applies NFKC normalization and collapses whitespace.
func CleanText(s string) string {
	return strings.Join(strings.Fields(norm.NFKC.String(s)), " ")
}

// ColumnKey turns header text such as "Policy Number" or a data-field such
// as "policyNumber" into "policy_number".
func ColumnKey(s string) string {
	var b strings.Builder
	underscore := false
	var prev rune
	for _, r := range CleanText(s) {
		if !unicode.IsLetter(r) && !unicode.IsDigit(r) {
			underscore = true
			prev = 0
			continue
		}
		if unicode.IsUpper(r) && (unicode.IsLower(prev) || unicode.IsDigit(prev)) {
			underscore = true
		}
		if underscore && b.Len() > 0 {
			b.WriteByte('_')
		}
		underscore = false
		b.WriteRune(unicode.ToLower(r))
		prev = r
	}
	return b.String()
}

// isDisabled reports whether the first element in html looks disabled.
func isDisabled(html string) bool {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return false
	}
	el := doc.Find("body").Children().First()
	if el.Length() == 0 {
		return false
	}
	if _, ok := el.Attr("disabled"); ok {
		return true
	}
	if v, _ := el.Attr("aria-disabled"); strings.EqualFold(v, "true") {
		return true
	}
	return el.HasClass("disabled")
}
