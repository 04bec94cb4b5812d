package pipeline

import (
	"fmt"
	"math"
	"strings"

	"adregister/internal"
	"adregister/internal/directive"
	"adregister/internal/sheet"
	"adregister/internal/util"
)

// Fixed layout of the published register.
const (
	dataTableIndex = 1
	preambleRows   = 5
	minDataColumns = 6
)

const (
	colReference = iota
	colIssue
	colIssueDate
	colTypeCert
	colType
	colSubject
	colStatus
)

const activeStatus = "active"

// Query narrows an extraction. The zero value returns every directive.
type Query struct {
	// MatchTypeCertificate keeps only rows whose type certificate equals the
	// trimmed value. Values of one character or less after trimming are ignored.
	MatchTypeCertificate string
	IgnoreInactive       bool
}

// ExtractDirectives turns the register table of wb into directives in sheet
// order. A missing workbook or data table is a *internal.SourceError; a
// present but non-positive issue number aborts the call with the row number
// wrapped around a *directive.ValidationError.
func ExtractDirectives(wb *sheet.Workbook, q Query) ([]directive.Directive, error) {
	if wb == nil {
		return nil, internal.NewSourceError("locate", "", internal.ErrNoSource)
	}
	table, ok := wb.Table(dataTableIndex)
	if !ok {
		return nil, internal.NewSourceError("locate", wb.Name, fmt.Errorf("%w: workbook has tables %q", internal.ErrTableMissing, wb.TableNames()))
	}

	rows := table.DataRows()
	if len(rows) <= preambleRows {
		return []directive.Directive{}, nil
	}

	match := util.SignificantMatch(q.MatchTypeCertificate)
	out := make([]directive.Directive, 0, len(rows)-preambleRows)
	for _, row := range rows[preambleRows:] {
		if row.Width() < minDataColumns {
			continue
		}

		// The certificate is compared as stored; only the match value is trimmed.
		typeCert := row.Cell(colTypeCert).Raw
		if match != "" && typeCert != match {
			continue
		}

		active := rowActive(row)
		if q.IgnoreInactive && !active {
			continue
		}

		issue, err := issueNumber(row.Cell(colIssue))
		if err != nil {
			return nil, fmt.Errorf("row %d: %w", row.Number, err)
		}
		d, err := directive.New(row.Cell(colReference).Text, issue, active, directive.Fields{
			IssueDate:       IssueDate(row.Cell(colIssueDate), wb.Date1904),
			TypeCertificate: util.NonEmpty(typeCert),
			Type:            directiveType(row.Cell(colType)),
			Description:     util.NonEmpty(row.Cell(colSubject).Text),
		})
		if err != nil {
			return nil, fmt.Errorf("row %d: %w", row.Number, err)
		}
		out = append(out, d)
	}

	return out, nil
}

// rowActive treats a missing status as active.
func rowActive(row sheet.Row) bool {
	status := row.Cell(colStatus)
	if status.Blank() {
		return true
	}
	return strings.ToLower(status.Text) == activeStatus
}

// maxIssueNumber bounds issue numbers to what every platform's int holds.
const maxIssueNumber = math.MaxInt32

// issueNumber is nil unless the cell holds a number. Numbers too large to be
// an issue number are refused rather than wrapped.
func issueNumber(c sheet.Cell) (*int, error) {
	if !c.IsNumber {
		return nil, nil
	}
	n := math.Trunc(c.Number)
	if n > maxIssueNumber {
		return nil, &directive.ValidationError{Field: "issue number", Value: c.Text, Reason: "out of range"}
	}
	if n < math.MinInt32 {
		return nil, &directive.ValidationError{Field: "issue number", Value: c.Text}
	}
	return util.IntPtr(int(n)), nil
}

func directiveType(c sheet.Cell) *directive.Type {
	if c.Blank() {
		return nil
	}
	t := directive.Type(c.Text)
	return &t
}
