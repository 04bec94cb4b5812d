package pipeline

import (
	"fmt"
	"math"

	"github.com/xuri/excelize/v2"

	"adregister/internal/sheet"
	"adregister/internal/util"
)

const (
	// maxDateSerial is 9999-12-31 in the 1900 date system.
	maxDateSerial = 2958465
	// date1904Offset is the day count between the two date systems' epochs.
	date1904Offset = 1462
	// leapBugSerial is the 1900-02-29 the 1900 date system counts although
	// that day never existed. Serials below it are one day early in excelize.
	leapBugSerial = 60
)

// IssueDate converts a date-serial cell to YYYY-MM-DD. Blank, text, and
// serials that floor to zero or below give nil, as do serials past year 9999.
func IssueDate(c sheet.Cell, date1904 bool) *string {
	if !c.IsNumber {
		return nil
	}
	day := math.Floor(c.Number)
	if day <= 0 {
		return nil
	}
	date, err := FormatSerialDate(day, date1904)
	if err != nil {
		return nil
	}
	return util.StringPtr(date)
}

// FormatSerialDate decodes a spreadsheet day serial as a calendar date with no
// timezone adjustment. Any time-of-day fraction is dropped. In the 1900
// system serial 60 is reported as 1900-02-29 like the spreadsheet does.
func FormatSerialDate(serial float64, date1904 bool) (string, error) {
	day := math.Floor(serial)
	first, last := 1.0, float64(maxDateSerial)
	if date1904 {
		first, last = 0, maxDateSerial-date1904Offset
	}
	if math.IsNaN(day) || day < first || day > last {
		return "", fmt.Errorf("date serial %v out of range", serial)
	}
	if !date1904 {
		switch {
		case day == leapBugSerial:
			return "1900-02-29", nil
		case day < leapBugSerial:
			day++
		}
	}
	t, err := excelize.ExcelDateToTime(day, date1904)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("%04d-%02d-%02d", t.Year(), int(t.Month()), t.Day()), nil
}
