package sheet

import (
	"bytes"
	"fmt"

	"github.com/xuri/excelize/v2"

	"adregister/internal"
)

// rawValues keeps numeric cells as stored, so date cells arrive as serials
// whatever their number format or the host locale.
var rawValues = excelize.Options{RawCellValue: true}

// Decode opens a spreadsheet container and reads every table in sheet order.
// Legacy .xls workbooks are recognised by their compound document header;
// everything else is read as Office Open XML.
func Decode(name string, blob []byte) (*Workbook, error) {
	if len(blob) == 0 {
		return nil, internal.NewSourceError("decode", name, internal.ErrNotSpreadsheet)
	}
	if isOLE(blob) {
		wb, err := decodeBIFF(name, blob)
		if err != nil {
			return nil, internal.NewSourceError("decode", name, fmt.Errorf("%w: %w", internal.ErrNotSpreadsheet, err))
		}
		return wb, nil
	}

	f, err := excelize.OpenReader(bytes.NewReader(blob), rawValues)
	if err != nil {
		return nil, internal.NewSourceError("decode", name, fmt.Errorf("%w: %w", internal.ErrNotSpreadsheet, err))
	}
	defer f.Close()

	wb := &Workbook{Name: name}
	if props, err := f.GetWorkbookProps(); err == nil && props.Date1904 != nil {
		wb.Date1904 = *props.Date1904
	}

	for _, sheetName := range f.GetSheetList() {
		rows, err := f.GetRows(sheetName, rawValues)
		if err != nil {
			return nil, internal.NewSourceError("decode", name, fmt.Errorf("sheet %q: %w", sheetName, err))
		}
		wb.Tables = append(wb.Tables, NewTable(sheetName, rows))
	}

	return wb, nil
}
