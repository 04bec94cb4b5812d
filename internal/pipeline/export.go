package pipeline

import (
	"encoding/json"
	"io"
	"os"
	"path/filepath"

	"github.com/xuri/excelize/v2"

	"adregister/internal/directive"
	"adregister/internal/util"
)

var exportHeaders = []string{
	"document_reference", "issue_number", "active", "issue_date",
	"type_certificate", "type", "description",
}

func ExportDirectivesToXLSX(directives []directive.Directive, outputPath string) error {
	f := excelize.NewFile()
	defer f.Close()
	sheet := f.GetSheetName(0)

	for i, h := range exportHeaders {
		cell, _ := excelize.CoordinatesToCellName(i+1, 1)
		_ = f.SetCellValue(sheet, cell, h)
	}

	for i, d := range directives {
		r := i + 2
		set := func(col int, value any) {
			cell, _ := excelize.CoordinatesToCellName(col, r)
			_ = f.SetCellValue(sheet, cell, value)
		}

		set(1, d.DocumentReference)
		set(2, derefInt(d.IssueNumber))
		set(3, d.Active)
		set(4, util.Deref(d.IssueDate))
		set(5, util.Deref(d.TypeCertificate))
		set(6, derefType(d.Type))
		set(7, util.Deref(d.Description))
	}

	if err := os.MkdirAll(filepath.Dir(outputPath), 0o755); err != nil {
		return err
	}
	return f.SaveAs(outputPath)
}

// WriteJSON writes directives as a JSON array; unset fields are omitted.
func WriteJSON(w io.Writer, directives []directive.Directive, pretty bool) error {
	if directives == nil {
		directives = []directive.Directive{}
	}
	enc := json.NewEncoder(w)
	if pretty {
		enc.SetIndent("", "  ")
	}
	return enc.Encode(directives)
}

func derefInt(v *int) any {
	if v == nil {
		return ""
	}
	return *v
}

func derefType(v *directive.Type) string {
	if v == nil {
		return ""
	}
	return string(*v)
}
