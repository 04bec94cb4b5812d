// Package sheettest builds in-memory workbooks for tests.
package sheettest

import (
	"testing"

	"github.com/xuri/excelize/v2"
)

type Table struct {
	Name string
	Rows [][]any
}

type Options struct {
	Date1904 bool
}

// Build writes the tables, in order, into an xlsx container.
func Build(t testing.TB, opts Options, tables ...Table) []byte {
	t.Helper()

	f := excelize.NewFile()
	defer f.Close()

	for i, table := range tables {
		if i == 0 {
			if err := f.SetSheetName(f.GetSheetName(0), table.Name); err != nil {
				t.Fatal(err)
			}
		} else if _, err := f.NewSheet(table.Name); err != nil {
			t.Fatal(err)
		}
		for r, row := range table.Rows {
			for c, v := range row {
				if v == nil {
					continue
				}
				cell, err := excelize.CoordinatesToCellName(c+1, r+1)
				if err != nil {
					t.Fatal(err)
				}
				if err := f.SetCellValue(table.Name, cell, v); err != nil {
					t.Fatal(err)
				}
			}
		}
	}

	if opts.Date1904 {
		on := true
		if err := f.SetWorkbookProps(&excelize.WorkbookPropsOptions{Date1904: &on}); err != nil {
			t.Fatal(err)
		}
	}

	buf, err := f.WriteToBuffer()
	if err != nil {
		t.Fatal(err)
	}
	return buf.Bytes()
}

// Preamble is the fixed block under the register's header row.
func Preamble() [][]any {
	return [][]any{
		{"GFA AD/AN/AWA Register"},
		{"Issued by the Gliding Federation of Australia"},
		{"Status as at", "2020-01-31"},
		{"See the GFA website for the latest copy"},
		{"Document", "Issue", "Date", "Type Certificate", "Type", "Subject", "Status"},
	}
}

// Register builds the usual two-table register: a cover sheet and a data
// table with header, preamble, then the given data rows.
func Register(t testing.TB, data ...[]any) []byte {
	t.Helper()
	return Build(t, Options{}, registerTables(data)...)
}

func registerTables(data [][]any) []Table {
	rows := [][]any{{"GFA Airworthiness Register"}}
	rows = append(rows, Preamble()...)
	rows = append(rows, data...)
	return []Table{
		{Name: "Cover", Rows: [][]any{{"Cover sheet"}}},
		{Name: "Register", Rows: rows},
	}
}
