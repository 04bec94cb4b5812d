// Package sheet models a decoded workbook as ordered tables of loosely typed
// cells and decodes spreadsheet containers into that model.
package sheet

import (
	"math"
	"strconv"
	"strings"
)

// Workbook is an ordered collection of named tables.
type Workbook struct {
	Name string
	// Date1904 is set when the workbook counts date serials from 1904-01-01.
	Date1904 bool
	Tables   []Table
}

// Table returns the table at position i in sheet order.
func (w *Workbook) Table(i int) (Table, bool) {
	if w == nil || i < 0 || i >= len(w.Tables) {
		return Table{}, false
	}
	return w.Tables[i], true
}

func (w *Workbook) TableNames() []string {
	if w == nil {
		return nil
	}
	out := make([]string, 0, len(w.Tables))
	for _, t := range w.Tables {
		out = append(out, t.Name)
	}
	return out
}

type Table struct {
	Name string
	// Rows holds every sheet row starting at sheet row 1.
	Rows []Row
}

type Row struct {
	// Number is the 1-based sheet row.
	Number int
	Cells  []Cell
}

// Width is the number of columns up to the last non-blank cell.
func (r Row) Width() int {
	n := len(r.Cells)
	for n > 0 && r.Cells[n-1].Blank() {
		n--
	}
	return n
}

func (r Row) Blank() bool {
	return r.Width() == 0
}

// Cell returns column i, or a blank cell past the end of the row.
func (r Row) Cell(i int) Cell {
	if i < 0 || i >= len(r.Cells) {
		return Cell{}
	}
	return r.Cells[i]
}

// Cell is a string, a number, or blank. Text is trimmed; Raw keeps the cell
// exactly as stored.
type Cell struct {
	Text     string
	Raw      string
	Number   float64
	IsNumber bool
}

func (c Cell) Blank() bool {
	return c.Text == "" && !c.IsNumber
}

// TextCell builds a cell from its raw text, recognising numeric values.
func TextCell(raw string) Cell {
	text := strings.TrimSpace(raw)
	if text == "" {
		return Cell{}
	}
	if n, ok := parseNumber(text); ok {
		return Cell{Text: text, Raw: raw, Number: n, IsNumber: true}
	}
	return Cell{Text: text, Raw: raw}
}

func NumberCell(n float64) Cell {
	text := strconv.FormatFloat(n, 'f', -1, 64)
	return Cell{Text: text, Raw: text, Number: n, IsNumber: true}
}

func parseNumber(s string) (float64, bool) {
	n, err := strconv.ParseFloat(s, 64)
	if err != nil || math.IsNaN(n) || math.IsInf(n, 0) {
		return 0, false
	}
	return n, true
}

// DataRows returns the rows below the table's own header row with all-blank
// rows removed and trailing blank cells trimmed.
func (t Table) DataRows() []Row {
	if len(t.Rows) <= 1 {
		return nil
	}
	out := make([]Row, 0, len(t.Rows)-1)
	for _, row := range t.Rows[1:] {
		width := row.Width()
		if width == 0 {
			continue
		}
		out = append(out, Row{Number: row.Number, Cells: row.Cells[:width]})
	}
	return out
}

// NewTable builds a table from raw row-major text as produced by a decoder.
func NewTable(name string, raw [][]string) Table {
	rows := make([]Row, 0, len(raw))
	for i, values := range raw {
		cells := make([]Cell, 0, len(values))
		for _, v := range values {
			cells = append(cells, TextCell(v))
		}
		rows = append(rows, Row{Number: i + 1, Cells: cells})
	}
	return Table{Name: name, Rows: rows}
}
