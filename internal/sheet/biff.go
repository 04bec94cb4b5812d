package sheet

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"math"
	"unicode/utf16"

	"github.com/richardlehane/mscfb"
)

// oleMagic opens every OLE compound document, the container of legacy .xls
// workbooks.
var oleMagic = []byte{0xD0, 0xCF, 0x11, 0xE0, 0xA1, 0xB1, 0x1A, 0xE1}

// BIFF8 record identifiers.
const (
	recFormula    = 0x0006
	recEOF        = 0x000A
	recDateMode   = 0x0022
	recContinue   = 0x003C
	recBoundSheet = 0x0085
	recMulRK      = 0x00BD
	recSST        = 0x00FC
	recLabelSST   = 0x00FD
	recNumber     = 0x0203
	recLabel      = 0x0204
	recBoolErr    = 0x0205
	recString     = 0x0207
	recRK         = 0x027E
	recBOF        = 0x0809
)

const (
	biff8Version   = 0x0600
	sheetWorksheet = 0x00
	maxBIFFColumns = 256
)

var errTruncated = errors.New("truncated BIFF record")

func isOLE(blob []byte) bool {
	return bytes.HasPrefix(blob, oleMagic)
}

// decodeBIFF reads a BIFF8 workbook stream out of an OLE container.
func decodeBIFF(name string, blob []byte) (*Workbook, error) {
	stream, err := workbookStream(blob)
	if err != nil {
		return nil, err
	}
	globals, err := parseGlobals(stream)
	if err != nil {
		return nil, err
	}

	wb := &Workbook{Name: name, Date1904: globals.date1904}
	for _, bs := range globals.sheets {
		if bs.kind != sheetWorksheet {
			continue
		}
		table, err := parseSheet(stream, bs, globals.sst)
		if err != nil {
			return nil, fmt.Errorf("sheet %q: %w", bs.name, err)
		}
		wb.Tables = append(wb.Tables, table)
	}
	return wb, nil
}

func workbookStream(blob []byte) ([]byte, error) {
	doc, err := mscfb.New(bytes.NewReader(blob))
	if err != nil {
		return nil, err
	}
	for entry, err := doc.Next(); err == nil; entry, err = doc.Next() {
		if entry.Name != "Workbook" && entry.Name != "Book" {
			continue
		}
		buf := make([]byte, entry.Size)
		if _, err := io.ReadFull(entry, buf); err != nil {
			return nil, err
		}
		return buf, nil
	}
	return nil, errors.New("no workbook stream in compound document")
}

type biffRecord struct {
	id   uint16
	data []byte
}

type biffReader struct {
	buf []byte
	pos int
}

func (r *biffReader) next() (biffRecord, error) {
	if r.pos+4 > len(r.buf) {
		return biffRecord{}, errTruncated
	}
	id := u16(r.buf, r.pos)
	n := int(u16(r.buf, r.pos+2))
	start := r.pos + 4
	if start+n > len(r.buf) {
		return biffRecord{}, errTruncated
	}
	r.pos = start + n
	return biffRecord{id: id, data: r.buf[start : start+n]}, nil
}

// expectBOF reads the BOF record opening a substream.
func (r *biffReader) expectBOF() error {
	rec, err := r.next()
	if err != nil {
		return err
	}
	if rec.id != recBOF || len(rec.data) < 4 {
		return errors.New("missing BOF record")
	}
	if v := u16(rec.data, 0); v != biff8Version {
		return fmt.Errorf("unsupported BIFF version %#04x", v)
	}
	return nil
}

type boundSheet struct {
	name   string
	offset int
	kind   byte
}

type biffGlobals struct {
	date1904 bool
	sheets   []boundSheet
	sst      []string
}

func parseGlobals(stream []byte) (biffGlobals, error) {
	var g biffGlobals
	r := &biffReader{buf: stream}
	if err := r.expectBOF(); err != nil {
		return g, err
	}

	var sstParts [][]byte
	inSST := false
	for {
		rec, err := r.next()
		if err != nil {
			return g, err
		}
		if rec.id == recContinue && inSST {
			sstParts = append(sstParts, rec.data)
			continue
		}
		inSST = false

		switch rec.id {
		case recDateMode:
			g.date1904 = len(rec.data) >= 2 && u16(rec.data, 0) == 1
		case recBoundSheet:
			bs, err := parseBoundSheet(rec.data)
			if err != nil {
				return g, err
			}
			g.sheets = append(g.sheets, bs)
		case recSST:
			sstParts = [][]byte{rec.data}
			inSST = true
		case recEOF:
			if sstParts != nil {
				g.sst, err = parseSST(sstParts)
			}
			return g, err
		}
	}
}

func parseBoundSheet(data []byte) (boundSheet, error) {
	if len(data) < 8 {
		return boundSheet{}, errTruncated
	}
	name, err := shortString(data[6:])
	if err != nil {
		return boundSheet{}, err
	}
	return boundSheet{name: name, offset: int(u32(data, 0)), kind: data[5]}, nil
}

// shortString decodes a string with a one-byte length prefix.
func shortString(data []byte) (string, error) {
	if len(data) < 2 {
		return "", errTruncated
	}
	return decodeChars(data[2:], int(data[0]), data[1]&0x01 != 0)
}

// unicodeString decodes a string with a two-byte length prefix.
func unicodeString(data []byte) (string, error) {
	if len(data) < 3 {
		return "", errTruncated
	}
	return decodeChars(data[3:], int(u16(data, 0)), data[2]&0x01 != 0)
}

func decodeChars(data []byte, cch int, wide bool) (string, error) {
	size := 1
	if wide {
		size = 2
	}
	if len(data) < cch*size {
		return "", errTruncated
	}
	units := make([]uint16, cch)
	for i := range units {
		if wide {
			units[i] = u16(data, 2*i)
		} else {
			units[i] = uint16(data[i])
		}
	}
	return string(utf16.Decode(units)), nil
}

// sstReader walks the shared string table across its CONTINUE records.
type sstReader struct {
	parts [][]byte
	part  int
	pos   int
}

func (s *sstReader) remaining() int {
	return len(s.parts[s.part]) - s.pos
}

func (s *sstReader) advance() bool {
	if s.part+1 >= len(s.parts) {
		return false
	}
	s.part++
	s.pos = 0
	return true
}

func (s *sstReader) bytes(n int) ([]byte, error) {
	out := make([]byte, 0, n)
	for n > 0 {
		if s.remaining() == 0 && !s.advance() {
			return nil, errTruncated
		}
		k := min(n, s.remaining())
		out = append(out, s.parts[s.part][s.pos:s.pos+k]...)
		s.pos += k
		n -= k
	}
	return out, nil
}

// chars reads cch characters. A string split by a CONTINUE record restarts
// with a fresh option byte that may switch between 8- and 16-bit characters.
func (s *sstReader) chars(cch int, wide bool) (string, error) {
	units := make([]uint16, 0, cch)
	for cch > 0 {
		if s.remaining() == 0 {
			if !s.advance() || s.remaining() == 0 {
				return "", errTruncated
			}
			wide = s.parts[s.part][s.pos]&0x01 != 0
			s.pos++
		}
		size := 1
		if wide {
			size = 2
		}
		k := min(cch, s.remaining()/size)
		if k == 0 {
			return "", errTruncated
		}
		part := s.parts[s.part]
		for i := 0; i < k; i++ {
			if wide {
				units = append(units, u16(part, s.pos))
			} else {
				units = append(units, uint16(part[s.pos]))
			}
			s.pos += size
		}
		cch -= k
	}
	return string(utf16.Decode(units)), nil
}

func (s *sstReader) richString() (string, error) {
	head, err := s.bytes(3)
	if err != nil {
		return "", err
	}
	cch, flags := int(u16(head, 0)), head[2]

	var runs, ext int
	if flags&0x08 != 0 {
		b, err := s.bytes(2)
		if err != nil {
			return "", err
		}
		runs = int(u16(b, 0))
	}
	if flags&0x04 != 0 {
		b, err := s.bytes(4)
		if err != nil {
			return "", err
		}
		ext = int(u32(b, 0))
	}

	str, err := s.chars(cch, flags&0x01 != 0)
	if err != nil {
		return "", err
	}
	if _, err := s.bytes(4*runs + ext); err != nil {
		return "", err
	}
	return str, nil
}

func parseSST(parts [][]byte) ([]string, error) {
	s := &sstReader{parts: parts}
	head, err := s.bytes(8)
	if err != nil {
		return nil, err
	}
	unique := int(u32(head, 4))
	out := make([]string, 0, min(unique, 1<<16))
	for i := 0; i < unique; i++ {
		str, err := s.richString()
		if err != nil {
			return nil, fmt.Errorf("shared string %d: %w", i, err)
		}
		out = append(out, str)
	}
	return out, nil
}

// grid collects cells by position; BIFF stores them sparsely and unordered.
type grid struct {
	rows    map[int][]Cell
	numRows int
}

func (g *grid) set(row, col int, c Cell) {
	if col >= maxBIFFColumns || c.Blank() {
		return
	}
	if g.rows == nil {
		g.rows = map[int][]Cell{}
	}
	cells := g.rows[row]
	for len(cells) <= col {
		cells = append(cells, Cell{})
	}
	cells[col] = c
	g.rows[row] = cells
	g.numRows = max(g.numRows, row+1)
}

func (g *grid) table(name string) Table {
	rows := make([]Row, g.numRows)
	for i := range rows {
		rows[i] = Row{Number: i + 1, Cells: g.rows[i]}
	}
	return Table{Name: name, Rows: rows}
}

func parseSheet(stream []byte, bs boundSheet, sst []string) (Table, error) {
	if bs.offset < 0 || bs.offset >= len(stream) {
		return Table{}, fmt.Errorf("sheet offset %d outside workbook stream", bs.offset)
	}
	r := &biffReader{buf: stream, pos: bs.offset}
	if err := r.expectBOF(); err != nil {
		return Table{}, err
	}

	var g grid
	var formulaRow, formulaCol = -1, -1
	depth := 0
	for {
		rec, err := r.next()
		if err != nil {
			return Table{}, err
		}
		switch rec.id {
		case recBOF:
			depth++
			continue
		case recEOF:
			if depth == 0 {
				return g.table(bs.name), nil
			}
			depth--
			continue
		}
		if depth > 0 {
			continue
		}

		d := rec.data
		switch rec.id {
		case recNumber:
			if len(d) >= 14 {
				g.set(int(u16(d, 0)), int(u16(d, 2)), NumberCell(f64(d, 6)))
			}
		case recRK:
			if len(d) >= 10 {
				g.set(int(u16(d, 0)), int(u16(d, 2)), NumberCell(rkValue(u32(d, 6))))
			}
		case recMulRK:
			if len(d) < 6 {
				continue
			}
			row, first, last := int(u16(d, 0)), int(u16(d, 2)), int(u16(d, len(d)-2))
			for col, off := first, 4; col <= last && off+6 <= len(d)-2; col, off = col+1, off+6 {
				g.set(row, col, NumberCell(rkValue(u32(d, off+2))))
			}
		case recLabelSST:
			if len(d) >= 10 {
				if idx := int(u32(d, 6)); idx < len(sst) {
					g.set(int(u16(d, 0)), int(u16(d, 2)), TextCell(sst[idx]))
				}
			}
		case recLabel:
			if len(d) >= 6 {
				str, err := unicodeString(d[6:])
				if err != nil {
					return Table{}, err
				}
				g.set(int(u16(d, 0)), int(u16(d, 2)), TextCell(str))
			}
		case recBoolErr:
			if len(d) >= 8 && d[7] == 0 {
				g.set(int(u16(d, 0)), int(u16(d, 2)), TextCell(boolText(d[6] != 0)))
			}
		case recFormula:
			if len(d) < 14 {
				continue
			}
			row, col, res := int(u16(d, 0)), int(u16(d, 2)), d[6:14]
			if u16(res, 6) != 0xFFFF {
				g.set(row, col, NumberCell(f64(res, 0)))
				continue
			}
			switch res[0] {
			case 0:
				// The cached string follows in a STRING record.
				formulaRow, formulaCol = row, col
			case 1:
				g.set(row, col, TextCell(boolText(res[2] != 0)))
			}
		case recString:
			if formulaRow >= 0 {
				str, err := unicodeString(d)
				if err != nil {
					return Table{}, err
				}
				g.set(formulaRow, formulaCol, TextCell(str))
				formulaRow, formulaCol = -1, -1
			}
		}
	}
}

// rkValue decodes the compact RK number encoding.
func rkValue(rk uint32) float64 {
	var v float64
	if rk&0x02 != 0 {
		v = float64(int32(rk) >> 2)
	} else {
		v = math.Float64frombits(uint64(rk&0xFFFFFFFC) << 32)
	}
	if rk&0x01 != 0 {
		v /= 100
	}
	return v
}

func boolText(b bool) string {
	if b {
		return "TRUE"
	}
	return "FALSE"
}

func u16(b []byte, off int) uint16 { return binary.LittleEndian.Uint16(b[off:]) }
func u32(b []byte, off int) uint32 { return binary.LittleEndian.Uint32(b[off:]) }
func f64(b []byte, off int) float64 {
	return math.Float64frombits(binary.LittleEndian.Uint64(b[off:]))
}
