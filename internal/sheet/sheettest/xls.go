package sheettest

import (
	"encoding/binary"
	"fmt"
	"math"
	"testing"
	"time"
	"unicode/utf16"
)

const (
	sectorSize    = 512
	minStreamSize = 4096
	maxRecordData = 8224

	endOfChain = 0xFFFFFFFE
	fatSector  = 0xFFFFFFFD
	freeSector = 0xFFFFFFFF
	noStream   = 0xFFFFFFFF
)

var (
	epoch1900 = time.Date(1899, 12, 30, 0, 0, 0, 0, time.UTC)
	epoch1904 = time.Date(1904, 1, 1, 0, 0, 0, 0, time.UTC)
)

// BuildXLS writes the tables, in order, into a legacy BIFF8 .xls container.
func BuildXLS(t testing.TB, opts Options, tables ...Table) []byte {
	t.Helper()
	stream, err := biffStream(opts, tables)
	if err != nil {
		t.Fatal(err)
	}
	blob, err := compoundFile("Workbook", stream)
	if err != nil {
		t.Fatal(err)
	}
	return blob
}

// RegisterXLS is Register written as a legacy .xls workbook.
func RegisterXLS(t testing.TB, data ...[]any) []byte {
	t.Helper()
	return BuildXLS(t, Options{}, registerTables(data)...)
}

type biffWriter struct {
	buf []byte
}

func (w *biffWriter) record(id uint16, data []byte) {
	w.buf = binary.LittleEndian.AppendUint16(w.buf, id)
	w.buf = binary.LittleEndian.AppendUint16(w.buf, uint16(len(data)))
	w.buf = append(w.buf, data...)
}

func (w *biffWriter) bof(kind uint16) {
	data := binary.LittleEndian.AppendUint16(nil, 0x0600)
	data = binary.LittleEndian.AppendUint16(data, kind)
	data = append(data, make([]byte, 12)...)
	w.record(0x0809, data)
}

type sharedStrings struct {
	index map[string]uint32
	list  []string
	total uint32
}

func (s *sharedStrings) add(v string) uint32 {
	s.total++
	if i, ok := s.index[v]; ok {
		return i
	}
	if s.index == nil {
		s.index = map[string]uint32{}
	}
	i := uint32(len(s.list))
	s.index[v] = i
	s.list = append(s.list, v)
	return i
}

func biffStream(opts Options, tables []Table) ([]byte, error) {
	var sst sharedStrings
	sheets := make([][]byte, len(tables))
	for i, table := range tables {
		body, err := sheetSubstream(opts, table, &sst)
		if err != nil {
			return nil, fmt.Errorf("sheet %q: %w", table.Name, err)
		}
		sheets[i] = body
	}

	g := &biffWriter{}
	g.bof(0x0005)
	dateMode := uint16(0)
	if opts.Date1904 {
		dateMode = 1
	}
	g.record(0x0022, binary.LittleEndian.AppendUint16(nil, dateMode))

	offsets := make([]int, len(tables))
	for i, table := range tables {
		name := utf16.Encode([]rune(table.Name))
		if len(name) > 255 {
			return nil, fmt.Errorf("sheet name %q too long", table.Name)
		}
		offsets[i] = len(g.buf) + 4
		data := make([]byte, 4, 8+2*len(name))
		data = append(data, 0, 0, byte(len(name)), 1)
		for _, u := range name {
			data = binary.LittleEndian.AppendUint16(data, u)
		}
		g.record(0x0085, data)
	}
	if err := writeSST(g, &sst); err != nil {
		return nil, err
	}
	g.record(0x000A, nil)

	pos := len(g.buf)
	for i, body := range sheets {
		binary.LittleEndian.PutUint32(g.buf[offsets[i]:], uint32(pos))
		pos += len(body)
	}
	for _, body := range sheets {
		g.buf = append(g.buf, body...)
	}
	return g.buf, nil
}

// writeSST emits the shared strings, breaking into CONTINUE records between
// strings.
func writeSST(g *biffWriter, sst *sharedStrings) error {
	data := binary.LittleEndian.AppendUint32(nil, sst.total)
	data = binary.LittleEndian.AppendUint32(data, uint32(len(sst.list)))
	id := uint16(0x00FC)
	for _, s := range sst.list {
		units := utf16.Encode([]rune(s))
		if len(units) > math.MaxUint16 {
			return fmt.Errorf("shared string of %d characters", len(units))
		}
		entry := binary.LittleEndian.AppendUint16(nil, uint16(len(units)))
		entry = append(entry, 1)
		for _, u := range units {
			entry = binary.LittleEndian.AppendUint16(entry, u)
		}
		if len(entry) > maxRecordData {
			return fmt.Errorf("shared string of %d bytes does not fit one record", len(entry))
		}
		if len(data)+len(entry) > maxRecordData {
			g.record(id, data)
			id, data = 0x003C, nil
		}
		data = append(data, entry...)
	}
	g.record(id, data)
	return nil
}

func sheetSubstream(opts Options, table Table, sst *sharedStrings) ([]byte, error) {
	w := &biffWriter{}
	w.bof(0x0010)
	for r, row := range table.Rows {
		for c, v := range row {
			if v == nil {
				continue
			}
			head := binary.LittleEndian.AppendUint16(nil, uint16(r))
			head = binary.LittleEndian.AppendUint16(head, uint16(c))
			head = binary.LittleEndian.AppendUint16(head, 0)

			switch v := v.(type) {
			case string:
				w.record(0x00FD, binary.LittleEndian.AppendUint32(head, sst.add(v)))
			case bool:
				b := byte(0)
				if v {
					b = 1
				}
				w.record(0x0205, append(head, b, 0))
			case int:
				if int64(v) >= -(1<<29) && int64(v) < 1<<29 {
					w.record(0x027E, binary.LittleEndian.AppendUint32(head, uint32(int32(v)<<2)|0x02))
				} else {
					w.record(0x0203, binary.LittleEndian.AppendUint64(head, math.Float64bits(float64(v))))
				}
			case float64:
				w.record(0x0203, binary.LittleEndian.AppendUint64(head, math.Float64bits(v)))
			case time.Time:
				w.record(0x0203, binary.LittleEndian.AppendUint64(head, math.Float64bits(dateSerial(v, opts.Date1904))))
			default:
				return nil, fmt.Errorf("row %d column %d: unsupported value %T", r+1, c+1, v)
			}
		}
	}
	w.record(0x000A, nil)
	return w.buf, nil
}

func dateSerial(t time.Time, date1904 bool) float64 {
	epoch := epoch1900
	if date1904 {
		epoch = epoch1904
	}
	return float64(t.Sub(epoch)) / float64(24*time.Hour)
}

// compoundFile wraps one stream in a version 3 compound document laid out
// as FAT sector, directory sector, then the stream sectors.
func compoundFile(name string, stream []byte) ([]byte, error) {
	size := max(len(stream), minStreamSize)
	if rem := size % sectorSize; rem != 0 {
		size += sectorSize - rem
	}
	n := size / sectorSize
	if n+2 > sectorSize/4 {
		return nil, fmt.Errorf("stream of %d bytes needs more than one FAT sector", len(stream))
	}

	header := make([]byte, sectorSize)
	copy(header, []byte{0xD0, 0xCF, 0x11, 0xE0, 0xA1, 0xB1, 0x1A, 0xE1})
	le := binary.LittleEndian
	le.PutUint16(header[24:], 0x003E)
	le.PutUint16(header[26:], 3)
	le.PutUint16(header[28:], 0xFFFE)
	le.PutUint16(header[30:], 9)
	le.PutUint16(header[32:], 6)
	le.PutUint32(header[44:], 1)
	le.PutUint32(header[48:], 1)
	le.PutUint32(header[56:], minStreamSize)
	le.PutUint32(header[60:], endOfChain)
	le.PutUint32(header[68:], endOfChain)
	le.PutUint32(header[76:], 0)
	for off := 80; off < sectorSize; off += 4 {
		le.PutUint32(header[off:], freeSector)
	}

	fat := make([]byte, sectorSize)
	for off := 0; off < sectorSize; off += 4 {
		le.PutUint32(fat[off:], freeSector)
	}
	le.PutUint32(fat[0:], fatSector)
	le.PutUint32(fat[4:], endOfChain)
	for i := 0; i < n; i++ {
		next := uint32(i + 3)
		if i == n-1 {
			next = endOfChain
		}
		le.PutUint32(fat[(i+2)*4:], next)
	}

	dir := make([]byte, sectorSize)
	dirEntry(dir[0:128], "Root Entry", 5, 1, endOfChain, 0)
	dirEntry(dir[128:256], name, 2, noStream, 2, uint32(size))
	for off := 256; off < sectorSize; off += 128 {
		le.PutUint32(dir[off+68:], noStream)
		le.PutUint32(dir[off+72:], noStream)
		le.PutUint32(dir[off+76:], noStream)
	}

	out := make([]byte, 0, 3*sectorSize+size)
	out = append(out, header...)
	out = append(out, fat...)
	out = append(out, dir...)
	out = append(out, stream...)
	out = append(out, make([]byte, size-len(stream))...)
	return out, nil
}

func dirEntry(b []byte, name string, kind byte, child, start, size uint32) {
	le := binary.LittleEndian
	units := utf16.Encode([]rune(name))
	for i, u := range units {
		le.PutUint16(b[2*i:], u)
	}
	le.PutUint16(b[64:], uint16(2*(len(units)+1)))
	b[66] = kind
	b[67] = 1
	le.PutUint32(b[68:], noStream)
	le.PutUint32(b[72:], noStream)
	le.PutUint32(b[76:], child)
	le.PutUint32(b[116:], start)
	le.PutUint32(b[120:], size)
}
