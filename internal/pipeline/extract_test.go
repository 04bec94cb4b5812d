package pipeline

import (
	"errors"
	"reflect"
	"strings"
	"testing"

	"adregister/internal"
	"adregister/internal/directive"
	"adregister/internal/sheet"
	"adregister/internal/sheet/sheettest"
	"adregister/internal/source"
)

const (
	serial19980917 = 36055.0
	serial20160113 = 42382.0
	serial20170929 = 43007.0
)

const bulkheads = "Inspection of the Control Column Mounting Bulkheads"

func cirrusRow() []any {
	return []any{"GFA AD 0017", 2, serial19980917, "Standard Cirrus", "GLIDER", bulkheads, "Active"}
}

func multiRows() [][]any {
	return [][]any{
		{"CASA AD/GEN/87", nil, serial20160113, "General AD-AWAs", "GENERAL", "Maintenance of aircraft", "Superseded"},
		{"CASA AD/GEN/87", 1, serial20170929, "General AD-AWAs", "GENERAL", "Maintenance of aircraft", "Active"},
		cirrusRow(),
		{"GFA AD 0017", 2, serial19980917, "Standard Cirrus B", "GLIDER", bulkheads, "active"},
	}
}

func extractRows(t *testing.T, q Query, rows ...[]any) []directive.Directive {
	t.Helper()
	blob := sheettest.Register(t, rows...)
	out, err := ExtractFromSource(source.Bytes("fixture.xlsx", blob), q, 0)
	if err != nil {
		t.Fatal(err)
	}
	return out
}

func TestExtractSingleRowAllProvided(t *testing.T) {
	result := extractRows(t, Query{}, cirrusRow())
	if len(result) != 1 {
		t.Fatalf("len=%d", len(result))
	}

	entry := result[0]
	if entry.DocumentReference != "GFA AD 0017" {
		t.Fatalf("ref=%q", entry.DocumentReference)
	}
	if entry.IssueNumber == nil || *entry.IssueNumber != 2 {
		t.Fatalf("issue=%v", entry.IssueNumber)
	}
	if !entry.Active {
		t.Fatal("expected active")
	}
	if entry.IssueDate == nil || *entry.IssueDate != "1998-09-17" {
		t.Fatalf("date=%v", entry.IssueDate)
	}
	if entry.TypeCertificate == nil || *entry.TypeCertificate != "Standard Cirrus" {
		t.Fatalf("cert=%v", entry.TypeCertificate)
	}
	if entry.Type == nil || *entry.Type != directive.TypeGlider {
		t.Fatalf("type=%v", entry.Type)
	}
	if entry.Description == nil || *entry.Description != bulkheads {
		t.Fatalf("description=%v", entry.Description)
	}
}

func TestExtractSingleRowMissingFields(t *testing.T) {
	cases := []struct {
		name  string
		row   []any
		check func(t *testing.T, d directive.Directive)
	}{
		{
			name: "issue number",
			row:  []any{"GFA AD 0017", nil, serial19980917, "Standard Cirrus", "GLIDER", bulkheads, "Active"},
			check: func(t *testing.T, d directive.Directive) {
				if d.IssueNumber != nil {
					t.Fatalf("issue=%d", *d.IssueNumber)
				}
			},
		},
		{
			name: "non-numeric issue number",
			row:  []any{"GFA AD 0017", "n/a", serial19980917, "Standard Cirrus", "GLIDER", bulkheads, "Active"},
			check: func(t *testing.T, d directive.Directive) {
				if d.IssueNumber != nil {
					t.Fatalf("issue=%d", *d.IssueNumber)
				}
			},
		},
		{
			name: "type certificate",
			row:  []any{"GFA AD 0017", 2, serial19980917, nil, "GLIDER", bulkheads, "Active"},
			check: func(t *testing.T, d directive.Directive) {
				if d.TypeCertificate != nil {
					t.Fatalf("cert=%q", *d.TypeCertificate)
				}
			},
		},
		{
			name: "issue date",
			row:  []any{"GFA AD 0017", 2, nil, "Standard Cirrus", "GLIDER", bulkheads, "Active"},
			check: func(t *testing.T, d directive.Directive) {
				if d.IssueDate != nil {
					t.Fatalf("date=%q", *d.IssueDate)
				}
			},
		},
		{
			name: "zero issue date",
			row:  []any{"GFA AD 0017", 2, 0, "Standard Cirrus", "GLIDER", bulkheads, "Active"},
			check: func(t *testing.T, d directive.Directive) {
				if d.IssueDate != nil {
					t.Fatalf("date=%q", *d.IssueDate)
				}
			},
		},
		{
			name: "directive type",
			row:  []any{"GFA AD 0017", 2, serial19980917, "Standard Cirrus", nil, bulkheads, "Active"},
			check: func(t *testing.T, d directive.Directive) {
				if d.Type != nil {
					t.Fatalf("type=%q", *d.Type)
				}
			},
		},
		{
			name: "status",
			row:  []any{"GFA AD 0017", 2, serial19980917, "Standard Cirrus", "GLIDER", bulkheads},
			check: func(t *testing.T, d directive.Directive) {
				if !d.Active {
					t.Fatal("missing status should be active")
				}
			},
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			result := extractRows(t, Query{}, tc.row)
			if len(result) != 1 {
				t.Fatalf("len=%d", len(result))
			}
			if result[0].DocumentReference != "GFA AD 0017" {
				t.Fatalf("ref=%q", result[0].DocumentReference)
			}
			tc.check(t, result[0])
		})
	}
}

func TestExtractSkipsRowsWithoutData(t *testing.T) {
	rows := multiRows()
	rows = append(rows,
		[]any{"End of register"},
		[]any{"Notes:", "Superseded entries retained for history", nil, nil, "x"},
	)
	result := extractRows(t, Query{}, rows...)
	if len(result) != 4 {
		t.Fatalf("len=%d", len(result))
	}

	if result[0].IssueNumber != nil || result[0].Active || *result[0].IssueDate != "2016-01-13" {
		t.Fatalf("row 0: %+v", result[0])
	}
	if *result[0].Type != directive.TypeGeneral || *result[0].TypeCertificate != "General AD-AWAs" {
		t.Fatalf("row 0: %+v", result[0])
	}
	if *result[1].IssueNumber != 1 || !result[1].Active || *result[1].IssueDate != "2017-09-29" {
		t.Fatalf("row 1: %+v", result[1])
	}
	if *result[2].TypeCertificate != "Standard Cirrus" || *result[3].TypeCertificate != "Standard Cirrus B" {
		t.Fatalf("order changed: %v %v", *result[2].TypeCertificate, *result[3].TypeCertificate)
	}
	if !result[3].Active {
		t.Fatal("lower-case active status should be active")
	}
}

func TestExtractSkipsPreambleRegardlessOfContent(t *testing.T) {
	header := []any{"GFA Airworthiness Register"}
	preamble := make([][]any, 0, 5)
	for i := 0; i < 5; i++ {
		preamble = append(preamble, cirrusRow())
	}
	rows := append([][]any{header}, preamble...)
	rows = append(rows, []any{"GFA AD 0099", 1, serial20170929, "LS4", "GLIDER", "Aileron hinge", "Active"})

	blob := sheettest.Build(t, sheettest.Options{},
		sheettest.Table{Name: "Cover"},
		sheettest.Table{Name: "Register", Rows: rows},
	)
	wb, err := sheet.Decode("fixture.xlsx", blob)
	if err != nil {
		t.Fatal(err)
	}
	result, err := ExtractDirectives(wb, Query{})
	if err != nil {
		t.Fatal(err)
	}
	if len(result) != 1 || result[0].DocumentReference != "GFA AD 0099" {
		t.Fatalf("result=%+v", result)
	}
}

func TestExtractBlankRowsDoNotCountTowardsPreamble(t *testing.T) {
	rows := [][]any{{"GFA Airworthiness Register"}, {}, {}}
	rows = append(rows, sheettest.Preamble()...)
	rows = append(rows, []any{}, cirrusRow())
	blob := sheettest.Build(t, sheettest.Options{},
		sheettest.Table{Name: "Cover"},
		sheettest.Table{Name: "Register", Rows: rows},
	)
	result, err := ExtractFromSource(source.Bytes("fixture.xlsx", blob), Query{}, 0)
	if err != nil {
		t.Fatal(err)
	}
	if len(result) != 1 {
		t.Fatalf("len=%d", len(result))
	}
}

func TestExtractIgnoreInactive(t *testing.T) {
	rows := [][]any{
		{"CASA AD/GEN/87", nil, serial20160113, "General AD-AWAs", "GENERAL", "Maintenance of aircraft", "Superseded"},
		{"CASA AD/GEN/87", 1, serial20170929, "General AD-AWAs", "GENERAL", "Maintenance of aircraft", "Active"},
		cirrusRow(),
		{"GFA AD 0017", 1, serial19980917, "Standard Cirrus", "GLIDER", bulkheads, "Cancelled"},
	}
	result := extractRows(t, Query{IgnoreInactive: true}, rows...)
	if len(result) != 2 {
		t.Fatalf("len=%d", len(result))
	}
	if result[0].DocumentReference != "CASA AD/GEN/87" || *result[0].IssueNumber != 1 || *result[0].IssueDate != "2017-09-29" {
		t.Fatalf("row 0: %+v", result[0])
	}
	if result[1].DocumentReference != "GFA AD 0017" || *result[1].IssueNumber != 2 || *result[1].TypeCertificate != "Standard Cirrus" {
		t.Fatalf("row 1: %+v", result[1])
	}
}

func TestExtractMatchesTypeCertificate(t *testing.T) {
	result := extractRows(t, Query{MatchTypeCertificate: "General AD-AWAs"}, multiRows()...)
	if len(result) != 2 {
		t.Fatalf("len=%d", len(result))
	}
	if result[0].IssueNumber != nil || result[0].Active {
		t.Fatalf("row 0: %+v", result[0])
	}
	if *result[1].IssueNumber != 1 || !result[1].Active {
		t.Fatalf("row 1: %+v", result[1])
	}

	padded := extractRows(t, Query{MatchTypeCertificate: "  Standard Cirrus\t"}, multiRows()...)
	if len(padded) != 1 || *padded[0].TypeCertificate != "Standard Cirrus" {
		t.Fatalf("padded match: %+v", padded)
	}

	caseSensitive := extractRows(t, Query{MatchTypeCertificate: "standard cirrus"}, multiRows()...)
	if len(caseSensitive) != 0 {
		t.Fatalf("match should be case-sensitive, got %d", len(caseSensitive))
	}
}

func TestExtractComparesStoredTypeCertificate(t *testing.T) {
	rows := [][]any{
		{"GFA AD 0017", 2, serial19980917, " Standard Cirrus ", "GLIDER", bulkheads, "Active"},
		cirrusRow(),
	}
	result := extractRows(t, Query{MatchTypeCertificate: "Standard Cirrus"}, rows...)
	if len(result) != 1 || *result[0].TypeCertificate != "Standard Cirrus" {
		t.Fatalf("result=%+v", result)
	}

	all := extractRows(t, Query{}, rows...)
	if len(all) != 2 || *all[0].TypeCertificate != " Standard Cirrus " {
		t.Fatalf("stored certificate not kept as-is: %+v", all)
	}
}

func TestExtractInsignificantMatchDisablesFilter(t *testing.T) {
	for _, match := range []string{"", "   ", "\t\t", "X"} {
		result := extractRows(t, Query{MatchTypeCertificate: match}, multiRows()...)
		if len(result) != 4 {
			t.Fatalf("match %q: len=%d", match, len(result))
		}
	}
}

func TestExtractCombinesFilters(t *testing.T) {
	result := extractRows(t, Query{MatchTypeCertificate: "General AD-AWAs", IgnoreInactive: true}, multiRows()...)
	if len(result) != 1 || *result[0].IssueNumber != 1 {
		t.Fatalf("result=%+v", result)
	}
}

func TestExtractIsIdempotent(t *testing.T) {
	blob := sheettest.Register(t, multiRows()...)
	wb, err := sheet.Decode("fixture.xlsx", blob)
	if err != nil {
		t.Fatal(err)
	}
	first, err := ExtractDirectives(wb, Query{IgnoreInactive: true})
	if err != nil {
		t.Fatal(err)
	}
	second, err := ExtractDirectives(wb, Query{IgnoreInactive: true})
	if err != nil {
		t.Fatal(err)
	}
	if !reflect.DeepEqual(first, second) {
		t.Fatalf("results differ:\n%+v\n%+v", first, second)
	}
}

func TestExtractHeaderOnlyIsEmpty(t *testing.T) {
	result := extractRows(t, Query{})
	if result == nil || len(result) != 0 {
		t.Fatalf("expected empty non-nil result, got %#v", result)
	}
}

func TestExtractNonPositiveIssueAbortsCall(t *testing.T) {
	blob := sheettest.Register(t,
		cirrusRow(),
		[]any{"GFA AD 0018", 0, serial19980917, "Standard Cirrus", "GLIDER", bulkheads, "Active"},
	)
	result, err := ExtractFromSource(source.Bytes("fixture.xlsx", blob), Query{}, 0)
	if err == nil {
		t.Fatal("expected error")
	}
	if result != nil {
		t.Fatalf("partial result returned: %+v", result)
	}
	var verr *directive.ValidationError
	if !errors.As(err, &verr) {
		t.Fatalf("expected ValidationError, got %v", err)
	}
	// header + 5 preamble rows + first data row
	if want := "row 8: "; err.Error()[:len(want)] != want {
		t.Fatalf("err=%q", err.Error())
	}
}

func TestExtractHugeIssueNumberIsOutOfRange(t *testing.T) {
	for _, issue := range []float64{1e20, -1e20} {
		blob := sheettest.Register(t, []any{"GFA AD 0018", issue, serial19980917, "Standard Cirrus", "GLIDER", bulkheads, "Active"})
		_, err := ExtractFromSource(source.Bytes("fixture.xlsx", blob), Query{}, 0)
		var verr *directive.ValidationError
		if !errors.As(err, &verr) {
			t.Fatalf("issue %v: expected ValidationError, got %v", issue, err)
		}
		if strings.Contains(err.Error(), "9223372036854775808") || strings.Contains(err.Error(), "2147483648") {
			t.Fatalf("issue %v: wrapped value in %q", issue, err.Error())
		}
		if !strings.HasPrefix(err.Error(), "row 7: ") {
			t.Fatalf("err=%q", err.Error())
		}
	}
}

func TestExtractFractionalDateBelowOneIsAbsent(t *testing.T) {
	result := extractRows(t, Query{}, []any{"GFA AD 0017", 2, 0.5, "Standard Cirrus", "GLIDER", bulkheads, "Active"})
	if len(result) != 1 || result[0].IssueDate != nil {
		t.Fatalf("result=%+v", result)
	}
}

func TestExtractMissingTable(t *testing.T) {
	blob := sheettest.Build(t, sheettest.Options{}, sheettest.Table{Name: "Only", Rows: [][]any{{"x"}}})
	_, err := ExtractFromSource(source.Bytes("fixture.xlsx", blob), Query{}, 0)
	if !errors.Is(err, internal.ErrTableMissing) {
		t.Fatalf("err=%v", err)
	}
	var serr *internal.SourceError
	if !errors.As(err, &serr) {
		t.Fatalf("expected SourceError, got %T", err)
	}
	if !strings.Contains(err.Error(), `["Only"]`) {
		t.Fatalf("table names missing from %q", err.Error())
	}

	if _, err := ExtractDirectives(nil, Query{}); !errors.Is(err, internal.ErrNoSource) {
		t.Fatalf("nil workbook err=%v", err)
	}
}

func TestExtractMissingSources(t *testing.T) {
	cases := map[string]source.Source{
		"nil":         nil,
		"nonexistent": source.Path("randompath.xls"),
		"not excel":   source.Bytes("dummy_text_data.txt", []byte("hello, this is not a spreadsheet\n")),
	}
	for name, src := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := ExtractFromSource(src, Query{}, 0)
			var serr *internal.SourceError
			if !errors.As(err, &serr) {
				t.Fatalf("expected SourceError, got %v", err)
			}
		})
	}
}

func TestExtractLegacyWorkbookMatchesXLSX(t *testing.T) {
	q := Query{IgnoreInactive: true}
	want := extractRows(t, q, multiRows()...)

	blob := sheettest.RegisterXLS(t, multiRows()...)
	got, err := ExtractFromSource(source.Bytes("fixture.xls", blob), q, 0)
	if err != nil {
		t.Fatal(err)
	}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("xls=%+v\nxlsx=%+v", got, want)
	}
	if len(got) != 3 || *got[2].IssueDate != "1998-09-17" {
		t.Fatalf("got=%+v", got)
	}
}
