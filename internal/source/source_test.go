package source

import (
	"bytes"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/jhillyerd/enmime"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"adregister/internal"
)

func TestReadVariants(t *testing.T) {
	blob := []byte("PK\x03\x04 register bytes")
	path := filepath.Join(t.TempDir(), "register.xlsx")
	require.NoError(t, os.WriteFile(path, blob, 0o644))

	cases := []struct {
		name string
		src  Source
		kind internal.SourceKind
	}{
		{name: "path", src: Path(path), kind: internal.SourcePath},
		{name: "stream", src: Stream("upload", bytes.NewReader(blob)), kind: internal.SourceStream},
		{name: "bytes", src: Bytes("memory", blob), kind: internal.SourceBytes},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got, err := Read(tc.src, 0)
			require.NoError(t, err)
			assert.Equal(t, blob, got)
			assert.Equal(t, tc.kind, tc.src.Kind())
		})
	}
}

func TestReadFailures(t *testing.T) {
	cases := []struct {
		name string
		src  Source
		want error
	}{
		{name: "nil source", src: nil, want: internal.ErrNoSource},
		{name: "blank path", src: Path("  "), want: internal.ErrNoSource},
		{name: "nil stream", src: Stream("stdin", nil), want: internal.ErrNoSource},
		{name: "nil bytes", src: Bytes("memory", nil), want: internal.ErrNoSource},
		{name: "missing file", src: Path(filepath.Join(t.TempDir(), "randompath.xls")), want: internal.ErrSourceUnreadable},
		{name: "empty stream", src: Stream("stdin", strings.NewReader("")), want: internal.ErrNotSpreadsheet},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := Read(tc.src, 0)
			require.Error(t, err)
			var serr *internal.SourceError
			require.True(t, errors.As(err, &serr), "got %T", err)
			assert.True(t, errors.Is(err, tc.want), "got %v", err)
		})
	}
}

func TestReadEnforcesLimit(t *testing.T) {
	_, err := Read(Bytes("memory", make([]byte, 11)), 10)
	require.Error(t, err)
	assert.True(t, errors.Is(err, internal.ErrSourceTooLarge))

	got, err := Read(Bytes("memory", make([]byte, 10)), 10)
	require.NoError(t, err)
	assert.Len(t, got, 10)
}

func buildMail(t *testing.T, attachName string, attach []byte) []byte {
	t.Helper()
	b := enmime.Builder().
		From("GFA Airworthiness", "airworthiness@example.org").
		To("Club", "club@example.org").
		Subject("AD register update").
		Text([]byte("Latest register attached."))
	if attachName != "" {
		b = b.AddAttachment(attach, "application/octet-stream", attachName)
	}
	part, err := b.Build()
	require.NoError(t, err)
	var buf bytes.Buffer
	require.NoError(t, part.Encode(&buf))
	return buf.Bytes()
}

func TestFromMIME(t *testing.T) {
	raw := buildMail(t, "gfa-ad-register.xlsx", []byte("spreadsheet"))

	src, subject, err := FromMIME(raw)
	require.NoError(t, err)
	assert.Equal(t, "AD register update", subject)
	assert.Equal(t, "gfa-ad-register.xlsx", src.Ref())

	got, err := Read(src, 0)
	require.NoError(t, err)
	assert.Equal(t, []byte("spreadsheet"), got)
}

func TestFromMIMEWithoutSpreadsheet(t *testing.T) {
	raw := buildMail(t, "notes.pdf", []byte("pdf"))

	_, _, err := FromMIME(raw)
	require.Error(t, err)
	assert.True(t, errors.Is(err, internal.ErrNoSource))
}

func TestIsSpreadsheetName(t *testing.T) {
	assert.True(t, IsSpreadsheetName("register.XLS"))
	assert.True(t, IsSpreadsheetName("register.xlsx"))
	assert.False(t, IsSpreadsheetName("register.csv"))
	assert.False(t, IsSpreadsheetName(""))
}
