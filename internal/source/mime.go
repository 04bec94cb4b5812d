package source

import (
	"bytes"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/jhillyerd/enmime"

	"adregister/internal"
)

var spreadsheetExts = map[string]struct{}{
	".xlsx": {},
	".xlsm": {},
	".xls":  {},
}

// IsSpreadsheetName reports whether a file name carries a spreadsheet extension.
func IsSpreadsheetName(name string) bool {
	_, ok := spreadsheetExts[strings.ToLower(filepath.Ext(strings.TrimSpace(name)))]
	return ok
}

// FromMIME returns the first spreadsheet attachment of a raw mail message.
// The subject is returned alongside so callers can record it.
func FromMIME(raw []byte) (Source, string, error) {
	env, err := enmime.ReadEnvelope(bytes.NewReader(raw))
	if err != nil {
		return nil, "", internal.NewSourceError("read", "mail", fmt.Errorf("%w: %w", internal.ErrSourceUnreadable, err))
	}
	subject := env.GetHeader("Subject")

	parts := append([]*enmime.Part{}, env.Attachments...)
	parts = append(parts, env.Inlines...)
	for _, part := range parts {
		if !IsSpreadsheetName(part.FileName) || len(part.Content) == 0 {
			continue
		}
		return Bytes(part.FileName, part.Content), subject, nil
	}
	return nil, subject, internal.NewSourceError("read", "mail", internal.ErrNoSource)
}
