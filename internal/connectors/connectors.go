package connectors

import (
	"fmt"
	"strings"

	"adregister/internal"
	"adregister/internal/config"
	"adregister/internal/connectors/gmail"
	"adregister/internal/connectors/imap"
)

type MailConnector interface {
	FetchInbox(label string, max int) ([]internal.FetchedMailMessage, error)
}

// ForProvider builds the connector configured for provider ("imap" or "gmail").
func ForProvider(cfg config.Config, provider string) (MailConnector, error) {
	switch strings.ToLower(strings.TrimSpace(provider)) {
	case imap.Provider:
		return imap.NewConnector(cfg)
	case gmail.Provider:
		return gmail.NewConnector(cfg)
	default:
		return nil, fmt.Errorf("unsupported mail provider: %q", provider)
	}
}
