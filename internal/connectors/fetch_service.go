package connectors

import (
	"log/slog"

	"adregister/internal/logging"
	"adregister/internal/storage"
)

type FetchService struct {
	connector MailConnector
	store     *MailStoreService
	log       *slog.Logger
}

type FetchResult struct {
	Fetched int
	Stored  int
}

func NewFetchService(db *storage.DB, rawMailDir string, connector MailConnector) *FetchService {
	return &FetchService{
		connector: connector,
		store:     NewMailStoreService(db, rawMailDir),
		log:       logging.WithFields("component", "mail"),
	}
}

// FetchAndStore pulls up to max messages from label and records them as
// fetched. Messages already stored keep their processing status.
func (s *FetchService) FetchAndStore(label string, max int) (FetchResult, error) {
	messages, err := s.connector.FetchInbox(label, max)
	if err != nil {
		return FetchResult{}, err
	}

	stored := 0
	for _, msg := range messages {
		row, err := s.store.Store(msg)
		if err != nil {
			return FetchResult{Fetched: len(messages), Stored: stored}, err
		}
		s.log.Debug("mail stored", "mail_id", row.ID, "provider", row.Provider, "status", row.Status)
		stored++
	}

	s.log.Info("mail fetched", "label", label, "fetched", len(messages), "stored", stored)
	return FetchResult{Fetched: len(messages), Stored: stored}, nil
}
