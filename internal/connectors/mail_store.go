package connectors

import (
	"os"
	"path/filepath"

	"adregister/internal"
	"adregister/internal/pipeline"
	"adregister/internal/storage"
)

type MailStoreService struct {
	db         *storage.DB
	rawMailDir string
}

func NewMailStoreService(db *storage.DB, rawMailDir string) *MailStoreService {
	return &MailStoreService{db: db, rawMailDir: rawMailDir}
}

// Store writes the raw message under its content hash and upserts its row.
func (s *MailStoreService) Store(msg internal.FetchedMailMessage) (internal.MailRow, error) {
	hash := pipeline.ContentHash(msg.Raw)

	if err := os.MkdirAll(s.rawMailDir, 0o755); err != nil {
		return internal.MailRow{}, err
	}

	rawPath := filepath.Join(s.rawMailDir, hash+".eml")
	if _, err := os.Stat(rawPath); os.IsNotExist(err) {
		if err := os.WriteFile(rawPath, msg.Raw, 0o644); err != nil {
			return internal.MailRow{}, err
		}
	}

	return s.db.UpsertMail(msg, hash, rawPath)
}
