package registry

import (
	"context"
	"log/slog"
	"time"

	"adregister/internal"
	"adregister/internal/config"
	"adregister/internal/logging"
	"adregister/internal/pipeline"
	"adregister/internal/storage"
)

const (
	lastHashKey = "register.last_hash"
	lastSyncKey = "register.last_sync"
)

type downloader interface {
	Download(ctx context.Context) ([]byte, string, error)
}

type SyncService struct {
	db        *storage.DB
	client    downloader
	processor *pipeline.ProcessingService
	cfg       config.Config
	log       *slog.Logger
}

type SyncResult struct {
	FileName   string
	SourceHash string
	RunID      string
	Directives int
	Unchanged  bool
	Skipped    bool
}

func NewSyncService(db *storage.DB, cfg config.Config) *SyncService {
	return &SyncService{
		db:        db,
		client:    NewClient(cfg),
		processor: pipeline.NewProcessingService(db, cfg),
		cfg:       cfg,
		log:       logging.WithFields("component", "registry"),
	}
}

// Sync downloads the register and imports it as a new run. A download whose
// content matches the last imported register is not imported again unless
// force is set.
func (s *SyncService) Sync(ctx context.Context, force bool) (SyncResult, error) {
	blob, name, err := s.client.Download(ctx)
	if err != nil {
		return SyncResult{}, err
	}
	result := SyncResult{FileName: name, SourceHash: pipeline.ContentHash(blob)}

	last, err := s.db.GetMetadata(lastHashKey)
	if err != nil {
		return result, err
	}
	if !force && last != nil && *last == result.SourceHash {
		result.Unchanged = true
		s.log.Info("register unchanged", "hash", result.SourceHash)
		return result, s.markSynced()
	}

	imported, err := s.processor.ImportBytes(internal.SourceBytes, "download:"+name, blob, s.processor.DefaultQuery())
	result.RunID = imported.RunID
	if err != nil {
		return result, err
	}
	result.Directives = imported.Directives

	if err := s.db.SetMetadata(lastHashKey, result.SourceHash); err != nil {
		return result, err
	}
	return result, s.markSynced()
}

// SyncIfStale runs Sync only when the last sync is older than the
// configured refresh interval.
func (s *SyncService) SyncIfStale(ctx context.Context) (SyncResult, error) {
	last, err := s.db.GetMetadata(lastSyncKey)
	if err != nil {
		return SyncResult{}, err
	}
	if last != nil {
		if parsed, err := time.Parse(time.RFC3339, *last); err == nil {
			if time.Since(parsed) < time.Duration(s.cfg.RegisterRefreshHours)*time.Hour {
				return SyncResult{Skipped: true}, nil
			}
		}
	}
	return s.Sync(ctx, false)
}

func (s *SyncService) markSynced() error {
	return s.db.SetMetadata(lastSyncKey, time.Now().UTC().Format(time.RFC3339))
}
