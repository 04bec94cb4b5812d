package listener

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"adregister/internal/config"
	"adregister/internal/connectors"
	"adregister/internal/logging"
	"adregister/internal/pipeline"
	"adregister/internal/registry"
	"adregister/internal/storage"
)

type registerSyncer interface {
	SyncIfStale(ctx context.Context) (registry.SyncResult, error)
}

type Service struct {
	db        *storage.DB
	cfg       config.Config
	log       *slog.Logger
	syncer    registerSyncer
	processor *pipeline.ProcessingService
	connector connectors.MailConnector
}

func NewService(db *storage.DB, cfg config.Config) *Service {
	return &Service{
		db:        db,
		cfg:       cfg,
		log:       logging.WithFields("component", "listener"),
		syncer:    registry.NewSyncService(db, cfg),
		processor: pipeline.NewProcessingService(db, cfg),
	}
}

// Run repeats the listener cycle every LISTENER_INTERVAL_SEC until ctx is
// done. Cycle failures are logged and retried on the next tick.
func (s *Service) Run(ctx context.Context) error {
	interval := time.Duration(s.cfg.ListenerIntervalSec) * time.Second
	if interval <= 0 {
		interval = 5 * time.Minute
	}
	s.log.Info("listener started", "interval", interval.String(), "provider", s.provider(), "sync_register", s.cfg.ListenerSyncRegister)

	for {
		if err := s.runCycle(ctx); err != nil {
			s.log.Error("listener cycle failed", "error", err)
		}

		select {
		case <-ctx.Done():
			s.log.Info("listener stopped")
			return nil
		case <-time.After(interval):
		}
	}
}

func (s *Service) runCycle(ctx context.Context) error {
	var errs []error

	if s.cfg.ListenerSyncRegister {
		res, err := s.syncer.SyncIfStale(ctx)
		switch {
		case err != nil:
			errs = append(errs, fmt.Errorf("register sync: %w", err))
		case !res.Skipped:
			s.log.Info("register synced", "run_id", res.RunID, "directives", res.Directives, "unchanged", res.Unchanged)
		}
	}

	if provider := s.provider(); provider != "" {
		if err := s.pollMail(provider); err != nil {
			errs = append(errs, fmt.Errorf("mail %s: %w", provider, err))
		}
	}

	if s.cfg.ListenerAutoExport {
		if err := s.exportLatest(); err != nil {
			errs = append(errs, fmt.Errorf("export: %w", err))
		}
	}

	return errors.Join(errs...)
}

func (s *Service) provider() string {
	return strings.ToLower(strings.TrimSpace(s.cfg.ListenerProvider))
}

func (s *Service) pollMail(provider string) error {
	if s.connector == nil {
		c, err := connectors.ForProvider(s.cfg, provider)
		if err != nil {
			return err
		}
		s.connector = c
	}

	fetchService := connectors.NewFetchService(s.db, s.cfg.RawMailDir, s.connector)
	fetchResult, err := fetchService.FetchAndStore(s.cfg.ListenerLabel, s.cfg.ListenerFetchMax)
	if err != nil {
		return err
	}

	mails, directives, err := s.processor.ProcessPending(s.cfg.ListenerProcessBatch, provider)
	s.log.Info("mail cycle done", "provider", provider, "fetched", fetchResult.Fetched, "stored", fetchResult.Stored, "processed", mails, "directives", directives)
	return err
}

// exportLatest writes the latest successful run once to
// OUTPUT_DIR/listener/<run>.xlsx.
func (s *Service) exportLatest() error {
	run, err := s.db.LatestRun()
	if err != nil || run == nil {
		return err
	}

	outputPath := filepath.Join(s.cfg.OutputDir, "listener", run.ID+".xlsx")
	if _, err := os.Stat(outputPath); err == nil {
		return nil
	}

	directives, err := s.db.ListDirectives(run.ID)
	if err != nil {
		return err
	}
	if err := pipeline.ExportDirectivesToXLSX(directives, outputPath); err != nil {
		return err
	}
	s.log.Info("run exported", "run_id", run.ID, "directives", len(directives), "path", outputPath)
	return nil
}
