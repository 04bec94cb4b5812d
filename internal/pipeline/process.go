package pipeline

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"log/slog"
	"os"
	"time"

	"github.com/google/uuid"

	"adregister/internal"
	"adregister/internal/config"
	"adregister/internal/directive"
	"adregister/internal/logging"
	"adregister/internal/source"
	"adregister/internal/storage"
	"adregister/internal/util"
)

type ProcessingService struct {
	db  *storage.DB
	cfg config.Config
	log *slog.Logger
}

func NewProcessingService(db *storage.DB, cfg config.Config) *ProcessingService {
	return &ProcessingService{db: db, cfg: cfg, log: logging.WithFields("component", "pipeline")}
}

type ImportResult struct {
	RunID      string
	SourceHash string
	Directives int
}

type MailResult struct {
	MailID     int
	RunID      string
	Directives int
	Skipped    bool
}

// DefaultQuery is the query configured through MATCH_TYPE_CERT and IGNORE_INACTIVE.
func (s *ProcessingService) DefaultQuery() Query {
	return Query{MatchTypeCertificate: s.cfg.MatchTypeCert, IgnoreInactive: s.cfg.IgnoreInactive}
}

// Import reads src, extracts its directives and stores them as a new run.
// Sources that cannot be read leave no run behind; extraction failures are
// recorded as failed runs.
func (s *ProcessingService) Import(src source.Source, q Query) (ImportResult, error) {
	blob, err := source.Read(src, s.cfg.SourceMaxBytes)
	if err != nil {
		return ImportResult{}, err
	}
	return s.ImportBytes(src.Kind(), src.Ref(), blob, q)
}

func (s *ProcessingService) ImportBytes(kind internal.SourceKind, ref string, blob []byte, q Query) (ImportResult, error) {
	start := time.Now()
	result := ImportResult{RunID: uuid.NewString(), SourceHash: ContentHash(blob)}

	run := internal.RunRow{
		ID:             result.RunID,
		SourceKind:     kind,
		SourceRef:      ref,
		SourceHash:     result.SourceHash,
		MatchTypeCert:  q.MatchTypeCertificate,
		IgnoreInactive: q.IgnoreInactive,
	}
	if err := s.db.InsertRun(run); err != nil {
		return ImportResult{}, err
	}
	log := s.log.With("run_id", result.RunID, "source_kind", kind, "source_ref", ref)

	directives, err := extractBlob(ref, blob, q)
	if err == nil {
		err = s.db.InsertDirectives(result.RunID, directives)
	}
	if err != nil {
		if finishErr := s.db.FinishRun(result.RunID, internal.RunFailed, 0, err); finishErr != nil {
			log.Error("record failed run", "error", finishErr)
		}
		log.Warn("import failed", "error", err)
		return result, err
	}

	result.Directives = len(directives)
	if unknown := unknownTypes(directives); len(unknown) > 0 {
		log.Warn("unrecognised directive type codes", "codes", unknown)
	}
	if err := s.db.FinishRun(result.RunID, internal.RunSucceeded, result.Directives, nil); err != nil {
		return result, err
	}
	log.Info("register imported", "directives", result.Directives, "duration_ms", time.Since(start).Milliseconds())
	return result, nil
}

func (s *ProcessingService) ProcessByProviderMessageID(provider, messageID string) (MailResult, error) {
	mail, err := s.db.MustMailByProviderMessageID(provider, messageID)
	if err != nil {
		return MailResult{}, err
	}
	return s.ProcessMail(mail)
}

// ProcessPending imports fetched mails, oldest first. It returns the number
// of mails handled and directives stored before any error.
func (s *ProcessingService) ProcessPending(limit int, provider string) (int, int, error) {
	pending, err := s.db.ListMailsByStatus(internal.MailFetched, provider, limit)
	if err != nil {
		return 0, 0, err
	}
	processedMails := 0
	processedDirectives := 0
	for _, mail := range pending {
		res, err := s.ProcessMail(mail)
		if err != nil {
			return processedMails, processedDirectives, err
		}
		processedMails++
		processedDirectives += res.Directives
	}
	return processedMails, processedDirectives, nil
}

// ProcessMail imports the spreadsheet attached to a stored mail. Mails with
// no spreadsheet attachment are marked skipped.
func (s *ProcessingService) ProcessMail(mail internal.MailRow) (MailResult, error) {
	result := MailResult{MailID: mail.ID}
	raw, err := os.ReadFile(mail.RawRef)
	if err != nil {
		_ = s.db.UpdateMailStatus(mail.ID, internal.MailFailed, nil)
		return result, err
	}

	src, _, err := source.FromMIME(raw)
	if errors.Is(err, internal.ErrNoSource) {
		s.log.Info("mail has no register attachment", "mail_id", mail.ID, "subject", mail.Subject)
		result.Skipped = true
		return result, s.db.UpdateMailStatus(mail.ID, internal.MailSkipped, nil)
	}
	if err != nil {
		_ = s.db.UpdateMailStatus(mail.ID, internal.MailFailed, nil)
		return result, err
	}

	res, err := s.Import(src, s.DefaultQuery())
	result.RunID = res.RunID
	if err != nil {
		_ = s.db.UpdateMailStatus(mail.ID, internal.MailFailed, util.NonEmpty(res.RunID))
		return result, err
	}
	result.Directives = res.Directives
	return result, s.db.UpdateMailStatus(mail.ID, internal.MailProcessed, &res.RunID)
}

// unknownTypes lists the distinct type codes outside the known set, in
// first-seen order.
func unknownTypes(directives []directive.Directive) []string {
	var out []string
	seen := map[directive.Type]struct{}{}
	for _, d := range directives {
		if d.Type == nil || d.Type.Known() {
			continue
		}
		if _, ok := seen[*d.Type]; ok {
			continue
		}
		seen[*d.Type] = struct{}{}
		out = append(out, string(*d.Type))
	}
	return out
}

// ContentHash is the hex sha256 of a register blob.
func ContentHash(blob []byte) string {
	sum := sha256.Sum256(blob)
	return hex.EncodeToString(sum[:])
}
