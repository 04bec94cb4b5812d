package storage

import (
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"

	"adregister/internal"
	"adregister/internal/directive"
)

type DB struct {
	conn *sql.DB
}

func Open(path string) (*DB, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}

	conn, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}

	if _, err := conn.Exec(`PRAGMA journal_mode = WAL;`); err != nil {
		_ = conn.Close()
		return nil, err
	}

	db := &DB{conn: conn}
	if err := db.init(); err != nil {
		_ = conn.Close()
		return nil, err
	}

	return db, nil
}

func (d *DB) Close() error {
	return d.conn.Close()
}

func (d *DB) init() error {
	schema := `
CREATE TABLE IF NOT EXISTS runs (
  id TEXT PRIMARY KEY,
  sourceKind TEXT NOT NULL,
  sourceRef TEXT NOT NULL,
  sourceHash TEXT NOT NULL,
  matchTypeCert TEXT NOT NULL DEFAULT '',
  ignoreInactive INTEGER NOT NULL DEFAULT 0,
  status TEXT NOT NULL,
  directiveCount INTEGER NOT NULL DEFAULT 0,
  error TEXT,
  startedAt TEXT NOT NULL,
  finishedAt TEXT
);
CREATE INDEX IF NOT EXISTS idx_runs_startedAt ON runs(startedAt);

CREATE TABLE IF NOT EXISTS directives (
  id INTEGER PRIMARY KEY AUTOINCREMENT,
  runId TEXT NOT NULL,
  position INTEGER NOT NULL,
  documentReference TEXT NOT NULL,
  issueNumber INTEGER,
  active INTEGER NOT NULL,
  issueDate TEXT,
  typeCertificate TEXT,
  directiveType TEXT,
  description TEXT,
  UNIQUE(runId, position),
  FOREIGN KEY(runId) REFERENCES runs(id)
);
CREATE INDEX IF NOT EXISTS idx_directives_typeCertificate ON directives(typeCertificate);

CREATE TABLE IF NOT EXISTS register_mails (
  id INTEGER PRIMARY KEY AUTOINCREMENT,
  provider TEXT NOT NULL,
  messageId TEXT NOT NULL,
  subject TEXT,
  sender TEXT,
  receivedAt TEXT,
  hash TEXT NOT NULL,
  status TEXT NOT NULL DEFAULT 'fetched',
  rawRef TEXT NOT NULL,
  runId TEXT,
  createdAt TEXT NOT NULL DEFAULT CURRENT_TIMESTAMP,
  updatedAt TEXT NOT NULL DEFAULT CURRENT_TIMESTAMP,
  UNIQUE(provider, messageId)
);

CREATE TABLE IF NOT EXISTS metadata (
  key TEXT PRIMARY KEY,
  value TEXT NOT NULL,
  updatedAt TEXT NOT NULL DEFAULT CURRENT_TIMESTAMP
);
`

	_, err := d.conn.Exec(schema)
	return err
}

func now() string {
	return time.Now().UTC().Format(time.RFC3339Nano)
}

func (d *DB) InsertRun(run internal.RunRow) error {
	if run.StartedAt == "" {
		run.StartedAt = now()
	}
	if run.Status == "" {
		run.Status = internal.RunStarted
	}
	_, err := d.conn.Exec(`
INSERT INTO runs (id, sourceKind, sourceRef, sourceHash, matchTypeCert, ignoreInactive, status, startedAt)
VALUES (?, ?, ?, ?, ?, ?, ?, ?)
`, run.ID, string(run.SourceKind), run.SourceRef, run.SourceHash, run.MatchTypeCert, run.IgnoreInactive, string(run.Status), run.StartedAt)
	return err
}

// FinishRun records the outcome of a run. runErr is stored as text when set.
func (d *DB) FinishRun(runID string, status internal.RunStatus, count int, runErr error) error {
	var errText *string
	if runErr != nil {
		s := runErr.Error()
		errText = &s
	}
	res, err := d.conn.Exec(`
UPDATE runs SET status = ?, directiveCount = ?, error = ?, finishedAt = ? WHERE id = ?
`, string(status), count, errText, now(), runID)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("run not found: %s", runID)
	}
	return nil
}

const runColumns = `id, sourceKind, sourceRef, sourceHash, matchTypeCert, ignoreInactive, status, directiveCount, error, startedAt, finishedAt`

type scanner interface {
	Scan(dest ...any) error
}

func scanRun(s scanner) (internal.RunRow, error) {
	var row internal.RunRow
	var kind, status string
	err := s.Scan(&row.ID, &kind, &row.SourceRef, &row.SourceHash, &row.MatchTypeCert, &row.IgnoreInactive,
		&status, &row.DirectiveCount, &row.Error, &row.StartedAt, &row.FinishedAt)
	row.SourceKind = internal.SourceKind(kind)
	row.Status = internal.RunStatus(status)
	return row, err
}

func (d *DB) GetRun(runID string) (*internal.RunRow, error) {
	row, err := scanRun(d.conn.QueryRow(`SELECT `+runColumns+` FROM runs WHERE id = ?`, runID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &row, nil
}

// LatestRun returns the most recent successful run, or nil when none exists.
func (d *DB) LatestRun() (*internal.RunRow, error) {
	row, err := scanRun(d.conn.QueryRow(`
SELECT `+runColumns+` FROM runs WHERE status = ? ORDER BY startedAt DESC, rowid DESC LIMIT 1
`, string(internal.RunSucceeded)))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &row, nil
}

func (d *DB) ListRuns(limit int) ([]internal.RunRow, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := d.conn.Query(`SELECT `+runColumns+` FROM runs ORDER BY startedAt DESC, rowid DESC LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []internal.RunRow
	for rows.Next() {
		row, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, row)
	}
	return out, rows.Err()
}

// InsertDirectives stores directives for a run, keeping their order.
func (d *DB) InsertDirectives(runID string, directives []directive.Directive) error {
	tx, err := d.conn.Begin()
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	stmt, err := tx.Prepare(`
INSERT INTO directives (
  runId, position, documentReference, issueNumber, active, issueDate, typeCertificate, directiveType, description
) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
`)
	if err != nil {
		return err
	}
	defer stmt.Close()

	for i, dir := range directives {
		var typ *string
		if dir.Type != nil {
			s := string(*dir.Type)
			typ = &s
		}
		if _, err := stmt.Exec(
			runID, i, dir.DocumentReference, dir.IssueNumber, dir.Active,
			dir.IssueDate, dir.TypeCertificate, typ, dir.Description,
		); err != nil {
			return err
		}
	}

	return tx.Commit()
}

func (d *DB) ListDirectives(runID string) ([]directive.Directive, error) {
	rows, err := d.conn.Query(`
SELECT documentReference, issueNumber, active, issueDate, typeCertificate, directiveType, description
FROM directives WHERE runId = ? ORDER BY position ASC
`, runID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := []directive.Directive{}
	for rows.Next() {
		var dir directive.Directive
		var typ *string
		if err := rows.Scan(&dir.DocumentReference, &dir.IssueNumber, &dir.Active,
			&dir.IssueDate, &dir.TypeCertificate, &typ, &dir.Description); err != nil {
			return nil, err
		}
		if typ != nil {
			t := directive.Type(*typ)
			dir.Type = &t
		}
		out = append(out, dir)
	}
	return out, rows.Err()
}

func (d *DB) UpsertMail(msg internal.FetchedMailMessage, hash, rawRef string) (internal.MailRow, error) {
	_, err := d.conn.Exec(`
INSERT INTO register_mails (provider, messageId, subject, sender, receivedAt, hash, status, rawRef)
VALUES (?, ?, ?, ?, ?, ?, ?, ?)
ON CONFLICT(provider, messageId) DO UPDATE SET
  subject=excluded.subject,
  sender=excluded.sender,
  receivedAt=excluded.receivedAt,
  hash=excluded.hash,
  rawRef=excluded.rawRef,
  updatedAt=CURRENT_TIMESTAMP
`, msg.Provider, msg.MessageID, msg.Subject, msg.From, msg.ReceivedAt, hash, string(internal.MailFetched), rawRef)
	if err != nil {
		return internal.MailRow{}, err
	}

	row, err := d.GetMailByProviderMessageID(msg.Provider, msg.MessageID)
	if err != nil {
		return internal.MailRow{}, err
	}
	if row == nil {
		return internal.MailRow{}, errors.New("failed to upsert mail")
	}
	return *row, nil
}

const mailColumns = `id, provider, messageId, subject, sender, receivedAt, hash, status, rawRef, runId`

func scanMail(s scanner) (internal.MailRow, error) {
	var row internal.MailRow
	var status string
	err := s.Scan(&row.ID, &row.Provider, &row.MessageID, &row.Subject, &row.Sender, &row.ReceivedAt,
		&row.Hash, &status, &row.RawRef, &row.RunID)
	row.Status = internal.MailStatus(status)
	return row, err
}

func (d *DB) GetMailByProviderMessageID(provider, messageID string) (*internal.MailRow, error) {
	row, err := scanMail(d.conn.QueryRow(`
SELECT `+mailColumns+` FROM register_mails WHERE provider = ? AND messageId = ?
`, provider, messageID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &row, nil
}

func (d *DB) MustMailByProviderMessageID(provider, messageID string) (internal.MailRow, error) {
	row, err := d.GetMailByProviderMessageID(provider, messageID)
	if err != nil {
		return internal.MailRow{}, err
	}
	if row == nil {
		return internal.MailRow{}, fmt.Errorf("mail not found: provider=%s messageId=%s", provider, messageID)
	}
	return *row, nil
}

// ListMailsByStatus returns mails in status, oldest first. An empty provider
// matches every provider.
func (d *DB) ListMailsByStatus(status internal.MailStatus, provider string, limit int) ([]internal.MailRow, error) {
	rows, err := d.conn.Query(`
SELECT `+mailColumns+` FROM register_mails
WHERE status = ? AND (? = '' OR provider = ?)
ORDER BY receivedAt ASC LIMIT ?
`, string(status), provider, provider, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []internal.MailRow
	for rows.Next() {
		row, err := scanMail(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, row)
	}
	return out, rows.Err()
}

func (d *DB) UpdateMailStatus(mailID int, status internal.MailStatus, runID *string) error {
	_, err := d.conn.Exec(`UPDATE register_mails SET status = ?, runId = ?, updatedAt = CURRENT_TIMESTAMP WHERE id = ?`, string(status), runID, mailID)
	return err
}

func (d *DB) SetMetadata(key, value string) error {
	_, err := d.conn.Exec(`
INSERT INTO metadata (key, value) VALUES (?, ?)
ON CONFLICT(key) DO UPDATE SET value = excluded.value, updatedAt = CURRENT_TIMESTAMP
`, key, value)
	return err
}

func (d *DB) GetMetadata(key string) (*string, error) {
	var value string
	err := d.conn.QueryRow(`SELECT value FROM metadata WHERE key = ?`, key).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &value, nil
}
