package storage

import (
	"errors"
	"fmt"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"adregister/internal"
	"adregister/internal/directive"
	"adregister/internal/util"
)

func openTestDB(t *testing.T) *DB {
	t.Helper()
	db, err := Open(filepath.Join(t.TempDir(), "nested", "adregister.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	return db
}

func strp(v string) *string { return &v }

func TestRunLifecycle(t *testing.T) {
	db := openTestDB(t)

	run := internal.RunRow{ID: "run-1", SourceKind: internal.SourcePath, SourceRef: "register.xlsx", SourceHash: "abc", MatchTypeCert: "LS4", IgnoreInactive: true}
	require.NoError(t, db.InsertRun(run))

	got, err := db.GetRun("run-1")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, internal.RunStarted, got.Status)
	assert.True(t, got.IgnoreInactive)
	assert.Equal(t, "LS4", got.MatchTypeCert)
	assert.Nil(t, got.FinishedAt)

	latest, err := db.LatestRun()
	require.NoError(t, err)
	assert.Nil(t, latest, "unfinished runs are not the latest successful run")

	require.NoError(t, db.FinishRun("run-1", internal.RunSucceeded, 3, nil))
	latest, err = db.LatestRun()
	require.NoError(t, err)
	require.NotNil(t, latest)
	assert.Equal(t, 3, latest.DirectiveCount)
	assert.NotNil(t, latest.FinishedAt)

	require.NoError(t, db.InsertRun(internal.RunRow{ID: "run-2", SourceKind: internal.SourceBytes, SourceRef: "mail", SourceHash: "def"}))
	require.NoError(t, db.FinishRun("run-2", internal.RunFailed, 0, errors.New("row 8: invalid issue number 0")))
	failed, err := db.GetRun("run-2")
	require.NoError(t, err)
	require.NotNil(t, failed.Error)
	assert.Contains(t, *failed.Error, "row 8")

	runs, err := db.ListRuns(10)
	require.NoError(t, err)
	require.Len(t, runs, 2)
	assert.Equal(t, "run-2", runs[0].ID)

	assert.Error(t, db.FinishRun("missing", internal.RunSucceeded, 0, nil))

	none, err := db.GetRun("missing")
	require.NoError(t, err)
	assert.Nil(t, none)
}

func TestDirectivesRoundTripKeepsOrderAndAbsence(t *testing.T) {
	db := openTestDB(t)
	require.NoError(t, db.InsertRun(internal.RunRow{ID: "run-1", SourceKind: internal.SourceStream, SourceRef: "stdin", SourceHash: "h"}))

	glider := directive.TypeGlider
	first, err := directive.New("CASA AD/GEN/87", nil, false, directive.Fields{IssueDate: strp("2016-01-13"), TypeCertificate: strp("General AD-AWAs")})
	require.NoError(t, err)
	second, err := directive.New("GFA AD 0017", util.IntPtr(2), true, directive.Fields{
		IssueDate: strp("1998-09-17"), TypeCertificate: strp("Standard Cirrus"), Type: &glider, Description: strp("Bulkheads"),
	})
	require.NoError(t, err)

	require.NoError(t, db.InsertDirectives("run-1", []directive.Directive{first, second}))

	got, err := db.ListDirectives("run-1")
	require.NoError(t, err)
	assert.Equal(t, []directive.Directive{first, second}, got)

	empty, err := db.ListDirectives("other")
	require.NoError(t, err)
	assert.Empty(t, empty)
}

func TestMailLifecycle(t *testing.T) {
	db := openTestDB(t)

	msg := internal.FetchedMailMessage{Provider: "imap", MessageID: "<m1@example.org>", Subject: "Register", From: "gfa@example.org", ReceivedAt: "2026-01-01T00:00:00Z"}
	row, err := db.UpsertMail(msg, "hash-1", "/tmp/m1.eml")
	require.NoError(t, err)
	assert.Equal(t, internal.MailFetched, row.Status)

	msg.Subject = "Register (resent)"
	again, err := db.UpsertMail(msg, "hash-1", "/tmp/m1.eml")
	require.NoError(t, err)
	assert.Equal(t, row.ID, again.ID)
	assert.Equal(t, "Register (resent)", again.Subject)

	pending, err := db.ListMailsByStatus(internal.MailFetched, "", 10)
	require.NoError(t, err)
	require.Len(t, pending, 1)

	require.NoError(t, db.UpdateMailStatus(row.ID, internal.MailProcessed, strp("run-9")))
	done, err := db.MustMailByProviderMessageID("imap", "<m1@example.org>")
	require.NoError(t, err)
	assert.Equal(t, internal.MailProcessed, done.Status)
	require.NotNil(t, done.RunID)
	assert.Equal(t, "run-9", *done.RunID)

	_, err = db.MustMailByProviderMessageID("imap", "<missing>")
	assert.Error(t, err)
}

func TestListMailsByStatusFiltersProviderBeforeLimit(t *testing.T) {
	db := openTestDB(t)

	for i, provider := range []string{"gmail", "gmail", "gmail", "imap"} {
		msg := internal.FetchedMailMessage{
			Provider:   provider,
			MessageID:  fmt.Sprintf("<m%d@example.org>", i),
			ReceivedAt: fmt.Sprintf("2026-01-0%dT00:00:00Z", i+1),
		}
		_, err := db.UpsertMail(msg, fmt.Sprintf("hash-%d", i), "/tmp/m.eml")
		require.NoError(t, err)
	}

	imap, err := db.ListMailsByStatus(internal.MailFetched, "imap", 2)
	require.NoError(t, err)
	require.Len(t, imap, 1)
	assert.Equal(t, "<m3@example.org>", imap[0].MessageID)

	all, err := db.ListMailsByStatus(internal.MailFetched, "", 2)
	require.NoError(t, err)
	require.Len(t, all, 2)
	assert.Equal(t, "gmail", all[0].Provider)
}

func TestMetadata(t *testing.T) {
	db := openTestDB(t)

	v, err := db.GetMetadata("register.last_hash")
	require.NoError(t, err)
	assert.Nil(t, v)

	require.NoError(t, db.SetMetadata("register.last_hash", "a"))
	require.NoError(t, db.SetMetadata("register.last_hash", "b"))
	v, err = db.GetMetadata("register.last_hash")
	require.NoError(t, err)
	require.NotNil(t, v)
	assert.Equal(t, "b", *v)
}
