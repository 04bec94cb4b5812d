package internal

type SourceKind string

const (
	SourcePath   SourceKind = "path"
	SourceStream SourceKind = "stream"
	SourceBytes  SourceKind = "bytes"
)

type RunStatus string

const (
	RunStarted   RunStatus = "started"
	RunSucceeded RunStatus = "succeeded"
	RunFailed    RunStatus = "failed"
)

type MailStatus string

const (
	MailFetched   MailStatus = "fetched"
	MailProcessed MailStatus = "processed"
	MailSkipped   MailStatus = "skipped"
	MailFailed    MailStatus = "failed"
)

type RunRow struct {
	ID             string
	SourceKind     SourceKind
	SourceRef      string
	SourceHash     string
	MatchTypeCert  string
	IgnoreInactive bool
	Status         RunStatus
	DirectiveCount int
	Error          *string
	StartedAt      string
	FinishedAt     *string
}

type MailRow struct {
	ID         int
	Provider   string
	MessageID  string
	Subject    string
	Sender     string
	ReceivedAt string
	Hash       string
	Status     MailStatus
	RawRef     string
	RunID      *string
}

type FetchedMailMessage struct {
	Provider   string
	MessageID  string
	Subject    string
	From       string
	ReceivedAt string
	Raw        []byte
}
