package gmail

import (
	"bytes"
	"context"
	"encoding/base64"
	"fmt"
	"net/mail"
	"strings"
	"time"

	"github.com/jhillyerd/enmime"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"
	"google.golang.org/api/gmail/v1"
	"google.golang.org/api/option"

	"adregister/internal"
	"adregister/internal/config"
)

const Provider = "gmail"

// registerQuery narrows listing to messages that can carry a register workbook.
const registerQuery = "has:attachment (filename:xlsx OR filename:xls OR filename:xlsm)"

type Connector struct {
	service *gmail.Service
}

func NewConnector(cfg config.Config) (*Connector, error) {
	for _, req := range []struct{ name, value string }{
		{"GMAIL_CLIENT_ID", cfg.GmailClientID},
		{"GMAIL_CLIENT_SECRET", cfg.GmailClientSecret},
		{"GMAIL_REFRESH_TOKEN", cfg.GmailRefreshToken},
	} {
		if err := cfg.Require(req.name, req.value); err != nil {
			return nil, err
		}
	}

	oauthCfg := &oauth2.Config{
		ClientID:     cfg.GmailClientID,
		ClientSecret: cfg.GmailClientSecret,
		Endpoint:     google.Endpoint,
		RedirectURL:  cfg.GmailRedirectURI,
		Scopes:       []string{gmail.GmailReadonlyScope},
	}

	tokenSource := oauthCfg.TokenSource(context.Background(), &oauth2.Token{RefreshToken: cfg.GmailRefreshToken})
	svc, err := gmail.NewService(context.Background(), option.WithTokenSource(tokenSource))
	if err != nil {
		return nil, err
	}

	return &Connector{service: svc}, nil
}

func (c *Connector) FetchInbox(label string, max int) ([]internal.FetchedMailMessage, error) {
	listCall := c.service.Users.Messages.List("me").Q(registerQuery)
	if label != "" {
		listCall = listCall.LabelIds(label)
	}
	if max > 0 {
		listCall = listCall.MaxResults(int64(max))
	}
	listResp, err := listCall.Do()
	if err != nil {
		return nil, err
	}

	out := make([]internal.FetchedMailMessage, 0, len(listResp.Messages))
	for _, msgRef := range listResp.Messages {
		if msgRef.Id == "" {
			continue
		}

		rawResp, err := c.service.Users.Messages.Get("me", msgRef.Id).Format("raw").Do()
		if err != nil {
			return nil, err
		}
		if rawResp.Raw == "" {
			continue
		}
		rawBytes, err := decodeBase64URL(rawResp.Raw)
		if err != nil {
			return nil, err
		}

		msg, err := fromRaw(msgRef.Id, rawBytes)
		if err != nil {
			return nil, err
		}
		if rawResp.InternalDate > 0 {
			msg.ReceivedAt = time.UnixMilli(rawResp.InternalDate).UTC().Format(time.RFC3339)
		}
		out = append(out, msg)
	}

	return out, nil
}

// fromRaw reads the headers the store keeps straight from the raw message.
func fromRaw(id string, raw []byte) (internal.FetchedMailMessage, error) {
	env, err := enmime.ReadEnvelope(bytes.NewReader(raw))
	if err != nil {
		return internal.FetchedMailMessage{}, fmt.Errorf("parse gmail message %s: %w", id, err)
	}

	received := time.Now().UTC().Format(time.RFC3339)
	if dateHeader := strings.TrimSpace(env.GetHeader("Date")); dateHeader != "" {
		if t, err := mail.ParseDate(dateHeader); err == nil {
			received = t.UTC().Format(time.RFC3339)
		}
	}

	messageID := strings.TrimSpace(env.GetHeader("Message-ID"))
	if messageID == "" {
		messageID = id
	}

	return internal.FetchedMailMessage{
		Provider:   Provider,
		MessageID:  messageID,
		Subject:    env.GetHeader("Subject"),
		From:       env.GetHeader("From"),
		ReceivedAt: received,
		Raw:        raw,
	}, nil
}

func decodeBase64URL(input string) ([]byte, error) {
	decoded, err := base64.RawURLEncoding.DecodeString(input)
	if err == nil {
		return decoded, nil
	}
	decoded, err = base64.URLEncoding.DecodeString(input)
	if err == nil {
		return decoded, nil
	}
	return nil, fmt.Errorf("decode gmail raw payload: %w", err)
}
