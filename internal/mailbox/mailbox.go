// Package mailbox sends order emails and searches the inbox for replies.
package mailbox

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/sirupsen/logrus"

	"water-order-bot/internal/config"
	"water-order-bot/internal/model"
)

// MaxSearchResults bounds the number of messages a search returns.
const MaxSearchResults = 5

// ErrNotConfigured is returned when mail credentials are missing.
var ErrNotConfigured = errors.New("mailbox not configured")

// Mailbox sends plain-text messages and searches received ones.
type Mailbox interface {
	// Send delivers a plain-text message and returns its message id.
	Send(ctx context.Context, to, subject, body string) (string, error)
	// Search returns matching messages, newest first. No match is an empty
	// slice, not an error.
	Search(ctx context.Context, q model.SearchQuery) ([]model.Email, error)
}

// New builds the mailbox selected by configuration. Missing credentials
// yield an Unconfigured mailbox so that the rest of the process still runs.
func New(ctx context.Context, gmailCfg config.GmailConfig, mailCfg config.MailConfig, log logrus.FieldLogger) (Mailbox, error) {
	if gmailCfg.UseIMAP {
		if !mailCfg.HasCredentials() {
			log.Warn("IMAP credentials not configured; ordering and reply checks are disabled")
			return Unconfigured{Reason: "set MAIL_IMAP_USER and MAIL_IMAP_PASSWORD"}, nil
		}
		return NewIMAPMailbox(mailCfg, log), nil
	}

	if !gmailCfg.HasCredentials() {
		log.Warn("Gmail credentials not configured; ordering and reply checks are disabled")
		return Unconfigured{Reason: "set GMAIL_CLIENT_ID, GMAIL_CLIENT_SECRET and GMAIL_REFRESH_TOKEN"}, nil
	}
	return NewGmailMailbox(ctx, gmailCfg, log)
}

// Unconfigured is a Mailbox that fails every call with ErrNotConfigured.
type Unconfigured struct {
	Reason string
}

func (u Unconfigured) Send(context.Context, string, string, string) (string, error) {
	return "", u.err()
}

func (u Unconfigured) Search(context.Context, model.SearchQuery) ([]model.Email, error) {
	return nil, u.err()
}

func (u Unconfigured) err() error {
	if u.Reason == "" {
		return ErrNotConfigured
	}
	return fmt.Errorf("%w: %s", ErrNotConfigured, u.Reason)
}

// GmailQuery renders q in Gmail search syntax. The after: operator only
// has day granularity.
func GmailQuery(q model.SearchQuery) string {
	var parts []string
	if q.From != "" {
		parts = append(parts, "from:"+q.From)
	}
	if q.SubjectContains != "" {
		parts = append(parts, fmt.Sprintf("subject:%q", q.SubjectContains))
	}
	if !q.After.IsZero() {
		parts = append(parts, "after:"+q.After.UTC().Format("2006/01/02"))
	}
	return strings.Join(parts, " ")
}

func limitOf(q model.SearchQuery) int {
	if q.Limit <= 0 || q.Limit > MaxSearchResults {
		return MaxSearchResults
	}
	return q.Limit
}
