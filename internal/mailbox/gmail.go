package mailbox

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"net/http"
	"sort"
	"time"

	backoff "github.com/cenkalti/backoff/v4"
	"github.com/sirupsen/logrus"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"
	gmail "google.golang.org/api/gmail/v1"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"

	"water-order-bot/internal/config"
	"water-order-bot/internal/model"
)

// Scopes requested for the Gmail refresh token.
var Scopes = []string{gmail.GmailSendScope, gmail.GmailReadonlyScope}

// GmailMailbox implements Mailbox using the Gmail API
type GmailMailbox struct {
	service      *gmail.Service
	userEmail    string
	log          logrus.FieldLogger
	buildBackoff func() backoff.BackOff
	now          func() time.Time
}

// OAuthConfig returns the OAuth2 client configuration for cfg.
func OAuthConfig(cfg config.GmailConfig) *oauth2.Config {
	return &oauth2.Config{
		ClientID:     cfg.ClientID,
		ClientSecret: cfg.ClientSecret,
		Scopes:       Scopes,
		Endpoint:     google.Endpoint,
	}
}

// NewGmailMailbox creates a Gmail API mailbox. Without extra client options
// it authenticates with the configured refresh token.
func NewGmailMailbox(ctx context.Context, cfg config.GmailConfig, log logrus.FieldLogger, opts ...option.ClientOption) (*GmailMailbox, error) {
	if len(opts) == 0 {
		tokenSource := OAuthConfig(cfg).TokenSource(ctx, &oauth2.Token{RefreshToken: cfg.RefreshToken})
		opts = []option.ClientOption{option.WithTokenSource(tokenSource)}
	}

	service, err := gmail.NewService(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create Gmail service: %w", err)
	}

	userEmail := cfg.UserEmail
	if userEmail == "" {
		userEmail = "me"
	}

	return &GmailMailbox{
		service:   service,
		userEmail: userEmail,
		log:       log,
		buildBackoff: func() backoff.BackOff {
			b := backoff.NewExponentialBackOff()
			b.InitialInterval = time.Second
			b.MaxElapsedTime = 30 * time.Second
			return backoff.WithMaxRetries(b, 2)
		},
		now: time.Now,
	}, nil
}

// Send sends a plain-text message. Rate limit and quota errors are retried
// with exponential backoff; other errors fail immediately.
func (m *GmailMailbox) Send(ctx context.Context, to, subject, body string) (string, error) {
	raw, _, err := composeMessage("", to, subject, body, m.now())
	if err != nil {
		return "", err
	}
	msg := &gmail.Message{Raw: base64.URLEncoding.EncodeToString(raw)}

	var sent *gmail.Message
	attempt := 0
	op := func() error {
		attempt++
		res, err := m.service.Users.Messages.Send(m.userEmail, msg).Context(ctx).Do()
		if err == nil {
			sent = res
			return nil
		}
		if !isRateLimited(err) {
			return backoff.Permanent(err)
		}
		m.log.WithError(err).WithField("attempt", attempt).Warn("Gmail rate limited, retrying send")
		return err
	}

	if err := backoff.Retry(op, backoff.WithContext(m.buildBackoff(), ctx)); err != nil {
		return "", fmt.Errorf("failed to send email: %w", err)
	}

	m.log.WithFields(logrus.Fields{"to": to, "message_id": sent.Id}).Info("Email sent")
	return sent.Id, nil
}

// Search lists matching messages, fetches each in full and returns them
// newest first by internal date.
func (m *GmailMailbox) Search(ctx context.Context, q model.SearchQuery) ([]model.Email, error) {
	res, err := m.service.Users.Messages.List(m.userEmail).
		Q(GmailQuery(q)).
		MaxResults(int64(limitOf(q))).
		Context(ctx).
		Do()
	if err != nil {
		return nil, fmt.Errorf("failed to list messages: %w", err)
	}

	emails := make([]model.Email, 0, len(res.Messages))
	for _, ref := range res.Messages {
		msg, err := m.service.Users.Messages.Get(m.userEmail, ref.Id).Format("full").Context(ctx).Do()
		if err != nil {
			return nil, fmt.Errorf("failed to get message %s: %w", ref.Id, err)
		}
		emails = append(emails, parseGmailMessage(msg))
	}
	sort.SliceStable(emails, func(i, j int) bool {
		return emails[i].Date.After(emails[j].Date)
	})
	return emails, nil
}

// Profile returns the address of the authenticated account.
func (m *GmailMailbox) Profile(ctx context.Context) (string, error) {
	p, err := m.service.Users.GetProfile(m.userEmail).Context(ctx).Do()
	if err != nil {
		return "", fmt.Errorf("failed to get Gmail profile: %w", err)
	}
	return p.EmailAddress, nil
}

func parseGmailMessage(msg *gmail.Message) model.Email {
	email := model.Email{
		ID:      msg.Id,
		Subject: "No subject",
		From:    "Unknown sender",
	}
	if msg.InternalDate > 0 {
		email.Date = time.UnixMilli(msg.InternalDate).UTC()
	}

	if msg.Payload != nil {
		for _, h := range msg.Payload.Headers {
			switch h.Name {
			case "Subject":
				email.Subject = h.Value
			case "From":
				email.From = h.Value
			case "Date":
				email.DateHeader = h.Value
			}
		}
	}

	email.Body = gmailBody(msg.Payload)
	if email.Body == "" {
		email.Body = NoContent
	}
	return email
}

func isRateLimited(err error) bool {
	var gerr *googleapi.Error
	if errors.As(err, &gerr) {
		if gerr.Code == http.StatusTooManyRequests {
			return true
		}
		for _, item := range gerr.Errors {
			switch item.Reason {
			case "rateLimitExceeded", "userRateLimitExceeded", "quotaExceeded":
				return true
			}
		}
	}
	return false
}
