package mailbox

import (
	"bytes"
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/emersion/go-imap"
	"github.com/emersion/go-imap/client"
	"github.com/emersion/go-message"
	"github.com/emersion/go-sasl"
	"github.com/emersion/go-smtp"
	"github.com/sirupsen/logrus"

	"water-order-bot/internal/config"
	"water-order-bot/internal/model"
)

const imapTimeout = 30 * time.Second

// IMAPMailbox searches the inbox over IMAP and sends over SMTP. Each call
// opens its own connection.
type IMAPMailbox struct {
	cfg  config.MailConfig
	log  logrus.FieldLogger
	dial func() (*client.Client, error)
	send func(addr string, a sasl.Client, from string, to []string, msg []byte) error
	now  func() time.Time
}

// NewIMAPMailbox creates an IMAP/SMTP mailbox
func NewIMAPMailbox(cfg config.MailConfig, log logrus.FieldLogger) *IMAPMailbox {
	m := &IMAPMailbox{cfg: cfg, log: log, now: time.Now}
	m.dial = func() (*client.Client, error) {
		return client.DialTLS(fmt.Sprintf("%s:%d", cfg.IMAPHost, cfg.IMAPPort), nil)
	}
	m.send = func(addr string, a sasl.Client, from string, to []string, msg []byte) error {
		return smtp.SendMail(addr, a, from, to, bytes.NewReader(msg))
	}
	return m
}

func (m *IMAPMailbox) from() string {
	if m.cfg.From != "" {
		return m.cfg.From
	}
	return m.cfg.IMAPUser
}

// Send submits the message over SMTP with PLAIN auth and STARTTLS.
func (m *IMAPMailbox) Send(ctx context.Context, to, subject, body string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}

	raw, id, err := composeMessage(m.from(), to, subject, body, m.now())
	if err != nil {
		return "", err
	}

	addr := fmt.Sprintf("%s:%d", m.cfg.SMTPHost, m.cfg.SMTPPort)
	auth := sasl.NewPlainClient("", m.cfg.IMAPUser, m.cfg.IMAPPassword)
	if err := m.send(addr, auth, m.from(), []string{to}, raw); err != nil {
		return "", fmt.Errorf("failed to send email: %w", err)
	}

	m.log.WithFields(logrus.Fields{"to": to, "message_id": id}).Info("Email sent")
	return id, nil
}

// Search runs an IMAP SEARCH on INBOX. SINCE has day granularity, like the
// Gmail after: operator.
func (m *IMAPMailbox) Search(ctx context.Context, q model.SearchQuery) ([]model.Email, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	c, err := m.dial()
	if err != nil {
		return nil, fmt.Errorf("failed to connect to IMAP server: %w", err)
	}
	defer c.Logout()
	c.Timeout = imapTimeout

	if err := c.Login(m.cfg.IMAPUser, m.cfg.IMAPPassword); err != nil {
		return nil, fmt.Errorf("failed to login to IMAP server: %w", err)
	}
	if _, err := c.Select("INBOX", true); err != nil {
		return nil, fmt.Errorf("failed to select INBOX: %w", err)
	}

	criteria := imap.NewSearchCriteria()
	if q.From != "" {
		criteria.Header.Add("From", q.From)
	}
	if q.SubjectContains != "" {
		criteria.Header.Add("Subject", q.SubjectContains)
	}
	if !q.After.IsZero() {
		y, mo, d := q.After.UTC().Date()
		criteria.Since = time.Date(y, mo, d, 0, 0, 0, 0, time.UTC)
	}

	uids, err := c.UidSearch(criteria)
	if err != nil {
		return nil, fmt.Errorf("failed to search messages: %w", err)
	}
	if len(uids) == 0 {
		return []model.Email{}, nil
	}

	// Higher UIDs arrived later; only the newest candidates are fetched.
	sort.Slice(uids, func(i, j int) bool { return uids[i] > uids[j] })
	if limit := limitOf(q); len(uids) > limit {
		uids = uids[:limit]
	}

	seqset := new(imap.SeqSet)
	seqset.AddNum(uids...)

	section := &imap.BodySectionName{Peek: true}
	items := []imap.FetchItem{imap.FetchEnvelope, imap.FetchInternalDate, imap.FetchUid, section.FetchItem()}

	messages := make(chan *imap.Message, len(uids))
	done := make(chan error, 1)
	go func() {
		done <- c.UidFetch(seqset, items, messages)
	}()

	emails := make([]model.Email, 0, len(uids))
	for msg := range messages {
		email, err := parseIMAPMessage(msg, section)
		if err != nil {
			m.log.WithError(err).WithField("uid", msg.Uid).Warn("Failed to parse IMAP message")
			continue
		}
		emails = append(emails, email)
	}
	if err := <-done; err != nil {
		return nil, fmt.Errorf("failed to fetch messages: %w", err)
	}

	sort.SliceStable(emails, func(i, j int) bool { return emails[i].Date.After(emails[j].Date) })
	return emails, nil
}

func parseIMAPMessage(msg *imap.Message, section *imap.BodySectionName) (model.Email, error) {
	email := model.Email{
		ID:      fmt.Sprintf("%d", msg.Uid),
		Subject: "No subject",
		From:    "Unknown sender",
		Date:    msg.InternalDate.UTC(),
	}

	if env := msg.Envelope; env != nil {
		if env.Subject != "" {
			email.Subject = env.Subject
		}
		if len(env.From) > 0 {
			email.From = env.From[0].Address()
		}
		if !env.Date.IsZero() {
			email.DateHeader = env.Date.Format(time.RFC1123Z)
		}
	}

	r := msg.GetBody(section)
	if r == nil {
		email.Body = NoContent
		return email, nil
	}
	entity, err := message.Read(r)
	if err != nil && entity == nil {
		return email, fmt.Errorf("failed to read message: %w", err)
	}
	body, err := entityBody(entity)
	if err != nil {
		return email, err
	}
	if body == "" {
		body = NoContent
	}
	email.Body = body
	return email, nil
}
