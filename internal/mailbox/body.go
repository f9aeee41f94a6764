package mailbox

import (
	"bytes"
	"encoding/base64"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/emersion/go-message"
	_ "github.com/emersion/go-message/charset"
	"github.com/emersion/go-message/mail"
	gmail "google.golang.org/api/gmail/v1"
)

// NoContent is the body reported for messages without a text part.
const NoContent = "No content"

// gmailBody returns the text of a Gmail payload, preferring text/plain and
// falling back to text/html rendered as text.
func gmailBody(part *gmail.MessagePart) string {
	if part == nil {
		return ""
	}
	if part.Body != nil && part.Body.Data != "" {
		data, err := decodeBase64URL(part.Body.Data)
		if err != nil {
			return ""
		}
		if isHTML(part.MimeType) {
			return htmlToText(string(data))
		}
		return string(data)
	}

	var html string
	for _, p := range part.Parts {
		hasData := p.Body != nil && p.Body.Data != ""
		switch {
		case p.MimeType == "text/plain" && hasData:
			if data, err := decodeBase64URL(p.Body.Data); err == nil {
				return string(data)
			}
		case isHTML(p.MimeType) && hasData && html == "":
			if data, err := decodeBase64URL(p.Body.Data); err == nil {
				html = string(data)
			}
		case len(p.Parts) > 0:
			if body := gmailBody(p); body != "" {
				return body
			}
		}
	}
	if html != "" {
		return htmlToText(html)
	}
	return ""
}

func decodeBase64URL(s string) ([]byte, error) {
	data, err := base64.URLEncoding.DecodeString(s)
	if err != nil {
		data, err = base64.RawURLEncoding.DecodeString(strings.TrimRight(s, "="))
	}
	if err != nil {
		return nil, fmt.Errorf("failed to decode body data: %w", err)
	}
	return data, nil
}

// entityBody walks a MIME entity and returns its text the same way
// gmailBody does.
func entityBody(e *message.Entity) (string, error) {
	plain, html, err := collectText(e)
	if err != nil {
		return "", err
	}
	if plain != "" {
		return plain, nil
	}
	if html != "" {
		return htmlToText(html), nil
	}
	return "", nil
}

func collectText(e *message.Entity) (plain, html string, err error) {
	if mr := e.MultipartReader(); mr != nil {
		for {
			p, err := mr.NextPart()
			if err == io.EOF {
				break
			}
			if err != nil {
				return plain, html, fmt.Errorf("failed to read part: %w", err)
			}
			pp, ph, err := collectText(p)
			if err != nil {
				return plain, html, err
			}
			if plain == "" {
				plain = pp
			}
			if html == "" {
				html = ph
			}
		}
		return plain, html, nil
	}

	mediaType, _, _ := e.Header.ContentType()
	if mediaType == "" {
		mediaType = "text/plain"
	}
	if mediaType != "text/plain" && !isHTML(mediaType) {
		return "", "", nil
	}

	content, err := io.ReadAll(e.Body)
	if err != nil {
		return "", "", fmt.Errorf("failed to read part body: %w", err)
	}
	if isHTML(mediaType) {
		return "", string(content), nil
	}
	return string(content), "", nil
}

func isHTML(mimeType string) bool {
	return strings.EqualFold(mimeType, "text/html")
}

// htmlToText renders an HTML body as plain text with one line per block.
func htmlToText(html string) string {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return strings.TrimSpace(html)
	}
	doc.Find("script, style, head").Remove()
	doc.Find("br").ReplaceWithHtml("\n")
	doc.Find("p, div, li, tr, h1, h2, h3, h4, h5, h6, blockquote").AppendHtml("\n")

	var lines []string
	for _, line := range strings.Split(doc.Text(), "\n") {
		line = strings.Join(strings.Fields(line), " ")
		if line != "" {
			lines = append(lines, line)
		}
	}
	return strings.Join(lines, "\n")
}

// composeMessage builds an RFC 5322 plain-text message and returns it with
// its generated Message-Id.
func composeMessage(from, to, subject, body string, now time.Time) ([]byte, string, error) {
	var h mail.Header
	h.SetDate(now)
	if from != "" {
		h.SetAddressList("From", []*mail.Address{{Address: from}})
	}
	h.SetAddressList("To", []*mail.Address{{Address: to}})
	h.SetSubject(subject)
	if err := h.GenerateMessageID(); err != nil {
		return nil, "", fmt.Errorf("failed to generate message id: %w", err)
	}
	h.SetContentType("text/plain", map[string]string{"charset": "utf-8"})

	var buf bytes.Buffer
	w, err := mail.CreateSingleInlineWriter(&buf, h)
	if err != nil {
		return nil, "", fmt.Errorf("failed to create message writer: %w", err)
	}
	if _, err := io.WriteString(w, body); err != nil {
		return nil, "", fmt.Errorf("failed to write message body: %w", err)
	}
	if err := w.Close(); err != nil {
		return nil, "", fmt.Errorf("failed to finish message: %w", err)
	}

	id, _ := h.MessageID()
	return buf.Bytes(), id, nil
}
