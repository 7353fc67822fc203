package mailer

import (
	"bytes"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/emersion/go-message/mail"
)

// DispatchHeader carries the idempotency key of a campaign send.
const DispatchHeader = "X-Outreach-Dispatch"

// Message is the content of one outbound email.
type Message struct {
	From      mail.Address
	To        mail.Address
	Subject   string
	HTML      string
	Text      string
	MessageID string // without angle brackets
	Dispatch  string
	Date      time.Time
}

// MessageIDFor derives a stable Message-ID from an idempotency key and the sender's domain,
// so a retried send of the same attempt carries the same id.
func MessageIDFor(key, fromAddress string) string {
	domain := "outreach.local"
	if i := strings.LastIndex(fromAddress, "@"); i >= 0 && i < len(fromAddress)-1 {
		domain = fromAddress[i+1:]
	}
	local := strings.NewReplacer(":", ".", " ", "", "<", "", ">", "").Replace(key)
	return fmt.Sprintf("%s@%s", local, domain)
}

// BuildMIME renders m as an RFC 5322 message with a multipart/alternative body.
func BuildMIME(m Message) ([]byte, error) {
	var h mail.Header
	if m.Date.IsZero() {
		m.Date = time.Now()
	}
	h.SetDate(m.Date)
	from := m.From
	to := m.To
	h.SetAddressList("From", []*mail.Address{&from})
	h.SetAddressList("To", []*mail.Address{&to})
	h.SetSubject(m.Subject)
	if m.MessageID != "" {
		h.SetMessageID(m.MessageID)
	}
	if m.Dispatch != "" {
		h.Set(DispatchHeader, m.Dispatch)
	}

	var buf bytes.Buffer
	tw, err := mail.CreateInlineWriter(&buf, h)
	if err != nil {
		return nil, fmt.Errorf("create mail writer: %w", err)
	}

	parts := []struct {
		contentType string
		body        string
	}{
		{"text/plain", m.Text},
		{"text/html", m.HTML},
	}
	for _, p := range parts {
		if p.body == "" {
			continue
		}
		var ph mail.InlineHeader
		ph.SetContentType(p.contentType, map[string]string{"charset": "utf-8"})
		ph.Set("Content-Transfer-Encoding", "quoted-printable")
		w, err := tw.CreatePart(ph)
		if err != nil {
			return nil, fmt.Errorf("create %s part: %w", p.contentType, err)
		}
		if _, err := io.WriteString(w, p.body); err != nil {
			return nil, err
		}
		if err := w.Close(); err != nil {
			return nil, err
		}
	}

	if err := tw.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
