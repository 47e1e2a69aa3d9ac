package gmail

import (
	"encoding/base64"
	"fmt"
	"mime"
	"strings"
)

// EmailMessage is an outgoing plain text message.
type EmailMessage struct {
	From    string
	To      []string
	Subject string
	Body    string
}

// encodeRFC2047 encodes non-ASCII header values such as umlauts in subjects.
func encodeRFC2047(s string) string {
	for _, r := range s {
		if r > 127 {
			return mime.BEncoding.Encode("UTF-8", s)
		}
	}
	return s
}

// buildRaw renders msg as an RFC 2822 message in base64url, the encoding the
// Gmail API expects in Message.Raw.
func buildRaw(msg *EmailMessage) (string, error) {
	if len(msg.To) == 0 {
		return "", fmt.Errorf("at least one recipient is required")
	}
	if msg.Subject == "" {
		return "", fmt.Errorf("subject is required")
	}
	for _, addr := range msg.To {
		if strings.ContainsAny(addr, "\r\n") {
			return "", fmt.Errorf("invalid recipient %q", addr)
		}
	}
	if strings.ContainsAny(msg.Subject, "\r\n") {
		return "", fmt.Errorf("subject must be a single line")
	}

	var b strings.Builder
	if msg.From != "" {
		b.WriteString("From: " + msg.From + "\r\n")
	}
	b.WriteString("To: " + strings.Join(msg.To, ", ") + "\r\n")
	b.WriteString("Subject: " + encodeRFC2047(msg.Subject) + "\r\n")
	b.WriteString("MIME-Version: 1.0\r\n")
	b.WriteString("Content-Type: text/plain; charset=\"UTF-8\"\r\n")
	b.WriteString("\r\n")
	b.WriteString(strings.ReplaceAll(strings.ReplaceAll(msg.Body, "\r\n", "\n"), "\n", "\r\n"))

	return base64.URLEncoding.EncodeToString([]byte(b.String())), nil
}
