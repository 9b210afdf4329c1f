// Package mail holds the email address type and the outbound mail port.
package mail

import (
	"context"
	"errors"
	"fmt"
	netmail "net/mail"
	"regexp"
	"strings"

	"github.com/zahash/mona/internal/obs"
)

var ErrInvalidAddress = errors.New("mail: invalid address")

// Address is a bare, validated email address. It doubles as a signed
// envelope payload.
type Address string

// ParseAddress accepts "user@host" with no display name.
func ParseAddress(raw string) (Address, error) {
	raw = strings.TrimSpace(raw)
	parsed, err := netmail.ParseAddress(raw)
	if err != nil || parsed.Name != "" || parsed.Address != raw {
		return "", fmt.Errorf("%w: %q", ErrInvalidAddress, raw)
	}
	return Address(parsed.Address), nil
}

func (a Address) String() string { return string(a) }

func (a Address) MarshalBinary() ([]byte, error) {
	return []byte(a), nil
}

func (a *Address) UnmarshalBinary(data []byte) error {
	addr, err := ParseAddress(string(data))
	if err != nil {
		return err
	}
	*a = addr
	return nil
}

// Message is a plain-text email.
type Message struct {
	To      Address
	Subject string
	Body    string
}

// Sender delivers messages.
type Sender interface {
	Send(ctx context.Context, msg Message) error
}

var tokenParam = regexp.MustCompile(`([?&]token=)[^&\s]+`)

// Redact masks token query values in s.
func Redact(s string) string {
	return tokenParam.ReplaceAllString(s, "${1}REDACTED")
}

// LogSender writes messages to the service log instead of delivering them.
// Links carrying tokens are redacted at info level; the full body is only
// logged at debug.
type LogSender struct{}

func (LogSender) Send(ctx context.Context, msg Message) error {
	log := obs.Logger()
	log.InfoContext(ctx, "mail_outbound",
		"to", msg.To.String(),
		"subject", msg.Subject,
		"body", Redact(msg.Body),
	)
	log.DebugContext(ctx, "mail_outbound_body",
		"to", msg.To.String(),
		"body", msg.Body,
	)
	return nil
}
