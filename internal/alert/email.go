package alert

import (
	"context"
	"fmt"
	"strings"
	"time"

	"gopkg.in/gomail.v2"
)

// EmailSender delivers alert notifications over SMTP.
type EmailSender struct {
	dialer        *gomail.Dialer
	senderAddress string
	fallbackInbox string
}

// NewEmailSender creates an SMTP sender. fallbackInbox may be empty; when
// set, it receives alerts whose primary recipient was rejected for a
// configuration reason (e.g. unverified sender domain).
func NewEmailSender(host string, port int, username, password, senderAddress, fallbackInbox string) *EmailSender {
	return &EmailSender{
		dialer:        gomail.NewDialer(host, port, username, password),
		senderAddress: senderAddress,
		fallbackInbox: fallbackInbox,
	}
}

func (s *EmailSender) Channel() Channel { return ChannelEmail }

func (s *EmailSender) FallbackAddress() string { return s.fallbackInbox }

func (s *EmailSender) Send(_ context.Context, n Notification, address string) error {
	m := gomail.NewMessage()
	m.SetHeader("From", s.senderAddress)
	m.SetHeader("To", address)
	m.SetHeader("Subject", n.Subject)
	m.SetBody("text/html", formatEmailBody(n))

	if err := s.dialer.DialAndSend(m); err != nil {
		if isConfigRejection(err) {
			return fmt.Errorf("%w: %v", ErrConfigRejected, err)
		}
		return fmt.Errorf("EmailSender.Send: %w", err)
	}
	return nil
}

func formatEmailBody(n Notification) string {
	return fmt.Sprintf(`
		<div style="font-family: Arial, sans-serif; padding: 20px; color: #333;">
			<h2>Exam Proctoring Alert</h2>
			<p><strong>Student:</strong> %s</p>
			<p><strong>Activity:</strong> %s</p>
			<p><strong>Time:</strong> %s</p>
		</div>
	`, n.StudentIdentity, n.ActivityDescription, n.Timestamp.UTC().Format(time.RFC3339))
}

// isConfigRejection classifies permanent SMTP rejections tied to sender
// configuration. Transient faults (connect errors, 4xx) stay retriable in
// classification only; nothing here retries them.
func isConfigRejection(err error) bool {
	msg := strings.ToLower(err.Error())
	for _, marker := range []string{"550", "553", "sender address rejected", "not verified", "unverified"} {
		if strings.Contains(msg, marker) {
			return true
		}
	}
	return false
}
