package alert

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/twilio/twilio-go"
	twilioapi "github.com/twilio/twilio-go/rest/api/v2010"
)

// WhatsAppSender delivers alert notifications through the Twilio WhatsApp
// messaging API.
type WhatsAppSender struct {
	client     *twilio.RestClient
	fromNumber string
}

// NewWhatsAppSender creates a Twilio-backed sender. fromNumber is the
// WhatsApp-enabled sender in E.164 form (e.g. "+14155238886").
func NewWhatsAppSender(accountSID, authToken, fromNumber string) *WhatsAppSender {
	client := twilio.NewRestClientWithParams(twilio.ClientParams{
		Username: accountSID,
		Password: authToken,
	})
	return &WhatsAppSender{client: client, fromNumber: fromNumber}
}

func (s *WhatsAppSender) Channel() Channel { return ChannelWhatsApp }

// FallbackAddress is always empty: the WhatsApp channel has no fallback
// destination.
func (s *WhatsAppSender) FallbackAddress() string { return "" }

func (s *WhatsAppSender) Send(_ context.Context, n Notification, address string) error {
	params := &twilioapi.CreateMessageParams{}
	params.SetFrom(whatsAppAddress(s.fromNumber))
	params.SetTo(whatsAppAddress(address))
	params.SetBody(fmt.Sprintf("[Exam Alert] %s: %s @ %s",
		n.StudentIdentity, n.ActivityDescription, n.Timestamp.UTC().Format(time.RFC3339)))

	if _, err := s.client.Api.CreateMessage(params); err != nil {
		return fmt.Errorf("WhatsAppSender.Send: %w", err)
	}
	return nil
}

func whatsAppAddress(number string) string {
	if strings.HasPrefix(number, "whatsapp:") {
		return number
	}
	return "whatsapp:" + number
}
