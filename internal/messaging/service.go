// Package messaging provides SMS follow-up dispatch for terminal call sessions.
package messaging

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/BTreeMap/CallPipe/internal/twiliovoice"
	"github.com/BTreeMap/CallPipe/internal/util"
)

// Service defines a pluggable SMS delivery abstraction.
type Service interface {
	// ValidateAndCanonicalizeRecipient validates and canonicalizes a recipient phone number.
	// Returns the canonicalized recipient and an error if validation fails.
	ValidateAndCanonicalizeRecipient(recipient string) (string, error)

	// SendSMS sends a text message and returns the provider message SID.
	SendSMS(ctx context.Context, to string, body string) (string, error)
}

// TwilioService implements the Service interface using the Twilio API.
type TwilioService struct {
	sender      twiliovoice.Sender
	countryCode string
}

// NewTwilioService creates an SMS service backed by the given Twilio sender.
// countryCode is prepended to national numbers during canonicalization; empty
// uses the util default.
func NewTwilioService(sender twiliovoice.Sender, countryCode string) *TwilioService {
	return &TwilioService{sender: sender, countryCode: countryCode}
}

// ValidateAndCanonicalizeRecipient normalizes a phone number to E.164 form.
func (s *TwilioService) ValidateAndCanonicalizeRecipient(recipient string) (string, error) {
	canonical, err := util.NormalizePhoneNumber(recipient, s.countryCode)
	if err != nil {
		return "", fmt.Errorf("invalid recipient: %w", err)
	}
	if canonical != recipient {
		slog.Debug("TwilioService canonicalized recipient", "original", recipient, "canonical", canonical)
	}
	return canonical, nil
}

// SendSMS sends a message via Twilio after canonicalizing the recipient.
func (s *TwilioService) SendSMS(ctx context.Context, to string, body string) (string, error) {
	canonicalTo, err := s.ValidateAndCanonicalizeRecipient(to)
	if err != nil {
		slog.Error("TwilioService SendSMS validation error", "error", err, "to", to)
		return "", err
	}
	return s.sender.SendSMS(ctx, canonicalTo, body)
}
