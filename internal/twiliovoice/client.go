// Package twiliovoice wraps the Twilio API for outbound voice calls and SMS in CallPipe.
package twiliovoice

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"github.com/twilio/twilio-go"
	twilioApi "github.com/twilio/twilio-go/rest/api/v2010"
)

// Sender is the telephony provider surface the rest of CallPipe depends on.
// StartCall originates an outbound call and returns the provider call SID;
// SendSMS sends a text message and returns the provider message SID.
type Sender interface {
	StartCall(ctx context.Context, to, twimlURL, statusCallbackURL string) (string, error)
	SendSMS(ctx context.Context, to, body string) (string, error)
}

// Opts holds configuration options for the Twilio voice client.
type Opts struct {
	AccountSID string
	AuthToken  string
	FromNumber string
}

// Option defines a configuration option for the Twilio voice client.
type Option func(*Opts)

// WithAccountSID sets the Twilio account SID.
func WithAccountSID(sid string) Option {
	return func(o *Opts) { o.AccountSID = sid }
}

// WithAuthToken sets the Twilio auth token.
func WithAuthToken(token string) Option {
	return func(o *Opts) { o.AuthToken = token }
}

// WithFromNumber sets the caller ID for outbound calls and SMS.
func WithFromNumber(from string) Option {
	return func(o *Opts) { o.FromNumber = from }
}

// Client wraps the Twilio REST API for voice calls and SMS.
type Client struct {
	client *twilio.RestClient
	from   string // E.164 caller ID, e.g. "+15005550006"
}

// NewClient creates a Twilio client. Options fall back to the
// TWILIO_ACCOUNT_SID, TWILIO_AUTH_TOKEN and TWILIO_FROM_NUMBER environment
// variables when not provided.
func NewClient(opts ...Option) (*Client, error) {
	var cfg Opts
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.AccountSID == "" {
		cfg.AccountSID = os.Getenv("TWILIO_ACCOUNT_SID")
	}
	if cfg.AuthToken == "" {
		cfg.AuthToken = os.Getenv("TWILIO_AUTH_TOKEN")
	}
	if cfg.FromNumber == "" {
		cfg.FromNumber = os.Getenv("TWILIO_FROM_NUMBER")
	}
	slog.Debug("Twilio client config loaded",
		"AccountSID_set", cfg.AccountSID != "",
		"AuthToken_set", cfg.AuthToken != "",
		"FromNumber_set", cfg.FromNumber != "")

	if cfg.AccountSID == "" || cfg.AuthToken == "" {
		return nil, fmt.Errorf("account SID and auth token must be provided")
	}
	if cfg.FromNumber == "" {
		return nil, fmt.Errorf("from number must be provided")
	}

	client := twilio.NewRestClientWithParams(
		twilio.ClientParams{
			Username: cfg.AccountSID,
			Password: cfg.AuthToken,
		},
	)

	return &Client{
		client: client,
		from:   cfg.FromNumber,
	}, nil
}

// StartCall originates an outbound call. Twilio fetches call instructions
// from twimlURL when the callee answers and posts lifecycle events
// (ringing, answered, completed, no-answer, failed) to statusCallbackURL.
func (c *Client) StartCall(ctx context.Context, to, twimlURL, statusCallbackURL string) (string, error) {
	params := &twilioApi.CreateCallParams{}
	params.SetTo(to)
	params.SetFrom(c.from)
	params.SetUrl(twimlURL)
	if statusCallbackURL != "" {
		params.SetStatusCallback(statusCallbackURL)
		params.SetStatusCallbackEvent([]string{"initiated", "ringing", "answered", "completed"})
	}

	call, err := c.client.Api.CreateCall(params)
	if err != nil {
		slog.Error("Twilio StartCall failed", "to", to, "error", err)
		return "", fmt.Errorf("failed to start call to %s: %w", to, err)
	}

	sid := ""
	if call.Sid != nil {
		sid = *call.Sid
	}
	slog.Debug("Twilio call started", "to", to, "callSID", sid)
	return sid, nil
}

// SendSMS sends an SMS message using the Twilio API.
func (c *Client) SendSMS(ctx context.Context, to, body string) (string, error) {
	params := &twilioApi.CreateMessageParams{}
	params.SetTo(to)
	params.SetFrom(c.from)
	params.SetBody(body)

	msg, err := c.client.Api.CreateMessage(params)
	if err != nil {
		slog.Error("Twilio SendSMS failed", "to", to, "error", err)
		return "", fmt.Errorf("failed to send sms to %s: %w", to, err)
	}

	sid := ""
	if msg.Sid != nil {
		sid = *msg.Sid
	}
	slog.Debug("Twilio sms sent", "to", to, "messageSID", sid)
	return sid, nil
}
