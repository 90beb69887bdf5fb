// Package dialer places outbound calls for the active scenario.
//
// On each cron tick the dialer claims a batch of pending phone numbers,
// creates a call session per number, and asks Twilio to dial. The session
// carries the provider call SID so webhook events can be correlated back to
// it; call execution itself is driven entirely by the webhook surface.
package dialer

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/robfig/cron/v3"

	"github.com/BTreeMap/CallPipe/internal/flow"
	"github.com/BTreeMap/CallPipe/internal/models"
	"github.com/BTreeMap/CallPipe/internal/store"
	"github.com/BTreeMap/CallPipe/internal/twiliovoice"
)

// Default dialer configuration
const (
	// DefaultBatchSize is how many pending numbers one tick claims.
	DefaultBatchSize = 10
	// DefaultSchedule dials a batch every minute.
	DefaultSchedule = "* * * * *"
	// DefaultDialTimeout bounds one batch of outbound call placements.
	DefaultDialTimeout = 2 * time.Minute
)

// Opts holds configuration options for the dialer.
type Opts struct {
	BatchSize int
	Schedule  string
	// BaseURL is the externally reachable URL Twilio fetches TwiML from.
	BaseURL string
}

// Option configures the dialer.
type Option func(*Opts)

// WithBatchSize sets how many numbers are dialed per tick.
func WithBatchSize(n int) Option {
	return func(o *Opts) {
		if n > 0 {
			o.BatchSize = n
		}
	}
}

// WithSchedule sets the cron expression for dial ticks.
func WithSchedule(expr string) Option {
	return func(o *Opts) {
		if expr != "" {
			o.Schedule = expr
		}
	}
}

// WithBaseURL sets the externally reachable base URL for webhooks.
func WithBaseURL(baseURL string) Option {
	return func(o *Opts) {
		o.BaseURL = strings.TrimRight(baseURL, "/")
	}
}

// Dialer claims pending numbers and places calls on a cron schedule.
type Dialer struct {
	st        store.Store
	sender    twiliovoice.Sender
	batchSize int
	schedule  string
	baseURL   string
	cron      *cron.Cron
}

// NewDialer creates a dialer backed by the given store and Twilio sender.
func NewDialer(st store.Store, sender twiliovoice.Sender, opts ...Option) *Dialer {
	cfg := Opts{BatchSize: DefaultBatchSize, Schedule: DefaultSchedule}
	for _, opt := range opts {
		opt(&cfg)
	}
	return &Dialer{
		st:        st,
		sender:    sender,
		batchSize: cfg.BatchSize,
		schedule:  cfg.Schedule,
		baseURL:   cfg.BaseURL,
	}
}

// Start begins the cron loop. It returns an error if the schedule expression
// is invalid.
func (d *Dialer) Start() error {
	parser := cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow)
	c := cron.New(cron.WithParser(parser), cron.WithChain(cron.Recover(cron.DefaultLogger)))
	_, err := c.AddFunc(d.schedule, func() {
		ctx, cancel := context.WithTimeout(context.Background(), DefaultDialTimeout)
		defer cancel()
		if err := d.DialBatch(ctx); err != nil {
			slog.Error("Dialer batch failed", "error", err)
		}
	})
	if err != nil {
		return fmt.Errorf("invalid dial schedule %q: %w", d.schedule, err)
	}
	c.Start()
	d.cron = c
	slog.Info("Dialer started", "schedule", d.schedule, "batchSize", d.batchSize)
	return nil
}

// Stop stops the cron loop and waits for a running batch to finish.
func (d *Dialer) Stop() {
	if d.cron != nil {
		<-d.cron.Stop().Done()
	}
}

// DialBatch claims up to the batch size of pending numbers and places a call
// for each against the active scenario. A tick without an active scenario
// claims nothing. Individual dial failures mark that number failed without
// aborting the batch.
func (d *Dialer) DialBatch(ctx context.Context) error {
	scenario, err := d.st.GetActiveScenario()
	if err != nil {
		return fmt.Errorf("failed to load active scenario: %w", err)
	}
	if scenario == nil {
		slog.Debug("Dialer.DialBatch: no active scenario, skipping tick")
		return nil
	}

	claimed, err := d.st.ClaimPendingPhoneNumbers(d.batchSize)
	if err != nil {
		return fmt.Errorf("failed to claim phone numbers: %w", err)
	}
	if len(claimed) == 0 {
		return nil
	}
	slog.Debug("Dialer.DialBatch: claimed numbers", "count", len(claimed), "scenarioID", scenario.ID)

	for _, number := range claimed {
		if err := d.dialOne(ctx, scenario.ID, number); err != nil {
			slog.Error("Dialer.DialBatch: dial failed", "error", err, "phone", number.PhoneNumber)
			if updErr := d.st.UpdatePhoneNumberStatus(number.ID, models.PhoneNumberStatusFailed); updErr != nil {
				slog.Error("Dialer.DialBatch: failed to mark number failed", "error", updErr, "phoneNumberID", number.ID)
			}
		}
	}
	return nil
}

// dialOne creates the call session and places the outbound call. The session
// is saved before dialing so the voice webhook always finds it, then saved
// again with the provider call SID.
func (d *Dialer) dialOne(ctx context.Context, scenarioID string, number models.PhoneNumber) error {
	session := flow.NewCallSession(uuid.NewString(), scenarioID, number.PhoneNumber)
	if err := d.st.SaveCallSession(*session); err != nil {
		return fmt.Errorf("failed to save call session: %w", err)
	}

	sid, err := d.sender.StartCall(ctx, number.PhoneNumber,
		d.baseURL+"/twilio/voice", d.baseURL+"/twilio/status")
	if err != nil {
		// The session dies with the failed placement.
		if finErr := flow.Finalize(session, models.CallStatusFailed); finErr == nil {
			if saveErr := d.st.SaveCallSession(*session); saveErr != nil {
				slog.Error("Dialer.dialOne: failed to save failed session", "error", saveErr, "sessionID", session.ID)
			}
		}
		return fmt.Errorf("failed to start call: %w", err)
	}

	session.ProviderCallSID = sid
	if err := d.st.SaveCallSession(*session); err != nil {
		return fmt.Errorf("failed to save call session with SID: %w", err)
	}
	slog.Info("Dialer placed call", "sessionID", session.ID, "phone", number.PhoneNumber, "callSID", sid)
	return nil
}
