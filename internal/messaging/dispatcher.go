package messaging

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/BTreeMap/CallPipe/internal/models"
	"github.com/BTreeMap/CallPipe/internal/store"
)

// Composer produces the body of a follow-up SMS for a finished call session.
type Composer interface {
	Compose(ctx context.Context, session *models.CallSession, scenario *models.Scenario) (string, error)
}

// Dispatcher sends a follow-up SMS once a call session reaches a terminal
// status and records the attempt in the store.
type Dispatcher struct {
	service  Service
	store    store.Store
	composer Composer
}

// DispatcherOption configures a Dispatcher.
type DispatcherOption func(*Dispatcher)

// WithComposer sets a message composer. Without one the dispatcher falls back
// to a plain answer summary.
func WithComposer(c Composer) DispatcherOption {
	return func(d *Dispatcher) {
		d.composer = c
	}
}

// NewDispatcher creates a follow-up SMS dispatcher.
func NewDispatcher(service Service, st store.Store, opts ...DispatcherOption) *Dispatcher {
	d := &Dispatcher{service: service, store: st}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Dispatch composes and sends the follow-up SMS for a terminal call session.
// The notification row is saved before sending so a delivery failure leaves an
// auditable pending record; it is updated to sent or failed afterwards.
func (d *Dispatcher) Dispatch(ctx context.Context, session *models.CallSession, scenario *models.Scenario) (*models.SMSNotification, error) {
	if session == nil {
		return nil, fmt.Errorf("dispatch follow-up SMS: session is nil")
	}
	if !session.Status.IsTerminal() {
		slog.Error("Dispatcher.Dispatch called with non-terminal session", "sessionID", session.ID, "status", session.Status)
		return nil, fmt.Errorf("dispatch follow-up SMS: session %s is not terminal", session.ID)
	}

	body, err := d.composeBody(ctx, session, scenario)
	if err != nil {
		slog.Error("Dispatcher.Dispatch compose error", "error", err, "sessionID", session.ID)
		return nil, fmt.Errorf("failed to compose follow-up SMS: %w", err)
	}

	notification := &models.SMSNotification{
		ID:             uuid.NewString(),
		CallSessionID:  session.ID,
		RecipientPhone: session.PhoneNumber,
		Body:           body,
		Status:         models.SMSStatusPending,
		CreatedAt:      time.Now(),
	}
	if err := d.store.SaveSMSNotification(*notification); err != nil {
		slog.Error("Dispatcher.Dispatch save error", "error", err, "sessionID", session.ID)
		return nil, fmt.Errorf("failed to save SMS notification: %w", err)
	}

	sid, err := d.service.SendSMS(ctx, session.PhoneNumber, body)
	if err != nil {
		notification.Status = models.SMSStatusFailed
		notification.RetryCount++
		if saveErr := d.store.SaveSMSNotification(*notification); saveErr != nil {
			slog.Error("Dispatcher.Dispatch failed-status save error", "error", saveErr, "notificationID", notification.ID)
		}
		slog.Error("Dispatcher.Dispatch send error", "error", err, "sessionID", session.ID, "to", session.PhoneNumber)
		return notification, fmt.Errorf("failed to send follow-up SMS: %w", err)
	}

	now := time.Now()
	notification.ProviderSID = sid
	notification.Status = models.SMSStatusSent
	notification.SentAt = &now
	if err := d.store.SaveSMSNotification(*notification); err != nil {
		slog.Error("Dispatcher.Dispatch sent-status save error", "error", err, "notificationID", notification.ID)
		return notification, fmt.Errorf("failed to update SMS notification: %w", err)
	}
	slog.Debug("Dispatcher.Dispatch sent follow-up SMS", "sessionID", session.ID, "notificationID", notification.ID, "providerSID", sid)
	return notification, nil
}

func (d *Dispatcher) composeBody(ctx context.Context, session *models.CallSession, scenario *models.Scenario) (string, error) {
	if d.composer != nil {
		body, err := d.composer.Compose(ctx, session, scenario)
		if err == nil && strings.TrimSpace(body) != "" {
			return body, nil
		}
		if err != nil {
			slog.Warn("Dispatcher composer failed, using plain summary", "error", err, "sessionID", session.ID)
		}
	}
	return PlainSummary(session, scenario), nil
}

// PlainSummary builds a template-based follow-up message from the recorded
// answers. Used when no composer is configured or the composer fails.
func PlainSummary(session *models.CallSession, scenario *models.Scenario) string {
	var b strings.Builder
	name := "your call"
	if scenario != nil && scenario.Name != "" {
		name = scenario.Name
	}
	switch session.Status {
	case models.CallStatusCompleted:
		fmt.Fprintf(&b, "Thank you for completing %s.", name)
	case models.CallStatusNoAnswer:
		fmt.Fprintf(&b, "We tried to reach you for %s but could not connect. We may try again later.", name)
	default:
		fmt.Fprintf(&b, "Your call for %s ended early.", name)
	}
	if len(session.Answers) > 0 {
		b.WriteString(" Your responses:")
		for _, a := range session.Answers {
			label := a.Label
			if label == "" {
				label = a.Value
			}
			if label == "" && a.AudioURL != "" {
				label = "voice message received"
			}
			if label == "" {
				label = "no response"
			}
			fmt.Fprintf(&b, " %s: %s.", a.QuestionText, label)
		}
	}
	return b.String()
}
