package dialer

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/BTreeMap/CallPipe/internal/models"
	"github.com/BTreeMap/CallPipe/internal/store"
)

// fakeSender records placed calls and can fail specific numbers.
type fakeSender struct {
	calls    []string
	twimlURL string
	failFor  map[string]bool
}

func (f *fakeSender) StartCall(ctx context.Context, to, twimlURL, statusCallbackURL string) (string, error) {
	if f.failFor[to] {
		return "", errors.New("carrier rejected")
	}
	f.calls = append(f.calls, to)
	f.twimlURL = twimlURL
	return "CA-" + to, nil
}

func (f *fakeSender) SendSMS(ctx context.Context, to, body string) (string, error) {
	return "SM-" + to, nil
}

func seedStore(t *testing.T, numbers ...string) *store.InMemoryStore {
	t.Helper()
	st := store.NewInMemoryStore()
	now := time.Now()
	if err := st.SaveScenario(models.Scenario{
		ID:   "scn-1",
		Name: "Interest survey",
		Questions: []models.Question{
			{ID: "q1", Text: "Press 1.", Type: models.QuestionTypeDTMF,
				Options: []models.QuestionOption{{Key: "1", Label: "yes"}}, Required: true},
		},
		Transitions: []models.Transition{{FromQuestionID: "q1", Condition: "answer == '1'"}},
		IsActive:    true,
		CreatedAt:   now,
	}); err != nil {
		t.Fatalf("SaveScenario failed: %v", err)
	}
	for i, n := range numbers {
		if err := st.AddPhoneNumber(models.PhoneNumber{
			ID: "pn-" + n, PhoneNumber: n, Status: models.PhoneNumberStatusPending,
			CreatedAt: now.Add(time.Duration(i) * time.Second), UpdatedAt: now,
		}); err != nil {
			t.Fatalf("AddPhoneNumber failed: %v", err)
		}
	}
	return st
}

func TestDialBatchPlacesCalls(t *testing.T) {
	st := seedStore(t, "+819011111111", "+819022222222")
	sender := &fakeSender{}
	d := NewDialer(st, sender, WithBaseURL("https://callpipe.example.com/"))

	if err := d.DialBatch(context.Background()); err != nil {
		t.Fatalf("DialBatch failed: %v", err)
	}
	if len(sender.calls) != 2 {
		t.Fatalf("expected 2 calls, got %d", len(sender.calls))
	}
	if sender.twimlURL != "https://callpipe.example.com/twilio/voice" {
		t.Errorf("unexpected TwiML URL %q", sender.twimlURL)
	}

	sessions, err := st.ListCallSessions("scn-1", "")
	if err != nil {
		t.Fatalf("ListCallSessions failed: %v", err)
	}
	if len(sessions) != 2 {
		t.Fatalf("expected 2 sessions, got %d", len(sessions))
	}
	for _, sess := range sessions {
		if sess.Status != models.CallStatusInitiated {
			t.Errorf("session %s status = %s, want initiated", sess.ID, sess.Status)
		}
		if sess.ProviderCallSID == "" {
			t.Errorf("session %s missing provider call SID", sess.ID)
		}
		if found, err := st.GetCallSessionByProviderSID(sess.ProviderCallSID); err != nil || found == nil {
			t.Errorf("session %s not found by SID: %v", sess.ID, err)
		}
	}
}

func TestDialBatchHonorsBatchSize(t *testing.T) {
	st := seedStore(t, "+8190111", "+8190222", "+8190333")
	sender := &fakeSender{}
	d := NewDialer(st, sender, WithBatchSize(2))

	if err := d.DialBatch(context.Background()); err != nil {
		t.Fatalf("DialBatch failed: %v", err)
	}
	if len(sender.calls) != 2 {
		t.Errorf("expected 2 calls with batch size 2, got %d", len(sender.calls))
	}

	remaining, err := st.ClaimPendingPhoneNumbers(10)
	if err != nil {
		t.Fatalf("ClaimPendingPhoneNumbers failed: %v", err)
	}
	if len(remaining) != 1 {
		t.Errorf("expected 1 pending number left, got %d", len(remaining))
	}
}

func TestDialBatchSkipsWithoutActiveScenario(t *testing.T) {
	st := store.NewInMemoryStore()
	if err := st.AddPhoneNumber(models.PhoneNumber{
		ID: "pn-1", PhoneNumber: "+8190111", Status: models.PhoneNumberStatusPending,
		CreatedAt: time.Now(), UpdatedAt: time.Now(),
	}); err != nil {
		t.Fatalf("AddPhoneNumber failed: %v", err)
	}
	sender := &fakeSender{}
	d := NewDialer(st, sender)

	if err := d.DialBatch(context.Background()); err != nil {
		t.Fatalf("DialBatch failed: %v", err)
	}
	if len(sender.calls) != 0 {
		t.Errorf("expected no calls without active scenario, got %d", len(sender.calls))
	}

	// The pending number was not consumed.
	claimed, err := st.ClaimPendingPhoneNumbers(10)
	if err != nil {
		t.Fatalf("ClaimPendingPhoneNumbers failed: %v", err)
	}
	if len(claimed) != 1 {
		t.Errorf("expected 1 pending number preserved, got %d", len(claimed))
	}
}

func TestDialBatchMarksFailedPlacements(t *testing.T) {
	st := seedStore(t, "+8190111", "+8190222")
	sender := &fakeSender{failFor: map[string]bool{"+8190111": true}}
	d := NewDialer(st, sender)

	if err := d.DialBatch(context.Background()); err != nil {
		t.Fatalf("DialBatch failed: %v", err)
	}
	if len(sender.calls) != 1 {
		t.Errorf("expected 1 successful call, got %d", len(sender.calls))
	}

	sessions, err := st.ListCallSessions("scn-1", models.CallStatusFailed)
	if err != nil {
		t.Fatalf("ListCallSessions failed: %v", err)
	}
	if len(sessions) != 1 {
		t.Errorf("expected 1 failed session, got %d", len(sessions))
	}
}

func TestStartRejectsInvalidSchedule(t *testing.T) {
	d := NewDialer(store.NewInMemoryStore(), &fakeSender{}, WithSchedule("not a cron expr"))
	if err := d.Start(); err == nil {
		d.Stop()
		t.Error("expected error for invalid schedule")
	}
}

func TestStartAndStop(t *testing.T) {
	d := NewDialer(store.NewInMemoryStore(), &fakeSender{})
	if err := d.Start(); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	d.Stop()
}
