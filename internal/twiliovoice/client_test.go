package twiliovoice

import "testing"

func TestNewClientRequiresCredentials(t *testing.T) {
	t.Setenv("TWILIO_ACCOUNT_SID", "")
	t.Setenv("TWILIO_AUTH_TOKEN", "")
	t.Setenv("TWILIO_FROM_NUMBER", "")

	if _, err := NewClient(); err == nil {
		t.Error("NewClient without credentials should fail")
	}
	if _, err := NewClient(WithAccountSID("AC123"), WithAuthToken("token")); err == nil {
		t.Error("NewClient without from number should fail")
	}
}

func TestNewClientWithOptions(t *testing.T) {
	t.Setenv("TWILIO_ACCOUNT_SID", "")
	t.Setenv("TWILIO_AUTH_TOKEN", "")
	t.Setenv("TWILIO_FROM_NUMBER", "")

	c, err := NewClient(WithAccountSID("AC123"), WithAuthToken("token"), WithFromNumber("+15005550006"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if c.from != "+15005550006" {
		t.Errorf("from = %q, want +15005550006", c.from)
	}
}

func TestNewClientFallsBackToEnvironment(t *testing.T) {
	t.Setenv("TWILIO_ACCOUNT_SID", "AC456")
	t.Setenv("TWILIO_AUTH_TOKEN", "envtoken")
	t.Setenv("TWILIO_FROM_NUMBER", "+15005550007")

	c, err := NewClient()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if c.from != "+15005550007" {
		t.Errorf("from = %q, want +15005550007", c.from)
	}
}
