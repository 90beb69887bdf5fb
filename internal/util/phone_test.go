package util

import "testing"

func TestNormalizePhoneNumber(t *testing.T) {
	cases := []struct {
		name    string
		raw     string
		country string
		want    string
		wantErr bool
	}{
		{"hyphenated national", "090-1234-5678", "+81", "+819012345678", false},
		{"plain national", "09012345678", "+81", "+819012345678", false},
		{"already international", "+819012345678", "+81", "+819012345678", false},
		{"international with separators", "+81 90-1234-5678", "+81", "+819012345678", false},
		{"default country code", "09012345678", "", "+819012345678", false},
		{"no leading zero", "9012345678", "+81", "+819012345678", false},
		{"empty", "", "+81", "", true},
		{"no digits", "---", "+81", "", true},
		{"too short", "12345", "+81", "", true},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got, err := NormalizePhoneNumber(tc.raw, tc.country)
			if tc.wantErr {
				if err == nil {
					t.Fatalf("expected error for %q, got %q", tc.raw, got)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if got != tc.want {
				t.Errorf("NormalizePhoneNumber(%q) = %q, want %q", tc.raw, got, tc.want)
			}
		})
	}
}

func TestParseIntEnvDefaults(t *testing.T) {
	t.Setenv("CALLPIPE_TEST_INT", "7")
	if got := ParseIntEnv("CALLPIPE_TEST_INT", 3); got != 7 {
		t.Errorf("ParseIntEnv = %d, want 7", got)
	}
	t.Setenv("CALLPIPE_TEST_INT", "not-a-number")
	if got := ParseIntEnv("CALLPIPE_TEST_INT", 3); got != 3 {
		t.Errorf("ParseIntEnv invalid = %d, want default 3", got)
	}
	if got := ParseIntEnv("CALLPIPE_TEST_INT_UNSET", 5); got != 5 {
		t.Errorf("ParseIntEnv unset = %d, want default 5", got)
	}
}
