package util

import "testing"

func TestParseBoolEnv(t *testing.T) {
	cases := []struct {
		value string
		def   bool
		want  bool
	}{
		{"", true, true},
		{"", false, false},
		{"true", false, true},
		{"1", false, true},
		{"YES", false, true},
		{"on", false, true},
		{"false", true, false},
		{"0", true, false},
		{"no", true, false},
		{"OFF", true, false},
		{"maybe", true, true},
		{"maybe", false, false},
	}
	for _, tc := range cases {
		t.Setenv("CALLPIPE_TEST_BOOL", tc.value)
		if got := ParseBoolEnv("CALLPIPE_TEST_BOOL", tc.def); got != tc.want {
			t.Errorf("ParseBoolEnv(%q, %v) = %v, want %v", tc.value, tc.def, got, tc.want)
		}
	}
}

func TestParseIntEnv(t *testing.T) {
	cases := []struct {
		value string
		def   int
		want  int
	}{
		{"", 5, 5},
		{"10", 5, 10},
		{" 7 ", 5, 7},
		{"abc", 5, 5},
		{"-3", 5, 5},
		{"0", 5, 5},
	}
	for _, tc := range cases {
		t.Setenv("CALLPIPE_TEST_INT", tc.value)
		if got := ParseIntEnv("CALLPIPE_TEST_INT", tc.def); got != tc.want {
			t.Errorf("ParseIntEnv(%q, %d) = %d, want %d", tc.value, tc.def, got, tc.want)
		}
	}
}
