package logger

import (
	"errors"
	"strings"
	"testing"
)

func TestSanitizeString(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name      string
		input     string
		maxLength int
		want      string
	}{
		{"plain", "hello", 100, "hello"},
		{"control characters stripped", "a\x00b\x1bc", 100, "abc"},
		{"newlines stripped", "line1\nline2", 100, "line1line2"},
		{"tabs kept", "a\tb", 100, "a\tb"},
		{"truncated", strings.Repeat("x", 10), 5, "xxxxx..."},
		{"zero max uses default", "ok", 0, "ok"},
		{"empty", "", 100, ""},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			if got := SanitizeString(tt.input, tt.maxLength); got != tt.want {
				t.Errorf("SanitizeString(%q, %d) = %q, want %q", tt.input, tt.maxLength, got, tt.want)
			}
		})
	}
}

func TestSanitizeStringInvalidUTF8(t *testing.T) {
	t.Parallel()

	got := SanitizeString("ok\xff\xfe", 100)
	if strings.ContainsRune(got, '�') || got != "ok" {
		t.Errorf("invalid UTF-8 not repaired: %q", got)
	}
}

func TestSanitizePath(t *testing.T) {
	t.Parallel()

	long := "/" + strings.Repeat("a", MaxPathLength+10)
	got := SanitizePath(long)
	if len(got) != MaxPathLength+3 || !strings.HasSuffix(got, "...") {
		t.Errorf("long path not truncated: len=%d", len(got))
	}
}

func TestSanitizeError(t *testing.T) {
	t.Parallel()

	if got := SanitizeError(nil); got != "" {
		t.Errorf("SanitizeError(nil) = %q, want empty", got)
	}
	if got := SanitizeError(errors.New("db\nfailed")); got != "dbfailed" {
		t.Errorf("SanitizeError() = %q, want dbfailed", got)
	}
}
