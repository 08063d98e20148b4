package passphrase

import (
	"strings"
	"testing"
)

func TestSourcePrefersEnvironment(t *testing.T) {
	t.Setenv("AVCTL_TEST_PASS", "from-env")
	src := NewSource("AVCTL_TEST_PASS", "agent").WithPrompt(func(string) (string, error) {
		t.Fatalf("prompt should not run when the environment is set")
		return "", nil
	})
	got, err := src.Get()
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got != "from-env" {
		t.Fatalf("unexpected passphrase %q", got)
	}
}

func TestSourceRejectsEmptyEnvironment(t *testing.T) {
	t.Setenv("AVCTL_TEST_PASS", "  ")
	if _, err := NewSource("AVCTL_TEST_PASS", "").Get(); err == nil {
		t.Fatalf("expected empty env passphrase to be rejected")
	}
}

func TestSourceConfirmationMismatch(t *testing.T) {
	src := NewSource("", "owner").WithConfirmation().WithPrompt(ReadFrom(strings.NewReader("first\nsecond\n")))
	if _, err := src.Get(); err == nil || !strings.Contains(err.Error(), "do not match") {
		t.Fatalf("expected mismatch error, got %v", err)
	}
}

func TestSourceCachesPromptedValue(t *testing.T) {
	calls := 0
	src := NewSource("", "").WithPrompt(func(msg string) (string, error) {
		calls++
		if !strings.Contains(msg, "signing") {
			t.Fatalf("prompt should name the default label: %q", msg)
		}
		return "secret", nil
	})
	for i := 0; i < 2; i++ {
		got, err := src.Get()
		if err != nil || got != "secret" {
			t.Fatalf("get: %q %v", got, err)
		}
	}
	if calls != 1 {
		t.Fatalf("expected one prompt, got %d", calls)
	}
}

func TestStatic(t *testing.T) {
	got, err := Static("fixed").Get()
	if err != nil || got != "fixed" {
		t.Fatalf("static: %q %v", got, err)
	}
}
