package sandbox

import "testing"

func TestFilterEnv(t *testing.T) {
	environ := []string{
		"PATH=/usr/bin",
		"HOME=/root",
		"SECRET_TOKEN=abc123",
		"MALFORMED",
	}
	allowlist := []string{"PATH", "HOME"}

	got := FilterEnv(environ, allowlist)

	if got["PATH"] != "/usr/bin" {
		t.Errorf("PATH = %q", got["PATH"])
	}
	if got["HOME"] != "/root" {
		t.Errorf("HOME = %q", got["HOME"])
	}
	if _, ok := got["SECRET_TOKEN"]; ok {
		t.Error("expected SECRET_TOKEN to be filtered out")
	}
	if len(got) != 2 {
		t.Errorf("len(got) = %d, want 2", len(got))
	}
}

func TestFilterEnvEmptyAllowlistForwardsNothing(t *testing.T) {
	environ := []string{"PATH=/usr/bin", "HOME=/root"}
	got := FilterEnv(environ, nil)
	if len(got) != 0 {
		t.Errorf("expected no env vars forwarded, got %v", got)
	}
}
