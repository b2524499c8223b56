package version

import (
	"strings"
	"testing"
)

func TestRevisionPrefersInjectedCommit(t *testing.T) {
	prev := Commit
	t.Cleanup(func() { Commit = prev })

	Commit = "abc1234"
	if got := Revision(); got != "abc1234" {
		t.Fatalf("expected injected commit, got %s", got)
	}
	if full := Full(); !strings.HasPrefix(full, "sw-proxy "+Version) || !strings.Contains(full, "abc1234") {
		t.Fatalf("unexpected full version %s", full)
	}
}

func TestRevisionFallsBackToPlaceholder(t *testing.T) {
	prev := Commit
	t.Cleanup(func() { Commit = prev })

	Commit = "dev"
	if got := Revision(); got == "" {
		t.Fatalf("revision should never be empty")
	}
}
