package loggertest_test

import (
	"strings"
	"testing"

	"github.com/schmitthub/ralph/internal/hostloop"
	"github.com/schmitthub/ralph/internal/logger/loggertest"
)

func TestNew_CapturesOutput(t *testing.T) {
	tl := loggertest.New()

	tl.Info().Msg("hello world")

	output := tl.Output()
	if !strings.Contains(output, "hello world") {
		t.Errorf("Output() should contain logged message, got %q", output)
	}
}

func TestNew_Reset(t *testing.T) {
	tl := loggertest.New()

	tl.Info().Msg("first message")
	tl.Reset()

	if tl.Output() != "" {
		t.Error("Output() should be empty after Reset()")
	}

	tl.Info().Msg("second message")
	if !strings.Contains(tl.Output(), "second message") {
		t.Error("Output() should contain message logged after Reset()")
	}
}

func TestNewNop_DiscardsOutput(t *testing.T) {
	tl := loggertest.NewNop()

	tl.Info().Msg("should be discarded")

	if tl.Output() != "" {
		t.Errorf("NewNop().Output() should be empty, got %q", tl.Output())
	}
}

func TestContains(t *testing.T) {
	tl := loggertest.New()
	tl.Warn().Str("session", "ses_1").Msg("no session")

	if !tl.Contains("no session") || !tl.Contains(`"session":"ses_1"`) {
		t.Errorf("Contains should find logged content in %q", tl.Output())
	}
	if tl.Contains("absent") {
		t.Error("Contains should not find absent content")
	}
}

// Compile-time check: *TestLogger satisfies hostloop.Logger
var _ hostloop.Logger = (*loggertest.TestLogger)(nil)
