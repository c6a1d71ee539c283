package telegram

import (
	"errors"
	"strings"
	"testing"

	"github.com/gotd/td/tgerr"

	pkgerrors "github.com/Hwoarang91/afrodita-sub000/pkg/errors"
)

func TestClassifyFloodWait(t *testing.T) {
	cls := Classify(errors.New("rpc error code 420: FLOOD_WAIT_42"))
	if cls.Action != ActionRetry {
		t.Errorf("Expected retry, got %s", cls.Action)
	}
	if cls.Kind != KindRateLimited {
		t.Errorf("Expected rate limited kind, got %d", cls.Kind)
	}
	if cls.RetryAfter != 42 {
		t.Errorf("Expected RetryAfter 42, got %d", cls.RetryAfter)
	}
}

func TestClassifyTypedFloodWait(t *testing.T) {
	err := tgerr.New(420, "FLOOD_WAIT_7")
	cls := Classify(err)
	if !cls.Retryable() {
		t.Error("Expected typed flood wait to be retryable")
	}
	if cls.RetryAfter != 7 {
		t.Errorf("Expected RetryAfter 7, got %d", cls.RetryAfter)
	}
}

func TestClassifyTypedFloodWaitZero(t *testing.T) {
	cls := Classify(tgerr.New(420, "FLOOD_WAIT_0"))
	if !cls.Retryable() {
		t.Error("Expected explicit zero flood wait to be retryable")
	}
	if cls.RetryAfter != 0 {
		t.Errorf("Expected RetryAfter 0, got %d", cls.RetryAfter)
	}
	if !strings.Contains(cls.Message, "retry after 0s") {
		t.Errorf("Expected explicit zero delay in message, got %q", cls.Message)
	}
}

func TestClassifyTypedNoArgument(t *testing.T) {
	_, _, hasArg := normalize(tgerr.New(500, "AUTH_RESTART"))
	if hasArg {
		t.Error("Expected no argument for a bare token")
	}
}

func TestClassifyInvalidate(t *testing.T) {
	for _, token := range []string{
		"SESSION_REVOKED",
		"SESSION_EXPIRED",
		"AUTH_KEY_UNREGISTERED",
		"AUTH_KEY_DUPLICATED",
		"USER_DEACTIVATED",
		"USER_DEACTIVATED_BAN",
		"PHONE_NUMBER_BANNED",
		"AUTH_RESTART",
	} {
		cls := Classify(errors.New(token))
		if cls.Action != ActionInvalidateSession {
			t.Errorf("%s: expected invalidate, got %s", token, cls.Action)
		}
		if !cls.Fatal() {
			t.Errorf("%s: expected fatal classification", token)
		}
	}
}

func TestClassifyTwoFactor(t *testing.T) {
	cls := Classify(errors.New("SESSION_PASSWORD_NEEDED"))
	if cls.Action != ActionRequire2FA {
		t.Errorf("Expected require_2fa, got %s", cls.Action)
	}

	err := cls.ToError(errors.New("SESSION_PASSWORD_NEEDED"))
	var twoFactor *pkgerrors.TwoFactorRequiredError
	if !errors.As(err, &twoFactor) {
		t.Fatalf("Expected TwoFactorRequiredError, got %T", err)
	}
}

func TestClassifyResubmission(t *testing.T) {
	cls := Classify(errors.New("PHONE_CODE_INVALID"))
	if cls.Action != ActionSafeError {
		t.Errorf("Expected safe error, got %s", cls.Action)
	}
	if cls.Kind != KindResubmission {
		t.Errorf("Expected resubmission kind, got %d", cls.Kind)
	}
	if cls.Fatal() || cls.Retryable() {
		t.Error("Resubmission must be neither fatal nor retryable")
	}
}

func TestClassifyTransient(t *testing.T) {
	cls := Classify(errors.New("RPC_CALL_FAIL"))
	if !cls.Retryable() {
		t.Error("Expected transient error to be retryable")
	}
	if cls.RetryAfter != 0 {
		t.Errorf("Expected no delay, got %d", cls.RetryAfter)
	}
}

func TestClassifyMigrate(t *testing.T) {
	cls := Classify(errors.New("PHONE_MIGRATE_4"))
	if !cls.Retryable() {
		t.Error("Expected migrate to be retryable")
	}
	if cls.Kind != KindRedirect {
		t.Errorf("Expected redirect kind, got %d", cls.Kind)
	}
	if cls.Datacenter != 4 {
		t.Errorf("Expected datacenter 4, got %d", cls.Datacenter)
	}
}

func TestClassifyPhoneFlood(t *testing.T) {
	cls := Classify(errors.New("PHONE_NUMBER_FLOOD"))
	if cls.Action != ActionSafeError {
		t.Errorf("Expected safe error, got %s", cls.Action)
	}
	if cls.Kind != KindRateLimited {
		t.Errorf("Expected rate limited kind, got %d", cls.Kind)
	}
	if cls.RetryAfter != 0 {
		t.Errorf("Expected no retry delay, got %d", cls.RetryAfter)
	}
}

func TestClassifyUnknown(t *testing.T) {
	original := errors.New("something completely unexpected")
	cls := Classify(original)
	if cls.Action != ActionSafeError {
		t.Errorf("Expected safe error, got %s", cls.Action)
	}
	if cls.Kind != KindInternal {
		t.Errorf("Expected internal kind, got %d", cls.Kind)
	}
	if got := cls.ToError(original); got != original {
		t.Errorf("Expected original error back, got %v", got)
	}
}

func TestClassifyNil(t *testing.T) {
	cls := Classify(nil)
	if cls.Action != ActionSafeError {
		t.Errorf("Expected safe error for nil, got %s", cls.Action)
	}
}

func TestParseToken(t *testing.T) {
	tests := []struct {
		text   string
		token  string
		arg    int
		hasArg bool
	}{
		{"FLOOD_WAIT_30", "FLOOD_WAIT", 30, true},
		{"FLOOD_WAIT_0", "FLOOD_WAIT", 0, true},
		{"rpc error code 420: FLOOD_WAIT_30 (caused by messages.SendMessage)", "FLOOD_WAIT", 30, true},
		{"SESSION_REVOKED", "SESSION_REVOKED", 0, false},
		{"callApi: PHONE_MIGRATE_2", "PHONE_MIGRATE", 2, true},
	}
	for _, tt := range tests {
		token, arg, hasArg := parseToken(tt.text)
		if token != tt.token || arg != tt.arg || hasArg != tt.hasArg {
			t.Errorf("parseToken(%q) = %q,%d,%v; want %q,%d,%v",
				tt.text, token, arg, hasArg, tt.token, tt.arg, tt.hasArg)
		}
	}
}
