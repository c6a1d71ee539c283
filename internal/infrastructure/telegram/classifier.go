package telegram

import (
	"strconv"
	"strings"

	"github.com/gotd/td/tgerr"

	pkgerrors "github.com/Hwoarang91/afrodita-sub000/pkg/errors"
)

// Action tells the caller what to do with a classified protocol error
type Action int

const (
	// ActionSafeError surfaces the error to the caller without touching the session
	ActionSafeError Action = iota
	// ActionInvalidateSession discards the session; re-authorization is required
	ActionInvalidateSession
	// ActionRequire2FA asks the end user for their cloud password
	ActionRequire2FA
	// ActionRetry retries the request, after RetryAfter seconds when set
	ActionRetry
)

func (a Action) String() string {
	switch a {
	case ActionInvalidateSession:
		return "invalidate_session"
	case ActionRequire2FA:
		return "require_2fa"
	case ActionRetry:
		return "retry"
	default:
		return "safe_error"
	}
}

// ErrorKind buckets classifications for the outward boundary
type ErrorKind int

const (
	KindInternal ErrorKind = iota
	KindSessionInvalid
	KindTwoFactorRequired
	KindResubmission
	KindRateLimited
	KindRedirect
	KindTransient
)

// Classification is the verdict on one raw protocol error
type Classification struct {
	Action     Action
	Kind       ErrorKind
	Reason     string
	Message    string
	RetryAfter int
	Datacenter int
}

// Retryable reports whether the caller should retry the request
func (c Classification) Retryable() bool {
	return c.Action == ActionRetry
}

// Fatal reports whether the session itself must be discarded
func (c Classification) Fatal() bool {
	return c.Action == ActionInvalidateSession
}

// ToError converts a classification into the error the outward boundary
// understands. Unremarkable classifications keep the original error.
func (c Classification) ToError(original error) error {
	switch c.Kind {
	case KindSessionInvalid:
		return pkgerrors.NewSessionInvalidError(c.Message)
	case KindTwoFactorRequired:
		return pkgerrors.NewTwoFactorRequiredError(c.Message)
	case KindRateLimited:
		return pkgerrors.NewTooManyRequestsError(c.Message, c.RetryAfter)
	default:
		return original
	}
}

// Tokens that always mean the auth material is dead. AUTH_RESTART forces a
// full re-login too, the server dropped the negotiated state.
var invalidateTokens = map[string]string{
	"SESSION_REVOKED":       "session revoked by the account owner",
	"SESSION_EXPIRED":       "session expired",
	"AUTH_KEY_UNREGISTERED": "auth key is no longer registered",
	"AUTH_KEY_DUPLICATED":   "auth key used from two connections simultaneously",
	"AUTH_KEY_INVALID":      "auth key rejected",
	"USER_DEACTIVATED":      "account deactivated",
	"USER_DEACTIVATED_BAN":  "account banned and deactivated",
	"PHONE_NUMBER_BANNED":   "phone number banned",
	"AUTH_RESTART":          "server requested auth restart",
}

var twoFactorTokens = map[string]string{
	"SESSION_PASSWORD_NEEDED": "two-factor password required",
	"PASSWORD_HASH_INVALID":   "two-factor password is wrong",
	"PASSWORD_CHANGED":        "two-factor password was changed",
}

// User must fix the input and resubmit; the session attempt stays usable
var resubmissionTokens = map[string]string{
	"PHONE_CODE_INVALID":    "confirmation code is invalid",
	"PHONE_CODE_EXPIRED":    "confirmation code expired",
	"PHONE_CODE_EMPTY":      "confirmation code is empty",
	"PHONE_NUMBER_INVALID":  "phone number format is invalid",
	"PHONE_NUMBER_OCCUPIED": "phone number is already in use",
}

var transientTokens = map[string]string{
	"TIMEOUT":                 "request timed out",
	"RPC_CALL_FAIL":           "internal rpc failure",
	"RPC_MCGET_FAIL":          "internal rpc failure",
	"CONNECTION_NOT_INITED":   "connection not initialized",
	"CONNECTION_SYSTEM_EMPTY": "connection not initialized",
	"INTERNAL":                "internal server error",
	"MSG_WAIT_FAILED":         "dependent request failed",
}

var migratePrefixes = []string{
	"PHONE_MIGRATE_",
	"NETWORK_MIGRATE_",
	"USER_MIGRATE_",
	"FILE_MIGRATE_",
	"STATS_MIGRATE_",
}

// Classify maps a raw protocol error to an action. Matching is by uppercase
// token, with numeric suffixes parsed where the token family carries one.
func Classify(err error) Classification {
	if err == nil {
		return Classification{Action: ActionSafeError, Kind: KindInternal, Reason: "unknown", Message: "unknown error"}
	}

	token, arg, hasArg := normalize(err)

	switch {
	case token == "FLOOD_WAIT" || token == "FLOOD_PREMIUM_WAIT" || token == "SLOWMODE_WAIT":
		if hasArg {
			return Classification{
				Action:     ActionRetry,
				Kind:       KindRateLimited,
				Reason:     "rate limited",
				Message:    "rate limited, retry after " + strconv.Itoa(arg) + "s",
				RetryAfter: arg,
			}
		}
		return Classification{Action: ActionRetry, Kind: KindRateLimited, Reason: "rate limited", Message: "rate limited"}

	case token == "PHONE_NUMBER_FLOOD" || token == "PHONE_PASSWORD_FLOOD":
		return Classification{
			Action:  ActionSafeError,
			Kind:    KindRateLimited,
			Reason:  "too many requests",
			Message: "too many requests for this phone number",
		}
	}

	if dc, ok := migrateTarget(token, arg, hasArg); ok {
		return Classification{
			Action:     ActionRetry,
			Kind:       KindRedirect,
			Reason:     "datacenter migration",
			Message:    "redirected to datacenter " + strconv.Itoa(dc),
			Datacenter: dc,
		}
	}

	if msg, ok := invalidateTokens[token]; ok {
		return Classification{Action: ActionInvalidateSession, Kind: KindSessionInvalid, Reason: strings.ToLower(token), Message: msg}
	}
	if msg, ok := twoFactorTokens[token]; ok {
		return Classification{Action: ActionRequire2FA, Kind: KindTwoFactorRequired, Reason: strings.ToLower(token), Message: msg}
	}
	if msg, ok := resubmissionTokens[token]; ok {
		return Classification{Action: ActionSafeError, Kind: KindResubmission, Reason: strings.ToLower(token), Message: msg}
	}
	if msg, ok := transientTokens[token]; ok {
		return Classification{Action: ActionRetry, Kind: KindTransient, Reason: strings.ToLower(token), Message: msg}
	}

	return Classification{Action: ActionSafeError, Kind: KindInternal, Reason: "unclassified", Message: err.Error()}
}

// normalize extracts the uppercase token and optional numeric suffix from a
// protocol error. Typed rpc errors expose them directly; anything else is
// parsed out of the error text.
func normalize(err error) (token string, arg int, hasArg bool) {
	if rpcErr, ok := tgerr.As(err); ok {
		// Argument 0 is a legitimate explicit value (FLOOD_WAIT_0). The
		// message differs from the bare type exactly when a parameter was
		// present, so compare those instead of the argument.
		return rpcErr.Type, rpcErr.Argument, rpcErr.Message != rpcErr.Type
	}
	return parseToken(err.Error())
}

func parseToken(text string) (string, int, bool) {
	text = strings.ToUpper(strings.TrimSpace(text))

	// Token is the longest run of [A-Z0-9_] in the message
	best := ""
	current := strings.Builder{}
	flush := func() {
		if current.Len() > len(best) {
			best = current.String()
		}
		current.Reset()
	}
	for _, r := range text {
		if (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9') || r == '_' {
			current.WriteRune(r)
		} else {
			flush()
		}
	}
	flush()
	if best == "" {
		return text, 0, false
	}

	// Split a trailing numeric parameter off the token
	if idx := strings.LastIndex(best, "_"); idx > 0 {
		if n, err := strconv.Atoi(best[idx+1:]); err == nil {
			return best[:idx], n, true
		}
	}
	return best, 0, false
}

func migrateTarget(token string, arg int, hasArg bool) (int, bool) {
	if !hasArg {
		return 0, false
	}
	for _, prefix := range migratePrefixes {
		if token == strings.TrimSuffix(prefix, "_") {
			return arg, true
		}
	}
	return 0, false
}
