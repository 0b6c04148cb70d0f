package connectors

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
)

var (
	// ErrRateLimited is returned for HTTP 429 and the provider's rate limit codes.
	ErrRateLimited = errors.New("exchange: rate limited")
	// ErrAuth covers bad signatures, revoked or expired keys and missing permissions.
	ErrAuth = errors.New("exchange: authentication failed")
	// ErrTransient covers timeouts, transport failures and 5xx responses.
	ErrTransient = errors.New("exchange: transient failure")
	// ErrMalformed marks a payload (or a single record) that could not be decoded.
	ErrMalformed = errors.New("exchange: malformed payload")
)

// BybitErrorCodes maps the retCodes the sync core cares about to readable names.
// 10002 is a timestamp outside the recv window, 10010 an ip missing from the
// key whitelist.
var BybitErrorCodes = map[int]string{
	10001:  "PARAMS_ERROR",
	10002:  "REQUEST_EXPIRED",
	10003:  "INVALID_API_KEY",
	10004:  "SIGN_ERROR",
	10005:  "PERMISSION_DENIED",
	10006:  "TOO_MANY_VISITS",
	10007:  "USER_AUTHENTICATION_FAILED",
	10010:  "UNMATCHED_IP",
	10016:  "SERVER_ERROR",
	10018:  "IP_RATE_LIMIT",
	33004:  "API_KEY_EXPIRED",
	110001: "ORDER_NOT_EXIST",
}

var (
	authCodes      = map[int]bool{10003: true, 10004: true, 10005: true, 10007: true, 10010: true, 33004: true}
	rateLimitCodes = map[int]bool{10006: true, 10018: true}
	transientCodes = map[int]bool{10002: true, 10016: true}
)

// GetErrorMsg returns a readable name for a retCode.
func GetErrorMsg(code int) string {
	if msg, ok := BybitErrorCodes[code]; ok {
		return msg
	}
	return fmt.Sprintf("UNKNOWN_BYBIT_ERROR_%d", code)
}

// ExchangeError is a failed exchange call: either a non-zero retCode in the
// envelope or a non-2xx HTTP status.
type ExchangeError struct {
	Endpoint   string
	HTTPStatus int
	Code       int
	Message    string
}

func (e *ExchangeError) Error() string {
	if e.Code != 0 {
		return fmt.Sprintf("exchange error on %s: code=%d (%s) msg=%s", e.Endpoint, e.Code, GetErrorMsg(e.Code), e.Message)
	}
	return fmt.Sprintf("exchange error on %s: http %d: %s", e.Endpoint, e.HTTPStatus, e.Message)
}

// Is lets callers use errors.Is with the sentinel taxonomy.
func (e *ExchangeError) Is(target error) bool {
	switch target {
	case ErrAuth:
		return authCodes[e.Code] || e.HTTPStatus == http.StatusUnauthorized || e.HTTPStatus == http.StatusForbidden
	case ErrRateLimited:
		return rateLimitCodes[e.Code] || e.HTTPStatus == http.StatusTooManyRequests
	case ErrTransient:
		return transientCodes[e.Code] || e.HTTPStatus >= 500 || e.HTTPStatus == http.StatusRequestTimeout
	}
	return false
}

// authPatterns is the fallback for errors that carry no structured code,
// e.g. a websocket auth reply or a proxy error page.
var authPatterns = []string{
	"invalid api key",
	"api key expired",
	"api key is invalid",
	"invalid signature",
	"signature mismatch",
	"error sign",
	"permission denied",
	"unauthorized",
	"forbidden",
	"ip not in whitelist",
	"unmatched ip",
}

// IsAuthError reports whether err is an authentication or permission failure.
func IsAuthError(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, ErrAuth) {
		return true
	}
	var exErr *ExchangeError
	if errors.As(err, &exErr) && exErr.Code != 0 {
		// a structured code that is not an auth code is trusted as-is
		return false
	}
	msg := strings.ToLower(err.Error())
	for _, p := range authPatterns {
		if strings.Contains(msg, p) {
			return true
		}
	}
	return false
}

// IsRetryable reports whether a job level retry can help.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	if IsAuthError(err) {
		return false
	}
	return errors.Is(err, ErrTransient) || errors.Is(err, ErrRateLimited)
}

type ErrorClass string

const (
	ClassNone      ErrorClass = ""
	ClassTransient ErrorClass = "transient"
	ClassRateLimit ErrorClass = "rate_limited"
	ClassAuth      ErrorClass = "auth"
	ClassMalformed ErrorClass = "malformed"
	ClassProvider  ErrorClass = "provider"
	ClassUnknown   ErrorClass = "unknown"
)

// Classify maps an error to a log friendly class.
func Classify(err error) ErrorClass {
	var exErr *ExchangeError
	switch {
	case err == nil:
		return ClassNone
	case IsAuthError(err):
		return ClassAuth
	case errors.Is(err, ErrRateLimited):
		return ClassRateLimit
	case errors.Is(err, ErrTransient):
		return ClassTransient
	case errors.Is(err, ErrMalformed):
		return ClassMalformed
	case errors.As(err, &exErr):
		return ClassProvider
	default:
		return ClassUnknown
	}
}
