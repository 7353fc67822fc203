package mailer

import (
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/pysugar/outreach-nexus/internal/util"
)

var throttleReasons = map[string]bool{
	"rateLimitExceeded":         true,
	"userRateLimitExceeded":     true,
	"dailyLimitExceeded":        true,
	"quotaExceeded":             true,
	"RATE_LIMIT_EXCEEDED":       true,
	"ErrorExceededMessageLimit": true,
	"ApplicationThrottled":      true,
	"MailboxConcurrency":        true,
	"ErrorServerBusy":           true,
	"ErrorTooManyObjectsOpened": true,
}

// classifyResponse maps a provider response to nil, *TransientError or *PermanentError.
func classifyResponse(resp *http.Response, body []byte, now time.Time) error {
	code := resp.StatusCode
	if code >= 200 && code < 300 {
		return nil
	}
	reason := errorMessage(body)

	transient := func() error {
		return &TransientError{
			StatusCode: code,
			RetryAfter: ParseRetryDelay(resp.Header, body, now),
			Err:        errors.New(reason),
		}
	}

	switch {
	case code == http.StatusTooManyRequests, code >= 500, code == http.StatusRequestTimeout:
		return transient()
	case code == http.StatusUnauthorized:
		// Expired between refresh and send, or revoked before its expiry.
		return &TransientError{StatusCode: code, Unauthorized: true, Err: errors.New(reason)}
	case code == http.StatusForbidden && throttled(body):
		return transient()
	}
	return &PermanentError{StatusCode: code, Reason: reason}
}

func throttled(body []byte) bool {
	for _, r := range googleReasons(body) {
		if throttleReasons[r] {
			return true
		}
	}
	return throttleReasons[graphErrorCode(body)]
}

// errorMessage extracts a human readable message from a Google or Graph error body.
func errorMessage(body []byte) string {
	var e struct {
		Error json.RawMessage `json:"error"`
	}
	if err := json.Unmarshal(body, &e); err == nil && len(e.Error) > 0 {
		var obj struct {
			Code    json.RawMessage `json:"code"`
			Message string          `json:"message"`
		}
		if err := json.Unmarshal(e.Error, &obj); err == nil && obj.Message != "" {
			return obj.Message
		}
		var s string
		if err := json.Unmarshal(e.Error, &s); err == nil && s != "" {
			return s
		}
	}
	if len(body) == 0 {
		return "empty response"
	}
	return util.TruncateLog(string(body), 256)
}

// classifyTransport maps an error from http.Client.Do. Failures before the connection was
// established cannot have delivered anything; everything else may have.
func classifyTransport(err error) error {
	ambiguous := true
	var opErr *net.OpError
	var dnsErr *net.DNSError
	switch {
	case errors.As(err, &dnsErr):
		ambiguous = false
	case errors.As(err, &opErr) && opErr.Op == "dial":
		ambiguous = false
	}
	return &TransientError{Ambiguous: ambiguous, Err: fmt.Errorf("request failed: %w", err)}
}
