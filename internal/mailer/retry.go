package mailer

import (
	"encoding/json"
	"net/http"
	"strconv"
	"time"
)

// googleError is the structured error body of Google APIs.
type googleError struct {
	Error struct {
		Code    int    `json:"code"`
		Message string `json:"message"`
		Status  string `json:"status"`
		Errors  []struct {
			Reason  string `json:"reason"`
			Message string `json:"message"`
		} `json:"errors"`
		Details []struct {
			Type       string            `json:"@type"`
			Reason     string            `json:"reason"`
			Metadata   map[string]string `json:"metadata"`
			RetryDelay string            `json:"retryDelay"` // e.g. "3.5s"
		} `json:"details"`
	} `json:"error"`
}

// ParseRetryDelay extracts a retry duration from a throttled response. It checks the
// Retry-After header first (seconds or HTTP date), then Google's retryDelay details.
// Returns 0 if no retry information is found.
func ParseRetryDelay(header http.Header, body []byte, now time.Time) time.Duration {
	if retryAfter := header.Get("Retry-After"); retryAfter != "" {
		if seconds, err := strconv.Atoi(retryAfter); err == nil && seconds >= 0 {
			return time.Duration(seconds) * time.Second
		}
		if t, err := http.ParseTime(retryAfter); err == nil {
			if d := t.Sub(now); d > 0 {
				return d
			}
			return 0
		}
	}

	if len(body) == 0 {
		return 0
	}
	var errInfo googleError
	if err := json.Unmarshal(body, &errInfo); err != nil {
		return 0
	}
	for _, detail := range errInfo.Error.Details {
		if detail.RetryDelay != "" {
			if d, err := time.ParseDuration(detail.RetryDelay); err == nil {
				return d
			}
		}
		if delay, ok := detail.Metadata["retryDelay"]; ok {
			if d, err := time.ParseDuration(delay); err == nil {
				return d
			}
		}
	}
	return 0
}

// googleReasons lists the error reasons of a Google API error body.
func googleReasons(body []byte) []string {
	var errInfo googleError
	if err := json.Unmarshal(body, &errInfo); err != nil {
		return nil
	}
	var reasons []string
	for _, e := range errInfo.Error.Errors {
		reasons = append(reasons, e.Reason)
	}
	for _, d := range errInfo.Error.Details {
		if d.Reason != "" {
			reasons = append(reasons, d.Reason)
		}
	}
	return reasons
}

// graphErrorCode returns error.code of a Microsoft Graph error body.
func graphErrorCode(body []byte) string {
	var errInfo struct {
		Error struct {
			Code    string `json:"code"`
			Message string `json:"message"`
		} `json:"error"`
	}
	if err := json.Unmarshal(body, &errInfo); err != nil {
		return ""
	}
	return errInfo.Error.Code
}
