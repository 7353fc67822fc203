package token

import (
	"errors"
	"fmt"
	"strings"

	"golang.org/x/oauth2"
)

var (
	// ErrReauthRequired means the stored grant can no longer mint access tokens; the user must reconnect.
	ErrReauthRequired = errors.New("re-authorization required")

	// ErrRefreshUnavailable means the provider could not be reached or failed transiently; the account stays active.
	ErrRefreshUnavailable = errors.New("token refresh temporarily unavailable")

	// ErrUnknownProvider means no token provider is registered for the account's provider.
	ErrUnknownProvider = errors.New("unknown token provider")
)

// CredentialError reports why no valid token could be produced for an account.
type CredentialError struct {
	AccountID string
	Reason    string
	Err       error
}

func (e *CredentialError) Error() string {
	if e.Reason == "" {
		return fmt.Sprintf("account %s: %v", e.AccountID, e.Err)
	}
	return fmt.Sprintf("account %s: %v: %s", e.AccountID, e.Err, e.Reason)
}

func (e *CredentialError) Unwrap() error { return e.Err }

// IsReauthRequired reports whether err demands the user reconnect the account.
func IsReauthRequired(err error) bool {
	return errors.Is(err, ErrReauthRequired)
}

var permanentErrorCodes = map[string]bool{
	"invalid_grant":       true,
	"invalid_client":      true,
	"unauthorized_client": true,
}

func isPermanentRefreshError(err error) bool {
	if err == nil {
		return false
	}
	var re *oauth2.RetrieveError
	if errors.As(err, &re) && permanentErrorCodes[re.ErrorCode] {
		return true
	}
	msg := strings.ToLower(err.Error())
	permanentMarkers := []string{
		"invalid_grant",
		"invalid_client",
		"unauthorized_client",
		"token has been expired or revoked",
		"revoked",
	}
	for _, marker := range permanentMarkers {
		if strings.Contains(msg, marker) {
			return true
		}
	}
	return false
}
