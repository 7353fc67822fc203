package dispatch

import "fmt"

// IdempotencyKey identifies one dispatch attempt of a lead. A retry after a failure gets a new
// key because the lead's attempt counter has moved.
func IdempotencyKey(campaignID, leadID string, attempts int) string {
	return fmt.Sprintf("%s:%s:%d", campaignID, leadID, attempts)
}
