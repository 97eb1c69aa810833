package gateway

import (
	"net/url"

	"terminalconnect-backend/models"
)

// CreateIntentPath is POST /merchant/{mid}/intent/{payment|refund|reversal}.
func CreateIntentPath(mid string, kind models.IntentKind) string {
	return "/merchant/" + url.PathEscape(mid) + "/intent/" + string(kind)
}

// IntentPath is GET /merchant/{mid}/intent/{id}.
func IntentPath(mid, intentID string) string {
	return "/merchant/" + url.PathEscape(mid) + "/intent/" + url.PathEscape(intentID)
}

// ProcessPath is POST /merchant/{mid}/intent/{id}/process.
func ProcessPath(mid, intentID string) string {
	return IntentPath(mid, intentID) + "/process"
}
