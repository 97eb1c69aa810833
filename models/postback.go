package models

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// UnknownIntentID is stored when a postback carries no intentId.
const UnknownIntentID = "unknown_intent"

// Postback is one received webhook call. Rows are never updated; they are
// removed only by capacity eviction or daily rotation.
type Postback struct {
	ID              uint           `json:"id" gorm:"primaryKey"`
	Ref             string         `json:"ref" gorm:"size:36;uniqueIndex"`
	OwnerID         *string        `json:"owner_id,omitempty" gorm:"size:128;index:idx_postbacks_owner_received,priority:1"`
	TransactionType string         `json:"transaction_type" gorm:"size:50;not null"`
	TransactionID   *string        `json:"transaction_id" gorm:"size:100;index"`
	IntentID        string         `json:"intent_id" gorm:"size:100;not null;index"`
	Amount          *string        `json:"amount,omitempty" gorm:"size:20"`
	Currency        *string        `json:"currency,omitempty" gorm:"size:10"`
	Status          string         `json:"status" gorm:"size:50;not null"`
	Payload         datatypes.JSON `json:"payload"`
	Headers         datatypes.JSON `json:"headers"`
	ReceivedAt      time.Time      `json:"received_at" gorm:"not null;index:idx_postbacks_owner_received,priority:2"`
}

func (postback *Postback) BeforeCreate(tx *gorm.DB) (err error) {
	if postback.Ref == "" {
		postback.Ref = uuid.NewString()
	}
	return
}

// HeaderMap decodes the stored (already redacted) headers.
func (postback *Postback) HeaderMap() map[string]string {
	out := map[string]string{}
	if len(postback.Headers) == 0 {
		return out
	}
	_ = json.Unmarshal(postback.Headers, &out)
	return out
}

// IsAnonymous reports whether the postback belongs to no registered identity.
func (postback *Postback) IsAnonymous() bool {
	return postback.OwnerID == nil || *postback.OwnerID == ""
}
