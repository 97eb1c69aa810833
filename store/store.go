package store

import (
	"context"
	"errors"
	"strings"

	"terminalconnect-backend/models"
)

// ErrStorage wraps every backend failure.
var ErrStorage = errors.New("postback storage failure")

// Query selects a newest-first page of postbacks. An empty Search matches all.
type Query struct {
	Offset int
	Limit  int
	Search string
}

type Page struct {
	Items []models.Postback `json:"postbacks"`
	Total int64             `json:"total"`
}

// PostbackStore is one owner's view of postback storage.
type PostbackStore interface {
	Insert(ctx context.Context, postback *models.Postback) error
	List(ctx context.Context, q Query) (Page, error)
}

// Selector picks the backend for an owner: the rotating file store for
// anonymous callers, the per-identity store otherwise.
type Selector struct {
	anonymous  *FileStore
	identities *IdentityStore
}

func NewSelector(anonymous *FileStore, identities *IdentityStore) *Selector {
	return &Selector{anonymous: anonymous, identities: identities}
}

func (s *Selector) For(owner string) PostbackStore {
	if owner == "" || s.identities == nil {
		return s.anonymous
	}
	return s.identities.ForOwner(owner)
}

// matches is the in-memory twin of the SQL search clause.
func matches(p *models.Postback, term string) bool {
	term = strings.ToLower(strings.TrimSpace(term))
	if term == "" {
		return true
	}
	if strings.Contains(strings.ToLower(p.IntentID), term) {
		return true
	}
	if p.TransactionID != nil && strings.Contains(strings.ToLower(*p.TransactionID), term) {
		return true
	}
	return strings.Contains(strings.ToLower(string(p.Payload)), term)
}
