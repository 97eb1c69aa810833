package store

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"go.uber.org/zap"
	"gorm.io/gorm"

	"terminalconnect-backend/models"
)

// IdentityCapacity is the number of postbacks kept per registered identity.
const IdentityCapacity = 10000

// IdentityStore keeps postbacks of registered identities in the database,
// at most IdentityCapacity per identity, evicting the oldest first.
type IdentityStore struct {
	db       *gorm.DB
	capacity int
	logger   *zap.Logger

	locks sync.Map // owner -> *sync.Mutex
}

type IdentityOption func(*IdentityStore)

func WithIdentityCapacity(n int) IdentityOption {
	return func(s *IdentityStore) {
		if n > 0 {
			s.capacity = n
		}
	}
}

func WithIdentityLogger(l *zap.Logger) IdentityOption {
	return func(s *IdentityStore) { s.logger = l }
}

func NewIdentityStore(db *gorm.DB, opts ...IdentityOption) *IdentityStore {
	s := &IdentityStore{db: db, capacity: IdentityCapacity, logger: zap.NewNop()}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// ForOwner returns the store view for one identity.
func (s *IdentityStore) ForOwner(owner string) PostbackStore {
	return &ownerStore{parent: s, owner: owner}
}

// lockFor serialises writes per identity so count-evict-insert stays atomic
// with respect to other writers of the same identity.
func (s *IdentityStore) lockFor(owner string) *sync.Mutex {
	mu, _ := s.locks.LoadOrStore(owner, &sync.Mutex{})
	return mu.(*sync.Mutex)
}

type ownerStore struct {
	parent *IdentityStore
	owner  string
}

func (o *ownerStore) Insert(ctx context.Context, postback *models.Postback) error {
	s := o.parent
	mu := s.lockFor(o.owner)
	mu.Lock()
	defer mu.Unlock()

	owner := o.owner
	postback.OwnerID = &owner

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var count int64
		if err := tx.Model(&models.Postback{}).Where("owner_id = ?", o.owner).Count(&count).Error; err != nil {
			return err
		}
		if excess := count - int64(s.capacity) + 1; excess > 0 {
			var ids []uint
			if err := tx.Model(&models.Postback{}).
				Where("owner_id = ?", o.owner).
				Order("received_at ASC, id ASC").
				Limit(int(excess)).
				Pluck("id", &ids).Error; err != nil {
				return err
			}
			if len(ids) > 0 {
				if err := tx.Delete(&models.Postback{}, ids).Error; err != nil {
					return err
				}
				s.logger.Debug("evicted postbacks", zap.String("owner", o.owner), zap.Int("count", len(ids)))
			}
		}
		return tx.Create(postback).Error
	})
	if err != nil {
		return fmt.Errorf("%w: %w", ErrStorage, err)
	}
	return nil
}

func (o *ownerStore) List(ctx context.Context, q Query) (Page, error) {
	page := Page{Items: []models.Postback{}}
	err := o.parent.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		base := tx.Model(&models.Postback{}).Where("owner_id = ?", o.owner)
		if term := strings.TrimSpace(q.Search); term != "" {
			like := "%" + escapeLike(strings.ToLower(term)) + "%"
			base = base.Where(
				`(LOWER(intent_id) LIKE ? ESCAPE '\' OR LOWER(COALESCE(transaction_id, '')) LIKE ? ESCAPE '\' OR LOWER(CAST(payload AS TEXT)) LIKE ? ESCAPE '\')`,
				like, like, like,
			)
		}
		if err := base.Session(&gorm.Session{}).Count(&page.Total).Error; err != nil {
			return err
		}
		find := base.Session(&gorm.Session{}).Order("received_at DESC, id DESC")
		if q.Offset > 0 {
			find = find.Offset(q.Offset)
		}
		if q.Limit > 0 {
			find = find.Limit(q.Limit)
		}
		return find.Find(&page.Items).Error
	})
	if err != nil {
		return Page{}, fmt.Errorf("%w: %w", ErrStorage, err)
	}
	return page, nil
}

func escapeLike(s string) string {
	r := strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)
	return r.Replace(s)
}
