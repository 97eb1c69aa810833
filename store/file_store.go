package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"terminalconnect-backend/models"
)

// AnonymousCapacity is the number of anonymous postbacks kept.
const AnonymousCapacity = 50

const dateLayout = "2006-01-02"

type fileState struct {
	RotatedOn string            `json:"rotated_on"`
	Postbacks []models.Postback `json:"postbacks"` // oldest first
}

// FileStore keeps anonymous postbacks in a single JSON file. It holds at
// most AnonymousCapacity entries and is emptied whenever it is accessed on
// a UTC date different from the one it was last rotated on.
type FileStore struct {
	path     string
	capacity int
	now      func() time.Time
	logger   *zap.Logger

	mu    sync.RWMutex
	state fileState
}

type FileOption func(*FileStore)

func WithFileClock(now func() time.Time) FileOption {
	return func(s *FileStore) { s.now = now }
}

func WithFileCapacity(n int) FileOption {
	return func(s *FileStore) {
		if n > 0 {
			s.capacity = n
		}
	}
}

func WithFileLogger(l *zap.Logger) FileOption {
	return func(s *FileStore) { s.logger = l }
}

// OpenFileStore loads path if it exists. An empty path keeps everything in
// memory. An unreadable file is logged and replaced by an empty store.
func OpenFileStore(path string, opts ...FileOption) (*FileStore, error) {
	s := &FileStore{
		path:     path,
		capacity: AnonymousCapacity,
		now:      time.Now,
		logger:   zap.NewNop(),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.state.RotatedOn = s.today()

	if path == "" {
		return s, nil
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrStorage, err)
	}
	raw, err := os.ReadFile(path)
	switch {
	case errors.Is(err, os.ErrNotExist):
		return s, nil
	case err != nil:
		return nil, fmt.Errorf("%w: %w", ErrStorage, err)
	}
	var loaded fileState
	if err := json.Unmarshal(raw, &loaded); err != nil {
		s.logger.Warn("discarding unreadable anonymous postback file", zap.String("path", path), zap.Error(err))
		return s, nil
	}
	if loaded.RotatedOn != "" {
		s.state = loaded
	}
	return s, nil
}

func (s *FileStore) today() string {
	return s.now().UTC().Format(dateLayout)
}

// RotatedOn returns the UTC date of the last rotation.
func (s *FileStore) RotatedOn() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state.RotatedOn
}

// rotateLocked clears the store if the day changed. Caller holds mu for writing.
func (s *FileStore) rotateLocked() error {
	today := s.today()
	if s.state.RotatedOn == today {
		return nil
	}
	s.logger.Info("rotating anonymous postbacks",
		zap.String("rotated_on", s.state.RotatedOn),
		zap.String("today", today),
		zap.Int("dropped", len(s.state.Postbacks)),
	)
	s.state = fileState{RotatedOn: today}
	return s.persistLocked()
}

func (s *FileStore) persistLocked() error {
	if s.path == "" {
		return nil
	}
	raw, err := json.Marshal(s.state)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrStorage, err)
	}
	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, raw, 0o644); err != nil {
		return fmt.Errorf("%w: %w", ErrStorage, err)
	}
	if err := os.Rename(tmp, s.path); err != nil {
		return fmt.Errorf("%w: %w", ErrStorage, err)
	}
	return nil
}

func (s *FileStore) Insert(ctx context.Context, postback *models.Postback) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.rotateLocked(); err != nil {
		return err
	}
	if postback.Ref == "" {
		postback.Ref = uuid.NewString()
	}
	postback.OwnerID = nil

	prev := s.state.Postbacks
	next := append(prev[:len(prev):len(prev)], *postback)
	if len(next) > s.capacity {
		next = next[len(next)-s.capacity:]
	}
	s.state.Postbacks = next
	if err := s.persistLocked(); err != nil {
		s.state.Postbacks = prev
		return err
	}
	return nil
}

func (s *FileStore) List(ctx context.Context, q Query) (Page, error) {
	s.mu.RLock()
	for s.state.RotatedOn != s.today() {
		s.mu.RUnlock()
		s.mu.Lock()
		err := s.rotateLocked()
		s.mu.Unlock()
		if err != nil {
			return Page{}, err
		}
		s.mu.RLock()
	}
	defer s.mu.RUnlock()

	var hits []models.Postback
	for i := len(s.state.Postbacks) - 1; i >= 0; i-- {
		if matches(&s.state.Postbacks[i], q.Search) {
			hits = append(hits, s.state.Postbacks[i])
		}
	}
	page := Page{Total: int64(len(hits)), Items: []models.Postback{}}
	if q.Offset < 0 {
		q.Offset = 0
	}
	if q.Offset >= len(hits) {
		return page, nil
	}
	end := len(hits)
	if q.Limit > 0 && q.Offset+q.Limit < end {
		end = q.Offset + q.Limit
	}
	page.Items = hits[q.Offset:end]
	return page, nil
}
