package services

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"
	"gorm.io/datatypes"

	"terminalconnect-backend/events"
	"terminalconnect-backend/models"
	"terminalconnect-backend/store"
	"terminalconnect-backend/utils"
)

// RedactedValue replaces the value of sensitive headers.
const RedactedValue = "[REDACTED]"

const unknownField = "unknown"

// StoreSelector returns the postback store for an owner ("" = anonymous).
type StoreSelector interface {
	For(owner string) store.PostbackStore
}

// IngestRequest is one inbound webhook call.
type IngestRequest struct {
	Body         []byte
	Headers      map[string]string
	RouteOwner   string
	SessionOwner string
	DelaySeconds int
}

// PostbackService ingests gateway callbacks and serves them back for display.
type PostbackService struct {
	stores    StoreSelector
	publisher events.Publisher
	logger    *zap.Logger

	// delayUnit scales DelaySeconds; tests shrink it.
	delayUnit time.Duration
	sleep     func(time.Duration)
	now       func() time.Time
}

type PostbackOption func(*PostbackService)

func WithDelayUnit(d time.Duration) PostbackOption {
	return func(s *PostbackService) { s.delayUnit = d }
}

func WithSleeper(sleep func(time.Duration)) PostbackOption {
	return func(s *PostbackService) { s.sleep = sleep }
}

func WithClock(now func() time.Time) PostbackOption {
	return func(s *PostbackService) { s.now = now }
}

func WithPublisher(p events.Publisher) PostbackOption {
	return func(s *PostbackService) { s.publisher = p }
}

func NewPostbackService(stores StoreSelector, logger *zap.Logger, opts ...PostbackOption) *PostbackService {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &PostbackService{
		stores:    stores,
		publisher: events.Nop{},
		logger:    logger,
		delayUnit: time.Second,
		sleep:     time.Sleep,
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// ResolveOwner prefers the identity embedded in the route over the session's.
func ResolveOwner(routeOwner, sessionOwner string) string {
	if o := strings.TrimSpace(routeOwner); o != "" {
		return o
	}
	return strings.TrimSpace(sessionOwner)
}

// RedactHeaders masks Authorization (any case) and copies everything else.
func RedactHeaders(headers map[string]string) map[string]string {
	out := make(map[string]string, len(headers))
	for k, v := range headers {
		if strings.EqualFold(k, "Authorization") {
			v = RedactedValue
		}
		out[k] = v
	}
	return out
}

// Ingest stores one callback. It never fails from the caller's point of
// view; storage problems are logged. The optional delay runs before any
// store lock is taken so concurrent callbacks are not serialised by it.
func (s *PostbackService) Ingest(ctx context.Context, req IngestRequest) {
	owner := ResolveOwner(req.RouteOwner, req.SessionOwner)
	headers := RedactHeaders(req.Headers)

	delay := req.DelaySeconds
	if delay < 0 || delay > utils.MaxPostbackDelay {
		delay = 0
	}
	if delay > 0 {
		s.logger.Info("delaying postback", zap.String("owner", owner), zap.Int("delay_seconds", delay))
		s.sleep(time.Duration(delay) * s.delayUnit)
	}

	postback, err := buildPostback(req.Body, headers, s.now().UTC())
	if err != nil {
		s.logger.Error("postback not stored", zap.String("owner", owner), zap.Error(err))
		return
	}

	if err := s.stores.For(owner).Insert(ctx, postback); err != nil {
		s.logger.Error("postback not stored",
			zap.String("owner", owner),
			zap.String("intent_id", postback.IntentID),
			zap.Error(err),
		)
		return
	}

	if err := s.publisher.PublishPostback(ctx, events.NewPostbackReceived(postback)); err != nil {
		s.logger.Warn("postback event not published", zap.String("intent_id", postback.IntentID), zap.Error(err))
	}
}

// maxListLimit bounds one page of postbacks.
const maxListLimit = 1000

// List returns one page of the owner's postbacks, newest first.
func (s *PostbackService) List(ctx context.Context, owner string, page, perPage int, search string) (store.Page, error) {
	if perPage < 1 {
		perPage = 1
	}
	if perPage > maxListLimit {
		perPage = maxListLimit
	}
	_, offset := utils.PageOffset(page, perPage)
	return s.stores.For(owner).List(ctx, store.Query{
		Offset: offset,
		Limit:  perPage,
		Search: search,
	})
}

// buildPostback extracts the indexed fields. A body that is not valid JSON
// is kept verbatim as a JSON string.
func buildPostback(body []byte, headers map[string]string, receivedAt time.Time) (*models.Postback, error) {
	headerJSON, err := json.Marshal(headers)
	if err != nil {
		return nil, fmt.Errorf("encode headers: %w", err)
	}

	fields := map[string]any{}
	payload := bytes.TrimSpace(body)
	if len(payload) == 0 || !json.Valid(payload) {
		payload, err = json.Marshal(string(body))
		if err != nil {
			return nil, fmt.Errorf("encode payload: %w", err)
		}
	} else {
		dec := json.NewDecoder(bytes.NewReader(payload))
		dec.UseNumber()
		if dec.Decode(&fields) != nil {
			fields = map[string]any{}
		}
	}

	p := &models.Postback{
		TransactionType: textField(fields, "transactionType"),
		IntentID:        textField(fields, "intentId"),
		Status:          textField(fields, "status"),
		TransactionID:   optionalField(fields, "transactionId"),
		Amount:          optionalField(fields, "amount"),
		Currency:        optionalField(fields, "currency"),
		Payload:         datatypes.JSON(payload),
		Headers:         datatypes.JSON(headerJSON),
		ReceivedAt:      receivedAt,
	}
	if p.IntentID == "" {
		p.IntentID = models.UnknownIntentID
	}
	if p.TransactionType == "" {
		p.TransactionType = unknownField
	}
	if p.Status == "" {
		p.Status = unknownField
	}
	return p, nil
}

func textField(m map[string]any, key string) string {
	if v := optionalField(m, key); v != nil {
		return *v
	}
	return ""
}

func optionalField(m map[string]any, key string) *string {
	var s string
	switch v := m[key].(type) {
	case nil:
		return nil
	case string:
		s = v
	case json.Number:
		s = v.String()
	case bool:
		s = fmt.Sprint(v)
	default:
		return nil
	}
	if s == "" {
		return nil
	}
	return &s
}
