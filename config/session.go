package config

import (
	"net/url"
	"strconv"
	"sync"

	"terminalconnect-backend/models"
)

// maxSessions bounds the cache; cookie-less clients open a new session per request.
const maxSessions = 10000

// SessionContexts backfills request contexts from the deployment defaults.
// The backfill runs once per session; later requests in the same session
// reuse the cached values for any field they leave empty.
type SessionContexts struct {
	defaults      models.Context
	publicBaseURL string

	mu       sync.Mutex
	sessions map[string]models.Context
}

func NewSessionContexts(defaults models.Context, publicBaseURL string) *SessionContexts {
	return &SessionContexts{
		defaults:      defaults,
		publicBaseURL: publicBaseURL,
		sessions:      make(map[string]models.Context),
	}
}

// Resolve merges the request-supplied context with the session's cached
// context. owner is the authenticated identity, empty for anonymous sessions;
// it only affects the derived default postback URL.
func (s *SessionContexts) Resolve(sessionID, owner string, supplied models.Context) models.Context {
	s.mu.Lock()
	cached, ok := s.sessions[sessionID]
	if !ok {
		cached = s.defaults
		if cached.PostbackURL == "" {
			cached.PostbackURL = DefaultPostbackURL(s.publicBaseURL, owner)
		}
		if len(s.sessions) >= maxSessions {
			s.sessions = make(map[string]models.Context)
		}
		s.sessions[sessionID] = cached
	}
	s.mu.Unlock()

	return supplied.Merge(cached)
}

// Forget drops a session's cached context.
func (s *SessionContexts) Forget(sessionID string) {
	s.mu.Lock()
	delete(s.sessions, sessionID)
	s.mu.Unlock()
}

// DefaultPostbackURL points the gateway back at this service's ingestion endpoint.
func DefaultPostbackURL(publicBaseURL, owner string) string {
	if publicBaseURL == "" {
		return ""
	}
	if owner != "" {
		return publicBaseURL + "/postback/" + url.PathEscape(owner)
	}
	return publicBaseURL + "/postback"
}

// WithDelay appends delay=<seconds> to a postback URL when delay > 0.
func WithDelay(postbackURL string, delay int) string {
	if delay <= 0 || postbackURL == "" {
		return postbackURL
	}
	u, err := url.Parse(postbackURL)
	if err != nil {
		return postbackURL
	}
	q := u.Query()
	q.Set("delay", strconv.Itoa(delay))
	u.RawQuery = q.Encode()
	return u.String()
}
