package bot

import (
	"sync"
	"time"

	"github.com/google/uuid"

	kit "chatwarden/internal/transport"
)

// DefaultSessionTTL bounds how long a /news_setup dialog waits for input.
const DefaultSessionTTL = 10 * time.Minute

type setupStep int

const (
	stepChannel setupStep = iota + 1
	stepTopics
	stepSchedule
)

func (s setupStep) String() string {
	switch s {
	case stepChannel:
		return "channel"
	case stepTopics:
		return "topics"
	case stepSchedule:
		return "schedule"
	}
	return "unknown"
}

type sessionKey struct {
	chatID, userID int64
}

// setupSession is one user's /news_setup dialog in one chat.
type setupSession struct {
	ID      string
	Step    setupStep
	Channel kit.Chat
	Topics  []string
	Expires time.Time
}

// sessions holds dialog state keyed by (chat, user). Expired entries are
// invisible and removed by Prune.
type sessions struct {
	ttl time.Duration
	now func() time.Time

	mu sync.Mutex
	m  map[sessionKey]*setupSession
}

func newSessions(ttl time.Duration) *sessions {
	if ttl <= 0 {
		ttl = DefaultSessionTTL
	}
	return &sessions{ttl: ttl, now: time.Now, m: map[sessionKey]*setupSession{}}
}

// start replaces any dialog of the user in chat with a fresh one.
func (s *sessions) start(chatID, userID int64) setupSession {
	sess := &setupSession{ID: uuid.NewString(), Step: stepChannel, Expires: s.now().Add(s.ttl)}
	s.mu.Lock()
	s.m[sessionKey{chatID, userID}] = sess
	s.mu.Unlock()
	return *sess
}

func (s *sessions) get(chatID, userID int64) (setupSession, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	k := sessionKey{chatID, userID}
	sess, ok := s.m[k]
	if !ok {
		return setupSession{}, false
	}
	if !s.now().Before(sess.Expires) {
		delete(s.m, k)
		return setupSession{}, false
	}
	return *sess, true
}

// update applies fn to a live session with the given id and extends its TTL.
func (s *sessions) update(chatID, userID int64, id string, fn func(*setupSession)) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess, ok := s.m[sessionKey{chatID, userID}]
	if !ok || sess.ID != id || !s.now().Before(sess.Expires) {
		return false
	}
	fn(sess)
	sess.Expires = s.now().Add(s.ttl)
	return true
}

// end removes the session if id matches (any id when empty).
func (s *sessions) end(chatID, userID int64, id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	k := sessionKey{chatID, userID}
	sess, ok := s.m[k]
	if !ok || (id != "" && sess.ID != id) {
		return false
	}
	delete(s.m, k)
	return true
}

func (s *sessions) prune() int {
	now := s.now()
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for k, sess := range s.m {
		if !now.Before(sess.Expires) {
			delete(s.m, k)
			n++
		}
	}
	return n
}

func (s *sessions) len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.m)
}
