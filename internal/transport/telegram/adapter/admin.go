package adapter

import (
	"context"
	"errors"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	tele "gopkg.in/telebot.v4"

	kit "chatwarden/internal/transport"
)

var errBadChatRef = errors.New("chat reference must be a numeric id, @username or t.me link")

// BanMember bans userID from chatID and revokes their messages.
func (a *Adapter) BanMember(ctx context.Context, chatID, userID int64) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	member := &tele.ChatMember{User: &tele.User{ID: userID}}
	if err := a.bot.Ban(&tele.Chat{ID: chatID}, member, true); err != nil {
		return classify(err)
	}
	a.admins.forget(chatID, userID)
	return nil
}

// IsAdmin reports whether userID is the creator or an administrator of
// chatID. Answers are cached for AdminCacheTTL.
func (a *Adapter) IsAdmin(ctx context.Context, chatID, userID int64) (bool, error) {
	if ok, hit := a.admins.get(chatID, userID); hit {
		return ok, nil
	}
	if err := ctx.Err(); err != nil {
		return false, err
	}
	m, err := a.bot.ChatMemberOf(&tele.Chat{ID: chatID}, &tele.User{ID: userID})
	if err != nil {
		return false, classify(err)
	}
	ok := m.Role == tele.Creator || m.Role == tele.Administrator
	a.admins.put(chatID, userID, ok)
	return ok, nil
}

// ResolveChat looks a chat up by numeric id, @username or t.me link.
func (a *Adapter) ResolveChat(ctx context.Context, ref string) (kit.Chat, error) {
	id, username, err := ParseChatRef(ref)
	if err != nil {
		return kit.Chat{}, err
	}
	if err := ctx.Err(); err != nil {
		return kit.Chat{}, err
	}
	var c *tele.Chat
	if username != "" {
		c, err = a.bot.ChatByUsername("@" + username)
	} else {
		c, err = a.bot.ChatByID(id)
	}
	if err != nil {
		return kit.Chat{}, classify(err)
	}
	return kit.Chat{ID: c.ID, Title: c.Title, Username: c.Username, Type: string(c.Type)}, nil
}

// ParseChatRef splits a chat reference into a numeric id or a username
// without the leading "@".
func ParseChatRef(ref string) (id int64, username string, err error) {
	ref = strings.TrimSpace(ref)
	if ref == "" {
		return 0, "", errBadChatRef
	}
	if n, perr := strconv.ParseInt(ref, 10, 64); perr == nil {
		return n, "", nil
	}
	if strings.HasPrefix(ref, "@") {
		ref = ref[1:]
	} else if u, perr := url.Parse(ensureScheme(ref)); perr == nil && isTMeHost(u.Host) {
		ref = strings.Trim(u.Path, "/")
		if i := strings.IndexByte(ref, '/'); i >= 0 {
			ref = ref[:i]
		}
	} else {
		return 0, "", errBadChatRef
	}
	if !validUsername(ref) {
		return 0, "", errBadChatRef
	}
	return 0, ref, nil
}

func ensureScheme(s string) string {
	if strings.Contains(s, "://") {
		return s
	}
	return "https://" + s
}

func isTMeHost(h string) bool {
	h = strings.ToLower(h)
	return h == "t.me" || h == "telegram.me" || h == "www.t.me"
}

func validUsername(s string) bool {
	if len(s) < 4 || len(s) > 32 {
		return false
	}
	for _, r := range s {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '_':
		default:
			return false
		}
	}
	return true
}

type adminKey struct {
	chat, user int64
}

type adminEntry struct {
	ok  bool
	exp time.Time
}

type adminCache struct {
	ttl time.Duration
	now func() time.Time

	mu sync.Mutex
	m  map[adminKey]adminEntry
}

func newAdminCache(ttl time.Duration) *adminCache {
	return &adminCache{ttl: ttl, now: time.Now, m: map[adminKey]adminEntry{}}
}

func (c *adminCache) get(chat, user int64) (ok, hit bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, found := c.m[adminKey{chat, user}]
	if !found {
		return false, false
	}
	if c.now().After(e.exp) {
		delete(c.m, adminKey{chat, user})
		return false, false
	}
	return e.ok, true
}

func (c *adminCache) put(chat, user int64, ok bool) {
	c.mu.Lock()
	c.m[adminKey{chat, user}] = adminEntry{ok: ok, exp: c.now().Add(c.ttl)}
	c.mu.Unlock()
}

func (c *adminCache) forget(chat, user int64) {
	c.mu.Lock()
	delete(c.m, adminKey{chat, user})
	c.mu.Unlock()
}
