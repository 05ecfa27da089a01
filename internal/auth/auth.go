// Package auth checks Telegram Mini App init data and the admin allow-list.
//
// Init data is a query string signed by Telegram. The signature ("hash") is
// HMAC-SHA256 over the remaining pairs, sorted by key and joined as
// "key=value" lines, keyed by HMAC-SHA256("WebAppData", botToken).
package auth

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"net/url"
	"slices"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/samber/lo"

	"postbot/internal/errors"
)

const (
	SignatureKey = "hash"
	secretLabel  = "WebAppData"
)

var (
	ErrBadSignature = errors.Mark(errors.New("init data signature mismatch"), errors.ErrAuthDenied)
	ErrExpired      = errors.Mark(errors.New("init data expired"), errors.ErrAuthDenied)
	ErrNoUser       = errors.Mark(errors.New("init data carries no user"), errors.ErrAuthDenied)
)

// User is the subset of the WebApp user object we read.
type User struct {
	ID        int64  `json:"id"`
	Username  string `json:"username,omitempty"`
	FirstName string `json:"first_name,omitempty"`
}

// Session is what a verified request proves about its sender.
type Session struct {
	UserID   string
	User     User
	AuthDate time.Time
}

type Verifier struct {
	secret []byte
	maxAge time.Duration
	now    func() time.Time

	mu     sync.RWMutex
	admins map[string]struct{}
}

type Option func(*Verifier)

// WithMaxAge rejects init data whose auth_date is older than d. 0 disables.
func WithMaxAge(d time.Duration) Option { return func(v *Verifier) { v.maxAge = d } }

func WithAdmins(ids []int64) Option { return func(v *Verifier) { v.admins = adminSet(ids) } }

func WithClock(now func() time.Time) Option { return func(v *Verifier) { v.now = now } }

func NewVerifier(botToken string, opts ...Option) *Verifier {
	v := &Verifier{
		secret: deriveSecret(botToken),
		now:    time.Now,
		admins: map[string]struct{}{},
	}
	for _, o := range opts {
		o(v)
	}
	return v
}

func deriveSecret(botToken string) []byte {
	m := hmac.New(sha256.New, []byte(secretLabel))
	m.Write([]byte(botToken))
	return m.Sum(nil)
}

// Sign returns the hex signature for payload, ignoring any SignatureKey entry.
func (v *Verifier) Sign(payload map[string]string) string {
	m := hmac.New(sha256.New, v.secret)
	m.Write([]byte(dataCheckString(payload)))
	return hex.EncodeToString(m.Sum(nil))
}

func dataCheckString(payload map[string]string) string {
	keys := lo.Without(lo.Keys(payload), SignatureKey)
	slices.Sort(keys)
	lines := lo.Map(keys, func(k string, _ int) string { return k + "=" + payload[k] })
	return strings.Join(lines, "\n")
}

// Verify reports whether payload carries a valid signature. It never panics
// and never errors: anything unparsable is simply false.
func (v *Verifier) Verify(payload map[string]string) bool {
	sig, ok := payload[SignatureKey]
	if !ok || sig == "" {
		return false
	}
	got, err := hex.DecodeString(strings.ToLower(sig))
	if err != nil {
		return false
	}
	want, _ := hex.DecodeString(v.Sign(payload))
	return hmac.Equal(got, want)
}

// VerifyInitData parses a raw init data query string, checks its signature
// and age, and extracts the sender. Every failure is marked ErrAuthDenied.
func (v *Verifier) VerifyInitData(raw string) (Session, error) {
	q, err := url.ParseQuery(strings.TrimSpace(raw))
	if err != nil {
		return Session{}, errors.Mark(errors.Wrap(err, "parse init data"), errors.ErrAuthDenied)
	}
	payload := make(map[string]string, len(q))
	for k, vals := range q {
		if len(vals) > 0 {
			payload[k] = vals[0]
		}
	}
	if !v.Verify(payload) {
		return Session{}, ErrBadSignature
	}

	var s Session
	if ts, err := strconv.ParseInt(payload["auth_date"], 10, 64); err == nil {
		s.AuthDate = time.Unix(ts, 0)
	}
	if v.maxAge > 0 && (s.AuthDate.IsZero() || v.now().Sub(s.AuthDate) > v.maxAge) {
		return Session{}, errors.WithHint(ErrExpired, "reopen the mini app to refresh the session")
	}

	s.User, err = parseUser(payload["user"])
	if err != nil {
		return Session{}, err
	}
	s.UserID = strconv.FormatInt(s.User.ID, 10)
	return s, nil
}

// parseUser accepts the WebApp JSON object or a bare numeric id.
func parseUser(raw string) (User, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return User{}, ErrNoUser
	}
	if id, err := strconv.ParseInt(raw, 10, 64); err == nil && id > 0 {
		return User{ID: id}, nil
	}
	var u User
	if err := json.Unmarshal([]byte(raw), &u); err != nil || u.ID <= 0 {
		return User{}, ErrNoUser
	}
	return u, nil
}

func (v *Verifier) IsAdmin(userID string) bool {
	v.mu.RLock()
	defer v.mu.RUnlock()
	_, ok := v.admins[strings.TrimSpace(userID)]
	return ok
}

// SetAdmins replaces the allow-list; config reloads call it.
func (v *Verifier) SetAdmins(ids []int64) {
	set := adminSet(ids)
	v.mu.Lock()
	v.admins = set
	v.mu.Unlock()
}

func adminSet(ids []int64) map[string]struct{} {
	return lo.SliceToMap(ids, func(id int64) (string, struct{}) {
		return strconv.FormatInt(id, 10), struct{}{}
	})
}
