package auth

import (
	"net/url"
	"strconv"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"postbot/internal/errors"
)

const testToken = "123456:TEST-token"

func TestVerifyFixedVector(t *testing.T) {
	t.Parallel()

	v := NewVerifier(testToken)
	payload := map[string]string{
		"user":      "42",
		"auth_date": "1000",
		"hash":      "8baeb9a8322e9e273200f06934ebe1dcaf950aa11cdb388578d7312b782211d8",
	}
	assert.True(t, v.Verify(payload))
	assert.Equal(t, payload["hash"], v.Sign(payload))

	other := NewVerifier("654321:other-token")
	assert.False(t, other.Verify(payload))
}

func TestVerifyRejects(t *testing.T) {
	t.Parallel()

	v := NewVerifier(testToken)
	good := map[string]string{"user": "42", "auth_date": "1000"}
	good["hash"] = v.Sign(good)

	cases := map[string]map[string]string{
		"missing hash":  {"user": "42", "auth_date": "1000"},
		"empty hash":    {"user": "42", "auth_date": "1000", "hash": ""},
		"not hex":       {"user": "42", "auth_date": "1000", "hash": "zz"},
		"tampered user": {"user": "43", "auth_date": "1000", "hash": good["hash"]},
		"extra key":     {"user": "42", "auth_date": "1000", "query_id": "x", "hash": good["hash"]},
		"nil":           nil,
	}
	for name, p := range cases {
		assert.False(t, v.Verify(p), name)
	}
	assert.True(t, v.Verify(good))
}

func initData(user, authDate, queryID, hash string) string {
	q := url.Values{}
	q.Set("user", user)
	q.Set("auth_date", authDate)
	q.Set("query_id", queryID)
	q.Set("hash", hash)
	return q.Encode()
}

func TestVerifyInitData(t *testing.T) {
	t.Parallel()

	user := `{"id":42,"first_name":"Ann"}`
	raw := initData(user, "1700000000", "AAH", "c452910a7f6609422908d3af6e245084e41af16c0eeb0aff688c2e3214c70ac4")

	v := NewVerifier(testToken)
	s, err := v.VerifyInitData(raw)
	require.NoError(t, err)
	assert.Equal(t, "42", s.UserID)
	assert.Equal(t, "Ann", s.User.FirstName)
	assert.Equal(t, int64(1700000000), s.AuthDate.Unix())

	_, err = NewVerifier("bad").VerifyInitData(raw)
	assert.True(t, errors.Is(err, ErrBadSignature))
	assert.True(t, errors.Is(err, errors.ErrAuthDenied))

	_, err = v.VerifyInitData("%zz")
	assert.True(t, errors.Is(err, errors.ErrAuthDenied))
}

func TestVerifyInitDataMaxAge(t *testing.T) {
	t.Parallel()

	now := time.Unix(1_700_000_000, 0)
	v := NewVerifier(testToken, WithMaxAge(time.Hour), WithClock(func() time.Time { return now }))

	build := func(at time.Time) string {
		p := map[string]string{"user": `{"id":7}`, "auth_date": strconv.FormatInt(at.Unix(), 10)}
		q := url.Values{}
		for k, val := range p {
			q.Set(k, val)
		}
		q.Set("hash", v.Sign(p))
		return q.Encode()
	}

	s, err := v.VerifyInitData(build(now.Add(-10 * time.Minute)))
	require.NoError(t, err)
	assert.Equal(t, "7", s.UserID)

	_, err = v.VerifyInitData(build(now.Add(-2 * time.Hour)))
	assert.True(t, errors.Is(err, ErrExpired))
	assert.NotEmpty(t, errors.GetAllHints(err))
}

func TestVerifyInitDataNeedsUser(t *testing.T) {
	t.Parallel()

	v := NewVerifier(testToken)
	p := map[string]string{"auth_date": "1000"}
	q := url.Values{"auth_date": {"1000"}, "hash": {v.Sign(p)}}
	_, err := v.VerifyInitData(q.Encode())
	assert.True(t, errors.Is(err, ErrNoUser))
}

func TestAdmins(t *testing.T) {
	t.Parallel()

	v := NewVerifier(testToken, WithAdmins([]int64{42, 7}))
	assert.True(t, v.IsAdmin("42"))
	assert.True(t, v.IsAdmin(" 7 "))
	assert.False(t, v.IsAdmin("8"))
	assert.False(t, v.IsAdmin(""))

	v.SetAdmins([]int64{8})
	assert.False(t, v.IsAdmin("42"))
	assert.True(t, v.IsAdmin("8"))
}
