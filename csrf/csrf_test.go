package csrf

import (
	"encoding/base64"
	"net/url"
	"strings"
	"testing"
	"time"

	market "github.com/goliatone/go-market"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeRequest struct {
	method  string
	ip      string
	headers map[string]string
	body    []byte
	locals  map[any]any
}

func newRequest(method string) *fakeRequest {
	return &fakeRequest{
		method:  method,
		ip:      "203.0.113.7",
		headers: map[string]string{},
		locals:  map[any]any{},
	}
}

func (r *fakeRequest) Method() string           { return r.method }
func (r *fakeRequest) IP() string               { return r.ip }
func (r *fakeRequest) Body() []byte             { return r.body }
func (r *fakeRequest) Header(key string) string { return r.headers[key] }

func (r *fakeRequest) withForm(v url.Values) *fakeRequest {
	r.headers["Content-Type"] = "application/x-www-form-urlencoded"
	r.body = []byte(v.Encode())
	return r
}

func (r *fakeRequest) Locals(key any, value ...any) any {
	if len(value) > 0 {
		r.locals[key] = value[0]
		return value[0]
	}
	return r.locals[key]
}

func (r *fakeRequest) signedIn(sessionID string) *fakeRequest {
	user := &market.User{ID: uuid.New(), Username: "sam", Role: market.RoleSeller}
	r.locals[market.IdentityLocalsKey] = market.NewIdentity(user, sessionID)
	return r
}

func newTestSecureKey() []byte {
	return []byte("0123456789abcdef0123456789abcdef")
}

func newProtector(t *testing.T, now func() time.Time) *Protector {
	t.Helper()
	p, err := New(Config{SecureKey: newTestSecureKey(), Now: now})
	require.NoError(t, err)
	return p
}

func TestNewRejectsShortKey(t *testing.T) {
	_, err := New(Config{SecureKey: []byte("short")})
	require.Error(t, err)

	p, err := New(Config{})
	require.NoError(t, err)
	assert.Len(t, p.cfg.SecureKey, MinSecureKeyLength)
}

func TestProtectRoundTrip(t *testing.T) {
	p := newProtector(t, nil)

	get := newRequest("GET").signedIn("sess-1")
	require.NoError(t, p.Protect(get))

	token, ok := get.locals[DefaultContextKey].(string)
	require.True(t, ok)
	require.NotEmpty(t, token)
	assert.Contains(t, get.locals[DefaultFieldKey], `name="_token"`)
	assert.Contains(t, get.locals[DefaultFieldKey], token)

	t.Run("form field", func(t *testing.T) {
		post := newRequest("POST").signedIn("sess-1").withForm(url.Values{"_token": {token}, "name": {"Camera"}})
		assert.NoError(t, p.Protect(post))
	})

	t.Run("header", func(t *testing.T) {
		post := newRequest("DELETE").signedIn("sess-1")
		post.headers[DefaultHeaderName] = token
		assert.NoError(t, p.Protect(post))
	})
}

func TestProtectRejects(t *testing.T) {
	p := newProtector(t, nil)

	get := newRequest("GET").signedIn("sess-1")
	require.NoError(t, p.Protect(get))
	token := get.locals[DefaultContextKey].(string)

	tests := []struct {
		name     string
		req      *fakeRequest
		textCode string
	}{
		{
			name:     "missing token",
			req:      newRequest("POST").signedIn("sess-1"),
			textCode: TextCodeTokenMissing,
		},
		{
			name:     "other session",
			req:      newRequest("POST").signedIn("sess-2").withForm(url.Values{"_token": {token}}),
			textCode: TextCodeTokenMismatch,
		},
		{
			name:     "anonymous replay",
			req:      newRequest("POST").withForm(url.Values{"_token": {token}}),
			textCode: TextCodeTokenMismatch,
		},
		{
			name:     "garbage",
			req:      newRequest("POST").signedIn("sess-1").withForm(url.Values{"_token": {"not-a-token"}}),
			textCode: TextCodeTokenMismatch,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := p.Protect(tt.req)
			require.Error(t, err)
			assert.Equal(t, market.KindForbidden, market.KindOf(err))
			assert.True(t, market.HasTextCode(err, tt.textCode))
		})
	}
}

func TestValidateTamperedSignature(t *testing.T) {
	p := newProtector(t, nil)
	req := newRequest("POST")

	token, err := p.Token(req)
	require.NoError(t, err)

	raw, err := base64.RawURLEncoding.DecodeString(token)
	require.NoError(t, err)
	tampered := strings.Replace(string(raw), "ip.203.0.113.7", "ip.198.51.100.1", 1)

	req.ip = "198.51.100.1"
	err = p.Validate(req, base64.RawURLEncoding.EncodeToString([]byte(tampered)))
	assert.True(t, market.HasTextCode(err, TextCodeTokenMismatch))
}

func TestValidateIPv6AnonymousKey(t *testing.T) {
	p := newProtector(t, nil)
	req := newRequest("POST")
	req.ip = "2001:db8::1"

	token, err := p.Token(req)
	require.NoError(t, err)
	assert.NoError(t, p.Validate(req, token))
}

func TestValidateExpired(t *testing.T) {
	now := time.Date(2026, 10, 18, 9, 0, 0, 0, time.UTC)
	p := newProtector(t, func() time.Time { return now })
	req := newRequest("POST").signedIn("sess-1")

	token, err := p.Token(req)
	require.NoError(t, err)

	now = now.Add(DefaultExpiration + time.Minute)
	err = p.Validate(req, token)
	assert.True(t, market.HasTextCode(err, TextCodeTokenExpired))
}

func TestProtectSkip(t *testing.T) {
	p, err := New(Config{
		SecureKey: newTestSecureKey(),
		Skip:      func(r Request) bool { return r.Header("X-Webhook") != "" },
	})
	require.NoError(t, err)

	req := newRequest("POST")
	req.headers["X-Webhook"] = "payment"
	assert.NoError(t, p.Protect(req))
	assert.Empty(t, req.locals)
}
