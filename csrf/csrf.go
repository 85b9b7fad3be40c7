// Package csrf protects the marketplace's state changing form posts with
// stateless tokens bound to the visitor's session.
package csrf

import (
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/base64"
	"encoding/hex"
	"fmt"
	"html"
	"io"
	"slices"
	"strconv"
	"strings"
	"time"

	goerrors "github.com/goliatone/go-errors"
	market "github.com/goliatone/go-market"
	"github.com/goliatone/go-router"
)

const (
	TextCodeTokenMissing  = "CSRF_TOKEN_MISSING"
	TextCodeTokenMismatch = "CSRF_TOKEN_MISMATCH"
	TextCodeTokenExpired  = "CSRF_TOKEN_EXPIRED"
)

var (
	ErrTokenMissing = goerrors.New("Your form has expired, please try again.", goerrors.CategoryAuthz).
			WithCode(goerrors.CodeForbidden).
			WithTextCode(TextCodeTokenMissing)

	ErrTokenMismatch = goerrors.New("Your form has expired, please try again.", goerrors.CategoryAuthz).
				WithCode(goerrors.CodeForbidden).
				WithTextCode(TextCodeTokenMismatch)

	ErrTokenExpired = goerrors.New("Your form has expired, please try again.", goerrors.CategoryAuthz).
			WithCode(goerrors.CodeForbidden).
			WithTextCode(TextCodeTokenExpired)
)

const (
	DefaultTokenLength   = 32
	DefaultContextKey    = "csrf_token"
	DefaultFieldKey      = "csrf_field"
	DefaultFormFieldName = "_token"
	DefaultHeaderName    = "X-CSRF-Token"
	DefaultExpiration    = 12 * time.Hour
	MinSecureKeyLength   = 32
)

// Request is the part of router.Context the protector reads
type Request interface {
	market.LocalsReader
	market.BodyReader
	Method() string
	IP() string
}

// Config defines the protector behavior
type Config struct {
	// Skip bypasses validation for matching requests
	Skip func(Request) bool
	// SecureKey signs tokens. It must be at least 32 bytes; a random key is
	// generated when empty, which invalidates tokens on restart.
	SecureKey     []byte
	TokenLength   int
	ContextKey    string
	FieldKey      string
	FormFieldName string
	HeaderName    string
	SafeMethods   []string
	Expiration    time.Duration
	// ErrorHandler renders rejections, usually market.ErrorHandler.Handle
	ErrorHandler router.ErrorHandler
	Now          func() time.Time
}

// Protector issues and validates tokens
type Protector struct {
	cfg Config
}

// New builds a Protector from cfg, filling defaults
func New(cfg Config) (*Protector, error) {
	if cfg.TokenLength <= 0 {
		cfg.TokenLength = DefaultTokenLength
	}
	if cfg.ContextKey == "" {
		cfg.ContextKey = DefaultContextKey
	}
	if cfg.FieldKey == "" {
		cfg.FieldKey = DefaultFieldKey
	}
	if cfg.FormFieldName == "" {
		cfg.FormFieldName = DefaultFormFieldName
	}
	if cfg.HeaderName == "" {
		cfg.HeaderName = DefaultHeaderName
	}
	if cfg.SafeMethods == nil {
		cfg.SafeMethods = []string{"GET", "HEAD", "OPTIONS", "TRACE"}
	}
	if cfg.Expiration <= 0 {
		cfg.Expiration = DefaultExpiration
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if cfg.ErrorHandler == nil {
		cfg.ErrorHandler = defaultErrorHandler
	}

	switch {
	case len(cfg.SecureKey) == 0:
		key := make([]byte, MinSecureKeyLength)
		if _, err := io.ReadFull(rand.Reader, key); err != nil {
			return nil, fmt.Errorf("csrf: unable to initialize secure key: %w", err)
		}
		cfg.SecureKey = key
	case len(cfg.SecureKey) < MinSecureKeyLength:
		return nil, fmt.Errorf("csrf: secure key must be at least %d bytes, got %d", MinSecureKeyLength, len(cfg.SecureKey))
	}

	return &Protector{cfg: cfg}, nil
}

// Middleware exposes a fresh token to the views and rejects unsafe requests
// that do not echo a valid one.
func (p *Protector) Middleware() router.MiddlewareFunc {
	return func(next router.HandlerFunc) router.HandlerFunc {
		return func(ctx router.Context) error {
			if err := p.Protect(ctx); err != nil {
				return p.cfg.ErrorHandler(ctx, err)
			}
			return next(ctx)
		}
	}
}

// Protect stores a token in req locals and validates unsafe methods.
func (p *Protector) Protect(req Request) error {
	if p.cfg.Skip != nil && p.cfg.Skip(req) {
		return nil
	}

	token, err := p.Token(req)
	if err != nil {
		return market.WrapInternal(err, "failed to issue form token")
	}
	req.Locals(p.cfg.ContextKey, token)
	req.Locals(p.cfg.FieldKey, p.Field(token))

	if slices.Contains(p.cfg.SafeMethods, strings.ToUpper(req.Method())) {
		return nil
	}

	return p.Validate(req, p.extract(req))
}

// Token issues a signed token bound to the request's session key
func (p *Protector) Token(req Request) (string, error) {
	nonce := make([]byte, p.cfg.TokenLength)
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return "", err
	}

	payload := fmt.Sprintf("%d:%s:%s", p.cfg.Now().UTC().Unix(), hex.EncodeToString(nonce), sessionKey(req))
	token := payload + ":" + hex.EncodeToString(p.sign(payload))
	return base64.RawURLEncoding.EncodeToString([]byte(token)), nil
}

// Validate checks token against the request's session key
func (p *Protector) Validate(req Request, token string) error {
	if token == "" {
		return ErrTokenMissing.Clone()
	}

	decoded, err := base64.RawURLEncoding.DecodeString(token)
	if err != nil {
		return ErrTokenMismatch.Clone()
	}

	// timestamp:nonce:session:signature, the session key may hold colons
	head := strings.SplitN(string(decoded), ":", 3)
	if len(head) != 3 {
		return ErrTokenMismatch.Clone()
	}
	cut := strings.LastIndexByte(head[2], ':')
	if cut < 0 {
		return ErrTokenMismatch.Clone()
	}
	session, signatureHex := head[2][:cut], head[2][cut+1:]

	issuedAt, err := strconv.ParseInt(head[0], 10, 64)
	if err != nil {
		return ErrTokenMismatch.Clone()
	}
	if _, err := hex.DecodeString(head[1]); err != nil {
		return ErrTokenMismatch.Clone()
	}
	signature, err := hex.DecodeString(signatureHex)
	if err != nil {
		return ErrTokenMismatch.Clone()
	}

	if !hmac.Equal(signature, p.sign(head[0]+":"+head[1]+":"+session)) {
		return ErrTokenMismatch.Clone()
	}
	if subtle.ConstantTimeCompare([]byte(session), []byte(sessionKey(req))) != 1 {
		return ErrTokenMismatch.Clone()
	}
	if p.cfg.Now().UTC().After(time.Unix(issuedAt, 0).Add(p.cfg.Expiration)) {
		return ErrTokenExpired.Clone()
	}
	return nil
}

// Field renders the hidden input carrying token
func (p *Protector) Field(token string) string {
	return `<input type="hidden" name="` + p.cfg.FormFieldName + `" value="` + html.EscapeString(token) + `">`
}

// TokenHandler serves the current token as JSON for scripted clients.
func (p *Protector) TokenHandler() router.HandlerFunc {
	return func(ctx router.Context) error {
		token, _ := ctx.Locals(p.cfg.ContextKey).(string)
		if token == "" {
			var err error
			if token, err = p.Token(ctx); err != nil {
				return p.cfg.ErrorHandler(ctx, market.WrapInternal(err, "failed to issue form token"))
			}
		}

		ctx.SetHeader("Cache-Control", "no-store, max-age=0")
		return ctx.JSON(router.StatusOK, map[string]string{
			"token":       token,
			"field_name":  p.cfg.FormFieldName,
			"header_name": p.cfg.HeaderName,
		})
	}
}

func (p *Protector) extract(req Request) string {
	if token := strings.TrimSpace(req.Header(p.cfg.HeaderName)); token != "" {
		return token
	}
	form, err := market.ParseForm(req, 0)
	if err != nil {
		return ""
	}
	return form.Value(p.cfg.FormFieldName)
}

func (p *Protector) sign(payload string) []byte {
	mac := hmac.New(sha256.New, p.cfg.SecureKey)
	mac.Write([]byte(payload))
	return mac.Sum(nil)
}

// sessionKey binds tokens to the resolved session, or to the client address
// for anonymous visitors.
func sessionKey(req Request) string {
	if identity := market.IdentityFromRequest(req); identity.SessionID != "" && identity.IsAuthenticated() {
		return "s." + identity.SessionID
	}
	return "ip." + req.IP()
}

func defaultErrorHandler(ctx router.Context, err error) error {
	return ctx.Status(market.StatusFor(market.KindOf(err))).SendString(market.PublicMessage(err))
}
