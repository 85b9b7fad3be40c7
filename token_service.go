package market

import (
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	goerrors "github.com/goliatone/go-errors"
)

const (
	textCodeTokenExpired   = "TOKEN_EXPIRED"
	textCodeTokenMalformed = "TOKEN_MALFORMED"

	audienceSession = "session"
	audienceFlash   = "flash"
)

// ErrTokenExpired is returned for signed cookies past their expiration
var ErrTokenExpired = goerrors.New("token expired", goerrors.CategoryAuth).
	WithTextCode(textCodeTokenExpired).
	WithCode(goerrors.CodeUnauthorized)

// ErrTokenMalformed is returned for cookies failing signature checks
var ErrTokenMalformed = goerrors.New("token malformed", goerrors.CategoryAuth).
	WithTextCode(textCodeTokenMalformed).
	WithCode(goerrors.CodeUnauthorized)

// TokenService signs and verifies the values we keep in cookies
type TokenService interface {
	SignSession(sessionID string, expiresAt time.Time) (string, error)
	ParseSession(token string) (string, error)
	SignFlash(flash Flash, ttl time.Duration) (string, error)
	ParseFlash(token string) (Flash, error)
}

type sessionClaims struct {
	jwt.RegisteredClaims
}

type flashClaims struct {
	Kind FlashKind `json:"kind"`
	Text string    `json:"text"`
	jwt.RegisteredClaims
}

// TokenServiceImpl implements the TokenService interface with HS256 JWTs
type TokenServiceImpl struct {
	signingKey []byte
	issuer     string
	now        func() time.Time
	logger     Logger
}

// TokenServiceOption customizes the token service
type TokenServiceOption func(*TokenServiceImpl)

// WithTokenClock injects a custom clock (useful for tests).
func WithTokenClock(clock func() time.Time) TokenServiceOption {
	return func(ts *TokenServiceImpl) {
		if clock != nil {
			ts.now = clock
		}
	}
}

// WithTokenLogger overrides the logger
func WithTokenLogger(logger Logger) TokenServiceOption {
	return func(ts *TokenServiceImpl) {
		if logger != nil {
			ts.logger = logger
		}
	}
}

// NewTokenService creates a new TokenService instance
func NewTokenService(signingKey []byte, issuer string, opts ...TokenServiceOption) *TokenServiceImpl {
	ts := &TokenServiceImpl{
		signingKey: signingKey,
		issuer:     issuer,
		now:        time.Now,
		logger:     defLogger{},
	}
	for _, opt := range opts {
		if opt != nil {
			opt(ts)
		}
	}
	return ts
}

var _ TokenService = (*TokenServiceImpl)(nil)

// SignSession returns a token carrying the session id as its jti
func (ts *TokenServiceImpl) SignSession(sessionID string, expiresAt time.Time) (string, error) {
	if sessionID == "" {
		return "", goerrors.New("session id is required", goerrors.CategoryBadInput)
	}

	claims := &sessionClaims{
		RegisteredClaims: ts.registered(audienceSession, expiresAt),
	}
	claims.ID = sessionID

	return ts.sign(claims)
}

// ParseSession verifies token and returns the session id
func (ts *TokenServiceImpl) ParseSession(token string) (string, error) {
	claims := &sessionClaims{}
	if err := ts.parse(token, claims, audienceSession); err != nil {
		return "", err
	}
	if claims.ID == "" {
		return "", ErrTokenMalformed
	}
	return claims.ID, nil
}

// SignFlash returns a token carrying a flash message
func (ts *TokenServiceImpl) SignFlash(flash Flash, ttl time.Duration) (string, error) {
	if !flash.Kind.IsValid() {
		return "", goerrors.New("invalid flash kind", goerrors.CategoryBadInput).
			WithMetadata(map[string]any{"kind": flash.Kind})
	}
	claims := &flashClaims{
		Kind:             flash.Kind,
		Text:             flash.Text,
		RegisteredClaims: ts.registered(audienceFlash, ts.now().Add(ttl)),
	}
	return ts.sign(claims)
}

// ParseFlash verifies token and returns the flash it carries
func (ts *TokenServiceImpl) ParseFlash(token string) (Flash, error) {
	claims := &flashClaims{}
	if err := ts.parse(token, claims, audienceFlash); err != nil {
		return Flash{}, err
	}
	if !claims.Kind.IsValid() {
		return Flash{}, ErrTokenMalformed
	}
	return Flash{Kind: claims.Kind, Text: claims.Text}, nil
}

func (ts *TokenServiceImpl) registered(audience string, expiresAt time.Time) jwt.RegisteredClaims {
	now := ts.now()
	return jwt.RegisteredClaims{
		Issuer:    ts.issuer,
		Audience:  jwt.ClaimStrings{audience},
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(expiresAt),
	}
}

func (ts *TokenServiceImpl) sign(claims jwt.Claims) (string, error) {
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)

	signed, err := token.SignedString(ts.signingKey)
	if err != nil {
		return "", goerrors.Wrap(err, goerrors.CategoryInternal, "failed to sign token")
	}
	return signed, nil
}

func (ts *TokenServiceImpl) parse(raw string, claims jwt.Claims, audience string) error {
	parserOptions := []jwt.ParserOption{
		jwt.WithAudience(audience),
		jwt.WithTimeFunc(ts.now),
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
	}
	if ts.issuer != "" {
		parserOptions = append(parserOptions, jwt.WithIssuer(ts.issuer))
	}

	token, err := jwt.ParseWithClaims(raw, claims, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return ts.signingKey, nil
	}, parserOptions...)

	if err != nil {
		if goerrors.Is(err, jwt.ErrTokenExpired) {
			return ErrTokenExpired
		}
		ts.logger.Debug("token parse failed: %v", err)
		return ErrTokenMalformed
	}

	if !token.Valid {
		return ErrTokenMalformed
	}
	return nil
}
