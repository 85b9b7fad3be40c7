package market

import (
	"fmt"
	"time"
)

type Logger interface {
	Debug(format string, args ...any)
	Info(format string, args ...any)
	Warn(format string, args ...any)
	Error(format string, args ...any)
}

// Config holds the options the core needs from the application config
type Config interface {
	GetSessionCookieName() string
	GetSessionTTL() time.Duration
	GetSigningKey() string
	GetIssuer() string
	GetLoginRoute() string
	GetRegisterRoute() string
	GetReturnToCookieName() string
	GetFlashCookieName() string
	GetDefaultVerifier() string
	IsProduction() bool
}

// PasswordAuthenticator authenticates passwords
type PasswordAuthenticator interface {
	HashPassword(password string) (string, error)
	ComparePasswordAndHash(password, hash string) error
}

type defLogger struct{}

func (d defLogger) Error(format string, args ...any) {
	fmt.Printf("[ERR] MARKET "+newline(format), args...)
}

func (d defLogger) Warn(format string, args ...any) {
	fmt.Printf("[WRN] MARKET "+newline(format), args...)
}

func (d defLogger) Info(format string, args ...any) {
	fmt.Printf("[INF] MARKET "+newline(format), args...)
}

func (d defLogger) Debug(format string, args ...any) {
	fmt.Printf("[DBG] MARKET "+newline(format), args...)
}

func newline(s string) string {
	if len(s) > 0 && s[len(s)-1] != '\n' {
		s += "\n"
	}
	return s
}

// DefaultConfig is a static Config useful for tests and small deployments.
type DefaultConfig struct {
	SessionCookieName  string
	SessionTTL         time.Duration
	SigningKey         string
	Issuer             string
	LoginRoute         string
	RegisterRoute      string
	ReturnToCookieName string
	FlashCookieName    string
	DefaultVerifier    string
	Production         bool
}

var _ Config = DefaultConfig{}

// NewDefaultConfig returns the defaults used by the marketplace app.
func NewDefaultConfig(signingKey string) DefaultConfig {
	return DefaultConfig{
		SessionCookieName:  "market_session",
		SessionTTL:         7 * 24 * time.Hour,
		SigningKey:         signingKey,
		Issuer:             "go-market",
		LoginRoute:         "/auth/login",
		RegisterRoute:      "/auth/register",
		ReturnToCookieName: "market_return_to",
		FlashCookieName:    "market_flash",
	}
}

func (c DefaultConfig) GetSessionCookieName() string  { return c.SessionCookieName }
func (c DefaultConfig) GetSessionTTL() time.Duration  { return c.SessionTTL }
func (c DefaultConfig) GetSigningKey() string         { return c.SigningKey }
func (c DefaultConfig) GetIssuer() string             { return c.Issuer }
func (c DefaultConfig) GetLoginRoute() string         { return c.LoginRoute }
func (c DefaultConfig) GetRegisterRoute() string      { return c.RegisterRoute }
func (c DefaultConfig) GetReturnToCookieName() string { return c.ReturnToCookieName }
func (c DefaultConfig) GetFlashCookieName() string    { return c.FlashCookieName }
func (c DefaultConfig) GetDefaultVerifier() string    { return c.DefaultVerifier }
func (c DefaultConfig) IsProduction() bool            { return c.Production }
