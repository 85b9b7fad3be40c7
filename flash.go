package market

import (
	"time"

	"github.com/goliatone/go-router"
)

// FlashKind tags a one-shot notice
type FlashKind string

const (
	FlashInfo    FlashKind = "info"
	FlashSuccess FlashKind = "success"
	FlashError   FlashKind = "error"
)

// IsValid checks the kind is one of the known tags
func (k FlashKind) IsValid() bool {
	switch k {
	case FlashInfo, FlashSuccess, FlashError:
		return true
	default:
		return false
	}
}

// Flash is a one-shot notice rendered on the next response
type Flash struct {
	Kind FlashKind `json:"kind"`
	Text string    `json:"text"`
}

func InfoFlash(text string) Flash    { return Flash{Kind: FlashInfo, Text: text} }
func SuccessFlash(text string) Flash { return Flash{Kind: FlashSuccess, Text: text} }
func ErrorFlash(text string) Flash   { return Flash{Kind: FlashError, Text: text} }

// IsZero reports whether the flash carries no message
func (f Flash) IsZero() bool {
	return f.Kind == "" && f.Text == ""
}

const (
	// FlashLocalsKey holds the Flash visible to the current response
	FlashLocalsKey        = "flash"
	flashPendingLocalsKey = "flash_pending"
)

// Flasher carries flash messages across a redirect in a signed cookie
type Flasher struct {
	tokens     TokenService
	cookieName string
	ttl        time.Duration
	secure     bool
	logger     Logger
}

// FlasherOption customizes the flasher
type FlasherOption func(*Flasher)

// WithFlashTTL sets how long an unread flash survives
func WithFlashTTL(ttl time.Duration) FlasherOption {
	return func(f *Flasher) {
		if ttl > 0 {
			f.ttl = ttl
		}
	}
}

// WithFlashLogger overrides the logger
func WithFlashLogger(logger Logger) FlasherOption {
	return func(f *Flasher) {
		if logger != nil {
			f.logger = logger
		}
	}
}

// NewFlasher returns a Flasher storing messages in cfg's flash cookie
func NewFlasher(tokens TokenService, cfg Config, opts ...FlasherOption) *Flasher {
	f := &Flasher{
		tokens:     tokens,
		cookieName: cfg.GetFlashCookieName(),
		ttl:        5 * time.Minute,
		secure:     cfg.IsProduction(),
		logger:     defLogger{},
	}
	for _, opt := range opts {
		if opt != nil {
			opt(f)
		}
	}
	return f
}

// Middleware loads the flash left by the previous response into locals
func (f *Flasher) Middleware() router.MiddlewareFunc {
	return func(next router.HandlerFunc) router.HandlerFunc {
		return func(ctx router.Context) error {
			f.Load(ctx)
			return next(ctx)
		}
	}
}

// Load pops the flash cookie into request locals.
func (f *Flasher) Load(req RequestContext) (Flash, bool) {
	raw := req.Cookies(f.cookieName)
	if raw == "" {
		return Flash{}, false
	}

	f.clearCookie(req)

	flash, err := f.tokens.ParseFlash(raw)
	if err != nil {
		f.logger.Debug("discarding flash cookie: %v", err)
		return Flash{}, false
	}

	req.Locals(FlashLocalsKey, flash)
	return flash, true
}

// Set queues flash for the current response and the next one
func (f *Flasher) Set(req RequestContext, flash Flash) {
	req.Locals(FlashLocalsKey, flash)

	token, err := f.tokens.SignFlash(flash, f.ttl)
	if err != nil {
		f.logger.Error("unable to sign flash: %v", err)
		return
	}

	req.Locals(flashPendingLocalsKey, true)
	req.Cookie(&router.Cookie{
		Name:     f.cookieName,
		Value:    token,
		Expires:  time.Now().Add(f.ttl),
		HTTPOnly: true,
		Secure:   f.secure,
		SameSite: "Lax",
	})
}

// Redirect sets flash and redirects to location
func (f *Flasher) Redirect(req RequestContext, flash Flash, location string) error {
	f.Set(req, flash)
	return req.Redirect(location, redirectStatus(req.Method()))
}

// Pending reports whether a flash was queued earlier in this request
func (f *Flasher) Pending(req LocalsReader) bool {
	pending, _ := req.Locals(flashPendingLocalsKey).(bool)
	return pending
}

// Current returns the flash visible to this response
func Current(req LocalsReader) (Flash, bool) {
	flash, ok := req.Locals(FlashLocalsKey).(Flash)
	if !ok || flash.IsZero() {
		return Flash{}, false
	}
	return flash, true
}

// Consume marks the current flash as shown. A flash queued during this
// request is dropped from the cookie so the next response does not repeat it.
func (f *Flasher) Consume(req RequestContext) (Flash, bool) {
	flash, ok := Current(req)
	if pending, _ := req.Locals(flashPendingLocalsKey).(bool); pending {
		req.Locals(flashPendingLocalsKey, false)
		f.clearCookie(req)
	}
	return flash, ok
}

func (f *Flasher) clearCookie(req RequestContext) {
	req.Cookie(&router.Cookie{
		Name:     f.cookieName,
		Value:    "",
		Expires:  time.Now().Add(-time.Hour * 24),
		HTTPOnly: true,
		Secure:   f.secure,
		SameSite: "Lax",
	})
}
