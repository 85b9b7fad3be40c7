package market_test

import (
	"context"
	"errors"
	"net/http"
	"net/url"
	"sync"
	"time"

	market "github.com/goliatone/go-market"
	"github.com/goliatone/go-router"
	"github.com/google/uuid"
	"github.com/stretchr/testify/mock"
)

const testSecret = "test-signing-secret"

func testConfig() market.DefaultConfig {
	return market.NewDefaultConfig(testSecret)
}

type testLogger struct{}

func (testLogger) Debug(string, ...any) {}
func (testLogger) Info(string, ...any)  {}
func (testLogger) Warn(string, ...any)  {}
func (testLogger) Error(string, ...any) {}

type baseContext interface {
	router.Context
}

// fakeContext stands in for router.Context. Methods the market package does
// not call are left to the embedded nil interface.
type fakeContext struct {
	baseContext

	ctx         context.Context
	method      string
	path        string
	originalURL string
	params      map[string]string
	headers     map[string]string
	body        []byte
	bind        func(any) error

	locals     map[any]any
	cookiesIn  map[string]string
	cookiesOut []*router.Cookie

	status         int
	rendered       string
	renderData     any
	jsonStatus     int
	jsonBody       any
	redirectTo     string
	redirectStatus int
}

func newFakeContext(method, url string) *fakeContext {
	path := url
	for i, r := range url {
		if r == '?' {
			path = url[:i]
			break
		}
	}
	return &fakeContext{
		ctx:         context.Background(),
		method:      method,
		path:        path,
		originalURL: url,
		params:      map[string]string{},
		headers:     map[string]string{},
		locals:      map[any]any{},
		cookiesIn:   map[string]string{},
		status:      http.StatusOK,
	}
}

// next builds the follow up request a browser would send, carrying every
// cookie that was set and not cleared.
func (f *fakeContext) next(method, url string) *fakeContext {
	n := newFakeContext(method, url)
	for k, v := range f.cookiesIn {
		n.cookiesIn[k] = v
	}
	for _, c := range f.cookiesOut {
		if c.Value == "" || (!c.Expires.IsZero() && c.Expires.Before(time.Now())) {
			delete(n.cookiesIn, c.Name)
			continue
		}
		n.cookiesIn[c.Name] = c.Value
	}
	return n
}

func (f *fakeContext) withIdentity(identity *market.Identity) *fakeContext {
	f.locals[market.IdentityLocalsKey] = identity
	if !identity.IsAnonymous() {
		f.locals[market.CurrentUserLocalsKey] = identity.User
	}
	f.ctx = market.WithIdentity(f.ctx, identity)
	return f
}

func (f *fakeContext) withUser(user *market.User) *fakeContext {
	return f.withIdentity(market.NewIdentity(user, "test-session"))
}

func (f *fakeContext) lastCookie(name string) *router.Cookie {
	for i := len(f.cookiesOut) - 1; i >= 0; i-- {
		if f.cookiesOut[i].Name == name {
			return f.cookiesOut[i]
		}
	}
	return nil
}

func (f *fakeContext) Context() context.Context       { return f.ctx }
func (f *fakeContext) SetContext(ctx context.Context) { f.ctx = ctx }
func (f *fakeContext) Method() string                 { return f.method }
func (f *fakeContext) Path() string                   { return f.path }
func (f *fakeContext) OriginalURL() string            { return f.originalURL }
func (f *fakeContext) Body() []byte                   { return f.body }
func (f *fakeContext) Header(key string) string       { return f.headers[key] }

func (f *fakeContext) Locals(key any, value ...any) any {
	if len(value) > 0 {
		f.locals[key] = value[0]
		return value[0]
	}
	return f.locals[key]
}

func (f *fakeContext) Cookies(key string, defaultValue ...string) string {
	if v, ok := f.cookiesIn[key]; ok {
		return v
	}
	if len(defaultValue) > 0 {
		return defaultValue[0]
	}
	return ""
}

func (f *fakeContext) Cookie(cookie *router.Cookie) {
	f.cookiesOut = append(f.cookiesOut, cookie)
}

func (f *fakeContext) Param(key string, defaultValue ...string) string {
	if v, ok := f.params[key]; ok {
		return v
	}
	if len(defaultValue) > 0 {
		return defaultValue[0]
	}
	return ""
}

func (f *fakeContext) Query(key string, defaultValue ...string) string {
	if u, err := url.Parse(f.originalURL); err == nil {
		if v := u.Query().Get(key); v != "" {
			return v
		}
	}
	if len(defaultValue) > 0 {
		return defaultValue[0]
	}
	return ""
}

func (f *fakeContext) Bind(v any) error {
	if f.bind == nil {
		return errors.New("no payload")
	}
	return f.bind(v)
}

func (f *fakeContext) Status(code int) router.Context {
	f.status = code
	return f
}

func (f *fakeContext) Render(name string, bind any, layouts ...string) error {
	f.rendered = name
	f.renderData = bind
	return nil
}

func (f *fakeContext) JSON(code int, val any) error {
	f.jsonStatus = code
	f.jsonBody = val
	return nil
}

func (f *fakeContext) Redirect(path string, status ...int) error {
	f.redirectTo = path
	f.redirectStatus = http.StatusFound
	if len(status) > 0 {
		f.redirectStatus = status[0]
	}
	return nil
}

func (f *fakeContext) viewData() router.ViewContext {
	data, _ := f.renderData.(router.ViewContext)
	return data
}

// MockSessionStore implements market.SessionStore
type MockSessionStore struct {
	mock.Mock
}

func (m *MockSessionStore) Create(ctx context.Context, userID uuid.UUID, expiresAt time.Time) (*market.SessionRecord, error) {
	args := m.Called(ctx, userID, expiresAt)
	record, _ := args.Get(0).(*market.SessionRecord)
	return record, args.Error(1)
}

func (m *MockSessionStore) Lookup(ctx context.Context, sessionID string) (*market.User, error) {
	args := m.Called(ctx, sessionID)
	user, _ := args.Get(0).(*market.User)
	return user, args.Error(1)
}

func (m *MockSessionStore) Destroy(ctx context.Context, sessionID string) error {
	args := m.Called(ctx, sessionID)
	return args.Error(0)
}

func (m *MockSessionStore) DestroyForUser(ctx context.Context, userID uuid.UUID) error {
	args := m.Called(ctx, userID)
	return args.Error(0)
}

func (m *MockSessionStore) PurgeExpired(ctx context.Context, now time.Time) (int64, error) {
	args := m.Called(ctx, now)
	return args.Get(0).(int64), args.Error(1)
}

// MockProductStatusStore implements market.ProductStatusStore
type MockProductStatusStore struct {
	mock.Mock
}

func (m *MockProductStatusStore) UpdateStatus(ctx context.Context, productID uuid.UUID, version int64, status market.ProductStatus, verifiedBy string) (*market.Product, error) {
	args := m.Called(ctx, productID, version, status, verifiedBy)
	product, _ := args.Get(0).(*market.Product)
	return product, args.Error(1)
}

// MockPaymentGateway implements market.PaymentGateway
type MockPaymentGateway struct {
	mock.Mock
}

func (m *MockPaymentGateway) Methods(ctx context.Context) ([]market.PaymentMethod, error) {
	args := m.Called(ctx)
	methods, _ := args.Get(0).([]market.PaymentMethod)
	return methods, args.Error(1)
}

func (m *MockPaymentGateway) CreateDeposit(ctx context.Context, req market.DepositRequest) (*market.DepositReceipt, error) {
	args := m.Called(ctx, req)
	receipt, _ := args.Get(0).(*market.DepositReceipt)
	return receipt, args.Error(1)
}

// MockActivitySink implements market.ActivitySink
type MockActivitySink struct {
	mock.Mock
}

func (m *MockActivitySink) Record(ctx context.Context, event market.ActivityEvent) error {
	args := m.Called(ctx, event)
	return args.Error(0)
}

type capturingSink struct {
	mu     sync.Mutex
	events []market.ActivityEvent
}

func (c *capturingSink) Record(_ context.Context, evt market.ActivityEvent) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.events = append(c.events, evt)
	return nil
}

func (c *capturingSink) ofType(t market.ActivityEventType) []market.ActivityEvent {
	c.mu.Lock()
	defer c.mu.Unlock()
	var out []market.ActivityEvent
	for _, e := range c.events {
		if e.EventType == t {
			out = append(out, e)
		}
	}
	return out
}

// fakeMediaHost stores uploads in memory
type fakeMediaHost struct {
	mu        sync.Mutex
	uploaded  []market.MediaAsset
	deleted   []string
	failAfter int
	err       error
}

func (h *fakeMediaHost) Upload(_ context.Context, folder string, file market.Upload) (market.MediaAsset, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.err != nil && len(h.uploaded) >= h.failAfter {
		return market.MediaAsset{}, h.err
	}
	handle := folder + "/" + uuid.NewString()
	asset := market.MediaAsset{URL: "https://media.test/" + handle + "/" + file.Filename, Handle: handle}
	h.uploaded = append(h.uploaded, asset)
	return asset, nil
}

func (h *fakeMediaHost) Delete(_ context.Context, handle string) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.deleted = append(h.deleted, handle)
	return nil
}

// plainAuthenticator skips bcrypt to keep command tests fast
type plainAuthenticator struct{}

func (plainAuthenticator) HashPassword(password string) (string, error) {
	if password == "" {
		return "", market.ErrNoEmptyString
	}
	return "plain:" + password, nil
}

func (plainAuthenticator) ComparePasswordAndHash(password, hash string) error {
	if hash != "plain:"+password {
		return market.ErrMismatchedHashAndPassword
	}
	return nil
}

func imageUpload(field, name string) market.Upload {
	return market.Upload{
		Field:       field,
		Filename:    name,
		ContentType: "image/png",
		Data:        []byte("\x89PNG fake image"),
	}
}

func newUser(role market.UserRole, username string) *market.User {
	return &market.User{
		ID:       uuid.New(),
		Role:     role,
		Username: username,
		Email:    username + "@example.com",
	}
}
