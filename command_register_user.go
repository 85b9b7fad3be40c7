package market

import (
	"context"
	"strings"
	"time"

	validation "github.com/go-ozzo/ozzo-validation"
	"github.com/go-ozzo/ozzo-validation/is"
	goerrors "github.com/goliatone/go-errors"
	"github.com/goliatone/hashid/pkg/hashid"
	"github.com/google/uuid"
	"github.com/uptrace/bun"
)

type RegisterUserMessage struct {
	Username        string `json:"username"`
	Email           string `json:"email"`
	Password        string `json:"password"`
	ConfirmPassword string `json:"confirm_password"`
	Role            string `json:"role"`
	WhatsappNumber  string `json:"whatsapp_number"`
	UseHashid       bool
	OnResponse      func(*User) `json:"-"`
}

func (e RegisterUserMessage) Type() string { return "user.register" }

// Validate runs the registration form rules
func (e RegisterUserMessage) Validate() error {
	return e.validate(DefaultPhoneRegion)
}

// validate checks WhatsApp numbers against region
func (e RegisterUserMessage) validate(region string) error {
	return validation.ValidateStruct(&e,
		validation.Field(&e.Username, validation.Required, validation.Length(3, 30)),
		validation.Field(&e.Email, validation.Required, validation.Length(3, 100), is.Email),
		validation.Field(&e.Password, validation.Required, validation.Length(6, 100)),
		validation.Field(
			&e.ConfirmPassword,
			validation.Required,
			validation.By(ValidateStringEquals(e.Password)),
		),
		validation.Field(&e.Role, validation.In(RoleBuyer, RoleSeller)),
		validation.Field(
			&e.WhatsappNumber,
			validation.By(requiredForSeller(e.Role)),
			validation.By(ValidatePhoneNumber(region)),
		),
	)
}

func requiredForSeller(role string) validation.RuleFunc {
	return func(value interface{}) error {
		if role != RoleSeller {
			return nil
		}
		return validation.Validate(value, validation.Required)
	}
}

type RegisterUserHandler struct {
	repo     RepositoryManager
	auther   PasswordAuthenticator
	activity ActivitySink
	logger   Logger
	region   string
	now      func() time.Time
}

// NewRegisterUserHandler creates a handler with sane defaults.
func NewRegisterUserHandler(repo RepositoryManager) *RegisterUserHandler {
	return &RegisterUserHandler{
		repo:     repo,
		auther:   BcryptAuthenticator{},
		activity: noopActivitySink{},
		logger:   defLogger{},
		region:   DefaultPhoneRegion,
		now:      time.Now,
	}
}

// WithActivitySink sets the sink used to emit registration events.
func (h *RegisterUserHandler) WithActivitySink(sink ActivitySink) *RegisterUserHandler {
	h.activity = normalizeActivitySink(sink)
	return h
}

// WithLogger overrides the logger used by the handler.
func (h *RegisterUserHandler) WithLogger(logger Logger) *RegisterUserHandler {
	if logger != nil {
		h.logger = logger
	}
	return h
}

// WithPasswordAuthenticator overrides the password hasher.
func (h *RegisterUserHandler) WithPasswordAuthenticator(auther PasswordAuthenticator) *RegisterUserHandler {
	if auther != nil {
		h.auther = auther
	}
	return h
}

// WithPhoneRegion sets the region used to normalize contact numbers.
func (h *RegisterUserHandler) WithPhoneRegion(region string) *RegisterUserHandler {
	if region != "" {
		h.region = region
	}
	return h
}

func (h *RegisterUserHandler) Execute(ctx context.Context, event RegisterUserMessage) error {
	select {
	case <-ctx.Done():
		return goerrors.Wrap(
			ctx.Err(),
			goerrors.CategoryOperation,
			"context cancelled during user registration",
		)
	default:
		return h.execute(ctx, event)
	}
}

func (h *RegisterUserHandler) execute(ctx context.Context, event RegisterUserMessage) error {
	event.Email = strings.ToLower(strings.TrimSpace(event.Email))
	event.Username = strings.TrimSpace(event.Username)
	if event.Role == "" {
		event.Role = RoleBuyer
	}

	if err := event.validate(h.region); err != nil {
		return validationFailed(err)
	}

	user := &User{
		Username: event.Username,
		Email:    event.Email,
		Role:     event.Role,
	}

	if event.Role == RoleSeller {
		number, err := NormalizePhoneNumber(event.WhatsappNumber, h.region)
		if err != nil {
			return NewValidationError("Please provide a valid WhatsApp number.", map[string]any{
				"fields": map[string]string{"whatsapp_number": "must be a valid phone number"},
			})
		}
		user.WhatsappNumber = number
	}

	if event.UseHashid {
		if id, err := hashid.NewUUID(event.Email); err == nil {
			user.ID = id
		}
	}

	ctx, cancel := context.WithTimeout(ctx, time.Second*10)
	defer cancel()

	err := h.repo.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		exists, err := h.repo.Users().ExistsByEmailOrUsernameTx(ctx, tx, user.Email, user.Username, uuid.Nil)
		if err != nil {
			return goerrors.Wrap(err, goerrors.CategoryInternal, "failed to check existing users")
		}
		if exists {
			return ErrUserExists.Clone()
		}

		hash, err := h.auther.HashPassword(event.Password)
		if err != nil {
			var richErr *goerrors.Error
			if goerrors.As(err, &richErr) {
				return goerrors.Wrap(richErr, goerrors.CategoryValidation, "invalid password provided")
			}
			return goerrors.Wrap(err, goerrors.CategoryInternal, "failed to hash password")
		}
		user.PasswordHash = hash

		if user, err = h.repo.Users().RegisterTx(ctx, tx, user); err != nil {
			if isUniqueViolation(err) {
				return ErrUserExists.Clone()
			}
			return goerrors.Wrap(err, goerrors.CategoryInternal, "could not create user")
		}

		return nil
	})

	if err != nil {
		var richErr *goerrors.Error
		if goerrors.As(err, &richErr) {
			return richErr
		}
		return goerrors.Wrap(err, goerrors.CategoryInternal, "user registration transaction failed")
	}

	recordActivity(ctx, h.activity, h.logger, h.now, ActivityEvent{
		EventType: ActivityEventUserRegistered,
		Actor: ActorRef{
			ID:       user.ID.String(),
			Type:     ActorTypeUser,
			Username: user.Username,
			Role:     user.Role,
		},
		UserID: user.ID.String(),
		Metadata: map[string]any{
			"role": user.Role,
		},
	})

	if event.OnResponse != nil {
		event.OnResponse(user.Sanitized())
	}

	return nil
}

func isUniqueViolation(err error) bool {
	if err == nil {
		return false
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "unique") || strings.Contains(msg, "duplicate key")
}

type SeedAdminMessage struct {
	Username string
	Email    string
	Password string
}

func (e SeedAdminMessage) Type() string { return "user.seed_admin" }

func (e SeedAdminMessage) Validate() error {
	return validation.ValidateStruct(&e,
		validation.Field(&e.Username, validation.Required, validation.Length(3, 30)),
		validation.Field(&e.Email, validation.Required, is.Email),
		validation.Field(&e.Password, validation.Required, validation.Length(6, 100)),
	)
}

// SeedAdmin creates the admin account when no user holds its email or
// username. Admins can not sign up through the registration form.
func (h *RegisterUserHandler) SeedAdmin(ctx context.Context, event SeedAdminMessage) (bool, error) {
	event.Email = strings.ToLower(strings.TrimSpace(event.Email))
	event.Username = strings.TrimSpace(event.Username)

	if err := event.Validate(); err != nil {
		return false, validationFailed(err)
	}

	exists, err := h.repo.Users().ExistsByEmailOrUsername(ctx, event.Email, event.Username, uuid.Nil)
	if err != nil {
		return false, WrapInternal(err, "failed to check existing users")
	}
	if exists {
		return false, nil
	}

	hash, err := h.auther.HashPassword(event.Password)
	if err != nil {
		return false, WrapInternal(err, "failed to hash password")
	}

	user := &User{
		Username:     event.Username,
		Email:        event.Email,
		Role:         RoleAdmin,
		PasswordHash: hash,
	}
	if id, err := hashid.NewUUID(event.Email); err == nil {
		user.ID = id
	}

	if _, err := h.repo.Users().Register(ctx, user); err != nil {
		if isUniqueViolation(err) {
			return false, nil
		}
		return false, WrapInternal(err, "could not create admin")
	}

	h.logger.Info("seeded admin account %s", user.Username)
	return true, nil
}
