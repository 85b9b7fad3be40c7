package market

import (
	"context"
	"fmt"
	"strings"
	"time"

	validation "github.com/go-ozzo/ozzo-validation"
	"github.com/go-ozzo/ozzo-validation/is"
)

type UpdateProfileMessage struct {
	Actor          *User
	Username       string `json:"username"`
	Email          string `json:"email"`
	WhatsappNumber string `json:"whatsapp_number"`
	OnResponse     func(*User) `json:"-"`
}

func (e UpdateProfileMessage) Type() string { return "user.profile.update" }

func (e UpdateProfileMessage) Validate() error {
	return e.validate(DefaultPhoneRegion)
}

func (e UpdateProfileMessage) validate(region string) error {
	return validation.ValidateStruct(&e,
		validation.Field(&e.Username, validation.Length(3, 30)),
		validation.Field(&e.Email, validation.Length(3, 100), is.Email),
		validation.Field(&e.WhatsappNumber, validation.By(ValidatePhoneNumber(region))),
	)
}

// UpdateProfileHandler changes username, email and, for sellers, the
// WhatsApp contact number. Blank fields keep their current value.
type UpdateProfileHandler struct {
	commandBase
	repo   RepositoryManager
	region string
}

func NewUpdateProfileHandler(repo RepositoryManager, opts ...CommandOption) *UpdateProfileHandler {
	return &UpdateProfileHandler{
		commandBase: newCommandBase(opts...),
		repo:        repo,
		region:      DefaultPhoneRegion,
	}
}

// WithPhoneRegion sets the region used to normalize contact numbers.
func (h *UpdateProfileHandler) WithPhoneRegion(region string) *UpdateProfileHandler {
	if region != "" {
		h.region = region
	}
	return h
}

func (h *UpdateProfileHandler) Execute(ctx context.Context, event UpdateProfileMessage) error {
	if err := guard(ctx, "profile update"); err != nil {
		return err
	}
	return h.execute(ctx, event)
}

func (h *UpdateProfileHandler) execute(ctx context.Context, event UpdateProfileMessage) error {
	if err := requireActor(event.Actor); err != nil {
		return err
	}

	event.Username = strings.TrimSpace(event.Username)
	event.Email = strings.ToLower(strings.TrimSpace(event.Email))
	event.WhatsappNumber = strings.TrimSpace(event.WhatsappNumber)

	if err := event.validate(h.region); err != nil {
		return validationFailed(err)
	}

	ctx, cancel := context.WithTimeout(ctx, time.Second*10)
	defer cancel()

	user, err := h.repo.Users().GetByID(ctx, event.Actor.ID)
	if err != nil {
		return asRichError(err, "failed to load user")
	}

	users := h.repo.Users()

	if event.Email != "" && event.Email != user.Email {
		taken, err := users.ExistsByEmailOrUsername(ctx, event.Email, "", user.ID)
		if err != nil {
			return WrapInternal(err, "failed to check email")
		}
		if taken {
			return NewValidationError(fmt.Sprintf("Email '%s' is already in use.", event.Email), map[string]any{
				"fields": map[string]string{"email": "already in use"},
			})
		}
		user.Email = event.Email
	}

	if event.Username != "" && event.Username != user.Username {
		taken, err := users.ExistsByEmailOrUsername(ctx, "", event.Username, user.ID)
		if err != nil {
			return WrapInternal(err, "failed to check username")
		}
		if taken {
			return NewValidationError(fmt.Sprintf("Username '%s' is already taken.", event.Username), map[string]any{
				"fields": map[string]string{"username": "already taken"},
			})
		}
		user.Username = event.Username
	}

	if user.Role == RoleSeller {
		number := ""
		if event.WhatsappNumber != "" {
			if number, err = NormalizePhoneNumber(event.WhatsappNumber, h.region); err != nil {
				return NewValidationError("Please provide a valid WhatsApp number.", map[string]any{
					"fields": map[string]string{"whatsapp_number": "must be a valid phone number"},
				})
			}
		}
		user.WhatsappNumber = number
	}

	updated, err := users.UpdateProfile(ctx, user)
	if err != nil {
		if isUniqueViolation(err) {
			return ErrUserExists.Clone()
		}
		return asRichError(err, "failed to update profile")
	}

	h.record(ctx, ActivityEvent{
		EventType: ActivityEventProfileUpdated,
		Actor:     ActorFromUser(updated),
		UserID:    updated.ID.String(),
	})

	if event.OnResponse != nil {
		event.OnResponse(updated.Sanitized())
	}
	return nil
}

type ChangePasswordMessage struct {
	Actor              *User
	CurrentPassword    string `json:"current_password"`
	NewPassword        string `json:"new_password"`
	ConfirmNewPassword string `json:"confirm_new_password"`
}

func (e ChangePasswordMessage) Type() string { return "user.password.change" }

func (e ChangePasswordMessage) Validate() error {
	if e.CurrentPassword == "" || e.NewPassword == "" || e.ConfirmNewPassword == "" {
		return NewValidationError("All password fields are required.", nil)
	}
	if e.NewPassword != e.ConfirmNewPassword {
		return NewValidationError("New passwords do not match.", map[string]any{
			"fields": map[string]string{"confirm_new_password": "values do not match"},
		})
	}
	if len(e.NewPassword) < 6 {
		return NewValidationError("New password must be at least 6 characters long.", map[string]any{
			"fields": map[string]string{"new_password": "the length must be between 6 and 100"},
		})
	}
	return nil
}

// ChangePasswordHandler replaces the password after checking the current one
type ChangePasswordHandler struct {
	commandBase
	repo   RepositoryManager
	auther PasswordAuthenticator
}

func NewChangePasswordHandler(repo RepositoryManager, opts ...CommandOption) *ChangePasswordHandler {
	return &ChangePasswordHandler{
		commandBase: newCommandBase(opts...),
		repo:        repo,
		auther:      BcryptAuthenticator{},
	}
}

// WithPasswordAuthenticator overrides the password hasher.
func (h *ChangePasswordHandler) WithPasswordAuthenticator(auther PasswordAuthenticator) *ChangePasswordHandler {
	if auther != nil {
		h.auther = auther
	}
	return h
}

func (h *ChangePasswordHandler) Execute(ctx context.Context, event ChangePasswordMessage) error {
	if err := guard(ctx, "password change"); err != nil {
		return err
	}
	return h.execute(ctx, event)
}

func (h *ChangePasswordHandler) execute(ctx context.Context, event ChangePasswordMessage) error {
	if err := requireActor(event.Actor); err != nil {
		return err
	}
	if err := event.Validate(); err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(ctx, time.Second*10)
	defer cancel()

	user, err := h.repo.Users().GetByID(ctx, event.Actor.ID)
	if err != nil {
		return asRichError(err, "failed to load user")
	}

	if err := h.auther.ComparePasswordAndHash(event.CurrentPassword, user.PasswordHash); err != nil {
		return NewValidationError("Incorrect current password.", map[string]any{
			"fields": map[string]string{"current_password": "incorrect"},
		})
	}

	hash, err := h.auther.HashPassword(event.NewPassword)
	if err != nil {
		return WrapInternal(err, "failed to hash password")
	}

	if err := h.repo.Users().UpdatePasswordHash(ctx, user.ID, hash); err != nil {
		return asRichError(err, "failed to update password")
	}

	h.record(ctx, ActivityEvent{
		EventType: ActivityEventPasswordChanged,
		Actor:     ActorFromUser(user),
		UserID:    user.ID.String(),
	})
	return nil
}

type UpdateAvatarMessage struct {
	Actor      *User
	Avatar     *Upload
	OnResponse func(MediaAsset) `json:"-"`
}

func (e UpdateAvatarMessage) Type() string { return "user.avatar.update" }

// UpdateAvatarHandler uploads a new avatar and deletes the previous one
type UpdateAvatarHandler struct {
	commandBase
	repo  RepositoryManager
	media MediaHost
}

func NewUpdateAvatarHandler(repo RepositoryManager, media MediaHost, opts ...CommandOption) *UpdateAvatarHandler {
	return &UpdateAvatarHandler{
		commandBase: newCommandBase(opts...),
		repo:        repo,
		media:       media,
	}
}

func (h *UpdateAvatarHandler) Execute(ctx context.Context, event UpdateAvatarMessage) error {
	if err := guard(ctx, "avatar update"); err != nil {
		return err
	}
	return h.execute(ctx, event)
}

func (h *UpdateAvatarHandler) execute(ctx context.Context, event UpdateAvatarMessage) error {
	if err := requireActor(event.Actor); err != nil {
		return err
	}
	if event.Avatar == nil || len(event.Avatar.Data) == 0 {
		return NewValidationError("No avatar image file selected.", map[string]any{
			"fields": map[string]string{"avatar": "cannot be blank"},
		})
	}

	ctx, cancel := context.WithTimeout(ctx, time.Second*30)
	defer cancel()

	user, err := h.repo.Users().GetByID(ctx, event.Actor.ID)
	if err != nil {
		return asRichError(err, "failed to load user")
	}

	assets, err := uploadAll(ctx, h.media, h.logger, MediaFolderAvatars, []Upload{*event.Avatar})
	if err != nil {
		return err
	}
	asset := assets[0]

	if err := h.repo.Users().UpdateAvatar(ctx, user.ID, asset.URL, asset.Handle); err != nil {
		discardAssets(ctx, h.media, h.logger, asset)
		return asRichError(err, "failed to update avatar")
	}

	if user.AvatarURL != DefaultAvatarURL {
		discardHandle(ctx, h.media, h.logger, user.AvatarHandle)
	}

	h.record(ctx, ActivityEvent{
		EventType: ActivityEventAvatarChanged,
		Actor:     ActorFromUser(user),
		UserID:    user.ID.String(),
	})

	if event.OnResponse != nil {
		event.OnResponse(asset)
	}
	return nil
}
