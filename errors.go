package market

import (
	"net/http"

	goerrors "github.com/goliatone/go-errors"
	"github.com/goliatone/go-repository-bun"
)

const (
	TextCodeNotFound           = "NOT_FOUND"
	TextCodeForbidden          = "FORBIDDEN"
	TextCodeValidation         = "VALIDATION_ERROR"
	TextCodeUserExists         = "USER_EXISTS"
	TextCodeUpstream           = "UPSTREAM_ERROR"
	TextCodeInternal           = "INTERNAL_ERROR"
	TextCodeInvalidTransition  = "INVALID_PRODUCT_STATUS_TRANSITION"
	TextCodeVersionConflict    = "PRODUCT_VERSION_CONFLICT"
	TextCodeMismatchedPassword = "MISMATCHED_PASSWORD"
	TextCodeCannotBanSelf      = "CANNOT_BAN_SELF"
)

// ErrNotFound is returned for missing or malformed resource ids
var ErrNotFound = goerrors.New("resource not found", goerrors.CategoryNotFound).
	WithTextCode(TextCodeNotFound).
	WithCode(goerrors.CodeNotFound)

// ErrForbidden is returned when an authorization predicate fails
var ErrForbidden = goerrors.New("you are not allowed to perform this action", goerrors.CategoryAuthz).
	WithTextCode(TextCodeForbidden).
	WithCode(goerrors.CodeForbidden)

// ErrValidation is the base for user input errors
var ErrValidation = goerrors.New("invalid input", goerrors.CategoryValidation).
	WithTextCode(TextCodeValidation).
	WithCode(goerrors.CodeBadRequest)

// ErrUserExists is returned when registration or a profile update collides
// with an existing email or username
var ErrUserExists = goerrors.New("User with this email or username already exists.", goerrors.CategoryValidation).
	WithTextCode(TextCodeUserExists).
	WithCode(goerrors.CodeBadRequest)

// ErrUpstream wraps media host and payment gateway failures
var ErrUpstream = goerrors.New("upstream service failure", goerrors.CategoryOperation).
	WithTextCode(TextCodeUpstream).
	WithCode(http.StatusBadGateway)

// ErrInternal is the fallback for unexpected store failures
var ErrInternal = goerrors.New("an unexpected server error occurred", goerrors.CategoryInternal).
	WithTextCode(TextCodeInternal).
	WithCode(goerrors.CodeInternal)

// ErrMismatchedHashAndPassword is returned when credentials do not match
var ErrMismatchedHashAndPassword = goerrors.New("Invalid email or password.", goerrors.CategoryAuth).
	WithTextCode(TextCodeMismatchedPassword).
	WithCode(goerrors.CodeUnauthorized)

// ErrCannotBanSelf is returned when an admin tries to ban their own account
var ErrCannotBanSelf = goerrors.New("You cannot ban yourself.", goerrors.CategoryValidation).
	WithTextCode(TextCodeCannotBanSelf).
	WithCode(goerrors.CodeBadRequest)

// ErrNoEmptyString is returned when hashing an empty password
var ErrNoEmptyString = goerrors.New("password can not be empty", goerrors.CategoryValidation).
	WithTextCode(TextCodeValidation).
	WithCode(goerrors.CodeBadRequest)

// ErrorKind is the user facing classification of an error
type ErrorKind string

const (
	KindNotFound   ErrorKind = "not_found"
	KindForbidden  ErrorKind = "forbidden"
	KindValidation ErrorKind = "validation"
	KindUpstream   ErrorKind = "upstream"
	KindInternal   ErrorKind = "internal"
)

// KindOf classifies err into the marketplace error taxonomy.
func KindOf(err error) ErrorKind {
	if err == nil {
		return ""
	}

	var richErr *goerrors.Error
	if !goerrors.As(err, &richErr) {
		return KindInternal
	}

	if richErr.TextCode == TextCodeUpstream {
		return KindUpstream
	}

	switch richErr.Category {
	case goerrors.CategoryNotFound:
		return KindNotFound
	case goerrors.CategoryAuthz:
		return KindForbidden
	case goerrors.CategoryValidation, goerrors.CategoryBadInput, goerrors.CategoryConflict, goerrors.CategoryAuth:
		return KindValidation
	default:
		return KindInternal
	}
}

// HasTextCode reports whether err is a go-errors error carrying code.
func HasTextCode(err error, code string) bool {
	var richErr *goerrors.Error
	if !goerrors.As(err, &richErr) {
		return false
	}
	return richErr.TextCode == code
}

// IsNotFound reports whether err means a missing record
func IsNotFound(err error) bool {
	if err == nil {
		return false
	}
	return goerrors.IsNotFound(err) ||
		HasTextCode(err, TextCodeNotFound) ||
		repository.IsRecordNotFound(err)
}

// NewNotFound returns ErrNotFound with the given metadata attached.
func NewNotFound(meta map[string]any) *goerrors.Error {
	return withMetadata(ErrNotFound, meta)
}

// NewForbidden returns ErrForbidden with the given metadata attached.
func NewForbidden(meta map[string]any) *goerrors.Error {
	return withMetadata(ErrForbidden, meta)
}

// NewValidationError returns a validation error with a user facing message.
func NewValidationError(message string, meta map[string]any) *goerrors.Error {
	err := withMetadata(ErrValidation, meta)
	if message != "" {
		err.Message = message
	}
	return err
}

// WrapUpstream marks err as a failure of an external collaborator.
func WrapUpstream(err error, message string) *goerrors.Error {
	return goerrors.Wrap(err, goerrors.CategoryOperation, message).
		WithTextCode(TextCodeUpstream).
		WithCode(http.StatusBadGateway)
}

// WrapInternal marks err as an unexpected failure.
func WrapInternal(err error, message string) *goerrors.Error {
	var richErr *goerrors.Error
	if goerrors.As(err, &richErr) {
		return richErr
	}
	return goerrors.Wrap(err, goerrors.CategoryInternal, message).
		WithTextCode(TextCodeInternal).
		WithCode(goerrors.CodeInternal)
}

func withMetadata(base *goerrors.Error, meta map[string]any) *goerrors.Error {
	clone := base.Clone()
	if clone == nil {
		return base
	}
	clone.Source = base
	if len(meta) > 0 {
		clone.WithMetadata(meta)
	}
	return clone
}
