package market

import (
	goerrors "github.com/goliatone/go-errors"
	"github.com/goliatone/go-print"
	"github.com/goliatone/go-router"
)

// ErrorViews maps error kinds to templates
type ErrorViews struct {
	NotFound   string
	Forbidden  string
	Validation string
	Internal   string
}

// ErrorHandler renders errors at the route boundary
type ErrorHandler struct {
	views  *Views
	names  ErrorViews
	logger Logger
	debug  bool
}

// ErrorHandlerOption customizes the error handler
type ErrorHandlerOption func(*ErrorHandler)

// WithErrorViews overrides the error templates
func WithErrorViews(names ErrorViews) ErrorHandlerOption {
	return func(h *ErrorHandler) {
		h.names = names
	}
}

// WithErrorLogger overrides the logger
func WithErrorLogger(logger Logger) ErrorHandlerOption {
	return func(h *ErrorHandler) {
		if logger != nil {
			h.logger = logger
		}
	}
}

// WithErrorDetail shows error detail to users, for development only
func WithErrorDetail(debug bool) ErrorHandlerOption {
	return func(h *ErrorHandler) {
		h.debug = debug
	}
}

func NewErrorHandler(views *Views, opts ...ErrorHandlerOption) *ErrorHandler {
	h := &ErrorHandler{
		views: views,
		names: ErrorViews{
			NotFound:   "errors/404",
			Forbidden:  "errors/403",
			Validation: "errors/400",
			Internal:   "errors/500",
		},
		logger: defLogger{},
	}
	for _, opt := range opts {
		if opt != nil {
			opt(h)
		}
	}
	return h
}

// Handle writes the response for err. Internal and upstream failures are
// logged with full detail.
func (h *ErrorHandler) Handle(ctx router.Context, err error) error {
	if err == nil {
		return nil
	}

	kind := KindOf(err)
	status := StatusFor(kind)
	message := PublicMessage(err)

	if kind == KindInternal || kind == KindUpstream {
		h.logger.Error("%s %s failed: %v\n%s", ctx.Method(), ctx.Path(), err, errorDetail(err))
	} else {
		h.logger.Debug("%s %s: %s (%s)", ctx.Method(), ctx.Path(), kind, err)
	}

	if IsAJAX(ctx) {
		body := map[string]any{
			"success": false,
			"message": message,
			"kind":    kind,
		}
		if h.debug {
			body["error"] = err.Error()
		}
		return ctx.JSON(status, body)
	}

	data := router.ViewContext{
		"title":   message,
		"message": message,
		"status":  status,
	}
	if h.debug {
		data["error"] = err.Error()
		data["detail"] = errorDetail(err)
	}

	return h.views.RenderStatus(ctx, status, h.viewFor(kind), data)
}

// DenyHandler adapts Handle for the gate
func (h *ErrorHandler) DenyHandler() DenyHandler {
	return func(req RequestContext, err error) error {
		ctx, ok := req.(router.Context)
		if !ok {
			return err
		}
		return h.Handle(ctx, err)
	}
}

func (h *ErrorHandler) viewFor(kind ErrorKind) string {
	switch kind {
	case KindNotFound:
		return h.names.NotFound
	case KindForbidden:
		return h.names.Forbidden
	case KindValidation:
		return h.names.Validation
	default:
		return h.names.Internal
	}
}

func errorDetail(err error) string {
	var richErr *goerrors.Error
	if goerrors.As(err, &richErr) {
		return print.MaybePrettyJSON(richErr)
	}
	return err.Error()
}
