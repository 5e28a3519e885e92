package identity

import (
	"fmt"

	"github.com/gofiber/fiber/v2"
	goerrors "github.com/goliatone/go-errors"
	"github.com/goliatone/go-print"
	"github.com/google/uuid"
)

// ControllerRoutes are the paths the controller mounts its handlers on.
type ControllerRoutes struct {
	SignUp             string
	SignIn             string
	SignOut            string
	Refresh            string
	ConfirmEmail       string
	ResendConfirmation string
	PasswordForgot     string
	PasswordReset      string
	PasswordUpdate     string
}

// Controller exposes the identity service as a JSON API.
type Controller struct {
	Debug        bool
	Logger       Logger
	Service      *Service
	Routes       *ControllerRoutes
	ErrorHandler fiber.ErrorHandler
}

type ControllerOption func(*Controller) *Controller

// WithControllerLogger sets the controller logger.
func WithControllerLogger(logger Logger) ControllerOption {
	return func(c *Controller) *Controller {
		if logger != nil {
			c.Logger = logger
		}
		return c
	}
}

// WithControllerDebug dumps request payloads to stdout.
func WithControllerDebug() ControllerOption {
	return func(c *Controller) *Controller {
		c.Debug = true
		return c
	}
}

// WithControllerRoutes overrides the default route paths.
func WithControllerRoutes(routes *ControllerRoutes) ControllerOption {
	return func(c *Controller) *Controller {
		if routes != nil {
			c.Routes = routes
		}
		return c
	}
}

// WithControllerErrorHandler overrides the default error responder.
func WithControllerErrorHandler(handler fiber.ErrorHandler) ControllerOption {
	return func(c *Controller) *Controller {
		if handler != nil {
			c.ErrorHandler = handler
		}
		return c
	}
}

// NewController builds a Controller around a Service.
func NewController(service *Service, opts ...ControllerOption) *Controller {
	c := &Controller{
		Logger:  defLogger{},
		Service: service,
		Routes: &ControllerRoutes{
			SignUp:             "/auth/signup",
			SignIn:             "/auth/signin",
			SignOut:            "/auth/signout",
			Refresh:            "/auth/refresh",
			ConfirmEmail:       "/auth/confirm",
			ResendConfirmation: "/auth/confirm/resend",
			PasswordForgot:     "/auth/password/forgot",
			PasswordReset:      "/auth/password/reset",
			PasswordUpdate:     "/auth/password",
		},
	}

	for _, opt := range opts {
		c = opt(c)
	}

	if c.Service == nil {
		panic("Missing Service in identity controller...")
	}

	if c.ErrorHandler == nil {
		c.ErrorHandler = c.respondError
	}

	return c
}

// RegisterRoutes mounts every handler. Password update sits behind the
// gate; everything else is reachable unauthenticated.
func RegisterRoutes(app fiber.Router, service *Service, opts ...ControllerOption) *Controller {
	controller := NewController(service, opts...)

	app.Post(controller.Routes.SignUp, controller.SignUp).Name("identity.signup")
	app.Post(controller.Routes.SignIn, controller.SignIn).Name("identity.signin")
	app.Post(controller.Routes.SignOut, controller.SignOut).Name("identity.signout")
	app.Post(controller.Routes.Refresh, controller.Refresh).Name("identity.refresh")

	app.Get(controller.Routes.ConfirmEmail+"/:token", controller.ConfirmEmail).Name("identity.confirm")
	app.Post(controller.Routes.ResendConfirmation, controller.ResendConfirmation).Name("identity.confirm-resend")

	app.Post(controller.Routes.PasswordForgot, controller.PasswordForgot).Name("identity.password-forgot")
	app.Post(controller.Routes.PasswordReset, controller.PasswordReset).Name("identity.password-reset")

	app.Put(controller.Routes.PasswordUpdate, service.Protected(), controller.PasswordUpdate).
		Name("identity.password-update")

	return controller
}

func (a *Controller) SignUp(ctx *fiber.Ctx) error {
	payload := new(SignUpInput)

	if err := ctx.BodyParser(payload); err != nil {
		a.Logger.Error("sign up parse payload: ", "error", err)
		return a.badRequest(ctx, err)
	}

	a.debugDump("SIGN UP", payload)

	result, err := a.Service.SignUp(ctx.UserContext(), *payload)
	if err != nil {
		return a.ErrorHandler(ctx, err)
	}

	return ctx.Status(fiber.StatusCreated).JSON(result)
}

func (a *Controller) SignIn(ctx *fiber.Ctx) error {
	payload := new(SignInInput)

	if err := ctx.BodyParser(payload); err != nil {
		a.Logger.Error("sign in parse payload: ", "error", err)
		return a.badRequest(ctx, err)
	}

	result, err := a.Service.SignIn(ctx.UserContext(), *payload)
	if err != nil {
		return a.ErrorHandler(ctx, err)
	}

	return ctx.JSON(result)
}

type refreshPayload struct {
	RefreshToken string `json:"refresh_token" form:"refresh_token"`
}

func (a *Controller) Refresh(ctx *fiber.Ctx) error {
	payload := new(refreshPayload)

	if err := ctx.BodyParser(payload); err != nil {
		a.Logger.Error("refresh parse payload: ", "error", err)
		return a.badRequest(ctx, err)
	}

	pair, err := a.Service.Refresh(ctx.UserContext(), payload.RefreshToken)
	if err != nil {
		return a.ErrorHandler(ctx, err)
	}

	return ctx.JSON(pair)
}

func (a *Controller) SignOut(ctx *fiber.Ctx) error {
	raw := bearerFromHeader(ctx)
	if raw == "" {
		return ctx.Status(fiber.StatusUnauthorized).JSON(fiber.Map{
			"error": "missing bearer token",
		})
	}

	if err := a.Service.SignOut(ctx.UserContext(), raw); err != nil {
		return a.ErrorHandler(ctx, err)
	}

	return ctx.SendStatus(fiber.StatusNoContent)
}

func (a *Controller) ConfirmEmail(ctx *fiber.Ctx) error {
	token := ctx.Params("token")

	result, err := a.Service.ConfirmEmail(ctx.UserContext(), token)
	if err != nil {
		return a.ErrorHandler(ctx, err)
	}

	a.debugDump("CONFIRM EMAIL", result)

	return ctx.JSON(result)
}

type emailPayload struct {
	Email string `json:"email" form:"email"`
}

func (a *Controller) ResendConfirmation(ctx *fiber.Ctx) error {
	payload := new(emailPayload)

	if err := ctx.BodyParser(payload); err != nil {
		a.Logger.Error("resend confirmation parse payload: ", "error", err)
		return a.badRequest(ctx, err)
	}

	if err := a.Service.ResendConfirmation(ctx.UserContext(), payload.Email); err != nil {
		return a.ErrorHandler(ctx, err)
	}

	return ctx.SendStatus(fiber.StatusAccepted)
}

func (a *Controller) PasswordForgot(ctx *fiber.Ctx) error {
	payload := new(emailPayload)

	if err := ctx.BodyParser(payload); err != nil {
		a.Logger.Error("password forgot parse payload: ", "error", err)
		return a.badRequest(ctx, err)
	}

	if err := a.Service.RequestPasswordReset(ctx.UserContext(), payload.Email); err != nil {
		return a.ErrorHandler(ctx, err)
	}

	return ctx.SendStatus(fiber.StatusAccepted)
}

func (a *Controller) PasswordReset(ctx *fiber.Ctx) error {
	payload := new(ResetPasswordInput)

	if err := ctx.BodyParser(payload); err != nil {
		a.Logger.Error("password reset parse payload: ", "error", err)
		return a.badRequest(ctx, err)
	}

	if err := a.Service.ResetPassword(ctx.UserContext(), *payload); err != nil {
		return a.ErrorHandler(ctx, err)
	}

	return ctx.SendStatus(fiber.StatusNoContent)
}

func (a *Controller) PasswordUpdate(ctx *fiber.Ctx) error {
	claims := ClaimsFromContext(ctx, a.Service.ContextKey())
	if claims == nil {
		return ctx.Status(fiber.StatusUnauthorized).JSON(fiber.Map{
			"error": "missing identity",
		})
	}

	id, err := uuid.Parse(claims.UserID())
	if err != nil {
		return ctx.Status(fiber.StatusUnauthorized).JSON(fiber.Map{
			"error": "invalid subject",
		})
	}

	payload := new(UpdatePasswordInput)
	if err := ctx.BodyParser(payload); err != nil {
		a.Logger.Error("password update parse payload: ", "error", err)
		return a.badRequest(ctx, err)
	}

	if err := a.Service.UpdatePassword(ctx.UserContext(), id, *payload); err != nil {
		return a.ErrorHandler(ctx, err)
	}

	return ctx.SendStatus(fiber.StatusNoContent)
}

func (a *Controller) badRequest(ctx *fiber.Ctx, err error) error {
	return ctx.Status(fiber.StatusBadRequest).JSON(fiber.Map{
		"error": err.Error(),
	})
}

// respondError maps service errors to HTTP statuses and a stable JSON
// shape; the text code travels so clients can branch without string
// matching.
func (a *Controller) respondError(ctx *fiber.Ctx, err error) error {
	var richErr *goerrors.Error
	if !goerrors.As(err, &richErr) {
		a.Logger.Error("unhandled controller error", "error", err)
		return ctx.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "internal error",
		})
	}

	status := statusForError(richErr)
	if status >= fiber.StatusInternalServerError {
		a.Logger.Error("controller error", "text_code", richErr.TextCode, "error", err)
	}

	body := fiber.Map{
		"error":     richErr.Message,
		"text_code": richErr.TextCode,
	}

	if statusVal, ok := richErr.Metadata["approval_status"]; ok {
		body["approval_status"] = statusVal
	}

	return ctx.Status(status).JSON(body)
}

func statusForError(err *goerrors.Error) int {
	switch err.Code {
	case goerrors.CodeUnauthorized:
		return fiber.StatusUnauthorized
	case goerrors.CodeForbidden:
		return fiber.StatusForbidden
	case goerrors.CodeConflict:
		return fiber.StatusConflict
	case goerrors.CodeBadRequest:
		return fiber.StatusBadRequest
	case goerrors.CodeNotFound:
		return fiber.StatusNotFound
	}

	switch err.Category {
	case goerrors.CategoryAuth:
		return fiber.StatusUnauthorized
	case goerrors.CategoryConflict:
		return fiber.StatusConflict
	case goerrors.CategoryValidation, goerrors.CategoryBadInput:
		return fiber.StatusBadRequest
	case goerrors.CategoryNotFound:
		return fiber.StatusNotFound
	}

	return fiber.StatusInternalServerError
}

func bearerFromHeader(ctx *fiber.Ctx) string {
	const scheme = "Bearer "
	header := ctx.Get(fiber.HeaderAuthorization)
	if len(header) > len(scheme) && header[:len(scheme)] == scheme {
		return header[len(scheme):]
	}
	return ""
}

func (a *Controller) debugDump(label string, v any) {
	if !a.Debug {
		return
	}
	fmt.Println("======= IDENTITY " + label + " ======")
	fmt.Println(print.MaybePrettyJSON(v))
	fmt.Println("=================================")
}
